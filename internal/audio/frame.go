package audio

import (
	"time"
)

// WireSampleRate is the sample rate of telephony media streams (G.711)
const WireSampleRate = 8000

// Frame is a slice of linear PCM audio moving through the engine
type Frame struct {
	Samples    []int16
	SampleRate int
	Timestamp  time.Time
}

// Duration returns the play time of the frame
func (f Frame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(f.Samples)) * time.Second / time.Duration(f.SampleRate)
}

// DecodeWire decodes a μ-law media payload into a PCM frame.
// Every byte value decodes to a valid sample, so this cannot fail.
func DecodeWire(payload []byte, ts time.Time) Frame {
	samples := make([]int16, len(payload))
	for i, b := range payload {
		samples[i] = mulawToLinear(b)
	}
	return Frame{
		Samples:    samples,
		SampleRate: WireSampleRate,
		Timestamp:  ts,
	}
}

// EncodeWire encodes a PCM frame into a μ-law media payload,
// resampling to the wire rate first when needed
func EncodeWire(f Frame) []byte {
	samples := f.Samples
	if f.SampleRate != WireSampleRate && f.SampleRate > 0 {
		samples = Resample(samples, f.SampleRate, WireSampleRate)
	}

	payload := make([]byte, len(samples))
	for i, sample := range samples {
		payload[i] = linearToMulaw(sample)
	}
	return payload
}
