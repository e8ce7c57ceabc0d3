package localaudio

import (
	"errors"
	"fmt"
	"time"

	"github.com/gen2brain/malgo"

	"github.com/UniversalLevi/AI-Calling-Agent-sub000/internal/audio"
	"github.com/UniversalLevi/AI-Calling-Agent-sub000/internal/observability"
)

// Echo guard: capture frames arriving shortly after the speaker played audio
// are mostly the device hearing itself. Within the window, frames below the
// elevated threshold are replaced with silence rather than dropped so the
// session's silence clock keeps advancing.
const (
	echoGuardWindow    = 250 * time.Millisecond
	echoGuardThreshold = 0.15
)

// FrameSink receives capture frames sliced to the session frame size
type FrameSink interface {
	EnqueueFrame(audio.Frame) error
}

type Config struct {
	SampleRate    int           // capture and playback rate (Hz)
	FrameDuration time.Duration // capture slice handed to the sink
	BufferSize    int           // playback ring size in bytes
}

// Device is the microphone/speaker counterpart of the carrier bridge: it
// implements session.Transport on the playback side and feeds capture frames
// to the session on the other.
type Device struct {
	cfg          Config
	ring         *audio.RingBuffer
	frameSamples int

	sink    FrameSink
	pending []int16

	mctx   *malgo.AllocatedContext
	device *malgo.Device

	lastPlayedAt time.Time
}

func New(cfg Config) *Device {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.FrameDuration <= 0 {
		cfg.FrameDuration = 20 * time.Millisecond
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 32768
	}
	return &Device{
		cfg:          cfg,
		ring:         audio.NewRingBuffer(cfg.BufferSize),
		frameSamples: cfg.SampleRate * int(cfg.FrameDuration/time.Millisecond) / 1000,
	}
}

// WriteMedia queues PCM16 playback audio. The speaker drains the ring in
// realtime while the player writes ahead of it, so a full ring means waiting
// for the device to catch up, not an error. Gives up after a second in case
// the device is stopped.
func (d *Device) WriteMedia(payload []byte) error {
	deadline := time.Now().Add(time.Second)
	for len(payload) > 0 {
		n := d.ring.Write(payload)
		payload = payload[n:]
		if len(payload) == 0 {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("playback buffer stalled with %d bytes pending", len(payload))
		}
		time.Sleep(5 * time.Millisecond)
	}
	return nil
}

// Clear drops queued playback audio. Audio already inside the device period
// buffer still plays out; that tail is shorter than one frame.
func (d *Device) Clear() error {
	d.ring.Clear()
	return nil
}

// Start opens the duplex device and begins feeding capture frames to sink
func (d *Device) Start(sink FrameSink) error {
	if sink == nil {
		return errors.New("frame sink is required")
	}
	d.sink = sink

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return fmt.Errorf("failed to init audio context: %w", err)
	}
	d.mctx = mctx

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Duplex)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = 1
	deviceConfig.Playback.Format = malgo.FormatS16
	deviceConfig.Playback.Channels = 1
	deviceConfig.SampleRate = uint32(d.cfg.SampleRate)
	deviceConfig.PeriodSizeInMilliseconds = uint32(d.cfg.FrameDuration / time.Millisecond)
	deviceConfig.Alsa.NoMMap = 1 // Better compatibility on some systems

	device, err := malgo.InitDevice(mctx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: func(pOutput, pInput []byte, frameCount uint32) {
			if pInput != nil {
				d.onCapture(pInput)
			}
			if pOutput != nil {
				d.onPlayback(pOutput)
			}
		},
	})
	if err != nil {
		d.mctx.Uninit()
		d.mctx = nil
		return fmt.Errorf("failed to init duplex device: %w", err)
	}
	d.device = device

	if err := device.Start(); err != nil {
		d.device.Uninit()
		d.device = nil
		d.mctx.Uninit()
		d.mctx = nil
		return fmt.Errorf("failed to start duplex device: %w", err)
	}

	logger := observability.GetLogger()
	logger.Info().
		Int("sample_rate", d.cfg.SampleRate).
		Dur("frame_duration", d.cfg.FrameDuration).
		Msg("Local audio device started")
	return nil
}

// Stop tears the device down. Safe to call without a prior Start.
func (d *Device) Stop() {
	if d.device != nil {
		d.device.Uninit()
		d.device = nil
	}
	if d.mctx != nil {
		d.mctx.Uninit()
		d.mctx = nil
	}
}

// onCapture slices mic audio into session frames. Runs on the realtime
// thread; the sink's inbound queue holds about two seconds, far more than the
// consumer ever leaves unread.
func (d *Device) onCapture(input []byte) {
	samples, err := audio.BytesToSamples(input)
	if err != nil {
		return
	}
	d.pending = append(d.pending, samples...)

	consumed := 0
	for len(d.pending)-consumed >= d.frameSamples {
		frame := make([]int16, d.frameSamples)
		copy(frame, d.pending[consumed:consumed+d.frameSamples])
		consumed += d.frameSamples

		if d.echoSuspect(frame) {
			for i := range frame {
				frame[i] = 0
			}
		}
		if err := d.sink.EnqueueFrame(audio.Frame{
			Samples:    frame,
			SampleRate: d.cfg.SampleRate,
			Timestamp:  time.Now(),
		}); err != nil {
			break
		}
	}
	d.pending = append(d.pending[:0], d.pending[consumed:]...)
}

// onPlayback drains the ring into the device buffer, padding with silence
// when the session has nothing queued
func (d *Device) onPlayback(output []byte) {
	n := d.ring.Read(output)
	if n > 0 {
		d.lastPlayedAt = time.Now()
	}
	for i := n; i < len(output); i++ {
		output[i] = 0
	}
}

// echoSuspect reports whether a capture frame is likely speaker bleed: the
// bot played audio within the guard window and the frame is too quiet to be
// someone talking over it.
func (d *Device) echoSuspect(samples []int16) bool {
	if time.Since(d.lastPlayedAt) >= echoGuardWindow {
		return false
	}
	return audio.NormalizedRMS(samples) < echoGuardThreshold
}
