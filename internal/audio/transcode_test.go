package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"math"
	"os/exec"
	"testing"
	"time"
)

func TestSilence(t *testing.T) {
	// 100ms at 8kHz mono is 800 samples, 1600 bytes
	data := Silence(8000, 1, 100*time.Millisecond)
	if len(data) != 1600 {
		t.Errorf("Expected 1600 bytes of silence, got %d", len(data))
	}

	for i, b := range data {
		if b != 0 {
			t.Fatalf("Expected zero byte at index %d, got %d", i, b)
		}
	}

	// Stereo doubles the byte count
	stereo := Silence(8000, 2, 100*time.Millisecond)
	if len(stereo) != 3200 {
		t.Errorf("Expected 3200 bytes of stereo silence, got %d", len(stereo))
	}

	if len(Silence(0, 1, time.Second)) != 0 {
		t.Error("Expected empty slice for invalid sample rate")
	}
}

func TestTranscode_FallbackOnFailure(t *testing.T) {
	// A binary that cannot exist forces the failure path
	tr := NewTranscoder("/nonexistent/ffmpeg-binary", time.Second, 100*time.Millisecond)

	out := tr.Transcode(context.Background(), []byte("not audio at all"), 8000, 1)

	// Failure must yield exactly the fallback silence, not an error
	if len(out) != 1600 {
		t.Errorf("Expected 1600 bytes of fallback silence, got %d", len(out))
	}
	if !bytes.Equal(out, make([]byte, 1600)) {
		t.Error("Expected fallback output to be silence")
	}
}

func TestTranscode_FallbackOnEmptyInput(t *testing.T) {
	tr := NewTranscoder("ffmpeg", time.Second, 100*time.Millisecond)

	out := tr.Transcode(context.Background(), nil, 16000, 1)

	// 100ms at 16kHz mono
	if len(out) != 3200 {
		t.Errorf("Expected 3200 bytes of fallback silence, got %d", len(out))
	}
}

func TestTranscode_InvalidTarget(t *testing.T) {
	tr := NewTranscoder("ffmpeg", time.Second, 100*time.Millisecond)

	// A malformed target still produces placeholder audio
	out := tr.Transcode(context.Background(), []byte{1, 2, 3}, 0, 0)
	if len(out) == 0 {
		t.Error("Expected placeholder silence for invalid target")
	}
}

func TestTranscode_WAVToPCM(t *testing.T) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not installed")
	}

	// 100ms 440Hz tone at 8kHz mono, packaged as WAV
	samples := make([]int16, 800)
	for i := range samples {
		samples[i] = int16(8000 * math.Sin(2*math.Pi*440*float64(i)/8000))
	}
	wav := buildWAV(samples, 8000, 1)

	tr := NewTranscoder("ffmpeg", 10*time.Second, 100*time.Millisecond)
	out := tr.Transcode(context.Background(), wav, 8000, 1)

	// Raw PCM out should match the source within a frame or two
	if len(out) < 1500 || len(out) > 1700 {
		t.Errorf("Expected around 1600 bytes of PCM, got %d", len(out))
	}

	// The tone must survive: fallback silence would have zero energy
	decoded, err := BytesToSamples(out)
	if err != nil {
		t.Fatalf("BytesToSamples failed: %v", err)
	}
	if NormalizedRMS(decoded) < 0.05 {
		t.Errorf("Expected audible output, got RMS %f", NormalizedRMS(decoded))
	}
}

func TestTranscode_Resamples(t *testing.T) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not installed")
	}

	// 100ms at 8kHz in, 16kHz out doubles the sample count
	samples := make([]int16, 800)
	for i := range samples {
		samples[i] = int16(8000 * math.Sin(2*math.Pi*440*float64(i)/8000))
	}
	wav := buildWAV(samples, 8000, 1)

	tr := NewTranscoder("ffmpeg", 10*time.Second, 100*time.Millisecond)
	out := tr.Transcode(context.Background(), wav, 16000, 1)

	if len(out) < 3000 || len(out) > 3400 {
		t.Errorf("Expected around 3200 bytes of 16kHz PCM, got %d", len(out))
	}
}

// buildWAV wraps PCM16 samples in a minimal RIFF container
func buildWAV(samples []int16, sampleRate, channels int) []byte {
	data := SamplesToBytes(samples)
	var buf bytes.Buffer

	byteRate := sampleRate * channels * 2
	blockAlign := channels * 2

	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+len(data)))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(&buf, binary.LittleEndian, uint16(channels))
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(&buf, binary.LittleEndian, uint32(byteRate))
	binary.Write(&buf, binary.LittleEndian, uint16(blockAlign))
	binary.Write(&buf, binary.LittleEndian, uint16(16))
	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(len(data)))
	buf.Write(data)

	return buf.Bytes()
}
