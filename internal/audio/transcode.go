package audio

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/UniversalLevi/AI-Calling-Agent-sub000/internal/observability"
)

// Transcoder errors
var (
	ErrFFmpegNotFound = fmt.Errorf("ffmpeg not found in PATH")
	ErrFFmpegTimeout  = fmt.Errorf("ffmpeg execution timed out")
)

// Transcoder converts compressed audio (MP3, WAV, OGG...) to raw PCM using
// an ffmpeg subprocess. Input format is detected by content probing, so the
// synthesis backend can change codecs without touching this code.
type Transcoder struct {
	ffmpegPath      string
	timeout         time.Duration
	fallbackSilence time.Duration
}

// NewTranscoder creates a transcoder. Zero values fall back to "ffmpeg" on
// PATH, a 10s execution timeout, and 100ms of fallback silence.
func NewTranscoder(ffmpegPath string, timeout, fallbackSilence time.Duration) *Transcoder {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if fallbackSilence <= 0 {
		fallbackSilence = 100 * time.Millisecond
	}
	return &Transcoder{
		ffmpegPath:      ffmpegPath,
		timeout:         timeout,
		fallbackSilence: fallbackSilence,
	}
}

// Transcode converts compressed audio to 16-bit little-endian PCM at the
// requested rate and channel count. It never fails: a live call must keep
// its timing, so any conversion error is logged and replaced with a short
// run of silence in the target format.
func (t *Transcoder) Transcode(ctx context.Context, data []byte, sampleRate, channels int) []byte {
	if sampleRate <= 0 || channels <= 0 {
		// Nothing sensible can be produced for a malformed target; emit
		// the minimal placeholder so playback timing still advances.
		logger := observability.GetLogger()
		logger.Error().
			Int("sample_rate", sampleRate).
			Int("channels", channels).
			Msg("Invalid transcode target, substituting placeholder silence")
		return Silence(WireSampleRate, 1, t.fallbackSilence)
	}

	pcm, err := t.convert(ctx, data, sampleRate, channels)
	if err != nil {
		logger := observability.GetLogger()
		logger.Warn().
			Err(err).
			Int("input_bytes", len(data)).
			Int("sample_rate", sampleRate).
			Msg("Transcode failed, substituting silence")
		return Silence(sampleRate, channels, t.fallbackSilence)
	}

	return pcm
}

// convert runs ffmpeg over temp files and returns the raw PCM output
func (t *Transcoder) convert(ctx context.Context, data []byte, sampleRate, channels int) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty audio data")
	}

	// Create temp directory
	tempDir, err := os.MkdirTemp("", "transcode-")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp directory: %w", err)
	}
	defer os.RemoveAll(tempDir)

	// Extension is only a hint; ffmpeg probes the content
	inputPath := filepath.Join(tempDir, "input.audio")
	outputPath := filepath.Join(tempDir, "output.raw")

	if err := os.WriteFile(inputPath, data, 0600); err != nil {
		return nil, fmt.Errorf("failed to write input file: %w", err)
	}

	args := []string{
		"-y",
		"-i", inputPath,
		"-vn",
		"-ar", fmt.Sprintf("%d", sampleRate),
		"-ac", fmt.Sprintf("%d", channels),
		"-acodec", "pcm_s16le",
		"-f", "s16le",
		outputPath,
	}

	ffmpegCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	cmd := exec.CommandContext(ffmpegCtx, t.ffmpegPath, args...)

	// Capture stderr for error messages
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ffmpegCtx.Err() == context.DeadlineExceeded {
			return nil, ErrFFmpegTimeout
		}
		if execErr, ok := err.(*exec.Error); ok && execErr.Err == exec.ErrNotFound {
			return nil, ErrFFmpegNotFound
		}
		return nil, fmt.Errorf("ffmpeg failed: %w, stderr: %s", err, stderr.String())
	}

	output, err := os.ReadFile(outputPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read output file: %w", err)
	}

	if len(output) == 0 {
		return nil, fmt.Errorf("ffmpeg produced no output")
	}

	return output, nil
}

// CheckAvailable verifies the ffmpeg binary can be executed
func (t *Transcoder) CheckAvailable() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, t.ffmpegPath, "-version")
	if err := cmd.Run(); err != nil {
		if execErr, ok := err.(*exec.Error); ok && execErr.Err == exec.ErrNotFound {
			return ErrFFmpegNotFound
		}
		return fmt.Errorf("ffmpeg check failed: %w", err)
	}
	return nil
}

// Silence returns d worth of PCM16 silence at the given rate and channel count
func Silence(sampleRate, channels int, d time.Duration) []byte {
	if sampleRate <= 0 || channels <= 0 || d <= 0 {
		return []byte{}
	}
	samples := int(time.Duration(sampleRate*channels) * d / time.Second)
	return make([]byte, samples*2)
}
