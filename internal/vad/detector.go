package vad

import (
	webrtcvad "github.com/maxhawkins/go-webrtcvad"
	"github.com/rs/zerolog"

	"github.com/UniversalLevi/AI-Calling-Agent-sub000/internal/audio"
	"github.com/UniversalLevi/AI-Calling-Agent-sub000/internal/observability"
)

const (
	// classifierRate is the sample rate the classifier runs at. Wire audio
	// (8kHz) and device audio are resampled to this before classification.
	classifierRate = 16000

	// DefaultAggressiveness balances false positives against clipped
	// speech onsets. 0 is the most permissive mode, 3 the strictest.
	DefaultAggressiveness = 2

	// DefaultEnergyThreshold is the normalized RMS above which the energy
	// fallback reports speech, with full-scale PCM mapping to 1.0.
	DefaultEnergyThreshold = 0.01
)

// Classifier decides whether a PCM16 frame contains speech. It is satisfied
// by *webrtcvad.VAD; tests substitute deterministic implementations.
type Classifier interface {
	Process(sampleRate int, frame []byte) (bool, error)
}

// Config tunes the detector
type Config struct {
	Aggressiveness  int     // Classifier mode 0-3
	EnergyThreshold float64 // Normalized RMS threshold for the fallback
}

// Detector classifies audio frames as speech or silence. A frame decision
// can never fail: when the classifier is unavailable, rejects the frame
// geometry, or errors, the detector falls back to energy detection.
type Detector struct {
	classifier Classifier
	threshold  float64
	logger     zerolog.Logger
}

// New creates a detector backed by the WebRTC voice activity classifier.
// If the classifier cannot be initialized the detector still works,
// permanently downgraded to energy detection.
func New(cfg Config) *Detector {
	logger := observability.GetLogger()

	threshold := cfg.EnergyThreshold
	if threshold <= 0 {
		threshold = DefaultEnergyThreshold
	}

	mode := cfg.Aggressiveness
	if mode < 0 || mode > 3 {
		mode = DefaultAggressiveness
	}

	d := &Detector{threshold: threshold, logger: logger}

	v, err := webrtcvad.New()
	if err != nil {
		logger.Warn().Err(err).Msg("VAD classifier unavailable, using energy detection only")
		return d
	}
	if err := v.SetMode(mode); err != nil {
		logger.Warn().Err(err).Int("mode", mode).Msg("VAD classifier rejected mode, using energy detection only")
		return d
	}

	d.classifier = v
	return d
}

// NewWithClassifier creates a detector around an externally constructed
// classifier. A nil classifier yields an energy-only detector.
func NewWithClassifier(c Classifier, energyThreshold float64) *Detector {
	if energyThreshold <= 0 {
		energyThreshold = DefaultEnergyThreshold
	}
	return &Detector{
		classifier: c,
		threshold:  energyThreshold,
		logger:     observability.GetLogger(),
	}
}

// IsSpeech reports whether the frame contains speech
func (d *Detector) IsSpeech(frame audio.Frame) (speech bool) {
	samples := frame.Samples
	if len(samples) == 0 {
		return false
	}

	// The classifier is C code behind cgo; a panic from a bad frame must
	// not take the media loop down with it.
	defer func() {
		if r := recover(); r != nil {
			d.logger.Warn().Interface("panic", r).Msg("VAD classifier panicked, using energy fallback")
			speech = d.energyFallback(samples)
		}
	}()

	if d.classifier == nil {
		return d.energyFallback(samples)
	}

	s16 := samples
	if frame.SampleRate != classifierRate && frame.SampleRate > 0 {
		s16 = audio.Resample(samples, frame.SampleRate, classifierRate)
	}

	// The classifier accepts exactly 10, 20 or 30ms of 16kHz audio
	if !validClassifierFrame(len(s16)) {
		return d.energyFallback(samples)
	}

	active, err := d.classifier.Process(classifierRate, audio.SamplesToBytes(s16))
	if err != nil {
		d.logger.Debug().Err(err).Int("samples", len(s16)).Msg("VAD classifier error, using energy fallback")
		return d.energyFallback(samples)
	}

	return active
}

// energyFallback reports speech when the frame's normalized RMS clears the
// threshold
func (d *Detector) energyFallback(samples []int16) bool {
	observability.RecordVADFallback()
	return audio.NormalizedRMS(samples) >= d.threshold
}

// validClassifierFrame reports whether a 16kHz sample count is a legal
// classifier frame (10, 20 or 30ms)
func validClassifierFrame(samples int) bool {
	switch samples {
	case classifierRate / 100, classifierRate / 50, 3 * classifierRate / 100:
		return true
	}
	return false
}
