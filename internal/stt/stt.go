package stt

import "context"

// Result is the outcome of transcribing one finished utterance.
type Result struct {
	// Text is the transcribed text, empty when nothing was recognized
	Text string

	// Language is the language the transcription ran in
	Language string

	// Confidence is the vendor's confidence score (0.0 to 1.0)
	Confidence float64

	// Duration is the seconds of audio the vendor attributed to the text
	Duration float64
}

// Transcriber converts a finished PCM16 utterance into text.
type Transcriber interface {
	// Transcribe sends pcm (16-bit little-endian mono at sampleRate) to the
	// vendor and returns the recognized text. langHint optionally names the
	// caller's expected language; implementations may run a second,
	// language-constrained pass when the first pass is low-confidence.
	Transcribe(ctx context.Context, pcm []byte, sampleRate int, langHint string) (*Result, error)
}
