package tts

import "context"

// Synthesizer converts reply text into compressed audio. The caller owns
// transcoding the result to whatever format its transport speaks.
type Synthesizer interface {
	// Synthesize returns encoded audio for text. voice overrides the
	// configured default voice when non-empty.
	Synthesize(ctx context.Context, text, voice string) ([]byte, error)
}
