package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/UniversalLevi/AI-Calling-Agent-sub000/internal/audio"
	"github.com/UniversalLevi/AI-Calling-Agent-sub000/internal/brain"
	"github.com/UniversalLevi/AI-Calling-Agent-sub000/internal/observability"
	"github.com/UniversalLevi/AI-Calling-Agent-sub000/internal/player"
	"github.com/UniversalLevi/AI-Calling-Agent-sub000/internal/session"
	"github.com/UniversalLevi/AI-Calling-Agent-sub000/internal/stt"
	"github.com/UniversalLevi/AI-Calling-Agent-sub000/internal/tts"
)

// Options selects the output encoding for one transport flavor
type Options struct {
	// TargetRate is the PCM rate the transport plays at
	TargetRate int
	// Mulaw compands the transcoded PCM to G.711 μ-law (telephony wire
	// format); false sends raw PCM16 (local device)
	Mulaw bool
	// LanguageHint is forwarded to the transcriber for its constrained
	// second pass
	LanguageHint string
}

// Chain runs a finished utterance through the collaborators: transcribe,
// respond, synthesize, then transcode the synthesized audio into the
// transport's wire format. It implements session.Pipeline. Stage failures
// surface as errors; the session logs them and the call continues.
type Chain struct {
	transcriber stt.Transcriber
	responder   brain.Responder
	synthesizer tts.Synthesizer
	transcoder  *audio.Transcoder
	opts        Options
}

// New wires the collaborator clients into a reply chain
func New(transcriber stt.Transcriber, responder brain.Responder, synthesizer tts.Synthesizer, transcoder *audio.Transcoder, opts Options) *Chain {
	if opts.TargetRate <= 0 {
		opts.TargetRate = audio.WireSampleRate
	}
	return &Chain{
		transcriber: transcriber,
		responder:   responder,
		synthesizer: synthesizer,
		transcoder:  transcoder,
		opts:        opts,
	}
}

// Respond produces the bot's next playback request for an utterance. A nil
// request with nil error means there is nothing to say (empty transcript).
func (c *Chain) Respond(ctx context.Context, u session.Utterance) (*player.Request, error) {
	metrics := observability.NewCallMetrics(u.CallID)
	logger := observability.WithCall(u.CallID)

	metrics.RecordSTTStart()
	result, err := c.transcriber.Transcribe(ctx, u.Audio, u.SampleRate, c.opts.LanguageHint)
	metrics.RecordSTTEnd(err == nil)
	if err != nil {
		return nil, fmt.Errorf("transcription failed: %w", err)
	}
	if strings.TrimSpace(result.Text) == "" {
		logger.Debug().Msg("Utterance produced no transcript, nothing to answer")
		return nil, nil
	}

	logger.Info().
		Str("transcript", result.Text).
		Float64("confidence", result.Confidence).
		Msg("Caller said")

	metrics.RecordReplyStart()
	replyText, err := c.responder.Respond(ctx, u.CallID, result.Text, result.Language)
	metrics.RecordReplyEnd(err == nil)
	if err != nil {
		return nil, fmt.Errorf("reply failed: %w", err)
	}

	return c.render(ctx, metrics, replyText, "")
}

// Say renders standalone bot speech (the greeting) through the same
// synthesize → transcode path replies use
func (c *Chain) Say(ctx context.Context, callID, text, voice string) (*player.Request, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	return c.render(ctx, observability.NewCallMetrics(callID), text, voice)
}

// render synthesizes text and converts it to the transport's wire format
func (c *Chain) render(ctx context.Context, metrics *observability.Metrics, text, voice string) (*player.Request, error) {
	metrics.RecordTTSStart()
	compressed, err := c.synthesizer.Synthesize(ctx, text, voice)
	metrics.RecordTTSEnd(err == nil)
	if err != nil {
		return nil, fmt.Errorf("synthesis failed: %w", err)
	}

	// Transcode never fails; on converter trouble it hands back short
	// silence so the call keeps its turn structure
	pcm := c.transcoder.Transcode(ctx, compressed, c.opts.TargetRate, 1)

	payload := pcm
	if c.opts.Mulaw {
		payload, err = audio.ConvertPCMToPCMU(pcm, c.opts.TargetRate, audio.WireSampleRate)
		if err != nil {
			return nil, fmt.Errorf("failed to compand reply audio: %w", err)
		}
	}

	return &player.Request{
		Audio:      payload,
		Voice:      voice,
		Text:       text,
		EnqueuedAt: time.Now(),
	}, nil
}
