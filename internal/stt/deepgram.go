package stt

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	websocketv1api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket"
	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	listenClient "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"

	"github.com/UniversalLevi/AI-Calling-Agent-sub000/internal/config"
	"github.com/UniversalLevi/AI-Calling-Agent-sub000/internal/observability"
	"github.com/UniversalLevi/AI-Calling-Agent-sub000/internal/resilience"
)

// finalQuietPeriod is how long after the last final result we wait before
// treating the transcription as complete
const finalQuietPeriod = 300 * time.Millisecond

// Deepgram implements Transcriber using Deepgram's streaming API.
// Each utterance gets its own short-lived WebSocket session: audio is
// written in slices, the session is finished, and final results are
// collected until the stream goes quiet or the flush timeout expires.
type Deepgram struct {
	apiKey           string
	model            string
	defaultLanguage  string
	flushTimeout     time.Duration
	repassConfidence float64

	circuitBreaker  *resilience.CircuitBreaker
	reconnectConfig *resilience.ReconnectConfig

	// runSession is replaceable in tests
	runSession func(ctx context.Context, pcm []byte, sampleRate int, language string) (*Result, error)
}

// NewDeepgram creates a Deepgram transcription client
func NewDeepgram(cfg *config.Config) *Deepgram {
	d := &Deepgram{
		apiKey:           cfg.DeepgramAPIKey,
		model:            cfg.DeepgramModel,
		defaultLanguage:  cfg.DeepgramLanguage,
		flushTimeout:     time.Duration(cfg.STTFlushTimeout) * time.Millisecond,
		repassConfidence: cfg.STTRepassConfidence,
		circuitBreaker: resilience.NewCircuitBreaker(
			"deepgram",
			cfg.CircuitBreakerMaxFailures,
			time.Duration(cfg.CircuitBreakerResetTimeout)*time.Second,
		),
		reconnectConfig: &resilience.ReconnectConfig{
			MaxAttempts: cfg.ReconnectMaxAttempts,
			Backoff:     time.Duration(cfg.ReconnectBackoff) * time.Millisecond,
			Multiplier:  2.0,
			MaxBackoff:  30 * time.Second,
		},
	}
	d.runSession = d.transcribeOnce
	return d
}

// Transcribe runs one transcription pass in the configured language. When the
// pass comes back below the re-pass confidence and the caller hinted a
// different language, a second pass constrained to the hint is run and the
// more confident of the two results is returned.
func (d *Deepgram) Transcribe(ctx context.Context, pcm []byte, sampleRate int, langHint string) (*Result, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate: %d", sampleRate)
	}

	first, err := d.pass(ctx, pcm, sampleRate, d.defaultLanguage)
	if err != nil {
		return nil, err
	}

	if langHint == "" || strings.EqualFold(langHint, first.Language) {
		return first, nil
	}
	if first.Confidence >= d.repassConfidence {
		return first, nil
	}

	logger := observability.GetLogger()
	logger.Debug().
		Str("language", langHint).
		Float64("first_pass_confidence", first.Confidence).
		Msg("Re-running transcription constrained to hinted language")

	second, err := d.pass(ctx, pcm, sampleRate, langHint)
	if err != nil {
		logger.Warn().Err(err).Msg("Language-constrained re-pass failed, keeping first pass")
		return first, nil
	}

	if second.Confidence >= first.Confidence {
		return second, nil
	}
	return first, nil
}

// pass runs one session behind the circuit breaker
func (d *Deepgram) pass(ctx context.Context, pcm []byte, sampleRate int, language string) (*Result, error) {
	var result *Result
	err := d.circuitBreaker.Call(func() error {
		var passErr error
		result, passErr = d.runSession(ctx, pcm, sampleRate, language)
		return passErr
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// transcribeOnce opens a streaming session, writes the utterance, finishes
// the stream, and collects final results
func (d *Deepgram) transcribeOnce(ctx context.Context, pcm []byte, sampleRate int, language string) (*Result, error) {
	if len(pcm) == 0 {
		return &Result{Language: language}, nil
	}

	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	collector := newFinalCollector(language)

	tOptions := &interfaces.LiveTranscriptionOptions{
		Model:      d.model,
		Language:   language,
		Punctuate:  true,
		Encoding:   "linear16",
		Channels:   1,
		SampleRate: sampleRate,
	}

	callback := &messageCallbackHandler{
		DefaultCallbackHandler: websocketv1api.NewDefaultCallbackHandler(),
		onMessage:              collector.observe,
		onError: func(errorResponse *msginterfaces.ErrorResponse) error {
			collector.fail(fmt.Errorf("transcription stream error: %+v", errorResponse))
			return nil
		},
	}

	var client *listenClient.WSCallback
	err := resilience.Reconnect(sessionCtx, func() error {
		var connErr error
		client, connErr = listenClient.NewWSUsingCallback(
			sessionCtx,
			d.apiKey,
			nil,
			tOptions,
			callback,
		)
		return connErr
	}, d.reconnectConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to open transcription session: %w", err)
	}

	// Write in ~100ms slices so the vendor starts decoding before the
	// utterance finishes uploading
	sliceBytes := sampleRate * 2 / 10
	if sliceBytes <= 0 {
		sliceBytes = len(pcm)
	}
	for offset := 0; offset < len(pcm); offset += sliceBytes {
		end := offset + sliceBytes
		if end > len(pcm) {
			end = len(pcm)
		}
		if _, err := client.Write(pcm[offset:end]); err != nil {
			return nil, fmt.Errorf("failed to send audio: %w", err)
		}
	}
	client.Finish()

	return collector.wait(sessionCtx, d.flushTimeout)
}

// messageCallbackHandler embeds the SDK's default handler and overrides only
// message and error delivery
type messageCallbackHandler struct {
	*websocketv1api.DefaultCallbackHandler
	onMessage func(*msginterfaces.MessageResponse)
	onError   func(*msginterfaces.ErrorResponse) error
}

func (m *messageCallbackHandler) Message(message *msginterfaces.MessageResponse) error {
	m.onMessage(message)
	return nil
}

func (m *messageCallbackHandler) Error(errorResponse *msginterfaces.ErrorResponse) error {
	if m.onError != nil {
		return m.onError(errorResponse)
	}
	return m.DefaultCallbackHandler.Error(errorResponse)
}

// finalCollector accumulates final transcription results from the vendor
// callback until the caller decides the stream is done
type finalCollector struct {
	mu       sync.Mutex
	language string
	texts    []string
	weighted float64
	plain    float64
	duration float64
	count    int

	updates chan struct{}
	done    chan struct{}
	doneErr error
	once    sync.Once
}

func newFinalCollector(language string) *finalCollector {
	return &finalCollector{
		language: language,
		updates:  make(chan struct{}, 16),
		done:     make(chan struct{}),
	}
}

// observe translates a vendor message into a recorded final result
func (c *finalCollector) observe(msg *msginterfaces.MessageResponse) {
	if msg == nil {
		return
	}

	switch msg.Type {
	case "Results", "Message":
		if !msg.IsFinal || len(msg.Channel.Alternatives) == 0 {
			return
		}
		alt := msg.Channel.Alternatives[0]
		if alt.Transcript == "" {
			return
		}

		duration := msg.Duration
		if duration == 0 && len(alt.Words) > 0 {
			duration = alt.Words[len(alt.Words)-1].End - alt.Words[0].Start
		}

		c.addFinal(alt.Transcript, alt.Confidence, duration)
	}
}

func (c *finalCollector) addFinal(text string, confidence, duration float64) {
	c.mu.Lock()
	c.texts = append(c.texts, text)
	c.weighted += confidence * duration
	c.plain += confidence
	c.duration += duration
	c.count++
	c.mu.Unlock()

	select {
	case c.updates <- struct{}{}:
	default:
	}
}

func (c *finalCollector) fail(err error) {
	c.once.Do(func() {
		c.doneErr = err
		close(c.done)
	})
}

// wait blocks until the stream errors, goes quiet after a final result, or
// the flush timeout expires. Timeout is not an error: whatever finals arrived
// are returned.
func (c *finalCollector) wait(ctx context.Context, flushTimeout time.Duration) (*Result, error) {
	deadline := time.NewTimer(flushTimeout)
	defer deadline.Stop()

	// Armed to the quiet period once the first final arrives
	quiet := time.NewTimer(flushTimeout)
	defer quiet.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-c.done:
			return nil, c.doneErr
		case <-c.updates:
			if !quiet.Stop() {
				select {
				case <-quiet.C:
				default:
				}
			}
			quiet.Reset(finalQuietPeriod)
		case <-quiet.C:
			return c.snapshot(), nil
		case <-deadline.C:
			return c.snapshot(), nil
		}
	}
}

func (c *finalCollector) snapshot() *Result {
	c.mu.Lock()
	defer c.mu.Unlock()

	result := &Result{
		Text:     strings.Join(c.texts, " "),
		Language: c.language,
		Duration: c.duration,
	}
	if c.duration > 0 {
		result.Confidence = c.weighted / c.duration
	} else if c.count > 0 {
		result.Confidence = c.plain / float64(c.count)
	}
	return result
}
