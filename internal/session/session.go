package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/UniversalLevi/AI-Calling-Agent-sub000/internal/audio"
	"github.com/UniversalLevi/AI-Calling-Agent-sub000/internal/bargein"
	"github.com/UniversalLevi/AI-Calling-Agent-sub000/internal/config"
	"github.com/UniversalLevi/AI-Calling-Agent-sub000/internal/observability"
	"github.com/UniversalLevi/AI-Calling-Agent-sub000/internal/player"
	"github.com/UniversalLevi/AI-Calling-Agent-sub000/internal/vad"
)

// Transport delivers bot audio to the caller and can discard audio the
// carrier has buffered but not yet played. The telephony bridge and the
// local audio device both implement it.
type Transport interface {
	WriteMedia(payload []byte) error
	Clear() error
}

// Pipeline turns a finished utterance into the bot's next playback request.
// Implementations run remote collaborators and may take seconds; the session
// always invokes it off the consumer loop.
type Pipeline interface {
	Respond(ctx context.Context, u Utterance) (*player.Request, error)
}

// Utterance is one complete stretch of caller speech, accumulated between
// silences
type Utterance struct {
	CallID     string
	Audio      []byte // PCM16 little-endian mono
	SampleRate int
	StartedAt  time.Time
	EndedAt    time.Time
}

// Duration returns the span from first to last buffered speech
func (u Utterance) Duration() time.Duration {
	return u.EndedAt.Sub(u.StartedAt)
}

// Session owns one duplex call: it accumulates caller speech into
// utterances, feeds every inbound frame to the barge-in path, and runs
// playback so the bot can be interrupted mid-sentence.
//
// Concurrency model: one producer (the transport callback) enqueues frames,
// one consumer goroutine owns all VAD and state-machine mutation, and one
// playback goroutine streams queued requests. The inbound channel and the
// playback queue are the only structures shared between them.
type Session struct {
	ID      string
	callSID string

	cfg       *config.Config
	transport Transport
	pipeline  Pipeline
	detector  *vad.Detector
	machine   *bargein.Machine
	player    *player.Player
	playQueue *player.Queue
	cancelTok *player.CancelToken

	logger  zerolog.Logger
	metrics *observability.Metrics

	ctx       context.Context
	ctxCancel context.CancelFunc

	inbound       chan audio.Frame
	interruptions chan bargein.Event
	done          chan struct{}
	closeOnce     sync.Once
	wg            sync.WaitGroup

	mu          sync.Mutex
	botSpeaking bool

	// utterance accumulation state, owned by the consumer goroutine
	buffer         []int16
	bufferRate     int
	utteranceStart time.Time
	lastSpeechAt   time.Time
	maxSilence     time.Duration
}

// New builds a session for one call. playerCfg sets the wire pacing for this
// transport (byte rate differs between companded telephony audio and raw
// device PCM). Call Start to begin processing.
func New(cfg *config.Config, callSID string, transport Transport, pipe Pipeline, playerCfg player.Config) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	id := uuid.NewString()

	s := &Session{
		ID:        id,
		callSID:   callSID,
		cfg:       cfg,
		transport: transport,
		pipeline:  pipe,
		detector: vad.New(vad.Config{
			Aggressiveness:  cfg.VADAggressiveness,
			EnergyThreshold: cfg.VADEnergyThreshold,
		}),
		machine: bargein.NewMachine(bargein.Config{
			Window:            time.Duration(cfg.InterruptWindowMs) * time.Millisecond,
			Threshold:         cfg.InterruptThreshold,
			MinSpeechDuration: time.Duration(cfg.InterruptMinSpeechMs) * time.Millisecond,
			OnsetGap:          time.Duration(cfg.InterruptOnsetGapMs) * time.Millisecond,
		}),
		player:        player.New(transport, playerCfg),
		playQueue:     player.NewQueue(cfg.PlaybackQueueSize),
		cancelTok:     player.NewCancelToken(),
		logger:        observability.WithCall(callSID).With().Str("session_id", id).Logger(),
		metrics:       observability.NewCallMetrics(callSID),
		ctx:           ctx,
		ctxCancel:     cancel,
		inbound:       make(chan audio.Frame, cfg.InboundQueueSize),
		interruptions: make(chan bargein.Event, 8),
		done:          make(chan struct{}),
		maxSilence:    time.Duration(cfg.MaxSilenceMs) * time.Millisecond,
	}

	return s
}

// Start launches the consumer and playback goroutines
func (s *Session) Start() {
	s.metrics.RecordCallStart()
	s.logger.Info().Msg("Session started")

	s.wg.Add(2)
	go s.consumeLoop()
	go s.playbackLoop()
}

// EnqueueFrame hands an inbound audio frame to the consumer loop. It blocks
// when the consumer falls behind rather than dropping frames, preserving
// arrival order.
func (s *Session) EnqueueFrame(f audio.Frame) error {
	select {
	case <-s.done:
		return fmt.Errorf("session is closed")
	case s.inbound <- f:
		return nil
	}
}

// Speak queues a playback request. Requests are played in order; a full
// queue rejects rather than blocks so an interruption's clear cannot be
// bypassed by a sender stuck in a blocking enqueue.
func (s *Session) Speak(req *player.Request) error {
	if err := s.playQueue.Enqueue(req); err != nil {
		s.logger.Warn().Err(err).Msg("Playback queue rejected request")
		s.metrics.RecordError("playback_queue_full", "session")
		return err
	}
	return nil
}

// Interruptions exposes barge-in events for subscribers (tests, call logs)
func (s *Session) Interruptions() <-chan bargein.Event {
	return s.interruptions
}

// IsBotSpeaking reports whether a playback request is currently streaming
func (s *Session) IsBotSpeaking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.botSpeaking
}

// Close tears down the session. Safe to call more than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.cancelTok.Cancel()
		s.ctxCancel()
		s.wg.Wait()
		s.metrics.RecordCallEnd()
		s.logger.Info().Msg("Session closed")
	})
}

// consumeLoop owns all VAD, barge-in, and accumulation state. The poll tick
// lets silence accumulate toward an utterance boundary even when the
// transport stops delivering frames.
func (s *Session) consumeLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(time.Duration(s.cfg.PollIntervalMs) * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case f := <-s.inbound:
			s.handleFrame(f)
		case <-ticker.C:
			if !s.IsBotSpeaking() {
				s.checkSilence(time.Now())
			}
		}
	}
}

// handleFrame classifies one frame, drives the barge-in machine, and
// accumulates listening-state audio
func (s *Session) handleFrame(f audio.Frame) {
	speech := s.detector.IsSpeech(f)

	if ev := s.machine.Observe(f.Timestamp, speech); ev != nil {
		s.interrupt(*ev)
	}

	// While the bot speaks, caller audio is interruption signal only, never
	// utterance content
	if s.IsBotSpeaking() {
		return
	}

	s.accumulate(f, speech)
	s.checkSilence(f.Timestamp)
}

func (s *Session) accumulate(f audio.Frame, speech bool) {
	if !speech {
		return
	}

	if len(s.buffer) == 0 {
		s.utteranceStart = f.Timestamp
		s.bufferRate = f.SampleRate
	}
	s.buffer = append(s.buffer, f.Samples...)
	s.lastSpeechAt = f.Timestamp
}

// checkSilence emits the buffered utterance once speech has been quiet for
// maxSilence
func (s *Session) checkSilence(now time.Time) {
	if len(s.buffer) == 0 {
		return
	}
	if now.Sub(s.lastSpeechAt) < s.maxSilence {
		return
	}

	u := Utterance{
		CallID:     s.callSID,
		Audio:      audio.SamplesToBytes(s.buffer),
		SampleRate: s.bufferRate,
		StartedAt:  s.utteranceStart,
		EndedAt:    s.lastSpeechAt,
	}

	s.buffer = nil
	s.bufferRate = 0
	s.utteranceStart = time.Time{}
	s.lastSpeechAt = time.Time{}

	s.metrics.RecordUtterance(u.Duration())
	s.metrics.RecordAudioBytes("inbound", int64(len(u.Audio)))
	s.logger.Debug().
		Dur("duration", u.Duration()).
		Int("bytes", len(u.Audio)).
		Msg("Utterance complete")

	// The pipeline runs remote collaborators; keep it off the consumer loop
	s.wg.Add(1)
	go s.respond(u)
}

// respond runs the utterance through the reply pipeline and queues the
// resulting audio
func (s *Session) respond(u Utterance) {
	defer s.wg.Done()

	req, err := s.pipeline.Respond(s.ctx, u)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		s.logger.Error().Err(err).Msg("Reply pipeline failed")
		s.metrics.RecordError("pipeline", "session")
		return
	}
	if req == nil {
		return
	}

	s.Speak(req)
}

// interrupt executes a barge-in: cancel the active playback, drop anything
// queued behind it, tell the carrier to discard its buffered audio, then
// notify subscribers
func (s *Session) interrupt(ev bargein.Event) {
	s.cancelTok.Cancel()
	dropped := s.playQueue.Clear()

	if err := s.transport.Clear(); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to clear carrier playback buffer")
	}

	// Sustained covers onset to the firing frame; the rest is queueing and
	// processing delay between that frame's arrival and the cancel.
	reaction := ev.Sustained + time.Since(ev.Timestamp)
	s.metrics.RecordInterruption(ev.Confidence, reaction)
	s.logger.Info().
		Float64("confidence", ev.Confidence).
		Dur("sustained", ev.Sustained).
		Dur("reaction", reaction).
		Int("dropped_requests", dropped).
		Msg("Caller interrupted playback")

	select {
	case s.interruptions <- ev:
	default:
	}
}

// playbackLoop streams queued requests strictly one at a time
func (s *Session) playbackLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.done:
			return
		case req := <-s.playQueue.C():
			s.playRequest(req)
		}
	}
}

func (s *Session) playRequest(req *player.Request) {
	s.setBotSpeaking(true)
	s.machine.BotStartedSpeaking()

	result, err := s.player.Play(s.ctx, req, s.cancelTok)
	switch {
	case errors.Is(err, player.ErrStaleRequest):
		// Stale drops are expected housekeeping, not a fault
		s.logger.Debug().
			Dur("age", time.Since(req.EnqueuedAt)).
			Msg("Dropped stale playback request")
	case err != nil && !errors.Is(err, context.Canceled):
		s.logger.Error().Err(err).Msg("Playback failed")
		s.metrics.RecordError("playback", "session")
	case err == nil:
		s.metrics.RecordAudioBytes("outbound", int64(result.BytesSent))
		if !result.Completed {
			s.logger.Debug().Int("bytes_sent", result.BytesSent).Msg("Playback cancelled")
		}
	}

	s.finishPlayback()
}

// finishPlayback runs after the player has fully stopped: it drains any
// requests that slipped past an interrupt's clear, and only then rearms the
// cancel token so the next playback cannot start against a half-stopped
// predecessor
func (s *Session) finishPlayback() {
	if s.cancelTok.Cancelled() {
		if dropped := s.playQueue.Clear(); dropped > 0 {
			s.logger.Debug().Int("dropped_requests", dropped).Msg("Drained playback queue after cancellation")
		}
	}
	s.cancelTok.Reset()
	s.setBotSpeaking(false)
	s.machine.PlaybackStopped()
}

func (s *Session) setBotSpeaking(speaking bool) {
	s.mu.Lock()
	s.botSpeaking = speaking
	s.mu.Unlock()
}
