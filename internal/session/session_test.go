package session

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/UniversalLevi/AI-Calling-Agent-sub000/internal/audio"
	"github.com/UniversalLevi/AI-Calling-Agent-sub000/internal/bargein"
	"github.com/UniversalLevi/AI-Calling-Agent-sub000/internal/config"
	"github.com/UniversalLevi/AI-Calling-Agent-sub000/internal/player"
	"github.com/UniversalLevi/AI-Calling-Agent-sub000/internal/vad"
)

const frameInterval = 20 * time.Millisecond

type fakeTransport struct {
	mu     sync.Mutex
	writes [][]byte
	clears int
}

func (f *fakeTransport) WriteMedia(payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, append([]byte(nil), payload...))
	return nil
}

func (f *fakeTransport) Clear() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clears++
	return nil
}

func (f *fakeTransport) totalBytes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, w := range f.writes {
		n += len(w)
	}
	return n
}

func (f *fakeTransport) clearCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.clears
}

type capturePipeline struct {
	utterances chan Utterance
	req        *player.Request
	err        error
}

func newCapturePipeline() *capturePipeline {
	return &capturePipeline{utterances: make(chan Utterance, 8)}
}

func (p *capturePipeline) Respond(ctx context.Context, u Utterance) (*player.Request, error) {
	p.utterances <- u
	return p.req, p.err
}

func testConfig() *config.Config {
	return &config.Config{
		VADAggressiveness:    2,
		VADEnergyThreshold:   0.01,
		InterruptThreshold:   0.35,
		InterruptMinSpeechMs: 300,
		InterruptOnsetGapMs:  200,
		InterruptWindowMs:    800,
		MaxSilenceMs:         1000,
		InboundQueueSize:     100,
		PlaybackQueueSize:    16,
		PollIntervalMs:       100,
	}
}

// newTestSession builds an unstarted session with a deterministic
// energy-only detector so frame classification does not depend on the
// speech model
func newTestSession(t *testing.T, transport Transport, pipe Pipeline) *Session {
	t.Helper()
	s := New(testConfig(), "CA-test", transport, pipe, player.Config{
		ChunkDuration:  20 * time.Millisecond,
		BytesPerSecond: 8000,
		MaxAge:         5 * time.Second,
	})
	s.detector = vad.NewWithClassifier(nil, 0.01)
	return s
}

func toneFrame(ts time.Time) audio.Frame {
	samples := make([]int16, 160)
	for i := range samples {
		samples[i] = int16(8000 * math.Sin(2*math.Pi*440*float64(i)/8000))
	}
	return audio.Frame{Samples: samples, SampleRate: 8000, Timestamp: ts}
}

func silenceFrame(ts time.Time) audio.Frame {
	return audio.Frame{Samples: make([]int16, 160), SampleRate: 8000, Timestamp: ts}
}

// feedFrames drives handleFrame directly with synthetic timestamps; frame i
// is stamped start + i*20ms. Returns the timestamp after the last frame.
func feedFrames(s *Session, start time.Time, n int, speech bool) time.Time {
	ts := start
	for i := 0; i < n; i++ {
		if speech {
			s.handleFrame(toneFrame(ts))
		} else {
			s.handleFrame(silenceFrame(ts))
		}
		ts = ts.Add(frameInterval)
	}
	return ts
}

func drainInterruptions(s *Session) []bargein.Event {
	var events []bargein.Event
	for {
		select {
		case ev := <-s.Interruptions():
			events = append(events, ev)
		default:
			return events
		}
	}
}

func TestSession_SustainedSpeechInterruptsExactlyOnce(t *testing.T) {
	transport := &fakeTransport{}
	s := newTestSession(t, transport, newCapturePipeline())

	s.setBotSpeaking(true)
	s.machine.BotStartedSpeaking()

	// Two seconds of silence, then one second of sustained tone
	base := time.Now()
	ts := feedFrames(s, base, 100, false)
	feedFrames(s, ts, 50, true)

	events := drainInterruptions(s)
	if len(events) != 1 {
		t.Fatalf("Expected exactly 1 interruption event, got %d", len(events))
	}

	ev := events[0]
	if ev.Confidence < 0.35 {
		t.Errorf("Expected confidence >= 0.35, got %f", ev.Confidence)
	}
	if ev.Sustained < 300*time.Millisecond {
		t.Errorf("Expected sustained >= 300ms, got %v", ev.Sustained)
	}

	if !s.cancelTok.Cancelled() {
		t.Error("Expected interruption to set the cancel token")
	}
	if transport.clearCount() != 1 {
		t.Errorf("Expected 1 carrier clear, got %d", transport.clearCount())
	}

	// Once the player confirms the stop, the session is back to listening
	s.finishPlayback()
	if s.IsBotSpeaking() {
		t.Error("Expected is_bot_speaking false after playback stopped")
	}
	if s.machine.State() != bargein.StateIdle {
		t.Errorf("Expected idle state after stop, got %s", s.machine.State())
	}
	if s.cancelTok.Cancelled() {
		t.Error("Expected cancel token to be rearmed after stop")
	}
}

func TestSession_ShortPauseYieldsOneUtterance(t *testing.T) {
	pipe := newCapturePipeline()
	s := newTestSession(t, &fakeTransport{}, pipe)

	// silence, speech burst, sub-threshold pause, speech burst, long silence
	base := time.Now()
	ts := feedFrames(s, base, 10, false) // 200ms
	ts = feedFrames(s, ts, 20, true)     // 400ms speech
	ts = feedFrames(s, ts, 15, false)    // 300ms pause
	ts = feedFrames(s, ts, 20, true)     // 400ms speech
	feedFrames(s, ts, 60, false)         // 1.2s silence

	var u Utterance
	select {
	case u = <-pipe.utterances:
	case <-time.After(time.Second):
		t.Fatal("Expected an utterance after the long silence")
	}

	select {
	case <-pipe.utterances:
		t.Fatal("Expected exactly one utterance, got a second")
	case <-time.After(50 * time.Millisecond):
	}

	// Both speech bursts, 40 frames of 160 samples, as PCM16 bytes
	if len(u.Audio) != 40*160*2 {
		t.Errorf("Expected %d utterance bytes, got %d", 40*160*2, len(u.Audio))
	}
	if u.SampleRate != 8000 {
		t.Errorf("Expected sample rate 8000, got %d", u.SampleRate)
	}
	if u.Duration() != 1080*time.Millisecond {
		t.Errorf("Expected duration 1.08s (first to last speech frame), got %v", u.Duration())
	}
	if u.CallID != "CA-test" {
		t.Errorf("Expected call ID 'CA-test', got '%s'", u.CallID)
	}
}

func TestSession_MidUtterancePauseDoesNotEmit(t *testing.T) {
	pipe := newCapturePipeline()
	s := newTestSession(t, &fakeTransport{}, pipe)

	base := time.Now()
	ts := feedFrames(s, base, 20, true)
	feedFrames(s, ts, 40, false) // 800ms, below the 1s boundary

	select {
	case <-pipe.utterances:
		t.Fatal("Expected no utterance before max silence elapses")
	case <-time.After(50 * time.Millisecond):
	}

	if len(s.buffer) == 0 {
		t.Error("Expected speech to remain buffered")
	}
}

func TestSession_PureSilenceNeverEmits(t *testing.T) {
	pipe := newCapturePipeline()
	s := newTestSession(t, &fakeTransport{}, pipe)

	feedFrames(s, time.Now(), 200, false) // 4s of silence

	select {
	case <-pipe.utterances:
		t.Fatal("Expected no utterance from pure silence")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSession_NoAccumulationWhileBotSpeaking(t *testing.T) {
	pipe := newCapturePipeline()
	s := newTestSession(t, &fakeTransport{}, pipe)

	s.setBotSpeaking(true)
	s.machine.BotStartedSpeaking()

	// Caller talks over the bot, then goes quiet well past max silence
	base := time.Now()
	ts := feedFrames(s, base, 25, true)
	ts = feedFrames(s, ts, 60, false)

	if len(s.buffer) != 0 {
		t.Error("Expected no utterance accumulation while the bot speaks")
	}
	select {
	case <-pipe.utterances:
		t.Fatal("Expected no utterance while the bot speaks")
	case <-time.After(50 * time.Millisecond):
	}
	drainInterruptions(s)

	// Back to listening: the same pattern now becomes content
	s.finishPlayback()
	ts = feedFrames(s, ts, 25, true)
	feedFrames(s, ts, 60, false)

	select {
	case u := <-pipe.utterances:
		if len(u.Audio) != 25*160*2 {
			t.Errorf("Expected only post-playback speech buffered, got %d bytes", len(u.Audio))
		}
	case <-time.After(time.Second):
		t.Fatal("Expected an utterance after returning to listening state")
	}
}

func TestSession_InterruptClearsPendingRequests(t *testing.T) {
	transport := &fakeTransport{}
	s := newTestSession(t, transport, newCapturePipeline())

	// Two replies queued behind the active playback
	for i := 0; i < 2; i++ {
		if err := s.Speak(&player.Request{Audio: make([]byte, 160), EnqueuedAt: time.Now()}); err != nil {
			t.Fatalf("Speak failed: %v", err)
		}
	}

	s.setBotSpeaking(true)
	s.machine.BotStartedSpeaking()
	feedFrames(s, time.Now(), 25, true)

	if len(drainInterruptions(s)) != 1 {
		t.Fatal("Expected an interruption to fire")
	}
	if s.playQueue.Len() != 0 {
		t.Errorf("Expected pending requests cleared, got %d queued", s.playQueue.Len())
	}
	if transport.clearCount() != 1 {
		t.Errorf("Expected carrier clear on interrupt, got %d", transport.clearCount())
	}
}

func TestSession_SpeakRejectsWhenQueueFull(t *testing.T) {
	cfg := testConfig()
	cfg.PlaybackQueueSize = 1
	s := New(cfg, "CA-full", &fakeTransport{}, newCapturePipeline(), player.DefaultConfig())

	if err := s.Speak(&player.Request{Audio: []byte{1}}); err != nil {
		t.Fatalf("First Speak failed: %v", err)
	}
	if err := s.Speak(&player.Request{Audio: []byte{2}}); !errors.Is(err, player.ErrQueueFull) {
		t.Errorf("Expected ErrQueueFull, got %v", err)
	}
}

func TestSession_PlaybackStreamsQueuedRequest(t *testing.T) {
	transport := &fakeTransport{}
	s := newTestSession(t, transport, newCapturePipeline())
	s.Start()
	defer s.Close()

	if err := s.Speak(&player.Request{Audio: make([]byte, 480), EnqueuedAt: time.Now()}); err != nil {
		t.Fatalf("Speak failed: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for transport.totalBytes() < 480 {
		if time.Now().After(deadline) {
			t.Fatalf("Expected 480 bytes streamed, got %d", transport.totalBytes())
		}
		time.Sleep(5 * time.Millisecond)
	}

	for s.IsBotSpeaking() {
		if time.Now().After(deadline) {
			t.Fatal("Expected is_bot_speaking to reset after playback")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSession_BargeInCancelsActivePlayback(t *testing.T) {
	transport := &fakeTransport{}
	s := newTestSession(t, transport, newCapturePipeline())
	s.Start()
	defer s.Close()

	// One second of audio, streamed in 20ms chunks
	if err := s.Speak(&player.Request{Audio: make([]byte, 8000), EnqueuedAt: time.Now()}); err != nil {
		t.Fatalf("Speak failed: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for !s.IsBotSpeaking() {
		if time.Now().After(deadline) {
			t.Fatal("Expected playback to start")
		}
		time.Sleep(time.Millisecond)
	}

	// Sustained caller speech while the bot is mid-sentence
	ts := time.Now()
	for i := 0; i < 30; i++ {
		if err := s.EnqueueFrame(toneFrame(ts)); err != nil {
			t.Fatalf("EnqueueFrame failed: %v", err)
		}
		ts = ts.Add(frameInterval)
	}

	select {
	case ev := <-s.Interruptions():
		if ev.Confidence < 0.35 {
			t.Errorf("Expected confidence >= 0.35, got %f", ev.Confidence)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Expected an interruption event")
	}

	for s.IsBotSpeaking() {
		if time.Now().After(deadline) {
			t.Fatal("Expected playback to stop after interruption")
		}
		time.Sleep(time.Millisecond)
	}

	if transport.totalBytes() >= 8000 {
		t.Errorf("Expected playback cut short, but all %d bytes were sent", transport.totalBytes())
	}
	if transport.clearCount() == 0 {
		t.Error("Expected a carrier clear after the interruption")
	}
}

func TestSession_CloseIsIdempotent(t *testing.T) {
	s := newTestSession(t, &fakeTransport{}, newCapturePipeline())
	s.Start()

	s.Close()
	s.Close()

	if err := s.EnqueueFrame(silenceFrame(time.Now())); err == nil {
		t.Error("Expected EnqueueFrame to fail after Close")
	}
}

func TestSession_PipelineFailureKeepsSessionAlive(t *testing.T) {
	pipe := newCapturePipeline()
	pipe.err = errors.New("backend down")
	s := newTestSession(t, &fakeTransport{}, pipe)

	base := time.Now()
	ts := feedFrames(s, base, 20, true)
	feedFrames(s, ts, 60, false)

	select {
	case <-pipe.utterances:
	case <-time.After(time.Second):
		t.Fatal("Expected the utterance to reach the pipeline")
	}

	// The failed reply must not wedge the session: more speech still flows
	ts = ts.Add(60 * frameInterval)
	ts = feedFrames(s, ts, 20, true)
	feedFrames(s, ts, 60, false)

	select {
	case <-pipe.utterances:
	case <-time.After(time.Second):
		t.Fatal("Expected a second utterance after a pipeline failure")
	}
}
