package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/UniversalLevi/AI-Calling-Agent-sub000/internal/audio"
	"github.com/UniversalLevi/AI-Calling-Agent-sub000/internal/session"
	"github.com/UniversalLevi/AI-Calling-Agent-sub000/internal/stt"
)

type fakeTranscriber struct {
	result   *stt.Result
	err      error
	gotPCM   []byte
	gotRate  int
	gotHint  string
	calls    int
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, pcm []byte, sampleRate int, langHint string) (*stt.Result, error) {
	f.calls++
	f.gotPCM = pcm
	f.gotRate = sampleRate
	f.gotHint = langHint
	return f.result, f.err
}

type fakeResponder struct {
	reply       string
	err         error
	gotConvID   string
	gotText     string
	gotLanguage string
	calls       int
}

func (f *fakeResponder) Respond(ctx context.Context, conversationID, text, language string) (string, error) {
	f.calls++
	f.gotConvID = conversationID
	f.gotText = text
	f.gotLanguage = language
	return f.reply, f.err
}

type fakeSynthesizer struct {
	audio    []byte
	err      error
	gotText  string
	gotVoice string
	calls    int
}

func (f *fakeSynthesizer) Synthesize(ctx context.Context, text, voice string) ([]byte, error) {
	f.calls++
	f.gotText = text
	f.gotVoice = voice
	return f.audio, f.err
}

// failingTranscoder forces the converter's silence fallback so the rendered
// audio size is deterministic regardless of whether ffmpeg is installed
func failingTranscoder() *audio.Transcoder {
	return audio.NewTranscoder("/nonexistent/media-converter", time.Second, 100*time.Millisecond)
}

func testUtterance() session.Utterance {
	now := time.Now()
	return session.Utterance{
		CallID:     "CA-chain",
		Audio:      make([]byte, 3200),
		SampleRate: 8000,
		StartedAt:  now.Add(-time.Second),
		EndedAt:    now,
	}
}

func TestRespond_ProducesTelephonyAudio(t *testing.T) {
	transcriber := &fakeTranscriber{result: &stt.Result{Text: "what are your hours", Language: "en", Confidence: 0.9}}
	responder := &fakeResponder{reply: "We are open nine to five."}
	synth := &fakeSynthesizer{audio: []byte("mp3-bytes")}

	c := New(transcriber, responder, synth, failingTranscoder(), Options{
		TargetRate:   8000,
		Mulaw:        true,
		LanguageHint: "hi",
	})

	req, err := c.Respond(context.Background(), testUtterance())
	if err != nil {
		t.Fatalf("Respond failed: %v", err)
	}
	if req == nil {
		t.Fatal("Expected a playback request")
	}

	if transcriber.gotRate != 8000 {
		t.Errorf("Expected transcriber rate 8000, got %d", transcriber.gotRate)
	}
	if transcriber.gotHint != "hi" {
		t.Errorf("Expected language hint 'hi', got '%s'", transcriber.gotHint)
	}
	if len(transcriber.gotPCM) != 3200 {
		t.Errorf("Expected utterance audio passed through, got %d bytes", len(transcriber.gotPCM))
	}

	if responder.gotConvID != "CA-chain" {
		t.Errorf("Expected conversation ID 'CA-chain', got '%s'", responder.gotConvID)
	}
	if responder.gotText != "what are your hours" {
		t.Errorf("Expected transcript forwarded, got '%s'", responder.gotText)
	}
	if responder.gotLanguage != "en" {
		t.Errorf("Expected detected language forwarded, got '%s'", responder.gotLanguage)
	}

	if synth.gotText != "We are open nine to five." {
		t.Errorf("Expected reply text synthesized, got '%s'", synth.gotText)
	}

	// 100ms fallback silence at 8kHz PCM16 is 1600 bytes; companded μ-law
	// halves it
	if len(req.Audio) != 800 {
		t.Errorf("Expected 800 bytes of wire audio, got %d", len(req.Audio))
	}
	if req.Text != "We are open nine to five." {
		t.Errorf("Expected request text set, got '%s'", req.Text)
	}
	if req.EnqueuedAt.IsZero() {
		t.Error("Expected enqueue timestamp set")
	}
}

func TestRespond_RawPCMTarget(t *testing.T) {
	transcriber := &fakeTranscriber{result: &stt.Result{Text: "hello", Language: "en", Confidence: 0.9}}
	responder := &fakeResponder{reply: "hi"}
	synth := &fakeSynthesizer{audio: []byte("mp3")}

	c := New(transcriber, responder, synth, failingTranscoder(), Options{TargetRate: 16000})

	req, err := c.Respond(context.Background(), testUtterance())
	if err != nil {
		t.Fatalf("Respond failed: %v", err)
	}

	// 100ms fallback silence at 16kHz PCM16, no companding
	if len(req.Audio) != 3200 {
		t.Errorf("Expected 3200 bytes of PCM, got %d", len(req.Audio))
	}
}

func TestRespond_EmptyTranscriptSkipsReply(t *testing.T) {
	transcriber := &fakeTranscriber{result: &stt.Result{Text: "  ", Language: "en"}}
	responder := &fakeResponder{reply: "unused"}
	synth := &fakeSynthesizer{audio: []byte("mp3")}

	c := New(transcriber, responder, synth, failingTranscoder(), Options{TargetRate: 8000, Mulaw: true})

	req, err := c.Respond(context.Background(), testUtterance())
	if err != nil {
		t.Fatalf("Respond failed: %v", err)
	}
	if req != nil {
		t.Error("Expected nil request for empty transcript")
	}
	if responder.calls != 0 {
		t.Errorf("Expected reply backend not called, got %d calls", responder.calls)
	}
	if synth.calls != 0 {
		t.Errorf("Expected synthesizer not called, got %d calls", synth.calls)
	}
}

func TestRespond_TranscriptionFailure(t *testing.T) {
	transcriber := &fakeTranscriber{err: errors.New("vendor down")}
	responder := &fakeResponder{}
	synth := &fakeSynthesizer{}

	c := New(transcriber, responder, synth, failingTranscoder(), Options{TargetRate: 8000, Mulaw: true})

	if _, err := c.Respond(context.Background(), testUtterance()); err == nil {
		t.Fatal("Expected transcription error to propagate")
	}
	if responder.calls != 0 {
		t.Error("Expected reply backend not called after transcription failure")
	}
}

func TestRespond_ReplyFailure(t *testing.T) {
	transcriber := &fakeTranscriber{result: &stt.Result{Text: "hello", Language: "en"}}
	responder := &fakeResponder{err: errors.New("backend down")}
	synth := &fakeSynthesizer{}

	c := New(transcriber, responder, synth, failingTranscoder(), Options{TargetRate: 8000, Mulaw: true})

	if _, err := c.Respond(context.Background(), testUtterance()); err == nil {
		t.Fatal("Expected reply error to propagate")
	}
	if synth.calls != 0 {
		t.Error("Expected synthesizer not called after reply failure")
	}
}

func TestRespond_SynthesisFailure(t *testing.T) {
	transcriber := &fakeTranscriber{result: &stt.Result{Text: "hello", Language: "en"}}
	responder := &fakeResponder{reply: "hi"}
	synth := &fakeSynthesizer{err: errors.New("voice unavailable")}

	c := New(transcriber, responder, synth, failingTranscoder(), Options{TargetRate: 8000, Mulaw: true})

	if _, err := c.Respond(context.Background(), testUtterance()); err == nil {
		t.Fatal("Expected synthesis error to propagate")
	}
}

func TestSay_RendersGreeting(t *testing.T) {
	synth := &fakeSynthesizer{audio: []byte("mp3")}
	c := New(&fakeTranscriber{}, &fakeResponder{}, synth, failingTranscoder(), Options{TargetRate: 8000, Mulaw: true})

	req, err := c.Say(context.Background(), "CA-greet", "Hello, thanks for calling!", "warm-voice")
	if err != nil {
		t.Fatalf("Say failed: %v", err)
	}
	if req == nil {
		t.Fatal("Expected a playback request")
	}

	if synth.gotText != "Hello, thanks for calling!" {
		t.Errorf("Expected greeting synthesized, got '%s'", synth.gotText)
	}
	if synth.gotVoice != "warm-voice" {
		t.Errorf("Expected voice passed through, got '%s'", synth.gotVoice)
	}
	if len(req.Audio) != 800 {
		t.Errorf("Expected 800 bytes of wire audio, got %d", len(req.Audio))
	}
}

func TestSay_EmptyTextIsNoop(t *testing.T) {
	synth := &fakeSynthesizer{}
	c := New(&fakeTranscriber{}, &fakeResponder{}, synth, failingTranscoder(), Options{TargetRate: 8000, Mulaw: true})

	req, err := c.Say(context.Background(), "CA-greet", "", "")
	if err != nil {
		t.Fatalf("Say failed: %v", err)
	}
	if req != nil {
		t.Error("Expected nil request for empty greeting")
	}
	if synth.calls != 0 {
		t.Error("Expected synthesizer not called for empty greeting")
	}
}

var _ session.Pipeline = (*Chain)(nil)
