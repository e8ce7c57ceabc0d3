package bargein

import (
	"sync"
	"time"
)

// State is the playback-interaction state of a call
type State int

const (
	// StateIdle means no bot speech is in flight
	StateIdle State = iota
	// StateBotSpeaking means the bot is speaking and the caller may barge in
	StateBotSpeaking
	// StateInterrupted means a barge-in fired and playback teardown is in
	// progress; it holds until the player confirms it stopped
	StateInterrupted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateBotSpeaking:
		return "bot_speaking"
	case StateInterrupted:
		return "interrupted"
	default:
		return "unknown"
	}
}

// Event describes a barge-in the moment it fired
type Event struct {
	Confidence float64       // Speech share of the rolling window
	Sustained  time.Duration // Continuous speech duration at fire time
	Timestamp  time.Time
}

// Config tunes when sustained caller speech cancels bot playback
type Config struct {
	// Window is the rolling span over which speech confidence is computed
	Window time.Duration
	// Threshold is the speech share of the window required to fire
	Threshold float64
	// MinSpeechDuration is how long speech must be sustained before firing,
	// so a short noise burst cannot cancel a sentence
	MinSpeechDuration time.Duration
	// OnsetGap is the silence gap after which the speech onset timer resets,
	// so a brief pause inside an utterance doesn't inflate its duration
	OnsetGap time.Duration
}

// DefaultConfig returns the production tuning
func DefaultConfig() Config {
	return Config{
		Window:            800 * time.Millisecond,
		Threshold:         0.35,
		MinSpeechDuration: 300 * time.Millisecond,
		OnsetGap:          200 * time.Millisecond,
	}
}

type observation struct {
	ts     time.Time
	speech bool
}

// Machine decides when the caller has genuinely interrupted the bot.
// It is driven by per-frame speech classifications from the consumer loop
// and by playback lifecycle notifications from the speech player, so all
// state is mutex-guarded.
type Machine struct {
	mu  sync.Mutex
	cfg Config

	state        State
	window       []observation
	onsetAt      time.Time
	lastSpeechAt time.Time
}

// NewMachine creates a machine in StateIdle. Zero config fields fall back
// to the defaults.
func NewMachine(cfg Config) *Machine {
	def := DefaultConfig()
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.Threshold <= 0 || cfg.Threshold > 1 {
		cfg.Threshold = def.Threshold
	}
	if cfg.MinSpeechDuration <= 0 {
		cfg.MinSpeechDuration = def.MinSpeechDuration
	}
	if cfg.OnsetGap <= 0 {
		cfg.OnsetGap = def.OnsetGap
	}
	return &Machine{cfg: cfg, state: StateIdle}
}

// Observe records one frame classification and returns a non-nil Event when
// this frame fires a barge-in. At most one event fires per playback: after
// firing, the machine stays in StateInterrupted until PlaybackStopped.
func (m *Machine) Observe(ts time.Time, speech bool) *Event {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.window = append(m.window, observation{ts: ts, speech: speech})
	m.pruneLocked(ts)

	if speech {
		// A gap longer than OnsetGap since the last speech frame starts a
		// new sustained-speech run
		if m.onsetAt.IsZero() || ts.Sub(m.lastSpeechAt) > m.cfg.OnsetGap {
			m.onsetAt = ts
		}
		m.lastSpeechAt = ts
	}

	if m.state != StateBotSpeaking || !speech {
		return nil
	}

	confidence := m.confidenceLocked()
	sustained := ts.Sub(m.onsetAt)

	if confidence >= m.cfg.Threshold && sustained >= m.cfg.MinSpeechDuration {
		m.state = StateInterrupted
		return &Event{
			Confidence: confidence,
			Sustained:  sustained,
			Timestamp:  ts,
		}
	}

	return nil
}

// BotStartedSpeaking arms the machine for barge-in detection
func (m *Machine) BotStartedSpeaking() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = StateBotSpeaking
}

// PlaybackStopped reports that the speech player has fully stopped, ending
// the per-utterance interruption cycle
func (m *Machine) PlaybackStopped() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = StateIdle
}

// State returns the current state
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Confidence returns the speech share of the current window
func (m *Machine) Confidence() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.confidenceLocked()
}

// Reset clears all speech tracking and returns to StateIdle
func (m *Machine) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = StateIdle
	m.window = nil
	m.onsetAt = time.Time{}
	m.lastSpeechAt = time.Time{}
}

// pruneLocked drops observations older than the window. Caller must hold m.mu.
func (m *Machine) pruneLocked(now time.Time) {
	cutoff := now.Add(-m.cfg.Window)
	i := 0
	for i < len(m.window) && m.window[i].ts.Before(cutoff) {
		i++
	}
	if i > 0 {
		m.window = m.window[i:]
	}
}

// confidenceLocked computes the speech share of the window. Caller must hold m.mu.
func (m *Machine) confidenceLocked() float64 {
	if len(m.window) == 0 {
		return 0
	}
	speech := 0
	for _, o := range m.window {
		if o.speech {
			speech++
		}
	}
	return float64(speech) / float64(len(m.window))
}
