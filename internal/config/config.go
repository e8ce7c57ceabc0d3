package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the calling agent service
type Config struct {
	// Server configuration
	Port string `envconfig:"PORT" default:"8080"`

	// Public base URL for this service (e.g. https://xxx.ngrok-free.dev when behind ngrok).
	// Used for logging the WebSocket endpoint; the carrier connects to wss://<this-host>/streams/twilio.
	// Optional; if unset, logs ws://localhost:PORT/streams/twilio.
	PublicURL string `envconfig:"PUBLIC_URL" default:""`

	// Opening line spoken as soon as a call starts. Empty disables the greeting.
	Greeting string `envconfig:"GREETING" default:""`

	// Deepgram STT API configuration
	DeepgramAPIKey   string `envconfig:"DEEPGRAM_API_KEY" required:"true"`
	DeepgramModel    string `envconfig:"DEEPGRAM_MODEL" default:"nova-2"` // nova-2, enhanced, base
	DeepgramLanguage string `envconfig:"DEEPGRAM_LANGUAGE" default:"en"`  // Language code (en, hi, es, etc.)

	// STTFlushTimeout bounds how long to wait for final transcripts after the
	// utterance has been fully written to the vendor socket (milliseconds).
	STTFlushTimeout int `envconfig:"STT_FLUSH_TIMEOUT" default:"3000"`
	// STTRepassConfidence triggers the language-constrained second pass when the
	// unconstrained pass scores below it in a different language than the hint.
	STTRepassConfidence float64 `envconfig:"STT_REPASS_CONFIDENCE" default:"0.55"`
	// STTLanguageHint is the language the re-pass is constrained to. Empty
	// disables the second pass.
	STTLanguageHint string `envconfig:"STT_LANGUAGE_HINT" default:""`

	// Cartesia TTS API configuration
	CartesiaAPIKey     string `envconfig:"CARTESIA_API_KEY" required:"true"`
	CartesiaVoiceID    string `envconfig:"CARTESIA_VOICE_ID" default:"sonic-english"` // Voice ID for Cartesia
	CartesiaModelID    string `envconfig:"CARTESIA_MODEL_ID" default:"sonic"`         // Model ID (sonic, etc.)
	CartesiaSampleRate int    `envconfig:"CARTESIA_SAMPLE_RATE" default:"44100"`      // Studio rate of synthesized audio

	// Reply backend (text in, reply text out)
	ReplyURL        string `envconfig:"REPLY_URL" default:"http://localhost:8081/v1/reply"`
	ReplyHealthAddr string `envconfig:"REPLY_HEALTH_ADDR" default:""` // gRPC health endpoint (host:port); empty disables the probe
	ReplyTimeout    int    `envconfig:"REPLY_TIMEOUT" default:"30"`   // seconds
	ReplyModel      string `envconfig:"REPLY_MODEL" default:""`       // Optional model override passed through to the backend

	// Audio processing configuration
	AudioBufferSize   int    `envconfig:"AUDIO_BUFFER_SIZE" default:"32768"`  // Local playback ring buffer size in bytes
	FrameDuration     int    `envconfig:"FRAME_DURATION_MS" default:"20"`     // Inbound frame slicing for the local device (ms)
	FFmpegPath        string `envconfig:"FFMPEG_PATH" default:"ffmpeg"`       // Media converter binary
	TranscodeTimeout  int    `envconfig:"TRANSCODE_TIMEOUT" default:"10"`     // seconds
	FallbackSilenceMs int    `envconfig:"FALLBACK_SILENCE_MS" default:"100"`  // Silence substituted on transcode failure (ms)
	DeviceSampleRate  int    `envconfig:"DEVICE_SAMPLE_RATE" default:"16000"` // Local capture/playback rate (Hz)

	// Voice activity detection
	VADAggressiveness  int     `envconfig:"VAD_AGGRESSIVENESS" default:"2"`      // Classifier mode: 0 (permissive) to 3 (strict)
	VADEnergyThreshold float64 `envconfig:"VAD_ENERGY_THRESHOLD" default:"0.01"` // RMS fallback threshold on a [-1,1] signal

	// Barge-in tuning
	InterruptThreshold    float64 `envconfig:"INTERRUPT_THRESHOLD" default:"0.35"`    // Speech share of the rolling window
	InterruptMinSpeechMs  int     `envconfig:"INTERRUPT_MIN_SPEECH_MS" default:"300"` // Sustained speech before firing (ms)
	InterruptOnsetGapMs   int     `envconfig:"INTERRUPT_ONSET_GAP_MS" default:"200"`  // Gap that resets the onset timer (ms)
	InterruptWindowMs     int     `envconfig:"INTERRUPT_WINDOW_MS" default:"800"`     // Rolling activity window length (ms)

	// Session behavior
	MaxSilenceMs      int `envconfig:"MAX_SILENCE_MS" default:"1000"`     // Silence that closes an utterance (ms)
	InboundQueueSize  int `envconfig:"INBOUND_QUEUE_SIZE" default:"100"`  // Inbound frame channel capacity
	PlaybackQueueSize int `envconfig:"PLAYBACK_QUEUE_SIZE" default:"16"`  // Pending PlaybackRequest capacity
	PollIntervalMs    int `envconfig:"POLL_INTERVAL_MS" default:"100"`    // Consumer loop housekeeping tick (ms)

	// Playback
	PlaybackChunkMs  int `envconfig:"PLAYBACK_CHUNK_MS" default:"120"`    // Chunk duration for streamed speech (ms)
	PlaybackMaxAgeMs int `envconfig:"PLAYBACK_MAX_AGE_MS" default:"5000"` // Requests older than this are dropped (ms)

	// Resilience configuration
	CircuitBreakerMaxFailures  int `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`   // Failures before opening circuit
	CircuitBreakerResetTimeout int `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30"` // Seconds before attempting recovery
	RetryMaxAttempts           int `envconfig:"RETRY_MAX_ATTEMPTS" default:"3"`             // Maximum retry attempts
	RetryInitialBackoff        int `envconfig:"RETRY_INITIAL_BACKOFF" default:"100"`        // Initial backoff in milliseconds
	ReconnectMaxAttempts       int `envconfig:"RECONNECT_MAX_ATTEMPTS" default:"5"`         // Maximum reconnection attempts
	ReconnectBackoff           int `envconfig:"RECONNECT_BACKOFF" default:"1000"`           // Reconnection backoff in milliseconds

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`       // Log level: debug, info, warn, error
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`     // Pretty print logs (for development)
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"` // Enable Prometheus metrics
}

// Load reads configuration from environment variables
// It first attempts to load from .env file if it exists, then from environment
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// LoadFromEnv loads configuration directly from environment variables
// without attempting to load .env file (useful for containerized deployments)
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// validate checks constraints envconfig tags cannot express
func (c *Config) validate() error {
	if c.DeepgramAPIKey == "" {
		return fmt.Errorf("DEEPGRAM_API_KEY is required")
	}
	if c.CartesiaAPIKey == "" {
		return fmt.Errorf("CARTESIA_API_KEY is required")
	}
	if c.VADAggressiveness < 0 || c.VADAggressiveness > 3 {
		return fmt.Errorf("VAD_AGGRESSIVENESS must be between 0 and 3, got %d", c.VADAggressiveness)
	}
	if c.InterruptThreshold <= 0 || c.InterruptThreshold > 1 {
		return fmt.Errorf("INTERRUPT_THRESHOLD must be in (0,1], got %f", c.InterruptThreshold)
	}
	if c.PlaybackChunkMs <= 0 {
		return fmt.Errorf("PLAYBACK_CHUNK_MS must be positive, got %d", c.PlaybackChunkMs)
	}
	return nil
}

// GetEnv returns the value of an environment variable or a default value
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
