package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/UniversalLevi/AI-Calling-Agent-sub000/internal/config"
	"github.com/UniversalLevi/AI-Calling-Agent-sub000/internal/observability"
	"github.com/UniversalLevi/AI-Calling-Agent-sub000/internal/resilience"
)

// Cartesia implements Synthesizer against Cartesia's HTTP TTS API. Responses
// are MP3 at the configured studio sample rate; the pipeline transcodes them
// down to the transport's format.
type Cartesia struct {
	apiKey      string
	apiURL      string
	voiceID     string
	modelID     string
	sampleRate  int
	httpClient  *http.Client
	retryConfig *resilience.RetryConfig
}

// synthesisRequest is the Cartesia TTS request payload
type synthesisRequest struct {
	Text            string  `json:"text"`
	VoiceID         string  `json:"voice_id"`
	ModelID         string  `json:"model_id,omitempty"`
	OutputFormat    string  `json:"output_format,omitempty"`
	SampleRate      int     `json:"sample_rate,omitempty"`
	Speed           float64 `json:"speed,omitempty"`
	Stability       float64 `json:"stability,omitempty"`
	SimilarityBoost float64 `json:"similarity_boost,omitempty"`
}

// statusError carries a non-200 API status through the retry classifier
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	if e.body != "" {
		return fmt.Sprintf("tts API returned status %d: %s", e.code, e.body)
	}
	return fmt.Sprintf("tts API returned status %d", e.code)
}

// NewCartesia creates a Cartesia TTS client
func NewCartesia(cfg *config.Config) *Cartesia {
	return &Cartesia{
		apiKey:     cfg.CartesiaAPIKey,
		apiURL:     "https://api.cartesia.ai/v1/tts",
		voiceID:    cfg.CartesiaVoiceID,
		modelID:    cfg.CartesiaModelID,
		sampleRate: cfg.CartesiaSampleRate,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		retryConfig: &resilience.RetryConfig{
			MaxAttempts:       cfg.RetryMaxAttempts,
			InitialBackoff:    time.Duration(cfg.RetryInitialBackoff) * time.Millisecond,
			MaxBackoff:        5 * time.Second,
			BackoffMultiplier: 2.0,
			Jitter:            true,
		},
	}
}

// Synthesize converts text to MP3 audio, retrying transient failures
func (c *Cartesia) Synthesize(ctx context.Context, text, voice string) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("empty synthesis text")
	}
	if voice == "" {
		voice = c.voiceID
	}

	reqBody := synthesisRequest{
		Text:            text,
		VoiceID:         voice,
		ModelID:         c.modelID,
		OutputFormat:    "mp3",
		SampleRate:      c.sampleRate,
		Speed:           1.0,
		Stability:       0.5,
		SimilarityBoost: 0.75,
	}
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var audioData []byte
	err = resilience.Retry(ctx, func() error {
		data, reqErr := c.request(ctx, jsonData)
		if reqErr != nil {
			return reqErr
		}
		audioData = data
		return nil
	}, c.retryConfig, isRetryableSynthesisError)
	if err != nil {
		return nil, err
	}

	logger := observability.GetLogger()
	logger.Debug().
		Int("bytes", len(audioData)).
		Str("voice", voice).
		Msg("Synthesized reply audio")

	return audioData, nil
}

func (c *Cartesia) request(ctx context.Context, jsonData []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach TTS API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &statusError{code: resp.StatusCode, body: strings.TrimSpace(string(snippet))}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio response: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("tts API returned empty audio")
	}
	return data, nil
}

// isRetryableSynthesisError treats rate limiting, server errors, and
// transient network failures as retryable; other API rejections are permanent
func isRetryableSynthesisError(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.code == http.StatusTooManyRequests || se.code >= 500
	}
	return resilience.IsRetryableNetworkError(err)
}
