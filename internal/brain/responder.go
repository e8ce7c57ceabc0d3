package brain

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

// Responder produces the bot's next line for a transcribed utterance. The
// reply backend is an opaque service: prompt content, retrieval, and tool
// use all live on the other side of this contract.
type Responder interface {
	Respond(ctx context.Context, conversationID, text, language string) (string, error)
}

// replyRequest is the reply backend's JSON request payload
type replyRequest struct {
	ConversationID string `json:"conversation_id"`
	Text           string `json:"text"`
	Language       string `json:"language,omitempty"`
	Model          string `json:"model,omitempty"`
}

// replyResponse is the reply backend's JSON response payload
type replyResponse struct {
	Reply string `json:"reply"`
}

// replyStatusError carries a non-200 backend status through the retry classifier
type replyStatusError struct {
	code int
	body string
}

func (e *replyStatusError) Error() string {
	if e.body != "" {
		return fmt.Sprintf("reply backend returned status %d: %s", e.code, e.body)
	}
	return fmt.Sprintf("reply backend returned status %d", e.code)
}

// Client is the HTTP implementation of Responder
type Client struct {
	url            string
	model          string
	httpClient     *http.Client
	circuitBreaker *resilience.CircuitBreaker
	retryConfig    *resilience.RetryConfig
}

// NewClient creates a reply backend client
func NewClient(cfg *config.Config) *Client {
	return &Client{
		url:        cfg.ReplyURL,
		model:      cfg.ReplyModel,
		httpClient: &http.Client{Timeout: time.Duration(cfg.ReplyTimeout) * time.Second},
		circuitBreaker: resilience.NewCircuitBreaker(
			"reply",
			cfg.CircuitBreakerMaxFailures,
			time.Duration(cfg.CircuitBreakerResetTimeout)*time.Second,
		),
		retryConfig: &resilience.RetryConfig{
			MaxAttempts:       cfg.RetryMaxAttempts,
			InitialBackoff:    time.Duration(cfg.RetryInitialBackoff) * time.Millisecond,
			MaxBackoff:        5 * time.Second,
			BackoffMultiplier: 2.0,
			Jitter:            true,
		},
	}
}

// Respond sends the utterance text to the reply backend and returns the
// bot's reply text
func (c *Client) Respond(ctx context.Context, conversationID, text, language string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("empty utterance text")
	}

	jsonData, err := json.Marshal(replyRequest{
		ConversationID: conversationID,
		Text:           text,
		Language:       language,
		Model:          c.model,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	var reply string
	err = c.circuitBreaker.Call(func() error {
		return resilience.Retry(ctx, func() error {
			r, reqErr := c.request(ctx, jsonData)
			if reqErr != nil {
				return reqErr
			}
			reply = r
			return nil
		}, c.retryConfig, isRetryableReplyError)
	})
	if err != nil {
		return "", err
	}

	logger := observability.GetLogger()
	logger.Debug().
		Str("conversation_id", conversationID).
		Int("reply_chars", len(reply)).
		Msg("Reply backend responded")

	return reply, nil
}

func (c *Client) request(ctx context.Context, jsonData []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to reach reply backend: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", &replyStatusError{code: resp.StatusCode, body: strings.TrimSpace(string(snippet))}
	}

	var parsed replyResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("failed to decode reply: %w", err)
	}
	if strings.TrimSpace(parsed.Reply) == "" {
		return "", fmt.Errorf("reply backend returned an empty reply")
	}
	return parsed.Reply, nil
}

func isRetryableReplyError(err error) bool {
	var se *replyStatusError
	if errors.As(err, &se) {
		return se.code == http.StatusTooManyRequests || se.code >= 500
	}
	return resilience.IsRetryableNetworkError(err)
}
