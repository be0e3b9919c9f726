package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/fabfab/contract-assistant/config"
)

// Turn is the outcome of one conversation round trip.
type Turn struct {
	ThreadID string
	Response string
}

// Conversation drives a hosted assistant thread. Start opens a new thread with
// the query as its first user message; Continue appends to an existing one.
type Conversation interface {
	Start(ctx context.Context, query string) (Turn, error)
	Continue(ctx context.Context, threadID, query string) (Turn, error)
}

var (
	// ErrRunTimeout means the run was still pending when the polling budget ran out.
	ErrRunTimeout = errors.New("assistant run did not complete in time")
	// ErrEmptyResponse means the thread had no text reply after a completed run.
	ErrEmptyResponse = errors.New("assistant returned no text response")
)

// RunFailedError reports a run that reached a terminal state other than completed.
type RunFailedError struct {
	RunID   string
	Status  string
	Code    string
	Message string
}

func (e *RunFailedError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("assistant run %s ended with status %s", e.RunID, e.Status)
	}
	return fmt.Sprintf("assistant run %s ended with status %s: %s (%s)", e.RunID, e.Status, e.Message, e.Code)
}

// StatusCode extracts the upstream HTTP status from an API error, or 0.
func StatusCode(err error) int {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return 0
}

// IsRateLimited reports whether err carries an upstream 429.
func IsRateLimited(err error) bool {
	return StatusCode(err) == http.StatusTooManyRequests
}

type PollOptions struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxAttempts     int
	Timeout         time.Duration
}

type Options struct {
	Provider    string
	APIKey      string
	BaseURL     string
	APIVersion  string
	AssistantID string
	Poll        PollOptions
	HTTPClient  *http.Client
}

// NewClient builds the assistant conversation client described by cfg.
func NewClient(cfg config.Config, logger *slog.Logger) (*AssistantClient, error) {
	opts := Options{
		Provider:    cfg.LLM.Provider,
		APIKey:      cfg.LLM.APIKey,
		BaseURL:     cfg.LLM.BaseURL,
		APIVersion:  cfg.LLM.APIVersion,
		AssistantID: cfg.LLM.AssistantID,
		Poll: PollOptions{
			InitialInterval: cfg.Polling.InitialInterval,
			MaxInterval:     cfg.Polling.MaxInterval,
			MaxAttempts:     cfg.Polling.MaxAttempts,
			Timeout:         cfg.Polling.Timeout,
		},
	}
	return NewAssistantClient(opts, logger)
}
