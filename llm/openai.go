package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	openai "github.com/sashabaranov/go-openai"

	"github.com/fabfab/contract-assistant/config"
)

const (
	defaultPollInitial     = 500 * time.Millisecond
	defaultPollMaxInterval = 5 * time.Second
	defaultPollAttempts    = 120
	defaultPollTimeout     = 3 * time.Minute
)

var errRunPending = errors.New("assistant run still pending")

// AssistantClient implements Conversation on top of the OpenAI / Azure OpenAI
// Assistants API (threads, messages, runs).
type AssistantClient struct {
	client      *openai.Client
	assistantID string
	poll        PollOptions
	logger      *slog.Logger
}

var _ Conversation = (*AssistantClient)(nil)

func NewAssistantClient(opts Options, logger *slog.Logger) (*AssistantClient, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.APIKey == "" {
		return nil, fmt.Errorf("%s provider selected but OPENAI_API_KEY not set", opts.Provider)
	}

	var cfg openai.ClientConfig
	switch opts.Provider {
	case config.ProviderOpenAI, "":
		cfg = openai.DefaultConfig(opts.APIKey)
		if opts.BaseURL != "" {
			cfg.BaseURL = opts.BaseURL
		}
	case config.ProviderAzure:
		if opts.BaseURL == "" {
			return nil, fmt.Errorf("azure provider selected but OPENAI_BASE_URL not set")
		}
		cfg = openai.DefaultAzureConfig(opts.APIKey, opts.BaseURL)
		if opts.APIVersion != "" {
			cfg.APIVersion = opts.APIVersion
		}
	default:
		return nil, fmt.Errorf("unknown llm provider: %s", opts.Provider)
	}
	if opts.HTTPClient != nil {
		cfg.HTTPClient = opts.HTTPClient
	}

	return &AssistantClient{
		client:      openai.NewClientWithConfig(cfg),
		assistantID: opts.AssistantID,
		poll:        withPollDefaults(opts.Poll),
		logger:      logger,
	}, nil
}

func withPollDefaults(p PollOptions) PollOptions {
	if p.InitialInterval <= 0 {
		p.InitialInterval = defaultPollInitial
	}
	if p.MaxInterval <= 0 {
		p.MaxInterval = defaultPollMaxInterval
	}
	if p.MaxInterval < p.InitialInterval {
		p.MaxInterval = p.InitialInterval
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = defaultPollAttempts
	}
	if p.Timeout <= 0 {
		p.Timeout = defaultPollTimeout
	}
	return p
}

func (c *AssistantClient) Start(ctx context.Context, query string) (Turn, error) {
	if err := c.requireAssistant(); err != nil {
		return Turn{}, err
	}

	thread, err := c.client.CreateThread(ctx, openai.ThreadRequest{
		Messages: []openai.ThreadMessage{{
			Role:    openai.ThreadMessageRoleUser,
			Content: query,
		}},
	})
	if err != nil {
		return Turn{}, fmt.Errorf("create assistant thread: %w", err)
	}
	c.logger.Debug("assistant thread created", "thread_id", thread.ID)

	return c.run(ctx, thread.ID)
}

func (c *AssistantClient) Continue(ctx context.Context, threadID, query string) (Turn, error) {
	if err := c.requireAssistant(); err != nil {
		return Turn{}, err
	}
	if threadID == "" {
		return Turn{}, errors.New("thread id is required to continue a conversation")
	}

	if _, err := c.client.CreateMessage(ctx, threadID, openai.MessageRequest{
		Role:    string(openai.ThreadMessageRoleUser),
		Content: query,
	}); err != nil {
		return Turn{}, fmt.Errorf("add message to thread %s: %w", threadID, err)
	}

	return c.run(ctx, threadID)
}

// CreateAssistant provisions a new assistant and returns its id.
func (c *AssistantClient) CreateAssistant(ctx context.Context, name, instructions, model string) (string, error) {
	req := openai.AssistantRequest{Model: model}
	if name != "" {
		req.Name = &name
	}
	if instructions != "" {
		req.Instructions = &instructions
	}

	assistant, err := c.client.CreateAssistant(ctx, req)
	if err != nil {
		return "", fmt.Errorf("create assistant: %w", err)
	}
	return assistant.ID, nil
}

func (c *AssistantClient) requireAssistant() error {
	if c.assistantID == "" {
		return errors.New("assistant id not configured, set ASSISTANT_ID")
	}
	return nil
}

func (c *AssistantClient) run(ctx context.Context, threadID string) (Turn, error) {
	start := time.Now()

	run, err := c.client.CreateRun(ctx, threadID, openai.RunRequest{AssistantID: c.assistantID})
	if err != nil {
		return Turn{}, fmt.Errorf("create run on thread %s: %w", threadID, err)
	}

	polls, err := c.waitForRun(ctx, threadID, run.ID)
	if err != nil {
		c.logger.Warn("assistant run did not complete",
			"thread_id", threadID,
			"run_id", run.ID,
			"polls", polls,
			"elapsed_ms", time.Since(start).Milliseconds(),
			"err", err,
		)
		return Turn{}, err
	}

	response, err := c.latestReply(ctx, threadID)
	if err != nil {
		return Turn{}, err
	}

	c.logger.Info("assistant run completed",
		"thread_id", threadID,
		"run_id", run.ID,
		"polls", polls,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return Turn{ThreadID: threadID, Response: response}, nil
}

// waitForRun polls the run with exponential backoff until it completes, fails,
// or the attempt and time budget is spent.
func (c *AssistantClient) waitForRun(ctx context.Context, threadID, runID string) (int, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.poll.InitialInterval
	b.MaxInterval = c.poll.MaxInterval
	b.Multiplier = 1.5
	b.MaxElapsedTime = c.poll.Timeout

	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.poll.MaxAttempts-1)), ctx)

	polls := 0
	err := backoff.Retry(func() error {
		polls++
		run, err := c.client.RetrieveRun(ctx, threadID, runID)
		if err != nil {
			if transient(err) {
				return err
			}
			return backoff.Permanent(fmt.Errorf("retrieve run %s: %w", runID, err))
		}

		switch run.Status {
		case openai.RunStatusCompleted:
			return nil
		case openai.RunStatusQueued, openai.RunStatusInProgress, openai.RunStatusCancelling:
			return errRunPending
		default:
			failed := &RunFailedError{RunID: runID, Status: string(run.Status)}
			if run.LastError != nil {
				failed.Code = string(run.LastError.Code)
				failed.Message = run.LastError.Message
			}
			return backoff.Permanent(failed)
		}
	}, policy)

	switch {
	case err == nil:
		return polls, nil
	case errors.Is(err, errRunPending):
		return polls, fmt.Errorf("run %s after %d polls: %w", runID, polls, ErrRunTimeout)
	case ctx.Err() != nil:
		return polls, fmt.Errorf("wait for run %s: %w", runID, ctx.Err())
	case transient(err):
		return polls, fmt.Errorf("retrieve run %s: %w", runID, err)
	default:
		return polls, err
	}
}

func transient(err error) bool {
	code := StatusCode(err)
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}

func (c *AssistantClient) latestReply(ctx context.Context, threadID string) (string, error) {
	limit := 1
	order := "desc"
	list, err := c.client.ListMessage(ctx, threadID, &limit, &order, nil, nil, nil)
	if err != nil {
		return "", fmt.Errorf("list messages on thread %s: %w", threadID, err)
	}
	if len(list.Messages) == 0 {
		return "", ErrEmptyResponse
	}

	for _, content := range list.Messages[0].Content {
		if content.Text != nil {
			return content.Text.Value, nil
		}
	}
	return "", ErrEmptyResponse
}
