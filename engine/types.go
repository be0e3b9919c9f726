// Package engine holds the contract use-cases. Each engine turns one request
// into a sequence of assistant conversation turns and merges the replies.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/fabfab/contract-assistant/ingestion"
	"github.com/fabfab/contract-assistant/llm"
)

type UseCase string

const (
	UseCaseSummarization  UseCase = "summarization"
	UseCaseAuthoring      UseCase = "authoring"
	UseCaseComparison     UseCase = "comparison"
	UseCaseSpendAnalytics UseCase = "spend-analytics"
	UseCaseConversational UseCase = "conversational"
)

// UseCases lists every use-case in a stable order.
var UseCases = []UseCase{
	UseCaseSummarization,
	UseCaseAuthoring,
	UseCaseComparison,
	UseCaseSpendAnalytics,
	UseCaseConversational,
}

func ParseUseCase(s string) (UseCase, error) {
	for _, uc := range UseCases {
		if strings.EqualFold(s, string(uc)) {
			return uc, nil
		}
	}
	return "", fmt.Errorf("unknown use case %q", s)
}

// Request is the union of inputs accepted by the engines. Base64 payloads are
// carried as received.
type Request struct {
	ContractPDF       string `json:"contract_pdf,omitempty"`
	MasterContractPDF string `json:"master_contract_pdf,omitempty"`
	ThreadID          string `json:"thread_id,omitempty"`
	UserQuery         string `json:"user_query,omitempty"`
	ContractType      string `json:"contract_type,omitempty"`
	UserPrompt        string `json:"user_prompt,omitempty"`
}

// Result is what every engine returns. ThreadID is nil only when no
// conversation was established.
type Result struct {
	Response string  `json:"response"`
	ThreadID *string `json:"thread_id"`
}

func newResult(response, threadID string) Result {
	r := Result{Response: response}
	if threadID != "" {
		r.ThreadID = &threadID
	}
	return r
}

type Engine interface {
	GenerateResult(ctx context.Context, req Request) (Result, error)
}

// TextExtractor recovers plain text from a base64 document payload.
type TextExtractor interface {
	ExtractBase64(ctx context.Context, encoded string) (ingestion.Document, error)
}

// Deps are the collaborators shared by all engines.
type Deps struct {
	Conversation        llm.Conversation
	Extractor           TextExtractor
	SentenceChunker     ingestion.Chunker
	TokenChunker        ingestion.Chunker
	Ledger              ThreadLedger
	Logger              *slog.Logger
	TextLengthThreshold int
}

const DefaultTextLengthThreshold = 3000

func (d Deps) validate() error {
	var errs []error
	if d.Conversation == nil {
		errs = append(errs, errors.New("conversation client is required"))
	}
	if d.Extractor == nil {
		errs = append(errs, errors.New("text extractor is required"))
	}
	if d.SentenceChunker == nil {
		errs = append(errs, errors.New("sentence chunker is required"))
	}
	if d.TokenChunker == nil {
		errs = append(errs, errors.New("token chunker is required"))
	}
	return errors.Join(errs...)
}

// base carries the behaviour every engine shares: follow-up turns and
// document extraction.
type base struct {
	useCase   UseCase
	conv      llm.Conversation
	extractor TextExtractor
	logger    *slog.Logger
}

func newBase(useCase UseCase, d Deps) base {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return base{
		useCase:   useCase,
		conv:      guard(d.Conversation, d.Ledger, useCase, logger),
		extractor: d.Extractor,
		logger:    logger.With("use_case", string(useCase)),
	}
}

// followUp forwards the user's query to an existing thread.
func (b base) followUp(ctx context.Context, req Request) (Result, error) {
	threadID := strings.TrimSpace(req.ThreadID)
	query := strings.TrimSpace(req.UserQuery)
	if threadID == "" || query == "" {
		return Result{}, validationError("Both thread_id and user_query are required when no document is provided.", map[string]any{
			"thread_id":  "required",
			"user_query": "required",
		})
	}

	turn, err := b.conv.Continue(ctx, threadID, query)
	if err != nil {
		return Result{}, classify(err, "Failed to generate response from the assistant for the follow-up conversation.")
	}
	b.logger.Info("follow-up answered", "thread_id", turn.ThreadID)
	return newResult(turn.Response, turn.ThreadID), nil
}

func (b base) extract(ctx context.Context, encoded, field string) (string, error) {
	doc, err := b.extractor.ExtractBase64(ctx, encoded)
	if err != nil {
		if errors.Is(err, ingestion.ErrUnsupportedFormat) {
			return "", classify(err, "")
		}
		if ctx.Err() != nil {
			return "", classify(ctx.Err(), "")
		}
		return "", &Error{
			Kind:    KindValidation,
			Message: "Could not read text from the uploaded document.",
			Details: map[string]any{field: "unreadable document"},
			Err:     err,
		}
	}
	if strings.TrimSpace(doc.Text) == "" {
		return "", validationError("No text could be extracted from the uploaded document.", map[string]any{field: "empty document"})
	}
	if len(doc.SkippedPages) > 0 {
		b.logger.Warn("document extracted with unreadable pages", "field", field, "skipped_pages", doc.SkippedPages)
	}
	return doc.Text, nil
}
