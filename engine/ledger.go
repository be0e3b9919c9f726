package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/fabfab/contract-assistant/llm"
)

// ThreadLedger remembers which use-case opened each conversation thread.
type ThreadLedger interface {
	Owner(ctx context.Context, threadID string) (useCase string, found bool, err error)
	Record(ctx context.Context, threadID, useCase string) error
}

// guardedConversation refuses to continue a thread that another use-case
// opened and records every turn in the ledger. Threads unknown to the ledger
// are allowed through.
type guardedConversation struct {
	next    llm.Conversation
	ledger  ThreadLedger
	useCase UseCase
	logger  *slog.Logger
}

func guard(conv llm.Conversation, ledger ThreadLedger, useCase UseCase, logger *slog.Logger) llm.Conversation {
	if ledger == nil || conv == nil {
		return conv
	}
	return &guardedConversation{next: conv, ledger: ledger, useCase: useCase, logger: logger}
}

func (g *guardedConversation) Start(ctx context.Context, query string) (llm.Turn, error) {
	turn, err := g.next.Start(ctx, query)
	if err != nil {
		return turn, err
	}
	g.record(ctx, turn.ThreadID)
	return turn, nil
}

func (g *guardedConversation) Continue(ctx context.Context, threadID, query string) (llm.Turn, error) {
	owner, found, err := g.ledger.Owner(ctx, threadID)
	if err != nil {
		return llm.Turn{}, fmt.Errorf("look up thread owner: %w", err)
	}
	if found && owner != string(g.useCase) {
		return llm.Turn{}, &Error{
			Kind:    KindConflict,
			Message: fmt.Sprintf("Thread %s belongs to the %s use case.", threadID, owner),
			Details: map[string]any{"thread_id": threadID, "use_case": owner},
		}
	}

	turn, err := g.next.Continue(ctx, threadID, query)
	if err != nil {
		return turn, err
	}
	g.record(ctx, turn.ThreadID)
	return turn, nil
}

// record failures are logged only; the turn has already happened upstream.
func (g *guardedConversation) record(ctx context.Context, threadID string) {
	if err := g.ledger.Record(ctx, threadID, string(g.useCase)); err != nil {
		g.logger.Warn("record thread turn", "thread_id", threadID, "err", err)
	}
}
