package engine

import (
	"context"
	"iter"
	"log/slog"
	"strings"

	"github.com/fabfab/contract-assistant/ingestion"
	"github.com/fabfab/contract-assistant/llm"
)

type Strategy int

const (
	// StrategySmall sends the whole document in a single turn.
	StrategySmall Strategy = iota
	// StrategyLarge chunks the document and chains one turn per chunk.
	StrategyLarge
)

func (s Strategy) String() string {
	if s == StrategyLarge {
		return "large"
	}
	return "small"
}

// SelectStrategy picks StrategyLarge when text has more than threshold words.
func SelectStrategy(text string, threshold int) Strategy {
	if ingestion.WordCount(text) > threshold {
		return StrategyLarge
	}
	return StrategySmall
}

// chainState is the accumulator of a chunk fold: the replies so far and the
// thread they were produced on.
type chainState struct {
	Responses []string
	ThreadID  string
}

func (s chainState) merged() string {
	return strings.Join(s.Responses, " ")
}

// turn sends prompt on the chain's thread, opening it first when needed.
func (s chainState) turn(ctx context.Context, conv llm.Conversation, prompt string) (chainState, error) {
	var (
		t   llm.Turn
		err error
	)
	if s.ThreadID == "" {
		t, err = conv.Start(ctx, prompt)
	} else {
		t, err = conv.Continue(ctx, s.ThreadID, prompt)
	}
	if err != nil {
		return s, err
	}

	next := chainState{ThreadID: s.ThreadID, Responses: append(s.Responses[:len(s.Responses):len(s.Responses)], t.Response)}
	if next.ThreadID == "" {
		next.ThreadID = t.ThreadID
	}
	return next, nil
}

// foldChunks runs one turn per chunk, in order, on a single thread. The first
// chunk opens the thread unless state already carries one. Replies for this
// fold only are collected in the returned state's Responses.
func foldChunks(ctx context.Context, conv llm.Conversation, logger *slog.Logger, threadID string, chunks iter.Seq[string], render func(string) (string, error)) (chainState, error) {
	state := chainState{ThreadID: threadID}
	index := 0
	for chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return state, err
		}
		prompt, err := render(chunk)
		if err != nil {
			return state, err
		}
		state, err = state.turn(ctx, conv, prompt)
		if err != nil {
			logger.Warn("chunk turn failed", "chunk_index", index, "thread_id", state.ThreadID, "err", err)
			return state, err
		}
		logger.Debug("chunk turn completed", "chunk_index", index, "thread_id", state.ThreadID)
		index++
	}
	return state, nil
}

func plain(render func(string) string) func(string) (string, error) {
	return func(s string) (string, error) { return render(s), nil }
}
