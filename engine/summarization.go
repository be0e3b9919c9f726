package engine

import (
	"context"
	"time"

	"github.com/fabfab/contract-assistant/ingestion"
)

// Summarization summarises a contract in one turn, or chunk by chunk on a
// single thread when the contract is longer than the threshold.
type Summarization struct {
	base
	chunker   ingestion.Chunker
	threshold int
}

func NewSummarization(d Deps) *Summarization {
	threshold := d.TextLengthThreshold
	if threshold <= 0 {
		threshold = DefaultTextLengthThreshold
	}
	return &Summarization{
		base:      newBase(UseCaseSummarization, d),
		chunker:   d.SentenceChunker,
		threshold: threshold,
	}
}

func (s *Summarization) GenerateResult(ctx context.Context, req Request) (Result, error) {
	if req.ContractPDF == "" {
		return s.followUp(ctx, req)
	}

	text, err := s.extract(ctx, req.ContractPDF, "contract_pdf")
	if err != nil {
		return Result{}, err
	}

	start := time.Now()
	strategy := SelectStrategy(text, s.threshold)
	s.logger.Info("summarizing contract", "strategy", strategy.String(), "words", ingestion.WordCount(text))

	var state chainState
	switch strategy {
	case StrategyLarge:
		state, err = foldChunks(ctx, s.conv, s.logger, "", s.chunker.Chunks(text), plain(chunkSummaryPrompt))
	default:
		state, err = state.turn(ctx, s.conv, smallSummaryPrompt(text))
	}
	if err != nil {
		return Result{}, classify(err, "Failed to generate the contract summary.")
	}

	s.logger.Info("contract summarized",
		"strategy", strategy.String(),
		"turns", len(state.Responses),
		"thread_id", state.ThreadID,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return newResult(state.merged(), state.ThreadID), nil
}
