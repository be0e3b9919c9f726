package engine

import (
	"context"

	"github.com/fabfab/contract-assistant/ingestion"
)

// SpendAnalytics looks for revenue leakage chunk by chunk against a fixed
// checklist of leakage points. Every chunk goes through the chain, whatever
// the document size.
type SpendAnalytics struct {
	base
	chunker ingestion.Chunker
}

func NewSpendAnalytics(d Deps) *SpendAnalytics {
	return &SpendAnalytics{
		base:    newBase(UseCaseSpendAnalytics, d),
		chunker: d.SentenceChunker,
	}
}

func (s *SpendAnalytics) GenerateResult(ctx context.Context, req Request) (Result, error) {
	if req.ContractPDF == "" {
		return s.followUp(ctx, req)
	}

	text, err := s.extract(ctx, req.ContractPDF, "contract_pdf")
	if err != nil {
		return Result{}, err
	}

	state, err := foldChunks(ctx, s.conv, s.logger, "", s.chunker.Chunks(text), plain(revenueLeakagePrompt))
	if err != nil {
		return Result{}, classify(err, "Failed to identify revenue leakages in the contract.")
	}

	s.logger.Info("revenue leakage analysed", "turns", len(state.Responses), "thread_id", state.ThreadID)
	return newResult(state.merged(), state.ThreadID), nil
}
