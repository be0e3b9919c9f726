package engine

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/fabfab/contract-assistant/ingestion"
)

// Comparison extracts the contract parameters of a contract and a master
// contract on one thread, then asks for a comparison on that same thread.
type Comparison struct {
	base
	chunker ingestion.Chunker
}

func NewComparison(d Deps) *Comparison {
	return &Comparison{
		base:    newBase(UseCaseComparison, d),
		chunker: d.TokenChunker,
	}
}

func (c *Comparison) GenerateResult(ctx context.Context, req Request) (Result, error) {
	if req.ContractPDF == "" || req.MasterContractPDF == "" {
		// A lone document next to thread_id and user_query is a follow-up.
		if (req.ContractPDF != "" || req.MasterContractPDF != "") && (req.ThreadID == "" || req.UserQuery == "") {
			return Result{}, validationError("Both contract_pdf and master_contract_pdf are required for a comparison.", map[string]any{
				"contract_pdf":        presence(req.ContractPDF),
				"master_contract_pdf": presence(req.MasterContractPDF),
			})
		}
		return c.followUp(ctx, req)
	}

	start := time.Now()

	// Extraction has no conversation dependency, so both documents are read
	// concurrently. Conversation turns below stay strictly sequential.
	var contractText, masterText string
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		contractText, err = c.extract(gctx, req.ContractPDF, "contract_pdf")
		return err
	})
	g.Go(func() (err error) {
		masterText, err = c.extract(gctx, req.MasterContractPDF, "master_contract_pdf")
		return err
	})
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	contractDetails, err := foldChunks(ctx, c.conv, c.logger.With("document", "contract"), "", c.chunker.Chunks(contractText), contractInfoExtractionPrompt)
	if err != nil {
		return Result{}, classify(err, "An error occurred during contract details extraction.")
	}

	masterDetails, err := foldChunks(ctx, c.conv, c.logger.With("document", "master_contract"), contractDetails.ThreadID, c.chunker.Chunks(masterText), contractInfoExtractionPrompt)
	if err != nil {
		return Result{}, classify(err, "An error occurred during contract details extraction.")
	}

	final, err := chainState{ThreadID: masterDetails.ThreadID}.turn(ctx, c.conv, compareStandardsPrompt(contractDetails.merged(), masterDetails.merged()))
	if err != nil {
		return Result{}, classify(err, "An error occurred during standard comparison.")
	}

	c.logger.Info("contracts compared",
		"contract_chunks", len(contractDetails.Responses),
		"master_chunks", len(masterDetails.Responses),
		"thread_id", final.ThreadID,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return newResult(final.merged(), final.ThreadID), nil
}

func presence(v string) string {
	if v == "" {
		return "required"
	}
	return "provided"
}
