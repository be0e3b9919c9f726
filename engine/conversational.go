package engine

import "context"

// Conversational opens a Q&A thread seeded with the full contract text.
type Conversational struct {
	base
}

func NewConversational(d Deps) *Conversational {
	return &Conversational{base: newBase(UseCaseConversational, d)}
}

func (c *Conversational) GenerateResult(ctx context.Context, req Request) (Result, error) {
	if req.ContractPDF == "" {
		return c.followUp(ctx, req)
	}

	text, err := c.extract(ctx, req.ContractPDF, "contract_pdf")
	if err != nil {
		return Result{}, err
	}

	turn, err := c.conv.Start(ctx, conversationalPrompt(text, req.UserQuery))
	if err != nil {
		return Result{}, classify(err, "Failed to start the contract conversation.")
	}
	c.logger.Info("contract conversation started", "thread_id", turn.ThreadID)
	return newResult(turn.Response, turn.ThreadID), nil
}
