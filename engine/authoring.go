package engine

import (
	"context"
	"fmt"
	"slices"
	"strings"
)

// ContractType names an authoring template.
type ContractType string

const ContractTypeCustom ContractType = "Custom"

// authoringStrategy produces the first prompt for one contract type.
type authoringStrategy func(req Request) (string, error)

var authoringStrategies = map[ContractType]authoringStrategy{
	ContractTypeCustom: func(req Request) (string, error) {
		prompt := strings.TrimSpace(req.UserPrompt)
		if prompt == "" {
			return "", validationError("If contract_type is Custom, user_prompt must be provided.", map[string]any{"user_prompt": "required"})
		}
		return customContractPrompt(prompt), nil
	},
}

// ContractTypes returns the registered contract types, sorted.
func ContractTypes() []string {
	out := make([]string, 0, len(authoringStrategies))
	for ct := range authoringStrategies {
		out = append(out, string(ct))
	}
	slices.Sort(out)
	return out
}

// Authoring drafts a new contract from the user's input and a template.
type Authoring struct {
	base
}

func NewAuthoring(d Deps) *Authoring {
	return &Authoring{base: newBase(UseCaseAuthoring, d)}
}

func (a *Authoring) GenerateResult(ctx context.Context, req Request) (Result, error) {
	if req.ContractType == "" {
		return a.followUp(ctx, req)
	}

	strategy, ok := authoringStrategies[ContractType(req.ContractType)]
	if !ok {
		return Result{}, validationError(fmt.Sprintf("Unsupported contract type: %s", req.ContractType), map[string]any{
			"contract_type": req.ContractType,
			"supported":     ContractTypes(),
		})
	}

	prompt, err := strategy(req)
	if err != nil {
		return Result{}, err
	}

	turn, err := a.conv.Start(ctx, prompt)
	if err != nil {
		return Result{}, classify(err, "Failed to generate the contract.")
	}
	a.logger.Info("contract drafted", "contract_type", req.ContractType, "thread_id", turn.ThreadID)
	return newResult(turn.Response, turn.ThreadID), nil
}
