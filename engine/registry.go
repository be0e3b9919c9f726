package engine

import (
	"context"
	"fmt"
)

// Registry maps each use-case to its engine.
type Registry map[UseCase]Engine

// NewRegistry wires every engine with the shared dependencies.
func NewRegistry(d Deps) (Registry, error) {
	if err := d.validate(); err != nil {
		return nil, fmt.Errorf("engine dependencies: %w", err)
	}
	return Registry{
		UseCaseSummarization:  NewSummarization(d),
		UseCaseAuthoring:      NewAuthoring(d),
		UseCaseComparison:     NewComparison(d),
		UseCaseSpendAnalytics: NewSpendAnalytics(d),
		UseCaseConversational: NewConversational(d),
	}, nil
}

// Run dispatches req to the engine registered for useCase.
func (r Registry) Run(ctx context.Context, useCase UseCase, req Request) (Result, error) {
	e, ok := r[useCase]
	if !ok {
		return Result{}, validationError(fmt.Sprintf("Unsupported use case: %s", useCase), nil)
	}
	return e.GenerateResult(ctx, req)
}
