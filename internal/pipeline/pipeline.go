// Package pipeline runs named steps strictly in sequence.
package pipeline

import (
	"context"

	apperrors "psadiag/internal/errors"
	"psadiag/internal/logger"
)

// Step describes a single phase.
type Step struct {
	Name      string
	Operation string
	Category  apperrors.ErrorCategory
	Fn        func(ctx context.Context) error
}

// Observer is told when steps start and end. Console spinners and status
// lines implement it.
type Observer interface {
	StepStarted(step Step)
	StepDone(step Step)
	StepFailed(step Step, err error)
}

// StepErrorHandler turns a step failure into the error returned by Execute.
type StepErrorHandler func(step Step, err error) error

// Pipeline executes steps sequentially, stopping at the first failure.
type Pipeline struct {
	steps    []Step
	observer Observer
	logger   logger.Logger
	onError  StepErrorHandler
}

// New constructs a pipeline. observer and handler may be nil.
func New(log logger.Logger, steps []Step, observer Observer, handler StepErrorHandler) *Pipeline {
	return &Pipeline{
		steps:    steps,
		observer: observer,
		logger:   log,
		onError:  handler,
	}
}

// Execute runs the steps. A cancelled ctx stops before the next step.
func (p *Pipeline) Execute(ctx context.Context) error {
	for _, step := range p.steps {
		if err := ctx.Err(); err != nil {
			return p.failed(step, err)
		}

		if p.logger != nil {
			p.logger.Debug("Executing step: %s", step.Name)
		}
		if p.observer != nil {
			p.observer.StepStarted(step)
		}

		if err := step.Fn(ctx); err != nil {
			return p.failed(step, err)
		}

		if p.observer != nil {
			p.observer.StepDone(step)
		}
	}

	return nil
}

func (p *Pipeline) failed(step Step, err error) error {
	if p.observer != nil {
		p.observer.StepFailed(step, err)
	}
	if p.onError != nil {
		return p.onError(step, err)
	}
	return err
}

// WrapStepError is a StepErrorHandler that converts plain errors into an
// AppError of the step's category, leaving AppErrors untouched.
func WrapStepError(step Step, err error) error {
	if _, ok := apperrors.As(err); ok {
		return err
	}
	category := step.Category
	if category == "" {
		category = apperrors.ErrCategorySystem
	}
	return apperrors.New(category, genericCode(category), step.Name+" failed", err).
		WithOperation(step.Operation)
}

func genericCode(category apperrors.ErrorCategory) string {
	switch category {
	case apperrors.ErrCategoryNetwork:
		return apperrors.CodeNetworkGeneric
	case apperrors.ErrCategoryFilesystem:
		return apperrors.CodeFilesystemGeneric
	case apperrors.ErrCategoryExtraction:
		return apperrors.CodeExtractionGeneric
	case apperrors.ErrCategoryProcess:
		return apperrors.CodeProcessGeneric
	case apperrors.ErrCategoryUpdate:
		return apperrors.CodeUpdateGeneric
	case apperrors.ErrCategoryConfig:
		return apperrors.CodeConfigGeneric
	case apperrors.ErrCategoryValidation:
		return apperrors.CodeValidationGeneric
	case apperrors.ErrCategoryDatabase:
		return apperrors.CodeDatabaseGeneric
	default:
		return apperrors.CodeSystemGeneric
	}
}
