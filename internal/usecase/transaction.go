package usecase

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// Transaction runs steps in order and, when one fails, compensates the failed
// step and every step before it in reverse order. Compensations must tolerate
// a step that was only partially applied.
type Transaction struct {
	steps  []step
	logger *zap.Logger
}

type step struct {
	name       string
	run        func(context.Context) error
	compensate func(context.Context) error
}

func NewTransaction(logger *zap.Logger) *Transaction {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Transaction{logger: logger}
}

// AddStep registers an operation and its optional compensation.
func (t *Transaction) AddStep(name string, run, compensate func(context.Context) error) {
	t.steps = append(t.steps, step{name: name, run: run, compensate: compensate})
}

func (t *Transaction) Execute(ctx context.Context) error {
	for i, s := range t.steps {
		if err := s.run(ctx); err != nil {
			rbErr := t.rollback(ctx, i)
			return errors.Join(
				fmt.Errorf("operation '%s' failed: %w (rolled back %d operations)", s.name, err, i+1),
				rbErr,
			)
		}
	}
	return nil
}

func (t *Transaction) rollback(ctx context.Context, failedAt int) error {
	var errs []error
	for i := failedAt; i >= 0; i-- {
		s := t.steps[i]
		if s.compensate == nil {
			continue
		}
		if err := s.compensate(ctx); err != nil {
			t.logger.Warn("compensation failed, inconsistency risk",
				zap.String("step", s.name), zap.Error(err))
			errs = append(errs, fmt.Errorf("compensation '%s': %w", s.name, err))
		}
	}
	return errors.Join(errs...)
}
