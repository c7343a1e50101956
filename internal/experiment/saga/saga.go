// Package saga runs an ordered list of stages and, when one fails, invokes the
// compensating action of every stage that ran, newest first.
package saga

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Stage is one local transaction of a chain.
type Stage[C any] interface {
	Name() string
	Process(ctx context.Context, c C) error
	Compensate(ctx context.Context, c C, failure *MiddlewareError)
}

// MiddlewareError is the failure of one chain run. Stage names the stage whose
// Process returned Err. RollbackErrs collects compensation failures.
type MiddlewareError struct {
	Stage        string
	Err          error
	RollbackErrs []error
}

func (e *MiddlewareError) Error() string {
	msg := fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
	if len(e.RollbackErrs) > 0 {
		msg += fmt.Sprintf(" (%d rollback failures)", len(e.RollbackErrs))
	}
	return msg
}

func (e *MiddlewareError) Unwrap() error {
	return e.Err
}

// RecordRollback appends a compensation failure. Nil is ignored.
func (e *MiddlewareError) RecordRollback(stage string, err error) {
	if err == nil {
		return
	}
	e.RollbackErrs = append(e.RollbackErrs, fmt.Errorf("rollback %s: %w", stage, err))
}

// RolledBackCleanly reports whether every compensation succeeded.
func (e *MiddlewareError) RolledBackCleanly() bool {
	return len(e.RollbackErrs) == 0
}

// RollbackError joins every recorded compensation failure.
func (e *MiddlewareError) RollbackError() error {
	return errors.Join(e.RollbackErrs...)
}

// Observer receives stage timings and compensation results.
type Observer interface {
	StageFinished(stage string, elapsed time.Duration, err error)
	StageCompensated(stage string, rollbackErrs int)
}

// Chain is a fixed, ordered pipeline of stages.
type Chain[C any] struct {
	stages   []Stage[C]
	observer Observer
}

// NewChain builds a chain. Stages run in argument order.
func NewChain[C any](stages ...Stage[C]) *Chain[C] {
	return &Chain[C]{stages: stages}
}

// WithObserver attaches an observer and returns the chain.
func (ch *Chain[C]) WithObserver(o Observer) *Chain[C] {
	ch.observer = o
	return ch
}

// Names returns the stage names in run order.
func (ch *Chain[C]) Names() []string {
	names := make([]string, len(ch.stages))
	for i, s := range ch.stages {
		names[i] = s.Name()
	}
	return names
}

// Run processes every stage in order. On the first failure it compensates
// from the failing stage back to the first one and returns a
// *MiddlewareError tagged with the failing stage.
func (ch *Chain[C]) Run(ctx context.Context, c C) error {
	for i, stage := range ch.stages {
		start := time.Now()
		err := stage.Process(ctx, c)
		if ch.observer != nil {
			ch.observer.StageFinished(stage.Name(), time.Since(start), err)
		}
		if err == nil {
			continue
		}

		failure := &MiddlewareError{Stage: stage.Name(), Err: err}
		ch.unwind(ctx, c, i, failure)
		return failure
	}
	return nil
}

func (ch *Chain[C]) unwind(ctx context.Context, c C, from int, failure *MiddlewareError) {
	// compensation must finish even if the caller has gone away
	ctx = context.WithoutCancel(ctx)
	for i := from; i >= 0; i-- {
		stage := ch.stages[i]
		before := len(failure.RollbackErrs)
		stage.Compensate(ctx, c, failure)
		if ch.observer != nil {
			ch.observer.StageCompensated(stage.Name(), len(failure.RollbackErrs)-before)
		}
	}
}

// Func builds a stage from closures. A nil compensate is a no-op.
type Func[C any] struct {
	StageName    string
	ProcessFn    func(ctx context.Context, c C) error
	CompensateFn func(ctx context.Context, c C, failure *MiddlewareError)
}

func (f Func[C]) Name() string { return f.StageName }

func (f Func[C]) Process(ctx context.Context, c C) error {
	if f.ProcessFn == nil {
		return nil
	}
	return f.ProcessFn(ctx, c)
}

func (f Func[C]) Compensate(ctx context.Context, c C, failure *MiddlewareError) {
	if f.CompensateFn != nil {
		f.CompensateFn(ctx, c, failure)
	}
}

// BeginStageName names the placeholder first stage of every chain.
const BeginStageName = "begin-transaction"

// Begin returns the no-op first stage.
func Begin[C any]() Stage[C] {
	return Func[C]{StageName: BeginStageName}
}
