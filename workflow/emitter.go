package workflow

import (
	"context"
	"time"
)

// Emitter receives execution lifecycle events. ext.Registry implements it.
type Emitter interface {
	EmitExecutionSubmitted(ctx context.Context, e *Execution)
	EmitExecutionStarted(ctx context.Context, e *Execution)
	EmitStepCompleted(ctx context.Context, e *Execution, r *StepRecord, elapsed time.Duration)
	EmitStepFailed(ctx context.Context, e *Execution, r *StepRecord, err error)
	EmitStepRetrying(ctx context.Context, e *Execution, step string, attempt int, err error, delay time.Duration)
	EmitCompensating(ctx context.Context, e *Execution, cause error)
	EmitExecutionCompleted(ctx context.Context, e *Execution, elapsed time.Duration)
	EmitExecutionFailed(ctx context.Context, e *Execution, err error)
	EmitExecutionRolledBack(ctx context.Context, e *Execution)
	EmitSecurityViolation(ctx context.Context, e *Execution, step string, err error)
}

// NopEmitter discards every event.
type NopEmitter struct{}

var _ Emitter = NopEmitter{}

func (NopEmitter) EmitExecutionSubmitted(context.Context, *Execution)                      {}
func (NopEmitter) EmitExecutionStarted(context.Context, *Execution)                        {}
func (NopEmitter) EmitStepCompleted(context.Context, *Execution, *StepRecord, time.Duration) {}
func (NopEmitter) EmitStepFailed(context.Context, *Execution, *StepRecord, error)          {}
func (NopEmitter) EmitStepRetrying(context.Context, *Execution, string, int, error, time.Duration) {
}
func (NopEmitter) EmitCompensating(context.Context, *Execution, error)             {}
func (NopEmitter) EmitExecutionCompleted(context.Context, *Execution, time.Duration) {}
func (NopEmitter) EmitExecutionFailed(context.Context, *Execution, error)          {}
func (NopEmitter) EmitExecutionRolledBack(context.Context, *Execution)             {}
func (NopEmitter) EmitSecurityViolation(context.Context, *Execution, string, error) {}
