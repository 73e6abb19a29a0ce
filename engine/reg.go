package engine

import (
	"context"
	"fmt"

	"github.com/micromdm/nanoprocess/process"
)

// StepResult is the outcome of a successfully run step.
type StepResult struct {
	// NextSteps are scheduled in the step's process.
	NextSteps []process.StepType

	// Message describes the outcome. It is logged, not stored.
	Message string
}

// ChecklistStepResult is the outcome of a successfully run checklist step.
type ChecklistStepResult struct {
	StepResult

	// InitializeEntry and ModifyEntry change the step's checklist entry.
	// Both may be nil.
	InitializeEntry func(*process.ChecklistEntry)
	ModifyEntry     func(*process.ChecklistEntry)
}

// StepHandler runs an automatic step outside of an application checklist.
// Changes to other entities are made through the data's unit of work.
type StepHandler func(ctx context.Context, data *ProcessStepData) (*StepResult, error)

// ChecklistStepHandler runs an automatic application checklist step.
type ChecklistStepHandler func(ctx context.Context, data *ChecklistProcessStepData) (*ChecklistStepResult, error)

type stepRunner interface {
	runStep(ctx context.Context, e *Engine, p *process.Process, step *process.ProcessStep) (string, error)
}

func validateAutomatic(t process.StepType, checklist bool) error {
	info, ok := t.Info()
	if !ok {
		return process.NewUnexpectedError("unknown step type: %s", t)
	}
	if info.Mode != process.Automatic {
		return fmt.Errorf("step type %s is not automatic", t)
	}
	if checklist != (info.Entry != "") {
		return fmt.Errorf("step type %s: checklist handler mismatch", t)
	}
	return nil
}

func (e *Engine) register(t process.StepType, r stepRunner) {
	e.handlersMu.Lock()
	defer e.handlersMu.Unlock()
	e.handlers[t] = r
	e.logger.Debug("msg", "registered step handler", "step_type", t)
}

// RegisterStepHandler associates h with automatic step type t.
func (e *Engine) RegisterStepHandler(t process.StepType, h StepHandler) error {
	if err := validateAutomatic(t, false); err != nil {
		return err
	}
	e.register(t, h)
	return nil
}

// RegisterChecklistStepHandler associates h with automatic checklist step type t.
func (e *Engine) RegisterChecklistStepHandler(t process.StepType, h ChecklistStepHandler) error {
	if err := validateAutomatic(t, true); err != nil {
		return err
	}
	e.register(t, h)
	return nil
}

func (e *Engine) handler(t process.StepType) stepRunner {
	e.handlersMu.RLock()
	defer e.handlersMu.RUnlock()
	return e.handlers[t]
}

// StepHandlerRegistered returns true if a handler is registered for t.
func (e *Engine) StepHandlerRegistered(t process.StepType) bool {
	return e.handler(t) != nil
}
