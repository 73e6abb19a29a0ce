package engine

import (
	"context"

	"github.com/micromdm/nanoprocess/engine/storage"
	"github.com/micromdm/nanoprocess/process"
)

// ProcessSnapshot is a process with all of its steps.
type ProcessSnapshot struct {
	Process *process.Process       `json:"process"`
	Steps   []*process.ProcessStep `json:"steps"`
}

// RetrieveProcess returns process id with its steps, oldest first.
func (e *Engine) RetrieveProcess(ctx context.Context, id string) (*ProcessSnapshot, error) {
	p, steps, err := e.NewUnitOfWork().RetrieveProcess(ctx, id)
	if storage.IsNotFound(err) {
		return nil, process.NewNotFoundError("process %s does not exist", id)
	} else if err != nil {
		return nil, err
	}
	return &ProcessSnapshot{Process: p, Steps: steps}, nil
}

// RetrieveChecklist returns the checklist entries of application
// applicationID in checklist order.
func (e *Engine) RetrieveChecklist(ctx context.Context, applicationID string) ([]*process.ChecklistEntry, error) {
	checklist, err := e.NewUnitOfWork().RetrieveChecklist(ctx, applicationID)
	if err != nil {
		return nil, err
	}
	if len(checklist) < 1 {
		return nil, process.NewNotFoundError("application %s has no checklist", applicationID)
	}
	var entries []*process.ChecklistEntry
	for _, t := range process.ChecklistEntryTypes {
		if entry, ok := checklist[t]; ok {
			entries = append(entries, entry)
		}
	}
	return entries, nil
}
