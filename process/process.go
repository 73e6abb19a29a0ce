package process

import (
	"fmt"
	"sort"
	"time"
)

// Record kinds of the process types.
const (
	KindProcess        = "process"
	KindProcessStep    = "process_step"
	KindChecklistEntry = "checklist_entry"
)

// Type is the kind of a process.
type Type string

const (
	TypeApplicationChecklist         Type = "APPLICATION_CHECKLIST"
	TypePartnerRegistration          Type = "PARTNER_REGISTRATION"
	TypeSelfDescriptionCreation      Type = "SELF_DESCRIPTION_CREATION"
	TypeDimTechnicalUser             Type = "DIM_TECHNICAL_USER"
	TypeUserProvisioning             Type = "USER_PROVISIONING"
	TypeIdentityProviderProvisioning Type = "IDENTITYPROVIDER_PROVISIONING"
)

// Valid returns true if t is a known process type.
func (t Type) Valid() bool {
	switch t {
	case TypeApplicationChecklist,
		TypePartnerRegistration,
		TypeSelfDescriptionCreation,
		TypeDimTechnicalUser,
		TypeUserProvisioning,
		TypeIdentityProviderProvisioning:
		return true
	}
	return false
}

// StepStatus is the status of a process step.
type StepStatus string

const (
	StepStatusTodo       StepStatus = "TODO"
	StepStatusInProgress StepStatus = "IN_PROGRESS"
	StepStatusDone       StepStatus = "DONE"
	StepStatusSkipped    StepStatus = "SKIPPED"
	StepStatusFailed     StepStatus = "FAILED"
)

// Valid returns true if s is a known step status.
func (s StepStatus) Valid() bool {
	switch s {
	case StepStatusTodo, StepStatusInProgress, StepStatusDone, StepStatusSkipped, StepStatusFailed:
		return true
	}
	return false
}

// Terminal returns true if a step with status s will never run again.
func (s StepStatus) Terminal() bool {
	return s == StepStatusDone || s == StepStatusSkipped || s == StepStatusFailed
}

// Versioned carries the optimistic concurrency token of a persisted value.
// The token is not part of the serialized value; storage keeps it alongside.
type Versioned struct {
	Version string `json:"-"`
}

func (v *Versioned) EntityVersion() string {
	return v.Version
}

func (v *Versioned) SetEntityVersion(version string) {
	v.Version = version
}

// Process is a durable job made up of steps.
type Process struct {
	Versioned
	ID      string `json:"id"`
	Type    Type   `json:"type"`
	OwnerID string `json:"owner_id,omitempty"`

	// LockExpiryDate is set while a dispatcher has claimed the process.
	LockExpiryDate time.Time `json:"lock_expiry_date,omitempty"`
}

func (p *Process) EntityKind() string   { return KindProcess }
func (p *Process) EntityID() string     { return p.ID }
func (p *Process) EntityParent() string { return p.OwnerID }
func (p *Process) EntityStatus() string { return string(p.Type) }

// Locked returns true if the process is claimed by a dispatcher at now.
func (p *Process) Locked(now time.Time) bool {
	return !p.LockExpiryDate.IsZero() && p.LockExpiryDate.After(now)
}

// ProcessStep is a single unit of work within a process.
type ProcessStep struct {
	Versioned
	ID              string     `json:"id"`
	Type            StepType   `json:"type"`
	Status          StepStatus `json:"status"`
	ProcessID       string     `json:"process_id"`
	DateCreated     time.Time  `json:"date_created"`
	DateLastChanged time.Time  `json:"date_last_changed,omitempty"`

	// Message holds the reason a step FAILED (or SKIPPED).
	Message string `json:"message,omitempty"`
}

func (s *ProcessStep) EntityKind() string   { return KindProcessStep }
func (s *ProcessStep) EntityID() string     { return s.ID }
func (s *ProcessStep) EntityParent() string { return s.ProcessID }
func (s *ProcessStep) EntityStatus() string { return string(s.Status) }

// Validate checks the step for required fields.
func (s *ProcessStep) Validate() error {
	if s == nil {
		return fmt.Errorf("%w: nil step", ErrUnexpected)
	}
	if s.ProcessID == "" {
		return fmt.Errorf("%w: step %s has no process", ErrUnexpected, s.ID)
	}
	if _, ok := s.Type.Info(); !ok {
		return fmt.Errorf("%w: unknown step type: %s", ErrUnexpected, s.Type)
	}
	if !s.Status.Valid() {
		return fmt.Errorf("%w: invalid step status: %s", ErrUnexpected, s.Status)
	}
	return nil
}

// SortSteps orders steps oldest first, breaking ties by ID.
func SortSteps(steps []*ProcessStep) {
	sort.SliceStable(steps, func(i, j int) bool {
		if !steps[i].DateCreated.Equal(steps[j].DateCreated) {
			return steps[i].DateCreated.Before(steps[j].DateCreated)
		}
		return steps[i].ID < steps[j].ID
	})
}

// Pending returns the steps that are TODO or IN_PROGRESS.
func Pending(steps []*ProcessStep) (pending []*ProcessStep) {
	for _, step := range steps {
		if !step.Status.Terminal() {
			pending = append(pending, step)
		}
	}
	return
}

// Finished returns true if no step is left to run.
func Finished(steps []*ProcessStep) bool {
	return len(Pending(steps)) < 1
}

// HasPending returns true if a non-terminal step of type t exists in steps.
func HasPending(steps []*ProcessStep, t StepType) bool {
	for _, step := range Pending(steps) {
		if step.Type == t {
			return true
		}
	}
	return false
}
