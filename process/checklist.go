package process

import (
	"sync"
	"time"

	"github.com/felixgeelhaar/statekit"
)

// ChecklistEntryType is the kind of an application checklist entry.
type ChecklistEntryType string

const (
	EntryRegistrationVerification ChecklistEntryType = "REGISTRATION_VERIFICATION"
	EntryBusinessPartnerNumber    ChecklistEntryType = "BUSINESS_PARTNER_NUMBER"
	EntryIdentityWallet           ChecklistEntryType = "IDENTITY_WALLET"
	EntryClearingHouse            ChecklistEntryType = "CLEARING_HOUSE"
	EntrySelfDescriptionLP        ChecklistEntryType = "SELF_DESCRIPTION_LP"
	EntryApplicationActivation    ChecklistEntryType = "APPLICATION_ACTIVATION"
)

// ChecklistEntryTypes lists every entry of a complete checklist in order.
var ChecklistEntryTypes = []ChecklistEntryType{
	EntryRegistrationVerification,
	EntryBusinessPartnerNumber,
	EntryIdentityWallet,
	EntryClearingHouse,
	EntrySelfDescriptionLP,
	EntryApplicationActivation,
}

// Valid returns true if t is a known checklist entry type.
func (t ChecklistEntryType) Valid() bool {
	for _, v := range ChecklistEntryTypes {
		if v == t {
			return true
		}
	}
	return false
}

// ChecklistEntryStatus is the status of a checklist entry.
type ChecklistEntryStatus string

const (
	EntryStatusToDo       ChecklistEntryStatus = "TO_DO"
	EntryStatusInProgress ChecklistEntryStatus = "IN_PROGRESS"
	EntryStatusDone       ChecklistEntryStatus = "DONE"
	EntryStatusFailed     ChecklistEntryStatus = "FAILED"
	EntryStatusSkipped    ChecklistEntryStatus = "SKIPPED"
)

// Valid returns true if s is a known checklist entry status.
func (s ChecklistEntryStatus) Valid() bool {
	switch s {
	case EntryStatusToDo, EntryStatusInProgress, EntryStatusDone, EntryStatusFailed, EntryStatusSkipped:
		return true
	}
	return false
}

// Completed returns true for DONE and SKIPPED entries.
func (s ChecklistEntryStatus) Completed() bool {
	return s == EntryStatusDone || s == EntryStatusSkipped
}

// ChecklistEntry tracks one checklist item of a company application.
type ChecklistEntry struct {
	Versioned
	ApplicationID   string               `json:"application_id"`
	Type            ChecklistEntryType   `json:"type"`
	Status          ChecklistEntryStatus `json:"status"`
	Comment         string               `json:"comment,omitempty"`
	DateLastChanged time.Time            `json:"date_last_changed,omitempty"`
}

// ChecklistEntryID returns the storage id of the entry of type t.
func ChecklistEntryID(applicationID string, t ChecklistEntryType) string {
	return applicationID + "." + string(t)
}

func (e *ChecklistEntry) EntityKind() string   { return KindChecklistEntry }
func (e *ChecklistEntry) EntityID() string     { return ChecklistEntryID(e.ApplicationID, e.Type) }
func (e *ChecklistEntry) EntityParent() string { return e.ApplicationID }
func (e *ChecklistEntry) EntityStatus() string { return string(e.Status) }

// checklist entry machine events
const (
	entryEventStart     = "START"
	entryEventFinish    = "FINISH"
	entryEventFail      = "FAIL"
	entryEventSkip      = "SKIP"
	entryEventRetrigger = "RETRIGGER"
)

type entryContext struct{}

// newEntryInterpreter builds the checklist entry machine once and hands
// out a fresh interpreter for each transition check.
var newEntryInterpreter = sync.OnceValues(func() (func() *statekit.Interpreter[entryContext], error) {
	machine, err := statekit.NewMachine[entryContext]("checklist-entry").
		WithInitial("TO_DO").
		WithContext(entryContext{}).
		State("TO_DO").
		On(entryEventStart).Target("IN_PROGRESS").
		On(entryEventFinish).Target("DONE").
		On(entryEventFail).Target("FAILED").
		On(entryEventSkip).Target("SKIPPED").Done().
		State("IN_PROGRESS").
		On(entryEventFinish).Target("DONE").
		On(entryEventFail).Target("FAILED").
		On(entryEventSkip).Target("SKIPPED").Done().
		State("FAILED").
		On(entryEventRetrigger).Target("TO_DO").Done().
		State("DONE").Done().
		State("SKIPPED").Done().
		Build()
	if err != nil {
		return nil, err
	}
	return func() *statekit.Interpreter[entryContext] {
		return statekit.NewInterpreter(machine)
	}, nil
})

// entryEventTo is the machine event that moves an entry into status s.
var entryEventTo = map[ChecklistEntryStatus]string{
	EntryStatusInProgress: entryEventStart,
	EntryStatusDone:       entryEventFinish,
	EntryStatusFailed:     entryEventFail,
	EntryStatusSkipped:    entryEventSkip,
	EntryStatusToDo:       entryEventRetrigger,
}

// ValidateEntryTransition checks that a checklist entry may move from
// status from to status to. Unchanged statuses are always allowed.
func ValidateEntryTransition(from, to ChecklistEntryStatus) error {
	if !from.Valid() || !to.Valid() {
		return NewUnexpectedError("invalid checklist entry status transition %s to %s", from, to)
	}
	if from == to {
		return nil
	}
	newInterp, err := newEntryInterpreter()
	if err != nil {
		return NewUnexpectedError("building checklist entry machine: %v", err)
	}
	interp := newInterp()
	interp.Start()
	defer interp.Stop()

	// walk the machine from its initial TO_DO to the current status
	if from != EntryStatusToDo {
		interp.Send(statekit.Event{Type: statekit.EventType(entryEventTo[from])})
		if ChecklistEntryStatus(interp.State().Value) != from {
			return NewUnexpectedError("checklist entry machine cannot reach %s", from)
		}
	}
	interp.Send(statekit.Event{Type: statekit.EventType(entryEventTo[to])})
	if ChecklistEntryStatus(interp.State().Value) != to {
		return NewConflictError("checklist entry cannot change from %s to %s", from, to)
	}
	return nil
}
