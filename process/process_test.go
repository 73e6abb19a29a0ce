package process

import (
	"testing"
	"time"
)

func TestProcessLocked(t *testing.T) {
	now := time.Now()
	p := &Process{ID: "p1", Type: TypeApplicationChecklist}
	if p.Locked(now) {
		t.Error("unset lock should not be locked")
	}
	p.LockExpiryDate = now.Add(time.Minute)
	if !p.Locked(now) {
		t.Error("future lock should be locked")
	}
	p.LockExpiryDate = now.Add(-time.Minute)
	if p.Locked(now) {
		t.Error("elapsed lock should not be locked")
	}
}

func TestSortAndPending(t *testing.T) {
	now := time.Now()
	steps := []*ProcessStep{
		{ID: "c", Type: StepRemoveKeycloakUsers, Status: StepStatusTodo, DateCreated: now.Add(time.Second)},
		{ID: "b", Type: StepSynchronizeUser, Status: StepStatusDone, DateCreated: now},
		{ID: "a", Type: StepManualDeclineOSP, Status: StepStatusTodo, DateCreated: now},
	}
	SortSteps(steps)
	for i, want := range []string{"a", "b", "c"} {
		if have := steps[i].ID; want != have {
			t.Errorf("position %d: want: %s; have: %s", i, want, have)
		}
	}

	if want, have := 2, len(Pending(steps)); want != have {
		t.Errorf("want: %d; have: %d", want, have)
	}
	if !HasPending(steps, StepRemoveKeycloakUsers) {
		t.Error("expected pending REMOVE_KEYCLOAK_USERS")
	}
	if HasPending(steps, StepSynchronizeUser) {
		t.Error("SYNCHRONIZE_USER is DONE")
	}
	if Finished(steps) {
		t.Error("process should not be finished")
	}
}

func TestStepValidate(t *testing.T) {
	s := &ProcessStep{ID: "s", ProcessID: "p", Type: StepSynchronizeUser, Status: StepStatusTodo}
	if err := s.Validate(); err != nil {
		t.Error(err)
	}
	s.Status = "WAITING"
	if err := s.Validate(); err == nil {
		t.Error("expected invalid status error")
	}
}
