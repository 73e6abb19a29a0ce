package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/micromdm/nanoprocess/engine"
	"github.com/micromdm/nanoprocess/engine/test"
	"github.com/micromdm/nanoprocess/process"

	"github.com/prometheus/client_golang/prometheus"
)

func walletChecklist() checklist {
	return checklist{
		process.EntryIdentityWallet: process.EntryStatusToDo,
		process.EntryClearingHouse:  process.EntryStatusToDo,
	}
}

func TestWorkerRunsChain(t *testing.T) {
	e, _ := test.NewEngine()
	var ran []process.StepType
	err := e.RegisterChecklistStepHandler(process.StepCreateIdentityWallet, func(ctx context.Context, data *engine.ChecklistProcessStepData) (*engine.ChecklistStepResult, error) {
		ran = append(ran, data.Step.Type)
		if want, have := engine.TriggerWorker, data.Trigger; want != have {
			t.Errorf("want: %v; have: %v", want, have)
		}
		return &engine.ChecklistStepResult{
			StepResult:  engine.StepResult{NextSteps: []process.StepType{process.StepStartClearingHouse}},
			ModifyEntry: func(entry *process.ChecklistEntry) { entry.Status = process.EntryStatusDone },
		}, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	err = e.RegisterChecklistStepHandler(process.StepStartClearingHouse, func(ctx context.Context, data *engine.ChecklistProcessStepData) (*engine.ChecklistStepResult, error) {
		ran = append(ran, data.Step.Type)
		if want, have := process.EntryStatusDone, data.Checklist[process.EntryIdentityWallet]; want != have {
			t.Errorf("want: %v; have: %v", want, have)
		}
		return &engine.ChecklistStepResult{
			StepResult:  engine.StepResult{NextSteps: []process.StepType{process.StepAwaitClearingHouseResponse}},
			ModifyEntry: func(entry *process.ChecklistEntry) { entry.Status = process.EntryStatusInProgress },
		}, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	appID, pid := seedChecklist(t, e, walletChecklist(), process.StepCreateIdentityWallet)

	test.RunWorker(t, e)

	want := []process.StepType{process.StepCreateIdentityWallet, process.StepStartClearingHouse}
	if diff := cmp.Diff(want, ran); diff != "" {
		t.Errorf("ran mismatch (-want +have):\n%s", diff)
	}
	wantSteps := []string{
		"AWAIT_CLEARING_HOUSE_RESPONSE:TODO",
		"CREATE_IDENTITY_WALLET:DONE",
		"START_CLEARING_HOUSE:DONE",
	}
	if diff := cmp.Diff(wantSteps, test.StepStatuses(t, e, pid)); diff != "" {
		t.Errorf("steps mismatch (-want +have):\n%s", diff)
	}
	if want, have := process.EntryStatusInProgress, entryStatus(t, e, appID, process.EntryClearingHouse).Status; want != have {
		t.Errorf("want: %v; have: %v", want, have)
	}
	snap, err := e.RetrieveProcess(context.Background(), pid)
	if err != nil {
		t.Fatal(err)
	}
	if !snap.Process.LockExpiryDate.IsZero() {
		t.Error("process lock should be released")
	}
}

func TestWorkerHandlerFailure(t *testing.T) {
	for _, tc := range []struct {
		name  string
		err   error
		steps []string
		entry process.ChecklistEntryStatus
	}{
		{
			name: "external error",
			err:  errors.New("wallet service unavailable"),
			steps: []string{
				"CREATE_IDENTITY_WALLET:FAILED",
				"RETRIGGER_IDENTITY_WALLET:TODO",
			},
			entry: process.EntryStatusFailed,
		},
		{
			name:  "conflict",
			err:   process.NewConflictError("company has no bpn"),
			steps: []string{"CREATE_IDENTITY_WALLET:FAILED"},
			entry: process.EntryStatusToDo,
		},
		{
			name:  "unexpected",
			err:   process.NewUnexpectedError("broken data"),
			steps: []string{"CREATE_IDENTITY_WALLET:FAILED"},
			entry: process.EntryStatusToDo,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			e, _ := test.NewEngine()
			err := e.RegisterChecklistStepHandler(process.StepCreateIdentityWallet, func(ctx context.Context, data *engine.ChecklistProcessStepData) (*engine.ChecklistStepResult, error) {
				// side effects of a failed run are discarded
				if _, err := engine.ScheduleSteps(ctx, data.UnitOfWork, data.Process, process.StepStartClearingHouse); err != nil {
					t.Error(err)
				}
				return nil, tc.err
			})
			if err != nil {
				t.Fatal(err)
			}
			appID, pid := seedChecklist(t, e, walletChecklist(), process.StepCreateIdentityWallet)

			test.RunWorker(t, e)

			if diff := cmp.Diff(tc.steps, test.StepStatuses(t, e, pid)); diff != "" {
				t.Errorf("steps mismatch (-want +have):\n%s", diff)
			}
			entry := entryStatus(t, e, appID, process.EntryIdentityWallet)
			if want, have := tc.entry, entry.Status; want != have {
				t.Errorf("want: %v; have: %v", want, have)
			}
			if tc.entry == process.EntryStatusFailed {
				if want, have := tc.err.Error(), entry.Comment; want != have {
					t.Errorf("want: %v; have: %v", want, have)
				}
			}
		})
	}
}

func TestWorkerProcessStepFailure(t *testing.T) {
	e, _ := test.NewEngine()
	err := e.RegisterStepHandler(process.StepDeleteCentralUser, func(ctx context.Context, data *engine.ProcessStepData) (*engine.StepResult, error) {
		return nil, errors.New("identity broker unavailable")
	})
	if err != nil {
		t.Fatal(err)
	}
	pid := seedProcess(t, e, process.TypeUserProvisioning, process.StepDeleteCentralUser)

	test.RunWorker(t, e)

	want := []string{
		"DELETE_CENTRAL_USER:FAILED",
		"RETRIGGER_DELETE_CENTRAL_USER:TODO",
	}
	if diff := cmp.Diff(want, test.StepStatuses(t, e, pid)); diff != "" {
		t.Errorf("steps mismatch (-want +have):\n%s", diff)
	}

	// retriggering schedules the failed step again
	if err = e.Retrigger(context.Background(), identity, pid, process.StepRetriggerDeleteCentralUser); err != nil {
		t.Fatal(err)
	}
	want = []string{
		"DELETE_CENTRAL_USER:FAILED",
		"DELETE_CENTRAL_USER:TODO",
		"RETRIGGER_DELETE_CENTRAL_USER:DONE",
	}
	if diff := cmp.Diff(want, test.StepStatuses(t, e, pid)); diff != "" {
		t.Errorf("steps mismatch (-want +have):\n%s", diff)
	}
}

func TestWorkerSkipsLockedProcess(t *testing.T) {
	ctx := context.Background()
	e, clock := test.NewEngine()
	var runs int
	err := e.RegisterStepHandler(process.StepDeleteCentralUser, func(ctx context.Context, data *engine.ProcessStepData) (*engine.StepResult, error) {
		runs++
		return nil, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	pid := seedProcess(t, e, process.TypeUserProvisioning, process.StepDeleteCentralUser)

	// another dispatcher holds the lock
	u := e.NewUnitOfWork()
	if _, err = u.AttachAndModifyProcess(ctx, pid, nil, func(p *process.Process) {
		p.LockExpiryDate = e.Now().Add(time.Minute)
	}); err != nil {
		t.Fatal(err)
	}
	if err = u.SaveChanges(ctx); err != nil {
		t.Fatal(err)
	}

	test.RunWorker(t, e)
	if want, have := 0, runs; want != have {
		t.Fatalf("want: %v; have: %v", want, have)
	}

	// the lock expires
	clock.Advance(2 * time.Minute)
	test.RunWorker(t, e)
	if want, have := 1, runs; want != have {
		t.Fatalf("want: %v; have: %v", want, have)
	}
	want := []string{"DELETE_CENTRAL_USER:DONE"}
	if diff := cmp.Diff(want, test.StepStatuses(t, e, pid)); diff != "" {
		t.Errorf("steps mismatch (-want +have):\n%s", diff)
	}
}

func TestWorkerKeepsReclaimedLock(t *testing.T) {
	ctx := context.Background()
	e, clock := test.NewEngine()
	var runs int
	var reclaimed time.Time
	err := e.RegisterStepHandler(process.StepDeleteCentralUser, func(ctx context.Context, data *engine.ProcessStepData) (*engine.StepResult, error) {
		runs++
		// the handler outlasts our lock and another dispatcher claims it
		clock.Advance(engine.DefaultLockDuration + time.Minute)
		reclaimed = e.Now().Add(engine.DefaultLockDuration)
		u := e.NewUnitOfWork()
		if _, err := u.AttachAndModifyProcess(ctx, data.Process.ID, nil, func(p *process.Process) {
			p.LockExpiryDate = reclaimed
		}); err != nil {
			return nil, err
		}
		return nil, u.SaveChanges(ctx)
	})
	if err != nil {
		t.Fatal(err)
	}
	pid := seedProcess(t, e, process.TypeUserProvisioning, process.StepDeleteCentralUser)

	test.RunWorker(t, e)
	snap, err := e.RetrieveProcess(ctx, pid)
	if err != nil {
		t.Fatal(err)
	}
	if want, have := reclaimed, snap.Process.LockExpiryDate; !want.Equal(have) {
		t.Errorf("lock: want: %v; have: %v", want, have)
	}

	// the other dispatcher still holds the lock
	test.RunWorker(t, e)
	if want, have := 1, runs; want != have {
		t.Errorf("runs: want: %v; have: %v", want, have)
	}
}

func TestWorkerStopsAfterLockExpiry(t *testing.T) {
	ctx := context.Background()
	e, clock := test.NewEngine()
	err := e.RegisterStepHandler(process.StepDeleteIdpSharedRealm, func(ctx context.Context, data *engine.ProcessStepData) (*engine.StepResult, error) {
		clock.Advance(2 * time.Minute)
		return &engine.StepResult{NextSteps: []process.StepType{process.StepDeleteCentralIdentityProvider}}, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	err = e.RegisterStepHandler(process.StepDeleteCentralIdentityProvider, func(ctx context.Context, data *engine.ProcessStepData) (*engine.StepResult, error) {
		return nil, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	pid := seedProcess(t, e, process.TypeIdentityProviderProvisioning, process.StepDeleteIdpSharedRealm)

	test.RunWorker(t, e, engine.WithWorkerLockDuration(time.Minute))
	want := []string{
		"DELETE_CENTRAL_IDENTITY_PROVIDER:TODO",
		"DELETE_IDP_SHARED_REALM:DONE",
	}
	if diff := cmp.Diff(want, test.StepStatuses(t, e, pid)); diff != "" {
		t.Errorf("steps mismatch (-want +have):\n%s", diff)
	}

	// our own expired lock is still released
	snap, err := e.RetrieveProcess(ctx, pid)
	if err != nil {
		t.Fatal(err)
	}
	if have := snap.Process.LockExpiryDate; !have.IsZero() {
		t.Errorf("lock: want zero; have: %v", have)
	}
}

func TestWorkerMaxStepsPerClaim(t *testing.T) {
	e, _ := test.NewEngine()
	err := e.RegisterStepHandler(process.StepDeleteIdpSharedRealm, func(ctx context.Context, data *engine.ProcessStepData) (*engine.StepResult, error) {
		return &engine.StepResult{NextSteps: []process.StepType{process.StepDeleteCentralIdentityProvider}}, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	err = e.RegisterStepHandler(process.StepDeleteCentralIdentityProvider, func(ctx context.Context, data *engine.ProcessStepData) (*engine.StepResult, error) {
		return nil, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	pid := seedProcess(t, e, process.TypeIdentityProviderProvisioning, process.StepDeleteIdpSharedRealm)

	test.RunWorker(t, e, engine.WithWorkerMaxStepsPerClaim(1), engine.WithWorkerRateLimit(100, 1))
	want := []string{
		"DELETE_CENTRAL_IDENTITY_PROVIDER:TODO",
		"DELETE_IDP_SHARED_REALM:DONE",
	}
	if diff := cmp.Diff(want, test.StepStatuses(t, e, pid)); diff != "" {
		t.Errorf("steps mismatch (-want +have):\n%s", diff)
	}

	test.RunWorker(t, e)
	want = []string{
		"DELETE_CENTRAL_IDENTITY_PROVIDER:DONE",
		"DELETE_IDP_SHARED_REALM:DONE",
	}
	if diff := cmp.Diff(want, test.StepStatuses(t, e, pid)); diff != "" {
		t.Errorf("steps mismatch (-want +have):\n%s", diff)
	}
}

func TestRegisterStepHandler(t *testing.T) {
	e, _ := test.NewEngine()
	noop := func(context.Context, *engine.ProcessStepData) (*engine.StepResult, error) { return nil, nil }
	if err := e.RegisterStepHandler(process.StepVerifyRegistration, noop); err == nil {
		t.Error("manual step types should not accept handlers")
	}
	if err := e.RegisterStepHandler(process.StepCreateIdentityWallet, noop); err == nil {
		t.Error("checklist step types need checklist handlers")
	}
	if err := e.RegisterStepHandler("NOPE", noop); !errors.Is(err, process.ErrUnexpected) {
		t.Errorf("want: %v; have: %v", process.ErrUnexpected, err)
	}
	if err := e.RegisterStepHandler(process.StepDeleteCentralUser, noop); err != nil {
		t.Fatal(err)
	}
	if !e.StepHandlerRegistered(process.StepDeleteCentralUser) {
		t.Error("expected handler to be registered")
	}
}

func TestMetrics(t *testing.T) {
	m := engine.NewMetrics()
	reg := prometheus.NewRegistry()
	m.MustRegister(reg)

	e, _ := test.NewEngine(engine.WithMetrics(m))
	err := e.RegisterStepHandler(process.StepDeleteCentralUser, func(ctx context.Context, data *engine.ProcessStepData) (*engine.StepResult, error) {
		return nil, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	seedProcess(t, e, process.TypeUserProvisioning, process.StepDeleteCentralUser)
	test.RunWorker(t, e)

	families, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	runs := make(map[string]float64)
	for _, mf := range families {
		if mf.GetName() != engine.MetricStepRunsTotal {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "outcome" {
					runs[l.GetValue()] += m.GetCounter().GetValue()
				}
			}
		}
	}
	if diff := cmp.Diff(map[string]float64{"done": 1}, runs); diff != "" {
		t.Errorf("step runs mismatch (-want +have):\n%s", diff)
	}
}
