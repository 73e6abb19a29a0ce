package identityprovider_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/micromdm/nanoprocess/engine"
	"github.com/micromdm/nanoprocess/engine/test"
	itest "github.com/micromdm/nanoprocess/integration/test"
	"github.com/micromdm/nanoprocess/portal"
	"github.com/micromdm/nanoprocess/process"
	"github.com/micromdm/nanoprocess/process/identityprovider"
)

var identity = process.Identity{UserID: "alice", CompanyID: "company-1"}

func setup(t *testing.T, idps ...*portal.IdentityProvider) (*engine.Engine, *identityprovider.IdentityProviders, *itest.Recorder) {
	t.Helper()
	ctx := context.Background()
	e, _ := test.NewEngine()
	recorder := itest.NewRecorder()
	i, err := identityprovider.New(e, recorder.Services())
	if err != nil {
		t.Fatal(err)
	}
	u := e.NewUnitOfWork()
	for _, idp := range idps {
		if err = u.Add(idp); err != nil {
			t.Fatal(err)
		}
	}
	if err = u.SaveChanges(ctx); err != nil {
		t.Fatal(err)
	}
	return e, i, recorder
}

func TestDeleteSharedIdentityProvider(t *testing.T) {
	ctx := context.Background()
	e, i, recorder := setup(t, &portal.IdentityProvider{
		ID:        "idp-1",
		CompanyID: "company-1",
		Alias:     "shared-1",
		Type:      portal.IdentityProviderTypeShared,
		Status:    portal.IdentityProviderStatusDisabled,
	})

	pid, err := i.DeleteIdentityProvider(ctx, identity, "idp-1")
	if err != nil {
		t.Fatal(err)
	}
	if _, err = i.DeleteIdentityProvider(ctx, identity, "idp-1"); !errors.Is(err, process.ErrConflict) {
		t.Errorf("deleting twice: want: %v; have: %v", process.ErrConflict, err)
	}

	test.RunWorker(t, e)

	want := []string{
		"DELETE_CENTRAL_IDENTITY_PROVIDER:DONE",
		"DELETE_IDENTITY_PROVIDER:DONE",
		"DELETE_IDP_SHARED_REALM:DONE",
	}
	if diff := cmp.Diff(want, test.StepStatuses(t, e, pid)); diff != "" {
		t.Errorf("steps mismatch (-want +have):\n%s", diff)
	}
	if want, have := portal.IdentityProviderStatusDeleted, test.Retrieve[portal.IdentityProvider](t, e, "idp-1").Status; want != have {
		t.Errorf("want: %v; have: %v", want, have)
	}
	var methods []string
	for _, c := range recorder.Calls() {
		methods = append(methods, c.Method)
	}
	if diff := cmp.Diff([]string{"DeleteSharedRealm", "DeleteCentralIdentityProvider"}, methods); diff != "" {
		t.Errorf("calls mismatch (-want +have):\n%s", diff)
	}
}

func TestDeleteOwnIdentityProvider(t *testing.T) {
	ctx := context.Background()
	e, i, recorder := setup(t, &portal.IdentityProvider{
		ID:        "idp-1",
		CompanyID: "company-1",
		Alias:     "own-1",
		Type:      portal.IdentityProviderTypeOwn,
		Status:    portal.IdentityProviderStatusDisabled,
	})
	recorder.FailWith("DeleteCentralIdentityProvider", errors.New("broker unavailable"))

	pid, err := i.DeleteIdentityProvider(ctx, identity, "idp-1")
	if err != nil {
		t.Fatal(err)
	}
	test.RunWorker(t, e)

	want := []string{
		"DELETE_CENTRAL_IDENTITY_PROVIDER:FAILED",
		"RETRIGGER_DELETE_CENTRAL_IDENTITY_PROVIDER:TODO",
	}
	if diff := cmp.Diff(want, test.StepStatuses(t, e, pid)); diff != "" {
		t.Errorf("steps mismatch (-want +have):\n%s", diff)
	}

	recorder.FailWith("DeleteCentralIdentityProvider", nil)
	if err = e.Retrigger(ctx, identity, pid, process.StepRetriggerDeleteCentralIdentityProvider); err != nil {
		t.Fatal(err)
	}
	test.RunWorker(t, e)
	if want, have := portal.IdentityProviderStatusDeleted, test.Retrieve[portal.IdentityProvider](t, e, "idp-1").Status; want != have {
		t.Errorf("want: %v; have: %v", want, have)
	}
}

func TestDeleteIdentityProviderPreconditions(t *testing.T) {
	ctx := context.Background()
	_, i, _ := setup(t,
		&portal.IdentityProvider{ID: "active", CompanyID: "company-1", Type: portal.IdentityProviderTypeOwn, Status: portal.IdentityProviderStatusActive},
		&portal.IdentityProvider{ID: "foreign", CompanyID: "company-2", Type: portal.IdentityProviderTypeOwn, Status: portal.IdentityProviderStatusDisabled},
	)
	for _, tc := range []struct {
		id  string
		err error
	}{
		{"missing", process.ErrNotFound},
		{"active", process.ErrConflict},
		{"foreign", process.ErrForbidden},
	} {
		if _, err := i.DeleteIdentityProvider(ctx, identity, tc.id); !errors.Is(err, tc.err) {
			t.Errorf("%s: want: %v; have: %v", tc.id, tc.err, err)
		}
	}
}
