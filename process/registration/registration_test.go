package registration

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/micromdm/nanoprocess/engine"
	"github.com/micromdm/nanoprocess/engine/storage"
	enginetest "github.com/micromdm/nanoprocess/engine/test"
	"github.com/micromdm/nanoprocess/integration/test"
	"github.com/micromdm/nanoprocess/portal"
	"github.com/micromdm/nanoprocess/process"
)

var ospIdentity = process.Identity{UserID: "osp-user", CompanyID: "osp-company"}

type fixture struct {
	e        *engine.Engine
	r        *Registration
	recorder *test.Recorder
	partner  *RegisteredPartner
	identity process.Identity
}

func newFixture(t *testing.T, bpn string) *fixture {
	t.Helper()
	ctx := context.Background()
	e, _ := enginetest.NewEngine()
	recorder := test.NewRecorder()
	r, err := New(e, recorder.Services())
	if err != nil {
		t.Fatal(err)
	}

	u := e.NewUnitOfWork()
	for _, a := range []*portal.Agreement{
		{ID: "agreement-a", Status: portal.AgreementStatusActive, CompanyRoles: []portal.CompanyRole{portal.RoleAppProvider}},
		{ID: "agreement-b", Status: portal.AgreementStatusActive, CompanyRoles: []portal.CompanyRole{portal.RoleAppProvider, portal.RoleServiceProvider}},
		{ID: "agreement-c", Status: portal.AgreementStatusActive, CompanyRoles: []portal.CompanyRole{portal.RoleActiveParticipant}},
		{ID: "agreement-old", Status: portal.AgreementStatusInactive, CompanyRoles: []portal.CompanyRole{portal.RoleAppProvider}},
	} {
		if err = u.Add(a); err != nil {
			t.Fatal(err)
		}
	}
	if err = u.SaveChanges(ctx); err != nil {
		t.Fatal(err)
	}

	partner, err := r.RegisterPartner(ctx, ospIdentity, &PartnerRegistration{
		ExternalID:            "ext-1",
		Name:                  "Example Corp",
		BusinessPartnerNumber: bpn,
		CountryCode:           "DE",
		CallbackURL:           "https://osp.example.com/callback",
		Users: []PartnerUser{
			{Email: "alice@example.com"},
			{Email: "bob@example.com"},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	return &fixture{
		e:        e,
		r:        r,
		recorder: recorder,
		partner:  partner,
		identity: process.Identity{UserID: "alice", CompanyID: partner.CompanyID},
	}
}

func (f *fixture) application(t *testing.T) *portal.CompanyApplication {
	t.Helper()
	app, err := storage.Retrieve[portal.CompanyApplication](context.Background(), f.e.NewUnitOfWork(), f.partner.ApplicationID)
	if err != nil {
		t.Fatal(err)
	}
	return app
}

func (f *fixture) company(t *testing.T) *portal.Company {
	t.Helper()
	c, err := storage.Retrieve[portal.Company](context.Background(), f.e.NewUnitOfWork(), f.partner.CompanyID)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

var appProviderSubmission = &Submission{
	Roles: []portal.CompanyRole{portal.RoleAppProvider},
	Agreements: []AgreementConsent{
		{AgreementID: "agreement-a", Status: portal.ConsentStatusActive},
		{AgreementID: "agreement-b", Status: portal.ConsentStatusActive},
	},
}

func TestRegisterPartner(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()

	app := f.application(t)
	if want, have := portal.ApplicationStatusCreated, app.Status; want != have {
		t.Errorf("want: %v; have: %v", want, have)
	}
	if want, have := f.partner.ProcessID, app.NetworkProcessID; want != have {
		t.Errorf("want: %v; have: %v", want, have)
	}
	if want, have := portal.CompanyStatusPending, f.company(t).Status; want != have {
		t.Errorf("want: %v; have: %v", want, have)
	}
	invitations, err := storage.RetrieveByParent[portal.Invitation](ctx, f.e.NewUnitOfWork(), app.ID)
	if err != nil {
		t.Fatal(err)
	}
	if want, have := 2, len(invitations); want != have {
		t.Errorf("want: %v; have: %v", want, have)
	}
	want := []string{
		"MANUAL_DECLINE_OSP:TODO",
		"SYNCHRONIZE_USER:TODO",
	}
	if diff := cmp.Diff(want, enginetest.StepStatuses(t, f.e, f.partner.ProcessID)); diff != "" {
		t.Errorf("steps mismatch (-want +have):\n%s", diff)
	}

	_, err = f.r.RegisterPartner(ctx, ospIdentity, &PartnerRegistration{Name: "x", ExternalID: "y"})
	if !errors.Is(err, process.ErrArgument) {
		t.Errorf("want: %v; have: %v", process.ErrArgument, err)
	}
}

func TestSubmitApplicationCount(t *testing.T) {
	for _, tc := range []struct {
		name string
		seed func(t *testing.T, f *fixture, u *storage.UnitOfWork) process.Identity
	}{
		{
			name: "no application",
			seed: func(t *testing.T, f *fixture, u *storage.UnitOfWork) process.Identity {
				if err := u.Add(&portal.Company{ID: "company-empty", Name: "Empty Corp", Status: portal.CompanyStatusPending}); err != nil {
					t.Fatal(err)
				}
				return process.Identity{UserID: "carol", CompanyID: "company-empty"}
			},
		},
		{
			name: "two applications",
			seed: func(t *testing.T, f *fixture, u *storage.UnitOfWork) process.Identity {
				if err := u.Add(&portal.CompanyApplication{
					ID:          "app-second",
					CompanyID:   f.partner.CompanyID,
					Status:      portal.ApplicationStatusCreated,
					Type:        portal.ApplicationTypeExternal,
					DateCreated: u.Now(),
				}); err != nil {
					t.Fatal(err)
				}
				return f.identity
			},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, "")
			ctx := context.Background()
			u := f.e.NewUnitOfWork()
			identity := tc.seed(t, f, u)
			if err := u.SaveChanges(ctx); err != nil {
				t.Fatal(err)
			}

			_, err := f.r.Submit(ctx, identity, appProviderSubmission)
			if !errors.Is(err, process.ErrConflict) {
				t.Fatalf("want: %v; have: %v", process.ErrConflict, err)
			}

			if want, have := portal.ApplicationStatusCreated, f.application(t).Status; want != have {
				t.Errorf("want: %v; have: %v", want, have)
			}
			consents, err := storage.RetrieveByParent[portal.Consent](ctx, f.e.NewUnitOfWork(), identity.CompanyID)
			if err != nil {
				t.Fatal(err)
			}
			if want, have := 0, len(consents); want != have {
				t.Errorf("consents: want: %v; have: %v", want, have)
			}
			want := []string{
				"MANUAL_DECLINE_OSP:TODO",
				"SYNCHRONIZE_USER:TODO",
			}
			if diff := cmp.Diff(want, enginetest.StepStatuses(t, f.e, f.partner.ProcessID)); diff != "" {
				t.Errorf("registration steps mismatch (-want +have):\n%s", diff)
			}
		})
	}
}

func TestSubmitAgreements(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()

	for _, tc := range []struct {
		name       string
		agreements []AgreementConsent
		naming     string
	}{
		{
			name:       "missing consent",
			agreements: []AgreementConsent{{AgreementID: "agreement-a", Status: portal.ConsentStatusActive}},
			naming:     "agreement-b",
		},
		{
			name: "inactive consent",
			agreements: []AgreementConsent{
				{AgreementID: "agreement-a", Status: portal.ConsentStatusActive},
				{AgreementID: "agreement-b", Status: portal.ConsentStatusInactive},
			},
			naming: "agreement-b",
		},
		{
			name: "extra agreement",
			agreements: []AgreementConsent{
				{AgreementID: "agreement-a", Status: portal.ConsentStatusActive},
				{AgreementID: "agreement-b", Status: portal.ConsentStatusActive},
				{AgreementID: "agreement-c", Status: portal.ConsentStatusActive},
			},
			naming: "agreement-c",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.r.Submit(ctx, f.identity, &Submission{
				Roles:      []portal.CompanyRole{portal.RoleAppProvider},
				Agreements: tc.agreements,
			})
			if !errors.Is(err, process.ErrArgument) {
				t.Fatalf("want: %v; have: %v", process.ErrArgument, err)
			}
			if !strings.Contains(err.Error(), tc.naming) {
				t.Errorf("error %q should name %s", err, tc.naming)
			}
		})
	}

	// nothing changed
	if want, have := portal.ApplicationStatusCreated, f.application(t).Status; want != have {
		t.Errorf("want: %v; have: %v", want, have)
	}
}

func TestSubmit(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()

	_, err := f.r.Submit(ctx, process.Identity{UserID: "u", CompanyID: "missing"}, appProviderSubmission)
	if !errors.Is(err, process.ErrNotFound) {
		t.Errorf("want: %v; have: %v", process.ErrNotFound, err)
	}

	submitted, err := f.r.Submit(ctx, f.identity, appProviderSubmission)
	if err != nil {
		t.Fatal(err)
	}

	app := f.application(t)
	if want, have := portal.ApplicationStatusSubmitted, app.Status; want != have {
		t.Errorf("want: %v; have: %v", want, have)
	}
	if want, have := submitted.ChecklistProcessID, app.ChecklistProcessID; want != have {
		t.Errorf("want: %v; have: %v", want, have)
	}
	if diff := cmp.Diff([]portal.CompanyRole{portal.RoleAppProvider}, f.company(t).Roles); diff != "" {
		t.Errorf("roles mismatch (-want +have):\n%s", diff)
	}
	consents, err := storage.RetrieveByParent[portal.Consent](ctx, f.e.NewUnitOfWork(), f.partner.CompanyID)
	if err != nil {
		t.Fatal(err)
	}
	if want, have := 2, len(consents); want != have {
		t.Errorf("want: %v; have: %v", want, have)
	}

	want := []string{
		"CREATE_BUSINESS_PARTNER_NUMBER_MANUAL:TODO",
		"VERIFY_REGISTRATION:TODO",
	}
	if diff := cmp.Diff(want, enginetest.StepStatuses(t, f.e, submitted.ChecklistProcessID)); diff != "" {
		t.Errorf("checklist steps mismatch (-want +have):\n%s", diff)
	}
	want = []string{
		"MANUAL_DECLINE_OSP:SKIPPED",
		"SYNCHRONIZE_USER:TODO",
		"TRIGGER_CALLBACK_OSP_SUBMITTED:TODO",
	}
	if diff := cmp.Diff(want, enginetest.StepStatuses(t, f.e, f.partner.ProcessID)); diff != "" {
		t.Errorf("registration steps mismatch (-want +have):\n%s", diff)
	}
	entries, err := f.e.RetrieveChecklist(ctx, app.ID)
	if err != nil {
		t.Fatal(err)
	}
	if want, have := len(process.ChecklistEntryTypes), len(entries); want != have {
		t.Errorf("want: %v; have: %v", want, have)
	}

	_, err = f.r.Submit(ctx, f.identity, appProviderSubmission)
	if !errors.Is(err, process.ErrConflict) {
		t.Errorf("want: %v; have: %v", process.ErrConflict, err)
	}
}

func TestSubmitWithBPN(t *testing.T) {
	f := newFixture(t, "BPNL00000001TEST")
	submitted, err := f.r.Submit(context.Background(), f.identity, appProviderSubmission)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"VERIFY_REGISTRATION:TODO"}
	if diff := cmp.Diff(want, enginetest.StepStatuses(t, f.e, submitted.ChecklistProcessID)); diff != "" {
		t.Errorf("checklist steps mismatch (-want +have):\n%s", diff)
	}
}

func TestRegistrationWorker(t *testing.T) {
	f := newFixture(t, "")
	if _, err := f.r.Submit(context.Background(), f.identity, appProviderSubmission); err != nil {
		t.Fatal(err)
	}

	enginetest.RunWorker(t, f.e)

	want := []string{
		"MANUAL_DECLINE_OSP:SKIPPED",
		"SYNCHRONIZE_USER:DONE",
		"TRIGGER_CALLBACK_OSP_SUBMITTED:DONE",
	}
	if diff := cmp.Diff(want, enginetest.StepStatuses(t, f.e, f.partner.ProcessID)); diff != "" {
		t.Errorf("steps mismatch (-want +have):\n%s", diff)
	}
	calls := f.recorder.CallsTo("NotifySubmitted")
	if want, have := 1, len(calls); want != have {
		t.Fatalf("want: %v; have: %v", want, have)
	}
	if diff := cmp.Diff([]any{"https://osp.example.com/callback", "ext-1"}, calls[0].Args); diff != "" {
		t.Errorf("callback mismatch (-want +have):\n%s", diff)
	}
	if want, have := 1, len(f.recorder.CallsTo("SynchronizeUsers")); want != have {
		t.Errorf("want: %v; have: %v", want, have)
	}
}

func TestRegistrationWorkerFailure(t *testing.T) {
	f := newFixture(t, "")
	f.recorder.FailWith("SynchronizeUsers", errors.New("broker unavailable"))

	enginetest.RunWorker(t, f.e)

	want := []string{
		"MANUAL_DECLINE_OSP:TODO",
		"RETRIGGER_SYNCHRONIZE_USER:TODO",
		"SYNCHRONIZE_USER:FAILED",
	}
	if diff := cmp.Diff(want, enginetest.StepStatuses(t, f.e, f.partner.ProcessID)); diff != "" {
		t.Errorf("steps mismatch (-want +have):\n%s", diff)
	}
}

func TestDecline(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()

	if err := f.r.Decline(ctx, f.identity, "missing"); !errors.Is(err, process.ErrNotFound) {
		t.Errorf("want: %v; have: %v", process.ErrNotFound, err)
	}
	other := process.Identity{UserID: "mallory", CompanyID: "other-company"}
	if err := f.r.Decline(ctx, other, f.partner.ApplicationID); !errors.Is(err, process.ErrForbidden) {
		t.Errorf("want: %v; have: %v", process.ErrForbidden, err)
	}

	if err := f.r.Decline(ctx, f.identity, f.partner.ApplicationID); err != nil {
		t.Fatal(err)
	}

	if want, have := portal.ApplicationStatusCancelledByCustomer, f.application(t).Status; want != have {
		t.Errorf("want: %v; have: %v", want, have)
	}
	if want, have := portal.CompanyStatusRejected, f.company(t).Status; want != have {
		t.Errorf("want: %v; have: %v", want, have)
	}
	invitations, err := storage.RetrieveByParent[portal.Invitation](ctx, f.e.NewUnitOfWork(), f.partner.ApplicationID)
	if err != nil {
		t.Fatal(err)
	}
	for _, inv := range invitations {
		if want, have := portal.InvitationStatusDeclined, inv.Status; want != have {
			t.Errorf("want: %v; have: %v", want, have)
		}
	}
	want := []string{
		"MANUAL_DECLINE_OSP:DONE",
		"REMOVE_KEYCLOAK_USERS:TODO",
		"SYNCHRONIZE_USER:SKIPPED",
	}
	if diff := cmp.Diff(want, enginetest.StepStatuses(t, f.e, f.partner.ProcessID)); diff != "" {
		t.Errorf("steps mismatch (-want +have):\n%s", diff)
	}

	// declining twice
	if err = f.r.Decline(ctx, f.identity, f.partner.ApplicationID); !errors.Is(err, process.ErrConflict) {
		t.Errorf("want: %v; have: %v", process.ErrConflict, err)
	}

	enginetest.RunWorker(t, f.e)
	want = []string{
		"MANUAL_DECLINE_OSP:DONE",
		"REMOVE_KEYCLOAK_USERS:DONE",
		"SYNCHRONIZE_USER:SKIPPED",
	}
	if diff := cmp.Diff(want, enginetest.StepStatuses(t, f.e, f.partner.ProcessID)); diff != "" {
		t.Errorf("steps mismatch (-want +have):\n%s", diff)
	}
	if want, have := 1, len(f.recorder.CallsTo("RemoveUsers")); want != have {
		t.Errorf("want: %v; have: %v", want, have)
	}
	if want, have := 0, len(f.recorder.CallsTo("SynchronizeUsers")); want != have {
		t.Errorf("want: %v; have: %v", want, have)
	}
}
