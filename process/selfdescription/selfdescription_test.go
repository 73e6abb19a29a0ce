package selfdescription_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/micromdm/nanoprocess/engine"
	"github.com/micromdm/nanoprocess/engine/storage"
	"github.com/micromdm/nanoprocess/engine/test"
	"github.com/micromdm/nanoprocess/integration"
	itest "github.com/micromdm/nanoprocess/integration/test"
	"github.com/micromdm/nanoprocess/portal"
	"github.com/micromdm/nanoprocess/process"
	"github.com/micromdm/nanoprocess/process/selfdescription"
)

var (
	issuer   = process.Identity{UserID: "sd-issuer", CompanyID: "operator-company"}
	provider = process.Identity{UserID: "alice", CompanyID: "company-1"}
)

var document = json.RawMessage(`{"type":"LegalParticipant"}`)

func newSelfDescription(t *testing.T, opts ...selfdescription.Option) (*engine.Engine, *selfdescription.SelfDescription, *itest.Recorder) {
	t.Helper()
	e, _ := test.NewEngine()
	recorder := itest.NewRecorder()
	opts = append([]selfdescription.Option{selfdescription.WithCallbackBaseURL("https://portal.example.com")}, opts...)
	s, err := selfdescription.New(e, recorder.Services(), opts...)
	if err != nil {
		t.Fatal(err)
	}
	return e, s, recorder
}

func activeCompany() *portal.Company {
	return &portal.Company{
		ID:                    "company-1",
		Name:                  "Example",
		Status:                portal.CompanyStatusActive,
		BusinessPartnerNumber: "BPNL00000001TEST",
		CountryCode:           "DE",
	}
}

// checklistAt returns a checklist with every entry before the legal
// person self-description DONE and the rest TO_DO.
func checklistAt(sd process.ChecklistEntryStatus) map[process.ChecklistEntryType]process.ChecklistEntryStatus {
	return map[process.ChecklistEntryType]process.ChecklistEntryStatus{
		process.EntryRegistrationVerification: process.EntryStatusDone,
		process.EntryBusinessPartnerNumber:    process.EntryStatusDone,
		process.EntryIdentityWallet:           process.EntryStatusDone,
		process.EntryClearingHouse:            process.EntryStatusDone,
		process.EntrySelfDescriptionLP:        sd,
		process.EntryApplicationActivation:    process.EntryStatusToDo,
	}
}

func TestStartLegalPerson(t *testing.T) {
	e, _, recorder := newSelfDescription(t)
	app := test.SeedApplication(t, e, activeCompany(), checklistAt(process.EntryStatusToDo), process.StepStartSelfDescriptionLP)

	test.RunWorker(t, e)

	want := []string{
		"AWAIT_SELF_DESCRIPTION_LP_RESPONSE:TODO",
		"START_SELF_DESCRIPTION_LP:DONE",
	}
	if diff := cmp.Diff(want, test.StepStatuses(t, e, app.ChecklistProcessID)); diff != "" {
		t.Errorf("steps mismatch (-want +have):\n%s", diff)
	}
	if want, have := process.EntryStatusInProgress, test.Entry(t, e, app.ID, process.EntrySelfDescriptionLP).Status; want != have {
		t.Errorf("want: %v; have: %v", want, have)
	}
	calls := recorder.CallsTo("RegisterLegalPerson")
	if want, have := 1, len(calls); want != have {
		t.Fatalf("want: %v; have: %v", want, have)
	}
	want2 := &integration.LegalPersonRequest{
		ExternalID:  app.ID,
		BPN:         "BPNL00000001TEST",
		CountryCode: "DE",
		CallbackURL: "https://portal.example.com" + selfdescription.ApplicationCallbackPath,
	}
	if diff := cmp.Diff(want2, calls[0].Args[0]); diff != "" {
		t.Errorf("request mismatch (-want +have):\n%s", diff)
	}
}

func TestStartLegalPersonDisabled(t *testing.T) {
	e, _, recorder := newSelfDescription(t, selfdescription.WithClearinghouseConnectDisabled(true))
	app := test.SeedApplication(t, e, activeCompany(), checklistAt(process.EntryStatusToDo), process.StepStartSelfDescriptionLP)

	test.RunWorker(t, e)

	entry := test.Entry(t, e, app.ID, process.EntrySelfDescriptionLP)
	if want, have := process.EntryStatusSkipped, entry.Status; want != have {
		t.Errorf("want: %v; have: %v", want, have)
	}
	if want, have := selfdescription.SkippedMessage, entry.Comment; want != have {
		t.Errorf("want: %v; have: %v", want, have)
	}
	// the successor is the one of a completed self-description
	want := []string{
		"ASSIGN_INITIAL_ROLES:TODO",
		"START_SELF_DESCRIPTION_LP:DONE",
	}
	if diff := cmp.Diff(want, test.StepStatuses(t, e, app.ChecklistProcessID)); diff != "" {
		t.Errorf("steps mismatch (-want +have):\n%s", diff)
	}
	if want, have := 0, len(recorder.CallsTo("RegisterLegalPerson")); want != have {
		t.Errorf("want: %v; have: %v", want, have)
	}
}

func TestApplicationResponse(t *testing.T) {
	ctx := context.Background()
	e, s, _ := newSelfDescription(t)
	app := test.SeedApplication(t, e, activeCompany(), checklistAt(process.EntryStatusInProgress), process.StepAwaitSelfDescriptionLPResponse)

	for _, tc := range []struct {
		name string
		resp *selfdescription.Response
		err  error
	}{
		{"missing document", &selfdescription.Response{SubjectID: app.ID, Status: selfdescription.StatusConfirm}, process.ErrConflict},
		{"null document", &selfdescription.Response{SubjectID: app.ID, Status: selfdescription.StatusConfirm, Content: json.RawMessage("null")}, process.ErrConflict},
		{"missing message", &selfdescription.Response{SubjectID: app.ID, Status: selfdescription.StatusFailed}, process.ErrConflict},
		{"invalid status", &selfdescription.Response{SubjectID: app.ID, Status: "Pending"}, process.ErrArgument},
		{"missing subject", &selfdescription.Response{Status: selfdescription.StatusConfirm, Content: document}, process.ErrArgument},
		{"unknown application", &selfdescription.Response{SubjectID: "missing", Status: selfdescription.StatusConfirm, Content: document}, process.ErrNotFound},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if err := s.ProcessApplicationResponse(ctx, issuer, tc.resp); !errors.Is(err, tc.err) {
				t.Errorf("want: %v; have: %v", tc.err, err)
			}
		})
	}
	// no entity mutated
	if want, have := process.EntryStatusInProgress, test.Entry(t, e, app.ID, process.EntrySelfDescriptionLP).Status; want != have {
		t.Errorf("want: %v; have: %v", want, have)
	}

	if err := s.ProcessApplicationResponse(ctx, issuer, &selfdescription.Response{SubjectID: app.ID, Status: selfdescription.StatusConfirm, Content: document}); err != nil {
		t.Fatal(err)
	}
	if want, have := process.EntryStatusDone, test.Entry(t, e, app.ID, process.EntrySelfDescriptionLP).Status; want != have {
		t.Errorf("want: %v; have: %v", want, have)
	}
	want := []string{
		"ASSIGN_INITIAL_ROLES:TODO",
		"AWAIT_SELF_DESCRIPTION_LP_RESPONSE:DONE",
	}
	if diff := cmp.Diff(want, test.StepStatuses(t, e, app.ChecklistProcessID)); diff != "" {
		t.Errorf("steps mismatch (-want +have):\n%s", diff)
	}
	company := test.Retrieve[portal.Company](t, e, "company-1")
	if company.SelfDescriptionDocumentID == "" {
		t.Fatal("expected self-description document id")
	}
	doc := test.Retrieve[portal.Document](t, e, company.SelfDescriptionDocumentID)
	if want, have := portal.DocumentStatusLocked, doc.Status; want != have {
		t.Errorf("want: %v; have: %v", want, have)
	}
	if want, have := string(document), string(doc.Content); want != have {
		t.Errorf("want: %v; have: %v", want, have)
	}

	err := s.ProcessApplicationResponse(ctx, issuer, &selfdescription.Response{SubjectID: app.ID, Status: selfdescription.StatusConfirm, Content: document})
	if !errors.Is(err, process.ErrConflict) {
		t.Errorf("confirming twice: want: %v; have: %v", process.ErrConflict, err)
	}
}

func TestApplicationResponseFailed(t *testing.T) {
	ctx := context.Background()
	e, s, _ := newSelfDescription(t)
	app := test.SeedApplication(t, e, activeCompany(), checklistAt(process.EntryStatusInProgress), process.StepAwaitSelfDescriptionLPResponse)

	if err := s.ProcessApplicationResponse(ctx, issuer, &selfdescription.Response{SubjectID: app.ID, Status: selfdescription.StatusFailed, Message: "x"}); err != nil {
		t.Fatal(err)
	}
	entry := test.Entry(t, e, app.ID, process.EntrySelfDescriptionLP)
	if want, have := process.EntryStatusFailed, entry.Status; want != have {
		t.Errorf("want: %v; have: %v", want, have)
	}
	if want, have := "x", entry.Comment; want != have {
		t.Errorf("want: %v; have: %v", want, have)
	}
	want := []string{
		"AWAIT_SELF_DESCRIPTION_LP_RESPONSE:FAILED",
		"RETRIGGER_AWAIT_SELF_DESCRIPTION_LP_RESPONSE:TODO",
	}
	if diff := cmp.Diff(want, test.StepStatuses(t, e, app.ChecklistProcessID)); diff != "" {
		t.Errorf("steps mismatch (-want +have):\n%s", diff)
	}
}

func TestCompanySelfDescription(t *testing.T) {
	ctx := context.Background()
	e, s, recorder := newSelfDescription(t)
	u := e.NewUnitOfWork()
	if err := u.Add(activeCompany()); err != nil {
		t.Fatal(err)
	}
	if err := u.SaveChanges(ctx); err != nil {
		t.Fatal(err)
	}

	if _, err := s.StartCompanySelfDescription(ctx, issuer, "company-1"); !errors.Is(err, process.ErrForbidden) {
		t.Errorf("other company: want: %v; have: %v", process.ErrForbidden, err)
	}

	pid, err := s.StartCompanySelfDescription(ctx, provider, "company-1")
	if err != nil {
		t.Fatal(err)
	}
	if _, err = s.StartCompanySelfDescription(ctx, provider, "company-1"); !errors.Is(err, process.ErrConflict) {
		t.Errorf("starting twice: want: %v; have: %v", process.ErrConflict, err)
	}

	test.RunWorker(t, e)
	want := []string{
		"AWAIT_SELF_DESCRIPTION_COMPANY_RESPONSE:TODO",
		"SELF_DESCRIPTION_COMPANY_CREATION:DONE",
	}
	if diff := cmp.Diff(want, test.StepStatuses(t, e, pid)); diff != "" {
		t.Errorf("steps mismatch (-want +have):\n%s", diff)
	}
	if want, have := 1, len(recorder.CallsTo("RegisterLegalPerson")); want != have {
		t.Errorf("want: %v; have: %v", want, have)
	}

	if err = s.ProcessCompanyResponse(ctx, issuer, &selfdescription.Response{SubjectID: "company-1", Status: selfdescription.StatusFailed, Message: "x"}); err != nil {
		t.Fatal(err)
	}
	want = []string{
		"AWAIT_SELF_DESCRIPTION_COMPANY_RESPONSE:FAILED",
		"RETRIGGER_AWAIT_SELF_DESCRIPTION_COMPANY_RESPONSE:TODO",
		"SELF_DESCRIPTION_COMPANY_CREATION:DONE",
	}
	if diff := cmp.Diff(want, test.StepStatuses(t, e, pid)); diff != "" {
		t.Errorf("steps mismatch (-want +have):\n%s", diff)
	}

	if err = e.Retrigger(ctx, provider, pid, process.StepRetriggerAwaitSelfDescriptionCompanyResponse); err != nil {
		t.Fatal(err)
	}
	test.RunWorker(t, e)
	if err = s.ProcessCompanyResponse(ctx, issuer, &selfdescription.Response{SubjectID: "company-1", Status: selfdescription.StatusConfirm, Content: document}); err != nil {
		t.Fatal(err)
	}
	if test.Retrieve[portal.Company](t, e, "company-1").SelfDescriptionDocumentID == "" {
		t.Error("expected self-description document id")
	}
	snap, err := e.RetrieveProcess(ctx, pid)
	if err != nil {
		t.Fatal(err)
	}
	if !process.Finished(snap.Steps) {
		t.Error("expected finished process")
	}
}

func seedConnector(t *testing.T, e *engine.Engine, c *portal.Connector) {
	t.Helper()
	ctx := context.Background()
	u := e.NewUnitOfWork()
	if _, err := storage.Retrieve[portal.Company](ctx, u, "company-1"); storage.IsNotFound(err) {
		if err = u.Add(activeCompany()); err != nil {
			t.Fatal(err)
		}
	}
	if err := u.Add(c); err != nil {
		t.Fatal(err)
	}
	if err := u.SaveChanges(ctx); err != nil {
		t.Fatal(err)
	}
}

func TestConnectorSelfDescription(t *testing.T) {
	ctx := context.Background()
	e, s, recorder := newSelfDescription(t)
	seedConnector(t, e, &portal.Connector{
		ID:                "connector-1",
		Name:              "edc",
		URL:               "https://edc.example.com",
		ProviderCompanyID: "company-1",
		Status:            portal.ConnectorStatusPending,
	})

	other := process.Identity{UserID: "mallory", CompanyID: "company-2"}
	if _, err := s.StartConnectorSelfDescription(ctx, other, "connector-1"); !errors.Is(err, process.ErrForbidden) {
		t.Errorf("want: %v; have: %v", process.ErrForbidden, err)
	}
	pid, err := s.StartConnectorSelfDescription(ctx, provider, "connector-1")
	if err != nil {
		t.Fatal(err)
	}
	test.RunWorker(t, e)

	calls := recorder.CallsTo("RegisterConnector")
	if want, have := 1, len(calls); want != have {
		t.Fatalf("want: %v; have: %v", want, have)
	}
	req := calls[0].Args[0].(*integration.ConnectorRequest)
	if want, have := "BPNL00000001TEST", req.ProviderBPN; want != have {
		t.Errorf("want: %v; have: %v", want, have)
	}

	if err = s.ProcessConnectorResponse(ctx, issuer, &selfdescription.Response{SubjectID: "connector-1", Status: selfdescription.StatusFailed, Message: "x"}); err != nil {
		t.Fatal(err)
	}
	want := []string{
		"AWAIT_SELF_DESCRIPTION_CONNECTOR_RESPONSE:FAILED",
		"RETRIGGER_AWAIT_SELF_DESCRIPTION_CONNECTOR_RESPONSE:TODO",
		"SELF_DESCRIPTION_CONNECTOR_CREATION:DONE",
	}
	if diff := cmp.Diff(want, test.StepStatuses(t, e, pid)); diff != "" {
		t.Errorf("steps mismatch (-want +have):\n%s", diff)
	}
	if want, have := "x", test.Retrieve[portal.Connector](t, e, "connector-1").SelfDescriptionMessage; want != have {
		t.Errorf("want: %v; have: %v", want, have)
	}
}

func TestConnectorWithoutProcess(t *testing.T) {
	ctx := context.Background()
	e, s, _ := newSelfDescription(t)
	seedConnector(t, e, &portal.Connector{
		ID:                "connector-1",
		ProviderCompanyID: "company-1",
		Status:            portal.ConnectorStatusPending,
	})

	if err := s.ProcessConnectorResponse(ctx, issuer, &selfdescription.Response{SubjectID: "connector-1", Status: selfdescription.StatusFailed, Message: "x"}); err != nil {
		t.Fatal(err)
	}
	connector := test.Retrieve[portal.Connector](t, e, "connector-1")
	if want, have := portal.ConnectorStatusPending, connector.Status; want != have {
		t.Errorf("want: %v; have: %v", want, have)
	}
	if want, have := "x", connector.SelfDescriptionMessage; want != have {
		t.Errorf("want: %v; have: %v", want, have)
	}

	if err := s.ProcessConnectorResponse(ctx, issuer, &selfdescription.Response{SubjectID: "connector-1", Status: selfdescription.StatusConfirm, Content: document}); err != nil {
		t.Fatal(err)
	}
	connector = test.Retrieve[portal.Connector](t, e, "connector-1")
	if want, have := portal.ConnectorStatusActive, connector.Status; want != have {
		t.Errorf("want: %v; have: %v", want, have)
	}
	if connector.SelfDescriptionDocumentID == "" {
		t.Error("expected self-description document id")
	}
	if want, have := "", connector.SelfDescriptionMessage; want != have {
		t.Errorf("want: %v; have: %v", want, have)
	}

	err := s.ProcessConnectorResponse(ctx, issuer, &selfdescription.Response{SubjectID: "connector-1", Status: selfdescription.StatusConfirm, Content: document})
	if !errors.Is(err, process.ErrConflict) {
		t.Errorf("confirming twice: want: %v; have: %v", process.ErrConflict, err)
	}
}
