package registration

import (
	"context"
	"slices"
	"strings"

	"github.com/micromdm/nanoprocess/engine"
	"github.com/micromdm/nanoprocess/engine/storage"
	"github.com/micromdm/nanoprocess/log/logkeys"
	"github.com/micromdm/nanoprocess/portal"
	"github.com/micromdm/nanoprocess/process"

	"github.com/micromdm/nanolib/log/ctxlog"
)

// AgreementConsent is a company's answer to an agreement.
type AgreementConsent struct {
	AgreementID string               `json:"agreementId"`
	Status      portal.ConsentStatus `json:"consentStatus"`
}

// Submission is the final data of a partner-registered application.
type Submission struct {
	Roles      []portal.CompanyRole `json:"companyRoles"`
	Agreements []AgreementConsent   `json:"agreements"`
}

// Submitted identifies the checklist started by Submit.
type Submitted struct {
	ApplicationID      string `json:"applicationId"`
	ChecklistProcessID string `json:"checklistProcessId"`
}

// checkAgreements returns an argument error naming agreements of consents
// outside of required, or required agreements without an active consent.
func checkAgreements(required []string, consents []AgreementConsent) error {
	var extra []string
	active := make(map[string]bool)
	for _, c := range consents {
		if !slices.Contains(required, c.AgreementID) {
			extra = append(extra, c.AgreementID)
			continue
		}
		if c.Status == portal.ConsentStatusActive {
			active[c.AgreementID] = true
		}
	}
	if len(extra) > 0 {
		slices.Sort(extra)
		return process.NewArgumentError("agreements not associated with requested company roles: %s", strings.Join(extra, ", "))
	}
	var missing []string
	for _, id := range required {
		if !active[id] {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		return process.NewArgumentError("all agreements need to be signed as ACTIVE: %s", strings.Join(missing, ", "))
	}
	return nil
}

// initialChecklist seeds the checklist of a newly submitted application.
func initialChecklist(company *portal.Company) map[process.ChecklistEntryType]process.ChecklistEntryStatus {
	checklist := make(map[process.ChecklistEntryType]process.ChecklistEntryStatus)
	for _, t := range process.ChecklistEntryTypes {
		checklist[t] = process.EntryStatusToDo
	}
	if company.BusinessPartnerNumber != "" {
		checklist[process.EntryBusinessPartnerNumber] = process.EntryStatusDone
	}
	return checklist
}

// initialSteps are the first steps of a checklist.
func initialSteps(checklist map[process.ChecklistEntryType]process.ChecklistEntryStatus) []process.StepType {
	steps := []process.StepType{process.StepVerifyRegistration}
	if checklist[process.EntryBusinessPartnerNumber] == process.EntryStatusToDo {
		steps = append(steps, process.StepCreateBusinessPartnerNumberManual)
	}
	return steps
}

// Submit submits the application of the caller's company. Consents are
// stored for every agreement required by the requested roles, the
// application checklist is created and started, and the onboarding
// service provider is notified through the partner registration process.
func (r *Registration) Submit(ctx context.Context, identity process.Identity, req *Submission) (*Submitted, error) {
	if err := identity.Validate(); err != nil {
		return nil, process.NewArgumentError("%v", err)
	}
	if req == nil || len(req.Roles) < 1 {
		return nil, process.NewArgumentError("at least one company role is required")
	}
	u := r.engine.NewUnitOfWork()
	company, err := storage.Retrieve[portal.Company](ctx, u, identity.CompanyID)
	if storage.IsNotFound(err) {
		return nil, process.NewNotFoundError("company %s does not exist", identity.CompanyID)
	} else if err != nil {
		return nil, err
	}
	apps, err := storage.RetrieveByParent[portal.CompanyApplication](ctx, u, company.ID)
	if err != nil {
		return nil, err
	}
	if len(apps) != 1 {
		return nil, process.NewConflictError("company %s must have exactly one application, has %d", company.ID, len(apps))
	}
	app := apps[0]
	if app.Status != portal.ApplicationStatusCreated {
		return nil, process.NewConflictError("application %s is not in status %s", app.ID, portal.ApplicationStatusCreated)
	}
	if app.NetworkProcessID == "" {
		return nil, process.NewConflictError("application %s has no registration process", app.ID)
	}

	agreements, err := storage.RetrieveByStatus[portal.Agreement](ctx, u, string(portal.AgreementStatusActive))
	if err != nil {
		return nil, err
	}
	required := portal.RequiredAgreements(agreements, req.Roles)
	if err = checkAgreements(required, req.Agreements); err != nil {
		return nil, err
	}

	now := u.Now()
	for _, id := range required {
		if err = u.Add(&portal.Consent{
			ID:          u.NewID(),
			AgreementID: id,
			CompanyID:   company.ID,
			UserID:      identity.UserID,
			Status:      portal.ConsentStatusActive,
			DateCreated: now,
		}); err != nil {
			return nil, err
		}
	}
	roles := slices.Clone(req.Roles)
	slices.Sort(roles)
	roles = slices.Compact(roles)
	companyVersion := company.EntityVersion()
	if _, err = storage.AttachAndModify(ctx, u, company.ID, func(c *portal.Company) {
		c.SetEntityVersion(companyVersion)
	}, func(c *portal.Company) {
		c.Roles = roles
	}); err != nil {
		return nil, err
	}

	checklist := initialChecklist(company)
	if _, err = u.CreateChecklist(app.ID, checklist); err != nil {
		return nil, err
	}
	p, err := u.CreateProcess(process.TypeApplicationChecklist, app.ID)
	if err != nil {
		return nil, err
	}
	if _, err = engine.ScheduleSteps(ctx, u, p, initialSteps(checklist)...); err != nil {
		return nil, err
	}

	appVersion := app.EntityVersion()
	if _, err = storage.AttachAndModify(ctx, u, app.ID, func(a *portal.CompanyApplication) {
		a.SetEntityVersion(appVersion)
	}, func(a *portal.CompanyApplication) {
		a.Status = portal.ApplicationStatusSubmitted
		a.ChecklistProcessID = p.ID
		a.DateLastChanged = now
	}); err != nil {
		return nil, err
	}

	network, err := u.AttachAndModifyProcess(ctx, app.NetworkProcessID, nil, nil)
	if storage.IsNotFound(err) {
		return nil, process.NewNotFoundError("registration process %s does not exist", app.NetworkProcessID)
	} else if err != nil {
		return nil, err
	}
	if err = engine.SkipStepsOfTypes(ctx, u, network.ID, process.StepManualDeclineOSP); err != nil {
		return nil, err
	}
	if _, err = engine.ScheduleSteps(ctx, u, network, process.StepTriggerCallbackOSPSubmitted); err != nil {
		return nil, err
	}

	if err = u.SaveChanges(ctx); err != nil {
		return nil, err
	}
	ctxlog.Logger(ctx, r.logger).Debug(
		logkeys.Message, "submitted application",
		logkeys.ApplicationID, app.ID,
		logkeys.ProcessID, p.ID,
		logkeys.UserID, identity.UserID,
	)
	return &Submitted{ApplicationID: app.ID, ChecklistProcessID: p.ID}, nil
}
