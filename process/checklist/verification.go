package checklist

import (
	"context"
	"strings"
	"time"

	"github.com/micromdm/nanoprocess/engine"
	"github.com/micromdm/nanoprocess/log/logkeys"
	"github.com/micromdm/nanoprocess/portal"
	"github.com/micromdm/nanoprocess/process"

	"github.com/micromdm/nanolib/log/ctxlog"
)

var toDo = []process.ChecklistEntryStatus{process.EntryStatusToDo}

// walletPrerequisites must be DONE before the identity wallet is created.
var walletPrerequisites = []process.ChecklistEntryType{
	process.EntryRegistrationVerification,
	process.EntryBusinessPartnerNumber,
}

// nextAfter returns the wallet step if every wallet prerequisite other
// than completed is DONE.
func nextAfter(data *engine.ChecklistProcessStepData, completed process.ChecklistEntryType) []process.StepType {
	for _, t := range walletPrerequisites {
		if t != completed && data.Checklist[t] != process.EntryStatusDone {
			return nil
		}
	}
	return []process.StepType{process.StepCreateIdentityWallet}
}

func entryDone(now func() time.Time) func(*process.ChecklistEntry) {
	return func(entry *process.ChecklistEntry) {
		entry.Status = process.EntryStatusDone
		entry.DateLastChanged = now()
	}
}

// ApproveRegistration approves the registration data of application
// applicationID. The identity wallet is created once the business
// partner number is also known.
func (c *Checklist) ApproveRegistration(ctx context.Context, identity process.Identity, applicationID string) error {
	data, err := c.engine.VerifyChecklistEntryAndProcessSteps(ctx, identity, applicationID, process.EntryRegistrationVerification, toDo, process.StepVerifyRegistration)
	if err != nil {
		return err
	}
	next := nextAfter(data, process.EntryRegistrationVerification)
	if err = c.engine.FinalizeChecklistEntryAndProcessSteps(ctx, data, nil, entryDone(data.UnitOfWork.Now), next); err != nil {
		return err
	}
	ctxlog.Logger(ctx, c.logger).Info(
		logkeys.Message, "approved registration",
		logkeys.ApplicationID, applicationID,
		logkeys.UserID, identity.UserID,
		logkeys.CorrelationID, data.CorrelationID,
	)
	return nil
}

// DeclineRegistration declines application applicationID with comment.
// The application is DECLINED, its company REJECTED and its open
// invitations DECLINED. Every other pending checklist step is skipped.
func (c *Checklist) DeclineRegistration(ctx context.Context, identity process.Identity, applicationID, comment string) error {
	comment = strings.TrimSpace(comment)
	if comment == "" {
		return process.NewArgumentError("a comment is required to decline application %s", applicationID)
	}
	data, err := c.engine.VerifyChecklistEntryAndProcessSteps(ctx, identity, applicationID, process.EntryRegistrationVerification, toDo, process.StepVerifyRegistration)
	if err != nil {
		return err
	}
	app, company, err := retrieve(ctx, data)
	if err != nil {
		return err
	}
	if app.Status != portal.ApplicationStatusSubmitted {
		return process.NewConflictError("application %s is not in status %s", app.ID, portal.ApplicationStatusSubmitted)
	}
	u := data.UnitOfWork
	now := u.Now()
	if err = modifyApplication(ctx, u, app, func(a *portal.CompanyApplication) {
		a.Status = portal.ApplicationStatusDeclined
		a.DateLastChanged = now
	}); err != nil {
		return err
	}
	if err = modifyCompany(ctx, u, company, func(c *portal.Company) {
		c.Status = portal.CompanyStatusRejected
	}); err != nil {
		return err
	}
	if _, err = setInvitations(ctx, u, app.ID, portal.InvitationStatusDeclined); err != nil {
		return err
	}
	if err = data.SkipProcessStepsExcept(ctx); err != nil {
		return err
	}
	if err = c.engine.FinalizeChecklistEntryAndProcessSteps(ctx, data, nil, func(entry *process.ChecklistEntry) {
		entry.Status = process.EntryStatusFailed
		entry.Comment = comment
		entry.DateLastChanged = now
	}, nil); err != nil {
		return err
	}
	ctxlog.Logger(ctx, c.logger).Info(
		logkeys.Message, "declined registration",
		logkeys.ApplicationID, applicationID,
		logkeys.UserID, identity.UserID,
		logkeys.CorrelationID, data.CorrelationID,
	)
	return nil
}

// ValidBusinessPartnerNumber returns true if bpn is a legal entity
// business partner number: "BPNL" followed by 12 alphanumerics.
func ValidBusinessPartnerNumber(bpn string) bool {
	if len(bpn) != 16 || !strings.HasPrefix(bpn, "BPNL") {
		return false
	}
	for _, r := range bpn[4:] {
		if !(r >= '0' && r <= '9') && !(r >= 'A' && r <= 'Z') {
			return false
		}
	}
	return true
}

// SetBusinessPartnerNumber stores the manually created business partner
// number bpn for the company of application applicationID.
func (c *Checklist) SetBusinessPartnerNumber(ctx context.Context, identity process.Identity, applicationID, bpn string) error {
	bpn = strings.ToUpper(strings.TrimSpace(bpn))
	if !ValidBusinessPartnerNumber(bpn) {
		return process.NewArgumentError("invalid business partner number %q", bpn)
	}
	data, err := c.engine.VerifyChecklistEntryAndProcessSteps(ctx, identity, applicationID, process.EntryBusinessPartnerNumber, toDo, process.StepCreateBusinessPartnerNumberManual)
	if err != nil {
		return err
	}
	_, company, err := retrieve(ctx, data)
	if err != nil {
		return err
	}
	if company.BusinessPartnerNumber != "" {
		return process.NewConflictError("company %s already has business partner number %s", company.ID, company.BusinessPartnerNumber)
	}
	if err = modifyCompany(ctx, data.UnitOfWork, company, func(c *portal.Company) {
		c.BusinessPartnerNumber = bpn
	}); err != nil {
		return err
	}
	next := nextAfter(data, process.EntryBusinessPartnerNumber)
	if err = c.engine.FinalizeChecklistEntryAndProcessSteps(ctx, data, nil, entryDone(data.UnitOfWork.Now), next); err != nil {
		return err
	}
	ctxlog.Logger(ctx, c.logger).Info(
		logkeys.Message, "set business partner number",
		logkeys.ApplicationID, applicationID,
		logkeys.CompanyID, company.ID,
		logkeys.CorrelationID, data.CorrelationID,
	)
	return nil
}
