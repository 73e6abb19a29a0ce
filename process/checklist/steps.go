package checklist

import (
	"context"
	"fmt"

	"github.com/micromdm/nanoprocess/engine"
	"github.com/micromdm/nanoprocess/integration"
	"github.com/micromdm/nanoprocess/log/logkeys"
	"github.com/micromdm/nanoprocess/portal"
	"github.com/micromdm/nanoprocess/process"

	"github.com/micromdm/nanolib/log/ctxlog"
)

func (c *Checklist) createWallet(ctx context.Context, data *engine.ChecklistProcessStepData) (*engine.ChecklistStepResult, error) {
	if err := requireDone(data, walletPrerequisites...); err != nil {
		return nil, err
	}
	_, company, err := retrieve(ctx, data)
	if err != nil {
		return nil, err
	}
	if company.BusinessPartnerNumber == "" {
		return nil, process.NewConflictError("company %s has no business partner number", company.ID)
	}
	did, err := c.wallet.CreateWallet(ctx, company.ID, company.BusinessPartnerNumber)
	if err != nil {
		return nil, fmt.Errorf("creating wallet: %w", err)
	}
	if err = modifyCompany(ctx, data.UnitOfWork, company, func(c *portal.Company) {
		c.WalletDID = did
	}); err != nil {
		return nil, err
	}
	return &engine.ChecklistStepResult{
		StepResult: engine.StepResult{
			NextSteps: []process.StepType{process.StepStartClearingHouse},
			Message:   "created wallet " + did,
		},
		ModifyEntry: entryDone(data.UnitOfWork.Now),
	}, nil
}

func (c *Checklist) startClearinghouse(ctx context.Context, data *engine.ChecklistProcessStepData) (*engine.ChecklistStepResult, error) {
	if err := requireDone(data, process.EntryIdentityWallet); err != nil {
		return nil, err
	}
	app, company, err := retrieve(ctx, data)
	if err != nil {
		return nil, err
	}
	if company.WalletDID == "" {
		return nil, process.NewConflictError("company %s has no wallet", company.ID)
	}
	req := &integration.ClearinghouseRequest{
		ApplicationID: app.ID,
		CompanyID:     company.ID,
		BPN:           company.BusinessPartnerNumber,
		DID:           company.WalletDID,
		CountryCode:   company.CountryCode,
	}
	if c.callbackURL != "" {
		req.CallbackURL = c.callbackURL + ClearinghouseCallbackPath
	}
	if err = c.clearinghouse.ValidateCompany(ctx, req); err != nil {
		return nil, fmt.Errorf("requesting clearinghouse validation: %w", err)
	}
	now := data.UnitOfWork.Now
	return &engine.ChecklistStepResult{
		StepResult: engine.StepResult{
			NextSteps: []process.StepType{process.StepAwaitClearingHouseResponse},
		},
		ModifyEntry: func(entry *process.ChecklistEntry) {
			entry.Status = process.EntryStatusInProgress
			entry.DateLastChanged = now()
		},
	}, nil
}

// activationPrerequisites must be DONE before initial roles are assigned.
var activationPrerequisites = []process.ChecklistEntryType{
	process.EntryRegistrationVerification,
	process.EntryBusinessPartnerNumber,
	process.EntryIdentityWallet,
	process.EntryClearingHouse,
}

func (c *Checklist) assignInitialRoles(ctx context.Context, data *engine.ChecklistProcessStepData) (*engine.ChecklistStepResult, error) {
	if err := requireDone(data, activationPrerequisites...); err != nil {
		return nil, err
	}
	if s := data.Checklist[process.EntrySelfDescriptionLP]; s != process.EntryStatusDone && s != process.EntryStatusSkipped {
		return nil, process.NewConflictError("application %s checklist entry %s is %s", data.ApplicationID, process.EntrySelfDescriptionLP, s)
	}
	_, company, err := retrieve(ctx, data)
	if err != nil {
		return nil, err
	}
	roles := make([]string, len(company.Roles))
	for i, r := range company.Roles {
		roles[i] = string(r)
	}
	if err = c.broker.AssignInitialRoles(ctx, company.ID, roles); err != nil {
		return nil, fmt.Errorf("assigning initial roles: %w", err)
	}
	now := data.UnitOfWork.Now
	return &engine.ChecklistStepResult{
		StepResult: engine.StepResult{
			NextSteps: []process.StepType{process.StepActivateApplication},
		},
		ModifyEntry: func(entry *process.ChecklistEntry) {
			entry.Status = process.EntryStatusInProgress
			entry.DateLastChanged = now()
		},
	}, nil
}

func (c *Checklist) activateApplication(ctx context.Context, data *engine.ChecklistProcessStepData) (*engine.ChecklistStepResult, error) {
	if data.Entry.Status != process.EntryStatusInProgress {
		return nil, process.NewConflictError("application %s initial roles are not assigned", data.ApplicationID)
	}
	app, company, err := retrieve(ctx, data)
	if err != nil {
		return nil, err
	}
	if app.Status != portal.ApplicationStatusSubmitted {
		return nil, process.NewConflictError("application %s is not in status %s", app.ID, portal.ApplicationStatusSubmitted)
	}
	u := data.UnitOfWork
	now := u.Now()
	if err = modifyApplication(ctx, u, app, func(a *portal.CompanyApplication) {
		a.Status = portal.ApplicationStatusConfirmed
		a.DateLastChanged = now
	}); err != nil {
		return nil, err
	}
	if err = modifyCompany(ctx, u, company, func(c *portal.Company) {
		c.Status = portal.CompanyStatusActive
	}); err != nil {
		return nil, err
	}
	n, err := setInvitations(ctx, u, app.ID, portal.InvitationStatusAccepted)
	if err != nil {
		return nil, err
	}
	ctxlog.Logger(ctx, c.logger).Info(
		logkeys.Message, "activated application",
		logkeys.ApplicationID, app.ID,
		logkeys.CompanyID, company.ID,
		logkeys.GenericCount, n,
	)
	return &engine.ChecklistStepResult{
		StepResult:  engine.StepResult{Message: "application activated"},
		ModifyEntry: entryDone(u.Now),
	}, nil
}
