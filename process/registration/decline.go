package registration

import (
	"context"

	"github.com/micromdm/nanoprocess/engine"
	"github.com/micromdm/nanoprocess/engine/storage"
	"github.com/micromdm/nanoprocess/log/logkeys"
	"github.com/micromdm/nanoprocess/portal"
	"github.com/micromdm/nanoprocess/process"

	"github.com/micromdm/nanolib/log/ctxlog"
)

// Decline cancels a partner-registered application on behalf of its
// company. The company is rejected, open invitations are declined and
// all pending steps except the removal of the company's users are
// skipped.
func (r *Registration) Decline(ctx context.Context, identity process.Identity, applicationID string) error {
	if err := identity.Validate(); err != nil {
		return process.NewArgumentError("%v", err)
	}
	app, err := retrieveApplication(ctx, r.engine.NewUnitOfWork(), applicationID)
	if err != nil {
		return err
	}
	if app.CompanyID != identity.CompanyID {
		return process.NewForbiddenError("user %s is not allowed to decline application %s", identity.UserID, app.ID)
	}
	if app.Type != portal.ApplicationTypeExternal {
		return process.NewConflictError("application %s is not an external application", app.ID)
	}
	if !app.StatusIn(portal.ApplicationEditableStatuses...) {
		return process.NewConflictError("application %s is in status %s and can not be declined", app.ID, app.Status)
	}
	if app.NetworkProcessID == "" {
		return process.NewConflictError("application %s has no registration process", app.ID)
	}

	data, err := r.engine.VerifyProcessStep(ctx, identity, app.NetworkProcessID, process.TypePartnerRegistration, process.StepManualDeclineOSP)
	if err != nil {
		return err
	}
	u := data.UnitOfWork
	now := u.Now()
	appVersion := app.EntityVersion()
	if _, err = storage.AttachAndModify(ctx, u, app.ID, func(a *portal.CompanyApplication) {
		a.SetEntityVersion(appVersion)
	}, func(a *portal.CompanyApplication) {
		a.Status = portal.ApplicationStatusCancelledByCustomer
		a.DateLastChanged = now
	}); err != nil {
		return err
	}
	if _, err = storage.AttachAndModify(ctx, u, app.CompanyID, nil, func(c *portal.Company) {
		c.Status = portal.CompanyStatusRejected
	}); err != nil {
		return err
	}
	invitations, err := storage.RetrieveByParent[portal.Invitation](ctx, u, app.ID)
	if err != nil {
		return err
	}
	for _, inv := range invitations {
		if inv.Status != portal.InvitationStatusCreated && inv.Status != portal.InvitationStatusPending {
			continue
		}
		if _, err = storage.AttachAndModify(ctx, u, inv.ID, nil, func(i *portal.Invitation) {
			i.Status = portal.InvitationStatusDeclined
		}); err != nil {
			return err
		}
	}

	if err = data.SkipProcessStepsExcept(ctx, process.StepRemoveKeycloakUsers); err != nil {
		return err
	}
	if app.ChecklistProcessID != "" {
		if err = engine.SkipPendingSteps(ctx, u, app.ChecklistProcessID); err != nil {
			return err
		}
	}
	if err = r.engine.FinalizeProcessStep(ctx, data, []process.StepType{process.StepRemoveKeycloakUsers}); err != nil {
		return err
	}
	ctxlog.Logger(ctx, r.logger).Debug(
		logkeys.Message, "declined application",
		logkeys.ApplicationID, app.ID,
		logkeys.CorrelationID, data.CorrelationID,
		logkeys.UserID, identity.UserID,
	)
	return nil
}
