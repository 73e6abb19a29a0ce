package registration

import (
	"context"

	"github.com/micromdm/nanoprocess/engine"
	"github.com/micromdm/nanoprocess/engine/storage"
	"github.com/micromdm/nanoprocess/portal"
)

// synchronizeUsers creates the central accounts of the company's users.
func (r *Registration) synchronizeUsers(ctx context.Context, data *engine.ProcessStepData) (*engine.StepResult, error) {
	app, err := retrieveApplication(ctx, data.UnitOfWork, data.Process.OwnerID)
	if err != nil {
		return nil, err
	}
	ids, err := companyUserIDs(ctx, data.UnitOfWork, app.CompanyID, portal.UserStatusActive)
	if err != nil {
		return nil, err
	}
	if len(ids) < 1 {
		return &engine.StepResult{Message: "no users to synchronize"}, nil
	}
	if err = r.broker.SynchronizeUsers(ctx, app.CompanyID, ids); err != nil {
		return nil, err
	}
	return nil, nil
}

// triggerCallback tells the onboarding service provider that the
// application was submitted.
func (r *Registration) triggerCallback(ctx context.Context, data *engine.ProcessStepData) (*engine.StepResult, error) {
	app, err := retrieveApplication(ctx, data.UnitOfWork, data.Process.OwnerID)
	if err != nil {
		return nil, err
	}
	if app.CallbackURL == "" {
		return &engine.StepResult{Message: "no callback url set"}, nil
	}
	if err = r.callback.NotifySubmitted(ctx, app.CallbackURL, app.ExternalID); err != nil {
		return nil, err
	}
	return nil, nil
}

// removeUsers deletes the central accounts of a declined company's
// users and deactivates them.
func (r *Registration) removeUsers(ctx context.Context, data *engine.ProcessStepData) (*engine.StepResult, error) {
	u := data.UnitOfWork
	app, err := retrieveApplication(ctx, u, data.Process.OwnerID)
	if err != nil {
		return nil, err
	}
	ids, err := companyUserIDs(ctx, u, app.CompanyID, portal.UserStatusActive)
	if err != nil {
		return nil, err
	}
	if len(ids) < 1 {
		return &engine.StepResult{Message: "no users to remove"}, nil
	}
	if err = r.broker.RemoveUsers(ctx, app.CompanyID, ids); err != nil {
		return nil, err
	}
	for _, id := range ids {
		if _, err = storage.AttachAndModify(ctx, u, id, nil, func(user *portal.CompanyUser) {
			user.Status = portal.UserStatusInactive
		}); err != nil {
			return nil, err
		}
	}
	return nil, nil
}
