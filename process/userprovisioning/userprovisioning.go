// Package userprovisioning deletes company users from the central
// identity broker.
package userprovisioning

import (
	"context"
	"fmt"

	"github.com/micromdm/nanoprocess/engine"
	"github.com/micromdm/nanoprocess/engine/storage"
	"github.com/micromdm/nanoprocess/integration"
	"github.com/micromdm/nanoprocess/log/logkeys"
	"github.com/micromdm/nanoprocess/portal"
	"github.com/micromdm/nanoprocess/process"

	"github.com/micromdm/nanolib/log"
	"github.com/micromdm/nanolib/log/ctxlog"
)

// UserProvisioning runs the user deletion process.
type UserProvisioning struct {
	engine *engine.Engine
	broker integration.IdentityBroker
	logger log.Logger
}

type Option func(*UserProvisioning)

func WithLogger(logger log.Logger) Option {
	return func(p *UserProvisioning) {
		p.logger = logger
	}
}

// New creates a new UserProvisioning and registers its automatic steps
// with e.
func New(e *engine.Engine, services *integration.Services, opts ...Option) (*UserProvisioning, error) {
	p := &UserProvisioning{
		engine: e,
		broker: services.IdentityBroker,
		logger: log.NopLogger,
	}
	for _, opt := range opts {
		opt(p)
	}
	if err := e.RegisterStepHandler(process.StepDeleteCentralUser, p.deleteCentralUser); err != nil {
		return nil, fmt.Errorf("registering %s: %w", process.StepDeleteCentralUser, err)
	}
	return p, nil
}

// DeleteUser deactivates user userID of the caller's company and starts
// its deletion from the identity broker. It returns the process id.
func (p *UserProvisioning) DeleteUser(ctx context.Context, identity process.Identity, userID string) (string, error) {
	u := p.engine.NewUnitOfWork()
	user, err := storage.Retrieve[portal.CompanyUser](ctx, u, userID)
	if storage.IsNotFound(err) {
		return "", process.NewNotFoundError("user %s does not exist", userID)
	} else if err != nil {
		return "", err
	}
	if user.CompanyID != identity.CompanyID {
		return "", process.NewForbiddenError("user %s does not belong to company %s", user.ID, identity.CompanyID)
	}
	if user.Status == portal.UserStatusDeleted {
		return "", process.NewConflictError("user %s is already deleted", user.ID)
	}
	if user.ProvisioningProcessID != "" {
		_, steps, err := u.RetrieveProcess(ctx, user.ProvisioningProcessID)
		if err != nil && !storage.IsNotFound(err) {
			return "", err
		}
		if len(process.Pending(steps)) > 0 {
			return "", process.NewConflictError("user %s is already being deleted", user.ID)
		}
	}
	proc, err := u.CreateProcess(process.TypeUserProvisioning, user.ID)
	if err != nil {
		return "", err
	}
	if _, err = engine.ScheduleSteps(ctx, u, proc, process.StepDeleteCentralUser); err != nil {
		return "", err
	}
	version := user.EntityVersion()
	if _, err = storage.AttachAndModify(ctx, u, user.ID, func(cu *portal.CompanyUser) {
		cu.SetEntityVersion(version)
	}, func(cu *portal.CompanyUser) {
		cu.Status = portal.UserStatusInactive
		cu.ProvisioningProcessID = proc.ID
	}); err != nil {
		return "", err
	}
	if err = u.SaveChanges(ctx); err != nil {
		return "", err
	}
	ctxlog.Logger(ctx, p.logger).Info(
		logkeys.Message, "deleting user",
		logkeys.UserID, user.ID,
		logkeys.CompanyID, user.CompanyID,
		logkeys.ProcessID, proc.ID,
	)
	return proc.ID, nil
}

func (p *UserProvisioning) deleteCentralUser(ctx context.Context, data *engine.ProcessStepData) (*engine.StepResult, error) {
	user, err := storage.Retrieve[portal.CompanyUser](ctx, data.UnitOfWork, data.Process.OwnerID)
	if storage.IsNotFound(err) {
		return nil, process.NewNotFoundError("user %s does not exist", data.Process.OwnerID)
	} else if err != nil {
		return nil, err
	}
	if err = p.broker.DeleteCentralUser(ctx, user.ID); err != nil {
		return nil, fmt.Errorf("deleting central user: %w", err)
	}
	if _, err = storage.AttachAndModify(ctx, data.UnitOfWork, user.ID, nil, func(cu *portal.CompanyUser) {
		cu.Status = portal.UserStatusDeleted
	}); err != nil {
		return nil, err
	}
	return &engine.StepResult{Message: "deleted user " + user.ID}, nil
}
