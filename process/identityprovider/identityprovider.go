// Package identityprovider tears down disabled identity providers of
// companies.
package identityprovider

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

// IdentityProviders runs the identity provider teardown process.
type IdentityProviders struct {
	engine *engine.Engine
	broker integration.IdentityBroker
	logger log.Logger
}

type Option func(*IdentityProviders)

func WithLogger(logger log.Logger) Option {
	return func(i *IdentityProviders) {
		i.logger = logger
	}
}

// New creates a new IdentityProviders and registers its automatic steps
// with e.
func New(e *engine.Engine, services *integration.Services, opts ...Option) (*IdentityProviders, error) {
	i := &IdentityProviders{
		engine: e,
		broker: services.IdentityBroker,
		logger: log.NopLogger,
	}
	for _, opt := range opts {
		opt(i)
	}
	for t, h := range map[process.StepType]engine.StepHandler{
		process.StepDeleteIdpSharedRealm:          i.deleteSharedRealm,
		process.StepDeleteCentralIdentityProvider: i.deleteCentral,
		process.StepDeleteIdentityProvider:        i.delete,
	} {
		if err := e.RegisterStepHandler(t, h); err != nil {
			return nil, fmt.Errorf("registering %s: %w", t, err)
		}
	}
	return i, nil
}

// DeleteIdentityProvider starts the teardown of disabled identity
// provider id of the caller's company and returns the process id.
// Shared identity providers have their shared realm deleted first.
func (i *IdentityProviders) DeleteIdentityProvider(ctx context.Context, identity process.Identity, id string) (string, error) {
	u := i.engine.NewUnitOfWork()
	idp, err := storage.Retrieve[portal.IdentityProvider](ctx, u, id)
	if storage.IsNotFound(err) {
		return "", process.NewNotFoundError("identity provider %s does not exist", id)
	} else if err != nil {
		return "", err
	}
	if idp.CompanyID != identity.CompanyID {
		return "", process.NewForbiddenError("company %s does not own identity provider %s", identity.CompanyID, idp.ID)
	}
	if idp.Status != portal.IdentityProviderStatusDisabled {
		return "", process.NewConflictError("identity provider %s is %s, not %s", idp.ID, idp.Status, portal.IdentityProviderStatusDisabled)
	}
	if idp.ProcessID != "" {
		_, steps, err := u.RetrieveProcess(ctx, idp.ProcessID)
		if err != nil && !storage.IsNotFound(err) {
			return "", err
		}
		if len(process.Pending(steps)) > 0 {
			return "", process.NewConflictError("identity provider %s is already being deleted", idp.ID)
		}
	}
	p, err := u.CreateProcess(process.TypeIdentityProviderProvisioning, idp.ID)
	if err != nil {
		return "", err
	}
	first := process.StepDeleteCentralIdentityProvider
	if idp.Type == portal.IdentityProviderTypeShared {
		first = process.StepDeleteIdpSharedRealm
	}
	if _, err = engine.ScheduleSteps(ctx, u, p, first); err != nil {
		return "", err
	}
	version := idp.EntityVersion()
	if _, err = storage.AttachAndModify(ctx, u, idp.ID, func(ip *portal.IdentityProvider) {
		ip.SetEntityVersion(version)
	}, func(ip *portal.IdentityProvider) {
		ip.ProcessID = p.ID
	}); err != nil {
		return "", err
	}
	if err = u.SaveChanges(ctx); err != nil {
		return "", err
	}
	ctxlog.Logger(ctx, i.logger).Info(
		logkeys.Message, "deleting identity provider",
		logkeys.IdentityProviderID, idp.ID,
		logkeys.ProcessID, p.ID,
		logkeys.UserID, identity.UserID,
	)
	return p.ID, nil
}

func retrieve(ctx context.Context, data *engine.ProcessStepData) (*portal.IdentityProvider, error) {
	idp, err := storage.Retrieve[portal.IdentityProvider](ctx, data.UnitOfWork, data.Process.OwnerID)
	if storage.IsNotFound(err) {
		return nil, process.NewNotFoundError("identity provider %s does not exist", data.Process.OwnerID)
	}
	return idp, err
}

func (i *IdentityProviders) deleteSharedRealm(ctx context.Context, data *engine.ProcessStepData) (*engine.StepResult, error) {
	idp, err := retrieve(ctx, data)
	if err != nil {
		return nil, err
	}
	if idp.Type != portal.IdentityProviderTypeShared {
		return nil, process.NewConflictError("identity provider %s is not %s", idp.ID, portal.IdentityProviderTypeShared)
	}
	if err = i.broker.DeleteSharedRealm(ctx, idp.Alias); err != nil {
		return nil, fmt.Errorf("deleting shared realm %s: %w", idp.Alias, err)
	}
	return &engine.StepResult{
		NextSteps: []process.StepType{process.StepDeleteCentralIdentityProvider},
	}, nil
}

func (i *IdentityProviders) deleteCentral(ctx context.Context, data *engine.ProcessStepData) (*engine.StepResult, error) {
	idp, err := retrieve(ctx, data)
	if err != nil {
		return nil, err
	}
	if err = i.broker.DeleteCentralIdentityProvider(ctx, idp.Alias); err != nil {
		return nil, fmt.Errorf("deleting central identity provider %s: %w", idp.Alias, err)
	}
	return &engine.StepResult{
		NextSteps: []process.StepType{process.StepDeleteIdentityProvider},
	}, nil
}

func (i *IdentityProviders) delete(ctx context.Context, data *engine.ProcessStepData) (*engine.StepResult, error) {
	idp, err := retrieve(ctx, data)
	if err != nil {
		return nil, err
	}
	if _, err = storage.AttachAndModify(ctx, data.UnitOfWork, idp.ID, nil, func(ip *portal.IdentityProvider) {
		ip.Status = portal.IdentityProviderStatusDeleted
	}); err != nil {
		return nil, err
	}
	return &engine.StepResult{Message: "identity provider " + idp.Alias + " deleted"}, nil
}
