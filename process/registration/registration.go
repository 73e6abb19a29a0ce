// Package registration implements partner registration of companies by
// onboarding service providers and the submission and decline of their
// applications.
package registration

import (
	"context"
	"fmt"

	"github.com/micromdm/nanoprocess/engine"
	"github.com/micromdm/nanoprocess/engine/storage"
	"github.com/micromdm/nanoprocess/integration"
	"github.com/micromdm/nanoprocess/portal"
	"github.com/micromdm/nanoprocess/process"

	"github.com/micromdm/nanolib/log"
)

// Registration runs the partner registration process.
type Registration struct {
	engine   *engine.Engine
	broker   integration.IdentityBroker
	callback integration.PartnerCallback
	logger   log.Logger
}

type Option func(*Registration)

func WithLogger(logger log.Logger) Option {
	return func(r *Registration) {
		r.logger = logger
	}
}

// New creates a new Registration and registers its automatic steps
// with e.
func New(e *engine.Engine, services *integration.Services, opts ...Option) (*Registration, error) {
	r := &Registration{
		engine:   e,
		broker:   services.IdentityBroker,
		callback: services.PartnerCallback,
		logger:   log.NopLogger,
	}
	for _, opt := range opts {
		opt(r)
	}
	for t, h := range map[process.StepType]engine.StepHandler{
		process.StepSynchronizeUser:             r.synchronizeUsers,
		process.StepTriggerCallbackOSPSubmitted: r.triggerCallback,
		process.StepRemoveKeycloakUsers:         r.removeUsers,
	} {
		if err := e.RegisterStepHandler(t, h); err != nil {
			return nil, fmt.Errorf("registering %s: %w", t, err)
		}
	}
	return r, nil
}

func retrieveApplication(ctx context.Context, u *storage.UnitOfWork, id string) (*portal.CompanyApplication, error) {
	app, err := storage.Retrieve[portal.CompanyApplication](ctx, u, id)
	if storage.IsNotFound(err) {
		return nil, process.NewNotFoundError("application %s does not exist", id)
	}
	return app, err
}

// companyUserIDs returns the ids of the users of companyID with status.
func companyUserIDs(ctx context.Context, u *storage.UnitOfWork, companyID string, status portal.UserStatus) ([]string, error) {
	users, err := storage.RetrieveByParent[portal.CompanyUser](ctx, u, companyID)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, user := range users {
		if user.Status == status {
			ids = append(ids, user.ID)
		}
	}
	return ids, nil
}
