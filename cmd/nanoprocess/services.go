package main

import (
	"fmt"

	"github.com/micromdm/nanoprocess/engine"
	enginehttp "github.com/micromdm/nanoprocess/engine/http"
	"github.com/micromdm/nanoprocess/integration"
	"github.com/micromdm/nanoprocess/process/checklist"
	"github.com/micromdm/nanoprocess/process/identityprovider"
	"github.com/micromdm/nanoprocess/process/registration"
	"github.com/micromdm/nanoprocess/process/selfdescription"
	"github.com/micromdm/nanoprocess/process/technicaluser"
	"github.com/micromdm/nanoprocess/process/userprovisioning"

	"github.com/micromdm/nanolib/log"
)

// registerServices registers the step handlers of every process flow
// with e and returns the flows for the API.
func registerServices(logger log.Logger, e *engine.Engine, cfg *integration.Config, services *integration.Services) (*enginehttp.Services, error) {
	s := &enginehttp.Services{Process: e}
	var err error

	s.Registration, err = registration.New(e, services,
		registration.WithLogger(logger.With("service", "registration")),
	)
	if err != nil {
		return nil, fmt.Errorf("registration: %w", err)
	}

	s.Checklist, err = checklist.New(e, services,
		checklist.WithLogger(logger.With("service", "checklist")),
		checklist.WithCallbackBaseURL(cfg.CallbackBaseURL),
	)
	if err != nil {
		return nil, fmt.Errorf("checklist: %w", err)
	}

	s.SelfDescription, err = selfdescription.New(e, services,
		selfdescription.WithLogger(logger.With("service", "self-description")),
		selfdescription.WithCallbackBaseURL(cfg.CallbackBaseURL),
		selfdescription.WithClearinghouseConnectDisabled(cfg.SelfDescription.ClearinghouseConnectDisabled),
	)
	if err != nil {
		return nil, fmt.Errorf("self-description: %w", err)
	}

	s.TechnicalUsers, err = technicaluser.New(e, services,
		technicaluser.WithLogger(logger.With("service", "technical user")),
		technicaluser.WithCallbackBaseURL(cfg.CallbackBaseURL),
	)
	if err != nil {
		return nil, fmt.Errorf("technical user: %w", err)
	}

	s.IdentityProviders, err = identityprovider.New(e, services,
		identityprovider.WithLogger(logger.With("service", "identity provider")),
	)
	if err != nil {
		return nil, fmt.Errorf("identity provider: %w", err)
	}

	s.Users, err = userprovisioning.New(e, services,
		userprovisioning.WithLogger(logger.With("service", "user provisioning")),
	)
	if err != nil {
		return nil, fmt.Errorf("user provisioning: %w", err)
	}

	return s, nil
}
