// Package checklist implements the steps of the application checklist
// from registration verification to application activation.
package checklist

import (
	"context"
	"fmt"
	"strings"

	"github.com/micromdm/nanoprocess/engine"
	"github.com/micromdm/nanoprocess/engine/storage"
	"github.com/micromdm/nanoprocess/integration"
	"github.com/micromdm/nanoprocess/portal"
	"github.com/micromdm/nanoprocess/process"

	"github.com/micromdm/nanolib/log"
)

// ClearinghouseCallbackPath is appended to the callback base URL for
// clearinghouse validation requests.
const ClearinghouseCallbackPath = "/v1/clearinghouse/response"

// Checklist runs the application checklist.
type Checklist struct {
	engine        *engine.Engine
	broker        integration.IdentityBroker
	wallet        integration.Wallet
	clearinghouse integration.Clearinghouse
	callbackURL   string
	logger        log.Logger
}

type Option func(*Checklist)

func WithLogger(logger log.Logger) Option {
	return func(c *Checklist) {
		c.logger = logger
	}
}

// WithCallbackBaseURL sets the base URL external systems respond to.
func WithCallbackBaseURL(url string) Option {
	return func(c *Checklist) {
		c.callbackURL = strings.TrimRight(url, "/")
	}
}

// New creates a new Checklist and registers its automatic steps with e.
func New(e *engine.Engine, services *integration.Services, opts ...Option) (*Checklist, error) {
	c := &Checklist{
		engine:        e,
		broker:        services.IdentityBroker,
		wallet:        services.Wallet,
		clearinghouse: services.Clearinghouse,
		logger:        log.NopLogger,
	}
	for _, opt := range opts {
		opt(c)
	}
	for t, h := range map[process.StepType]engine.ChecklistStepHandler{
		process.StepCreateIdentityWallet: c.createWallet,
		process.StepStartClearingHouse:   c.startClearinghouse,
		process.StepAssignInitialRoles:   c.assignInitialRoles,
		process.StepActivateApplication:  c.activateApplication,
	} {
		if err := e.RegisterChecklistStepHandler(t, h); err != nil {
			return nil, fmt.Errorf("registering %s: %w", t, err)
		}
	}
	return c, nil
}

// requireDone returns a conflict error if any of types is not DONE in
// the checklist of data.
func requireDone(data *engine.ChecklistProcessStepData, types ...process.ChecklistEntryType) error {
	for _, t := range types {
		if s := data.Checklist[t]; s != process.EntryStatusDone {
			return process.NewConflictError("application %s checklist entry %s is %s, not %s", data.ApplicationID, t, s, process.EntryStatusDone)
		}
	}
	return nil
}

// retrieve returns the application of data and its company.
func retrieve(ctx context.Context, data *engine.ChecklistProcessStepData) (*portal.CompanyApplication, *portal.Company, error) {
	u := data.UnitOfWork
	app, err := storage.Retrieve[portal.CompanyApplication](ctx, u, data.ApplicationID)
	if storage.IsNotFound(err) {
		return nil, nil, process.NewNotFoundError("application %s does not exist", data.ApplicationID)
	} else if err != nil {
		return nil, nil, err
	}
	company, err := storage.Retrieve[portal.Company](ctx, u, app.CompanyID)
	if storage.IsNotFound(err) {
		return nil, nil, process.NewNotFoundError("company %s of application %s does not exist", app.CompanyID, app.ID)
	} else if err != nil {
		return nil, nil, err
	}
	return app, company, nil
}

// modifyCompany applies modify to company, failing on concurrent
// changes made after it was read.
func modifyCompany(ctx context.Context, u *storage.UnitOfWork, company *portal.Company, modify func(*portal.Company)) error {
	version := company.EntityVersion()
	_, err := storage.AttachAndModify(ctx, u, company.ID, func(c *portal.Company) {
		c.SetEntityVersion(version)
	}, modify)
	return err
}

func modifyApplication(ctx context.Context, u *storage.UnitOfWork, app *portal.CompanyApplication, modify func(*portal.CompanyApplication)) error {
	version := app.EntityVersion()
	_, err := storage.AttachAndModify(ctx, u, app.ID, func(a *portal.CompanyApplication) {
		a.SetEntityVersion(version)
	}, modify)
	return err
}

// setInvitations moves the open invitations of application appID to status.
func setInvitations(ctx context.Context, u *storage.UnitOfWork, appID string, status portal.InvitationStatus) (int, error) {
	invitations, err := storage.RetrieveByParent[portal.Invitation](ctx, u, appID)
	if err != nil {
		return 0, err
	}
	var n int
	for _, inv := range invitations {
		if inv.Status != portal.InvitationStatusCreated && inv.Status != portal.InvitationStatusPending {
			continue
		}
		if _, err = storage.AttachAndModify(ctx, u, inv.ID, nil, func(i *portal.Invitation) {
			i.Status = status
		}); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}
