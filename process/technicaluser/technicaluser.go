// Package technicaluser creates technical users of companies through an
// external wallet provider.
package technicaluser

import (
	"context"
	"fmt"
	"strings"

	"github.com/micromdm/nanoprocess/engine"
	"github.com/micromdm/nanoprocess/engine/storage"
	"github.com/micromdm/nanoprocess/integration"
	"github.com/micromdm/nanoprocess/log/logkeys"
	"github.com/micromdm/nanoprocess/portal"
	"github.com/micromdm/nanoprocess/process"

	"github.com/micromdm/nanolib/log"
	"github.com/micromdm/nanolib/log/ctxlog"
)

// CallbackPath is appended to the callback base URL for creation requests.
const CallbackPath = "/v1/technicaluser/response"

// TechnicalUsers runs the technical user creation process.
type TechnicalUsers struct {
	engine      *engine.Engine
	provider    integration.TechnicalUserProvider
	callbackURL string
	logger      log.Logger
}

type Option func(*TechnicalUsers)

func WithLogger(logger log.Logger) Option {
	return func(t *TechnicalUsers) {
		t.logger = logger
	}
}

// WithCallbackBaseURL sets the base URL the provider responds to.
func WithCallbackBaseURL(url string) Option {
	return func(t *TechnicalUsers) {
		t.callbackURL = strings.TrimRight(url, "/")
	}
}

// New creates a new TechnicalUsers and registers its automatic steps with e.
func New(e *engine.Engine, services *integration.Services, opts ...Option) (*TechnicalUsers, error) {
	t := &TechnicalUsers{
		engine:   e,
		provider: services.TechnicalUserProvider,
		logger:   log.NopLogger,
	}
	for _, opt := range opts {
		opt(t)
	}
	if err := e.RegisterStepHandler(process.StepCreateDimTechnicalUser, t.create); err != nil {
		return nil, fmt.Errorf("registering %s: %w", process.StepCreateDimTechnicalUser, err)
	}
	return t, nil
}

// Request describes a new technical user.
type Request struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// CreateTechnicalUser creates a pending technical user for the caller's
// company and starts its creation process.
func (t *TechnicalUsers) CreateTechnicalUser(ctx context.Context, identity process.Identity, req *Request) (*portal.TechnicalUser, error) {
	if err := identity.Validate(); err != nil {
		return nil, process.NewArgumentError("%v", err)
	}
	if req == nil || strings.TrimSpace(req.Name) == "" {
		return nil, process.NewArgumentError("technical user name must not be empty")
	}
	u := t.engine.NewUnitOfWork()
	company, err := storage.Retrieve[portal.Company](ctx, u, identity.CompanyID)
	if storage.IsNotFound(err) {
		return nil, process.NewNotFoundError("company %s does not exist", identity.CompanyID)
	} else if err != nil {
		return nil, err
	}
	if company.Status != portal.CompanyStatusActive {
		return nil, process.NewConflictError("company %s is not %s", company.ID, portal.CompanyStatusActive)
	}
	if company.BusinessPartnerNumber == "" {
		return nil, process.NewConflictError("company %s has no business partner number", company.ID)
	}
	user := &portal.TechnicalUser{
		ID:          u.NewID(),
		CompanyID:   company.ID,
		Name:        strings.TrimSpace(req.Name),
		Description: req.Description,
		Status:      portal.TechnicalUserStatusPending,
	}
	p, err := u.CreateProcess(process.TypeDimTechnicalUser, user.ID)
	if err != nil {
		return nil, err
	}
	user.ProcessID = p.ID
	if err = u.Add(user); err != nil {
		return nil, err
	}
	if _, err = engine.ScheduleSteps(ctx, u, p, process.StepCreateDimTechnicalUser); err != nil {
		return nil, err
	}
	if err = u.SaveChanges(ctx); err != nil {
		return nil, err
	}
	ctxlog.Logger(ctx, t.logger).Debug(
		logkeys.Message, "created technical user",
		logkeys.TechnicalUserID, user.ID,
		logkeys.CompanyID, company.ID,
		logkeys.ProcessID, p.ID,
	)
	return user, nil
}

func (t *TechnicalUsers) create(ctx context.Context, data *engine.ProcessStepData) (*engine.StepResult, error) {
	u := data.UnitOfWork
	user, err := storage.Retrieve[portal.TechnicalUser](ctx, u, data.Process.OwnerID)
	if storage.IsNotFound(err) {
		return nil, process.NewNotFoundError("technical user %s does not exist", data.Process.OwnerID)
	} else if err != nil {
		return nil, err
	}
	if user.Status == portal.TechnicalUserStatusActive || user.Status == portal.TechnicalUserStatusInactive {
		return nil, process.NewConflictError("technical user %s is %s", user.ID, user.Status)
	}
	company, err := storage.Retrieve[portal.Company](ctx, u, user.CompanyID)
	if err != nil {
		return nil, fmt.Errorf("retrieving company %s: %w", user.CompanyID, err)
	}
	req := &integration.TechnicalUserRequest{
		TechnicalUserID: user.ID,
		CompanyID:       company.ID,
		BPN:             company.BusinessPartnerNumber,
		Name:            user.Name,
	}
	if t.callbackURL != "" {
		req.CallbackURL = t.callbackURL + CallbackPath
	}
	if err = t.provider.CreateTechnicalUser(ctx, req); err != nil {
		return nil, fmt.Errorf("requesting technical user: %w", err)
	}
	if user.Status == portal.TechnicalUserStatusFailed {
		if _, err = storage.AttachAndModify(ctx, u, user.ID, nil, func(tu *portal.TechnicalUser) {
			tu.Status = portal.TechnicalUserStatusPending
		}); err != nil {
			return nil, err
		}
	}
	return &engine.StepResult{
		NextSteps: []process.StepType{process.StepAwaitCreateDimTechnicalUserResponse},
	}, nil
}

// Response is the provider's answer to a technical user creation request.
// A response without client id reports a failure described by Message.
type Response struct {
	TechnicalUserID          string `json:"technicalUserId"`
	ClientID                 string `json:"clientId,omitempty"`
	AuthenticationServiceURL string `json:"authenticationServiceUrl,omitempty"`
	Message                  string `json:"message,omitempty"`
}

// ProcessResponse activates the technical user of resp or, on failure,
// marks it FAILED and schedules a retrigger step.
func (t *TechnicalUsers) ProcessResponse(ctx context.Context, identity process.Identity, resp *Response) error {
	if resp == nil || resp.TechnicalUserID == "" {
		return process.NewArgumentError("technical user id must not be empty")
	}
	failed := resp.ClientID == ""
	if failed && strings.TrimSpace(resp.Message) == "" {
		return process.NewArgumentError("either a client id or a message is required")
	}
	if !failed && resp.AuthenticationServiceURL == "" {
		return process.NewArgumentError("authentication service url must not be empty")
	}
	user, err := storage.Retrieve[portal.TechnicalUser](ctx, t.engine.NewUnitOfWork(), resp.TechnicalUserID)
	if storage.IsNotFound(err) {
		return process.NewNotFoundError("technical user %s does not exist", resp.TechnicalUserID)
	} else if err != nil {
		return err
	}
	if user.ProcessID == "" {
		return process.NewNotFoundError("technical user %s has no creation process", user.ID)
	}
	data, err := t.engine.VerifyProcessStep(ctx, identity, user.ProcessID, process.TypeDimTechnicalUser, process.StepAwaitCreateDimTechnicalUserResponse)
	if err != nil {
		return err
	}
	version := user.EntityVersion()
	if _, err = storage.AttachAndModify(ctx, data.UnitOfWork, user.ID, func(tu *portal.TechnicalUser) {
		tu.SetEntityVersion(version)
	}, func(tu *portal.TechnicalUser) {
		if failed {
			tu.Status = portal.TechnicalUserStatusFailed
			return
		}
		tu.Status = portal.TechnicalUserStatusActive
		tu.ClientID = resp.ClientID
		tu.AuthenticationServiceURL = resp.AuthenticationServiceURL
	}); err != nil {
		return err
	}
	if failed {
		err = t.engine.FailProcessStep(ctx, data, resp.Message)
	} else {
		err = t.engine.FinalizeProcessStep(ctx, data, nil)
	}
	if err != nil {
		return err
	}
	ctxlog.Logger(ctx, t.logger).Info(
		logkeys.Message, "technical user response",
		logkeys.TechnicalUserID, user.ID,
		logkeys.CorrelationID, data.CorrelationID,
		"failed", failed,
	)
	return nil
}
