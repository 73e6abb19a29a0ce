// Package selfdescription issues self-descriptions for the legal person
// of an application, for companies and for connectors, and processes
// the issuer's responses.
package selfdescription

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

// Callback paths appended to the callback base URL.
const (
	ApplicationCallbackPath = "/v1/selfdescription/application/response"
	CompanyCallbackPath     = "/v1/selfdescription/company/response"
	ConnectorCallbackPath   = "/v1/selfdescription/connector/response"
)

// SkippedMessage explains a legal person self-description skipped by
// configuration.
const SkippedMessage = "Self description was skipped due to clearinghouse trigger is disabled"

// SelfDescription requests and records self-descriptions.
type SelfDescription struct {
	engine      *engine.Engine
	issuer      integration.SelfDescriptionIssuer
	callbackURL string
	disabled    bool
	logger      log.Logger
}

type Option func(*SelfDescription)

func WithLogger(logger log.Logger) Option {
	return func(s *SelfDescription) {
		s.logger = logger
	}
}

// WithCallbackBaseURL sets the base URL the issuer responds to.
func WithCallbackBaseURL(url string) Option {
	return func(s *SelfDescription) {
		s.callbackURL = strings.TrimRight(url, "/")
	}
}

// WithClearinghouseConnectDisabled skips the legal person
// self-description of applications when disabled is true.
func WithClearinghouseConnectDisabled(disabled bool) Option {
	return func(s *SelfDescription) {
		s.disabled = disabled
	}
}

// New creates a new SelfDescription and registers its automatic steps
// with e.
func New(e *engine.Engine, services *integration.Services, opts ...Option) (*SelfDescription, error) {
	s := &SelfDescription{
		engine: e,
		issuer: services.SelfDescriptionIssuer,
		logger: log.NopLogger,
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := e.RegisterChecklistStepHandler(process.StepStartSelfDescriptionLP, s.startLegalPerson); err != nil {
		return nil, fmt.Errorf("registering %s: %w", process.StepStartSelfDescriptionLP, err)
	}
	for t, h := range map[process.StepType]engine.StepHandler{
		process.StepSelfDescriptionCompanyCreation:   s.createCompany,
		process.StepSelfDescriptionConnectorCreation: s.createConnector,
	} {
		if err := e.RegisterStepHandler(t, h); err != nil {
			return nil, fmt.Errorf("registering %s: %w", t, err)
		}
	}
	return s, nil
}

func (s *SelfDescription) callback(path string) string {
	if s.callbackURL == "" {
		return ""
	}
	return s.callbackURL + path
}

func retrieveCompany(ctx context.Context, u *storage.UnitOfWork, id string) (*portal.Company, error) {
	company, err := storage.Retrieve[portal.Company](ctx, u, id)
	if storage.IsNotFound(err) {
		return nil, process.NewNotFoundError("company %s does not exist", id)
	}
	return company, err
}

func retrieveConnector(ctx context.Context, u *storage.UnitOfWork, id string) (*portal.Connector, error) {
	connector, err := storage.Retrieve[portal.Connector](ctx, u, id)
	if storage.IsNotFound(err) {
		return nil, process.NewNotFoundError("connector %s does not exist", id)
	}
	return connector, err
}

// addDocument stores a locked self-description document of owner.
func addDocument(u *storage.UnitOfWork, ownerID, name string, content []byte) (*portal.Document, error) {
	doc := &portal.Document{
		ID:          u.NewID(),
		OwnerID:     ownerID,
		Name:        name,
		Type:        portal.DocumentTypeSelfDescription,
		Status:      portal.DocumentStatusLocked,
		Content:     content,
		DateCreated: u.Now(),
	}
	return doc, u.Add(doc)
}
