// Package integration defines the external systems process steps call out to.
package integration

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// IdentityBroker manages users and identity providers in the central
// identity management system.
type IdentityBroker interface {
	// SynchronizeUsers creates or updates the central accounts of users.
	SynchronizeUsers(ctx context.Context, companyID string, userIDs []string) error

	// AssignInitialRoles grants the company's users their initial roles.
	AssignInitialRoles(ctx context.Context, companyID string, roles []string) error

	// RemoveUsers deletes the central accounts of users.
	RemoveUsers(ctx context.Context, companyID string, userIDs []string) error

	DeleteSharedRealm(ctx context.Context, alias string) error
	DeleteCentralIdentityProvider(ctx context.Context, alias string) error
	DeleteCentralUser(ctx context.Context, userID string) error
}

// Wallet creates identity wallets for companies.
type Wallet interface {
	// CreateWallet creates the wallet of a company and returns its DID.
	CreateWallet(ctx context.Context, companyID, bpn string) (string, error)
}

// ClearinghouseRequest asks the clearinghouse to validate a company.
type ClearinghouseRequest struct {
	ApplicationID string `json:"applicationId"`
	CompanyID     string `json:"companyId"`
	BPN           string `json:"bpn"`
	DID           string `json:"did,omitempty"`
	CountryCode   string `json:"countryCode,omitempty"`
	CallbackURL   string `json:"callbackUrl,omitempty"`
}

// Clearinghouse validates company data.
// The result is delivered asynchronously by callback.
type Clearinghouse interface {
	ValidateCompany(ctx context.Context, req *ClearinghouseRequest) error
}

// LegalPersonRequest asks for a legal person self-description.
type LegalPersonRequest struct {
	// ExternalID is echoed back as the callback's subject id.
	ExternalID  string `json:"externalId"`
	BPN         string `json:"bpn"`
	CountryCode string `json:"countryCode,omitempty"`
	CallbackURL string `json:"callbackUrl,omitempty"`
}

// ConnectorRequest asks for a connector self-description.
type ConnectorRequest struct {
	ExternalID   string `json:"externalId"`
	ConnectorURL string `json:"connectorUrl"`
	ProviderBPN  string `json:"providerBpn"`
	CallbackURL  string `json:"callbackUrl,omitempty"`
}

// SelfDescriptionIssuer requests self-description documents.
// Issued documents are delivered asynchronously by callback.
type SelfDescriptionIssuer interface {
	RegisterLegalPerson(ctx context.Context, req *LegalPersonRequest) error
	RegisterConnector(ctx context.Context, req *ConnectorRequest) error
}

// PartnerCallback notifies an onboarding service provider.
type PartnerCallback interface {
	// NotifySubmitted tells the partner at callbackURL that the
	// application externalID was submitted.
	NotifySubmitted(ctx context.Context, callbackURL, externalID string) error
}

// TechnicalUserRequest asks for a technical user to be provisioned.
type TechnicalUserRequest struct {
	TechnicalUserID string `json:"technicalUserId"`
	CompanyID       string `json:"companyId"`
	BPN             string `json:"bpn,omitempty"`
	Name            string `json:"name"`
	CallbackURL     string `json:"callbackUrl,omitempty"`
}

// TechnicalUserProvider provisions technical users.
// Credentials are delivered asynchronously by callback.
type TechnicalUserProvider interface {
	CreateTechnicalUser(ctx context.Context, req *TechnicalUserRequest) error
}

// Services bundles the external systems.
type Services struct {
	IdentityBroker        IdentityBroker
	Wallet                Wallet
	Clearinghouse         Clearinghouse
	SelfDescriptionIssuer SelfDescriptionIssuer
	PartnerCallback       PartnerCallback
	TechnicalUserProvider TechnicalUserProvider
}

var ErrMissingService = errors.New("missing service")

// Validate checks that every service is set.
func (s *Services) Validate() error {
	if s == nil {
		return fmt.Errorf("%w: nil services", ErrMissingService)
	}
	var errs []error
	for name, svc := range map[string]any{
		"identity broker":         s.IdentityBroker,
		"wallet":                  s.Wallet,
		"clearinghouse":           s.Clearinghouse,
		"self-description issuer": s.SelfDescriptionIssuer,
		"partner callback":        s.PartnerCallback,
		"technical user provider": s.TechnicalUserProvider,
	} {
		if svc == nil {
			errs = append(errs, fmt.Errorf("%w: %s", ErrMissingService, name))
		}
	}
	return errors.Join(errs...)
}

// Endpoint is the location of an external service.
type Endpoint struct {
	URL     string        `yaml:"url"`
	Token   string        `yaml:"token"`
	Timeout time.Duration `yaml:"timeout"`
}

// DefaultTimeout is used for endpoints without a configured timeout.
const DefaultTimeout = 30 * time.Second

// Config is the integrations configuration file.
type Config struct {
	IdentityBroker  Endpoint `yaml:"identityBroker"`
	Wallet          Endpoint `yaml:"wallet"`
	Clearinghouse   Endpoint `yaml:"clearinghouse"`
	SelfDescription struct {
		Endpoint `yaml:",inline"`

		// ClearinghouseConnectDisabled skips legal person
		// self-descriptions of applications.
		ClearinghouseConnectDisabled bool `yaml:"clearinghouseConnectDisabled"`
	} `yaml:"selfDescription"`

	// PartnerCallback has no URL; every application brings its own.
	PartnerCallback Endpoint `yaml:"partnerCallback"`
	TechnicalUser   Endpoint `yaml:"technicalUser"`

	// CallbackBaseURL is where external systems deliver responses.
	CallbackBaseURL string `yaml:"callbackBaseUrl"`
}

// ParseConfig decodes a YAML integrations configuration.
func ParseConfig(r io.Reader) (*Config, error) {
	cfg := new(Config)
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decoding integrations config: %w", err)
	}
	for _, ep := range []*Endpoint{
		&cfg.IdentityBroker,
		&cfg.Wallet,
		&cfg.Clearinghouse,
		&cfg.SelfDescription.Endpoint,
		&cfg.PartnerCallback,
		&cfg.TechnicalUser,
	} {
		if ep.Timeout <= 0 {
			ep.Timeout = DefaultTimeout
		}
	}
	return cfg, nil
}

// ReadConfig reads and parses the configuration file at path.
func ReadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ParseConfig(f)
}
