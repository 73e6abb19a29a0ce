// Package rest implements the external systems as JSON-over-HTTP clients.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/micromdm/nanoprocess/integration"
	"github.com/micromdm/nanoprocess/log/logkeys"

	"github.com/micromdm/nanolib/log"
	"github.com/micromdm/nanolib/log/ctxlog"
)

var ErrNoURL = errors.New("no URL configured")

// StatusError is returned for non-2xx HTTP responses.
type StatusError struct {
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

// maximum bytes of an error response body to keep.
const errorBodyLimit = 512

// Client posts JSON to a single endpoint.
type Client struct {
	client   *http.Client
	endpoint integration.Endpoint
	logger   log.Logger
}

type Option func(*Client)

// WithClient sets the HTTP client.
func WithClient(client *http.Client) Option {
	return func(c *Client) {
		c.client = client
	}
}

func WithLogger(logger log.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// New creates a new client for endpoint.
func New(endpoint integration.Endpoint, opts ...Option) *Client {
	c := &Client{
		client:   http.DefaultClient,
		endpoint: endpoint,
		logger:   log.NopLogger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) url(path string) (string, error) {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path, nil
	}
	if c.endpoint.URL == "" {
		return "", ErrNoURL
	}
	return strings.TrimRight(c.endpoint.URL, "/") + path, nil
}

// post sends in as JSON to path and decodes a response into out if non-nil.
// An absolute path is used as-is.
func (c *Client) post(ctx context.Context, path string, in, out any) error {
	url, err := c.url(path)
	if err != nil {
		return err
	}
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	if c.endpoint.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.endpoint.Timeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.endpoint.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.endpoint.Token)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	ctxlog.Logger(ctx, c.logger).Debug(
		logkeys.Message, "integration request",
		"url", url,
		"status", resp.StatusCode,
	)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
		return &StatusError{URL: url, StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out == nil {
		return nil
	}
	if err = json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

type usersRequest struct {
	CompanyID string   `json:"companyId"`
	UserIDs   []string `json:"userIds"`
}

func (c *Client) SynchronizeUsers(ctx context.Context, companyID string, userIDs []string) error {
	return c.post(ctx, "/users/synchronize", &usersRequest{CompanyID: companyID, UserIDs: userIDs}, nil)
}

func (c *Client) RemoveUsers(ctx context.Context, companyID string, userIDs []string) error {
	return c.post(ctx, "/users/remove", &usersRequest{CompanyID: companyID, UserIDs: userIDs}, nil)
}

func (c *Client) AssignInitialRoles(ctx context.Context, companyID string, roles []string) error {
	return c.post(ctx, "/roles/initial", &struct {
		CompanyID string   `json:"companyId"`
		Roles     []string `json:"roles"`
	}{companyID, roles}, nil)
}

type aliasRequest struct {
	Alias string `json:"alias"`
}

func (c *Client) DeleteSharedRealm(ctx context.Context, alias string) error {
	return c.post(ctx, "/realms/shared/delete", &aliasRequest{Alias: alias}, nil)
}

func (c *Client) DeleteCentralIdentityProvider(ctx context.Context, alias string) error {
	return c.post(ctx, "/identityproviders/delete", &aliasRequest{Alias: alias}, nil)
}

func (c *Client) DeleteCentralUser(ctx context.Context, userID string) error {
	return c.post(ctx, "/users/delete", &struct {
		UserID string `json:"userId"`
	}{userID}, nil)
}

// CreateWallet creates a wallet and returns its DID.
func (c *Client) CreateWallet(ctx context.Context, companyID, bpn string) (string, error) {
	var resp struct {
		DID string `json:"did"`
	}
	err := c.post(ctx, "/wallets", &struct {
		CompanyID string `json:"companyId"`
		BPN       string `json:"bpn"`
	}{companyID, bpn}, &resp)
	if err != nil {
		return "", err
	}
	if resp.DID == "" {
		return "", errors.New("wallet response has no DID")
	}
	return resp.DID, nil
}

func (c *Client) ValidateCompany(ctx context.Context, req *integration.ClearinghouseRequest) error {
	return c.post(ctx, "/validation", req, nil)
}

func (c *Client) RegisterLegalPerson(ctx context.Context, req *integration.LegalPersonRequest) error {
	return c.post(ctx, "/selfdescription/legalperson", req, nil)
}

func (c *Client) RegisterConnector(ctx context.Context, req *integration.ConnectorRequest) error {
	return c.post(ctx, "/selfdescription/connector", req, nil)
}

// NotifySubmitted posts to the application's own callback URL.
func (c *Client) NotifySubmitted(ctx context.Context, callbackURL, externalID string) error {
	if callbackURL == "" {
		return ErrNoURL
	}
	return c.post(ctx, callbackURL, &struct {
		ExternalID string `json:"externalId"`
		Status     string `json:"status"`
	}{externalID, "SUBMITTED"}, nil)
}

func (c *Client) CreateTechnicalUser(ctx context.Context, req *integration.TechnicalUserRequest) error {
	return c.post(ctx, "/technicalusers", req, nil)
}

// NewServices creates a client per configured endpoint.
func NewServices(cfg *integration.Config, opts ...Option) *integration.Services {
	return &integration.Services{
		IdentityBroker:        New(cfg.IdentityBroker, opts...),
		Wallet:                New(cfg.Wallet, opts...),
		Clearinghouse:         New(cfg.Clearinghouse, opts...),
		SelfDescriptionIssuer: New(cfg.SelfDescription.Endpoint, opts...),
		PartnerCallback:       New(cfg.PartnerCallback, opts...),
		TechnicalUserProvider: New(cfg.TechnicalUser, opts...),
	}
}
