// Package test provides recording external systems for tests.
package test

import (
	"context"
	"sync"

	"github.com/micromdm/nanoprocess/integration"
)

// Call is a recorded call to an external system.
type Call struct {
	Method string
	Args   []any
}

// Recorder implements every external system.
// It records calls and returns errors configured per method.
type Recorder struct {
	mu     sync.Mutex
	calls  []Call
	errors map[string]error

	// DID is returned by CreateWallet.
	DID string
}

func NewRecorder() *Recorder {
	return &Recorder{errors: make(map[string]error), DID: "did:web:test"}
}

// Services returns r as every external system.
func (r *Recorder) Services() *integration.Services {
	return &integration.Services{
		IdentityBroker:        r,
		Wallet:                r,
		Clearinghouse:         r,
		SelfDescriptionIssuer: r,
		PartnerCallback:       r,
		TechnicalUserProvider: r,
	}
}

// FailWith makes calls of method return err.
// A nil err clears a configured error.
func (r *Recorder) FailWith(method string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err == nil {
		delete(r.errors, method)
		return
	}
	r.errors[method] = err
}

// Calls returns the recorded calls.
func (r *Recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Call(nil), r.calls...)
}

// CallsTo returns the recorded calls of method.
func (r *Recorder) CallsTo(method string) (calls []Call) {
	for _, c := range r.Calls() {
		if c.Method == method {
			calls = append(calls, c)
		}
	}
	return
}

func (r *Recorder) record(method string, args ...any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, Call{Method: method, Args: args})
	return r.errors[method]
}

func (r *Recorder) SynchronizeUsers(_ context.Context, companyID string, userIDs []string) error {
	return r.record("SynchronizeUsers", companyID, userIDs)
}

func (r *Recorder) AssignInitialRoles(_ context.Context, companyID string, roles []string) error {
	return r.record("AssignInitialRoles", companyID, roles)
}

func (r *Recorder) RemoveUsers(_ context.Context, companyID string, userIDs []string) error {
	return r.record("RemoveUsers", companyID, userIDs)
}

func (r *Recorder) DeleteSharedRealm(_ context.Context, alias string) error {
	return r.record("DeleteSharedRealm", alias)
}

func (r *Recorder) DeleteCentralIdentityProvider(_ context.Context, alias string) error {
	return r.record("DeleteCentralIdentityProvider", alias)
}

func (r *Recorder) DeleteCentralUser(_ context.Context, userID string) error {
	return r.record("DeleteCentralUser", userID)
}

func (r *Recorder) CreateWallet(_ context.Context, companyID, bpn string) (string, error) {
	if err := r.record("CreateWallet", companyID, bpn); err != nil {
		return "", err
	}
	return r.DID, nil
}

func (r *Recorder) ValidateCompany(_ context.Context, req *integration.ClearinghouseRequest) error {
	return r.record("ValidateCompany", req)
}

func (r *Recorder) RegisterLegalPerson(_ context.Context, req *integration.LegalPersonRequest) error {
	return r.record("RegisterLegalPerson", req)
}

func (r *Recorder) RegisterConnector(_ context.Context, req *integration.ConnectorRequest) error {
	return r.record("RegisterConnector", req)
}

func (r *Recorder) NotifySubmitted(_ context.Context, callbackURL, externalID string) error {
	return r.record("NotifySubmitted", callbackURL, externalID)
}

func (r *Recorder) CreateTechnicalUser(_ context.Context, req *integration.TechnicalUserRequest) error {
	return r.record("CreateTechnicalUser", req)
}
