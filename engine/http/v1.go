package http

import (
	"context"
	"net/http"

	"github.com/micromdm/nanoprocess/engine"
	"github.com/micromdm/nanoprocess/portal"
	"github.com/micromdm/nanoprocess/process"
	"github.com/micromdm/nanoprocess/process/checklist"
	"github.com/micromdm/nanoprocess/process/registration"
	"github.com/micromdm/nanoprocess/process/selfdescription"
	"github.com/micromdm/nanoprocess/process/technicaluser"

	"github.com/micromdm/nanolib/log"
)

// ProcessService reads processes and checklists and retriggers failed steps.
type ProcessService interface {
	RetrieveProcess(ctx context.Context, id string) (*engine.ProcessSnapshot, error)
	RetrieveChecklist(ctx context.Context, applicationID string) ([]*process.ChecklistEntry, error)
	Retrigger(ctx context.Context, identity process.Identity, processID string, t process.StepType) error
}

// Registrar handles the lifecycle of partner applications.
type Registrar interface {
	RegisterPartner(ctx context.Context, identity process.Identity, req *registration.PartnerRegistration) (*registration.RegisteredPartner, error)
	Submit(ctx context.Context, identity process.Identity, req *registration.Submission) (*registration.Submitted, error)
	Decline(ctx context.Context, identity process.Identity, applicationID string) error
}

// ChecklistOperator runs the manual application checklist steps and
// receives clearinghouse responses.
type ChecklistOperator interface {
	ApproveRegistration(ctx context.Context, identity process.Identity, applicationID string) error
	DeclineRegistration(ctx context.Context, identity process.Identity, applicationID, comment string) error
	SetBusinessPartnerNumber(ctx context.Context, identity process.Identity, applicationID, bpn string) error
	ProcessClearinghouseResponse(ctx context.Context, identity process.Identity, resp *checklist.ClearinghouseResponse) error
}

// SelfDescriber receives self-description responses and starts company
// and connector self-descriptions.
type SelfDescriber interface {
	ProcessApplicationResponse(ctx context.Context, identity process.Identity, resp *selfdescription.Response) error
	ProcessCompanyResponse(ctx context.Context, identity process.Identity, resp *selfdescription.Response) error
	ProcessConnectorResponse(ctx context.Context, identity process.Identity, resp *selfdescription.Response) error
	StartCompanySelfDescription(ctx context.Context, identity process.Identity, companyID string) (string, error)
	StartConnectorSelfDescription(ctx context.Context, identity process.Identity, connectorID string) (string, error)
}

// TechnicalUserCreator requests technical users and receives the
// provider responses.
type TechnicalUserCreator interface {
	CreateTechnicalUser(ctx context.Context, identity process.Identity, req *technicaluser.Request) (*portal.TechnicalUser, error)
	ProcessResponse(ctx context.Context, identity process.Identity, resp *technicaluser.Response) error
}

// IdentityProviderDeleter starts identity provider teardown processes.
type IdentityProviderDeleter interface {
	DeleteIdentityProvider(ctx context.Context, identity process.Identity, id string) (string, error)
}

// UserDeleter starts company user deletion processes.
type UserDeleter interface {
	DeleteUser(ctx context.Context, identity process.Identity, userID string) (string, error)
}

// Services are the operations exposed by the API.
// Handlers of nil services are not registered.
type Services struct {
	Process           ProcessService
	Registration      Registrar
	Checklist         ChecklistOperator
	SelfDescription   SelfDescriber
	TechnicalUsers    TechnicalUserCreator
	IdentityProviders IdentityProviderDeleter
	Users             UserDeleter
}

// Mux can register HTTP handlers.
// Ostensibly this supports flow router.
type Mux interface {
	// Handle registers the handler for the given pattern.
	Handle(pattern string, handler http.Handler, methods ...string)
}

// HandleAPIv1 registers the various API handlers into mux.
// API endpoint paths are prepended with prefix.
// Authentication or any other layered handlers are not present.
// They are assumed to be layered with mux, possibly at the Handle call.
// The logger is adorned with a "handler" key of the endpoint name.
func HandleAPIv1(prefix string, mux Mux, logger log.Logger, s *Services) {
	handle := func(method, pattern, name string, f func(log.Logger) http.HandlerFunc) {
		mux.Handle(prefix+pattern, f(logger.With("handler", name)), method)
	}

	if s.Process != nil {
		handle("GET", "/process/:id", "get process", func(l log.Logger) http.HandlerFunc { return GetProcessHandler(s.Process, l) })
		handle("GET", "/checklist/:id", "get checklist", func(l log.Logger) http.HandlerFunc { return GetChecklistHandler(s.Process, l) })
		handle("POST", "/process/:id/retrigger/:step", "retrigger step", func(l log.Logger) http.HandlerFunc { return RetriggerHandler(s.Process, l) })
	}

	if r := s.Registration; r != nil {
		handle("POST", "/registration/partner", "register partner", func(l log.Logger) http.HandlerFunc { return RegisterPartnerHandler(r, l) })
		handle("POST", "/registration/submit", "submit application", func(l log.Logger) http.HandlerFunc { return SubmitHandler(r, l) })
		handle("POST", "/registration/application/:id/decline", "decline application", func(l log.Logger) http.HandlerFunc { return DeclineHandler(r, l) })
	}

	if c := s.Checklist; c != nil {
		handle("POST", "/checklist/:id/registration/approve", "approve registration", func(l log.Logger) http.HandlerFunc { return ApproveRegistrationHandler(c, l) })
		handle("POST", "/checklist/:id/registration/decline", "decline registration", func(l log.Logger) http.HandlerFunc { return DeclineRegistrationHandler(c, l) })
		handle("POST", "/checklist/:id/bpn", "set bpn", func(l log.Logger) http.HandlerFunc { return BusinessPartnerNumberHandler(c, l) })
		handle("POST", "/clearinghouse/response", "clearinghouse response", func(l log.Logger) http.HandlerFunc { return ClearinghouseResponseHandler(c, l) })
	}

	if sd := s.SelfDescription; sd != nil {
		handle("POST", "/selfdescription/application/response", "application self-description response", func(l log.Logger) http.HandlerFunc {
			return SelfDescriptionResponseHandler(sd.ProcessApplicationResponse, l)
		})
		handle("POST", "/selfdescription/company/response", "company self-description response", func(l log.Logger) http.HandlerFunc {
			return SelfDescriptionResponseHandler(sd.ProcessCompanyResponse, l)
		})
		handle("POST", "/selfdescription/connector/response", "connector self-description response", func(l log.Logger) http.HandlerFunc {
			return SelfDescriptionResponseHandler(sd.ProcessConnectorResponse, l)
		})
		handle("POST", "/selfdescription/company/:id/start", "start company self-description", func(l log.Logger) http.HandlerFunc {
			return StartProcessHandler(sd.StartCompanySelfDescription, l)
		})
		handle("POST", "/selfdescription/connector/:id/start", "start connector self-description", func(l log.Logger) http.HandlerFunc {
			return StartProcessHandler(sd.StartConnectorSelfDescription, l)
		})
	}

	if tu := s.TechnicalUsers; tu != nil {
		handle("POST", "/technicaluser", "create technical user", func(l log.Logger) http.HandlerFunc { return CreateTechnicalUserHandler(tu, l) })
		handle("POST", "/technicaluser/response", "technical user response", func(l log.Logger) http.HandlerFunc { return TechnicalUserResponseHandler(tu, l) })
	}

	if s.IdentityProviders != nil {
		handle("DELETE", "/identityprovider/:id", "delete identity provider", func(l log.Logger) http.HandlerFunc {
			return StartProcessHandler(s.IdentityProviders.DeleteIdentityProvider, l)
		})
	}

	if s.Users != nil {
		handle("DELETE", "/user/:id", "delete user", func(l log.Logger) http.HandlerFunc {
			return StartProcessHandler(s.Users.DeleteUser, l)
		})
	}
}
