package http

import (
	"context"
	"net/http"

	"github.com/micromdm/nanoprocess/process"
	"github.com/micromdm/nanoprocess/process/checklist"
	"github.com/micromdm/nanoprocess/process/registration"
	"github.com/micromdm/nanoprocess/process/selfdescription"
	"github.com/micromdm/nanoprocess/process/technicaluser"

	"github.com/alexedwards/flow"
	"github.com/micromdm/nanolib/log"
)

// RegisterPartnerHandler creates a HandlerFunc that registers a partner
// company and its users from the JSON body.
func RegisterPartnerHandler(s Registrar, logger log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		decodeAnd(w, r, logger, func(ctx context.Context, identity process.Identity, req *registration.PartnerRegistration) (any, error) {
			return s.RegisterPartner(ctx, identity, req)
		})
	}
}

// SubmitHandler creates a HandlerFunc that submits the application of
// the caller's company.
func SubmitHandler(s Registrar, logger log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		decodeAnd(w, r, logger, func(ctx context.Context, identity process.Identity, req *registration.Submission) (any, error) {
			return s.Submit(ctx, identity, req)
		})
	}
}

// DeclineHandler creates a HandlerFunc that declines the application
// in the id path parameter on behalf of the onboarding service provider.
func DeclineHandler(s Registrar, logger log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		serve(w, r, logger, func(ctx context.Context, identity process.Identity) (any, error) {
			return nil, s.Decline(ctx, identity, flow.Param(ctx, "id"))
		})
	}
}

// ApproveRegistrationHandler creates a HandlerFunc that approves the
// registration verification of the application in the id path parameter.
func ApproveRegistrationHandler(s ChecklistOperator, logger log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		serve(w, r, logger, func(ctx context.Context, identity process.Identity) (any, error) {
			return nil, s.ApproveRegistration(ctx, identity, flow.Param(ctx, "id"))
		})
	}
}

// declineRequest is the body of a registration decline.
type declineRequest struct {
	Comment string `json:"comment"`
}

// DeclineRegistrationHandler creates a HandlerFunc that declines the
// registration verification of an application with the comment in the body.
func DeclineRegistrationHandler(s ChecklistOperator, logger log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		decodeAnd(w, r, logger, func(ctx context.Context, identity process.Identity, req *declineRequest) (any, error) {
			return nil, s.DeclineRegistration(ctx, identity, flow.Param(ctx, "id"), req.Comment)
		})
	}
}

type bpnRequest struct {
	BusinessPartnerNumber string `json:"bpn"`
}

// BusinessPartnerNumberHandler creates a HandlerFunc that sets the
// business partner number of an application's company.
func BusinessPartnerNumberHandler(s ChecklistOperator, logger log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		decodeAnd(w, r, logger, func(ctx context.Context, identity process.Identity, req *bpnRequest) (any, error) {
			return nil, s.SetBusinessPartnerNumber(ctx, identity, flow.Param(ctx, "id"), req.BusinessPartnerNumber)
		})
	}
}

// ClearinghouseResponseHandler creates a HandlerFunc that processes a
// clearinghouse validation response.
func ClearinghouseResponseHandler(s ChecklistOperator, logger log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		decodeAnd(w, r, logger, func(ctx context.Context, identity process.Identity, req *checklist.ClearinghouseResponse) (any, error) {
			return nil, s.ProcessClearinghouseResponse(ctx, identity, req)
		})
	}
}

// SelfDescriptionResponseHandler runs handle with the decoded
// self-description response.
func SelfDescriptionResponseHandler(handle func(context.Context, process.Identity, *selfdescription.Response) error, logger log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		decodeAnd(w, r, logger, func(ctx context.Context, identity process.Identity, req *selfdescription.Response) (any, error) {
			return nil, handle(ctx, identity, req)
		})
	}
}

// CreateTechnicalUserHandler creates a HandlerFunc that requests a new
// technical user for the caller's company.
func CreateTechnicalUserHandler(s TechnicalUserCreator, logger log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		decodeAnd(w, r, logger, func(ctx context.Context, identity process.Identity, req *technicaluser.Request) (any, error) {
			return s.CreateTechnicalUser(ctx, identity, req)
		})
	}
}

// TechnicalUserResponseHandler creates a HandlerFunc that processes a
// technical user provider response.
func TechnicalUserResponseHandler(s TechnicalUserCreator, logger log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		decodeAnd(w, r, logger, func(ctx context.Context, identity process.Identity, req *technicaluser.Response) (any, error) {
			return nil, s.ProcessResponse(ctx, identity, req)
		})
	}
}
