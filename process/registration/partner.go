package registration

import (
	"context"
	"strings"

	"github.com/micromdm/nanoprocess/engine"
	"github.com/micromdm/nanoprocess/log/logkeys"
	"github.com/micromdm/nanoprocess/portal"
	"github.com/micromdm/nanoprocess/process"

	"github.com/micromdm/nanolib/log/ctxlog"
)

// PartnerUser is a user of a registered company.
type PartnerUser struct {
	Email     string `json:"email"`
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
}

// PartnerRegistration is a company registered by an onboarding service
// provider on its behalf.
type PartnerRegistration struct {
	ExternalID            string        `json:"externalId"`
	Name                  string        `json:"name"`
	BusinessPartnerNumber string        `json:"bpn,omitempty"`
	CountryCode           string        `json:"countryAlpha2Code"`
	CallbackURL           string        `json:"callbackUrl,omitempty"`
	Users                 []PartnerUser `json:"userDetails"`
}

// Validate checks r for required fields.
func (r *PartnerRegistration) Validate() error {
	if r == nil {
		return process.NewArgumentError("empty registration")
	}
	if strings.TrimSpace(r.Name) == "" {
		return process.NewArgumentError("company name must not be empty")
	}
	if r.ExternalID == "" {
		return process.NewArgumentError("external id must not be empty")
	}
	if len(r.Users) < 1 {
		return process.NewArgumentError("at least one user is required")
	}
	for i, u := range r.Users {
		if !strings.Contains(u.Email, "@") {
			return process.NewArgumentError("user %d has an invalid email %q", i, u.Email)
		}
	}
	return nil
}

// RegisteredPartner identifies the entities created by RegisterPartner.
type RegisteredPartner struct {
	CompanyID     string `json:"companyId"`
	ApplicationID string `json:"applicationId"`
	ProcessID     string `json:"processId"`
}

// RegisterPartner creates a pending company with an external application,
// its users and their invitations, and starts the partner registration
// process.
func (r *Registration) RegisterPartner(ctx context.Context, identity process.Identity, req *PartnerRegistration) (*RegisteredPartner, error) {
	if err := identity.Validate(); err != nil {
		return nil, process.NewArgumentError("%v", err)
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	u := r.engine.NewUnitOfWork()
	now := u.Now()

	company := &portal.Company{
		ID:                    u.NewID(),
		Name:                  req.Name,
		Status:                portal.CompanyStatusPending,
		BusinessPartnerNumber: req.BusinessPartnerNumber,
		CountryCode:           req.CountryCode,
	}
	if err := u.Add(company); err != nil {
		return nil, err
	}
	app := &portal.CompanyApplication{
		ID:          u.NewID(),
		CompanyID:   company.ID,
		Status:      portal.ApplicationStatusCreated,
		Type:        portal.ApplicationTypeExternal,
		ExternalID:  req.ExternalID,
		CallbackURL: req.CallbackURL,
		DateCreated: now,
	}
	p, err := u.CreateProcess(process.TypePartnerRegistration, app.ID)
	if err != nil {
		return nil, err
	}
	app.NetworkProcessID = p.ID
	if err = u.Add(app); err != nil {
		return nil, err
	}
	for _, pu := range req.Users {
		user := &portal.CompanyUser{
			ID:        u.NewID(),
			CompanyID: company.ID,
			Email:     pu.Email,
			FirstName: pu.FirstName,
			LastName:  pu.LastName,
			Status:    portal.UserStatusActive,
		}
		if err = u.Add(user); err != nil {
			return nil, err
		}
		if err = u.Add(&portal.Invitation{
			ID:            u.NewID(),
			ApplicationID: app.ID,
			UserID:        user.ID,
			Status:        portal.InvitationStatusPending,
		}); err != nil {
			return nil, err
		}
	}
	if _, err = engine.ScheduleSteps(ctx, u, p, process.StepSynchronizeUser, process.StepManualDeclineOSP); err != nil {
		return nil, err
	}
	if err = u.SaveChanges(ctx); err != nil {
		return nil, err
	}
	ctxlog.Logger(ctx, r.logger).Debug(
		logkeys.Message, "registered partner",
		logkeys.CompanyID, company.ID,
		logkeys.ApplicationID, app.ID,
		logkeys.ProcessID, p.ID,
		logkeys.GenericCount, len(req.Users),
	)
	return &RegisteredPartner{
		CompanyID:     company.ID,
		ApplicationID: app.ID,
		ProcessID:     p.ID,
	}, nil
}
