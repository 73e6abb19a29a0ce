// Package portal defines the business entities that process steps act on.
package portal

import (
	"sort"
	"time"

	"github.com/micromdm/nanoprocess/process"
)

// Record kinds of the portal entities.
const (
	KindCompany          = "company"
	KindApplication      = "company_application"
	KindInvitation       = "invitation"
	KindCompanyUser      = "company_user"
	KindAgreement        = "agreement"
	KindConsent          = "consent"
	KindDocument         = "document"
	KindConnector        = "connector"
	KindTechnicalUser    = "technical_user"
	KindIdentityProvider = "identity_provider"
)

type CompanyStatus string

const (
	CompanyStatusPending  CompanyStatus = "PENDING"
	CompanyStatusActive   CompanyStatus = "ACTIVE"
	CompanyStatusRejected CompanyStatus = "REJECTED"
	CompanyStatusInactive CompanyStatus = "INACTIVE"
)

type CompanyRole string

const (
	RoleActiveParticipant         CompanyRole = "ACTIVE_PARTICIPANT"
	RoleAppProvider               CompanyRole = "APP_PROVIDER"
	RoleServiceProvider           CompanyRole = "SERVICE_PROVIDER"
	RoleOnboardingServiceProvider CompanyRole = "ONBOARDING_SERVICE_PROVIDER"
)

// Company is a participant organisation.
type Company struct {
	process.Versioned
	ID                    string        `json:"id"`
	Name                  string        `json:"name"`
	Status                CompanyStatus `json:"status"`
	BusinessPartnerNumber string        `json:"bpn,omitempty"`
	CountryCode           string        `json:"country_code,omitempty"`
	Roles                 []CompanyRole `json:"roles,omitempty"`
	WalletDID             string        `json:"wallet_did,omitempty"`

	SelfDescriptionDocumentID string `json:"self_description_document_id,omitempty"`
	SelfDescriptionProcessID  string `json:"self_description_process_id,omitempty"`
}

func (c *Company) EntityKind() string   { return KindCompany }
func (c *Company) EntityID() string     { return c.ID }
func (c *Company) EntityParent() string { return "" }
func (c *Company) EntityStatus() string { return string(c.Status) }

type ApplicationStatus string

const (
	ApplicationStatusCreated             ApplicationStatus = "CREATED"
	ApplicationStatusAddCompanyData      ApplicationStatus = "ADD_COMPANY_DATA"
	ApplicationStatusInviteUser          ApplicationStatus = "INVITE_USER"
	ApplicationStatusSelectCompanyRole   ApplicationStatus = "SELECT_COMPANY_ROLE"
	ApplicationStatusUploadDocuments     ApplicationStatus = "UPLOAD_DOCUMENTS"
	ApplicationStatusVerify              ApplicationStatus = "VERIFY"
	ApplicationStatusSubmitted           ApplicationStatus = "SUBMITTED"
	ApplicationStatusConfirmed           ApplicationStatus = "CONFIRMED"
	ApplicationStatusDeclined            ApplicationStatus = "DECLINED"
	ApplicationStatusCancelledByCustomer ApplicationStatus = "CANCELLED_BY_CUSTOMER"
)

// ApplicationEditableStatuses are the statuses before submission.
var ApplicationEditableStatuses = []ApplicationStatus{
	ApplicationStatusCreated,
	ApplicationStatusAddCompanyData,
	ApplicationStatusInviteUser,
	ApplicationStatusSelectCompanyRole,
	ApplicationStatusUploadDocuments,
	ApplicationStatusVerify,
}

type ApplicationType string

const (
	ApplicationTypeInternal ApplicationType = "INTERNAL"
	ApplicationTypeExternal ApplicationType = "EXTERNAL"
)

// CompanyApplication is a company's request to join the network.
type CompanyApplication struct {
	process.Versioned
	ID        string            `json:"id"`
	CompanyID string            `json:"company_id"`
	Status    ApplicationStatus `json:"status"`
	Type      ApplicationType   `json:"type"`

	// NetworkProcessID is the partner registration process of an
	// externally registered company.
	NetworkProcessID string `json:"network_process_id,omitempty"`

	// ChecklistProcessID is set once the application is submitted.
	ChecklistProcessID string `json:"checklist_process_id,omitempty"`

	ExternalID      string    `json:"external_id,omitempty"`
	CallbackURL     string    `json:"callback_url,omitempty"`
	DateCreated     time.Time `json:"date_created"`
	DateLastChanged time.Time `json:"date_last_changed,omitempty"`
}

func (a *CompanyApplication) EntityKind() string   { return KindApplication }
func (a *CompanyApplication) EntityID() string     { return a.ID }
func (a *CompanyApplication) EntityParent() string { return a.CompanyID }
func (a *CompanyApplication) EntityStatus() string { return string(a.Status) }

// StatusIn returns true if the application has one of statuses.
func (a *CompanyApplication) StatusIn(statuses ...ApplicationStatus) bool {
	for _, s := range statuses {
		if a.Status == s {
			return true
		}
	}
	return false
}

type InvitationStatus string

const (
	InvitationStatusCreated  InvitationStatus = "CREATED"
	InvitationStatusPending  InvitationStatus = "PENDING"
	InvitationStatusAccepted InvitationStatus = "ACCEPTED"
	InvitationStatusDeclined InvitationStatus = "DECLINED"
)

// Invitation invites a user into an application.
type Invitation struct {
	process.Versioned
	ID            string           `json:"id"`
	ApplicationID string           `json:"application_id"`
	UserID        string           `json:"user_id"`
	Status        InvitationStatus `json:"status"`
}

func (i *Invitation) EntityKind() string   { return KindInvitation }
func (i *Invitation) EntityID() string     { return i.ID }
func (i *Invitation) EntityParent() string { return i.ApplicationID }
func (i *Invitation) EntityStatus() string { return string(i.Status) }

type UserStatus string

const (
	UserStatusActive   UserStatus = "ACTIVE"
	UserStatusInactive UserStatus = "INACTIVE"
	UserStatusDeleted  UserStatus = "DELETED"
)

// CompanyUser is a user account belonging to a company.
type CompanyUser struct {
	process.Versioned
	ID        string     `json:"id"`
	CompanyID string     `json:"company_id"`
	Email     string     `json:"email"`
	FirstName string     `json:"first_name,omitempty"`
	LastName  string     `json:"last_name,omitempty"`
	Status    UserStatus `json:"status"`

	ProvisioningProcessID string `json:"provisioning_process_id,omitempty"`
}

func (u *CompanyUser) EntityKind() string   { return KindCompanyUser }
func (u *CompanyUser) EntityID() string     { return u.ID }
func (u *CompanyUser) EntityParent() string { return u.CompanyID }
func (u *CompanyUser) EntityStatus() string { return string(u.Status) }

type AgreementStatus string

const (
	AgreementStatusActive   AgreementStatus = "ACTIVE"
	AgreementStatusInactive AgreementStatus = "INACTIVE"
)

// Agreement is a contract a company must consent to for its roles.
type Agreement struct {
	process.Versioned
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Status       AgreementStatus `json:"status"`
	CompanyRoles []CompanyRole   `json:"company_roles"`
}

func (a *Agreement) EntityKind() string   { return KindAgreement }
func (a *Agreement) EntityID() string     { return a.ID }
func (a *Agreement) EntityParent() string { return "" }
func (a *Agreement) EntityStatus() string { return string(a.Status) }

// RequiredAgreements returns the sorted ids of the active agreements
// assigned to any of roles.
func RequiredAgreements(agreements []*Agreement, roles []CompanyRole) []string {
	want := make(map[CompanyRole]bool)
	for _, r := range roles {
		want[r] = true
	}
	var ids []string
	for _, a := range agreements {
		if a.Status != AgreementStatusActive {
			continue
		}
		for _, r := range a.CompanyRoles {
			if want[r] {
				ids = append(ids, a.ID)
				break
			}
		}
	}
	sort.Strings(ids)
	return ids
}

type ConsentStatus string

const (
	ConsentStatusActive   ConsentStatus = "ACTIVE"
	ConsentStatusInactive ConsentStatus = "INACTIVE"
)

// Consent records a company's answer to an agreement.
type Consent struct {
	process.Versioned
	ID          string        `json:"id"`
	AgreementID string        `json:"agreement_id"`
	CompanyID   string        `json:"company_id"`
	UserID      string        `json:"user_id"`
	Status      ConsentStatus `json:"status"`
	DateCreated time.Time     `json:"date_created"`
}

func (c *Consent) EntityKind() string   { return KindConsent }
func (c *Consent) EntityID() string     { return c.ID }
func (c *Consent) EntityParent() string { return c.CompanyID }
func (c *Consent) EntityStatus() string { return string(c.Status) }

type DocumentType string

const DocumentTypeSelfDescription DocumentType = "SELF_DESCRIPTION"

type DocumentStatus string

const (
	DocumentStatusPending DocumentStatus = "PENDING"
	DocumentStatusLocked  DocumentStatus = "LOCKED"
)

// Document is a stored file, e.g. an issued self-description.
type Document struct {
	process.Versioned
	ID          string         `json:"id"`
	OwnerID     string         `json:"owner_id"`
	Name        string         `json:"name"`
	Type        DocumentType   `json:"type"`
	Status      DocumentStatus `json:"status"`
	Content     []byte         `json:"content"`
	DateCreated time.Time      `json:"date_created"`
}

func (d *Document) EntityKind() string   { return KindDocument }
func (d *Document) EntityID() string     { return d.ID }
func (d *Document) EntityParent() string { return d.OwnerID }
func (d *Document) EntityStatus() string { return string(d.Status) }

type ConnectorStatus string

const (
	ConnectorStatusPending  ConnectorStatus = "PENDING"
	ConnectorStatusActive   ConnectorStatus = "ACTIVE"
	ConnectorStatusInactive ConnectorStatus = "INACTIVE"
)

// Connector is a company-provided data exchange endpoint.
type Connector struct {
	process.Versioned
	ID                string          `json:"id"`
	Name              string          `json:"name"`
	URL               string          `json:"url"`
	ProviderCompanyID string          `json:"provider_company_id"`
	Status            ConnectorStatus `json:"status"`

	SelfDescriptionDocumentID string `json:"self_description_document_id,omitempty"`
	SelfDescriptionMessage    string `json:"self_description_message,omitempty"`

	// SelfDescriptionProcessID is empty for connectors whose
	// self-description was requested without a process.
	SelfDescriptionProcessID string `json:"self_description_process_id,omitempty"`
}

func (c *Connector) EntityKind() string   { return KindConnector }
func (c *Connector) EntityID() string     { return c.ID }
func (c *Connector) EntityParent() string { return c.ProviderCompanyID }
func (c *Connector) EntityStatus() string { return string(c.Status) }

type TechnicalUserStatus string

const (
	TechnicalUserStatusPending  TechnicalUserStatus = "PENDING"
	TechnicalUserStatusActive   TechnicalUserStatus = "ACTIVE"
	TechnicalUserStatusFailed   TechnicalUserStatus = "FAILED"
	TechnicalUserStatusInactive TechnicalUserStatus = "INACTIVE"
)

// TechnicalUser is a machine identity of a company.
// It is provisioned by an external wallet provider.
type TechnicalUser struct {
	process.Versioned
	ID          string              `json:"id"`
	CompanyID   string              `json:"company_id"`
	Name        string              `json:"name"`
	Description string              `json:"description,omitempty"`
	Status      TechnicalUserStatus `json:"status"`

	ClientID                 string `json:"client_id,omitempty"`
	AuthenticationServiceURL string `json:"authentication_service_url,omitempty"`

	ProcessID string `json:"process_id,omitempty"`
}

func (u *TechnicalUser) EntityKind() string   { return KindTechnicalUser }
func (u *TechnicalUser) EntityID() string     { return u.ID }
func (u *TechnicalUser) EntityParent() string { return u.CompanyID }
func (u *TechnicalUser) EntityStatus() string { return string(u.Status) }

type IdentityProviderType string

const (
	IdentityProviderTypeOwn     IdentityProviderType = "OWN"
	IdentityProviderTypeShared  IdentityProviderType = "SHARED"
	IdentityProviderTypeManaged IdentityProviderType = "MANAGED"
)

type IdentityProviderStatus string

const (
	IdentityProviderStatusActive   IdentityProviderStatus = "ACTIVE"
	IdentityProviderStatusDisabled IdentityProviderStatus = "DISABLED"
	IdentityProviderStatusDeleted  IdentityProviderStatus = "DELETED"
)

// IdentityProvider is a company's login provider.
type IdentityProvider struct {
	process.Versioned
	ID        string                 `json:"id"`
	CompanyID string                 `json:"company_id"`
	Alias     string                 `json:"alias"`
	Type      IdentityProviderType   `json:"type"`
	Status    IdentityProviderStatus `json:"status"`
	ProcessID string                 `json:"process_id,omitempty"`
}

func (p *IdentityProvider) EntityKind() string   { return KindIdentityProvider }
func (p *IdentityProvider) EntityID() string     { return p.ID }
func (p *IdentityProvider) EntityParent() string { return p.CompanyID }
func (p *IdentityProvider) EntityStatus() string { return string(p.Status) }
