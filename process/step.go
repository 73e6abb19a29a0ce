package process

// StepType is the kind of a process step.
type StepType string

// partner registration
const (
	StepSynchronizeUser               StepType = "SYNCHRONIZE_USER"
	StepRetriggerSynchronizeUser      StepType = "RETRIGGER_SYNCHRONIZE_USER"
	StepManualDeclineOSP              StepType = "MANUAL_DECLINE_OSP"
	StepTriggerCallbackOSPSubmitted   StepType = "TRIGGER_CALLBACK_OSP_SUBMITTED"
	StepRetriggerCallbackOSPSubmitted StepType = "RETRIGGER_CALLBACK_OSP_SUBMITTED"
	StepRemoveKeycloakUsers           StepType = "REMOVE_KEYCLOAK_USERS"
	StepRetriggerRemoveKeycloakUsers  StepType = "RETRIGGER_REMOVE_KEYCLOAK_USERS"
)

// application checklist
const (
	StepVerifyRegistration                      StepType = "VERIFY_REGISTRATION"
	StepCreateBusinessPartnerNumberManual       StepType = "CREATE_BUSINESS_PARTNER_NUMBER_MANUAL"
	StepCreateIdentityWallet                    StepType = "CREATE_IDENTITY_WALLET"
	StepRetriggerIdentityWallet                 StepType = "RETRIGGER_IDENTITY_WALLET"
	StepStartClearingHouse                      StepType = "START_CLEARING_HOUSE"
	StepAwaitClearingHouseResponse              StepType = "AWAIT_CLEARING_HOUSE_RESPONSE"
	StepRetriggerClearingHouse                  StepType = "RETRIGGER_CLEARING_HOUSE"
	StepStartSelfDescriptionLP                  StepType = "START_SELF_DESCRIPTION_LP"
	StepAwaitSelfDescriptionLPResponse          StepType = "AWAIT_SELF_DESCRIPTION_LP_RESPONSE"
	StepRetriggerSelfDescriptionLP              StepType = "RETRIGGER_SELF_DESCRIPTION_LP"
	StepRetriggerAwaitSelfDescriptionLPResponse StepType = "RETRIGGER_AWAIT_SELF_DESCRIPTION_LP_RESPONSE"
	StepAssignInitialRoles                      StepType = "ASSIGN_INITIAL_ROLES"
	StepRetriggerAssignInitialRoles             StepType = "RETRIGGER_ASSIGN_INITIAL_ROLES"
	StepActivateApplication                     StepType = "ACTIVATE_APPLICATION"
)

// self-description creation
const (
	StepSelfDescriptionCompanyCreation                 StepType = "SELF_DESCRIPTION_COMPANY_CREATION"
	StepRetriggerSelfDescriptionCompany                StepType = "RETRIGGER_SELF_DESCRIPTION_COMPANY"
	StepAwaitSelfDescriptionCompanyResponse            StepType = "AWAIT_SELF_DESCRIPTION_COMPANY_RESPONSE"
	StepRetriggerAwaitSelfDescriptionCompanyResponse   StepType = "RETRIGGER_AWAIT_SELF_DESCRIPTION_COMPANY_RESPONSE"
	StepSelfDescriptionConnectorCreation               StepType = "SELF_DESCRIPTION_CONNECTOR_CREATION"
	StepRetriggerSelfDescriptionConnector              StepType = "RETRIGGER_SELF_DESCRIPTION_CONNECTOR"
	StepAwaitSelfDescriptionConnectorResponse          StepType = "AWAIT_SELF_DESCRIPTION_CONNECTOR_RESPONSE"
	StepRetriggerAwaitSelfDescriptionConnectorResponse StepType = "RETRIGGER_AWAIT_SELF_DESCRIPTION_CONNECTOR_RESPONSE"
)

// technical users
const (
	StepCreateDimTechnicalUser              StepType = "CREATE_DIM_TECHNICAL_USER"
	StepAwaitCreateDimTechnicalUserResponse StepType = "AWAIT_CREATE_DIM_TECHNICAL_USER_RESPONSE"
	StepRetriggerCreateDimTechnicalUser     StepType = "RETRIGGER_CREATE_DIM_TECHNICAL_USER"
)

// identity provider teardown
const (
	StepDeleteIdpSharedRealm                   StepType = "DELETE_IDP_SHARED_REALM"
	StepRetriggerDeleteIdpSharedRealm          StepType = "RETRIGGER_DELETE_IDP_SHARED_REALM"
	StepDeleteCentralIdentityProvider          StepType = "DELETE_CENTRAL_IDENTITY_PROVIDER"
	StepRetriggerDeleteCentralIdentityProvider StepType = "RETRIGGER_DELETE_CENTRAL_IDENTITY_PROVIDER"
	StepDeleteIdentityProvider                 StepType = "DELETE_IDENTITY_PROVIDER"
)

// user provisioning
const (
	StepDeleteCentralUser          StepType = "DELETE_CENTRAL_USER"
	StepRetriggerDeleteCentralUser StepType = "RETRIGGER_DELETE_CENTRAL_USER"
)
