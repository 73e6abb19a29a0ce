// Package logkeys defines some static logging keys for consistent structured logging output.
// Mostly exists as a mental aid when drafting log messages.
package logkeys

const (
	Message = "msg"
	Error   = "err"

	ProcessID   = "process_id"
	ProcessType = "process_type"
	StepID      = "step_id"
	StepType    = "step_type"
	StepStatus  = "step_status"

	// the checklist-owning application of a process step.
	ApplicationID = "application_id"
	EntryType     = "entry_type"

	CompanyID = "company_id"
	UserID    = "user_id"

	ConnectorID        = "connector_id"
	TechnicalUserID    = "technical_user_id"
	IdentityProviderID = "identity_provider_id"

	// a fresh id generated for each step verification.
	CorrelationID = "correlation_id"

	// a context-dependent numerical count/length of something
	GenericCount = "count"
)
