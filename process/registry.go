package process

import (
	"errors"
	"fmt"
	"sort"
)

// Mode tells who completes a step.
type Mode int

const (
	// Automatic steps are run by the dispatcher.
	Automatic Mode = iota
	// Manual steps are completed by an operator or an external callback.
	Manual
)

func (m Mode) String() string {
	if m == Manual {
		return "manual"
	}
	return "automatic"
}

// StepTypeInfo describes a step type's place in the step graph.
type StepTypeInfo struct {
	// Process is the only process type this step may appear in.
	Process Type

	// Entry is the checklist entry the step works on.
	// Empty for steps outside of an application checklist.
	Entry ChecklistEntryType

	Mode Mode

	// AwaitsResponse marks steps that wait on an external system.
	AwaitsResponse bool

	// Retrigger is the step scheduled when this step fails.
	// Empty if the step has no recovery path.
	Retrigger StepType

	// Resumes is the step a retrigger step schedules once it has run.
	// Only set for retrigger steps.
	Resumes StepType
}

var registry = map[StepType]StepTypeInfo{
	// partner registration
	StepSynchronizeUser:               {Process: TypePartnerRegistration, Retrigger: StepRetriggerSynchronizeUser},
	StepRetriggerSynchronizeUser:      {Process: TypePartnerRegistration, Mode: Manual, Resumes: StepSynchronizeUser},
	StepManualDeclineOSP:              {Process: TypePartnerRegistration, Mode: Manual},
	StepTriggerCallbackOSPSubmitted:   {Process: TypePartnerRegistration, Retrigger: StepRetriggerCallbackOSPSubmitted},
	StepRetriggerCallbackOSPSubmitted: {Process: TypePartnerRegistration, Mode: Manual, Resumes: StepTriggerCallbackOSPSubmitted},
	StepRemoveKeycloakUsers:           {Process: TypePartnerRegistration, Retrigger: StepRetriggerRemoveKeycloakUsers},
	StepRetriggerRemoveKeycloakUsers:  {Process: TypePartnerRegistration, Mode: Manual, Resumes: StepRemoveKeycloakUsers},

	// application checklist
	StepVerifyRegistration:                {Process: TypeApplicationChecklist, Entry: EntryRegistrationVerification, Mode: Manual},
	StepCreateBusinessPartnerNumberManual: {Process: TypeApplicationChecklist, Entry: EntryBusinessPartnerNumber, Mode: Manual},
	StepCreateIdentityWallet:              {Process: TypeApplicationChecklist, Entry: EntryIdentityWallet, Retrigger: StepRetriggerIdentityWallet},
	StepRetriggerIdentityWallet:           {Process: TypeApplicationChecklist, Entry: EntryIdentityWallet, Mode: Manual, Resumes: StepCreateIdentityWallet},
	StepStartClearingHouse:                {Process: TypeApplicationChecklist, Entry: EntryClearingHouse, Retrigger: StepRetriggerClearingHouse},
	StepAwaitClearingHouseResponse: {
		Process:        TypeApplicationChecklist,
		Entry:          EntryClearingHouse,
		Mode:           Manual,
		AwaitsResponse: true,
		Retrigger:      StepRetriggerClearingHouse,
	},
	StepRetriggerClearingHouse: {Process: TypeApplicationChecklist, Entry: EntryClearingHouse, Mode: Manual, Resumes: StepStartClearingHouse},
	StepStartSelfDescriptionLP: {Process: TypeApplicationChecklist, Entry: EntrySelfDescriptionLP, Retrigger: StepRetriggerSelfDescriptionLP},
	StepAwaitSelfDescriptionLPResponse: {
		Process:        TypeApplicationChecklist,
		Entry:          EntrySelfDescriptionLP,
		Mode:           Manual,
		AwaitsResponse: true,
		Retrigger:      StepRetriggerAwaitSelfDescriptionLPResponse,
	},
	StepRetriggerSelfDescriptionLP:              {Process: TypeApplicationChecklist, Entry: EntrySelfDescriptionLP, Mode: Manual, Resumes: StepStartSelfDescriptionLP},
	StepRetriggerAwaitSelfDescriptionLPResponse: {Process: TypeApplicationChecklist, Entry: EntrySelfDescriptionLP, Mode: Manual, Resumes: StepStartSelfDescriptionLP},
	StepAssignInitialRoles:                      {Process: TypeApplicationChecklist, Entry: EntryApplicationActivation, Retrigger: StepRetriggerAssignInitialRoles},
	StepRetriggerAssignInitialRoles:             {Process: TypeApplicationChecklist, Entry: EntryApplicationActivation, Mode: Manual, Resumes: StepAssignInitialRoles},
	StepActivateApplication:                     {Process: TypeApplicationChecklist, Entry: EntryApplicationActivation, Retrigger: StepRetriggerAssignInitialRoles},

	// self-description creation
	StepSelfDescriptionCompanyCreation:  {Process: TypeSelfDescriptionCreation, Retrigger: StepRetriggerSelfDescriptionCompany},
	StepRetriggerSelfDescriptionCompany: {Process: TypeSelfDescriptionCreation, Mode: Manual, Resumes: StepSelfDescriptionCompanyCreation},
	StepAwaitSelfDescriptionCompanyResponse: {
		Process:        TypeSelfDescriptionCreation,
		Mode:           Manual,
		AwaitsResponse: true,
		Retrigger:      StepRetriggerAwaitSelfDescriptionCompanyResponse,
	},
	StepRetriggerAwaitSelfDescriptionCompanyResponse: {Process: TypeSelfDescriptionCreation, Mode: Manual, Resumes: StepSelfDescriptionCompanyCreation},
	StepSelfDescriptionConnectorCreation:             {Process: TypeSelfDescriptionCreation, Retrigger: StepRetriggerSelfDescriptionConnector},
	StepRetriggerSelfDescriptionConnector:            {Process: TypeSelfDescriptionCreation, Mode: Manual, Resumes: StepSelfDescriptionConnectorCreation},
	StepAwaitSelfDescriptionConnectorResponse: {
		Process:        TypeSelfDescriptionCreation,
		Mode:           Manual,
		AwaitsResponse: true,
		Retrigger:      StepRetriggerAwaitSelfDescriptionConnectorResponse,
	},
	StepRetriggerAwaitSelfDescriptionConnectorResponse: {Process: TypeSelfDescriptionCreation, Mode: Manual, Resumes: StepSelfDescriptionConnectorCreation},

	// technical users
	StepCreateDimTechnicalUser: {Process: TypeDimTechnicalUser, Retrigger: StepRetriggerCreateDimTechnicalUser},
	StepAwaitCreateDimTechnicalUserResponse: {
		Process:        TypeDimTechnicalUser,
		Mode:           Manual,
		AwaitsResponse: true,
		Retrigger:      StepRetriggerCreateDimTechnicalUser,
	},
	StepRetriggerCreateDimTechnicalUser: {Process: TypeDimTechnicalUser, Mode: Manual, Resumes: StepCreateDimTechnicalUser},

	// identity provider teardown
	StepDeleteIdpSharedRealm:                   {Process: TypeIdentityProviderProvisioning, Retrigger: StepRetriggerDeleteIdpSharedRealm},
	StepRetriggerDeleteIdpSharedRealm:          {Process: TypeIdentityProviderProvisioning, Mode: Manual, Resumes: StepDeleteIdpSharedRealm},
	StepDeleteCentralIdentityProvider:          {Process: TypeIdentityProviderProvisioning, Retrigger: StepRetriggerDeleteCentralIdentityProvider},
	StepRetriggerDeleteCentralIdentityProvider: {Process: TypeIdentityProviderProvisioning, Mode: Manual, Resumes: StepDeleteCentralIdentityProvider},
	StepDeleteIdentityProvider:                 {Process: TypeIdentityProviderProvisioning},

	// user provisioning
	StepDeleteCentralUser:          {Process: TypeUserProvisioning, Retrigger: StepRetriggerDeleteCentralUser},
	StepRetriggerDeleteCentralUser: {Process: TypeUserProvisioning, Mode: Manual, Resumes: StepDeleteCentralUser},
}

// Info returns the registry information for t.
func (t StepType) Info() (StepTypeInfo, bool) {
	info, ok := registry[t]
	return info, ok
}

// Valid returns true if t is a registered step type.
func (t StepType) Valid() bool {
	_, ok := registry[t]
	return ok
}

// Automatic returns true if t is run by the dispatcher.
func (t StepType) Automatic() bool {
	info, ok := registry[t]
	return ok && info.Mode == Automatic
}

// RetriggerOf returns the step scheduled when a step of type t fails.
func RetriggerOf(t StepType) (StepType, bool) {
	info, ok := registry[t]
	if !ok || info.Retrigger == "" {
		return "", false
	}
	return info.Retrigger, true
}

// StepTypes returns the sorted registered step types of process type p.
func StepTypes(p Type) (types []StepType) {
	for t, info := range registry {
		if info.Process == p {
			types = append(types, t)
		}
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return
}

// ValidateStepType checks that a step of type t may be scheduled in a
// process of type p.
func ValidateStepType(p Type, t StepType) error {
	info, ok := registry[t]
	if !ok {
		return NewUnexpectedError("unknown step type: %s", t)
	}
	if info.Process != p {
		return NewUnexpectedError("step type %s does not belong to process type %s", t, p)
	}
	return nil
}

// ValidateRegistry checks the structure of the step graph.
// Every failure edge must land on a manual retrigger step in the same
// process which in turn resumes an automatic step of that process.
func ValidateRegistry() error {
	var errs []error
	for t, info := range registry {
		if !info.Process.Valid() {
			errs = append(errs, fmt.Errorf("%s: invalid process type %q", t, info.Process))
		}
		if info.Entry != "" && (!info.Entry.Valid() || info.Process != TypeApplicationChecklist) {
			errs = append(errs, fmt.Errorf("%s: invalid checklist entry %q", t, info.Entry))
		}
		if info.Retrigger != "" {
			rt, ok := registry[info.Retrigger]
			switch {
			case !ok:
				errs = append(errs, fmt.Errorf("%s: unknown retrigger step %s", t, info.Retrigger))
			case rt.Process != info.Process:
				errs = append(errs, fmt.Errorf("%s: retrigger step %s in other process", t, info.Retrigger))
			case rt.Mode != Manual || rt.Resumes == "":
				errs = append(errs, fmt.Errorf("%s: %s is not a retrigger step", t, info.Retrigger))
			case rt.Entry != info.Entry:
				errs = append(errs, fmt.Errorf("%s: retrigger step %s works on another entry", t, info.Retrigger))
			}
		}
		if info.Resumes != "" {
			if info.Retrigger != "" {
				errs = append(errs, fmt.Errorf("%s: retrigger step may not itself fail over", t))
			}
			rs, ok := registry[info.Resumes]
			switch {
			case !ok:
				errs = append(errs, fmt.Errorf("%s: unknown resumed step %s", t, info.Resumes))
			case rs.Process != info.Process:
				errs = append(errs, fmt.Errorf("%s: resumed step %s in other process", t, info.Resumes))
			case rs.Mode != Automatic:
				errs = append(errs, fmt.Errorf("%s: resumed step %s is not automatic", t, info.Resumes))
			}
		}
	}
	return errors.Join(errs...)
}
