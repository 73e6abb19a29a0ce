package selfdescription

import (
	"context"
	"fmt"

	"github.com/micromdm/nanoprocess/engine"
	"github.com/micromdm/nanoprocess/engine/storage"
	"github.com/micromdm/nanoprocess/integration"
	"github.com/micromdm/nanoprocess/portal"
	"github.com/micromdm/nanoprocess/process"
)

func (s *SelfDescription) startLegalPerson(ctx context.Context, data *engine.ChecklistProcessStepData) (*engine.ChecklistStepResult, error) {
	if st := data.Checklist[process.EntryClearingHouse]; st != process.EntryStatusDone {
		return nil, process.NewConflictError("application %s checklist entry %s is %s", data.ApplicationID, process.EntryClearingHouse, st)
	}
	now := data.UnitOfWork.Now
	if s.disabled {
		return &engine.ChecklistStepResult{
			StepResult: engine.StepResult{
				NextSteps: []process.StepType{process.StepAssignInitialRoles},
				Message:   SkippedMessage,
			},
			ModifyEntry: func(entry *process.ChecklistEntry) {
				entry.Status = process.EntryStatusSkipped
				entry.Comment = SkippedMessage
				entry.DateLastChanged = now()
			},
		}, nil
	}
	u := data.UnitOfWork
	app, err := storage.Retrieve[portal.CompanyApplication](ctx, u, data.ApplicationID)
	if err != nil {
		return nil, err
	}
	company, err := retrieveCompany(ctx, u, app.CompanyID)
	if err != nil {
		return nil, err
	}
	if err = s.issuer.RegisterLegalPerson(ctx, &integration.LegalPersonRequest{
		ExternalID:  app.ID,
		BPN:         company.BusinessPartnerNumber,
		CountryCode: company.CountryCode,
		CallbackURL: s.callback(ApplicationCallbackPath),
	}); err != nil {
		return nil, fmt.Errorf("registering legal person: %w", err)
	}
	return &engine.ChecklistStepResult{
		StepResult: engine.StepResult{
			NextSteps: []process.StepType{process.StepAwaitSelfDescriptionLPResponse},
		},
		ModifyEntry: func(entry *process.ChecklistEntry) {
			entry.Status = process.EntryStatusInProgress
			entry.DateLastChanged = now()
		},
	}, nil
}

func (s *SelfDescription) createCompany(ctx context.Context, data *engine.ProcessStepData) (*engine.StepResult, error) {
	company, err := retrieveCompany(ctx, data.UnitOfWork, data.Process.OwnerID)
	if err != nil {
		return nil, err
	}
	if err = s.issuer.RegisterLegalPerson(ctx, &integration.LegalPersonRequest{
		ExternalID:  company.ID,
		BPN:         company.BusinessPartnerNumber,
		CountryCode: company.CountryCode,
		CallbackURL: s.callback(CompanyCallbackPath),
	}); err != nil {
		return nil, fmt.Errorf("registering company: %w", err)
	}
	return &engine.StepResult{
		NextSteps: []process.StepType{process.StepAwaitSelfDescriptionCompanyResponse},
	}, nil
}

func (s *SelfDescription) createConnector(ctx context.Context, data *engine.ProcessStepData) (*engine.StepResult, error) {
	u := data.UnitOfWork
	connector, err := retrieveConnector(ctx, u, data.Process.OwnerID)
	if err != nil {
		return nil, err
	}
	provider, err := retrieveCompany(ctx, u, connector.ProviderCompanyID)
	if err != nil {
		return nil, err
	}
	if provider.BusinessPartnerNumber == "" {
		return nil, process.NewConflictError("provider %s of connector %s has no business partner number", provider.ID, connector.ID)
	}
	if err = s.issuer.RegisterConnector(ctx, &integration.ConnectorRequest{
		ExternalID:   connector.ID,
		ConnectorURL: connector.URL,
		ProviderBPN:  provider.BusinessPartnerNumber,
		CallbackURL:  s.callback(ConnectorCallbackPath),
	}); err != nil {
		return nil, fmt.Errorf("registering connector: %w", err)
	}
	return &engine.StepResult{
		NextSteps: []process.StepType{process.StepAwaitSelfDescriptionConnectorResponse},
	}, nil
}
