package selfdescription

import (
	"context"

	"github.com/micromdm/nanoprocess/engine"
	"github.com/micromdm/nanoprocess/engine/storage"
	"github.com/micromdm/nanoprocess/log/logkeys"
	"github.com/micromdm/nanoprocess/portal"
	"github.com/micromdm/nanoprocess/process"

	"github.com/micromdm/nanolib/log/ctxlog"
)

// running returns a conflict error if process id still has pending steps.
func running(ctx context.Context, u *storage.UnitOfWork, id string) error {
	if id == "" {
		return nil
	}
	_, steps, err := u.RetrieveProcess(ctx, id)
	if storage.IsNotFound(err) {
		return nil
	} else if err != nil {
		return err
	}
	if len(process.Pending(steps)) > 0 {
		return process.NewConflictError("self-description process %s is still running", id)
	}
	return nil
}

// StartCompanySelfDescription starts a self-description process for
// the caller's active company companyID and returns the process id.
func (s *SelfDescription) StartCompanySelfDescription(ctx context.Context, identity process.Identity, companyID string) (string, error) {
	u := s.engine.NewUnitOfWork()
	company, err := retrieveCompany(ctx, u, companyID)
	if err != nil {
		return "", err
	}
	if company.ID != identity.CompanyID {
		return "", process.NewForbiddenError("company %s may not start a self-description for company %s", identity.CompanyID, company.ID)
	}
	if company.Status != portal.CompanyStatusActive {
		return "", process.NewConflictError("company %s is not %s", company.ID, portal.CompanyStatusActive)
	}
	if company.BusinessPartnerNumber == "" {
		return "", process.NewConflictError("company %s has no business partner number", company.ID)
	}
	if err = running(ctx, u, company.SelfDescriptionProcessID); err != nil {
		return "", err
	}
	p, err := u.CreateProcess(process.TypeSelfDescriptionCreation, company.ID)
	if err != nil {
		return "", err
	}
	if _, err = engine.ScheduleSteps(ctx, u, p, process.StepSelfDescriptionCompanyCreation); err != nil {
		return "", err
	}
	version := company.EntityVersion()
	if _, err = storage.AttachAndModify(ctx, u, company.ID, func(c *portal.Company) {
		c.SetEntityVersion(version)
	}, func(c *portal.Company) {
		c.SelfDescriptionProcessID = p.ID
	}); err != nil {
		return "", err
	}
	if err = u.SaveChanges(ctx); err != nil {
		return "", err
	}
	ctxlog.Logger(ctx, s.logger).Debug(
		logkeys.Message, "started company self-description",
		logkeys.CompanyID, company.ID,
		logkeys.ProcessID, p.ID,
		logkeys.UserID, identity.UserID,
	)
	return p.ID, nil
}

// StartConnectorSelfDescription starts a self-description process for
// connector connectorID of the caller's company and returns the process id.
func (s *SelfDescription) StartConnectorSelfDescription(ctx context.Context, identity process.Identity, connectorID string) (string, error) {
	u := s.engine.NewUnitOfWork()
	connector, err := retrieveConnector(ctx, u, connectorID)
	if err != nil {
		return "", err
	}
	if connector.ProviderCompanyID != identity.CompanyID {
		return "", process.NewForbiddenError("company %s does not provide connector %s", identity.CompanyID, connector.ID)
	}
	if connector.SelfDescriptionDocumentID != "" {
		return "", process.NewConflictError("connector %s already has a self-description", connector.ID)
	}
	if err = running(ctx, u, connector.SelfDescriptionProcessID); err != nil {
		return "", err
	}
	p, err := u.CreateProcess(process.TypeSelfDescriptionCreation, connector.ID)
	if err != nil {
		return "", err
	}
	if _, err = engine.ScheduleSteps(ctx, u, p, process.StepSelfDescriptionConnectorCreation); err != nil {
		return "", err
	}
	version := connector.EntityVersion()
	if _, err = storage.AttachAndModify(ctx, u, connector.ID, func(c *portal.Connector) {
		c.SetEntityVersion(version)
	}, func(c *portal.Connector) {
		c.SelfDescriptionProcessID = p.ID
		c.SelfDescriptionMessage = ""
	}); err != nil {
		return "", err
	}
	if err = u.SaveChanges(ctx); err != nil {
		return "", err
	}
	ctxlog.Logger(ctx, s.logger).Debug(
		logkeys.Message, "started connector self-description",
		logkeys.ConnectorID, connector.ID,
		logkeys.ProcessID, p.ID,
		logkeys.UserID, identity.UserID,
	)
	return p.ID, nil
}
