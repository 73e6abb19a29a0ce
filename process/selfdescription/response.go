package selfdescription

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/micromdm/nanoprocess/engine"
	"github.com/micromdm/nanoprocess/engine/storage"
	"github.com/micromdm/nanoprocess/log/logkeys"
	"github.com/micromdm/nanoprocess/portal"
	"github.com/micromdm/nanoprocess/process"

	"github.com/micromdm/nanolib/log/ctxlog"
)

type Status string

const (
	StatusConfirm Status = "Confirm"
	StatusFailed  Status = "Failed"
)

// Response is the issuer's answer to a self-description request.
// SubjectID is the id of the application, company or connector the
// self-description was requested for.
type Response struct {
	SubjectID string          `json:"subjectId"`
	Status    Status          `json:"status"`
	Message   string          `json:"message,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
}

// validate checks the payload of r before any state is read.
func (r *Response) validate() error {
	if r == nil || r.SubjectID == "" {
		return process.NewArgumentError("subject id must not be empty")
	}
	switch r.Status {
	case StatusConfirm:
		if len(r.Content) == 0 || string(r.Content) == "null" {
			return process.NewConflictError("please provide a selfDescriptionDocument")
		}
	case StatusFailed:
		if strings.TrimSpace(r.Message) == "" {
			return process.NewConflictError("please provide a message")
		}
	default:
		return process.NewArgumentError("invalid status %q", r.Status)
	}
	return nil
}

var inProgress = []process.ChecklistEntryStatus{process.EntryStatusInProgress}

// ProcessApplicationResponse records the legal person self-description
// of an application's company. A confirmation stores the document and
// continues with the assignment of initial roles. A failure fails the
// checklist entry and schedules a retrigger step.
func (s *SelfDescription) ProcessApplicationResponse(ctx context.Context, identity process.Identity, resp *Response) error {
	if err := resp.validate(); err != nil {
		return err
	}
	data, err := s.engine.VerifyChecklistEntryAndProcessSteps(ctx, identity, resp.SubjectID, process.EntrySelfDescriptionLP, inProgress, process.StepAwaitSelfDescriptionLPResponse)
	if err != nil {
		return err
	}
	logger := ctxlog.Logger(ctx, s.logger).With(
		logkeys.ApplicationID, resp.SubjectID,
		logkeys.CorrelationID, data.CorrelationID,
	)
	if resp.Status == StatusFailed {
		if err = s.engine.FailChecklistEntryAndProcessStep(ctx, data, resp.Message); err != nil {
			return err
		}
		logger.Info(logkeys.Message, "legal person self-description failed")
		return nil
	}

	u := data.UnitOfWork
	app, err := storage.Retrieve[portal.CompanyApplication](ctx, u, data.ApplicationID)
	if err != nil {
		return err
	}
	company, err := retrieveCompany(ctx, u, app.CompanyID)
	if err != nil {
		return err
	}
	doc, err := addDocument(u, company.ID, "SelfDescription_LegalPerson.json", resp.Content)
	if err != nil {
		return err
	}
	version := company.EntityVersion()
	if _, err = storage.AttachAndModify(ctx, u, company.ID, func(c *portal.Company) {
		c.SetEntityVersion(version)
	}, func(c *portal.Company) {
		c.SelfDescriptionDocumentID = doc.ID
	}); err != nil {
		return err
	}
	if err = s.engine.FinalizeChecklistEntryAndProcessSteps(ctx, data, nil, func(entry *process.ChecklistEntry) {
		entry.Status = process.EntryStatusDone
		entry.DateLastChanged = u.Now()
	}, []process.StepType{process.StepAssignInitialRoles}); err != nil {
		return err
	}
	logger.Info(
		logkeys.Message, "legal person self-description stored",
		logkeys.CompanyID, company.ID,
	)
	return nil
}

// ProcessCompanyResponse records the self-description of a company
// requested by its self-description process.
func (s *SelfDescription) ProcessCompanyResponse(ctx context.Context, identity process.Identity, resp *Response) error {
	if err := resp.validate(); err != nil {
		return err
	}
	company, err := retrieveCompany(ctx, s.engine.NewUnitOfWork(), resp.SubjectID)
	if err != nil {
		return err
	}
	if company.SelfDescriptionProcessID == "" {
		return process.NewNotFoundError("company %s has no self-description process", company.ID)
	}
	data, err := s.engine.VerifyProcessStep(ctx, identity, company.SelfDescriptionProcessID, process.TypeSelfDescriptionCreation, process.StepAwaitSelfDescriptionCompanyResponse)
	if err != nil {
		return err
	}
	logger := ctxlog.Logger(ctx, s.logger).With(
		logkeys.CompanyID, company.ID,
		logkeys.ProcessID, data.Process.ID,
		logkeys.CorrelationID, data.CorrelationID,
	)
	if resp.Status == StatusFailed {
		if err = s.engine.FailProcessStep(ctx, data, resp.Message); err != nil {
			return err
		}
		logger.Info(logkeys.Message, "company self-description failed")
		return nil
	}
	u := data.UnitOfWork
	doc, err := addDocument(u, company.ID, "SelfDescription_LegalPerson.json", resp.Content)
	if err != nil {
		return err
	}
	version := company.EntityVersion()
	if _, err = storage.AttachAndModify(ctx, u, company.ID, func(c *portal.Company) {
		c.SetEntityVersion(version)
	}, func(c *portal.Company) {
		c.SelfDescriptionDocumentID = doc.ID
	}); err != nil {
		return err
	}
	if err = s.engine.FinalizeProcessStep(ctx, data, nil); err != nil {
		return err
	}
	logger.Info(logkeys.Message, "company self-description stored")
	return nil
}

// ProcessConnectorResponse records the self-description of a connector.
// Connectors without a self-description process are updated directly;
// a failure then only records the message.
func (s *SelfDescription) ProcessConnectorResponse(ctx context.Context, identity process.Identity, resp *Response) error {
	if err := resp.validate(); err != nil {
		return err
	}
	u := s.engine.NewUnitOfWork()
	connector, err := retrieveConnector(ctx, u, resp.SubjectID)
	if err != nil {
		return err
	}
	var data *engine.ProcessStepData
	if connector.SelfDescriptionProcessID != "" {
		data, err = s.engine.VerifyProcessStep(ctx, identity, connector.SelfDescriptionProcessID, process.TypeSelfDescriptionCreation, process.StepAwaitSelfDescriptionConnectorResponse)
		if err != nil {
			return err
		}
		u = data.UnitOfWork
	} else if connector.SelfDescriptionDocumentID != "" {
		return process.NewConflictError("connector %s already has a self-description", connector.ID)
	}

	var docID string
	if resp.Status == StatusConfirm {
		doc, err := addDocument(u, connector.ID, "SelfDescription_Connector.json", resp.Content)
		if err != nil {
			return err
		}
		docID = doc.ID
	}
	version := connector.EntityVersion()
	if _, err = storage.AttachAndModify(ctx, u, connector.ID, func(c *portal.Connector) {
		c.SetEntityVersion(version)
	}, func(c *portal.Connector) {
		if resp.Status == StatusFailed {
			c.SelfDescriptionMessage = resp.Message
			return
		}
		c.SelfDescriptionDocumentID = docID
		c.SelfDescriptionMessage = ""
		c.Status = portal.ConnectorStatusActive
	}); err != nil {
		return err
	}

	switch {
	case data == nil:
		err = u.SaveChanges(ctx)
	case resp.Status == StatusFailed:
		err = s.engine.FailProcessStep(ctx, data, resp.Message)
	default:
		err = s.engine.FinalizeProcessStep(ctx, data, nil)
	}
	if err != nil {
		return err
	}
	ctxlog.Logger(ctx, s.logger).Info(
		logkeys.Message, "connector self-description response",
		logkeys.ConnectorID, connector.ID,
		"status", resp.Status,
	)
	return nil
}
