package checklist

import (
	"context"
	"strings"

	"github.com/micromdm/nanoprocess/log/logkeys"
	"github.com/micromdm/nanoprocess/process"

	"github.com/micromdm/nanolib/log/ctxlog"
)

type ClearinghouseStatus string

const (
	ClearinghouseConfirmed ClearinghouseStatus = "Confirm"
	ClearinghouseDeclined  ClearinghouseStatus = "Declined"
)

// ClearinghouseResponse is the clearinghouse's validation result for an
// application.
type ClearinghouseResponse struct {
	ApplicationID string              `json:"applicationId"`
	Status        ClearinghouseStatus `json:"status"`
	Message       string              `json:"message,omitempty"`
}

var inProgress = []process.ChecklistEntryStatus{process.EntryStatusInProgress}

// ProcessClearinghouseResponse completes the clearinghouse validation of
// an application. A confirmation starts the legal person
// self-description. A decline fails the clearinghouse entry and
// schedules its retrigger step.
func (c *Checklist) ProcessClearinghouseResponse(ctx context.Context, identity process.Identity, resp *ClearinghouseResponse) error {
	if resp == nil || resp.ApplicationID == "" {
		return process.NewArgumentError("application id must not be empty")
	}
	message := strings.TrimSpace(resp.Message)
	switch resp.Status {
	case ClearinghouseConfirmed:
	case ClearinghouseDeclined:
		if message == "" {
			return process.NewArgumentError("a message is required for a declined validation")
		}
	default:
		return process.NewArgumentError("invalid clearinghouse status %q", resp.Status)
	}
	data, err := c.engine.VerifyChecklistEntryAndProcessSteps(ctx, identity, resp.ApplicationID, process.EntryClearingHouse, inProgress, process.StepAwaitClearingHouseResponse)
	if err != nil {
		return err
	}
	if resp.Status == ClearinghouseDeclined {
		err = c.engine.FailChecklistEntryAndProcessStep(ctx, data, message)
	} else {
		err = c.engine.FinalizeChecklistEntryAndProcessSteps(ctx, data, nil, entryDone(data.UnitOfWork.Now), []process.StepType{process.StepStartSelfDescriptionLP})
	}
	if err != nil {
		return err
	}
	ctxlog.Logger(ctx, c.logger).Info(
		logkeys.Message, "clearinghouse response",
		logkeys.ApplicationID, resp.ApplicationID,
		logkeys.CorrelationID, data.CorrelationID,
		"status", resp.Status,
	)
	return nil
}
