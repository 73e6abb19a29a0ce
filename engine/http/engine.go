// Package http contains HTTP handlers that work with the nanoprocess engine.
package http

import (
	"context"
	"net/http"

	nphttp "github.com/micromdm/nanoprocess/http"
	"github.com/micromdm/nanoprocess/http/api"
	"github.com/micromdm/nanoprocess/log/logkeys"
	"github.com/micromdm/nanoprocess/process"

	"github.com/alexedwards/flow"
	"github.com/micromdm/nanolib/log"
	"github.com/micromdm/nanolib/log/ctxlog"
)

// serve runs op with the caller identity of r and writes its result.
// A nil result is written as 204 No Content.
func serve(w http.ResponseWriter, r *http.Request, logger log.Logger, op func(context.Context, process.Identity) (any, error)) {
	identity := nphttp.Identity(r)
	logger = ctxlog.Logger(r.Context(), logger).With(
		logkeys.UserID, identity.UserID,
		logkeys.CompanyID, identity.CompanyID,
	)
	ret, err := op(r.Context(), identity)
	if err != nil {
		logger.Info(logkeys.Error, err)
		api.JSONError(w, err, 0)
		return
	}
	logger.Debug(logkeys.Message, "handled request")
	if ret == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if err = api.JSONResponse(w, ret); err != nil {
		logger.Info(logkeys.Message, "encoding json response", logkeys.Error, err)
	}
}

// decodeAnd decodes the request body into a new Req and runs op with it.
func decodeAnd[Req any](w http.ResponseWriter, r *http.Request, logger log.Logger, op func(context.Context, process.Identity, *Req) (any, error)) {
	serve(w, r, logger, func(ctx context.Context, identity process.Identity) (any, error) {
		req := new(Req)
		if err := api.DecodeJSON(w, r, req); err != nil {
			return nil, err
		}
		return op(ctx, identity, req)
	})
}

// GetProcessHandler returns a process and its steps.
func GetProcessHandler(s ProcessService, logger log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		serve(w, r, logger, func(ctx context.Context, _ process.Identity) (any, error) {
			return s.RetrieveProcess(ctx, flow.Param(ctx, "id"))
		})
	}
}

// GetChecklistHandler returns the checklist of an application.
func GetChecklistHandler(s ProcessService, logger log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		serve(w, r, logger, func(ctx context.Context, _ process.Identity) (any, error) {
			return s.RetrieveChecklist(ctx, flow.Param(ctx, "id"))
		})
	}
}

// RetriggerHandler runs a retrigger step of a process.
func RetriggerHandler(s ProcessService, logger log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		serve(w, r, logger, func(ctx context.Context, identity process.Identity) (any, error) {
			t := process.StepType(flow.Param(ctx, "step"))
			return nil, s.Retrigger(ctx, identity, flow.Param(ctx, "id"), t)
		})
	}
}

// StartProcessHandler runs start with the id path parameter and returns
// the id of the started process.
func StartProcessHandler(start func(context.Context, process.Identity, string) (string, error), logger log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		serve(w, r, logger, func(ctx context.Context, identity process.Identity) (any, error) {
			id, err := start(ctx, identity, flow.Param(ctx, "id"))
			if err != nil {
				return nil, err
			}
			return &struct {
				ProcessID string `json:"processId"`
			}{ProcessID: id}, nil
		})
	}
}
