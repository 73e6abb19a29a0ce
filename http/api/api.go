// Package api contains JSON helpers for API handlers.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/micromdm/nanoprocess/process"
)

// MaxBodySize limits the size of decoded request bodies.
const MaxBodySize = 1 << 20

// JSONError encodes err as JSON to w.
func JSONError(w http.ResponseWriter, err error, statusCode int) {
	jsonErr := &struct {
		Err string `json:"error"`
	}{Err: err.Error()}
	w.Header().Set("Content-type", "application/json")
	if statusCode < 1 {
		statusCode = StatusCode(err)
	}
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(jsonErr)
}

// StatusCode maps err to an HTTP status code.
func StatusCode(err error) int {
	switch {
	case errors.Is(err, process.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, process.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, process.ErrArgument):
		return http.StatusBadRequest
	case errors.Is(err, process.ErrForbidden):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// DecodeJSON decodes the JSON body of r into v.
// Decoding errors are argument errors.
func DecodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxBodySize)).Decode(v)
	if errors.Is(err, io.EOF) {
		return process.NewArgumentError("empty request body")
	} else if err != nil {
		return fmt.Errorf("%w: decoding request body: %v", process.ErrArgument, err)
	}
	return nil
}

// JSONResponse encodes v as JSON to w.
func JSONResponse(w http.ResponseWriter, v any) error {
	w.Header().Set("Content-type", "application/json")
	return json.NewEncoder(w).Encode(v)
}
