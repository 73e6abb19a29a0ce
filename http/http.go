// Package http includes handlers and utilties.
package http

import (
	"bytes"
	"io"
	"net/http"
	"strings"

	"github.com/micromdm/nanoprocess/process"
)

// Identity headers set by the authenticating proxy in front of the API.
const (
	UserIDHeader    = "X-Portal-User-Id"
	CompanyIDHeader = "X-Portal-Company-Id"
)

// Identity returns the caller identity of r.
// Missing headers result in empty fields.
func Identity(r *http.Request) process.Identity {
	return process.Identity{
		UserID:    strings.TrimSpace(r.Header.Get(UserIDHeader)),
		CompanyID: strings.TrimSpace(r.Header.Get(CompanyIDHeader)),
	}
}

// ReadAllAndReplaceBody reads all of r.Body and replaces it with a new byte buffer.
func ReadAllAndReplaceBody(r *http.Request) ([]byte, error) {
	b, err := io.ReadAll(r.Body)
	if err != nil {
		return b, err
	}
	defer r.Body.Close()
	r.Body = io.NopCloser(bytes.NewBuffer(b))
	return b, nil
}

// DumpHandler outputs the body of the request to output.
func DumpHandler(next http.Handler, output io.Writer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, _ := ReadAllAndReplaceBody(r)
		output.Write(append(body, '\n'))
		next.ServeHTTP(w, r)
	}
}
