// Package httpx holds the JSON response and request-decoding helpers
// the workspace handlers share, RFC 7807 problem bodies included.
package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// ErrValidation marks malformed or over-specified request payloads.
var ErrValidation = errors.New("validation failed")

// ProblemDetail is the RFC 7807 body every error response carries.
type ProblemDetail struct {
	Type   string `json:"type,omitempty"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// JSON writes data with the given status. Encoding failures are
// dropped; the status line is already on the wire by then.
func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// Problem writes an RFC 7807 problem response.
func Problem(w http.ResponseWriter, status int, title, detail string) {
	JSON(w, status, ProblemDetail{
		Title:  title,
		Status: status,
		Detail: detail,
	})
}

// DecodeJSON strictly decodes the request body into target. Unknown
// fields are rejected so a typoed rule filter in a policy document
// fails loudly instead of silently matching everything. Failures wrap
// ErrValidation.
func DecodeJSON(r *http.Request, target any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(target); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return nil
}
