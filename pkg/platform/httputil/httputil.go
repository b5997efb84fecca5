// Package httputil centralizes JSON encoding and domain error translation for
// the HTTP layer, so handlers stay thin and error envelopes stay consistent.
package httputil

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	dErrors "fides/pkg/domain-errors"
)

// WriteJSON encodes v as the response body with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// errorEnvelope is the uniform error body. Description is omitted for
// internal errors so infrastructure details never leak to clients.
type errorEnvelope struct {
	Error       string `json:"error"`
	Description string `json:"error_description,omitempty"`
}

// WriteError translates a domain error into an HTTP response. Unknown errors
// map to internal_error with no description.
func WriteError(w http.ResponseWriter, err error) {
	code := dErrors.CodeOf(err)
	if code == "" {
		code = dErrors.CodeInternal
	}

	env := errorEnvelope{Error: string(code)}
	if code != dErrors.CodeInternal && code != dErrors.CodeInvariantViolation {
		var e *dErrors.Error
		if ok := asDomainError(err, &e); ok {
			env.Description = e.Message
		}
	}

	WriteJSON(w, dErrors.ToHTTPStatus(code), env)
}

func asDomainError(err error, target **dErrors.Error) bool {
	for err != nil {
		if e, ok := err.(*dErrors.Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// DecodeAndPrepare decodes a JSON request body into T and runs its Validate
// method when it has one. On failure it writes the error response, logs the
// rejection, and returns ok=false so the handler can return immediately.
func DecodeAndPrepare[T any](w http.ResponseWriter, r *http.Request, logger *slog.Logger, ctx context.Context, requestID string) (T, bool) {
	var req T
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if logger != nil {
			logger.WarnContext(ctx, "request body rejected",
				"request_id", requestID,
				"path", r.URL.Path,
				"error", err,
			)
		}
		WriteError(w, dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid request body"))
		return req, false
	}
	if v, ok := any(&req).(interface{ Validate() error }); ok {
		if err := v.Validate(); err != nil {
			if logger != nil {
				logger.WarnContext(ctx, "request validation failed",
					"request_id", requestID,
					"path", r.URL.Path,
					"error", err,
				)
			}
			WriteError(w, err)
			return req, false
		}
	}
	return req, true
}
