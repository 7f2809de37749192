// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clientapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/bureau-foundation/hearth/eventstore"
	"github.com/bureau-foundation/hearth/mediastore"
	"github.com/bureau-foundation/hearth/room"
	"github.com/bureau-foundation/hearth/syncer"
)

// Matrix error codes the API emits.
const (
	CodeForbidden     = "M_FORBIDDEN"
	CodeNotFound      = "M_NOT_FOUND"
	CodeBadJSON       = "M_BAD_JSON"
	CodeNotJSON       = "M_NOT_JSON"
	CodeInvalidParam  = "M_INVALID_PARAM"
	CodeMissingToken  = "M_MISSING_TOKEN"
	CodeUnknownToken  = "M_UNKNOWN_TOKEN"
	CodeTooLarge      = "M_TOO_LARGE"
	CodeUnableToGrant = "M_UNABLE"
	CodeUnknown       = "M_UNKNOWN"
)

// MatrixError is a protocol-level error: a Matrix errcode plus the
// HTTP status it is served with. Handlers return it directly; anything
// else becomes a 500 M_UNKNOWN.
type MatrixError struct {
	Code    string `json:"errcode"`
	Message string `json:"error"`
	Status  int    `json:"-"`
}

func (e *MatrixError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Errorf builds a MatrixError with a formatted message.
func Errorf(status int, code, format string, args ...any) *MatrixError {
	return &MatrixError{Code: code, Status: status, Message: fmt.Sprintf(format, args...)}
}

// mapError classifies an error from the domain layers into the
// MatrixError it is served as. Errors the taxonomy does not name
// become 500 M_UNKNOWN.
func mapError(err error) *MatrixError {
	var matrixErr *MatrixError
	if errors.As(err, &matrixErr) {
		return matrixErr
	}

	var rejected *room.RejectedError
	if errors.As(err, &rejected) {
		return Errorf(http.StatusForbidden, CodeForbidden, "%s", rejected.Reason)
	}
	var malformed *room.MalformedError
	if errors.As(err, &malformed) {
		return Errorf(http.StatusBadRequest, CodeBadJSON, "%s", malformed.Reason)
	}
	var gap *room.GapError
	if errors.As(err, &gap) {
		// A local submission can only hit a gap through a stale or
		// forged parent reference.
		return Errorf(http.StatusBadRequest, CodeInvalidParam, "event references unknown history")
	}
	if errors.Is(err, syncer.ErrInvalidToken) {
		return Errorf(http.StatusBadRequest, CodeInvalidParam, "invalid sync token")
	}
	if errors.Is(err, eventstore.ErrNotFound) || errors.Is(err, mediastore.ErrNotFound) {
		return Errorf(http.StatusNotFound, CodeNotFound, "not found")
	}
	return Errorf(http.StatusInternalServerError, CodeUnknown, "internal error")
}

// writeError serves err as its MatrixError JSON body.
func writeError(w http.ResponseWriter, err error) {
	matrixErr := mapError(err)
	writeJSON(w, matrixErr.Status, matrixErr)
}

// writeJSON serves v as a JSON response body.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// maxRequestBytes caps a JSON request body. Media uploads have their
// own configurable cap.
const maxRequestBytes = 1 << 20

// readJSON decodes the request body into v, rejecting non-JSON and
// oversized bodies with the matching errcode.
func readJSON(r *http.Request, v any) *MatrixError {
	decoder := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxRequestBytes))
	if err := decoder.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return Errorf(http.StatusRequestEntityTooLarge, CodeTooLarge, "request body exceeds %d bytes", maxRequestBytes)
		}
		return Errorf(http.StatusBadRequest, CodeNotJSON, "request body is not valid JSON")
	}
	return nil
}
