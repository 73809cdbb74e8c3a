// Package httputil writes the JSON envelopes shared by every HTTP handler.
package httputil

import (
	"encoding/json"
	"errors"
	"net/http"

	"lamport/pkg/platform/sentinel"
)

// Error is an error that already knows its HTTP status and wire code.
type Error struct {
	Status      int
	Code        string
	Description string
}

func (e *Error) Error() string {
	return e.Code + ": " + e.Description
}

func NewError(status int, code, description string) *Error {
	return &Error{Status: status, Code: code, Description: description}
}

func BadRequest(description string) *Error {
	return NewError(http.StatusBadRequest, "bad_request", description)
}

type errorBody struct {
	Error       string `json:"error"`
	Description string `json:"error_description,omitempty"`
}

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError translates err into the JSON error envelope. Server errors never
// expose a description.
func WriteError(w http.ResponseWriter, err error) {
	e := classify(err)
	body := errorBody{Error: e.Code}
	if e.Status < http.StatusInternalServerError {
		body.Description = e.Description
	}
	WriteJSON(w, e.Status, body)
}

func classify(err error) *Error {
	var httpErr *Error
	if errors.As(err, &httpErr) {
		return httpErr
	}
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return NewError(http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, sentinel.ErrConflict):
		return NewError(http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, sentinel.ErrAlreadyUsed):
		return NewError(http.StatusConflict, "already_used", err.Error())
	case errors.Is(err, sentinel.ErrInvalidState):
		return NewError(http.StatusUnprocessableEntity, "invalid_state", err.Error())
	case errors.Is(err, sentinel.ErrUnavailable):
		return NewError(http.StatusServiceUnavailable, "unavailable", err.Error())
	}
	return NewError(http.StatusInternalServerError, "internal_error", err.Error())
}
