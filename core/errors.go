package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Backend error taxonomy. APIError unwraps to one of these.
var (
	ErrNetwork         = errors.New("backend unreachable")
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrNotFound        = errors.New("not found")
	ErrValidation      = errors.New("validation failed")
	ErrBadRequest      = errors.New("bad request")
)

// APIError is a non-2xx answer from the backend.
type APIError struct {
	Status int
	Detail string
	Kind   error
}

func (e *APIError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("backend: %d %s", e.Status, http.StatusText(e.Status))
	}
	return fmt.Sprintf("backend: %d %s", e.Status, e.Detail)
}

func (e *APIError) Unwrap() error {
	return e.Kind
}

func kindForStatus(status int) error {
	switch {
	case status == http.StatusUnauthorized:
		return ErrUnauthenticated
	case status == http.StatusForbidden:
		return ErrUnauthorized
	case status == http.StatusNotFound:
		return ErrNotFound
	case status == http.StatusUnprocessableEntity:
		return ErrValidation
	case status >= 500:
		return ErrNetwork
	default:
		return ErrBadRequest
	}
}

// parseDetail reads the backend's {"detail": ...} body. Detail is a string for
// most errors and a list of {loc, msg} objects for validation failures.
func parseDetail(body []byte) string {
	var envelope struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil || len(envelope.Detail) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(envelope.Detail, &s); err == nil {
		return s
	}
	var items []struct {
		Loc []any  `json:"loc"`
		Msg string `json:"msg"`
	}
	if err := json.Unmarshal(envelope.Detail, &items); err != nil {
		return ""
	}
	msgs := make([]string, 0, len(items))
	for _, it := range items {
		field := ""
		if n := len(it.Loc); n > 0 {
			field = fmt.Sprint(it.Loc[n-1])
		}
		if field != "" {
			msgs = append(msgs, field+": "+it.Msg)
		} else {
			msgs = append(msgs, it.Msg)
		}
	}
	return strings.Join(msgs, "; ")
}

// userMessage turns a backend error into text fit for an inline alert.
func userMessage(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Detail != "" {
		return apiErr.Detail
	}
	switch {
	case errors.Is(err, ErrNetwork):
		return "The course service is unavailable right now. Please try again."
	case errors.Is(err, ErrNotFound):
		return "The requested item was not found."
	case errors.Is(err, ErrUnauthorized):
		return "You do not have permission to do that."
	case errors.Is(err, ErrValidation), errors.Is(err, ErrBadRequest):
		return "The request was rejected. Please check the form."
	default:
		return "Something went wrong while loading this page."
	}
}
