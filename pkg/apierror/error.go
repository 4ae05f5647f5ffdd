// Package apierror defines the JSON error envelope returned by the HTTP API.
package apierror

import (
	"encoding/json"
	"net/http"
)

// Error codes carried in the envelope's "code" field.
const (
	CodeBadRequest  = "BAD_REQUEST"
	CodeValidation  = "VALIDATION_ERROR"
	CodeNotFound    = "NOT_FOUND"
	CodeInternal    = "INTERNAL_ERROR"
	CodeUnavailable = "SERVICE_UNAVAILABLE"
)

var fallbackMessages = map[string]string{
	CodeNotFound:    "Resource not found",
	CodeInternal:    "An unexpected error occurred",
	CodeUnavailable: "Service temporarily unavailable",
}

// Error is an HTTP-facing error. StatusCode never reaches the body.
type Error struct {
	StatusCode int          `json:"-"`
	Code       string       `json:"code"`
	Message    string       `json:"message"`
	Details    []FieldError `json:"details,omitempty"`
}

// FieldError names one rejected request field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *Error) Error() string { return e.Message }

type envelope struct {
	Success bool   `json:"success"`
	Error   *Error `json:"error"`
}

// ToJSON renders {"success":false,"error":{...}}.
func (e *Error) ToJSON() []byte {
	data, err := json.Marshal(envelope{Error: e})
	if err != nil {
		return []byte(`{"success":false,"error":{"code":"` + CodeInternal + `","message":"encode error"}}`)
	}
	return data
}

func newError(status int, code, message string, details []FieldError) *Error {
	if message == "" {
		message = fallbackMessages[code]
	}
	return &Error{StatusCode: status, Code: code, Message: message, Details: details}
}

func BadRequest(message string) *Error {
	return newError(http.StatusBadRequest, CodeBadRequest, message, nil)
}

// ValidationError is a 400 listing the offending fields.
func ValidationError(message string, details ...FieldError) *Error {
	return newError(http.StatusBadRequest, CodeValidation, message, details)
}

func NotFound(message string) *Error {
	return newError(http.StatusNotFound, CodeNotFound, message, nil)
}

func InternalError(message string) *Error {
	return newError(http.StatusInternalServerError, CodeInternal, message, nil)
}

// ServiceUnavailable is returned while the store is still initializing or failed to.
func ServiceUnavailable(message string) *Error {
	return newError(http.StatusServiceUnavailable, CodeUnavailable, message, nil)
}
