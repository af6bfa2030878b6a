// Package apierr builds the JSON error bodies the API answers with.
//
// Helpers return *echo.HTTPError, so handlers can return them directly and let
// echo's error handler write {"reason", "advice"}.
package apierr

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

type ErrorMessage struct {
	Reason string `json:"reason"`
	Advice string `json:"advice,omitempty"`
	Cause  error  `json:"-"`
}

func (e ErrorMessage) String() string {
	lines := []string{e.Reason}
	if e.Advice != "" {
		lines = append(lines, e.Advice)
	}
	if e.Cause != nil {
		lines = append(lines, fmt.Sprint(" caused by:", e.Cause.Error()))
	}
	return strings.Join(lines, "\n")
}

func (e ErrorMessage) Error() string {
	return e.String()
}

func (e ErrorMessage) Unwrap() error {
	return e.Cause
}

// MarshalJSON keeps echo from flattening the message into its Error() text.
func (e ErrorMessage) MarshalJSON() ([]byte, error) {
	type body ErrorMessage
	return json.Marshal(body(e))
}

type Option func(in *ErrorMessage)

func WithAdvice(advice string) Option {
	return func(in *ErrorMessage) {
		if advice != "" {
			in.Advice = advice
		}
	}
}

func WithError(err error) Option {
	return func(in *ErrorMessage) {
		if err != nil {
			in.Cause = err
		}
	}
}

func New(code int, reason string, opts ...Option) *echo.HTTPError {
	msg := ErrorMessage{Reason: reason}
	for _, opt := range opts {
		opt(&msg)
	}
	return echo.NewHTTPError(code, msg).SetInternal(msg)
}

func BadRequest(advice string, err error) *echo.HTTPError {
	return New(http.StatusBadRequest, "bad request", WithAdvice(advice), WithError(err))
}

func NotFound(what string) *echo.HTTPError {
	return New(http.StatusNotFound, what+" not found")
}

func Conflict(reason string, opts ...Option) *echo.HTTPError {
	return New(http.StatusConflict, reason, opts...)
}

func TooLarge(limit string) *echo.HTTPError {
	return New(
		http.StatusRequestEntityTooLarge, "payload too large",
		WithAdvice("upload a file of at most "+limit),
	)
}

func ServiceUnavailable(advice string, err error) *echo.HTTPError {
	return New(
		http.StatusServiceUnavailable, "service unavailable temporarily",
		WithAdvice(advice), WithError(err),
	)
}

func InternalServerError(err error) *echo.HTTPError {
	return New(http.StatusInternalServerError, "unexpected error", WithError(err))
}
