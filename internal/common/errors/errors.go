// Package errors implements the gateway's closed error taxonomy: every fault
// that can reach a client carries one of a fixed set of Kinds, each with a
// stable HTTP status and an optional JSON-RPC error code. Components never
// invent new kinds; they construct one of the taxonomy below and let the
// HTTP surface render it as a problem document or a JSON-RPC error object.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is the closed set of external error kinds.
type Kind string

const (
	KindInvalidRequest        Kind = "InvalidRequest"
	KindUnauthorized          Kind = "Unauthorized"
	KindClientNotFound        Kind = "ClientNotFound"
	KindSessionNotFound       Kind = "SessionNotFound"
	KindSessionAlreadyExists  Kind = "SessionAlreadyExists"
	KindConflict              Kind = "Conflict"
	KindUnsupportedAgent      Kind = "UnsupportedAgent"
	KindAgentNotInstalled     Kind = "AgentNotInstalled"
	KindInstallFailed         Kind = "InstallFailed"
	KindUnsupportedMediaType  Kind = "UnsupportedMediaType"
	KindNotAcceptable         Kind = "NotAcceptable"
	KindStreamError           Kind = "StreamError"
	KindTimeout               Kind = "Timeout"
	KindNotImplemented        Kind = "NotImplemented"
)

// jsonRPCNone marks kinds with no JSON-RPC error code (n/a in the taxonomy).
const jsonRPCNone = 0

var titles = map[Kind]string{
	KindInvalidRequest:       "Invalid Request",
	KindUnauthorized:         "Unauthorized",
	KindClientNotFound:       "ACP client not found",
	KindSessionNotFound:      "Session Not Found",
	KindSessionAlreadyExists: "Session Already Exists",
	KindConflict:             "Conflict",
	KindUnsupportedAgent:     "Unsupported Agent",
	KindAgentNotInstalled:    "Agent Not Installed",
	KindInstallFailed:        "Install Failed",
	KindUnsupportedMediaType: "Unsupported Media Type",
	KindNotAcceptable:        "Not Acceptable",
	KindStreamError:          "Stream Error",
	KindTimeout:              "Timeout",
	KindNotImplemented:       "Not Implemented",
}

// Title returns a short human-readable title for a Kind, for use as an
// RFC-7807 problem document's `title` field.
func (k Kind) Title() string {
	if t, ok := titles[k]; ok {
		return t
	}
	return string(k)
}

var taxonomy = map[Kind]struct {
	httpStatus int
	rpcCode    int
}{
	KindInvalidRequest:       {http.StatusBadRequest, -32600},
	KindUnauthorized:         {http.StatusUnauthorized, jsonRPCNone},
	KindClientNotFound:       {http.StatusNotFound, jsonRPCNone},
	KindSessionNotFound:      {http.StatusNotFound, -32001},
	KindSessionAlreadyExists: {http.StatusConflict, -32002},
	KindConflict:             {http.StatusConflict, jsonRPCNone},
	KindUnsupportedAgent:     {http.StatusBadRequest, -32003},
	KindAgentNotInstalled:    {http.StatusServiceUnavailable, -32004},
	KindInstallFailed:        {http.StatusInternalServerError, -32005},
	KindUnsupportedMediaType: {http.StatusUnsupportedMediaType, jsonRPCNone},
	KindNotAcceptable:        {http.StatusNotAcceptable, jsonRPCNone},
	KindStreamError:          {http.StatusInternalServerError, -32010},
	KindTimeout:              {http.StatusGatewayTimeout, -32011},
	KindNotImplemented:       {http.StatusNotImplemented, -32601},
}

// AppError is the gateway's error type: a taxonomy Kind plus a human message
// and an optional wrapped cause and optional extra detail (e.g. a stderr
// tail for InstallFailed).
type AppError struct {
	Kind   Kind
	Msg    string
	Detail string
	Err    error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// HTTPStatus returns the fixed HTTP status for this error's Kind.
func (e *AppError) HTTPStatus() int {
	return taxonomy[e.Kind].httpStatus
}

// RPCCode returns the fixed JSON-RPC error code for this error's Kind, and
// whether this Kind has one at all.
func (e *AppError) RPCCode() (int, bool) {
	t := taxonomy[e.Kind]
	return t.rpcCode, t.rpcCode != jsonRPCNone
}

// New constructs an AppError of the given Kind.
func New(kind Kind, msg string) *AppError {
	return &AppError{Kind: kind, Msg: msg}
}

// Newf constructs an AppError of the given Kind with a formatted message.
func Newf(kind Kind, format string, args ...any) *AppError {
	return &AppError{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap wraps err as an AppError of the given Kind, preserving any existing
// AppError's kind if err already is one and kind is left empty.
func Wrap(kind Kind, msg string, err error) *AppError {
	if err == nil {
		return nil
	}
	if kind == "" {
		if appErr, ok := As(err); ok {
			kind = appErr.Kind
		}
	}
	return &AppError{Kind: kind, Msg: msg, Err: err}
}

// WithDetail attaches free-form detail (e.g. an installer stderr tail) to an
// AppError and returns it for chaining.
func (e *AppError) WithDetail(detail string) *AppError {
	e.Detail = detail
	return e
}

// Is reports whether err is an AppError of the given Kind.
func Is(err error, kind Kind) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind == kind
	}
	return false
}

// As extracts the *AppError from err, if any.
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// HTTPStatusOf returns the HTTP status for err, defaulting to 500 for
// errors that are not AppErrors.
func HTTPStatusOf(err error) int {
	if appErr, ok := As(err); ok {
		return appErr.HTTPStatus()
	}
	return http.StatusInternalServerError
}
