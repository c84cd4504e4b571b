package gateway

import (
	"errors"
	"net/http"

	"github.com/triage-ai/querygate/internal/auth"
	"github.com/triage-ai/querygate/internal/policy"
	"github.com/triage-ai/querygate/internal/query"
	"github.com/triage-ai/querygate/internal/sqlguard"
	"github.com/triage-ai/querygate/internal/translator"
)

// Kind classifies a failed request.
type Kind string

const (
	KindInvalidRequest  Kind = "invalid_request"
	KindUnauthenticated Kind = "unauthenticated"
	KindForbidden       Kind = "forbidden"
	KindTranslation     Kind = "translation_failure"
	KindUnsafeStatement Kind = "unsafe_statement"
	KindExecution       Kind = "execution_error"
	KindInternal        Kind = "internal"
)

// Caller-facing messages. They never carry internal reasons.
const (
	MsgQueryRequired        = "query is required"
	MsgQueryTooLong         = "query is too long"
	MsgUnauthenticated      = "Could not validate credentials"
	DefaultForbiddenMessage = "Not allowed to fetch all customers"
	MsgTranslationFailure   = "Error generating SQL from query."
	MsgUnsafeStatement      = "statement rejected by safety policy"
	MsgExecutionError       = "bad query"
	MsgInternal             = "internal error"
)

// Error is the single failure type returned by Gateway.Handle.
// Status and Message are safe to show to callers; Reason and Err are not.
type Error struct {
	Kind    Kind
	Status  int
	Message string
	Reason  string
	Err     error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind) + ": " + e.Message
	}
	return string(e.Kind) + ": " + e.Message + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// AsError extracts a *Error from err.
func AsError(err error) (*Error, bool) {
	var ge *Error
	if errors.As(err, &ge) {
		return ge, true
	}
	return nil, false
}

// classify maps a stage error to the failure taxonomy.
func (g *Gateway) classify(err error) *Error {
	switch {
	case errors.Is(err, auth.ErrUnauthenticated):
		return &Error{Kind: KindUnauthenticated, Status: http.StatusUnauthorized, Message: MsgUnauthenticated, Reason: auth.Reason(err), Err: err}
	case errors.Is(err, policy.ErrForbidden):
		return &Error{Kind: KindForbidden, Status: http.StatusForbidden, Message: g.forbiddenMessage, Reason: "bulk_marker", Err: err}
	case errors.Is(err, translator.ErrTranslation):
		return &Error{Kind: KindTranslation, Status: http.StatusBadGateway, Message: MsgTranslationFailure, Err: err}
	case errors.Is(err, sqlguard.ErrUnsafeStatement):
		reason := sqlguard.Reason(err)
		if reason == "" {
			reason = "unsealed_statement"
		}
		return &Error{Kind: KindUnsafeStatement, Status: http.StatusInternalServerError, Message: MsgUnsafeStatement, Reason: reason, Err: err}
	case errors.Is(err, query.ErrExecution):
		return &Error{Kind: KindExecution, Status: http.StatusBadRequest, Message: MsgExecutionError, Err: err}
	default:
		return &Error{Kind: KindInternal, Status: http.StatusInternalServerError, Message: MsgInternal, Err: err}
	}
}
