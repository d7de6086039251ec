package pipeline

import (
	"errors"
	"fmt"
)

// Sentinel errors for typed error checking across pipeline stages.
var (
	ErrInvalidInput        = errors.New("invalid input")
	ErrTranslationFailed   = errors.New("query generation failed")
	ErrGenerationRejected  = errors.New("generation service declined the request")
	ErrQueryRejected       = errors.New("query rejected by safety validator")
	ErrBackendUnreachable  = errors.New("search backend unreachable")
	ErrBackendAuthFailed   = errors.New("search backend authentication failed")
	ErrSearchTimedOut      = errors.New("search timed out")
	ErrRejectedByBackend   = errors.New("query rejected by search backend")
	ErrInternal            = errors.New("internal error")
)

// Stable error kind strings exposed at the API boundary and recorded in
// history outcomes.
const (
	KindInvalidInput       = "INVALID_INPUT"
	KindTranslationFailed  = "TRANSLATION_FAILED"
	KindQueryRejected      = "QUERY_REJECTED"
	KindBackendUnreachable = "BACKEND_UNREACHABLE"
	KindBackendAuthFailed  = "BACKEND_AUTH_FAILED"
	KindSearchTimedOut     = "SEARCH_TIMED_OUT"
	KindRejectedByBackend  = "QUERY_REJECTED_BY_BACKEND"
	KindInternal           = "INTERNAL"
)

// StageError wraps a stage-local failure with the stage that produced it.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %s", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Kind maps any pipeline error to its stable kind string. Unrecognized
// errors map to KindInternal so nothing unclassified crosses the
// pipeline boundary.
func Kind(err error) string {
	switch {
	case errors.Is(err, ErrInvalidInput):
		return KindInvalidInput
	case errors.Is(err, ErrTranslationFailed), errors.Is(err, ErrGenerationRejected):
		return KindTranslationFailed
	case errors.Is(err, ErrQueryRejected):
		return KindQueryRejected
	case errors.Is(err, ErrBackendUnreachable):
		return KindBackendUnreachable
	case errors.Is(err, ErrBackendAuthFailed):
		return KindBackendAuthFailed
	case errors.Is(err, ErrSearchTimedOut):
		return KindSearchTimedOut
	case errors.Is(err, ErrRejectedByBackend):
		return KindRejectedByBackend
	default:
		return KindInternal
	}
}

// UserMessage returns a caller-safe message for err. Validator reasons
// and backend rejection detail are safe to surface; generation-service
// and internal errors get a generic message with detail kept in logs.
func UserMessage(err error) string {
	switch Kind(err) {
	case KindInvalidInput:
		return err.Error()
	case KindTranslationFailed:
		return "could not generate a query for this question"
	case KindQueryRejected:
		return err.Error()
	case KindBackendUnreachable:
		return "search backend is unreachable"
	case KindBackendAuthFailed:
		return "search backend rejected the configured credentials"
	case KindSearchTimedOut:
		return "search did not complete before the timeout"
	case KindRejectedByBackend:
		return err.Error()
	default:
		return "internal error"
	}
}
