// Package lyraerr defines the closed set of error kinds that cross
// component boundaries, per the error handling design: components return
// wrapped sentinel errors, never panics or typed exception hierarchies.
package lyraerr

import "errors"

// Kind is one of the error kinds produced by the system's components.
type Kind string

const (
	KindPolicyDenied           Kind = "PolicyDenied"
	KindBreakerOpen            Kind = "BreakerOpen"
	KindRateLimited            Kind = "RateLimited"
	KindChallengeDetected      Kind = "ChallengeDetected"
	KindFetchTransient         Kind = "FetchTransient"
	KindFetchPermanent         Kind = "FetchPermanent"
	KindExtractionFailure      Kind = "ExtractionFailure"
	KindModelTimeout           Kind = "ModelTimeout"
	KindSchemaViolation        Kind = "SchemaViolation"
	KindForbiddenSQL           Kind = "ForbiddenSQL"
	KindExecutionBudgetExceeded Kind = "ExecutionBudgetExceeded"
	KindInternalFailure        Kind = "InternalFailure"
)

// Sentinel errors. Wrap with fmt.Errorf("...: %w", ErrPolicyDenied) to
// attach context while keeping errors.Is matching intact.
var (
	ErrPolicyDenied            = errors.New(string(KindPolicyDenied))
	ErrBreakerOpen             = errors.New(string(KindBreakerOpen))
	ErrRateLimited             = errors.New(string(KindRateLimited))
	ErrChallengeDetected       = errors.New(string(KindChallengeDetected))
	ErrFetchTransient          = errors.New(string(KindFetchTransient))
	ErrFetchPermanent          = errors.New(string(KindFetchPermanent))
	ErrExtractionFailure       = errors.New(string(KindExtractionFailure))
	ErrModelTimeout            = errors.New(string(KindModelTimeout))
	ErrSchemaViolation         = errors.New(string(KindSchemaViolation))
	ErrForbiddenSQL            = errors.New(string(KindForbiddenSQL))
	ErrExecutionBudgetExceeded = errors.New(string(KindExecutionBudgetExceeded))
	ErrInternalFailure         = errors.New(string(KindInternalFailure))
)

var kindErrors = map[Kind]error{
	KindPolicyDenied:            ErrPolicyDenied,
	KindBreakerOpen:             ErrBreakerOpen,
	KindRateLimited:             ErrRateLimited,
	KindChallengeDetected:       ErrChallengeDetected,
	KindFetchTransient:          ErrFetchTransient,
	KindFetchPermanent:          ErrFetchPermanent,
	KindExtractionFailure:       ErrExtractionFailure,
	KindModelTimeout:            ErrModelTimeout,
	KindSchemaViolation:         ErrSchemaViolation,
	KindForbiddenSQL:            ErrForbiddenSQL,
	KindExecutionBudgetExceeded: ErrExecutionBudgetExceeded,
	KindInternalFailure:         ErrInternalFailure,
}

// Of reports the Kind of err, by matching it against the sentinel set with
// errors.Is. Returns ("", false) if err does not match any known kind.
func Of(err error) (Kind, bool) {
	for k, sentinel := range kindErrors {
		if errors.Is(err, sentinel) {
			return k, true
		}
	}
	return "", false
}

// CauseChain is a compact, persistable record of a failure, threaded via
// cause_id through jobs so the scheduler can record why a job failed
// without leaking internal tracebacks across the tool boundary.
type CauseChain struct {
	ID      string `json:"id"`
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
	Parent  string `json:"parent_id,omitempty"`
}
