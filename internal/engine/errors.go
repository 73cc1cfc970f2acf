package engine

import "errors"

// ErrorKind classifies why a run degraded or aborted.
type ErrorKind string

const (
	KindNone                 ErrorKind = ""
	KindInvalidRequest       ErrorKind = "invalid_request"
	KindConfigurationMissing ErrorKind = "configuration_missing"
	KindSessionInvalid       ErrorKind = "session_invalid"
	KindStageTimeout         ErrorKind = "stage_timeout"
	KindNavigationFailure    ErrorKind = "navigation_failure"
	KindNoSubmitAvailable    ErrorKind = "no_submit_available"
	KindExtractionMismatch   ErrorKind = "extraction_mismatch"
)

var (
	// ErrStageTimeout signals a bounded poll exhausted its attempt budget.
	ErrStageTimeout = errors.New("stage poll budget exhausted")

	// ErrNoSubmitAvailable signals that none of the known submit controls
	// were enabled; nothing downstream can usefully execute.
	ErrNoSubmitAvailable = errors.New("no enabled submit control found")
)
