package archiver

import (
	"errors"
	"fmt"

	"github.com/roach88/coldline/internal/record"
	"github.com/roach88/coldline/internal/tier"
)

// ErrorCode categorizes per-record archival failures.
type ErrorCode string

const (
	// CodeTransient indicates a throttle, timeout or backend outage. Retried.
	CodeTransient ErrorCode = "TRANSIENT_BACKEND"

	// CodeVerificationFailed indicates the cold write returned success but the
	// read-back did not match. Retried like a transient failure.
	CodeVerificationFailed ErrorCode = "VERIFICATION_FAILED"

	// CodePermanent indicates the record can never be archived as-is, or its
	// retry budget is exhausted.
	CodePermanent ErrorCode = "PERMANENT_FAILURE"
)

// RecordError is a failure archiving a single record.
//
// Record errors are contained at the record level. They never abort the
// chunk or the run.
type RecordError struct {
	Code ErrorCode

	Key record.Key

	// Op is the step that failed ("hot get", "cold put", "verify", ...).
	Op string

	// Attempt is the 1-based attempt number that produced the error.
	Attempt int

	Err error
}

// Error implements the error interface.
func (e *RecordError) Error() string {
	msg := fmt.Sprintf("%s: %s %s", e.Code, e.Op, e.Key)
	if e.Attempt > 0 {
		msg += fmt.Sprintf(" (attempt %d)", e.Attempt)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *RecordError) Unwrap() error {
	return e.Err
}

// Retryable reports whether another attempt may succeed.
func (e *RecordError) Retryable() bool {
	return e.Code == CodeTransient || e.Code == CodeVerificationFailed
}

func newRecordError(code ErrorCode, key record.Key, op string, err error) *RecordError {
	return &RecordError{Code: code, Key: key, Op: op, Err: err}
}

// IsTransient returns true if err is a transient backend failure.
// Uses errors.As to handle wrapped errors.
func IsTransient(err error) bool {
	var re *RecordError
	if errors.As(err, &re) {
		return re.Code == CodeTransient
	}
	return false
}

// IsVerificationFailure returns true if err is a cold read-back mismatch.
func IsVerificationFailure(err error) bool {
	var re *RecordError
	if errors.As(err, &re) {
		return re.Code == CodeVerificationFailed
	}
	return false
}

// IsPermanent returns true if err will not succeed on retry.
func IsPermanent(err error) bool {
	var re *RecordError
	if errors.As(err, &re) {
		return re.Code == CodePermanent
	}
	return false
}

// isThrottle reports whether err carries a backend capacity signal.
func isThrottle(err error) bool {
	return tier.IsThrottled(err)
}
