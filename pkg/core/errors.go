package core

import (
	"errors"
	"fmt"
)

// Pipeline error taxonomy. Raw errors from external collaborators never
// cross a component boundary; adapters convert them to one of these.
var (
	// ErrUnknownSession means the operation referenced a meeting id with
	// no active session. Recoverable; surfaced to the caller.
	ErrUnknownSession = errors.New("unknown session")

	// ErrDuplicateSession means a join notification arrived for an
	// already-active meeting id. The existing session wins.
	ErrDuplicateSession = errors.New("duplicate session")

	// ErrOracleTimeout means a decision call to the completion provider
	// did not return in time.
	ErrOracleTimeout = errors.New("oracle timeout")

	// ErrOracleMalformed means the completion provider returned no
	// structured call, or one that fails schema validation.
	ErrOracleMalformed = errors.New("oracle malformed response")

	// ErrPlanningFailed means question planning produced no usable plan.
	// Unlike brief decisioning, this is surfaced to the user.
	ErrPlanningFailed = errors.New("planning failed")
)

// RelayError reports a failure on one leg of the audio bridge. It
// triggers teardown of both legs; the session itself stays active so a
// fresh connect can retry.
type RelayError struct {
	MeetingID string
	Leg       string // "media" or "transcription"
	Err       error
}

func (e *RelayError) Error() string {
	return fmt.Sprintf("media relay %s leg failed for meeting %s: %v", e.Leg, e.MeetingID, e.Err)
}

func (e *RelayError) Unwrap() error { return e.Err }
