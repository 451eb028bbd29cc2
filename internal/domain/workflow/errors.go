package workflow

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidTransition is returned when a trigger is not permitted from the current stage
	ErrInvalidTransition = errors.New("invalid stage transition")

	// ErrInvalidStage is returned when a stage is not valid
	ErrInvalidStage = errors.New("invalid stage")

	// ErrNotFound is returned when a command references an unknown request
	ErrNotFound = errors.New("request not found")

	// ErrStageMismatch is returned when the expected stage differs from the current stage
	ErrStageMismatch = errors.New("request is not at the expected stage")

	// ErrNotPending is returned when the request has already reached a terminal status
	ErrNotPending = errors.New("request is not pending")

	// ErrMissingRemarks is returned when a rejection carries no remarks
	ErrMissingRemarks = errors.New("rejection remarks are required")

	// ErrDuplicateID is returned by stores when inserting an existing request ID
	ErrDuplicateID = errors.New("duplicate request id")

	// ErrInvalidRequest is returned when a submission payload fails validation
	ErrInvalidRequest = errors.New("invalid budget request")
)

// TransitionError describes a rejected command. Err is one of the sentinel
// errors above so callers can branch with errors.Is.
type TransitionError struct {
	Op        string
	RequestID string
	Expected  Stage
	Actual    Stage
	Err       error
}

func (e *TransitionError) Error() string {
	switch {
	case e.Expected != "" && e.Actual != "":
		return fmt.Sprintf("%s %s: %v (expected %s, current %s)", e.Op, e.RequestID, e.Err, e.Expected, e.Actual)
	case e.RequestID != "":
		return fmt.Sprintf("%s %s: %v", e.Op, e.RequestID, e.Err)
	default:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
}

func (e *TransitionError) Unwrap() error {
	return e.Err
}

// Kind returns a short name for the failure, suitable for metric labels and API payloads
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrStageMismatch):
		return "stage_mismatch"
	case errors.Is(err, ErrNotPending):
		return "not_pending"
	case errors.Is(err, ErrMissingRemarks):
		return "missing_remarks"
	case errors.Is(err, ErrDuplicateID):
		return "duplicate_id"
	case errors.Is(err, ErrInvalidRequest):
		return "invalid_request"
	default:
		return "internal"
	}
}
