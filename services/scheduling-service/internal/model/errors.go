package model

import (
	"errors"
	"fmt"
)

// ConflictReason says why a booking attempt was rejected.
type ConflictReason string

const (
	ReasonSlotTaken           ConflictReason = "slot_taken"
	ReasonOutsideWorkingHours ConflictReason = "outside_working_hours"
	ReasonTooFarInAdvance     ConflictReason = "too_far_in_advance"
)

// ConflictError is the expected failure mode of a booking attempt. Callers
// can branch on Reason to present "slot no longer available" versus policy
// rejections.
type ConflictError struct {
	Reason ConflictReason
}

func (e *ConflictError) Error() string {
	return "booking conflict: " + string(e.Reason)
}

func Conflict(reason ConflictReason) error {
	return &ConflictError{Reason: reason}
}

func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}

func ConflictReasonOf(err error) (ConflictReason, bool) {
	var ce *ConflictError
	if errors.As(err, &ce) {
		return ce.Reason, true
	}
	return "", false
}

// NotFoundError marks an unknown staff/service/appointment/business reference.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

func NotFound(kind, id string) error {
	return &NotFoundError{Kind: kind, ID: id}
}

func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// InvalidStateError marks an operation that is not valid for the
// appointment's current status, e.g. cancelling a completed appointment.
type InvalidStateError struct {
	Op     string
	Status AppointmentStatus
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s appointment in status %q", e.Op, e.Status)
}

func IsInvalidState(err error) bool {
	var is *InvalidStateError
	return errors.As(err, &is)
}

// ValidationError marks a request the engine refuses to evaluate, e.g. a
// start time in the past or an inverted range.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string {
	return e.Msg
}

func Invalid(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

func IsInvalid(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// ErrBusy is returned when the per-staff serialization scope could not be
// acquired within the bounded wait. Callers are expected to retry.
var ErrBusy = errors.New("staff calendar busy, retry")
