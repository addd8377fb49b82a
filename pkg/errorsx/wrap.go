package errorsx

import (
	"errors"
	"fmt"
)

// ReasonedError carries a reason code alongside the error it annotates.
type ReasonedError struct {
	Err    error
	Reason ReasonCode
}

func (e ReasonedError) Error() string {
	if e.Err == nil {
		return string(e.Reason)
	}
	return e.Err.Error()
}

func (e ReasonedError) Unwrap() error { return e.Err }

// Wrap attaches reason to err. The first reason in a chain wins, so wrapping
// an already reasoned error returns it unchanged.
func Wrap(err error, reason ReasonCode) error {
	if err == nil {
		return nil
	}
	var re ReasonedError
	if errors.As(err, &re) {
		return err
	}
	return ReasonedError{Err: err, Reason: reason}
}

// Wrapf is Wrap with a formatted message prefix.
func Wrapf(err error, reason ReasonCode, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return Wrap(fmt.Errorf(format+": %w", append(args, err)...), reason)
}

// Reason returns the reason code of err, or ReasonUnknown.
func Reason(err error) ReasonCode {
	return ReasonOr(err, ReasonUnknown)
}

// ReasonOr returns the reason code of err, or fallback when none is attached.
func ReasonOr(err error, fallback ReasonCode) ReasonCode {
	if err == nil {
		return fallback
	}
	var re ReasonedError
	if errors.As(err, &re) {
		return re.Reason
	}
	return fallback
}

func HasReason(err error, reason ReasonCode) bool {
	return Reason(err) == reason
}
