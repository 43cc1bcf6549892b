// internal/match/errors.go
package match

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Code classifies every recoverable failure of the match lifecycle.
type Code int

const (
	InvalidRosterSize Code = iota + 1
	NotAMember
	AlreadyQueued
	AlreadyInMatch
	NotQueued
	VerificationInProgress
	TooEarly
	TimedOut
	Rejected
	NotFound
	StaleState
	InvalidResult
	Forbidden
)

var codeNames = map[Code]string{
	InvalidRosterSize:      "invalid roster size",
	NotAMember:             "not a member",
	AlreadyQueued:          "already queued",
	AlreadyInMatch:         "already in match",
	NotQueued:              "not queued",
	VerificationInProgress: "verification in progress",
	TooEarly:               "too early",
	TimedOut:               "timed out",
	Rejected:               "rejected",
	NotFound:               "not found",
	StaleState:             "stale state",
	InvalidResult:          "invalid result",
	Forbidden:              "forbidden",
}

func (c Code) String() string {
	if s, ok := codeNames[c]; ok {
		return s
	}
	return fmt.Sprintf("code(%d)", int(c))
}

// Error is a taxonomy error. Message is safe to show to the invoking user.
type Error struct {
	Code    Code
	Message string

	// RetryAfter is set for TooEarly: how long until the action is allowed.
	RetryAfter time.Duration
}

func (e *Error) Error() string {
	return e.Code.String() + ": " + e.Message
}

// Is matches any *Error with the same code, so detailed errors still satisfy
// errors.Is(err, ErrTooEarly).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// NewError creates a new Error with the given code and message.
func NewError(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// NewErrorf creates a new Error with the given code and formatted message.
func NewErrorf(code Code, message string, a ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(message, a...)}
}

var (
	ErrInvalidRosterSize      = NewError(InvalidRosterSize, "the roster does not have the required number of players")
	ErrNotAMember             = NewError(NotAMember, "that player is not part of this roster")
	ErrAlreadyQueued          = NewError(AlreadyQueued, "you are already queued")
	ErrAlreadyInMatch         = NewError(AlreadyInMatch, "you are already playing in an active match")
	ErrNotQueued              = NewError(NotQueued, "you are not in this queue")
	ErrVerificationInProgress = NewError(VerificationInProgress, "a confirmation is already pending for this match")
	ErrTooEarly               = NewError(TooEarly, "it is too early to report this match")
	ErrTimedOut               = NewError(TimedOut, "the confirmation timed out")
	ErrRejected               = NewError(Rejected, "the confirmation was rejected")
	ErrNotFound               = NewError(NotFound, "not found")
	ErrStaleState             = NewError(StaleState, "the match is not in a state that allows this")
	ErrInvalidResult          = NewError(InvalidResult, "at least one game must be decided")
	ErrForbidden              = NewError(Forbidden, "you are not allowed to do that")
)

// CodeOf extracts the taxonomy code from err.
func CodeOf(err error) (Code, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Code, true
	}
	return 0, false
}

// UserMessage renders err as the corrective message shown to the invoking user.
func UserMessage(err error) string {
	var e *Error
	if !errors.As(err, &e) {
		return "something went wrong on our side, league staff have been notified"
	}
	if e.Code == TooEarly && e.RetryAfter > 0 {
		minutes := int(math.Ceil(e.RetryAfter.Minutes()))
		unit := "minutes"
		if minutes == 1 {
			unit = "minute"
		}
		return fmt.Sprintf("wait %d more %s before reporting", minutes, unit)
	}
	return e.Message
}
