package workflow

import "errors"

var (
	// ErrInvalidTransition is returned for a (status, action) pair outside the transition table.
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrUnknownAction     = errors.New("unknown action")

	// ErrPermissionDenied is returned when the actor lacks the role or ownership an action needs.
	ErrPermissionDenied = errors.New("permission denied")

	ErrCommentRequired = errors.New("comments are required")

	// ErrCorruptMomNumber marks a stored mom_number that is not a decimal sequence.
	ErrCorruptMomNumber = errors.New("corrupt mom number")
)
