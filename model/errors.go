package model

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput matches every malformed-input error.
	ErrInvalidInput = errors.New("invalid input")
	// ErrEmptyResult matches inputs that produce no nodes.
	ErrEmptyResult = errors.New("empty result")
)

// InvalidInputError reports a malformed or duplicate input record.
// SubjectID and Rank are set when the problem belongs to one record.
type InvalidInputError struct {
	Reason    string
	SubjectID string
	Rank      int
}

func (e *InvalidInputError) Error() string {
	if e.SubjectID != "" {
		return fmt.Sprintf("invalid input: %s (subject %q, rank %d)", e.Reason, e.SubjectID, e.Rank)
	}
	return "invalid input: " + e.Reason
}

func (e *InvalidInputError) Is(target error) bool {
	return target == ErrInvalidInput
}

// NewInvalidInputError creates an InvalidInputError not tied to a record.
func NewInvalidInputError(format string, args ...interface{}) *InvalidInputError {
	return &InvalidInputError{Reason: fmt.Sprintf(format, args...)}
}

// EmptyResultError reports an input that yields zero nodes. An empty
// diagram usually means the upstream query selected nothing, so it is
// both an empty result and invalid input.
type EmptyResultError struct {
	What string
}

func (e *EmptyResultError) Error() string {
	if e.What == "" {
		return "empty result: no events"
	}
	return "empty result: " + e.What
}

func (e *EmptyResultError) Is(target error) bool {
	return target == ErrEmptyResult || target == ErrInvalidInput
}
