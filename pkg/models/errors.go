package models

import "errors"

var (
	// ErrOptionExecutionFailure is returned when a skill's controller cannot proceed.
	ErrOptionExecutionFailure = errors.New("option execution failure")

	// ErrOptionTimeout is returned when an option runs past its step budget.
	ErrOptionTimeout = errors.New("option timeout")
)
