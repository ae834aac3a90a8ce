package schedule

import "errors"

var (
	// ErrInvalidConfiguration reports a schedule that cannot be built:
	// bad epoch counts, bad decay parameters or an unknown family.
	ErrInvalidConfiguration = errors.New("invalid lr schedule configuration")

	// ErrInvalidArgument reports a bad explicit position passed to StepTo.
	ErrInvalidArgument = errors.New("invalid lr schedule argument")
)
