package scheduler

import "errors"

var (
	ErrCyclePanicked   = errors.New("cycle panicked")
	ErrInvalidSchedule = errors.New("invalid schedule")
)
