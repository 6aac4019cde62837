package trialtrack

import "errors"

var (
	// ErrUserNotFound is returned when a user has no record yet
	ErrUserNotFound = errors.New("user record not found")

	// ErrCohortNotFound is returned when a cohort has no record yet
	ErrCohortNotFound = errors.New("cohort record not found")

	// ErrUnknownApp is returned for a slug outside the configured app set
	ErrUnknownApp = errors.New("unknown app")

	// ErrInvalidRecord is returned for records failing basic validation
	ErrInvalidRecord = errors.New("invalid record")

	// ErrStorageUnavailable is returned when storage is unavailable
	ErrStorageUnavailable = errors.New("storage unavailable")
)
