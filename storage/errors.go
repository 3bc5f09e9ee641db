package storage

import "errors"

var (
	// ErrInvalidDriver is returned for an unknown driver type.
	ErrInvalidDriver = errors.New("invalid storage driver")

	// ErrInvalidConfig is returned when a driver is missing required options.
	ErrInvalidConfig = errors.New("invalid storage config")
)
