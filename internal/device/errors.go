package device

import "errors"

var (
	// ErrDeviceNotFound is returned when a device ID is not registered.
	ErrDeviceNotFound = errors.New("device: not found")

	// ErrInvalidDevice is returned when a device fails validation.
	ErrInvalidDevice = errors.New("device: invalid")

	// ErrInvalidCommand is returned when a command fails validation.
	ErrInvalidCommand = errors.New("device: invalid command")

	// ErrProbeFailed is returned by probers when a device does not answer
	// its status endpoint.
	ErrProbeFailed = errors.New("device: probe failed")
)
