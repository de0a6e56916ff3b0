package mqtt

import "errors"

var (
	// ErrNotConnected is returned when an operation requires a live
	// broker connection.
	ErrNotConnected = errors.New("mqtt: not connected")

	// ErrPublishTimeout is returned when the broker does not acknowledge
	// a publish in time.
	ErrPublishTimeout = errors.New("mqtt: publish timeout")

	// ErrSubscribeFailed is returned when a subscription cannot be
	// established.
	ErrSubscribeFailed = errors.New("mqtt: subscribe failed")
)
