package device

import (
	"fmt"
	"regexp"
	"strings"
)

var idPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_-]{0,63}$`)

// ValidateID checks that a device ID is well formed.
func ValidateID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidDevice)
	}
	if !idPattern.MatchString(id) {
		return fmt.Errorf("%w: id %q must be alphanumeric with hyphens or underscores, max 64 chars", ErrInvalidDevice, id)
	}
	return nil
}

// ValidateType checks that a device type is one of the known roles.
func ValidateType(t Type) error {
	switch t {
	case TypeCamera, TypeController:
		return nil
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidDevice, t)
	}
}

// ValidateAddress checks that an address looks like a host or host:port.
func ValidateAddress(addr string) error {
	if addr == "" {
		return fmt.Errorf("%w: address is required", ErrInvalidDevice)
	}
	if strings.ContainsAny(addr, " /") {
		return fmt.Errorf("%w: address %q must be a host or host:port", ErrInvalidDevice, addr)
	}
	return nil
}

// ValidateCommandKind checks that a command kind is recognized.
func ValidateCommandKind(k CommandKind) error {
	switch k {
	case CommandMoveActuator, CommandStartConveyor, CommandStop, CommandCapture, CommandRestart:
		return nil
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidCommand, k)
	}
}
