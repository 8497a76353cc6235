package target

import (
	"errors"
	"fmt"
)

var (
	// ErrBootModeUnsupported is returned by Load for JTAG boot modes.
	ErrBootModeUnsupported = errors.New("boot mode is not supported on this target")
	// ErrSymbolNotFound is returned when no binary defines a symbol.
	ErrSymbolNotFound = errors.New("symbol not found")
	// ErrNoPublisher is returned when the target has no MQTT connection.
	ErrNoPublisher = errors.New("no publisher")
	// ErrFlashUnsupported is returned by Flash.
	ErrFlashUnsupported = errors.New("flash is not supported on this target")
	// ErrSegmentRange is returned for ELF segments outside the 32-bit
	// address space.
	ErrSegmentRange = errors.New("segment outside 32-bit address space")
)

// OpError records a failed target operation.
type OpError struct {
	Op     string
	Target string
	Err    error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("target %s: %s: %v", e.Target, e.Op, e.Err)
}

func (e *OpError) Unwrap() error {
	return e.Err
}
