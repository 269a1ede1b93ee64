package bthome

import (
	"errors"
	"fmt"
)

var (

	// ErrUnknownKind denotes a measurement kind without a registry entry
	ErrUnknownKind = errors.New("unknown measurement kind")

	// ErrRange denotes a scaled value that cannot be represented on the wire
	ErrRange = errors.New("value out of range")

	// ErrCapacityExceeded denotes a payload that does not fit the advertising envelope
	ErrCapacityExceeded = errors.New("advertising capacity exceeded")

	// ErrInvalidDeviceName denotes a device name that cannot be encoded
	ErrInvalidDeviceName = errors.New("invalid device name")

	// ErrInvalidRule denotes a registry row that cannot describe a wire encoding
	ErrInvalidRule = errors.New("invalid registry rule")

	// ErrMalformed denotes advertising or service data that cannot be parsed
	ErrMalformed = errors.New("malformed payload")
)

// UnknownKindError is returned for a kind absent from the registry
type UnknownKindError struct {
	Kind Kind
}

func (e *UnknownKindError) Error() string {
	return fmt.Sprintf("%s: %q", ErrUnknownKind, string(e.Kind))
}

// Is allows matching against ErrUnknownKind
func (e *UnknownKindError) Is(target error) bool {
	return target == ErrUnknownKind
}

// RangeError is returned for a reading whose scaled value does not fit its
// encoding (negative for an unsigned kind, too wide for the byte width, or not
// a finite number)
type RangeError struct {
	Kind  Kind
	Raw   float64
	Value int64
	Min   int64
	Max   int64
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("%s: %s reading %v scales to %d, allowed [%d, %d]", ErrRange, e.Kind, e.Raw, e.Value, e.Min, e.Max)
}

// Is allows matching against ErrRange
func (e *RangeError) Is(target error) bool {
	return target == ErrRange
}

// CapacityWarning signals that a payload (plus the flags structure prepended
// by the radio stack) exceeds the advertising envelope. The payload itself is
// valid, it is up to the caller to skip or shorten the cycle
type CapacityWarning struct {
	Length   int
	Overhead int
	Capacity int
}

func (e *CapacityWarning) Error() string {
	return fmt.Sprintf("%s: %d payload bytes + %d flags bytes > %d", ErrCapacityExceeded, e.Length, e.Overhead, e.Capacity)
}

// Is allows matching against ErrCapacityExceeded
func (e *CapacityWarning) Is(target error) bool {
	return target == ErrCapacityExceeded
}
