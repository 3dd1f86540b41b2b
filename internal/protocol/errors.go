package protocol

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedFrame is wrapped by every DecodeError.
	ErrMalformedFrame = errors.New("malformed frame")
	// ErrInvalidConfiguration is wrapped by every ConfigurationError.
	ErrInvalidConfiguration = errors.New("invalid configuration")
)

// DecodeError reports a telemetry frame of the wrong length.
type DecodeError struct {
	Frame string
	Want  int
	Got   int
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s frame: want %d bytes, got %d", e.Frame, e.Want, e.Got)
}

func (e *DecodeError) Unwrap() error { return ErrMalformedFrame }

// ConfigurationError reports parameters that cannot be encoded.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ConfigurationError) Unwrap() error { return ErrInvalidConfiguration }
