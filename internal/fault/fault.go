// Package fault defines the error kinds shared by the extraction pipeline.
//
// Producers wrap one of the sentinels with context; callers classify with
// errors.Is or KindOf.
package fault

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration marks an invalid or missing option. Fatal to the whole run.
	ErrConfiguration = errors.New("configuration error")

	// ErrDiscovery marks an explicitly named video that could not be found.
	ErrDiscovery = errors.New("discovery error")

	// ErrDecode marks a frame or a whole video that could not be opened or decoded.
	ErrDecode = errors.New("decode error")

	// ErrWrite marks an output artifact that could not be written.
	ErrWrite = errors.New("write error")
)

// Configuration returns an ErrConfiguration with a formatted message.
func Configuration(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}

// Discovery returns an ErrDiscovery with a formatted message.
func Discovery(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrDiscovery, fmt.Sprintf(format, args...))
}

// Decode wraps err as an ErrDecode with the given context.
func Decode(context string, err error) error {
	if err == nil {
		return fmt.Errorf("%w: %s", ErrDecode, context)
	}
	return fmt.Errorf("%w: %s: %w", ErrDecode, context, err)
}

// Write wraps err as an ErrWrite with the given context.
func Write(context string, err error) error {
	if err == nil {
		return fmt.Errorf("%w: %s", ErrWrite, context)
	}
	return fmt.Errorf("%w: %s: %w", ErrWrite, context, err)
}

// KindOf names the kind of err, or "error" when it carries none of the sentinels.
func KindOf(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrConfiguration):
		return "configuration"
	case errors.Is(err, ErrDiscovery):
		return "discovery"
	case errors.Is(err, ErrDecode):
		return "decode"
	case errors.Is(err, ErrWrite):
		return "write"
	default:
		return "error"
	}
}
