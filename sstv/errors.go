package sstv

import "errors"

// Errors returned by the encoder. Callers match them with errors.Is; the
// returned errors are usually wrapped with request specific context.
var (
	// ErrUnconfiguredMode is returned when no mode was selected.
	ErrUnconfiguredMode = errors.New("no SSTV mode selected")

	// ErrUnknownMode is returned for a mode code that is not in the registry.
	ErrUnknownMode = errors.New("unknown SSTV mode")

	// ErrMissingInput is returned when no image was supplied.
	ErrMissingInput = errors.New("no image supplied")

	// ErrBufferSizeMismatch is returned when the pixel buffer is smaller than
	// width*height*4 bytes for the selected mode.
	ErrBufferSizeMismatch = errors.New("pixel buffer smaller than mode frame")
)
