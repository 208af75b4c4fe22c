package rastersource

import (
	"errors"
	"fmt"
)

var (
	// ErrOpenFailed is returned when the decode engine cannot open a dataset.
	// The concrete error is an *OpenError.
	ErrOpenFailed = errors.New("open failed")
	// ErrUnsupportedFormat is returned for datasets that were decoded, but not
	// through the uniform path that guarantees original/buffer geometry.
	ErrUnsupportedFormat = errors.New("unsupported format")
	// ErrUnsupportedOperation is returned by writes to original geometry.
	ErrUnsupportedOperation = errors.New("unsupported operation")
	// ErrIndexOutOfRange is returned for band indices outside [1, NumBands].
	ErrIndexOutOfRange = errors.New("index out of range")
	// ErrSourceClosed is returned by every operation after Close.
	ErrSourceClosed = errors.New("source closed")
	// ErrOverviewBuildFailed wraps the engine error of a failed overview build.
	ErrOverviewBuildFailed = errors.New("overview build failed")
)

// OpenError reports a dataset the decode engine could not open.
type OpenError struct {
	Path    string
	Message string // the engine's error message
	Err     error
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("failed to open %s: %s", e.Path, e.Message)
}

// Unwrap exposes both ErrOpenFailed and the engine error to errors.Is.
func (e *OpenError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrOpenFailed}
	}
	return []error{ErrOpenFailed, e.Err}
}
