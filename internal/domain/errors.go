package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrJobNotFound is returned when a fetch log does not exist
	ErrJobNotFound = errors.New("fetch job not found")

	// ErrJobInProgress is returned when a run is requested while another is in flight
	ErrJobInProgress = errors.New("fetch job already in progress")

	// ErrAlreadyFinalized is returned when finalizing a fetch log that already completed
	ErrAlreadyFinalized = errors.New("fetch job already finalized")

	// ErrInvalidTrigger is returned for unknown trigger types
	ErrInvalidTrigger = errors.New("invalid trigger type")
)

// SourceError reports that the external source produced no usable records
type SourceError struct {
	Op       string
	ExitCode int
	Message  string
	Err      error
}

func (e *SourceError) Error() string {
	msg := "source " + e.Op + " failed"
	if e.ExitCode != 0 {
		msg += fmt.Sprintf(" (exit code %d)", e.ExitCode)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *SourceError) Unwrap() error {
	return e.Err
}

// NewSourceError creates a new source error
func NewSourceError(op string, err error, message string) error {
	return &SourceError{Op: op, Err: err, Message: message}
}
