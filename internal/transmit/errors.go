package transmit

import (
	"errors"
	"fmt"
)

var (
	// ErrRunInProgress is returned when a trigger arrives while a run is active
	ErrRunInProgress = errors.New("transmission already in progress")
	// ErrRejected indicates the transport endpoint refused the message without
	// raising a transport error
	ErrRejected = errors.New("message rejected by endpoint")
)

// DataFetchError indicates a selected source could not yield its data.
// The whole build is abandoned; no partial envelope is produced.
type DataFetchError struct {
	SourceID string
	Err      error
}

func (e *DataFetchError) Error() string {
	return fmt.Sprintf("fetch data from %s: %v", e.SourceID, e.Err)
}

func (e *DataFetchError) Unwrap() error {
	return e.Err
}

// ArchiveError indicates the outbound audit copy could not be written.
// Archiving failures are non-fatal: the run proceeds to transport.
type ArchiveError struct {
	Path string
	Err  error
}

func (e *ArchiveError) Error() string {
	return fmt.Sprintf("archive outbound message to %s: %v", e.Path, e.Err)
}

func (e *ArchiveError) Unwrap() error {
	return e.Err
}

// UnexpectedError wraps a panic that escaped a collaborator during a run.
// The run ends Failed like any other error; the process keeps serving.
type UnexpectedError struct {
	Value interface{}
}

func (e *UnexpectedError) Error() string {
	return fmt.Sprintf("unexpected error: %v", e.Value)
}

// TransportError indicates the transport layer rejected or could not deliver
// the message.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
