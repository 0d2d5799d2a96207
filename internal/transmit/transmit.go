// Package transmit implements the transmission orchestration core: it tracks
// which loaded sources hold transmittable data, builds a multi-payload
// distribution envelope from the operator's selection, archives an audit copy,
// hands the message to the transport sender and reflects the outcome back
// into the schedule and the UI boundary.
package transmit

import (
	"context"
	"time"
)

// Service and interaction classification for this client's message class
const (
	Service     = "urn:savegress:telecare:services:transmit"
	Interaction = "urn:savegress:telecare:interaction:upload"
)

// EventTransmitted is the schedule event tag recorded after a successful run
const EventTransmitted = "TRANSMITTED"

// Source is anything loaded into the application that can offer data for
// transmission. Implementations must be safe for concurrent use: HasData may
// be observed while readings arrive.
type Source interface {
	// ID returns the stable token identifying the source
	ID() string
	// DisplayName returns the operator-facing name
	DisplayName() string
	// ProfileID returns the classification tag attached to the source's payload
	ProfileID() string
	// HasData reports whether the source currently holds transmittable data
	HasData() bool
	// FetchData returns a snapshot of the source's current data
	FetchData(ctx context.Context) ([]byte, error)
}

// TransportSender accepts a serialized envelope and reports whether the
// receiving system accepted it. It owns connection setup, signing and
// acknowledgement handling.
type TransportSender interface {
	Send(ctx context.Context, message []byte) (bool, error)
}

// Scheduler is the external scheduling collaborator notified of run outcomes
type Scheduler interface {
	IsPartOfSchedule() bool
	RecordEvent(tag string, when time.Time, sourceIDs []string)
	SetRunning(running bool)
}

// Config holds the addressing and run behaviour resolved once per run
type Config struct {
	SenderAddress    string
	RecipientAddress string
	AuditIdentity    string
	ArchiveDir       string
	FetchTimeout     time.Duration
}
