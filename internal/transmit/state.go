package transmit

// State is a transmission run state
type State string

const (
	StateIdle      State = "idle"
	StateBuilding  State = "building"
	StateSkipped   State = "skipped"
	StateSending   State = "sending"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
	StateDone      State = "done"
)

// Operator-facing status texts
const (
	statusReady        = "Select data to transmit and press Transmit"
	statusTransmitting = "Transmitting data..."
	statusCompleted    = "Completed"
)

// Status is the observable UI-facing view of the orchestrator. It is
// published through subscriber callbacks so the rendering side never reads
// orchestrator fields directly.
type Status struct {
	RunID string `json:"run_id,omitempty"`
	State State  `json:"state"`
	Text  string `json:"text"`
	Busy  bool   `json:"busy"`
	Error string `json:"error,omitempty"`
}

// StatusListener receives status transitions. Listeners are invoked
// synchronously from the publishing goroutine and must not block.
type StatusListener func(Status)
