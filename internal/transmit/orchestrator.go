package transmit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Orchestrator coordinates one transmission run at a time: it re-derives the
// selected set, builds the envelope, archives an audit copy, hands the
// message to the transport sender and reports the outcome to the scheduler
// and the UI boundary. Each run executes on its own goroutine; re-entrancy is
// prevented by refusing a trigger while a run is active, so the run body
// itself needs no internal locking.
type Orchestrator struct {
	cfg       Config
	registry  *SelectionRegistry
	builder   *Builder
	archiver  *Archiver
	sender    TransportSender
	scheduler Scheduler // nil when no schedule is loaded

	mu        sync.Mutex
	active    bool
	status    Status
	listeners []StatusListener

	onWarning     func(msg string, err error)
	onError       func(msg string, err error)
	onTransmitted func(sourceIDs []string)
	onSummary     func()

	now func() time.Time
}

// NewOrchestrator creates an orchestrator. scheduler may be nil.
func NewOrchestrator(cfg Config, registry *SelectionRegistry, sender TransportSender, scheduler Scheduler) *Orchestrator {
	return &Orchestrator{
		cfg:       cfg,
		registry:  registry,
		builder:   NewBuilder(cfg.FetchTimeout),
		archiver:  NewArchiver(cfg.ArchiveDir, Interaction),
		sender:    sender,
		scheduler: scheduler,
		status:    Status{State: StateIdle, Text: statusReady},
		now:       time.Now,
	}
}

// Subscribe registers a status listener and immediately delivers the current
// status to it
func (o *Orchestrator) Subscribe(fn StatusListener) {
	o.mu.Lock()
	o.listeners = append(o.listeners, fn)
	current := o.status
	o.mu.Unlock()

	fn(current)
}

// SetWarningCallback sets the operator warning callback (non-fatal problems)
func (o *Orchestrator) SetWarningCallback(fn func(msg string, err error)) {
	o.onWarning = fn
}

// SetErrorCallback sets the operator error callback (run failures)
func (o *Orchestrator) SetErrorCallback(fn func(msg string, err error)) {
	o.onError = fn
}

// SetTransmittedCallback sets the callback invoked with the transmitted
// source tokens after a successful run
func (o *Orchestrator) SetTransmittedCallback(fn func(sourceIDs []string)) {
	o.onTransmitted = fn
}

// SetSummaryRefreshCallback sets the callback asking the application to
// refresh its summary view after a scheduled transmission
func (o *Orchestrator) SetSummaryRefreshCallback(fn func()) {
	o.onSummary = fn
}

// Status returns the current observable status
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.status
}

// Busy reports whether a run is active
func (o *Orchestrator) Busy() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.active
}

// Trigger starts a transmission run on a dedicated goroutine and returns its
// run ID. Exactly one run may be active at a time; triggering during an
// active run returns ErrRunInProgress. The hosting UI is expected to disable
// its trigger while Busy, but the guard here makes re-entrancy impossible
// regardless.
func (o *Orchestrator) Trigger(ctx context.Context) (string, error) {
	o.mu.Lock()
	if o.active {
		o.mu.Unlock()
		return "", ErrRunInProgress
	}
	o.active = true
	o.mu.Unlock()

	runID := uuid.New().String()
	o.publish(Status{RunID: runID, State: StateBuilding, Text: statusTransmitting, Busy: true})

	go o.run(ctx, runID)

	return runID, nil
}

func (o *Orchestrator) run(ctx context.Context, runID string) {
	// Sources and transports are loaded collaborators; one panicking must
	// fail the run, not kill the client.
	defer func() {
		if v := recover(); v != nil {
			o.fail(runID, "Error transmitting message to recipient", &UnexpectedError{Value: v})
		}
	}()

	// Re-derive the selected set rather than trusting the UI snapshot: a
	// source may have drained between enablement and trigger.
	selected := o.registry.SelectedSources()
	if len(selected) == 0 {
		o.publish(Status{RunID: runID, State: StateSkipped, Text: statusReady, Busy: true})
		o.complete(runID, false)
		return
	}

	env, err := o.builder.Build(ctx, o.cfg, selected)
	if err != nil {
		o.fail(runID, "Error in creating the message to be transmitted", err)
		return
	}

	message, err := env.Serialize()
	if err != nil {
		o.fail(runID, "Error in creating the message to be transmitted", err)
		return
	}

	if err := o.archiver.Archive(message); err != nil {
		// Non-fatal: warn the operator and carry on to transport
		o.warn("Cannot save outbound message copy to the configured archive directory", err)
	}

	o.publish(Status{RunID: runID, State: StateSending, Text: statusTransmitting, Busy: true})

	accepted, err := o.sender.Send(ctx, message)
	if err != nil {
		o.fail(runID, "Error transmitting message to recipient", &TransportError{Err: err})
		return
	}
	if !accepted {
		o.fail(runID, "Error transmitting message to recipient", &TransportError{Err: ErrRejected})
		return
	}
	if ctx.Err() != nil {
		// Cancelled after the send returned: treat as failed, record nothing
		o.fail(runID, "Transmission cancelled", ctx.Err())
		return
	}

	ids := sourceIDs(selected)
	if o.scheduler != nil && o.scheduler.IsPartOfSchedule() {
		o.scheduler.RecordEvent(EventTransmitted, o.now(), ids)
	}
	if o.onTransmitted != nil {
		o.onTransmitted(ids)
	}
	if o.onSummary != nil {
		o.onSummary()
	}

	o.publish(Status{RunID: runID, State: StateSucceeded, Text: statusCompleted, Busy: true})
	o.complete(runID, true)
}

// fail reports a run failure to the operator and completes the run. All
// non-archive error kinds land here.
func (o *Orchestrator) fail(runID, msg string, err error) {
	if o.onError != nil {
		o.onError(msg, err)
	}
	o.publish(Status{RunID: runID, State: StateFailed, Text: msg, Busy: true, Error: err.Error()})
	o.complete(runID, true)
}

func (o *Orchestrator) warn(msg string, err error) {
	if o.onWarning != nil {
		o.onWarning(msg, err)
	}
}

// complete releases the run. For succeeded, failed and cancelled runs the
// schedule step is marked not-running so the operator can retry or move on; a
// skipped run never touched the schedule and leaves it alone.
func (o *Orchestrator) complete(runID string, notifySchedule bool) {
	if notifySchedule && o.scheduler != nil && o.scheduler.IsPartOfSchedule() {
		o.scheduler.SetRunning(false)
	}

	o.mu.Lock()
	o.active = false
	o.mu.Unlock()

	o.publish(Status{RunID: runID, State: StateDone, Text: statusReady, Busy: false})
}

// publish stores the status and fans it out to listeners. Listeners are
// called outside the mutex so they may query the orchestrator.
func (o *Orchestrator) publish(s Status) {
	o.mu.Lock()
	o.status = s
	listeners := make([]StatusListener, len(o.listeners))
	copy(listeners, o.listeners)
	o.mu.Unlock()

	for _, fn := range listeners {
		fn(s)
	}
}

func sourceIDs(sources []Source) []string {
	ids := make([]string, 0, len(sources))
	for _, s := range sources {
		ids = append(ids, s.ID())
	}
	return ids
}
