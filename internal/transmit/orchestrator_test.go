package transmit

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

type fakeSender struct {
	mu     sync.Mutex
	accept bool
	err    error
	sent   [][]byte
	block  chan struct{}
}

func (s *fakeSender) Send(ctx context.Context, message []byte) (bool, error) {
	s.mu.Lock()
	s.sent = append(s.sent, message)
	block := s.block
	s.mu.Unlock()

	if block != nil {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-block:
		}
	}
	return s.accept, s.err
}

func (s *fakeSender) sentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

type recordedEvent struct {
	tag       string
	when      time.Time
	sourceIDs []string
}

type fakeScheduler struct {
	mu           sync.Mutex
	partOf       bool
	events       []recordedEvent
	runningCalls []bool
}

func (s *fakeScheduler) IsPartOfSchedule() bool { return s.partOf }

func (s *fakeScheduler) RecordEvent(tag string, when time.Time, sourceIDs []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, recordedEvent{tag: tag, when: when, sourceIDs: sourceIDs})
}

func (s *fakeScheduler) SetRunning(running bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runningCalls = append(s.runningCalls, running)
}

type statusRecorder struct {
	mu       sync.Mutex
	statuses []Status
	done     chan struct{}
}

func newStatusRecorder() *statusRecorder {
	return &statusRecorder{done: make(chan struct{}, 4)}
}

func (r *statusRecorder) listen(s Status) {
	r.mu.Lock()
	r.statuses = append(r.statuses, s)
	r.mu.Unlock()
	if s.State == StateDone {
		r.done <- struct{}{}
	}
}

func (r *statusRecorder) waitDone(t *testing.T) {
	t.Helper()
	select {
	case <-r.done:
	case <-time.After(5 * time.Second):
		t.Fatal("run did not reach Done")
	}
}

func (r *statusRecorder) states() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]State, 0, len(r.statuses))
	for _, s := range r.statuses {
		out = append(out, s.State)
	}
	return out
}

func (r *statusRecorder) hasState(want State) bool {
	for _, s := range r.states() {
		if s == want {
			return true
		}
	}
	return false
}

func newTestRegistry(sources ...*fakeSource) *SelectionRegistry {
	r := NewSelectionRegistry()
	for _, s := range sources {
		r.Register(s)
	}
	return r
}

func TestOrchestrator_SuccessfulScheduledRun(t *testing.T) {
	s1 := newFakeSource("S1", "P1", true, "a,b\n")
	s2 := newFakeSource("S2", "P2", true, "c,d\n")
	registry := newTestRegistry(s1, s2)
	sender := &fakeSender{accept: true}
	sched := &fakeScheduler{partOf: true}

	o := NewOrchestrator(testConfig, registry, sender, sched)
	rec := newStatusRecorder()
	o.Subscribe(rec.listen)

	var transmitted []string
	o.SetTransmittedCallback(func(ids []string) { transmitted = ids })

	if _, err := o.Trigger(context.Background()); err != nil {
		t.Fatalf("Trigger failed: %v", err)
	}
	rec.waitDone(t)

	if !rec.hasState(StateSucceeded) {
		t.Errorf("expected Succeeded, saw %v", rec.states())
	}
	if sender.sentCount() != 1 {
		t.Errorf("expected 1 transport send, got %d", sender.sentCount())
	}

	if len(sched.events) != 1 {
		t.Fatalf("expected exactly 1 schedule event, got %d", len(sched.events))
	}
	ev := sched.events[0]
	if ev.tag != EventTransmitted {
		t.Errorf("expected %s event, got %s", EventTransmitted, ev.tag)
	}
	if len(ev.sourceIDs) != 2 || ev.sourceIDs[0] != "S1" || ev.sourceIDs[1] != "S2" {
		t.Errorf("expected source IDs [S1 S2], got %v", ev.sourceIDs)
	}
	if ev.when.IsZero() {
		t.Error("event timestamp should be set")
	}

	if len(sched.runningCalls) != 1 || sched.runningCalls[0] {
		t.Errorf("expected exactly one SetRunning(false), got %v", sched.runningCalls)
	}
	if len(transmitted) != 2 {
		t.Errorf("transmitted callback should receive both source tokens, got %v", transmitted)
	}
	if o.Busy() {
		t.Error("orchestrator should be idle after Done")
	}
}

func TestOrchestrator_TransportRejection(t *testing.T) {
	registry := newTestRegistry(newFakeSource("S1", "P1", true, "a,b\n"))
	sender := &fakeSender{accept: false}
	sched := &fakeScheduler{partOf: true}

	o := NewOrchestrator(testConfig, registry, sender, sched)
	rec := newStatusRecorder()
	o.Subscribe(rec.listen)

	var failures []error
	o.SetErrorCallback(func(msg string, err error) { failures = append(failures, err) })

	o.Trigger(context.Background())
	rec.waitDone(t)

	if !rec.hasState(StateFailed) {
		t.Errorf("expected Failed, saw %v", rec.states())
	}
	if len(sched.events) != 0 {
		t.Errorf("no schedule event on failure, got %d", len(sched.events))
	}
	if len(sched.runningCalls) != 1 || sched.runningCalls[0] {
		t.Errorf("expected exactly one SetRunning(false), got %v", sched.runningCalls)
	}
	if len(failures) != 1 {
		t.Fatalf("expected one operator error, got %d", len(failures))
	}
	var transportErr *TransportError
	if !errors.As(failures[0], &transportErr) {
		t.Errorf("expected TransportError, got %v", failures[0])
	}
	if !errors.Is(failures[0], ErrRejected) {
		t.Errorf("rejection without transport error should map to ErrRejected, got %v", failures[0])
	}
}

func TestOrchestrator_TransportError(t *testing.T) {
	registry := newTestRegistry(newFakeSource("S1", "P1", true, "a,b\n"))
	sender := &fakeSender{err: errors.New("connection refused")}
	o := NewOrchestrator(testConfig, registry, sender, nil)
	rec := newStatusRecorder()
	o.Subscribe(rec.listen)

	o.Trigger(context.Background())
	rec.waitDone(t)

	if !rec.hasState(StateFailed) {
		t.Errorf("expected Failed, saw %v", rec.states())
	}
}

func TestOrchestrator_SkippedWhenNothingSelected(t *testing.T) {
	src := newFakeSource("S1", "P1", true, "a,b\n")
	registry := newTestRegistry(src)
	sender := &fakeSender{accept: true}
	sched := &fakeScheduler{partOf: true}

	o := NewOrchestrator(testConfig, registry, sender, sched)
	rec := newStatusRecorder()
	o.Subscribe(rec.listen)

	// Everything deselected between enablement and trigger
	registry.Toggle("S1", false)

	o.Trigger(context.Background())
	rec.waitDone(t)

	if !rec.hasState(StateSkipped) {
		t.Errorf("expected Skipped, saw %v", rec.states())
	}
	if sender.sentCount() != 0 {
		t.Error("skipped run must not call transport")
	}
	if len(sched.events) != 0 || len(sched.runningCalls) != 0 {
		t.Error("skipped run must not notify the scheduler")
	}
}

func TestOrchestrator_Reentrancy(t *testing.T) {
	registry := newTestRegistry(newFakeSource("S1", "P1", true, "a,b\n"))
	sender := &fakeSender{accept: true, block: make(chan struct{})}

	o := NewOrchestrator(testConfig, registry, sender, nil)
	rec := newStatusRecorder()
	o.Subscribe(rec.listen)

	if _, err := o.Trigger(context.Background()); err != nil {
		t.Fatalf("first Trigger failed: %v", err)
	}

	// Wait for the run to reach the transport call
	deadline := time.Now().Add(5 * time.Second)
	for sender.sentCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("run never reached transport")
		}
		time.Sleep(time.Millisecond)
	}

	if _, err := o.Trigger(context.Background()); !errors.Is(err, ErrRunInProgress) {
		t.Errorf("expected ErrRunInProgress while active, got %v", err)
	}

	close(sender.block)
	rec.waitDone(t)

	// A fresh run may start once the previous one reached Done
	sender.mu.Lock()
	sender.block = nil
	sender.mu.Unlock()
	if _, err := o.Trigger(context.Background()); err != nil {
		t.Errorf("Trigger after Done failed: %v", err)
	}
	rec.waitDone(t)
}

func TestOrchestrator_CancellationMidSend(t *testing.T) {
	registry := newTestRegistry(newFakeSource("S1", "P1", true, "a,b\n"))
	sender := &fakeSender{accept: true, block: make(chan struct{})}
	sched := &fakeScheduler{partOf: true}

	o := NewOrchestrator(testConfig, registry, sender, sched)
	rec := newStatusRecorder()
	o.Subscribe(rec.listen)

	ctx, cancel := context.WithCancel(context.Background())
	o.Trigger(ctx)

	deadline := time.Now().Add(5 * time.Second)
	for sender.sentCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("run never reached transport")
		}
		time.Sleep(time.Millisecond)
	}

	cancel()
	rec.waitDone(t)

	if !rec.hasState(StateFailed) {
		t.Errorf("cancellation should surface as Failed, saw %v", rec.states())
	}
	if len(sched.events) != 0 {
		t.Error("cancelled run must not record a TRANSMITTED event")
	}
	if len(sched.runningCalls) != 1 || sched.runningCalls[0] {
		t.Errorf("cancelled run must clear the schedule running flag, got %v", sched.runningCalls)
	}
}

func TestOrchestrator_ArchiveFailureIsNonFatal(t *testing.T) {
	registry := newTestRegistry(newFakeSource("S1", "P1", true, "a,b\n"))
	sender := &fakeSender{accept: true}

	cfg := testConfig
	cfg.ArchiveDir = filepath.Join(t.TempDir(), "missing", "nested")

	o := NewOrchestrator(cfg, registry, sender, nil)
	rec := newStatusRecorder()
	o.Subscribe(rec.listen)

	var warnings []error
	o.SetWarningCallback(func(msg string, err error) { warnings = append(warnings, err) })

	o.Trigger(context.Background())
	rec.waitDone(t)

	if len(warnings) != 1 {
		t.Fatalf("expected exactly one warning, got %d", len(warnings))
	}
	var archiveErr *ArchiveError
	if !errors.As(warnings[0], &archiveErr) {
		t.Errorf("expected ArchiveError warning, got %v", warnings[0])
	}
	if sender.sentCount() != 1 {
		t.Error("run must proceed to transport despite archive failure")
	}
	if !rec.hasState(StateSucceeded) {
		t.Errorf("expected Succeeded, saw %v", rec.states())
	}
}

func TestOrchestrator_StateSequence(t *testing.T) {
	registry := newTestRegistry(newFakeSource("S1", "P1", true, "a,b\n"))
	sender := &fakeSender{accept: true}

	o := NewOrchestrator(testConfig, registry, sender, nil)
	rec := newStatusRecorder()
	o.Subscribe(rec.listen)

	o.Trigger(context.Background())
	rec.waitDone(t)

	want := []State{StateIdle, StateBuilding, StateSending, StateSucceeded, StateDone}
	got := rec.states()
	if len(got) != len(want) {
		t.Fatalf("expected states %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected states %v, got %v", want, got)
		}
	}

	final := o.Status()
	if final.Busy {
		t.Error("final status must not be busy")
	}
}

func TestOrchestrator_DataFetchFailure(t *testing.T) {
	bad := newFakeSource("S1", "P1", true, "")
	bad.fetchErr = errors.New("device not responding")
	registry := newTestRegistry(bad)
	sender := &fakeSender{accept: true}

	o := NewOrchestrator(testConfig, registry, sender, nil)
	rec := newStatusRecorder()
	o.Subscribe(rec.listen)

	var failures []error
	o.SetErrorCallback(func(msg string, err error) { failures = append(failures, err) })

	o.Trigger(context.Background())
	rec.waitDone(t)

	if sender.sentCount() != 0 {
		t.Error("no transport call after a fetch failure")
	}
	if len(failures) != 1 {
		t.Fatalf("expected one operator error, got %d", len(failures))
	}
	var fetchErr *DataFetchError
	if !errors.As(failures[0], &fetchErr) {
		t.Errorf("expected DataFetchError, got %v", failures[0])
	}
}

type panickingSource struct {
	*fakeSource
}

func (p *panickingSource) FetchData(ctx context.Context) ([]byte, error) {
	panic("device driver fault")
}

func TestOrchestrator_PanickingSourceFailsRun(t *testing.T) {
	bad := &panickingSource{fakeSource: newFakeSource("S1", "P1", true, "")}
	registry := NewSelectionRegistry()
	registry.Register(bad)
	sender := &fakeSender{accept: true}
	sched := &fakeScheduler{partOf: true}

	o := NewOrchestrator(testConfig, registry, sender, sched)
	rec := newStatusRecorder()
	o.Subscribe(rec.listen)

	var failures []error
	o.SetErrorCallback(func(msg string, err error) { failures = append(failures, err) })

	o.Trigger(context.Background())
	rec.waitDone(t)

	if !rec.hasState(StateFailed) {
		t.Errorf("expected Failed, saw %v", rec.states())
	}
	if sender.sentCount() != 0 {
		t.Error("no transport call after a panicking fetch")
	}
	if len(failures) != 1 {
		t.Fatalf("expected one operator error, got %d", len(failures))
	}
	var unexpected *UnexpectedError
	if !errors.As(failures[0], &unexpected) {
		t.Errorf("expected UnexpectedError, got %v", failures[0])
	}
	if len(sched.events) != 0 {
		t.Errorf("no schedule events after a failed run, got %v", sched.events)
	}
	if len(sched.runningCalls) != 1 || sched.runningCalls[0] {
		t.Errorf("expected exactly one SetRunning(false), got %v", sched.runningCalls)
	}

	// The client stays usable: a fresh run can be triggered
	if o.Busy() {
		t.Error("orchestrator should be idle after the failed run")
	}
}
