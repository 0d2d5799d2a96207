// Package scheduler implements the scheduling collaborator: an append-only
// record of schedule events (scheduled, started, transmitted) plus the
// running flag that tells the rest of the application a schedule step is in
// flight.
package scheduler

import (
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/savegress/telecare/internal/config"
	"github.com/savegress/telecare/pkg/models"
)

// Well-known schedule event tags
const (
	EventScheduled   = "SCHEDULED"
	EventStarted     = "STARTED"
	EventTransmitted = "TRANSMITTED"
)

// RunningChangeCallback is invoked when the schedule running flag flips
type RunningChangeCallback func(running bool)

// Scheduler records schedule events and tracks whether a schedule step is
// currently running. When a file path is configured, events are also appended
// to it, one line per event.
type Scheduler struct {
	mu        sync.RWMutex
	enabled   bool
	filePath  string
	events    []models.ScheduleEvent
	running   bool
	onRunning RunningChangeCallback
}

// New creates a scheduler from configuration
func New(cfg config.ScheduleConfig) *Scheduler {
	return &Scheduler{
		enabled:  cfg.Enabled,
		filePath: cfg.FilePath,
	}
}

// IsPartOfSchedule reports whether transmissions run as part of a schedule
func (s *Scheduler) IsPartOfSchedule() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.enabled
}

// SetRunningChangeCallback sets the callback fired on running flag changes
func (s *Scheduler) SetRunningChangeCallback(fn RunningChangeCallback) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onRunning = fn
}

// RecordEvent appends a schedule event with the given tag, timestamp and
// source tokens
func (s *Scheduler) RecordEvent(tag string, when time.Time, sourceIDs []string) {
	event := models.ScheduleEvent{
		ID:        uuid.New().String(),
		Tag:       tag,
		When:      when.UTC(),
		SourceIDs: sourceIDs,
	}

	s.mu.Lock()
	s.events = append(s.events, event)
	path := s.filePath
	s.mu.Unlock()

	if path != "" {
		if err := appendLine(path, event); err != nil {
			log.Printf("scheduler: cannot append event to %s: %v", path, err)
		}
	}
}

// SetRunning sets the schedule running flag
func (s *Scheduler) SetRunning(running bool) {
	s.mu.Lock()
	changed := s.running != running
	s.running = running
	fn := s.onRunning
	s.mu.Unlock()

	if changed && fn != nil {
		fn(running)
	}
}

// Running reports the schedule running flag
func (s *Scheduler) Running() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Events returns a copy of the recorded events
func (s *Scheduler) Events() []models.ScheduleEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.ScheduleEvent, len(s.events))
	copy(out, s.events)
	return out
}

// LastEvent returns the most recent event with the given tag
func (s *Scheduler) LastEvent(tag string) (models.ScheduleEvent, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := len(s.events) - 1; i >= 0; i-- {
		if s.events[i].Tag == tag {
			return s.events[i], true
		}
	}
	return models.ScheduleEvent{}, false
}

func appendLine(path string, event models.ScheduleEvent) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}

	line := fmt.Sprintf("%s %s %s %s\n",
		event.ID, event.Tag, event.When.Format(time.RFC3339),
		strings.Join(event.SourceIDs, ","))

	_, werr := f.WriteString(line)
	cerr := f.Close()
	if werr != nil {
		return werr
	}
	return cerr
}
