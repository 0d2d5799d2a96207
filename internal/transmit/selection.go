package transmit

import (
	"fmt"
	"sync"

	"github.com/savegress/telecare/pkg/models"
)

// SelectionRegistry tracks, per source, whether the operator has chosen to
// include it in the next transmission. Eligibility follows each source's
// HasData state; when data arrives the source is re-selected by default, and
// when data drains the source is excluded regardless of the stored selection.
//
// Both mutation paths (data change notifications and operator toggles)
// serialize through the registry mutex, and every mutation synchronously
// re-derives the single "enable transmit" signal.
type SelectionRegistry struct {
	mu       sync.Mutex
	entries  []*selectionEntry
	byID     map[string]*selectionEntry
	enabled  bool
	onEnable func(enabled bool)
}

type selectionEntry struct {
	source   Source
	eligible bool
	selected bool
}

// NewSelectionRegistry creates an empty selection registry
func NewSelectionRegistry() *SelectionRegistry {
	return &SelectionRegistry{
		byID: make(map[string]*selectionEntry),
	}
}

// SetEnableCallback sets the callback invoked whenever the derived
// "enable transmit" signal changes
func (r *SelectionRegistry) SetEnableCallback(fn func(enabled bool)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onEnable = fn
}

// Register adds a source. Its initial eligibility mirrors HasData and an
// eligible source starts selected.
func (r *SelectionRegistry) Register(src Source) error {
	r.mu.Lock()

	if _, ok := r.byID[src.ID()]; ok {
		r.mu.Unlock()
		return fmt.Errorf("source %s already registered", src.ID())
	}

	hasData := src.HasData()
	e := &selectionEntry{
		source:   src,
		eligible: hasData,
		selected: hasData,
	}
	r.entries = append(r.entries, e)
	r.byID[src.ID()] = e

	notify := r.recompute()
	r.mu.Unlock()

	notify()
	return nil
}

// NotifyDataChanged must be called when a source's HasData state flips.
// Arrival of data re-selects the source by default; draining makes it
// ineligible while its stored selection is retained.
func (r *SelectionRegistry) NotifyDataChanged(sourceID string, hasData bool) {
	r.mu.Lock()

	e, ok := r.byID[sourceID]
	if !ok {
		r.mu.Unlock()
		return
	}

	e.eligible = hasData
	if hasData {
		e.selected = true
	}

	notify := r.recompute()
	r.mu.Unlock()

	notify()
}

// Toggle updates the operator's selection for a source. Toggling has no
// effect on eligibility.
func (r *SelectionRegistry) Toggle(sourceID string, selected bool) error {
	r.mu.Lock()

	e, ok := r.byID[sourceID]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("source %s not registered", sourceID)
	}

	e.selected = selected
	notify := r.recompute()
	r.mu.Unlock()

	notify()
	return nil
}

// AnySelected reports whether at least one registered source is both eligible
// and selected
func (r *SelectionRegistry) AnySelected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.enabled
}

// SelectedSources returns the sources that are eligible and selected, in
// registration order. This is the set a transmission run operates on; it is
// re-derived at run entry and not re-checked mid-run.
func (r *SelectionRegistry) SelectedSources() []Source {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Source
	for _, e := range r.entries {
		if e.eligible && e.selected {
			out = append(out, e.source)
		}
	}
	return out
}

// Snapshot returns the UI-facing view of every registered source
func (r *SelectionRegistry) Snapshot() []models.SourceStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]models.SourceStatus, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, models.SourceStatus{
			ID:          e.source.ID(),
			DisplayName: e.source.DisplayName(),
			ProfileID:   e.source.ProfileID(),
			Eligible:    e.eligible,
			Selected:    e.selected,
		})
	}
	return out
}

// recompute re-derives the enable signal. Caller must hold the mutex; the
// returned func is invoked after the mutex is released so a subscriber may
// call back into the registry.
func (r *SelectionRegistry) recompute() func() {
	enabled := false
	for _, e := range r.entries {
		if e.eligible && e.selected {
			enabled = true
			break
		}
	}

	changed := enabled != r.enabled
	r.enabled = enabled

	if !changed || r.onEnable == nil {
		return func() {}
	}
	fn := r.onEnable
	return func() { fn(enabled) }
}
