package transmit

import (
	"context"
	"sync"
	"testing"
)

type fakeSource struct {
	mu         sync.Mutex
	id         string
	name       string
	profile    string
	data       []byte
	hasData    bool
	fetchErr   error
	fetchCalls int
}

func (f *fakeSource) ID() string          { return f.id }
func (f *fakeSource) DisplayName() string { return f.name }
func (f *fakeSource) ProfileID() string   { return f.profile }

func (f *fakeSource) HasData() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hasData
}

func (f *fakeSource) FetchData(ctx context.Context) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchCalls++
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return f.data, nil
}

func newFakeSource(id, profile string, hasData bool, data string) *fakeSource {
	return &fakeSource{id: id, name: id, profile: profile, hasData: hasData, data: []byte(data)}
}

func TestSelectionRegistry_Register(t *testing.T) {
	r := NewSelectionRegistry()

	withData := newFakeSource("scale", "p1", true, "a,b\n")
	without := newFakeSource("oximeter", "p2", false, "")

	if err := r.Register(withData); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := r.Register(without); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := r.Register(withData); err == nil {
		t.Error("duplicate registration should fail")
	}

	snap := r.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("expected 2 sources, got %d", len(snap))
	}
	if !snap[0].Eligible || !snap[0].Selected {
		t.Error("source with data should start eligible and selected")
	}
	if snap[1].Eligible || snap[1].Selected {
		t.Error("source without data should start ineligible and unselected")
	}
}

func TestSelectionRegistry_AnySelected(t *testing.T) {
	r := NewSelectionRegistry()
	a := newFakeSource("a", "p1", true, "x")
	b := newFakeSource("b", "p2", true, "y")
	r.Register(a)
	r.Register(b)

	if !r.AnySelected() {
		t.Fatal("expected AnySelected true with two eligible selected sources")
	}

	r.Toggle("a", false)
	if !r.AnySelected() {
		t.Error("one deselection should leave AnySelected true")
	}

	r.Toggle("b", false)
	if r.AnySelected() {
		t.Error("all deselected should give AnySelected false")
	}

	r.Toggle("a", true)
	if !r.AnySelected() {
		t.Error("re-selecting should give AnySelected true")
	}
}

func TestSelectionRegistry_EnableSignal(t *testing.T) {
	r := NewSelectionRegistry()
	var signals []bool
	r.SetEnableCallback(func(enabled bool) {
		signals = append(signals, enabled)
	})

	src := newFakeSource("a", "p1", false, "")
	r.Register(src)

	if len(signals) != 0 {
		t.Fatalf("no signal expected for ineligible registration, got %v", signals)
	}

	r.NotifyDataChanged("a", true)
	if len(signals) != 1 || !signals[0] {
		t.Fatalf("expected single enable signal, got %v", signals)
	}

	// The derivation fires synchronously on every transition
	r.Toggle("a", false)
	if len(signals) != 2 || signals[1] {
		t.Fatalf("expected disable signal after deselect, got %v", signals)
	}
}

func TestSelectionRegistry_DataDrainExcludesSelected(t *testing.T) {
	r := NewSelectionRegistry()
	src := newFakeSource("scale", "p1", true, "a,b\n")
	r.Register(src)

	// Data drains while the stored selection stays true
	r.NotifyDataChanged("scale", false)

	if r.AnySelected() {
		t.Error("drained source must be excluded from AnySelected")
	}
	if got := r.SelectedSources(); len(got) != 0 {
		t.Errorf("drained source must be excluded from the build set, got %d", len(got))
	}

	// When data returns the prior selection is reasserted as selected
	r.NotifyDataChanged("scale", true)
	if !r.AnySelected() {
		t.Error("source should be selected by default when data returns")
	}
}

func TestSelectionRegistry_ReselectOnDataArrival(t *testing.T) {
	r := NewSelectionRegistry()
	src := newFakeSource("scale", "p1", true, "a,b\n")
	r.Register(src)

	// Operator deselects, data drains, then new data arrives
	r.Toggle("scale", false)
	r.NotifyDataChanged("scale", false)
	r.NotifyDataChanged("scale", true)

	snap := r.Snapshot()
	if !snap[0].Selected {
		t.Error("data arrival should reset selection to selected")
	}
}

func TestSelectionRegistry_SelectedSourcesOrder(t *testing.T) {
	r := NewSelectionRegistry()
	for _, id := range []string{"first", "second", "third"} {
		r.Register(newFakeSource(id, "p-"+id, true, "x"))
	}
	r.Toggle("second", false)

	got := r.SelectedSources()
	if len(got) != 2 {
		t.Fatalf("expected 2 selected sources, got %d", len(got))
	}
	if got[0].ID() != "first" || got[1].ID() != "third" {
		t.Errorf("selected sources out of registration order: %s, %s", got[0].ID(), got[1].ID())
	}
}

func TestSelectionRegistry_ConcurrentMutations(t *testing.T) {
	r := NewSelectionRegistry()
	src := newFakeSource("a", "p1", true, "x")
	r.Register(src)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			r.NotifyDataChanged("a", i%2 == 0)
		}(i)
		go func(i int) {
			defer wg.Done()
			r.Toggle("a", i%2 == 1)
		}(i)
	}
	wg.Wait()

	// No torn state: the derived signal matches a full recomputation
	snap := r.Snapshot()[0]
	want := snap.Eligible && snap.Selected
	if r.AnySelected() != want {
		t.Error("derived signal inconsistent with stored state")
	}
}

func TestSelectionRegistry_CallbackMayQueryRegistry(t *testing.T) {
	r := NewSelectionRegistry()

	var observed []bool
	r.SetEnableCallback(func(enabled bool) {
		// Subscribers read the registry back to refresh their view
		if got := r.AnySelected(); got != enabled {
			t.Errorf("AnySelected() = %v inside callback, signal said %v", got, enabled)
		}
		if len(r.Snapshot()) != 1 {
			t.Error("expected one source visible inside callback")
		}
		observed = append(observed, enabled)
	})

	r.Register(newFakeSource("a", "p1", true, "x\n"))
	r.NotifyDataChanged("a", false)

	if len(observed) != 2 || !observed[0] || observed[1] {
		t.Fatalf("expected signals [true false], got %v", observed)
	}
}
