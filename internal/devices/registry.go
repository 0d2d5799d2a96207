package devices

import (
	"fmt"
	"sync"

	"github.com/savegress/telecare/internal/config"
)

// Registry holds the capture devices loaded at startup. Devices are created
// once and live for the whole session.
type Registry struct {
	mu      sync.RWMutex
	devices map[string]*Device
	order   []string
}

// NewRegistry creates a registry from the configured device list
func NewRegistry(cfgs []config.DeviceConfig) (*Registry, error) {
	r := &Registry{
		devices: make(map[string]*Device),
	}
	for _, cfg := range cfgs {
		d, err := NewDevice(cfg)
		if err != nil {
			return nil, err
		}
		if err := r.Add(d); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Add registers a device
func (r *Registry) Add(d *Device) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.devices[d.ID()]; ok {
		return fmt.Errorf("device %s already registered", d.ID())
	}
	r.devices[d.ID()] = d
	r.order = append(r.order, d.ID())
	return nil
}

// Get returns a device by ID
func (r *Registry) Get(id string) (*Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.devices[id]
	return d, ok
}

// List returns the devices in load order
func (r *Registry) List() []*Device {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Device, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.devices[id])
	}
	return out
}
