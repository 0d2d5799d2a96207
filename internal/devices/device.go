// Package devices implements the capture devices loaded into the client and
// the registry that tracks them. Each device buffers timestamped readings and
// renders them as CSV when the transmitter fetches its data.
package devices

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/savegress/telecare/internal/config"
	"github.com/savegress/telecare/pkg/models"
)

// DataChangeCallback is invoked when a device's has-data state flips
type DataChangeCallback func(deviceID string, hasData bool)

// Device is one home capture device. It buffers readings between
// transmissions and reports data availability to the registry.
type Device struct {
	mu        sync.RWMutex
	id        string
	name      string
	devType   string
	devMake   string
	devModel  string
	profileID string
	columns   []string
	readings  []models.Reading
	fetched   int
	status    models.DeviceStatus

	onDataChange DataChangeCallback
}

// NewDevice creates a device from its configuration
func NewDevice(cfg config.DeviceConfig) (*Device, error) {
	if cfg.ID == "" {
		return nil, fmt.Errorf("device id is required")
	}
	if cfg.ProfileID == "" {
		return nil, fmt.Errorf("device %s: profile id is required", cfg.ID)
	}
	if len(cfg.Columns) == 0 {
		return nil, fmt.Errorf("device %s: columns are required", cfg.ID)
	}

	return &Device{
		id:        cfg.ID,
		name:      cfg.Name,
		devType:   cfg.Type,
		devMake:   cfg.Make,
		devModel:  cfg.Model,
		profileID: cfg.ProfileID,
		columns:   cfg.Columns,
		status:    models.DeviceStatusActive,
	}, nil
}

// ID returns the stable device token
func (d *Device) ID() string { return d.id }

// DisplayName returns the operator-facing name
func (d *Device) DisplayName() string { return d.name }

// ProfileID returns the payload classification tag for this device class
func (d *Device) ProfileID() string { return d.profileID }

// Type returns the recording device type token
func (d *Device) Type() string { return d.devType }

// Make returns the device manufacturer
func (d *Device) Make() string { return d.devMake }

// Model returns the device model
func (d *Device) Model() string { return d.devModel }

// SetDataChangeCallback sets the callback fired when the buffered data state
// flips between empty and non-empty
func (d *Device) SetDataChangeCallback(fn DataChangeCallback) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onDataChange = fn
}

// HasData reports whether the device currently holds untransmitted readings
func (d *Device) HasData() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.readings) > 0
}

// ReadingCount returns the number of buffered readings
func (d *Device) ReadingCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.readings)
}

// Record appends a reading to the buffer. The reading's column count must
// match the device's value columns (the taken timestamp occupies the first
// column).
func (d *Device) Record(r models.Reading) error {
	if want := len(d.columns) - 1; len(r.Values) != want {
		return fmt.Errorf("device %s: expected %d values, got %d", d.id, want, len(r.Values))
	}
	if r.Taken.IsZero() {
		r.Taken = time.Now().UTC()
	}
	r.DeviceID = d.id

	d.mu.Lock()
	wasEmpty := len(d.readings) == 0
	d.readings = append(d.readings, r)
	fn := d.onDataChange
	d.mu.Unlock()

	if wasEmpty && fn != nil {
		fn(d.id, true)
	}
	return nil
}

// FetchData renders the buffered readings as CSV: a header row of column
// names followed by one row per reading. Fetching does not consume the
// buffer, but it records the snapshot extent so ClearTransmitted can drop
// exactly the readings that went into the message; readings recorded after
// the fetch stay buffered for the next run.
func (d *Device) FetchData(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.readings) == 0 {
		return nil, fmt.Errorf("device %s has no data", d.id)
	}
	d.fetched = len(d.readings)

	var b strings.Builder
	b.WriteString(strings.Join(d.columns, ","))
	b.WriteString("\n")
	for _, r := range d.readings {
		b.WriteString(r.Taken.UTC().Format(time.RFC3339))
		for _, v := range r.Values {
			b.WriteString(",")
			b.WriteString(v.String())
		}
		b.WriteString("\n")
	}

	return []byte(b.String()), nil
}

// Readings returns a copy of the buffered readings
func (d *Device) Readings() []models.Reading {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]models.Reading, len(d.readings))
	copy(out, d.readings)
	return out
}

// ClearData drops the buffered readings unconditionally
func (d *Device) ClearData() {
	d.mu.Lock()
	hadData := len(d.readings) > 0
	d.readings = nil
	d.fetched = 0
	fn := d.onDataChange
	d.mu.Unlock()

	if hadData && fn != nil {
		fn(d.id, false)
	}
}

// ClearTransmitted drops the readings covered by the last fetch and returns
// how many were dropped. Readings recorded since the fetch survive, so a
// measurement arriving while a transmission is in flight is never lost.
func (d *Device) ClearTransmitted() int {
	d.mu.Lock()
	n := d.fetched
	if n > len(d.readings) {
		n = len(d.readings)
	}
	d.readings = append([]models.Reading(nil), d.readings[n:]...)
	if len(d.readings) == 0 {
		d.readings = nil
	}
	d.fetched = 0
	empty := len(d.readings) == 0
	fn := d.onDataChange
	d.mu.Unlock()

	if n > 0 && empty && fn != nil {
		fn(d.id, false)
	}
	return n
}
