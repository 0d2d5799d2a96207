package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// DeviceStatus represents the lifecycle status of a capture device
type DeviceStatus string

const (
	DeviceStatusActive   DeviceStatus = "active"
	DeviceStatusInactive DeviceStatus = "inactive"
	DeviceStatusError    DeviceStatus = "error"
)

// Reading represents a single measurement taken by a capture device
type Reading struct {
	DeviceID string            `json:"device_id"`
	Taken    time.Time         `json:"taken"`
	Values   []decimal.Decimal `json:"values"`
}

// DeviceType represents recording device type metadata held in the
// clinical relational store
type DeviceType struct {
	ID          int64     `json:"id"`
	Type        string    `json:"type"`
	Make        string    `json:"make"`
	Model       string    `json:"model"`
	DisplayName string    `json:"display_name"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ScheduleEvent represents one recorded line of a multi-step schedule
type ScheduleEvent struct {
	ID        string    `json:"id"`
	Tag       string    `json:"tag"`
	When      time.Time `json:"when"`
	SourceIDs []string  `json:"source_ids,omitempty"`
}

// SourceStatus describes a transmittable source as presented to the UI boundary
type SourceStatus struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	ProfileID   string `json:"profile_id"`
	Eligible    bool   `json:"eligible"`
	Selected    bool   `json:"selected"`
}

// TransmissionSummary describes the outcome of the most recent transmission run
type TransmissionSummary struct {
	RunID       string    `json:"run_id"`
	State       string    `json:"state"`
	StatusText  string    `json:"status_text"`
	Busy        bool      `json:"busy"`
	CompletedAt time.Time `json:"completed_at,omitempty"`
	SourceIDs   []string  `json:"source_ids,omitempty"`
	Error       string    `json:"error,omitempty"`
}
