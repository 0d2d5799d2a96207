package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/savegress/telecare/internal/devices"
	"github.com/savegress/telecare/internal/devicetypes"
	"github.com/savegress/telecare/internal/scheduler"
	"github.com/savegress/telecare/internal/storage"
	"github.com/savegress/telecare/internal/transmit"
	"github.com/savegress/telecare/pkg/models"
)

// Handlers contains all HTTP handlers
type Handlers struct {
	runCtx      context.Context
	registry    *devices.Registry
	selection   *transmit.SelectionRegistry
	orch        *transmit.Orchestrator
	sched       *scheduler.Scheduler
	deviceTypes *devicetypes.Repository
	store       *storage.Store
}

// NewHandlers creates new handlers
func NewHandlers(
	runCtx context.Context,
	registry *devices.Registry,
	selection *transmit.SelectionRegistry,
	orch *transmit.Orchestrator,
	sched *scheduler.Scheduler,
	deviceTypes *devicetypes.Repository,
	store *storage.Store,
) *Handlers {
	return &Handlers{
		runCtx:      runCtx,
		registry:    registry,
		selection:   selection,
		orch:        orch,
		sched:       sched,
		deviceTypes: deviceTypes,
		store:       store,
	}
}

// HealthCheck handles health check requests
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respond(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "telecare",
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

// ListSources returns every registered source with its eligibility and
// selection state
func (h *Handlers) ListSources(w http.ResponseWriter, r *http.Request) {
	respond(w, http.StatusOK, map[string]interface{}{
		"sources":          h.selection.Snapshot(),
		"transmit_enabled": h.selection.AnySelected(),
	})
}

// ToggleSelection updates the operator's selection for one source
func (h *Handlers) ToggleSelection(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req struct {
		Selected bool `json:"selected"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := h.selection.Toggle(id, req.Selected); err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}

	respond(w, http.StatusOK, map[string]interface{}{
		"sources":          h.selection.Snapshot(),
		"transmit_enabled": h.selection.AnySelected(),
	})
}

// RecordReading accepts a reading for a device, buffering it for
// transmission and persisting it locally
func (h *Handlers) RecordReading(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	device, ok := h.registry.Get(id)
	if !ok {
		respondError(w, http.StatusNotFound, "Device not found")
		return
	}

	var reading models.Reading
	if err := json.NewDecoder(r.Body).Decode(&reading); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := device.Record(reading); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if h.store != nil {
		stored := reading
		stored.DeviceID = id
		if stored.Taken.IsZero() {
			stored.Taken = time.Now().UTC()
		}
		if err := h.store.SaveReading(r.Context(), stored); err != nil {
			log.Printf("api: cannot persist reading for %s: %v", id, err)
		}
	}

	respond(w, http.StatusCreated, map[string]interface{}{
		"device_id":     id,
		"reading_count": device.ReadingCount(),
	})
}

// Transmit triggers a transmission run. The trigger is only valid while at
// least one source is eligible and selected, and while no run is active.
func (h *Handlers) Transmit(w http.ResponseWriter, r *http.Request) {
	if !h.selection.AnySelected() {
		respondError(w, http.StatusConflict, "No data selected for transmission")
		return
	}

	// The run outlives the request: it inherits the server context so only
	// application shutdown cancels it.
	runID, err := h.orch.Trigger(h.runCtx)
	if err != nil {
		if errors.Is(err, transmit.ErrRunInProgress) {
			respondError(w, http.StatusConflict, "Transmission already in progress")
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respond(w, http.StatusAccepted, map[string]string{"run_id": runID})
}

// GetStatus returns the current observable run status
func (h *Handlers) GetStatus(w http.ResponseWriter, r *http.Request) {
	respond(w, http.StatusOK, h.orch.Status())
}

// ListScheduleEvents returns the recorded schedule events
func (h *Handlers) ListScheduleEvents(w http.ResponseWriter, r *http.Request) {
	respond(w, http.StatusOK, h.sched.Events())
}

// GetScheduleRunning returns the schedule running flag
func (h *Handlers) GetScheduleRunning(w http.ResponseWriter, r *http.Request) {
	respond(w, http.StatusOK, map[string]bool{
		"part_of_schedule": h.sched.IsPartOfSchedule(),
		"running":          h.sched.Running(),
	})
}

// ListDeviceTypes lists device type metadata, optionally filtered by type
func (h *Handlers) ListDeviceTypes(w http.ResponseWriter, r *http.Request) {
	if h.deviceTypes == nil {
		respondError(w, http.StatusServiceUnavailable, "Device type store not configured")
		return
	}

	var (
		out []models.DeviceType
		err error
	)
	if typ := r.URL.Query().Get("type"); typ != "" {
		out, err = h.deviceTypes.FindByType(r.Context(), typ)
	} else {
		out, err = h.deviceTypes.List(r.Context())
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respond(w, http.StatusOK, out)
}

// LookupDeviceType finds the device type matching type, make, model and
// display name
func (h *Handlers) LookupDeviceType(w http.ResponseWriter, r *http.Request) {
	if h.deviceTypes == nil {
		respondError(w, http.StatusServiceUnavailable, "Device type store not configured")
		return
	}

	q := r.URL.Query()
	dt, err := h.deviceTypes.FindByTypeMakeModelDisplayName(r.Context(),
		q.Get("type"), q.Get("make"), q.Get("model"), q.Get("display_name"))
	if err != nil {
		if errors.Is(err, devicetypes.ErrNotFound) {
			respondError(w, http.StatusNotFound, "Device type not found")
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respond(w, http.StatusOK, dt)
}

// CreateDeviceType registers new device type metadata
func (h *Handlers) CreateDeviceType(w http.ResponseWriter, r *http.Request) {
	if h.deviceTypes == nil {
		respondError(w, http.StatusServiceUnavailable, "Device type store not configured")
		return
	}

	var dt models.DeviceType
	if err := json.NewDecoder(r.Body).Decode(&dt); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := h.deviceTypes.Create(r.Context(), &dt); err != nil {
		if errors.Is(err, devicetypes.ErrDuplicate) {
			respondError(w, http.StatusConflict, "Device type already exists")
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respond(w, http.StatusCreated, dt)
}

// Helper functions

func respond(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respond(w, status, map[string]string{"error": message})
}
