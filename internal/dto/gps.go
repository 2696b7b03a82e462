package dto

import (
	"time"

	"github.com/noah-isme/transport-admin-api/internal/gps"
	"github.com/noah-isme/transport-admin-api/internal/models"
)

// GPSDeviceResponse decorates a device with read-time staleness.
type GPSDeviceResponse struct {
	models.GPSDevice
	Staleness gps.Staleness `json:"staleness"`
}

// LiveLocation is the compact shape polled by map views.
type LiveLocation struct {
	DeviceID      string        `json:"device_id"`
	DeviceName    string        `json:"device_name"`
	VehicleNumber *string       `json:"vehicle_number,omitempty"`
	Latitude      *float64      `json:"latitude,omitempty"`
	Longitude     *float64      `json:"longitude,omitempty"`
	Speed         *float64      `json:"speed,omitempty"`
	Heading       *float64      `json:"heading,omitempty"`
	Source        *string       `json:"source,omitempty"`
	LastGPSUpdate *time.Time    `json:"last_gps_update,omitempty"`
	Staleness     gps.Staleness `json:"staleness"`
}

// VendorSyncRequest selects the vendor action.
type VendorSyncRequest struct {
	Action string `json:"action" validate:"required,oneof=test sync"`
}

// SyncFailure records a device that could not be updated.
type SyncFailure struct {
	Reference string `json:"reference"`
	Error     string `json:"error"`
}

// SyncResult summarizes one vendor sync batch.
type SyncResult struct {
	Source     string        `json:"source"`
	Received   int           `json:"received"`
	Updated    int           `json:"updated"`
	Unmatched  []string      `json:"unmatched"`
	NoFix      []string      `json:"no_fix"`
	Failures   []SyncFailure `json:"failures"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
}

// VendorSyncResponse wraps either a probe or a sync outcome.
type VendorSyncResponse struct {
	Action string           `json:"action"`
	Probe  *gps.ProbeResult `json:"probe,omitempty"`
	Sync   *SyncResult      `json:"sync,omitempty"`
}

// ManualLocationRequest records a position typed in by an operator.
type ManualLocationRequest struct {
	Latitude   *float64   `json:"latitude" validate:"required,gte=-90,lte=90"`
	Longitude  *float64   `json:"longitude" validate:"required,gte=-180,lte=180"`
	Speed      *float64   `json:"speed" validate:"omitempty,gte=0"`
	Heading    *float64   `json:"heading" validate:"omitempty,gte=0,lte=360"`
	Accuracy   *float64   `json:"accuracy" validate:"omitempty,gte=0"`
	RecordedAt *time.Time `json:"recorded_at"`
}

// SMSPollResponse acknowledges a queued SMS poll.
type SMSPollResponse struct {
	JobID    string    `json:"job_id"`
	DeviceID string    `json:"device_id"`
	Status   string    `json:"status"`
	QueuedAt time.Time `json:"queued_at"`
}
