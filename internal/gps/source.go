// Package gps normalizes location reports from heterogeneous tracker sources into one canonical
// reading shape and classifies how fresh a stored reading is.
package gps

import (
	"context"
	"errors"
	"time"
)

// DefaultAccuracyMeters is assumed when a source does not report accuracy.
const DefaultAccuracyMeters = 10.0

var (
	// ErrUnparseable marks an SMS reply that matched none of the known grammars.
	ErrUnparseable = errors.New("gps: unparseable location reply")
	// ErrNotConfigured is returned when a source lacks the endpoint or credentials it needs.
	ErrNotConfigured = errors.New("gps: source not configured")
	// ErrAuthFailed is returned when every vendor auth scheme was rejected.
	ErrAuthFailed = errors.New("gps: vendor authentication failed")
	// ErrUnavailable wraps transport failures talking to an external source.
	ErrUnavailable = errors.New("gps: source unavailable")
	// ErrMissingSIM is returned when an SMS poll targets a device without a SIM number.
	ErrMissingSIM = errors.New("gps: device has no SIM number")
	// ErrNoReply is returned when the reply window elapsed without an answer.
	ErrNoReply = errors.New("gps: no reply received")
)

// Reading is the canonical location shape every source produces.
type Reading struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Speed     float64   `json:"speed"`
	Heading   float64   `json:"heading"`
	Accuracy  *float64  `json:"accuracy,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Target identifies a device a source is asked about.
type Target struct {
	DeviceID      string
	SIMNumber     string
	VendorID      string
	VehicleNumber string
}

// Fix is one source result. Err is set when that single target failed; HasFix is false when the
// record carried no usable coordinates.
type Fix struct {
	DeviceID      string  `json:"device_id,omitempty"`
	VendorID      string  `json:"vendor_id,omitempty"`
	VehicleNumber string  `json:"vehicle_number,omitempty"`
	Reading       Reading `json:"reading"`
	HasFix        bool    `json:"has_fix"`
	Err           error   `json:"-"`
}

// ProbeAttempt records one connectivity attempt.
type ProbeAttempt struct {
	Scheme     string `json:"scheme,omitempty"`
	Endpoint   string `json:"endpoint"`
	StatusCode int    `json:"status_code,omitempty"`
	Error      string `json:"error,omitempty"`
}

// ProbeResult describes the outcome of a connectivity probe.
type ProbeResult struct {
	Source   string         `json:"source"`
	OK       bool           `json:"ok"`
	Scheme   string         `json:"scheme,omitempty"`
	Endpoint string         `json:"endpoint,omitempty"`
	Attempts []ProbeAttempt `json:"attempts"`
	Message  string         `json:"message,omitempty"`
}

// LocationSource is implemented by every ingestion channel.
type LocationSource interface {
	Name() string
	Probe(ctx context.Context) (ProbeResult, error)
	FetchLocations(ctx context.Context, targets []Target) ([]Fix, error)
}
