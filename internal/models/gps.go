package models

import "time"

// Location sources that may own the canonical device row.
const (
	LocationSourceVendor = "vendor"
	LocationSourceSMS    = "sms"
	LocationSourceManual = "manual"
)

// GPSDevice is the canonical, last-write-wins location record of a tracker.
type GPSDevice struct {
	ID             string     `db:"id" json:"id"`
	DeviceName     string     `db:"device_name" json:"device_name"`
	IMEI           *string    `db:"imei" json:"imei,omitempty"`
	SIMNumber      *string    `db:"sim_number" json:"sim_number,omitempty"`
	VendorID       *string    `db:"vendor_id" json:"vendor_id,omitempty"`
	VehicleID      *string    `db:"vehicle_id" json:"vehicle_id,omitempty"`
	VehicleNumber  *string    `db:"vehicle_number" json:"vehicle_number,omitempty"`
	Latitude       *float64   `db:"latitude" json:"latitude,omitempty"`
	Longitude      *float64   `db:"longitude" json:"longitude,omitempty"`
	Speed          *float64   `db:"speed" json:"speed,omitempty"`
	Heading        *float64   `db:"heading" json:"heading,omitempty"`
	Accuracy       *float64   `db:"accuracy" json:"accuracy,omitempty"`
	LocationSource *string    `db:"location_source" json:"location_source,omitempty"`
	LastGPSUpdate  *time.Time `db:"last_gps_update" json:"last_gps_update,omitempty"`
	LastHeartbeat  *time.Time `db:"last_heartbeat" json:"last_heartbeat,omitempty"`
	IsActive       bool       `db:"is_active" json:"is_active"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
}

// LocationUpdate is the write applied onto a device row.
type LocationUpdate struct {
	DeviceID   string
	Latitude   float64
	Longitude  float64
	Speed      float64
	Heading    float64
	Accuracy   *float64
	Source     string
	RecordedAt time.Time
}
