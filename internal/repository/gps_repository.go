package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/transport-admin-api/internal/models"
)

const gpsDeviceColumns = `id, device_name, imei, sim_number, vendor_id, vehicle_id, vehicle_number, latitude, longitude, speed, heading, accuracy, location_source, last_gps_update, last_heartbeat, is_active, created_at, updated_at`

// GPSRepository stores the canonical location row per tracking device.
type GPSRepository struct {
	db *sqlx.DB
}

// NewGPSRepository constructs the repository.
func NewGPSRepository(db *sqlx.DB) *GPSRepository {
	return &GPSRepository{db: db}
}

// List returns devices ordered by name. When activeOnly is set inactive trackers are skipped.
func (r *GPSRepository) List(ctx context.Context, activeOnly bool) ([]models.GPSDevice, error) {
	query := `SELECT ` + gpsDeviceColumns + ` FROM gps_devices`
	if activeOnly {
		query += ` WHERE is_active = TRUE`
	}
	query += ` ORDER BY device_name ASC`

	var devices []models.GPSDevice
	if err := r.db.SelectContext(ctx, &devices, query); err != nil {
		return nil, fmt.Errorf("list gps devices: %w", err)
	}
	return devices, nil
}

// FindByID returns a device or sql.ErrNoRows.
func (r *GPSRepository) FindByID(ctx context.Context, id string) (*models.GPSDevice, error) {
	query := `SELECT ` + gpsDeviceColumns + ` FROM gps_devices WHERE id = $1 LIMIT 1`
	var device models.GPSDevice
	if err := r.db.GetContext(ctx, &device, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find gps device: %w", err)
	}
	return &device, nil
}

// UpdateLocation overwrites the stored reading unconditionally. Concurrent sources race and the
// last committed write wins.
func (r *GPSRepository) UpdateLocation(ctx context.Context, update models.LocationUpdate) error {
	const query = `UPDATE gps_devices SET latitude = $2, longitude = $3, speed = $4, heading = $5, accuracy = $6, location_source = $7, last_gps_update = $8, last_heartbeat = $9, updated_at = $9 WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query,
		update.DeviceID,
		update.Latitude,
		update.Longitude,
		update.Speed,
		update.Heading,
		update.Accuracy,
		update.Source,
		update.RecordedAt,
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("update gps location: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
