package dto

import "time"

// AuditCleanupResponse reports a retention sweep.
type AuditCleanupResponse struct {
	Deleted       int64     `json:"deleted"`
	OlderThanDays int       `json:"older_than_days"`
	Cutoff        time.Time `json:"cutoff"`
}
