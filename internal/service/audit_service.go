package service

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/transport-admin-api/internal/models"
	appErrors "github.com/noah-isme/transport-admin-api/pkg/errors"
	"github.com/noah-isme/transport-admin-api/pkg/logger"
)

type auditStore interface {
	Create(ctx context.Context, log *models.AuditLog) error
	List(ctx context.Context, filter models.AuditFilter) ([]models.AuditLog, int, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// AuditEntry is the input for recording an audit event.
type AuditEntry struct {
	UserID     string
	Action     string
	Resource   string
	ResourceID string
	OldValues  interface{}
	NewValues  interface{}
	Severity   string
	Failed     bool
	IPAddress  string
	UserAgent  string
}

// AuditService records and queries the audit trail.
type AuditService struct {
	store            auditStore
	logger           *zap.Logger
	defaultRetention int
	now              func() time.Time
}

// NewAuditService constructs the service.
func NewAuditService(store auditStore, logger *zap.Logger, defaultRetentionDays int) *AuditService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if defaultRetentionDays <= 0 {
		defaultRetentionDays = 90
	}
	return &AuditService{store: store, logger: logger, defaultRetention: defaultRetentionDays, now: time.Now}
}

// Record writes an audit entry. Failures are logged and never returned so the calling operation
// proceeds regardless.
func (s *AuditService) Record(ctx context.Context, entry AuditEntry) {
	if s == nil || s.store == nil {
		return
	}
	log := &models.AuditLog{
		Action:    entry.Action,
		Resource:  entry.Resource,
		OldValues: marshalAuditValue(entry.OldValues),
		NewValues: marshalAuditValue(entry.NewValues),
		Severity:  entry.Severity,
		Status:    models.AuditStatusSuccess,
		IPAddress: entry.IPAddress,
		UserAgent: entry.UserAgent,
		CreatedAt: s.now().UTC(),
	}
	if entry.UserID != "" {
		log.UserID = &entry.UserID
	}
	if entry.ResourceID != "" {
		log.ResourceID = &entry.ResourceID
	}
	if entry.Failed {
		log.Status = models.AuditStatusFailure
	}
	if log.Severity == "" {
		log.Severity = severityFor(entry.Action, entry.Failed)
	}

	if err := s.store.Create(ctx, log); err != nil {
		logger.ForContext(ctx, s.logger).Warn("failed to record audit log",
			zap.String("action", entry.Action),
			zap.String("resource", entry.Resource),
			zap.Error(err),
		)
	}
}

func severityFor(action string, failed bool) string {
	switch {
	case action == models.AuditActionDelete || action == models.AuditActionCleanup:
		return models.AuditSeverityWarning
	case failed:
		return models.AuditSeverityWarning
	default:
		return models.AuditSeverityInfo
	}
}

func marshalAuditValue(v interface{}) []byte {
	if v == nil {
		return nil
	}
	if raw, ok := v.([]byte); ok {
		return raw
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return raw
}

// List returns a page of audit entries.
func (s *AuditService) List(ctx context.Context, filter models.AuditFilter) ([]models.AuditLog, *models.Pagination, error) {
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.PageSize <= 0 || filter.PageSize > 100 {
		filter.PageSize = 50
	}
	logs, total, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list audit logs")
	}
	return logs, models.NewPagination(filter.Page, filter.PageSize, total), nil
}

// RetentionDays is the window applied when a cleanup names none.
func (s *AuditService) RetentionDays() int {
	return s.defaultRetention
}

// Cleanup deletes entries older than the given number of days. Zero uses the configured retention.
func (s *AuditService) Cleanup(ctx context.Context, olderThanDays int, actorID string) (int64, time.Time, error) {
	if olderThanDays < 0 {
		return 0, time.Time{}, appErrors.Clone(appErrors.ErrValidation, "older_than_days must be positive")
	}
	if olderThanDays == 0 {
		olderThanDays = s.defaultRetention
	}
	cutoff := s.now().UTC().AddDate(0, 0, -olderThanDays)
	deleted, err := s.store.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return 0, cutoff, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to clean up audit logs")
	}

	s.Record(ctx, AuditEntry{
		UserID:    actorID,
		Action:    models.AuditActionCleanup,
		Resource:  "audit_logs",
		NewValues: map[string]interface{}{"deleted": deleted, "cutoff": cutoff},
	})
	return deleted, cutoff, nil
}
