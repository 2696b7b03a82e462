package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/transport-admin-api/internal/models"
	appErrors "github.com/noah-isme/transport-admin-api/pkg/errors"
)

type auditStoreStub struct {
	created   []models.AuditLog
	createErr error
	cutoff    time.Time
	deleted   int64
}

func (s *auditStoreStub) Create(_ context.Context, log *models.AuditLog) error {
	if s.createErr != nil {
		return s.createErr
	}
	s.created = append(s.created, *log)
	return nil
}

func (s *auditStoreStub) List(_ context.Context, filter models.AuditFilter) ([]models.AuditLog, int, error) {
	return s.created, len(s.created), nil
}

func (s *auditStoreStub) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	s.cutoff = cutoff
	return s.deleted, nil
}

func TestAuditRecordSwallowsStoreErrors(t *testing.T) {
	store := &auditStoreStub{createErr: errors.New("db down")}
	svc := NewAuditService(store, nil, 0)
	assert.NotPanics(t, func() {
		svc.Record(context.Background(), AuditEntry{Action: models.AuditActionCreate, Resource: "grievance"})
	})
}

func TestAuditRecordDefaults(t *testing.T) {
	store := &auditStoreStub{}
	svc := NewAuditService(store, nil, 0)

	svc.Record(context.Background(), AuditEntry{UserID: "admin-1", Action: models.AuditActionDelete, Resource: "grievance", ResourceID: "g-1", NewValues: map[string]string{"reason": "dup"}})
	svc.Record(context.Background(), AuditEntry{Action: models.AuditActionLogin, Resource: "auth", Failed: true})

	require.Len(t, store.created, 2)
	assert.Equal(t, models.AuditSeverityWarning, store.created[0].Severity)
	assert.Equal(t, models.AuditStatusSuccess, store.created[0].Status)
	assert.JSONEq(t, `{"reason":"dup"}`, string(store.created[0].NewValues))
	require.NotNil(t, store.created[0].ResourceID)
	assert.Equal(t, models.AuditStatusFailure, store.created[1].Status)
	assert.Nil(t, store.created[1].UserID)
}

func TestAuditCleanupUsesRetention(t *testing.T) {
	store := &auditStoreStub{deleted: 7}
	svc := NewAuditService(store, nil, 30)
	fixed := time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return fixed }

	deleted, cutoff, err := svc.Cleanup(context.Background(), 0, "admin-1")
	require.NoError(t, err)
	assert.Equal(t, int64(7), deleted)
	assert.Equal(t, fixed.AddDate(0, 0, -30), cutoff)
	assert.Equal(t, cutoff, store.cutoff)
	require.Len(t, store.created, 1)
	assert.Equal(t, models.AuditActionCleanup, store.created[0].Action)
}

func TestAuditCleanupRejectsNegative(t *testing.T) {
	svc := NewAuditService(&auditStoreStub{}, nil, 0)
	_, _, err := svc.Cleanup(context.Background(), -1, "")
	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
}
