package service

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/noah-isme/transport-admin-api/internal/models"
)

// Grievance event names.
const (
	EventGrievanceCreated   = "grievance.created"
	EventGrievanceUpdated   = "grievance.updated"
	EventGrievanceClosed    = "grievance.closed"
	EventGrievanceMessage   = "grievance.communication"
	EventGrievanceRated     = "grievance.rated"
	EventGrievanceEscalated = "grievance.escalated"
)

// GrievanceEvent is fanned out to notification consumers.
type GrievanceEvent struct {
	Type        string                 `json:"type"`
	GrievanceID string                 `json:"grievance_id"`
	StudentID   string                 `json:"student_id"`
	AssignedTo  *string                `json:"assigned_to,omitempty"`
	Status      models.GrievanceStatus `json:"status"`
	ActorID     string                 `json:"actor_id,omitempty"`
	RequestID   string                 `json:"request_id,omitempty"`
	Changes     []string               `json:"changes,omitempty"`
	OccurredAt  time.Time              `json:"occurred_at"`
}

type eventPublisher interface {
	Publish(ctx context.Context, event GrievanceEvent)
}

// NATSEventPublisher publishes grievance events on <prefix>.<event type>.
type NATSEventPublisher struct {
	conn   *nats.Conn
	prefix string
	logger *zap.Logger
}

// NewNATSEventPublisher builds a publisher. A nil connection turns Publish into a no-op.
func NewNATSEventPublisher(conn *nats.Conn, prefix string, logger *zap.Logger) *NATSEventPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	prefix = strings.Trim(strings.ReplaceAll(prefix, ":", "."), ".")
	return &NATSEventPublisher{conn: conn, prefix: prefix, logger: logger}
}

// Subject returns the subject an event type is published on.
func (p *NATSEventPublisher) Subject(eventType string) string {
	if p.prefix == "" {
		return eventType
	}
	return p.prefix + "." + eventType
}

// Publish sends the event. Failures are logged only.
func (p *NATSEventPublisher) Publish(_ context.Context, event GrievanceEvent) {
	if p == nil || p.conn == nil {
		return
	}
	payload, err := json.Marshal(event)
	if err != nil {
		p.logger.Warn("failed to encode grievance event", zap.String("type", event.Type), zap.Error(err))
		return
	}
	if err := p.conn.Publish(p.Subject(event.Type), payload); err != nil {
		p.logger.Warn("failed to publish grievance event",
			zap.String("type", event.Type),
			zap.String("grievance_id", event.GrievanceID),
			zap.Error(err),
		)
	}
}
