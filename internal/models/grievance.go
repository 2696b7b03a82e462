package models

import (
	"time"

	"github.com/lib/pq"
)

// GrievanceStatus enumerates lifecycle states of a grievance.
type GrievanceStatus string

const (
	GrievanceStatusOpen            GrievanceStatus = "open"
	GrievanceStatusInProgress      GrievanceStatus = "in_progress"
	GrievanceStatusResolved        GrievanceStatus = "resolved"
	GrievanceStatusClosed          GrievanceStatus = "closed"
	GrievanceStatusEscalated       GrievanceStatus = "escalated"
	GrievanceStatusOnHold          GrievanceStatus = "on_hold"
	GrievanceStatusPendingApproval GrievanceStatus = "pending_approval"
)

// Valid reports whether the status is part of the lifecycle.
func (s GrievanceStatus) Valid() bool {
	switch s {
	case GrievanceStatusOpen, GrievanceStatusInProgress, GrievanceStatusResolved, GrievanceStatusClosed,
		GrievanceStatusEscalated, GrievanceStatusOnHold, GrievanceStatusPendingApproval:
		return true
	}
	return false
}

// GrievancePriority ranks how quickly a grievance should be handled.
type GrievancePriority string

const (
	GrievancePriorityLow    GrievancePriority = "low"
	GrievancePriorityMedium GrievancePriority = "medium"
	GrievancePriorityHigh   GrievancePriority = "high"
	GrievancePriorityUrgent GrievancePriority = "urgent"
)

// Valid reports whether the priority is known.
func (p GrievancePriority) Valid() bool {
	switch p {
	case GrievancePriorityLow, GrievancePriorityMedium, GrievancePriorityHigh, GrievancePriorityUrgent:
		return true
	}
	return false
}

// Grievance categories.
const (
	GrievanceCategoryServiceComplaint = "service_complaint"
	GrievanceCategoryDriverBehavior   = "driver_behavior"
	GrievanceCategoryRouteIssue       = "route_issue"
	GrievanceCategoryVehicleCondition = "vehicle_condition"
	GrievanceCategorySafety           = "safety"
	GrievanceCategoryPayment          = "payment"
	GrievanceCategoryOther            = "other"
)

// Grievance represents a complaint raised by a student.
type Grievance struct {
	ID                      string            `db:"id" json:"id"`
	StudentID               string            `db:"student_id" json:"student_id"`
	Category                string            `db:"category" json:"category"`
	GrievanceType           string            `db:"grievance_type" json:"grievance_type"`
	Priority                GrievancePriority `db:"priority" json:"priority"`
	Urgency                 string            `db:"urgency" json:"urgency"`
	Subject                 string            `db:"subject" json:"subject"`
	Description             string            `db:"description" json:"description"`
	RouteID                 *string           `db:"route_id" json:"route_id,omitempty"`
	DriverName              *string           `db:"driver_name" json:"driver_name,omitempty"`
	VehicleNumber           *string           `db:"vehicle_number" json:"vehicle_number,omitempty"`
	LocationDetails         *string           `db:"location_details" json:"location_details,omitempty"`
	IncidentAt              *time.Time        `db:"incident_at" json:"incident_at,omitempty"`
	Status                  GrievanceStatus   `db:"status" json:"status"`
	AssignedTo              *string           `db:"assigned_to" json:"assigned_to,omitempty"`
	EscalatedTo             *string           `db:"escalated_to" json:"escalated_to,omitempty"`
	EscalatedAt             *time.Time        `db:"escalated_at" json:"escalated_at,omitempty"`
	EscalationReason        *string           `db:"escalation_reason" json:"escalation_reason,omitempty"`
	Tags                    pq.StringArray    `db:"tags" json:"tags"`
	ExpectedResolutionDate  *time.Time        `db:"expected_resolution_date" json:"expected_resolution_date,omitempty"`
	EstimatedResolutionTime *string           `db:"estimated_resolution_time" json:"estimated_resolution_time,omitempty"`
	ActualResolutionTime    *float64          `db:"actual_resolution_time" json:"actual_resolution_time,omitempty"`
	Resolution              *string           `db:"resolution" json:"resolution,omitempty"`
	ResolvedAt              *time.Time        `db:"resolved_at" json:"resolved_at,omitempty"`
	ClosedAt                *time.Time        `db:"closed_at" json:"closed_at,omitempty"`
	ClosureReason           *string           `db:"closure_reason" json:"closure_reason,omitempty"`
	SatisfactionRating      *int              `db:"satisfaction_rating" json:"satisfaction_rating,omitempty"`
	CreatedBy               *string           `db:"created_by" json:"created_by,omitempty"`
	CreatedAt               time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt               time.Time         `db:"updated_at" json:"updated_at"`
}

// GrievanceDetail decorates a grievance with best-effort enrichment fields.
type GrievanceDetail struct {
	Grievance
	StudentName   *string `json:"student_name"`
	StudentEmail  *string `json:"student_email"`
	AssigneeName  *string `json:"assignee_name"`
	EscalatedName *string `json:"escalated_to_name"`
}

// GrievanceAssignment is one row of the assignment history.
type GrievanceAssignment struct {
	ID                 string     `db:"id" json:"id"`
	GrievanceID        string     `db:"grievance_id" json:"grievance_id"`
	AssignedTo         string     `db:"assigned_to" json:"assigned_to"`
	AssignedBy         *string    `db:"assigned_by" json:"assigned_by,omitempty"`
	AssignmentReason   *string    `db:"assignment_reason" json:"assignment_reason,omitempty"`
	IsActive           bool       `db:"is_active" json:"is_active"`
	AssignedAt         time.Time  `db:"assigned_at" json:"assigned_at"`
	UnassignedAt       *time.Time `db:"unassigned_at" json:"unassigned_at,omitempty"`
	UnassignmentReason *string    `db:"unassignment_reason" json:"unassignment_reason,omitempty"`
}

// Participant types for communications and activity.
const (
	ParticipantStudent = "student"
	ParticipantAdmin   = "admin"
	ParticipantSystem  = "system"
)

// Communication types.
const (
	CommunicationComment            = "comment"
	CommunicationUpdate             = "update"
	CommunicationStatusChange       = "status_change"
	CommunicationNote               = "note"
	CommunicationFeedback           = "feedback"
	CommunicationUpdateRequest      = "update_request"
	CommunicationAdditionalInfo     = "additional_info"
	CommunicationSatisfactionRating = "satisfaction_rating"
	CommunicationOther              = "other"
)

// GrievanceCommunication is a message exchanged about a grievance.
type GrievanceCommunication struct {
	ID                string    `db:"id" json:"id"`
	GrievanceID       string    `db:"grievance_id" json:"grievance_id"`
	SenderID          string    `db:"sender_id" json:"sender_id"`
	SenderType        string    `db:"sender_type" json:"sender_type"`
	RecipientID       *string   `db:"recipient_id" json:"recipient_id,omitempty"`
	RecipientType     *string   `db:"recipient_type" json:"recipient_type,omitempty"`
	Message           string    `db:"message" json:"message"`
	CommunicationType string    `db:"communication_type" json:"communication_type"`
	IsInternal        bool      `db:"is_internal" json:"is_internal"`
	CreatedAt         time.Time `db:"created_at" json:"created_at"`
}

// Activity visibility partitions.
const (
	VisibilityPublic  = "public"
	VisibilityPrivate = "private"
	VisibilitySystem  = "system"
)

// Activity types.
const (
	ActivityCreated        = "created"
	ActivityStatusChange   = "status_change"
	ActivityAssignment     = "assignment"
	ActivityEscalation     = "escalation"
	ActivityPriorityChange = "priority_change"
	ActivityDeadlineChange = "deadline_change"
	ActivityTagsChange     = "tags_change"
	ActivityCommunication  = "communication"
	ActivityRating         = "satisfaction_rating"
	ActivityClosed         = "closed"
)

// GrievanceActivity is an append-only timeline entry.
type GrievanceActivity struct {
	ID           string    `db:"id" json:"id"`
	GrievanceID  string    `db:"grievance_id" json:"grievance_id"`
	ActivityType string    `db:"activity_type" json:"activity_type"`
	ActorID      *string   `db:"actor_id" json:"actor_id,omitempty"`
	ActorType    string    `db:"actor_type" json:"actor_type"`
	Description  string    `db:"description" json:"description"`
	OldValue     *string   `db:"old_value" json:"old_value,omitempty"`
	NewValue     *string   `db:"new_value" json:"new_value,omitempty"`
	Visibility   string    `db:"visibility" json:"visibility"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// GrievanceSLAConfig stores per-category resolution targets.
type GrievanceSLAConfig struct {
	Category     string  `db:"category" json:"category"`
	SLAHours     int     `db:"sla_hours" json:"sla_hours"`
	AutoAssignTo *string `db:"auto_assign_to" json:"auto_assign_to,omitempty"`
	IsActive     bool    `db:"is_active" json:"is_active"`
}

// GrievanceFilter constrains listing queries.
type GrievanceFilter struct {
	Statuses   []GrievanceStatus
	Category   string
	Type       string
	Priority   string
	Urgency    string
	AssignedTo string
	Unassigned bool
	StudentID  string
	Search     string
	Tags       []string
	DateRange  string
	From       *time.Time
	To         *time.Time
	Page       int
	Limit      int
	SortBy     string
	SortOrder  string
}
