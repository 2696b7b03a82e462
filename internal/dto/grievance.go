package dto

import (
	"time"

	"github.com/noah-isme/transport-admin-api/internal/models"
)

// CreateGrievanceRequest registers a new grievance on behalf of a student.
type CreateGrievanceRequest struct {
	StudentID       string     `json:"student_id" validate:"required"`
	Category        string     `json:"category" validate:"required,oneof=service_complaint driver_behavior route_issue vehicle_condition safety payment other"`
	GrievanceType   string     `json:"grievance_type" validate:"omitempty,oneof=complaint suggestion compliment inquiry"`
	Priority        string     `json:"priority" validate:"omitempty,oneof=low medium high urgent"`
	Urgency         string     `json:"urgency" validate:"omitempty,oneof=low medium high critical"`
	Subject         string     `json:"subject" validate:"required,max=200"`
	Description     string     `json:"description" validate:"required"`
	RouteID         *string    `json:"route_id"`
	DriverName      *string    `json:"driver_name"`
	VehicleNumber   *string    `json:"vehicle_number"`
	LocationDetails *string    `json:"location_details"`
	IncidentAt      *time.Time `json:"incident_at"`
	AssignedTo      *string    `json:"assigned_to"`
	Tags            []string   `json:"tags"`
}

// UpdateGrievanceRequest carries a partial update. Nil fields are left untouched.
type UpdateGrievanceRequest struct {
	Status                 *models.GrievanceStatus `json:"status" validate:"omitempty,oneof=open in_progress resolved closed escalated on_hold pending_approval"`
	Priority               *string                 `json:"priority" validate:"omitempty,oneof=low medium high urgent"`
	Urgency                *string                 `json:"urgency" validate:"omitempty,oneof=low medium high critical"`
	Category               *string                 `json:"category" validate:"omitempty,oneof=service_complaint driver_behavior route_issue vehicle_condition safety payment other"`
	Subject                *string                 `json:"subject" validate:"omitempty,max=200"`
	Description            *string                 `json:"description"`
	AssignedTo             *string                 `json:"assigned_to"`
	AssignmentReason       *string                 `json:"assignment_reason"`
	EscalatedTo            *string                 `json:"escalated_to"`
	EscalationReason       *string                 `json:"escalation_reason"`
	Tags                   []string                `json:"tags"`
	MergeTags              bool                    `json:"merge_tags"`
	Resolution             *string                 `json:"resolution"`
	ExpectedResolutionDate *time.Time              `json:"expected_resolution_date"`
}

// DeleteGrievanceRequest closes a grievance with a reason.
type DeleteGrievanceRequest struct {
	Reason string `json:"reason"`
}

// AdminCommunicationRequest posts a message from an admin.
type AdminCommunicationRequest struct {
	Message           string `json:"message" validate:"required,max=5000"`
	CommunicationType string `json:"communication_type" validate:"omitempty,oneof=comment update status_change note other"`
	IsInternal        bool   `json:"is_internal"`
}

// Student submission types.
const (
	SubmissionFeedback           = "feedback"
	SubmissionUpdateRequest      = "update_request"
	SubmissionAdditionalInfo     = "additional_info"
	SubmissionSatisfactionRating = "satisfaction_rating"
	SubmissionOther              = "other"
)

// StudentSubmissionRequest is sent from the student tracking page.
type StudentSubmissionRequest struct {
	GrievanceID string `json:"grievance_id" validate:"required"`
	Type        string `json:"type" validate:"required,oneof=feedback update_request additional_info satisfaction_rating other"`
	Message     string `json:"message" validate:"max=5000"`
	Rating      *int   `json:"rating" validate:"omitempty,min=1,max=5"`
}

// StudentSubmissionResponse reports what was stored.
type StudentSubmissionResponse struct {
	Communication *models.GrievanceCommunication `json:"communication"`
	RatingApplied bool                           `json:"rating_applied"`
}

// GrievanceTracking is the student-visible view of one grievance.
type GrievanceTracking struct {
	Grievance      models.Grievance                `json:"grievance"`
	Communications []models.GrievanceCommunication `json:"communications"`
	Timeline       []models.GrievanceActivity      `json:"timeline"`
	CanRate        bool                            `json:"can_rate"`
}

// StudentTrackingResponse is either a list or a single tracked grievance.
type StudentTrackingResponse struct {
	Grievances []models.Grievance `json:"grievances,omitempty"`
	Tracking   *GrievanceTracking `json:"tracking,omitempty"`
}

// Assignee dashboard actions.
const (
	ActionStartProgress  = "start_progress"
	ActionResolve        = "resolve"
	ActionUpdatePriority = "update_priority"
	ActionSetDeadline    = "set_deadline"
	ActionAddNote        = "add_note"
)

// AssigneeActionRequest is the PUT body of the assignee dashboard.
type AssigneeActionRequest struct {
	Action      string     `json:"action" validate:"required,oneof=start_progress resolve update_priority set_deadline add_note"`
	GrievanceID string     `json:"grievance_id" validate:"required"`
	Resolution  string     `json:"resolution"`
	Priority    string     `json:"priority" validate:"omitempty,oneof=low medium high urgent"`
	Deadline    *time.Time `json:"deadline"`
	Note        string     `json:"note"`
}

// ExportGrievancesRequest selects which grievances go into a report.
type ExportGrievancesRequest struct {
	Format     string   `json:"format" validate:"required,oneof=csv pdf"`
	Status     []string `json:"status"`
	Category   string   `json:"category"`
	Priority   string   `json:"priority"`
	AssignedTo string   `json:"assigned_to"`
	DateRange  string   `json:"date_range" validate:"omitempty,oneof=today week month quarter"`
	Search     string   `json:"search"`
}

// ExportResponse returns a signed link to the generated report.
type ExportResponse struct {
	Token     string    `json:"token"`
	URL       string    `json:"url"`
	Format    string    `json:"format"`
	Rows      int       `json:"rows"`
	ExpiresAt time.Time `json:"expires_at"`
}
