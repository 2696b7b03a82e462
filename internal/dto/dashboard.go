package dto

import (
	"time"

	"github.com/noah-isme/transport-admin-api/internal/models"
)

// TrendPoint is one day of the trend series.
type TrendPoint struct {
	Date     string `json:"date"`
	Created  int    `json:"created"`
	Resolved int    `json:"resolved"`
	Pending  int    `json:"pending"`
}

// WorkloadStat compares an assignee against the others.
type WorkloadStat struct {
	Total         int     `json:"total"`
	OthersAverage float64 `json:"others_average"`
	Percentile    float64 `json:"percentile"`
}

// GrievanceAggregates holds the metrics shared by assignee and system views.
type GrievanceAggregates struct {
	Total                int            `json:"total"`
	StatusCounts         map[string]int `json:"status_counts"`
	Overdue              int            `json:"overdue"`
	Urgent               int            `json:"urgent"`
	HighPriority         int            `json:"high_priority"`
	AverageResponseHours *float64       `json:"average_response_hours"`
	Trend                []TrendPoint   `json:"trend"`
	Priorities           map[string]int `json:"priorities"`
	Categories           map[string]int `json:"categories"`
}

// AssigneeDashboard is the per-admin workload view.
type AssigneeDashboard struct {
	AdminID        string                     `json:"admin_id"`
	Window         string                     `json:"window"`
	From           time.Time                  `json:"from"`
	To             time.Time                  `json:"to"`
	Aggregates     GrievanceAggregates        `json:"aggregates"`
	Workload       WorkloadStat               `json:"workload"`
	RecentActivity []models.GrievanceActivity `json:"recent_activity"`
	GeneratedAt    time.Time                  `json:"generated_at"`
}

// AssigneeLoad is one row of the system-wide per-assignee table.
type AssigneeLoad struct {
	AdminID string  `json:"admin_id"`
	Name    *string `json:"name"`
	Total   int     `json:"total"`
}

// SystemAnalytics is the system-wide grievance view.
type SystemAnalytics struct {
	Window      string              `json:"window"`
	From        time.Time           `json:"from"`
	To          time.Time           `json:"to"`
	Aggregates  GrievanceAggregates `json:"aggregates"`
	Assignees   []AssigneeLoad      `json:"assignees"`
	GeneratedAt time.Time           `json:"generated_at"`
}

// AssigneeActionResponse returns the grievance after an action was applied.
type AssigneeActionResponse struct {
	Action    string                         `json:"action"`
	Grievance *models.Grievance              `json:"grievance"`
	Note      *models.GrievanceCommunication `json:"note,omitempty"`
}

// AssigneeOption is one entry of the assignee picker.
type AssigneeOption struct {
	ID         string          `json:"id"`
	FullName   string          `json:"full_name"`
	Email      string          `json:"email"`
	Role       models.UserRole `json:"role"`
	RecentLoad int             `json:"recent_load"`
}
