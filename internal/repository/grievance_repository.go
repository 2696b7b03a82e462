package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/transport-admin-api/internal/models"
	"github.com/noah-isme/transport-admin-api/pkg/database"
)

const grievanceColumns = `id, student_id, category, grievance_type, priority, urgency, subject, description, route_id, driver_name, vehicle_number, location_details, incident_at, status, assigned_to, escalated_to, escalated_at, escalation_reason, tags, expected_resolution_date, estimated_resolution_time, actual_resolution_time, resolution, resolved_at, closed_at, closure_reason, satisfaction_rating, created_by, created_at, updated_at`

// ErrStaleGrievance reports that the row changed after it was read.
var ErrStaleGrievance = errors.New("grievance was modified by another request")

// UnassignReasonReassigned is stamped on the superseded assignment row.
const UnassignReasonReassigned = "Reassigned to another admin"

// GrievanceRepository persists grievances and their history tables.
type GrievanceRepository struct {
	db *sqlx.DB
}

// NewGrievanceRepository constructs the repository.
func NewGrievanceRepository(db *sqlx.DB) *GrievanceRepository {
	return &GrievanceRepository{db: db}
}

// Create inserts the grievance and, when provided, its initial active assignment in one transaction.
func (r *GrievanceRepository) Create(ctx context.Context, grievance *models.Grievance, assignment *models.GrievanceAssignment) error {
	if grievance.ID == "" {
		grievance.ID = uuid.NewString()
	}
	if grievance.CreatedAt.IsZero() {
		grievance.CreatedAt = time.Now().UTC()
	}
	grievance.UpdatedAt = grievance.CreatedAt.Truncate(time.Microsecond)
	if grievance.Tags == nil {
		grievance.Tags = pq.StringArray{}
	}

	return database.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		const insertQuery = `INSERT INTO grievances (` + grievanceColumns + `) VALUES (:id, :student_id, :category, :grievance_type, :priority, :urgency, :subject, :description, :route_id, :driver_name, :vehicle_number, :location_details, :incident_at, :status, :assigned_to, :escalated_to, :escalated_at, :escalation_reason, :tags, :expected_resolution_date, :estimated_resolution_time, :actual_resolution_time, :resolution, :resolved_at, :closed_at, :closure_reason, :satisfaction_rating, :created_by, :created_at, :updated_at)`
		if _, err := tx.NamedExecContext(ctx, insertQuery, grievance); err != nil {
			return fmt.Errorf("insert grievance: %w", err)
		}
		if assignment == nil {
			return nil
		}
		assignment.GrievanceID = grievance.ID
		return insertAssignment(ctx, tx, assignment, grievance.CreatedAt)
	})
}

// FindByID returns a grievance or sql.ErrNoRows.
func (r *GrievanceRepository) FindByID(ctx context.Context, id string) (*models.Grievance, error) {
	query := `SELECT ` + grievanceColumns + ` FROM grievances WHERE id = $1 LIMIT 1`
	var grievance models.Grievance
	if err := r.db.GetContext(ctx, &grievance, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find grievance: %w", err)
	}
	return &grievance, nil
}

// List returns grievances matching the filter along with the total count.
func (r *GrievanceRepository) List(ctx context.Context, filter models.GrievanceFilter) ([]models.Grievance, int, error) {
	baseQuery := `FROM grievances WHERE 1=1`
	var conditions []string
	var args []interface{}

	if len(filter.Statuses) > 0 {
		statuses := make([]string, 0, len(filter.Statuses))
		for _, s := range filter.Statuses {
			statuses = append(statuses, string(s))
		}
		args = append(args, pq.Array(statuses))
		conditions = append(conditions, fmt.Sprintf("status = ANY($%d)", len(args)))
	}
	if filter.Category != "" {
		args = append(args, filter.Category)
		conditions = append(conditions, fmt.Sprintf("category = $%d", len(args)))
	}
	if filter.Type != "" {
		args = append(args, filter.Type)
		conditions = append(conditions, fmt.Sprintf("grievance_type = $%d", len(args)))
	}
	if filter.Priority != "" {
		args = append(args, filter.Priority)
		conditions = append(conditions, fmt.Sprintf("priority = $%d", len(args)))
	}
	if filter.Urgency != "" {
		args = append(args, filter.Urgency)
		conditions = append(conditions, fmt.Sprintf("urgency = $%d", len(args)))
	}
	if filter.Unassigned {
		conditions = append(conditions, "assigned_to IS NULL")
	} else if filter.AssignedTo != "" {
		args = append(args, filter.AssignedTo)
		conditions = append(conditions, fmt.Sprintf("assigned_to = $%d", len(args)))
	}
	if filter.StudentID != "" {
		args = append(args, filter.StudentID)
		conditions = append(conditions, fmt.Sprintf("student_id = $%d", len(args)))
	}
	if filter.Search != "" {
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
		idx := len(args)
		conditions = append(conditions, fmt.Sprintf("(LOWER(subject) LIKE $%d OR LOWER(description) LIKE $%d OR LOWER(COALESCE(driver_name, '')) LIKE $%d OR LOWER(COALESCE(vehicle_number, '')) LIKE $%d OR LOWER(COALESCE(location_details, '')) LIKE $%d)", idx, idx, idx, idx, idx))
	}
	if len(filter.Tags) > 0 {
		args = append(args, pq.Array(filter.Tags))
		conditions = append(conditions, fmt.Sprintf("tags && $%d", len(args)))
	}
	if filter.From != nil {
		args = append(args, *filter.From)
		conditions = append(conditions, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if filter.To != nil {
		args = append(args, *filter.To)
		conditions = append(conditions, fmt.Sprintf("created_at <= $%d", len(args)))
	}

	if len(conditions) > 0 {
		baseQuery += " AND " + strings.Join(conditions, " AND ")
	}

	allowedSorts := map[string]bool{
		"created_at":               true,
		"updated_at":               true,
		"priority":                 true,
		"status":                   true,
		"category":                 true,
		"expected_resolution_date": true,
		"resolved_at":              true,
		"subject":                  true,
	}
	sortBy := filter.SortBy
	if !allowedSorts[sortBy] {
		sortBy = "created_at"
	}
	sortOrder := strings.ToUpper(filter.SortOrder)
	if sortOrder != "ASC" && sortOrder != "DESC" {
		sortOrder = "DESC"
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	offset := (page - 1) * limit

	listQuery := fmt.Sprintf("SELECT %s %s ORDER BY %s %s LIMIT %d OFFSET %d", grievanceColumns, baseQuery, sortBy, sortOrder, limit, offset)
	var grievances []models.Grievance
	if err := r.db.SelectContext(ctx, &grievances, listQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("list grievances: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", baseQuery)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count grievances: %w", err)
	}

	return grievances, total, nil
}

// ListSince returns every grievance created since the given instant, optionally scoped to an assignee.
func (r *GrievanceRepository) ListSince(ctx context.Context, assignedTo string, since time.Time) ([]models.Grievance, error) {
	query := `SELECT ` + grievanceColumns + ` FROM grievances WHERE created_at >= $1`
	args := []interface{}{since}
	if assignedTo != "" {
		query += ` AND assigned_to = $2`
		args = append(args, assignedTo)
	}
	query += ` ORDER BY created_at ASC`

	var grievances []models.Grievance
	if err := r.db.SelectContext(ctx, &grievances, query, args...); err != nil {
		return nil, fmt.Errorf("list grievances since: %w", err)
	}
	return grievances, nil
}

// AssigneeTotal counts grievances held by one assignee.
type AssigneeTotal struct {
	AssignedTo string `db:"assigned_to" json:"assigned_to"`
	Total      int    `db:"total" json:"total"`
}

// AssigneeTotals returns per-assignee totals over the window.
func (r *GrievanceRepository) AssigneeTotals(ctx context.Context, since time.Time) ([]AssigneeTotal, error) {
	const query = `SELECT assigned_to, COUNT(*) AS total FROM grievances WHERE assigned_to IS NOT NULL AND created_at >= $1 GROUP BY assigned_to ORDER BY total DESC`
	var totals []AssigneeTotal
	if err := r.db.SelectContext(ctx, &totals, query, since); err != nil {
		return nil, fmt.Errorf("assignee totals: %w", err)
	}
	return totals, nil
}

// Update writes mutable fields. grievance.UpdatedAt must hold the value that was read: the row is
// locked and a newer updated_at fails with ErrStaleGrievance. When next is non-nil the active
// assignment is swapped in the same transaction; a swap to the current assignee is skipped and
// reported as false.
func (r *GrievanceRepository) Update(ctx context.Context, grievance *models.Grievance, next *models.GrievanceAssignment) (reassigned bool, err error) {
	loaded := grievance.UpdatedAt
	now := time.Now().UTC().Truncate(time.Microsecond)

	err = database.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		var current struct {
			AssignedTo sql.NullString `db:"assigned_to"`
			UpdatedAt  time.Time      `db:"updated_at"`
		}
		const lockQuery = `SELECT assigned_to, updated_at FROM grievances WHERE id = $1 FOR UPDATE`
		if err := tx.GetContext(ctx, &current, lockQuery, grievance.ID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return err
			}
			return fmt.Errorf("lock grievance: %w", err)
		}
		if !current.UpdatedAt.Equal(loaded) {
			return ErrStaleGrievance
		}

		if next != nil && (!current.AssignedTo.Valid || current.AssignedTo.String != next.AssignedTo) {
			const deactivateQuery = `UPDATE grievance_assignments SET is_active = FALSE, unassigned_at = $2, unassignment_reason = $3 WHERE grievance_id = $1 AND is_active = TRUE`
			if _, err := tx.ExecContext(ctx, deactivateQuery, grievance.ID, now, UnassignReasonReassigned); err != nil {
				return fmt.Errorf("deactivate grievance assignment: %w", err)
			}
			next.GrievanceID = grievance.ID
			if err := insertAssignment(ctx, tx, next, now); err != nil {
				return err
			}
			reassigned = true
		}

		grievance.UpdatedAt = now
		const updateQuery = `UPDATE grievances SET category = :category, grievance_type = :grievance_type, priority = :priority, urgency = :urgency, subject = :subject, description = :description, route_id = :route_id, driver_name = :driver_name, vehicle_number = :vehicle_number, location_details = :location_details, incident_at = :incident_at, status = :status, assigned_to = :assigned_to, escalated_to = :escalated_to, escalated_at = :escalated_at, escalation_reason = :escalation_reason, tags = :tags, expected_resolution_date = :expected_resolution_date, actual_resolution_time = :actual_resolution_time, resolution = :resolution, resolved_at = :resolved_at, closed_at = :closed_at, closure_reason = :closure_reason, satisfaction_rating = :satisfaction_rating, updated_at = :updated_at WHERE id = :id`
		if _, err := tx.NamedExecContext(ctx, updateQuery, grievance); err != nil {
			return fmt.Errorf("update grievance: %w", err)
		}
		return nil
	})
	if err != nil {
		grievance.UpdatedAt = loaded
		return false, err
	}
	return reassigned, nil
}

// ApplyRating stores a satisfaction rating only while the grievance is resolved. It reports false
// when the row is missing or in any other status.
func (r *GrievanceRepository) ApplyRating(ctx context.Context, id string, rating int) (bool, error) {
	const query = `UPDATE grievances SET satisfaction_rating = $2, updated_at = $3 WHERE id = $1 AND status = $4`
	res, err := r.db.ExecContext(ctx, query, id, rating, time.Now().UTC().Truncate(time.Microsecond), string(models.GrievanceStatusResolved))
	if err != nil {
		return false, fmt.Errorf("apply satisfaction rating: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("apply satisfaction rating: %w", err)
	}
	return affected > 0, nil
}

func insertAssignment(ctx context.Context, tx *sqlx.Tx, assignment *models.GrievanceAssignment, at time.Time) error {
	if assignment.ID == "" {
		assignment.ID = uuid.NewString()
	}
	assignment.IsActive = true
	if assignment.AssignedAt.IsZero() {
		assignment.AssignedAt = at
	}
	const query = `INSERT INTO grievance_assignments (id, grievance_id, assigned_to, assigned_by, assignment_reason, is_active, assigned_at) VALUES (:id, :grievance_id, :assigned_to, :assigned_by, :assignment_reason, :is_active, :assigned_at)`
	if _, err := tx.NamedExecContext(ctx, query, assignment); err != nil {
		return fmt.Errorf("insert grievance assignment: %w", err)
	}
	return nil
}

// ListAssignments returns the assignment history, newest first.
func (r *GrievanceRepository) ListAssignments(ctx context.Context, grievanceID string) ([]models.GrievanceAssignment, error) {
	const query = `SELECT id, grievance_id, assigned_to, assigned_by, assignment_reason, is_active, assigned_at, unassigned_at, unassignment_reason FROM grievance_assignments WHERE grievance_id = $1 ORDER BY assigned_at DESC`
	var assignments []models.GrievanceAssignment
	if err := r.db.SelectContext(ctx, &assignments, query, grievanceID); err != nil {
		return nil, fmt.Errorf("list grievance assignments: %w", err)
	}
	return assignments, nil
}

// CreateCommunication inserts a communication row.
func (r *GrievanceRepository) CreateCommunication(ctx context.Context, comm *models.GrievanceCommunication) error {
	if comm.ID == "" {
		comm.ID = uuid.NewString()
	}
	if comm.CreatedAt.IsZero() {
		comm.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO grievance_communications (id, grievance_id, sender_id, sender_type, recipient_id, recipient_type, message, communication_type, is_internal, created_at) VALUES (:id, :grievance_id, :sender_id, :sender_type, :recipient_id, :recipient_type, :message, :communication_type, :is_internal, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, comm); err != nil {
		return fmt.Errorf("create grievance communication: %w", err)
	}
	return nil
}

// ListCommunications returns communications oldest first. Internal notes are excluded unless requested.
func (r *GrievanceRepository) ListCommunications(ctx context.Context, grievanceID string, includeInternal bool) ([]models.GrievanceCommunication, error) {
	query := `SELECT id, grievance_id, sender_id, sender_type, recipient_id, recipient_type, message, communication_type, is_internal, created_at FROM grievance_communications WHERE grievance_id = $1`
	if !includeInternal {
		query += ` AND is_internal = FALSE`
	}
	query += ` ORDER BY created_at ASC`

	var comms []models.GrievanceCommunication
	if err := r.db.SelectContext(ctx, &comms, query, grievanceID); err != nil {
		return nil, fmt.Errorf("list grievance communications: %w", err)
	}
	return comms, nil
}

// CreateActivity appends a timeline entry.
func (r *GrievanceRepository) CreateActivity(ctx context.Context, activity *models.GrievanceActivity) error {
	if activity.ID == "" {
		activity.ID = uuid.NewString()
	}
	if activity.CreatedAt.IsZero() {
		activity.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO grievance_activity_log (id, grievance_id, activity_type, actor_id, actor_type, description, old_value, new_value, visibility, created_at) VALUES (:id, :grievance_id, :activity_type, :actor_id, :actor_type, :description, :old_value, :new_value, :visibility, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, activity); err != nil {
		return fmt.Errorf("create grievance activity: %w", err)
	}
	return nil
}

// ListActivities returns timeline entries restricted to the given visibilities.
func (r *GrievanceRepository) ListActivities(ctx context.Context, grievanceID string, visibilities []string) ([]models.GrievanceActivity, error) {
	query := `SELECT id, grievance_id, activity_type, actor_id, actor_type, description, old_value, new_value, visibility, created_at FROM grievance_activity_log WHERE grievance_id = $1`
	args := []interface{}{grievanceID}
	if len(visibilities) > 0 {
		query += ` AND visibility = ANY($2)`
		args = append(args, pq.Array(visibilities))
	}
	query += ` ORDER BY created_at ASC`

	var activities []models.GrievanceActivity
	if err := r.db.SelectContext(ctx, &activities, query, args...); err != nil {
		return nil, fmt.Errorf("list grievance activities: %w", err)
	}
	return activities, nil
}

// RecentActivities returns the latest timeline entries across grievances held by an assignee.
func (r *GrievanceRepository) RecentActivities(ctx context.Context, assignedTo string, limit int) ([]models.GrievanceActivity, error) {
	if limit <= 0 {
		limit = 10
	}
	query := `SELECT a.id, a.grievance_id, a.activity_type, a.actor_id, a.actor_type, a.description, a.old_value, a.new_value, a.visibility, a.created_at FROM grievance_activity_log a`
	var args []interface{}
	if assignedTo != "" {
		query += ` JOIN grievances g ON g.id = a.grievance_id WHERE g.assigned_to = $1`
		args = append(args, assignedTo)
	}
	query += fmt.Sprintf(` ORDER BY a.created_at DESC LIMIT %d`, limit)

	var activities []models.GrievanceActivity
	if err := r.db.SelectContext(ctx, &activities, query, args...); err != nil {
		return nil, fmt.Errorf("recent grievance activities: %w", err)
	}
	return activities, nil
}

// FindSLAConfig returns the active SLA row for a category or sql.ErrNoRows.
func (r *GrievanceRepository) FindSLAConfig(ctx context.Context, category string) (*models.GrievanceSLAConfig, error) {
	const query = `SELECT category, sla_hours, auto_assign_to, is_active FROM grievance_sla_config WHERE category = $1 AND is_active = TRUE LIMIT 1`
	var cfg models.GrievanceSLAConfig
	if err := r.db.GetContext(ctx, &cfg, query, category); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find grievance sla config: %w", err)
	}
	return &cfg, nil
}
