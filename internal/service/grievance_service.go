package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/transport-admin-api/internal/dto"
	"github.com/noah-isme/transport-admin-api/internal/models"
	"github.com/noah-isme/transport-admin-api/internal/repository"
	appErrors "github.com/noah-isme/transport-admin-api/pkg/errors"
	"github.com/noah-isme/transport-admin-api/pkg/logger"
	"github.com/noah-isme/transport-admin-api/pkg/middleware/requestid"
)

type grievanceStore interface {
	Create(ctx context.Context, grievance *models.Grievance, assignment *models.GrievanceAssignment) error
	FindByID(ctx context.Context, id string) (*models.Grievance, error)
	List(ctx context.Context, filter models.GrievanceFilter) ([]models.Grievance, int, error)
	Update(ctx context.Context, grievance *models.Grievance, next *models.GrievanceAssignment) (bool, error)
	ApplyRating(ctx context.Context, id string, rating int) (bool, error)
	ListAssignments(ctx context.Context, grievanceID string) ([]models.GrievanceAssignment, error)
	CreateCommunication(ctx context.Context, comm *models.GrievanceCommunication) error
	ListCommunications(ctx context.Context, grievanceID string, includeInternal bool) ([]models.GrievanceCommunication, error)
	CreateActivity(ctx context.Context, activity *models.GrievanceActivity) error
	ListActivities(ctx context.Context, grievanceID string, visibilities []string) ([]models.GrievanceActivity, error)
	FindSLAConfig(ctx context.Context, category string) (*models.GrievanceSLAConfig, error)
}

type studentLookup interface {
	FindByID(ctx context.Context, id string) (*models.Student, error)
}

type userLookup interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
}

// GrievanceConfig carries SLA defaults and category routing.
type GrievanceConfig struct {
	DefaultSLAHours int
	SLAHours        map[string]int
	AutoAssign      map[string]string
}

// GrievanceService enforces the grievance lifecycle.
type GrievanceService struct {
	store     grievanceStore
	students  studentLookup
	users     userLookup
	audit     auditRecorder
	events    eventPublisher
	cache     *CacheService
	metrics   *MetricsService
	validator *validator.Validate
	sanitizer *bluemonday.Policy
	logger    *zap.Logger
	cfg       GrievanceConfig
	now       func() time.Time
}

// NewGrievanceService wires the grievance lifecycle service.
func NewGrievanceService(store grievanceStore, students studentLookup, users userLookup, audit auditRecorder, events eventPublisher, cache *CacheService, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger, cfg GrievanceConfig) *GrievanceService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.DefaultSLAHours <= 0 {
		cfg.DefaultSLAHours = defaultSLAHours
	}
	return &GrievanceService{
		store:     store,
		students:  students,
		users:     users,
		audit:     audit,
		events:    events,
		cache:     cache,
		metrics:   metrics,
		validator: validate,
		sanitizer: bluemonday.StrictPolicy(),
		logger:    logger,
		cfg:       cfg,
		now:       time.Now,
	}
}

// Create registers a grievance. It starts in_progress with an active assignment when an assignee is
// supplied or routed by category, otherwise open.
func (s *GrievanceService) Create(ctx context.Context, req dto.CreateGrievanceRequest, actor *models.JWTClaims) (*models.Grievance, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Validation(err)
	}
	subject := s.clean(req.Subject)
	description := s.clean(req.Description)
	if subject == "" || description == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "subject and description are required")
	}

	if _, err := s.students.FindByID(ctx, req.StudentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}

	slaHours, routed := s.resolveSLA(ctx, req.Category)
	now := s.now().UTC()
	expected := now.Add(time.Duration(slaHours) * time.Hour)
	estimate := FormatSLA(slaHours)

	grievance := &models.Grievance{
		ID:                      uuid.NewString(),
		StudentID:               req.StudentID,
		Category:                req.Category,
		GrievanceType:           defaultString(req.GrievanceType, "complaint"),
		Priority:                models.GrievancePriority(defaultString(req.Priority, string(models.GrievancePriorityMedium))),
		Urgency:                 defaultString(req.Urgency, "medium"),
		Subject:                 subject,
		Description:             description,
		RouteID:                 req.RouteID,
		DriverName:              s.cleanPtr(req.DriverName),
		VehicleNumber:           s.cleanPtr(req.VehicleNumber),
		LocationDetails:         s.cleanPtr(req.LocationDetails),
		IncidentAt:              req.IncidentAt,
		Status:                  models.GrievanceStatusOpen,
		Tags:                    pq.StringArray(normalizeTags(req.Tags)),
		ExpectedResolutionDate:  &expected,
		EstimatedResolutionTime: &estimate,
		CreatedAt:               now,
	}
	if actor != nil {
		grievance.CreatedBy = &actor.UserID
	}

	assignee := strings.TrimSpace(valueOrEmpty(req.AssignedTo))
	reason := "Assigned on creation"
	if assignee == "" && routed != "" {
		assignee = routed
		reason = "Auto-assigned by category rule"
	}

	var assignment *models.GrievanceAssignment
	if assignee != "" {
		if err := s.ensureAdmin(ctx, assignee); err != nil {
			return nil, err
		}
		grievance.AssignedTo = &assignee
		grievance.Status = models.GrievanceStatusInProgress
		assignment = &models.GrievanceAssignment{
			GrievanceID:      grievance.ID,
			AssignedTo:       assignee,
			AssignedBy:       grievance.CreatedBy,
			AssignmentReason: &reason,
		}
	}

	if err := s.store.Create(ctx, grievance, assignment); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create grievance")
	}

	actorID := claimsUserID(actor)
	s.appendActivity(ctx, grievance.ID, actor, models.ActivityCreated, "Grievance submitted", nil, strPtrOf(string(grievance.Status)), models.VisibilityPublic)
	if assignment != nil {
		s.appendActivity(ctx, grievance.ID, actor, models.ActivityAssignment, "Grievance assigned", nil, &assignee, models.VisibilityPublic)
	}
	s.record(ctx, AuditEntry{UserID: actorID, Action: models.AuditActionCreate, Resource: "grievance", ResourceID: grievance.ID, NewValues: grievance})
	s.publish(ctx, EventGrievanceCreated, grievance, actorID, nil)
	s.metrics.RecordGrievanceTransition(string(grievance.Status))
	s.invalidate(ctx)

	return grievance, nil
}

// Get returns one grievance with best-effort enrichment.
func (s *GrievanceService) Get(ctx context.Context, id string) (*models.GrievanceDetail, error) {
	grievance, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	details := s.enrich(ctx, []models.Grievance{*grievance})
	return &details[0], nil
}

// List returns a filtered, paginated page of grievances.
func (s *GrievanceService) List(ctx context.Context, filter models.GrievanceFilter) ([]models.GrievanceDetail, *models.Pagination, error) {
	if err := s.applyDateRange(&filter); err != nil {
		return nil, nil, err
	}
	for _, status := range filter.Statuses {
		if !status.Valid() {
			return nil, nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown status %q", status))
		}
	}
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.Limit <= 0 {
		filter.Limit = 20
	}
	if filter.Limit > 100 {
		filter.Limit = 100
	}

	grievances, total, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list grievances")
	}
	return s.enrich(ctx, grievances), models.NewPagination(filter.Page, filter.Limit, total), nil
}

// Update applies a partial update following the lifecycle transition rules.
func (s *GrievanceService) Update(ctx context.Context, id string, req dto.UpdateGrievanceRequest, actor *models.JWTClaims) (*models.Grievance, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Validation(err)
	}
	grievance, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	nextAssignee := strings.TrimSpace(valueOrEmpty(req.AssignedTo))
	if err := authorizeAssignee(grievance, actor, nextAssignee); err != nil {
		return nil, err
	}

	before := *grievance
	before.Tags = append(pq.StringArray(nil), grievance.Tags...)
	now := s.now().UTC()
	var pending []pendingActivity
	changed := false

	if req.Priority != nil && models.GrievancePriority(*req.Priority) != grievance.Priority {
		pending = append(pending, pendingActivity{models.ActivityPriorityChange, "Priority changed", strPtrOf(string(grievance.Priority)), req.Priority, models.VisibilityPublic})
		grievance.Priority = models.GrievancePriority(*req.Priority)
		changed = true
	}
	if req.Urgency != nil && *req.Urgency != grievance.Urgency {
		grievance.Urgency = *req.Urgency
		changed = true
	}
	if req.Category != nil && *req.Category != grievance.Category {
		grievance.Category = *req.Category
		changed = true
	}
	if req.Subject != nil {
		if subject := s.clean(*req.Subject); subject != "" && subject != grievance.Subject {
			grievance.Subject = subject
			changed = true
		}
	}
	if req.Description != nil {
		if description := s.clean(*req.Description); description != "" && description != grievance.Description {
			grievance.Description = description
			changed = true
		}
	}
	if req.Tags != nil {
		var tags []string
		if req.MergeTags {
			tags = MergeTags(grievance.Tags, req.Tags)
		} else {
			tags = normalizeTags(req.Tags)
		}
		oldTags := strings.Join(grievance.Tags, ",")
		newTags := strings.Join(tags, ",")
		if oldTags != newTags {
			pending = append(pending, pendingActivity{models.ActivityTagsChange, "Tags updated", &oldTags, &newTags, models.VisibilityPrivate})
			grievance.Tags = pq.StringArray(tags)
			changed = true
		}
	}
	if req.ExpectedResolutionDate != nil {
		deadline := req.ExpectedResolutionDate.UTC()
		if grievance.ExpectedResolutionDate == nil || !grievance.ExpectedResolutionDate.Equal(deadline) {
			pending = append(pending, pendingActivity{models.ActivityDeadlineChange, "Expected resolution date changed", timePtrString(grievance.ExpectedResolutionDate), timePtrString(&deadline), models.VisibilityPublic})
			grievance.ExpectedResolutionDate = &deadline
			changed = true
		}
	}
	if req.Resolution != nil {
		if resolution := s.clean(*req.Resolution); resolution != "" {
			grievance.Resolution = &resolution
			changed = true
		}
	}

	escalated := false
	if req.EscalatedTo != nil {
		target := strings.TrimSpace(*req.EscalatedTo)
		current := valueOrEmpty(grievance.EscalatedTo)
		if target != current {
			if target == "" {
				grievance.EscalatedTo = nil
				grievance.EscalatedAt = nil
				grievance.EscalationReason = nil
				pending = append(pending, pendingActivity{models.ActivityEscalation, "Escalation withdrawn", &current, nil, models.VisibilityPrivate})
			} else {
				if err := s.ensureAdmin(ctx, target); err != nil {
					return nil, err
				}
				grievance.EscalatedTo = &target
				grievance.EscalatedAt = &now
				grievance.EscalationReason = s.cleanPtr(req.EscalationReason)
				escalated = true
				pending = append(pending, pendingActivity{models.ActivityEscalation, "Grievance escalated", nilIfEmpty(current), &target, models.VisibilityPrivate})
			}
			changed = true
		}
	}

	var next *models.GrievanceAssignment
	if nextAssignee != "" && nextAssignee != valueOrEmpty(grievance.AssignedTo) {
		if err := s.ensureAdmin(ctx, nextAssignee); err != nil {
			return nil, err
		}
		next = &models.GrievanceAssignment{
			AssignedTo:       nextAssignee,
			AssignedBy:       nilIfEmpty(claimsUserID(actor)),
			AssignmentReason: s.cleanPtr(req.AssignmentReason),
		}
		grievance.AssignedTo = &nextAssignee
		if grievance.Status == models.GrievanceStatusOpen && req.Status == nil {
			s.transition(grievance, models.GrievanceStatusInProgress, now)
			pending = append(pending, pendingActivity{models.ActivityStatusChange, "Status changed", strPtrOf(string(models.GrievanceStatusOpen)), strPtrOf(string(models.GrievanceStatusInProgress)), models.VisibilityPublic})
		}
		changed = true
	}

	if req.Status != nil && *req.Status != grievance.Status {
		previous := grievance.Status
		s.transition(grievance, *req.Status, now)
		pending = append(pending, pendingActivity{models.ActivityStatusChange, "Status changed", strPtrOf(string(previous)), strPtrOf(string(grievance.Status)), models.VisibilityPublic})
		changed = true
	}

	if !changed {
		return grievance, nil
	}

	reassigned, err := s.store.Update(ctx, grievance, next)
	if err != nil {
		return nil, writeError(err, "failed to update grievance")
	}
	if reassigned {
		pending = append(pending, pendingActivity{models.ActivityAssignment, "Grievance reassigned", before.AssignedTo, &nextAssignee, models.VisibilityPublic})
	}

	for _, p := range pending {
		s.appendActivity(ctx, grievance.ID, actor, p.kind, p.description, p.oldValue, p.newValue, p.visibility)
		if p.kind == models.ActivityStatusChange {
			s.metrics.RecordGrievanceTransition(valueOrEmpty(p.newValue))
			s.notifyStatus(ctx, grievance, actor, valueOrEmpty(p.newValue))
		}
	}

	actorID := claimsUserID(actor)
	s.record(ctx, AuditEntry{UserID: actorID, Action: models.AuditActionUpdate, Resource: "grievance", ResourceID: grievance.ID, OldValues: before, NewValues: grievance})
	s.publish(ctx, EventGrievanceUpdated, grievance, actorID, activityKinds(pending))
	if escalated {
		s.publish(ctx, EventGrievanceEscalated, grievance, actorID, nil)
	}
	s.invalidate(ctx)

	return grievance, nil
}

// Delete soft-deletes a grievance by closing it.
func (s *GrievanceService) Delete(ctx context.Context, id, reason string, actor *models.JWTClaims) (*models.Grievance, error) {
	grievance, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := authorizeAssignee(grievance, actor, ""); err != nil {
		return nil, err
	}
	if grievance.Status == models.GrievanceStatusClosed {
		return grievance, nil
	}

	before := *grievance
	reason = s.clean(reason)
	if reason == "" {
		reason = "Closed by administrator"
	}
	now := s.now().UTC()
	grievance.Status = models.GrievanceStatusClosed
	grievance.ClosureReason = &reason
	grievance.ClosedAt = &now
	// resolved_at is still stamped on close when unset; reporting relies on it.
	if grievance.ResolvedAt == nil {
		grievance.ResolvedAt = &now
	}

	if _, err := s.store.Update(ctx, grievance, nil); err != nil {
		return nil, writeError(err, "failed to close grievance")
	}

	actorID := claimsUserID(actor)
	s.appendActivity(ctx, grievance.ID, actor, models.ActivityClosed, "Grievance closed", strPtrOf(string(before.Status)), &reason, models.VisibilityPublic)
	s.record(ctx, AuditEntry{UserID: actorID, Action: models.AuditActionDelete, Resource: "grievance", ResourceID: grievance.ID, OldValues: before, NewValues: map[string]interface{}{"status": grievance.Status, "closure_reason": reason}})
	s.publish(ctx, EventGrievanceClosed, grievance, actorID, nil)
	s.metrics.RecordGrievanceTransition(string(models.GrievanceStatusClosed))
	s.invalidate(ctx)

	return grievance, nil
}

func writeError(err error, message string) error {
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return appErrors.Clone(appErrors.ErrNotFound, "grievance not found")
	case errors.Is(err, repository.ErrStaleGrievance):
		return appErrors.Clone(appErrors.ErrConflict, "grievance was changed by another request, reload and retry")
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, message)
}

// ListAssignments returns the assignment history of a grievance.
func (s *GrievanceService) ListAssignments(ctx context.Context, id string) ([]models.GrievanceAssignment, error) {
	if _, err := s.load(ctx, id); err != nil {
		return nil, err
	}
	assignments, err := s.store.ListAssignments(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list assignments")
	}
	if assignments == nil {
		assignments = []models.GrievanceAssignment{}
	}
	return assignments, nil
}

// AddAdminCommunication posts an admin message or internal note.
func (s *GrievanceService) AddAdminCommunication(ctx context.Context, id string, req dto.AdminCommunicationRequest, actor *models.JWTClaims) (*models.GrievanceCommunication, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Validation(err)
	}
	message := s.clean(req.Message)
	if message == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "message is required")
	}
	grievance, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := authorizeAssignee(grievance, actor, ""); err != nil {
		return nil, err
	}

	commType := req.CommunicationType
	if commType == "" {
		commType = models.CommunicationComment
		if req.IsInternal {
			commType = models.CommunicationNote
		}
	}
	comm := &models.GrievanceCommunication{
		GrievanceID:       grievance.ID,
		SenderID:          claimsUserID(actor),
		SenderType:        models.ParticipantAdmin,
		Message:           message,
		CommunicationType: commType,
		IsInternal:        req.IsInternal,
		CreatedAt:         s.now().UTC(),
	}
	if !req.IsInternal {
		comm.RecipientID = &grievance.StudentID
		comm.RecipientType = strPtrOf(models.ParticipantStudent)
	}
	if err := s.store.CreateCommunication(ctx, comm); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to save communication")
	}

	visibility := models.VisibilityPublic
	description := "Admin replied"
	if req.IsInternal {
		visibility = models.VisibilityPrivate
		description = "Internal note added"
	}
	s.appendActivity(ctx, grievance.ID, actor, models.ActivityCommunication, description, nil, nil, visibility)
	if !req.IsInternal {
		s.publish(ctx, EventGrievanceMessage, grievance, comm.SenderID, nil)
	}
	s.invalidate(ctx)

	return comm, nil
}

// ListCommunications returns the admin view of a grievance conversation.
func (s *GrievanceService) ListCommunications(ctx context.Context, id string, includeInternal bool, actor *models.JWTClaims) ([]models.GrievanceCommunication, error) {
	if _, err := s.load(ctx, id); err != nil {
		return nil, err
	}
	if actor != nil && actor.Role == models.RoleStudent {
		includeInternal = false
	}
	comms, err := s.store.ListCommunications(ctx, id, includeInternal)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list communications")
	}
	if comms == nil {
		comms = []models.GrievanceCommunication{}
	}
	return comms, nil
}

// transition moves a grievance into next and stamps lifecycle timestamps.
func (s *GrievanceService) transition(g *models.Grievance, next models.GrievanceStatus, now time.Time) {
	g.Status = next
	switch next {
	case models.GrievanceStatusResolved:
		if g.ResolvedAt == nil {
			g.ResolvedAt = &now
		}
		hours := ResolutionHours(g.CreatedAt, now)
		g.ActualResolutionTime = &hours
	case models.GrievanceStatusClosed:
		if g.ClosedAt == nil {
			g.ClosedAt = &now
		}
	}
}

func (s *GrievanceService) resolveSLA(ctx context.Context, category string) (int, string) {
	hours := 0
	routed := ""
	cfg, err := s.store.FindSLAConfig(ctx, category)
	switch {
	case err == nil && cfg != nil:
		hours = cfg.SLAHours
		routed = valueOrEmpty(cfg.AutoAssignTo)
	case err != nil && !errors.Is(err, sql.ErrNoRows):
		s.logger.Warn("failed to load sla config", zap.String("category", category), zap.Error(err))
	}
	if hours <= 0 {
		hours = s.cfg.SLAHours[category]
	}
	if hours <= 0 {
		hours = s.cfg.DefaultSLAHours
	}
	if routed == "" {
		routed = s.cfg.AutoAssign[category]
	}
	return hours, routed
}

func (s *GrievanceService) ensureAdmin(ctx context.Context, userID string) error {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrValidation, "assignee not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load assignee")
	}
	if user.Role == models.RoleStudent || !user.Active {
		return appErrors.Clone(appErrors.ErrValidation, "assignee must be an active admin")
	}
	return nil
}

func (s *GrievanceService) load(ctx context.Context, id string) (*models.Grievance, error) {
	grievance, err := s.store.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "grievance not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load grievance")
	}
	return grievance, nil
}

func (s *GrievanceService) applyDateRange(filter *models.GrievanceFilter) error {
	if filter.DateRange == "" || filter.From != nil {
		return nil
	}
	start, ok := RangeStart(s.now().UTC(), filter.DateRange)
	if !ok {
		return appErrors.Clone(appErrors.ErrValidation, "date_range must be one of today, week, month, quarter")
	}
	filter.From = &start
	return nil
}

// enrich attaches display names. Lookup failures leave the fields null.
func (s *GrievanceService) enrich(ctx context.Context, grievances []models.Grievance) []models.GrievanceDetail {
	studentIDs := map[string]struct{}{}
	userIDs := map[string]struct{}{}
	for _, g := range grievances {
		studentIDs[g.StudentID] = struct{}{}
		if g.AssignedTo != nil {
			userIDs[*g.AssignedTo] = struct{}{}
		}
		if g.EscalatedTo != nil {
			userIDs[*g.EscalatedTo] = struct{}{}
		}
	}

	var mu sync.Mutex
	students := make(map[string]*models.Student, len(studentIDs))
	users := make(map[string]*models.User, len(userIDs))

	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(8)
	for id := range studentIDs {
		group.Go(func() error {
			student, err := s.students.FindByID(gctx, id)
			if err != nil {
				s.logger.Warn("grievance enrichment: student lookup failed", zap.String("student_id", id), zap.Error(err))
				return nil
			}
			mu.Lock()
			students[id] = student
			mu.Unlock()
			return nil
		})
	}
	for id := range userIDs {
		group.Go(func() error {
			user, err := s.users.FindByID(gctx, id)
			if err != nil {
				s.logger.Warn("grievance enrichment: user lookup failed", zap.String("user_id", id), zap.Error(err))
				return nil
			}
			mu.Lock()
			users[id] = user
			mu.Unlock()
			return nil
		})
	}
	_ = group.Wait()

	details := make([]models.GrievanceDetail, 0, len(grievances))
	for _, g := range grievances {
		detail := models.GrievanceDetail{Grievance: g}
		if student, ok := students[g.StudentID]; ok {
			detail.StudentName = &student.FullName
			detail.StudentEmail = student.Email
		}
		if g.AssignedTo != nil {
			if user, ok := users[*g.AssignedTo]; ok {
				detail.AssigneeName = &user.FullName
			}
		}
		if g.EscalatedTo != nil {
			if user, ok := users[*g.EscalatedTo]; ok {
				detail.EscalatedName = &user.FullName
			}
		}
		details = append(details, detail)
	}
	return details
}

type pendingActivity struct {
	kind        string
	description string
	oldValue    *string
	newValue    *string
	visibility  string
}

func activityKinds(pending []pendingActivity) []string {
	kinds := make([]string, 0, len(pending))
	for _, p := range pending {
		kinds = append(kinds, p.kind)
	}
	return kinds
}

// appendActivity writes a timeline entry. The entry is best effort and never fails the caller.
func (s *GrievanceService) appendActivity(ctx context.Context, grievanceID string, actor *models.JWTClaims, kind, description string, oldValue, newValue *string, visibility string) {
	activity := &models.GrievanceActivity{
		GrievanceID:  grievanceID,
		ActivityType: kind,
		ActorType:    actorType(actor),
		Description:  description,
		OldValue:     oldValue,
		NewValue:     newValue,
		Visibility:   visibility,
		CreatedAt:    s.now().UTC(),
	}
	if actor != nil {
		activity.ActorID = &actor.UserID
	}
	if err := s.store.CreateActivity(ctx, activity); err != nil {
		logger.ForContext(ctx, s.logger).Warn("failed to append grievance activity",
			zap.String("grievance_id", grievanceID),
			zap.String("activity", kind),
			zap.Error(err),
		)
	}
}

// notifyStatus leaves a student-visible system message for a status change.
func (s *GrievanceService) notifyStatus(ctx context.Context, g *models.Grievance, actor *models.JWTClaims, status string) {
	comm := &models.GrievanceCommunication{
		GrievanceID:       g.ID,
		SenderID:          claimsUserID(actor),
		SenderType:        models.ParticipantSystem,
		RecipientID:       &g.StudentID,
		RecipientType:     strPtrOf(models.ParticipantStudent),
		Message:           fmt.Sprintf("Status changed to %s", strings.ReplaceAll(status, "_", " ")),
		CommunicationType: models.CommunicationStatusChange,
		CreatedAt:         s.now().UTC(),
	}
	if err := s.store.CreateCommunication(ctx, comm); err != nil {
		logger.ForContext(ctx, s.logger).Warn("failed to record status message", zap.String("grievance_id", g.ID), zap.Error(err))
	}
}

func (s *GrievanceService) record(ctx context.Context, entry AuditEntry) {
	if s.audit != nil {
		s.audit.Record(ctx, entry)
	}
}

func (s *GrievanceService) publish(ctx context.Context, eventType string, g *models.Grievance, actorID string, changes []string) {
	if s.events == nil {
		return
	}
	s.events.Publish(ctx, GrievanceEvent{
		Type:        eventType,
		GrievanceID: g.ID,
		StudentID:   g.StudentID,
		AssignedTo:  g.AssignedTo,
		Status:      g.Status,
		ActorID:     actorID,
		RequestID:   requestid.FromContext(ctx),
		Changes:     changes,
		OccurredAt:  s.now().UTC(),
	})
}

func (s *GrievanceService) invalidate(ctx context.Context) {
	_ = s.cache.Invalidate(ctx, cachePrefixGrievances+"*")
}

func (s *GrievanceService) clean(raw string) string {
	return strings.TrimSpace(s.sanitizer.Sanitize(raw))
}

func (s *GrievanceService) cleanPtr(raw *string) *string {
	if raw == nil {
		return nil
	}
	return nilIfEmpty(s.clean(*raw))
}

// authorizeAssignee allows elevated callers, the current assignee, and an admin claiming an unassigned
// grievance for themselves.
func authorizeAssignee(g *models.Grievance, actor *models.JWTClaims, claiming string) error {
	if actor == nil {
		return appErrors.Clone(appErrors.ErrUnauthorized, "authentication required")
	}
	if actor.Role.Elevated() {
		return nil
	}
	if actor.Role != models.RoleAdmin {
		return appErrors.Clone(appErrors.ErrForbidden, "admin role required")
	}
	if g.AssignedTo != nil && *g.AssignedTo == actor.UserID {
		return nil
	}
	if g.AssignedTo == nil && claiming == actor.UserID {
		return nil
	}
	return appErrors.Clone(appErrors.ErrForbidden, "grievance is assigned to another admin")
}

func claimsUserID(actor *models.JWTClaims) string {
	if actor == nil {
		return ""
	}
	return actor.UserID
}

func actorType(actor *models.JWTClaims) string {
	switch {
	case actor == nil:
		return models.ParticipantSystem
	case actor.Role == models.RoleStudent:
		return models.ParticipantStudent
	default:
		return models.ParticipantAdmin
	}
}

func defaultString(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}

func valueOrEmpty(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func nilIfEmpty(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func strPtrOf(v string) *string {
	return &v
}

func timePtrString(t *time.Time) *string {
	if t == nil {
		return nil
	}
	v := t.UTC().Format(time.RFC3339)
	return &v
}
