package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/transport-admin-api/internal/dto"
	"github.com/noah-isme/transport-admin-api/internal/models"
	"github.com/noah-isme/transport-admin-api/internal/repository"
	appErrors "github.com/noah-isme/transport-admin-api/pkg/errors"
)

type grievanceAnalyticsStore interface {
	ListSince(ctx context.Context, assignedTo string, since time.Time) ([]models.Grievance, error)
	AssigneeTotals(ctx context.Context, since time.Time) ([]repository.AssigneeTotal, error)
	RecentActivities(ctx context.Context, assignedTo string, limit int) ([]models.GrievanceActivity, error)
}

type grievanceMutator interface {
	Update(ctx context.Context, id string, req dto.UpdateGrievanceRequest, actor *models.JWTClaims) (*models.Grievance, error)
	AddAdminCommunication(ctx context.Context, id string, req dto.AdminCommunicationRequest, actor *models.JWTClaims) (*models.GrievanceCommunication, error)
	Get(ctx context.Context, id string) (*models.GrievanceDetail, error)
}

// DashboardServiceConfig tunes dashboard behaviour.
type DashboardServiceConfig struct {
	CacheTTL          time.Duration
	RecentActivityMax int
}

// DashboardService builds assignee dashboards and system analytics over grievances.
type DashboardService struct {
	store     grievanceAnalyticsStore
	grievance grievanceMutator
	users     userLookup
	cache     *CacheService
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
	cfg       DashboardServiceConfig
}

// DashboardServiceParams groups constructor dependencies.
type DashboardServiceParams struct {
	Store     grievanceAnalyticsStore
	Grievance grievanceMutator
	Users     userLookup
	Cache     *CacheService
	Validator *validator.Validate
	Logger    *zap.Logger
	Config    DashboardServiceConfig
}

// NewDashboardService constructs a DashboardService with sane defaults.
func NewDashboardService(params DashboardServiceParams) *DashboardService {
	cfg := params.Config
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 2 * time.Minute
	}
	if cfg.RecentActivityMax <= 0 {
		cfg.RecentActivityMax = 10
	}
	logger := params.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	validate := params.Validator
	if validate == nil {
		validate = validator.New()
	}
	return &DashboardService{
		store:     params.Store,
		grievance: params.Grievance,
		users:     params.Users,
		cache:     params.Cache,
		validator: validate,
		logger:    logger,
		now:       time.Now,
		cfg:       cfg,
	}
}

// Dashboard returns the workload view of one assignee and whether it came from cache.
func (s *DashboardService) Dashboard(ctx context.Context, adminID, window string, actor *models.JWTClaims) (*dto.AssigneeDashboard, bool, error) {
	adminID, err := resolveDashboardOwner(adminID, actor)
	if err != nil {
		return nil, false, err
	}
	window, since, err := s.window(window)
	if err != nil {
		return nil, false, err
	}

	key := fmt.Sprintf("%sdash:%s:%s", cachePrefixGrievances, adminID, window)
	result, hit, err := cached(ctx, s.cache, key, s.cfg.CacheTTL, func(ctx context.Context) (*dto.AssigneeDashboard, error) {
		return s.composeDashboard(ctx, adminID, window, since)
	})
	return result, hit, err
}

// SystemAnalytics aggregates every grievance in the window.
func (s *DashboardService) SystemAnalytics(ctx context.Context, window string) (*dto.SystemAnalytics, bool, error) {
	window, since, err := s.window(window)
	if err != nil {
		return nil, false, err
	}

	key := fmt.Sprintf("%sanalytics:%s", cachePrefixGrievances, window)
	return cached(ctx, s.cache, key, s.cfg.CacheTTL, func(ctx context.Context) (*dto.SystemAnalytics, error) {
		return s.composeAnalytics(ctx, window, since)
	})
}

// Act applies one assignee dashboard action by delegating to the grievance lifecycle.
func (s *DashboardService) Act(ctx context.Context, req dto.AssigneeActionRequest, actor *models.JWTClaims) (*dto.AssigneeActionResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Validation(err)
	}

	resp := &dto.AssigneeActionResponse{Action: req.Action}
	var update dto.UpdateGrievanceRequest
	switch req.Action {
	case dto.ActionStartProgress:
		status := models.GrievanceStatusInProgress
		update.Status = &status
	case dto.ActionResolve:
		status := models.GrievanceStatusResolved
		update.Status = &status
		if resolution := strings.TrimSpace(req.Resolution); resolution != "" {
			update.Resolution = &resolution
		}
	case dto.ActionUpdatePriority:
		if req.Priority == "" {
			return nil, appErrors.Clone(appErrors.ErrValidation, "priority is required")
		}
		priority := req.Priority
		update.Priority = &priority
	case dto.ActionSetDeadline:
		if req.Deadline == nil {
			return nil, appErrors.Clone(appErrors.ErrValidation, "deadline is required")
		}
		update.ExpectedResolutionDate = req.Deadline
	case dto.ActionAddNote:
		if strings.TrimSpace(req.Note) == "" {
			return nil, appErrors.Clone(appErrors.ErrValidation, "note is required")
		}
		note, err := s.grievance.AddAdminCommunication(ctx, req.GrievanceID, dto.AdminCommunicationRequest{
			Message:           req.Note,
			CommunicationType: models.CommunicationNote,
			IsInternal:        true,
		}, actor)
		if err != nil {
			return nil, err
		}
		detail, err := s.grievance.Get(ctx, req.GrievanceID)
		if err != nil {
			return nil, err
		}
		resp.Note = note
		resp.Grievance = &detail.Grievance
		return resp, nil
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown action")
	}

	grievance, err := s.grievance.Update(ctx, req.GrievanceID, update, actor)
	if err != nil {
		return nil, err
	}
	resp.Grievance = grievance
	return resp, nil
}

func (s *DashboardService) window(window string) (string, time.Time, error) {
	window = strings.ToLower(strings.TrimSpace(window))
	if window == "" {
		window = RangeMonth
	}
	since, ok := RangeStart(s.now().UTC(), window)
	if !ok {
		return "", time.Time{}, appErrors.Clone(appErrors.ErrValidation, "range must be one of today, week, month, quarter")
	}
	return window, since, nil
}

func (s *DashboardService) composeDashboard(ctx context.Context, adminID, window string, since time.Time) (*dto.AssigneeDashboard, error) {
	now := s.now().UTC()
	grievances, err := s.store.ListSince(ctx, adminID, since)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load assignee grievances")
	}

	dashboard := &dto.AssigneeDashboard{
		AdminID:     adminID,
		Window:      window,
		From:        since,
		To:          now,
		Aggregates:  aggregateGrievances(grievances, since, now),
		GeneratedAt: now,
	}

	totals, err := s.store.AssigneeTotals(ctx, since)
	if err != nil {
		s.logger.Warn("assignee totals unavailable", zap.Error(err))
	}
	var others []int
	for _, t := range totals {
		if t.AssignedTo != adminID {
			others = append(others, t.Total)
		}
	}
	own := len(grievances)
	avg, pct := workloadPercentile(own, others)
	dashboard.Workload = dto.WorkloadStat{Total: own, OthersAverage: avg, Percentile: pct}

	recent, err := s.store.RecentActivities(ctx, adminID, s.cfg.RecentActivityMax)
	if err != nil {
		s.logger.Warn("recent grievance activity unavailable", zap.String("admin_id", adminID), zap.Error(err))
	}
	if recent == nil {
		recent = []models.GrievanceActivity{}
	}
	dashboard.RecentActivity = recent

	return dashboard, nil
}

func (s *DashboardService) composeAnalytics(ctx context.Context, window string, since time.Time) (*dto.SystemAnalytics, error) {
	now := s.now().UTC()
	grievances, err := s.store.ListSince(ctx, "", since)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load grievances")
	}

	analytics := &dto.SystemAnalytics{
		Window:      window,
		From:        since,
		To:          now,
		Aggregates:  aggregateGrievances(grievances, since, now),
		Assignees:   []dto.AssigneeLoad{},
		GeneratedAt: now,
	}

	totals, err := s.store.AssigneeTotals(ctx, since)
	if err != nil {
		s.logger.Warn("assignee totals unavailable", zap.Error(err))
	}
	for _, t := range totals {
		load := dto.AssigneeLoad{AdminID: t.AssignedTo, Total: t.Total}
		if s.users != nil {
			if user, err := s.users.FindByID(ctx, t.AssignedTo); err == nil {
				load.Name = &user.FullName
			} else {
				s.logger.Warn("assignee name lookup failed", zap.String("admin_id", t.AssignedTo), zap.Error(err))
			}
		}
		analytics.Assignees = append(analytics.Assignees, load)
	}
	return analytics, nil
}

// aggregateGrievances derives every dashboard metric from an already loaded set.
func aggregateGrievances(grievances []models.Grievance, from, now time.Time) dto.GrievanceAggregates {
	agg := dto.GrievanceAggregates{
		Total:        len(grievances),
		StatusCounts: map[string]int{},
		Priorities:   map[string]int{},
		Categories:   map[string]int{},
	}
	for _, status := range []models.GrievanceStatus{
		models.GrievanceStatusOpen, models.GrievanceStatusInProgress, models.GrievanceStatusResolved,
		models.GrievanceStatusClosed, models.GrievanceStatusEscalated, models.GrievanceStatusOnHold,
		models.GrievanceStatusPendingApproval,
	} {
		agg.StatusCounts[string(status)] = 0
	}

	keys := dayKeys(from, now)
	index := make(map[string]int, len(keys))
	agg.Trend = make([]dto.TrendPoint, len(keys))
	for i, key := range keys {
		index[key] = i
		agg.Trend[i] = dto.TrendPoint{Date: key}
	}

	var resolvedHours float64
	resolvedCount := 0
	for _, g := range grievances {
		agg.StatusCounts[string(g.Status)]++
		agg.Priorities[string(g.Priority)]++
		agg.Categories[g.Category]++

		switch g.Priority {
		case models.GrievancePriorityUrgent:
			agg.Urgent++
		case models.GrievancePriorityHigh:
			agg.HighPriority++
		}
		if g.ExpectedResolutionDate != nil && g.ExpectedResolutionDate.Before(now) && g.Status != models.GrievanceStatusResolved {
			agg.Overdue++
		}

		if i, ok := index[g.CreatedAt.UTC().Format("2006-01-02")]; ok {
			agg.Trend[i].Created++
			if g.Status != models.GrievanceStatusResolved && g.Status != models.GrievanceStatusClosed {
				agg.Trend[i].Pending++
			}
		}
		if g.ResolvedAt != nil {
			resolvedHours += g.ResolvedAt.Sub(g.CreatedAt).Hours()
			resolvedCount++
			if i, ok := index[g.ResolvedAt.UTC().Format("2006-01-02")]; ok {
				agg.Trend[i].Resolved++
			}
		}
	}
	if resolvedCount > 0 {
		avg := round2(resolvedHours / float64(resolvedCount))
		agg.AverageResponseHours = &avg
	}
	return agg
}

// resolveDashboardOwner defaults to the caller; only elevated callers may view another assignee.
func resolveDashboardOwner(adminID string, actor *models.JWTClaims) (string, error) {
	if actor == nil {
		return "", appErrors.Clone(appErrors.ErrUnauthorized, "authentication required")
	}
	adminID = strings.TrimSpace(adminID)
	if adminID == "" {
		return actor.UserID, nil
	}
	if adminID != actor.UserID && !actor.Role.Elevated() {
		return "", appErrors.Clone(appErrors.ErrForbidden, "cannot view another assignee's dashboard")
	}
	return adminID, nil
}
