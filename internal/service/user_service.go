package service

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/transport-admin-api/internal/dto"
	"github.com/noah-isme/transport-admin-api/internal/models"
	"github.com/noah-isme/transport-admin-api/internal/repository"
	appErrors "github.com/noah-isme/transport-admin-api/pkg/errors"
)

const (
	assigneeCacheKey   = "grievance:assignees"
	assigneeLoadWindow = 30 * 24 * time.Hour
)

type userDirectory interface {
	ListByRoles(ctx context.Context, roles ...models.UserRole) ([]models.User, error)
}

type assigneeLoadSource interface {
	AssigneeTotals(ctx context.Context, since time.Time) ([]repository.AssigneeTotal, error)
}

// UserService answers directory questions about staff accounts.
type UserService struct {
	users  userDirectory
	loads  assigneeLoadSource
	cache  *CacheService
	ttl    time.Duration
	logger *zap.Logger
	now    func() time.Time
}

// NewUserService creates an instance of UserService. loads may be nil.
func NewUserService(users userDirectory, loads assigneeLoadSource, cache *CacheService, ttl time.Duration, logger *zap.Logger) *UserService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &UserService{users: users, loads: loads, cache: cache, ttl: ttl, logger: logger, now: time.Now}
}

// Assignees lists active admins who can own grievances, least loaded first.
func (s *UserService) Assignees(ctx context.Context) ([]dto.AssigneeOption, bool, error) {
	return cached(ctx, s.cache, assigneeCacheKey, s.ttl, s.loadAssignees)
}

func (s *UserService) loadAssignees(ctx context.Context) ([]dto.AssigneeOption, error) {
	users, err := s.users.ListByRoles(ctx, models.RoleAdmin, models.RoleSuperAdmin)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list assignees")
	}

	load := map[string]int{}
	if s.loads != nil {
		totals, err := s.loads.AssigneeTotals(ctx, s.now().UTC().Add(-assigneeLoadWindow))
		if err != nil {
			// picker stays usable without counts
			s.logger.Warn("assignee load lookup failed", zap.Error(err))
		}
		for _, t := range totals {
			load[t.AssignedTo] = t.Total
		}
	}

	options := make([]dto.AssigneeOption, 0, len(users))
	for _, u := range users {
		options = append(options, dto.AssigneeOption{
			ID:         u.ID,
			FullName:   u.FullName,
			Email:      u.Email,
			Role:       u.Role,
			RecentLoad: load[u.ID],
		})
	}
	sort.SliceStable(options, func(i, j int) bool {
		return options[i].RecentLoad < options[j].RecentLoad
	})
	return options, nil
}
