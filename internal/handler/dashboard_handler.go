package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/transport-admin-api/internal/dto"
	"github.com/noah-isme/transport-admin-api/internal/middleware"
	"github.com/noah-isme/transport-admin-api/internal/models"
	appErrors "github.com/noah-isme/transport-admin-api/pkg/errors"
	"github.com/noah-isme/transport-admin-api/pkg/response"
)

type dashboardService interface {
	Dashboard(ctx context.Context, adminID, window string, actor *models.JWTClaims) (*dto.AssigneeDashboard, bool, error)
	SystemAnalytics(ctx context.Context, window string) (*dto.SystemAnalytics, bool, error)
	Act(ctx context.Context, req dto.AssigneeActionRequest, actor *models.JWTClaims) (*dto.AssigneeActionResponse, error)
}

// DashboardHandler wires grievance analytics to HTTP endpoints.
type DashboardHandler struct {
	service dashboardService
}

// NewDashboardHandler constructs the handler.
func NewDashboardHandler(service dashboardService) *DashboardHandler {
	return &DashboardHandler{service: service}
}

// Analytics godoc
// @Summary System-wide grievance analytics
// @Tags Dashboard
// @Produce json
// @Param range query string false "today|week|month|quarter (default month)"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /admin/grievances/analytics [get]
func (h *DashboardHandler) Analytics(c *gin.Context) {
	start := time.Now()
	analytics, cacheHit, err := h.service.SystemAnalytics(c.Request.Context(), c.Query("range"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, analytics, nil, timedMeta(c, cacheHit, start))
}

// AssigneeDashboard godoc
// @Summary Assignee workload dashboard
// @Description Defaults to the caller; SUPERADMIN may pass admin_id
// @Tags Dashboard
// @Produce json
// @Param admin_id query string false "Assignee ID"
// @Param range query string false "today|week|month|quarter (default month)"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /admin/grievances/assignee-dashboard [get]
func (h *DashboardHandler) AssigneeDashboard(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	start := time.Now()
	dashboard, cacheHit, err := h.service.Dashboard(c.Request.Context(), c.Query("admin_id"), c.Query("range"), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dashboard, nil, timedMeta(c, cacheHit, start))
}

// AssigneeAction godoc
// @Summary Apply an assignee dashboard action
// @Tags Dashboard
// @Accept json
// @Produce json
// @Param payload body dto.AssigneeActionRequest true "Action"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /admin/grievances/assignee-dashboard [put]
func (h *DashboardHandler) AssigneeAction(c *gin.Context) {
	var req dto.AssigneeActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, invalidPayload(err, "invalid action payload"))
		return
	}

	result, err := h.service.Act(c.Request.Context(), req, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

func timedMeta(c *gin.Context, cacheHit bool, start time.Time) map[string]interface{} {
	middleware.SetCacheHit(c, cacheHit)
	meta := middleware.ExtractMeta(c)
	meta["processing_time_ms"] = time.Since(start).Milliseconds()
	return meta
}
