package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/transport-admin-api/internal/dto"
	"github.com/noah-isme/transport-admin-api/internal/models"
	appErrors "github.com/noah-isme/transport-admin-api/pkg/errors"
	"github.com/noah-isme/transport-admin-api/pkg/response"
)

type auditService interface {
	List(ctx context.Context, filter models.AuditFilter) ([]models.AuditLog, *models.Pagination, error)
	Cleanup(ctx context.Context, olderThanDays int, actorID string) (int64, time.Time, error)
	RetentionDays() int
}

// AuditHandler serves the audit trail.
type AuditHandler struct {
	service auditService
}

// NewAuditHandler constructs the handler.
func NewAuditHandler(svc auditService) *AuditHandler {
	return &AuditHandler{service: svc}
}

// List godoc
// @Summary List audit logs
// @Tags Audit
// @Produce json
// @Param user_id query string false "Actor"
// @Param action query string false "Action"
// @Param resource query string false "Resource"
// @Param severity query string false "info|warning|critical"
// @Param from query string false "From (RFC3339 or YYYY-MM-DD)"
// @Param to query string false "To (RFC3339 or YYYY-MM-DD)"
// @Param page query int false "Page"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /admin/audit-logs [get]
func (h *AuditHandler) List(c *gin.Context) {
	from, err := queryTime(c, "from")
	if err != nil {
		response.Error(c, err)
		return
	}
	to, err := queryTime(c, "to")
	if err != nil {
		response.Error(c, err)
		return
	}
	filter := models.AuditFilter{
		UserID:   c.Query("user_id"),
		Action:   strings.ToUpper(c.Query("action")),
		Resource: c.Query("resource"),
		Severity: strings.ToLower(c.Query("severity")),
		From:     from,
		To:       to,
		Page:     queryInt(c, "page", 1),
		PageSize: queryInt(c, "page_size", 50),
	}

	logs, pagination, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, logs, pagination)
}

// Cleanup godoc
// @Summary Purge old audit logs
// @Tags Audit
// @Produce json
// @Param older_than_days query int false "Retention window in days"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /admin/audit-logs [delete]
func (h *AuditHandler) Cleanup(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	days := queryInt(c, "older_than_days", 0)
	if days == 0 {
		days = h.service.RetentionDays()
	}

	deleted, cutoff, err := h.service.Cleanup(c.Request.Context(), days, claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.AuditCleanupResponse{Deleted: deleted, OlderThanDays: days, Cutoff: cutoff}, nil)
}
