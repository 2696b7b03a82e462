package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/transport-admin-api/internal/dto"
	"github.com/noah-isme/transport-admin-api/internal/middleware"
	"github.com/noah-isme/transport-admin-api/pkg/response"
)

type userService interface {
	Assignees(ctx context.Context) ([]dto.AssigneeOption, bool, error)
}

// UserHandler serves the staff directory.
type UserHandler struct {
	service userService
}

// NewUserHandler constructs the handler.
func NewUserHandler(svc userService) *UserHandler {
	return &UserHandler{service: svc}
}

// Assignees godoc
// @Summary List grievance assignees
// @Description Active admins with their grievance count over the last 30 days, least loaded first
// @Tags Users
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /admin/users/assignees [get]
func (h *UserHandler) Assignees(c *gin.Context) {
	options, cacheHit, err := h.service.Assignees(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetCacheHit(c, cacheHit)
	response.JSON(c, http.StatusOK, options, nil, middleware.ExtractMeta(c))
}
