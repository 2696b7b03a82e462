package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/transport-admin-api/internal/dto"
	"github.com/noah-isme/transport-admin-api/internal/models"
	"github.com/noah-isme/transport-admin-api/pkg/response"
)

type trackingService interface {
	StudentTracking(ctx context.Context, actor *models.JWTClaims, grievanceID string) (*dto.StudentTrackingResponse, error)
	StudentSubmit(ctx context.Context, actor *models.JWTClaims, req dto.StudentSubmissionRequest) (*dto.StudentSubmissionResponse, error)
}

// TrackingHandler serves the student side of the grievance conversation.
type TrackingHandler struct {
	service trackingService
}

// NewTrackingHandler constructs the handler.
func NewTrackingHandler(svc trackingService) *TrackingHandler {
	return &TrackingHandler{service: svc}
}

// Track godoc
// @Summary Track own grievances
// @Description Lists the caller's grievances, or one with its public messages and timeline
// @Tags Student
// @Produce json
// @Param grievance_id query string false "Grievance ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /student/grievances/tracking [get]
func (h *TrackingHandler) Track(c *gin.Context) {
	result, err := h.service.StudentTracking(c.Request.Context(), claimsFromContext(c), c.Query("grievance_id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Submit godoc
// @Summary Send feedback, information or a rating
// @Tags Student
// @Accept json
// @Produce json
// @Param payload body dto.StudentSubmissionRequest true "Submission"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /student/grievances/tracking [post]
func (h *TrackingHandler) Submit(c *gin.Context) {
	var req dto.StudentSubmissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, invalidPayload(err, "invalid submission payload"))
		return
	}

	result, err := h.service.StudentSubmit(c.Request.Context(), claimsFromContext(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, result)
}
