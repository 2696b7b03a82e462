package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/transport-admin-api/internal/dto"
	"github.com/noah-isme/transport-admin-api/internal/middleware"
	"github.com/noah-isme/transport-admin-api/internal/models"
	"github.com/noah-isme/transport-admin-api/pkg/response"
)

type grievanceService interface {
	Create(ctx context.Context, req dto.CreateGrievanceRequest, actor *models.JWTClaims) (*models.Grievance, error)
	Get(ctx context.Context, id string) (*models.GrievanceDetail, error)
	List(ctx context.Context, filter models.GrievanceFilter) ([]models.GrievanceDetail, *models.Pagination, error)
	Update(ctx context.Context, id string, req dto.UpdateGrievanceRequest, actor *models.JWTClaims) (*models.Grievance, error)
	Delete(ctx context.Context, id, reason string, actor *models.JWTClaims) (*models.Grievance, error)
	ListAssignments(ctx context.Context, id string) ([]models.GrievanceAssignment, error)
	AddAdminCommunication(ctx context.Context, id string, req dto.AdminCommunicationRequest, actor *models.JWTClaims) (*models.GrievanceCommunication, error)
	ListCommunications(ctx context.Context, id string, includeInternal bool, actor *models.JWTClaims) ([]models.GrievanceCommunication, error)
}

// GrievanceHandler exposes the admin grievance endpoints.
type GrievanceHandler struct {
	service grievanceService
}

// NewGrievanceHandler constructs the handler.
func NewGrievanceHandler(svc grievanceService) *GrievanceHandler {
	return &GrievanceHandler{service: svc}
}

// List godoc
// @Summary List grievances
// @Description Filtered, paginated grievance list with student and assignee names
// @Tags Grievances
// @Produce json
// @Param status query string false "Comma separated statuses"
// @Param category query string false "Category"
// @Param priority query string false "Priority"
// @Param assigned_to query string false "Assignee id or 'unassigned'"
// @Param student_id query string false "Student id"
// @Param search query string false "Matches subject and description"
// @Param tags query string false "Comma separated tags"
// @Param date_range query string false "today|week|month|quarter"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /admin/grievances [get]
func (h *GrievanceHandler) List(c *gin.Context) {
	filter, err := grievanceFilterFromQuery(c)
	if err != nil {
		response.Error(c, err)
		return
	}

	items, pagination, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, pagination, middleware.ExtractMeta(c))
}

// Create godoc
// @Summary Create grievance
// @Description Register a grievance on behalf of a student
// @Tags Grievances
// @Accept json
// @Produce json
// @Param payload body dto.CreateGrievanceRequest true "Grievance payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /admin/grievances [post]
func (h *GrievanceHandler) Create(c *gin.Context) {
	var req dto.CreateGrievanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, invalidPayload(err, "invalid grievance payload"))
		return
	}

	grievance, err := h.service.Create(c.Request.Context(), req, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, grievance)
}

// Get godoc
// @Summary Get grievance
// @Tags Grievances
// @Produce json
// @Param id path string true "Grievance ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /admin/grievances/{id} [get]
func (h *GrievanceHandler) Get(c *gin.Context) {
	grievance, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, grievance, nil)
}

// Update godoc
// @Summary Update grievance
// @Description Partial update covering status, assignment, escalation, tags and deadline
// @Tags Grievances
// @Accept json
// @Produce json
// @Param id path string true "Grievance ID"
// @Param payload body dto.UpdateGrievanceRequest true "Changes"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /admin/grievances/{id} [put]
func (h *GrievanceHandler) Update(c *gin.Context) {
	var req dto.UpdateGrievanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, invalidPayload(err, "invalid update payload"))
		return
	}

	grievance, err := h.service.Update(c.Request.Context(), c.Param("id"), req, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, grievance, nil)
}

// Delete godoc
// @Summary Close grievance
// @Description Soft delete: the grievance is closed with a reason and kept
// @Tags Grievances
// @Accept json
// @Produce json
// @Param id path string true "Grievance ID"
// @Param reason query string false "Closure reason"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /admin/grievances/{id} [delete]
func (h *GrievanceHandler) Delete(c *gin.Context) {
	reason := c.Query("reason")
	if reason == "" && c.Request.ContentLength > 0 {
		var body dto.DeleteGrievanceRequest
		if err := c.ShouldBindJSON(&body); err != nil {
			response.Error(c, invalidPayload(err, "invalid delete payload"))
			return
		}
		reason = body.Reason
	}

	grievance, err := h.service.Delete(c.Request.Context(), c.Param("id"), reason, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, grievance, nil)
}

// Assignments godoc
// @Summary Assignment history
// @Tags Grievances
// @Produce json
// @Param id path string true "Grievance ID"
// @Success 200 {object} response.Envelope
// @Router /admin/grievances/{id}/assignments [get]
func (h *GrievanceHandler) Assignments(c *gin.Context) {
	items, err := h.service.ListAssignments(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, nil)
}

// Communications godoc
// @Summary List communications
// @Tags Grievances
// @Produce json
// @Param id path string true "Grievance ID"
// @Param include_internal query bool false "Include internal notes"
// @Success 200 {object} response.Envelope
// @Router /admin/grievances/{id}/communications [get]
func (h *GrievanceHandler) Communications(c *gin.Context) {
	items, err := h.service.ListCommunications(c.Request.Context(), c.Param("id"), queryBool(c, "include_internal"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, nil)
}

// AddCommunication godoc
// @Summary Post admin message or internal note
// @Tags Grievances
// @Accept json
// @Produce json
// @Param id path string true "Grievance ID"
// @Param payload body dto.AdminCommunicationRequest true "Message"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /admin/grievances/{id}/communications [post]
func (h *GrievanceHandler) AddCommunication(c *gin.Context) {
	var req dto.AdminCommunicationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, invalidPayload(err, "invalid communication payload"))
		return
	}

	comm, err := h.service.AddAdminCommunication(c.Request.Context(), c.Param("id"), req, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, comm)
}

func grievanceFilterFromQuery(c *gin.Context) (models.GrievanceFilter, error) {
	filter := models.GrievanceFilter{
		Category:  c.Query("category"),
		Type:      c.Query("type"),
		Priority:  c.Query("priority"),
		Urgency:   c.Query("urgency"),
		StudentID: c.Query("student_id"),
		Search:    strings.TrimSpace(c.Query("search")),
		Tags:      queryList(c, "tags"),
		DateRange: strings.ToLower(c.Query("date_range")),
		Page:      queryInt(c, "page", 1),
		Limit:     queryInt(c, "limit", 20),
		SortBy:    c.Query("sort_by"),
		SortOrder: c.Query("sort_order"),
	}
	for _, status := range queryList(c, "status") {
		filter.Statuses = append(filter.Statuses, models.GrievanceStatus(status))
	}
	if assignee := c.Query("assigned_to"); assignee == "unassigned" {
		filter.Unassigned = true
	} else {
		filter.AssignedTo = assignee
	}

	from, err := queryTime(c, "from")
	if err != nil {
		return filter, err
	}
	to, err := queryTime(c, "to")
	if err != nil {
		return filter, err
	}
	filter.From, filter.To = from, to
	return filter, nil
}
