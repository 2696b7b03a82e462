package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/transport-admin-api/internal/dto"
	"github.com/noah-isme/transport-admin-api/internal/middleware"
	"github.com/noah-isme/transport-admin-api/internal/models"
	appErrors "github.com/noah-isme/transport-admin-api/pkg/errors"
)

type grievanceServiceMock struct {
	lastFilter      models.GrievanceFilter
	lastCreate      dto.CreateGrievanceRequest
	lastUpdate      dto.UpdateGrievanceRequest
	lastReason      string
	lastInternal    bool
	getErr          error
	items           []models.GrievanceDetail
	trackingActor   *models.JWTClaims
	trackingID      string
	submission      dto.StudentSubmissionRequest
	submissionError error
}

func (m *grievanceServiceMock) Create(_ context.Context, req dto.CreateGrievanceRequest, _ *models.JWTClaims) (*models.Grievance, error) {
	m.lastCreate = req
	return &models.Grievance{ID: "g-new", StudentID: req.StudentID}, nil
}

func (m *grievanceServiceMock) Get(_ context.Context, id string) (*models.GrievanceDetail, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	return &models.GrievanceDetail{Grievance: models.Grievance{ID: id}}, nil
}

func (m *grievanceServiceMock) List(_ context.Context, filter models.GrievanceFilter) ([]models.GrievanceDetail, *models.Pagination, error) {
	m.lastFilter = filter
	return m.items, &models.Pagination{Page: filter.Page, PageSize: filter.Limit, TotalCount: len(m.items)}, nil
}

func (m *grievanceServiceMock) Update(_ context.Context, id string, req dto.UpdateGrievanceRequest, _ *models.JWTClaims) (*models.Grievance, error) {
	m.lastUpdate = req
	return &models.Grievance{ID: id}, nil
}

func (m *grievanceServiceMock) Delete(_ context.Context, id, reason string, _ *models.JWTClaims) (*models.Grievance, error) {
	m.lastReason = reason
	return &models.Grievance{ID: id, Status: models.GrievanceStatusClosed}, nil
}

func (m *grievanceServiceMock) ListAssignments(context.Context, string) ([]models.GrievanceAssignment, error) {
	return []models.GrievanceAssignment{}, nil
}

func (m *grievanceServiceMock) AddAdminCommunication(_ context.Context, id string, req dto.AdminCommunicationRequest, actor *models.JWTClaims) (*models.GrievanceCommunication, error) {
	return &models.GrievanceCommunication{GrievanceID: id, SenderID: actor.UserID, Message: req.Message}, nil
}

func (m *grievanceServiceMock) ListCommunications(_ context.Context, _ string, includeInternal bool, _ *models.JWTClaims) ([]models.GrievanceCommunication, error) {
	m.lastInternal = includeInternal
	return []models.GrievanceCommunication{}, nil
}

func (m *grievanceServiceMock) StudentTracking(_ context.Context, actor *models.JWTClaims, grievanceID string) (*dto.StudentTrackingResponse, error) {
	m.trackingActor, m.trackingID = actor, grievanceID
	return &dto.StudentTrackingResponse{Grievances: []models.Grievance{}}, nil
}

func (m *grievanceServiceMock) StudentSubmit(_ context.Context, _ *models.JWTClaims, req dto.StudentSubmissionRequest) (*dto.StudentSubmissionResponse, error) {
	m.submission = req
	if m.submissionError != nil {
		return nil, m.submissionError
	}
	return &dto.StudentSubmissionResponse{RatingApplied: req.Rating != nil}, nil
}

func newGinContext(method, path string, body []byte) (*gin.Context, *httptest.ResponseRecorder) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	return c, w
}

var adminClaims = &models.JWTClaims{UserID: "adm-1", Role: models.RoleAdmin}

func TestGrievanceHandlerListParsesFilters(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mock := &grievanceServiceMock{items: []models.GrievanceDetail{{Grievance: models.Grievance{ID: "g-1"}}}}
	handler := NewGrievanceHandler(mock)

	c, rec := newGinContext(http.MethodGet, "/admin/grievances?status=open,escalated&assigned_to=unassigned&tags=bus&tags=late&page=2&limit=5&date_range=WEEK&search=%20brakes%20", nil)
	handler.List(c)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []models.GrievanceStatus{models.GrievanceStatusOpen, models.GrievanceStatusEscalated}, mock.lastFilter.Statuses)
	assert.True(t, mock.lastFilter.Unassigned)
	assert.Empty(t, mock.lastFilter.AssignedTo)
	assert.Equal(t, []string{"bus", "late"}, mock.lastFilter.Tags)
	assert.Equal(t, 2, mock.lastFilter.Page)
	assert.Equal(t, 5, mock.lastFilter.Limit)
	assert.Equal(t, "week", mock.lastFilter.DateRange)
	assert.Equal(t, "brakes", mock.lastFilter.Search)

	var envelope struct {
		Data       []map[string]interface{} `json:"data"`
		Pagination *models.Pagination       `json:"pagination"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	assert.Len(t, envelope.Data, 1)
	assert.Equal(t, 1, envelope.Pagination.TotalCount)
}

func TestGrievanceHandlerListRejectsBadDate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewGrievanceHandler(&grievanceServiceMock{})

	c, rec := newGinContext(http.MethodGet, "/admin/grievances?from=yesterday", nil)
	handler.List(c)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGrievanceHandlerCreate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mock := &grievanceServiceMock{}
	handler := NewGrievanceHandler(mock)

	body, _ := json.Marshal(dto.CreateGrievanceRequest{StudentID: "stu-1", Category: "safety", Subject: "Bus late", Description: "Twice this week"})
	c, rec := newGinContext(http.MethodPost, "/admin/grievances", body)
	c.Set(middleware.ContextUserKey, adminClaims)
	handler.Create(c)

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "stu-1", mock.lastCreate.StudentID)
	assert.Equal(t, "g-new", decodeEnvelope(t, rec).Data["id"])
}

func TestGrievanceHandlerGetNotFound(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewGrievanceHandler(&grievanceServiceMock{getErr: appErrors.Clone(appErrors.ErrNotFound, "grievance not found")})

	c, rec := newGinContext(http.MethodGet, "/admin/grievances/missing", nil)
	c.Params = gin.Params{{Key: "id", Value: "missing"}}
	handler.Get(c)

	require.Equal(t, http.StatusNotFound, rec.Code)
	envelope := decodeEnvelope(t, rec)
	require.NotNil(t, envelope.Error)
	assert.Equal(t, "grievance not found", envelope.Error.Message)
}

func TestGrievanceHandlerUpdate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mock := &grievanceServiceMock{}
	handler := NewGrievanceHandler(mock)

	c, rec := newGinContext(http.MethodPut, "/admin/grievances/g-1", []byte(`{"status":"resolved","resolution":"refunded"}`))
	c.Params = gin.Params{{Key: "id", Value: "g-1"}}
	c.Set(middleware.ContextUserKey, adminClaims)
	handler.Update(c)

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, mock.lastUpdate.Status)
	assert.Equal(t, models.GrievanceStatusResolved, *mock.lastUpdate.Status)
	assert.Equal(t, "refunded", *mock.lastUpdate.Resolution)
}

func TestGrievanceHandlerDeleteReason(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mock := &grievanceServiceMock{}
	handler := NewGrievanceHandler(mock)

	c, rec := newGinContext(http.MethodDelete, "/admin/grievances/g-1?reason=duplicate", nil)
	c.Params = gin.Params{{Key: "id", Value: "g-1"}}
	handler.Delete(c)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "duplicate", mock.lastReason)

	c, rec = newGinContext(http.MethodDelete, "/admin/grievances/g-1", []byte(`{"reason":"spam"}`))
	c.Params = gin.Params{{Key: "id", Value: "g-1"}}
	handler.Delete(c)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "spam", mock.lastReason)
}

func TestGrievanceHandlerCommunications(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mock := &grievanceServiceMock{}
	handler := NewGrievanceHandler(mock)

	c, rec := newGinContext(http.MethodGet, "/admin/grievances/g-1/communications?include_internal=true", nil)
	c.Params = gin.Params{{Key: "id", Value: "g-1"}}
	handler.Communications(c)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, mock.lastInternal)

	c, rec = newGinContext(http.MethodPost, "/admin/grievances/g-1/communications", []byte(`{"message":"Driver spoken to"}`))
	c.Params = gin.Params{{Key: "id", Value: "g-1"}}
	c.Set(middleware.ContextUserKey, adminClaims)
	handler.AddCommunication(c)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "adm-1", decodeEnvelope(t, rec).Data["sender_id"])
}

func TestTrackingHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mock := &grievanceServiceMock{}
	handler := NewTrackingHandler(mock)
	student := &models.JWTClaims{UserID: "u-9", Role: models.RoleStudent, StudentID: "stu-9"}

	c, rec := newGinContext(http.MethodGet, "/student/grievances/tracking?grievance_id=g-4", nil)
	c.Set(middleware.ContextUserKey, student)
	handler.Track(c)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "g-4", mock.trackingID)
	assert.Equal(t, "stu-9", mock.trackingActor.StudentID)

	c, rec = newGinContext(http.MethodPost, "/student/grievances/tracking", []byte(`{"grievance_id":"g-4","type":"satisfaction_rating","rating":5}`))
	c.Set(middleware.ContextUserKey, student)
	handler.Submit(c)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, true, decodeEnvelope(t, rec).Data["rating_applied"])
	assert.Equal(t, 5, *mock.submission.Rating)
}

func TestTrackingHandlerSubmitError(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewTrackingHandler(&grievanceServiceMock{submissionError: appErrors.ErrForbidden})

	c, rec := newGinContext(http.MethodPost, "/student/grievances/tracking", []byte(`{"grievance_id":"g-4","type":"feedback","message":"thanks"}`))
	handler.Submit(c)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}
