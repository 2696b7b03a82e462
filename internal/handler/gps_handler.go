package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/transport-admin-api/internal/dto"
	"github.com/noah-isme/transport-admin-api/internal/gps"
	"github.com/noah-isme/transport-admin-api/internal/middleware"
	"github.com/noah-isme/transport-admin-api/internal/models"
	appErrors "github.com/noah-isme/transport-admin-api/pkg/errors"
	"github.com/noah-isme/transport-admin-api/pkg/response"
)

type gpsService interface {
	Probe(ctx context.Context) (*gps.ProbeResult, error)
	Sync(ctx context.Context, actor *models.JWTClaims) (*dto.SyncResult, error)
	ListDevices(ctx context.Context) ([]dto.GPSDeviceResponse, error)
	GetDevice(ctx context.Context, id string) (*dto.GPSDeviceResponse, error)
	LiveLocations(ctx context.Context) ([]dto.LiveLocation, bool, error)
	RecordManual(ctx context.Context, id string, req dto.ManualLocationRequest, actor *models.JWTClaims) (*dto.GPSDeviceResponse, error)
	RequestSMSPoll(ctx context.Context, id string, actor *models.JWTClaims) (*dto.SMSPollResponse, error)
}

type liveStream interface {
	ServeWS(w http.ResponseWriter, r *http.Request)
}

// GPSHandler exposes device tracking endpoints.
type GPSHandler struct {
	service gpsService
	stream  liveStream
}

// NewGPSHandler constructs the handler. stream may be nil when realtime push is disabled.
func NewGPSHandler(svc gpsService, stream liveStream) *GPSHandler {
	return &GPSHandler{service: svc, stream: stream}
}

// VendorSync godoc
// @Summary Probe or sync the GPS vendor
// @Tags GPS
// @Accept json
// @Produce json
// @Param payload body dto.VendorSyncRequest true "action: test or sync"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 502 {object} response.Envelope
// @Failure 503 {object} response.Envelope
// @Router /admin/gps/mercyda-sync [post]
func (h *GPSHandler) VendorSync(c *gin.Context) {
	var req dto.VendorSyncRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, invalidPayload(err, "invalid sync payload"))
		return
	}

	action := strings.ToLower(strings.TrimSpace(req.Action))
	result := dto.VendorSyncResponse{Action: action}
	switch action {
	case "test":
		probe, err := h.service.Probe(c.Request.Context())
		if err != nil {
			response.Error(c, err)
			return
		}
		result.Probe = probe
	case "sync":
		sync, err := h.service.Sync(c.Request.Context(), claimsFromContext(c))
		if err != nil {
			response.Error(c, err)
			return
		}
		result.Sync = sync
	default:
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "action must be test or sync"))
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Devices godoc
// @Summary List GPS devices
// @Tags GPS
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /admin/gps/devices [get]
func (h *GPSHandler) Devices(c *gin.Context) {
	devices, err := h.service.ListDevices(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, devices, nil)
}

// Device godoc
// @Summary Get GPS device
// @Tags GPS
// @Produce json
// @Param id path string true "Device ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /admin/gps/devices/{id} [get]
func (h *GPSHandler) Device(c *gin.Context) {
	device, err := h.service.GetDevice(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, device, nil)
}

// RecordLocation godoc
// @Summary Record a manual position
// @Tags GPS
// @Accept json
// @Produce json
// @Param id path string true "Device ID"
// @Param payload body dto.ManualLocationRequest true "Position"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /admin/gps/devices/{id}/location [put]
func (h *GPSHandler) RecordLocation(c *gin.Context) {
	var req dto.ManualLocationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, invalidPayload(err, "invalid location payload"))
		return
	}

	device, err := h.service.RecordManual(c.Request.Context(), c.Param("id"), req, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, device, nil)
}

// SMSPoll godoc
// @Summary Queue an SMS location poll
// @Tags GPS
// @Produce json
// @Param id path string true "Device ID"
// @Success 202 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 503 {object} response.Envelope
// @Router /admin/gps/devices/{id}/sms-poll [post]
func (h *GPSHandler) SMSPoll(c *gin.Context) {
	ack, err := h.service.RequestSMSPoll(c.Request.Context(), c.Param("id"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Accepted(c, ack)
}

// Live godoc
// @Summary Latest position of every active device
// @Tags GPS
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /admin/gps/live [get]
func (h *GPSHandler) Live(c *gin.Context) {
	locations, cacheHit, err := h.service.LiveLocations(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetCacheHit(c, cacheHit)
	response.JSON(c, http.StatusOK, locations, nil, middleware.ExtractMeta(c))
}

// LiveStream upgrades to a websocket that receives location pushes.
func (h *GPSHandler) LiveStream(c *gin.Context) {
	if h.stream == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrConfiguration, "live stream disabled"))
		return
	}
	h.stream.ServeWS(c.Writer, c.Request)
}
