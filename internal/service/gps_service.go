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
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/transport-admin-api/internal/dto"
	"github.com/noah-isme/transport-admin-api/internal/gps"
	"github.com/noah-isme/transport-admin-api/internal/models"
	appErrors "github.com/noah-isme/transport-admin-api/pkg/errors"
	"github.com/noah-isme/transport-admin-api/pkg/jobs"
)

// JobTypeSMSPoll identifies queued SMS location polls.
const JobTypeSMSPoll = "gps.sms_poll"

// Realtime message type pushed for every location write.
const MessageLocation = "location"

type gpsStore interface {
	List(ctx context.Context, activeOnly bool) ([]models.GPSDevice, error)
	FindByID(ctx context.Context, id string) (*models.GPSDevice, error)
	UpdateLocation(ctx context.Context, update models.LocationUpdate) error
}

type smsPoller interface {
	Configured() bool
	Poll(ctx context.Context, target gps.Target) (gps.Fix, error)
}

type locationBroadcaster interface {
	Broadcast(msgType string, payload interface{}) bool
}

type jobEnqueuer interface {
	Enqueue(job jobs.Job) error
}

// SMSPollJob is the payload of a queued SMS poll.
type SMSPollJob struct {
	DeviceID string `json:"device_id"`
	ActorID  string `json:"actor_id,omitempty"`
}

// GPSServiceConfig tunes sync and live feed behaviour.
type GPSServiceConfig struct {
	SyncWorkers  int
	LiveCacheTTL time.Duration
}

// GPSServiceParams groups constructor dependencies.
type GPSServiceParams struct {
	Store     gpsStore
	Vendor    gps.LocationSource
	SMS       smsPoller
	Hub       locationBroadcaster
	Cache     *CacheService
	Metrics   *MetricsService
	Audit     auditRecorder
	Validator *validator.Validate
	Logger    *zap.Logger
	Config    GPSServiceConfig
}

// GPSService ingests locations from every source into the canonical device rows.
type GPSService struct {
	store     gpsStore
	vendor    gps.LocationSource
	sms       smsPoller
	hub       locationBroadcaster
	queue     jobEnqueuer
	cache     *CacheService
	metrics   *MetricsService
	audit     auditRecorder
	validator *validator.Validate
	logger    *zap.Logger
	cfg       GPSServiceConfig
	now       func() time.Time
}

// NewGPSService constructs the GPS ingestion service.
func NewGPSService(params GPSServiceParams) *GPSService {
	cfg := params.Config
	if cfg.SyncWorkers <= 0 {
		cfg.SyncWorkers = 4
	}
	if cfg.LiveCacheTTL <= 0 {
		cfg.LiveCacheTTL = 5 * time.Second
	}
	logger := params.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	validate := params.Validator
	if validate == nil {
		validate = validator.New()
	}
	return &GPSService{
		store:     params.Store,
		vendor:    params.Vendor,
		sms:       params.SMS,
		hub:       params.Hub,
		cache:     params.Cache,
		metrics:   params.Metrics,
		audit:     params.Audit,
		validator: validate,
		logger:    logger,
		cfg:       cfg,
		now:       time.Now,
	}
}

// AttachQueue sets the queue used for SMS polls. The queue handler is HandleSMSPollJob, so the two
// are created after one another.
func (s *GPSService) AttachQueue(queue jobEnqueuer) {
	s.queue = queue
}

// Probe tests vendor connectivity. Rejected credentials or an unreachable vendor come back as a
// failed result, not an error.
func (s *GPSService) Probe(ctx context.Context) (*gps.ProbeResult, error) {
	if s.vendor == nil {
		return nil, appErrors.Clone(appErrors.ErrConfiguration, "gps vendor is not configured")
	}
	result, err := s.vendor.Probe(ctx)
	if err != nil {
		if errors.Is(err, gps.ErrNotConfigured) {
			return nil, appErrors.Clone(appErrors.ErrConfiguration, "gps vendor credentials are missing")
		}
		s.logger.Warn("gps vendor probe failed", zap.String("message", result.Message), zap.Error(err))
		if result.Message == "" {
			result.Message = err.Error()
		}
	}
	return &result, nil
}

// Sync pulls the vendor fleet and writes every matched fix. One failing device never aborts the batch.
func (s *GPSService) Sync(ctx context.Context, actor *models.JWTClaims) (*dto.SyncResult, error) {
	if s.vendor == nil {
		return nil, appErrors.Clone(appErrors.ErrConfiguration, "gps vendor is not configured")
	}
	started := s.now().UTC()
	result := &dto.SyncResult{
		Source:    s.vendor.Name(),
		Unmatched: []string{},
		NoFix:     []string{},
		Failures:  []dto.SyncFailure{},
		StartedAt: started,
	}

	devices, err := s.store.List(ctx, true)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load gps devices")
	}
	index := newDeviceIndex(devices)

	fixes, err := s.vendor.FetchLocations(ctx, index.targets())
	if err != nil {
		s.metrics.RecordGPSSync(result.Source, "failed", 0, time.Since(started))
		if errors.Is(err, gps.ErrNotConfigured) {
			return nil, appErrors.Clone(appErrors.ErrConfiguration, "gps vendor credentials are missing")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrExternalService.Code, appErrors.ErrExternalService.Status, "gps vendor sync failed")
	}
	result.Received = len(fixes)

	latest := make(map[string]gps.Fix)
	order := make([]string, 0, len(fixes))
	for _, fix := range fixes {
		device, ok := index.match(fix)
		if !ok {
			result.Unmatched = append(result.Unmatched, fixReference(fix))
			continue
		}
		if !fix.HasFix {
			result.NoFix = append(result.NoFix, device.ID)
			continue
		}
		prev, seen := latest[device.ID]
		if !seen {
			order = append(order, device.ID)
		}
		if !seen || !fix.Reading.Timestamp.Before(prev.Reading.Timestamp) {
			latest[device.ID] = fix
		}
	}

	var mu sync.Mutex
	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(s.cfg.SyncWorkers)
	for _, deviceID := range order {
		device := index.byID[deviceID]
		fix := latest[deviceID]
		group.Go(func() error {
			err := s.apply(gctx, device, fix.Reading, models.LocationSourceVendor)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Failures = append(result.Failures, dto.SyncFailure{Reference: device.ID, Error: err.Error()})
				return nil
			}
			result.Updated++
			return nil
		})
	}
	_ = group.Wait()

	result.FinishedAt = s.now().UTC()
	outcome := "success"
	if len(result.Failures) > 0 {
		outcome = "partial"
	}
	s.metrics.RecordGPSSync(result.Source, outcome, result.Updated, result.FinishedAt.Sub(started))
	s.invalidateLive(ctx)
	s.record(ctx, AuditEntry{
		UserID:    claimsUserID(actor),
		Action:    models.AuditActionGPSSync,
		Resource:  "gps_devices",
		NewValues: map[string]interface{}{"received": result.Received, "updated": result.Updated, "unmatched": len(result.Unmatched), "failures": len(result.Failures)},
		Failed:    result.Updated == 0 && len(result.Failures) > 0,
	})

	return result, nil
}

// ListDevices returns every device with read-time staleness.
func (s *GPSService) ListDevices(ctx context.Context) ([]dto.GPSDeviceResponse, error) {
	devices, err := s.store.List(ctx, false)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list gps devices")
	}
	now := s.now().UTC()
	out := make([]dto.GPSDeviceResponse, 0, len(devices))
	for _, device := range devices {
		out = append(out, dto.GPSDeviceResponse{GPSDevice: device, Staleness: gps.Classify(now, device.LastGPSUpdate)})
	}
	return out, nil
}

// GetDevice returns one device with read-time staleness.
func (s *GPSService) GetDevice(ctx context.Context, id string) (*dto.GPSDeviceResponse, error) {
	device, err := s.loadDevice(ctx, id)
	if err != nil {
		return nil, err
	}
	return &dto.GPSDeviceResponse{GPSDevice: *device, Staleness: gps.Classify(s.now().UTC(), device.LastGPSUpdate)}, nil
}

// LiveLocations serves the map view. Device rows are cached briefly to coalesce polling clients;
// staleness is always computed after the cache.
func (s *GPSService) LiveLocations(ctx context.Context) ([]dto.LiveLocation, bool, error) {
	devices, hit, err := cached(ctx, s.cache, cacheKeyGPSLive, s.cfg.LiveCacheTTL, func(ctx context.Context) ([]models.GPSDevice, error) {
		return s.store.List(ctx, true)
	})
	if err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load live locations")
	}
	now := s.now().UTC()
	out := make([]dto.LiveLocation, 0, len(devices))
	for _, device := range devices {
		out = append(out, liveLocation(device, now))
	}
	return out, hit, nil
}

// RecordManual writes an operator-entered position.
func (s *GPSService) RecordManual(ctx context.Context, id string, req dto.ManualLocationRequest, actor *models.JWTClaims) (*dto.GPSDeviceResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Validation(err)
	}
	device, err := s.loadDevice(ctx, id)
	if err != nil {
		return nil, err
	}

	reading := gps.Reading{
		Latitude:  *req.Latitude,
		Longitude: *req.Longitude,
		Speed:     derefFloat(req.Speed),
		Heading:   derefFloat(req.Heading),
		Accuracy:  req.Accuracy,
		Timestamp: s.now().UTC(),
	}
	if req.RecordedAt != nil {
		reading.Timestamp = req.RecordedAt.UTC()
	}
	if err := gps.ValidateReading(reading); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid coordinates")
	}

	if err := s.apply(ctx, device, reading, models.LocationSourceManual); err != nil {
		return nil, err
	}
	s.invalidateLive(ctx)
	s.record(ctx, AuditEntry{UserID: claimsUserID(actor), Action: models.AuditActionUpdate, Resource: "gps_device", ResourceID: device.ID, NewValues: reading})

	return &dto.GPSDeviceResponse{GPSDevice: *device, Staleness: gps.Classify(s.now().UTC(), device.LastGPSUpdate)}, nil
}

// RequestSMSPoll queues an SMS poll of one device. The reply window is long, so the poll runs on the
// background queue.
func (s *GPSService) RequestSMSPoll(ctx context.Context, id string, actor *models.JWTClaims) (*dto.SMSPollResponse, error) {
	if s.sms == nil || !s.sms.Configured() {
		return nil, appErrors.Clone(appErrors.ErrConfiguration, "sms gateway is not configured")
	}
	if s.queue == nil {
		return nil, appErrors.Clone(appErrors.ErrConfiguration, "sms poll queue is not running")
	}
	device, err := s.loadDevice(ctx, id)
	if err != nil {
		return nil, err
	}
	if device.SIMNumber == nil || strings.TrimSpace(*device.SIMNumber) == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "device has no SIM number configured")
	}

	job := jobs.Job{
		ID:       uuid.NewString(),
		Type:     JobTypeSMSPoll,
		Key:      device.ID,
		Payload:  SMSPollJob{DeviceID: device.ID, ActorID: claimsUserID(actor)},
		Enqueued: s.now().UTC(),
	}
	if err := s.queue.Enqueue(job); err != nil {
		if errors.Is(err, jobs.ErrDuplicate) {
			return nil, appErrors.Wrap(err, appErrors.ErrConflict.Code, appErrors.ErrConflict.Status, "an sms poll for this device is already in progress")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrQueueUnavailable.Code, appErrors.ErrQueueUnavailable.Status, "sms poll queue is busy")
	}
	return &dto.SMSPollResponse{JobID: job.ID, DeviceID: device.ID, Status: "queued", QueuedAt: job.Enqueued}, nil
}

// HandleSMSPollJob is the queue handler for SMS polls. Unparseable or missing replies degrade to no
// location and are not retried.
func (s *GPSService) HandleSMSPollJob(ctx context.Context, job jobs.Job) error {
	payload, ok := job.Payload.(SMSPollJob)
	if !ok {
		return jobs.Permanent(fmt.Errorf("unexpected sms poll payload %T", job.Payload))
	}
	started := s.now()
	device, err := s.store.FindByID(ctx, payload.DeviceID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.logger.Warn("sms poll target vanished", zap.String("device_id", payload.DeviceID))
			return nil
		}
		return fmt.Errorf("load device: %w", err)
	}

	fix, err := s.sms.Poll(ctx, targetFor(*device))
	if err != nil {
		if gps.IsNonFatal(err) {
			s.logger.Warn("sms poll returned no location", zap.String("device_id", device.ID), zap.Error(err))
			s.metrics.RecordGPSSync("sms", "no_fix", 0, time.Since(started))
			return nil
		}
		s.metrics.RecordGPSSync("sms", "failed", 0, time.Since(started))
		return err
	}

	if err := s.apply(ctx, device, fix.Reading, models.LocationSourceSMS); err != nil {
		return err
	}
	s.metrics.RecordGPSSync("sms", "success", 1, time.Since(started))
	s.invalidateLive(ctx)
	return nil
}

// apply writes a reading onto the canonical row (last write wins) and pushes the new snapshot.
func (s *GPSService) apply(ctx context.Context, device *models.GPSDevice, reading gps.Reading, source string) error {
	update := models.LocationUpdate{
		DeviceID:   device.ID,
		Latitude:   reading.Latitude,
		Longitude:  reading.Longitude,
		Speed:      reading.Speed,
		Heading:    reading.Heading,
		Accuracy:   reading.Accuracy,
		Source:     source,
		RecordedAt: reading.Timestamp,
	}
	if err := s.store.UpdateLocation(ctx, update); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "gps device not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store location")
	}

	recorded := reading.Timestamp
	device.Latitude = &update.Latitude
	device.Longitude = &update.Longitude
	device.Speed = &update.Speed
	device.Heading = &update.Heading
	device.Accuracy = update.Accuracy
	device.LocationSource = &update.Source
	device.LastGPSUpdate = &recorded
	device.LastHeartbeat = &recorded

	if s.hub != nil {
		s.hub.Broadcast(MessageLocation, liveLocation(*device, s.now().UTC()))
	}
	return nil
}

func (s *GPSService) loadDevice(ctx context.Context, id string) (*models.GPSDevice, error) {
	device, err := s.store.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "gps device not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load gps device")
	}
	return device, nil
}

func (s *GPSService) invalidateLive(ctx context.Context) {
	_ = s.cache.Invalidate(ctx, cacheKeyGPSLive)
}

func (s *GPSService) record(ctx context.Context, entry AuditEntry) {
	if s.audit != nil {
		s.audit.Record(ctx, entry)
	}
}

// deviceIndex matches vendor records to devices by vendor id, IMEI or vehicle number.
type deviceIndex struct {
	byID      map[string]*models.GPSDevice
	byVendor  map[string]*models.GPSDevice
	byVehicle map[string]*models.GPSDevice
	devices   []models.GPSDevice
}

func newDeviceIndex(devices []models.GPSDevice) *deviceIndex {
	idx := &deviceIndex{
		byID:      make(map[string]*models.GPSDevice, len(devices)),
		byVendor:  make(map[string]*models.GPSDevice),
		byVehicle: make(map[string]*models.GPSDevice),
		devices:   devices,
	}
	for i := range devices {
		device := &devices[i]
		idx.byID[device.ID] = device
		if device.VendorID != nil && *device.VendorID != "" {
			idx.byVendor[*device.VendorID] = device
		}
		if device.IMEI != nil && *device.IMEI != "" {
			if _, taken := idx.byVendor[*device.IMEI]; !taken {
				idx.byVendor[*device.IMEI] = device
			}
		}
		if device.VehicleNumber != nil {
			if key := normalizePlate(*device.VehicleNumber); key != "" {
				idx.byVehicle[key] = device
			}
		}
	}
	return idx
}

func (idx *deviceIndex) match(fix gps.Fix) (*models.GPSDevice, bool) {
	if fix.VendorID != "" {
		if device, ok := idx.byVendor[fix.VendorID]; ok {
			return device, true
		}
	}
	if key := normalizePlate(fix.VehicleNumber); key != "" {
		if device, ok := idx.byVehicle[key]; ok {
			return device, true
		}
	}
	return nil, false
}

func (idx *deviceIndex) targets() []gps.Target {
	targets := make([]gps.Target, 0, len(idx.devices))
	for _, device := range idx.devices {
		targets = append(targets, targetFor(device))
	}
	return targets
}

func targetFor(device models.GPSDevice) gps.Target {
	return gps.Target{
		DeviceID:      device.ID,
		SIMNumber:     valueOrEmpty(device.SIMNumber),
		VendorID:      valueOrEmpty(device.VendorID),
		VehicleNumber: valueOrEmpty(device.VehicleNumber),
	}
}

func normalizePlate(raw string) string {
	return strings.ToUpper(strings.Join(strings.Fields(strings.ReplaceAll(raw, "-", " ")), ""))
}

func fixReference(fix gps.Fix) string {
	switch {
	case fix.VendorID != "" && fix.VehicleNumber != "":
		return fix.VendorID + " (" + fix.VehicleNumber + ")"
	case fix.VendorID != "":
		return fix.VendorID
	case fix.VehicleNumber != "":
		return fix.VehicleNumber
	}
	return "unidentified"
}

func liveLocation(device models.GPSDevice, now time.Time) dto.LiveLocation {
	return dto.LiveLocation{
		DeviceID:      device.ID,
		DeviceName:    device.DeviceName,
		VehicleNumber: device.VehicleNumber,
		Latitude:      device.Latitude,
		Longitude:     device.Longitude,
		Speed:         device.Speed,
		Heading:       device.Heading,
		Source:        device.LocationSource,
		LastGPSUpdate: device.LastGPSUpdate,
		Staleness:     gps.Classify(now, device.LastGPSUpdate),
	}
}

func derefFloat(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
