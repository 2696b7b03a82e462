package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/transport-admin-api/internal/dto"
	"github.com/noah-isme/transport-admin-api/internal/gps"
	"github.com/noah-isme/transport-admin-api/internal/models"
	appErrors "github.com/noah-isme/transport-admin-api/pkg/errors"
	"github.com/noah-isme/transport-admin-api/pkg/jobs"
)

type gpsStoreStub struct {
	mu        sync.Mutex
	devices   map[string]*models.GPSDevice
	updates   []models.LocationUpdate
	failFor   map[string]error
	listCalls int
}

func newGPSStoreStub(devices ...models.GPSDevice) *gpsStoreStub {
	stub := &gpsStoreStub{devices: map[string]*models.GPSDevice{}, failFor: map[string]error{}}
	for i := range devices {
		d := devices[i]
		stub.devices[d.ID] = &d
	}
	return stub
}

func (s *gpsStoreStub) List(_ context.Context, activeOnly bool) ([]models.GPSDevice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listCalls++
	out := []models.GPSDevice{}
	for _, d := range s.devices {
		if activeOnly && !d.IsActive {
			continue
		}
		out = append(out, *d)
	}
	return out, nil
}

func (s *gpsStoreStub) FindByID(_ context.Context, id string) (*models.GPSDevice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.devices[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	clone := *d
	return &clone, nil
}

func (s *gpsStoreStub) UpdateLocation(_ context.Context, update models.LocationUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failFor[update.DeviceID]; err != nil {
		return err
	}
	d, ok := s.devices[update.DeviceID]
	if !ok {
		return sql.ErrNoRows
	}
	s.updates = append(s.updates, update)
	lat, lng, at, src := update.Latitude, update.Longitude, update.RecordedAt, update.Source
	d.Latitude, d.Longitude, d.LastGPSUpdate, d.LocationSource = &lat, &lng, &at, &src
	return nil
}

type fakeVendor struct {
	fixes    []gps.Fix
	err      error
	probe    gps.ProbeResult
	probeErr error
}

func (f *fakeVendor) Name() string { return "vendor" }
func (f *fakeVendor) Probe(context.Context) (gps.ProbeResult, error) {
	return f.probe, f.probeErr
}
func (f *fakeVendor) FetchLocations(context.Context, []gps.Target) ([]gps.Fix, error) {
	return f.fixes, f.err
}

type fakeSMS struct {
	fix gps.Fix
	err error
}

func (f *fakeSMS) Configured() bool { return true }
func (f *fakeSMS) Poll(context.Context, gps.Target) (gps.Fix, error) {
	return f.fix, f.err
}

type recordingHub struct {
	mu       sync.Mutex
	messages []dto.LiveLocation
}

func (h *recordingHub) Broadcast(_ string, payload interface{}) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = append(h.messages, payload.(dto.LiveLocation))
	return true
}

type fakeQueue struct {
	jobs []jobs.Job
	err  error
}

func (q *fakeQueue) Enqueue(job jobs.Job) error {
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, job)
	return nil
}

var gpsNow = time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)

func newTestGPSService(store *gpsStoreStub, vendor gps.LocationSource, sms smsPoller, hub *recordingHub, cache *CacheService, audit *recordedAudit) *GPSService {
	params := GPSServiceParams{Store: store, Vendor: vendor, SMS: sms, Cache: cache, Config: GPSServiceConfig{SyncWorkers: 2}}
	if hub != nil {
		params.Hub = hub
	}
	if audit != nil {
		params.Audit = audit
	}
	svc := NewGPSService(params)
	svc.now = func() time.Time { return gpsNow }
	return svc
}

func bus(id, vendorID, plate string) models.GPSDevice {
	return models.GPSDevice{ID: id, DeviceName: "Bus " + id, VendorID: strPtr(vendorID), VehicleNumber: strPtr(plate), IsActive: true}
}

func TestGPSSyncMatchesAndReportsUnmatched(t *testing.T) {
	store := newGPSStoreStub(bus("d1", "V-1", "KA 01 AB 1234"), bus("d2", "", "KA01CD9999"), bus("d3", "V-3", "X"))
	vendor := &fakeVendor{fixes: []gps.Fix{
		{VendorID: "V-1", HasFix: true, Reading: gps.Reading{Latitude: 12.9, Longitude: 77.5, Timestamp: gpsNow.Add(-time.Minute)}},
		{VehicleNumber: "ka01cd9999", HasFix: true, Reading: gps.Reading{Latitude: 13, Longitude: 77, Timestamp: gpsNow}},
		{VendorID: "V-3", HasFix: false},
		{VendorID: "ghost", VehicleNumber: "ZZ"},
	}}
	hub := &recordingHub{}
	audit := &recordedAudit{}
	svc := newTestGPSService(store, vendor, nil, hub, nil, audit)

	result, err := svc.Sync(context.Background(), &models.JWTClaims{UserID: "admin-1"})
	require.NoError(t, err)
	assert.Equal(t, 4, result.Received)
	assert.Equal(t, 2, result.Updated)
	assert.Equal(t, []string{"d3"}, result.NoFix)
	assert.Equal(t, []string{"ghost (ZZ)"}, result.Unmatched)
	assert.Empty(t, result.Failures)
	assert.Len(t, hub.messages, 2)
	for _, u := range store.updates {
		assert.Equal(t, models.LocationSourceVendor, u.Source)
	}
	require.Len(t, audit.entries, 1)
	assert.Equal(t, models.AuditActionGPSSync, audit.entries[0].Action)
}

func TestGPSSyncIsolatesDeviceFailures(t *testing.T) {
	store := newGPSStoreStub(bus("d1", "V-1", "A"), bus("d2", "V-2", "B"))
	store.failFor["d2"] = errors.New("deadlock")
	vendor := &fakeVendor{fixes: []gps.Fix{
		{VendorID: "V-1", HasFix: true, Reading: gps.Reading{Latitude: 1, Longitude: 1, Timestamp: gpsNow}},
		{VendorID: "V-2", HasFix: true, Reading: gps.Reading{Latitude: 2, Longitude: 2, Timestamp: gpsNow}},
	}}
	svc := newTestGPSService(store, vendor, nil, nil, nil, nil)

	result, err := svc.Sync(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Updated)
	require.Len(t, result.Failures, 1)
	assert.Equal(t, "d2", result.Failures[0].Reference)
}

func TestGPSSyncKeepsNewestDuplicate(t *testing.T) {
	store := newGPSStoreStub(bus("d1", "V-1", "A"))
	vendor := &fakeVendor{fixes: []gps.Fix{
		{VendorID: "V-1", HasFix: true, Reading: gps.Reading{Latitude: 5, Longitude: 5, Timestamp: gpsNow}},
		{VehicleNumber: "a", HasFix: true, Reading: gps.Reading{Latitude: 1, Longitude: 1, Timestamp: gpsNow.Add(-time.Hour)}},
	}}
	svc := newTestGPSService(store, vendor, nil, nil, nil, nil)

	result, err := svc.Sync(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Updated)
	require.Len(t, store.updates, 1)
	assert.Equal(t, 5.0, store.updates[0].Latitude)
}

func TestGPSSyncVendorErrors(t *testing.T) {
	svc := newTestGPSService(newGPSStoreStub(), &fakeVendor{err: gps.ErrNotConfigured}, nil, nil, nil, nil)
	_, err := svc.Sync(context.Background(), nil)
	assert.Equal(t, http.StatusServiceUnavailable, appErrors.FromError(err).Status)

	svc = newTestGPSService(newGPSStoreStub(), &fakeVendor{err: gps.ErrAuthFailed}, nil, nil, nil, nil)
	_, err = svc.Sync(context.Background(), nil)
	assert.Equal(t, http.StatusBadGateway, appErrors.FromError(err).Status)
}

func TestGPSProbeReportsFailureAsResult(t *testing.T) {
	vendor := &fakeVendor{probe: gps.ProbeResult{Source: "vendor"}, probeErr: gps.ErrAuthFailed}
	svc := newTestGPSService(newGPSStoreStub(), vendor, nil, nil, nil, nil)

	result, err := svc.Probe(context.Background())
	require.NoError(t, err)
	assert.False(t, result.OK)
	assert.NotEmpty(t, result.Message)

	vendor.probeErr = gps.ErrNotConfigured
	_, err = svc.Probe(context.Background())
	assert.Equal(t, appErrors.ErrConfiguration.Code, appErrors.FromError(err).Code)
}

func TestGPSRecordManual(t *testing.T) {
	store := newGPSStoreStub(bus("d1", "V-1", "A"))
	hub := &recordingHub{}
	svc := newTestGPSService(store, nil, nil, hub, nil, nil)

	lat, lng := 12.97, 77.59
	resp, err := svc.RecordManual(context.Background(), "d1", dto.ManualLocationRequest{Latitude: &lat, Longitude: &lng}, &models.JWTClaims{UserID: "admin"})
	require.NoError(t, err)
	assert.Equal(t, gps.StateOnline, resp.Staleness.State)
	require.Len(t, store.updates, 1)
	assert.Equal(t, models.LocationSourceManual, store.updates[0].Source)
	assert.Len(t, hub.messages, 1)

	bad := 120.0
	_, err = svc.RecordManual(context.Background(), "d1", dto.ManualLocationRequest{Latitude: &bad, Longitude: &lng}, nil)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)

	_, err = svc.RecordManual(context.Background(), "missing", dto.ManualLocationRequest{Latitude: &lat, Longitude: &lng}, nil)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestGPSLiveLocationsCachesRowsNotStaleness(t *testing.T) {
	last := gpsNow.Add(-3 * time.Minute)
	device := bus("d1", "V-1", "A")
	device.LastGPSUpdate = &last
	store := newGPSStoreStub(device)
	cache := NewCacheService(newMemoryCache(), nil, time.Minute, nil, true)
	svc := newTestGPSService(store, nil, nil, nil, cache, nil)

	live, hit, err := svc.LiveLocations(context.Background())
	require.NoError(t, err)
	assert.False(t, hit)
	require.Len(t, live, 1)
	assert.Equal(t, gps.StateRecent, live[0].Staleness.State)

	svc.now = func() time.Time { return gpsNow.Add(10 * time.Minute) }
	live, hit, err = svc.LiveLocations(context.Background())
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, gps.StateOffline, live[0].Staleness.State)
	assert.Equal(t, 1, store.listCalls)
}

func TestGPSRequestSMSPoll(t *testing.T) {
	withSIM := bus("d1", "", "A")
	withSIM.SIMNumber = strPtr("+911234567890")
	store := newGPSStoreStub(withSIM, bus("d2", "", "B"))
	queue := &fakeQueue{}
	svc := newTestGPSService(store, nil, &fakeSMS{}, nil, nil, nil)
	svc.AttachQueue(queue)

	resp, err := svc.RequestSMSPoll(context.Background(), "d1", &models.JWTClaims{UserID: "admin"})
	require.NoError(t, err)
	assert.Equal(t, "queued", resp.Status)
	require.Len(t, queue.jobs, 1)
	assert.Equal(t, JobTypeSMSPoll, queue.jobs[0].Type)
	assert.Equal(t, "d1", queue.jobs[0].Key)

	_, err = svc.RequestSMSPoll(context.Background(), "d2", nil)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)

	queue.err = jobs.ErrFull
	_, err = svc.RequestSMSPoll(context.Background(), "d1", nil)
	assert.Equal(t, http.StatusServiceUnavailable, appErrors.FromError(err).Status)

	queue.err = fmt.Errorf("gps-sms-poll: %w", jobs.ErrDuplicate)
	_, err = svc.RequestSMSPoll(context.Background(), "d1", nil)
	assert.Equal(t, http.StatusConflict, appErrors.FromError(err).Status)
}

func TestGPSHandleSMSPollJob(t *testing.T) {
	store := newGPSStoreStub(bus("d1", "", "A"))
	sms := &fakeSMS{fix: gps.Fix{HasFix: true, Reading: gps.Reading{Latitude: 10, Longitude: 20, Timestamp: gpsNow}}}
	svc := newTestGPSService(store, nil, sms, nil, nil, nil)
	job := jobs.Job{ID: "j1", Type: JobTypeSMSPoll, Payload: SMSPollJob{DeviceID: "d1"}}

	require.NoError(t, svc.HandleSMSPollJob(context.Background(), job))
	require.Len(t, store.updates, 1)
	assert.Equal(t, models.LocationSourceSMS, store.updates[0].Source)

	sms.err = gps.ErrUnparseable
	assert.NoError(t, svc.HandleSMSPollJob(context.Background(), job))
	assert.Len(t, store.updates, 1)

	sms.err = gps.ErrUnavailable
	assert.ErrorIs(t, svc.HandleSMSPollJob(context.Background(), job), gps.ErrUnavailable)
}
