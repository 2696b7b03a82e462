package gps

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newVendorServer(t *testing.T, acceptScheme string, listBody interface{}) (*httptest.Server, *int32) {
	t.Helper()
	var logins int32
	mux := http.NewServeMux()
	mux.HandleFunc("/api/login", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&logins, 1)
		scheme := ""
		switch {
		case r.Header.Get("Content-Type") == "application/json":
			scheme = AuthJSON
		case r.Header.Get("Content-Type") == "application/x-www-form-urlencoded":
			scheme = AuthForm
		case r.Header.Get("Authorization") != "":
			scheme = AuthBasic
		case r.URL.Query().Get("username") != "":
			scheme = AuthQuery
		}
		if scheme != acceptScheme {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"success": true, "data": map[string]string{"token": "tok-123"}})
	})
	mux.HandleFunc("/api/vehicles", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok-123" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(listBody)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server, &logins
}

func newTestVendor(baseURL string) *VendorSource {
	return NewVendorSource(VendorConfig{
		BaseURL:    baseURL,
		Username:   "fleet",
		Password:   "secret",
		LoginPaths: []string{"/api/login"},
		ListPath:   "/api/vehicles",
		Timeout:    2 * time.Second,
	}, nil)
}

func TestVendorProbeFallsThroughSchemes(t *testing.T) {
	server, _ := newVendorServer(t, AuthBasic, []interface{}{})
	vendor := newTestVendor(server.URL)

	result, err := vendor.Probe(context.Background())
	require.NoError(t, err)
	assert.True(t, result.OK)
	assert.Equal(t, AuthBasic, result.Scheme)
	require.Len(t, result.Attempts, 3)
	assert.Equal(t, AuthJSON, result.Attempts[0].Scheme)
	assert.Equal(t, http.StatusUnauthorized, result.Attempts[0].StatusCode)
	assert.Equal(t, AuthForm, result.Attempts[1].Scheme)

	remembered := vendor.Remembered()
	require.NotNil(t, remembered)
	assert.Equal(t, AuthBasic, remembered.Scheme)
	assert.Equal(t, "tok-123", remembered.Token)
}

func TestVendorProbeAllRejected(t *testing.T) {
	server, _ := newVendorServer(t, "none", nil)
	vendor := newTestVendor(server.URL)

	result, err := vendor.Probe(context.Background())
	assert.ErrorIs(t, err, ErrAuthFailed)
	assert.False(t, result.OK)
	assert.Len(t, result.Attempts, 4)
	assert.Nil(t, vendor.Remembered())
}

func TestVendorProbeUnreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	_, err := newTestVendor(url).Probe(context.Background())
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestVendorProbeNotConfigured(t *testing.T) {
	_, err := NewVendorSource(VendorConfig{}, nil).Probe(context.Background())
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestVendorFetchLocationsMapsCandidateFields(t *testing.T) {
	list := map[string]interface{}{
		"data": []interface{}{
			map[string]interface{}{"id": "v-1", "vehicle_no": "TN01AB1234", "lat": 13.0827, "lng": 80.2707, "speed": 35.0, "course": 90.0, "gps_time": "2024-06-01 10:00:00"},
			map[string]interface{}{"imei": "3569", "registration": "KA05", "location": map[string]interface{}{"lat": "12.97", "lng": "77.59"}, "velocity": "12.5", "timestamp": 1717236000000.0},
			map[string]interface{}{"vehicle_id": 99.0, "name": "Spare bus"},
		},
	}
	server, logins := newVendorServer(t, AuthJSON, list)
	vendor := newTestVendor(server.URL)

	fixes, err := vendor.FetchLocations(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, fixes, 3)

	assert.Equal(t, "v-1", fixes[0].VendorID)
	assert.Equal(t, "TN01AB1234", fixes[0].VehicleNumber)
	assert.True(t, fixes[0].HasFix)
	assert.Equal(t, 35.0, fixes[0].Reading.Speed)
	assert.Equal(t, 90.0, fixes[0].Reading.Heading)
	assert.Equal(t, time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC), fixes[0].Reading.Timestamp)

	assert.Equal(t, "3569", fixes[1].VendorID)
	assert.Equal(t, "KA05", fixes[1].VehicleNumber)
	assert.InDelta(t, 12.97, fixes[1].Reading.Latitude, 1e-9)
	assert.Equal(t, 12.5, fixes[1].Reading.Speed)
	assert.Equal(t, time.UnixMilli(1717236000000).UTC(), fixes[1].Reading.Timestamp)

	assert.Equal(t, "99", fixes[2].VendorID)
	assert.False(t, fixes[2].HasFix)
	assert.Equal(t, 0.0, fixes[2].Reading.Latitude)
	assert.False(t, fixes[2].Reading.Timestamp.IsZero())

	_, err = vendor.FetchLocations(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(logins))
}

func TestVendorFetchLocationsTopLevelArray(t *testing.T) {
	server, _ := newVendorServer(t, AuthJSON, []interface{}{
		map[string]interface{}{"device_id": "d-9", "vehicle_number": "MH12", "latitude": 18.52, "longitude": 73.85},
	})
	fixes, err := newTestVendor(server.URL).FetchLocations(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, fixes, 1)
	assert.Equal(t, "d-9", fixes[0].VendorID)
	assert.True(t, fixes[0].HasFix)
}
