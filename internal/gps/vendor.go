package gps

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Vendor auth schemes in probe order.
const (
	AuthJSON  = "json"
	AuthForm  = "form"
	AuthBasic = "basic"
	AuthQuery = "query"
)

var defaultAuthOrder = []string{AuthJSON, AuthForm, AuthBasic, AuthQuery}

var (
	vendorIDKeys      = []string{"id", "vehicle_id", "imei", "device_id"}
	vehicleNumberKeys = []string{"vehicle_no", "vehicle_number", "registration", "name"}
	latitudeKeys      = []string{"latitude", "lat", "location.lat", "location.latitude"}
	longitudeKeys     = []string{"longitude", "lng", "lon", "location.lng", "location.lon", "location.longitude"}
	speedKeys         = []string{"speed", "spd", "velocity"}
	headingKeys       = []string{"heading", "course", "direction", "angle"}
	accuracyKeys      = []string{"accuracy", "hdop"}
	timestampKeys     = []string{"timestamp", "time", "gps_time", "last_update"}
	listWrapperKeys   = []string{"data", "vehicles", "result"}
	tokenKeys         = []string{"token", "access_token", "accessToken", "data.token", "data.access_token", "session_id"}
)

// VendorConfig configures the vendor fleet API client.
type VendorConfig struct {
	BaseURL    string
	Username   string
	Password   string
	AuthFormat string
	LoginPaths []string
	ListPath   string
	Timeout    time.Duration
}

// VendorAuth is the scheme and endpoint that last authenticated successfully.
type VendorAuth struct {
	Scheme    string `json:"scheme"`
	LoginPath string `json:"login_path"`
	Token     string `json:"-"`
}

// VendorSource pulls fleet positions from the tracker vendor's HTTP API.
type VendorSource struct {
	cfg    VendorConfig
	client *http.Client

	mu   sync.RWMutex
	auth *VendorAuth
}

// NewVendorSource builds a vendor client. A nil client gets one with the configured timeout and a cookie jar.
func NewVendorSource(cfg VendorConfig, client *http.Client) *VendorSource {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.ListPath == "" {
		cfg.ListPath = "/api/vehicles"
	}
	if len(cfg.LoginPaths) == 0 {
		cfg.LoginPaths = []string{"/api/login"}
	}
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		jar, _ := cookiejar.New(nil)
		client = &http.Client{Timeout: timeout, Jar: jar}
	}
	return &VendorSource{cfg: cfg, client: client}
}

// Name implements LocationSource.
func (v *VendorSource) Name() string { return "vendor" }

// Configured reports whether base URL and credentials are present.
func (v *VendorSource) Configured() bool {
	return v.cfg.BaseURL != "" && v.cfg.Username != "" && v.cfg.Password != ""
}

// Remembered returns the auth configuration found by the last successful probe.
func (v *VendorSource) Remembered() *VendorAuth {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.auth == nil {
		return nil
	}
	copied := *v.auth
	return &copied
}

func (v *VendorSource) remember(auth *VendorAuth) {
	v.mu.Lock()
	v.auth = auth
	v.mu.Unlock()
}

func (v *VendorSource) authOrder() []string {
	preferred := strings.ToLower(strings.TrimSpace(v.cfg.AuthFormat))
	if preferred == "" {
		return defaultAuthOrder
	}
	order := []string{preferred}
	for _, scheme := range defaultAuthOrder {
		if scheme != preferred {
			order = append(order, scheme)
		}
	}
	return order
}

// Probe walks login endpoints and auth schemes until one is accepted. The winner is remembered so
// later fetches do not re-probe.
func (v *VendorSource) Probe(ctx context.Context) (ProbeResult, error) {
	result := ProbeResult{Source: v.Name(), Attempts: []ProbeAttempt{}}
	if !v.Configured() {
		result.Message = "vendor base URL or credentials missing"
		return result, ErrNotConfigured
	}

	var lastTransportErr error
	for _, path := range v.cfg.LoginPaths {
		for _, scheme := range v.authOrder() {
			attempt := ProbeAttempt{Scheme: scheme, Endpoint: path}
			auth, status, err := v.login(ctx, path, scheme)
			attempt.StatusCode = status
			if err != nil {
				attempt.Error = err.Error()
				result.Attempts = append(result.Attempts, attempt)
				if errors.Is(err, ErrUnavailable) {
					lastTransportErr = err
				}
				if ctx.Err() != nil {
					result.Message = "probe cancelled"
					return result, ctx.Err()
				}
				continue
			}
			result.Attempts = append(result.Attempts, attempt)
			v.remember(auth)
			result.OK = true
			result.Scheme = scheme
			result.Endpoint = path
			result.Message = fmt.Sprintf("authenticated with %s auth at %s", scheme, path)
			return result, nil
		}
	}

	v.remember(nil)
	result.Message = "all authentication schemes were rejected"
	if lastTransportErr != nil && allTransportFailures(result.Attempts) {
		return result, lastTransportErr
	}
	return result, ErrAuthFailed
}

func allTransportFailures(attempts []ProbeAttempt) bool {
	for _, a := range attempts {
		if a.StatusCode != 0 {
			return false
		}
	}
	return true
}

func (v *VendorSource) login(ctx context.Context, path, scheme string) (*VendorAuth, int, error) {
	endpoint := v.cfg.BaseURL + path
	var (
		req *http.Request
		err error
	)

	switch scheme {
	case AuthJSON:
		body, _ := json.Marshal(map[string]string{"username": v.cfg.Username, "password": v.cfg.Password})
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err == nil {
			req.Header.Set("Content-Type", "application/json")
		}
	case AuthForm:
		form := url.Values{"username": {v.cfg.Username}, "password": {v.cfg.Password}}
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
		if err == nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	case AuthBasic:
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
		if err == nil {
			req.SetBasicAuth(v.cfg.Username, v.cfg.Password)
		}
	case AuthQuery:
		query := url.Values{"username": {v.cfg.Username}, "password": {v.cfg.Password}}
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+query.Encode(), nil)
	default:
		return nil, 0, fmt.Errorf("unknown auth scheme %q", scheme)
	}
	if err != nil {
		return nil, 0, fmt.Errorf("build login request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := v.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, resp.StatusCode, fmt.Errorf("login rejected with status %d", resp.StatusCode)
	}

	auth := &VendorAuth{Scheme: scheme, LoginPath: path}
	var decoded map[string]interface{}
	if err := json.Unmarshal(payload, &decoded); err == nil {
		if success, ok := decoded["success"].(bool); ok && !success {
			return nil, resp.StatusCode, errors.New("login response reported failure")
		}
		if token, ok := firstString(decoded, tokenKeys); ok {
			auth.Token = token
		}
	}
	return auth, resp.StatusCode, nil
}

// FetchLocations returns every vehicle the vendor reports. Targets are ignored because the vendor
// returns the whole fleet in one call.
func (v *VendorSource) FetchLocations(ctx context.Context, _ []Target) ([]Fix, error) {
	if !v.Configured() {
		return nil, ErrNotConfigured
	}
	auth := v.Remembered()
	if auth == nil {
		if _, err := v.Probe(ctx); err != nil {
			return nil, err
		}
		auth = v.Remembered()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.cfg.BaseURL+v.cfg.ListPath, nil)
	if err != nil {
		return nil, fmt.Errorf("build vehicle list request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	applyAuth(req, auth, v.cfg.Username, v.cfg.Password)

	resp, err := v.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		v.remember(nil)
		return nil, fmt.Errorf("%w: vehicle list returned %d", ErrAuthFailed, resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: vehicle list returned %d", ErrUnavailable, resp.StatusCode)
	}

	var decoded interface{}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("%w: decode vehicle list: %v", ErrUnavailable, err)
	}

	records := unwrapList(decoded)
	now := time.Now().UTC()
	fixes := make([]Fix, 0, len(records))
	for _, record := range records {
		fixes = append(fixes, mapVendorRecord(record, now))
	}
	return fixes, nil
}

func applyAuth(req *http.Request, auth *VendorAuth, username, password string) {
	if auth == nil {
		return
	}
	if auth.Token != "" {
		req.Header.Set("Authorization", "Bearer "+auth.Token)
		return
	}
	switch auth.Scheme {
	case AuthBasic:
		req.SetBasicAuth(username, password)
	case AuthQuery:
		query := req.URL.Query()
		query.Set("username", username)
		query.Set("password", password)
		req.URL.RawQuery = query.Encode()
	}
}

func unwrapList(decoded interface{}) []map[string]interface{} {
	switch typed := decoded.(type) {
	case []interface{}:
		records := make([]map[string]interface{}, 0, len(typed))
		for _, item := range typed {
			if record, ok := item.(map[string]interface{}); ok {
				records = append(records, record)
			}
		}
		return records
	case map[string]interface{}:
		for _, key := range listWrapperKeys {
			if inner, ok := typed[key]; ok {
				if records := unwrapList(inner); len(records) > 0 {
					return records
				}
			}
		}
	}
	return nil
}

func mapVendorRecord(record map[string]interface{}, now time.Time) Fix {
	fix := Fix{}
	if id, ok := firstString(record, vendorIDKeys); ok {
		fix.VendorID = id
	}
	if number, ok := firstString(record, vehicleNumberKeys); ok {
		fix.VehicleNumber = number
	}

	lat, hasLat := firstFloat(record, latitudeKeys)
	lon, hasLon := firstFloat(record, longitudeKeys)
	speed, _ := firstFloat(record, speedKeys)
	heading, _ := firstFloat(record, headingKeys)

	fix.Reading = Reading{
		Latitude:  lat,
		Longitude: lon,
		Speed:     speed,
		Heading:   heading,
		Timestamp: now,
	}
	if accuracy, ok := firstFloat(record, accuracyKeys); ok {
		fix.Reading.Accuracy = &accuracy
	}
	if raw, ok := firstValue(record, timestampKeys); ok {
		if ts, ok := parseTimestamp(raw); ok {
			fix.Reading.Timestamp = ts
		}
	}

	fix.HasFix = hasLat && hasLon && validateCoordinates(lat, lon) == nil && !(lat == 0 && lon == 0)
	return fix
}

func lookup(record map[string]interface{}, path string) (interface{}, bool) {
	var current interface{} = record
	for _, part := range strings.Split(path, ".") {
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok || current == nil {
			return nil, false
		}
	}
	return current, true
}

func firstValue(record map[string]interface{}, keys []string) (interface{}, bool) {
	for _, key := range keys {
		if value, ok := lookup(record, key); ok {
			return value, true
		}
	}
	return nil, false
}

func firstString(record map[string]interface{}, keys []string) (string, bool) {
	for _, key := range keys {
		value, ok := lookup(record, key)
		if !ok {
			continue
		}
		switch typed := value.(type) {
		case string:
			if strings.TrimSpace(typed) != "" {
				return strings.TrimSpace(typed), true
			}
		case float64:
			return strconv.FormatFloat(typed, 'f', -1, 64), true
		}
	}
	return "", false
}

func firstFloat(record map[string]interface{}, keys []string) (float64, bool) {
	for _, key := range keys {
		value, ok := lookup(record, key)
		if !ok {
			continue
		}
		switch typed := value.(type) {
		case float64:
			return typed, true
		case string:
			if f, err := strconv.ParseFloat(strings.TrimSpace(typed), 64); err == nil {
				return f, true
			}
		}
	}
	return 0, false
}

var timestampLayouts = []string{time.RFC3339Nano, "2006-01-02 15:04:05", "2006-01-02T15:04:05", "02/01/2006 15:04:05"}

func parseTimestamp(raw interface{}) (time.Time, bool) {
	switch typed := raw.(type) {
	case float64:
		return epochTime(int64(typed)), typed > 0
	case string:
		trimmed := strings.TrimSpace(typed)
		if n, err := strconv.ParseInt(trimmed, 10, 64); err == nil && n > 0 {
			return epochTime(n), true
		}
		for _, layout := range timestampLayouts {
			if ts, err := time.Parse(layout, trimmed); err == nil {
				return ts.UTC(), true
			}
		}
	}
	return time.Time{}, false
}

func epochTime(n int64) time.Time {
	if n > 1e12 {
		return time.UnixMilli(n).UTC()
	}
	return time.Unix(n, 0).UTC()
}
