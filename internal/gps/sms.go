package gps

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// SMSCommands are sent in order until the gateway accepts one.
var SMSCommands = []string{"WHERE#", "where#", "GPS#", "LOC#", "position"}

var replyTextKeys = []string{"message", "text", "body", "content"}

// SMSConfig configures the SMS gateway used to poll trackers.
type SMSConfig struct {
	GatewayURL string
	APIKey     string
	ReplyWait  time.Duration
	Timeout    time.Duration
}

// SMSSource polls trackers by texting their SIM and parsing the reply.
type SMSSource struct {
	cfg    SMSConfig
	client *http.Client
	wait   func(ctx context.Context, d time.Duration) error
}

// NewSMSSource builds an SMS poller.
func NewSMSSource(cfg SMSConfig, client *http.Client) *SMSSource {
	cfg.GatewayURL = strings.TrimRight(cfg.GatewayURL, "/")
	if cfg.ReplyWait <= 0 {
		cfg.ReplyWait = 45 * time.Second
	}
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &SMSSource{cfg: cfg, client: client, wait: sleepContext}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Name implements LocationSource.
func (s *SMSSource) Name() string { return "sms" }

// Configured reports whether a gateway URL is set.
func (s *SMSSource) Configured() bool { return s.cfg.GatewayURL != "" }

// Probe checks that the gateway answers.
func (s *SMSSource) Probe(ctx context.Context) (ProbeResult, error) {
	result := ProbeResult{Source: s.Name(), Attempts: []ProbeAttempt{}}
	if !s.Configured() {
		result.Message = "sms gateway not configured"
		return result, ErrNotConfigured
	}

	attempt := ProbeAttempt{Endpoint: "/status"}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.GatewayURL+"/status", nil)
	if err != nil {
		return result, fmt.Errorf("build status request: %w", err)
	}
	s.authorize(req)
	resp, err := s.client.Do(req)
	if err != nil {
		attempt.Error = err.Error()
		result.Attempts = append(result.Attempts, attempt)
		return result, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	resp.Body.Close()
	attempt.StatusCode = resp.StatusCode
	result.Attempts = append(result.Attempts, attempt)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		result.Message = fmt.Sprintf("gateway status %d", resp.StatusCode)
		return result, fmt.Errorf("%w: gateway status %d", ErrUnavailable, resp.StatusCode)
	}
	result.OK = true
	result.Endpoint = "/status"
	result.Message = "sms gateway reachable"
	return result, nil
}

// FetchLocations polls each target in turn. A failing target is reported on its Fix and does not stop the rest.
func (s *SMSSource) FetchLocations(ctx context.Context, targets []Target) ([]Fix, error) {
	if !s.Configured() {
		return nil, ErrNotConfigured
	}
	fixes := make([]Fix, 0, len(targets))
	for _, target := range targets {
		if ctx.Err() != nil {
			return fixes, ctx.Err()
		}
		fix, err := s.Poll(ctx, target)
		if err != nil {
			fix.Err = err
		}
		fixes = append(fixes, fix)
	}
	return fixes, nil
}

// PollBudget is the longest a Poll can take: every command send and the inbox fetch each bounded
// by httpTimeout, plus the reply wait.
func PollBudget(replyWait, httpTimeout time.Duration) time.Duration {
	return replyWait + time.Duration(len(SMSCommands)+1)*httpTimeout
}

// Poll texts one device and parses its reply.
func (s *SMSSource) Poll(ctx context.Context, target Target) (Fix, error) {
	fix := Fix{DeviceID: target.DeviceID, VehicleNumber: target.VehicleNumber}
	if strings.TrimSpace(target.SIMNumber) == "" {
		return fix, ErrMissingSIM
	}
	if !s.Configured() {
		return fix, ErrNotConfigured
	}

	sentAt := time.Now().UTC()
	var sendErr error
	sent := false
	for _, command := range SMSCommands {
		if err := s.send(ctx, target.SIMNumber, command); err != nil {
			sendErr = err
			if ctx.Err() != nil {
				return fix, ctx.Err()
			}
			continue
		}
		sent = true
		break
	}
	if !sent {
		return fix, fmt.Errorf("send location command: %w", sendErr)
	}

	if err := s.wait(ctx, s.cfg.ReplyWait); err != nil {
		return fix, err
	}

	reply, err := s.latestReply(ctx, target.SIMNumber, sentAt)
	if err != nil {
		return fix, err
	}

	reading, err := ParseSMSReply(reply)
	if err != nil {
		return fix, err
	}
	fix.Reading = reading
	fix.HasFix = true
	return fix, nil
}

func (s *SMSSource) authorize(req *http.Request) {
	if s.cfg.APIKey != "" {
		req.Header.Set("X-API-Key", s.cfg.APIKey)
	}
}

func (s *SMSSource) send(ctx context.Context, to, message string) error {
	body, _ := json.Marshal(map[string]string{"to": to, "message": message})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.GatewayURL+"/send", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build send request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	s.authorize(req)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("gateway rejected %q with status %d", message, resp.StatusCode)
	}
	var decoded map[string]interface{}
	payload, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if json.Unmarshal(payload, &decoded) == nil {
		if success, ok := decoded["success"].(bool); ok && !success {
			return fmt.Errorf("gateway rejected %q", message)
		}
	}
	return nil
}

func (s *SMSSource) latestReply(ctx context.Context, from string, since time.Time) (string, error) {
	query := url.Values{"from": {from}, "since": {since.Format(time.RFC3339)}}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.GatewayURL+"/inbox?"+query.Encode(), nil)
	if err != nil {
		return "", fmt.Errorf("build inbox request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	s.authorize(req)

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("%w: inbox status %d", ErrUnavailable, resp.StatusCode)
	}

	var decoded interface{}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("%w: decode inbox: %v", ErrUnavailable, err)
	}
	messages := unwrapList(decoded)
	for i := len(messages) - 1; i >= 0; i-- {
		if text, ok := firstString(messages[i], replyTextKeys); ok {
			return text, nil
		}
	}
	return "", ErrNoReply
}

// IsNonFatal reports whether err should degrade a device to "no location data" instead of failing a batch.
func IsNonFatal(err error) bool {
	return errors.Is(err, ErrUnparseable) || errors.Is(err, ErrNoReply) || errors.Is(err, ErrMissingSIM)
}
