package gps

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSMSGateway(t *testing.T, reject map[string]bool, reply string) (*httptest.Server, *[]string) {
	t.Helper()
	var sent []string
	mux := http.NewServeMux()
	mux.HandleFunc("/send", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		sent = append(sent, body["message"])
		if r.Header.Get("X-API-Key") != "key" || reject[body["message"]] {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]bool{"success": true})
	})
	mux.HandleFunc("/inbox", func(w http.ResponseWriter, r *http.Request) {
		if reply == "" {
			_ = json.NewEncoder(w).Encode(map[string]interface{}{"data": []interface{}{}})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"data": []interface{}{
			map[string]string{"message": "older", "from": r.URL.Query().Get("from")},
			map[string]string{"message": reply, "from": r.URL.Query().Get("from")},
		}})
	})
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server, &sent
}

func newTestSMS(url string) *SMSSource {
	source := NewSMSSource(SMSConfig{GatewayURL: url, APIKey: "key", ReplyWait: time.Minute}, nil)
	source.wait = func(ctx context.Context, d time.Duration) error { return ctx.Err() }
	return source
}

func TestSMSPollTriesCommandsInOrder(t *testing.T) {
	server, sent := newSMSGateway(t, map[string]bool{"WHERE#": true, "where#": true}, "Lat:13.0827,Lon:80.2707,Speed:0km/h")
	source := newTestSMS(server.URL)

	fix, err := source.Poll(context.Background(), Target{DeviceID: "d-1", SIMNumber: "+919800000001"})
	require.NoError(t, err)
	assert.Equal(t, []string{"WHERE#", "where#", "GPS#"}, *sent)
	assert.True(t, fix.HasFix)
	assert.InDelta(t, 13.0827, fix.Reading.Latitude, 1e-9)
	assert.Equal(t, "d-1", fix.DeviceID)
}

func TestSMSPollMissingSIMShortCircuits(t *testing.T) {
	server, sent := newSMSGateway(t, nil, "13.0,80.0")
	_, err := newTestSMS(server.URL).Poll(context.Background(), Target{DeviceID: "d-1"})
	assert.ErrorIs(t, err, ErrMissingSIM)
	assert.Empty(t, *sent)
}

func TestSMSPollUnparseableReply(t *testing.T) {
	server, _ := newSMSGateway(t, nil, "garbage")
	_, err := newTestSMS(server.URL).Poll(context.Background(), Target{SIMNumber: "+91"})
	assert.ErrorIs(t, err, ErrUnparseable)
	assert.True(t, IsNonFatal(err))
}

func TestSMSPollNoReply(t *testing.T) {
	server, _ := newSMSGateway(t, nil, "")
	_, err := newTestSMS(server.URL).Poll(context.Background(), Target{SIMNumber: "+91"})
	assert.ErrorIs(t, err, ErrNoReply)
}

func TestSMSPollAllCommandsRejected(t *testing.T) {
	reject := map[string]bool{}
	for _, c := range SMSCommands {
		reject[c] = true
	}
	server, sent := newSMSGateway(t, reject, "")
	_, err := newTestSMS(server.URL).Poll(context.Background(), Target{SIMNumber: "+91"})
	require.Error(t, err)
	assert.Len(t, *sent, len(SMSCommands))
}

func TestSMSWaitHonoursCancellation(t *testing.T) {
	server, _ := newSMSGateway(t, nil, "13.0,80.0")
	source := NewSMSSource(SMSConfig{GatewayURL: server.URL, APIKey: "key", ReplyWait: time.Hour}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := source.Poll(ctx, Target{SIMNumber: "+91"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSMSFetchLocationsRecordsPerTargetErrors(t *testing.T) {
	server, _ := newSMSGateway(t, nil, "13.0827,80.2707")
	fixes, err := newTestSMS(server.URL).FetchLocations(context.Background(), []Target{
		{DeviceID: "no-sim"},
		{DeviceID: "ok", SIMNumber: "+91"},
	})
	require.NoError(t, err)
	require.Len(t, fixes, 2)
	assert.ErrorIs(t, fixes[0].Err, ErrMissingSIM)
	assert.NoError(t, fixes[1].Err)
	assert.True(t, fixes[1].HasFix)
}

func TestPollBudgetCoversEverySendAndFetch(t *testing.T) {
	budget := PollBudget(45*time.Second, 15*time.Second)
	assert.Equal(t, 45*time.Second+6*15*time.Second, budget)
}

func TestSMSProbe(t *testing.T) {
	server, _ := newSMSGateway(t, nil, "")
	result, err := newTestSMS(server.URL).Probe(context.Background())
	require.NoError(t, err)
	assert.True(t, result.OK)

	_, err = NewSMSSource(SMSConfig{}, nil).Probe(context.Background())
	assert.ErrorIs(t, err, ErrNotConfigured)
}
