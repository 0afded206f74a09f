package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xerrors "NFTMarket-Harness/internal/errors"
)

type stubNotifier struct {
	channel Channel
	events  []Event
	err     error
}

func (s *stubNotifier) Channel() Channel { return s.channel }

func (s *stubNotifier) Notify(_ context.Context, event Event) error {
	s.events = append(s.events, event)
	return s.err
}

func sampleEvent() Event {
	return Event{
		Code:       "SCENARIO_FAILED",
		Message:    "scenario auction failed at accept bid",
		Severity:   xerrors.SeverityCritical,
		RunID:      "run-1",
		Scenario:   "auction",
		Network:    "sandbox",
		Attempts:   1,
		MaxRetries: 3,
		Metadata:   map[string]string{"stage": "terminal"},
		OccurredAt: time.Unix(1700000000, 0).UTC(),
	}
}

func TestFanoutJoinsChannelErrors(t *testing.T) {
	ok := &stubNotifier{channel: ChannelLog}
	bad := &stubNotifier{channel: ChannelWebhook, err: errors.New("down")}
	d := NewFanout(ok, nil, bad)
	require.Equal(t, 2, d.Len())

	err := d.Notify(context.Background(), sampleEvent())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "channel webhook: down")
	assert.Len(t, ok.events, 1)
	assert.Len(t, bad.events, 1)
}

func TestNilFanoutIsNoop(t *testing.T) {
	var d *FanoutDispatcher
	require.NoError(t, d.Notify(context.Background(), sampleEvent()))
}

func TestLogNotifierWritesRunContext(t *testing.T) {
	var buf bytes.Buffer
	n := &LogNotifier{Logger: slog.New(slog.NewJSONHandler(&buf, nil))}
	require.NoError(t, n.Notify(context.Background(), sampleEvent()))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "ERROR", line["level"])
	assert.Equal(t, "run-1", line["run_id"])
	assert.Equal(t, "auction", line["scenario"])
	assert.Equal(t, "terminal", line["meta.stage"])
}

func TestWebhookNotifierPostsEvent(t *testing.T) {
	var got Event
	var token string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token = r.Header.Get("X-Token")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL, map[string]string{"X-Token": "secret"}, time.Second)
	require.NoError(t, n.Notify(context.Background(), sampleEvent()))
	assert.Equal(t, "secret", token)
	assert.Equal(t, "run-1", got.RunID)
	assert.Equal(t, xerrors.Code("SCENARIO_FAILED"), got.Code)
}

func TestWebhookNotifierRejectsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewWebhookNotifier(srv.URL, nil, time.Second).Notify(context.Background(), sampleEvent())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestUnconfiguredWebhookSkips(t *testing.T) {
	require.NoError(t, (&WebhookNotifier{}).Notify(context.Background(), sampleEvent()))
}
