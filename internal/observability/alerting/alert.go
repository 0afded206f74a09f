package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	xerrors "NFTMarket-Harness/internal/errors"
	"NFTMarket-Harness/pkg/logger"
)

// Channel names a notification channel.
type Channel string

// Supported channels.
const (
	ChannelLog     Channel = "log"
	ChannelWebhook Channel = "webhook"
)

// Event is a run outcome worth alerting on.
type Event struct {
	Code       xerrors.Code      `json:"code"`
	Message    string            `json:"message"`
	Severity   xerrors.Severity  `json:"severity"`
	RunID      string            `json:"run_id"`
	Scenario   string            `json:"scenario,omitempty"`
	Network    string            `json:"network,omitempty"`
	Attempts   int               `json:"attempts"`
	MaxRetries int               `json:"max_retries"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// Notifier delivers events to one channel.
type Notifier interface {
	Channel() Channel
	Notify(ctx context.Context, event Event) error
}

// Dispatcher broadcasts events to notifiers.
type Dispatcher interface {
	Notify(ctx context.Context, event Event) error
}

type FanoutDispatcher struct {
	notifiers map[Channel]Notifier
}

// NewFanout keeps the last notifier given for each channel.
func NewFanout(notifiers ...Notifier) *FanoutDispatcher {
	set := make(map[Channel]Notifier, len(notifiers))
	for _, n := range notifiers {
		if n == nil {
			continue
		}
		set[n.Channel()] = n
	}
	return &FanoutDispatcher{notifiers: set}
}

// Len reports the number of channels.
func (d *FanoutDispatcher) Len() int {
	if d == nil {
		return 0
	}
	return len(d.notifiers)
}

// Notify sends event to every channel and joins their errors.
func (d *FanoutDispatcher) Notify(ctx context.Context, event Event) error {
	if d == nil {
		return nil
	}
	var errs []error
	for _, notifier := range d.notifiers {
		if err := notifier.Notify(ctx, event); err != nil {
			errs = append(errs, fmt.Errorf("channel %s: %w", notifier.Channel(), err))
		}
	}
	return errors.Join(errs...)
}

// LogNotifier logs alerts, to the global logger when Logger is nil.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n *LogNotifier) Channel() Channel { return ChannelLog }

// Notify logs at the level matching the event severity.
func (n *LogNotifier) Notify(ctx context.Context, event Event) error {
	l := logger.L()
	if n != nil && n.Logger != nil {
		l = n.Logger
	}
	level := slog.LevelWarn
	if event.Severity == xerrors.SeverityCritical {
		level = slog.LevelError
	}
	attrs := []slog.Attr{
		slog.String("code", string(event.Code)),
		slog.String("severity", string(event.Severity)),
		slog.String("run_id", event.RunID),
		slog.String("scenario", event.Scenario),
		slog.String("network", event.Network),
		slog.Int("attempts", event.Attempts),
		slog.Int("max_retries", event.MaxRetries),
	}
	for k, v := range event.Metadata {
		attrs = append(attrs, slog.String("meta."+k, v))
	}
	l.LogAttrs(ctx, level, "alert: "+event.Message, attrs...)
	return nil
}

// WebhookNotifier posts events as JSON.
type WebhookNotifier struct {
	URL     string
	Headers map[string]string
	Client  *http.Client
}

func NewWebhookNotifier(url string, headers map[string]string, timeout time.Duration) *WebhookNotifier {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &WebhookNotifier{URL: url, Headers: headers, Client: &http.Client{Timeout: timeout}}
}

func (n *WebhookNotifier) Channel() Channel { return ChannelWebhook }

// Notify fails on any non-2xx response.
func (n *WebhookNotifier) Notify(ctx context.Context, event Event) error {
	if n == nil || n.URL == "" {
		logger.L().Warn("webhook notifier has no url, dropping alert", slog.String("run_id", event.RunID))
		return nil
	}
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode alert: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build alert request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range n.Headers {
		req.Header.Set(k, v)
	}
	client := n.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("send alert: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("alert receiver returned %d", resp.StatusCode)
	}
	return nil
}
