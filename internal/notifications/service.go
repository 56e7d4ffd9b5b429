package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"snapward/internal/config"
)

const userAgent = "Snapward/0.1.0"

// Service defines the notification surface exposed to the runner.
type Service interface {
	NotifyRunStarted(ctx context.Context) error
	NotifyRunCompleted(ctx context.Context, synced, scrubbed bool, duration time.Duration) error
	NotifyRunFailed(ctx context.Context, err error, stage string) error
	TestNotification(ctx context.Context) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint: endpointFor(topic),
		client:   &http.Client{Timeout: timeout},
	}
}

// endpointFor accepts either a bare topic name or a full URL for self-hosted
// ntfy servers.
func endpointFor(topic string) string {
	if strings.Contains(topic, "://") {
		return topic
	}
	return "https://ntfy.sh/" + topic
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
}

func (n *ntfyService) NotifyRunStarted(ctx context.Context) error {
	data := payload{
		title:   "Snapward - Run Started",
		message: "Array maintenance started",
		tags:    []string{"snapward", "run", "started"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyRunCompleted(ctx context.Context, synced, scrubbed bool, duration time.Duration) error {
	duration = duration.Round(time.Second)
	if duration < 0 {
		duration = 0
	}
	durationText := duration.String()

	var message string
	switch {
	case synced && scrubbed:
		message = fmt.Sprintf("✅ Synced and scrubbed in %s", durationText)
	case synced:
		message = fmt.Sprintf("✅ Synced in %s", durationText)
	case scrubbed:
		message = fmt.Sprintf("✅ No changes; scrub finished in %s", durationText)
	default:
		message = fmt.Sprintf("✅ No changes detected (%s)", durationText)
	}

	data := payload{
		title:   "Snapward - Run Complete",
		message: message,
		tags:    []string{"snapward", "run", "completed"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyRunFailed(ctx context.Context, err error, stage string) error {
	var builder strings.Builder
	builder.WriteString("❌ Run failed")
	if stage = strings.TrimSpace(stage); stage != "" {
		builder.WriteString(" during ")
		builder.WriteString(stage)
	}
	builder.WriteString(": ")
	if err != nil {
		builder.WriteString(strings.TrimSpace(err.Error()))
	} else {
		builder.WriteString("unknown")
	}

	data := payload{
		title:    "Snapward - Run Failed",
		message:  builder.String(),
		tags:     []string{"snapward", "run", "failed"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	data := payload{
		title:    "Snapward - Test",
		message:  "🧪 Notification system test",
		tags:     []string{"snapward", "test"},
		priority: "low",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// NewNoop returns a Service that silently drops everything. Useful as a
// default and for --no-notify.
func NewNoop() Service {
	return noopService{}
}

type noopService struct{}

func (noopService) NotifyRunStarted(context.Context) error { return nil }
func (noopService) NotifyRunCompleted(context.Context, bool, bool, time.Duration) error {
	return nil
}
func (noopService) NotifyRunFailed(context.Context, error, string) error { return nil }
func (noopService) TestNotification(context.Context) error              { return nil }
