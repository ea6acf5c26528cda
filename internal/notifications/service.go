package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"camrelay/internal/config"
)

const userAgent = "camrelay/0.1.0"

// Event identifies a notification type.
type Event string

const (
	EventDeviceFailed       Event = "device_failed"
	EventDeviceRecovered    Event = "device_recovered"
	EventDeviceReconnecting Event = "device_reconnecting"
	EventShutdownForced     Event = "shutdown_forced"
	EventError              Event = "error"
	EventTest               Event = "test"
)

// Payload carries event fields.
type Payload map[string]any

// Service publishes events.
type Service interface {
	Publish(ctx context.Context, event Event, payload Payload) error
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
		endpoint:  topic,
		client:    &http.Client{Timeout: timeout},
		failed:    cfg.Notifications.Failed,
		recovered: cfg.Notifications.Recovered,
	}
}

type message struct {
	title    string
	body     string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint  string
	client    *http.Client
	failed    bool
	recovered bool
}

func (n *ntfyService) Publish(ctx context.Context, event Event, payload Payload) error {
	msg, ok := n.format(event, payload)
	if !ok {
		return nil
	}
	return n.send(ctx, msg)
}

func (n *ntfyService) format(event Event, payload Payload) (message, bool) {
	device := payload.text("device")
	switch event {
	case EventDeviceFailed:
		if !n.failed {
			return message{}, false
		}
		body := fmt.Sprintf("🚫 %s stopped retrying", device)
		if reason := payload.text("error"); reason != "" {
			body += ": " + reason
		}
		return message{
			title:    "camrelay - Camera Failed",
			body:     body + "\nRestart the camera once the cause is fixed.",
			tags:     []string{"camrelay", "camera", "failed"},
			priority: "high",
		}, true
	case EventDeviceRecovered:
		if !n.recovered {
			return message{}, false
		}
		return message{
			title: "camrelay - Camera Recovered",
			body:  fmt.Sprintf("✅ %s is streaming again", device),
			tags:  []string{"camrelay", "camera", "recovered"},
		}, true
	case EventShutdownForced:
		return message{
			title: "camrelay - Forced Shutdown",
			body:  fmt.Sprintf("⚠️ Shutdown forced stuck cameras: %s", payload.text("forced")),
			tags:  []string{"camrelay", "shutdown", "forced"},
		}, true
	case EventError:
		var b strings.Builder
		b.WriteString("❌ Error")
		if label := payload.text("context"); label != "" {
			b.WriteString(" with ")
			b.WriteString(label)
		}
		b.WriteString(": ")
		if reason := payload.text("error"); reason != "" {
			b.WriteString(reason)
		} else {
			b.WriteString("unknown")
		}
		return message{
			title:    "camrelay - Error",
			body:     b.String(),
			tags:     []string{"camrelay", "error", "alert"},
			priority: "high",
		}, true
	case EventTest:
		return message{
			title:    "camrelay - Test",
			body:     "🧪 Notification system test",
			tags:     []string{"camrelay", "test"},
			priority: "low",
		}, true
	default:
		return message{}, false
	}
}

func (n *ntfyService) send(ctx context.Context, data message) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.body))
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

func (p Payload) text(key string) string {
	if p == nil {
		return ""
	}
	switch v := p[key].(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case []string:
		return strings.Join(v, ", ")
	case error:
		return strings.TrimSpace(v.Error())
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

type noopService struct{}

func (noopService) Publish(context.Context, Event, Payload) error { return nil }
