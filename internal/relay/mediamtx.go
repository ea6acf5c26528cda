package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"camrelay/internal/config"
	"camrelay/internal/logging"
	"camrelay/internal/services"
)

// HTTPDoer describes the HTTP client used against the relay control API.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// MediaMTX drives a mediamtx instance through its v3 control API and feeds
// each registered path through a publisher process.
type MediaMTX struct {
	apiURL  string
	client  HTTPDoer
	publish PublisherFactory
	logger  *slog.Logger

	mu         sync.Mutex
	registered map[string]struct{}
	publishers map[string]io.WriteCloser
}

// NewMediaMTX builds the relay adapter from configuration.
func NewMediaMTX(cfg config.Relay, client HTTPDoer, logger *slog.Logger) *MediaMTX {
	if client == nil {
		client = http.DefaultClient
	}
	return NewMediaMTXWithPublisher(cfg.APIURL, client, FFmpegPublisher(cfg.FFmpegBinary, cfg.PublishURL), logger)
}

// NewMediaMTXWithPublisher allows the publisher process to be substituted.
func NewMediaMTXWithPublisher(apiURL string, client HTTPDoer, publish PublisherFactory, logger *slog.Logger) *MediaMTX {
	return &MediaMTX{
		apiURL:     strings.TrimRight(strings.TrimSpace(apiURL), "/"),
		client:     client,
		publish:    publish,
		logger:     logging.NewComponentLogger(logger, "relay"),
		registered: make(map[string]struct{}),
		publishers: make(map[string]io.WriteCloser),
	}
}

type pathConfigBody struct {
	Source     string `json:"source"`
	Record     bool   `json:"record"`
	RecordPath string `json:"recordPath,omitempty"`
}

// RegisterPath adds the path to the relay configuration. A path that already
// exists is treated as registered.
func (m *MediaMTX) RegisterPath(ctx context.Context, name string, cfg PathConfig) error {
	body, err := json.Marshal(pathConfigBody{Source: "publisher", Record: cfg.Record, RecordPath: cfg.RecordPath})
	if err != nil {
		return services.Wrap(services.ErrValidation, "relay", "register", name, err)
	}
	status, text, err := m.do(ctx, http.MethodPost, "/v3/config/paths/add/"+url.PathEscape(name), body)
	if err != nil {
		return services.Wrap(services.ErrRelayUnavailable, "relay", "register", name, err)
	}
	if status >= http.StatusMultipleChoices && !alreadyExists(status, text) {
		return services.Wrap(services.ErrRelayUnavailable, "relay", "register", name,
			fmt.Errorf("relay returned %d: %s", status, text))
	}
	m.mu.Lock()
	m.registered[name] = struct{}{}
	m.mu.Unlock()
	m.logger.Debug("relay path registered", logging.String("relay_path", name))
	return nil
}

// Feed writes payload to the path's publisher, starting one when needed. A
// write failure drops the publisher so the next Feed starts a fresh one.
func (m *MediaMTX) Feed(name string, payload []byte) error {
	m.mu.Lock()
	if _, ok := m.registered[name]; !ok {
		m.mu.Unlock()
		return services.Wrap(services.ErrRelayUnavailable, "relay", "feed", name, fmt.Errorf("path not registered"))
	}
	pub, ok := m.publishers[name]
	if !ok {
		var err error
		pub, err = m.publish(name)
		if err != nil {
			m.mu.Unlock()
			return services.Wrap(services.ErrRelayUnavailable, "relay", "feed", name, err)
		}
		m.publishers[name] = pub
	}
	m.mu.Unlock()

	if _, err := pub.Write(payload); err != nil {
		m.dropPublisher(name, pub)
		return services.Wrap(services.ErrRelayUnavailable, "relay", "feed", name, err)
	}
	return nil
}

func (m *MediaMTX) dropPublisher(name string, pub io.WriteCloser) {
	m.mu.Lock()
	if current, ok := m.publishers[name]; ok && current == pub {
		delete(m.publishers, name)
	}
	m.mu.Unlock()
	_ = pub.Close()
}

// UnregisterPath stops the publisher and removes the path. A path the relay
// no longer knows is treated as removed.
func (m *MediaMTX) UnregisterPath(ctx context.Context, name string) error {
	m.mu.Lock()
	pub := m.publishers[name]
	delete(m.publishers, name)
	delete(m.registered, name)
	m.mu.Unlock()
	if pub != nil {
		_ = pub.Close()
	}

	status, text, err := m.do(ctx, http.MethodDelete, "/v3/config/paths/delete/"+url.PathEscape(name), nil)
	if err != nil {
		return services.Wrap(services.ErrRelayUnavailable, "relay", "unregister", name, err)
	}
	if status >= http.StatusMultipleChoices && status != http.StatusNotFound {
		return services.Wrap(services.ErrRelayUnavailable, "relay", "unregister", name,
			fmt.Errorf("relay returned %d: %s", status, text))
	}
	m.logger.Debug("relay path unregistered", logging.String("relay_path", name))
	return nil
}

// Healthy lists paths to confirm the control API answers.
func (m *MediaMTX) Healthy(ctx context.Context) error {
	status, text, err := m.do(ctx, http.MethodGet, "/v3/paths/list", nil)
	if err != nil {
		return services.Wrap(services.ErrRelayUnavailable, "relay", "health", "", err)
	}
	if status != http.StatusOK {
		return services.Wrap(services.ErrRelayUnavailable, "relay", "health", "",
			fmt.Errorf("relay returned %d: %s", status, text))
	}
	return nil
}

// Close stops every publisher. Paths stay registered with the relay.
func (m *MediaMTX) Close() error {
	m.mu.Lock()
	pubs := m.publishers
	m.publishers = make(map[string]io.WriteCloser)
	m.mu.Unlock()
	for _, pub := range pubs {
		_ = pub.Close()
	}
	return nil
}

func (m *MediaMTX) do(ctx context.Context, method, path string, body []byte) (int, string, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, m.apiURL+path, reader)
	if err != nil {
		return 0, "", fmt.Errorf("build relay request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()
	text, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return resp.StatusCode, strings.TrimSpace(string(text)), nil
}

func alreadyExists(status int, text string) bool {
	return status == http.StatusBadRequest && strings.Contains(strings.ToLower(text), "already exists")
}
