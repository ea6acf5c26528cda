package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"camrelay/internal/api"
	"camrelay/internal/config"
	"camrelay/internal/device"
	"camrelay/internal/logging"
	"camrelay/internal/services"
)

const (
	defaultLogLimit    = 200
	cameraEventLimit   = 20
	commandTimeout     = 30 * time.Second
	maxCommandBodySize = 64 * 1024
)

type apiServer struct {
	bind   string
	logger *slog.Logger
	daemon *Daemon
	router *mux.Router

	listener net.Listener
	server   *http.Server
	cancel   context.CancelFunc
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) *apiServer {
	if cfg == nil || d == nil {
		return nil
	}
	bind := strings.TrimSpace(cfg.Paths.APIBind)
	if bind == "" {
		return nil
	}

	srv := &apiServer{
		bind:   bind,
		logger: logging.NewComponentLogger(logger, "api-server"),
		daemon: d,
	}
	srv.router = srv.routes(strings.TrimSpace(cfg.Paths.APIToken))
	srv.server = &http.Server{
		Handler:           srv.router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv
}

func (s *apiServer) routes(token string) *mux.Router {
	root := mux.NewRouter()
	root.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)

	r := root.PathPrefix("/api").Subrouter()
	r.Use(authMiddleware(token))
	r.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/cameras", s.handleCameras).Methods(http.MethodGet)
	r.HandleFunc("/cameras/{name}", s.handleCamera).Methods(http.MethodGet)
	r.HandleFunc("/cameras/{name}/{action}", s.handleCommand).Methods(http.MethodPost)
	r.HandleFunc("/logs", s.handleLogs).Methods(http.MethodGet)
	r.HandleFunc("/events", s.handleEvents).Methods(http.MethodGet)

	root.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, errorBody("method not allowed", "validation"), s.logger)
	})
	root.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, errorBody("not found", "not_found"), s.logger)
	})
	return root
}

func (s *apiServer) start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener
	// Request contexts end with the daemon so long-polling log follows return
	// promptly on shutdown.
	baseCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.server.BaseContext = func(net.Listener) context.Context { return baseCtx }

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.ErrorWithContext(s.logger, "api server error", "api_server_failed", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		s.stop()
	}()

	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

// addr returns the bound address, which differs from bind for port 0.
func (s *apiServer) addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *apiServer) stop() {
	if s == nil || s.server == nil {
		return
	}
	if s.cancel != nil {
		s.cancel()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.server.Shutdown(shutdownCtx)
}

func (s *apiServer) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"running": s.daemon.running.Load()}, s.logger)
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.daemon.Status(r.Context()), s.logger)
}

func (s *apiServer) handleCameras(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, api.CameraListResponse{Cameras: s.daemon.Cameras(r.Context())}, s.logger)
}

func (s *apiServer) handleCamera(w http.ResponseWriter, r *http.Request) {
	events := cameraEventLimit
	if value := r.URL.Query().Get("events"); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil && parsed >= 0 {
			events = parsed
		}
	}
	resp, err := s.daemon.Camera(r.Context(), mux.Vars(r)["name"], events)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp, s.logger)
}

func (s *apiServer) handleCommand(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	var req api.CommandRequest
	body, err := io.ReadAll(io.LimitReader(r.Body, maxCommandBodySize))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("read request body: "+err.Error(), "validation"), s.logger)
		return
	}
	if len(strings.TrimSpace(string(body))) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody("invalid request body: "+err.Error(), "validation"), s.logger)
			return
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), commandTimeout)
	defer cancel()
	results, err := s.daemon.Command(ctx, vars["name"], vars["action"], req.Args, r.Header.Get("X-Correlation-ID"))
	if err != nil && len(results) == 0 {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, api.CommandResponse{Results: api.FromResults(results)}, s.logger)
}

func (s *apiServer) handleLogs(w http.ResponseWriter, r *http.Request) {
	hub := s.daemon.LogStream()
	if hub == nil {
		writeJSON(w, http.StatusOK, api.LogStreamResponse{}, s.logger)
		return
	}

	query := r.URL.Query()
	since, _ := strconv.ParseUint(query.Get("since"), 10, 64)
	limit, _ := strconv.Atoi(query.Get("limit"))
	if limit <= 0 {
		limit = defaultLogLimit
	}
	follow := truthy(query.Get("follow"))
	tail := truthy(query.Get("tail"))
	filter := logFilter{
		component:     strings.TrimSpace(query.Get("component")),
		camera:        device.NormalizeName(query.Get("camera")),
		correlationID: strings.TrimSpace(query.Get("correlation_id")),
		minLevel:      levelRank(query.Get("level")),
	}

	var (
		events []logging.LogEvent
		next   uint64
	)
	if tail && since == 0 && !follow {
		events, next = hub.Tail(limit)
	} else {
		var err error
		events, next, err = hub.Fetch(r.Context(), since, limit, follow)
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			writeJSON(w, http.StatusInternalServerError, errorBody(err.Error(), services.KindOf(err)), s.logger)
			return
		}
	}

	writeJSON(w, http.StatusOK, api.LogStreamResponse{
		Events: api.FromLogEvents(filter.apply(events)),
		Next:   next,
	}, s.logger)
}

type logFilter struct {
	component     string
	camera        string
	correlationID string
	minLevel      int
}

func (f logFilter) apply(events []logging.LogEvent) []logging.LogEvent {
	out := events[:0:0]
	for _, evt := range events {
		if f.camera != "" && !device.SameName(f.camera, evt.Device) {
			continue
		}
		if f.component != "" && !strings.EqualFold(f.component, evt.Component) {
			continue
		}
		if f.correlationID != "" && f.correlationID != evt.CorrelationID {
			continue
		}
		if levelRank(evt.Level) < f.minLevel {
			continue
		}
		out = append(out, evt)
	}
	return out
}

func levelRank(level string) int {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "INFO":
		return 1
	case "WARN", "WARNING":
		return 2
	case "ERROR":
		return 3
	default:
		return 0
	}
}

func truthy(value string) bool {
	return value == "1" || strings.EqualFold(value, "true")
}

// statusForKind maps an error kind to an HTTP status code.
func statusForKind(kind string) int {
	switch kind {
	case "unknown_device", "not_found":
		return http.StatusNotFound
	case "validation":
		return http.StatusBadRequest
	case "already_exists", "cancelled":
		return http.StatusConflict
	case "unsupported":
		return http.StatusNotImplemented
	case "relay_unavailable":
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *apiServer) writeServiceError(w http.ResponseWriter, err error) {
	kind := services.KindOf(err)
	writeJSON(w, statusForKind(kind), errorBody(err.Error(), kind), s.logger)
}

func errorBody(message, kind string) api.ErrorResponse {
	return api.ErrorResponse{Error: message, Kind: kind}
}

func writeJSON(w http.ResponseWriter, status int, payload any, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil && logger != nil {
		logger.Debug("failed to encode response", logging.Error(err))
	}
}
