package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"linerelay/pkg/bus"
	"linerelay/pkg/channel"
	"linerelay/pkg/channel/line"
	"linerelay/pkg/channel/telegram"
	"linerelay/pkg/config"
	"linerelay/pkg/provider"
	"linerelay/pkg/provider/openai"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	healthMessage = "LINE + OpenAI Bot is running."

	defaultShutdownTimeout = 10 * time.Second
	busBufferSize          = 256
)

// Dependencies are the outbound clients shared by every request. Each may be
// nil when its credential is absent.
type Dependencies struct {
	Completer       provider.Completer
	LineReplier     channel.Replier
	TelegramReplier channel.Replier
}

// BuildDependencies constructs the outbound clients once at startup. Missing
// credentials leave the matching dependency nil instead of failing.
func BuildDependencies(cfg *config.Config, log *slog.Logger) (Dependencies, error) {
	if cfg == nil {
		return Dependencies{}, errors.New("config is required")
	}
	if log == nil {
		log = slog.Default()
	}

	var deps Dependencies

	client, err := openai.New(cfg.OpenAI)
	switch {
	case errors.Is(err, openai.ErrMissingAPIKey):
		log.Warn("OPENAI_API_KEY not set, replies will explain the missing key")
	case err != nil:
		return Dependencies{}, fmt.Errorf("initialize completion client: %w", err)
	default:
		deps.Completer = client
	}

	lineSender, err := line.NewSender(cfg.Line)
	if err != nil {
		return Dependencies{}, err
	}
	if lineSender != nil {
		deps.LineReplier = lineSender
	} else {
		log.Warn("LINE_CHANNEL_ACCESS_TOKEN not set, LINE events will not be answered")
	}

	telegramSender, err := telegram.NewSender(cfg.Telegram.Token)
	if err != nil {
		return Dependencies{}, err
	}
	if telegramSender != nil {
		deps.TelegramReplier = telegramSender
	}

	return deps, nil
}

type Service struct {
	cfg *config.Config
	log *slog.Logger
	bus *bus.Bus

	dispatchers map[string]*channel.Dispatcher
	handler     http.Handler
	startedAt   time.Time

	mu       sync.RWMutex
	counters map[bus.EventType]int64
	channels map[string]channelState
}

type channelState struct {
	Enabled         bool `json:"enabled"`
	ReplyConfigured bool `json:"reply_configured"`
}

type rootResponse struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Env     config.Presence `json:"env"`
}

type statusResponse struct {
	Status              string                  `json:"status"`
	UptimeSeconds       int64                   `json:"uptime_seconds"`
	CompleterConfigured bool                    `json:"completer_configured"`
	Channels            map[string]channelState `json:"channels"`
	Events              map[bus.EventType]int64 `json:"events"`
}

// NewService wires the dispatchers and router. Lifecycle counters are
// collected until ctx ends or the service stops.
func NewService(ctx context.Context, cfg *config.Config, deps Dependencies, log *slog.Logger) (*Service, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if log == nil {
		log = slog.Default()
	}

	eventBus := bus.New()
	s := &Service{
		cfg:         cfg,
		log:         log.With("component", "gateway.service"),
		bus:         eventBus,
		dispatchers: map[string]*channel.Dispatcher{},
		startedAt:   time.Now().UTC(),
		counters:    map[bus.EventType]int64{},
		channels:    map[string]channelState{},
	}

	s.dispatchers["line"] = channel.NewDispatcher(deps.LineReplier, deps.Completer, eventBus, log)
	s.channels["line"] = channelState{Enabled: true, ReplyConfigured: configured(deps.LineReplier)}

	telegramEnabled := cfg.Telegram.Token != ""
	if telegramEnabled {
		s.dispatchers["telegram"] = channel.NewDispatcher(deps.TelegramReplier, deps.Completer, eventBus, log)
	}
	s.channels["telegram"] = channelState{Enabled: telegramEnabled, ReplyConfigured: configured(deps.TelegramReplier)}

	events, _ := eventBus.Subscribe(ctx, busBufferSize)
	go s.collect(events)

	s.handler = s.routes(deps, log)

	return s, nil
}

func (s *Service) Handler() http.Handler {
	return s.handler
}

func (s *Service) routes(deps Dependencies, log *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(requestLogger(s.log))
	r.Use(middleware.Recoverer)
	if s.cfg.Tracing.Enabled {
		r.Use(func(next http.Handler) http.Handler {
			return otelhttp.NewHandler(next, s.cfg.Tracing.ServiceName)
		})
	}

	r.Get("/", s.handleRoot)
	r.Get("/healthz", s.handleHealth(deps))
	r.Get("/readyz", s.handleReady)

	r.Get("/webhook", line.ServeProbe)
	r.Method(http.MethodPost, "/webhook", line.NewIntake(s.cfg.Line.ChannelSecret, s.dispatchers["line"], log))

	if dispatcher, ok := s.dispatchers["telegram"]; ok {
		r.Method(http.MethodPost, "/telegram/webhook", telegram.NewIntake(s.cfg.Telegram, dispatcher, log))
	}

	return r
}

// Run serves HTTP until ctx ends, then shuts down and waits for in-flight
// events within the shutdown timeout.
func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	listener, err := net.Listen("tcp", s.addr())
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.addr(), err)
	}

	return s.serve(ctx, listener)
}

func (s *Service) serve(ctx context.Context, listener net.Listener) error {
	server := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Serve(listener)
	}()

	s.log.Info("Listening", "address", listener.Addr().String())

	select {
	case err := <-serverErr:
		s.bus.Close()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve http: %w", err)
	case <-ctx.Done():
	}

	return s.shutdown(server)
}

func (s *Service) shutdown(server *http.Server) error {
	timeout := time.Duration(s.cfg.Server.ShutdownTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = defaultShutdownTimeout
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	defer s.bus.Close()

	s.log.Info("Shutting down")
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}

	if err := s.Wait(shutdownCtx); err != nil {
		s.log.Warn("In-flight events did not finish before shutdown", "error", err)
	}

	return nil
}

// Wait blocks until every dispatched event has finished or ctx is done.
func (s *Service) Wait(ctx context.Context) error {
	for _, dispatcher := range s.dispatchers {
		if err := dispatcher.Wait(ctx); err != nil {
			return err
		}
	}

	return nil
}

func (s *Service) addr() string {
	host := strings.TrimSpace(s.cfg.Server.Host)
	port := s.cfg.Server.Port
	if port <= 0 {
		port = config.DefaultPort
	}

	return net.JoinHostPort(host, strconv.Itoa(port))
}

func (s *Service) collect(events <-chan bus.Event) {
	for event := range events {
		s.mu.Lock()
		s.counters[event.Type]++
		s.mu.Unlock()
	}
}

// handleRoot reports credential presence only, never the values.
func (s *Service) handleRoot(w http.ResponseWriter, _ *http.Request) {
	s.respondJSON(w, http.StatusOK, rootResponse{
		Status:  "ok",
		Message: healthMessage,
		Env:     s.cfg.Presence(),
	})
}

func (s *Service) handleHealth(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		s.respondJSON(w, http.StatusOK, s.currentStatus("ok", deps.Completer != nil))
	}
}

func (s *Service) handleReady(w http.ResponseWriter, _ *http.Request) {
	if s.cfg.Line.ChannelSecret == "" {
		s.respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not_ready", "reason": "LINE_CHANNEL_SECRET not set"})
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Service) respondJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log.Error("Failed to write response", "error", err)
	}
}

func (s *Service) currentStatus(status string, completerConfigured bool) statusResponse {
	s.mu.RLock()
	defer s.mu.RUnlock()

	events := make(map[bus.EventType]int64, len(s.counters))
	for eventType, count := range s.counters {
		events[eventType] = count
	}

	channels := make(map[string]channelState, len(s.channels))
	for name, state := range s.channels {
		channels[name] = state
	}

	return statusResponse{
		Status:              status,
		UptimeSeconds:       int64(time.Since(s.startedAt).Seconds()),
		CompleterConfigured: completerConfigured,
		Channels:            channels,
		Events:              events,
	}
}

func configured(replier channel.Replier) bool {
	return replier != nil && replier.Configured()
}
