// Package webhook runs the HTTP ingester that turns signed GitHub
// events into work queue items. The ingester is a queue producer only:
// it never executes work itself.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/c360studio/overseer/agent"
	"github.com/c360studio/overseer/metrics"
	"github.com/c360studio/overseer/queue"
)

// maxRequestBodySize limits POST body sizes.
const maxRequestBodySize = 1 << 20 // 1 MB

// EventMapping maps one GitHub event shape onto a queue item. The first
// matching rule wins.
type EventMapping struct {
	// Event is the mapping key, e.g. "issues.labeled" or
	// "pull_request.opened".
	Event string `json:"event" yaml:"event"`
	// Label, when set, restricts issues.labeled to that label name.
	Label string `json:"label,omitempty" yaml:"label,omitempty"`
	// Agent overrides the event's default agent.
	Agent string `json:"agent,omitempty" yaml:"agent,omitempty"`
	// Mode is standalone or team.
	Mode agent.Mode `json:"mode" yaml:"mode"`
	// Task overrides the templated task text.
	Task string `json:"task,omitempty" yaml:"task,omitempty"`
}

// GitHubConfig configures signature verification and event mappings.
type GitHubConfig struct {
	Secret string         `json:"secret" yaml:"secret"`
	Events []EventMapping `json:"events" yaml:"events"`
}

// Config configures the ingester.
type Config struct {
	Port   int          `json:"port" yaml:"port"`
	GitHub GitHubConfig `json:"github" yaml:"github"`
}

// Validate checks the ingester config.
func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("webhook.port must be in (0, 65535]")
	}
	if c.GitHub.Secret == "" {
		return fmt.Errorf("webhook.github.secret is required")
	}
	for _, m := range c.GitHub.Events {
		switch m.Event {
		case "issues.labeled", "pull_request.opened":
		default:
			return fmt.Errorf("unsupported webhook event mapping %q", m.Event)
		}
		if _, err := agent.ParseMode(string(m.Mode)); err != nil {
			return fmt.Errorf("webhook mapping %s: %w", m.Event, err)
		}
	}
	return nil
}

// Enqueuer accepts produced queue items.
type Enqueuer func(item queue.Item) error

// Server is the webhook HTTP listener.
type Server struct {
	config  Config
	enqueue Enqueuer
	logger  *slog.Logger
	metrics *metrics.Metrics

	httpServer *http.Server
	listener   net.Listener
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithMetrics wires the daemon collectors; the listener then also
// serves GET /metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// NewServer creates the ingester. Items flow to enqueue.
func NewServer(config Config, enqueue Enqueuer, opts ...Option) *Server {
	s := &Server{
		config:  config,
		enqueue: enqueue,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start begins listening. It returns once the listener is bound; the
// accept loop runs on a background goroutine.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.config.Port))
	if err != nil {
		return fmt.Errorf("failed to bind webhook port %d: %w", s.config.Port, err)
	}
	s.listener = ln
	s.httpServer = &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("webhook server stopped", "error", err)
		}
	}()
	s.logger.Info("webhook ingester listening", "port", s.config.Port)
	return nil
}

// Stop closes the listener.
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Close()
}

// Addr returns the bound listener address, for tests.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// ServeHTTP routes requests. Only POST /webhook is part of the ingest
// contract; /healthz and /metrics are operational extras.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/webhook" && r.Method == http.MethodPost:
		s.handleWebhook(w, r)
	case r.URL.Path == "/healthz" && r.Method == http.MethodGet:
		s.writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	case r.URL.Path == "/metrics" && r.Method == http.MethodGet && s.metrics != nil:
		s.metrics.Handler().ServeHTTP(w, r)
	default:
		s.writeJSON(w, http.StatusNotFound, map[string]any{"error": "not found"})
	}
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodySize))
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]any{"error": "unreadable body"})
		return
	}

	if !s.verifySignature(body, r.Header.Get("X-Hub-Signature-256")) {
		s.logger.Warn("webhook signature mismatch", "remote", r.RemoteAddr)
		s.writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "invalid signature"})
		return
	}

	event := r.Header.Get("X-GitHub-Event")
	if event == "" {
		s.writeJSON(w, http.StatusBadRequest, map[string]any{"error": "missing X-GitHub-Event header"})
		return
	}

	var payload eventPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]any{"error": "malformed JSON payload"})
		return
	}

	item, matched := s.matchEvent(event, &payload)
	if matched {
		if err := s.enqueue(*item); err != nil {
			s.logger.Error("failed to enqueue webhook item", "trigger", item.TriggerName, "error", err)
			s.writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "failed to enqueue"})
			return
		}
		s.logger.Info("webhook matched",
			"event", event, "trigger", item.TriggerName, "agent", item.Agent)
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"ok": true, "matched": matched})
}

// verifySignature does a constant-time HMAC-SHA256 comparison against
// the raw body.
func (s *Server) verifySignature(body []byte, header string) bool {
	const prefix = "sha256="
	if !strings.HasPrefix(header, prefix) {
		return false
	}
	got, err := hex.DecodeString(header[len(prefix):])
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(s.config.GitHub.Secret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	if s.metrics != nil {
		s.metrics.WebhookRequests.WithLabelValues(strconv.Itoa(status)).Inc()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
