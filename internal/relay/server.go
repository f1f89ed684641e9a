package relay

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Sink delivers rendered text to the target chat. Implementations get one
// attempt per dispatch; the relay never retries.
type Sink interface {
	Send(ctx context.Context, chatID int64, text, parseMode string) error
}

// parseModeHTML is the markup-format hint handed to the sink.
const parseModeHTML = "HTML"

// DefaultMaxBodySize caps request bodies at 1 MB.
const DefaultMaxBodySize = 1 << 20

// deliveryTimeout bounds the single outbound sink call so a slow chat API
// cannot pin a handler forever.
const deliveryTimeout = 10 * time.Second

// Dispatch outcome labels.
const (
	outcomeOK       = "ok"
	outcomeIgnored  = "ignored"
	outcomeRejected = "rejected"
	outcomeFailed   = "failed"
)

// Config holds the relay server configuration. All of it is read-only after
// construction, so concurrent handlers share it without locks.
type Config struct {
	// Listen is the address the HTTP server binds to.
	Listen string

	// ChatID is the single chat every message is delivered to.
	ChatID int64

	// RemnawaveSecret is the HMAC key for X-Remnawave-Signature.
	RemnawaveSecret string

	// AlertSecret is the token expected in the alert URL path.
	AlertSecret string

	// RemnawaveEnabled controls whether the Remnawave route is registered.
	RemnawaveEnabled bool

	// AllowedEvents is the set of Remnawave event names acted upon.
	AllowedEvents map[string]struct{}

	// MaxBodySize is the request body cap in bytes (default 1 MB).
	MaxBodySize int64
}

// Server is the webhook relay HTTP server.
type Server struct {
	config   Config
	sink     Sink
	renderer *Renderer
	verifier *Verifier
	metrics  *Metrics
	logger   *slog.Logger
	server   *http.Server
}

// New creates a relay server. The renderer and metrics are shared,
// read-only collaborators built once at process start.
func New(config Config, sink Sink, renderer *Renderer, metrics *Metrics, logger *slog.Logger) *Server {
	if config.MaxBodySize == 0 {
		config.MaxBodySize = DefaultMaxBodySize
	}
	return &Server{
		config:   config,
		sink:     sink,
		renderer: renderer,
		verifier: &Verifier{Secret: config.RemnawaveSecret, Logger: logger},
		metrics:  metrics,
		logger:   logger,
	}
}

// Start starts the relay HTTP server (blocking until ctx is cancelled).
func (s *Server) Start(ctx context.Context) error {
	router := s.setupRoutes()

	s.server = &http.Server{
		Addr:         s.config.Listen,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("relay server starting",
		"listen", s.config.Listen,
		"remnawave_enabled", s.config.RemnawaveEnabled,
		"allowed_events", len(s.config.AllowedEvents),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("relay server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("relay server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("relay server error: %w", err)
	}
}

// setupRoutes configures the HTTP router.
func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	if s.config.RemnawaveEnabled {
		r.Post("/webhook/remnawave", s.handleRemnawave)
	}
	r.Post("/webhook/alert/{token}", s.handleAlert)
	r.Post("/webhook/stripe", s.handleStripe)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		respondText(w, http.StatusOK, "ok")
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	return r
}

// loggingMiddleware logs HTTP requests (excludes payload bodies).
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.logger.Info("webhook request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
			"remote_addr", r.RemoteAddr,
		)
	})
}

// handleRemnawave dispatches a Remnawave webhook:
// verify -> parse -> allow-list -> classify -> normalize -> render -> deliver.
func (s *Server) handleRemnawave(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}

	dispatchID := uuid.NewString()

	// The signature covers the raw request text exactly as received.
	result := s.verifier.Verify(body, false, r.Header.Get(SignatureHeader))
	if !result.Valid {
		s.logger.Warn("remnawave webhook rejected: invalid signature", "dispatch_id", dispatchID)
		s.metrics.Requests.WithLabelValues("remnawave", outcomeRejected).Inc()
		respondText(w, http.StatusForbidden, "Invalid signature")
		return
	}

	// The bytes already passed verification, so a malformed body is trusted
	// garbage: degrade to a raw-text payload and keep going.
	payload := ParsePayload(body)

	if _, allowed := s.config.AllowedEvents[payload.Event]; !allowed {
		s.logger.Info("ignored event", "event", payload.Event, "dispatch_id", dispatchID)
		s.metrics.Requests.WithLabelValues("remnawave", outcomeIgnored).Inc()
		respondText(w, http.StatusOK, "Ignored")
		return
	}

	family := Classify(payload.Event)
	fields := Normalize(family, payload.Fields)

	msg, err := s.renderer.Render(family, payload.Event, fields)
	if err != nil {
		s.logger.Error("render failed", "event", payload.Event, "family", family.String(), "error", err, "dispatch_id", dispatchID)
		s.metrics.Requests.WithLabelValues("remnawave", outcomeFailed).Inc()
		respondText(w, http.StatusInternalServerError, "render failed")
		return
	}

	if err := s.deliver(r.Context(), "remnawave", msg); err != nil {
		s.metrics.Requests.WithLabelValues("remnawave", outcomeFailed).Inc()
		respondText(w, http.StatusInternalServerError, "delivery failed")
		return
	}

	s.logger.Info("remnawave webhook processed",
		"event", payload.Event,
		"family", family.String(),
		"truncated", msg.Truncated,
		"dispatch_id", dispatchID,
	)
	s.metrics.Requests.WithLabelValues("remnawave", outcomeOK).Inc()
	respondText(w, http.StatusOK, "OK")
}

// handleAlert dispatches an Observer alert webhook authenticated by a token
// embedded in the URL path. Plain equality, not the HMAC path.
func (s *Server) handleAlert(w http.ResponseWriter, r *http.Request) {
	if chi.URLParam(r, "token") != s.config.AlertSecret {
		s.logger.Warn("unauthorized alert webhook request")
		s.metrics.Requests.WithLabelValues("alert", outcomeRejected).Inc()
		respondText(w, http.StatusForbidden, "Forbidden")
		return
	}

	body, ok := s.readBody(w, r)
	if !ok {
		return
	}

	fields, fallback := ParseFields(body)
	if fallback {
		s.logger.Warn("received non-JSON alert payload")
	}
	fields = Normalize(FamilyAlert, fields)

	msg, err := s.renderer.Render(FamilyAlert, "alert", fields)
	if err != nil {
		s.logger.Error("render failed", "family", "alert", "error", err)
		s.metrics.Requests.WithLabelValues("alert", outcomeFailed).Inc()
		respondText(w, http.StatusInternalServerError, "render failed")
		return
	}

	if err := s.deliver(r.Context(), "alert", msg); err != nil {
		s.metrics.Requests.WithLabelValues("alert", outcomeFailed).Inc()
		respondText(w, http.StatusInternalServerError, "delivery failed")
		return
	}

	s.logger.Info("alert webhook processed", "user", fields["user_identifier"])
	s.metrics.Requests.WithLabelValues("alert", outcomeOK).Inc()
	respondText(w, http.StatusOK, "OK")
}

// handleStripe dispatches a payment-provider webhook: no signature check,
// fixed template, always 200.
func (s *Server) handleStripe(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}

	fields, _ := ParseFields(body)
	fields = Normalize(FamilyStripe, fields)

	event, _ := fields["type"].(string)
	if event == "" {
		event = EventUnknown
	}

	msg, err := s.renderer.Render(FamilyStripe, event, fields)
	if err != nil {
		s.logger.Error("render failed", "family", "stripe", "error", err)
		s.metrics.Requests.WithLabelValues("stripe", outcomeFailed).Inc()
		respondText(w, http.StatusInternalServerError, "render failed")
		return
	}

	if err := s.deliver(r.Context(), "stripe", msg); err != nil {
		s.metrics.Requests.WithLabelValues("stripe", outcomeFailed).Inc()
		respondText(w, http.StatusInternalServerError, "delivery failed")
		return
	}

	s.logger.Info("stripe webhook processed", "event", event)
	s.metrics.Requests.WithLabelValues("stripe", outcomeOK).Inc()
	respondText(w, http.StatusOK, "OK")
}

// deliver makes the single bounded-time sink call for a dispatch.
func (s *Server) deliver(ctx context.Context, source string, msg RenderedMessage) error {
	ctx, cancel := context.WithTimeout(ctx, deliveryTimeout)
	defer cancel()

	if err := s.sink.Send(ctx, s.config.ChatID, msg.Text, parseModeHTML); err != nil {
		s.logger.Error("delivery failed", "source", source, "error", err)
		s.metrics.DeliveryFailures.WithLabelValues(source).Inc()
		return err
	}
	return nil
}

// readBody reads the request body under the configured size cap. On failure
// it writes the error response and returns ok=false.
func (s *Server) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	limited := io.LimitReader(r.Body, s.config.MaxBodySize+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		respondText(w, http.StatusInternalServerError, "failed to read request body")
		return nil, false
	}
	if int64(len(body)) > s.config.MaxBodySize {
		respondText(w, http.StatusRequestEntityTooLarge, "payload too large")
		return nil, false
	}
	return body, true
}

func respondText(w http.ResponseWriter, status int, text string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	w.Write([]byte(text))
}
