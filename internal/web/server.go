package web

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"fok-catalog/go-backend/internal/platform/metrics"
	"fok-catalog/go-backend/pkg/models"
)

// secretHeader is set by the platform on every webhook call when a secret
// token was registered with the webhook.
const secretHeader = "X-Telegram-Bot-Api-Secret-Token"

const (
	healthTimeout   = 3 * time.Second
	shutdownTimeout = 5 * time.Second
)

// EventHandler consumes one inbound event; the router implements it.
type EventHandler interface {
	HandleEvent(ctx context.Context, ev models.Event) error
}

// Pinger reports whether one backing dependency answers.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingerFunc adapts a plain probe function to Pinger.
type PingerFunc func(ctx context.Context) error

func (f PingerFunc) Ping(ctx context.Context) error { return f(ctx) }

type Deps struct {
	Handler EventHandler
	Secret  string            // webhook secret token, required
	Checks  map[string]Pinger // health probes by dependency name
	Version string
	Log     *slog.Logger
}

// Server is the botd HTTP surface: the webhook receiver plus the health,
// readiness and metrics endpoints.
type Server struct {
	httpServer *http.Server
	engine     *gin.Engine
	log        *slog.Logger
}

func NewServer(addr string, d Deps) *Server {
	if d.Log == nil {
		d.Log = slog.Default()
	}
	h := &handlers{
		handler: d.Handler,
		secret:  d.Secret,
		checks:  d.Checks,
		version: d.Version,
		log:     d.Log,
		now:     func() time.Time { return time.Now().UTC() },
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.POST("/webhook", h.requireSecret(), h.webhook)
	engine.GET("/healthz", h.health)
	engine.GET("/readyz", h.ready)
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           engine,
			ReadHeaderTimeout: 5 * time.Second,
		},
		engine: engine,
		log:    d.Log,
	}
}

// Handler exposes the route table for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		err := s.httpServer.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			errCh <- nil
			return
		}
		errCh <- err
	}()
	s.log.Info("http server listening", "addr", s.httpServer.Addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return <-errCh
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	}
}

type handlers struct {
	handler EventHandler
	secret  string
	checks  map[string]Pinger
	version string
	log     *slog.Logger
	now     func() time.Time
}

// requireSecret rejects webhook calls that do not carry the token registered
// with the platform. Comparison is constant time; an empty configured secret
// never matches.
func (h *handlers) requireSecret() gin.HandlerFunc {
	return func(c *gin.Context) {
		got := c.GetHeader(secretHeader)
		if h.secret == "" || subtle.ConstantTimeCompare([]byte(got), []byte(h.secret)) != 1 {
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}
		c.Next()
	}
}

// webhook acknowledges every authenticated, well-formed update with 200.
// Handler failures are logged, not surfaced: the user already received a
// reply through the router, and a non-200 would only make the platform
// redeliver the same update.
func (h *handlers) webhook(c *gin.Context) {
	var u Update
	if err := c.ShouldBindJSON(&u); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed update"})
		return
	}
	ev, ok := u.Event(h.now())
	if !ok {
		c.Status(http.StatusOK)
		return
	}
	if err := h.handler.HandleEvent(c.Request.Context(), ev); err != nil {
		metrics.ErrorsTotal.WithLabelValues("webhook").Inc()
		h.log.Error("event handling failed", "update_id", ev.UpdateID, "error", err.Error())
	}
	c.Status(http.StatusOK)
}

func (h *handlers) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
	defer cancel()

	status := http.StatusOK
	deps := make(gin.H, len(h.checks))
	for name, p := range h.checks {
		if err := p.Ping(ctx); err != nil {
			h.log.Warn("health probe failed", "dependency", name, "error", err.Error())
			deps[name] = "unhealthy"
			status = http.StatusServiceUnavailable
			continue
		}
		deps[name] = "healthy"
	}

	body := gin.H{
		"status":       "healthy",
		"timestamp":    h.now().Format(time.RFC3339),
		"version":      h.version,
		"dependencies": deps,
	}
	if status != http.StatusOK {
		body["status"] = "unhealthy"
	}
	c.JSON(status, body)
}

func (h *handlers) ready(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ready",
		"timestamp": h.now().Format(time.RFC3339),
	})
}
