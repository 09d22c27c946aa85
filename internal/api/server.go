package api

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/tphakala/preroll-recorder/internal/datastore"
	"github.com/tphakala/preroll-recorder/internal/errors"
	"github.com/tphakala/preroll-recorder/internal/logger"
	"github.com/tphakala/preroll-recorder/internal/recording"
	"github.com/tphakala/preroll-recorder/internal/session"
)

// Recorder is the part of the recording coordinator the API controls.
type Recorder interface {
	ManualStart(ctx context.Context) error
	ManualStop(ctx context.Context) (*session.Metadata, error)
	Status() recording.Status
	Levels() []recording.Level
	RestartMIDI() error
	RestartAudio() error
	RestartVideo(ctx context.Context) error
}

// SessionStore is the session index queried by the API.
type SessionStore interface {
	ListSessions(ctx context.Context, f datastore.Filter) ([]session.Summary, error)
	GetSession(ctx context.Context, id string) (*session.Metadata, error)
	SetFavorite(ctx context.Context, id string, favorite bool) error
	SetNotes(ctx context.Context, id, notes string) error
	DeleteSession(ctx context.Context, id string) error
}

// Server is the HTTP control server.
type Server struct {
	echo     *echo.Echo
	config   *Config
	log      logger.Logger
	recorder Recorder
	sessions SessionStore
	metrics  http.Handler
	version  string

	startTime time.Time
	done      chan error
}

// ServerOption is a functional option for configuring the Server.
type ServerOption func(*Server)

// WithRecorder enables the recording endpoints.
func WithRecorder(r Recorder) ServerOption {
	return func(s *Server) { s.recorder = r }
}

// WithSessions enables the session endpoints.
func WithSessions(store SessionStore) ServerOption {
	return func(s *Server) { s.sessions = store }
}

// WithMetrics serves h at /metrics.
func WithMetrics(h http.Handler) ServerOption {
	return func(s *Server) { s.metrics = h }
}

// WithVersion sets the version reported by /health.
func WithVersion(v string) ServerOption {
	return func(s *Server) { s.version = v }
}

// New creates a server. Routes are registered only for the components
// passed as options.
func New(config *Config, opts ...ServerOption) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	s := &Server{
		config:    config,
		log:       GetLogger(),
		startTime: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.echo = echo.New()
	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.Server.ReadTimeout = config.ReadTimeout
	s.echo.Server.WriteTimeout = config.WriteTimeout
	s.echo.Server.IdleTimeout = config.IdleTimeout

	s.echo.Use(echomw.Recover())
	s.echo.Use(newRequestLogger(s.log))
	if config.BodyLimit != "" {
		s.echo.Use(echomw.BodyLimit(config.BodyLimit))
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.echo.GET("/health", s.healthCheck)
	if s.metrics != nil {
		s.echo.GET("/metrics", echo.WrapHandler(s.metrics))
	}

	v1 := s.echo.Group("/api/v1")
	if s.recorder != nil {
		s.initRecordingRoutes(v1.Group("/recording"))
	}
	if s.sessions != nil {
		s.initSessionRoutes(v1.Group("/sessions"))
	}
}

func (s *Server) healthCheck(c echo.Context) error {
	uptime := time.Since(s.startTime)
	resp := map[string]any{
		"status":         "healthy",
		"version":        s.version,
		"uptime_seconds": uptime.Seconds(),
		"timestamp":      time.Now().Format(time.RFC3339),
	}
	if s.recorder != nil {
		resp["recorder_state"] = s.recorder.Status().State
	}
	return c.JSON(http.StatusOK, resp)
}

// Start listens on the configured address and serves in the background.
// Listen errors are returned directly; later serve errors end up in Shutdown.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.config.Listen)
	if err != nil {
		return errors.New(err).
			Component("api").
			Category(errors.CategoryNetwork).
			Context("listen", s.config.Listen).
			Build()
	}
	s.echo.Listener = ln
	s.done = make(chan error, 1)
	go func() {
		err := s.echo.Start("")
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		s.done <- err
	}()
	s.log.Info("control API listening", logger.String("address", ln.Addr().String()))
	return nil
}

// Addr returns the bound listener address, or nil before Start.
func (s *Server) Addr() net.Addr {
	if s.echo.Listener == nil {
		return nil
	}
	return s.echo.Listener.Addr()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()

	if err := s.echo.Shutdown(ctx); err != nil {
		return errors.New(err).
			Component("api").
			Category(errors.CategoryNetwork).
			Build()
	}
	if s.done != nil {
		if err := <-s.done; err != nil {
			return err
		}
	}
	s.log.Info("control API stopped")
	return nil
}

// Echo returns the underlying Echo instance.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}
