// Package http exposes the grading engine over HTTP: score submission,
// server-sent progress events, results and operational endpoints.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/dgwamna44/eXeMpLify-Music-Analyzer/internal/application"
	"github.com/dgwamna44/eXeMpLify-Music-Analyzer/internal/domain"
	"github.com/dgwamna44/eXeMpLify-Music-Analyzer/internal/ports"
)

// Engine is the job API the server drives. *application.JobOrchestrator
// implements it.
type Engine interface {
	Submit(ctx context.Context, req application.SubmitRequest) (string, error)
	Stream(ctx context.Context, id string, heartbeat time.Duration) (<-chan domain.Event, error)
	Result(id string) (domain.JobResult, error)
	Info(id string) (domain.JobInfo, error)
	Cancel(id string) error
	Pending() int
}

var _ Engine = (*application.JobOrchestrator)(nil)

// Config holds HTTP server configuration.
type Config struct {
	// Addr is the listen address.
	Addr string

	// MaxUploadBytes caps uploaded score files. Request bodies may exceed it
	// by the multipart overhead allowance.
	MaxUploadBytes int64

	// Gatherer backs /metrics. Nil disables the endpoint.
	Gatherer prometheus.Gatherer
}

// multipartOverhead is the room left for form fields and boundaries on top
// of the file itself.
const multipartOverhead = 64 << 10

// Server provides HTTP endpoints for the grading engine.
type Server struct {
	echo     *echo.Echo
	engine   Engine
	store    ports.DocumentStore
	validate *validator.Validate
	logger   *zap.Logger
	config   Config
}

// NewServer creates a new HTTP server.
func NewServer(engine Engine, store ports.DocumentStore, logger *zap.Logger, cfg Config) (*Server, error) {
	if engine == nil {
		return nil, fmt.Errorf("engine cannot be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("document store cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = application.DefaultOrchestratorConfig().MaxDocumentBytes
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(requestLogger(logger))

	s := &Server{
		echo:     e,
		engine:   engine,
		store:    store,
		validate: validator.New(),
		logger:   logger,
		config:   cfg,
	}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	if s.config.Gatherer != nil {
		s.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.config.Gatherer, promhttp.HandlerOpts{})))
	}

	api := s.echo.Group("/api")
	api.POST("/analyze", s.handleAnalyze)
	api.GET("/progress/:id", s.handleProgress)
	api.GET("/result/:id", s.handleResult)
	api.GET("/jobs/:id", s.handleJob)
	api.DELETE("/jobs/:id", s.handleCancel)
	api.GET("/grades", s.handleGrades)
}

// requestLogger logs one line per request.
func requestLogger(logger *zap.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}
			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)
			return nil
		}
	}
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.echo }

// Start serves until Shutdown. It returns nil after a graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("starting http server", zap.String("addr", s.config.Addr))
	if err := s.echo.Start(s.config.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server. Open progress streams end when
// their request contexts are canceled.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}

// ErrorResponse is the body of every non-2xx API response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Pending int    `json:"pending"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok", Pending: s.engine.Pending()})
}

// statusFor maps engine and storage errors to HTTP statuses.
func statusFor(err error) int {
	var (
		verr *domain.ValidationError
		serr *domain.StorageError
		herr *echo.HTTPError
		merr *http.MaxBytesError
	)
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrPayloadTooLarge), errors.As(err, &merr):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, domain.ErrQueueFull):
		return http.StatusTooManyRequests
	case errors.Is(err, domain.ErrJobNotFound):
		return http.StatusNotFound
	case errors.As(err, &serr):
		return http.StatusServiceUnavailable
	case errors.As(err, &herr):
		return herr.Code
	}
	return http.StatusInternalServerError
}

// fail writes err as an ErrorResponse. Server errors are logged and their
// detail withheld from the client.
func (s *Server) fail(c echo.Context, err error) error {
	status := statusFor(err)
	msg := err.Error()
	var herr *echo.HTTPError
	if errors.As(err, &herr) {
		msg = fmt.Sprint(herr.Message)
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("uri", c.Request().RequestURI),
			zap.Int("status", status),
			zap.Error(err),
		)
		if status == http.StatusInternalServerError {
			msg = http.StatusText(status)
		}
	}
	return c.JSON(status, ErrorResponse{Error: msg})
}
