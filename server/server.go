// Package server exposes a Panel over HTTP.
package server

import (
	"context"
	"errors"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/klejdi94/synthpanel"
	"github.com/klejdi94/synthpanel/archive"
	"github.com/klejdi94/synthpanel/config"
	"github.com/klejdi94/synthpanel/core"
)

// ServiceName is reported by the health endpoint.
const ServiceName = "Synthetic Market Research API"

const shutdownTimeout = 10 * time.Second

// Server is the HTTP front end of a Panel.
type Server struct {
	App *fiber.App

	cfg            config.ServerConfig
	panel          *synthpanel.Panel
	hasCredentials bool
	gatherer       prometheus.Gatherer
}

// Option configures the server.
type Option func(*Server)

// WithCredentials sets the has_credentials flag reported by GET /.
func WithCredentials(ok bool) Option { return func(s *Server) { s.hasCredentials = ok } }

// WithGatherer sets the registry served on /metrics (default prometheus.DefaultGatherer).
func WithGatherer(g prometheus.Gatherer) Option { return func(s *Server) { s.gatherer = g } }

// New creates the server. panel may be nil when credentials are missing; evaluation routes
// then answer 503 while health and metrics keep working.
func New(cfg config.ServerConfig, panel *synthpanel.Panel, opts ...Option) *Server {
	s := &Server{cfg: cfg, panel: panel, gatherer: prometheus.DefaultGatherer}
	for _, o := range opts {
		o(s)
	}

	app := fiber.New(fiber.Config{
		AppName:               ServiceName,
		ErrorHandler:          errorHandler,
		JSONEncoder:           sonic.Marshal,
		JSONDecoder:           sonic.Unmarshal,
		BodyLimit:             cfg.BodyLimit,
		DisableStartupMessage: true,
	})
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{AllowOrigins: "*"}))
	app.Use(accessLog)

	app.Get("/", s.handleHealth)
	app.Post("/evaluate", s.handleEvaluate)
	app.Post("/batch", s.handleBatch)
	app.Post("/estimate", s.handleEstimate)
	app.Get("/runs", s.handleListRuns)
	app.Get("/runs/:id", s.handleGetRun)
	app.Get("/runs/:id/chat", s.handleChatHistory)
	app.Post("/runs/:id/chat", s.handleChat)
	app.Get("/aggregates", s.handleAggregates)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))

	s.App = app
	return s
}

// Start listens on the configured address until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.cfg.Addr).Bool("has_credentials", s.hasCredentials).Msg("server listening")
		errCh <- s.App.Listen(s.cfg.Addr)
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return s.Shutdown(shutdownCtx)
}

// Shutdown stops accepting connections and waits for in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.App.ShutdownWithContext(ctx)
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	msg := err.Error()
	var fe *fiber.Error
	switch {
	case errors.As(err, &fe):
		code = fe.Code
		msg = fe.Message
	case errors.Is(err, core.ErrInvalidParameter):
		code = fiber.StatusBadRequest
	case errors.Is(err, archive.ErrNotFound):
		code = fiber.StatusNotFound
	case errors.Is(err, core.ErrUpstream):
		code = fiber.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		code = fiber.StatusGatewayTimeout
	}

	ev := log.Warn()
	if code >= fiber.StatusInternalServerError {
		ev = log.Error()
	}
	ev.Err(err).Int("status_code", code).Str("path", c.Path()).Str("method", c.Method()).Msg("request failed")

	return c.Status(code).JSON(ErrorResponse{Error: msg})
}

func accessLog(c *fiber.Ctx) error {
	start := time.Now()
	err := c.Next()
	log.Debug().Str("method", c.Method()).Str("path", c.Path()).
		Int("status", c.Response().StatusCode()).Dur("latency", time.Since(start)).Msg("request")
	return err
}
