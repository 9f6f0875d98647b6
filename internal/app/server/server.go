package server

import (
	"context"
	"errors"
	"time"

	"github.com/adaptivelab/bitly-historics/internal/http/handler"
	"github.com/adaptivelab/bitly-historics/internal/http/middleware"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Dependencies bundles what the HTTP server needs.
type Dependencies struct {
	Logger *zap.Logger
	// Redis backs the per-IP rate limit. Without it no limit is applied.
	Redis              redis.UniversalClient
	RateLimitPerMinute int
	CORSOrigin         string
	Reports            handler.ReportDeps
}

// Server wraps the Fiber application and its dependencies.
type Server struct {
	app  *fiber.App
	deps Dependencies
}

// New creates the HTTP server. Background work started by handlers runs
// under ctx.
func New(ctx context.Context, deps Dependencies) *Server {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Reports.Logger == nil {
		deps.Reports.Logger = deps.Logger
	}

	app := fiber.New(fiber.Config{
		AppName:               "bitly-historics",
		DisableStartupMessage: true,
		ReadTimeout:           15 * time.Second,
		WriteTimeout:          30 * time.Second,
		ErrorHandler:          errorHandler,
	})

	s := &Server{
		app:  app,
		deps: deps,
	}

	s.registerMiddleware()
	handler.NewReportHandler(ctx, deps.Reports).Register(app)
	return s
}

// App exposes the underlying Fiber application, mainly for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen starts the Fiber server on the given address.
func (s *Server) Listen(addr string) error {
	return s.app.Listen(addr)
}

// Shutdown gracefully stops the Fiber server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func (s *Server) registerMiddleware() {
	s.app.Use(middleware.RequestID())
	s.app.Use(middleware.Logger(s.deps.Logger))
	s.app.Use(middleware.Recovery(s.deps.Logger))
	s.app.Use(middleware.CORS(s.deps.CORSOrigin))

	if s.deps.Redis != nil && s.deps.RateLimitPerMinute > 0 {
		cfg := middleware.DefaultRateLimitConfig()
		cfg.MaxRequests = s.deps.RateLimitPerMinute
		s.app.Use("/api", middleware.RateLimit(s.deps.Redis, cfg, s.deps.Logger))
	}
}

func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "internal server error"

	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		code = fiberErr.Code
		message = fiberErr.Message
	}
	return c.Status(code).JSON(fiber.Map{"error": message})
}
