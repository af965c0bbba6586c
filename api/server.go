package api

import (
	"context"

	"github.com/bytedance/sonic"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	fiberrecover "github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"github.com/vladislavfirsov/content-pipeline/config"
	"github.com/vladislavfirsov/content-pipeline/internal/service"
)

// Server represents the HTTP server of the pipeline runtime.
type Server struct {
	app      *fiber.App
	svc      *service.Service
	cfg      config.ServerConfig
	handlers *Handlers
	logger   *zap.Logger
}

// NewServer creates a new Server in front of svc.
func NewServer(svc *service.Service, cfg config.ServerConfig, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}

	fc := fiber.Config{
		AppName:               "Content Pipeline API",
		ReadTimeout:           cfg.ReadTimeout,
		WriteTimeout:          cfg.WriteTimeout,
		ErrorHandler:          errorHandler,
		JSONEncoder:           sonic.Marshal,
		JSONDecoder:           sonic.Unmarshal,
		DisableStartupMessage: true,
	}
	if cfg.BodyLimit > 0 {
		fc.BodyLimit = cfg.BodyLimit
	}

	s := &Server{
		app:      fiber.New(fc),
		svc:      svc,
		cfg:      cfg,
		handlers: NewHandlers(svc),
		logger:   log,
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// setupMiddleware configures middleware for the server.
func (s *Server) setupMiddleware() {
	s.app.Use(fiberrecover.New(fiberrecover.Config{
		EnableStackTrace: true,
	}))

	s.app.Use(logger.New(logger.Config{
		Format:     "${time} | ${status} | ${latency} | ${method} ${path}\n",
		TimeFormat: "2006-01-02 15:04:05",
		Output:     zap.NewStdLog(s.logger.Named("http")).Writer(),
	}))

	if s.cfg.EnableCORS {
		s.app.Use(cors.New(cors.Config{
			AllowOrigins: "*",
			AllowMethods: "GET,POST,DELETE,OPTIONS",
			AllowHeaders: "Origin,Content-Type,Accept,Authorization",
			MaxAge:       86400,
		}))
	}
}

// setupRoutes registers the API routes.
func (s *Server) setupRoutes() {
	h := s.handlers
	s.app.Get("/health", h.HandleHealth)

	v1 := s.app.Group("/api/v1")
	v1.Post("/jobs", h.HandleSubmitJob)
	v1.Get("/jobs", h.HandleListJobs)
	v1.Get("/jobs/:id", h.HandleGetJob)
	v1.Post("/jobs/:id/cancel", h.HandleCancelJob)
	v1.Delete("/jobs/:id", h.HandleDeleteJob)
	v1.Get("/tasks", h.HandleListTasks)
	v1.Get("/templates", h.HandleListTemplates)
	v1.Get("/templates/:id", h.HandleGetTemplate)
}

// Start starts the HTTP server on the configured address.
// Blocks until the server is stopped or an error occurs.
func (s *Server) Start() error {
	s.logger.Info("http server listening", zap.String("address", s.cfg.Address))
	return s.app.Listen(s.cfg.Address)
}

// Shutdown gracefully shuts down the server.
// Cancels all active jobs and waits for them before closing HTTP.
func (s *Server) Shutdown(ctx context.Context) error {
	svcErr := s.svc.Shutdown(ctx)
	if err := s.app.ShutdownWithContext(ctx); err != nil {
		return err
	}
	return svcErr
}

// App returns the underlying Fiber app.
func (s *Server) App() *fiber.App {
	return s.app
}
