// Package server exposes the registry and scheduler over HTTP. Admin routes
// require a session token; device routes require the device's own token.
package server

import (
	"context"
	"log"
	"net/http"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/gofiber/fiber/v3/middleware/recover"

	"power-backend/internal/auth"
	"power-backend/internal/models"
)

// Devices is the registry surface used by the HTTP layer
type Devices interface {
	Register(id, name string, deviceType models.DeviceType) (models.Device, error)
	Get(id string) (models.Device, error)
	List() []models.Device
	RequestCommand(id string, kind models.TaskKind) error
	Heartbeat(id, token string, reported models.PowerState) (models.Commands, error)
}

// Tasks is the scheduler surface used by the HTTP layer
type Tasks interface {
	Create(deviceID string, kind models.TaskKind, hour, minute int) (models.Task, error)
	List(deviceID string, kind models.TaskKind) ([]models.TaskStatus, error)
	Status(deviceID string, kind models.TaskKind, taskID string) (models.TaskStatus, error)
	Pause(deviceID string, kind models.TaskKind, taskID string) (models.Task, error)
	Resume(deviceID string, kind models.TaskKind, taskID string) (models.Task, error)
	Delete(deviceID string, kind models.TaskKind, taskID string) error
}

// Sessions issues and checks admin bearer tokens
type Sessions interface {
	Login(username, password string) (auth.Session, error)
	Authenticate(token string) (string, error)
}

// Config holds the server's collaborators
type Config struct {
	AppName  string
	Devices  Devices
	Tasks    Tasks
	Sessions Sessions
	Metrics  http.Handler // optional
	// Checks are reported by /health; a failing check marks it degraded
	Checks     map[string]func() bool
	RequestLog bool
}

// Server wraps the fiber app
type Server struct {
	app      *fiber.App
	devices  Devices
	tasks    Tasks
	sessions Sessions
	checks   map[string]func() bool
}

// New builds the app and maps every route
func New(cfg Config) *Server {
	if cfg.AppName == "" {
		cfg.AppName = "power-backend"
	}

	s := &Server{
		app: fiber.New(fiber.Config{
			AppName:      cfg.AppName,
			ErrorHandler: errorHandler,
		}),
		devices:  cfg.Devices,
		tasks:    cfg.Tasks,
		sessions: cfg.Sessions,
		checks:   cfg.Checks,
	}

	if cfg.RequestLog {
		s.app.Use(logger.New())
	}
	s.app.Use(recover.New())

	s.mapRoutes(cfg.Metrics)
	return s
}

func (s *Server) mapRoutes(metrics http.Handler) {
	s.app.Get("/health", s.health)
	if metrics != nil {
		s.app.Get("/metrics", adaptor.HTTPHandler(metrics))
	}

	api := s.app.Group("/api")
	api.Post("/login", s.login)
	api.Post("/device/:id/heartbeat", s.heartbeat)

	admin := api.Group("/admin", s.requireAdmin)
	admin.Post("/devices", s.registerDevice)
	admin.Get("/devices", s.listDevices)
	admin.Get("/devices/:id", s.getDevice)
	admin.Post("/devices/:id/shutdown", s.requestCommand(models.TaskKindShutdown))
	admin.Post("/devices/:id/wakeup", s.requestCommand(models.TaskKindWakeup))

	admin.Post("/devices/:id/tasks/:kind", s.createTask)
	admin.Get("/devices/:id/tasks/:kind", s.listTasks)
	admin.Post("/devices/:id/tasks/:kind/:taskId/pause", s.pauseTask)
	admin.Post("/devices/:id/tasks/:kind/:taskId/resume", s.resumeTask)
	admin.Delete("/devices/:id/tasks/:kind/:taskId", s.deleteTask)
}

func (s *Server) health(c fiber.Ctx) error {
	status := "ok"
	results := make(map[string]bool, len(s.checks))
	for name, check := range s.checks {
		results[name] = check()
		if !results[name] {
			status = "degraded"
		}
	}
	return c.JSON(fiber.Map{
		"status": status,
		"checks": results,
	})
}

// App exposes the fiber app for tests
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen serves HTTP until Shutdown is called
func (s *Server) Listen(addr string) error {
	log.Printf("HTTP server: Listening on %s", addr)
	return s.app.Listen(addr, fiber.ListenConfig{DisableStartupMessage: true})
}

// Shutdown stops accepting requests and waits for in-flight ones
func (s *Server) Shutdown(ctx context.Context) error {
	log.Println("Shutting down HTTP server...")
	return s.app.ShutdownWithContext(ctx)
}
