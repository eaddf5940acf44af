package server

import (
	"context"
	"strings"

	"deskwatch/internal/auth"
	"deskwatch/internal/config"
	"deskwatch/internal/events"
	"deskwatch/internal/session"
	"deskwatch/internal/storage"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// HealthChecker reports database health; database.Service fits.
type HealthChecker interface {
	Health() map[string]string
}

// ImageReader serves stored screenshot bytes; *storage.MongoStore fits.
type ImageReader interface {
	ScreenshotImage(ctx context.Context, imageID primitive.ObjectID) ([]byte, error)
}

type Deps struct {
	Controller *session.Controller
	Reader     storage.Reader
	Images     ImageReader
	Health     HealthChecker
	Hub        *events.Hub
	JWT        *auth.JWTService
	Admin      *auth.Admin
}

type FiberServer struct {
	*fiber.App
	cfg *config.Config

	ctl    *session.Controller
	reader storage.Reader
	images ImageReader
	health HealthChecker
	hub    *events.Hub
	jwt    *auth.JWTService
	admin  *auth.Admin
}

func New(cfg *config.Config, deps Deps) *FiberServer {
	app := fiber.New(fiber.Config{
		ServerHeader: "deskwatch",
		AppName:      "deskwatch",
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
		ErrorHandler: errorHandler,
	})

	reader := deps.Reader
	if reader == nil {
		reader = storage.Offline{}
	}

	server := &FiberServer{
		App:    app,
		cfg:    cfg,
		ctl:    deps.Controller,
		reader: reader,
		images: deps.Images,
		health: deps.Health,
		hub:    deps.Hub,
		jwt:    deps.JWT,
		admin:  deps.Admin,
	}
	server.applyMiddleware()

	return server
}

func (s *FiberServer) applyMiddleware() {
	s.App.Use(cors.New(cors.Config{
		AllowOrigins:     strings.Join(s.cfg.Security.CORSOrigins, ","),
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS,PATCH",
		AllowHeaders:     "Accept,Authorization,Content-Type",
		AllowCredentials: false,
		MaxAge:           300,
	}))

	if s.cfg.Security.RateLimit > 0 {
		s.App.Use(limiter.New(limiter.Config{
			Max:        s.cfg.Security.RateLimit,
			Expiration: s.cfg.Security.RateWindow,
			KeyGenerator: func(c *fiber.Ctx) string {
				return c.IP()
			},
			Next: func(c *fiber.Ctx) bool {
				// Long-lived event stream.
				return c.Path() == "/api/ws"
			},
		}))
	}
}

func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
	}
	return c.Status(code).JSON(fiber.Map{
		"error": err.Error(),
	})
}
