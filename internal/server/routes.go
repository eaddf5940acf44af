package server

import (
	"deskwatch/internal/auth"
	"deskwatch/internal/events"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

func (s *FiberServer) RegisterFiberRoutes() {
	s.App.Get("/health", s.healthHandler)

	authHandler := auth.NewHandler(s.admin, s.jwt)
	s.App.Post("/auth/login", authHandler.Login)

	// Protected routes
	api := s.App.Group("/api", auth.Middleware(s.jwt))

	api.Post("/recording/start", s.startRecording)
	api.Post("/recording/stop", s.stopRecording)
	api.Post("/recording/pause", s.pauseRecording)
	api.Post("/recording/resume", s.resumeRecording)

	api.Post("/screenshots/start", s.startScreenshots)
	api.Post("/screenshots/stop", s.stopScreenshots)
	api.Get("/screenshots/interval", s.getInterval)
	api.Put("/screenshots/interval", s.setInterval)
	api.Get("/screenshots/:imageID/image", s.screenshotImage)

	api.Get("/exclusions", s.listExclusions)
	api.Post("/exclusions", s.addExclusion)
	api.Delete("/exclusions/:keyword", s.removeExclusion)

	api.Get("/status", s.status)

	api.Post("/idle/start", s.startIdle)
	api.Post("/idle/stop", s.stopIdle)
	api.Get("/idle/status", s.idleStatus)
	api.Post("/activity", s.reportActivity)

	api.Get("/recordings", s.listRecordings)
	api.Get("/screenshots", s.listScreenshots)
	api.Get("/activity", s.listActivity)
	api.Get("/network", s.listNetwork)

	// WebSocket event stream
	wsHandler := events.NewHandler(s.hub, s.ctl)
	api.Use("/ws", events.Upgrade)
	api.Get("/ws", websocket.New(wsHandler.Serve))
}

func (s *FiberServer) healthHandler(c *fiber.Ctx) error {
	resp := fiber.Map{
		"status": s.ctl.Status().State,
	}
	if s.health != nil {
		resp["database"] = s.health.Health()
	} else {
		resp["database"] = fiber.Map{"message": "Database not configured"}
	}
	return c.JSON(resp)
}
