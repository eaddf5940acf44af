package server

import (
	"errors"
	"log"
	"net/url"

	"deskwatch/internal/encoder"
	"deskwatch/internal/screenshot"
	"deskwatch/internal/session"
	"deskwatch/internal/storage"

	"github.com/gofiber/fiber/v2"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// commandError maps controller errors to HTTP responses.
func commandError(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	switch {
	case errors.Is(err, session.ErrAlreadyRunning),
		errors.Is(err, session.ErrNotRunning),
		errors.Is(err, session.ErrNotPaused):
		status = fiber.StatusConflict
	case errors.Is(err, encoder.ErrEncoderUnavailable):
		status = fiber.StatusServiceUnavailable
	case errors.Is(err, screenshot.ErrInvalidInterval),
		errors.Is(err, session.ErrInvalidKeyword):
		status = fiber.StatusBadRequest
	case errors.Is(err, storage.ErrUnavailable):
		status = fiber.StatusServiceUnavailable
	}
	if status == fiber.StatusInternalServerError {
		log.Printf("Server: %s %s failed: %v", c.Method(), c.Path(), err)
	}
	return c.Status(status).JSON(fiber.Map{
		"error": err.Error(),
	})
}

func (s *FiberServer) startRecording(c *fiber.Ctx) error {
	res, err := s.ctl.Start(c.UserContext())
	if err != nil {
		return commandError(c, err)
	}
	return c.JSON(fiber.Map{
		"message":    "Recording started",
		"session_id": res.SessionID,
		"segment":    res.Segment,
	})
}

func (s *FiberServer) stopRecording(c *fiber.Ctx) error {
	res, err := s.ctl.Stop(c.UserContext())
	if err != nil {
		return commandError(c, err)
	}
	return c.JSON(res)
}

func (s *FiberServer) pauseRecording(c *fiber.Ctx) error {
	if err := s.ctl.Pause(c.UserContext()); err != nil {
		return commandError(c, err)
	}
	return c.JSON(fiber.Map{"message": "Recording paused"})
}

func (s *FiberServer) resumeRecording(c *fiber.Ctx) error {
	segment, err := s.ctl.Resume(c.UserContext())
	if err != nil {
		return commandError(c, err)
	}
	return c.JSON(fiber.Map{
		"message": "Recording resumed",
		"segment": segment,
	})
}

func (s *FiberServer) startScreenshots(c *fiber.Ctx) error {
	id, err := s.ctl.StartScreenshots(c.UserContext())
	if err != nil {
		return commandError(c, err)
	}
	return c.JSON(fiber.Map{
		"message":    "Screenshot capture started",
		"session_id": id,
	})
}

func (s *FiberServer) stopScreenshots(c *fiber.Ctx) error {
	if !s.ctl.StopScreenshots(c.UserContext()) {
		return c.JSON(fiber.Map{"message": "nothing to stop"})
	}
	return c.JSON(fiber.Map{"message": "Screenshot capture stopped"})
}

type IntervalRequest struct {
	MinMinutes int `json:"min_minutes"`
	MaxMinutes int `json:"max_minutes"`
}

func (s *FiberServer) getInterval(c *fiber.Ctx) error {
	min, max := s.ctl.Interval()
	return c.JSON(IntervalRequest{MinMinutes: min, MaxMinutes: max})
}

func (s *FiberServer) setInterval(c *fiber.Ctx) error {
	var req IntervalRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if err := s.ctl.SetInterval(req.MinMinutes, req.MaxMinutes); err != nil {
		return commandError(c, err)
	}
	return s.getInterval(c)
}

func (s *FiberServer) screenshotImage(c *fiber.Ctx) error {
	if s.images == nil {
		return commandError(c, storage.ErrUnavailable)
	}
	imageID, err := primitive.ObjectIDFromHex(c.Params("imageID"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid image ID",
		})
	}
	data, err := s.images.ScreenshotImage(c.UserContext(), imageID)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Screenshot not found",
		})
	}
	c.Set(fiber.HeaderContentType, "image/png")
	return c.Send(data)
}

type ExclusionRequest struct {
	Keyword string `json:"keyword"`
}

func (s *FiberServer) listExclusions(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"keywords": s.ctl.Exclusions()})
}

func (s *FiberServer) addExclusion(c *fiber.Ctx) error {
	var req ExclusionRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	added, err := s.ctl.AddExclusion(c.UserContext(), req.Keyword)
	if err != nil {
		return commandError(c, err)
	}
	status := fiber.StatusCreated
	if !added {
		status = fiber.StatusOK
	}
	return c.Status(status).JSON(fiber.Map{
		"added":    added,
		"keywords": s.ctl.Exclusions(),
	})
}

func (s *FiberServer) removeExclusion(c *fiber.Ctx) error {
	keyword, err := url.PathUnescape(c.Params("keyword"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid keyword",
		})
	}
	removed, err := s.ctl.RemoveExclusion(c.UserContext(), keyword)
	if err != nil {
		return commandError(c, err)
	}
	if !removed {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Keyword not found",
		})
	}
	return c.JSON(fiber.Map{
		"removed":  true,
		"keywords": s.ctl.Exclusions(),
	})
}

func (s *FiberServer) status(c *fiber.Ctx) error {
	return c.JSON(s.ctl.Status())
}

func (s *FiberServer) startIdle(c *fiber.Ctx) error {
	if err := s.ctl.StartIdle(c.UserContext()); err != nil {
		return commandError(c, err)
	}
	return c.JSON(fiber.Map{"message": "Idle detection started"})
}

func (s *FiberServer) stopIdle(c *fiber.Ctx) error {
	if !s.ctl.StopIdle(c.UserContext()) {
		return c.JSON(fiber.Map{"message": "nothing to stop"})
	}
	return c.JSON(fiber.Map{"message": "Idle detection stopped"})
}

func (s *FiberServer) idleStatus(c *fiber.Ctx) error {
	live := c.QueryBool("live", false)
	return c.JSON(s.ctl.IdleStatus(c.UserContext(), live))
}

func (s *FiberServer) reportActivity(c *fiber.Ctx) error {
	s.ctl.Touch()
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *FiberServer) listRecordings(c *fiber.Ctx) error {
	items, err := s.reader.ListRecordings(c.UserContext(), int64(c.QueryInt("limit", 50)))
	if err != nil {
		return commandError(c, err)
	}
	return c.JSON(fiber.Map{"recordings": items})
}

func (s *FiberServer) listScreenshots(c *fiber.Ctx) error {
	items, err := s.reader.ListScreenshots(c.UserContext(), c.Query("session_id"), int64(c.QueryInt("limit", 50)))
	if err != nil {
		return commandError(c, err)
	}
	return c.JSON(fiber.Map{"screenshots": items})
}

func (s *FiberServer) listActivity(c *fiber.Ctx) error {
	items, err := s.reader.ListActivity(c.UserContext(), int64(c.QueryInt("limit", 50)))
	if err != nil {
		return commandError(c, err)
	}
	return c.JSON(fiber.Map{"activity": items})
}

func (s *FiberServer) listNetwork(c *fiber.Ctx) error {
	items, err := s.reader.ListNetworkUsage(c.UserContext(), int64(c.QueryInt("limit", 50)))
	if err != nil {
		return commandError(c, err)
	}
	return c.JSON(fiber.Map{"network": items})
}
