package run

import (
	"errors"

	"github.com/gofiber/fiber/v2"
)

type startRequest struct {
	UserID string `json:"userId"`
}

type positionRequest struct {
	SessionID string `json:"sessionId"`
	Fix
}

type endRequest struct {
	SessionID string `json:"sessionId"`
}

func RegisterRoutes(r fiber.Router, svc *Service) {
	r.Post("/start", func(c *fiber.Ctx) error {
		var req startRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		sessionID, err := svc.Start(c.Context(), req.UserID)
		if err != nil {
			return httpError(err)
		}
		return c.JSON(fiber.Map{
			"sessionId": sessionID,
			"message":   "Run session started successfully",
		})
	})

	r.Post("/position", func(c *fiber.Ctx) error {
		var req positionRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		progress, err := svc.Update(c.Context(), req.SessionID, req.Fix)
		if err != nil {
			return httpError(err)
		}
		return c.JSON(progress)
	})

	r.Post("/end", func(c *fiber.Ctx) error {
		var req endRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		summary, err := svc.End(c.Context(), req.SessionID)
		if err != nil {
			return httpError(err)
		}
		return c.JSON(fiber.Map{
			"session": summary,
			"message": "Run session completed successfully",
		})
	})

	r.Get("/history/:userId", func(c *fiber.Ctx) error {
		sessions, err := svc.History(c.Context(), c.Params("userId"), c.QueryInt("limit", 0))
		if err != nil {
			return httpError(err)
		}
		return c.JSON(fiber.Map{"sessions": sessions})
	})

	r.Get("/:sessionId/positions", func(c *fiber.Ctx) error {
		positions, err := svc.Positions(c.Context(), c.Params("sessionId"))
		if err != nil {
			return httpError(err)
		}
		return c.JSON(fiber.Map{"positions": positions})
	})

	r.Get("/:sessionId/gpx", func(c *fiber.Ctx) error {
		data, err := svc.ExportGPX(c.Context(), c.Params("sessionId"))
		if err != nil {
			return httpError(err)
		}
		c.Attachment("run-" + c.Params("sessionId") + ".gpx")
		c.Set(fiber.HeaderContentType, "application/gpx+xml")
		return c.Send(data)
	})

	r.Get("/:sessionId/fit", func(c *fiber.Ctx) error {
		data, err := svc.ExportFIT(c.Context(), c.Params("sessionId"))
		if err != nil {
			return httpError(err)
		}
		c.Attachment("run-" + c.Params("sessionId") + ".fit")
		c.Set(fiber.HeaderContentType, "application/vnd.ant.fit")
		return c.Send(data)
	})
}

func httpError(err error) error {
	var invalid *ValidationError
	if errors.As(err, &invalid) {
		return fiber.NewError(fiber.StatusBadRequest, invalid.Message)
	}
	var missing *NotFoundError
	if errors.As(err, &missing) {
		return fiber.NewError(fiber.StatusNotFound, missing.Message)
	}
	return fiber.NewError(fiber.StatusInternalServerError, err.Error())
}
