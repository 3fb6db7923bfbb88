package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rotisserie/eris"

	"matchmaking-system/middleware"
	"matchmaking-system/services"
)

type enqueueRequest struct {
	PoolID string `json:"pool_id"`
}

type scoreRequest struct {
	Points int64 `json:"points"`
}

func Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

func SetupMatchmakingRoutes(app *fiber.App, queue *services.TicketQueue, lifecycle *services.MatchLifecycle) {
	// public routes go first, the secured group below applies to everything
	// registered after it
	app.Get("/matches/:id", func(c *fiber.Ctx) error {
		view, err := lifecycle.Get(c.UserContext(), c.Params("id"))
		if err != nil {
			return err
		}
		return c.JSON(view)
	})

	app.Get("/ratings/:user_id", func(c *fiber.Ctx) error {
		r, err := lifecycle.Rating(c.UserContext(), c.Params("user_id"))
		if err != nil {
			return err
		}
		return c.JSON(r)
	})

	secured := app.Group("/", middleware.UserContextMiddleware())

	secured.Post("/queue/tickets", func(c *fiber.Ctx) error {
		var req enqueueRequest
		if err := c.BodyParser(&req); err != nil {
			return eris.Wrap(services.ErrInvalidInput, "malformed body")
		}
		ticket, err := queue.Enqueue(c.UserContext(), middleware.UserID(c), req.PoolID)
		if err != nil {
			return err
		}
		return c.Status(fiber.StatusCreated).JSON(ticket)
	})

	secured.Delete("/queue/tickets", func(c *fiber.Ctx) error {
		n, err := queue.Cancel(c.UserContext(), middleware.UserID(c))
		if err != nil {
			return err
		}
		return c.JSON(fiber.Map{"cancelled": n})
	})

	secured.Get("/queue/tickets/:id", func(c *fiber.Ctx) error {
		ticket, err := queue.Get(c.UserContext(), c.Params("id"))
		if err != nil {
			return err
		}
		// other players' tickets are not visible
		if ticket.UserID != middleware.UserID(c) {
			return eris.Wrapf(services.ErrTicketNotFound, "ticket %s", ticket.ID)
		}
		return c.JSON(ticket)
	})

	secured.Post("/matches/:id/score", func(c *fiber.Ctx) error {
		var req scoreRequest
		if err := c.BodyParser(&req); err != nil {
			return eris.Wrap(services.ErrInvalidInput, "malformed body")
		}
		if err := lifecycle.RecordScore(c.UserContext(), c.Params("id"), middleware.UserID(c), req.Points); err != nil {
			return err
		}
		return c.SendStatus(fiber.StatusNoContent)
	})
}
