package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog/log"

	"matchmaking-system/services"
)

// ErrorHandler is the fiber error handler of the service. Domain errors map
// to client statuses, everything else is logged and reported as 500.
func ErrorHandler(c *fiber.Ctx, err error) error {
	code := statusOf(err)
	msg := err.Error()
	if code == fiber.StatusInternalServerError {
		log.Error().Err(err).Str("path", c.Path()).Str("trace", eris.ToString(err, true)).Msg("request failed")
		msg = "internal server error"
	}
	return c.Status(code).JSON(fiber.Map{"error": msg})
}

func statusOf(err error) int {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	switch {
	case eris.Is(err, services.ErrTicketNotFound), eris.Is(err, services.ErrMatchNotFound):
		return fiber.StatusNotFound
	case eris.Is(err, services.ErrAlreadyQueued),
		eris.Is(err, services.ErrMatchNotActive),
		eris.Is(err, services.ErrMatchAlreadyFinished):
		return fiber.StatusConflict
	case eris.Is(err, services.ErrInvalidInput):
		return fiber.StatusBadRequest
	default:
		return fiber.StatusInternalServerError
	}
}
