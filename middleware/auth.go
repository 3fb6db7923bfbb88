package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"
)

const userIDKey = "user_id"

// UserContextMiddleware reads the identity the gateway attached to the
// request. Routes behind it require X-User-ID.
func UserContextMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := strings.TrimSpace(c.Get("X-User-ID"))
		if userID == "" {
			log.Warn().Str("path", c.Path()).Msg("user context: X-User-ID missing")
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "missing X-User-ID, request must come through gateway with auth context",
			})
		}

		var roles []string
		for _, r := range strings.Split(c.Get("X-User-Roles"), ",") {
			if r = strings.TrimSpace(r); r != "" {
				roles = append(roles, r)
			}
		}

		c.Locals(userIDKey, userID)
		log.Debug().Str("user_id", userID).Strs("roles", roles).Str("path", c.Path()).Msg("user context")
		return c.Next()
	}
}

// UserID returns the caller set by UserContextMiddleware.
func UserID(c *fiber.Ctx) string {
	id, _ := c.Locals(userIDKey).(string)
	return id
}
