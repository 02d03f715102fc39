package auth

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"syrup-backend/internal/metadata"
)

// Middleware returns a Fiber middleware that reads a Bearer token if present
// and sets the ActorContext on the request. Requests without a token proceed
// anonymously; author resolution and audit attribution then see no actor.
// A malformed token is rejected rather than silently downgraded.
func Middleware(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		header := c.Get("Authorization")
		if header == "" {
			return c.Next()
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			return fiber.NewError(fiber.StatusUnauthorized, "Invalid auth header format")
		}

		claims, err := ParseAccessToken(parts[1], secret)
		if err != nil {
			return fiber.NewError(fiber.StatusUnauthorized, "Invalid or expired token")
		}

		c.Locals("actor", &metadata.ActorContext{
			ID:    claims.Subject,
			Roles: claims.Roles,
		})

		return c.Next()
	}
}

// GetActor extracts the ActorContext from a Fiber context, or nil.
func GetActor(c *fiber.Ctx) *metadata.ActorContext {
	actor, _ := c.Locals("actor").(*metadata.ActorContext)
	return actor
}
