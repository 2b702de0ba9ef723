package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/example/tulsi/internal/config"
	"github.com/example/tulsi/internal/utils"
)

const subjectContextKey = "currentSubject"

// AuthMiddleware validates JWT tokens and loads the authenticated subject
// into context.
func AuthMiddleware(cfg *config.Config) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authHeader := c.Get("Authorization")
		if authHeader == "" {
			return fiber.NewError(fiber.StatusUnauthorized, "missing authorization header")
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			return fiber.NewError(fiber.StatusUnauthorized, "invalid authorization header")
		}

		subject, err := utils.ParseToken(cfg.JWTSecret, parts[1])
		if err != nil {
			return fiber.NewError(fiber.StatusUnauthorized, "invalid token")
		}

		c.Locals(subjectContextKey, subject)
		return c.Next()
	}
}

// GetCurrentSubject extracts the authenticated subject from context.
func GetCurrentSubject(c *fiber.Ctx) (string, bool) {
	value := c.Locals(subjectContextKey)
	if value == nil {
		return "", false
	}

	if subject, ok := value.(string); ok {
		return subject, true
	}

	return "", false
}
