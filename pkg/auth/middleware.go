package auth

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/gdbrns/go-whatsapp-sender/pkg/log"
	"github.com/gdbrns/go-whatsapp-sender/pkg/router"
)

// BearerAuth validates "Authorization: Bearer <jwt>". With an empty secret
// authentication is disabled and every request passes.
func BearerAuth(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if secret == "" {
			return c.Next()
		}

		authHeader := c.Get(fiber.HeaderAuthorization)
		if authHeader == "" {
			return router.ResponseUnauthorized(c, "Missing Authorization header")
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			return router.ResponseUnauthorized(c, "Invalid Authorization header format. Use: Bearer <token>")
		}

		tokenString := strings.TrimSpace(parts[1])
		if tokenString == "" {
			return router.ResponseUnauthorized(c, "Missing token")
		}

		claims, err := ValidateToken(secret, tokenString)
		if err != nil {
			log.Print(c).WithError(err).Debug("Rejected bearer token")
			return router.ResponseUnauthorized(c, "Invalid or expired token")
		}

		c.Locals("client", claims.Client)
		return c.Next()
	}
}
