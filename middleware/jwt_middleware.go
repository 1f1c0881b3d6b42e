package middleware

import (
	"context"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"leadforge/models"
)

// IdentityKey is the fiber Locals key holding the models.Identity.
const IdentityKey = "identity"

// Authenticator resolves an access token to the caller it was issued to.
type Authenticator interface {
	Authenticate(ctx context.Context, accessToken string) (*models.Identity, error)
}

// BearerToken reads the access token from the Authorization header, falling
// back to the access_token cookie.
func BearerToken(c *fiber.Ctx) (string, error) {
	authHeader := c.Get("Authorization")
	if authHeader == "" {
		if token := c.Cookies("access_token"); token != "" {
			return token, nil
		}
		return "", errors.New("authorization required")
	}
	tokenParts := strings.Split(authHeader, " ")
	if len(tokenParts) != 2 || tokenParts[0] != "Bearer" || tokenParts[1] == "" {
		return "", errors.New("invalid authorization format")
	}
	return tokenParts[1], nil
}

func Protected(auth Authenticator) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token, err := BearerToken(c)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"success": false,
				"error":   models.CodeUnauthorized,
				"message": err.Error(),
			})
		}

		id, err := auth.Authenticate(c.UserContext(), token)
		if err != nil {
			status := fiber.StatusUnauthorized
			if errors.Is(err, models.ErrForbidden) {
				status = fiber.StatusForbidden
			}
			message := "Invalid or expired token"
			code := models.CodeUnauthorized
			if appErr, ok := models.AsAppError(err); ok {
				message = appErr.Message
				code = appErr.Code
			}
			return c.Status(status).JSON(fiber.Map{
				"success": false,
				"error":   code,
				"message": message,
			})
		}

		c.Locals(IdentityKey, *id)
		return c.Next()
	}
}

// RequireRole rejects callers below min. It must run after Protected.
func RequireRole(min models.Role) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, ok := IdentityFrom(c)
		if !ok || !id.Role.AtLeast(min) {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"success": false,
				"error":   models.CodeForbidden,
				"message": "requires the " + string(min) + " role",
			})
		}
		return c.Next()
	}
}

// IdentityFrom returns the caller stored by Protected.
func IdentityFrom(c *fiber.Ctx) (models.Identity, bool) {
	id, ok := c.Locals(IdentityKey).(models.Identity)
	return id, ok
}

// WithIdentity stores id as the authenticated caller.
func WithIdentity(c *fiber.Ctx, id models.Identity) {
	c.Locals(IdentityKey, id)
}
