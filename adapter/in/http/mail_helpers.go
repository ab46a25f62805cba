package http

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"

	"mail_worker/pkg/response"
)

// GetUserID extracts the authenticated user id set by the JWT middleware.
func GetUserID(c *fiber.Ctx) (string, error) {
	userID, ok := c.Locals("user_id").(string)
	if !ok || userID == "" {
		return "", fiber.ErrUnauthorized
	}
	return userID, nil
}

// JWTMiddleware validates the bearer token and stores the subject claim as
// user_id for the handlers.
func JWTMiddleware(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		header := c.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			return response.Unauthorized(c, "missing bearer token")
		}
		tokenString := strings.TrimPrefix(header, "Bearer ")

		token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return []byte(secret), nil
		})
		if err != nil || !token.Valid {
			return response.Unauthorized(c, "invalid token")
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			return response.Unauthorized(c, "invalid token claims")
		}
		sub, err := claims.GetSubject()
		if err != nil || sub == "" {
			return response.Unauthorized(c, "token has no subject")
		}

		c.Locals("user_id", sub)
		return c.Next()
	}
}
