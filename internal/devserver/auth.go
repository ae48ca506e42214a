package devserver

import (
	"strings"
	"time"

	"feedsync/internal/models"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

const localUserID = "userID"

// IssueToken signs an HS256 token for user, valid for ttl.
func IssueToken(secret []byte, user models.User, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":      user.ID,
		"username": user.Name,
		"email":    user.Email,
		"iat":      now.Unix(),
		"exp":      now.Add(ttl).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// AuthRequired enforces a valid token, taken from the Authorization header
// or, for websocket upgrades, from the token query parameter. The subject is
// stored in the request locals.
func AuthRequired(secret []byte) fiber.Handler {
	return func(c *fiber.Ctx) error {
		tokenString := c.Query("token")
		if tokenString == "" {
			authHeader := c.Get("Authorization")
			if authHeader == "" {
				return writeError(c, fiber.StatusUnauthorized, "UNAUTHORIZED", "Authorization header required")
			}
			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				return writeError(c, fiber.StatusUnauthorized, "UNAUTHORIZED", "Invalid authorization header format")
			}
			tokenString = parts[1]
		}

		token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fiber.NewError(fiber.StatusUnauthorized, "Invalid signing method")
			}
			return secret, nil
		})
		if err != nil || !token.Valid {
			return writeError(c, fiber.StatusUnauthorized, "UNAUTHORIZED", "Invalid or expired token")
		}

		sub, err := token.Claims.GetSubject()
		if err != nil || sub == "" {
			return writeError(c, fiber.StatusUnauthorized, "UNAUTHORIZED", "Invalid token structure - missing subject")
		}
		c.Locals(localUserID, sub)
		return c.Next()
	}
}

func currentUser(c *fiber.Ctx) string {
	id, _ := c.Locals(localUserID).(string)
	return id
}

func writeError(c *fiber.Ctx, status int, code, message string) error {
	return c.Status(status).JSON(fiber.Map{
		"error": message,
		"code":  code,
	})
}

// writeAppError maps an *models.AppError to its HTTP status.
func writeAppError(c *fiber.Ctx, err error) error {
	switch {
	case models.IsCode(err, "NOT_FOUND"):
		return writeError(c, fiber.StatusNotFound, "NOT_FOUND", err.Error())
	case models.IsCode(err, "VALIDATION_ERROR"):
		return writeError(c, fiber.StatusBadRequest, "VALIDATION_ERROR", err.Error())
	case models.IsCode(err, "UNAUTHORIZED"):
		return writeError(c, fiber.StatusUnauthorized, "UNAUTHORIZED", err.Error())
	default:
		return writeError(c, fiber.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error")
	}
}
