package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/weiawesome/club-chat/pkg/jwt"
	"github.com/weiawesome/club-chat/pkg/log"
	"github.com/weiawesome/club-chat/pkg/response"
)

const (
	UserIDKey      = log.FieldUserID
	ClassKey       = log.FieldSenderClass
	DisplayNameKey = "display_name"
	AreaKey        = "area"
	AuthHeaderKey  = "Authorization"
	BearerPrefix   = "Bearer "
)

// TokenValidator is satisfied by *jwt.Manager.
type TokenValidator interface {
	ValidateToken(token string) (*jwt.Claims, error)
}

// AuthMiddleware validates bearer tokens locally.
type AuthMiddleware struct {
	validator TokenValidator
}

// NewAuthMiddleware creates a new auth middleware.
func NewAuthMiddleware(validator TokenValidator) *AuthMiddleware {
	return &AuthMiddleware{validator: validator}
}

// RequireAuth returns a Gin middleware that rejects requests without a valid token.
func (m *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader(AuthHeaderKey)
		if authHeader == "" {
			response.Unauthorized(c, "missing authorization header")
			return
		}
		if !strings.HasPrefix(authHeader, BearerPrefix) {
			response.Unauthorized(c, "invalid authorization format")
			return
		}

		claims, err := m.validator.ValidateToken(strings.TrimPrefix(authHeader, BearerPrefix))
		if err != nil {
			response.Unauthorized(c, err.Error())
			return
		}

		c.Set(UserIDKey, claims.UserID)
		c.Set(ClassKey, claims.Class)
		c.Set(DisplayNameKey, claims.DisplayName)
		c.Set(AreaKey, claims.Area)
		c.Request = c.Request.WithContext(log.WithActor(c.Request.Context(), claims.UserID, claims.Class))

		c.Next()
	}
}

// GetUserID extracts user ID from Gin context.
func GetUserID(c *gin.Context) string {
	return c.GetString(UserIDKey)
}

// GetClass extracts the participant class from Gin context.
func GetClass(c *gin.Context) string {
	return c.GetString(ClassKey)
}

// GetDisplayName extracts the display name from Gin context.
func GetDisplayName(c *gin.Context) string {
	return c.GetString(DisplayNameKey)
}

// GetArea extracts the professional area from Gin context.
func GetArea(c *gin.Context) string {
	return c.GetString(AreaKey)
}

// Participant is the authenticated caller as carried by the token.
type Participant struct {
	ID          string
	Class       string
	DisplayName string
	Area        string
}

// GetParticipant collects the authenticated caller from Gin context.
func GetParticipant(c *gin.Context) Participant {
	return Participant{
		ID:          GetUserID(c),
		Class:       GetClass(c),
		DisplayName: GetDisplayName(c),
		Area:        GetArea(c),
	}
}
