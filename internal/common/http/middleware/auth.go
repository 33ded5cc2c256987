package middleware

import (
	"context"
	"strings"

	appErr "codeduel/pkg/errors"
	"codeduel/pkg/utils/contextkey"
	"codeduel/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

const userIDContextKey = "user_id"

// Authenticator resolves an access token to the user it was issued for.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (string, error)
}

// Auth rejects requests without a valid bearer token and stores the caller's
// user id on the gin and request contexts.
func Auth(authenticator Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		if authenticator == nil {
			response.AbortWithError(c, appErr.New(appErr.ServiceUnavailable).WithMessage("authentication unavailable"))
			return
		}
		token := BearerToken(c.GetHeader("Authorization"))
		if token == "" {
			response.AbortWithError(c, appErr.New(appErr.Unauthorized).WithMessage("missing bearer token"))
			return
		}
		userID, err := authenticator.Authenticate(c.Request.Context(), token)
		if err != nil {
			response.AbortWithError(c, err)
			return
		}
		c.Set(userIDContextKey, userID)
		c.Request = c.Request.WithContext(context.WithValue(c.Request.Context(), contextkey.UserID, userID))
		c.Next()
	}
}

// UserID returns the id stored by Auth, or "" on unauthenticated routes.
func UserID(c *gin.Context) string {
	return c.GetString(userIDContextKey)
}

// BearerToken extracts the token of an "Authorization: Bearer <token>" header.
func BearerToken(authHeader string) string {
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
