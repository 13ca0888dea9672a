package middleware

import (
	"strings"

	"syncroom/internal/core/services"
	apperrors "syncroom/pkg/errors"

	"github.com/gin-gonic/gin"
)

// AdminSubjectKey holds the admin token subject in the gin context.
const AdminSubjectKey = "admin_subject"

func bearerToken(c *gin.Context) (string, bool) {
	authHeader := c.GetHeader("Authorization")
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

// AdminAuthMiddleware admits only requests carrying a valid admin bearer token.
func AdminAuthMiddleware(authService services.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c)
		if !ok {
			c.Error(apperrors.NewUnauthorizedError("bearer token required"))
			c.Abort()
			return
		}

		claims, err := authService.ValidateAdminToken(token)
		if err != nil {
			c.Error(apperrors.WrapError(err, apperrors.ErrCodeUnauthorized, err.Error(), 401))
			c.Abort()
			return
		}

		c.Set(AdminSubjectKey, claims.Subject)
		c.Next()
	}
}
