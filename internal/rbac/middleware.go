package rbac

import (
	"net/http"
	"slices"

	"alara-platform/internal/auth"
	"alara-platform/pkg/logger"

	"github.com/gin-gonic/gin"
)

// RequireAnyRole admits callers whose role is listed. Admins are always
// admitted; roles outside this service's set are always refused.
func RequireAnyRole(allowed ...string) gin.HandlerFunc {
	return authorize(func(role string) bool {
		return IsAdmin(role) || (IsKnownRole(role) && slices.Contains(allowed, role))
	})
}

// RequireAdmin admits admins only.
func RequireAdmin() gin.HandlerFunc { return authorize(IsAdmin) }

func authorize(permit func(role string) bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		role, err := auth.Role(c.Request.Context())
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "role required"})
			return
		}
		if !permit(role) {
			logger.FromGin(c).Warn("access denied", "role", role, "route", c.FullPath())
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		c.Next()
	}
}
