package httpapi

import (
	"alara-platform/internal/rbac"

	"github.com/gin-gonic/gin"
)

// Register mounts the authenticated API on v1. The caller installs the
// access-token middleware on v1 before calling.
func (h Handlers) Register(v1 *gin.RouterGroup) {
	callsGroup := v1.Group("/calls")
	callsGroup.Use(rbac.RequireAnyRole(rbac.RoleUser))
	{
		callsGroup.POST("", h.PlaceCall)
		callsGroup.GET("", h.ListCalls)
		callsGroup.GET("/summary", h.CallsSummary)
		callsGroup.GET("/:call_id", h.GetCall)
	}

	convs := v1.Group("/conversations")
	convs.Use(rbac.RequireAnyRole(rbac.RoleUser))
	{
		convs.GET("/:conversation_id", h.GetConversation)
	}

	admin := v1.Group("/admin")
	admin.Use(rbac.RequireAdmin())
	{
		admin.PATCH("/calls/:call_id", h.AdminPatchCall)
		admin.POST("/calls/:call_id/status", h.AdminSetStatus)
		admin.POST("/conversations/:conversation_id/link", h.AdminLinkConversation)
	}
}
