package httpapi

import (
	"callops/internal/rbac"

	"github.com/gin-gonic/gin"
)

// Register mounts the internal API on g. Identity must already be bound by
// the group's auth middleware.
func (h Handlers) Register(g *gin.RouterGroup) {
	read := rbac.Guard(rbac.CallReaders...)
	write := rbac.Guard(rbac.CallWriters...)

	callsGroup := g.Group("/calls")
	callsGroup.POST("", chain(write, h.CreateCall)...)
	callsGroup.GET("/:session_id", chain(read, h.GetCall)...)
	callsGroup.POST("/:session_id/dial", chain(write, h.DialCall)...)
	callsGroup.POST("/:session_id/link", chain(write, h.LinkCall)...)
	callsGroup.POST("/:session_id/outcome", chain(write, h.RecordOutcome)...)

	g.GET("/followups/queue", chain(read, h.FollowupQueue)...)
}

func chain(guard []gin.HandlerFunc, h gin.HandlerFunc) []gin.HandlerFunc {
	out := make([]gin.HandlerFunc, 0, len(guard)+1)
	return append(append(out, guard...), h)
}
