package httpapi

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// NewRouter mounts the admin API under /admin/api/v1
func NewRouter(h *Handler, logger *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(RequestLogger(logger), Recovery(logger))

	api := r.Group("/admin/api/v1")
	api.GET("/health", h.Health)
	api.GET("/views", h.ListViews)
	api.POST("/views/:view/sessions", h.OpenSession)

	sessions := api.Group("/sessions/:sid")
	sessions.GET("", h.GetModel)
	sessions.DELETE("", h.CloseSession)
	sessions.POST("/retry", h.Retry)
	sessions.GET("/export", h.Export)

	sessions.GET("/detail", h.GetDetail)
	sessions.PUT("/selection", h.Select)
	sessions.DELETE("/selection", h.Deselect)
	sessions.POST("/delete/request", h.RequestDelete)
	sessions.POST("/delete/confirm", h.ConfirmDelete)
	sessions.POST("/delete/cancel", h.CancelDelete)

	api.GET("/ws/sessions/:sid", h.Stream)

	return r
}
