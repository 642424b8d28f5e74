package httpapi

import (
	"github.com/gin-gonic/gin"

	"github.com/AriseOS/amid/internal/common/httpmw"
	"github.com/AriseOS/amid/internal/observability"
)

// NewRouter assembles the full gin.Engine for the daemon's local HTTP
// surface (spec.md §6), with /metrics mounted per SPEC_FULL.md §5.
func NewRouter(h *Handler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(httpmw.RequestLogger(h.log, "amid"))
	r.Use(corsMiddleware())

	r.GET("/metrics", gin.WrapH(observability.Handler()))

	qt := r.Group("/quick-task")
	{
		qt.POST("/execute", h.Execute)
		qt.GET("/stream/:task_id", h.Stream)
		qt.POST("/message/:task_id", h.Message)
		qt.POST("/cancel/:task_id", h.Cancel)
		qt.POST("/pause/:task_id", h.Pause)
		qt.POST("/resume/:task_id", h.Resume)
		qt.GET("/tasks", h.ListTasks)
		qt.GET("/status/:task_id", h.Status)
		qt.GET("/result/:task_id", h.Result)
		qt.GET("/:task_id/detail", h.Detail)
		qt.GET("/workspace/:task_id", h.ListWorkspace)
		qt.GET("/workspace/:task_id/file/*path", h.ReadFile)
		qt.DELETE("/workspace/:task_id", h.DeleteWorkspace)
		qt.DELETE("/workspace/:task_id/file/*path", h.DeleteFile)
	}

	return r
}

// corsMiddleware mirrors the daemon's local-only UI rendezvous: the UI and
// the daemon always run on the same machine, so origin is not restricted.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	}
}
