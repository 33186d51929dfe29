package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Pinger is satisfied by *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Health reports 200 while the mirror database answers.
func Health(db Pinger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

// RegisterRoutes mounts the trigger and status endpoints.
func RegisterRoutes(r gin.IRouter, h *SyncHandler, db Pinger) {
	r.GET("/healthz", Health(db))
	r.POST("/sync/run", h.RunSync)
	r.GET("/sync/status", h.Status)
	r.GET("/sync/runs", h.Runs)
}
