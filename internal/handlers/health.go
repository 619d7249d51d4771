package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Clock is anything that can prove the store is reachable.
type Clock interface {
	Now(ctx context.Context) (int64, error)
}

// Healthz answers 200 while the store clock can be read.
func Healthz(store Clock) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		now, err := store.Now(ctx)
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "retryable": true})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "store_time": now})
	}
}
