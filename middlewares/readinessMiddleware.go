package middlewares

import (
	"net/http"
	"sync/atomic"

	"github.com/gin-gonic/gin"
)

var ready atomic.Bool

// MarkReady flips the readiness gate once DB and redis are connected.
func MarkReady() {
	ready.Store(true)
}

func IsReady() bool {
	return ready.Load()
}

// ReadinessMiddleware rejects traffic with 503 until the backing stores are
// connected. The port opens before the DB so platform health checks see the
// process; real requests wait here.
func ReadinessMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !ready.Load() {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "service is starting"})
			c.Abort()
			return
		}
		c.Next()
	}
}
