package routes

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// HealthRoutes registers the liveness probes. They bypass rate limiting
// so orchestrators keep their signal while the registry is shedding load.
func HealthRoutes(router *gin.Engine) {
	probe := func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "atoll-registry",
			"time":    time.Now().UTC(),
		})
	}
	router.GET("/health", probe)
	router.GET("/v1/health", probe)
}
