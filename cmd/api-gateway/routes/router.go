package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/atoll-registry/atoll/cmd/api-gateway/middleware"
	"github.com/atoll-registry/atoll/internal/discovery"
	"github.com/atoll-registry/atoll/internal/identity"
	"github.com/atoll-registry/atoll/internal/ownership"
	"github.com/atoll-registry/atoll/internal/ratelimit"
	"github.com/atoll-registry/atoll/internal/registry"
	"github.com/atoll-registry/atoll/pkg/config"
)

// Services bundles everything the gateway routes dispatch to.
type Services struct {
	Identity  *identity.Service
	Ownership *ownership.Service
	Registry  *registry.Service
	Discovery *discovery.Service
	Limiter   *ratelimit.Limiter
}

// NewRouter assembles the full gateway: engine-wide middleware, health
// probes, and every versioned route group. Principal resolution runs
// before the rate limiter on each group so buckets key on the resolved
// principal; health probes mount neither.
func NewRouter(cfg *config.Config, svcs Services, logger zerolog.Logger) *gin.Engine {
	router := gin.New()
	router.Use(middleware.RequestID())
	router.Use(middleware.RequestLogger(logger))
	router.Use(gin.Recovery())
	router.Use(middleware.CORS())

	HealthRoutes(router)

	optionalAuth := middleware.OptionalAuth(svcs.Identity)
	requireAuth := middleware.RequireAuth(svcs.Identity)
	readLimit := middleware.RateLimit(svcs.Limiter, &cfg.RateLimit, 1)
	writeLimit := middleware.RateLimit(svcs.Limiter, &cfg.RateLimit, float64(cfg.RateLimit.PublishCost))

	api := router.Group("/v1")
	PackageRoutes(api, svcs.Discovery, optionalAuth, readLimit)
	SearchRoutes(api, svcs.Discovery, optionalAuth, readLimit)
	RegisterRoutes(api, svcs.Registry, requireAuth, writeLimit)
	OwnershipRoutes(api, svcs.Ownership, optionalAuth, requireAuth, readLimit, writeLimit)

	return router
}
