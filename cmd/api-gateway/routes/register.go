package routes

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/atoll-registry/atoll/cmd/api-gateway/middleware"
	"github.com/atoll-registry/atoll/internal/registry"
	"github.com/atoll-registry/atoll/pkg/manifest"
	"github.com/atoll-registry/atoll/pkg/types"
)

// Manifests describe metadata, not artifacts; anything beyond this is
// either a protocol error or abuse.
const maxManifestBody = 1 << 20

// RegisterRoutes wires the write side: version registration and yanking.
// Both demand a resolved, non-anonymous principal.
func RegisterRoutes(api *gin.RouterGroup, svc *registry.Service, auth, limit gin.HandlerFunc) {
	api.POST("/register", auth, limit, handleRegister(svc))
	api.DELETE("/packages/:name/:version/yank", auth, limit, handleYank(svc))
}

func handleRegister(svc *registry.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, ok := middleware.PrincipalFromContext(c)
		if !ok {
			renderError(c, types.ErrUnauthenticated("missing credentials"))
			return
		}

		body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxManifestBody))
		if err != nil {
			renderError(c, types.ErrInvalidRequest("manifest body unreadable or too large"))
			return
		}

		var m manifest.Manifest
		if err := json.Unmarshal(body, &m); err != nil {
			renderError(c, types.ErrInvalidRequest(fmt.Sprintf("malformed manifest JSON: %v", err)))
			return
		}

		receipt, rerr := svc.Publish(c.Request.Context(), principal, &m)
		if rerr != nil {
			renderError(c, rerr)
			return
		}

		log.Info().
			Str("request_id", middleware.GetRequestID(c)).
			Str("package", receipt.Name).
			Str("version", receipt.Version).
			Str("principal", principal.ID).
			Bool("replay", receipt.IdempotentReplay).
			Msg("version registered")

		c.JSON(http.StatusOK, receipt)
	}
}

type yankRequest struct {
	Reason string `json:"reason"`
}

func handleYank(svc *registry.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, ok := middleware.PrincipalFromContext(c)
		if !ok {
			renderError(c, types.ErrUnauthenticated("missing credentials"))
			return
		}

		// The reason body is optional; DELETE without one is a plain yank.
		var req yankRequest
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				renderError(c, types.ErrInvalidRequest(fmt.Sprintf("malformed yank body: %v", err)))
				return
			}
		}

		name, label := c.Param("name"), c.Param("version")
		if rerr := svc.Yank(c.Request.Context(), principal, name, label, req.Reason); rerr != nil {
			renderError(c, rerr)
			return
		}

		log.Info().
			Str("request_id", middleware.GetRequestID(c)).
			Str("package", name).
			Str("version", label).
			Str("principal", principal.ID).
			Msg("version yanked")

		c.JSON(http.StatusOK, gin.H{"name": name, "version": label, "yanked": true})
	}
}
