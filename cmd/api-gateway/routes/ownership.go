package routes

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/atoll-registry/atoll/cmd/api-gateway/middleware"
	"github.com/atoll-registry/atoll/internal/ownership"
	"github.com/atoll-registry/atoll/pkg/types"
)

// OwnershipRoutes registers collaborator and trusted-publisher rule
// management. Listing is public; mutations are owner-only, which the
// service enforces against the authenticated principal.
func OwnershipRoutes(api *gin.RouterGroup, svc *ownership.Service, optionalAuth, requireAuth, readLimit, writeLimit gin.HandlerFunc) {
	api.GET("/packages/:name/collaborators", optionalAuth, readLimit, handleListCollaborators(svc))
	api.POST("/packages/:name/collaborators", requireAuth, writeLimit, handleAddCollaborator(svc))
	api.DELETE("/packages/:name/collaborators/:principal", requireAuth, writeLimit, handleRemoveCollaborator(svc))

	api.GET("/packages/:name/trusted-publishers", optionalAuth, readLimit, handleListTrustedPublishers(svc))
	api.POST("/packages/:name/trusted-publishers", requireAuth, writeLimit, handleAddTrustedPublisher(svc))
	api.DELETE("/packages/:name/trusted-publishers/:id", requireAuth, writeLimit, handleRemoveTrustedPublisher(svc))
}

// AddCollaboratorRequest is the body for granting package access.
type AddCollaboratorRequest struct {
	Principal string `json:"principal" binding:"required"`
	Role      string `json:"role"`
}

// AddTrustedPublisherRequest is the body for permitting a federated
// repository to publish. Workflow and environment are optional pins.
type AddTrustedPublisherRequest struct {
	Provider    string `json:"provider"`
	Repository  string `json:"repository" binding:"required"`
	Workflow    string `json:"workflow"`
	Environment string `json:"environment"`
}

// ListCollaborators godoc
//
//	@Summary		List package collaborators
//	@Description	Retrieve every principal with access to a package and their role
//	@Tags			Package Ownership
//	@Produce		json
//	@Param			name	path		string	true	"Package name"
//	@Success		200		{object}	object{package=string,collaborators=[]object}	"Collaborators retrieved"
//	@Failure		404		{object}	object{error=object}	"Package not found"
//	@Router			/packages/{name}/collaborators [get]
func handleListCollaborators(svc *ownership.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		name := c.Param("name")
		collaborators, rerr := svc.ListCollaborators(c.Request.Context(), name)
		if rerr != nil {
			renderError(c, rerr)
			return
		}
		c.JSON(http.StatusOK, gin.H{"package": name, "collaborators": collaborators})
	}
}

func handleAddCollaborator(svc *ownership.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, ok := middleware.PrincipalFromContext(c)
		if !ok {
			renderError(c, types.ErrUnauthenticated("missing credentials"))
			return
		}

		var req AddCollaboratorRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			renderError(c, types.ErrInvalidRequest(fmt.Sprintf("malformed collaborator body: %v", err)))
			return
		}

		name := c.Param("name")
		record, rerr := svc.AddCollaborator(c.Request.Context(), principal, name, req.Principal, req.Role)
		if rerr != nil {
			renderError(c, rerr)
			return
		}

		log.Info().
			Str("request_id", middleware.GetRequestID(c)).
			Str("package", name).
			Str("principal", record.Principal).
			Str("role", record.Role).
			Msg("collaborator granted")

		c.JSON(http.StatusOK, record)
	}
}

func handleRemoveCollaborator(svc *ownership.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, ok := middleware.PrincipalFromContext(c)
		if !ok {
			renderError(c, types.ErrUnauthenticated("missing credentials"))
			return
		}

		name, target := c.Param("name"), c.Param("principal")
		if rerr := svc.RemoveCollaborator(c.Request.Context(), principal, name, target); rerr != nil {
			renderError(c, rerr)
			return
		}
		c.JSON(http.StatusOK, gin.H{"package": name, "principal": target, "removed": true})
	}
}

func handleListTrustedPublishers(svc *ownership.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		name := c.Param("name")
		rules, rerr := svc.ListTrustedPublishers(c.Request.Context(), name)
		if rerr != nil {
			renderError(c, rerr)
			return
		}
		c.JSON(http.StatusOK, gin.H{"package": name, "trusted_publishers": rules})
	}
}

func handleAddTrustedPublisher(svc *ownership.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, ok := middleware.PrincipalFromContext(c)
		if !ok {
			renderError(c, types.ErrUnauthenticated("missing credentials"))
			return
		}

		var req AddTrustedPublisherRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			renderError(c, types.ErrInvalidRequest(fmt.Sprintf("malformed trusted publisher body: %v", err)))
			return
		}

		name := c.Param("name")
		rule, rerr := svc.AddTrustedPublisher(c.Request.Context(), principal, name, types.TrustedPublisher{
			Provider:    req.Provider,
			Repository:  req.Repository,
			Workflow:    req.Workflow,
			Environment: req.Environment,
		})
		if rerr != nil {
			renderError(c, rerr)
			return
		}

		log.Info().
			Str("request_id", middleware.GetRequestID(c)).
			Str("package", name).
			Str("repository", rule.Repository).
			Msg("trusted publisher rule added")

		c.JSON(http.StatusOK, rule)
	}
}

func handleRemoveTrustedPublisher(svc *ownership.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, ok := middleware.PrincipalFromContext(c)
		if !ok {
			renderError(c, types.ErrUnauthenticated("missing credentials"))
			return
		}

		ruleID, err := uuid.Parse(c.Param("id"))
		if err != nil {
			renderError(c, types.ErrInvalidRequest("trusted publisher rule id must be a UUID"))
			return
		}

		name := c.Param("name")
		if rerr := svc.RemoveTrustedPublisher(c.Request.Context(), principal, name, ruleID); rerr != nil {
			renderError(c, rerr)
			return
		}
		c.JSON(http.StatusOK, gin.H{"package": name, "rule_id": ruleID, "removed": true})
	}
}
