package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/atoll-registry/atoll/internal/identity"
)

const principalKey = "principal"

// RequireAuth resolves the Authorization header and rejects requests that
// do not carry a valid credential.
func RequireAuth(ids *identity.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, rerr := ids.Resolve(c.Request.Context(), c.GetHeader("Authorization"))
		if rerr != nil {
			c.AbortWithStatusJSON(rerr.HTTPStatus(), rerr.Body())
			return
		}
		c.Set(principalKey, principal)
		c.Next()
	}
}

// OptionalAuth resolves credentials on routes that also serve anonymous
// traffic. A request without a credential acts as the anonymous principal
// for its source address; a credential that is present but broken is an
// error, not a silent downgrade.
func OptionalAuth(ids *identity.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.Set(principalKey, identity.Anonymous(c.ClientIP()))
			c.Next()
			return
		}

		principal, rerr := ids.Resolve(c.Request.Context(), header)
		if rerr != nil {
			c.AbortWithStatusJSON(rerr.HTTPStatus(), rerr.Body())
			return
		}
		c.Set(principalKey, principal)
		c.Next()
	}
}

// PrincipalFromContext extracts the resolved principal from the gin
// context.
func PrincipalFromContext(c *gin.Context) (*identity.Principal, bool) {
	v, exists := c.Get(principalKey)
	if !exists {
		return nil, false
	}
	principal, ok := v.(*identity.Principal)
	return principal, ok
}
