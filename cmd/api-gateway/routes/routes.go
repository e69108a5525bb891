// Package routes wires the registry's HTTP surface. Each file registers
// one group of endpoints; handlers translate between HTTP and the
// services, which own all semantics.
package routes

import (
	"fmt"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/atoll-registry/atoll/pkg/types"
)

// renderError writes a registry error in the canonical envelope with its
// mapped status code.
func renderError(c *gin.Context, rerr *types.RegistryError) {
	c.JSON(rerr.HTTPStatus(), rerr.Body())
}

// intQuery parses an optional integer query parameter.
func intQuery(c *gin.Context, name string, fallback int) (int, *types.RegistryError) {
	raw := c.Query(name)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, types.ErrInvalidRequest(fmt.Sprintf("query parameter %q must be an integer", name))
	}
	return v, nil
}

// boolQuery parses an optional boolean query parameter.
func boolQuery(c *gin.Context, name string, fallback bool) (bool, *types.RegistryError) {
	raw := c.Query(name)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, types.ErrInvalidRequest(fmt.Sprintf("query parameter %q must be a boolean", name))
	}
	return v, nil
}
