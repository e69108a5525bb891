package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/atoll-registry/atoll/internal/discovery"
)

// SearchRoutes registers search and the package index snapshot.
func SearchRoutes(api *gin.RouterGroup, svc *discovery.Service, auth, limit gin.HandlerFunc) {
	api.GET("/search", auth, limit, handleSearch(svc))
	api.GET("/index.json", auth, limit, handleIndex(svc))
}

func handleSearch(svc *discovery.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		page, rerr := intQuery(c, "page", 1)
		if rerr != nil {
			renderError(c, rerr)
			return
		}
		perPage, rerr := intQuery(c, "per_page", discovery.DefaultPerPage)
		if rerr != nil {
			renderError(c, rerr)
			return
		}

		result, rerr := svc.Search(c.Request.Context(), discovery.Query{
			Q:              c.Query("q"),
			Game:           c.Query("game"),
			EntryPoint:     c.Query("entry_point"),
			CompatibleWith: c.Query("compatible_with"),
			Platform:       c.Query("platform"),
			Page:           page,
			PerPage:        perPage,
		})
		if rerr != nil {
			renderError(c, rerr)
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

func handleIndex(svc *discovery.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		index, rerr := svc.Snapshot(c.Request.Context())
		if rerr != nil {
			renderError(c, rerr)
			return
		}
		c.JSON(http.StatusOK, index)
	}
}
