package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/atoll-registry/atoll/internal/discovery"
)

// PackageRoutes registers the read side: package listing, package and
// version detail, and download resolution. Everything here serves
// anonymous traffic; auth is optional and only affects rate-limit
// bucketing.
func PackageRoutes(api *gin.RouterGroup, svc *discovery.Service, auth, limit gin.HandlerFunc) {
	packages := api.Group("/packages")
	packages.Use(auth, limit)

	packages.GET("", handleListPackages(svc))
	packages.GET("/:name", handleGetPackage(svc))
	packages.GET("/:name/versions", handleListVersions(svc))
	packages.GET("/:name/:version", handleGetVersion(svc))
	packages.GET("/:name/:version/download", handleDownloadBest(svc))
	packages.GET("/:name/:version/download/:filename", handleDownloadByFilename(svc))
}

func handleListPackages(svc *discovery.Service) gin.HandlerFunc {
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

		listing, rerr := svc.ListPackages(c.Request.Context(), page, perPage)
		if rerr != nil {
			renderError(c, rerr)
			return
		}
		c.JSON(http.StatusOK, listing)
	}
}

func handleGetPackage(svc *discovery.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		detail, rerr := svc.GetPackage(c.Request.Context(), c.Param("name"))
		if rerr != nil {
			renderError(c, rerr)
			return
		}
		c.JSON(http.StatusOK, detail)
	}
}

func handleListVersions(svc *discovery.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		includeYanked, rerr := boolQuery(c, "include_yanked", true)
		if rerr != nil {
			renderError(c, rerr)
			return
		}

		versions, rerr := svc.ListVersions(c.Request.Context(), c.Param("name"), includeYanked)
		if rerr != nil {
			renderError(c, rerr)
			return
		}
		c.JSON(http.StatusOK, versions)
	}
}

func handleGetVersion(svc *discovery.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		detail, rerr := svc.GetVersion(c.Request.Context(), c.Param("name"), c.Param("version"))
		if rerr != nil {
			renderError(c, rerr)
			return
		}
		c.JSON(http.StatusOK, detail)
	}
}
