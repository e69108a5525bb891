package routes

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/atoll-registry/atoll/internal/discovery"
)

// The registry stores no artifact bytes, so a download is always a 302 to
// the registered external URL plus the expected digest and size for
// client-side verification.

func handleDownloadByFilename(svc *discovery.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		resolved, rerr := svc.ResolveDownload(c.Request.Context(),
			c.Param("name"), c.Param("version"), c.Param("filename"))
		if rerr != nil {
			renderError(c, rerr)
			return
		}

		c.Header("X-Checksum-SHA256", resolved.SHA256)
		c.Header("X-Expected-Size", strconv.FormatInt(resolved.Size, 10))
		c.Redirect(http.StatusFound, resolved.URL)
	}
}

// handleDownloadBest picks the most specific active distribution that is
// compatible with the optional platform query and redirects to it. The
// chosen filename rides along in X-Filename since the caller never named
// one.
func handleDownloadBest(svc *discovery.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		resolved, rerr := svc.ResolveBestDownload(c.Request.Context(),
			c.Param("name"), c.Param("version"), c.Query("platform"))
		if rerr != nil {
			renderError(c, rerr)
			return
		}

		c.Header("X-Checksum-SHA256", resolved.SHA256)
		c.Header("X-Expected-Size", strconv.FormatInt(resolved.Size, 10))
		c.Header("X-Filename", resolved.Filename)
		c.Redirect(http.StatusFound, resolved.URL)
	}
}
