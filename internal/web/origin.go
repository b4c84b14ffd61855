package web

import (
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"
)

// originAllowed reports whether a request may act on the server. Requests
// without an Origin header, from the server's own host, or from a listed
// origin pass. "*" lists every origin.
func originAllowed(allowed []string, r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, o := range allowed {
		if o == "*" || o == origin {
			return true
		}
	}
	u, err := url.Parse(origin)
	return err == nil && u.Host == r.Host
}

// originGuard rejects state-changing requests from foreign pages.
func originGuard(allowed []string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !originAllowed(allowed, c.Request) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "origin not allowed"})
			return
		}
		c.Next()
	}
}
