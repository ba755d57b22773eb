package sentry_client

import (
	"github.com/gin-gonic/gin"
)

// GinMiddleware is the gin flavour of Middleware
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		parseFormBody(c.Request)
		rc := RequestContextFromHTTP(c.Request)
		// route template rather than the concrete path
		if route := c.FullPath(); route != "" {
			rc.ScriptPath = route
		}
		c.Request = c.Request.WithContext(WithRequestContext(c.Request.Context(), rc))
		c.Next()
	}
}
