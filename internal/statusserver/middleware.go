package statusserver

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// tokenAuth is the bearer-token gate for the status endpoint, adapted from
// the teacher's internal/client/middleware.TokenAuth.
func tokenAuth(token string) gin.HandlerFunc {
	if token == "" {
		slog.Warn("status server auth disabled: no token configured")
		return func(c *gin.Context) { c.Next() }
	}

	return func(c *gin.Context) {
		got := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		if got == "" {
			got = c.Query("token")
		}
		if got != token {
			slog.Debug("status server: invalid token", "ip", c.ClientIP())
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}
