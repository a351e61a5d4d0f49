package middleware

import (
	"crypto/subtle"
	"strings"

	"github.com/gin-gonic/gin"

	"paper-ingest-platform/utils"
)

// AdminAuth gates the admin surface behind a shared bearer token. An empty
// configured token disables the whole surface rather than leaving it open.
func AdminAuth(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == "" {
			utils.RespondWithForbidden(c, "Admin API is disabled: no admin token configured")
			c.Abort()
			return
		}

		header := c.GetHeader("Authorization")
		presented := strings.TrimPrefix(header, "Bearer ")
		if presented == header || presented == "" {
			utils.RespondWithUnauthorized(c, "Admin token required")
			c.Abort()
			return
		}
		if subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
			utils.RespondWithForbidden(c, "Invalid admin token")
			c.Abort()
			return
		}
		c.Next()
	}
}
