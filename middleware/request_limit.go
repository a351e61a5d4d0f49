package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"paper-ingest-platform/utils"
)

// RequestSizeLimit rejects bodies larger than maxSize before any handler
// buffers them.
func RequestSizeLimit(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > maxSize {
			utils.RespondWithTooLarge(c, "Request body exceeds maximum size", gin.H{
				"max_size": maxSize,
				"received": c.Request.ContentLength,
			})
			c.Abort()
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}
