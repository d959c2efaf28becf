package middleware

import (
	"github.com/gin-gonic/gin"
)

// NoStore marks responses as private to the student. Session state and
// recorded takes must never land in a shared cache.
func NoStore() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Cache-Control", "no-store")
		c.Next()
	}
}
