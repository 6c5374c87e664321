package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// AdminMiddleware guards operator endpoints with a static API key.
type AdminMiddleware struct {
	apiKey string
}

// NewAdminMiddleware creates the admin guard for the configured key.
// An empty key disables admin access entirely.
func NewAdminMiddleware(apiKey string) *AdminMiddleware {
	return &AdminMiddleware{apiKey: apiKey}
}

// presentedKey extracts the API key from the request. A Bearer token in
// the Authorization header wins over the X-API-Key header.
func presentedKey(c *gin.Context) string {
	if token, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer "); ok {
		return token
	}
	return c.GetHeader("X-API-Key")
}

// RequireAdminAuth validates the admin API key, accepted as a Bearer
// token in the Authorization header or in the X-API-Key header. Query
// parameters are never consulted so keys stay out of access logs.
func (am *AdminMiddleware) RequireAdminAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !am.ValidateAdminKey(presentedKey(c)) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "Unauthorized",
				"message": "Valid admin API key required for this endpoint",
			})
			return
		}
		c.Next()
	}
}

// ValidateAdminKey reports whether key matches the configured admin key,
// comparing in constant time. It never matches when no key is configured.
func (am *AdminMiddleware) ValidateAdminKey(key string) bool {
	if am.apiKey == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(key), []byte(am.apiKey)) == 1
}
