package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const kioskIDKey = "kiosk_id"

// KioskAuth enforces bearer access tokens and exposes the kiosk id.
func KioskAuth(issuer Issuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		authz := c.GetHeader("Authorization")
		if authz == "" || !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		tokenStr := strings.TrimSpace(authz[len("bearer "):])
		claims, err := issuer.Parse(tokenStr, UseAccess)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set("claims", claims)
		c.Set(kioskIDKey, claims.Subject)
		c.Next()
	}
}

// KioskID returns the authenticated kiosk id, or "".
func KioskID(c *gin.Context) string {
	return c.GetString(kioskIDKey)
}
