package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"wa-gateway-lite/internal/auth"
)

const claimsContextKey = "claims"

func ClaimsFromContext(c *gin.Context) (*auth.Claims, bool) {
	v, ok := c.Get(claimsContextKey)
	if !ok {
		return nil, false
	}
	claims, ok := v.(*auth.Claims)
	return claims, ok && claims != nil
}

// SubjectFromContext returns the authenticated token subject.
func SubjectFromContext(c *gin.Context) (string, bool) {
	claims, ok := ClaimsFromContext(c)
	if !ok || claims.Subject == "" {
		return "", false
	}
	return claims.Subject, true
}

func RequireAuth(cfg auth.TokenConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid authentication token"})
			c.Abort()
			return
		}

		claims, err := auth.VerifyToken(strings.TrimSpace(parts[1]), cfg)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid authentication token"})
			c.Abort()
			return
		}

		c.Set(claimsContextKey, claims)
		c.Next()
	}
}

// RequireSessionScope rejects tokens that are scoped to other sessions than
// the one named by the route parameter.
func RequireSessionScope(param string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := ClaimsFromContext(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid authentication token"})
			c.Abort()
			return
		}
		if !claims.AllowsSession(c.Param(param)) {
			c.JSON(http.StatusForbidden, gin.H{"error": "Session not permitted for this token"})
			c.Abort()
			return
		}
		c.Next()
	}
}
