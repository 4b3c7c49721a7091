package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// Context keys set by OperatorAuth.
const (
	ClaimsKey = "claims"
	OwnerKey  = "owner_id"
)

// OperatorAuth enforces bearer access tokens signed with HS256 and exposes
// the token subject as the request's owner id.
func OperatorAuth(signingKey, issuer string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authz := c.GetHeader("Authorization")
		if authz == "" || !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		tokenStr := strings.TrimSpace(authz[len("bearer "):])
		claims, err := Parse(tokenStr, signingKey, issuer, KindAccess)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set(ClaimsKey, claims)
		c.Set(OwnerKey, claims.Subject)
		c.Next()
	}
}

// Owner returns the owner id set by OperatorAuth.
func Owner(c *gin.Context) string {
	return c.GetString(OwnerKey)
}
