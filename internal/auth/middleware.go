package auth

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

const tokenKey = "admin_token"

// AdminAuth enforces bearer JWT tokens signed with HS256. It only checks the
// signature and expiry as of now; whether the session is still open is
// decided by the ledger.
func AdminAuth(signingKey, issuer string, now func() time.Time) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenStr, ok := BearerToken(c.GetHeader("Authorization"))
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		claims, err := Parse(tokenStr, signingKey, issuer, now)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set("claims", claims)
		c.Set(tokenKey, tokenStr)
		c.Next()
	}
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(authz string) (string, bool) {
	if authz == "" || !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
		return "", false
	}
	tok := strings.TrimSpace(authz[len("bearer "):])
	return tok, tok != ""
}

// Token returns the bearer token stored by AdminAuth.
func Token(c *gin.Context) string {
	return c.GetString(tokenKey)
}
