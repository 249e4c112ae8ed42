package security

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/mranderson01901234/5.0-sub004/internal/config"
)

const (
	// UserHeader carries the trusted user identity forwarded by the gateway.
	UserHeader = "X-Memory-User"

	// ContextKeyUserID is the gin context key for the trusted user ID.
	ContextKeyUserID = "userID"
)

// IdentityMiddleware resolves the trusted identity from the gateway header.
// In prod mode the header is required; testing mode lets requests stand on
// their own userId so local tools and the test suite don't need a gateway.
func IdentityMiddleware(cfg *config.Config) gin.HandlerFunc {
	testingMode := cfg != nil && cfg.Mode == config.ModeTesting
	return func(c *gin.Context) {
		user := strings.TrimSpace(c.GetHeader(UserHeader))
		if user == "" && !testingMode {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing identity"})
			return
		}
		c.Set(ContextKeyUserID, user)
		c.Next()
	}
}

// TrustedUser returns the identity resolved by IdentityMiddleware. Empty in
// testing mode when no header was sent.
func TrustedUser(c *gin.Context) string {
	return c.GetString(ContextKeyUserID)
}

// CheckUser verifies that the request's claimed userId belongs to the caller
// and writes the error response when it does not. Cross-user access is a 403
// regardless of whether the target user exists.
func CheckUser(c *gin.Context, claimed string) bool {
	if claimed == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "userId is required"})
		return false
	}
	if trusted := TrustedUser(c); trusted != "" && trusted != claimed {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return false
	}
	return true
}
