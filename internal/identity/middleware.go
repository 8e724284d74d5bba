package identity

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jmerrifield20/civicstreak/internal/streak"
)

// HeaderAdminSecret carries the admin secret on admin routes.
const HeaderAdminSecret = "X-Admin-Secret"

const ctxOwner = "civicstreak_owner"

// RequireOwner returns a Gin middleware that authenticates the caller and
// injects its identity into the context.
func RequireOwner(auth *Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		owner, err := auth.Authenticate(c.GetHeader("Authorization"), c.GetHeader(HeaderDevOwner))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":  err.Error(),
				"reason": "unauthenticated",
			})
			return
		}
		c.Set(ctxOwner, owner)
		c.Next()
	}
}

// OwnerFromCtx returns the identity injected by RequireOwner.
func OwnerFromCtx(c *gin.Context) (streak.Identity, bool) {
	v, ok := c.Get(ctxOwner)
	if !ok {
		return streak.Identity{}, false
	}
	id, ok := v.(streak.Identity)
	return id, ok
}

// RequireAdminSecret returns a Gin middleware accepting only requests whose
// X-Admin-Secret header matches the bcrypt hash.
func RequireAdminSecret(hash string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if hash == "" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":  "admin endpoints are disabled",
				"reason": "forbidden",
			})
			return
		}
		if !CheckAdminSecret(hash, c.GetHeader(HeaderAdminSecret)) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":  "admin secret required",
				"reason": "unauthenticated",
			})
			return
		}
		c.Next()
	}
}
