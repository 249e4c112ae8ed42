// Package profiles serves the derived per-user profile.
package profiles

import (
	"net/http"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"

	"github.com/mranderson01901234/5.0-sub004/internal/profile"
	"github.com/mranderson01901234/5.0-sub004/internal/security"
)

// MountRoutes mounts the profile endpoint.
func MountRoutes(r *gin.Engine, builder *profile.Builder, auth gin.HandlerFunc) {
	g := r.Group("/v1", auth)

	g.GET("/profile", func(c *gin.Context) { getProfile(c, builder) })
}

func getProfile(c *gin.Context, builder *profile.Builder) {
	userID := c.Query("userId")
	if !security.CheckUser(c, userID) {
		return
	}

	p, err := builder.Get(c.Request.Context(), userID)
	if err != nil {
		log.Error("profile route error", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"profile": p,
		"found":   p != nil,
	})
}
