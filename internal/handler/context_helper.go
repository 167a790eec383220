package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/eventreg-api/internal/middleware"
	"github.com/noah-isme/eventreg-api/internal/models"
)

// actorFromContext builds the audit actor for the authenticated admin.
func actorFromContext(c *gin.Context) *models.Actor {
	actor := &models.Actor{IP: c.ClientIP(), UserAgent: c.GetHeader("User-Agent")}
	if claims := middleware.ClaimsFromContext(c); claims != nil {
		actor.AdminID = claims.AdminID
		actor.Username = claims.Username
	}
	return actor
}
