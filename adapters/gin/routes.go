// Package authgin mounts the machine identity auth HTTP surface on a gin
// router. Authentication of administrative callers is the host application's
// concern; its middleware must populate the auth.* context keys consumed by
// ginutil.ActorFrom.
package authgin

import (
	"github.com/gin-gonic/gin"

	"github.com/open-rails/machinekit/adapters/gin/handlers"
	"github.com/open-rails/machinekit/adapters/ginutil"
	"github.com/open-rails/machinekit/core"
)

// RegisterRoutes mounts the OIDC auth endpoints under /auth/oidc-auth.
func RegisterRoutes(r gin.IRouter, svc *core.Service, rl ginutil.RateLimiter) {
	g := r.Group("/auth/oidc-auth")
	g.POST("/login", handlers.HandleOIDCLoginPOST(svc, rl))
	g.POST("/identities/:identityId", handlers.HandleOIDCAuthAttachPOST(svc, rl))
	g.PATCH("/identities/:identityId", handlers.HandleOIDCAuthUpdatePATCH(svc, rl))
	g.GET("/identities/:identityId", handlers.HandleOIDCAuthGET(svc, rl))
	g.DELETE("/identities/:identityId", handlers.HandleOIDCAuthRevokeDELETE(svc, rl))
}
