package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/open-rails/machinekit/adapters/ginutil"
	"github.com/open-rails/machinekit/core"
)

// HandleOIDCAuthRevokeDELETE removes OIDC auth from an identity along with
// every access token issued through it.
func HandleOIDCAuthRevokeDELETE(svc *core.Service, rl ginutil.RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !ginutil.AllowNamed(c, rl, ginutil.RLOIDCAdmin) {
			ginutil.TooMany(c)
			return
		}
		actor, ok := ginutil.ActorFrom(c)
		if !ok {
			ginutil.Unauthorized(c)
			return
		}
		identityID, err := uuid.Parse(c.Param("identityId"))
		if err != nil {
			ginutil.BadRequest(c, "invalid_identity_id")
			return
		}

		view, err := svc.Revoke(c.Request.Context(), identityID, actor)
		if err != nil {
			ginutil.WriteError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"identityOidcAuth": policyJSON(view, false)})
	}
}
