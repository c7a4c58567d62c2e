package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/open-rails/machinekit/adapters/ginutil"
	"github.com/open-rails/machinekit/core"
)

// HandleOIDCLoginPOST exchanges a federated ID token for an access token.
// Unauthenticated by design; the ID token is the credential.
func HandleOIDCLoginPOST(svc *core.Service, rl ginutil.RateLimiter) gin.HandlerFunc {
	type loginReq struct {
		IdentityID string `json:"identityId"`
		JWT        string `json:"jwt"`
	}
	return func(c *gin.Context) {
		if !ginutil.AllowNamed(c, rl, ginutil.RLOIDCLogin) {
			ginutil.TooMany(c)
			return
		}
		var req loginReq
		if err := c.ShouldBindJSON(&req); err != nil || req.JWT == "" {
			ginutil.BadRequest(c, "invalid_request")
			return
		}
		identityID, err := uuid.Parse(req.IdentityID)
		if err != nil {
			ginutil.BadRequest(c, "invalid_identity_id")
			return
		}

		res, err := svc.Login(c.Request.Context(), identityID, req.JWT)
		if err != nil {
			ginutil.WriteError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"accessToken":       res.AccessToken,
			"expiresIn":         res.IssuedToken.TTL,
			"accessTokenMaxTTL": res.IssuedToken.MaxTTL,
			"tokenType":         "Bearer",
		})
	}
}
