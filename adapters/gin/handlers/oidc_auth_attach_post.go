package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/open-rails/machinekit/adapters/ginutil"
	"github.com/open-rails/machinekit/core"
)

// HandleOIDCAuthAttachPOST configures OIDC auth on an identity.
func HandleOIDCAuthAttachPOST(svc *core.Service, rl ginutil.RateLimiter) gin.HandlerFunc {
	type attachReq struct {
		OIDCDiscoveryURL        string            `json:"oidcDiscoveryUrl"`
		CACert                  string            `json:"caCert"`
		BoundIssuer             string            `json:"boundIssuer"`
		BoundSubject            string            `json:"boundSubject"`
		BoundAudiences          string            `json:"boundAudiences"`
		BoundClaims             map[string]string `json:"boundClaims"`
		AccessTokenTTL          int64             `json:"accessTokenTTL"`
		AccessTokenMaxTTL       int64             `json:"accessTokenMaxTTL"`
		AccessTokenNumUsesLimit int64             `json:"accessTokenNumUsesLimit"`
		AccessTokenTrustedIPs   []trustedIPReq    `json:"accessTokenTrustedIps"`
	}
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
		var req attachReq
		if err := c.ShouldBindJSON(&req); err != nil || req.OIDCDiscoveryURL == "" {
			ginutil.BadRequest(c, "invalid_request")
			return
		}

		view, err := svc.Attach(c.Request.Context(), core.AttachInput{
			IdentityID:              identityID,
			Actor:                   actor,
			DiscoveryURL:            req.OIDCDiscoveryURL,
			CACert:                  req.CACert,
			BoundIssuer:             req.BoundIssuer,
			BoundSubject:            req.BoundSubject,
			BoundAudiences:          req.BoundAudiences,
			BoundClaims:             req.BoundClaims,
			AccessTokenTTL:          req.AccessTokenTTL,
			AccessTokenMaxTTL:       req.AccessTokenMaxTTL,
			AccessTokenNumUsesLimit: req.AccessTokenNumUsesLimit,
			AccessTokenTrustedIPs:   ipStrings(req.AccessTokenTrustedIPs),
		})
		if err != nil {
			ginutil.WriteError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"identityOidcAuth": policyJSON(view, false)})
	}
}
