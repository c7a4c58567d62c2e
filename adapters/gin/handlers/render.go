package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/open-rails/machinekit/core"
)

// trustedIPReq mirrors the wire shape of one trusted IP entry.
type trustedIPReq struct {
	IPAddress string `json:"ipAddress"`
}

func ipStrings(entries []trustedIPReq) []string {
	if entries == nil {
		return nil
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.IPAddress)
	}
	return out
}

func policyJSON(v *core.PolicyView, includeCA bool) gin.H {
	p := v.Policy
	h := gin.H{
		"id":                      p.ID,
		"identityId":              p.IdentityID,
		"orgId":                   v.OrgID,
		"oidcDiscoveryUrl":        p.DiscoveryURL,
		"boundIssuer":             p.BoundIssuer,
		"boundSubject":            p.BoundSubject,
		"boundAudiences":          p.BoundAudiences,
		"boundClaims":             p.BoundClaims,
		"accessTokenTTL":          p.AccessTokenTTL,
		"accessTokenMaxTTL":       p.AccessTokenMaxTTL,
		"accessTokenNumUsesLimit": p.AccessTokenNumUsesLimit,
		"accessTokenTrustedIps":   p.AccessTokenTrustedIPs,
		"createdAt":               p.CreatedAt,
		"updatedAt":               p.UpdatedAt,
	}
	if includeCA {
		h["caCert"] = v.CACert
	}
	return h
}
