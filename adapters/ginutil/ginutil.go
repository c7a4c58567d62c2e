// Package ginutil holds shared helpers for the gin adapters: rate-limit
// gating, the error-taxonomy-to-HTTP mapping, and actor extraction.
package ginutil

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/open-rails/machinekit/core"
	oidckit "github.com/open-rails/machinekit/oidc"
)

// RateLimiter is satisfied by both the memory and redis limiters.
type RateLimiter interface {
	AllowNamed(bucket, key string) (bool, error)
}

// Rate-limit bucket names.
const (
	RLOIDCLogin = "oidc_login"
	RLOIDCAdmin = "oidc_admin"
)

// AllowNamed gates a request on the named bucket, keyed by client IP.
// A nil limiter or a limiter error fails open; limiting is a shield, not a
// correctness requirement.
func AllowNamed(c *gin.Context, rl RateLimiter, bucket string) bool {
	if rl == nil {
		return true
	}
	ok, err := rl.AllowNamed(bucket, c.ClientIP())
	if err != nil {
		return true
	}
	return ok
}

func TooMany(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate_limited"})
}

func BadRequest(c *gin.Context, code string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": code})
}

func Unauthorized(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "access_denied"})
}

func ServerErr(c *gin.Context, code string) {
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": code})
}

// WriteError maps a core/oidc error to its HTTP response. Login denials are
// uniform 401s with no detail.
func WriteError(c *gin.Context, err error) {
	var (
		nf *core.NotFoundError
		br *core.BadRequestError
		fe *core.ForbiddenError
		pb *core.PermissionBoundaryError
		ua *core.UnauthorizedError
	)
	switch {
	case errors.As(err, &ua):
		Unauthorized(c)
	case errors.As(err, &nf):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "not_found", "message": nf.Error()})
	case errors.As(err, &br):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "bad_request", "message": br.Error()})
	case errors.As(err, &pb):
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
			"error":               "permission_boundary",
			"message":             pb.Error(),
			"missing_permissions": pb.MissingPermissions,
		})
	case errors.As(err, &fe):
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden", "message": fe.Error()})
	case errors.Is(err, oidckit.ErrTrustEndpointUnreachable),
		errors.Is(err, oidckit.ErrInvalidDiscoveryDocument),
		errors.Is(err, oidckit.ErrSigningKeyNotFound):
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": "idp_unavailable", "message": err.Error()})
	default:
		ServerErr(c, "internal_error")
	}
}

// ActorFrom reads the authenticated caller placed in the context by the host
// application's auth middleware.
func ActorFrom(c *gin.Context) (core.Actor, bool) {
	id, err := uuid.Parse(c.GetString("auth.actor_id"))
	if err != nil {
		return core.Actor{}, false
	}
	orgID, err := uuid.Parse(c.GetString("auth.actor_org_id"))
	if err != nil {
		return core.Actor{}, false
	}
	actorType := core.ActorType(c.GetString("auth.actor_type"))
	if actorType == "" {
		actorType = core.ActorUser
	}
	return core.Actor{
		Type:       actorType,
		ID:         id,
		OrgID:      orgID,
		AuthMethod: c.GetString("auth.method"),
	}, true
}
