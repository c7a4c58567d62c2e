package core

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/open-rails/machinekit/entitlements"
	"github.com/open-rails/machinekit/permission"
)

// Persistence ports. Lookups return (nil, nil) when no record exists; the
// service maps absence to its error taxonomy. Mutations called inside a
// Transactor closure must observe transaction scoping through the context.

// TrustPolicyStore persists OIDC trust policies.
type TrustPolicyStore interface {
	FindByIdentity(ctx context.Context, identityID uuid.UUID) (*TrustPolicy, error)
	Create(ctx context.Context, p *TrustPolicy) (*TrustPolicy, error)
	Update(ctx context.Context, id uuid.UUID, patch TrustPolicyUpdate) (*TrustPolicy, error)
	DeleteByIdentity(ctx context.Context, identityID uuid.UUID) (*TrustPolicy, error)
}

// AccessTokenStore persists issued access-token records.
type AccessTokenStore interface {
	Create(ctx context.Context, t *AccessToken) (*AccessToken, error)
	DeleteByIdentityAndMethod(ctx context.Context, identityID uuid.UUID, authMethod string) error
	// DeleteExpired removes revoked tokens and tokens past their max TTL,
	// returning the number deleted.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// OrgBotStore persists tenant key material.
type OrgBotStore interface {
	FindByOrg(ctx context.Context, orgID uuid.UUID) (*OrgBot, error)
	Create(ctx context.Context, bot *OrgBot) (*OrgBot, error)
}

// MembershipStore resolves identity-to-organization membership.
type MembershipStore interface {
	FindByIdentity(ctx context.Context, identityID uuid.UUID) (*Membership, error)
}

// Transactor scopes multi-statement mutations into one atomic unit with
// rollback on any failure inside fn.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// PermissionSource is the external permission engine.
type PermissionSource interface {
	// GetOrgPermission resolves the capability set and membership of an
	// actor within an organization.
	GetOrgPermission(ctx context.Context, actorType ActorType, actorID, orgID uuid.UUID, authMethod string, actorOrgID uuid.UUID) (permission.Set, *Membership, error)
}

// PlanSource is the external licensing service.
type PlanSource interface {
	GetPlan(ctx context.Context, orgID uuid.UUID) (entitlements.Plan, error)
}
