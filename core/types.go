package core

import (
	"time"

	"github.com/google/uuid"

	"github.com/open-rails/machinekit/ip"
	"github.com/open-rails/machinekit/vault"
)

// AuthMethodOIDC tags trust policies and access tokens issued through the
// federated OIDC flow.
const AuthMethodOIDC = "oidc-auth"

// ActorType distinguishes who is calling an administration operation.
type ActorType string

const (
	ActorUser     ActorType = "user"
	ActorIdentity ActorType = "identity"
)

// TrustPolicy is the operator-configured federation contract for one
// machine identity. An identity holds at most one.
type TrustPolicy struct {
	ID         uuid.UUID
	IdentityID uuid.UUID

	// DiscoveryURL is the IdP's well-known endpoint base.
	DiscoveryURL string
	// EncryptedCACert is the optional custom trust anchor, sealed under the
	// tenant key. Zero value means "use the system trust store".
	EncryptedCACert vault.SealedSecret

	BoundIssuer    string
	BoundSubject   string
	BoundAudiences string
	BoundClaims    map[string]string

	AccessTokenTTL          int64 // seconds; 0 = no expiry
	AccessTokenMaxTTL       int64 // seconds; 0 = unbounded
	AccessTokenNumUsesLimit int64 // 0 = unlimited
	AccessTokenTrustedIPs   []ip.Detail

	CreatedAt time.Time
	UpdatedAt time.Time
}

// TrustPolicyUpdate is a partial mutation of a trust policy. Nil fields are
// left untouched.
type TrustPolicyUpdate struct {
	DiscoveryURL            *string
	EncryptedCACert         *vault.SealedSecret
	BoundIssuer             *string
	BoundSubject            *string
	BoundAudiences          *string
	BoundClaims             map[string]string
	AccessTokenTTL          *int64
	AccessTokenMaxTTL       *int64
	AccessTokenNumUsesLimit *int64
	AccessTokenTrustedIPs   []ip.Detail
}

// OrgBot holds a tenant's key material: an asymmetric pair plus the
// symmetric content key that seals all tenant-scoped secrets. Created
// lazily on first trust-policy attach; owned by the broader tenant-bot
// lifecycle, never destroyed here.
type OrgBot struct {
	ID    uuid.UUID
	OrgID uuid.UUID
	Name  string

	PublicKey             string
	EncryptedPrivateKey   vault.SealedSecret
	EncryptedSymmetricKey vault.SealedSecret

	CreatedAt time.Time
}

// AccessToken is the bookkeeping record behind an issued bearer token.
type AccessToken struct {
	ID         uuid.UUID
	IdentityID uuid.UUID

	Revoked      bool
	TTL          int64
	MaxTTL       int64
	NumUses      int64
	NumUsesLimit int64
	AuthMethod   string

	CreatedAt time.Time
}

// Membership ties an identity to its organization. AuthMethods lists the
// auth methods currently configured for the identity (joined in by the
// store).
type Membership struct {
	ID          uuid.UUID
	IdentityID  uuid.UUID
	OrgID       uuid.UUID
	Role        string
	AuthMethods []string
}

// HasAuthMethod reports whether the identity has the given method attached.
func (m *Membership) HasAuthMethod(method string) bool {
	for _, am := range m.AuthMethods {
		if am == method {
			return true
		}
	}
	return false
}

// Actor identifies the caller of an administration operation.
type Actor struct {
	Type       ActorType
	ID         uuid.UUID
	OrgID      uuid.UUID
	AuthMethod string
}

// LoginResult is returned on a successful federated login.
type LoginResult struct {
	AccessToken string
	Policy      *TrustPolicy
	IssuedToken *AccessToken
	Membership  *Membership
}
