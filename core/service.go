// Package core orchestrates federated OIDC authentication for machine
// identities: the login flow that exchanges a verified IdP token for a
// short-lived access token, and the administration of the trust policies
// behind it.
package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/open-rails/machinekit/config"
	oidckit "github.com/open-rails/machinekit/oidc"
	"github.com/open-rails/machinekit/policy"
	"github.com/open-rails/machinekit/token"
	"github.com/open-rails/machinekit/vault"
)

// Service implements the login flow and trust-policy administration.
type Service struct {
	log         *logrus.Logger
	policies    TrustPolicyStore
	tokens      AccessTokenStore
	bots        OrgBotStore
	memberships MembershipStore
	tx          Transactor
	permissions PermissionSource
	plans       PlanSource
	resolver    *oidckit.KeyResolver
	root        *vault.Root
	authSecret  []byte
	audit       AuthEventLogger
}

// Deps wires the service's stores and collaborators.
type Deps struct {
	Policies    TrustPolicyStore
	Tokens      AccessTokenStore
	Bots        OrgBotStore
	Memberships MembershipStore
	Tx          Transactor
	Permissions PermissionSource
	Plans       PlanSource
	Resolver    *oidckit.KeyResolver
	Logger      *logrus.Logger
	Audit       AuthEventLogger
}

// NewService builds the auth core from configuration and dependencies.
func NewService(cfg *config.Config, d Deps) (*Service, error) {
	root, err := vault.NewRoot(cfg.RootEncryptionKey)
	if err != nil {
		return nil, err
	}
	if cfg.AuthSecret == "" {
		return nil, errors.New("core: empty auth secret")
	}
	log := d.Logger
	if log == nil {
		log = logrus.New()
	}
	resolver := d.Resolver
	if resolver == nil {
		resolver = oidckit.NewKeyResolver(oidckit.WithFetchTimeout(cfg.DiscoveryTimeout))
	}
	audit := d.Audit
	if audit == nil {
		audit = NoopAuditLogger{}
	}
	return &Service{
		log:         log,
		policies:    d.Policies,
		tokens:      d.Tokens,
		bots:        d.Bots,
		memberships: d.Memberships,
		tx:          d.Tx,
		permissions: d.Permissions,
		plans:       d.Plans,
		resolver:    resolver,
		root:        root,
		authSecret:  []byte(cfg.AuthSecret),
		audit:       audit,
	}, nil
}

// Login verifies a federated OIDC token against the identity's trust policy
// and issues an access token. Steps run strictly in sequence; the first
// failure aborts the flow.
func (s *Service) Login(ctx context.Context, identityID uuid.UUID, rawToken string) (*LoginResult, error) {
	trustPolicy, err := s.policies.FindByIdentity(ctx, identityID)
	if err != nil {
		return nil, err
	}
	if trustPolicy == nil {
		return nil, notFound("trust-policy", "OIDC auth method not found for identity %s", identityID)
	}

	membership, err := s.memberships.FindByIdentity(ctx, trustPolicy.IdentityID)
	if err != nil {
		return nil, err
	}
	if membership == nil {
		return nil, notFound("membership", "organization membership for identity %s not found", trustPolicy.IdentityID)
	}

	bot, err := s.bots.FindByOrg(ctx, membership.OrgID)
	if err != nil {
		return nil, err
	}
	if bot == nil {
		// A policy without tenant key material is a data-integrity problem,
		// not a client error.
		return nil, notFound("org-bot", "organization bot not found for organization %s", membership.OrgID)
	}

	tenantKey, err := s.root.Open(bot.EncryptedSymmetricKey)
	if err != nil {
		return nil, fmt.Errorf("core: unwrap tenant key: %w", err)
	}

	caCert := ""
	if !trustPolicy.EncryptedCACert.IsZero() {
		plaintext, err := vault.Unwrap(tenantKey, trustPolicy.EncryptedCACert)
		if err != nil {
			return nil, fmt.Errorf("core: unwrap ca certificate: %w", err)
		}
		caCert = string(plaintext)
	}

	kid, _, err := oidckit.DecodeHeader(rawToken)
	if err != nil {
		return nil, s.deny(identityID, "undecodable token: %v", err)
	}

	signingKey, err := s.resolver.ResolveSigningKey(ctx, trustPolicy.DiscoveryURL, caCert, kid)
	if err != nil {
		// Upstream IdP integration failures keep their own class.
		return nil, err
	}

	claims, err := oidckit.VerifyIDToken(ctx, rawToken, signingKey, trustPolicy.BoundIssuer)
	if err != nil {
		return nil, s.deny(identityID, "token verification failed: %v", err)
	}

	if trustPolicy.BoundSubject != "" {
		sub, _ := claims["sub"].(string)
		if !policy.MatchField(sub, trustPolicy.BoundSubject) {
			return nil, s.deny(identityID, "subject not allowed")
		}
	}

	if trustPolicy.BoundAudiences != "" {
		if !policy.MatchAudience(claims["aud"], trustPolicy.BoundAudiences) {
			return nil, s.deny(identityID, "audience not allowed")
		}
	}

	// Conjunctive across claim keys, disjunctive within each value list.
	for claimKey, policyValue := range trustPolicy.BoundClaims {
		if !policy.MatchClaim(claims[claimKey], policyValue) {
			return nil, s.deny(identityID, "claim %q not allowed", claimKey)
		}
	}

	var issued *AccessToken
	if err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		record := &AccessToken{
			IdentityID:   trustPolicy.IdentityID,
			Revoked:      false,
			TTL:          trustPolicy.AccessTokenTTL,
			MaxTTL:       trustPolicy.AccessTokenMaxTTL,
			NumUses:      0,
			NumUsesLimit: trustPolicy.AccessTokenNumUsesLimit,
			AuthMethod:   AuthMethodOIDC,
		}
		created, err := s.tokens.Create(ctx, record)
		if err != nil {
			return err
		}
		issued = created
		return nil
	}); err != nil {
		return nil, err
	}

	bearer, err := token.SignAccessToken(s.authSecret, trustPolicy.IdentityID, issued.ID, issued.TTL)
	if err != nil {
		return nil, err
	}

	_ = s.audit.LogLogin(ctx, trustPolicy.IdentityID.String(), trustPolicy.BoundIssuer, AuthMethodOIDC, issued.ID.String())
	s.log.WithFields(logrus.Fields{
		"identity_id": trustPolicy.IdentityID,
		"org_id":      membership.OrgID,
	}).Info("machine identity logged in via oidc")

	return &LoginResult{
		AccessToken: bearer,
		Policy:      trustPolicy,
		IssuedToken: issued,
		Membership:  membership,
	}, nil
}

// deny logs the real reason and returns the uniform access-denied error.
func (s *Service) deny(identityID uuid.UUID, format string, args ...any) error {
	err := accessDenied(format, args...)
	s.log.WithFields(logrus.Fields{
		"identity_id": identityID,
		"reason":      err.Reason,
	}).Warn("oidc login denied")
	return err
}
