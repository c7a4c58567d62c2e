package core

import (
	"context"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/open-rails/machinekit/ip"
	"github.com/open-rails/machinekit/permission"
	"github.com/open-rails/machinekit/vault"
)

// AttachInput configures a new trust policy for an identity.
type AttachInput struct {
	IdentityID uuid.UUID
	Actor      Actor

	DiscoveryURL   string
	CACert         string
	BoundIssuer    string
	BoundSubject   string
	BoundAudiences string
	BoundClaims    map[string]string

	AccessTokenTTL          int64
	AccessTokenMaxTTL       int64
	AccessTokenNumUsesLimit int64
	AccessTokenTrustedIPs   []string
}

// UpdateInput is a partial trust-policy mutation. Nil fields keep their
// stored values. A non-nil empty CACert re-encrypts an empty certificate,
// which disables the custom CA.
type UpdateInput struct {
	IdentityID uuid.UUID
	Actor      Actor

	DiscoveryURL   *string
	CACert         *string
	BoundIssuer    *string
	BoundSubject   *string
	BoundAudiences *string
	BoundClaims    map[string]string

	AccessTokenTTL          *int64
	AccessTokenMaxTTL       *int64
	AccessTokenNumUsesLimit *int64
	AccessTokenTrustedIPs   []string
}

// PolicyView is an administration result: the policy, its organization, and
// the CA certificate in plaintext.
type PolicyView struct {
	Policy *TrustPolicy
	OrgID  uuid.UUID
	CACert string
}

// Attach creates the trust policy for an identity. An identity may hold at
// most one OIDC policy; tenant key material is created lazily in the same
// transaction as the policy itself.
func (s *Service) Attach(ctx context.Context, in AttachInput) (*PolicyView, error) {
	membership, err := s.memberships.FindByIdentity(ctx, in.IdentityID)
	if err != nil {
		return nil, err
	}
	if membership == nil {
		return nil, notFound("identity", "failed to find identity %s", in.IdentityID)
	}
	if membership.HasAuthMethod(AuthMethodOIDC) {
		return nil, badRequest("failed to add OIDC auth to already configured identity")
	}
	if err := validateTTL(in.AccessTokenTTL, in.AccessTokenMaxTTL); err != nil {
		return nil, err
	}

	perm, _, err := s.permissions.GetOrgPermission(ctx, in.Actor.Type, in.Actor.ID, membership.OrgID, in.Actor.AuthMethod, in.Actor.OrgID)
	if err != nil {
		return nil, err
	}
	if !perm.Can(permission.ActionCreate, permission.SubjectIdentity) {
		return nil, &ForbiddenError{Action: permission.ActionCreate, Subject: permission.SubjectIdentity}
	}

	trustedIPs, err := s.validateTrustedIPs(ctx, membership.OrgID, in.AccessTokenTrustedIPs)
	if err != nil {
		return nil, err
	}

	var created *TrustPolicy
	if err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		bot, err := s.ensureOrgBot(ctx, membership.OrgID)
		if err != nil {
			return err
		}
		tenantKey, err := s.root.Open(bot.EncryptedSymmetricKey)
		if err != nil {
			return err
		}
		sealedCA, err := vault.Wrap(tenantKey, []byte(in.CACert))
		if err != nil {
			return err
		}
		created, err = s.policies.Create(ctx, &TrustPolicy{
			IdentityID:              membership.IdentityID,
			DiscoveryURL:            in.DiscoveryURL,
			EncryptedCACert:         sealedCA,
			BoundIssuer:             in.BoundIssuer,
			BoundSubject:            in.BoundSubject,
			BoundAudiences:          in.BoundAudiences,
			BoundClaims:             in.BoundClaims,
			AccessTokenTTL:          in.AccessTokenTTL,
			AccessTokenMaxTTL:       in.AccessTokenMaxTTL,
			AccessTokenNumUsesLimit: in.AccessTokenNumUsesLimit,
			AccessTokenTrustedIPs:   trustedIPs,
		})
		return err
	}); err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"identity_id": membership.IdentityID,
		"org_id":      membership.OrgID,
	}).Info("oidc trust policy attached")

	return &PolicyView{Policy: created, OrgID: membership.OrgID, CACert: in.CACert}, nil
}

// Update partially mutates the trust policy.
func (s *Service) Update(ctx context.Context, in UpdateInput) (*PolicyView, error) {
	membership, err := s.memberships.FindByIdentity(ctx, in.IdentityID)
	if err != nil {
		return nil, err
	}
	if membership == nil {
		return nil, notFound("identity", "failed to find identity %s", in.IdentityID)
	}
	if !membership.HasAuthMethod(AuthMethodOIDC) {
		return nil, badRequest("the identity does not have OIDC auth attached")
	}

	current, err := s.policies.FindByIdentity(ctx, in.IdentityID)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, notFound("trust-policy", "OIDC auth method not found for identity %s", in.IdentityID)
	}

	effectiveTTL := current.AccessTokenTTL
	if in.AccessTokenTTL != nil {
		effectiveTTL = *in.AccessTokenTTL
	}
	effectiveMaxTTL := current.AccessTokenMaxTTL
	if in.AccessTokenMaxTTL != nil {
		effectiveMaxTTL = *in.AccessTokenMaxTTL
	}
	if err := validateTTL(effectiveTTL, effectiveMaxTTL); err != nil {
		return nil, err
	}

	perm, _, err := s.permissions.GetOrgPermission(ctx, in.Actor.Type, in.Actor.ID, membership.OrgID, in.Actor.AuthMethod, in.Actor.OrgID)
	if err != nil {
		return nil, err
	}
	if !perm.Can(permission.ActionEdit, permission.SubjectIdentity) {
		return nil, &ForbiddenError{Action: permission.ActionEdit, Subject: permission.SubjectIdentity}
	}

	var trustedIPs []ip.Detail
	if in.AccessTokenTrustedIPs != nil {
		trustedIPs, err = s.validateTrustedIPs(ctx, membership.OrgID, in.AccessTokenTrustedIPs)
		if err != nil {
			return nil, err
		}
	}

	bot, err := s.bots.FindByOrg(ctx, membership.OrgID)
	if err != nil {
		return nil, err
	}
	if bot == nil {
		return nil, notFound("org-bot", "organization bot not found for organization %s", membership.OrgID)
	}
	tenantKey, err := s.root.Open(bot.EncryptedSymmetricKey)
	if err != nil {
		return nil, err
	}

	patch := TrustPolicyUpdate{
		DiscoveryURL:            in.DiscoveryURL,
		BoundIssuer:             in.BoundIssuer,
		BoundSubject:            in.BoundSubject,
		BoundAudiences:          in.BoundAudiences,
		BoundClaims:             in.BoundClaims,
		AccessTokenTTL:          in.AccessTokenTTL,
		AccessTokenMaxTTL:       in.AccessTokenMaxTTL,
		AccessTokenNumUsesLimit: in.AccessTokenNumUsesLimit,
		AccessTokenTrustedIPs:   trustedIPs,
	}
	if in.CACert != nil {
		sealedCA, err := vault.Wrap(tenantKey, []byte(*in.CACert))
		if err != nil {
			return nil, err
		}
		patch.EncryptedCACert = &sealedCA
	}

	updated, err := s.policies.Update(ctx, current.ID, patch)
	if err != nil {
		return nil, err
	}

	caCert := ""
	if !updated.EncryptedCACert.IsZero() {
		plaintext, err := vault.Unwrap(tenantKey, updated.EncryptedCACert)
		if err != nil {
			return nil, err
		}
		caCert = string(plaintext)
	}
	return &PolicyView{Policy: updated, OrgID: membership.OrgID, CACert: caCert}, nil
}

// Get returns the trust policy with its CA certificate decrypted, for an
// authorized caller only.
func (s *Service) Get(ctx context.Context, identityID uuid.UUID, actor Actor) (*PolicyView, error) {
	membership, err := s.memberships.FindByIdentity(ctx, identityID)
	if err != nil {
		return nil, err
	}
	if membership == nil {
		return nil, notFound("identity", "failed to find identity %s", identityID)
	}
	if !membership.HasAuthMethod(AuthMethodOIDC) {
		return nil, badRequest("the identity does not have OIDC auth attached")
	}

	perm, _, err := s.permissions.GetOrgPermission(ctx, actor.Type, actor.ID, membership.OrgID, actor.AuthMethod, actor.OrgID)
	if err != nil {
		return nil, err
	}
	if !perm.Can(permission.ActionRead, permission.SubjectIdentity) {
		return nil, &ForbiddenError{Action: permission.ActionRead, Subject: permission.SubjectIdentity}
	}

	trustPolicy, err := s.policies.FindByIdentity(ctx, identityID)
	if err != nil {
		return nil, err
	}
	if trustPolicy == nil {
		return nil, notFound("trust-policy", "OIDC auth method not found for identity %s", identityID)
	}

	bot, err := s.bots.FindByOrg(ctx, membership.OrgID)
	if err != nil {
		return nil, err
	}
	if bot == nil {
		return nil, notFound("org-bot", "organization bot not found for organization %s", membership.OrgID)
	}
	tenantKey, err := s.root.Open(bot.EncryptedSymmetricKey)
	if err != nil {
		return nil, err
	}

	caCert := ""
	if !trustPolicy.EncryptedCACert.IsZero() {
		plaintext, err := vault.Unwrap(tenantKey, trustPolicy.EncryptedCACert)
		if err != nil {
			return nil, err
		}
		caCert = string(plaintext)
	}
	return &PolicyView{Policy: trustPolicy, OrgID: membership.OrgID, CACert: caCert}, nil
}

// Revoke removes the trust policy and every access token issued under it,
// atomically. The actor must not be of lower privilege than the identity
// being revoked.
func (s *Service) Revoke(ctx context.Context, identityID uuid.UUID, actor Actor) (*PolicyView, error) {
	membership, err := s.memberships.FindByIdentity(ctx, identityID)
	if err != nil {
		return nil, err
	}
	if membership == nil {
		return nil, notFound("identity", "failed to find identity %s", identityID)
	}
	if !membership.HasAuthMethod(AuthMethodOIDC) {
		return nil, badRequest("the identity does not have OIDC auth attached")
	}

	perm, _, err := s.permissions.GetOrgPermission(ctx, actor.Type, actor.ID, membership.OrgID, actor.AuthMethod, actor.OrgID)
	if err != nil {
		return nil, err
	}
	if !perm.Can(permission.ActionEdit, permission.SubjectIdentity) {
		return nil, &ForbiddenError{Action: permission.ActionEdit, Subject: permission.SubjectIdentity}
	}

	identityPerm, _, err := s.permissions.GetOrgPermission(ctx, ActorIdentity, identityID, membership.OrgID, actor.AuthMethod, actor.OrgID)
	if err != nil {
		return nil, err
	}
	boundary := permission.ValidateBoundary(perm, identityPerm)
	if !boundary.IsValid {
		return nil, &PermissionBoundaryError{
			Message:            "failed to revoke OIDC auth of identity with more privileged role",
			MissingPermissions: boundary.MissingPermissions,
		}
	}

	var deleted *TrustPolicy
	if err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		deleted, err = s.policies.DeleteByIdentity(ctx, identityID)
		if err != nil {
			return err
		}
		return s.tokens.DeleteByIdentityAndMethod(ctx, identityID, AuthMethodOIDC)
	}); err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"identity_id": identityID,
		"org_id":      membership.OrgID,
	}).Info("oidc trust policy revoked")

	return &PolicyView{Policy: deleted, OrgID: membership.OrgID}, nil
}

// ensureOrgBot returns the tenant's key material, creating it if absent.
// Idempotent; call inside a transaction.
func (s *Service) ensureOrgBot(ctx context.Context, orgID uuid.UUID) (*OrgBot, error) {
	bot, err := s.bots.FindByOrg(ctx, orgID)
	if err != nil {
		return nil, err
	}
	if bot != nil {
		return bot, nil
	}

	pair, err := vault.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	symmetricKey, err := vault.GenerateSymmetricKey()
	if err != nil {
		return nil, err
	}
	sealedPrivate, err := s.root.Seal(pair.PrivateKey)
	if err != nil {
		return nil, err
	}
	sealedSymmetric, err := s.root.Seal(symmetricKey)
	if err != nil {
		return nil, err
	}
	return s.bots.Create(ctx, &OrgBot{
		OrgID:                 orgID,
		Name:                  "org bot " + vault.Fingerprint(pair.PublicKey),
		PublicKey:             vault.EncodeKey(pair.PublicKey),
		EncryptedPrivateKey:   sealedPrivate,
		EncryptedSymmetricKey: sealedSymmetric,
	})
}

// validateTrustedIPs enforces syntax and the plan's IP allow-listing
// entitlement; the unrestricted default ranges are always permitted.
func (s *Service) validateTrustedIPs(ctx context.Context, orgID uuid.UUID, entries []string) ([]ip.Detail, error) {
	plan, err := s.plans.GetPlan(ctx, orgID)
	if err != nil {
		return nil, err
	}
	details := make([]ip.Detail, 0, len(entries))
	for _, entry := range entries {
		if !plan.IPAllowlisting && !ip.IsUnrestricted(entry) {
			return nil, badRequest("failed to add IP access range to access token due to plan restriction; upgrade plan to add IP access ranges")
		}
		if !ip.IsValidIPOrCIDR(entry) {
			return nil, badRequest("%q is not a valid IPv4, IPv6, or CIDR block", entry)
		}
		detail, err := ip.ExtractDetails(entry)
		if err != nil {
			return nil, badRequest("%v", err)
		}
		details = append(details, detail)
	}
	return details, nil
}

func validateTTL(ttl, maxTTL int64) error {
	if maxTTL > 0 && ttl > maxTTL {
		return badRequest("access token TTL cannot be greater than max TTL")
	}
	return nil
}
