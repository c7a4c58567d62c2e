// Package identity provides the Postgres persistence layer for machine
// identity auth: trust policies, access-token records, tenant key material,
// and organization memberships.
package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/open-rails/machinekit/core"
	"github.com/open-rails/machinekit/ip"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx, so store methods
// run against the ambient transaction when one is in the context.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type txKey struct{}

// Stores bundles the Postgres-backed implementations of the core ports.
type Stores struct {
	pg     *pgxpool.Pool
	schema string
}

// NewStores creates the store bundle against the given pool and schema.
// An empty schema defaults to "identities".
func NewStores(pg *pgxpool.Pool, schema string) *Stores {
	s := strings.TrimSpace(schema)
	if s == "" {
		s = "identities"
	}
	return &Stores{pg: pg, schema: s}
}

func (s *Stores) q(ctx context.Context) querier {
	if tx, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return tx
	}
	return s.pg
}

func (s *Stores) policiesTable() string    { return s.schema + ".oidc_auths" }
func (s *Stores) tokensTable() string      { return s.schema + ".access_tokens" }
func (s *Stores) botsTable() string        { return s.schema + ".org_bots" }
func (s *Stores) membershipsTable() string { return s.schema + ".org_memberships" }

func (s *Stores) TrustPolicies() *TrustPolicyStore { return &TrustPolicyStore{s} }
func (s *Stores) AccessTokens() *AccessTokenStore  { return &AccessTokenStore{s} }
func (s *Stores) OrgBots() *OrgBotStore            { return &OrgBotStore{s} }
func (s *Stores) Memberships() *MembershipStore    { return &MembershipStore{s} }
func (s *Stores) Transactor() *Transactor          { return &Transactor{pg: s.pg} }

// Transactor runs a closure inside a single Postgres transaction. Store
// calls made with the closure's context join that transaction.
type Transactor struct {
	pg *pgxpool.Pool
}

func (t *Transactor) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	tx, err := t.pg.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()
	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// TrustPolicyStore implements core.TrustPolicyStore.
type TrustPolicyStore struct{ s *Stores }

const policyColumns = `id, identity_id, discovery_url,
	encrypted_ca_cert, ca_cert_iv, ca_cert_tag,
	bound_issuer, bound_subject, bound_audiences, bound_claims,
	access_token_ttl, access_token_max_ttl, access_token_num_uses_limit,
	access_token_trusted_ips, created_at, updated_at`

func scanPolicy(row pgx.Row) (*core.TrustPolicy, error) {
	var p core.TrustPolicy
	var claims, trustedIPs []byte
	err := row.Scan(
		&p.ID, &p.IdentityID, &p.DiscoveryURL,
		&p.EncryptedCACert.Ciphertext, &p.EncryptedCACert.IV, &p.EncryptedCACert.Tag,
		&p.BoundIssuer, &p.BoundSubject, &p.BoundAudiences, &claims,
		&p.AccessTokenTTL, &p.AccessTokenMaxTTL, &p.AccessTokenNumUsesLimit,
		&trustedIPs, &p.CreatedAt, &p.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(claims) > 0 {
		if err := json.Unmarshal(claims, &p.BoundClaims); err != nil {
			return nil, fmt.Errorf("identity: decode bound claims: %w", err)
		}
	}
	if len(trustedIPs) > 0 {
		if err := json.Unmarshal(trustedIPs, &p.AccessTokenTrustedIPs); err != nil {
			return nil, fmt.Errorf("identity: decode trusted ips: %w", err)
		}
	}
	return &p, nil
}

func (st *TrustPolicyStore) FindByIdentity(ctx context.Context, identityID uuid.UUID) (*core.TrustPolicy, error) {
	row := st.s.q(ctx).QueryRow(ctx,
		`SELECT `+policyColumns+` FROM `+st.s.policiesTable()+` WHERE identity_id=$1 LIMIT 1`, identityID)
	return scanPolicy(row)
}

func (st *TrustPolicyStore) Create(ctx context.Context, p *core.TrustPolicy) (*core.TrustPolicy, error) {
	claims, err := json.Marshal(orEmptyClaims(p.BoundClaims))
	if err != nil {
		return nil, err
	}
	trustedIPs, err := json.Marshal(orEmptyIPs(p.AccessTokenTrustedIPs))
	if err != nil {
		return nil, err
	}
	row := st.s.q(ctx).QueryRow(ctx,
		`INSERT INTO `+st.s.policiesTable()+` (
			identity_id, discovery_url,
			encrypted_ca_cert, ca_cert_iv, ca_cert_tag,
			bound_issuer, bound_subject, bound_audiences, bound_claims,
			access_token_ttl, access_token_max_ttl, access_token_num_uses_limit,
			access_token_trusted_ips
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		RETURNING `+policyColumns,
		p.IdentityID, p.DiscoveryURL,
		p.EncryptedCACert.Ciphertext, p.EncryptedCACert.IV, p.EncryptedCACert.Tag,
		p.BoundIssuer, p.BoundSubject, p.BoundAudiences, claims,
		p.AccessTokenTTL, p.AccessTokenMaxTTL, p.AccessTokenNumUsesLimit,
		trustedIPs,
	)
	return scanPolicy(row)
}

func (st *TrustPolicyStore) Update(ctx context.Context, id uuid.UUID, patch core.TrustPolicyUpdate) (*core.TrustPolicy, error) {
	sets := []string{"updated_at=NOW()"}
	args := []any{id}
	add := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s=$%d", col, len(args)))
	}
	if patch.DiscoveryURL != nil {
		add("discovery_url", *patch.DiscoveryURL)
	}
	if patch.EncryptedCACert != nil {
		add("encrypted_ca_cert", patch.EncryptedCACert.Ciphertext)
		add("ca_cert_iv", patch.EncryptedCACert.IV)
		add("ca_cert_tag", patch.EncryptedCACert.Tag)
	}
	if patch.BoundIssuer != nil {
		add("bound_issuer", *patch.BoundIssuer)
	}
	if patch.BoundSubject != nil {
		add("bound_subject", *patch.BoundSubject)
	}
	if patch.BoundAudiences != nil {
		add("bound_audiences", *patch.BoundAudiences)
	}
	if patch.BoundClaims != nil {
		b, err := json.Marshal(patch.BoundClaims)
		if err != nil {
			return nil, err
		}
		add("bound_claims", b)
	}
	if patch.AccessTokenTTL != nil {
		add("access_token_ttl", *patch.AccessTokenTTL)
	}
	if patch.AccessTokenMaxTTL != nil {
		add("access_token_max_ttl", *patch.AccessTokenMaxTTL)
	}
	if patch.AccessTokenNumUsesLimit != nil {
		add("access_token_num_uses_limit", *patch.AccessTokenNumUsesLimit)
	}
	if patch.AccessTokenTrustedIPs != nil {
		b, err := json.Marshal(patch.AccessTokenTrustedIPs)
		if err != nil {
			return nil, err
		}
		add("access_token_trusted_ips", b)
	}
	row := st.s.q(ctx).QueryRow(ctx,
		`UPDATE `+st.s.policiesTable()+` SET `+strings.Join(sets, ", ")+` WHERE id=$1 RETURNING `+policyColumns, args...)
	return scanPolicy(row)
}

func (st *TrustPolicyStore) DeleteByIdentity(ctx context.Context, identityID uuid.UUID) (*core.TrustPolicy, error) {
	row := st.s.q(ctx).QueryRow(ctx,
		`DELETE FROM `+st.s.policiesTable()+` WHERE identity_id=$1 RETURNING `+policyColumns, identityID)
	return scanPolicy(row)
}

// AccessTokenStore implements core.AccessTokenStore.
type AccessTokenStore struct{ s *Stores }

func (st *AccessTokenStore) Create(ctx context.Context, t *core.AccessToken) (*core.AccessToken, error) {
	rec := *t
	err := st.s.q(ctx).QueryRow(ctx,
		`INSERT INTO `+st.s.tokensTable()+` (
			identity_id, revoked, ttl, max_ttl, num_uses, num_uses_limit, auth_method
		) VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING id, created_at`,
		t.IdentityID, t.Revoked, t.TTL, t.MaxTTL, t.NumUses, t.NumUsesLimit, t.AuthMethod,
	).Scan(&rec.ID, &rec.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (st *AccessTokenStore) DeleteByIdentityAndMethod(ctx context.Context, identityID uuid.UUID, authMethod string) error {
	_, err := st.s.q(ctx).Exec(ctx,
		`DELETE FROM `+st.s.tokensTable()+` WHERE identity_id=$1 AND auth_method=$2`, identityID, authMethod)
	return err
}

func (st *AccessTokenStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := st.s.q(ctx).Exec(ctx,
		`DELETE FROM `+st.s.tokensTable()+`
		 WHERE revoked = TRUE
		    OR (max_ttl > 0 AND created_at + make_interval(secs => max_ttl) < $1)`, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// OrgBotStore implements core.OrgBotStore.
type OrgBotStore struct{ s *Stores }

const botColumns = `id, org_id, name, public_key,
	encrypted_private_key, private_key_iv, private_key_tag,
	encrypted_symmetric_key, symmetric_key_iv, symmetric_key_tag, created_at`

func scanBot(row pgx.Row) (*core.OrgBot, error) {
	var b core.OrgBot
	err := row.Scan(
		&b.ID, &b.OrgID, &b.Name, &b.PublicKey,
		&b.EncryptedPrivateKey.Ciphertext, &b.EncryptedPrivateKey.IV, &b.EncryptedPrivateKey.Tag,
		&b.EncryptedSymmetricKey.Ciphertext, &b.EncryptedSymmetricKey.IV, &b.EncryptedSymmetricKey.Tag,
		&b.CreatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (st *OrgBotStore) FindByOrg(ctx context.Context, orgID uuid.UUID) (*core.OrgBot, error) {
	row := st.s.q(ctx).QueryRow(ctx,
		`SELECT `+botColumns+` FROM `+st.s.botsTable()+` WHERE org_id=$1 LIMIT 1`, orgID)
	return scanBot(row)
}

func (st *OrgBotStore) Create(ctx context.Context, bot *core.OrgBot) (*core.OrgBot, error) {
	row := st.s.q(ctx).QueryRow(ctx,
		`INSERT INTO `+st.s.botsTable()+` (
			org_id, name, public_key,
			encrypted_private_key, private_key_iv, private_key_tag,
			encrypted_symmetric_key, symmetric_key_iv, symmetric_key_tag
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (org_id) DO NOTHING
		RETURNING `+botColumns,
		bot.OrgID, bot.Name, bot.PublicKey,
		bot.EncryptedPrivateKey.Ciphertext, bot.EncryptedPrivateKey.IV, bot.EncryptedPrivateKey.Tag,
		bot.EncryptedSymmetricKey.Ciphertext, bot.EncryptedSymmetricKey.IV, bot.EncryptedSymmetricKey.Tag,
	)
	created, err := scanBot(row)
	if err != nil {
		return nil, err
	}
	if created == nil {
		// Lost a concurrent insert race; the winner's row is authoritative.
		return st.FindByOrg(ctx, bot.OrgID)
	}
	return created, nil
}

// MembershipStore implements core.MembershipStore. AuthMethods is joined in
// from the configured auth methods of the identity.
type MembershipStore struct{ s *Stores }

func (st *MembershipStore) FindByIdentity(ctx context.Context, identityID uuid.UUID) (*core.Membership, error) {
	var m core.Membership
	err := st.s.q(ctx).QueryRow(ctx,
		`SELECT m.id, m.identity_id, m.org_id, m.role,
			COALESCE(array_agg(a.auth_method) FILTER (WHERE a.auth_method IS NOT NULL), '{}')
		 FROM `+st.s.membershipsTable()+` m
		 LEFT JOIN (
			SELECT identity_id, 'oidc-auth' AS auth_method FROM `+st.s.policiesTable()+`
		 ) a ON a.identity_id = m.identity_id
		 WHERE m.identity_id=$1
		 GROUP BY m.id, m.identity_id, m.org_id, m.role
		 LIMIT 1`, identityID,
	).Scan(&m.ID, &m.IdentityID, &m.OrgID, &m.Role, &m.AuthMethods)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func orEmptyClaims(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

func orEmptyIPs(d []ip.Detail) []ip.Detail {
	if d == nil {
		return []ip.Detail{}
	}
	return d
}
