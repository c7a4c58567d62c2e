// Package memorystore provides in-memory implementations of the core
// persistence ports, for single-process deployments and tests.
package memorystore

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/open-rails/machinekit/core"
)

// DB is a mutex-guarded in-memory database. Stores derived from one DB share
// its state. Transactions are sequential, not rolled back; every individual
// mutation is atomic under the lock.
type DB struct {
	mu          sync.Mutex
	policies    map[uuid.UUID]core.TrustPolicy // by identity ID
	tokens      map[uuid.UUID]core.AccessToken
	bots        map[uuid.UUID]core.OrgBot    // by org ID
	memberships map[uuid.UUID]core.Membership // by identity ID
}

// NewDB creates an empty in-memory database.
func NewDB() *DB {
	return &DB{
		policies:    make(map[uuid.UUID]core.TrustPolicy),
		tokens:      make(map[uuid.UUID]core.AccessToken),
		bots:        make(map[uuid.UUID]core.OrgBot),
		memberships: make(map[uuid.UUID]core.Membership),
	}
}

// AddMembership seeds an identity's organization membership.
func (d *DB) AddMembership(m core.Membership) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	d.memberships[m.IdentityID] = m
}

func (d *DB) TrustPolicies() *TrustPolicyStore { return &TrustPolicyStore{db: d} }
func (d *DB) AccessTokens() *AccessTokenStore  { return &AccessTokenStore{db: d} }
func (d *DB) OrgBots() *OrgBotStore            { return &OrgBotStore{db: d} }
func (d *DB) Memberships() *MembershipStore    { return &MembershipStore{db: d} }
func (d *DB) Transactor() *Transactor          { return &Transactor{} }

// TrustPolicyStore implements core.TrustPolicyStore.
type TrustPolicyStore struct{ db *DB }

func (s *TrustPolicyStore) FindByIdentity(ctx context.Context, identityID uuid.UUID) (*core.TrustPolicy, error) {
	_ = ctx
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	p, ok := s.db.policies[identityID]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (s *TrustPolicyStore) Create(ctx context.Context, p *core.TrustPolicy) (*core.TrustPolicy, error) {
	_ = ctx
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	rec := *p
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	now := time.Now()
	rec.CreatedAt = now
	rec.UpdatedAt = now
	s.db.policies[rec.IdentityID] = rec
	return &rec, nil
}

func (s *TrustPolicyStore) Update(ctx context.Context, id uuid.UUID, patch core.TrustPolicyUpdate) (*core.TrustPolicy, error) {
	_ = ctx
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	for identityID, rec := range s.db.policies {
		if rec.ID != id {
			continue
		}
		if patch.DiscoveryURL != nil {
			rec.DiscoveryURL = *patch.DiscoveryURL
		}
		if patch.EncryptedCACert != nil {
			rec.EncryptedCACert = *patch.EncryptedCACert
		}
		if patch.BoundIssuer != nil {
			rec.BoundIssuer = *patch.BoundIssuer
		}
		if patch.BoundSubject != nil {
			rec.BoundSubject = *patch.BoundSubject
		}
		if patch.BoundAudiences != nil {
			rec.BoundAudiences = *patch.BoundAudiences
		}
		if patch.BoundClaims != nil {
			rec.BoundClaims = patch.BoundClaims
		}
		if patch.AccessTokenTTL != nil {
			rec.AccessTokenTTL = *patch.AccessTokenTTL
		}
		if patch.AccessTokenMaxTTL != nil {
			rec.AccessTokenMaxTTL = *patch.AccessTokenMaxTTL
		}
		if patch.AccessTokenNumUsesLimit != nil {
			rec.AccessTokenNumUsesLimit = *patch.AccessTokenNumUsesLimit
		}
		if patch.AccessTokenTrustedIPs != nil {
			rec.AccessTokenTrustedIPs = patch.AccessTokenTrustedIPs
		}
		rec.UpdatedAt = time.Now()
		s.db.policies[identityID] = rec
		return &rec, nil
	}
	return nil, nil
}

func (s *TrustPolicyStore) DeleteByIdentity(ctx context.Context, identityID uuid.UUID) (*core.TrustPolicy, error) {
	_ = ctx
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	rec, ok := s.db.policies[identityID]
	if !ok {
		return nil, nil
	}
	delete(s.db.policies, identityID)
	return &rec, nil
}

// AccessTokenStore implements core.AccessTokenStore.
type AccessTokenStore struct{ db *DB }

func (s *AccessTokenStore) Create(ctx context.Context, t *core.AccessToken) (*core.AccessToken, error) {
	_ = ctx
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	rec := *t
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	rec.CreatedAt = time.Now()
	s.db.tokens[rec.ID] = rec
	return &rec, nil
}

func (s *AccessTokenStore) DeleteByIdentityAndMethod(ctx context.Context, identityID uuid.UUID, authMethod string) error {
	_ = ctx
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	for id, rec := range s.db.tokens {
		if rec.IdentityID == identityID && rec.AuthMethod == authMethod {
			delete(s.db.tokens, id)
		}
	}
	return nil
}

func (s *AccessTokenStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	_ = ctx
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var n int64
	for id, rec := range s.db.tokens {
		expired := rec.MaxTTL > 0 && now.After(rec.CreatedAt.Add(time.Duration(rec.MaxTTL)*time.Second))
		if rec.Revoked || expired {
			delete(s.db.tokens, id)
			n++
		}
	}
	return n, nil
}

// CountByIdentity reports live token records for an identity. Test helper.
func (s *AccessTokenStore) CountByIdentity(identityID uuid.UUID) int {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	n := 0
	for _, rec := range s.db.tokens {
		if rec.IdentityID == identityID {
			n++
		}
	}
	return n
}

// OrgBotStore implements core.OrgBotStore.
type OrgBotStore struct{ db *DB }

func (s *OrgBotStore) FindByOrg(ctx context.Context, orgID uuid.UUID) (*core.OrgBot, error) {
	_ = ctx
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	bot, ok := s.db.bots[orgID]
	if !ok {
		return nil, nil
	}
	return &bot, nil
}

func (s *OrgBotStore) Create(ctx context.Context, bot *core.OrgBot) (*core.OrgBot, error) {
	_ = ctx
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	rec := *bot
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	rec.CreatedAt = time.Now()
	s.db.bots[rec.OrgID] = rec
	return &rec, nil
}

// MembershipStore implements core.MembershipStore. AuthMethods is derived
// from the trust policies present, mirroring the relational join.
type MembershipStore struct{ db *DB }

func (s *MembershipStore) FindByIdentity(ctx context.Context, identityID uuid.UUID) (*core.Membership, error) {
	_ = ctx
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	m, ok := s.db.memberships[identityID]
	if !ok {
		return nil, nil
	}
	m.AuthMethods = nil
	if _, attached := s.db.policies[identityID]; attached {
		m.AuthMethods = []string{core.AuthMethodOIDC}
	}
	return &m, nil
}

// Transactor implements core.Transactor. All mutations are already atomic
// under the DB lock, so the closure simply runs in place.
type Transactor struct{}

func (Transactor) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
