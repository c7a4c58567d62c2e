package core_test

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/open-rails/machinekit/config"
	"github.com/open-rails/machinekit/core"
	"github.com/open-rails/machinekit/entitlements"
	"github.com/open-rails/machinekit/permission"
	memorystore "github.com/open-rails/machinekit/storage/memory"
)

const testAuthSecret = "test-auth-secret"

type stubPermissions struct {
	actor    permission.Set
	identity permission.Set
}

func (s *stubPermissions) GetOrgPermission(_ context.Context, actorType core.ActorType, _, _ uuid.UUID, _ string, _ uuid.UUID) (permission.Set, *core.Membership, error) {
	if actorType == core.ActorIdentity {
		return s.identity, nil, nil
	}
	return s.actor, nil, nil
}

type stubPlans struct {
	plan entitlements.Plan
}

func (s *stubPlans) GetPlan(context.Context, uuid.UUID) (entitlements.Plan, error) {
	return s.plan, nil
}

func fullSet() permission.Set {
	return permission.NewSet(
		permission.Rule{Action: permission.ActionCreate, Subject: permission.SubjectIdentity},
		permission.Rule{Action: permission.ActionRead, Subject: permission.SubjectIdentity},
		permission.Rule{Action: permission.ActionEdit, Subject: permission.SubjectIdentity},
		permission.Rule{Action: permission.ActionDelete, Subject: permission.SubjectIdentity},
	)
}

type fixture struct {
	db    *memorystore.DB
	svc   *core.Service
	perms *stubPermissions
	plans *stubPlans
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := memorystore.NewDB()
	perms := &stubPermissions{actor: fullSet()}
	plans := &stubPlans{plan: entitlements.Plan{Slug: "pro", IPAllowlisting: true}}

	log := logrus.New()
	log.SetOutput(io.Discard)

	cfg := &config.Config{
		AuthSecret:        testAuthSecret,
		RootEncryptionKey: "test-root-encryption-key",
		DiscoveryTimeout:  5 * time.Second,
	}
	svc, err := core.NewService(cfg, core.Deps{
		Policies:    db.TrustPolicies(),
		Tokens:      db.AccessTokens(),
		Bots:        db.OrgBots(),
		Memberships: db.Memberships(),
		Tx:          db.Transactor(),
		Permissions: perms,
		Plans:       plans,
		Logger:      log,
	})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return &fixture{db: db, svc: svc, perms: perms, plans: plans}
}

// addIdentity seeds one machine identity with an org membership and returns
// (identityID, orgID, actor).
func (f *fixture) addIdentity(t *testing.T) (uuid.UUID, uuid.UUID, core.Actor) {
	t.Helper()
	identityID := uuid.New()
	orgID := uuid.New()
	f.db.AddMembership(core.Membership{IdentityID: identityID, OrgID: orgID, Role: "member"})
	actor := core.Actor{Type: core.ActorUser, ID: uuid.New(), OrgID: orgID, AuthMethod: "email"}
	return identityID, orgID, actor
}

func (f *fixture) mustAttach(t *testing.T, in core.AttachInput) *core.PolicyView {
	t.Helper()
	view, err := f.svc.Attach(context.Background(), in)
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	return view
}
