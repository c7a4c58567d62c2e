package core_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/open-rails/machinekit/core"
	"github.com/open-rails/machinekit/entitlements"
	"github.com/open-rails/machinekit/permission"
	idptest "github.com/open-rails/machinekit/testing"
)

func TestAttachRejectsSecondPolicy(t *testing.T) {
	f := newFixture(t)
	identityID, _, actor := f.addIdentity(t)

	in := core.AttachInput{
		IdentityID:   identityID,
		Actor:        actor,
		DiscoveryURL: "https://idp.example.com",
		BoundIssuer:  "https://idp.example.com",
	}
	f.mustAttach(t, in)

	_, err := f.svc.Attach(context.Background(), in)
	var br *core.BadRequestError
	if !errors.As(err, &br) {
		t.Fatalf("second attach err = %v, want BadRequestError", err)
	}
}

func TestAttachTTLAboveMax(t *testing.T) {
	f := newFixture(t)
	identityID, _, actor := f.addIdentity(t)

	_, err := f.svc.Attach(context.Background(), core.AttachInput{
		IdentityID:        identityID,
		Actor:             actor,
		DiscoveryURL:      "https://idp.example.com",
		AccessTokenTTL:    7200,
		AccessTokenMaxTTL: 3600,
	})
	var br *core.BadRequestError
	if !errors.As(err, &br) {
		t.Fatalf("err = %v, want BadRequestError", err)
	}
}

func TestAttachRequiresCreatePermission(t *testing.T) {
	f := newFixture(t)
	identityID, _, actor := f.addIdentity(t)
	f.perms.actor = permission.NewSet(
		permission.Rule{Action: permission.ActionRead, Subject: permission.SubjectIdentity},
	)

	_, err := f.svc.Attach(context.Background(), core.AttachInput{
		IdentityID:   identityID,
		Actor:        actor,
		DiscoveryURL: "https://idp.example.com",
	})
	var fe *core.ForbiddenError
	if !errors.As(err, &fe) {
		t.Fatalf("err = %v, want ForbiddenError", err)
	}
}

func TestAttachTrustedIPPlanGating(t *testing.T) {
	f := newFixture(t)
	f.plans.plan = entitlements.Plan{Slug: "free", IPAllowlisting: false}

	identityID, _, actor := f.addIdentity(t)
	base := core.AttachInput{
		IdentityID:   identityID,
		Actor:        actor,
		DiscoveryURL: "https://idp.example.com",
	}

	in := base
	in.AccessTokenTrustedIPs = []string{"10.0.0.0/8"}
	_, err := f.svc.Attach(context.Background(), in)
	var br *core.BadRequestError
	if !errors.As(err, &br) {
		t.Fatalf("restricted range on free plan err = %v, want BadRequestError", err)
	}
	if !strings.Contains(br.Message, "plan") {
		t.Errorf("message %q does not mention the plan restriction", br.Message)
	}

	// The match-everything defaults stay allowed on any plan.
	in = base
	in.AccessTokenTrustedIPs = []string{"0.0.0.0/0", "::/0"}
	view := f.mustAttach(t, in)
	if got := len(view.Policy.AccessTokenTrustedIPs); got != 2 {
		t.Errorf("stored trusted ips = %d, want 2", got)
	}
}

func TestAttachRejectsMalformedIP(t *testing.T) {
	f := newFixture(t)
	identityID, _, actor := f.addIdentity(t)

	_, err := f.svc.Attach(context.Background(), core.AttachInput{
		IdentityID:            identityID,
		Actor:                 actor,
		DiscoveryURL:          "https://idp.example.com",
		AccessTokenTrustedIPs: []string{"not-an-ip"},
	})
	var br *core.BadRequestError
	if !errors.As(err, &br) {
		t.Fatalf("err = %v, want BadRequestError", err)
	}
}

func TestAttachReusesOrgBot(t *testing.T) {
	f := newFixture(t)
	id1, orgID, actor := f.addIdentity(t)
	id2 := uuid.New()
	// Both identities share one org.
	f.db.AddMembership(core.Membership{IdentityID: id2, OrgID: orgID, Role: "member"})

	f.mustAttach(t, core.AttachInput{IdentityID: id1, Actor: actor, DiscoveryURL: "https://a.example.com"})
	bot1, err := f.db.OrgBots().FindByOrg(context.Background(), orgID)
	if err != nil || bot1 == nil {
		t.Fatalf("org bot after first attach: %v, %v", bot1, err)
	}

	f.mustAttach(t, core.AttachInput{IdentityID: id2, Actor: actor, DiscoveryURL: "https://b.example.com"})
	bot2, err := f.db.OrgBots().FindByOrg(context.Background(), orgID)
	if err != nil || bot2 == nil {
		t.Fatalf("org bot after second attach: %v, %v", bot2, err)
	}
	if bot1.ID != bot2.ID {
		t.Errorf("org bot recreated: %s vs %s", bot1.ID, bot2.ID)
	}
}

func TestUpdatePartialKeepsCACert(t *testing.T) {
	f := newFixture(t)
	identityID, _, actor := f.addIdentity(t)
	f.mustAttach(t, core.AttachInput{
		IdentityID:   identityID,
		Actor:        actor,
		DiscoveryURL: "https://idp.example.com",
		CACert:       "-----BEGIN CERTIFICATE-----\nabc\n-----END CERTIFICATE-----",
	})

	newURL := "https://other.example.com"
	view, err := f.svc.Update(context.Background(), core.UpdateInput{
		IdentityID:   identityID,
		Actor:        actor,
		DiscoveryURL: &newURL,
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if view.Policy.DiscoveryURL != newURL {
		t.Errorf("discovery url = %q, want %q", view.Policy.DiscoveryURL, newURL)
	}
	if !strings.Contains(view.CACert, "BEGIN CERTIFICATE") {
		t.Errorf("ca cert lost on unrelated update: %q", view.CACert)
	}

	// An explicit empty string clears the pinned CA.
	empty := ""
	view, err = f.svc.Update(context.Background(), core.UpdateInput{
		IdentityID: identityID,
		Actor:      actor,
		CACert:     &empty,
	})
	if err != nil {
		t.Fatalf("Update clearing CA: %v", err)
	}
	if view.CACert != "" {
		t.Errorf("ca cert = %q, want empty", view.CACert)
	}
}

func TestUpdateTTLValidatedAgainstEffectiveMax(t *testing.T) {
	f := newFixture(t)
	identityID, _, actor := f.addIdentity(t)
	f.mustAttach(t, core.AttachInput{
		IdentityID:        identityID,
		Actor:             actor,
		DiscoveryURL:      "https://idp.example.com",
		AccessTokenTTL:    600,
		AccessTokenMaxTTL: 3600,
	})

	tooLong := int64(7200)
	_, err := f.svc.Update(context.Background(), core.UpdateInput{
		IdentityID:     identityID,
		Actor:          actor,
		AccessTokenTTL: &tooLong,
	})
	var br *core.BadRequestError
	if !errors.As(err, &br) {
		t.Fatalf("err = %v, want BadRequestError for ttl above stored max", err)
	}
}

func TestGetDecryptsCACert(t *testing.T) {
	f := newFixture(t)
	identityID, _, actor := f.addIdentity(t)
	ca := "-----BEGIN CERTIFICATE-----\npinned\n-----END CERTIFICATE-----"
	f.mustAttach(t, core.AttachInput{
		IdentityID:   identityID,
		Actor:        actor,
		DiscoveryURL: "https://idp.example.com",
		CACert:       ca,
	})

	view, err := f.svc.Get(context.Background(), identityID, actor)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if view.CACert != ca {
		t.Errorf("ca cert = %q, want original plaintext", view.CACert)
	}
	if view.Policy.EncryptedCACert.IsZero() {
		t.Error("stored ca cert is not encrypted")
	}
}

func TestRevokeCascades(t *testing.T) {
	f := newFixture(t)
	idp := idptest.NewIdentityProvider()
	defer idp.Close()

	identityID, _, actor := f.addIdentity(t)
	f.mustAttach(t, core.AttachInput{
		IdentityID:   identityID,
		Actor:        actor,
		DiscoveryURL: idp.URL(),
		BoundIssuer:  idp.URL(),
	})

	raw := idp.SignIDToken(map[string]any{"sub": "m"})
	if _, err := f.svc.Login(context.Background(), identityID, raw); err != nil {
		t.Fatalf("Login: %v", err)
	}
	if got := f.db.AccessTokens().CountByIdentity(identityID); got != 1 {
		t.Fatalf("token records before revoke = %d, want 1", got)
	}

	if _, err := f.svc.Revoke(context.Background(), identityID, actor); err != nil {
		t.Fatalf("Revoke: %v", err)
	}

	if got := f.db.AccessTokens().CountByIdentity(identityID); got != 0 {
		t.Errorf("token records after revoke = %d, want 0", got)
	}
	_, err := f.svc.Get(context.Background(), identityID, actor)
	var br *core.BadRequestError
	if !errors.As(err, &br) {
		t.Errorf("Get after revoke err = %v, want BadRequestError", err)
	}
	_, err = f.svc.Login(context.Background(), identityID, raw)
	var nf *core.NotFoundError
	if !errors.As(err, &nf) {
		t.Errorf("Login after revoke err = %v, want NotFoundError", err)
	}
}

func TestRevokeBlockedByPermissionBoundary(t *testing.T) {
	f := newFixture(t)
	identityID, _, actor := f.addIdentity(t)
	f.mustAttach(t, core.AttachInput{
		IdentityID:   identityID,
		Actor:        actor,
		DiscoveryURL: "https://idp.example.com",
	})

	// The identity holds a capability the actor lacks.
	f.perms.actor = permission.NewSet(
		permission.Rule{Action: permission.ActionEdit, Subject: permission.SubjectIdentity},
	)
	f.perms.identity = permission.NewSet(
		permission.Rule{Action: permission.ActionDelete, Subject: permission.SubjectIdentity},
	)

	_, err := f.svc.Revoke(context.Background(), identityID, actor)
	var pb *core.PermissionBoundaryError
	if !errors.As(err, &pb) {
		t.Fatalf("err = %v, want PermissionBoundaryError", err)
	}
	if len(pb.MissingPermissions) != 1 {
		t.Errorf("missing permissions = %v, want the delete rule", pb.MissingPermissions)
	}
}
