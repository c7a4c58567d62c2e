package core_test

import (
	"context"
	"errors"
	"testing"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/open-rails/machinekit/core"
	"github.com/open-rails/machinekit/token"
	idptest "github.com/open-rails/machinekit/testing"
)

func TestLoginIssuesAccessToken(t *testing.T) {
	f := newFixture(t)
	idp := idptest.NewIdentityProvider()
	defer idp.Close()

	identityID, _, actor := f.addIdentity(t)
	f.mustAttach(t, core.AttachInput{
		IdentityID:     identityID,
		Actor:          actor,
		DiscoveryURL:   idp.URL(),
		BoundIssuer:    idp.URL(),
		BoundSubject:   "repo:acme/app:ref:refs/heads/main",
		BoundAudiences: "svc-a, svc-b",
		BoundClaims:    map[string]string{"environment": "prod"},
		AccessTokenTTL: 3600,
	})

	raw := idp.SignIDToken(map[string]any{
		"sub":         "repo:acme/app:ref:refs/heads/main",
		"aud":         []string{"svc-b"},
		"environment": "prod",
	})
	res, err := f.svc.Login(context.Background(), identityID, raw)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	claims, err := token.ParseAccessToken([]byte(testAuthSecret), res.AccessToken)
	if err != nil {
		t.Fatalf("ParseAccessToken: %v", err)
	}
	if claims.IdentityID != identityID {
		t.Errorf("identity id = %s, want %s", claims.IdentityID, identityID)
	}
	if claims.AccessTokenID != res.IssuedToken.ID {
		t.Errorf("access token id = %s, want %s", claims.AccessTokenID, res.IssuedToken.ID)
	}
	if got := f.db.AccessTokens().CountByIdentity(identityID); got != 1 {
		t.Errorf("token records = %d, want 1", got)
	}
}

func TestLoginRejectsForeignIssuerSignature(t *testing.T) {
	f := newFixture(t)
	idp := idptest.NewIdentityProvider()
	defer idp.Close()
	evil := idptest.NewIdentityProvider()
	defer evil.Close()

	identityID, _, actor := f.addIdentity(t)
	f.mustAttach(t, core.AttachInput{
		IdentityID:   identityID,
		Actor:        actor,
		DiscoveryURL: idp.URL(),
		BoundIssuer:  idp.URL(),
	})

	// Signed by a different provider; the bound issuer's JWKS cannot verify
	// it even though the kid collides.
	evil.SetIssuer(idp.URL())
	raw := evil.SignIDToken(map[string]any{"sub": "machine-1"})

	_, err := f.svc.Login(context.Background(), identityID, raw)
	var denied *core.UnauthorizedError
	if !errors.As(err, &denied) {
		t.Fatalf("err = %v, want UnauthorizedError", err)
	}
	if denied.Error() != "access denied" {
		t.Errorf("client-facing message = %q, want uniform %q", denied.Error(), "access denied")
	}
	if got := f.db.AccessTokens().CountByIdentity(identityID); got != 0 {
		t.Errorf("token records after denial = %d, want 0", got)
	}
}

func TestLoginRejectsIssuerMismatch(t *testing.T) {
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

	idp.SetIssuer("https://evil.example.com")
	raw := idp.SignIDToken(map[string]any{"sub": "machine-1"})

	_, err := f.svc.Login(context.Background(), identityID, raw)
	var denied *core.UnauthorizedError
	if !errors.As(err, &denied) {
		t.Fatalf("err = %v, want UnauthorizedError", err)
	}
}

func TestLoginAudienceDisjunction(t *testing.T) {
	f := newFixture(t)
	idp := idptest.NewIdentityProvider()
	defer idp.Close()

	identityID, _, actor := f.addIdentity(t)
	f.mustAttach(t, core.AttachInput{
		IdentityID:     identityID,
		Actor:          actor,
		DiscoveryURL:   idp.URL(),
		BoundIssuer:    idp.URL(),
		BoundAudiences: "svc-b, svc-c",
	})

	// One shared audience is enough.
	raw := idp.SignIDToken(map[string]any{"sub": "m", "aud": []string{"svc-a", "svc-c"}})
	if _, err := f.svc.Login(context.Background(), identityID, raw); err != nil {
		t.Fatalf("Login with overlapping audience: %v", err)
	}

	raw = idp.SignIDToken(map[string]any{"sub": "m", "aud": "svc-d"})
	_, err := f.svc.Login(context.Background(), identityID, raw)
	var denied *core.UnauthorizedError
	if !errors.As(err, &denied) {
		t.Fatalf("err = %v, want UnauthorizedError for disjoint audience", err)
	}
}

func TestLoginSubjectWildcard(t *testing.T) {
	f := newFixture(t)
	idp := idptest.NewIdentityProvider()
	defer idp.Close()

	identityID, _, actor := f.addIdentity(t)
	f.mustAttach(t, core.AttachInput{
		IdentityID:   identityID,
		Actor:        actor,
		DiscoveryURL: idp.URL(),
		BoundIssuer:  idp.URL(),
		BoundSubject: "repo:acme/*:ref:refs/heads/main",
	})

	raw := idp.SignIDToken(map[string]any{"sub": "repo:acme/web:ref:refs/heads/main"})
	if _, err := f.svc.Login(context.Background(), identityID, raw); err != nil {
		t.Fatalf("Login with wildcard-matched subject: %v", err)
	}

	raw = idp.SignIDToken(map[string]any{"sub": "repo:other/web:ref:refs/heads/main"})
	if _, err := f.svc.Login(context.Background(), identityID, raw); err == nil {
		t.Fatal("Login with unmatched subject succeeded")
	}
}

func TestLoginBoundClaimDenied(t *testing.T) {
	f := newFixture(t)
	idp := idptest.NewIdentityProvider()
	defer idp.Close()

	identityID, _, actor := f.addIdentity(t)
	f.mustAttach(t, core.AttachInput{
		IdentityID:   identityID,
		Actor:        actor,
		DiscoveryURL: idp.URL(),
		BoundIssuer:  idp.URL(),
		BoundClaims:  map[string]string{"environment": "prod, staging"},
	})

	raw := idp.SignIDToken(map[string]any{"sub": "m", "environment": "dev"})
	_, err := f.svc.Login(context.Background(), identityID, raw)
	var denied *core.UnauthorizedError
	if !errors.As(err, &denied) {
		t.Fatalf("err = %v, want UnauthorizedError", err)
	}

	// Missing claim is also a denial.
	raw = idp.SignIDToken(map[string]any{"sub": "m"})
	if _, err := f.svc.Login(context.Background(), identityID, raw); !errors.As(err, &denied) {
		t.Fatalf("err = %v, want UnauthorizedError for absent claim", err)
	}
}

func TestLoginExpiredToken(t *testing.T) {
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

	raw := idp.SignExpiredIDToken(map[string]any{"sub": "m"})
	_, err := f.svc.Login(context.Background(), identityID, raw)
	var denied *core.UnauthorizedError
	if !errors.As(err, &denied) {
		t.Fatalf("err = %v, want UnauthorizedError", err)
	}
}

func TestLoginTTLZeroOmitsExpiry(t *testing.T) {
	f := newFixture(t)
	idp := idptest.NewIdentityProvider()
	defer idp.Close()

	identityID, _, actor := f.addIdentity(t)
	f.mustAttach(t, core.AttachInput{
		IdentityID:     identityID,
		Actor:          actor,
		DiscoveryURL:   idp.URL(),
		BoundIssuer:    idp.URL(),
		AccessTokenTTL: 0,
	})

	raw := idp.SignIDToken(map[string]any{"sub": "m"})
	res, err := f.svc.Login(context.Background(), identityID, raw)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	parsed, _, err := jwt.NewParser().ParseUnverified(res.AccessToken, jwt.MapClaims{})
	if err != nil {
		t.Fatalf("ParseUnverified: %v", err)
	}
	if _, ok := parsed.Claims.(jwt.MapClaims)["exp"]; ok {
		t.Error("exp claim present on a never-expiring token")
	}
	if _, err := token.ParseAccessToken([]byte(testAuthSecret), res.AccessToken); err != nil {
		t.Errorf("ParseAccessToken: %v", err)
	}
}

func TestLoginCustomCA(t *testing.T) {
	f := newFixture(t)
	idp := idptest.NewTLSIdentityProvider()
	defer idp.Close()

	identityID, _, actor := f.addIdentity(t)
	f.mustAttach(t, core.AttachInput{
		IdentityID:   identityID,
		Actor:        actor,
		DiscoveryURL: idp.URL(),
		BoundIssuer:  idp.URL(),
		CACert:       idp.CAPEM(),
	})

	raw := idp.SignIDToken(map[string]any{"sub": "m"})
	if _, err := f.svc.Login(context.Background(), identityID, raw); err != nil {
		t.Fatalf("Login against self-signed IdP with pinned CA: %v", err)
	}
}

func TestLoginUnknownIdentity(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Login(context.Background(), uuid.New(), "whatever")
	var nf *core.NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("err = %v, want NotFoundError", err)
	}
}
