package oidckit_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"

	jwtkit "github.com/open-rails/machinekit/jwt"
	oidckit "github.com/open-rails/machinekit/oidc"
	idptest "github.com/open-rails/machinekit/testing"
)

const testIssuer = "https://idp.example"

func signerAndKey(t *testing.T) (*jwtkit.RSASigner, jwk.Key) {
	t.Helper()
	signer, err := jwtkit.NewRSASigner(2048, "verify-key-1")
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}
	key, err := jwk.FromRaw(signer.PublicKey())
	if err != nil {
		t.Fatalf("jwk from raw: %v", err)
	}
	_ = key.Set(jwk.KeyIDKey, signer.KID())
	_ = key.Set(jwk.AlgorithmKey, jwa.RS256)
	return signer, key
}

func signToken(t *testing.T, signer *jwtkit.RSASigner, claims map[string]any) string {
	t.Helper()
	full := map[string]any{
		"iss": testIssuer,
		"iat": time.Now().Unix(),
		"exp": time.Now().Add(time.Hour).Unix(),
	}
	for k, v := range claims {
		if v == nil {
			delete(full, k)
			continue
		}
		full[k] = v
	}
	mc := make(map[string]any, len(full))
	for k, v := range full {
		mc[k] = v
	}
	raw, err := signer.Sign(context.Background(), mc)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return raw
}

func TestVerifyIDToken(t *testing.T) {
	signer, key := signerAndKey(t)
	raw := signToken(t, signer, map[string]any{"sub": "machine-1", "aud": "svc-a"})

	claims, err := oidckit.VerifyIDToken(context.Background(), raw, key, testIssuer)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims["sub"] != "machine-1" {
		t.Fatalf("missing sub claim: %v", claims)
	}
}

func TestVerifyIDTokenIssuerMismatch(t *testing.T) {
	signer, key := signerAndKey(t)
	raw := signToken(t, signer, map[string]any{"iss": "https://evil.example"})

	_, err := oidckit.VerifyIDToken(context.Background(), raw, key, testIssuer)
	if !errors.Is(err, oidckit.ErrIssuerMismatch) {
		t.Fatalf("got %v, want ErrIssuerMismatch", err)
	}
}

func TestVerifyIDTokenIssuerIsCaseSensitive(t *testing.T) {
	signer, key := signerAndKey(t)
	raw := signToken(t, signer, map[string]any{"iss": "https://IDP.example"})

	if _, err := oidckit.VerifyIDToken(context.Background(), raw, key, testIssuer); !errors.Is(err, oidckit.ErrIssuerMismatch) {
		t.Fatalf("got %v, want ErrIssuerMismatch", err)
	}
}

func TestVerifyIDTokenWrongKey(t *testing.T) {
	signer, _ := signerAndKey(t)
	_, otherKey := signerAndKey(t)
	raw := signToken(t, signer, nil)

	_, err := oidckit.VerifyIDToken(context.Background(), raw, otherKey, testIssuer)
	if !errors.Is(err, oidckit.ErrSignatureMismatch) {
		t.Fatalf("got %v, want ErrSignatureMismatch", err)
	}
}

func TestVerifyIDTokenExpired(t *testing.T) {
	signer, key := signerAndKey(t)
	raw := signToken(t, signer, map[string]any{"exp": time.Now().Add(-time.Minute).Unix()})

	_, err := oidckit.VerifyIDToken(context.Background(), raw, key, testIssuer)
	if !errors.Is(err, oidckit.ErrInvalidToken) {
		t.Fatalf("got %v, want ErrInvalidToken", err)
	}
}

func TestVerifyIDTokenNotYetValid(t *testing.T) {
	signer, key := signerAndKey(t)
	raw := signToken(t, signer, map[string]any{"nbf": time.Now().Add(time.Hour).Unix()})

	_, err := oidckit.VerifyIDToken(context.Background(), raw, key, testIssuer)
	if !errors.Is(err, oidckit.ErrInvalidToken) {
		t.Fatalf("got %v, want ErrInvalidToken", err)
	}
}

func TestVerifyIDTokenRejectsMalformed(t *testing.T) {
	_, key := signerAndKey(t)
	if _, err := oidckit.VerifyIDToken(context.Background(), "not-a-jwt", key, testIssuer); !errors.Is(err, oidckit.ErrInvalidToken) {
		t.Fatalf("got %v, want ErrInvalidToken", err)
	}
}

func TestDecodeHeader(t *testing.T) {
	idp := idptest.NewIdentityProvider()
	defer idp.Close()

	raw := idp.SignIDToken(map[string]any{"sub": "machine-1"})
	kid, alg, err := oidckit.DecodeHeader(raw)
	if err != nil {
		t.Fatalf("decode header: %v", err)
	}
	if kid != idp.KID() {
		t.Fatalf("got kid %q, want %q", kid, idp.KID())
	}
	if alg != jwa.RS256 {
		t.Fatalf("got alg %q, want RS256", alg)
	}

	if _, _, err := oidckit.DecodeHeader("garbage"); !errors.Is(err, oidckit.ErrInvalidToken) {
		t.Fatalf("garbage header: got %v, want ErrInvalidToken", err)
	}
}

func TestDecodeHeaderRejectsSymmetricAlgorithms(t *testing.T) {
	// A token HMAC-signed with an arbitrary secret must be rejected by the
	// algorithm allowlist before any key material is consulted.
	hmacToken := signHS256(t, map[string]any{"iss": testIssuer})
	if _, _, err := oidckit.DecodeHeader(hmacToken); !errors.Is(err, oidckit.ErrInvalidToken) {
		t.Fatalf("got %v, want ErrInvalidToken", err)
	}
}
