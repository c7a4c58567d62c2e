package oidckit

import (
	"context"
	"errors"
	"fmt"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jws"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

// Verification failures. The orchestrator remaps all of these to a uniform
// access-denied response; the distinction exists for logging.
var (
	ErrInvalidToken      = errors.New("oidc: invalid token")
	ErrSignatureMismatch = errors.New("oidc: signature mismatch")
	ErrIssuerMismatch    = errors.New("oidc: issuer mismatch")
)

// Only asymmetric signing algorithms are accepted. "none" and the HMAC
// family are rejected before any signature check: an attacker must not be
// able to use the IdP's public key as an HMAC secret.
var allowedAlgorithms = map[jwa.SignatureAlgorithm]struct{}{
	jwa.RS256: {},
	jwa.RS384: {},
	jwa.RS512: {},
	jwa.PS256: {},
	jwa.PS384: {},
	jwa.PS512: {},
	jwa.ES256: {},
	jwa.ES384: {},
	jwa.ES512: {},
	jwa.EdDSA: {},
}

// DecodeHeader extracts the key id and algorithm from a compact JWT without
// verifying it. The algorithm is validated against the asymmetric allowlist.
func DecodeHeader(raw string) (kid string, alg jwa.SignatureAlgorithm, err error) {
	msg, err := jws.ParseString(raw)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	sigs := msg.Signatures()
	if len(sigs) == 0 {
		return "", "", fmt.Errorf("%w: no signature", ErrInvalidToken)
	}
	headers := sigs[0].ProtectedHeaders()
	alg = headers.Algorithm()
	if _, ok := allowedAlgorithms[alg]; !ok {
		return "", "", fmt.Errorf("%w: algorithm %q not permitted", ErrInvalidToken, alg)
	}
	return headers.KeyID(), alg, nil
}

// VerifyIDToken checks the token signature against key, enforces exp/nbf if
// present, and requires the iss claim to equal expectedIssuer byte for byte.
// On success it returns the full claim set.
func VerifyIDToken(ctx context.Context, raw string, key jwk.Key, expectedIssuer string) (map[string]any, error) {
	_, alg, err := DecodeHeader(raw)
	if err != nil {
		return nil, err
	}

	tok, err := jwt.ParseString(raw,
		jwt.WithContext(ctx),
		jwt.WithKey(alg, key),
		jwt.WithValidate(false),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSignatureMismatch, err)
	}

	// exp and nbf are a security floor, not optional.
	if err := jwt.Validate(tok, jwt.WithContext(ctx)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if tok.Issuer() != expectedIssuer {
		return nil, fmt.Errorf("%w: got %q", ErrIssuerMismatch, tok.Issuer())
	}

	claims, err := tok.AsMap(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return claims, nil
}
