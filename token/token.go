// Package token signs and verifies the opaque bearer tokens issued to
// machine identities after a successful federated login. Tokens are HMAC
// signed with the process-wide auth secret and verified statelessly;
// revocation and use counting live in the persisted access-token record.
package token

import (
	"errors"
	"fmt"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TypeIdentityAccess discriminates identity access tokens from any other
// token signed with the same secret.
const TypeIdentityAccess = "identityAccessToken"

// ErrInvalidAccessToken covers malformed, mis-signed, expired, or
// wrong-type bearer tokens.
var ErrInvalidAccessToken = errors.New("token: invalid access token")

// AccessClaims is the payload embedded in an issued bearer token.
type AccessClaims struct {
	IdentityID    uuid.UUID
	AccessTokenID uuid.UUID
}

// SignAccessToken mints a bearer token for the given identity and
// access-token record. ttlSeconds of zero means the token never expires:
// the exp claim is omitted entirely, never set to zero.
func SignAccessToken(secret []byte, identityID, accessTokenID uuid.UUID, ttlSeconds int64) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("token: empty signing secret")
	}
	now := time.Now()
	claims := jwt.MapClaims{
		"identityId":            identityID.String(),
		"identityAccessTokenId": accessTokenID.String(),
		"authTokenType":         TypeIdentityAccess,
		"iat":                   now.Unix(),
	}
	if ttlSeconds != 0 {
		claims["exp"] = now.Add(time.Duration(ttlSeconds) * time.Second).Unix()
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// ParseAccessToken verifies a bearer token and extracts its claims. Only
// HS256 under the configured secret is accepted.
func ParseAccessToken(secret []byte, raw string) (*AccessClaims, error) {
	parsed, err := jwt.Parse(raw,
		func(*jwt.Token) (any, error) { return secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil || !parsed.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAccessToken, err)
	}
	mc, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrInvalidAccessToken
	}
	if t, _ := mc["authTokenType"].(string); t != TypeIdentityAccess {
		return nil, fmt.Errorf("%w: unexpected token type", ErrInvalidAccessToken)
	}
	identityID, err := claimUUID(mc, "identityId")
	if err != nil {
		return nil, err
	}
	accessTokenID, err := claimUUID(mc, "identityAccessTokenId")
	if err != nil {
		return nil, err
	}
	return &AccessClaims{IdentityID: identityID, AccessTokenID: accessTokenID}, nil
}

func claimUUID(mc jwt.MapClaims, name string) (uuid.UUID, error) {
	s, _ := mc[name].(string)
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: bad %s claim", ErrInvalidAccessToken, name)
	}
	return id, nil
}
