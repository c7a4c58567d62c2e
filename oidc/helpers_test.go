package oidckit_test

import (
	"testing"

	jwt "github.com/golang-jwt/jwt/v5"
)

func signHS256(t *testing.T, claims map[string]any) string {
	t.Helper()
	mc := jwt.MapClaims{}
	for k, v := range claims {
		mc[k] = v
	}
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, mc).SignedString([]byte("any-secret"))
	if err != nil {
		t.Fatalf("sign hs256: %v", err)
	}
	return raw
}
