package jwtkit

import (
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
)

// JWK carries the minimal fields needed to publish an RSA public key.
type JWK struct {
	Kty string `json:"kty"`
	Use string `json:"use,omitempty"`
	Kid string `json:"kid,omitempty"`
	Alg string `json:"alg,omitempty"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// JWKS is a published key set.
type JWKS struct {
	Keys []JWK `json:"keys"`
}

// RSAPublicToJWK converts an RSA public key to its JWK form.
func RSAPublicToJWK(pub *rsa.PublicKey, kid, alg string) JWK {
	return JWK{
		Kty: "RSA",
		Use: "sig",
		Kid: kid,
		Alg: alg,
		N:   base64URLUint(pub.N),
		E:   base64URLUint(big.NewInt(int64(pub.E))),
	}
}

// ServeJWKS writes the key set as JSON.
func ServeJWKS(w http.ResponseWriter, _ *http.Request, ks JWKS) {
	b, _ := json.Marshal(ks)
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(b)
}

func base64URLUint(i *big.Int) string {
	b := i.Bytes()
	// Strip leading zeros for the canonical form.
	for len(b) > 0 && b[0] == 0x00 {
		b = b[1:]
	}
	return base64.RawURLEncoding.EncodeToString(b)
}
