// Package testing provides a mock OIDC identity provider for exercising the
// federated login flow without a real IdP. The issuer serves an OIDC
// discovery document and JWKS, and signs ID tokens that validate against
// that JWKS.
//
// Example:
//
//	idp := testing.NewIdentityProvider()
//	defer idp.Close()
//
//	policy.DiscoveryURL = idp.URL()
//	policy.BoundIssuer = idp.URL()
//	token := idp.SignIDToken(map[string]any{"sub": "machine-1"})
package testing

import (
	"context"
	"encoding/json"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	jwtkit "github.com/open-rails/machinekit/jwt"
)

// IdentityProvider is a fake IdP backed by httptest. It can run over plain
// HTTP or TLS; the TLS variant exposes its CA certificate in PEM form for
// custom-trust-anchor tests.
type IdentityProvider struct {
	server *httptest.Server
	signer *jwtkit.RSASigner
	// issuerOverride, when set, replaces the iss claim in signed tokens so
	// tests can simulate a hostile or mismatched issuer.
	issuerOverride string
}

// NewIdentityProvider starts a plain-HTTP mock IdP.
func NewIdentityProvider() *IdentityProvider {
	idp := newProvider()
	idp.server = httptest.NewServer(idp.routes())
	return idp
}

// NewTLSIdentityProvider starts an HTTPS mock IdP with a self-signed
// certificate. Use CAPEM with the trust policy's custom CA field.
func NewTLSIdentityProvider() *IdentityProvider {
	idp := newProvider()
	idp.server = httptest.NewTLSServer(idp.routes())
	return idp
}

func newProvider() *IdentityProvider {
	signer, err := jwtkit.NewRSASigner(2048, "idp-key-1")
	if err != nil {
		panic("testing: failed to create RSA signer: " + err.Error())
	}
	return &IdentityProvider{signer: signer}
}

func (p *IdentityProvider) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", p.handleDiscovery)
	mux.HandleFunc("/.well-known/jwks.json", p.handleJWKS)
	return mux
}

// URL returns the issuer base URL. Use it as both the discovery URL and the
// bound issuer.
func (p *IdentityProvider) URL() string { return p.server.URL }

// Close shuts the server down.
func (p *IdentityProvider) Close() { p.server.Close() }

// KID returns the id of the signing key published in the JWKS.
func (p *IdentityProvider) KID() string { return p.signer.KID() }

// SetIssuer overrides the iss claim on subsequently signed tokens.
func (p *IdentityProvider) SetIssuer(iss string) { p.issuerOverride = iss }

// CAPEM returns the PEM encoding of the TLS server certificate, usable as a
// custom CA anchor. Panics if the provider is not running TLS.
func (p *IdentityProvider) CAPEM() string {
	cert := p.server.Certificate()
	if cert == nil {
		panic("testing: CAPEM called on a non-TLS identity provider")
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw}))
}

// Client returns an HTTP client trusting the TLS server certificate; only
// meaningful for the TLS variant.
func (p *IdentityProvider) Client() *http.Client { return p.server.Client() }

// SignIDToken signs an ID token with the provider's key. Standard claims
// (iss, iat, exp) are filled in unless present in claims; exp set to nil
// removes the expiry entirely.
func (p *IdentityProvider) SignIDToken(claims map[string]any) string {
	now := time.Now()
	full := jwt.MapClaims{
		"iss": p.issuer(),
		"iat": now.Unix(),
		"exp": now.Add(time.Hour).Unix(),
	}
	for k, v := range claims {
		if v == nil {
			delete(full, k)
			continue
		}
		full[k] = v
	}
	raw, err := p.signer.Sign(context.Background(), full)
	if err != nil {
		panic("testing: failed to sign token: " + err.Error())
	}
	return raw
}

// SignExpiredIDToken signs a token that expired an hour ago.
func (p *IdentityProvider) SignExpiredIDToken(claims map[string]any) string {
	merged := map[string]any{"exp": time.Now().Add(-time.Hour).Unix()}
	for k, v := range claims {
		merged[k] = v
	}
	return p.SignIDToken(merged)
}

func (p *IdentityProvider) issuer() string {
	if p.issuerOverride != "" {
		return p.issuerOverride
	}
	return p.server.URL
}

func (p *IdentityProvider) handleDiscovery(w http.ResponseWriter, _ *http.Request) {
	doc := map[string]string{
		"issuer":   p.server.URL,
		"jwks_uri": p.server.URL + "/.well-known/jwks.json",
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(doc)
}

func (p *IdentityProvider) handleJWKS(w http.ResponseWriter, r *http.Request) {
	key := jwtkit.RSAPublicToJWK(p.signer.PublicKey(), p.signer.KID(), p.signer.Algorithm())
	jwtkit.ServeJWKS(w, r, jwtkit.JWKS{Keys: []jwtkit.JWK{key}})
}
