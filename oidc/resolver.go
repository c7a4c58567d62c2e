package oidckit

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
)

// Upstream IdP integration failures, distinguished so callers can choose a
// posture (5xx vs unauthorized) per class.
var (
	ErrTrustEndpointUnreachable = errors.New("oidc: trust endpoint unreachable")
	ErrInvalidDiscoveryDocument = errors.New("oidc: invalid discovery document")
	ErrSigningKeyNotFound       = errors.New("oidc: signing key not found")
)

const defaultFetchTimeout = 10 * time.Second

type discoveryDoc struct {
	Issuer  string `json:"issuer"`
	JWKSURI string `json:"jwks_uri"`
}

// KeyCache stores raw JWKS documents per discovery URL. Implementations must
// expire entries after the configured max age; a stale key set must never be
// served past it.
type KeyCache interface {
	Get(ctx context.Context, discoveryURL string) ([]byte, bool, error)
	Put(ctx context.Context, discoveryURL string, jwks []byte) error
}

// KeyResolver locates IdP signing keys through OIDC discovery. Each trust
// policy supplies its own discovery URL and optional CA anchor, so the
// resolver is stateless apart from the shared cache.
type KeyResolver struct {
	timeout time.Duration
	cache   KeyCache
}

// ResolverOpt configures a KeyResolver.
type ResolverOpt func(*KeyResolver)

// WithFetchTimeout bounds each discovery/JWKS request.
func WithFetchTimeout(d time.Duration) ResolverOpt {
	return func(r *KeyResolver) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithKeyCache caches JWKS documents between logins.
func WithKeyCache(c KeyCache) ResolverOpt {
	return func(r *KeyResolver) { r.cache = c }
}

// NewKeyResolver constructs a resolver with a bounded fetch timeout.
func NewKeyResolver(opts ...ResolverOpt) *KeyResolver {
	r := &KeyResolver{timeout: defaultFetchTimeout}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ResolveSigningKey fetches the discovery document for discoveryURL, follows
// jwks_uri, and returns the key whose id matches kid.
//
// When caPEM is non-empty only that CA is trusted; otherwise the system
// store is used. Peer verification is mandatory in both modes.
func (r *KeyResolver) ResolveSigningKey(ctx context.Context, discoveryURL, caPEM, kid string) (jwk.Key, error) {
	client, err := httpClientFor(caPEM, r.timeout)
	if err != nil {
		return nil, err
	}

	if r.cache != nil {
		if raw, ok, cacheErr := r.cache.Get(ctx, discoveryURL); cacheErr == nil && ok {
			if set, parseErr := jwk.Parse(raw); parseErr == nil {
				if key, found := set.LookupKeyID(kid); found {
					return key, nil
				}
				// Cached set may predate a key rotation; fall through and refetch.
			}
		}
	}

	jwksURI, err := r.fetchDiscovery(ctx, client, discoveryURL)
	if err != nil {
		return nil, err
	}
	raw, err := r.fetchJWKS(ctx, client, jwksURI)
	if err != nil {
		return nil, err
	}
	set, err := jwk.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: bad jwks: %v", ErrInvalidDiscoveryDocument, err)
	}
	if r.cache != nil {
		_ = r.cache.Put(ctx, discoveryURL, raw)
	}
	key, found := set.LookupKeyID(kid)
	if !found {
		return nil, fmt.Errorf("%w: kid %q", ErrSigningKeyNotFound, kid)
	}
	return key, nil
}

func (r *KeyResolver) fetchDiscovery(ctx context.Context, client *http.Client, discoveryURL string) (string, error) {
	url := strings.TrimRight(discoveryURL, "/") + "/.well-known/openid-configuration"
	body, err := fetch(ctx, client, url)
	if err != nil {
		return "", err
	}
	var doc discoveryDoc
	if err := json.Unmarshal(body, &doc); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidDiscoveryDocument, err)
	}
	if doc.JWKSURI == "" {
		return "", fmt.Errorf("%w: missing jwks_uri", ErrInvalidDiscoveryDocument)
	}
	return doc.JWKSURI, nil
}

func (r *KeyResolver) fetchJWKS(ctx context.Context, client *http.Client, jwksURI string) ([]byte, error) {
	return fetch(ctx, client, jwksURI)
}

func fetch(ctx context.Context, client *http.Client, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTrustEndpointUnreachable, err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTrustEndpointUnreachable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: %s returned %s", ErrTrustEndpointUnreachable, url, resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTrustEndpointUnreachable, err)
	}
	return body, nil
}

// httpClientFor trusts exactly one of: the supplied CA, or the system store.
// The two are never merged.
func httpClientFor(caPEM string, timeout time.Duration) (*http.Client, error) {
	if timeout <= 0 {
		timeout = defaultFetchTimeout
	}
	if caPEM == "" {
		return &http.Client{Timeout: timeout}, nil
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM([]byte(caPEM)) {
		return nil, fmt.Errorf("%w: unparseable CA certificate", ErrTrustEndpointUnreachable)
	}
	transport := &http.Transport{
		TLSClientConfig: &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12},
	}
	return &http.Client{Timeout: timeout, Transport: transport}, nil
}
