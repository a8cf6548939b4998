package auth

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// keySetTTL bounds how long a fetched key set is served before the next
// verification triggers a refetch.
const keySetTTL = time.Hour

// fetchJWKS is a seam for testing the network fetch.
var fetchJWKS = func(ctx context.Context, client *http.Client, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("jwks endpoint returned %s", resp.Status)
	}
	return io.ReadAll(resp.Body)
}

// KeySet verifies federated access tokens against the identity provider's
// published key set. The cached keys are the only shared mutable state in
// the core: reads and swaps are guarded, but refetches are deliberately
// not serialized. Concurrent cache misses cost at most a few redundant
// network calls and every winner stores equivalent key material.
type KeySet struct {
	url      string
	issuer   string
	audience string

	httpClient *http.Client
	now        func() time.Time

	mu        sync.RWMutex
	cache     map[string]*rsa.PublicKey
	fetchedAt time.Time
}

// NewKeySet builds a KeySet for a Cognito user pool.
func NewKeySet(region, userPoolID, clientID string) *KeySet {
	issuer := fmt.Sprintf("https://cognito-idp.%s.amazonaws.com/%s", region, userPoolID)
	return &KeySet{
		url:        issuer + "/.well-known/jwks.json",
		issuer:     issuer,
		audience:   clientID,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		now:        time.Now,
	}
}

// Verify checks an access token's signature against the current key set
// and asserts audience, issuer, expiry, and the token_use marker. An ID
// token presented as an access token is rejected even when its signature
// is valid.
func (k *KeySet) Verify(ctx context.Context, accessToken string) (jwt.MapClaims, error) {
	claims := jwt.MapClaims{}

	token, err := jwt.ParseWithClaims(accessToken, claims, func(t *jwt.Token) (interface{}, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("token has no kid header")
		}
		return k.key(ctx, kid)
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithAudience(k.audience),
		jwt.WithIssuer(k.issuer),
		jwt.WithTimeFunc(k.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrAccessTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidAccessToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidAccessToken
	}

	if use, _ := claims["token_use"].(string); use != "access" {
		return nil, fmt.Errorf("%w: token_use is not access", ErrInvalidAccessToken)
	}

	return claims, nil
}

// key returns the public key for kid, refetching the set once when the
// cache is empty or older than keySetTTL. A refetch failure propagates:
// an unverifiable token is never accepted silently.
func (k *KeySet) key(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	k.mu.RLock()
	cache := k.cache
	fresh := cache != nil && k.now().Sub(k.fetchedAt) <= keySetTTL
	k.mu.RUnlock()

	if !fresh {
		data, err := fetchJWKS(ctx, k.httpClient, k.url)
		if err != nil {
			return nil, fmt.Errorf("fetching key set: %w", err)
		}
		parsed, err := parseJWKS(data)
		if err != nil {
			return nil, fmt.Errorf("parsing key set: %w", err)
		}

		k.mu.Lock()
		k.cache = parsed
		k.fetchedAt = k.now()
		k.mu.Unlock()

		cache = parsed
	}

	key, ok := cache[kid]
	if !ok {
		return nil, fmt.Errorf("no key for kid %q", kid)
	}
	return key, nil
}

type jwksDocument struct {
	Keys []struct {
		Kty string `json:"kty"`
		Kid string `json:"kid"`
		N   string `json:"n"`
		E   string `json:"e"`
	} `json:"keys"`
}

// parseJWKS assembles rsa.PublicKeys from the RSA entries of a JWKS
// document. Non-RSA entries are skipped.
func parseJWKS(data []byte) (map[string]*rsa.PublicKey, error) {
	doc := &jwksDocument{}
	if err := json.Unmarshal(data, doc); err != nil {
		return nil, err
	}

	keys := make(map[string]*rsa.PublicKey, len(doc.Keys))
	for _, entry := range doc.Keys {
		if entry.Kty != "RSA" || entry.Kid == "" {
			continue
		}
		n, err := base64.RawURLEncoding.DecodeString(entry.N)
		if err != nil {
			return nil, fmt.Errorf("key %s: bad modulus: %w", entry.Kid, err)
		}
		e, err := base64.RawURLEncoding.DecodeString(entry.E)
		if err != nil {
			return nil, fmt.Errorf("key %s: bad exponent: %w", entry.Kid, err)
		}
		keys[entry.Kid] = &rsa.PublicKey{
			N: new(big.Int).SetBytes(n),
			E: int(new(big.Int).SetBytes(e).Int64()),
		}
	}

	if len(keys) == 0 {
		return nil, errors.New("key set contains no usable RSA keys")
	}
	return keys, nil
}
