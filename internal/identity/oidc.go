package identity

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/cenk/backoff"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	circuit "github.com/rubyist/circuitbreaker"

	"github.com/atoll-registry/atoll/pkg/config"
	"github.com/atoll-registry/atoll/pkg/types"
)

// providerClaims matches the identity claims GitHub Actions mints for a
// workflow run.
type providerClaims struct {
	jwt.RegisteredClaims
	Repository  string `json:"repository"`
	WorkflowRef string `json:"workflow_ref"`
	SHA         string `json:"sha"`
	Ref         string `json:"ref"`
	Actor       string `json:"actor"`
	RunID       string `json:"run_id"`
	Environment string `json:"environment"`
}

type jwksDocument struct {
	Keys []jwk `json:"keys"`
}

type jwk struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	Alg string `json:"alg"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// publicKey builds an *rsa.PublicKey from the JWK's base64url modulus and
// exponent.
func (k *jwk) publicKey() (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, fmt.Errorf("decoding modulus: %w", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, fmt.Errorf("decoding exponent: %w", err)
	}
	e := 0
	for _, b := range eBytes {
		e = e<<8 | int(b)
	}
	if e <= 1 {
		return nil, fmt.Errorf("invalid public exponent")
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(nBytes), E: e}, nil
}

// Verifier validates federated identity tokens against the provider's
// published signing keys. Keys are cached in process; refresh failures are
// suppressed for a negative TTL and served stale when possible, so a
// provider outage does not take down publishing for already-known keys.
type Verifier struct {
	config  *config.AuthConfig
	jwksURL string
	client  *http.Client
	parser  *jwt.Parser
	logger  zerolog.Logger
	breaker *circuit.Breaker

	mu        sync.RWMutex
	keys      map[string]*rsa.PublicKey
	fetchedAt time.Time
	failedAt  time.Time
}

// NewVerifier creates a verifier for the configured provider. A nil
// client gets a default with the configured fetch timeout.
func NewVerifier(cfg *config.AuthConfig, client *http.Client, logger zerolog.Logger) *Verifier {
	if client == nil {
		client = &http.Client{Timeout: cfg.KeyFetchTimeout}
	}

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = 30 * time.Second
	expBackoff.MaxInterval = 5 * time.Minute
	expBackoff.Multiplier = 2.0
	expBackoff.Reset()

	return &Verifier{
		config:  cfg,
		jwksURL: cfg.JWKSURL(),
		client:  client,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{"RS256"}),
			jwt.WithIssuer(cfg.Issuer),
			jwt.WithAudience(cfg.Audience),
			jwt.WithExpirationRequired(),
		),
		logger: logger.With().Str("component", "oidc").Logger(),
		breaker: circuit.NewBreakerWithOptions(&circuit.Options{
			BackOff:    expBackoff,
			ShouldTrip: circuit.ThresholdTripFunc(5),
		}),
	}
}

// Verify checks a federated identity token's signature, issuer, audience,
// and expiry, and extracts its provenance claims.
func (v *Verifier) Verify(ctx context.Context, token string) (*FederatedClaims, *types.RegistryError) {
	claims := &providerClaims{}
	_, err := v.parser.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, fmt.Errorf("token header missing kid")
		}
		return v.signingKey(ctx, kid)
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, types.ErrTokenExpired()
		}
		return nil, types.ErrTokenInvalid(err)
	}

	if claims.Repository == "" {
		return nil, types.ErrTokenInvalid(fmt.Errorf("token carries no repository claim"))
	}

	federated := &FederatedClaims{
		Provider:    v.config.Provider,
		Repository:  claims.Repository,
		Workflow:    claims.WorkflowRef,
		CommitSHA:   claims.SHA,
		Ref:         claims.Ref,
		Actor:       claims.Actor,
		RunID:       claims.RunID,
		Environment: claims.Environment,
	}
	if claims.IssuedAt != nil {
		issued := claims.IssuedAt.Time
		federated.IssuedAt = &issued
	}
	return federated, nil
}

// signingKey returns the cached key for kid, refreshing the key set when
// it is stale or unknown. If refresh fails but an old key exists, the old
// key is served rather than failing the request.
func (v *Verifier) signingKey(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	v.mu.RLock()
	key, ok := v.keys[kid]
	fresh := time.Since(v.fetchedAt) < v.config.KeyCacheTTL
	v.mu.RUnlock()

	if ok && fresh {
		return key, nil
	}

	if err := v.refreshKeys(ctx); err != nil {
		v.mu.RLock()
		key, ok = v.keys[kid]
		v.mu.RUnlock()
		if ok {
			v.logger.Warn().Err(err).Str("kid", kid).Msg("serving stale signing key")
			return key, nil
		}
		return nil, err
	}

	v.mu.RLock()
	key, ok = v.keys[kid]
	v.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("provider has no signing key %q", kid)
	}
	return key, nil
}

func (v *Verifier) refreshKeys(ctx context.Context) error {
	v.mu.RLock()
	sinceFailure := time.Since(v.failedAt)
	v.mu.RUnlock()
	if sinceFailure < v.config.KeyNegativeTTL {
		return fmt.Errorf("signing key refresh suppressed after recent failure")
	}

	if !v.breaker.Ready() {
		return fmt.Errorf("signing key endpoint suspended after repeated failures")
	}

	var fetched map[string]*rsa.PublicKey
	err := v.breaker.Call(func() error {
		var ferr error
		fetched, ferr = v.fetchKeys(ctx)
		return ferr
	}, 0)
	if err != nil {
		v.mu.Lock()
		v.failedAt = time.Now()
		v.mu.Unlock()
		return err
	}

	v.mu.Lock()
	v.keys = fetched
	v.fetchedAt = time.Now()
	v.failedAt = time.Time{}
	v.mu.Unlock()
	return nil
}

func (v *Verifier) fetchKeys(ctx context.Context) (map[string]*rsa.PublicKey, error) {
	ctx, cancel := context.WithTimeout(ctx, v.config.KeyFetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.jwksURL, nil)
	if err != nil {
		return nil, fmt.Errorf("building signing key request: %w", err)
	}

	resp, err := v.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching signing keys: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("signing key endpoint returned HTTP %d", resp.StatusCode)
	}

	var doc jwksDocument
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decoding signing keys: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(doc.Keys))
	for _, k := range doc.Keys {
		if k.Kty != "RSA" || k.Kid == "" {
			continue
		}
		pub, err := k.publicKey()
		if err != nil {
			v.logger.Warn().Err(err).Str("kid", k.Kid).Msg("skipping unusable signing key")
			continue
		}
		keys[k.Kid] = pub
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("signing key document contained no usable RSA keys")
	}
	return keys, nil
}
