// Package identity resolves the Authorization header of a request into a
// principal. Two credential forms are accepted: opaque registry API tokens
// looked up in the store, and short-lived federated identity JWTs verified
// against the configured provider's signing keys. Unauthenticated reads
// resolve to an anonymous principal bucketed by source address.
package identity

import (
	"context"
	"crypto/subtle"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/atoll-registry/atoll/internal/common"
	"github.com/atoll-registry/atoll/pkg/auth"
	"github.com/atoll-registry/atoll/pkg/config"
	"github.com/atoll-registry/atoll/pkg/types"
)

// Principal kinds.
const (
	KindToken     = "token"
	KindFederated = "federated"
	KindAnonymous = "anonymous"
)

// FederatedClaims carries the provenance a federated identity token
// asserts about the workflow run that requested it.
type FederatedClaims struct {
	Provider    string     `json:"provider"`
	Repository  string     `json:"repository"`
	Workflow    string     `json:"workflow"`
	CommitSHA   string     `json:"commit_sha"`
	Ref         string     `json:"ref"`
	Actor       string     `json:"actor"`
	RunID       string     `json:"run_id"`
	Environment string     `json:"environment"`
	IssuedAt    *time.Time `json:"issued_at,omitempty"`
}

// Principal is the resolved identity a request acts as.
type Principal struct {
	ID     string           `json:"id"`
	Kind   string           `json:"kind"`
	Scopes []string         `json:"scopes,omitempty"`
	Claims *FederatedClaims `json:"claims,omitempty"`
}

// HasScope reports whether the principal may perform a scoped operation.
// Federated identities carry no stored scopes; what they may touch is
// decided by ownership and trusted-publisher rules instead.
func (p *Principal) HasScope(scope string) bool {
	switch p.Kind {
	case KindFederated:
		return scope == types.ScopePublish || scope == types.ScopeYank
	case KindToken:
		for _, s := range p.Scopes {
			if s == scope {
				return true
			}
		}
	}
	return false
}

// Anonymous builds the principal for an unauthenticated request.
func Anonymous(sourceIP string) *Principal {
	return &Principal{ID: "anon:" + sourceIP, Kind: KindAnonymous}
}

// Service resolves credentials against the token store and the federated
// verifier.
type Service struct {
	db       *common.Database
	cache    *common.Cache
	verifier *Verifier
	config   *config.AuthConfig
	logger   zerolog.Logger
}

// NewService creates a new identity service. The verifier may be nil when
// federated identity is disabled.
func NewService(db *common.Database, cache *common.Cache, verifier *Verifier, cfg *config.AuthConfig, logger zerolog.Logger) *Service {
	return &Service{
		db:       db,
		cache:    cache,
		verifier: verifier,
		config:   cfg,
		logger:   logger.With().Str("component", "identity").Logger(),
	}
}

// Resolve turns an Authorization header into a principal. An empty or
// credential-free header is unauthenticated; callers on anonymous routes
// substitute Anonymous themselves so that a present-but-broken credential
// still surfaces as an error instead of silently downgrading.
func (s *Service) Resolve(ctx context.Context, authorization string) (*Principal, *types.RegistryError) {
	credential := auth.ExtractBearer(authorization)
	if credential == "" {
		return nil, types.ErrUnauthenticated("missing credentials")
	}

	if auth.LooksLikeJWT(credential) {
		if s.verifier == nil {
			return nil, types.ErrTokenInvalid(fmt.Errorf("federated identity is not enabled"))
		}
		claims, rerr := s.verifier.Verify(ctx, credential)
		if rerr != nil {
			return nil, rerr
		}
		return &Principal{
			ID:     fmt.Sprintf("federated:%s:%s", claims.Provider, claims.Repository),
			Kind:   KindFederated,
			Claims: claims,
		}, nil
	}

	return s.resolveAPIToken(ctx, credential)
}

func (s *Service) resolveAPIToken(ctx context.Context, credential string) (*Principal, *types.RegistryError) {
	if !auth.ValidateTokenFormat(credential) {
		return nil, types.ErrTokenInvalid(fmt.Errorf("credential is neither a registry token nor a federated identity token"))
	}

	hash := auth.HashToken(credential)

	// Resolved tokens are cached briefly; revocation drops the entry, so a
	// revoked token stops resolving at once rather than at TTL expiry.
	cacheKey := principalCachePrefix + hash
	var cached Principal
	if err := s.cache.Get(ctx, cacheKey, &cached); err == nil {
		return &cached, nil
	}

	var token types.APIToken
	if err := s.db.WithContext(ctx).Where("token_hash = ?", hash).First(&token).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, types.ErrTokenInvalid(fmt.Errorf("unknown API token"))
		}
		return nil, types.ErrInternal(err)
	}

	if subtle.ConstantTimeCompare([]byte(token.TokenHash), []byte(hash)) != 1 {
		return nil, types.ErrTokenInvalid(fmt.Errorf("unknown API token"))
	}

	if token.Revoked {
		return nil, types.ErrTokenInvalid(fmt.Errorf("token has been revoked"))
	}

	if token.ExpiresAt != nil && time.Now().After(*token.ExpiresAt) {
		return nil, types.ErrTokenExpired()
	}

	now := time.Now()
	if err := s.db.WithContext(ctx).Model(&types.APIToken{}).
		Where("id = ?", token.ID).
		Update("last_used_at", &now).Error; err != nil {
		s.logger.Warn().Err(err).Str("token", token.Name).Msg("failed to record token use")
	}

	principal := &Principal{
		ID:     token.Principal,
		Kind:   KindToken,
		Scopes: token.Scopes,
	}

	if err := s.cache.Set(ctx, cacheKey, principal, s.config.TokenCacheTTL); err != nil {
		s.logger.Warn().Err(err).Msg("failed to cache principal")
	}

	return principal, nil
}
