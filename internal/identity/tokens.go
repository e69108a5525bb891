package identity

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/atoll-registry/atoll/pkg/auth"
	"github.com/atoll-registry/atoll/pkg/types"
)

// principalCachePrefix keys resolved-token principals in the cache, suffixed
// by the token hash.
const principalCachePrefix = "principal:"

// CreateToken mints an API token bound to principal and stores its hash.
// The returned secret is the only copy that will ever exist; callers must
// hand it to the operator immediately. A ttl of zero means no expiry.
func (s *Service) CreateToken(ctx context.Context, name, principal string, scopes []string, ttl time.Duration) (*types.APIToken, string, error) {
	if principal == "" {
		return nil, "", fmt.Errorf("token principal is required")
	}
	for _, scope := range scopes {
		if scope != types.ScopePublish && scope != types.ScopeYank {
			return nil, "", fmt.Errorf("unknown scope %q (valid: %s, %s)", scope, types.ScopePublish, types.ScopeYank)
		}
	}

	secret, err := auth.GenerateToken()
	if err != nil {
		return nil, "", err
	}

	token := &types.APIToken{
		Name:      name,
		TokenHash: auth.HashToken(secret),
		Principal: principal,
		Scopes:    scopes,
	}
	if ttl > 0 {
		expires := time.Now().Add(ttl)
		token.ExpiresAt = &expires
	}

	if err := s.db.WithContext(ctx).Create(token).Error; err != nil {
		return nil, "", fmt.Errorf("storing token: %w", err)
	}

	s.logger.Info().
		Str("token_id", token.ID.String()).
		Str("principal", principal).
		Strs("scopes", scopes).
		Msg("api token created")

	return token, secret, nil
}

// ListTokens returns stored tokens ordered by creation time. An empty
// principal lists every principal's tokens; revoked rows are excluded
// unless includeRevoked.
func (s *Service) ListTokens(ctx context.Context, principal string, includeRevoked bool) ([]types.APIToken, error) {
	query := s.db.WithContext(ctx).Model(&types.APIToken{}).Order("created_at ASC")
	if principal != "" {
		query = query.Where("principal = ?", principal)
	}
	if !includeRevoked {
		query = query.Where("revoked = ?", false)
	}

	var tokens []types.APIToken
	if err := query.Find(&tokens).Error; err != nil {
		return nil, fmt.Errorf("listing tokens: %w", err)
	}
	return tokens, nil
}

// RevokeToken flags a token as revoked, keeping the row for audit. Revoking
// an already-revoked token succeeds. The cached principal entry is dropped
// so gateways sharing the cache stop honoring the token right away instead
// of when the entry ages out.
func (s *Service) RevokeToken(ctx context.Context, id uuid.UUID) (*types.APIToken, error) {
	var token types.APIToken
	if err := s.db.WithContext(ctx).First(&token, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, fmt.Errorf("no token with id %s", id)
		}
		return nil, fmt.Errorf("loading token: %w", err)
	}

	if !token.Revoked {
		if err := s.db.WithContext(ctx).Model(&token).Update("revoked", true).Error; err != nil {
			return nil, fmt.Errorf("revoking token: %w", err)
		}
		token.Revoked = true
	}

	if err := s.cache.Delete(ctx, principalCachePrefix+token.TokenHash); err != nil {
		s.logger.Warn().Err(err).Str("token_id", id.String()).Msg("failed to drop cached principal")
	}

	s.logger.Info().
		Str("token_id", id.String()).
		Str("principal", token.Principal).
		Msg("api token revoked")

	return &token, nil
}
