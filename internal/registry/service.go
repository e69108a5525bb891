// Package registry coordinates publishes: it validates the manifest,
// authorizes the principal, verifies every declared artifact against its
// host, and commits the version atomically. A publish either lands whole or
// leaves no trace.
package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/atoll-registry/atoll/internal/common"
	"github.com/atoll-registry/atoll/internal/identity"
	"github.com/atoll-registry/atoll/internal/ownership"
	"github.com/atoll-registry/atoll/pkg/config"
	"github.com/atoll-registry/atoll/pkg/island"
	"github.com/atoll-registry/atoll/pkg/manifest"
	"github.com/atoll-registry/atoll/pkg/types"
)

// maxCommitAttempts bounds retries of the commit transaction. Retries cover
// serialization failures and claim races; anything else fails immediately.
const maxCommitAttempts = 3

// ArtifactVerifier confirms one distribution's URL serves bytes matching its
// declared digest and size.
type ArtifactVerifier interface {
	Verify(ctx context.Context, filename, rawURL, declaredDigest string, declaredSize int64) *types.RegistryError
	SizeLimit() int64
}

// Service is the registration coordinator.
type Service struct {
	db        *common.Database
	cache     *common.Cache
	ownership *ownership.Service
	verifier  ArtifactVerifier
	config    *config.Config
	logger    zerolog.Logger
}

// NewService creates a registration coordinator.
func NewService(db *common.Database, cache *common.Cache, own *ownership.Service, verifier ArtifactVerifier, cfg *config.Config, logger zerolog.Logger) *Service {
	return &Service{
		db:        db,
		cache:     cache,
		ownership: own,
		verifier:  verifier,
		config:    cfg,
		logger:    logger.With().Str("component", "registry").Logger(),
	}
}

// Receipt acknowledges a committed (or replayed) publish.
type Receipt struct {
	Name                    string `json:"name"`
	Version                 string `json:"version"`
	RegisteredDistributions int    `json:"registered_distributions"`
	RegistryURL             string `json:"registry_url"`
	IdempotentReplay        bool   `json:"idempotent_replay,omitempty"`
}

// distPlan carries one distribution through the pipeline with its parsed
// filename, so commit does not re-parse what the static checks already did.
type distPlan struct {
	decl   manifest.DistributionDecl
	parsed *island.Filename
}

func (p *distPlan) kind() string {
	if p.parsed.Source {
		return types.KindSource
	}
	return types.KindBinary
}

// Publish runs the full pipeline for one (name, version): manifest
// validation, authorization, static distribution checks, duplicate
// detection, concurrent artifact verification, and the atomic commit.
// Nothing persists unless every step succeeds.
func (s *Service) Publish(ctx context.Context, principal *identity.Principal, m *manifest.Manifest) (*Receipt, *types.RegistryError) {
	start := time.Now()

	if rerr := m.Validate(); rerr != nil {
		return nil, rerr
	}

	logger := s.logger.With().
		Str("package", m.Name).
		Str("version", m.Version).
		Str("principal", principal.ID).
		Logger()
	logger.Debug().Int("distributions", len(m.Distributions)).Msg("manifest validated")

	// Authorization, static checks, and the duplicate probe share one
	// transaction so the fail-fast order holds against a consistent view.
	var (
		wasClaim bool
		plan     []distPlan
		replay   *Receipt
		rerr     *types.RegistryError
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var decision *ownership.Decision
		if decision, rerr = s.ownership.CanPublish(tx, principal, m.Name); rerr != nil {
			return rerr
		}
		wasClaim = decision.Claim

		if plan, rerr = s.staticChecks(m); rerr != nil {
			return rerr
		}

		if replay, rerr = s.checkExisting(tx, principal, m); rerr != nil {
			return rerr
		}
		return nil
	})
	if rerr != nil {
		return nil, rerr
	}
	if err != nil {
		return nil, types.ErrInternal(err)
	}
	if replay != nil {
		// The identical registration already landed; the artifacts were
		// verified then, so acknowledge without refetching.
		logger.Info().Msg("idempotent replay acknowledged")
		return replay, nil
	}
	logger.Debug().Bool("claim", wasClaim).Msg("authorized")

	if rerr := s.verifyAll(ctx, plan); rerr != nil {
		logger.Warn().Str("code", rerr.Code).Msg("artifact verification failed")
		return nil, rerr
	}
	logger.Debug().Msg("artifacts verified")

	receipt, rerr := s.commitWithRetry(ctx, principal, m, plan, wasClaim)
	if rerr != nil {
		return nil, rerr
	}

	if err := s.cache.Delete(ctx, common.SnapshotCacheKey); err != nil {
		logger.Warn().Err(err).Msg("snapshot cache invalidation failed")
	}

	logger.Info().
		Bool("claim", wasClaim).
		Int("distributions", len(plan)).
		Dur("elapsed", time.Since(start)).
		Msg("version published")
	return receipt, nil
}

// staticChecks validates what can be checked without touching the network:
// filename grammar, agreement between filename and manifest, HTTPS scheme,
// the size ceiling, and filename uniqueness within the request.
func (s *Service) staticChecks(m *manifest.Manifest) ([]distPlan, *types.RegistryError) {
	plan := make([]distPlan, 0, len(m.Distributions))
	seen := make(map[string]struct{}, len(m.Distributions))

	for i := range m.Distributions {
		decl := m.Distributions[i]

		if _, dup := seen[decl.Filename]; dup {
			return nil, types.ErrInvalidManifest([]map[string]interface{}{{
				"field":   fmt.Sprintf("distributions[%d].filename", i),
				"message": "duplicate filename in one registration",
				"value":   decl.Filename,
			}})
		}
		seen[decl.Filename] = struct{}{}

		parsed, err := island.Parse(decl.Filename)
		if err != nil {
			var ferr *types.RegistryError
			if errors.As(err, &ferr) {
				return nil, ferr
			}
			return nil, types.ErrInvalidFilename(decl.Filename, err.Error())
		}

		if rerr := parsed.CheckAgainstManifest(decl.Filename, m.Name, m.Version, decl.PlatformTag); rerr != nil {
			return nil, rerr
		}

		u, err := url.Parse(decl.URL)
		if err != nil || u.Scheme != "https" || u.Host == "" {
			return nil, types.ErrURLNotHTTPS(decl.URL)
		}

		if limit := s.verifier.SizeLimit(); decl.Size > limit {
			return nil, types.ErrSizeLimit(decl.URL, limit)
		}

		plan = append(plan, distPlan{decl: decl, parsed: parsed})
	}
	return plan, nil
}

// checkExisting probes for a committed (name, version). Absent returns
// (nil, nil). Present returns the original receipt when the request is an
// exact replay by the same principal, and version-exists otherwise.
func (s *Service) checkExisting(tx *gorm.DB, principal *identity.Principal, m *manifest.Manifest) (*Receipt, *types.RegistryError) {
	var existing types.Version
	err := tx.Where("package_name = ? AND version = ?", m.Name, m.Version).First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, types.ErrInternal(fmt.Errorf("loading existing version: %w", err))
	}

	if existing.PublishedBy != principal.ID {
		return nil, types.ErrVersionExists(m.Name, m.Version)
	}

	storedManifest, err := json.Marshal(existing.Manifest)
	if err != nil {
		return nil, types.ErrInternal(fmt.Errorf("encoding stored manifest: %w", err))
	}
	declaredManifest, err := json.Marshal(m.Snapshot())
	if err != nil {
		return nil, types.ErrInternal(fmt.Errorf("encoding declared manifest: %w", err))
	}
	if !bytes.Equal(storedManifest, declaredManifest) {
		return nil, types.ErrVersionExists(m.Name, m.Version)
	}

	var stored []types.Distribution
	if err := tx.Where("version_id = ?", existing.ID).Find(&stored).Error; err != nil {
		return nil, types.ErrInternal(fmt.Errorf("loading stored distributions: %w", err))
	}
	if len(stored) != len(m.Distributions) {
		return nil, types.ErrVersionExists(m.Name, m.Version)
	}
	byFilename := make(map[string]types.Distribution, len(stored))
	for _, d := range stored {
		byFilename[d.Filename] = d
	}
	for _, decl := range m.Distributions {
		d, ok := byFilename[decl.Filename]
		if !ok || d.URL != decl.URL || d.SHA256 != decl.SHA256 ||
			d.Size != decl.Size || d.PlatformTag != decl.PlatformTag {
			return nil, types.ErrVersionExists(m.Name, m.Version)
		}
	}

	return s.receipt(m, true), nil
}

// verifyAll fetches every distribution concurrently, each streamed through
// the digest writer. The first failure cancels the siblings and the whole
// publish.
func (s *Service) verifyAll(ctx context.Context, plan []distPlan) *types.RegistryError {
	deadline := s.config.Fetch.PublishTimeout
	if deadline <= 0 {
		deadline = 5 * time.Minute
	}
	fctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	eg, fctx := errgroup.WithContext(fctx)
	limit := s.config.Fetch.MaxConcurrent
	if limit <= 0 {
		limit = 8
	}
	eg.SetLimit(limit)

	for i := range plan {
		decl := plan[i].decl
		eg.Go(func() error {
			if rerr := s.verifier.Verify(fctx, decl.Filename, decl.URL, decl.SHA256, decl.Size); rerr != nil {
				return rerr
			}
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		var rerr *types.RegistryError
		if errors.As(err, &rerr) {
			return rerr
		}
		return types.ErrInternal(err)
	}
	return nil
}

// errCommitRace marks a unique-index collision with a concurrent writer. The
// commit is retried so the next attempt sees the winner's rows and resolves
// to replay, version-exists, or name-claimed.
var errCommitRace = errors.New("registry: lost commit race")

func (s *Service) commitWithRetry(ctx context.Context, principal *identity.Principal, m *manifest.Manifest, plan []distPlan, wasClaim bool) (*Receipt, *types.RegistryError) {
	for attempt := 1; ; attempt++ {
		receipt, retryable, rerr := s.commit(ctx, principal, m, plan, wasClaim)
		if rerr == nil {
			return receipt, nil
		}
		if !retryable || attempt >= maxCommitAttempts {
			return nil, rerr
		}
		s.logger.Debug().
			Str("package", m.Name).
			Str("version", m.Version).
			Int("attempt", attempt).
			Msg("retrying commit")
	}
}

// commit writes the package (on claim), version, entry points,
// distributions, and audit rows in one transaction. The returned bool marks
// failures worth retrying.
func (s *Service) commit(ctx context.Context, principal *identity.Principal, m *manifest.Manifest, plan []distPlan, wasClaim bool) (*Receipt, bool, *types.RegistryError) {
	var (
		receipt *Receipt
		rerr    *types.RegistryError
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Authorization is re-derived inside the commit transaction; the
		// earlier decision may have lost a claim race in the meantime.
		decision, derr := s.ownership.CanPublish(tx, principal, m.Name)
		if derr != nil {
			if wasClaim && derr.Code == types.CodeForbidden {
				rerr = types.ErrNameClaimed(m.Name)
				return rerr
			}
			rerr = derr
			return rerr
		}

		if receipt, rerr = s.checkExisting(tx, principal, m); rerr != nil {
			return rerr
		}
		if receipt != nil {
			return nil
		}

		if decision.Claim {
			if err := s.claimPackage(tx, principal, m); err != nil {
				if common.IsDuplicateKeyError(err) {
					return errCommitRace
				}
				return err
			}
		} else if err := s.refreshPackageMetadata(tx, m); err != nil {
			return err
		}

		version, err := s.insertVersion(tx, principal, m)
		if err != nil {
			if common.IsDuplicateKeyError(err) {
				return errCommitRace
			}
			return err
		}

		if err := s.insertEntryPoints(tx, version, m); err != nil {
			return err
		}
		if err := s.insertDistributions(tx, version, m.Name, plan); err != nil {
			return err
		}

		audit := &types.AuditLog{
			PackageName: m.Name,
			Action:      types.ActionPublish,
			Version:     m.Version,
			ActorID:     principal.ID,
			ActorKind:   principal.Kind,
			Details:     types.JSONMap{"distributions": len(plan)},
		}
		if principal.Kind == identity.KindFederated && principal.Claims != nil {
			audit.SourceRepository = principal.Claims.Repository
			audit.SourceWorkflow = principal.Claims.Workflow
			audit.SourceCommit = principal.Claims.CommitSHA
		}
		return tx.Create(audit).Error
	})

	if rerr != nil {
		return nil, false, rerr
	}
	if err != nil {
		if errors.Is(err, errCommitRace) || common.IsSerializationError(err) {
			return nil, true, types.ErrInternal(err)
		}
		return nil, false, types.ErrInternal(err)
	}
	if receipt != nil {
		// Another request with the identical payload won the race.
		return receipt, false, nil
	}
	return s.receipt(m, false), false, nil
}

// claimPackage creates the package row, the initial ownership, and the
// claim audit entry. The display name starts as the game title, matching
// how packages are presented before an operator curates them.
func (s *Service) claimPackage(tx *gorm.DB, principal *identity.Principal, m *manifest.Manifest) error {
	pkg := &types.Package{
		Name:        m.Name,
		DisplayName: m.Game,
		Game:        m.Game,
		Description: m.Description,
		License:     m.License,
		Homepage:    m.Homepage,
		Repository:  m.Repository,
		Authors:     m.Authors,
		Keywords:    m.Keywords,
		Owner:       principal.ID,
	}
	if err := tx.Create(pkg).Error; err != nil {
		return err
	}

	if err := s.ownership.EstablishInitialOwnership(tx, principal, m.Name); err != nil {
		return err
	}

	return tx.Create(&types.AuditLog{
		PackageName: m.Name,
		Action:      types.ActionClaim,
		ActorID:     principal.ID,
		ActorKind:   principal.Kind,
	}).Error
}

// refreshPackageMetadata updates mutable package fields from a new version's
// manifest. The description follows every publish; homepage, repository,
// and license only move to non-empty values so a terse manifest cannot blank
// curated links.
func (s *Service) refreshPackageMetadata(tx *gorm.DB, m *manifest.Manifest) error {
	updates := map[string]interface{}{"description": m.Description}
	if m.Homepage != "" {
		updates["homepage"] = m.Homepage
	}
	if m.Repository != "" {
		updates["repository"] = m.Repository
	}
	if m.License != "" {
		updates["license"] = m.License
	}
	return tx.Model(&types.Package{}).Where("name = ?", m.Name).Updates(updates).Error
}

func (s *Service) insertVersion(tx *gorm.DB, principal *identity.Principal, m *manifest.Manifest) (*types.Version, error) {
	version := &types.Version{
		PackageName:      m.Name,
		Version:          m.Version,
		Manifest:         m.Snapshot(),
		MinimumAPVersion: m.MinimumAPVersion,
		MaximumAPVersion: m.MaximumAPVersion,
		PublishedBy:      principal.ID,
	}
	if principal.Kind == identity.KindFederated && principal.Claims != nil {
		version.SourceRepository = principal.Claims.Repository
		version.SourceWorkflow = principal.Claims.Workflow
		version.SourceCommit = principal.Claims.CommitSHA
		version.BuildTime = principal.Claims.IssuedAt
	}
	if err := tx.Create(version).Error; err != nil {
		return nil, err
	}
	return version, nil
}

func (s *Service) insertEntryPoints(tx *gorm.DB, version *types.Version, m *manifest.Manifest) error {
	names := make([]string, 0, len(m.EntryPoints))
	for name := range m.EntryPoints {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		ep := &types.EntryPoint{
			VersionID: version.ID,
			Name:      name,
			Target:    m.EntryPoints[name],
		}
		if err := tx.Create(ep).Error; err != nil {
			return fmt.Errorf("recording entry point %s: %w", name, err)
		}
	}
	return nil
}

func (s *Service) insertDistributions(tx *gorm.DB, version *types.Version, packageName string, plan []distPlan) error {
	now := time.Now().UTC()
	for i := range plan {
		p := &plan[i]
		dist := &types.Distribution{
			VersionID:      version.ID,
			PackageName:    packageName,
			Filename:       p.decl.Filename,
			URL:            p.decl.URL,
			SHA256:         p.decl.SHA256,
			Size:           p.decl.Size,
			PlatformTag:    p.decl.PlatformTag,
			Kind:           p.kind(),
			URLStatus:      types.URLStatusActive,
			LastVerifiedAt: &now,
		}
		if err := tx.Create(dist).Error; err != nil {
			return fmt.Errorf("recording distribution %s: %w", p.decl.Filename, err)
		}
	}
	return nil
}

func (s *Service) receipt(m *manifest.Manifest, replay bool) *Receipt {
	base := strings.TrimRight(s.config.Server.PublicURL, "/")
	return &Receipt{
		Name:                    m.Name,
		Version:                 m.Version,
		RegisteredDistributions: len(m.Distributions),
		RegistryURL:             fmt.Sprintf("%s/v1/packages/%s/%s", base, m.Name, m.Version),
		IdempotentReplay:        replay,
	}
}

// Yank marks a version withdrawn without deleting it. Yanking an already
// yanked version succeeds and preserves the original reason and timestamp.
func (s *Service) Yank(ctx context.Context, principal *identity.Principal, name, versionLabel, reason string) *types.RegistryError {
	var rerr *types.RegistryError
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if rerr = s.ownership.CanYank(tx, principal, name); rerr != nil {
			return rerr
		}

		var version types.Version
		if err := tx.Where("package_name = ? AND version = ?", name, versionLabel).First(&version).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				rerr = types.ErrVersionNotFound(name, versionLabel)
				return rerr
			}
			return fmt.Errorf("loading version: %w", err)
		}

		if version.Yanked {
			return nil
		}

		now := time.Now().UTC()
		updates := map[string]interface{}{
			"yanked":      true,
			"yank_reason": reason,
			"yanked_at":   &now,
		}
		if err := tx.Model(&version).Updates(updates).Error; err != nil {
			return fmt.Errorf("yanking version: %w", err)
		}

		audit := &types.AuditLog{
			PackageName: name,
			Action:      types.ActionYank,
			Version:     versionLabel,
			ActorID:     principal.ID,
			ActorKind:   principal.Kind,
		}
		if reason != "" {
			audit.Details = types.JSONMap{"reason": reason}
		}
		return tx.Create(audit).Error
	})
	if rerr != nil {
		return rerr
	}
	if err != nil {
		return types.ErrInternal(err)
	}

	if err := s.cache.Delete(ctx, common.SnapshotCacheKey); err != nil {
		s.logger.Warn().Err(err).Msg("snapshot cache invalidation failed")
	}

	s.logger.Info().
		Str("package", name).
		Str("version", versionLabel).
		Str("principal", principal.ID).
		Msg("version yanked")
	return nil
}
