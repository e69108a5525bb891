package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/atoll-registry/atoll/internal/common"
	"github.com/atoll-registry/atoll/internal/identity"
	"github.com/atoll-registry/atoll/internal/ownership"
	"github.com/atoll-registry/atoll/pkg/config"
	"github.com/atoll-registry/atoll/pkg/manifest"
	"github.com/atoll-registry/atoll/pkg/types"
)

// stubVerifier stands in for the artifact fetcher. It records which
// filenames were verified and fails every call with rerr when set.
type stubVerifier struct {
	mu    sync.Mutex
	calls []string
	rerr  *types.RegistryError
	limit int64
}

func (v *stubVerifier) Verify(ctx context.Context, filename, rawURL, declaredDigest string, declaredSize int64) *types.RegistryError {
	v.mu.Lock()
	v.calls = append(v.calls, filename)
	v.mu.Unlock()
	return v.rerr
}

func (v *stubVerifier) SizeLimit() int64 {
	if v.limit > 0 {
		return v.limit
	}
	return 256 << 20
}

func (v *stubVerifier) callCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.calls)
}

func setupRegistry(t *testing.T) (*Service, *common.Database, *stubVerifier) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&types.Package{},
		&types.Version{},
		&types.Distribution{},
		&types.EntryPoint{},
		&types.Collaborator{},
		&types.TrustedPublisher{},
		&types.AuditLog{},
	))

	commonDB := &common.Database{DB: db}
	verifier := &stubVerifier{}
	svc := NewService(
		commonDB,
		nil,
		ownership.NewService(commonDB, zerolog.Nop()),
		verifier,
		config.LoadFromEnv(),
		zerolog.Nop(),
	)
	return svc, commonDB, verifier
}

// decodeManifest builds a manifest the way the gateway does, through JSON,
// so the raw snapshot used for replay comparison is populated.
func decodeManifest(t *testing.T, raw string) *manifest.Manifest {
	t.Helper()
	var m manifest.Manifest
	require.NoError(t, json.Unmarshal([]byte(raw), &m))
	return &m
}

func clueManifest(t *testing.T, version string) *manifest.Manifest {
	t.Helper()
	return decodeManifest(t, fmt.Sprintf(`{
		"name": "clue",
		"version": %q,
		"game": "Clue",
		"description": "a whodunit world",
		"minimum_ap_version": "0.5.0",
		"entry_points": {"ClueWorld": "worlds.clue:ClueWorld"},
		"distributions": [{
			"filename": "clue-%s-py3-none-any.island",
			"url": "https://artifacts.example.com/clue-%s-py3-none-any.island",
			"sha256": %q,
			"size": 2048,
			"platform_tag": "py3-none-any"
		}]
	}`, version, version, version, strings.Repeat("a", 64)))
}

func tokenPrincipal(id string) *identity.Principal {
	return &identity.Principal{
		ID:     id,
		Kind:   identity.KindToken,
		Scopes: []string{types.ScopePublish, types.ScopeYank},
	}
}

func federatedPrincipal(repo string) *identity.Principal {
	issued := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	return &identity.Principal{
		ID:   "federated:github:" + repo,
		Kind: identity.KindFederated,
		Claims: &identity.FederatedClaims{
			Provider:   "github",
			Repository: repo,
			Workflow:   repo + "/.github/workflows/release.yml@refs/heads/main",
			CommitSHA:  strings.Repeat("d", 40),
			IssuedAt:   &issued,
		},
	}
}

func TestPublishClaimsNewPackage(t *testing.T) {
	svc, db, verifier := setupRegistry(t)
	alice := tokenPrincipal("alice")

	receipt, rerr := svc.Publish(context.Background(), alice, clueManifest(t, "1.0.0"))
	require.Nil(t, rerr)

	assert.Equal(t, "clue", receipt.Name)
	assert.Equal(t, "1.0.0", receipt.Version)
	assert.Equal(t, 1, receipt.RegisteredDistributions)
	assert.Contains(t, receipt.RegistryURL, "/v1/packages/clue/1.0.0")
	assert.False(t, receipt.IdempotentReplay)
	assert.Equal(t, 1, verifier.callCount())

	var pkg types.Package
	require.NoError(t, db.First(&pkg, "name = ?", "clue").Error)
	assert.Equal(t, "alice", pkg.Owner)
	assert.Equal(t, "Clue", pkg.Game)

	var owner types.Collaborator
	require.NoError(t, db.First(&owner, "package_name = ? AND principal = ?", "clue", "alice").Error)
	assert.Equal(t, types.RoleOwner, owner.Role)

	var version types.Version
	require.NoError(t, db.First(&version, "package_name = ? AND version = ?", "clue", "1.0.0").Error)
	assert.Equal(t, "alice", version.PublishedBy)
	assert.Equal(t, "0.5.0", version.MinimumAPVersion)
	assert.False(t, version.Yanked)

	var entryPoints []types.EntryPoint
	require.NoError(t, db.Where("version_id = ?", version.ID).Find(&entryPoints).Error)
	require.Len(t, entryPoints, 1)
	assert.Equal(t, "ClueWorld", entryPoints[0].Name)
	assert.Equal(t, "worlds.clue:ClueWorld", entryPoints[0].Target)

	var dist types.Distribution
	require.NoError(t, db.First(&dist, "version_id = ?", version.ID).Error)
	assert.Equal(t, types.KindBinary, dist.Kind)
	assert.Equal(t, types.URLStatusActive, dist.URLStatus)
	assert.NotNil(t, dist.LastVerifiedAt)

	var actions []string
	require.NoError(t, db.Model(&types.AuditLog{}).
		Where("package_name = ?", "clue").
		Order("created_at ASC").
		Pluck("action", &actions).Error)
	assert.Contains(t, actions, types.ActionClaim)
	assert.Contains(t, actions, types.ActionPublish)
}

func TestPublishSourceDistribution(t *testing.T) {
	svc, db, _ := setupRegistry(t)

	m := decodeManifest(t, fmt.Sprintf(`{
		"name": "clue",
		"version": "1.0.0",
		"game": "Clue",
		"minimum_ap_version": "0.5.0",
		"entry_points": {"ClueWorld": "worlds.clue:ClueWorld"},
		"distributions": [{
			"filename": "clue-1.0.0.tar.gz",
			"url": "https://artifacts.example.com/clue-1.0.0.tar.gz",
			"sha256": %q,
			"size": 1024,
			"platform_tag": "source"
		}]
	}`, strings.Repeat("b", 64)))

	_, rerr := svc.Publish(context.Background(), tokenPrincipal("alice"), m)
	require.Nil(t, rerr)

	var dist types.Distribution
	require.NoError(t, db.First(&dist, "package_name = ?", "clue").Error)
	assert.Equal(t, types.KindSource, dist.Kind)
}

func TestPublishIdempotentReplay(t *testing.T) {
	svc, db, verifier := setupRegistry(t)
	alice := tokenPrincipal("alice")

	first, rerr := svc.Publish(context.Background(), alice, clueManifest(t, "1.0.0"))
	require.Nil(t, rerr)
	assert.False(t, first.IdempotentReplay)

	again, rerr := svc.Publish(context.Background(), alice, clueManifest(t, "1.0.0"))
	require.Nil(t, rerr)
	assert.True(t, again.IdempotentReplay)
	assert.Equal(t, first.Name, again.Name)
	assert.Equal(t, first.Version, again.Version)

	// The replay acknowledges without refetching or duplicating rows.
	assert.Equal(t, 1, verifier.callCount())

	var versions int64
	require.NoError(t, db.Model(&types.Version{}).Where("package_name = ?", "clue").Count(&versions).Error)
	assert.EqualValues(t, 1, versions)
}

func TestPublishVersionExistsOnDifferentPayload(t *testing.T) {
	svc, _, _ := setupRegistry(t)
	alice := tokenPrincipal("alice")

	_, rerr := svc.Publish(context.Background(), alice, clueManifest(t, "1.0.0"))
	require.Nil(t, rerr)

	changed := clueManifest(t, "1.0.0")
	changed.Distributions[0].SHA256 = strings.Repeat("c", 64)
	changed.Raw["distributions"].([]interface{})[0].(map[string]interface{})["sha256"] = strings.Repeat("c", 64)

	_, rerr = svc.Publish(context.Background(), alice, changed)
	require.NotNil(t, rerr)
	assert.Equal(t, types.CodeVersionExists, rerr.Code)
}

func TestPublishReplayByDifferentPrincipal(t *testing.T) {
	svc, db, _ := setupRegistry(t)

	_, rerr := svc.Publish(context.Background(), tokenPrincipal("alice"), clueManifest(t, "1.0.0"))
	require.Nil(t, rerr)

	// Even with an identical payload, a different principal must not be
	// able to probe or replay someone else's version.
	bob := tokenPrincipal("bob")
	require.NoError(t, db.Create(&types.Collaborator{
		PackageName: "clue", Principal: "bob", Role: types.RoleCollaborator, AddedBy: "alice",
	}).Error)

	_, rerr = svc.Publish(context.Background(), bob, clueManifest(t, "1.0.0"))
	require.NotNil(t, rerr)
	assert.Equal(t, types.CodeVersionExists, rerr.Code)
}

func TestPublishForbiddenForStranger(t *testing.T) {
	svc, _, verifier := setupRegistry(t)

	_, rerr := svc.Publish(context.Background(), tokenPrincipal("alice"), clueManifest(t, "1.0.0"))
	require.Nil(t, rerr)

	_, rerr = svc.Publish(context.Background(), tokenPrincipal("mallory"), clueManifest(t, "1.1.0"))
	require.NotNil(t, rerr)
	assert.Equal(t, types.CodeForbidden, rerr.Code)

	// Authorization failed before any fetch was attempted.
	assert.Equal(t, 1, verifier.callCount())
}

func TestPublishRequiresPublishScope(t *testing.T) {
	svc, _, _ := setupRegistry(t)

	readOnly := &identity.Principal{ID: "alice", Kind: identity.KindToken, Scopes: []string{types.ScopeYank}}
	_, rerr := svc.Publish(context.Background(), readOnly, clueManifest(t, "1.0.0"))
	require.NotNil(t, rerr)
	assert.Equal(t, types.CodeForbidden, rerr.Code)
}

func TestPublishDigestMismatchLeavesNoTrace(t *testing.T) {
	svc, db, verifier := setupRegistry(t)
	verifier.rerr = types.ErrDigestMismatch("clue-1.0.0-py3-none-any.island", strings.Repeat("a", 64), strings.Repeat("f", 64))

	_, rerr := svc.Publish(context.Background(), tokenPrincipal("alice"), clueManifest(t, "1.0.0"))
	require.NotNil(t, rerr)
	assert.Equal(t, types.CodeDigestMismatch, rerr.Code)

	var packages, versions, audits int64
	require.NoError(t, db.Model(&types.Package{}).Count(&packages).Error)
	require.NoError(t, db.Model(&types.Version{}).Count(&versions).Error)
	require.NoError(t, db.Model(&types.AuditLog{}).Count(&audits).Error)
	assert.Zero(t, packages)
	assert.Zero(t, versions)
	assert.Zero(t, audits)
}

func TestPublishStaticChecks(t *testing.T) {
	svc, _, verifier := setupRegistry(t)
	alice := tokenPrincipal("alice")

	httpURL := clueManifest(t, "1.0.0")
	httpURL.Distributions[0].URL = "http://artifacts.example.com/clue-1.0.0-py3-none-any.island"
	_, rerr := svc.Publish(context.Background(), alice, httpURL)
	require.NotNil(t, rerr)
	assert.Equal(t, types.CodeURLNotHTTPS, rerr.Code)

	impostor := clueManifest(t, "1.0.0")
	impostor.Distributions[0].Filename = "impostor-1.0.0-py3-none-any.island"
	_, rerr = svc.Publish(context.Background(), alice, impostor)
	require.NotNil(t, rerr)
	assert.Equal(t, types.CodeNameMismatch, rerr.Code)

	wrongVersion := clueManifest(t, "1.0.0")
	wrongVersion.Distributions[0].Filename = "clue-2.0.0-py3-none-any.island"
	_, rerr = svc.Publish(context.Background(), alice, wrongVersion)
	require.NotNil(t, rerr)
	assert.Equal(t, types.CodeVersionMismatch, rerr.Code)

	wrongTag := clueManifest(t, "1.0.0")
	wrongTag.Distributions[0].PlatformTag = "cp311-cp311-win_amd64"
	_, rerr = svc.Publish(context.Background(), alice, wrongTag)
	require.NotNil(t, rerr)
	assert.Equal(t, types.CodeTagMismatch, rerr.Code)

	duplicated := clueManifest(t, "1.0.0")
	duplicated.Distributions = append(duplicated.Distributions, duplicated.Distributions[0])
	_, rerr = svc.Publish(context.Background(), alice, duplicated)
	require.NotNil(t, rerr)
	assert.Equal(t, types.CodeInvalidManifest, rerr.Code)

	// None of the rejected manifests reached the network.
	assert.Zero(t, verifier.callCount())
}

func TestPublishRejectsOversizeDeclaration(t *testing.T) {
	svc, _, verifier := setupRegistry(t)
	verifier.limit = 1024

	_, rerr := svc.Publish(context.Background(), tokenPrincipal("alice"), clueManifest(t, "1.0.0"))
	require.NotNil(t, rerr)
	assert.Equal(t, types.CodeSizeLimit, rerr.Code)
	assert.Zero(t, verifier.callCount())
}

func TestPublishFederatedViaTrustedRule(t *testing.T) {
	svc, db, _ := setupRegistry(t)

	_, rerr := svc.Publish(context.Background(), tokenPrincipal("alice"), clueManifest(t, "1.0.0"))
	require.Nil(t, rerr)

	require.NoError(t, db.Create(&types.TrustedPublisher{
		PackageName: "clue",
		Provider:    "github",
		Repository:  "alice/clue",
		Workflow:    ".github/workflows/release.yml",
		CreatedBy:   "alice",
	}).Error)

	robot := federatedPrincipal("alice/clue")
	_, rerr = svc.Publish(context.Background(), robot, clueManifest(t, "1.1.0"))
	require.Nil(t, rerr)

	var version types.Version
	require.NoError(t, db.First(&version, "package_name = ? AND version = ?", "clue", "1.1.0").Error)
	assert.Equal(t, robot.ID, version.PublishedBy)
	assert.Equal(t, "alice/clue", version.SourceRepository)
	assert.Equal(t, strings.Repeat("d", 40), version.SourceCommit)
	require.NotNil(t, version.BuildTime)

	var audit types.AuditLog
	require.NoError(t, db.First(&audit, "package_name = ? AND action = ? AND version = ?", "clue", types.ActionPublish, "1.1.0").Error)
	assert.Equal(t, "alice/clue", audit.SourceRepository)
	assert.Equal(t, identity.KindFederated, audit.ActorKind)
}

func TestPublishFederatedWithoutRuleForbidden(t *testing.T) {
	svc, _, _ := setupRegistry(t)

	_, rerr := svc.Publish(context.Background(), tokenPrincipal("alice"), clueManifest(t, "1.0.0"))
	require.Nil(t, rerr)

	_, rerr = svc.Publish(context.Background(), federatedPrincipal("mallory/clue"), clueManifest(t, "1.1.0"))
	require.NotNil(t, rerr)
	assert.Equal(t, types.CodeForbidden, rerr.Code)
}

func TestPublishFederatedClaimRecordsImplicitRule(t *testing.T) {
	svc, db, _ := setupRegistry(t)

	robot := federatedPrincipal("alice/clue")
	_, rerr := svc.Publish(context.Background(), robot, clueManifest(t, "1.0.0"))
	require.Nil(t, rerr)

	// Claiming through a workflow leaves a trusted-publisher rule behind so
	// the next run publishes without a stored secret.
	var rule types.TrustedPublisher
	require.NoError(t, db.First(&rule, "package_name = ?", "clue").Error)
	assert.Equal(t, "github", rule.Provider)
	assert.Equal(t, "alice/clue", rule.Repository)

	_, rerr = svc.Publish(context.Background(), federatedPrincipal("alice/clue"), clueManifest(t, "1.1.0"))
	require.Nil(t, rerr)
}

func TestYankAndYankAgain(t *testing.T) {
	svc, db, _ := setupRegistry(t)
	alice := tokenPrincipal("alice")

	_, rerr := svc.Publish(context.Background(), alice, clueManifest(t, "1.0.0"))
	require.Nil(t, rerr)

	rerr = svc.Yank(context.Background(), alice, "clue", "1.0.0", "broken seed generation")
	require.Nil(t, rerr)

	var version types.Version
	require.NoError(t, db.First(&version, "package_name = ? AND version = ?", "clue", "1.0.0").Error)
	assert.True(t, version.Yanked)
	assert.Equal(t, "broken seed generation", version.YankReason)
	require.NotNil(t, version.YankedAt)
	firstYankedAt := *version.YankedAt

	// Yanking again succeeds and preserves the original reason and time.
	rerr = svc.Yank(context.Background(), alice, "clue", "1.0.0", "a different excuse")
	require.Nil(t, rerr)

	require.NoError(t, db.First(&version, "package_name = ? AND version = ?", "clue", "1.0.0").Error)
	assert.Equal(t, "broken seed generation", version.YankReason)
	assert.Equal(t, firstYankedAt, *version.YankedAt)

	var audits int64
	require.NoError(t, db.Model(&types.AuditLog{}).
		Where("package_name = ? AND action = ?", "clue", types.ActionYank).
		Count(&audits).Error)
	assert.EqualValues(t, 1, audits)
}

func TestYankAuthorization(t *testing.T) {
	svc, _, _ := setupRegistry(t)

	_, rerr := svc.Publish(context.Background(), tokenPrincipal("alice"), clueManifest(t, "1.0.0"))
	require.Nil(t, rerr)

	rerr = svc.Yank(context.Background(), tokenPrincipal("mallory"), "clue", "1.0.0", "")
	require.NotNil(t, rerr)
	assert.Equal(t, types.CodeForbidden, rerr.Code)

	publishOnly := &identity.Principal{ID: "alice", Kind: identity.KindToken, Scopes: []string{types.ScopePublish}}
	rerr = svc.Yank(context.Background(), publishOnly, "clue", "1.0.0", "")
	require.NotNil(t, rerr)
	assert.Equal(t, types.CodeForbidden, rerr.Code)
}

func TestYankMissingVersion(t *testing.T) {
	svc, _, _ := setupRegistry(t)
	alice := tokenPrincipal("alice")

	_, rerr := svc.Publish(context.Background(), alice, clueManifest(t, "1.0.0"))
	require.Nil(t, rerr)

	rerr = svc.Yank(context.Background(), alice, "clue", "9.9.9", "")
	require.NotNil(t, rerr)
	assert.Equal(t, types.CodeVersionNotFound, rerr.Code)

	rerr = svc.Yank(context.Background(), alice, "ghost", "1.0.0", "")
	require.NotNil(t, rerr)
	assert.Equal(t, types.CodePackageNotFound, rerr.Code)
}

func TestPublishManifestValidationFailure(t *testing.T) {
	svc, _, _ := setupRegistry(t)

	m := decodeManifest(t, `{
		"name": "Clue",
		"version": "1.0",
		"game": "",
		"minimum_ap_version": "0.5.0",
		"entry_points": {},
		"distributions": []
	}`)

	_, rerr := svc.Publish(context.Background(), tokenPrincipal("alice"), m)
	require.NotNil(t, rerr)
	assert.Equal(t, types.CodeInvalidManifest, rerr.Code)
	assert.NotEmpty(t, rerr.Details, "every field violation is reported")
}
