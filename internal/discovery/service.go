// Package discovery serves the read side of the registry: package and
// version listings, free-text search, the offline index snapshot, and
// download resolution. Nothing here mutates the store; every method is
// safe for anonymous callers.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/atoll-registry/atoll/internal/common"
	"github.com/atoll-registry/atoll/pkg/config"
	"github.com/atoll-registry/atoll/pkg/island"
	"github.com/atoll-registry/atoll/pkg/types"
	"github.com/atoll-registry/atoll/pkg/version"
)

// Pagination bounds shared by listing and search.
const (
	DefaultPerPage = 20
	MaxPerPage     = 100
)

// Relevance tiers for free-text matches, highest wins. Ties keep the
// store's updated_at-descending order.
const (
	rankExactName     = 6
	rankNamePrefix    = 5
	rankNameSubstring = 4
	rankGame          = 3
	rankKeyword       = 2
	rankDescription   = 1
)

// Service answers read queries from the store, with the index snapshot
// cached in Redis between writes.
type Service struct {
	db     *common.Database
	cache  *common.Cache
	config *config.Config
	logger zerolog.Logger
}

// NewService creates a discovery service.
func NewService(db *common.Database, cache *common.Cache, cfg *config.Config, logger zerolog.Logger) *Service {
	return &Service{
		db:     db,
		cache:  cache,
		config: cfg,
		logger: logger.With().Str("component", "discovery").Logger(),
	}
}

// PackageSummary is one row of a listing or search response.
type PackageSummary struct {
	Name          string    `json:"name"`
	DisplayName   string    `json:"display_name"`
	Game          string    `json:"game"`
	Description   string    `json:"description,omitempty"`
	Keywords      []string  `json:"keywords,omitempty"`
	Owner         string    `json:"owner"`
	LatestVersion string    `json:"latest_version,omitempty"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// VersionSummary is the collapsed form used in package detail and version
// listings. Yanked versions stay listed, flagged.
type VersionSummary struct {
	Version    string    `json:"version"`
	Yanked     bool      `json:"yanked"`
	YankReason string    `json:"yank_reason,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// PackageDetail is the full package record with its collapsed version list.
type PackageDetail struct {
	Name          string           `json:"name"`
	DisplayName   string           `json:"display_name"`
	Game          string           `json:"game"`
	Description   string           `json:"description,omitempty"`
	License       string           `json:"license,omitempty"`
	Homepage      string           `json:"homepage,omitempty"`
	Repository    string           `json:"repository,omitempty"`
	Authors       []string         `json:"authors,omitempty"`
	Keywords      []string         `json:"keywords,omitempty"`
	Owner         string           `json:"owner"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
	LatestVersion string           `json:"latest_version,omitempty"`
	Versions      []VersionSummary `json:"versions"`
}

// VersionList is the response envelope for a package's version listing.
type VersionList struct {
	Package  string           `json:"package"`
	Versions []VersionSummary `json:"versions"`
	Total    int              `json:"total"`
}

// Provenance reports where a federated publish came from.
type Provenance struct {
	Publisher string     `json:"publisher"`
	Workflow  string     `json:"workflow,omitempty"`
	Commit    string     `json:"commit,omitempty"`
	BuildTime *time.Time `json:"build_time,omitempty"`
}

// DistributionDetail is one artifact in a version response. DownloadURL is
// the registry's redirecting endpoint; URL is where the bytes actually live.
type DistributionDetail struct {
	Filename     string    `json:"filename"`
	URL          string    `json:"url"`
	SHA256       string    `json:"sha256"`
	Size         int64     `json:"size"`
	PlatformTag  string    `json:"platform_tag"`
	Kind         string    `json:"kind"`
	URLStatus    string    `json:"url_status"`
	RegisteredAt time.Time `json:"registered_at"`
	DownloadURL  string    `json:"download_url"`
}

// VersionDetail is the full record for one version.
type VersionDetail struct {
	Package          string               `json:"package"`
	Version          string               `json:"version"`
	Manifest         types.JSONMap        `json:"manifest"`
	MinimumAPVersion string               `json:"minimum_ap_version"`
	MaximumAPVersion string               `json:"maximum_ap_version,omitempty"`
	EntryPoints      map[string]string    `json:"entry_points"`
	Yanked           bool                 `json:"yanked"`
	YankReason       string               `json:"yank_reason,omitempty"`
	YankedAt         *time.Time           `json:"yanked_at,omitempty"`
	CreatedAt        time.Time            `json:"created_at"`
	PublishedBy      string               `json:"published_by"`
	Provenance       *Provenance          `json:"provenance,omitempty"`
	Distributions    []DistributionDetail `json:"distributions"`
}

// Query bundles the search parameters. All filters are ANDed; zero values
// mean "no filter".
type Query struct {
	Q              string
	Game           string
	EntryPoint     string
	CompatibleWith string
	Platform       string
	Page           int
	PerPage        int
}

// SearchResult echoes the query alongside the ranked matches.
type SearchResult struct {
	Results []PackageSummary  `json:"results"`
	Query   string            `json:"query"`
	Filters map[string]string `json:"filters"`
	Total   int               `json:"total"`
}

// Index is the full registry snapshot served at /v1/index.json, built for
// offline resolvers and mirrors.
type Index struct {
	Packages      map[string]IndexPackage `json:"packages"`
	GeneratedAt   time.Time               `json:"generated_at"`
	TotalPackages int                     `json:"total_packages"`
	TotalVersions int                     `json:"total_versions"`
}

// IndexPackage is one package's snapshot entry, versions keyed by label.
type IndexPackage struct {
	DisplayName   string                  `json:"display_name"`
	Game          string                  `json:"game"`
	Description   string                  `json:"description,omitempty"`
	Owner         string                  `json:"owner"`
	LatestVersion string                  `json:"latest_version,omitempty"`
	Versions      map[string]IndexVersion `json:"versions"`
}

// IndexVersion is one version's snapshot entry.
type IndexVersion struct {
	Yanked           bool                `json:"yanked"`
	MinimumAPVersion string              `json:"minimum_ap_version"`
	MaximumAPVersion string              `json:"maximum_ap_version,omitempty"`
	CreatedAt        time.Time           `json:"created_at"`
	Distributions    []IndexDistribution `json:"distributions"`
}

// IndexDistribution carries what a resolver needs to fetch and verify one
// artifact without asking the registry again.
type IndexDistribution struct {
	Filename    string `json:"filename"`
	URL         string `json:"url"`
	SHA256      string `json:"sha256"`
	Size        int64  `json:"size"`
	PlatformTag string `json:"platform_tag"`
}

// ResolvedDownload is the redirect target for a download request.
type ResolvedDownload struct {
	Filename string
	URL      string
	SHA256   string
	Size     int64
}

// ListPackages returns one page of packages, most recently updated first.
func (s *Service) ListPackages(ctx context.Context, page, perPage int) (*types.PaginatedResponse, *types.RegistryError) {
	page, perPage = clampPage(page, perPage)

	var total int64
	if err := s.db.WithContext(ctx).Model(&types.Package{}).Count(&total).Error; err != nil {
		return nil, types.ErrInternal(fmt.Errorf("counting packages: %w", err))
	}

	var pkgs []types.Package
	err := s.db.WithContext(ctx).
		Preload("Versions").
		Order("updated_at DESC, name ASC").
		Offset((page - 1) * perPage).
		Limit(perPage).
		Find(&pkgs).Error
	if err != nil {
		return nil, types.ErrInternal(fmt.Errorf("listing packages: %w", err))
	}

	summaries := make([]PackageSummary, 0, len(pkgs))
	for i := range pkgs {
		summaries = append(summaries, summarize(&pkgs[i]))
	}

	totalPages := 0
	if total > 0 {
		totalPages = int((total + int64(perPage) - 1) / int64(perPage))
	}
	return &types.PaginatedResponse{
		Data: summaries,
		Pagination: &types.PaginationInfo{
			Page:       page,
			PerPage:    perPage,
			Total:      total,
			TotalPages: totalPages,
		},
	}, nil
}

// GetPackage returns the package record with every version collapsed to a
// summary, latest first in semantic-version order.
func (s *Service) GetPackage(ctx context.Context, name string) (*PackageDetail, *types.RegistryError) {
	var pkg types.Package
	err := s.db.WithContext(ctx).Preload("Versions").First(&pkg, "name = ?", name).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, types.ErrPackageNotFound(name)
	}
	if err != nil {
		return nil, types.ErrInternal(fmt.Errorf("loading package: %w", err))
	}

	return &PackageDetail{
		Name:          pkg.Name,
		DisplayName:   pkg.DisplayName,
		Game:          pkg.Game,
		Description:   pkg.Description,
		License:       pkg.License,
		Homepage:      pkg.Homepage,
		Repository:    pkg.Repository,
		Authors:       pkg.Authors,
		Keywords:      pkg.Keywords,
		Owner:         pkg.Owner,
		CreatedAt:     pkg.CreatedAt,
		UpdatedAt:     pkg.UpdatedAt,
		LatestVersion: latestActive(pkg.Versions),
		Versions:      versionSummaries(pkg.Versions),
	}, nil
}

// ListVersions returns a package's versions in semantic-version order,
// latest first. With includeYanked false, yanked versions are dropped
// instead of flagged.
func (s *Service) ListVersions(ctx context.Context, name string, includeYanked bool) (*VersionList, *types.RegistryError) {
	if rerr := s.assertPackageExists(ctx, name); rerr != nil {
		return nil, rerr
	}

	q := s.db.WithContext(ctx).Where("package_name = ?", name)
	if !includeYanked {
		q = q.Where("yanked = ?", false)
	}
	var versions []types.Version
	if err := q.Find(&versions).Error; err != nil {
		return nil, types.ErrInternal(fmt.Errorf("listing versions: %w", err))
	}

	summaries := versionSummaries(versions)
	return &VersionList{
		Package:  name,
		Versions: summaries,
		Total:    len(summaries),
	}, nil
}

// GetVersion returns the full record for one version: the stored manifest
// snapshot, entry points, compatibility range, yank state, provenance, and
// every distribution.
func (s *Service) GetVersion(ctx context.Context, name, label string) (*VersionDetail, *types.RegistryError) {
	ver, rerr := s.loadVersion(ctx, name, label, "EntryPoints", "Distributions")
	if rerr != nil {
		return nil, rerr
	}

	entryPoints := make(map[string]string, len(ver.EntryPoints))
	for _, ep := range ver.EntryPoints {
		entryPoints[ep.Name] = ep.Target
	}

	dists := make([]DistributionDetail, 0, len(ver.Distributions))
	for _, d := range ver.Distributions {
		dists = append(dists, DistributionDetail{
			Filename:     d.Filename,
			URL:          d.URL,
			SHA256:       d.SHA256,
			Size:         d.Size,
			PlatformTag:  d.PlatformTag,
			Kind:         d.Kind,
			URLStatus:    d.URLStatus,
			RegisteredAt: d.CreatedAt,
			DownloadURL:  fmt.Sprintf("/v1/packages/%s/%s/download/%s", name, label, d.Filename),
		})
	}

	detail := &VersionDetail{
		Package:          ver.PackageName,
		Version:          ver.Version,
		Manifest:         ver.Manifest,
		MinimumAPVersion: ver.MinimumAPVersion,
		MaximumAPVersion: ver.MaximumAPVersion,
		EntryPoints:      entryPoints,
		Yanked:           ver.Yanked,
		YankReason:       ver.YankReason,
		YankedAt:         ver.YankedAt,
		CreatedAt:        ver.CreatedAt,
		PublishedBy:      ver.PublishedBy,
		Distributions:    dists,
	}
	if ver.SourceRepository != "" {
		detail.Provenance = &Provenance{
			Publisher: ver.SourceRepository,
			Workflow:  ver.SourceWorkflow,
			Commit:    ver.SourceCommit,
			BuildTime: ver.BuildTime,
		}
	}
	return detail, nil
}

// Search runs the ANDed filters and ranks free-text matches. SQL prefilters
// the candidates; compatibility, platform matching, and ranking finish here
// because semantic versions do not compare lexicographically.
func (s *Service) Search(ctx context.Context, q Query) (*SearchResult, *types.RegistryError) {
	if q.CompatibleWith != "" {
		if _, err := version.Parse(q.CompatibleWith); err != nil {
			var rerr *types.RegistryError
			if errors.As(err, &rerr) {
				return nil, rerr
			}
			return nil, types.ErrInvalidVersion(q.CompatibleWith, err)
		}
	}
	page, perPage := clampPage(q.Page, q.PerPage)
	term := strings.ToLower(strings.TrimSpace(q.Q))

	tx := s.db.WithContext(ctx).Model(&types.Package{})
	if term != "" {
		pattern := "%" + term + "%"
		tx = tx.Where(
			"LOWER(packages.name) LIKE ? OR LOWER(packages.display_name) LIKE ? OR LOWER(packages.game) LIKE ? OR LOWER(packages.description) LIKE ? OR LOWER(packages.keywords) LIKE ?",
			pattern, pattern, pattern, pattern, pattern)
	}
	if q.Game != "" {
		tx = tx.Where("LOWER(packages.game) = ?", strings.ToLower(q.Game))
	}
	if q.EntryPoint != "" {
		sub := s.db.Model(&types.EntryPoint{}).
			Select("versions.package_name").
			Joins("JOIN versions ON versions.id = entry_points.version_id").
			Where("entry_points.name = ?", q.EntryPoint)
		tx = tx.Where("packages.name IN (?)", sub)
	}
	if q.Platform != "" {
		// Prefilter only: LIKE treats _ as a wildcard, so this over-matches
		// and island.MatchesFilter decides below.
		sub := s.db.Model(&types.Distribution{}).
			Select("distributions.package_name").
			Where("platform_tag = ? OR platform_tag LIKE ? OR platform_tag LIKE ?",
				q.Platform, "%-"+q.Platform, "%_"+q.Platform)
		tx = tx.Where("packages.name IN (?)", sub)
	}

	tx = tx.Preload("Versions").Order("updated_at DESC, name ASC")
	if q.Platform != "" {
		tx = tx.Preload("Versions.Distributions")
	}

	var pkgs []types.Package
	if err := tx.Find(&pkgs).Error; err != nil {
		return nil, types.ErrInternal(fmt.Errorf("searching packages: %w", err))
	}

	type scored struct {
		summary PackageSummary
		score   int
	}
	matches := make([]scored, 0, len(pkgs))
	for i := range pkgs {
		pkg := &pkgs[i]
		if q.CompatibleWith != "" && !anyVersionInRange(pkg.Versions, q.CompatibleWith) {
			continue
		}
		if q.Platform != "" && !anyDistributionMatches(pkg.Versions, q.Platform) {
			continue
		}
		matches = append(matches, scored{summary: summarize(pkg), score: relevance(pkg, term)})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].score > matches[j].score
	})

	total := len(matches)
	start := (page - 1) * perPage
	if start > total {
		start = total
	}
	end := start + perPage
	if end > total {
		end = total
	}

	results := make([]PackageSummary, 0, end-start)
	for _, m := range matches[start:end] {
		results = append(results, m.summary)
	}

	return &SearchResult{
		Results: results,
		Query:   q.Q,
		Filters: searchFilters(q),
		Total:   total,
	}, nil
}

// Snapshot returns the full index, serving the cached copy when Redis has
// one and rebuilding it from the store otherwise. Publish and yank delete
// the cached copy, so a rebuild always reflects every committed write.
func (s *Service) Snapshot(ctx context.Context) (*Index, *types.RegistryError) {
	var cached Index
	err := s.cache.Get(ctx, common.SnapshotCacheKey, &cached)
	if err == nil {
		return &cached, nil
	}
	if !errors.Is(err, common.ErrCacheMiss) {
		s.logger.Warn().Err(err).Msg("snapshot cache read failed")
	}

	idx := &Index{
		Packages:    make(map[string]IndexPackage),
		GeneratedAt: time.Now().UTC(),
	}
	// One transaction so the totals agree with the entries.
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var pkgs []types.Package
		if err := tx.Preload("Versions.Distributions").Find(&pkgs).Error; err != nil {
			return fmt.Errorf("loading packages: %w", err)
		}
		for i := range pkgs {
			pkg := &pkgs[i]
			entry := IndexPackage{
				DisplayName:   pkg.DisplayName,
				Game:          pkg.Game,
				Description:   pkg.Description,
				Owner:         pkg.Owner,
				LatestVersion: latestActive(pkg.Versions),
				Versions:      make(map[string]IndexVersion, len(pkg.Versions)),
			}
			for j := range pkg.Versions {
				v := &pkg.Versions[j]
				dists := make([]IndexDistribution, 0, len(v.Distributions))
				for _, d := range v.Distributions {
					dists = append(dists, IndexDistribution{
						Filename:    d.Filename,
						URL:         d.URL,
						SHA256:      d.SHA256,
						Size:        d.Size,
						PlatformTag: d.PlatformTag,
					})
				}
				entry.Versions[v.Version] = IndexVersion{
					Yanked:           v.Yanked,
					MinimumAPVersion: v.MinimumAPVersion,
					MaximumAPVersion: v.MaximumAPVersion,
					CreatedAt:        v.CreatedAt,
					Distributions:    dists,
				}
				idx.TotalVersions++
			}
			idx.Packages[pkg.Name] = entry
		}
		idx.TotalPackages = len(pkgs)
		return nil
	})
	if err != nil {
		return nil, types.ErrInternal(err)
	}

	ttl := s.config.Redis.SnapshotTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if err := s.cache.Set(ctx, common.SnapshotCacheKey, idx, ttl); err != nil {
		s.logger.Warn().Err(err).Msg("snapshot cache write failed")
	}

	s.logger.Debug().
		Int("packages", idx.TotalPackages).
		Int("versions", idx.TotalVersions).
		Msg("snapshot rebuilt")
	return idx, nil
}

// ResolveDownload resolves one named distribution to its external URL. The
// registry never serves bytes; callers redirect to the result and verify
// the digest client-side.
func (s *Service) ResolveDownload(ctx context.Context, name, label, filename string) (*ResolvedDownload, *types.RegistryError) {
	ver, rerr := s.loadVersion(ctx, name, label, "Distributions")
	if rerr != nil {
		return nil, rerr
	}

	for _, d := range ver.Distributions {
		if d.Filename != filename {
			continue
		}
		if d.URLStatus != types.URLStatusActive {
			break
		}
		return &ResolvedDownload{Filename: d.Filename, URL: d.URL, SHA256: d.SHA256, Size: d.Size}, nil
	}
	return nil, types.ErrVersionNotFound(name, label).
		WithDetail(map[string]interface{}{"filename": filename})
}

// ResolveBestDownload resolves the most specific active distribution
// compatible with the requested platform tag. With no platform the most
// specific available archive wins; an exact tag match beats specificity.
func (s *Service) ResolveBestDownload(ctx context.Context, name, label, platform string) (*ResolvedDownload, *types.RegistryError) {
	ver, rerr := s.loadVersion(ctx, name, label, "Distributions")
	if rerr != nil {
		return nil, rerr
	}

	best := selectDistribution(ver.Distributions, platform)
	if best == nil {
		rerr := types.ErrVersionNotFound(name, label)
		if platform != "" {
			rerr = rerr.WithDetail(map[string]interface{}{"platform": platform})
		}
		return nil, rerr
	}
	return &ResolvedDownload{Filename: best.Filename, URL: best.URL, SHA256: best.SHA256, Size: best.Size}, nil
}

// selectDistribution picks the most specific active distribution compatible
// with the requested platform. Stored tags that fail to parse are skipped;
// rows are validated on write. A malformed requested tag matches only
// universal archives.
func selectDistribution(dists []types.Distribution, platform string) *types.Distribution {
	var (
		requested   island.PlatformTag
		requestedOK bool
	)
	if platform != "" {
		if tag, err := island.ParsePlatformTag(platform); err == nil {
			requested, requestedOK = tag, true
		}
	}

	type candidate struct {
		dist        *types.Distribution
		specificity int
	}
	var compatible []candidate
	for i := range dists {
		d := &dists[i]
		if d.URLStatus != types.URLStatusActive {
			continue
		}
		tag, err := island.ParsePlatformTag(d.PlatformTag)
		if err != nil {
			continue
		}
		if platform != "" {
			if !requestedOK {
				if !tag.IsUniversal() {
					continue
				}
			} else if !tag.CompatibleWith(requested) {
				continue
			}
		}
		compatible = append(compatible, candidate{dist: d, specificity: tag.Specificity()})
	}
	if len(compatible) == 0 {
		return nil
	}

	sort.SliceStable(compatible, func(i, j int) bool {
		return compatible[i].specificity > compatible[j].specificity
	})

	if platform != "" {
		for _, c := range compatible {
			if c.dist.PlatformTag == platform {
				return c.dist
			}
		}
	}
	return compatible[0].dist
}

// loadVersion fetches one version with the given preloads, distinguishing a
// missing package from a missing version for the 404 body.
func (s *Service) loadVersion(ctx context.Context, name, label string, preloads ...string) (*types.Version, *types.RegistryError) {
	q := s.db.WithContext(ctx)
	for _, p := range preloads {
		q = q.Preload(p)
	}
	var ver types.Version
	err := q.Where("package_name = ? AND version = ?", name, label).First(&ver).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		if rerr := s.assertPackageExists(ctx, name); rerr != nil {
			return nil, rerr
		}
		return nil, types.ErrVersionNotFound(name, label)
	}
	if err != nil {
		return nil, types.ErrInternal(fmt.Errorf("loading version: %w", err))
	}
	return &ver, nil
}

func (s *Service) assertPackageExists(ctx context.Context, name string) *types.RegistryError {
	var count int64
	if err := s.db.WithContext(ctx).Model(&types.Package{}).Where("name = ?", name).Count(&count).Error; err != nil {
		return types.ErrInternal(fmt.Errorf("checking package: %w", err))
	}
	if count == 0 {
		return types.ErrPackageNotFound(name)
	}
	return nil
}

func clampPage(page, perPage int) (int, int) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = DefaultPerPage
	}
	if perPage > MaxPerPage {
		perPage = MaxPerPage
	}
	return page, perPage
}

func summarize(pkg *types.Package) PackageSummary {
	return PackageSummary{
		Name:          pkg.Name,
		DisplayName:   pkg.DisplayName,
		Game:          pkg.Game,
		Description:   pkg.Description,
		Keywords:      pkg.Keywords,
		Owner:         pkg.Owner,
		LatestVersion: latestActive(pkg.Versions),
		UpdatedAt:     pkg.UpdatedAt,
	}
}

// latestActive returns the highest non-yanked version label, or "" when
// every version is yanked or none exist.
func latestActive(versions []types.Version) string {
	labels := make([]string, 0, len(versions))
	for i := range versions {
		if !versions[i].Yanked {
			labels = append(labels, versions[i].Version)
		}
	}
	return version.Latest(labels)
}

// versionSummaries collapses versions and orders them latest-first by
// semantic version.
func versionSummaries(versions []types.Version) []VersionSummary {
	byLabel := make(map[string]*types.Version, len(versions))
	labels := make([]string, 0, len(versions))
	for i := range versions {
		v := &versions[i]
		byLabel[v.Version] = v
		labels = append(labels, v.Version)
	}

	out := make([]VersionSummary, 0, len(labels))
	for _, label := range version.Sort(labels) {
		v := byLabel[label]
		out = append(out, VersionSummary{
			Version:    v.Version,
			Yanked:     v.Yanked,
			YankReason: v.YankReason,
			CreatedAt:  v.CreatedAt,
		})
	}
	return out
}

// anyVersionInRange reports whether any non-yanked version's compatibility
// range contains x. Empty ends of a range are open.
func anyVersionInRange(versions []types.Version, x string) bool {
	for i := range versions {
		v := &versions[i]
		if v.Yanked {
			continue
		}
		ok, err := version.InRange(x, v.MinimumAPVersion, v.MaximumAPVersion)
		if err == nil && ok {
			return true
		}
	}
	return false
}

// anyDistributionMatches reports whether any distribution of any version
// carries a platform tag matching the search filter.
func anyDistributionMatches(versions []types.Version, filter string) bool {
	for i := range versions {
		for _, d := range versions[i].Distributions {
			if island.MatchesFilter(d.PlatformTag, filter) {
				return true
			}
		}
	}
	return false
}

// relevance scores a free-text match. Name and display name share the top
// tiers; game, keyword, and description matches rank below them.
func relevance(pkg *types.Package, term string) int {
	if term == "" {
		return 0
	}
	name := strings.ToLower(pkg.Name)
	display := strings.ToLower(pkg.DisplayName)
	switch {
	case name == term || display == term:
		return rankExactName
	case strings.HasPrefix(name, term) || strings.HasPrefix(display, term):
		return rankNamePrefix
	case strings.Contains(name, term) || strings.Contains(display, term):
		return rankNameSubstring
	}
	if strings.Contains(strings.ToLower(pkg.Game), term) {
		return rankGame
	}
	for _, kw := range pkg.Keywords {
		if strings.Contains(strings.ToLower(kw), term) {
			return rankKeyword
		}
	}
	if strings.Contains(strings.ToLower(pkg.Description), term) {
		return rankDescription
	}
	return 0
}

func searchFilters(q Query) map[string]string {
	filters := make(map[string]string)
	if q.Game != "" {
		filters["game"] = q.Game
	}
	if q.EntryPoint != "" {
		filters["entry_point"] = q.EntryPoint
	}
	if q.CompatibleWith != "" {
		filters["compatible_with"] = q.CompatibleWith
	}
	if q.Platform != "" {
		filters["platform"] = q.Platform
	}
	return filters
}
