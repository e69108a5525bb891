// Package manifest defines the publish request body and its validation
// rules. A manifest describes one package version: identity, game,
// compatibility range, entry points, and the externally hosted
// distributions being registered.
//
// Unknown keys are preserved: the manifest decodes into typed fields plus
// a raw map that becomes the stored snapshot, so fields this server does
// not understand survive the round trip to future clients.
package manifest

import (
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/atoll-registry/atoll/pkg/digest"
	"github.com/atoll-registry/atoll/pkg/types"
	"github.com/atoll-registry/atoll/pkg/version"
)

const (
	maxNameLength        = 100
	maxVersionLength     = 50
	maxGameLength        = 100
	maxDescriptionLength = 500
	maxFilenameLength    = 255
	maxPlatformTagLength = 100
)

var (
	namePattern       = regexp.MustCompile(`^[a-z][a-z0-9_-]*$`)
	entryPointPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	commitPattern     = regexp.MustCompile(`^[0-9a-f]{40}$`)
)

// DistributionDecl is one externally hosted artifact in a publish request.
// The registry never receives the bytes; it fetches the URL and checks the
// declared digest and size against what the host actually serves.
type DistributionDecl struct {
	Filename    string `json:"filename"`
	URL         string `json:"url"`
	SHA256      string `json:"sha256"`
	Size        int64  `json:"size"`
	PlatformTag string `json:"platform_tag"`
}

// Manifest is the full publish request body for one package version.
type Manifest struct {
	Name             string             `json:"name"`
	Version          string             `json:"version"`
	Game             string             `json:"game"`
	Description      string             `json:"description,omitempty"`
	Authors          []string           `json:"authors,omitempty"`
	License          string             `json:"license,omitempty"`
	Homepage         string             `json:"homepage,omitempty"`
	Repository       string             `json:"repository,omitempty"`
	Keywords         []string           `json:"keywords,omitempty"`
	Platforms        []string           `json:"platforms,omitempty"`
	Maturity         string             `json:"maturity,omitempty"`
	MinimumAPVersion string             `json:"minimum_ap_version"`
	MaximumAPVersion string             `json:"maximum_ap_version,omitempty"`
	EntryPoints      map[string]string  `json:"entry_points"`
	SourceRepository string             `json:"source_repository,omitempty"`
	SourceCommit     string             `json:"source_commit,omitempty"`
	Distributions    []DistributionDecl `json:"distributions"`

	// Raw is the request body exactly as decoded, unknown keys included.
	// It is what gets persisted as the version's manifest snapshot.
	Raw types.JSONMap `json:"-"`
}

// UnmarshalJSON decodes the typed fields and keeps the untyped original
// alongside them.
func (m *Manifest) UnmarshalJSON(data []byte) error {
	type plain Manifest
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	raw := types.JSONMap{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*m = Manifest(p)
	m.Raw = raw
	return nil
}

// Snapshot returns the verbatim decoded body for storage.
func (m *Manifest) Snapshot() types.JSONMap {
	return m.Raw
}

type fieldError struct {
	field   string
	message string
	value   interface{}
}

// Validate checks every field and reports all violations at once rather
// than stopping at the first, so a publisher can fix a manifest in one
// pass. Digests and commit SHAs are lowercased in place before checking.
// URL reachability, HTTPS enforcement, and filename grammar agreement are
// the registration coordinator's job; this covers shape only.
func (m *Manifest) Validate() *types.RegistryError {
	var errs []fieldError

	m.normalize()

	switch {
	case m.Name == "":
		errs = append(errs, fieldError{"name", "name is required", m.Name})
	case len(m.Name) > maxNameLength:
		errs = append(errs, fieldError{"name", fmt.Sprintf("name exceeds %d characters", maxNameLength), m.Name})
	case !namePattern.MatchString(m.Name):
		errs = append(errs, fieldError{"name", "name must be lowercase alphanumeric with hyphens or underscores, starting with a letter", m.Name})
	}

	switch {
	case m.Version == "":
		errs = append(errs, fieldError{"version", "version is required", m.Version})
	case len(m.Version) > maxVersionLength:
		errs = append(errs, fieldError{"version", fmt.Sprintf("version exceeds %d characters", maxVersionLength), m.Version})
	default:
		if _, err := version.Parse(m.Version); err != nil {
			errs = append(errs, fieldError{"version", "version is not a valid semantic version", m.Version})
		}
	}

	switch {
	case m.Game == "":
		errs = append(errs, fieldError{"game", "game is required", m.Game})
	case len(m.Game) > maxGameLength:
		errs = append(errs, fieldError{"game", fmt.Sprintf("game exceeds %d characters", maxGameLength), m.Game})
	}

	if len(m.Description) > maxDescriptionLength {
		errs = append(errs, fieldError{"description", fmt.Sprintf("description exceeds %d characters", maxDescriptionLength), len(m.Description)})
	}

	minValid := false
	if m.MinimumAPVersion == "" {
		errs = append(errs, fieldError{"minimum_ap_version", "minimum_ap_version is required", m.MinimumAPVersion})
	} else if _, err := version.Parse(m.MinimumAPVersion); err != nil {
		errs = append(errs, fieldError{"minimum_ap_version", "minimum_ap_version is not a valid semantic version", m.MinimumAPVersion})
	} else {
		minValid = true
	}

	if m.MaximumAPVersion != "" {
		if _, err := version.Parse(m.MaximumAPVersion); err != nil {
			errs = append(errs, fieldError{"maximum_ap_version", "maximum_ap_version is not a valid semantic version", m.MaximumAPVersion})
		} else if minValid {
			if cmp, err := version.Compare(m.MaximumAPVersion, m.MinimumAPVersion); err == nil && cmp < 0 {
				errs = append(errs, fieldError{"maximum_ap_version", "maximum_ap_version is below minimum_ap_version", m.MaximumAPVersion})
			}
		}
	}

	if len(m.EntryPoints) == 0 {
		errs = append(errs, fieldError{"entry_points", "at least one entry point is required", nil})
	}
	for id, target := range m.EntryPoints {
		if !entryPointPattern.MatchString(id) {
			errs = append(errs, fieldError{"entry_points." + id, "entry point identifier must match [A-Za-z_][A-Za-z0-9_]*", id})
		}
		if target == "" {
			errs = append(errs, fieldError{"entry_points." + id, "entry point target must not be empty", target})
		}
	}

	errs = append(errs, validateOptionalURL("homepage", m.Homepage)...)
	errs = append(errs, validateOptionalURL("repository", m.Repository)...)

	if m.SourceCommit != "" && !commitPattern.MatchString(m.SourceCommit) {
		errs = append(errs, fieldError{"source_commit", "source_commit must be 40 lowercase hex characters", m.SourceCommit})
	}

	if len(m.Distributions) == 0 {
		errs = append(errs, fieldError{"distributions", "at least one distribution is required", nil})
	}
	for i, d := range m.Distributions {
		errs = append(errs, d.validate(i)...)
	}

	if len(errs) == 0 {
		return nil
	}
	details := make([]map[string]interface{}, 0, len(errs))
	for _, fe := range errs {
		details = append(details, map[string]interface{}{
			"field":   fe.field,
			"message": fe.message,
			"value":   fe.value,
		})
	}
	return types.ErrInvalidManifest(details)
}

func (d *DistributionDecl) validate(i int) []fieldError {
	var errs []fieldError
	path := func(f string) string { return fmt.Sprintf("distributions[%d].%s", i, f) }

	switch {
	case d.Filename == "":
		errs = append(errs, fieldError{path("filename"), "filename is required", d.Filename})
	case len(d.Filename) > maxFilenameLength:
		errs = append(errs, fieldError{path("filename"), fmt.Sprintf("filename exceeds %d characters", maxFilenameLength), d.Filename})
	}

	if d.URL == "" {
		errs = append(errs, fieldError{path("url"), "url is required", d.URL})
	}

	if !digest.ValidHex(d.SHA256) {
		errs = append(errs, fieldError{path("sha256"), "sha256 must be exactly 64 lowercase hex characters", d.SHA256})
	}

	if d.Size < 0 {
		errs = append(errs, fieldError{path("size"), "size must not be negative", d.Size})
	}

	switch {
	case d.PlatformTag == "":
		errs = append(errs, fieldError{path("platform_tag"), "platform_tag is required", d.PlatformTag})
	case len(d.PlatformTag) > maxPlatformTagLength:
		errs = append(errs, fieldError{path("platform_tag"), fmt.Sprintf("platform_tag exceeds %d characters", maxPlatformTagLength), d.PlatformTag})
	}

	return errs
}

func validateOptionalURL(field, value string) []fieldError {
	if value == "" {
		return nil
	}
	u, err := url.Parse(value)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return []fieldError{{field, field + " must be an absolute URL", value}}
	}
	return nil
}

// normalize lowercases hex fields and trims surrounding whitespace from
// scalar inputs so equivalent submissions validate and store identically.
func (m *Manifest) normalize() {
	m.Name = strings.TrimSpace(m.Name)
	m.Version = strings.TrimSpace(m.Version)
	m.Game = strings.TrimSpace(m.Game)
	m.MinimumAPVersion = strings.TrimSpace(m.MinimumAPVersion)
	m.MaximumAPVersion = strings.TrimSpace(m.MaximumAPVersion)
	m.SourceCommit = strings.ToLower(strings.TrimSpace(m.SourceCommit))
	for i := range m.Distributions {
		d := &m.Distributions[i]
		d.Filename = strings.TrimSpace(d.Filename)
		d.URL = strings.TrimSpace(d.URL)
		d.SHA256 = strings.ToLower(strings.TrimSpace(d.SHA256))
		d.PlatformTag = strings.TrimSpace(d.PlatformTag)
	}
}
