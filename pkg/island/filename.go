// Package island implements the filename grammar for plugin archives.
//
// Two shapes exist, following wheel naming conventions:
//
//	binary: {distribution}-{version}(-{build})?-{python}-{abi}-{platform}.island
//	source: {distribution}-{version}.tar.gz
//
// Distribution names and versions are normalized before they appear in a
// filename; parsing returns the normalized forms.
package island

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/atoll-registry/atoll/pkg/types"
)

// Extensions for the two archive shapes.
const (
	BinaryExt = ".island"
	SourceExt = ".tar.gz"
)

var (
	namePattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_]*$`)

	binaryPattern = regexp.MustCompile(
		`^(?P<name>[a-zA-Z0-9][a-zA-Z0-9_]*)` +
			`-(?P<version>[^-]+)` +
			`(?:-(?P<build>\d+))?` +
			`-(?P<python>[a-z0-9]+)` +
			`-(?P<abi>[a-z0-9_]+)` +
			`-(?P<platform>[a-z0-9_]+)` +
			`\.island$`)

	sourcePattern = regexp.MustCompile(
		`^(?P<name>[a-zA-Z0-9][a-zA-Z0-9_]*)-(?P<version>[^/]+)\.tar\.gz$`)

	separatorRuns = regexp.MustCompile(`[^a-z0-9]+`)
)

// Filename is a parsed archive filename. Version carries the filename
// encoding (hyphens as underscores, `+` preserved); Build is empty when the
// filename has no build tag; Tag is the zero value for source archives.
type Filename struct {
	Distribution string
	Version      string
	Build        string
	Tag          PlatformTag
	Source       bool
}

// NormalizeName lowercases a package name and collapses every run of
// non-alphanumerics into a single underscore.
func NormalizeName(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("package name cannot be empty")
	}
	normalized := strings.ToLower(name)
	normalized = separatorRuns.ReplaceAllString(normalized, "_")
	normalized = strings.Trim(normalized, "_")
	if normalized == "" || !namePattern.MatchString(normalized) {
		return "", fmt.Errorf("invalid package name %q", name)
	}
	return normalized, nil
}

// NormalizeVersionLabel encodes a version for use in a filename: hyphens
// become underscores so the field stays unambiguous, `+` is preserved.
func NormalizeVersionLabel(version string) string {
	return strings.ReplaceAll(version, "-", "_")
}

// Parse parses either archive shape.
func Parse(filename string) (*Filename, error) {
	if strings.HasSuffix(filename, BinaryExt) {
		m := binaryPattern.FindStringSubmatch(filename)
		if m == nil {
			return nil, types.ErrInvalidFilename(filename, "filename does not match {dist}-{ver}(-{build})?-{python}-{abi}-{platform}.island")
		}
		return &Filename{
			Distribution: m[1],
			Version:      m[2],
			Build:        m[3],
			Tag:          PlatformTag{Python: m[4], ABI: m[5], Platform: m[6]},
		}, nil
	}

	if strings.HasSuffix(filename, SourceExt) {
		m := sourcePattern.FindStringSubmatch(filename)
		if m == nil {
			return nil, types.ErrInvalidFilename(filename, "filename does not match {dist}-{ver}.tar.gz")
		}
		return &Filename{
			Distribution: m[1],
			Version:      m[2],
			Source:       true,
		}, nil
	}

	return nil, types.ErrInvalidFilename(filename, "unrecognized archive extension")
}

// String rebuilds the filename from its components.
func (f *Filename) String() string {
	if f.Source {
		return f.Distribution + "-" + f.Version + SourceExt
	}
	parts := []string{f.Distribution, f.Version}
	if f.Build != "" {
		parts = append(parts, f.Build)
	}
	parts = append(parts, f.Tag.String())
	return strings.Join(parts, "-") + BinaryExt
}

// BuildBinary assembles a binary archive filename, normalizing name and
// version. A nil build tag is encoded by the empty string.
func BuildBinary(name, version, build string, tag PlatformTag) (string, error) {
	n, err := NormalizeName(name)
	if err != nil {
		return "", err
	}
	f := Filename{
		Distribution: n,
		Version:      NormalizeVersionLabel(version),
		Build:        build,
		Tag:          tag,
	}
	return f.String(), nil
}

// BuildSource assembles a source archive filename.
func BuildSource(name, version string) (string, error) {
	n, err := NormalizeName(name)
	if err != nil {
		return "", err
	}
	f := Filename{
		Distribution: n,
		Version:      NormalizeVersionLabel(version),
		Source:       true,
	}
	return f.String(), nil
}

// CheckAgainstManifest verifies that a parsed filename agrees with the
// manifest it was registered under: same normalized name, same normalized
// version, and — for binary archives — the declared platform tag.
func (f *Filename) CheckAgainstManifest(filename, manifestName, manifestVersion, declaredTag string) *types.RegistryError {
	wantName, err := NormalizeName(manifestName)
	if err != nil {
		return types.ErrNameMismatch(filename, f.Distribution, manifestName)
	}
	if f.Distribution != wantName {
		return types.ErrNameMismatch(filename, f.Distribution, wantName)
	}

	if f.Version != NormalizeVersionLabel(manifestVersion) {
		return types.ErrVersionMismatch(filename, f.Version, manifestVersion)
	}

	if !f.Source {
		if f.Tag.String() != declaredTag {
			return types.ErrTagMismatch(filename, f.Tag.String(), declaredTag)
		}
	}
	return nil
}
