// Package version implements the registry's semantic-version algebra.
//
// Parsing is strict: MAJOR.MINOR.PATCH are all required, no leading `v`, no
// leading zeros. Ordering follows SemVer 2.0.0 — any prerelease sorts below
// the same base version, numeric identifiers sort below alphanumeric ones,
// and build metadata never participates in ordering.
package version

import (
	"fmt"
	"regexp"
	"sort"

	"github.com/Masterminds/semver/v3"
	"github.com/rs/zerolog/log"

	"github.com/atoll-registry/atoll/pkg/types"
)

// The official SemVer 2.0.0 grammar. StrictNewVersion is close but tolerant
// of empty prerelease/build segments, so the regexp gates first.
var semverPattern = regexp.MustCompile(
	`^(0|[1-9]\d*)\.(0|[1-9]\d*)\.(0|[1-9]\d*)` +
		`(?:-((?:0|[1-9]\d*|\d*[a-zA-Z-][0-9a-zA-Z-]*)(?:\.(?:0|[1-9]\d*|\d*[a-zA-Z-][0-9a-zA-Z-]*))*))?` +
		`(?:\+([0-9a-zA-Z-]+(?:\.[0-9a-zA-Z-]+)*))?$`)

// Parse parses a version string strictly.
func Parse(s string) (*semver.Version, error) {
	if !semverPattern.MatchString(s) {
		return nil, types.ErrInvalidVersion(s, fmt.Errorf("does not match the semantic version grammar"))
	}
	v, err := semver.StrictNewVersion(s)
	if err != nil {
		return nil, types.ErrInvalidVersion(s, err)
	}
	return v, nil
}

// IsValid reports whether s parses under the strict grammar.
func IsValid(s string) bool {
	_, err := Parse(s)
	return err == nil
}

// Compare returns -1, 0 or 1 for a < b, a == b, a > b. Build metadata is
// ignored, so Compare("1.0.0+x", "1.0.0+y") is 0.
func Compare(a, b string) (int, error) {
	va, err := Parse(a)
	if err != nil {
		return 0, err
	}
	vb, err := Parse(b)
	if err != nil {
		return 0, err
	}
	return va.Compare(vb), nil
}

// Sort sorts the given version strings latest-first. Entries that fail to
// parse are logged and dropped; registry rows are validated on write, so a
// drop here means the store was tampered with.
func Sort(versions []string) []string {
	parsed := make([]*semver.Version, 0, len(versions))
	originals := make(map[*semver.Version]string, len(versions))

	for _, s := range versions {
		v, err := semver.StrictNewVersion(s)
		if err != nil {
			log.Warn().Str("version", s).Err(err).Msg("invalid semantic version")
			continue
		}
		parsed = append(parsed, v)
		originals[v] = s
	}

	sort.Slice(parsed, func(i, j int) bool {
		return parsed[i].GreaterThan(parsed[j])
	})

	result := make([]string, len(parsed))
	for i, v := range parsed {
		result[i] = originals[v]
	}
	return result
}

// SortAscending sorts the given version strings oldest-first.
func SortAscending(versions []string) []string {
	result := Sort(versions)
	for i, j := 0, len(result)-1; i < j; i, j = i+1, j-1 {
		result[i], result[j] = result[j], result[i]
	}
	return result
}

// Latest returns the highest version among the given strings, or "" when
// none parse.
func Latest(versions []string) string {
	sorted := Sort(versions)
	if len(sorted) == 0 {
		return ""
	}
	return sorted[0]
}

// LatestStable returns the highest non-prerelease version, falling back to
// the highest overall when every version is a prerelease.
func LatestStable(versions []string) string {
	sorted := Sort(versions)
	for _, s := range sorted {
		if !IsPrerelease(s) {
			return s
		}
	}
	if len(sorted) == 0 {
		return ""
	}
	return sorted[0]
}

// IsPrerelease reports whether version carries a prerelease component.
func IsPrerelease(s string) bool {
	v, err := semver.StrictNewVersion(s)
	if err != nil {
		return false
	}
	return v.Prerelease() != ""
}

// InRange reports whether min <= x <= max. Empty min or max are open ends.
func InRange(x, min, max string) (bool, error) {
	vx, err := Parse(x)
	if err != nil {
		return false, err
	}
	if min != "" {
		vmin, err := Parse(min)
		if err != nil {
			return false, err
		}
		if vx.LessThan(vmin) {
			return false, nil
		}
	}
	if max != "" {
		vmax, err := Parse(max)
		if err != nil {
			return false, err
		}
		if vx.GreaterThan(vmax) {
			return false, nil
		}
	}
	return true, nil
}
