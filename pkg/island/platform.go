package island

import (
	"strings"

	"github.com/atoll-registry/atoll/pkg/types"
)

// PlatformTag is a PEP-425-shaped compatibility triple. The registry only
// compares tags; it never interprets them beyond the rules below.
type PlatformTag struct {
	Python   string
	ABI      string
	Platform string
}

// Universal is the tag for platform-independent archives.
func Universal() PlatformTag {
	return PlatformTag{Python: "py3", ABI: "none", Platform: "any"}
}

// ParsePlatformTag parses "python-abi-platform".
func ParsePlatformTag(s string) (PlatformTag, error) {
	parts := strings.Split(s, "-")
	if len(parts) != 3 {
		return PlatformTag{}, types.ErrInvalidFilename(s, "platform tag must have exactly three dash-separated groups")
	}
	return PlatformTag{Python: parts[0], ABI: parts[1], Platform: parts[2]}, nil
}

func (t PlatformTag) String() string {
	return t.Python + "-" + t.ABI + "-" + t.Platform
}

// IsUniversal reports whether the tag is py3-none-any.
func (t PlatformTag) IsUniversal() bool {
	return t == Universal()
}

// IsPure reports whether the archive is platform independent (no ABI, any
// platform) regardless of the python group.
func (t PlatformTag) IsPure() bool {
	return t.ABI == "none" && t.Platform == "any"
}

// CompatibleWith reports whether an archive carrying this tag can run where
// requested runs. Universal archives run anywhere; "py3" accepts any cp3x
// interpreter; "none" accepts any ABI; "any" accepts any platform.
func (t PlatformTag) CompatibleWith(requested PlatformTag) bool {
	if t.IsUniversal() {
		return true
	}
	if t == requested {
		return true
	}

	if t.Python == "py3" {
		if requested.Python != "py3" && !strings.HasPrefix(requested.Python, "cp3") {
			return false
		}
	} else if t.Python != requested.Python {
		return false
	}

	if t.ABI != "none" && t.ABI != requested.ABI {
		return false
	}

	if t.Platform != "any" && t.Platform != requested.Platform {
		return false
	}

	return true
}

// Specificity scores how narrowly the tag targets a platform. Universal
// scores 0; a pinned platform outweighs a pinned interpreter outweighs a
// pinned ABI, so download resolution prefers the most specific compatible
// archive.
func (t PlatformTag) Specificity() int {
	score := 0
	if t.Python != "py3" {
		score += 10
	}
	if t.ABI != "none" {
		score += 5
	}
	if t.Platform != "any" {
		score += 20
	}
	return score
}

// MatchesFilter implements the search `platform` predicate: the stored tag
// matches when it equals the filter or ends with it on a group or word
// boundary ("win_amd64" and "amd64" both match "cp311-cp311-win_amd64").
func MatchesFilter(tag, filter string) bool {
	if filter == "" || tag == filter {
		return true
	}
	return strings.HasSuffix(tag, "-"+filter) || strings.HasSuffix(tag, "_"+filter)
}
