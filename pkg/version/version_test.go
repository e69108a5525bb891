package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atoll-registry/atoll/pkg/types"
)

func TestParseAcceptsStrictVersions(t *testing.T) {
	valid := []string{
		"0.0.0",
		"1.0.0",
		"1.2.3",
		"10.20.30",
		"1.0.0-alpha",
		"1.0.0-alpha.1",
		"1.0.0-0.3.7",
		"1.0.0-x-y-z.44",
		"1.0.0+20130313144700",
		"1.0.0-beta+exp.sha.5114f85",
	}

	for _, s := range valid {
		_, err := Parse(s)
		assert.NoError(t, err, "expected %q to parse", s)
	}
}

func TestParseRejectsMalformedVersions(t *testing.T) {
	invalid := []string{
		"",
		"1",
		"1.0",
		"v1.0.0",
		"1.0.0.0",
		"01.0.0",
		"1.02.0",
		"1.0.0-",
		"1.0.0-alpha..1",
		"1.0.0+",
		"one.two.three",
		"1.0.0 ",
	}

	for _, s := range invalid {
		_, err := Parse(s)
		require.Error(t, err, "expected %q to be rejected", s)
		assert.ErrorIs(t, err, types.NewError(types.CodeInvalidVersion, ""))
	}
}

func TestCompareOrdering(t *testing.T) {
	// Each pair is (smaller, larger).
	pairs := [][2]string{
		{"1.0.0", "2.0.0"},
		{"2.0.0", "2.1.0"},
		{"2.1.0", "2.1.1"},
		{"1.0.0-alpha", "1.0.0"},
		{"1.0.0-alpha", "1.0.0-alpha.1"},
		{"1.0.0-alpha.1", "1.0.0-alpha.beta"},
		{"1.0.0-alpha.beta", "1.0.0-beta"},
		{"1.0.0-beta", "1.0.0-beta.2"},
		{"1.0.0-beta.2", "1.0.0-beta.11"},
		{"1.0.0-beta.11", "1.0.0-rc.1"},
		{"1.0.0-rc.1", "1.0.0"},
	}

	for _, p := range pairs {
		got, err := Compare(p[0], p[1])
		require.NoError(t, err)
		assert.Equal(t, -1, got, "%s < %s", p[0], p[1])

		got, err = Compare(p[1], p[0])
		require.NoError(t, err)
		assert.Equal(t, 1, got, "%s > %s", p[1], p[0])
	}
}

func TestCompareIgnoresBuildMetadata(t *testing.T) {
	got, err := Compare("1.0.0+build.1", "1.0.0+build.2")
	require.NoError(t, err)
	assert.Equal(t, 0, got)

	got, err = Compare("1.0.0-alpha+001", "1.0.0-alpha")
	require.NoError(t, err)
	assert.Equal(t, 0, got)
}

// The order must be total: antisymmetric and transitive over every triple.
func TestCompareTotalOrder(t *testing.T) {
	versions := []string{
		"0.1.0", "1.0.0-alpha", "1.0.0-alpha.1", "1.0.0-beta.2",
		"1.0.0-beta.11", "1.0.0-rc.1", "1.0.0", "1.0.0+build",
		"1.9.0", "1.10.0", "2.0.0-0", "2.0.0",
	}

	cmp := func(a, b string) int {
		c, err := Compare(a, b)
		require.NoError(t, err)
		return c
	}

	for _, a := range versions {
		for _, b := range versions {
			assert.Equal(t, cmp(a, b), -cmp(b, a), "antisymmetry for (%s, %s)", a, b)
			for _, c := range versions {
				if cmp(a, b) <= 0 && cmp(b, c) <= 0 {
					assert.LessOrEqual(t, cmp(a, c), 0, "transitivity for (%s, %s, %s)", a, b, c)
				}
			}
		}
	}
}

func TestSortLatestFirst(t *testing.T) {
	got := Sort([]string{"1.0.0", "2.0.0-rc.1", "1.2.3", "2.0.0", "1.0.0-alpha"})
	assert.Equal(t, []string{"2.0.0", "2.0.0-rc.1", "1.2.3", "1.0.0", "1.0.0-alpha"}, got)
}

func TestSortDropsInvalidEntries(t *testing.T) {
	got := Sort([]string{"1.0.0", "not-a-version", "0.5.0"})
	assert.Equal(t, []string{"1.0.0", "0.5.0"}, got)
}

func TestSortAscending(t *testing.T) {
	got := SortAscending([]string{"2.0.0", "1.0.0", "1.5.0"})
	assert.Equal(t, []string{"1.0.0", "1.5.0", "2.0.0"}, got)
}

func TestLatest(t *testing.T) {
	assert.Equal(t, "2.1.0", Latest([]string{"1.0.0", "2.1.0", "2.0.0"}))
	assert.Equal(t, "", Latest(nil))
	assert.Equal(t, "", Latest([]string{"bogus"}))
}

func TestLatestStable(t *testing.T) {
	assert.Equal(t, "1.2.0", LatestStable([]string{"1.2.0", "2.0.0-beta.1", "1.0.0"}))
	// All prereleases: fall back to the highest.
	assert.Equal(t, "2.0.0-beta.1", LatestStable([]string{"2.0.0-beta.1", "2.0.0-alpha.4"}))
}

func TestIsPrerelease(t *testing.T) {
	assert.True(t, IsPrerelease("1.0.0-rc.1"))
	assert.False(t, IsPrerelease("1.0.0"))
	assert.False(t, IsPrerelease("1.0.0+build"))
	assert.False(t, IsPrerelease("garbage"))
}

func TestInRange(t *testing.T) {
	cases := []struct {
		x, min, max string
		want        bool
	}{
		{"0.5.5", "0.5.0", "0.6.99", true},
		{"0.6.50", "0.5.0", "0.6.99", true},
		{"0.7.0", "0.5.0", "0.6.99", false},
		{"0.4.9", "0.5.0", "0.6.99", false},
		{"0.6.50", "0.6.0", "", true},
		{"9.9.9", "0.6.0", "", true},
		{"0.5.5", "0.6.0", "", false},
		{"0.5.5", "", "0.6.0", true},
		{"0.5.5", "", "", true},
		{"0.5.0", "0.5.0", "0.5.0", true},
	}

	for _, tc := range cases {
		got, err := InRange(tc.x, tc.min, tc.max)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got, "InRange(%s, %s, %s)", tc.x, tc.min, tc.max)
	}

	_, err := InRange("nope", "1.0.0", "")
	assert.Error(t, err)
}
