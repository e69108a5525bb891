package manifest

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atoll-registry/atoll/pkg/types"
)

const sampleBody = `{
	"name": "pokemon-emerald",
	"version": "1.0.0",
	"game": "Pokemon Emerald",
	"description": "Randomizer world for Pokemon Emerald",
	"authors": ["alice"],
	"minimum_ap_version": "0.5.0",
	"maximum_ap_version": "0.6.99",
	"entry_points": {"pokemon_emerald": "pokemon_emerald.world:World"},
	"distributions": [
		{
			"filename": "pokemon_emerald-1.0.0-py3-none-any.island",
			"url": "https://releases.example.com/pokemon_emerald-1.0.0-py3-none-any.island",
			"sha256": "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
			"size": 0,
			"platform_tag": "py3-none-any"
		}
	]
}`

func decode(t *testing.T, body string) *Manifest {
	t.Helper()
	var m Manifest
	require.NoError(t, json.Unmarshal([]byte(body), &m))
	return &m
}

func fieldPaths(t *testing.T, err *types.RegistryError) []string {
	t.Helper()
	require.NotNil(t, err)
	require.Equal(t, types.CodeInvalidManifest, err.Code)
	paths := make([]string, 0, len(err.Details))
	for _, d := range err.Details {
		paths = append(paths, d["field"].(string))
	}
	return paths
}

func TestUnmarshalFillsTypedFields(t *testing.T) {
	m := decode(t, sampleBody)

	assert.Equal(t, "pokemon-emerald", m.Name)
	assert.Equal(t, "1.0.0", m.Version)
	assert.Equal(t, "Pokemon Emerald", m.Game)
	assert.Equal(t, "0.5.0", m.MinimumAPVersion)
	assert.Equal(t, "0.6.99", m.MaximumAPVersion)
	assert.Equal(t, map[string]string{"pokemon_emerald": "pokemon_emerald.world:World"}, m.EntryPoints)
	require.Len(t, m.Distributions, 1)
	assert.Equal(t, "pokemon_emerald-1.0.0-py3-none-any.island", m.Distributions[0].Filename)
	assert.Equal(t, int64(0), m.Distributions[0].Size)
}

func TestUnmarshalPreservesUnknownKeys(t *testing.T) {
	body := strings.Replace(sampleBody, `"name":`, `"future_field": {"nested": true}, "name":`, 1)
	m := decode(t, body)

	require.NotNil(t, m.Raw)
	assert.Contains(t, m.Raw, "future_field")
	assert.Contains(t, m.Raw, "entry_points")

	snapshot, err := json.Marshal(m.Snapshot())
	require.NoError(t, err)
	assert.Contains(t, string(snapshot), "future_field")
}

func TestValidateAcceptsCompleteManifest(t *testing.T) {
	m := decode(t, sampleBody)
	assert.Nil(t, m.Validate())
}

func TestValidateRequiresCoreFields(t *testing.T) {
	m := decode(t, `{"distributions": []}`)
	paths := fieldPaths(t, m.Validate())

	assert.Contains(t, paths, "name")
	assert.Contains(t, paths, "version")
	assert.Contains(t, paths, "game")
	assert.Contains(t, paths, "minimum_ap_version")
	assert.Contains(t, paths, "entry_points")
	assert.Contains(t, paths, "distributions")
}

func TestValidateNameRules(t *testing.T) {
	cases := []struct {
		name string
		ok   bool
	}{
		{"pokemon-emerald", true},
		{"a", true},
		{"stardew_valley", true},
		{"Pokemon", false},
		{"9lives", false},
		{"-leading", false},
		{"has space", false},
		{strings.Repeat("a", 101), false},
	}
	for _, tc := range cases {
		m := decode(t, sampleBody)
		m.Name = tc.name
		err := m.Validate()
		if tc.ok {
			assert.Nil(t, err, "name %q should be accepted", tc.name)
		} else {
			assert.Contains(t, fieldPaths(t, err), "name", "name %q should be rejected", tc.name)
		}
	}
}

func TestValidateVersionRules(t *testing.T) {
	for _, bad := range []string{"1.0", "v1.0.0", "01.0.0", "not-a-version"} {
		m := decode(t, sampleBody)
		m.Version = bad
		assert.Contains(t, fieldPaths(t, m.Validate()), "version", "version %q should be rejected", bad)
	}
}

func TestValidateCompatibilityRange(t *testing.T) {
	m := decode(t, sampleBody)
	m.MinimumAPVersion = "0.6.0"
	m.MaximumAPVersion = "0.5.0"
	assert.Contains(t, fieldPaths(t, m.Validate()), "maximum_ap_version")

	m = decode(t, sampleBody)
	m.MaximumAPVersion = "0.5.0"
	assert.Nil(t, m.Validate(), "maximum equal to minimum is in range")

	m = decode(t, sampleBody)
	m.MaximumAPVersion = ""
	assert.Nil(t, m.Validate(), "open upper bound is legal")

	m = decode(t, sampleBody)
	m.MaximumAPVersion = "latest"
	assert.Contains(t, fieldPaths(t, m.Validate()), "maximum_ap_version")
}

func TestValidateEntryPoints(t *testing.T) {
	m := decode(t, sampleBody)
	m.EntryPoints = map[string]string{}
	assert.Contains(t, fieldPaths(t, m.Validate()), "entry_points")

	m = decode(t, sampleBody)
	m.EntryPoints = map[string]string{"9bad": "mod:World"}
	assert.Contains(t, fieldPaths(t, m.Validate()), "entry_points.9bad")

	m = decode(t, sampleBody)
	m.EntryPoints = map[string]string{"pokemon_emerald": ""}
	assert.Contains(t, fieldPaths(t, m.Validate()), "entry_points.pokemon_emerald")

	m = decode(t, sampleBody)
	m.EntryPoints = map[string]string{"_Private": "mod.sub:Attr", "world2": "mod"}
	assert.Nil(t, m.Validate())
}

func TestValidateDistributionFields(t *testing.T) {
	m := decode(t, sampleBody)
	m.Distributions[0].SHA256 = "abc123"
	assert.Contains(t, fieldPaths(t, m.Validate()), "distributions[0].sha256")

	m = decode(t, sampleBody)
	m.Distributions[0].Size = -1
	assert.Contains(t, fieldPaths(t, m.Validate()), "distributions[0].size")

	m = decode(t, sampleBody)
	m.Distributions[0].PlatformTag = ""
	assert.Contains(t, fieldPaths(t, m.Validate()), "distributions[0].platform_tag")

	m = decode(t, sampleBody)
	m.Distributions[0].Filename = ""
	assert.Contains(t, fieldPaths(t, m.Validate()), "distributions[0].filename")
}

func TestValidateLowercasesHexFields(t *testing.T) {
	m := decode(t, sampleBody)
	m.Distributions[0].SHA256 = strings.ToUpper(m.Distributions[0].SHA256)
	m.SourceCommit = strings.Repeat("AB", 20)

	require.Nil(t, m.Validate())
	assert.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", m.Distributions[0].SHA256)
	assert.Equal(t, strings.Repeat("ab", 20), m.SourceCommit)
}

func TestValidateSourceCommit(t *testing.T) {
	m := decode(t, sampleBody)
	m.SourceCommit = strings.Repeat("a", 39)
	assert.Contains(t, fieldPaths(t, m.Validate()), "source_commit")

	m = decode(t, sampleBody)
	m.SourceCommit = strings.Repeat("a", 40)
	assert.Nil(t, m.Validate())
}

func TestValidateOptionalURLs(t *testing.T) {
	m := decode(t, sampleBody)
	m.Homepage = "not a url"
	assert.Contains(t, fieldPaths(t, m.Validate()), "homepage")

	m = decode(t, sampleBody)
	m.Repository = "example.com/no-scheme"
	assert.Contains(t, fieldPaths(t, m.Validate()), "repository")

	m = decode(t, sampleBody)
	m.Homepage = "https://example.com/pokemon"
	m.Repository = "https://github.com/alice/pokemon-emerald"
	assert.Nil(t, m.Validate())
}

func TestValidateDescriptionLength(t *testing.T) {
	m := decode(t, sampleBody)
	m.Description = strings.Repeat("x", 501)
	assert.Contains(t, fieldPaths(t, m.Validate()), "description")

	m.Description = strings.Repeat("x", 500)
	assert.Nil(t, m.Validate())
}

func TestValidateReportsEveryViolation(t *testing.T) {
	m := decode(t, sampleBody)
	m.Name = "Bad Name"
	m.Version = "1.0"
	m.Game = ""
	m.Distributions[0].SHA256 = "short"

	err := m.Validate()
	paths := fieldPaths(t, err)
	assert.GreaterOrEqual(t, len(paths), 4)
	assert.Contains(t, paths, "name")
	assert.Contains(t, paths, "version")
	assert.Contains(t, paths, "game")
	assert.Contains(t, paths, "distributions[0].sha256")
}
