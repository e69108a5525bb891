package migrate

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func migratorOver(files map[string]string) *Migrator {
	fsys := fstest.MapFS{}
	for name, content := range files {
		fsys["migrations/"+name] = &fstest.MapFile{Data: []byte(content)}
	}
	return &Migrator{fsys: fsys, dir: "migrations"}
}

func TestLoadSortsByVersion(t *testing.T) {
	m := migratorOver(map[string]string{
		"002_second.sql": "-- +migrate Up\nALTER TABLE t ADD COLUMN b INT;\n",
		"010_tenth.sql":  "-- +migrate Up\nALTER TABLE t ADD COLUMN c INT;\n",
		"001_first.sql":  "-- +migrate Up\nCREATE TABLE t (a INT);\n-- +migrate Down\nDROP TABLE t;\n",
	})

	migrations, err := m.load()
	require.NoError(t, err)
	require.Len(t, migrations, 3)

	assert.Equal(t, []int{1, 2, 10}, []int{migrations[0].Version, migrations[1].Version, migrations[2].Version})
	assert.Equal(t, "first", migrations[0].Name)
	assert.Equal(t, "tenth", migrations[2].Name)
}

func TestLoadRejectsDuplicateVersions(t *testing.T) {
	m := migratorOver(map[string]string{
		"001_first.sql":  "-- +migrate Up\nSELECT 1;\n",
		"001_second.sql": "-- +migrate Up\nSELECT 2;\n",
	})

	_, err := m.load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "both claim version 1")
}

func TestLoadSkipsNonSQLFiles(t *testing.T) {
	m := migratorOver(map[string]string{
		"001_first.sql": "-- +migrate Up\nSELECT 1;\n",
		"README.md":     "not a migration",
	})

	migrations, err := m.load()
	require.NoError(t, err)
	assert.Len(t, migrations, 1)
}

func TestParseFileSplitsSections(t *testing.T) {
	m := migratorOver(map[string]string{
		"003_widgets.sql": "-- widgets need a home\n-- +migrate Up\nCREATE TABLE widgets (id INT);\n-- +migrate Down\nDROP TABLE widgets;\n",
	})

	mig, err := m.parseFile("003_widgets.sql")
	require.NoError(t, err)

	assert.Equal(t, 3, mig.Version)
	assert.Equal(t, "widgets", mig.Name)
	assert.Contains(t, mig.Up, "CREATE TABLE widgets")
	// Commentary before the first marker rides along with the up section.
	assert.Contains(t, mig.Up, "widgets need a home")
	assert.Contains(t, mig.Down, "DROP TABLE widgets")
	assert.NotContains(t, mig.Up, "DROP TABLE")
}

func TestParseFileRejectsBadNames(t *testing.T) {
	m := migratorOver(map[string]string{
		"nounderscore.sql": "-- +migrate Up\nSELECT 1;\n",
		"abc_letters.sql":  "-- +migrate Up\nSELECT 1;\n",
		"004_empty.sql":    "-- +migrate Down\nDROP TABLE t;\n",
	})

	_, err := m.parseFile("nounderscore.sql")
	assert.Error(t, err)

	_, err = m.parseFile("abc_letters.sql")
	assert.Error(t, err)

	_, err = m.parseFile("004_empty.sql")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no up section")
}
