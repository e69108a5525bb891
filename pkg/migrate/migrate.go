// Package migrate applies versioned SQL migrations to the registry's
// PostgreSQL schema. Files are embedded in the migrate binary, named
// NNN_description.sql, and split into sections by "-- +migrate Up" and
// "-- +migrate Down" marker lines. Applied versions are recorded in a
// schema_migrations ledger so reruns are no-ops.
package migrate

import (
	"database/sql"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strconv"
	"strings"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog"

	"github.com/atoll-registry/atoll/pkg/config"
)

const (
	upMarker   = "-- +migrate Up"
	downMarker = "-- +migrate Down"
)

// Migration is one schema change, parsed from an embedded SQL file.
type Migration struct {
	Version int
	Name    string
	Up      string
	Down    string
}

// Status reports whether one migration has been applied.
type Status struct {
	Version int
	Name    string
	Applied bool
}

// Migrator runs migrations against one database.
type Migrator struct {
	db     *sql.DB
	fsys   fs.FS
	dir    string
	logger zerolog.Logger
}

// New connects to the configured database and prepares a runner over the
// migration files under dir in fsys.
func New(cfg *config.DatabaseConfig, fsys fs.FS, dir string, logger zerolog.Logger) (*Migrator, error) {
	db, err := sql.Open("postgres", cfg.DatabaseURL())
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return &Migrator{
		db:     db,
		fsys:   fsys,
		dir:    dir,
		logger: logger.With().Str("component", "migrate").Logger(),
	}, nil
}

// Close releases the database connection.
func (m *Migrator) Close() error {
	return m.db.Close()
}

// Up applies every pending migration in version order and returns how many
// ran. Each migration commits in its own transaction together with its
// ledger row, so a failure leaves earlier migrations applied and the
// failing one fully rolled back.
func (m *Migrator) Up() (int, error) {
	if err := m.ensureLedger(); err != nil {
		return 0, err
	}

	applied, err := m.appliedVersions()
	if err != nil {
		return 0, err
	}
	migrations, err := m.load()
	if err != nil {
		return 0, err
	}

	var ran int
	for _, mig := range migrations {
		if applied[mig.Version] {
			continue
		}
		if err := m.apply(mig); err != nil {
			return ran, fmt.Errorf("migration %03d (%s): %w", mig.Version, mig.Name, err)
		}
		m.logger.Info().Int("version", mig.Version).Str("name", mig.Name).Msg("applied migration")
		ran++
	}
	return ran, nil
}

// Down rolls back the most recently applied migration. A migration with an
// empty down section refuses to roll back rather than silently dropping
// its ledger row.
func (m *Migrator) Down() error {
	if err := m.ensureLedger(); err != nil {
		return err
	}

	var version int
	err := m.db.QueryRow("SELECT version FROM schema_migrations ORDER BY version DESC LIMIT 1").Scan(&version)
	if err == sql.ErrNoRows {
		m.logger.Info().Msg("nothing to roll back")
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading ledger: %w", err)
	}

	migrations, err := m.load()
	if err != nil {
		return err
	}

	var target *Migration
	for i := range migrations {
		if migrations[i].Version == version {
			target = &migrations[i]
			break
		}
	}
	if target == nil {
		return fmt.Errorf("version %d is applied but no migration file defines it", version)
	}
	if strings.TrimSpace(target.Down) == "" {
		return fmt.Errorf("migration %03d (%s) has no down section", target.Version, target.Name)
	}

	if err := m.revert(*target); err != nil {
		return fmt.Errorf("rolling back %03d (%s): %w", target.Version, target.Name, err)
	}
	m.logger.Info().Int("version", target.Version).Str("name", target.Name).Msg("rolled back migration")
	return nil
}

// Statuses lists every known migration and whether it has been applied.
func (m *Migrator) Statuses() ([]Status, error) {
	if err := m.ensureLedger(); err != nil {
		return nil, err
	}

	applied, err := m.appliedVersions()
	if err != nil {
		return nil, err
	}
	migrations, err := m.load()
	if err != nil {
		return nil, err
	}

	statuses := make([]Status, 0, len(migrations))
	for _, mig := range migrations {
		statuses = append(statuses, Status{
			Version: mig.Version,
			Name:    mig.Name,
			Applied: applied[mig.Version],
		})
	}
	return statuses, nil
}

func (m *Migrator) ensureLedger() error {
	_, err := m.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`)
	if err != nil {
		return fmt.Errorf("creating ledger table: %w", err)
	}
	return nil
}

func (m *Migrator) appliedVersions() (map[int]bool, error) {
	rows, err := m.db.Query("SELECT version FROM schema_migrations")
	if err != nil {
		return nil, fmt.Errorf("reading ledger: %w", err)
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("scanning ledger row: %w", err)
		}
		applied[version] = true
	}
	return applied, rows.Err()
}

// load parses every .sql file under the migrations directory, sorted by
// version. Two files claiming the same version is a packaging mistake and
// fails loudly.
func (m *Migrator) load() ([]Migration, error) {
	entries, err := fs.ReadDir(m.fsys, m.dir)
	if err != nil {
		return nil, fmt.Errorf("reading migrations directory: %w", err)
	}

	seen := make(map[int]string)
	var migrations []Migration
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		mig, err := m.parseFile(entry.Name())
		if err != nil {
			return nil, err
		}
		if prior, ok := seen[mig.Version]; ok {
			return nil, fmt.Errorf("migrations %s and %s both claim version %d", prior, entry.Name(), mig.Version)
		}
		seen[mig.Version] = entry.Name()
		migrations = append(migrations, mig)
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})
	return migrations, nil
}

func (m *Migrator) parseFile(filename string) (Migration, error) {
	prefix, name, found := strings.Cut(strings.TrimSuffix(filename, ".sql"), "_")
	if !found {
		return Migration{}, fmt.Errorf("migration %s is not named NNN_description.sql", filename)
	}
	version, err := strconv.Atoi(prefix)
	if err != nil {
		return Migration{}, fmt.Errorf("migration %s has a non-numeric version prefix", filename)
	}

	content, err := fs.ReadFile(m.fsys, path.Join(m.dir, filename))
	if err != nil {
		return Migration{}, fmt.Errorf("reading %s: %w", filename, err)
	}

	up, down := splitSections(string(content))
	if strings.TrimSpace(up) == "" {
		return Migration{}, fmt.Errorf("migration %s has no up section", filename)
	}

	return Migration{Version: version, Name: name, Up: up, Down: down}, nil
}

func splitSections(content string) (up, down string) {
	var upLines, downLines []string
	var inDown bool
	for _, line := range strings.Split(content, "\n") {
		switch strings.TrimSpace(line) {
		case upMarker:
			inDown = false
		case downMarker:
			inDown = true
		default:
			if inDown {
				downLines = append(downLines, line)
			} else {
				upLines = append(upLines, line)
			}
		}
	}
	return strings.Join(upLines, "\n"), strings.Join(downLines, "\n")
}

func (m *Migrator) apply(mig Migration) error {
	tx, err := m.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(mig.Up); err != nil {
		return fmt.Errorf("executing up SQL: %w", err)
	}
	if _, err := tx.Exec("INSERT INTO schema_migrations (version, name) VALUES ($1, $2)", mig.Version, mig.Name); err != nil {
		return fmt.Errorf("recording migration: %w", err)
	}
	return tx.Commit()
}

func (m *Migrator) revert(mig Migration) error {
	tx, err := m.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(mig.Down); err != nil {
		return fmt.Errorf("executing down SQL: %w", err)
	}
	if _, err := tx.Exec("DELETE FROM schema_migrations WHERE version = $1", mig.Version); err != nil {
		return fmt.Errorf("clearing ledger row: %w", err)
	}
	return tx.Commit()
}
