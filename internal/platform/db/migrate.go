package db

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// Migration is a single SQL file from the migrations directory.
type Migration struct {
	Version int
	Name    string
	SQL     string
}

// MigrationStatus reports whether a migration has been applied.
type MigrationStatus struct {
	Version   int
	Name      string
	Applied   bool
	AppliedAt *time.Time
}

type Migrator struct {
	pool   *pgxpool.Pool
	dir    string
	logger zerolog.Logger
}

func NewMigrator(pool *pgxpool.Pool, migrationsDir string, logger zerolog.Logger) *Migrator {
	return &Migrator{
		pool:   pool,
		dir:    migrationsDir,
		logger: logger.With().Str("component", "migrator").Logger(),
	}
}

const migrationsTable = `CREATE TABLE IF NOT EXISTS schema_migrations (
    version INTEGER PRIMARY KEY,
    name VARCHAR(255) NOT NULL,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

func (m *Migrator) ensureTable(ctx context.Context) error {
	if _, err := m.pool.Exec(ctx, migrationsTable); err != nil {
		return fmt.Errorf("create schema_migrations table: %w", err)
	}
	return nil
}

// LoadMigrations reads NNN_name.sql files from the migrations directory
// sorted by version. Files without a numeric prefix are skipped.
func (m *Migrator) LoadMigrations() ([]Migration, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations directory %s: %w", m.dir, err)
	}

	var migrations []Migration
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".sql") {
			continue
		}

		prefix, _, ok := strings.Cut(name, "_")
		if !ok {
			continue
		}
		version, err := strconv.Atoi(prefix)
		if err != nil {
			continue
		}

		content, err := os.ReadFile(filepath.Join(m.dir, name))
		if err != nil {
			return nil, fmt.Errorf("read migration file %s: %w", name, err)
		}
		migrations = append(migrations, Migration{Version: version, Name: name, SQL: string(content)})
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})
	return migrations, nil
}

func (m *Migrator) applied(ctx context.Context) (map[int]time.Time, error) {
	rows, err := m.pool.Query(ctx, `SELECT version, applied_at FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("query applied migrations: %w", err)
	}
	defer rows.Close()

	out := make(map[int]time.Time)
	for rows.Next() {
		var v int
		var at time.Time
		if err := rows.Scan(&v, &at); err != nil {
			return nil, fmt.Errorf("scan migration version: %w", err)
		}
		out[v] = at
	}
	return out, rows.Err()
}

// Up applies all pending migrations in version order, each in its own
// transaction, and returns how many were applied.
func (m *Migrator) Up(ctx context.Context) (int, error) {
	if err := m.ensureTable(ctx); err != nil {
		return 0, err
	}
	migrations, err := m.LoadMigrations()
	if err != nil {
		return 0, err
	}
	done, err := m.applied(ctx)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, mig := range migrations {
		if _, ok := done[mig.Version]; ok {
			continue
		}
		if err := m.apply(ctx, mig); err != nil {
			return count, fmt.Errorf("apply migration %d (%s): %w", mig.Version, mig.Name, err)
		}
		m.logger.Info().Int("version", mig.Version).Str("name", mig.Name).Msg("migration applied")
		count++
	}
	return count, nil
}

func (m *Migrator) apply(ctx context.Context, mig Migration) error {
	tx, err := m.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, mig.SQL); err != nil {
		return fmt.Errorf("execute SQL: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO schema_migrations (version, name) VALUES ($1, $2)`,
		mig.Version, mig.Name,
	); err != nil {
		return fmt.Errorf("record migration: %w", err)
	}
	return tx.Commit(ctx)
}

// Status lists every known migration with its applied state.
func (m *Migrator) Status(ctx context.Context) ([]MigrationStatus, error) {
	if err := m.ensureTable(ctx); err != nil {
		return nil, err
	}
	migrations, err := m.LoadMigrations()
	if err != nil {
		return nil, err
	}
	done, err := m.applied(ctx)
	if err != nil {
		return nil, err
	}

	statuses := make([]MigrationStatus, 0, len(migrations))
	for _, mig := range migrations {
		st := MigrationStatus{Version: mig.Version, Name: mig.Name}
		if at, ok := done[mig.Version]; ok {
			st.Applied = true
			st.AppliedAt = &at
		}
		statuses = append(statuses, st)
	}
	return statuses, nil
}
