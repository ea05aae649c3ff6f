package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/keepon/remindd/internal/config"
	"github.com/keepon/remindd/internal/db"
	"github.com/keepon/remindd/internal/observ"
)

// migrationLock is the pg_advisory_lock key held while migrating.
const migrationLock int64 = 0x72656d696e6464

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	defaultDir := os.Getenv("MIGRATIONS_DIR")
	if defaultDir == "" {
		defaultDir = "migrations"
	}
	dir := flag.String("dir", defaultDir, "directory of *.up.sql files")
	status := flag.Bool("status", false, "list pending migrations without applying them")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel, observ.FileConfig{})
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	migrations, err := loadMigrations(*dir)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	poolCfg, err := pgxpool.ParseConfig(db.Config{
		URL:      cfg.DBURL,
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		Database: cfg.DBName,
		SSLMode:  cfg.DBSSLMode,
	}.DSN())
	if err != nil {
		return fmt.Errorf("parse database config: %w", err)
	}
	// Migration files hold several statements each.
	poolCfg.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol
	poolCfg.ConnConfig.RuntimeParams["application_name"] = "remindd-migrator"
	poolCfg.MaxConns = 1

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer pool.Close()

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "SELECT pg_advisory_lock($1)", migrationLock); err != nil {
		return fmt.Errorf("take migration lock: %w", err)
	}
	defer func() {
		if _, err := conn.Exec(context.Background(), "SELECT pg_advisory_unlock($1)", migrationLock); err != nil {
			logger.Warn("failed to release migration lock", zap.Error(err))
		}
	}()

	if err := ensureSchemaTable(ctx, conn.Conn()); err != nil {
		return fmt.Errorf("ensure schema_migrations: %w", err)
	}

	applied, err := appliedChecksums(ctx, conn.Conn())
	if err != nil {
		return fmt.Errorf("read schema_migrations: %w", err)
	}

	pending, err := plan(migrations, applied)
	if err != nil {
		return err
	}

	if *status {
		for _, m := range pending {
			logger.Info("pending migration", zap.String("name", m.Name), zap.String("checksum", m.Checksum[:12]))
		}
		logger.Info("migration status", zap.Int("applied", len(migrations)-len(pending)), zap.Int("pending", len(pending)))
		return nil
	}

	for _, m := range pending {
		start := time.Now()
		if err := applyOne(ctx, conn.Conn(), m); err != nil {
			return err
		}
		logger.Info("applied migration",
			zap.String("name", m.Name),
			zap.Duration("took", time.Since(start).Round(time.Millisecond)),
		)
	}

	logger.Info("migrations complete",
		zap.Int("applied", len(pending)),
		zap.Int("skipped", len(migrations)-len(pending)),
	)
	return nil
}

type migration struct {
	Name     string
	SQL      string
	Checksum string
}

// loadMigrations reads the *.up.sql files in dir in lexical order.
func loadMigrations(dir string) ([]migration, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations dir %s: %w", dir, err)
	}

	var out []migration
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".up.sql") {
			continue
		}
		body, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", entry.Name(), err)
		}
		sum := sha256.Sum256(body)
		out = append(out, migration{Name: entry.Name(), SQL: string(body), Checksum: hex.EncodeToString(sum[:])})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

var errChecksumMismatch = errors.New("applied migration was modified")

// plan returns the migrations not yet applied. A recorded checksum that no
// longer matches its file stops everything; rows from before checksums were
// recorded have an empty checksum and are trusted.
func plan(migrations []migration, applied map[string]string) ([]migration, error) {
	var pending []migration
	for _, m := range migrations {
		sum, ok := applied[m.Name]
		if !ok {
			pending = append(pending, m)
			continue
		}
		if sum != "" && sum != m.Checksum {
			return nil, fmt.Errorf("%w: %s", errChecksumMismatch, m.Name)
		}
	}
	return pending, nil
}

func ensureSchemaTable(ctx context.Context, conn *pgx.Conn) error {
	_, err := conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			name       TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		ALTER TABLE schema_migrations ADD COLUMN IF NOT EXISTS checksum TEXT NOT NULL DEFAULT '';
	`)
	return err
}

func appliedChecksums(ctx context.Context, conn *pgx.Conn) (map[string]string, error) {
	rows, err := conn.Query(ctx, "SELECT name, checksum FROM schema_migrations")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var name, sum string
		if err := rows.Scan(&name, &sum); err != nil {
			return nil, err
		}
		out[name] = sum
	}
	return out, rows.Err()
}

// applyOne runs a migration and records it in one transaction.
func applyOne(ctx context.Context, conn *pgx.Conn, m migration) error {
	tx, err := conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin %s: %w", m.Name, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, m.SQL); err != nil {
		return fmt.Errorf("execute %s: %w", m.Name, err)
	}
	if _, err := tx.Exec(ctx,
		"INSERT INTO schema_migrations (name, checksum) VALUES ($1, $2)",
		m.Name, m.Checksum,
	); err != nil {
		return fmt.Errorf("record %s: %w", m.Name, err)
	}
	return tx.Commit(ctx)
}
