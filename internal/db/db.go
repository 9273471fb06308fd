package db

import (
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

type pragma struct {
	stmt     string
	optional bool
}

// WAL is unavailable on some filesystems; the store still works without it.
var pragmas = []pragma{
	{stmt: "PRAGMA foreign_keys=ON;"},
	{stmt: "PRAGMA busy_timeout=5000;"},
	{stmt: "PRAGMA journal_mode=WAL;", optional: true},
	{stmt: "PRAGMA synchronous=NORMAL;", optional: true},
}

// Open opens the analysis database at path, creating its directory, and
// brings the schema up to date.
func Open(path string) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db %s: %w", path, err)
	}
	// One writer at a time: sessions are saved in multi-statement transactions.
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)

	for _, p := range pragmas {
		if _, err := conn.Exec(p.stmt); err != nil {
			if p.optional {
				log.Warn().Err(err).Str("pragma", p.stmt).Msg("sqlite: pragma not applied")
				continue
			}
			_ = conn.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", p.stmt, err)
		}
	}

	version, err := migrate(conn)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	log.Debug().Str("path", path).Int64("schema_version", version).Msg("analysis db ready")
	return conn, nil
}

func migrate(conn *sql.DB) (int64, error) {
	goose.SetBaseFS(migrationsFS)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("sqlite3"); err != nil {
		return 0, fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.Up(conn, "migrations"); err != nil {
		return 0, fmt.Errorf("apply migrations: %w", err)
	}
	version, err := goose.GetDBVersion(conn)
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return version, nil
}
