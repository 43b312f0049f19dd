package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	_ "github.com/tursodatabase/go-libsql"
)

// LibSQLConfig holds configuration for embedded libsql connections.
type LibSQLConfig struct {
	DatabasePath string // path to .db file, or a full "file:" / "libsql:" DSN
}

// ConnectToDB opens an embedded libsql database at path.
func ConnectToDB(ctx context.Context, path string, logger zerolog.Logger) (*sql.DB, error) {
	return ConnectToDBWithConfig(ctx, &LibSQLConfig{DatabasePath: path}, logger)
}

// ConnectToDBWithConfig opens and verifies the database described by cfg.
func ConnectToDBWithConfig(ctx context.Context, cfg *LibSQLConfig, logger zerolog.Logger) (*sql.DB, error) {
	dsn := cfg.DatabasePath
	if !strings.Contains(dsn, ":") {
		dir := filepath.Dir(dsn)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("could not create database directory %s: %w", dir, err)
		}
		if _, err := os.Stat(dsn); os.IsNotExist(err) {
			logger.Info().Str("path", dsn).Msg("database not found, creating a new one")
		}
		dsn = fmt.Sprintf("file:%s?_foreign_keys=1&_journal_mode=WAL&_synchronous=NORMAL", cfg.DatabasePath)
	}

	logger.Debug().Str("dsn", dsn).Msg("connecting to libsql")
	db, err := sql.Open("libsql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open libsql connection: %w", err)
	}

	var one int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil || one != 1 {
		db.Close()
		if err == nil {
			err = fmt.Errorf("unexpected result %d", one)
		}
		return nil, fmt.Errorf("connectivity check failed: %w", err)
	}
	return db, nil
}
