// Package database provides the relational persistence layer.
//
// SQLStore keeps containers, key parts, contacts, backups and user preferences
// in SQLite (github.com/mattn/go-sqlite3) or PostgreSQL (github.com/jackc/pgx/v5).
// MemoryStore keeps the same data in process memory.
//
// Private keys and backup plaintexts are never written by either store.
package database

import (
	"context"
	"log/slog"
	"strings"

	"github.com/ruteri/keyshare-backup/interfaces"
)

// Open selects a store by DSN:
//
//	memory                       in-process store, lost on exit
//	postgres://... postgresql:// PostgreSQL
//	sqlite://path, path          SQLite database file
func Open(ctx context.Context, dsn string, log *slog.Logger) (interfaces.Store, error) {
	switch {
	case dsn == "" || dsn == "memory":
		return NewMemoryStore(), nil
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return NewPostgres(ctx, dsn, log)
	default:
		return NewSQLite(ctx, strings.TrimPrefix(dsn, "sqlite://"), log)
	}
}
