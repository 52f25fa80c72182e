package database

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

type dialect struct {
	name   string
	driver string

	serialPK string
	blob     string
	bigint   string

	// numbered placeholders ($1, $2, ...) instead of ?
	numbered bool
}

var (
	sqliteDialect = dialect{
		name:     "sqlite",
		driver:   "sqlite3",
		serialPK: "INTEGER PRIMARY KEY AUTOINCREMENT",
		blob:     "BLOB",
		bigint:   "INTEGER",
	}

	postgresDialect = dialect{
		name:     "postgres",
		driver:   "pgx",
		serialPK: "BIGSERIAL PRIMARY KEY",
		blob:     "BYTEA",
		bigint:   "BIGINT",
		numbered: true,
	}
)

// rebind rewrites ? placeholders for dialects with numbered parameters.
func (d dialect) rebind(query string) string {
	if !d.numbered {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (d dialect) migrations() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS container (
			id ` + d.bigint + ` PRIMARY KEY,
			name TEXT NOT NULL,
			threshold INTEGER NOT NULL,
			total INTEGER NOT NULL,
			timestamp_ms ` + d.bigint + ` NOT NULL,
			public_key ` + d.blob + `
		)`,
		`CREATE TABLE IF NOT EXISTS key_part (
			id ` + d.serialPK + `,
			key_part ` + d.blob + ` NOT NULL,
			owner TEXT NOT NULL DEFAULT '',
			is_foreign INTEGER NOT NULL,
			timestamp_ms ` + d.bigint + ` NOT NULL,
			threshold INTEGER NOT NULL DEFAULT 0,
			container_id ` + d.bigint + ` REFERENCES container(id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_key_part_foreign ON key_part (is_foreign, owner)`,
		`CREATE TABLE IF NOT EXISTS contact (
			id ` + d.serialPK + `,
			name TEXT NOT NULL,
			email TEXT NOT NULL DEFAULT '',
			send_status INTEGER NOT NULL,
			send_method INTEGER NOT NULL,
			container_id ` + d.bigint + ` NOT NULL,
			key_part_id ` + d.bigint + ` REFERENCES key_part(id),
			external_id ` + d.bigint + ` NOT NULL DEFAULT 0,
			lookup_key TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_contact_key_part ON contact (key_part_id)`,
		`CREATE TABLE IF NOT EXISTS backup (
			id ` + d.serialPK + `,
			name TEXT NOT NULL,
			timestamp_ms ` + d.bigint + ` NOT NULL,
			created_at_ms ` + d.bigint + ` NOT NULL,
			public_key ` + d.blob + `,
			data TEXT,
			store_method INTEGER NOT NULL,
			locator TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS preferences (
			id INTEGER PRIMARY KEY,
			user_name TEXT NOT NULL DEFAULT '',
			key_shared INTEGER NOT NULL DEFAULT 0
		)`,
	}
}

// Migrate creates all tables and indexes. Every statement is idempotent.
func (s *SQLStore) Migrate(ctx context.Context) error {
	for i, stmt := range s.dialect.migrations() {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d failed: %w", i, err)
		}
	}
	return nil
}
