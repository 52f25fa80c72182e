package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver
	_ "github.com/mattn/go-sqlite3"    // SQLite driver

	"github.com/ruteri/keyshare-backup/interfaces"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLStore implements interfaces.Store on top of SQLite or PostgreSQL.
type SQLStore struct {
	db      *sql.DB
	q       querier
	dialect dialect
	inTx    bool
	log     *slog.Logger
}

var _ interfaces.Store = (*SQLStore)(nil)

// NewSQLite opens (creating if needed) a SQLite database file and migrates it.
func NewSQLite(ctx context.Context, path string, log *slog.Logger) (*SQLStore, error) {
	dsn := path
	if !strings.Contains(dsn, "?") {
		dsn += "?_foreign_keys=on&_busy_timeout=5000"
	}

	db, err := sql.Open(sqliteDialect.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// SQLite serializes writers; a single connection also keeps :memory: databases shared.
	db.SetMaxOpenConns(1)

	return newSQLStore(ctx, db, sqliteDialect, log)
}

// NewPostgres connects to PostgreSQL and migrates the schema.
func NewPostgres(ctx context.Context, dsn string, log *slog.Logger) (*SQLStore, error) {
	db, err := sql.Open(postgresDialect.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)

	return newSQLStore(ctx, db, postgresDialect, log)
}

func newSQLStore(ctx context.Context, db *sql.DB, d dialect, log *slog.Logger) (*SQLStore, error) {
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	s := &SQLStore{db: db, q: db, dialect: d, log: log}
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}

	log.Debug("database ready", "dialect", d.name)
	return s, nil
}

func (s *SQLStore) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.q.ExecContext(ctx, s.dialect.rebind(query), args...)
}

func (s *SQLStore) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.q.QueryContext(ctx, s.dialect.rebind(query), args...)
}

func (s *SQLStore) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.q.QueryRowContext(ctx, s.dialect.rebind(query), args...)
}

// Atomic runs fn inside a transaction. Nested calls join the outer transaction.
func (s *SQLStore) Atomic(ctx context.Context, fn func(interfaces.Store) error) error {
	if s.inTx {
		return fn(s)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	txStore := &SQLStore{db: s.db, q: tx, dialect: s.dialect, inTx: true, log: s.log}
	if err := fn(txStore); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.log.Error("failed to roll back transaction", "err", rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Close closes the connection pool. Closing a transactional view is a no-op.
func (s *SQLStore) Close() error {
	if s.inTx {
		return nil
	}
	return s.db.Close()
}

func (s *SQLStore) UpsertContainer(ctx context.Context, c *interfaces.Container) error {
	const q = `INSERT INTO container (id, name, threshold, total, timestamp_ms, public_key) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET name = excluded.name, threshold = excluded.threshold,
		total = excluded.total, timestamp_ms = excluded.timestamp_ms, public_key = excluded.public_key`

	if c.ID == 0 {
		c.ID = interfaces.ActiveContainerID
	}
	if _, err := s.exec(ctx, q, c.ID, c.Name, c.Threshold, c.Total, c.Timestamp, c.PublicKey); err != nil {
		return fmt.Errorf("upsert container: %w", err)
	}
	return nil
}

func (s *SQLStore) FindContainer(ctx context.Context, id int64) (*interfaces.Container, error) {
	const q = `SELECT id, name, threshold, total, timestamp_ms, public_key FROM container WHERE id = ?`

	var c interfaces.Container
	err := s.queryRow(ctx, q, id).Scan(&c.ID, &c.Name, &c.Threshold, &c.Total, &c.Timestamp, &c.PublicKey)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, interfaces.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query container: %w", err)
	}
	return &c, nil
}

func (s *SQLStore) InsertKeyParts(ctx context.Context, kps []*interfaces.KeyPart) error {
	const q = `INSERT INTO key_part (key_part, owner, is_foreign, timestamp_ms, threshold, container_id)
		VALUES (?, ?, ?, ?, ?, ?) RETURNING id`

	for _, kp := range kps {
		err := s.queryRow(ctx, q, kp.Key, kp.Owner, boolToInt(kp.Foreign), kp.Timestamp, kp.Threshold, nullID(kp.ContainerID)).Scan(&kp.ID)
		if err != nil {
			return fmt.Errorf("insert key part: %w", err)
		}
	}
	return nil
}

const keyPartColumns = `id, key_part, owner, is_foreign, timestamp_ms, threshold, container_id`

func scanKeyPart(scan func(dest ...any) error) (*interfaces.KeyPart, error) {
	var (
		kp          interfaces.KeyPart
		foreign     int
		containerID sql.NullInt64
	)
	if err := scan(&kp.ID, &kp.Key, &kp.Owner, &foreign, &kp.Timestamp, &kp.Threshold, &containerID); err != nil {
		return nil, err
	}
	kp.Foreign = foreign != 0
	kp.ContainerID = containerID.Int64
	return &kp, nil
}

func (s *SQLStore) FindKeyPart(ctx context.Context, id int64) (*interfaces.KeyPart, error) {
	kp, err := scanKeyPart(s.queryRow(ctx, `SELECT `+keyPartColumns+` FROM key_part WHERE id = ?`, id).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, interfaces.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query key part: %w", err)
	}
	return kp, nil
}

func (s *SQLStore) FindKeyPartByContent(ctx context.Context, key []byte, timestamp int64, foreign bool) (*interfaces.KeyPart, error) {
	const q = `SELECT ` + keyPartColumns + ` FROM key_part WHERE key_part = ? AND timestamp_ms = ? AND is_foreign = ? ORDER BY id LIMIT 1`

	kp, err := scanKeyPart(s.queryRow(ctx, q, key, timestamp, boolToInt(foreign)).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, interfaces.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query key part: %w", err)
	}
	return kp, nil
}

func (s *SQLStore) DeleteKeyPart(ctx context.Context, id int64) error {
	res, err := s.exec(ctx, `DELETE FROM key_part WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete key part: %w", err)
	}
	return expectAffected(res)
}

func (s *SQLStore) ListKeyParts(ctx context.Context, filter interfaces.KeyPartFilter) ([]*interfaces.KeyPart, error) {
	var (
		conds []string
		args  []any
	)
	if filter.Foreign != nil {
		conds = append(conds, "is_foreign = ?")
		args = append(args, boolToInt(*filter.Foreign))
	}
	if filter.ContainerID != 0 {
		conds = append(conds, "container_id = ?")
		args = append(args, filter.ContainerID)
	}
	if filter.Unassigned {
		conds = append(conds, "id NOT IN (SELECT key_part_id FROM contact WHERE key_part_id IS NOT NULL)")
	}

	q := `SELECT ` + keyPartColumns + ` FROM key_part`
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	if filter.Foreign != nil && *filter.Foreign {
		q += " ORDER BY owner, id"
	} else {
		q += " ORDER BY id"
	}

	rows, err := s.query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query key parts: %w", err)
	}
	defer rows.Close()

	var result []*interfaces.KeyPart
	for rows.Next() {
		kp, err := scanKeyPart(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan key part: %w", err)
		}
		result = append(result, kp)
	}
	return result, rows.Err()
}

func (s *SQLStore) UpsertContact(ctx context.Context, c *interfaces.Contact) error {
	if c.ID == 0 {
		const q = `INSERT INTO contact (name, email, send_status, send_method, container_id, key_part_id, external_id, lookup_key)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`
		err := s.queryRow(ctx, q, c.Name, c.Email, int(c.SendStatus), int(c.SendMethod), c.ContainerID,
			nullID(c.KeyPartID), c.ExternalID, c.LookupKey).Scan(&c.ID)
		if err != nil {
			return fmt.Errorf("insert contact: %w", err)
		}
		return nil
	}

	const q = `UPDATE contact SET name = ?, email = ?, send_status = ?, send_method = ?, container_id = ?,
		key_part_id = ?, external_id = ?, lookup_key = ? WHERE id = ?`
	res, err := s.exec(ctx, q, c.Name, c.Email, int(c.SendStatus), int(c.SendMethod), c.ContainerID,
		nullID(c.KeyPartID), c.ExternalID, c.LookupKey, c.ID)
	if err != nil {
		return fmt.Errorf("update contact: %w", err)
	}
	return expectAffected(res)
}

func (s *SQLStore) DeleteContact(ctx context.Context, id int64) error {
	res, err := s.exec(ctx, `DELETE FROM contact WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete contact: %w", err)
	}
	return expectAffected(res)
}

const contactColumns = `id, name, email, send_status, send_method, container_id, key_part_id, external_id, lookup_key`

func scanContact(scan func(dest ...any) error) (*interfaces.Contact, error) {
	var (
		c         interfaces.Contact
		status    int
		method    int
		keyPartID sql.NullInt64
	)
	if err := scan(&c.ID, &c.Name, &c.Email, &status, &method, &c.ContainerID, &keyPartID, &c.ExternalID, &c.LookupKey); err != nil {
		return nil, err
	}
	c.SendStatus = interfaces.SendStatus(status)
	c.SendMethod = interfaces.SendMethod(method)
	c.KeyPartID = keyPartID.Int64
	return &c, nil
}

func (s *SQLStore) FindContact(ctx context.Context, id int64) (*interfaces.Contact, error) {
	c, err := scanContact(s.queryRow(ctx, `SELECT `+contactColumns+` FROM contact WHERE id = ?`, id).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, interfaces.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query contact: %w", err)
	}
	return c, nil
}

func (s *SQLStore) FindContactByKeyPart(ctx context.Context, keyPartID int64) (*interfaces.Contact, error) {
	c, err := scanContact(s.queryRow(ctx, `SELECT `+contactColumns+` FROM contact WHERE key_part_id = ? ORDER BY id LIMIT 1`, keyPartID).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, interfaces.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query contact: %w", err)
	}
	return c, nil
}

func (s *SQLStore) ListContacts(ctx context.Context, filter interfaces.ContactFilter) ([]*interfaces.Contact, error) {
	var (
		conds []string
		args  []any
	)
	if filter.ContainerID != 0 {
		conds = append(conds, "container_id = ?")
		args = append(args, filter.ContainerID)
	}
	if filter.Status != nil {
		conds = append(conds, "send_status = ?")
		args = append(args, int(*filter.Status))
	}

	q := `SELECT ` + contactColumns + ` FROM contact`
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	q += " ORDER BY id"

	rows, err := s.query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query contacts: %w", err)
	}
	defer rows.Close()

	var result []*interfaces.Contact
	for rows.Next() {
		c, err := scanContact(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan contact: %w", err)
		}
		result = append(result, c)
	}
	return result, rows.Err()
}

func (s *SQLStore) InsertBackup(ctx context.Context, b *interfaces.Backup) error {
	const q = `INSERT INTO backup (name, timestamp_ms, created_at_ms, public_key, data, store_method, locator)
		VALUES (?, ?, ?, ?, ?, ?, ?) RETURNING id`

	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now()
	}
	err := s.queryRow(ctx, q, b.Name, b.Timestamp, b.CreatedAt.UnixMilli(), b.PublicKey, nullText(b.Ciphertext),
		int(b.StoreMethod), b.Locator).Scan(&b.ID)
	if err != nil {
		return fmt.Errorf("insert backup: %w", err)
	}
	return nil
}

func (s *SQLStore) UpdateBackup(ctx context.Context, b *interfaces.Backup) error {
	const q = `UPDATE backup SET name = ?, timestamp_ms = ?, public_key = ?, data = ?, store_method = ?, locator = ? WHERE id = ?`

	res, err := s.exec(ctx, q, b.Name, b.Timestamp, b.PublicKey, nullText(b.Ciphertext), int(b.StoreMethod), b.Locator, b.ID)
	if err != nil {
		return fmt.Errorf("update backup: %w", err)
	}
	return expectAffected(res)
}

const backupColumns = `id, name, timestamp_ms, created_at_ms, public_key, data, store_method, locator`

func scanBackup(scan func(dest ...any) error) (*interfaces.Backup, error) {
	var (
		b         interfaces.Backup
		createdAt int64
		data      sql.NullString
		method    int
	)
	if err := scan(&b.ID, &b.Name, &b.Timestamp, &createdAt, &b.PublicKey, &data, &method, &b.Locator); err != nil {
		return nil, err
	}
	b.CreatedAt = time.UnixMilli(createdAt)
	b.Ciphertext = data.String
	b.StoreMethod = interfaces.StoreMethod(method)
	return &b, nil
}

func (s *SQLStore) FindBackup(ctx context.Context, id int64) (*interfaces.Backup, error) {
	b, err := scanBackup(s.queryRow(ctx, `SELECT `+backupColumns+` FROM backup WHERE id = ?`, id).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, interfaces.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query backup: %w", err)
	}
	return b, nil
}

func (s *SQLStore) ListBackups(ctx context.Context, filter interfaces.BackupFilter) ([]*interfaces.Backup, error) {
	q := `SELECT ` + backupColumns + ` FROM backup`
	if filter.WithCiphertext {
		q += " WHERE data IS NOT NULL"
	}
	q += " ORDER BY created_at_ms, id"

	rows, err := s.query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query backups: %w", err)
	}
	defer rows.Close()

	var result []*interfaces.Backup
	for rows.Next() {
		b, err := scanBackup(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan backup: %w", err)
		}
		result = append(result, b)
	}
	return result, rows.Err()
}

func (s *SQLStore) Preferences(ctx context.Context) (interfaces.Preferences, error) {
	var (
		p      interfaces.Preferences
		shared int
	)
	err := s.queryRow(ctx, `SELECT user_name, key_shared FROM preferences WHERE id = 1`).Scan(&p.UserName, &shared)
	if errors.Is(err, sql.ErrNoRows) {
		return interfaces.Preferences{}, nil
	}
	if err != nil {
		return interfaces.Preferences{}, fmt.Errorf("query preferences: %w", err)
	}
	p.KeyShared = shared != 0
	return p, nil
}

func (s *SQLStore) SavePreferences(ctx context.Context, p interfaces.Preferences) error {
	const q = `INSERT INTO preferences (id, user_name, key_shared) VALUES (1, ?, ?)
		ON CONFLICT (id) DO UPDATE SET user_name = excluded.user_name, key_shared = excluded.key_shared`

	if _, err := s.exec(ctx, q, p.UserName, boolToInt(p.KeyShared)); err != nil {
		return fmt.Errorf("save preferences: %w", err)
	}
	return nil
}

func expectAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return interfaces.ErrNotFound
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullID(id int64) any {
	if id <= 0 {
		return nil
	}
	return id
}

func nullText(s string) any {
	if s == "" {
		return nil
	}
	return s
}
