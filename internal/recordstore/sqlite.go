package recordstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/jmerrifield20/civicstreak/internal/streak"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS streak_records (
	address    BLOB PRIMARY KEY,
	namespace  TEXT NOT NULL,
	owner      BLOB NOT NULL,
	data       BLOB NOT NULL,
	version    INTEGER NOT NULL DEFAULT 1,
	created_at INTEGER NOT NULL DEFAULT (unixepoch()),
	updated_at INTEGER NOT NULL DEFAULT (unixepoch())
);
CREATE INDEX IF NOT EXISTS streak_records_namespace_idx ON streak_records (namespace);
`

// SQLiteStore persists records in a local SQLite database.
type SQLiteStore struct {
	db     *sql.DB
	ns     streak.Namespace
	logger *zap.Logger
}

// OpenSQLite opens the database at path, creating the schema when missing.
func OpenSQLite(path string, ns streak.Namespace, logger *zap.Logger) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	// modernc only honours connection settings given as _pragma parameters;
	// they are applied to every pooled connection.
	dsn := filepath.Clean(path) + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create sqlite schema: %w", err)
	}
	return &SQLiteStore{db: db, ns: ns, logger: logger}, nil
}

// Namespace implements Backend.
func (s *SQLiteStore) Namespace() streak.Namespace { return s.ns }

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, owner streak.Identity) (*streak.Record, error) {
	addr := streak.DeriveAddress(s.ns, owner)
	var data []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT data FROM streak_records WHERE address = ?", addr[:],
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, streak.ErrNotFound
	}
	if err != nil {
		return nil, unavailable("get record", err)
	}
	rec, err := streak.Decode(data)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Create implements Store.
func (s *SQLiteStore) Create(ctx context.Context, owner streak.Identity, rec streak.Record) error {
	if err := checkWrite(owner, rec); err != nil {
		return err
	}
	addr := streak.DeriveAddress(s.ns, owner)
	res, err := s.db.ExecContext(ctx, `
INSERT INTO streak_records (address, namespace, owner, data)
VALUES (?, ?, ?, ?)
ON CONFLICT (address) DO NOTHING
`, addr[:], string(s.ns), owner[:], streak.Encode(rec))
	if err != nil {
		return unavailable("create record", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return unavailable("create record", err)
	}
	if n == 0 {
		return streak.ErrAlreadyExists
	}
	return nil
}

// Put implements Store.
func (s *SQLiteStore) Put(ctx context.Context, owner streak.Identity, expected, next streak.Record) error {
	if err := checkWrite(owner, next); err != nil {
		return err
	}
	addr := streak.DeriveAddress(s.ns, owner)
	res, err := s.db.ExecContext(ctx, `
UPDATE streak_records
SET data = ?, version = version + 1, updated_at = unixepoch()
WHERE address = ? AND data = ?
`, streak.Encode(next), addr[:], streak.Encode(expected))
	if err != nil {
		return unavailable("put record", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return unavailable("put record", err)
	}
	if n == 1 {
		return nil
	}

	var exists bool
	if err := s.db.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM streak_records WHERE address = ?)", addr[:],
	).Scan(&exists); err != nil {
		return unavailable("check record", err)
	}
	if !exists {
		return streak.ErrNotFound
	}
	return ErrConflict
}

// Scan implements Scanner.
func (s *SQLiteStore) Scan(ctx context.Context, fn func(streak.Address, streak.Record) error) error {
	rows, err := s.db.QueryContext(ctx,
		"SELECT address, data FROM streak_records WHERE namespace = ? ORDER BY address",
		string(s.ns),
	)
	if err != nil {
		return unavailable("scan records", err)
	}

	type row struct {
		addr streak.Address
		rec  streak.Record
	}
	var out []row
	for rows.Next() {
		var rawAddr, data []byte
		if err := rows.Scan(&rawAddr, &data); err != nil {
			_ = rows.Close()
			return unavailable("scan record row", err)
		}
		rec, err := streak.Decode(data)
		if err != nil {
			_ = rows.Close()
			return err
		}
		var r row
		copy(r.addr[:], rawAddr)
		r.rec = rec
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return unavailable("scan records", err)
	}
	_ = rows.Close()

	for _, r := range out {
		if err := fn(r.addr, r.rec); err != nil {
			return err
		}
	}
	return nil
}

// Count implements Scanner.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM streak_records WHERE namespace = ?", string(s.ns),
	).Scan(&n); err != nil {
		return 0, unavailable("count records", err)
	}
	return n, nil
}

// Close implements Backend.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
