package recordstore

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/jmerrifield20/civicstreak/internal/streak"
)

// PostgresStore persists records in the streak_records table created by
// migrations/001_streak_records.up.sql.
type PostgresStore struct {
	pool   *pgxpool.Pool
	ns     streak.Namespace
	logger *zap.Logger
	owned  bool
}

// NewPostgresStore creates a PostgresStore bound to ns.
func NewPostgresStore(pool *pgxpool.Pool, ns streak.Namespace, logger *zap.Logger) *PostgresStore {
	return &PostgresStore{pool: pool, ns: ns, logger: logger}
}

// Namespace implements Backend.
func (s *PostgresStore) Namespace() streak.Namespace { return s.ns }

// Get implements Store.
func (s *PostgresStore) Get(ctx context.Context, owner streak.Identity) (*streak.Record, error) {
	addr := streak.DeriveAddress(s.ns, owner)
	var data []byte
	err := s.pool.QueryRow(ctx,
		"SELECT data FROM streak_records WHERE address = $1", addr[:],
	).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
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
func (s *PostgresStore) Create(ctx context.Context, owner streak.Identity, rec streak.Record) error {
	if err := checkWrite(owner, rec); err != nil {
		return err
	}
	addr := streak.DeriveAddress(s.ns, owner)
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO streak_records (address, namespace, owner, data)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (address) DO NOTHING`,
		addr[:], string(s.ns), owner[:], streak.Encode(rec),
	)
	if err != nil {
		return unavailable("create record", err)
	}
	if tag.RowsAffected() == 0 {
		return streak.ErrAlreadyExists
	}
	s.logger.Debug("streak record created",
		zap.String("owner", owner.String()),
		zap.String("address", addr.String()),
	)
	return nil
}

// Put implements Store. The conditional UPDATE compares the stored bytes with
// the encoding of expected; when no row matches, a follow-up existence check
// separates a missing record from a concurrent modification.
func (s *PostgresStore) Put(ctx context.Context, owner streak.Identity, expected, next streak.Record) error {
	if err := checkWrite(owner, next); err != nil {
		return err
	}
	addr := streak.DeriveAddress(s.ns, owner)
	tag, err := s.pool.Exec(ctx,
		`UPDATE streak_records
		 SET data = $3, version = version + 1, updated_at = now()
		 WHERE address = $1 AND data = $2`,
		addr[:], streak.Encode(expected), streak.Encode(next),
	)
	if err != nil {
		return unavailable("put record", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := s.pool.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM streak_records WHERE address = $1)", addr[:],
	).Scan(&exists); err != nil {
		return unavailable("check record", err)
	}
	if !exists {
		return streak.ErrNotFound
	}
	return ErrConflict
}

// Scan implements Scanner. Rows are read in address order and buffered before
// fn runs so fn may write through the same pool.
func (s *PostgresStore) Scan(ctx context.Context, fn func(streak.Address, streak.Record) error) error {
	rows, err := s.pool.Query(ctx,
		"SELECT address, data FROM streak_records WHERE namespace = $1 ORDER BY address",
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
			rows.Close()
			return unavailable("scan record row", err)
		}
		rec, err := streak.Decode(data)
		if err != nil {
			rows.Close()
			return err
		}
		var r row
		copy(r.addr[:], rawAddr)
		r.rec = rec
		out = append(out, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return unavailable("scan records", err)
	}

	for _, r := range out {
		if err := fn(r.addr, r.rec); err != nil {
			return err
		}
	}
	return nil
}

// Count implements Scanner.
func (s *PostgresStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM streak_records WHERE namespace = $1", string(s.ns),
	).Scan(&n); err != nil {
		return 0, unavailable("count records", err)
	}
	return n, nil
}

// Close implements Backend. A pool passed to NewPostgresStore is owned by the
// caller and left open.
func (s *PostgresStore) Close() error {
	if s.owned {
		s.pool.Close()
	}
	return nil
}
