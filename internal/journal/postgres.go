package journal

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/jmerrifield20/civicstreak/internal/streak"
)

// advisoryLockKey serialises Append across every process sharing the database.
const advisoryLockKey = int64(2_025_071_407)

const entryColumns = `idx, timestamp, owner, action, streak_count, record_hash, detail, prev_hash, hash`

// PostgresJournal persists the chain in the streak_journal table created by
// migrations/002_streak_journal.up.sql, which also inserts the genesis row.
type PostgresJournal struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgres creates a PostgresJournal backed by pool.
func NewPostgres(pool *pgxpool.Pool, logger *zap.Logger) *PostgresJournal {
	return &PostgresJournal{pool: pool, logger: logger}
}

// Append implements Journal. The tail read and the insert run in one
// transaction holding a transaction-scoped advisory lock.
func (j *PostgresJournal) Append(ctx context.Context, owner streak.Identity, action Action, rec streak.Record, detail string) (*Entry, error) {
	tx, err := j.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", advisoryLockKey); err != nil {
		return nil, fmt.Errorf("acquire advisory lock: %w", err)
	}

	var (
		prevIdx  int
		prevHash string
	)
	if err := tx.QueryRow(ctx,
		"SELECT idx, hash FROM streak_journal ORDER BY idx DESC LIMIT 1",
	).Scan(&prevIdx, &prevHash); err != nil {
		return nil, fmt.Errorf("read journal tail: %w", err)
	}

	e := newEntry(prevIdx+1, prevHash, owner, action, rec, detail)
	if _, err := tx.Exec(ctx,
		`INSERT INTO streak_journal (`+entryColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		e.Index, e.Timestamp, e.Owner, string(e.Action), int64(e.StreakCount),
		e.RecordHash, e.Detail, e.PrevHash, e.Hash,
	); err != nil {
		return nil, fmt.Errorf("insert journal entry: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit journal tx: %w", err)
	}

	j.logger.Debug("journal entry appended",
		zap.Int("idx", e.Index),
		zap.String("action", string(e.Action)),
		zap.String("owner", e.Owner),
	)
	return e, nil
}

func scanEntry(row pgx.Row) (*Entry, error) {
	var (
		e      Entry
		action string
		count  int64
	)
	if err := row.Scan(
		&e.Index, &e.Timestamp, &e.Owner, &action, &count,
		&e.RecordHash, &e.Detail, &e.PrevHash, &e.Hash,
	); err != nil {
		return nil, err
	}
	e.Action = Action(action)
	e.StreakCount = uint64(count)
	e.Timestamp = e.Timestamp.UTC()
	return &e, nil
}

// Get implements Journal.
func (j *PostgresJournal) Get(ctx context.Context, index int) (*Entry, error) {
	e, err := scanEntry(j.pool.QueryRow(ctx,
		"SELECT "+entryColumns+" FROM streak_journal WHERE idx = $1", index,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: index %d", ErrEntryNotFound, index)
	}
	if err != nil {
		return nil, fmt.Errorf("get journal entry %d: %w", index, err)
	}
	return e, nil
}

// List implements Journal.
func (j *PostgresJournal) List(ctx context.Context, offset, limit int) ([]*Entry, error) {
	if offset < 0 || limit <= 0 {
		return nil, nil
	}
	rows, err := j.pool.Query(ctx,
		"SELECT "+entryColumns+" FROM streak_journal ORDER BY idx ASC OFFSET $1 LIMIT $2",
		offset, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list journal: %w", err)
	}
	defer rows.Close()

	var out []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan journal row: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Len implements Journal.
func (j *PostgresJournal) Len(ctx context.Context) (int, error) {
	var n int
	if err := j.pool.QueryRow(ctx, "SELECT COUNT(*) FROM streak_journal").Scan(&n); err != nil {
		return 0, fmt.Errorf("count journal entries: %w", err)
	}
	return n, nil
}

// Verify implements Journal. It streams the whole chain, so its cost grows
// with the journal.
func (j *PostgresJournal) Verify(ctx context.Context) error {
	rows, err := j.pool.Query(ctx,
		"SELECT "+entryColumns+" FROM streak_journal ORDER BY idx ASC",
	)
	if err != nil {
		return fmt.Errorf("query journal: %w", err)
	}
	defer rows.Close()

	var prev *Entry
	for rows.Next() {
		curr, err := scanEntry(rows)
		if err != nil {
			return fmt.Errorf("scan journal row: %w", err)
		}
		if err := verifyLink(prev, curr); err != nil {
			return err
		}
		prev = curr
	}
	return rows.Err()
}

// Root implements Journal.
func (j *PostgresJournal) Root(ctx context.Context) (string, error) {
	var hash string
	if err := j.pool.QueryRow(ctx,
		"SELECT hash FROM streak_journal ORDER BY idx DESC LIMIT 1",
	).Scan(&hash); err != nil {
		return "", fmt.Errorf("get journal root: %w", err)
	}
	return hash, nil
}
