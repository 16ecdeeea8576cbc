package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/driftlane/outreach-gateway/internal/core"
)

// Postgres implementation of core.UsageStore. Increments are single-statement
// row-level upserts inside one transaction (account row + the '*' aggregate
// row), so concurrent dispatchers never lose an update.

func (s *Store) Count(ctx context.Context, accountID, day string) (int, error) {
	var n int
	err := s.DB.QueryRow(ctx, `
		SELECT sent_count FROM usage_counters WHERE account_id=$1 AND day=$2::date
	`, accountID, day).Scan(&n)
	if err == pgx.ErrNoRows {
		return 0, nil
	}
	return n, err
}

func (s *Store) TotalCount(ctx context.Context, day string) (int, error) {
	return s.Count(ctx, core.GlobalAccountID, day)
}

func (s *Store) Increment(ctx context.Context, accountID, day string) (int, error) {
	var n int
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx, `
			INSERT INTO usage_counters(account_id, day, sent_count, last_sent_at)
			VALUES($1, $2::date, 1, now())
			ON CONFLICT (account_id, day)
			DO UPDATE SET sent_count = usage_counters.sent_count + 1, last_sent_at = now()
			RETURNING sent_count
		`, accountID, day).Scan(&n); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO usage_counters(account_id, day, sent_count, last_sent_at)
			VALUES($1, $2::date, 1, now())
			ON CONFLICT (account_id, day)
			DO UPDATE SET sent_count = usage_counters.sent_count + 1, last_sent_at = now()
		`, core.GlobalAccountID, day)
		return err
	})
	return n, err
}

func (s *Store) CursorGet(ctx context.Context, name string) (int, error) {
	var pos int
	err := s.DB.QueryRow(ctx, `SELECT position FROM rotation_cursors WHERE name=$1`, name).Scan(&pos)
	if err == pgx.ErrNoRows {
		return -1, nil
	}
	return pos, err
}

func (s *Store) CursorSet(ctx context.Context, name string, pos int) error {
	_, err := s.DB.Exec(ctx, `
		INSERT INTO rotation_cursors(name, position, updated_at) VALUES($1,$2,now())
		ON CONFLICT (name) DO UPDATE SET position=$2, updated_at=now()
	`, name, pos)
	return err
}

// UsageForDay returns the per-account counters for a day, for reporting.
func (s *Store) UsageForDay(ctx context.Context, day string) ([]core.UsageCounter, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT account_id, to_char(day, 'YYYY-MM-DD'), sent_count, last_sent_at
		FROM usage_counters WHERE day=$1::date ORDER BY account_id
	`, day)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []core.UsageCounter
	for rows.Next() {
		var c core.UsageCounter
		var last *time.Time
		if err := rows.Scan(&c.AccountID, &c.Day, &c.SentCount, &last); err != nil {
			return nil, err
		}
		c.LastSentAt = last
		out = append(out, c)
	}
	return out, rows.Err()
}
