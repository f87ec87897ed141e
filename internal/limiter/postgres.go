package limiter

import (
	"context"
	"crypto/sha256"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// PG is a PostgreSQL-backed fixed-window send limiter.
type PG struct {
	pool   Querier
	window time.Duration
	limit  int
	now    func() time.Time
}

// Querier is the subset of a pgx pool the limiter needs.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// NewPG constructs a limiter allowing limit sends per window.
func NewPG(q Querier, window time.Duration, limit int) *PG {
	return &PG{pool: q, window: window, limit: limit, now: time.Now}
}

// HashIP returns a stable hash for an IP string to avoid storing raw addresses.
func HashIP(ip string) []byte {
	h := sha256.Sum256([]byte(ip))
	return h[:]
}

// Take reserves n sends in the current window for keyHash.
func (l *PG) Take(ctx context.Context, keyHash []byte, n int) (bool, time.Duration, error) {
	const q = `
INSERT INTO send_limiter (key_hash, sent_count, window_start)
VALUES ($1,$2,now())
ON CONFLICT (key_hash) DO UPDATE
SET
  sent_count = CASE WHEN now() - send_limiter.window_start > $3::interval THEN EXCLUDED.sent_count ELSE send_limiter.sent_count + EXCLUDED.sent_count END,
  window_start = CASE WHEN now() - send_limiter.window_start > $3::interval THEN now() ELSE send_limiter.window_start END
RETURNING sent_count, window_start`
	var sent int
	var start time.Time
	if err := l.pool.QueryRow(ctx, q, keyHash, n, l.window).Scan(&sent, &start); err != nil {
		return false, 0, err
	}
	if sent <= l.limit {
		return true, 0, nil
	}

	// give the reservation back so refused requests do not burn quota
	const undo = `UPDATE send_limiter SET sent_count = sent_count - $2 WHERE key_hash=$1`
	if _, err := l.pool.Exec(ctx, undo, keyHash, n); err != nil {
		return false, 0, err
	}
	retry := start.Add(l.window).Sub(l.now())
	if retry < 0 {
		retry = 0
	}
	return false, retry, nil
}
