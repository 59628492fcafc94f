package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

const reserveSequenceQuery = `INSERT INTO result_counters (year, seq) VALUES ($1, $2)
        ON CONFLICT (year) DO UPDATE SET seq = result_counters.seq + EXCLUDED.seq
        RETURNING seq`

// reserveSequence increments the counter row for year by n and returns the
// first number of the claimed range. The row stays locked until q commits,
// so concurrent inserts of the same year serialise on it.
func reserveSequence(ctx context.Context, q sqlx.QueryerContext, year, n int) (int64, error) {
	if n <= 0 {
		return 0, fmt.Errorf("reserve sequence: invalid count %d", n)
	}
	var last int64
	if err := sqlx.GetContext(ctx, q, &last, reserveSequenceQuery, year, n); err != nil {
		return 0, fmt.Errorf("reserve sequence: %w", err)
	}
	return last - int64(n) + 1, nil
}
