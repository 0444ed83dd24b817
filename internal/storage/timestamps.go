package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/pulkyeet/harvest-audit/internal/window"
)

// TimestampCache remembers block timestamps so repeated window resolutions
// (one per shard) hit the node once per probed block. Entries are scoped to
// the chain id of the source.
type TimestampCache struct {
	db      *sql.DB
	chainID uint64
	source  window.TimestampSource
}

func (d *DB) Timestamps(chainID uint64, source window.TimestampSource) *TimestampCache {
	return &TimestampCache{db: d.db, chainID: chainID, source: source}
}

func (c *TimestampCache) BlockTimestamp(ctx context.Context, number uint64) (uint64, error) {
	var ts uint64
	err := c.db.QueryRowContext(ctx,
		"SELECT timestamp FROM header_timestamps WHERE chain_id = ? AND block = ?", c.chainID, number,
	).Scan(&ts)
	if err == nil {
		return ts, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("read cached timestamp %d: %w", number, err)
	}

	ts, err = c.source.BlockTimestamp(ctx, number)
	if err != nil {
		return 0, err
	}
	if _, err := c.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO header_timestamps (chain_id, block, timestamp) VALUES (?, ?, ?)",
		c.chainID, number, ts,
	); err != nil {
		return 0, fmt.Errorf("cache timestamp %d: %w", number, err)
	}
	return ts, nil
}
