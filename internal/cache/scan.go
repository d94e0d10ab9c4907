package cache

import (
	"context"

	"go.uber.org/zap"
)

// DefaultScanBatch is the per-page hint for ClearPattern scans.
const DefaultScanBatch = 100

// ClearPattern deletes every key matching the glob pattern using an
// incremental cursor scan, never a blocking full-keyspace listing.
// Matches are collected across the scan and deleted in batch-sized
// pages once it completes; any error aborts and the count deleted so
// far is returned.
func (c *Client) ClearPattern(ctx context.Context, pattern string, batchSize int) int {
	if pattern == "" {
		return 0
	}
	if batchSize <= 0 {
		batchSize = DefaultScanBatch
	}

	// Collect first, delete after the cursor completes: deleting while
	// the scan is in flight shifts the cursor and skips keys.
	var (
		cursor  uint64
		matched []string
		deleted int
	)
	for {
		keys, next, err := c.client().Scan(ctx, cursor, pattern, int64(batchSize)).Result()
		if err != nil {
			c.fail(ctx, "SCAN", pattern, err)
			return deleted
		}
		matched = append(matched, keys...)
		cursor = next
		if cursor == 0 {
			break
		}
	}
	for start := 0; start < len(matched); start += batchSize {
		end := start + batchSize
		if end > len(matched) {
			end = len(matched)
		}
		n, err := c.client().Del(ctx, matched[start:end]...).Result()
		deleted += int(n)
		if err != nil {
			c.fail(ctx, "DEL", pattern, err)
			return deleted
		}
	}
	c.log.Info("cache: pattern cleared",
		zap.String("pattern", pattern), zap.Int("deleted", deleted))
	return deleted
}
