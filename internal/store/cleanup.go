package store

import (
	"context"
	"time"

	"jitmod/internal/logging"
)

// Cleanup modes.
const (
	// CleanupModeAge applies only the age-based rules.
	CleanupModeAge = "age"
	// CleanupModeSize additionally caps the bytes held by failed records.
	CleanupModeSize = "size"
)

// CleanupConfig configures the retention policy.
//
// Cleanup strategies:
// - Age-based: delete Failed records past an age, reset stale Pending
//   reservations (crashed owners) so the key becomes reclaimable.
// - Size-based: additionally cap bytes held by Failed records, oldest first.
// Ready records are permanent and never touched by any mode.
type CleanupConfig struct {
	MaxFailedAgeHours    float64 // Failed records older than this are deleted (0 disables)
	MaxPendingAgeMinutes float64 // Pending records older than this are reset to Failed (0 disables)
	MaxSourceBytes       int64   // Size mode: byte budget across Failed records (0 disables)
	Mode                 string  // "age" or "size"
	DryRun               bool    // Report what the policy would remove without changing anything
}

// DefaultCleanupConfig returns sensible defaults.
func DefaultCleanupConfig() CleanupConfig {
	return CleanupConfig{
		MaxFailedAgeHours:    24,
		MaxPendingAgeMinutes: 10,
		MaxSourceBytes:       10485760, // 10 MB
		Mode:                 CleanupModeAge,
	}
}

// CleanupStats reports cleanup results.
type CleanupStats struct {
	FailedDeleted     int
	StalePendingReset int
	BytesFreed        int64
	Duration          time.Duration
}

// Cleanup applies the retention policy. Ready records are never touched.
func (s *SQLiteStore) Cleanup(ctx context.Context, cfg CleanupConfig) (*CleanupStats, error) {
	start := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	stats := &CleanupStats{}

	// Stale pending reservations belong to crashed owners. Reset them to
	// Failed so a later Reserve can reclaim the key.
	if cfg.MaxPendingAgeMinutes > 0 {
		cutoff := time.Now().UTC().Add(-ageDuration(cfg.MaxPendingAgeMinutes, time.Minute)).Format(sqliteTimeLayout)
		if cfg.DryRun {
			var n int
			row := s.db.QueryRowContext(ctx, `
				SELECT COUNT(*) FROM modules WHERE status = 'pending' AND updated_at < ?`, cutoff)
			if err := row.Scan(&n); err != nil {
				return nil, &StorageError{Op: "cleanup", Err: err}
			}
			stats.StalePendingReset = n
		} else {
			res, err := s.db.ExecContext(ctx, `
				UPDATE modules SET status = 'failed', error = 'reservation expired', updated_at = CURRENT_TIMESTAMP
				WHERE status = 'pending' AND updated_at < ?`, cutoff)
			if err != nil {
				return nil, &StorageError{Op: "cleanup", Err: err}
			}
			if n, _ := res.RowsAffected(); n > 0 {
				stats.StalePendingReset = int(n)
				logging.Cleanup("Reset %d stale pending reservations", n)
			}
		}
	}

	// Old failed records age out entirely.
	var ageCutoff string
	if cfg.MaxFailedAgeHours > 0 {
		ageCutoff = time.Now().UTC().Add(-ageDuration(cfg.MaxFailedAgeHours, time.Hour)).Format(sqliteTimeLayout)

		var n int
		var bytes int64
		row := s.db.QueryRowContext(ctx, `
			SELECT COUNT(*), COALESCE(SUM(LENGTH(source_text) + LENGTH(error)), 0)
			FROM modules WHERE status = 'failed' AND updated_at < ?`, ageCutoff)
		if err := row.Scan(&n, &bytes); err != nil {
			return nil, &StorageError{Op: "cleanup", Err: err}
		}

		if n > 0 {
			if !cfg.DryRun {
				if _, err := s.db.ExecContext(ctx, `
					DELETE FROM modules WHERE status = 'failed' AND updated_at < ?`, ageCutoff); err != nil {
					return nil, &StorageError{Op: "cleanup", Err: err}
				}
				logging.Cleanup("Deleted %d failed records older than %.1f hours", n, cfg.MaxFailedAgeHours)
			}
			stats.FailedDeleted += n
			stats.BytesFreed += bytes
		}
	}

	// Size mode: cap the bytes failed records may hold, oldest first.
	if cfg.Mode == CleanupModeSize && cfg.MaxSourceBytes > 0 {
		if cfg.DryRun {
			if err := s.planSizeEvictions(ctx, cfg, ageCutoff, stats); err != nil {
				return nil, err
			}
		} else {
			for {
				var total int64
				row := s.db.QueryRowContext(ctx, `
					SELECT COALESCE(SUM(LENGTH(source_text) + LENGTH(error)), 0)
					FROM modules WHERE status = 'failed'`)
				if err := row.Scan(&total); err != nil {
					return nil, &StorageError{Op: "cleanup", Err: err}
				}
				if total <= cfg.MaxSourceBytes {
					break
				}

				var key string
				var size int64
				row = s.db.QueryRowContext(ctx, `
					SELECT cache_key, LENGTH(source_text) + LENGTH(error)
					FROM modules WHERE status = 'failed'
					ORDER BY updated_at ASC LIMIT 1`)
				if err := row.Scan(&key, &size); err != nil {
					break // No more rows
				}

				if _, err := s.db.ExecContext(ctx, `DELETE FROM modules WHERE cache_key = ?`, key); err != nil {
					break
				}

				stats.FailedDeleted++
				stats.BytesFreed += size
			}
		}
	}

	stats.Duration = time.Since(start)
	if cfg.DryRun {
		logging.Cleanup("Dry run: %d failed eligible, %d stale pending eligible, %d bytes reclaimable",
			stats.FailedDeleted, stats.StalePendingReset, stats.BytesFreed)
	} else {
		logging.Cleanup("Cleanup finished: %d failed deleted, %d stale pending reset, %d bytes freed in %v",
			stats.FailedDeleted, stats.StalePendingReset, stats.BytesFreed, stats.Duration)
	}

	return stats, nil
}

// planSizeEvictions computes what the size cap would remove, skipping
// records the age rule already claimed in this pass.
func (s *SQLiteStore) planSizeEvictions(ctx context.Context, cfg CleanupConfig, ageCutoff string, stats *CleanupStats) error {
	q := `SELECT LENGTH(source_text) + LENGTH(error) FROM modules WHERE status = 'failed'`
	var args []interface{}
	if ageCutoff != "" {
		q += ` AND updated_at >= ?`
		args = append(args, ageCutoff)
	}
	q += ` ORDER BY updated_at ASC`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return &StorageError{Op: "cleanup", Err: err}
	}
	defer rows.Close()

	var sizes []int64
	var total int64
	for rows.Next() {
		var size int64
		if err := rows.Scan(&size); err != nil {
			return &StorageError{Op: "cleanup", Err: err}
		}
		sizes = append(sizes, size)
		total += size
	}
	if err := rows.Err(); err != nil {
		return &StorageError{Op: "cleanup", Err: err}
	}

	for _, size := range sizes {
		if total <= cfg.MaxSourceBytes {
			break
		}
		total -= size
		stats.FailedDeleted++
		stats.BytesFreed += size
	}
	return nil
}

// ageDuration converts a float amount of the given unit into a Duration.
func ageDuration(amount float64, unit time.Duration) time.Duration {
	return time.Duration(amount * float64(unit))
}
