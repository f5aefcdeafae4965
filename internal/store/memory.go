package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore implements CacheStore in process memory. It backs tests and
// one-shot CLI paths where persistence is unwanted.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]*ModuleRecord
}

var _ CacheStore = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory cache.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*ModuleRecord)}
}

// Reserve atomically claims the key for generation.
func (m *MemoryStore) Reserve(ctx context.Context, key string) (*Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[key]
	if !ok {
		now := time.Now().UTC()
		m.records[key] = &ModuleRecord{
			Key:       key,
			Status:    StatusPending,
			CreatedAt: now,
			UpdatedAt: now,
		}
		return &Reservation{State: Reserved}, nil
	}

	switch rec.Status {
	case StatusReady:
		return &Reservation{State: AlreadyReady, SourceText: rec.SourceText}, nil
	case StatusFailed:
		rec.Status = StatusPending
		rec.Error = ""
		rec.UpdatedAt = time.Now().UTC()
		return &Reservation{State: Reserved}, nil
	default:
		return &Reservation{State: AlreadyPending}, nil
	}
}

// Finalize moves a Pending record to its terminal state.
func (m *MemoryStore) Finalize(ctx context.Context, key string, status Status, sourceText, errText, model string, generationMS int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[key]
	if !ok {
		if status != StatusReady {
			return nil
		}
		// Completed work is kept even if the reservation vanished.
		rec = &ModuleRecord{Key: key, CreatedAt: time.Now().UTC()}
		m.records[key] = rec
	}

	if rec.Status == StatusReady {
		return nil
	}

	switch status {
	case StatusReady:
		rec.Status = StatusReady
		rec.SourceText = sourceText
		rec.Error = ""
		rec.Model = model
		rec.GenerationMS = generationMS
		rec.UpdatedAt = time.Now().UTC()
	case StatusFailed:
		if rec.Status != StatusPending {
			return nil
		}
		rec.Status = StatusFailed
		rec.Error = errText
		rec.Model = model
		rec.UpdatedAt = time.Now().UTC()
	}
	return nil
}

// Get returns a copy of the record for key, or nil when absent.
func (m *MemoryStore) Get(ctx context.Context, key string) (*ModuleRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[key]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

// Stats summarizes the store contents.
func (m *MemoryStore) Stats(ctx context.Context) (*CacheStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := &CacheStats{ByModel: make(map[string]int64)}
	for _, rec := range m.records {
		stats.TotalRecords++
		switch rec.Status {
		case StatusReady:
			stats.ReadyCount++
		case StatusPending:
			stats.PendingCount++
		case StatusFailed:
			stats.FailedCount++
		}
		stats.TotalSourceBytes += int64(len(rec.SourceText))
		if rec.Model != "" {
			stats.ByModel[rec.Model]++
		}
		if stats.OldestRecord.IsZero() || rec.CreatedAt.Before(stats.OldestRecord) {
			stats.OldestRecord = rec.CreatedAt
		}
		if rec.CreatedAt.After(stats.NewestRecord) {
			stats.NewestRecord = rec.CreatedAt
		}
	}
	return stats, nil
}

// Cleanup applies the retention policy. Ready records are never touched.
func (m *MemoryStore) Cleanup(ctx context.Context, cfg CleanupConfig) (*CleanupStats, error) {
	start := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	stats := &CleanupStats{}
	now := time.Now().UTC()

	if cfg.MaxPendingAgeMinutes > 0 {
		cutoff := now.Add(-ageDuration(cfg.MaxPendingAgeMinutes, time.Minute))
		for _, rec := range m.records {
			if rec.Status == StatusPending && rec.UpdatedAt.Before(cutoff) {
				if !cfg.DryRun {
					rec.Status = StatusFailed
					rec.Error = "reservation expired"
					rec.UpdatedAt = now
				}
				stats.StalePendingReset++
			}
		}
	}

	var ageCutoff time.Time
	if cfg.MaxFailedAgeHours > 0 {
		ageCutoff = now.Add(-ageDuration(cfg.MaxFailedAgeHours, time.Hour))
		for key, rec := range m.records {
			if rec.Status == StatusFailed && rec.UpdatedAt.Before(ageCutoff) {
				stats.BytesFreed += int64(len(rec.SourceText) + len(rec.Error))
				if !cfg.DryRun {
					delete(m.records, key)
				}
				stats.FailedDeleted++
			}
		}
	}

	if cfg.Mode == CleanupModeSize && cfg.MaxSourceBytes > 0 {
		type failedRec struct {
			key  string
			size int64
			at   time.Time
		}
		var failed []failedRec
		var total int64
		for key, rec := range m.records {
			if rec.Status != StatusFailed {
				continue
			}
			// In a dry run the age rule deleted nothing, so skip the
			// records it already counted.
			if cfg.DryRun && !ageCutoff.IsZero() && rec.UpdatedAt.Before(ageCutoff) {
				continue
			}
			size := int64(len(rec.SourceText) + len(rec.Error))
			failed = append(failed, failedRec{key: key, size: size, at: rec.UpdatedAt})
			total += size
		}
		sort.Slice(failed, func(i, j int) bool { return failed[i].at.Before(failed[j].at) })
		for _, f := range failed {
			if total <= cfg.MaxSourceBytes {
				break
			}
			if !cfg.DryRun {
				delete(m.records, f.key)
			}
			total -= f.size
			stats.FailedDeleted++
			stats.BytesFreed += f.size
		}
	}

	stats.Duration = time.Since(start)
	return stats, nil
}

// Close is a no-op for the in-memory store.
func (m *MemoryStore) Close() error {
	return nil
}
