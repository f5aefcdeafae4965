// Package store persists generated modules keyed by canonical request key.
// The contract is a reserve/finalize protocol: the first caller to reserve a
// key owns generation for it, everyone else either gets the finished text or
// waits. Ready records are permanent; Failed records can be reclaimed.
package store

import (
	"context"
	"fmt"
	"time"
)

// Status is the lifecycle state of a cached module record.
type Status string

const (
	StatusPending Status = "pending"
	StatusReady   Status = "ready"
	StatusFailed  Status = "failed"
)

// ModuleRecord is one persisted generation outcome.
type ModuleRecord struct {
	Key          string
	Status       Status
	SourceText   string // module text, set when Ready
	Error        string // failure message, set when Failed
	Model        string
	GenerationMS int64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ReserveState describes the outcome of a Reserve call.
type ReserveState int

const (
	// Reserved means the caller owns generation for the key.
	Reserved ReserveState = iota
	// AlreadyReady means the module exists; SourceText carries it.
	AlreadyReady
	// AlreadyPending means another owner is generating; the caller should poll.
	AlreadyPending
)

func (s ReserveState) String() string {
	switch s {
	case Reserved:
		return "reserved"
	case AlreadyReady:
		return "ready"
	case AlreadyPending:
		return "pending"
	}
	return "unknown"
}

// Reservation is the result of an atomic Reserve.
type Reservation struct {
	State      ReserveState
	SourceText string // populated only for AlreadyReady
}

// CacheStats summarizes the store contents.
type CacheStats struct {
	TotalRecords     int64            `json:"total_records"`
	ReadyCount       int64            `json:"ready_count"`
	PendingCount     int64            `json:"pending_count"`
	FailedCount      int64            `json:"failed_count"`
	TotalSourceBytes int64            `json:"total_source_bytes"`
	OldestRecord     time.Time        `json:"oldest_record"`
	NewestRecord     time.Time        `json:"newest_record"`
	ByModel          map[string]int64 `json:"by_model"`
}

// StorageError wraps a store-level failure. Handlers map it to a server
// error rather than a client one.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// CacheStore is the persistence contract the generation coordinator runs on.
type CacheStore interface {
	// Reserve atomically claims the key. A missing record is inserted as
	// Pending and owned by the caller; a Failed record is reclaimed the
	// same way. Ready and Pending records are reported as such.
	Reserve(ctx context.Context, key string) (*Reservation, error)

	// Finalize moves a Pending record to Ready or Failed. Ready wins over
	// any concurrent attempt and is never overwritten; finalizing an
	// already-Ready key is a no-op returning nil.
	Finalize(ctx context.Context, key string, status Status, sourceText, errText, model string, generationMS int64) error

	// Get returns the record for key, or nil when absent.
	Get(ctx context.Context, key string) (*ModuleRecord, error)

	// Stats summarizes the store contents.
	Stats(ctx context.Context) (*CacheStats, error)

	// Cleanup applies the retention policy. Ready records are never touched.
	Cleanup(ctx context.Context, cfg CleanupConfig) (*CleanupStats, error)

	// Close releases the underlying resources.
	Close() error
}

// shortKey truncates a canonical key for log lines.
func shortKey(key string) string {
	if len(key) > 12 {
		return key[:12]
	}
	return key
}
