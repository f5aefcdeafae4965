package store

import (
	"context"
	"errors"
	"strings"
	"testing"
)

const testKey = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"

// withStores runs a contract test against both implementations.
func withStores(t *testing.T, fn func(t *testing.T, s CacheStore)) {
	t.Run("sqlite", func(t *testing.T) {
		s, err := NewSQLiteStore(":memory:")
		if err != nil {
			t.Fatalf("Failed to create sqlite store: %v", err)
		}
		defer s.Close()
		fn(t, s)
	})
	t.Run("memory", func(t *testing.T) {
		s := NewMemoryStore()
		defer s.Close()
		fn(t, s)
	})
}

func TestReserveFreshKey(t *testing.T) {
	withStores(t, func(t *testing.T, s CacheStore) {
		ctx := context.Background()

		res, err := s.Reserve(ctx, testKey)
		if err != nil {
			t.Fatalf("Reserve failed: %v", err)
		}
		if res.State != Reserved {
			t.Errorf("First reserve should grant ownership, got %v", res.State)
		}

		// Second reserve sees the pending record.
		res, err = s.Reserve(ctx, testKey)
		if err != nil {
			t.Fatalf("Second reserve failed: %v", err)
		}
		if res.State != AlreadyPending {
			t.Errorf("Second reserve should see pending, got %v", res.State)
		}
	})
}

func TestFinalizeReadyThenReserve(t *testing.T) {
	withStores(t, func(t *testing.T, s CacheStore) {
		ctx := context.Background()

		if _, err := s.Reserve(ctx, testKey); err != nil {
			t.Fatalf("Reserve failed: %v", err)
		}
		if err := s.Finalize(ctx, testKey, StatusReady, "export const x = 1;\n", "", "gemini-2.5-flash", 1200); err != nil {
			t.Fatalf("Finalize failed: %v", err)
		}

		res, err := s.Reserve(ctx, testKey)
		if err != nil {
			t.Fatalf("Reserve after finalize failed: %v", err)
		}
		if res.State != AlreadyReady {
			t.Fatalf("Expected AlreadyReady, got %v", res.State)
		}
		if res.SourceText != "export const x = 1;\n" {
			t.Errorf("SourceText mismatch: %q", res.SourceText)
		}

		rec, err := s.Get(ctx, testKey)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if rec == nil {
			t.Fatal("Get returned nil for existing key")
		}
		if rec.Status != StatusReady {
			t.Errorf("Status = %s, want ready", rec.Status)
		}
		if rec.Model != "gemini-2.5-flash" {
			t.Errorf("Model = %q", rec.Model)
		}
		if rec.GenerationMS != 1200 {
			t.Errorf("GenerationMS = %d", rec.GenerationMS)
		}
	})
}

func TestReadyIsPermanent(t *testing.T) {
	withStores(t, func(t *testing.T, s CacheStore) {
		ctx := context.Background()

		if _, err := s.Reserve(ctx, testKey); err != nil {
			t.Fatalf("Reserve failed: %v", err)
		}
		if err := s.Finalize(ctx, testKey, StatusReady, "first", "", "m", 10); err != nil {
			t.Fatalf("Finalize failed: %v", err)
		}

		// A second ready finalize is a no-op; the first text wins.
		if err := s.Finalize(ctx, testKey, StatusReady, "second", "", "m", 20); err != nil {
			t.Fatalf("Double finalize should not error: %v", err)
		}
		// A failed finalize never clobbers ready.
		if err := s.Finalize(ctx, testKey, StatusFailed, "", "boom", "m", 0); err != nil {
			t.Fatalf("Failed finalize on ready should not error: %v", err)
		}

		rec, err := s.Get(ctx, testKey)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if rec.Status != StatusReady {
			t.Errorf("Status = %s, want ready", rec.Status)
		}
		if rec.SourceText != "first" {
			t.Errorf("SourceText = %q, want the first finalize to win", rec.SourceText)
		}
	})
}

func TestFailedRecordIsReclaimable(t *testing.T) {
	withStores(t, func(t *testing.T, s CacheStore) {
		ctx := context.Background()

		if _, err := s.Reserve(ctx, testKey); err != nil {
			t.Fatalf("Reserve failed: %v", err)
		}
		if err := s.Finalize(ctx, testKey, StatusFailed, "", "backend unreachable", "m", 0); err != nil {
			t.Fatalf("Finalize failed: %v", err)
		}

		rec, _ := s.Get(ctx, testKey)
		if rec.Status != StatusFailed {
			t.Fatalf("Status = %s, want failed", rec.Status)
		}
		if rec.Error != "backend unreachable" {
			t.Errorf("Error = %q", rec.Error)
		}

		// A new reserve reclaims the failed record.
		res, err := s.Reserve(ctx, testKey)
		if err != nil {
			t.Fatalf("Reserve failed: %v", err)
		}
		if res.State != Reserved {
			t.Errorf("Reserve on failed record should reclaim, got %v", res.State)
		}

		rec, _ = s.Get(ctx, testKey)
		if rec.Status != StatusPending {
			t.Errorf("Reclaimed record should be pending, got %s", rec.Status)
		}
		if rec.Error != "" {
			t.Errorf("Reclaim should clear the error, got %q", rec.Error)
		}
	})
}

func TestGetAbsentKey(t *testing.T) {
	withStores(t, func(t *testing.T, s CacheStore) {
		rec, err := s.Get(context.Background(), "nope")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if rec != nil {
			t.Errorf("Get for absent key should return nil, got %+v", rec)
		}
	})
}

func TestInvalidFinalizeTarget(t *testing.T) {
	s, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer s.Close()

	err = s.Finalize(context.Background(), testKey, StatusPending, "", "", "", 0)
	if err == nil {
		t.Fatal("Finalize to pending should be rejected")
	}
	var serr *StorageError
	if !errors.As(err, &serr) {
		t.Errorf("Expected StorageError, got %T", err)
	}
}

func TestStats(t *testing.T) {
	withStores(t, func(t *testing.T, s CacheStore) {
		ctx := context.Background()

		// Empty store stats must not error.
		stats, err := s.Stats(ctx)
		if err != nil {
			t.Fatalf("Stats on empty store failed: %v", err)
		}
		if stats.TotalRecords != 0 {
			t.Errorf("Empty store TotalRecords = %d", stats.TotalRecords)
		}

		keys := []string{"key-ready-1", "key-ready-2", "key-pending", "key-failed"}
		for _, k := range keys {
			if _, err := s.Reserve(ctx, k); err != nil {
				t.Fatalf("Reserve %s failed: %v", k, err)
			}
		}
		source := strings.Repeat("x", 100)
		s.Finalize(ctx, "key-ready-1", StatusReady, source, "", "model-a", 10)
		s.Finalize(ctx, "key-ready-2", StatusReady, source, "", "model-b", 10)
		s.Finalize(ctx, "key-failed", StatusFailed, "", "boom", "model-a", 0)

		stats, err = s.Stats(ctx)
		if err != nil {
			t.Fatalf("Stats failed: %v", err)
		}
		if stats.TotalRecords != 4 {
			t.Errorf("TotalRecords = %d, want 4", stats.TotalRecords)
		}
		if stats.ReadyCount != 2 {
			t.Errorf("ReadyCount = %d, want 2", stats.ReadyCount)
		}
		if stats.PendingCount != 1 {
			t.Errorf("PendingCount = %d, want 1", stats.PendingCount)
		}
		if stats.FailedCount != 1 {
			t.Errorf("FailedCount = %d, want 1", stats.FailedCount)
		}
		if stats.TotalSourceBytes != 200 {
			t.Errorf("TotalSourceBytes = %d, want 200", stats.TotalSourceBytes)
		}
		if stats.ByModel["model-a"] != 2 {
			t.Errorf("ByModel[model-a] = %d, want 2", stats.ByModel["model-a"])
		}
		if stats.ByModel["model-b"] != 1 {
			t.Errorf("ByModel[model-b] = %d, want 1", stats.ByModel["model-b"])
		}
	})
}
