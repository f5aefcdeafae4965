// Package usage records external generation accounting per model.
package usage

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	json "github.com/goccy/go-json"

	"jitmod/internal/logging"
)

// Tracker manages generation usage recording and persistence.
type Tracker struct {
	mu       sync.Mutex
	data     UsageData
	filePath string
	dirty    bool
}

// NewTracker creates a usage tracker persisting to the given JSON file.
func NewTracker(filePath string) (*Tracker, error) {
	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create usage dir: %w", err)
	}

	t := &Tracker{
		filePath: filePath,
		data: UsageData{
			Version: "1.0",
			Aggregate: AggregatedStats{
				ByModel: make(map[string]GenerationCounts),
			},
		},
	}

	if err := t.Load(); err != nil {
		logging.UsageDebug("Starting with empty usage data: %v", err)
	}

	return t, nil
}

// Load reads the usage data from disk.
func (t *Tracker) Load() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	data, err := os.ReadFile(t.filePath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	if err := json.Unmarshal(data, &t.data); err != nil {
		return err
	}

	// Ensure maps are initialized if file was empty/partial
	if t.data.Aggregate.ByModel == nil {
		t.data.Aggregate.ByModel = make(map[string]GenerationCounts)
	}

	return nil
}

// Save writes the usage data to disk.
func (t *Tracker) Save() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.saveLocked()
}

func (t *Tracker) saveLocked() error {
	data, err := json.MarshalIndent(t.data, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(t.filePath, data, 0644)
}

// Record accounts one backend generation call. A non-nil err counts as a
// failure; latency and sizes accumulate either way.
func (t *Tracker) Record(model string, promptLen, outputLen int, latency time.Duration, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	failed := err != nil
	t.data.Aggregate.Total.Add(promptLen, outputLen, latency, failed)
	addToMap(t.data.Aggregate.ByModel, model, promptLen, outputLen, latency, failed)

	logging.UsageDebug("Recorded call: model=%s prompt=%d output=%d latency=%v failed=%t",
		model, promptLen, outputLen, latency, failed)

	// Debounced auto-save
	if !t.dirty {
		t.dirty = true
		time.AfterFunc(5*time.Second, func() {
			t.Save()
			t.mu.Lock()
			t.dirty = false
			t.mu.Unlock()
		})
	}
}

// Summary returns a copy of the aggregated stats.
func (t *Tracker) Summary() AggregatedStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	stats := t.data.Aggregate
	stats.ByModel = copyCountsMap(stats.ByModel)
	return stats
}

func copyCountsMap(src map[string]GenerationCounts) map[string]GenerationCounts {
	if src == nil {
		return nil
	}
	dst := make(map[string]GenerationCounts, len(src))
	for key, counts := range src {
		dst[key] = counts
	}
	return dst
}

func addToMap(m map[string]GenerationCounts, key string, promptChars, outputChars int, latency time.Duration, failed bool) {
	entry := m[key]
	entry.Add(promptChars, outputChars, latency, failed)
	m[key] = entry
}
