// Package generation coordinates module generation. Concurrent requests
// for one key collapse onto a single flight, the flight claims the key in
// the store, drives the backend with retries, and persists the outcome.
// Module text is served only after it has been persisted as Ready.
package generation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"jitmod/internal/assembly"
	"jitmod/internal/backend"
	"jitmod/internal/canonical"
	"jitmod/internal/logging"
	"jitmod/internal/prompt"
	"jitmod/internal/signature"
	"jitmod/internal/store"
	"jitmod/internal/usage"
)

// GenerationFailedError reports that generation for a key did not produce
// a valid module. The record is persisted as Failed and a later request
// may reclaim it.
type GenerationFailedError struct {
	Key      string
	Attempts int
	LastErr  error
}

func (e *GenerationFailedError) Error() string {
	if e.Attempts > 0 {
		return fmt.Sprintf("generation failed for %s after %d attempts: %v", shortKey(e.Key), e.Attempts, e.LastErr)
	}
	return fmt.Sprintf("generation failed for %s: %v", shortKey(e.Key), e.LastErr)
}

func (e *GenerationFailedError) Unwrap() error { return e.LastErr }

// Config tunes the coordinator. Zero values fall back to defaults.
type Config struct {
	// DefaultModel substitutes for requests that carry no model.
	DefaultModel string
	// MaxAttempts bounds backend calls per owned generation.
	MaxAttempts int
	// PollInterval and PollTimeout govern waiting on a reservation owned
	// by another process.
	PollInterval time.Duration
	PollTimeout  time.Duration
}

// DefaultConfig returns the coordinator settings used when the config file
// has no generation section.
func DefaultConfig() Config {
	return Config{
		DefaultModel: "gemini-2.5-flash",
		MaxAttempts:  3,
		PollInterval: 500 * time.Millisecond,
		PollTimeout:  2 * time.Minute,
	}
}

// Coordinator resolves parsed requests to served module text.
type Coordinator struct {
	store   store.CacheStore
	gen     backend.Generator
	asm     *assembly.Assembler
	tracker *usage.Tracker // nil disables usage accounting
	cfg     Config

	// base bounds detached generation work; it should be the process
	// shutdown context.
	base  context.Context
	group singleflight.Group

	// backoff is the first retry delay; later retries double it.
	backoff time.Duration
}

// New creates a Coordinator. base is the process lifetime context: request
// contexts are detached from their callers and bounded by base instead, so
// a dropped request never abandons generation.
func New(base context.Context, st store.CacheStore, gen backend.Generator, tracker *usage.Tracker, cfg Config) *Coordinator {
	if base == nil {
		base = context.Background()
	}
	def := DefaultConfig()
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = def.DefaultModel
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = def.PollTimeout
	}
	return &Coordinator{
		store:   st,
		gen:     gen,
		asm:     assembly.New(),
		tracker: tracker,
		cfg:     cfg,
		base:    base,
		backoff: time.Second,
	}
}

// Key returns the canonical cache key Resolve would use for req.
func (c *Coordinator) Key(req *signature.Request) string {
	return canonical.Key(req, c.cfg.DefaultModel)
}

// Resolve returns the module text for req, generating and persisting it
// when no Ready record exists. Errors are *GenerationFailedError or
// *store.StorageError.
func (c *Coordinator) Resolve(ctx context.Context, req *signature.Request) (string, error) {
	key := c.Key(req)

	v, err, shared := c.group.Do(key, func() (interface{}, error) {
		// Detach from the caller: request values (the request ID) carry
		// over, the caller's cancellation does not. Process shutdown
		// still cancels through base.
		workCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		defer cancel()
		stop := context.AfterFunc(c.base, cancel)
		defer stop()

		return c.resolveKey(workCtx, key, req)
	})
	if shared {
		logging.GenerationDebug("flight shared for %s", shortKey(key))
	}
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// resolveKey runs once per key per flight.
func (c *Coordinator) resolveKey(ctx context.Context, key string, req *signature.Request) (string, error) {
	res, err := c.store.Reserve(ctx, key)
	if err != nil {
		return "", err
	}

	switch res.State {
	case store.AlreadyReady:
		logging.GenerationDebug("cache hit for %s", shortKey(key))
		return res.SourceText, nil
	case store.AlreadyPending:
		return c.awaitOwner(ctx, key)
	}
	return c.generate(ctx, key, req)
}

// generate is the owner path: this process holds the reservation and is
// the only one calling the backend for the key.
func (c *Coordinator) generate(ctx context.Context, key string, req *signature.Request) (string, error) {
	model := req.Model
	if model == "" {
		model = c.cfg.DefaultModel
	}
	promptText := prompt.Render(req)

	logging.Generation("generating %s: model=%s seeded=%t prompt_len=%d",
		shortKey(key), model, req.Seed != "", len(promptText))
	timer := logging.StartTimer(logging.CategoryGeneration, fmt.Sprintf("generate %s", shortKey(key)))
	started := time.Now()

	var lastErr error
	attempts := 0
loop:
	for i := 0; i < c.cfg.MaxAttempts; i++ {
		if i > 0 {
			// Exponential backoff: 1s, 2s, 4s.
			wait := c.backoff * time.Duration(1<<uint(i-1))
			logging.GenerationDebug("retry %d for %s in %v", i+1, shortKey(key), wait)
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				lastErr = ctx.Err()
				break loop
			}
		}

		attempts++
		callStart := time.Now()
		raw, err := c.gen.Generate(ctx, promptText, model, req.Seed)
		c.record(model, len(promptText), len(raw), time.Since(callStart), err)

		if err != nil {
			lastErr = err
			var perm *backend.PermanentError
			if errors.As(err, &perm) {
				logging.GenerationError("permanent backend failure for %s: %v", shortKey(key), err)
				break
			}
			logging.GenerationWarn("attempt %d for %s failed: %v", attempts, shortKey(key), err)
			continue
		}

		text, err := c.asm.Assemble(ctx, raw, req)
		if err != nil {
			// The backend is stochastic; malformed output is worth a retry.
			lastErr = err
			logging.GenerationWarn("attempt %d for %s produced invalid module: %v", attempts, shortKey(key), err)
			continue
		}

		genMS := time.Since(started).Milliseconds()
		if err := c.store.Finalize(ctx, key, store.StatusReady, text, "", model, genMS); err != nil {
			// Never serve text that did not persist.
			logging.GenerationError("finalize ready failed for %s: %v", shortKey(key), err)
			return "", err
		}
		timer.Stop()
		logging.Generation("generated %s: attempts=%d module_len=%d", shortKey(key), attempts, len(text))
		return text, nil
	}

	failErr := &GenerationFailedError{Key: key, Attempts: attempts, LastErr: lastErr}
	if err := c.store.Finalize(ctx, key, store.StatusFailed, "", failErr.Error(), model, 0); err != nil {
		// The reservation stays Pending; stale-pending cleanup reclaims it.
		logging.GenerationError("finalize failed for %s: %v", shortKey(key), err)
	}
	timer.Stop()
	logging.GenerationError("giving up on %s: %v", shortKey(key), failErr)
	return "", failErr
}

// awaitOwner polls the store while another process generates the key. The
// poller never claims ownership; it only reports the owner's outcome.
func (c *Coordinator) awaitOwner(ctx context.Context, key string) (string, error) {
	logging.Generation("waiting on reservation for %s", shortKey(key))

	deadline := time.NewTimer(c.cfg.PollTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return "", &GenerationFailedError{Key: key, LastErr: ctx.Err()}
		case <-deadline.C:
			return "", &GenerationFailedError{Key: key, LastErr: fmt.Errorf("timed out after %v waiting for pending generation", c.cfg.PollTimeout)}
		case <-ticker.C:
			rec, err := c.store.Get(ctx, key)
			if err != nil {
				return "", err
			}
			if rec == nil {
				// Cleanup removed the record mid-wait.
				return "", &GenerationFailedError{Key: key, LastErr: errors.New("reservation disappeared")}
			}
			switch rec.Status {
			case store.StatusReady:
				logging.GenerationDebug("reservation for %s resolved ready", shortKey(key))
				return rec.SourceText, nil
			case store.StatusFailed:
				return "", &GenerationFailedError{Key: key, LastErr: errors.New(rec.Error)}
			}
		}
	}
}

func (c *Coordinator) record(model string, promptLen, outputLen int, latency time.Duration, err error) {
	if c.tracker == nil {
		return
	}
	c.tracker.Record(model, promptLen, outputLen, latency, err)
}

func shortKey(key string) string {
	if len(key) > 12 {
		return key[:12]
	}
	return key
}
