// Package backend sends assembled prompts to a text-generation service.
// Three implementations share the Generator interface: the official genai
// SDK, a raw HTTP Gemini client, and an OpenAI-compatible client for
// self-hosted or third-party servers.
package backend

import (
	"context"
	"fmt"
	"hash/fnv"
	"strconv"
	"time"
)

// Provider names accepted in configuration.
const (
	ProviderGeminiSDK  = "gemini"
	ProviderGeminiHTTP = "gemini-http"
	ProviderOpenAI     = "openai"
)

// Generator performs a single generation call. Retry policy belongs to the
// caller; implementations classify failures as transient or permanent so
// the caller can decide.
type Generator interface {
	Generate(ctx context.Context, prompt, model, seed string) (string, error)
	Name() string
}

// TransientError marks a failure worth retrying: network errors, timeouts,
// rate limits, server-side errors, and empty completions.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }
func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError marks a failure that a retry cannot fix, such as a bad
// API key or an unknown model.
type PermanentError struct {
	Op     string
	Status int
	Msg    string
}

func (e *PermanentError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: status %d: %s", e.Op, e.Status, e.Msg)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Msg)
}

// Config configures a Generator. BaseURL and MaxOutputTokens fall back to
// provider defaults when zero.
type Config struct {
	Provider        string
	APIKey          string
	BaseURL         string
	System          string
	Timeout         time.Duration
	MinInterval     time.Duration
	MaxOutputTokens int
}

// DefaultConfig returns the settings used when the config file has no
// backend section.
func DefaultConfig() Config {
	return Config{
		Provider:        ProviderGeminiSDK,
		Timeout:         2 * time.Minute,
		MinInterval:     100 * time.Millisecond,
		MaxOutputTokens: 8192,
	}
}

// New builds the Generator named by cfg.Provider.
func New(ctx context.Context, cfg Config) (Generator, error) {
	switch cfg.Provider {
	case ProviderGeminiSDK, "":
		return NewGeminiSDK(ctx, cfg)
	case ProviderGeminiHTTP:
		return NewGeminiHTTP(cfg), nil
	case ProviderOpenAI:
		return NewOpenAICompat(cfg), nil
	default:
		return nil, fmt.Errorf("unknown backend provider %q", cfg.Provider)
	}
}

// seedNumber maps a seed string onto the integer seed the APIs accept.
// Numeric strings map to their value; anything else hashes.
func seedNumber(seed string) int32 {
	if n, err := strconv.ParseInt(seed, 10, 32); err == nil {
		return int32(n)
	}
	h := fnv.New32a()
	h.Write([]byte(seed))
	return int32(h.Sum32())
}

// statusTransient reports whether an HTTP status is worth retrying.
func statusTransient(status int) bool {
	return status == 429 || status >= 500
}
