package backend

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"google.golang.org/genai"

	"jitmod/internal/logging"
)

// GeminiSDK generates through the official Google GenAI SDK. This is the
// default provider.
type GeminiSDK struct {
	client          *genai.Client
	system          string
	maxOutputTokens int32
	timeout         time.Duration
	minInterval     time.Duration

	mu          sync.Mutex
	lastRequest time.Time
}

// NewGeminiSDK creates an SDK-backed Gemini client.
func NewGeminiSDK(ctx context.Context, cfg Config) (*GeminiSDK, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini: API key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: cfg.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: failed to create client: %w", err)
	}
	maxTokens := cfg.MaxOutputTokens
	if maxTokens == 0 {
		maxTokens = 8192
	}
	return &GeminiSDK{
		client:          client,
		system:          cfg.System,
		maxOutputTokens: int32(maxTokens),
		timeout:         cfg.Timeout,
		minInterval:     cfg.MinInterval,
	}, nil
}

// Name identifies the client in logs and usage records.
func (c *GeminiSDK) Name() string { return ProviderGeminiSDK }

// Generate performs one generation call through the SDK.
func (c *GeminiSDK) Generate(ctx context.Context, prompt, model, seed string) (string, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline && c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	start := time.Now()
	logging.BackendDebug("[gemini] Generate: model=%s prompt_len=%d seeded=%t", model, len(prompt), seed != "")

	c.rateLimit()

	config := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr[float32](0),
		MaxOutputTokens: c.maxOutputTokens,
	}
	if c.system != "" {
		config.SystemInstruction = genai.NewContentFromText(c.system, genai.RoleUser)
	}
	if seed != "" {
		config.Seed = genai.Ptr(seedNumber(seed))
	}

	result, err := c.client.Models.GenerateContent(ctx, model, genai.Text(prompt), config)
	if err != nil {
		return "", classifySDKError(err)
	}

	text := strings.TrimSpace(result.Text())
	if text == "" {
		return "", &TransientError{Op: "gemini", Err: fmt.Errorf("no completion returned")}
	}

	logging.Backend("[gemini] Generate: completed in %v response_len=%d", time.Since(start), len(text))
	return text, nil
}

// classifySDKError sorts SDK failures into retryable and terminal.
func classifySDKError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		if statusTransient(apiErr.Code) {
			return &TransientError{Op: "gemini", Err: err}
		}
		return &PermanentError{Op: "gemini", Status: apiErr.Code, Msg: apiErr.Message}
	}
	return &TransientError{Op: "gemini", Err: err}
}

func (c *GeminiSDK) rateLimit() {
	if c.minInterval <= 0 {
		return
	}
	c.mu.Lock()
	elapsed := time.Since(c.lastRequest)
	if elapsed < c.minInterval {
		time.Sleep(c.minInterval - elapsed)
	}
	c.lastRequest = time.Now()
	c.mu.Unlock()
}
