package backend

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"

	"jitmod/internal/logging"
)

const geminiDefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// GeminiHTTP talks to the Gemini REST API directly. It exists for
// deployments that cannot carry the SDK's credential machinery; the SDK
// client is the default.
type GeminiHTTP struct {
	apiKey          string
	baseURL         string
	system          string
	maxOutputTokens int
	minInterval     time.Duration
	httpClient      *http.Client

	mu          sync.Mutex
	lastRequest time.Time
}

// NewGeminiHTTP creates a raw HTTP Gemini client.
func NewGeminiHTTP(cfg Config) *GeminiHTTP {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = geminiDefaultBaseURL
	}
	maxTokens := cfg.MaxOutputTokens
	if maxTokens == 0 {
		maxTokens = 8192
	}
	return &GeminiHTTP{
		apiKey:          cfg.APIKey,
		baseURL:         baseURL,
		system:          cfg.System,
		maxOutputTokens: maxTokens,
		minInterval:     cfg.MinInterval,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// Name identifies the client in logs and usage records.
func (c *GeminiHTTP) Name() string { return ProviderGeminiHTTP }

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text,omitempty"`
}

type geminiGenerationConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
	Seed            *int32  `json:"seed,omitempty"`
}

type geminiRequest struct {
	Contents          []geminiContent        `json:"contents"`
	SystemInstruction *geminiContent         `json:"systemInstruction,omitempty"`
	GenerationConfig  geminiGenerationConfig `json:"generationConfig"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []geminiPart `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error,omitempty"`
}

// Generate performs one generation call against generateContent.
func (c *GeminiHTTP) Generate(ctx context.Context, prompt, model, seed string) (string, error) {
	// Auto-apply timeout if context has no deadline.
	if _, hasDeadline := ctx.Deadline(); !hasDeadline && c.httpClient.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.httpClient.Timeout)
		defer cancel()
	}

	start := time.Now()
	logging.BackendDebug("[gemini-http] Generate: model=%s prompt_len=%d seeded=%t", model, len(prompt), seed != "")

	if c.apiKey == "" {
		return "", &PermanentError{Op: "gemini-http", Msg: "API key not configured"}
	}

	c.rateLimit()

	reqBody := geminiRequest{
		Contents: []geminiContent{
			{
				Role:  "user",
				Parts: []geminiPart{{Text: prompt}},
			},
		},
		GenerationConfig: geminiGenerationConfig{
			Temperature:     0,
			MaxOutputTokens: c.maxOutputTokens,
		},
	}
	if c.system != "" {
		reqBody.SystemInstruction = &geminiContent{
			Parts: []geminiPart{{Text: c.system}},
		}
	}
	if seed != "" {
		n := seedNumber(seed)
		reqBody.GenerationConfig.Seed = &n
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", &PermanentError{Op: "gemini-http", Msg: fmt.Sprintf("failed to marshal request: %v", err)}
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.baseURL, model, c.apiKey)
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(jsonData))
	if err != nil {
		return "", &PermanentError{Op: "gemini-http", Msg: fmt.Sprintf("failed to create request: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &TransientError{Op: "gemini-http", Err: fmt.Errorf("request failed: %w", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &TransientError{Op: "gemini-http", Err: fmt.Errorf("failed to read response: %w", err)}
	}

	if resp.StatusCode != http.StatusOK {
		if statusTransient(resp.StatusCode) {
			return "", &TransientError{Op: "gemini-http", Err: fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))}
		}
		return "", &PermanentError{Op: "gemini-http", Status: resp.StatusCode, Msg: strings.TrimSpace(string(body))}
	}

	var geminiResp geminiResponse
	if err := json.Unmarshal(body, &geminiResp); err != nil {
		return "", &TransientError{Op: "gemini-http", Err: fmt.Errorf("failed to parse response: %w", err)}
	}
	if geminiResp.Error != nil {
		return "", &PermanentError{Op: "gemini-http", Status: geminiResp.Error.Code, Msg: geminiResp.Error.Message}
	}
	if len(geminiResp.Candidates) == 0 || len(geminiResp.Candidates[0].Content.Parts) == 0 {
		return "", &TransientError{Op: "gemini-http", Err: fmt.Errorf("no completion returned")}
	}

	var result strings.Builder
	for _, part := range geminiResp.Candidates[0].Content.Parts {
		result.WriteString(part.Text)
	}
	text := strings.TrimSpace(result.String())

	logging.Backend("[gemini-http] Generate: completed in %v response_len=%d", time.Since(start), len(text))
	return text, nil
}

func (c *GeminiHTTP) rateLimit() {
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
