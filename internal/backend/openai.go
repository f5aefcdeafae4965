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

const openAIDefaultBaseURL = "https://api.openai.com/v1"

// OpenAICompat talks to any chat-completions endpoint that speaks the
// OpenAI wire format, which covers most self-hosted gateways.
type OpenAICompat struct {
	apiKey          string
	baseURL         string
	system          string
	maxOutputTokens int
	minInterval     time.Duration
	httpClient      *http.Client

	mu          sync.Mutex
	lastRequest time.Time
}

// NewOpenAICompat creates an OpenAI-compatible chat completions client.
func NewOpenAICompat(cfg Config) *OpenAICompat {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = openAIDefaultBaseURL
	}
	maxTokens := cfg.MaxOutputTokens
	if maxTokens == 0 {
		maxTokens = 8192
	}
	return &OpenAICompat{
		apiKey:          cfg.APIKey,
		baseURL:         strings.TrimRight(baseURL, "/"),
		system:          cfg.System,
		maxOutputTokens: maxTokens,
		minInterval:     cfg.MinInterval,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// Name identifies the client in logs and usage records.
func (c *OpenAICompat) Name() string { return ProviderOpenAI }

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature float64         `json:"temperature"`
	Seed        *int64          `json:"seed,omitempty"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error,omitempty"`
}

// Generate performs one chat completion call.
func (c *OpenAICompat) Generate(ctx context.Context, prompt, model, seed string) (string, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline && c.httpClient.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.httpClient.Timeout)
		defer cancel()
	}

	start := time.Now()
	logging.BackendDebug("[openai] Generate: model=%s prompt_len=%d seeded=%t", model, len(prompt), seed != "")

	if c.apiKey == "" {
		return "", &PermanentError{Op: "openai", Msg: "API key not configured"}
	}

	c.rateLimit()

	messages := make([]openAIMessage, 0, 2)
	if c.system != "" {
		messages = append(messages, openAIMessage{Role: "system", Content: c.system})
	}
	messages = append(messages, openAIMessage{Role: "user", Content: prompt})

	reqBody := openAIRequest{
		Model:       model,
		Messages:    messages,
		MaxTokens:   c.maxOutputTokens,
		Temperature: 0,
	}
	if seed != "" {
		n := int64(seedNumber(seed))
		reqBody.Seed = &n
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", &PermanentError{Op: "openai", Msg: fmt.Sprintf("failed to marshal request: %v", err)}
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/chat/completions", bytes.NewReader(jsonData))
	if err != nil {
		return "", &PermanentError{Op: "openai", Msg: fmt.Sprintf("failed to create request: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &TransientError{Op: "openai", Err: fmt.Errorf("request failed: %w", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &TransientError{Op: "openai", Err: fmt.Errorf("failed to read response: %w", err)}
	}

	if resp.StatusCode != http.StatusOK {
		if statusTransient(resp.StatusCode) {
			return "", &TransientError{Op: "openai", Err: fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))}
		}
		return "", &PermanentError{Op: "openai", Status: resp.StatusCode, Msg: strings.TrimSpace(string(body))}
	}

	var openAIResp openAIResponse
	if err := json.Unmarshal(body, &openAIResp); err != nil {
		return "", &TransientError{Op: "openai", Err: fmt.Errorf("failed to parse response: %w", err)}
	}
	if openAIResp.Error != nil {
		return "", &PermanentError{Op: "openai", Msg: openAIResp.Error.Message}
	}
	if len(openAIResp.Choices) == 0 {
		return "", &TransientError{Op: "openai", Err: fmt.Errorf("no completion returned")}
	}

	text := strings.TrimSpace(openAIResp.Choices[0].Message.Content)

	logging.Backend("[openai] Generate: completed in %v response_len=%d", time.Since(start), len(text))
	return text, nil
}

func (c *OpenAICompat) rateLimit() {
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
