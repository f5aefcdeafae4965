package backend

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	json "github.com/goccy/go-json"
)

func TestGeminiHTTP_Generate_Success(t *testing.T) {
	var gotReq geminiRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("Expected POST, got %s", r.Method)
		}
		if r.URL.Path != "/models/gemini-2.5-flash:generateContent" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("key") != "test-key" {
			t.Error("Expected API key in query string")
		}
		json.NewDecoder(r.Body).Decode(&gotReq)

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"candidates": [
				{
					"content": {
						"parts": [{"text": "  export function add(a, b) { return a + b; }\n"}]
					}
				}
			]
		}`))
	}))
	defer server.Close()

	client := NewGeminiHTTP(Config{
		APIKey:  "test-key",
		BaseURL: server.URL,
		System:  "You write modules.",
	})

	text, err := client.Generate(context.Background(), "add two numbers", "gemini-2.5-flash", "")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if text != "export function add(a, b) { return a + b; }" {
		t.Errorf("Expected trimmed completion, got %q", text)
	}

	if gotReq.GenerationConfig.Temperature != 0 {
		t.Errorf("Temperature = %v, want 0", gotReq.GenerationConfig.Temperature)
	}
	if gotReq.GenerationConfig.Seed != nil {
		t.Error("Seed should be omitted for unseeded requests")
	}
	if gotReq.SystemInstruction == nil || gotReq.SystemInstruction.Parts[0].Text != "You write modules." {
		t.Error("System instruction not forwarded")
	}
	if len(gotReq.Contents) != 1 || gotReq.Contents[0].Parts[0].Text != "add two numbers" {
		t.Errorf("Unexpected contents: %+v", gotReq.Contents)
	}
}

func TestGeminiHTTP_Generate_Seeded(t *testing.T) {
	var gotReq geminiRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotReq)
		w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"ok"}]}}]}`))
	}))
	defer server.Close()

	client := NewGeminiHTTP(Config{APIKey: "test-key", BaseURL: server.URL})

	if _, err := client.Generate(context.Background(), "p", "m", "42"); err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if gotReq.GenerationConfig.Seed == nil || *gotReq.GenerationConfig.Seed != 42 {
		t.Errorf("Seed = %v, want 42", gotReq.GenerationConfig.Seed)
	}
}

func TestGeminiHTTP_ErrorClassification(t *testing.T) {
	tests := []struct {
		name          string
		status        int
		wantTransient bool
	}{
		{"rate limited", http.StatusTooManyRequests, true},
		{"server error", http.StatusInternalServerError, true},
		{"service unavailable", http.StatusServiceUnavailable, true},
		{"bad request", http.StatusBadRequest, false},
		{"unauthorized", http.StatusUnauthorized, false},
		{"not found", http.StatusNotFound, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(`{"error": {"message": "nope"}}`))
			}))
			defer server.Close()

			client := NewGeminiHTTP(Config{APIKey: "test-key", BaseURL: server.URL})
			_, err := client.Generate(context.Background(), "p", "m", "")
			if err == nil {
				t.Fatal("Expected an error")
			}

			var transient *TransientError
			var permanent *PermanentError
			switch {
			case tt.wantTransient && !errors.As(err, &transient):
				t.Errorf("Expected TransientError, got %T: %v", err, err)
			case !tt.wantTransient && !errors.As(err, &permanent):
				t.Errorf("Expected PermanentError, got %T: %v", err, err)
			}
		})
	}
}

func TestGeminiHTTP_EmptyCandidates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"candidates": []}`))
	}))
	defer server.Close()

	client := NewGeminiHTTP(Config{APIKey: "test-key", BaseURL: server.URL})
	_, err := client.Generate(context.Background(), "p", "m", "")

	var transient *TransientError
	if !errors.As(err, &transient) {
		t.Errorf("Empty candidates should be transient, got %T: %v", err, err)
	}
}

func TestGeminiHTTP_MissingAPIKey(t *testing.T) {
	client := NewGeminiHTTP(Config{})
	_, err := client.Generate(context.Background(), "p", "m", "")

	var permanent *PermanentError
	if !errors.As(err, &permanent) {
		t.Errorf("Missing API key should be permanent, got %T: %v", err, err)
	}
}

func TestGeminiHTTP_NetworkErrorIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // connection refused from here on

	client := NewGeminiHTTP(Config{APIKey: "test-key", BaseURL: server.URL})
	_, err := client.Generate(context.Background(), "p", "m", "")

	var transient *TransientError
	if !errors.As(err, &transient) {
		t.Errorf("Connection failure should be transient, got %T: %v", err, err)
	}
}

func TestOpenAICompat_Generate_Success(t *testing.T) {
	var gotReq openAIRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Error("Expected bearer token authorization")
		}
		json.NewDecoder(r.Body).Decode(&gotReq)

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"choices": [
				{"message": {"content": "export const x = 1;"}}
			]
		}`))
	}))
	defer server.Close()

	client := NewOpenAICompat(Config{
		APIKey:  "test-key",
		BaseURL: server.URL,
		System:  "You write modules.",
	})

	text, err := client.Generate(context.Background(), "a constant", "gpt-4o-mini", "7")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if text != "export const x = 1;" {
		t.Errorf("Unexpected completion %q", text)
	}

	if gotReq.Model != "gpt-4o-mini" {
		t.Errorf("Model = %q, want gpt-4o-mini", gotReq.Model)
	}
	if len(gotReq.Messages) != 2 || gotReq.Messages[0].Role != "system" || gotReq.Messages[1].Role != "user" {
		t.Errorf("Unexpected messages: %+v", gotReq.Messages)
	}
	if gotReq.Temperature != 0 {
		t.Errorf("Temperature = %v, want 0", gotReq.Temperature)
	}
	if gotReq.Seed == nil || *gotReq.Seed != 7 {
		t.Errorf("Seed = %v, want 7", gotReq.Seed)
	}
}

func TestOpenAICompat_NoSystemMessage(t *testing.T) {
	var gotReq openAIRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotReq)
		w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
	}))
	defer server.Close()

	client := NewOpenAICompat(Config{APIKey: "test-key", BaseURL: server.URL})
	if _, err := client.Generate(context.Background(), "p", "m", ""); err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if len(gotReq.Messages) != 1 || gotReq.Messages[0].Role != "user" {
		t.Errorf("Expected single user message, got %+v", gotReq.Messages)
	}
	if gotReq.Seed != nil {
		t.Error("Seed should be omitted for unseeded requests")
	}
}

func TestOpenAICompat_APIErrorInBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error": {"message": "model overloaded", "type": "server_error"}}`))
	}))
	defer server.Close()

	client := NewOpenAICompat(Config{APIKey: "test-key", BaseURL: server.URL})
	_, err := client.Generate(context.Background(), "p", "m", "")

	var permanent *PermanentError
	if !errors.As(err, &permanent) {
		t.Fatalf("Expected PermanentError, got %T: %v", err, err)
	}
	if permanent.Msg != "model overloaded" {
		t.Errorf("Msg = %q", permanent.Msg)
	}
}

func TestOpenAICompat_RateLimitIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := NewOpenAICompat(Config{APIKey: "test-key", BaseURL: server.URL})
	_, err := client.Generate(context.Background(), "p", "m", "")

	var transient *TransientError
	if !errors.As(err, &transient) {
		t.Errorf("429 should be transient, got %T: %v", err, err)
	}
}

func TestSeedNumber(t *testing.T) {
	tests := []struct {
		seed string
		want int32
	}{
		{"0", 0},
		{"42", 42},
		{"-7", -7},
		{"2147483647", 2147483647},
	}
	for _, tt := range tests {
		if got := seedNumber(tt.seed); got != tt.want {
			t.Errorf("seedNumber(%q) = %d, want %d", tt.seed, got, tt.want)
		}
	}

	// Non-numeric seeds hash, and the hash is stable.
	a := seedNumber("deadbeef")
	b := seedNumber("deadbeef")
	if a != b {
		t.Errorf("hash seed not deterministic: %d vs %d", a, b)
	}
	if a == seedNumber("deadbeee") {
		t.Error("distinct seeds should rarely collide")
	}
}

func TestStatusTransient(t *testing.T) {
	for _, status := range []int{429, 500, 502, 503} {
		if !statusTransient(status) {
			t.Errorf("status %d should be transient", status)
		}
	}
	for _, status := range []int{200, 400, 401, 403, 404} {
		if statusTransient(status) {
			t.Errorf("status %d should not be transient", status)
		}
	}
}

func TestNew_UnknownProvider(t *testing.T) {
	_, err := New(context.Background(), Config{Provider: "mystery"})
	if err == nil {
		t.Fatal("Expected error for unknown provider")
	}
}

func TestNewGeminiSDK_RequiresAPIKey(t *testing.T) {
	_, err := NewGeminiSDK(context.Background(), Config{})
	if err == nil {
		t.Fatal("Expected error for missing API key")
	}
}

func TestGeneratorInterfaces(t *testing.T) {
	var _ Generator = (*GeminiSDK)(nil)
	var _ Generator = (*GeminiHTTP)(nil)
	var _ Generator = (*OpenAICompat)(nil)
}
