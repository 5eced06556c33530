package google

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/l18784175468-oss/77ai/internal/ai"
	"github.com/l18784175468-oss/77ai/internal/testutil"
)

func TestConfigured(t *testing.T) {
	tests := []struct {
		name   string
		apiKey string
		want   bool
	}{
		{name: "valid key", apiKey: "AIzaSyTest123", want: true},
		{name: "openai key", apiKey: "sk-test", want: false},
		{name: "empty key", apiKey: "", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			adapter := New(Config{APIKey: tt.apiKey})
			if got := adapter.Configured(); got != tt.want {
				t.Errorf("Configured() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSendMessage_Success(t *testing.T) {
	server := testutil.NewIPv4Server(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("key"); got != "AIzaSyTest" {
			t.Errorf("key query param = %q", got)
		}
		if !strings.HasSuffix(r.URL.Path, "/models/gemini-pro:generateContent") {
			t.Errorf("unexpected path: %q", r.URL.Path)
		}
		var req struct {
			Contents []struct {
				Role  string `json:"role"`
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"contents"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if len(req.Contents) != 2 {
			t.Fatalf("got %d contents, want 2", len(req.Contents))
		}
		if req.Contents[1].Role != "model" {
			t.Errorf("assistant role should map to model, got %q", req.Contents[1].Role)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"candidates": []map[string]any{
				{"content": map[string]any{"parts": []map[string]any{{"text": "Hi "}, {"text": "there"}}}},
			},
			"usageMetadata": map[string]any{"promptTokenCount": 8, "candidatesTokenCount": 2, "totalTokenCount": 10},
		})
	}))
	defer server.Close()

	adapter := New(Config{APIKey: "AIzaSyTest", BaseURL: server.URL})
	adapter.httpClient = server.Client()

	resp, err := adapter.SendMessage(context.Background(), []ai.Message{
		{Role: ai.RoleUser, Content: "Hello"},
		{Role: ai.RoleAssistant, Content: "Previous reply"},
	})
	if err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}
	if resp.Text != "Hi there" {
		t.Errorf("resp.Text = %q, want parts concatenated", resp.Text)
	}
	if resp.Usage == nil || resp.Usage.TotalTokens != 10 {
		t.Errorf("resp.Usage = %+v, want total 10", resp.Usage)
	}
}

func TestSendMessage_UpstreamError(t *testing.T) {
	server := testutil.NewIPv4Server(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"code":400,"message":"API key not valid","status":"INVALID_ARGUMENT"}}`))
	}))
	defer server.Close()

	adapter := New(Config{APIKey: "AIzaSyTest", BaseURL: server.URL})
	adapter.httpClient = server.Client()

	_, err := adapter.SendMessage(context.Background(), []ai.Message{{Role: ai.RoleUser, Content: "hi"}})
	if err == nil || !strings.Contains(err.Error(), "API key not valid") {
		t.Fatalf("error should carry upstream message, got: %v", err)
	}
}

func TestGenerateImage_NotConfiguredSkipsNetwork(t *testing.T) {
	counter := testutil.NewCountingHandler(nil)
	server := testutil.NewIPv4Server(t, counter)
	defer server.Close()

	adapter := New(Config{APIKey: "not-a-google-key", BaseURL: server.URL})
	adapter.httpClient = server.Client()

	_, err := adapter.GenerateImage(context.Background(), ai.ImageRequest{Prompt: "a tree"})
	if !errors.Is(err, ai.ErrNotConfigured) {
		t.Fatalf("GenerateImage() error = %v, want ErrNotConfigured", err)
	}
	if counter.Hits() != 0 {
		t.Errorf("misconfigured adapter made %d network calls", counter.Hits())
	}
}
