package stability

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

func TestSendMessage_Unsupported(t *testing.T) {
	adapter := New(Config{APIKey: "sk-stability"})
	_, err := adapter.SendMessage(context.Background(), []ai.Message{{Role: ai.RoleUser, Content: "hi"}})
	if !errors.Is(err, ai.ErrChatUnsupported) {
		t.Fatalf("SendMessage() error = %v, want ErrChatUnsupported", err)
	}
}

func TestGenerateImage_Success(t *testing.T) {
	server := testutil.NewIPv4Server(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "/v1/generation/") || !strings.HasSuffix(r.URL.Path, "/text-to-image") {
			t.Errorf("unexpected path: %q", r.URL.Path)
		}
		var req struct {
			Width   int `json:"width"`
			Height  int `json:"height"`
			Samples int `json:"samples"`
			Steps   int `json:"steps"`
			Seed    int `json:"seed"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Width != 512 || req.Height != 768 {
			t.Errorf("dimensions = %dx%d, want 512x768", req.Width, req.Height)
		}
		if req.Seed != -1 {
			t.Errorf("zero seed should become -1, got %d", req.Seed)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"artifacts": []map[string]any{{"base64": "aGVsbG8="}},
		})
	}))
	defer server.Close()

	adapter := New(Config{APIKey: "sk-stability-test", BaseURL: server.URL})
	adapter.httpClient = server.Client()

	result, err := adapter.GenerateImage(context.Background(), ai.ImageRequest{Prompt: "a fox", Size: "512x768"})
	if err != nil {
		t.Fatalf("GenerateImage() error = %v", err)
	}
	if len(result.Images) != 1 {
		t.Fatalf("got %d images, want 1", len(result.Images))
	}
	if result.Images[0] != "data:image/png;base64,aGVsbG8=" {
		t.Errorf("artifact should become a data URI, got %q", result.Images[0])
	}
}

func TestGenerateImage_MissingPrompt(t *testing.T) {
	adapter := New(Config{APIKey: "sk-stability"})
	_, err := adapter.GenerateImage(context.Background(), ai.ImageRequest{})
	if err == nil {
		t.Fatal("expected error for empty prompt")
	}
}

func TestDimensions(t *testing.T) {
	tests := []struct {
		size       string
		wantWidth  int
		wantHeight int
	}{
		{size: "512x768", wantWidth: 512, wantHeight: 768},
		{size: "", wantWidth: 1024, wantHeight: 1024},
		{size: "garbage", wantWidth: 1024, wantHeight: 1024},
		{size: "100x", wantWidth: 1024, wantHeight: 1024},
	}

	for _, tt := range tests {
		t.Run(tt.size, func(t *testing.T) {
			w, h := dimensions(tt.size)
			if w != tt.wantWidth || h != tt.wantHeight {
				t.Errorf("dimensions(%q) = %dx%d, want %dx%d", tt.size, w, h, tt.wantWidth, tt.wantHeight)
			}
		})
	}
}
