package google

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/l18784175468-oss/77ai/internal/ai"
)

// Ensure Adapter implements ai.Adapter.
var _ ai.Adapter = (*Adapter)(nil)

const (
	defaultBaseURL    = "https://generativelanguage.googleapis.com"
	defaultModel      = "gemini-pro"
	defaultImageModel = "imagegeneration"
)

// Adapter sends requests to the Google Generative Language API (Gemini).
// Google authenticates with the API key as a query parameter, not a header.
type Adapter struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
}

// Config holds configuration for the Google adapter.
type Config struct {
	APIKey         string
	BaseURL        string // optional, defaults to https://generativelanguage.googleapis.com
	Model          string
	RequestTimeout time.Duration
}

// New creates a Google adapter.
func New(cfg Config) *Adapter {
	baseURL := strings.TrimSuffix(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	timeout := cfg.RequestTimeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	return &Adapter{
		apiKey:     strings.TrimSpace(cfg.APIKey),
		baseURL:    baseURL,
		model:      strings.TrimSpace(cfg.Model),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Configured reports whether the key matches the Google API key shape.
func (a *Adapter) Configured() bool {
	return strings.HasPrefix(a.apiKey, "AIza")
}

// SendMessage converts the conversation into Gemini contents/parts and calls
// generateContent. Assistant turns map to role "model"; everything else,
// system prompts included, maps to "user" (Gemini has no system role).
func (a *Adapter) SendMessage(ctx context.Context, messages []ai.Message) (ai.Response, error) {
	if !a.Configured() {
		return ai.Response{}, fmt.Errorf("google: %w", ai.ErrNotConfigured)
	}
	if len(messages) == 0 {
		return ai.Response{}, fmt.Errorf("google: no messages provided")
	}

	model := a.model
	if model == "" {
		model = defaultModel
	}

	contents := make([]geminiContent, 0, len(messages))
	for _, msg := range messages {
		role := "user"
		if strings.ToLower(msg.Role) == ai.RoleAssistant {
			role = "model"
		}
		contents = append(contents, geminiContent{
			Role:  role,
			Parts: []geminiPart{{Text: msg.Content}},
		})
	}

	payload := map[string]interface{}{
		"contents": contents,
		"generationConfig": map[string]interface{}{
			"temperature":     0.7,
			"maxOutputTokens": 2000,
		},
	}
	respBody, err := a.post(ctx, model, "generateContent", payload)
	if err != nil {
		return ai.Response{}, err
	}

	var genResp struct {
		Candidates []struct {
			Content struct {
				Parts []geminiPart `json:"parts"`
			} `json:"content"`
		} `json:"candidates"`
		UsageMetadata *struct {
			PromptTokenCount     int `json:"promptTokenCount"`
			CandidatesTokenCount int `json:"candidatesTokenCount"`
			TotalTokenCount      int `json:"totalTokenCount"`
		} `json:"usageMetadata"`
	}
	if err := json.Unmarshal(respBody, &genResp); err != nil {
		return ai.Response{}, fmt.Errorf("google: unmarshal response: %w", err)
	}

	var text strings.Builder
	if len(genResp.Candidates) > 0 {
		for _, part := range genResp.Candidates[0].Content.Parts {
			text.WriteString(part.Text)
		}
	}
	var usage *ai.TokenUsage
	if genResp.UsageMetadata != nil {
		usage = &ai.TokenUsage{
			PromptTokens:     genResp.UsageMetadata.PromptTokenCount,
			CompletionTokens: genResp.UsageMetadata.CandidatesTokenCount,
			TotalTokens:      genResp.UsageMetadata.TotalTokenCount,
		}
	}
	return ai.Response{Text: text.String(), Model: model, Usage: usage}, nil
}

// GenerateImage calls generateContent on an image-capable model.
func (a *Adapter) GenerateImage(ctx context.Context, req ai.ImageRequest) (ai.ImageResult, error) {
	if !a.Configured() {
		return ai.ImageResult{}, fmt.Errorf("google: %w", ai.ErrNotConfigured)
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return ai.ImageResult{}, fmt.Errorf("google: prompt required")
	}

	model := a.model
	if model == "" {
		model = defaultImageModel
	}
	count := req.Count
	if count <= 0 {
		count = 1
	}
	size := req.Size
	if size == "" {
		size = "1024x1024"
	}

	payload := map[string]interface{}{
		"contents": []geminiContent{{Parts: []geminiPart{{Text: req.Prompt}}}},
		"generationConfig": map[string]interface{}{
			"sampleCount": count,
			"aspectRatio": aspectRatio(size),
		},
	}
	respBody, err := a.post(ctx, model, "generateContent", payload)
	if err != nil {
		return ai.ImageResult{}, err
	}

	var genResp struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					URL string `json:"url"`
				} `json:"parts"`
			} `json:"content"`
		} `json:"candidates"`
	}
	if err := json.Unmarshal(respBody, &genResp); err != nil {
		return ai.ImageResult{}, fmt.Errorf("google: unmarshal response: %w", err)
	}

	var images []string
	for _, candidate := range genResp.Candidates {
		for _, part := range candidate.Content.Parts {
			if part.URL != "" {
				images = append(images, part.URL)
			}
		}
	}
	return ai.ImageResult{Images: images, Model: model}, nil
}

func (a *Adapter) post(ctx context.Context, model, method string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("google: marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1beta/models/%s:%s?key=%s", a.baseURL, model, method, url.QueryEscape(a.apiKey))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("google: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("google: send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("google: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		var errResp struct {
			Error struct {
				Code    int    `json:"code"`
				Message string `json:"message"`
				Status  string `json:"status"`
			} `json:"error"`
		}
		if err := json.Unmarshal(respBody, &errResp); err == nil && errResp.Error.Message != "" {
			return nil, fmt.Errorf("google: %s (code=%d, status=%s)", errResp.Error.Message, errResp.Error.Code, errResp.Error.Status)
		}
		return nil, fmt.Errorf("google: http %d: %s", resp.StatusCode, string(respBody))
	}
	return respBody, nil
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text,omitempty"`
}

// aspectRatio maps a WxH size string to the ratio names Gemini accepts.
func aspectRatio(size string) string {
	ratios := map[string]string{
		"1024x1024": "1:1",
		"1024x768":  "4:3",
		"768x1024":  "3:4",
		"1024x576":  "16:9",
		"576x1024":  "9:16",
	}
	if ratio, ok := ratios[size]; ok {
		return ratio
	}
	return "1:1"
}
