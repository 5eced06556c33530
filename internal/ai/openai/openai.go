package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/l18784175468-oss/77ai/internal/ai"
)

// Ensure Adapter implements ai.Adapter.
var _ ai.Adapter = (*Adapter)(nil)

const (
	defaultBaseURL = "https://api.openai.com/v1"
	defaultModel   = "gpt-3.5-turbo"
	defaultImage   = "dall-e-3"
)

// Adapter sends requests to the OpenAI API.
type Adapter struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
}

// Config holds configuration for the OpenAI adapter.
type Config struct {
	APIKey         string
	BaseURL        string // optional, defaults to https://api.openai.com/v1
	Model          string
	RequestTimeout time.Duration
}

// New creates an OpenAI adapter. A missing key is allowed here; it surfaces
// as Configured()==false and a configuration error on first use.
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

// Configured reports whether the key looks like an OpenAI secret key.
// Structural check only, never a network probe.
func (a *Adapter) Configured() bool {
	return strings.HasPrefix(a.apiKey, "sk-")
}

// SendMessage sends a chat completion request to OpenAI.
func (a *Adapter) SendMessage(ctx context.Context, messages []ai.Message) (ai.Response, error) {
	if !a.Configured() {
		return ai.Response{}, fmt.Errorf("openai: %w", ai.ErrNotConfigured)
	}
	if len(messages) == 0 {
		return ai.Response{}, fmt.Errorf("openai: no messages provided")
	}

	model := a.model
	if model == "" {
		model = defaultModel
	}

	payload := map[string]interface{}{
		"model":       model,
		"messages":    messages,
		"temperature": 0.7,
		"max_tokens":  2000,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return ai.Response{}, fmt.Errorf("openai: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return ai.Response{}, fmt.Errorf("openai: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return ai.Response{}, fmt.Errorf("openai: send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return ai.Response{}, fmt.Errorf("openai: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return ai.Response{}, upstreamError(resp.StatusCode, respBody)
	}

	var completion struct {
		Model   string `json:"model"`
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Usage *ai.TokenUsage `json:"usage"`
	}
	if err := json.Unmarshal(respBody, &completion); err != nil {
		return ai.Response{}, fmt.Errorf("openai: unmarshal response: %w", err)
	}

	var text string
	if len(completion.Choices) > 0 {
		text = completion.Choices[0].Message.Content
	}
	reported := completion.Model
	if reported == "" {
		reported = model
	}
	return ai.Response{Text: text, Model: reported, Usage: completion.Usage}, nil
}

// GenerateImage calls the DALL-E image generation endpoint.
func (a *Adapter) GenerateImage(ctx context.Context, req ai.ImageRequest) (ai.ImageResult, error) {
	if !a.Configured() {
		return ai.ImageResult{}, fmt.Errorf("openai: %w", ai.ErrNotConfigured)
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return ai.ImageResult{}, fmt.Errorf("openai: prompt required")
	}

	model := a.model
	if model == "" {
		model = defaultImage
	}
	count := req.Count
	if count <= 0 {
		count = 1
	}
	size := req.Size
	if size == "" {
		size = "1024x1024"
	}
	quality := req.Quality
	if quality == "" {
		quality = "standard"
	}

	payload := map[string]interface{}{
		"model":   model,
		"prompt":  req.Prompt,
		"n":       count,
		"size":    size,
		"quality": quality,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return ai.ImageResult{}, fmt.Errorf("openai: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/images/generations", bytes.NewReader(body))
	if err != nil {
		return ai.ImageResult{}, fmt.Errorf("openai: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return ai.ImageResult{}, fmt.Errorf("openai: send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return ai.ImageResult{}, fmt.Errorf("openai: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return ai.ImageResult{}, upstreamError(resp.StatusCode, respBody)
	}

	var imageResp struct {
		Data []struct {
			URL string `json:"url"`
		} `json:"data"`
	}
	if err := json.Unmarshal(respBody, &imageResp); err != nil {
		return ai.ImageResult{}, fmt.Errorf("openai: unmarshal response: %w", err)
	}

	images := make([]string, 0, len(imageResp.Data))
	for _, item := range imageResp.Data {
		images = append(images, item.URL)
	}
	return ai.ImageResult{Images: images, Model: model}, nil
}

func upstreamError(status int, body []byte) error {
	var errResp struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
			Code    string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		return fmt.Errorf("openai: %s (type=%s, code=%s)", errResp.Error.Message, errResp.Error.Type, errResp.Error.Code)
	}
	return fmt.Errorf("openai: http %d: %s", status, string(body))
}
