package stability

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
	defaultBaseURL = "https://api.stability.ai"
	defaultModel   = "stable-diffusion-xl-1024-v1-0"
)

// Adapter sends requests to the Stability AI API. Stability is image-only;
// chat requests fail before any network call.
type Adapter struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
}

// Config holds configuration for the Stability adapter.
type Config struct {
	APIKey         string
	BaseURL        string // optional, defaults to https://api.stability.ai
	Model          string
	RequestTimeout time.Duration
}

// New creates a Stability adapter.
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

// Configured reports whether an API key with the expected prefix is present.
func (a *Adapter) Configured() bool {
	return strings.HasPrefix(a.apiKey, "sk-")
}

// SendMessage always fails: Stability has no text chat endpoint.
func (a *Adapter) SendMessage(ctx context.Context, messages []ai.Message) (ai.Response, error) {
	return ai.Response{}, fmt.Errorf("stability: %w", ai.ErrChatUnsupported)
}

// GenerateImage calls the text-to-image endpoint. Artifacts come back as
// base64 and are returned as data URIs.
func (a *Adapter) GenerateImage(ctx context.Context, req ai.ImageRequest) (ai.ImageResult, error) {
	if !a.Configured() {
		return ai.ImageResult{}, fmt.Errorf("stability: %w", ai.ErrNotConfigured)
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return ai.ImageResult{}, fmt.Errorf("stability: prompt required")
	}

	model := a.model
	if model == "" {
		model = defaultModel
	}
	width, height := dimensions(req.Size)
	count := req.Count
	if count <= 0 {
		count = 1
	}
	steps := req.Steps
	if steps <= 0 {
		steps = 30
	}
	cfgScale := req.CFGScale
	if cfgScale <= 0 {
		cfgScale = 7
	}
	seed := req.Seed
	if seed == 0 {
		seed = -1
	}

	payload := map[string]interface{}{
		"prompt":          req.Prompt,
		"negative_prompt": req.NegativePrompt,
		"width":           width,
		"height":          height,
		"samples":         count,
		"steps":           steps,
		"cfg_scale":       cfgScale,
		"seed":            seed,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return ai.ImageResult{}, fmt.Errorf("stability: marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1/generation/%s/text-to-image", a.baseURL, model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return ai.ImageResult{}, fmt.Errorf("stability: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return ai.ImageResult{}, fmt.Errorf("stability: send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return ai.ImageResult{}, fmt.Errorf("stability: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		var errResp struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(respBody, &errResp); err == nil && errResp.Message != "" {
			return ai.ImageResult{}, fmt.Errorf("stability: %s", errResp.Message)
		}
		return ai.ImageResult{}, fmt.Errorf("stability: http %d: %s", resp.StatusCode, string(respBody))
	}

	var genResp struct {
		Artifacts []struct {
			Base64 string `json:"base64"`
		} `json:"artifacts"`
	}
	if err := json.Unmarshal(respBody, &genResp); err != nil {
		return ai.ImageResult{}, fmt.Errorf("stability: unmarshal response: %w", err)
	}

	images := make([]string, 0, len(genResp.Artifacts))
	for _, artifact := range genResp.Artifacts {
		images = append(images, "data:image/png;base64,"+artifact.Base64)
	}
	return ai.ImageResult{Images: images, Model: model}, nil
}

// dimensions parses a WxH size string, defaulting to 1024x1024.
func dimensions(size string) (int, int) {
	var width, height int
	if n, err := fmt.Sscanf(size, "%dx%d", &width, &height); err != nil || n != 2 || width <= 0 || height <= 0 {
		return 1024, 1024
	}
	return width, height
}
