package anthropic

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
	defaultBaseURL = "https://api.anthropic.com"
	defaultModel   = "claude-3-sonnet-20240229"
	defaultVersion = "2023-06-01"
)

// Adapter sends requests to the Anthropic API (Claude).
type Adapter struct {
	apiKey     string
	baseURL    string
	model      string
	version    string // anthropic-version header
	httpClient *http.Client
}

// Config holds configuration for the Anthropic adapter.
type Config struct {
	APIKey         string
	BaseURL        string // optional, defaults to https://api.anthropic.com
	Model          string
	Version        string // optional, defaults to 2023-06-01
	RequestTimeout time.Duration
}

// New creates an Anthropic adapter.
func New(cfg Config) *Adapter {
	baseURL := strings.TrimSuffix(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	version := strings.TrimSpace(cfg.Version)
	if version == "" {
		version = defaultVersion
	}
	timeout := cfg.RequestTimeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	return &Adapter{
		apiKey:     strings.TrimSpace(cfg.APIKey),
		baseURL:    baseURL,
		model:      strings.TrimSpace(cfg.Model),
		version:    version,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Configured reports whether the key matches the Anthropic key shape.
func (a *Adapter) Configured() bool {
	return strings.HasPrefix(a.apiKey, "sk-ant-")
}

// SendMessage converts the normalized conversation to Anthropic's messages
// format and sends it. System messages become the top-level system field.
func (a *Adapter) SendMessage(ctx context.Context, messages []ai.Message) (ai.Response, error) {
	if !a.Configured() {
		return ai.Response{}, fmt.Errorf("anthropic: %w", ai.ErrNotConfigured)
	}
	if len(messages) == 0 {
		return ai.Response{}, fmt.Errorf("anthropic: no messages provided")
	}

	conv, systemPrompt := convertMessages(messages)
	if len(conv) == 0 {
		return ai.Response{}, fmt.Errorf("anthropic: no user/assistant messages after filtering system messages")
	}

	model := a.model
	if model == "" {
		model = defaultModel
	}

	payload := map[string]interface{}{
		"model":      model,
		"messages":   conv,
		"max_tokens": 2000,
	}
	if systemPrompt != "" {
		payload["system"] = systemPrompt
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return ai.Response{}, fmt.Errorf("anthropic: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return ai.Response{}, fmt.Errorf("anthropic: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", a.apiKey)
	httpReq.Header.Set("anthropic-version", a.version)

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return ai.Response{}, fmt.Errorf("anthropic: send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return ai.Response{}, fmt.Errorf("anthropic: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		var errResp struct {
			Error struct {
				Type    string `json:"type"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if err := json.Unmarshal(respBody, &errResp); err == nil && errResp.Error.Message != "" {
			return ai.Response{}, fmt.Errorf("anthropic: %s (type=%s)", errResp.Error.Message, errResp.Error.Type)
		}
		return ai.Response{}, fmt.Errorf("anthropic: http %d: %s", resp.StatusCode, string(respBody))
	}

	var msgResp struct {
		Model   string `json:"model"`
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
		Usage *struct {
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(respBody, &msgResp); err != nil {
		return ai.Response{}, fmt.Errorf("anthropic: unmarshal response: %w", err)
	}

	var text strings.Builder
	for _, block := range msgResp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	var usage *ai.TokenUsage
	if msgResp.Usage != nil {
		usage = &ai.TokenUsage{
			PromptTokens:     msgResp.Usage.InputTokens,
			CompletionTokens: msgResp.Usage.OutputTokens,
			TotalTokens:      msgResp.Usage.InputTokens + msgResp.Usage.OutputTokens,
		}
	}
	reported := msgResp.Model
	if reported == "" {
		reported = model
	}
	return ai.Response{Text: text.String(), Model: reported, Usage: usage}, nil
}

// GenerateImage always fails: Anthropic has no image generation endpoint.
func (a *Adapter) GenerateImage(ctx context.Context, req ai.ImageRequest) (ai.ImageResult, error) {
	return ai.ImageResult{}, fmt.Errorf("anthropic: %w", ai.ErrImageUnsupported)
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// convertMessages splits the conversation into Anthropic messages and a
// combined system prompt. Unknown roles fold to "user".
func convertMessages(messages []ai.Message) ([]anthropicMessage, string) {
	var (
		conv   []anthropicMessage
		system strings.Builder
	)
	for _, msg := range messages {
		role := strings.ToLower(msg.Role)
		if role == ai.RoleSystem {
			if system.Len() > 0 {
				system.WriteString("\n\n")
			}
			system.WriteString(msg.Content)
			continue
		}
		if role != ai.RoleAssistant {
			role = ai.RoleUser
		}
		conv = append(conv, anthropicMessage{Role: role, Content: msg.Content})
	}
	return conv, system.String()
}
