// Package custom implements the user-configurable adapter. One generic
// implementation interprets a declarative request/response format pair
// instead of compiling per-service translation code.
package custom

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

// Recognized request body shapes. Anything else falls back to the generic
// OpenAI-like shape.
const (
	RequestFormatOpenAI = "openai"
	RequestFormatClaude = "claude"
	RequestFormatGoogle = "google"
	RequestFormatCustom = "custom"
)

// Recognized response extraction modes. Anything else falls back to the
// generic message/response extraction.
const (
	ResponseFormatOpenAI = "openai"
	ResponseFormatClaude = "claude"
	ResponseFormatGoogle = "google"
	ResponseFormatText   = "text"
)

// ServiceConfig describes a user-registered AI endpoint. The registry owns
// the canonical table of these; an Adapter holds its own copy so a service
// deleted mid-flight fails that request cleanly instead of crashing it.
type ServiceConfig struct {
	Name              string            `json:"name"`
	Endpoint          string            `json:"endpoint"`
	APIKey            string            `json:"apiKey"`
	Model             string            `json:"model"`
	MaxTokens         int               `json:"maxTokens"`
	SupportsStreaming bool              `json:"supportsStreaming"`
	RequestFormat     string            `json:"requestFormat"`
	ResponseFormat    string            `json:"responseFormat"`
	Headers           map[string]string `json:"headers,omitempty"`
	AuthHeader        string            `json:"authHeader,omitempty"`
	Temperature       float64           `json:"temperature,omitempty"`
	Method            string            `json:"method,omitempty"`
	Description       string            `json:"description,omitempty"`
}

// Adapter talks to a custom service described by a ServiceConfig.
type Adapter struct {
	cfg        ServiceConfig
	httpClient *http.Client
}

// New creates an adapter for the given service config.
func New(cfg ServiceConfig) *Adapter {
	return &Adapter{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

// Configured requires both an API key and an endpoint.
func (a *Adapter) Configured() bool {
	return strings.TrimSpace(a.cfg.APIKey) != "" && strings.TrimSpace(a.cfg.Endpoint) != ""
}

// SendMessage shapes the outbound body per RequestFormat, sends it, and
// extracts the reply per ResponseFormat.
func (a *Adapter) SendMessage(ctx context.Context, messages []ai.Message) (ai.Response, error) {
	if !a.Configured() {
		return ai.Response{}, fmt.Errorf("custom %q: %w", a.cfg.Name, ai.ErrNotConfigured)
	}
	if len(messages) == 0 {
		return ai.Response{}, fmt.Errorf("custom %q: no messages provided", a.cfg.Name)
	}

	body, err := json.Marshal(a.buildRequest(messages))
	if err != nil {
		return ai.Response{}, fmt.Errorf("custom %q: marshal request: %w", a.cfg.Name, err)
	}

	method := strings.ToUpper(strings.TrimSpace(a.cfg.Method))
	if method == "" {
		method = http.MethodPost
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, a.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return ai.Response{}, fmt.Errorf("custom %q: create request: %w", a.cfg.Name, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	authHeader := strings.TrimSpace(a.cfg.AuthHeader)
	if authHeader == "" {
		authHeader = "Authorization"
		httpReq.Header.Set(authHeader, "Bearer "+a.cfg.APIKey)
	} else {
		httpReq.Header.Set(authHeader, a.cfg.APIKey)
	}
	for name, value := range a.cfg.Headers {
		httpReq.Header.Set(name, value)
	}

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return ai.Response{}, fmt.Errorf("custom %q: send request: %w", a.cfg.Name, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return ai.Response{}, fmt.Errorf("custom %q: read response: %w", a.cfg.Name, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return ai.Response{}, fmt.Errorf("custom %q: http %d: %s", a.cfg.Name, resp.StatusCode, string(respBody))
	}

	return a.parseResponse(respBody)
}

// GenerateImage always fails: custom services are chat-only.
func (a *Adapter) GenerateImage(ctx context.Context, req ai.ImageRequest) (ai.ImageResult, error) {
	return ai.ImageResult{}, fmt.Errorf("custom %q: %w", a.cfg.Name, ai.ErrImageUnsupported)
}

func (a *Adapter) buildRequest(messages []ai.Message) map[string]interface{} {
	temperature := a.cfg.Temperature
	if temperature == 0 {
		temperature = 0.7
	}

	switch a.cfg.RequestFormat {
	case RequestFormatOpenAI:
		maxTokens := a.cfg.MaxTokens
		if maxTokens <= 0 {
			maxTokens = 2000
		}
		return map[string]interface{}{
			"model":       a.cfg.Model,
			"messages":    messages,
			"temperature": temperature,
			"max_tokens":  maxTokens,
			"stream":      a.cfg.SupportsStreaming,
		}
	case RequestFormatClaude:
		maxTokens := a.cfg.MaxTokens
		if maxTokens <= 0 {
			maxTokens = 4096
		}
		return map[string]interface{}{
			"model":       a.cfg.Model,
			"messages":    messages,
			"max_tokens":  maxTokens,
			"temperature": temperature,
		}
	case RequestFormatGoogle:
		maxTokens := a.cfg.MaxTokens
		if maxTokens <= 0 {
			maxTokens = 2048
		}
		var last string
		if len(messages) > 0 {
			last = messages[len(messages)-1].Content
		}
		return map[string]interface{}{
			"contents": []map[string]interface{}{
				{"parts": []map[string]string{{"text": last}}},
			},
			"generationConfig": map[string]interface{}{
				"temperature":     temperature,
				"maxOutputTokens": maxTokens,
			},
		}
	default:
		// Unrecognized formats (including "custom") use the generic shape.
		maxTokens := a.cfg.MaxTokens
		if maxTokens <= 0 {
			maxTokens = 2000
		}
		return map[string]interface{}{
			"model":       a.cfg.Model,
			"messages":    messages,
			"temperature": temperature,
			"max_tokens":  maxTokens,
		}
	}
}

func (a *Adapter) parseResponse(body []byte) (ai.Response, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return ai.Response{}, fmt.Errorf("custom %q: unmarshal response: %w", a.cfg.Name, err)
	}

	model := stringField(raw, "model")
	if model == "" {
		model = a.cfg.Model
	}

	switch a.cfg.ResponseFormat {
	case ResponseFormatOpenAI:
		var parsed struct {
			Choices []struct {
				Message struct {
					Content string `json:"content"`
				} `json:"message"`
			} `json:"choices"`
			Usage *ai.TokenUsage `json:"usage"`
		}
		_ = json.Unmarshal(body, &parsed)
		text := ""
		if len(parsed.Choices) > 0 {
			text = parsed.Choices[0].Message.Content
		}
		if text == "" {
			text = stringField(raw, "message")
		}
		return ai.Response{Text: text, Model: model, Usage: parsed.Usage}, nil
	case ResponseFormatClaude:
		var parsed struct {
			Content []struct {
				Text string `json:"text"`
			} `json:"content"`
			Usage *struct {
				InputTokens  int `json:"input_tokens"`
				OutputTokens int `json:"output_tokens"`
			} `json:"usage"`
		}
		_ = json.Unmarshal(body, &parsed)
		text := ""
		if len(parsed.Content) > 0 {
			text = parsed.Content[0].Text
		}
		if text == "" {
			text = stringField(raw, "message")
		}
		var usage *ai.TokenUsage
		if parsed.Usage != nil {
			usage = &ai.TokenUsage{
				PromptTokens:     parsed.Usage.InputTokens,
				CompletionTokens: parsed.Usage.OutputTokens,
				TotalTokens:      parsed.Usage.InputTokens + parsed.Usage.OutputTokens,
			}
		}
		return ai.Response{Text: text, Model: model, Usage: usage}, nil
	case ResponseFormatGoogle:
		var parsed struct {
			Candidates []struct {
				Content struct {
					Parts []struct {
						Text string `json:"text"`
					} `json:"parts"`
				} `json:"content"`
			} `json:"candidates"`
			UsageMetadata *struct {
				PromptTokenCount     int `json:"promptTokenCount"`
				CandidatesTokenCount int `json:"candidatesTokenCount"`
				TotalTokenCount      int `json:"totalTokenCount"`
			} `json:"usageMetadata"`
		}
		_ = json.Unmarshal(body, &parsed)
		text := ""
		if len(parsed.Candidates) > 0 && len(parsed.Candidates[0].Content.Parts) > 0 {
			text = parsed.Candidates[0].Content.Parts[0].Text
		}
		if text == "" {
			text = stringField(raw, "message")
		}
		var usage *ai.TokenUsage
		if parsed.UsageMetadata != nil {
			usage = &ai.TokenUsage{
				PromptTokens:     parsed.UsageMetadata.PromptTokenCount,
				CompletionTokens: parsed.UsageMetadata.CandidatesTokenCount,
				TotalTokens:      parsed.UsageMetadata.TotalTokenCount,
			}
		}
		return ai.Response{Text: text, Model: model, Usage: usage}, nil
	default:
		// text and any unrecognized format: message, then response.
		text := stringField(raw, "message")
		if text == "" {
			text = stringField(raw, "response")
		}
		var usage *ai.TokenUsage
		if rawUsage, ok := raw["usage"]; ok {
			var parsed ai.TokenUsage
			if err := json.Unmarshal(rawUsage, &parsed); err == nil {
				usage = &parsed
			}
		}
		return ai.Response{Text: text, Model: model, Usage: usage}, nil
	}
}

func stringField(raw map[string]json.RawMessage, key string) string {
	value, ok := raw[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(value, &s); err != nil {
		return ""
	}
	return s
}
