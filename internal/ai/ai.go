// Package ai defines the normalized chat/image model shared by every
// provider adapter, plus the error taxonomy used to classify failures
// before they reach the request boundary.
package ai

import (
	"context"
	"errors"
)

// Message roles understood by the gateway. Adapters translate these into
// whatever vocabulary their provider expects.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Message is a single turn of a conversation. Order within a slice is
// chronological and must survive translation end to end.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// TokenUsage mirrors the OpenAI naming; adapters map provider-specific
// field names onto it.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is the normalized chat result. Model carries the id the provider
// reported, falling back to the requested id when the provider omits it.
// Usage is nil when the provider returned no accounting.
type Response struct {
	Text  string      `json:"message"`
	Model string      `json:"model"`
	Usage *TokenUsage `json:"usage,omitempty"`
}

// ImageRequest captures the generation options the built-in providers accept.
// Zero values mean "use the provider default".
type ImageRequest struct {
	Prompt         string `json:"prompt"`
	NegativePrompt string `json:"negative_prompt,omitempty"`
	Size           string `json:"size,omitempty"`
	Count          int    `json:"count,omitempty"`
	Quality        string `json:"quality,omitempty"`
	Steps          int    `json:"steps,omitempty"`
	CFGScale       int    `json:"cfg_scale,omitempty"`
	Seed           int    `json:"seed,omitempty"`
}

// ImageResult holds generated images as URLs or data URIs.
type ImageResult struct {
	Images []string `json:"images"`
	Model  string   `json:"model"`
}

// Model describes an entry of the model catalog exposed to clients.
type Model struct {
	ID                string `json:"id"`
	Name              string `json:"name"`
	Provider          string `json:"provider"`
	MaxTokens         int    `json:"maxTokens"`
	SupportsStreaming bool   `json:"supportsStreaming"`
	Description       string `json:"description,omitempty"`
}

// Adapter is implemented once per provider. SendMessage and GenerateImage
// must fail fast (no network call) when the adapter is not configured or the
// provider lacks the capability.
type Adapter interface {
	SendMessage(ctx context.Context, messages []Message) (Response, error)
	GenerateImage(ctx context.Context, req ImageRequest) (ImageResult, error)
	Configured() bool
}

// Sentinel errors. Adapters wrap these with provider context so callers can
// branch with errors.Is while still logging the detailed message.
var (
	ErrNotConfigured       = errors.New("provider is not configured")
	ErrChatUnsupported     = errors.New("provider does not support text chat")
	ErrImageUnsupported    = errors.New("provider does not support image generation")
	ErrUnsupportedProvider = errors.New("unsupported AI provider")
)
