package registry

import "github.com/l18784175468-oss/77ai/internal/ai"

// BuiltinModels returns the static catalog of models exposed by the built-in
// providers. Returned as a fresh slice so callers may append freely.
func BuiltinModels() []ai.Model {
	return []ai.Model{
		// OpenAI chat models
		{ID: "gpt-4-turbo", Name: "GPT-4 Turbo", Provider: "openai", MaxTokens: 128000, SupportsStreaming: true, Description: "Latest GPT-4 model with a longer context window"},
		{ID: "gpt-4", Name: "GPT-4", Provider: "openai", MaxTokens: 8192, SupportsStreaming: true, Description: "Powerful multimodal model"},
		{ID: "gpt-3.5-turbo", Name: "GPT-3.5 Turbo", Provider: "openai", MaxTokens: 4096, SupportsStreaming: true, Description: "Fast and efficient chat model"},
		{ID: "gpt-3.5-turbo-16k", Name: "GPT-3.5 Turbo 16K", Provider: "openai", MaxTokens: 16384, SupportsStreaming: true, Description: "GPT-3.5 with an extended context window"},

		// Anthropic Claude models
		{ID: "claude-3-opus-20240229", Name: "Claude 3 Opus", Provider: "anthropic", MaxTokens: 4096, SupportsStreaming: true, Description: "Most capable Claude model for complex tasks"},
		{ID: "claude-3-sonnet-20240229", Name: "Claude 3 Sonnet", Provider: "anthropic", MaxTokens: 4096, SupportsStreaming: true, Description: "Balanced Claude model for speed and quality"},
		{ID: "claude-3-haiku-20240307", Name: "Claude 3 Haiku", Provider: "anthropic", MaxTokens: 4096, SupportsStreaming: true, Description: "Fastest Claude model"},

		// Google Gemini models
		{ID: "gemini-1.5-pro-latest", Name: "Gemini 1.5 Pro", Provider: "google", MaxTokens: 2097152, SupportsStreaming: true, Description: "Google model with a very long context window"},
		{ID: "gemini-pro", Name: "Gemini Pro", Provider: "google", MaxTokens: 32768, SupportsStreaming: true, Description: "Google multimodal model"},
		{ID: "gemini-pro-vision", Name: "Gemini Pro Vision", Provider: "google", MaxTokens: 16384, SupportsStreaming: false, Description: "Gemini model with image understanding"},

		// Image generation models
		{ID: "dall-e-3", Name: "DALL-E 3", Provider: "openai", MaxTokens: 0, SupportsStreaming: false, Description: "Latest OpenAI image generation model"},
		{ID: "dall-e-2", Name: "DALL-E 2", Provider: "openai", MaxTokens: 0, SupportsStreaming: false, Description: "Classic OpenAI image generation model"},
		{ID: "stable-diffusion-xl", Name: "Stable Diffusion XL", Provider: "stability", MaxTokens: 0, SupportsStreaming: false, Description: "High quality open image generation model"},
	}
}

// ProviderForModel maps a model id to its built-in provider by prefix.
// Unknown prefixes resolve to "custom" so registered services are tried.
func ProviderForModel(model string) string {
	switch {
	case hasAnyPrefix(model, "gpt-", "dall-e"):
		return "openai"
	case hasAnyPrefix(model, "claude"):
		return "anthropic"
	case hasAnyPrefix(model, "gemini"):
		return "google"
	case hasAnyPrefix(model, "stable"):
		return "stability"
	default:
		return "custom"
	}
}

func hasAnyPrefix(s string, prefixes ...string) bool {
	for _, prefix := range prefixes {
		if len(s) >= len(prefix) && s[:len(prefix)] == prefix {
			return true
		}
	}
	return false
}
