// Package registry resolves (provider, model) pairs to adapter instances and
// owns the runtime table of custom services.
package registry

import (
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/l18784175468-oss/77ai/internal/ai"
	"github.com/l18784175468-oss/77ai/internal/ai/anthropic"
	"github.com/l18784175468-oss/77ai/internal/ai/custom"
	"github.com/l18784175468-oss/77ai/internal/ai/google"
	"github.com/l18784175468-oss/77ai/internal/ai/openai"
	"github.com/l18784175468-oss/77ai/internal/ai/stability"
)

// ProviderConfig carries the process-level credentials for one built-in
// provider. An empty APIKey means "not configured".
type ProviderConfig struct {
	APIKey  string
	BaseURL string
}

// Providers groups the built-in provider configs sourced from the
// environment at startup.
type Providers struct {
	OpenAI    ProviderConfig
	Anthropic ProviderConfig
	Google    ProviderConfig
	Stability ProviderConfig
}

// Registry merges the built-in providers with dynamically registered custom
// services. All access to the custom table goes through an RWMutex so
// resolution never observes a partially written config.
type Registry struct {
	providers Providers

	mu       sync.RWMutex
	services map[string]custom.ServiceConfig

	logger *log.Logger
}

// New creates a Registry over the given provider configs.
func New(providers Providers) *Registry {
	return &Registry{
		providers: providers,
		services:  make(map[string]custom.ServiceConfig),
		logger:    log.New(log.Writer(), "[ai/registry] ", log.LstdFlags|log.Lmicroseconds),
	}
}

// SetLogger overrides the default logger; nil keeps the current logger.
func (r *Registry) SetLogger(logger *log.Logger) {
	if logger != nil {
		r.logger = logger
	}
}

// Resolve returns the adapter for a (provider, model) pair. A custom service
// registered under the composite key "provider-model" shadows any built-in
// provider of the same name.
func (r *Registry) Resolve(provider, model string) (ai.Adapter, error) {
	if cfg, ok := r.Service(provider + "-" + model); ok {
		return custom.New(cfg), nil
	}
	// A provider name that is itself a registered service id wins over any
	// built-in of the same name, whatever the model.
	if cfg, ok := r.Service(provider); ok {
		return custom.New(cfg), nil
	}

	switch strings.ToLower(strings.TrimSpace(provider)) {
	case "openai":
		return openai.New(openai.Config{
			APIKey:  r.providers.OpenAI.APIKey,
			BaseURL: r.providers.OpenAI.BaseURL,
			Model:   model,
		}), nil
	case "anthropic":
		return anthropic.New(anthropic.Config{
			APIKey:  r.providers.Anthropic.APIKey,
			BaseURL: r.providers.Anthropic.BaseURL,
			Model:   model,
		}), nil
	case "google":
		return google.New(google.Config{
			APIKey:  r.providers.Google.APIKey,
			BaseURL: r.providers.Google.BaseURL,
			Model:   model,
		}), nil
	case "stability":
		return stability.New(stability.Config{
			APIKey:  r.providers.Stability.APIKey,
			BaseURL: r.providers.Stability.BaseURL,
			Model:   model,
		}), nil
	default:
		return nil, fmt.Errorf("%w: %q", ai.ErrUnsupportedProvider, provider)
	}
}

// ResolveService returns an adapter for a bare custom-service id, used by
// the custom-chat path.
func (r *Registry) ResolveService(id string) (ai.Adapter, error) {
	cfg, ok := r.Service(id)
	if !ok {
		return nil, fmt.Errorf("custom service %q not found", id)
	}
	return custom.New(cfg), nil
}

// Register stores a custom service config. An empty id gets a generated one.
// Returns the id under which the service is registered.
func (r *Registry) Register(id string, cfg custom.ServiceConfig) string {
	id = strings.TrimSpace(id)
	if id == "" {
		id = uuid.New().String()
	}
	r.mu.Lock()
	r.services[id] = cfg
	r.mu.Unlock()
	r.logger.Printf("custom service registered id=%s name=%s", id, cfg.Name)
	return id
}

// ServicePatch carries the fields of an update. Nil fields keep the
// existing values.
type ServicePatch struct {
	Name              *string            `json:"name,omitempty"`
	Endpoint          *string            `json:"endpoint,omitempty"`
	APIKey            *string            `json:"apiKey,omitempty"`
	Model             *string            `json:"model,omitempty"`
	MaxTokens         *int               `json:"maxTokens,omitempty"`
	SupportsStreaming *bool              `json:"supportsStreaming,omitempty"`
	RequestFormat     *string            `json:"requestFormat,omitempty"`
	ResponseFormat    *string            `json:"responseFormat,omitempty"`
	Headers           *map[string]string `json:"headers,omitempty"`
	AuthHeader        *string            `json:"authHeader,omitempty"`
	Temperature       *float64           `json:"temperature,omitempty"`
	Method            *string            `json:"method,omitempty"`
	Description       *string            `json:"description,omitempty"`
}

// Update partial-merges a patch over an existing service config. Returns
// false when the id is unknown.
func (r *Registry) Update(id string, patch ServicePatch) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	cfg, ok := r.services[id]
	if !ok {
		return false
	}
	if patch.Name != nil {
		cfg.Name = *patch.Name
	}
	if patch.Endpoint != nil {
		cfg.Endpoint = *patch.Endpoint
	}
	if patch.APIKey != nil {
		cfg.APIKey = *patch.APIKey
	}
	if patch.Model != nil {
		cfg.Model = *patch.Model
	}
	if patch.MaxTokens != nil {
		cfg.MaxTokens = *patch.MaxTokens
	}
	if patch.SupportsStreaming != nil {
		cfg.SupportsStreaming = *patch.SupportsStreaming
	}
	if patch.RequestFormat != nil {
		cfg.RequestFormat = *patch.RequestFormat
	}
	if patch.ResponseFormat != nil {
		cfg.ResponseFormat = *patch.ResponseFormat
	}
	if patch.Headers != nil {
		cfg.Headers = *patch.Headers
	}
	if patch.AuthHeader != nil {
		cfg.AuthHeader = *patch.AuthHeader
	}
	if patch.Temperature != nil {
		cfg.Temperature = *patch.Temperature
	}
	if patch.Method != nil {
		cfg.Method = *patch.Method
	}
	if patch.Description != nil {
		cfg.Description = *patch.Description
	}
	r.services[id] = cfg
	r.logger.Printf("custom service updated id=%s", id)
	return true
}

// Remove deletes a custom service. Returns false when the id is unknown.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.services[id]; !ok {
		return false
	}
	delete(r.services, id)
	r.logger.Printf("custom service removed id=%s", id)
	return true
}

// Service returns a copy of the config registered under id.
func (r *Registry) Service(id string) (custom.ServiceConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.services[id]
	return cfg, ok
}

// Services returns a snapshot of the custom service table.
func (r *Registry) Services() map[string]custom.ServiceConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	snapshot := make(map[string]custom.ServiceConfig, len(r.services))
	for id, cfg := range r.services {
		snapshot[id] = cfg
	}
	return snapshot
}

// ListModels concatenates the static built-in catalog with one synthesized
// descriptor per registered custom service.
func (r *Registry) ListModels() []ai.Model {
	models := BuiltinModels()

	r.mu.RLock()
	defer r.mu.RUnlock()
	for id, cfg := range r.services {
		name := cfg.Name
		if name == "" {
			name = id
		}
		maxTokens := cfg.MaxTokens
		if maxTokens <= 0 {
			maxTokens = 2000
		}
		description := cfg.Description
		if description == "" {
			description = "User-defined AI model"
		}
		models = append(models, ai.Model{
			ID:                id,
			Name:              name,
			Provider:          "custom",
			MaxTokens:         maxTokens,
			SupportsStreaming: cfg.SupportsStreaming,
			Description:       description,
		})
	}
	return models
}
