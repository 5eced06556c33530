// Package settings stores per-user preferences and AI defaults. Imported
// values are validated and clamped so an export/import round trip is
// deterministic.
package settings

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/l18784175468-oss/77ai/internal/ai"
)

// UserSettings are the general UI/locale preferences.
type UserSettings struct {
	Language      string `json:"language"`
	Timezone      string `json:"timezone"`
	AutoSave      bool   `json:"autoSave"`
	Notifications bool   `json:"notifications"`
	Theme         string `json:"theme"`
	FontSize      string `json:"fontSize"`
	CompactMode   bool   `json:"compactMode"`
	Animations    bool   `json:"animations"`
}

// AISettings are the per-user model defaults and keys.
type AISettings struct {
	DefaultModel string  `json:"defaultModel"`
	OpenAIKey    string  `json:"openaiApiKey"`
	ClaudeKey    string  `json:"claudeApiKey"`
	GoogleKey    string  `json:"googleApiKey"`
	Temperature  float64 `json:"temperature"`
	MaxTokens    int     `json:"maxTokens"`
}

// Export bundles both settings families for backup.
type Export struct {
	UserSettings UserSettings `json:"userSettings"`
	AISettings   AISettings   `json:"aiSettings"`
	ExportedAt   time.Time    `json:"exportedAt"`
	Version      string       `json:"version"`
}

// Clamp bounds applied on import and update.
const (
	MinTemperature = 0.0
	MaxTemperature = 2.0
	MinMaxTokens   = 100
	MaxMaxTokens   = 4000
)

// DefaultUserSettings returns the starting preferences for a new user.
func DefaultUserSettings() UserSettings {
	return UserSettings{
		Language:      "en-US",
		Timezone:      "UTC",
		AutoSave:      true,
		Notifications: true,
		Theme:         "light",
		FontSize:      "medium",
		CompactMode:   false,
		Animations:    true,
	}
}

// DefaultAISettings returns the starting AI defaults for a new user.
func DefaultAISettings() AISettings {
	return AISettings{
		DefaultModel: "gpt-3.5-turbo",
		Temperature:  0.7,
		MaxTokens:    2000,
	}
}

// ConnectionTester resolves adapters for the connection test. Satisfied by
// the provider registry.
type ConnectionTester interface {
	Resolve(provider, model string) (ai.Adapter, error)
}

// Service keeps settings in memory per user.
type Service struct {
	mu     sync.RWMutex
	user   map[string]UserSettings
	aiCfg  map[string]AISettings
	logger *log.Logger
}

// NewService creates an empty settings service.
func NewService() *Service {
	return &Service{
		user:   make(map[string]UserSettings),
		aiCfg:  make(map[string]AISettings),
		logger: log.New(log.Writer(), "[settings] ", log.LstdFlags|log.Lmicroseconds),
	}
}

// UserSettings returns the user's preferences, seeding defaults on first
// access.
func (s *Service) UserSettings(userID string) UserSettings {
	s.mu.Lock()
	defer s.mu.Unlock()
	settings, ok := s.user[userID]
	if !ok {
		settings = DefaultUserSettings()
		s.user[userID] = settings
	}
	return settings
}

// AISettings returns the user's AI defaults, seeding defaults on first
// access.
func (s *Service) AISettings(userID string) AISettings {
	s.mu.Lock()
	defer s.mu.Unlock()
	settings, ok := s.aiCfg[userID]
	if !ok {
		settings = DefaultAISettings()
		s.aiCfg[userID] = settings
	}
	return settings
}

// UserPatch carries a partial user-settings update; nil fields are kept.
type UserPatch struct {
	Language      *string `json:"language,omitempty"`
	Timezone      *string `json:"timezone,omitempty"`
	AutoSave      *bool   `json:"autoSave,omitempty"`
	Notifications *bool   `json:"notifications,omitempty"`
	Theme         *string `json:"theme,omitempty"`
	FontSize      *string `json:"fontSize,omitempty"`
	CompactMode   *bool   `json:"compactMode,omitempty"`
	Animations    *bool   `json:"animations,omitempty"`
}

// UpdateUserSettings merges a patch over the stored settings. Invalid enum
// values in the patch are ignored in favor of the current value.
func (s *Service) UpdateUserSettings(userID string, patch UserPatch) UserSettings {
	settings := s.UserSettings(userID)
	if patch.Language != nil && validLanguage(*patch.Language) {
		settings.Language = *patch.Language
	}
	if patch.Timezone != nil && validTimezone(*patch.Timezone) {
		settings.Timezone = *patch.Timezone
	}
	if patch.AutoSave != nil {
		settings.AutoSave = *patch.AutoSave
	}
	if patch.Notifications != nil {
		settings.Notifications = *patch.Notifications
	}
	if patch.Theme != nil && validTheme(*patch.Theme) {
		settings.Theme = *patch.Theme
	}
	if patch.FontSize != nil && validFontSize(*patch.FontSize) {
		settings.FontSize = *patch.FontSize
	}
	if patch.CompactMode != nil {
		settings.CompactMode = *patch.CompactMode
	}
	if patch.Animations != nil {
		settings.Animations = *patch.Animations
	}

	s.mu.Lock()
	s.user[userID] = settings
	s.mu.Unlock()
	s.logger.Printf("user settings updated user=%s", userID)
	return settings
}

// AIPatch carries a partial AI-settings update; nil fields are kept.
type AIPatch struct {
	DefaultModel *string  `json:"defaultModel,omitempty"`
	OpenAIKey    *string  `json:"openaiApiKey,omitempty"`
	ClaudeKey    *string  `json:"claudeApiKey,omitempty"`
	GoogleKey    *string  `json:"googleApiKey,omitempty"`
	Temperature  *float64 `json:"temperature,omitempty"`
	MaxTokens    *int     `json:"maxTokens,omitempty"`
}

// UpdateAISettings merges a patch over the stored settings, clamping
// temperature and max tokens to their valid ranges.
func (s *Service) UpdateAISettings(userID string, patch AIPatch) AISettings {
	settings := s.AISettings(userID)
	if patch.DefaultModel != nil {
		settings.DefaultModel = *patch.DefaultModel
	}
	if patch.OpenAIKey != nil {
		settings.OpenAIKey = *patch.OpenAIKey
	}
	if patch.ClaudeKey != nil {
		settings.ClaudeKey = *patch.ClaudeKey
	}
	if patch.GoogleKey != nil {
		settings.GoogleKey = *patch.GoogleKey
	}
	if patch.Temperature != nil {
		settings.Temperature = clampTemperature(*patch.Temperature)
	}
	if patch.MaxTokens != nil {
		settings.MaxTokens = clampMaxTokens(*patch.MaxTokens)
	}

	s.mu.Lock()
	s.aiCfg[userID] = settings
	s.mu.Unlock()
	s.logger.Printf("ai settings updated user=%s", userID)
	return settings
}

// Reset restores defaults for one category ("ai" or general).
func (s *Service) Reset(userID, category string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if category == "ai" {
		s.aiCfg[userID] = DefaultAISettings()
	} else {
		s.user[userID] = DefaultUserSettings()
	}
	s.logger.Printf("settings reset user=%s category=%s", userID, category)
}

// ExportSettings returns both settings families for backup.
func (s *Service) ExportSettings(userID string) Export {
	return Export{
		UserSettings: s.UserSettings(userID),
		AISettings:   s.AISettings(userID),
		ExportedAt:   time.Now().UTC(),
		Version:      "1.0.0",
	}
}

// ImportSettings validates and stores a previously exported bundle. Invalid
// enum values fall back to defaults; numeric fields are clamped, so a
// subsequent export yields identical structs.
func (s *Service) ImportSettings(userID string, exported Export) (UserSettings, AISettings) {
	user := validateUserSettings(exported.UserSettings)
	aiCfg := validateAISettings(exported.AISettings)

	s.mu.Lock()
	s.user[userID] = user
	s.aiCfg[userID] = aiCfg
	s.mu.Unlock()
	s.logger.Printf("settings imported user=%s", userID)
	return user, aiCfg
}

// TestResult is the structured outcome of a connection test.
type TestResult struct {
	Provider string `json:"provider"`
	Status   string `json:"status"`
	Message  string `json:"message,omitempty"`
	Error    string `json:"error,omitempty"`
}

// TestConnection verifies a provider key by sending a short probe message.
// Failure comes back as a result value, not an error, so the handler can
// report it with a 200.
func (s *Service) TestConnection(ctx context.Context, tester ConnectionTester, provider, model string) TestResult {
	adapter, err := tester.Resolve(provider, model)
	if err != nil {
		return TestResult{Provider: provider, Status: "failed", Error: err.Error()}
	}
	if !adapter.Configured() {
		return TestResult{Provider: provider, Status: "failed", Error: "invalid API key format"}
	}
	probe := []ai.Message{{Role: ai.RoleUser, Content: "Hello, this is a connection test."}}
	if _, err := adapter.SendMessage(ctx, probe); err != nil {
		return TestResult{Provider: provider, Status: "failed", Error: "connection test failed: " + err.Error()}
	}
	return TestResult{Provider: provider, Status: "connected", Message: "Connection test successful"}
}

func validateUserSettings(in UserSettings) UserSettings {
	out := DefaultUserSettings()
	if validLanguage(in.Language) {
		out.Language = in.Language
	}
	if validTimezone(in.Timezone) {
		out.Timezone = in.Timezone
	}
	if validTheme(in.Theme) {
		out.Theme = in.Theme
	}
	if validFontSize(in.FontSize) {
		out.FontSize = in.FontSize
	}
	out.AutoSave = in.AutoSave
	out.Notifications = in.Notifications
	out.CompactMode = in.CompactMode
	out.Animations = in.Animations
	return out
}

func validateAISettings(in AISettings) AISettings {
	out := DefaultAISettings()
	if in.DefaultModel != "" {
		out.DefaultModel = in.DefaultModel
	}
	out.OpenAIKey = in.OpenAIKey
	out.ClaudeKey = in.ClaudeKey
	out.GoogleKey = in.GoogleKey
	out.Temperature = clampTemperature(in.Temperature)
	if in.MaxTokens != 0 {
		out.MaxTokens = clampMaxTokens(in.MaxTokens)
	}
	return out
}

func clampTemperature(t float64) float64 {
	if t < MinTemperature {
		return MinTemperature
	}
	if t > MaxTemperature {
		return MaxTemperature
	}
	return t
}

func clampMaxTokens(n int) int {
	if n < MinMaxTokens {
		return MinMaxTokens
	}
	if n > MaxMaxTokens {
		return MaxMaxTokens
	}
	return n
}

func validLanguage(v string) bool {
	switch v {
	case "zh-CN", "en-US", "ja-JP":
		return true
	}
	return false
}

func validTimezone(v string) bool {
	switch v {
	case "UTC", "Asia/Shanghai", "Asia/Tokyo", "America/New_York", "Europe/London":
		return true
	}
	return false
}

func validTheme(v string) bool {
	switch v {
	case "light", "dark", "auto":
		return true
	}
	return false
}

func validFontSize(v string) bool {
	switch v {
	case "small", "medium", "large":
		return true
	}
	return false
}
