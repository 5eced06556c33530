package core

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/l18784175468-oss/77ai/internal/ai"
	"github.com/l18784175468-oss/77ai/internal/ai/registry"
	"github.com/l18784175468-oss/77ai/internal/history"
	"github.com/l18784175468-oss/77ai/internal/subscription"
)

// ErrInvalidRequest marks caller mistakes (empty conversations, unknown code
// actions) so the HTTP layer can answer 400 instead of 502.
var ErrInvalidRequest = errors.New("invalid request")

// QuotaError reports that a request was rejected because the user's
// subscription has no remaining allowance for the requested usage kind.
type QuotaError struct {
	Kind  subscription.UsageKind
	Check subscription.LimitCheck
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("%s quota exceeded: used all of %d", e.Kind, e.Check.Limit)
}

// ChatResult is the outcome of a completed chat exchange.
type ChatResult struct {
	ChatID    string         `json:"chat_id"`
	Reply     ai.Message     `json:"reply"`
	Model     string         `json:"model"`
	Usage     *ai.TokenUsage `json:"usage,omitempty"`
	Remaining int            `json:"remaining_messages"`
}

// CodeAction selects the kind of assistance requested from the code endpoint.
type CodeAction string

const (
	CodeAnalyze  CodeAction = "analyze"
	CodeGenerate CodeAction = "generate"
	CodeOptimize CodeAction = "optimize"
	CodeExplain  CodeAction = "explain"
)

// CodeRequest describes a single code-assistance call.
type CodeRequest struct {
	Action   CodeAction `json:"action"`
	Language string     `json:"language"`
	Code     string     `json:"code,omitempty"`
	Prompt   string     `json:"prompt,omitempty"`
	Model    string     `json:"model,omitempty"`
}

// Gateway orchestrates provider adapters, subscription accounting and
// per-user history for the chat, image and code surfaces.
type Gateway struct {
	registry *registry.Registry
	subs     *subscription.Service
	history  *history.Store
	logger   *log.Logger
}

// NewGateway wires the three collaborators together.
func NewGateway(reg *registry.Registry, subs *subscription.Service, hist *history.Store) *Gateway {
	return &Gateway{
		registry: reg,
		subs:     subs,
		history:  hist,
		logger:   log.New(log.Writer(), "[core/gateway] ", log.LstdFlags|log.Lmicroseconds),
	}
}

// SetLogger overrides the default logger; nil keeps the current logger.
func (g *Gateway) SetLogger(logger *log.Logger) {
	if logger != nil {
		g.logger = logger
	}
}

func (g *Gateway) logf(format string, args ...any) {
	if g.logger != nil {
		g.logger.Printf(format, args...)
	}
}

// refund returns a reservation when the work it paid for never completed.
// It runs on a fresh context so a canceled request can still be refunded.
func (g *Gateway) refund(ctx context.Context, userID string, kind subscription.UsageKind) {
	ctx = context.WithoutCancel(ctx)
	if err := g.subs.RefundUsage(ctx, userID, kind, 1); err != nil {
		g.logf("refund failed user=%s kind=%s: %v", userID, kind, err)
	}
}

// Chat reserves one message of quota, routes the conversation to the adapter
// for the model, records the exchange and commits the token usage.
// chatID may be empty, in which case a new chat is created from the first
// user message.
func (g *Gateway) Chat(ctx context.Context, userID, chatID, model string, messages []ai.Message) (ChatResult, error) {
	if len(messages) == 0 {
		return ChatResult{}, fmt.Errorf("chat: no messages: %w", ErrInvalidRequest)
	}
	provider := registry.ProviderForModel(model)
	adapter, err := g.registry.Resolve(provider, model)
	if err != nil {
		return ChatResult{}, err
	}
	return g.runChat(ctx, adapter, userID, chatID, model, messages)
}

// CustomChat is Chat routed through a registered custom service instead of a
// built-in provider.
func (g *Gateway) CustomChat(ctx context.Context, userID, serviceID, chatID string, messages []ai.Message) (ChatResult, error) {
	if len(messages) == 0 {
		return ChatResult{}, fmt.Errorf("chat: no messages: %w", ErrInvalidRequest)
	}
	adapter, err := g.registry.ResolveService(serviceID)
	if err != nil {
		return ChatResult{}, err
	}
	cfg, _ := g.registry.Service(serviceID)
	return g.runChat(ctx, adapter, userID, chatID, cfg.Model, messages)
}

func (g *Gateway) runChat(ctx context.Context, adapter ai.Adapter, userID, chatID, model string, messages []ai.Message) (ChatResult, error) {
	if _, err := g.subs.EnsureSubscription(ctx, userID); err != nil {
		return ChatResult{}, err
	}
	check, err := g.subs.ConsumeUsage(ctx, userID, subscription.UsageMessage, 1)
	if err != nil {
		return ChatResult{}, err
	}
	if !check.CanUse {
		g.logf("chat rejected user=%s remaining=%d limit=%d", userID, check.Remaining, check.Limit)
		return ChatResult{}, &QuotaError{Kind: subscription.UsageMessage, Check: check}
	}

	resp, err := adapter.SendMessage(ctx, messages)
	if err != nil {
		g.logf("chat upstream error user=%s model=%s: %v", userID, model, err)
		g.refund(ctx, userID, subscription.UsageMessage)
		return ChatResult{}, err
	}

	last := messages[len(messages)-1]
	if chatID == "" {
		chat := g.history.CreateChat(userID, last.Content)
		chatID = chat.ID
	}
	now := time.Now().UTC()
	userMsg := history.ChatMessage{ID: uuid.NewString(), Role: last.Role, Content: last.Content, Timestamp: now}
	assistantMsg := history.ChatMessage{ID: uuid.NewString(), Role: ai.RoleAssistant, Content: resp.Text, Timestamp: now}
	g.history.AppendExchange(userID, chatID, userMsg, assistantMsg)

	if resp.Usage != nil && resp.Usage.TotalTokens > 0 {
		if err := g.subs.IncrementUsage(ctx, userID, subscription.UsageToken, resp.Usage.TotalTokens); err != nil {
			g.logf("token accounting failed user=%s: %v", userID, err)
		}
	}

	return ChatResult{
		ChatID:    chatID,
		Reply:     ai.Message{Role: ai.RoleAssistant, Content: resp.Text},
		Model:     resp.Model,
		Usage:     resp.Usage,
		Remaining: check.Remaining,
	}, nil
}

// GenerateImage reserves one image of quota, routes the request to the
// adapter for the model and records the result.
func (g *Gateway) GenerateImage(ctx context.Context, userID, model string, req ai.ImageRequest) (history.ImageRecord, error) {
	if _, err := g.subs.EnsureSubscription(ctx, userID); err != nil {
		return history.ImageRecord{}, err
	}
	check, err := g.subs.ConsumeUsage(ctx, userID, subscription.UsageImage, 1)
	if err != nil {
		return history.ImageRecord{}, err
	}
	if !check.CanUse {
		g.logf("image rejected user=%s remaining=%d limit=%d", userID, check.Remaining, check.Limit)
		return history.ImageRecord{}, &QuotaError{Kind: subscription.UsageImage, Check: check}
	}

	provider := registry.ProviderForModel(model)
	adapter, err := g.registry.Resolve(provider, model)
	if err != nil {
		g.refund(ctx, userID, subscription.UsageImage)
		return history.ImageRecord{}, err
	}
	result, err := adapter.GenerateImage(ctx, req)
	if err != nil {
		g.logf("image upstream error user=%s model=%s: %v", userID, model, err)
		g.refund(ctx, userID, subscription.UsageImage)
		return history.ImageRecord{}, err
	}

	record := g.history.AddImage(history.ImageRecord{
		UserID:         userID,
		Prompt:         req.Prompt,
		NegativePrompt: req.NegativePrompt,
		Size:           req.Size,
		Model:          result.Model,
		Images:         result.Images,
	})
	return record, nil
}

// CodeAssist turns a code-assistance request into a chat exchange against the
// selected model and records the outcome.
func (g *Gateway) CodeAssist(ctx context.Context, userID string, req CodeRequest) (history.CodeRecord, error) {
	prompt, err := codePrompt(req)
	if err != nil {
		return history.CodeRecord{}, err
	}
	model := req.Model
	if model == "" {
		model = "gpt-3.5-turbo"
	}

	if _, err := g.subs.EnsureSubscription(ctx, userID); err != nil {
		return history.CodeRecord{}, err
	}
	check, err := g.subs.ConsumeUsage(ctx, userID, subscription.UsageMessage, 1)
	if err != nil {
		return history.CodeRecord{}, err
	}
	if !check.CanUse {
		return history.CodeRecord{}, &QuotaError{Kind: subscription.UsageMessage, Check: check}
	}

	provider := registry.ProviderForModel(model)
	adapter, err := g.registry.Resolve(provider, model)
	if err != nil {
		g.refund(ctx, userID, subscription.UsageMessage)
		return history.CodeRecord{}, err
	}
	resp, err := adapter.SendMessage(ctx, []ai.Message{
		{Role: ai.RoleSystem, Content: "You are an expert software engineer. Answer with precise, working code and short explanations."},
		{Role: ai.RoleUser, Content: prompt},
	})
	if err != nil {
		g.logf("code upstream error user=%s model=%s: %v", userID, model, err)
		g.refund(ctx, userID, subscription.UsageMessage)
		return history.CodeRecord{}, err
	}

	if resp.Usage != nil && resp.Usage.TotalTokens > 0 {
		if err := g.subs.IncrementUsage(ctx, userID, subscription.UsageToken, resp.Usage.TotalTokens); err != nil {
			g.logf("token accounting failed user=%s: %v", userID, err)
		}
	}

	record := g.history.AddCode(history.CodeRecord{
		UserID:   userID,
		Type:     string(req.Action),
		Language: req.Language,
		Code:     firstNonEmpty(req.Code, req.Prompt),
		Result:   resp.Text,
		Model:    resp.Model,
	})
	return record, nil
}

func codePrompt(req CodeRequest) (string, error) {
	lang := req.Language
	if lang == "" {
		lang = "plaintext"
	}
	switch req.Action {
	case CodeAnalyze:
		if strings.TrimSpace(req.Code) == "" {
			return "", fmt.Errorf("code: analyze requires code: %w", ErrInvalidRequest)
		}
		return fmt.Sprintf("Analyze the following %s code for bugs, security issues and style problems:\n\n%s", lang, req.Code), nil
	case CodeGenerate:
		if strings.TrimSpace(req.Prompt) == "" {
			return "", fmt.Errorf("code: generate requires a prompt: %w", ErrInvalidRequest)
		}
		return fmt.Sprintf("Write %s code for the following task:\n\n%s", lang, req.Prompt), nil
	case CodeOptimize:
		if strings.TrimSpace(req.Code) == "" {
			return "", fmt.Errorf("code: optimize requires code: %w", ErrInvalidRequest)
		}
		return fmt.Sprintf("Optimize the following %s code for performance and readability. Return the improved code:\n\n%s", lang, req.Code), nil
	case CodeExplain:
		if strings.TrimSpace(req.Code) == "" {
			return "", fmt.Errorf("code: explain requires code: %w", ErrInvalidRequest)
		}
		return fmt.Sprintf("Explain what the following %s code does, step by step:\n\n%s", lang, req.Code), nil
	default:
		return "", fmt.Errorf("code: unknown action %q: %w", req.Action, ErrInvalidRequest)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
