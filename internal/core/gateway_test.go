package core_test

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"sync/atomic"
	"testing"

	"github.com/l18784175468-oss/77ai/internal/ai"
	"github.com/l18784175468-oss/77ai/internal/ai/custom"
	"github.com/l18784175468-oss/77ai/internal/ai/registry"
	"github.com/l18784175468-oss/77ai/internal/core"
	"github.com/l18784175468-oss/77ai/internal/history"
	"github.com/l18784175468-oss/77ai/internal/subscription"
	"github.com/l18784175468-oss/77ai/internal/subscription/memory"
	"github.com/l18784175468-oss/77ai/internal/testutil"
)

const chatCompletion = `{
	"model": "gpt-3.5-turbo-0125",
	"choices": [{"message": {"role": "assistant", "content": "Hello back!"}}],
	"usage": {"prompt_tokens": 9, "completion_tokens": 7, "total_tokens": 16}
}`

const imageGeneration = `{
	"data": [{"url": "https://img.example/one.png"}]
}`

type fixture struct {
	gateway  *core.Gateway
	registry *registry.Registry
	subs     *subscription.Service
	history  *history.Store
	upstream *atomic.Int64
	srv      *testutil.IPv4Server
}

// newFixture wires the gateway against a loopback server answering in the
// provider's wire shape, so every request takes the real adapter path.
func newFixture(t *testing.T, status int) *fixture {
	t.Helper()

	var hits atomic.Int64
	mux := http.NewServeMux()
	mux.HandleFunc("/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if status == http.StatusOK {
			io.WriteString(w, chatCompletion)
		} else {
			io.WriteString(w, `{"error": {"message": "upstream unavailable"}}`)
		}
	})
	mux.HandleFunc("/images/generations", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if status == http.StatusOK {
			io.WriteString(w, imageGeneration)
		}
	})
	srv := testutil.NewIPv4Server(t, mux)
	t.Cleanup(srv.Close)

	reg := registry.New(registry.Providers{
		OpenAI: registry.ProviderConfig{APIKey: "sk-test", BaseURL: srv.URL},
	})
	quiet := log.New(io.Discard, "", 0)
	reg.SetLogger(quiet)

	subs := subscription.NewService(memory.New())
	subs.SetLogger(quiet)
	hist := history.NewStore()

	gw := core.NewGateway(reg, subs, hist)
	gw.SetLogger(quiet)

	return &fixture{gateway: gw, registry: reg, subs: subs, history: hist, upstream: &hits, srv: srv}
}

func TestChatCreatesChatAndAccountsUsage(t *testing.T) {
	f := newFixture(t, http.StatusOK)
	ctx := context.Background()

	res, err := f.gateway.Chat(ctx, "u1", "", "gpt-3.5-turbo", []ai.Message{
		{Role: ai.RoleUser, Content: "Hello"},
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if res.ChatID == "" {
		t.Error("ChatID not assigned")
	}
	if res.Reply.Content != "Hello back!" || res.Reply.Role != ai.RoleAssistant {
		t.Errorf("Reply = %+v", res.Reply)
	}
	if res.Remaining != 99 {
		t.Errorf("Remaining = %d, want 99", res.Remaining)
	}
	if res.Usage == nil || res.Usage.TotalTokens != 16 {
		t.Errorf("Usage = %+v, want total 16", res.Usage)
	}

	chats := f.history.Chats("u1")
	if len(chats) != 1 {
		t.Fatalf("chats = %d, want 1", len(chats))
	}
	if chats[0].Title != "Hello" {
		t.Errorf("Title = %q", chats[0].Title)
	}
	chat, _ := f.history.Chat("u1", res.ChatID)
	if len(chat.Messages) != 2 {
		t.Fatalf("messages = %d, want 2", len(chat.Messages))
	}
	if chat.Messages[1].Content != "Hello back!" {
		t.Errorf("assistant message = %q", chat.Messages[1].Content)
	}

	sub, err := f.subs.GetSubscription(ctx, "u1")
	if err != nil {
		t.Fatalf("GetSubscription: %v", err)
	}
	if sub.Usage.Messages != 1 {
		t.Errorf("Usage.Messages = %d, want 1", sub.Usage.Messages)
	}
	if sub.Usage.Tokens != 16 {
		t.Errorf("Usage.Tokens = %d, want 16", sub.Usage.Tokens)
	}
}

func TestChatAppendsToExistingChat(t *testing.T) {
	f := newFixture(t, http.StatusOK)
	ctx := context.Background()

	first, err := f.gateway.Chat(ctx, "u1", "", "gpt-3.5-turbo", []ai.Message{{Role: ai.RoleUser, Content: "one"}})
	if err != nil {
		t.Fatalf("first Chat: %v", err)
	}
	second, err := f.gateway.Chat(ctx, "u1", first.ChatID, "gpt-3.5-turbo", []ai.Message{
		{Role: ai.RoleUser, Content: "one"},
		{Role: ai.RoleAssistant, Content: "Hello back!"},
		{Role: ai.RoleUser, Content: "two"},
	})
	if err != nil {
		t.Fatalf("second Chat: %v", err)
	}
	if second.ChatID != first.ChatID {
		t.Errorf("ChatID = %q, want %q", second.ChatID, first.ChatID)
	}
	if got := len(f.history.Chats("u1")); got != 1 {
		t.Errorf("chats = %d, want 1", got)
	}
	chat, _ := f.history.Chat("u1", first.ChatID)
	if len(chat.Messages) != 4 {
		t.Errorf("messages = %d, want 4", len(chat.Messages))
	}
}

func TestChatRejectsEmptyConversation(t *testing.T) {
	f := newFixture(t, http.StatusOK)

	_, err := f.gateway.Chat(context.Background(), "u1", "", "gpt-3.5-turbo", nil)
	if !errors.Is(err, core.ErrInvalidRequest) {
		t.Fatalf("err = %v, want ErrInvalidRequest", err)
	}
	if f.upstream.Load() != 0 {
		t.Error("upstream was called for an empty conversation")
	}
}

func TestChatUnknownProvider(t *testing.T) {
	f := newFixture(t, http.StatusOK)

	// Unrecognized models route to "custom", which has no registered service.
	_, err := f.gateway.Chat(context.Background(), "u1", "", "mystery-model", []ai.Message{
		{Role: ai.RoleUser, Content: "hi"},
	})
	if !errors.Is(err, ai.ErrUnsupportedProvider) {
		t.Fatalf("err = %v, want ErrUnsupportedProvider", err)
	}
}

func TestChatQuotaExhausted(t *testing.T) {
	f := newFixture(t, http.StatusOK)
	ctx := context.Background()

	if _, err := f.subs.EnsureSubscription(ctx, "u1"); err != nil {
		t.Fatal(err)
	}
	// Burn the entire free message allowance.
	if err := f.subs.IncrementUsage(ctx, "u1", subscription.UsageMessage, 100); err != nil {
		t.Fatal(err)
	}

	_, err := f.gateway.Chat(ctx, "u1", "", "gpt-3.5-turbo", []ai.Message{{Role: ai.RoleUser, Content: "hi"}})
	var qe *core.QuotaError
	if !errors.As(err, &qe) {
		t.Fatalf("err = %v, want QuotaError", err)
	}
	if qe.Kind != subscription.UsageMessage {
		t.Errorf("Kind = %q, want %q", qe.Kind, subscription.UsageMessage)
	}
	if qe.Check.Remaining != 0 {
		t.Errorf("Remaining = %d, want 0", qe.Check.Remaining)
	}
	if f.upstream.Load() != 0 {
		t.Error("upstream was called despite exhausted quota")
	}
}

func TestChatUpstreamFailureRefundsReservation(t *testing.T) {
	f := newFixture(t, http.StatusInternalServerError)
	ctx := context.Background()

	_, err := f.gateway.Chat(ctx, "u1", "", "gpt-3.5-turbo", []ai.Message{{Role: ai.RoleUser, Content: "hi"}})
	if err == nil {
		t.Fatal("Chat succeeded against a failing upstream")
	}
	if got := len(f.history.Chats("u1")); got != 0 {
		t.Errorf("chats = %d, want 0 after upstream failure", got)
	}
	// The failed call must not burn quota.
	sub, err := f.subs.GetSubscription(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if sub.Usage.Messages != 0 {
		t.Errorf("Usage.Messages = %d, want 0 after refund", sub.Usage.Messages)
	}
}

func TestCustomChat(t *testing.T) {
	f := newFixture(t, http.StatusOK)

	id := f.registry.Register("", custom.ServiceConfig{
		Name:           "local-llm",
		Endpoint:       f.srv.URL + "/chat/completions",
		APIKey:         "token-123",
		Model:          "local-7b",
		RequestFormat:  custom.RequestFormatOpenAI,
		ResponseFormat: custom.ResponseFormatOpenAI,
	})

	res, err := f.gateway.CustomChat(context.Background(), "u1", id, "", []ai.Message{
		{Role: ai.RoleUser, Content: "hi"},
	})
	if err != nil {
		t.Fatalf("CustomChat: %v", err)
	}
	if res.Reply.Content != "Hello back!" {
		t.Errorf("Reply = %q", res.Reply.Content)
	}

	_, err = f.gateway.CustomChat(context.Background(), "u1", "no-such-service", "", []ai.Message{
		{Role: ai.RoleUser, Content: "hi"},
	})
	if err == nil {
		t.Fatal("CustomChat accepted an unknown service id")
	}
}

func TestGenerateImage(t *testing.T) {
	f := newFixture(t, http.StatusOK)
	ctx := context.Background()

	record, err := f.gateway.GenerateImage(ctx, "u1", "dall-e-3", ai.ImageRequest{
		Prompt: "a lighthouse at dusk",
		Size:   "1024x1024",
	})
	if err != nil {
		t.Fatalf("GenerateImage: %v", err)
	}
	if record.ID == "" {
		t.Error("record ID not assigned")
	}
	if len(record.Images) != 1 || record.Images[0] != "https://img.example/one.png" {
		t.Errorf("Images = %v", record.Images)
	}
	if record.Prompt != "a lighthouse at dusk" {
		t.Errorf("Prompt = %q", record.Prompt)
	}

	if got := len(f.history.Images("u1")); got != 1 {
		t.Errorf("image records = %d, want 1", got)
	}
	sub, _ := f.subs.GetSubscription(ctx, "u1")
	if sub.Usage.Images != 1 {
		t.Errorf("Usage.Images = %d, want 1", sub.Usage.Images)
	}
}

func TestGenerateImageQuotaExhausted(t *testing.T) {
	f := newFixture(t, http.StatusOK)
	ctx := context.Background()

	if _, err := f.subs.EnsureSubscription(ctx, "u1"); err != nil {
		t.Fatal(err)
	}
	if err := f.subs.IncrementUsage(ctx, "u1", subscription.UsageImage, 10); err != nil {
		t.Fatal(err)
	}

	_, err := f.gateway.GenerateImage(ctx, "u1", "dall-e-3", ai.ImageRequest{Prompt: "anything"})
	var qe *core.QuotaError
	if !errors.As(err, &qe) {
		t.Fatalf("err = %v, want QuotaError", err)
	}
	if qe.Kind != subscription.UsageImage {
		t.Errorf("Kind = %q, want %q", qe.Kind, subscription.UsageImage)
	}
	if f.upstream.Load() != 0 {
		t.Error("upstream was called despite exhausted image quota")
	}
}

func TestCodeAssist(t *testing.T) {
	f := newFixture(t, http.StatusOK)
	ctx := context.Background()

	record, err := f.gateway.CodeAssist(ctx, "u1", core.CodeRequest{
		Action:   core.CodeGenerate,
		Language: "go",
		Prompt:   "reverse a slice",
	})
	if err != nil {
		t.Fatalf("CodeAssist: %v", err)
	}
	if record.Type != "generate" || record.Language != "go" {
		t.Errorf("record = %+v", record)
	}
	if record.Code != "reverse a slice" {
		t.Errorf("Code = %q, want the prompt when no code was sent", record.Code)
	}
	if record.Result != "Hello back!" {
		t.Errorf("Result = %q", record.Result)
	}
	if got := len(f.history.CodeRecords("u1")); got != 1 {
		t.Errorf("code records = %d, want 1", got)
	}
}

func TestCodeAssistValidation(t *testing.T) {
	f := newFixture(t, http.StatusOK)
	ctx := context.Background()

	cases := []struct {
		name string
		req  core.CodeRequest
	}{
		{"unknown action", core.CodeRequest{Action: "summarize", Code: "x"}},
		{"analyze without code", core.CodeRequest{Action: core.CodeAnalyze, Language: "go"}},
		{"generate without prompt", core.CodeRequest{Action: core.CodeGenerate, Language: "go"}},
		{"optimize without code", core.CodeRequest{Action: core.CodeOptimize}},
		{"explain without code", core.CodeRequest{Action: core.CodeExplain}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := f.gateway.CodeAssist(ctx, "u1", tc.req); !errors.Is(err, core.ErrInvalidRequest) {
				t.Errorf("err = %v, want ErrInvalidRequest", err)
			}
		})
	}
	if f.upstream.Load() != 0 {
		t.Error("upstream was called for invalid code requests")
	}
}
