package subscription_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/l18784175468-oss/77ai/internal/subscription"
	"github.com/l18784175468-oss/77ai/internal/subscription/memory"
)

func newService(t *testing.T) *subscription.Service {
	t.Helper()
	return subscription.NewService(memory.New())
}

func TestPlanFeatures_Catalog(t *testing.T) {
	tests := []struct {
		plan     subscription.Plan
		messages int
		images   int
		tokens   int
		models   int
		price    float64
	}{
		{plan: subscription.PlanFree, messages: 100, images: 10, tokens: 4000, models: 0, price: 0},
		{plan: subscription.PlanBasic, messages: 1000, images: 100, tokens: 8000, models: 3, price: 9.99},
		{plan: subscription.PlanPro, messages: 5000, images: 500, tokens: 16000, models: 10, price: 29.99},
		{plan: subscription.PlanEnterprise, messages: subscription.Unlimited, images: subscription.Unlimited, tokens: 32000, models: subscription.Unlimited, price: 99.99},
	}

	for _, tt := range tests {
		t.Run(string(tt.plan), func(t *testing.T) {
			f := subscription.PlanFeatures(tt.plan)
			if f.MonthlyMessages != tt.messages {
				t.Errorf("MonthlyMessages = %d, want %d", f.MonthlyMessages, tt.messages)
			}
			if f.MonthlyImages != tt.images {
				t.Errorf("MonthlyImages = %d, want %d", f.MonthlyImages, tt.images)
			}
			if f.MaxTokens != tt.tokens {
				t.Errorf("MaxTokens = %d, want %d", f.MaxTokens, tt.tokens)
			}
			if f.CustomModels != tt.models {
				t.Errorf("CustomModels = %d, want %d", f.CustomModels, tt.models)
			}
			if f.Price != tt.price {
				t.Errorf("Price = %v, want %v", f.Price, tt.price)
			}
		})
	}
}

func TestEnsureSubscription_CreatesFreeDefault(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	sub, err := svc.EnsureSubscription(ctx, "u1")
	if err != nil {
		t.Fatalf("EnsureSubscription() error = %v", err)
	}
	if sub.Plan != subscription.PlanFree {
		t.Errorf("Plan = %q, want free", sub.Plan)
	}
	if sub.Status != subscription.StatusActive {
		t.Errorf("Status = %q, want active", sub.Status)
	}

	// Second call returns the existing record, not a fresh one.
	again, err := svc.EnsureSubscription(ctx, "u1")
	if err != nil {
		t.Fatalf("second EnsureSubscription() error = %v", err)
	}
	if !again.StartDate.Equal(sub.StartDate) {
		t.Error("EnsureSubscription() replaced an existing record")
	}
}

func TestCheckUsageLimits_MissingSubscription(t *testing.T) {
	svc := newService(t)
	check, err := svc.CheckUsageLimits(context.Background(), "ghost", subscription.UsageMessage)
	if err != nil {
		t.Fatalf("CheckUsageLimits() error = %v", err)
	}
	if check.CanUse {
		t.Error("missing subscription should not be allowed to consume")
	}
}

func TestConsumeUsage_CountsDown(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	if _, err := svc.EnsureSubscription(ctx, "u1"); err != nil {
		t.Fatal(err)
	}

	check, err := svc.ConsumeUsage(ctx, "u1", subscription.UsageImage, 1)
	if err != nil {
		t.Fatalf("ConsumeUsage() error = %v", err)
	}
	if !check.CanUse {
		t.Fatal("first image should be allowed on the free plan")
	}
	if check.Remaining != 9 {
		t.Errorf("Remaining = %d, want 9", check.Remaining)
	}

	// Exhaust the remaining 9.
	for i := 0; i < 9; i++ {
		if check, err = svc.ConsumeUsage(ctx, "u1", subscription.UsageImage, 1); err != nil {
			t.Fatal(err)
		}
		if !check.CanUse {
			t.Fatalf("image %d should still fit", i+2)
		}
	}

	check, err = svc.ConsumeUsage(ctx, "u1", subscription.UsageImage, 1)
	if err != nil {
		t.Fatal(err)
	}
	if check.CanUse {
		t.Error("11th image should be rejected on the free plan")
	}
	if check.Remaining != 0 {
		t.Errorf("Remaining = %d, want 0", check.Remaining)
	}
}

func TestConsumeUsage_Unlimited(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	if _, err := svc.EnsureSubscription(ctx, "u1"); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.UpdateSubscriptionPlan(ctx, "u1", subscription.PlanEnterprise); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 200; i++ {
		check, err := svc.ConsumeUsage(ctx, "u1", subscription.UsageMessage, 1)
		if err != nil {
			t.Fatal(err)
		}
		if !check.CanUse {
			t.Fatalf("enterprise message %d rejected", i+1)
		}
		if check.Remaining != subscription.Unlimited {
			t.Fatalf("Remaining = %d, want Unlimited", check.Remaining)
		}
	}
}

func TestMonthlyRollover(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	current := time.Date(2026, time.March, 15, 12, 0, 0, 0, time.UTC)
	svc.SetClock(func() time.Time { return current })

	if _, err := svc.EnsureSubscription(ctx, "u1"); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 100; i++ {
		if _, err := svc.ConsumeUsage(ctx, "u1", subscription.UsageMessage, 1); err != nil {
			t.Fatal(err)
		}
	}
	check, err := svc.ConsumeUsage(ctx, "u1", subscription.UsageMessage, 1)
	if err != nil {
		t.Fatal(err)
	}
	if check.CanUse {
		t.Fatal("quota should be exhausted in March")
	}

	// New month, counters reset lazily.
	current = time.Date(2026, time.April, 1, 0, 0, 1, 0, time.UTC)
	check, err = svc.CheckUsageLimits(ctx, "u1", subscription.UsageMessage)
	if err != nil {
		t.Fatal(err)
	}
	if !check.CanUse {
		t.Error("April should start with a fresh message quota")
	}
	if check.Remaining != 100 {
		t.Errorf("Remaining = %d, want 100 after rollover", check.Remaining)
	}

	stats, err := svc.UsageStats(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if stats.Messages.Used != 0 {
		t.Errorf("Used = %d, want 0 after rollover", stats.Messages.Used)
	}
}

func TestUpdateSubscriptionPlan(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	now := time.Date(2026, time.January, 10, 0, 0, 0, 0, time.UTC)
	svc.SetClock(func() time.Time { return now })

	if _, err := svc.EnsureSubscription(ctx, "u1"); err != nil {
		t.Fatal(err)
	}
	// Spend some quota before upgrading; counters must survive.
	if _, err := svc.ConsumeUsage(ctx, "u1", subscription.UsageMessage, 5); err != nil {
		t.Fatal(err)
	}

	sub, err := svc.UpdateSubscriptionPlan(ctx, "u1", subscription.PlanPro)
	if err != nil {
		t.Fatalf("UpdateSubscriptionPlan() error = %v", err)
	}
	if sub.Plan != subscription.PlanPro {
		t.Errorf("Plan = %q, want pro", sub.Plan)
	}
	if sub.Features.MonthlyMessages != 5000 {
		t.Errorf("features not refreshed, MonthlyMessages = %d", sub.Features.MonthlyMessages)
	}
	if sub.EndDate == nil || !sub.EndDate.Equal(now.AddDate(0, 1, 0)) {
		t.Errorf("EndDate = %v, want one month out", sub.EndDate)
	}
	if sub.Usage.Messages != 5 {
		t.Errorf("Usage.Messages = %d, plan change must not reset usage", sub.Usage.Messages)
	}

	// Downgrade to free clears the end date.
	sub, err = svc.UpdateSubscriptionPlan(ctx, "u1", subscription.PlanFree)
	if err != nil {
		t.Fatal(err)
	}
	if sub.EndDate != nil {
		t.Errorf("EndDate = %v, want nil on free", sub.EndDate)
	}

	if _, err := svc.UpdateSubscriptionPlan(ctx, "u1", subscription.Plan("platinum")); err == nil {
		t.Error("unknown plan should be rejected")
	}
}

func TestCancelSubscription(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	if _, err := svc.EnsureSubscription(ctx, "u1"); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.UpdateSubscriptionPlan(ctx, "u1", subscription.PlanPro); err != nil {
		t.Fatal(err)
	}

	sub, err := svc.CancelSubscription(ctx, "u1")
	if err != nil {
		t.Fatalf("CancelSubscription() error = %v", err)
	}
	if sub.Status != subscription.StatusCanceled {
		t.Errorf("Status = %q, want canceled", sub.Status)
	}
	if sub.Plan != subscription.PlanFree {
		t.Errorf("Plan = %q, want immediate downgrade to free", sub.Plan)
	}
	if sub.CanceledAt == nil {
		t.Error("CanceledAt not stamped")
	}

	// A canceled subscription cannot consume anything.
	check, err := svc.ConsumeUsage(ctx, "u1", subscription.UsageMessage, 1)
	if err != nil {
		t.Fatal(err)
	}
	if check.CanUse {
		t.Error("canceled subscription should be denied")
	}
}

func TestExpiredEndDateDenies(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	now := time.Date(2026, time.May, 1, 0, 0, 0, 0, time.UTC)
	svc.SetClock(func() time.Time { return now })

	if _, err := svc.EnsureSubscription(ctx, "u1"); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.UpdateSubscriptionPlan(ctx, "u1", subscription.PlanBasic); err != nil {
		t.Fatal(err)
	}

	// Clock moves past the paid period.
	now = now.AddDate(0, 1, 1)
	check, err := svc.CheckUsageLimits(ctx, "u1", subscription.UsageMessage)
	if err != nil {
		t.Fatal(err)
	}
	if check.CanUse {
		t.Error("expired subscription should be denied")
	}
}

func TestConsumeUsage_ConcurrentNoOvershoot(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	if _, err := svc.EnsureSubscription(ctx, "u1"); err != nil {
		t.Fatal(err)
	}

	// Free plan allows 10 images; fire 50 concurrent requests.
	var wg sync.WaitGroup
	var mu sync.Mutex
	granted := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			check, err := svc.ConsumeUsage(ctx, "u1", subscription.UsageImage, 1)
			if err != nil {
				t.Errorf("ConsumeUsage() error = %v", err)
				return
			}
			if check.CanUse {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if granted != 10 {
		t.Errorf("granted %d images concurrently, want exactly 10", granted)
	}
}

func TestRefundUsage(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	if _, err := svc.EnsureSubscription(ctx, "u1"); err != nil {
		t.Fatal(err)
	}

	if _, err := svc.ConsumeUsage(ctx, "u1", subscription.UsageMessage, 1); err != nil {
		t.Fatal(err)
	}
	if err := svc.RefundUsage(ctx, "u1", subscription.UsageMessage, 1); err != nil {
		t.Fatalf("RefundUsage() error = %v", err)
	}

	sub, err := svc.GetSubscription(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if sub.Usage.Messages != 0 {
		t.Errorf("Messages = %d, want 0 after refund", sub.Usage.Messages)
	}

	// Refunding more than was consumed never goes negative.
	if err := svc.RefundUsage(ctx, "u1", subscription.UsageMessage, 5); err != nil {
		t.Fatal(err)
	}
	sub, _ = svc.GetSubscription(ctx, "u1")
	if sub.Usage.Messages != 0 {
		t.Errorf("Messages = %d, want 0 after over-refund", sub.Usage.Messages)
	}
}
