package subscription

import (
	"context"
	"fmt"
	"log"
	"time"
)

// LimitCheck is the structured outcome of a quota evaluation. Rejection is a
// value, not an error, so callers branch without exception plumbing.
// Remaining and Limit are Unlimited (-1) for uncapped quotas.
type LimitCheck struct {
	CanUse    bool `json:"canUse"`
	Remaining int  `json:"remaining"`
	Limit     int  `json:"limit"`
}

// KindStats reports one counter for the usage endpoint.
type KindStats struct {
	Used      int `json:"used"`
	Limit     int `json:"limit"`
	Remaining int `json:"remaining"`
}

// Stats aggregates all three counters.
type Stats struct {
	Messages KindStats `json:"messages"`
	Images   KindStats `json:"images"`
	Tokens   KindStats `json:"tokens"`
}

// Service owns the subscription state machine on top of a Store.
type Service struct {
	store  Store
	logger *log.Logger
	now    func() time.Time
}

// NewService creates a Service over the given store.
func NewService(store Store) *Service {
	return &Service{
		store:  store,
		logger: log.New(log.Writer(), "[subscription] ", log.LstdFlags|log.Lmicroseconds),
		now:    time.Now,
	}
}

// SetLogger overrides the default logger; nil keeps the current logger.
func (s *Service) SetLogger(logger *log.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// SetClock overrides the time source, for rollover tests.
func (s *Service) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// EnsureSubscription returns the user's subscription, creating a default
// free one on first access.
func (s *Service) EnsureSubscription(ctx context.Context, userID string) (Subscription, error) {
	sub, err := s.store.Get(ctx, userID)
	if err == nil {
		return sub, nil
	}
	if err != ErrNotFound {
		return Subscription{}, fmt.Errorf("load subscription: %w", err)
	}

	now := s.now()
	sub = Subscription{
		UserID:    userID,
		Plan:      PlanFree,
		Status:    StatusActive,
		StartDate: now,
		Features:  PlanFeatures(PlanFree),
		Usage:     Usage{LastReset: now},
	}
	if err := s.store.Put(ctx, sub); err != nil {
		return Subscription{}, fmt.Errorf("create subscription: %w", err)
	}
	s.logger.Printf("created subscription user=%s plan=%s", userID, PlanFree)
	return sub, nil
}

// GetSubscription loads the user's subscription without creating one.
func (s *Service) GetSubscription(ctx context.Context, userID string) (Subscription, error) {
	return s.store.Get(ctx, userID)
}

// CheckUsageLimits evaluates whether one more unit of the given kind fits.
// A missing subscription yields CanUse=false without an error; creating the
// default record is the caller's job. The monthly rollover is applied to the
// evaluation but persisted only by the next mutation.
func (s *Service) CheckUsageLimits(ctx context.Context, userID string, kind UsageKind) (LimitCheck, error) {
	sub, err := s.store.Get(ctx, userID)
	if err == ErrNotFound {
		return LimitCheck{}, nil
	}
	if err != nil {
		return LimitCheck{}, fmt.Errorf("load subscription: %w", err)
	}

	s.rollover(&sub)
	return s.evaluate(sub, kind, 1), nil
}

// ConsumeUsage is the atomic check-and-increment gating a request: inside a
// single store Apply it rolls the month over, checks the limit, and
// increments only when the amount fits. Two concurrent calls can never
// overshoot the quota.
func (s *Service) ConsumeUsage(ctx context.Context, userID string, kind UsageKind, amount int) (LimitCheck, error) {
	if amount <= 0 {
		amount = 1
	}
	var outcome LimitCheck
	_, err := s.store.Apply(ctx, userID, func(sub *Subscription) error {
		s.rollover(sub)
		outcome = s.evaluate(*sub, kind, amount)
		if outcome.CanUse {
			addUsage(sub, kind, amount)
			if outcome.Remaining != Unlimited {
				outcome.Remaining -= amount
			}
		}
		// Persist the rollover even when the request is rejected.
		return nil
	})
	if err == ErrNotFound {
		return LimitCheck{}, nil
	}
	if err != nil {
		return LimitCheck{}, fmt.Errorf("consume usage: %w", err)
	}
	return outcome, nil
}

// IncrementUsage adds to a counter unconditionally, used to commit token
// consumption reported by the provider after the fact.
func (s *Service) IncrementUsage(ctx context.Context, userID string, kind UsageKind, amount int) error {
	if amount <= 0 {
		amount = 1
	}
	_, err := s.store.Apply(ctx, userID, func(sub *Subscription) error {
		s.rollover(sub)
		addUsage(sub, kind, amount)
		return nil
	})
	if err != nil {
		return fmt.Errorf("increment usage: %w", err)
	}
	return nil
}

// RefundUsage returns a reservation taken by ConsumeUsage when the paid-for
// work never happened (upstream failure, cancellation). Counters never go
// below zero.
func (s *Service) RefundUsage(ctx context.Context, userID string, kind UsageKind, amount int) error {
	if amount <= 0 {
		amount = 1
	}
	_, err := s.store.Apply(ctx, userID, func(sub *Subscription) error {
		s.rollover(sub)
		addUsage(sub, kind, -amount)
		if sub.Usage.Messages < 0 {
			sub.Usage.Messages = 0
		}
		if sub.Usage.Images < 0 {
			sub.Usage.Images = 0
		}
		if sub.Usage.Tokens < 0 {
			sub.Usage.Tokens = 0
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("refund usage: %w", err)
	}
	return nil
}

// UpdateSubscriptionPlan assigns a new plan with a fresh feature snapshot.
// Upgrades get an end date one month out; downgrading to free clears it.
// Usage counters are left untouched.
func (s *Service) UpdateSubscriptionPlan(ctx context.Context, userID string, plan Plan) (Subscription, error) {
	if !ValidPlan(plan) {
		return Subscription{}, fmt.Errorf("unknown plan %q", plan)
	}
	sub, err := s.store.Apply(ctx, userID, func(sub *Subscription) error {
		sub.Plan = plan
		sub.Features = PlanFeatures(plan)
		if plan != PlanFree {
			end := s.now().AddDate(0, 1, 0)
			sub.EndDate = &end
		} else {
			sub.EndDate = nil
		}
		return nil
	})
	if err != nil {
		return Subscription{}, fmt.Errorf("update plan: %w", err)
	}
	s.logger.Printf("updated subscription user=%s plan=%s", userID, plan)
	return sub, nil
}

// CancelSubscription cancels immediately: status flips, CanceledAt is
// stamped, and plan/features drop to the free tier right away rather than at
// period end.
func (s *Service) CancelSubscription(ctx context.Context, userID string) (Subscription, error) {
	sub, err := s.store.Apply(ctx, userID, func(sub *Subscription) error {
		now := s.now()
		sub.Status = StatusCanceled
		sub.CanceledAt = &now
		sub.Plan = PlanFree
		sub.Features = PlanFeatures(PlanFree)
		sub.EndDate = nil
		return nil
	})
	if err != nil {
		return Subscription{}, fmt.Errorf("cancel subscription: %w", err)
	}
	s.logger.Printf("canceled subscription user=%s", userID)
	return sub, nil
}

// UsageStats reports used/limit/remaining per counter.
func (s *Service) UsageStats(ctx context.Context, userID string) (Stats, error) {
	sub, err := s.store.Get(ctx, userID)
	if err != nil {
		return Stats{}, err
	}
	s.rollover(&sub)
	return Stats{
		Messages: kindStats(sub.Usage.Messages, sub.Features.MonthlyMessages),
		Images:   kindStats(sub.Usage.Images, sub.Features.MonthlyImages),
		Tokens:   kindStats(sub.Usage.Tokens, sub.Features.MaxTokens),
	}, nil
}

// rollover zeroes the counters when the wall-clock month or year moved past
// LastReset. No background job exists; every read or mutation path calls
// this first.
func (s *Service) rollover(sub *Subscription) {
	now := s.now()
	last := sub.Usage.LastReset
	if now.Month() != last.Month() || now.Year() != last.Year() {
		sub.Usage = Usage{LastReset: now}
	}
}

func (s *Service) evaluate(sub Subscription, kind UsageKind, amount int) LimitCheck {
	if sub.Status != StatusActive {
		return LimitCheck{}
	}
	if sub.EndDate != nil && s.now().After(*sub.EndDate) {
		return LimitCheck{}
	}

	var limit, used int
	switch kind {
	case UsageMessage:
		limit, used = sub.Features.MonthlyMessages, sub.Usage.Messages
	case UsageImage:
		limit, used = sub.Features.MonthlyImages, sub.Usage.Images
	case UsageToken:
		limit, used = sub.Features.MaxTokens, sub.Usage.Tokens
	default:
		return LimitCheck{}
	}

	if limit == Unlimited {
		return LimitCheck{CanUse: true, Remaining: Unlimited, Limit: Unlimited}
	}
	remaining := limit - used
	if remaining < 0 {
		remaining = 0
	}
	return LimitCheck{CanUse: remaining >= amount, Remaining: remaining, Limit: limit}
}

func addUsage(sub *Subscription, kind UsageKind, amount int) {
	switch kind {
	case UsageMessage:
		sub.Usage.Messages += amount
	case UsageImage:
		sub.Usage.Images += amount
	case UsageToken:
		sub.Usage.Tokens += amount
	}
}

func kindStats(used, limit int) KindStats {
	remaining := limit - used
	if limit == Unlimited {
		remaining = Unlimited
	} else if remaining < 0 {
		remaining = 0
	}
	return KindStats{Used: used, Limit: limit, Remaining: remaining}
}
