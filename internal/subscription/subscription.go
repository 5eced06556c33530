// Package subscription implements the per-user plan, status and usage
// accounting that gates every AI request.
package subscription

import (
	"context"
	"errors"
	"time"
)

// Plan identifies a subscription tier.
type Plan string

const (
	PlanFree       Plan = "free"
	PlanBasic      Plan = "basic"
	PlanPro        Plan = "pro"
	PlanEnterprise Plan = "enterprise"
)

// ValidPlan reports whether p names a known tier.
func ValidPlan(p Plan) bool {
	switch p {
	case PlanFree, PlanBasic, PlanPro, PlanEnterprise:
		return true
	}
	return false
}

// Status captures the lifecycle state of a subscription. Only active
// subscriptions permit consumption.
type Status string

const (
	StatusActive   Status = "active"
	StatusCanceled Status = "canceled"
	StatusExpired  Status = "expired"
	StatusPending  Status = "pending"
)

// UsageKind selects which counter an operation touches.
type UsageKind string

const (
	UsageMessage UsageKind = "message"
	UsageImage   UsageKind = "image"
	UsageToken   UsageKind = "token"
)

// Unlimited marks a quota with no cap.
const Unlimited = -1

// Features is the quota/feature bundle snapshotted from the plan catalog at
// assignment time. Catalog changes never retroactively alter an existing
// subscription until the plan is reassigned.
type Features struct {
	MonthlyMessages int     `json:"monthlyMessages"`
	MonthlyImages   int     `json:"monthlyImages"`
	MaxTokens       int     `json:"maxTokens"`
	CustomModels    int     `json:"customModels"`
	PrioritySupport bool    `json:"prioritySupport"`
	Price           float64 `json:"price"`
}

// Usage holds the monthly counters. LastReset decides staleness: counters
// whose LastReset month/year differ from the wall clock are treated as zero.
type Usage struct {
	Messages  int       `json:"messages"`
	Images    int       `json:"images"`
	Tokens    int       `json:"tokens"`
	LastReset time.Time `json:"lastReset"`
}

// Subscription is the single accounting record per user. It is never hard
// deleted; cancellation only transitions Status.
type Subscription struct {
	UserID     string     `json:"userId"`
	Plan       Plan       `json:"plan"`
	Status     Status     `json:"status"`
	StartDate  time.Time  `json:"startDate"`
	EndDate    *time.Time `json:"endDate,omitempty"`
	Features   Features   `json:"features"`
	Usage      Usage      `json:"usage"`
	CanceledAt *time.Time `json:"canceledAt,omitempty"`
}

// PlanFeatures returns the catalog bundle for a plan. The values are the
// product contract, not tunable defaults. Unknown plans fall back to free.
func PlanFeatures(plan Plan) Features {
	switch plan {
	case PlanBasic:
		return Features{MonthlyMessages: 1000, MonthlyImages: 100, MaxTokens: 8000, CustomModels: 3, PrioritySupport: false, Price: 9.99}
	case PlanPro:
		return Features{MonthlyMessages: 5000, MonthlyImages: 500, MaxTokens: 16000, CustomModels: 10, PrioritySupport: true, Price: 29.99}
	case PlanEnterprise:
		return Features{MonthlyMessages: Unlimited, MonthlyImages: Unlimited, MaxTokens: 32000, CustomModels: Unlimited, PrioritySupport: true, Price: 99.99}
	default:
		return Features{MonthlyMessages: 100, MonthlyImages: 10, MaxTokens: 4000, CustomModels: 0, PrioritySupport: false, Price: 0}
	}
}

// AllPlans lists the catalog in tier order for the plans endpoint.
func AllPlans() []Plan {
	return []Plan{PlanFree, PlanBasic, PlanPro, PlanEnterprise}
}

// PlanName returns the display name of a plan.
func PlanName(plan Plan) string {
	switch plan {
	case PlanFree:
		return "Free"
	case PlanBasic:
		return "Basic"
	case PlanPro:
		return "Pro"
	case PlanEnterprise:
		return "Enterprise"
	default:
		return "Unknown"
	}
}

// ErrNotFound is returned by stores when a user has no subscription record.
var ErrNotFound = errors.New("subscription not found")

// Store persists one subscription per user with read-after-write consistency
// per key. Apply runs fn inside a per-user serialized read-modify-write so
// check-and-increment can be atomic; fn returning an error aborts the write.
type Store interface {
	Get(ctx context.Context, userID string) (Subscription, error)
	Put(ctx context.Context, sub Subscription) error
	Apply(ctx context.Context, userID string, fn func(*Subscription) error) (Subscription, error)
	Close() error
}
