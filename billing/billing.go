package billing

import "time"

// Status mirrors the payment processor's subscription status vocabulary.
// The reconciler never invents a status, it only records what Stripe reports.
type Status string

// Statuses the dashboard cares about. Other values Stripe may report are
// stored verbatim as well.
const (
	StatusActive     Status = "active"
	StatusPastDue    Status = "past_due"
	StatusCanceled   Status = "canceled"
	StatusIncomplete Status = "incomplete"
	StatusTrialing   Status = "trialing"
)

// PlanName is the product tier a subscription is billed under
type PlanName string

// Defined tiers
const (
	PlanStarter      PlanName = "Starter"
	PlanProfessional PlanName = "Professional"
	PlanEnterprise   PlanName = "Enterprise"
	PlanUnknown      PlanName = "Unknown"
)

// Subscription is the local mirror of one user's billing state. There is at
// most one row per Stripe subscription id; cancellation is a status change,
// never a row deletion.
type Subscription struct {
	ID                   string    `json:"id" gorm:"primaryKey"`
	UserID               string    `json:"userId" gorm:"index"`
	StripeCustomerID     string    `json:"-" gorm:"index"`
	StripeSubscriptionID string    `json:"-" gorm:"uniqueIndex"` // upsert key for webhook reconciliation
	PlanName             PlanName  `json:"planName"`
	Status               Status    `json:"status"`
	CurrentPeriodStart   time.Time `json:"currentPeriodStart"`
	CurrentPeriodEnd     time.Time `json:"currentPeriodEnd"`
	CancelAtPeriodEnd    bool      `json:"cancelAtPeriodEnd"`
	CreatedAt            time.Time `json:"createdAt"`
	UpdatedAt            time.Time `json:"updatedAt"`
}
