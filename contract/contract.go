package contract

import (
	"math"
	"time"
)

// Status is the lifecycle state of a tracked contract
type Status string

// Contracts are never hard-deleted; termination is a status change so the
// renewal history stays auditable
const (
	StatusActive     Status = "Active"
	StatusRenewed    Status = "Renewed"
	StatusTerminated Status = "Terminated"
)

// Contract describes one vendor contract a user tracks for renewal
type Contract struct {
	ID               string    `json:"id" gorm:"primaryKey"`
	UserID           string    `json:"userId" gorm:"index"`
	Vendor           string    `json:"vendor"`
	Title            string    `json:"title"`
	Status           Status    `json:"status"`
	DocumentKey      string    `json:"-"` // object store key of the uploaded document
	StartDate        time.Time `json:"startDate"`
	EndDate          time.Time `json:"endDate"`
	NoticePeriodDays int       `json:"noticePeriodDays"` // days of notice required to avoid auto-renewal
	AutoRenews       bool      `json:"autoRenews"`
	AnnualValueCents int64     `json:"annualValueCents"`
	Currency         string    `json:"currency"`
	Clauses          []Clause  `json:"clauses"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// Clause is one extracted contract clause worth surfacing at renewal time
type Clause struct {
	ID         string `json:"id" gorm:"primaryKey"`
	ContractID string `json:"contractId" gorm:"index"`
	Kind       string `json:"kind"` // e.g. termination, price-escalation, liability
	Summary    string `json:"summary"`
}

// RenewalDeadline is the last day the user can act before the contract
// auto-renews (or lapses): the end date minus the notice period
func (c *Contract) RenewalDeadline() time.Time {
	return c.EndDate.AddDate(0, 0, -c.NoticePeriodDays)
}

// DaysUntilRenewal returns whole days from now until the renewal deadline,
// rounded up. Negative means the deadline has passed.
func (c *Contract) DaysUntilRenewal(now time.Time) int {
	return int(math.Ceil(c.RenewalDeadline().Sub(now).Hours() / 24))
}
