package user

import "time"

// User describes an account holder in CRT
type User struct {
	ID               string    `json:"id" gorm:"primaryKey"`
	Email            string    `json:"email" gorm:"uniqueIndex"`
	CompanyName      string    `json:"companyName"`
	StripeCustomerID string    `json:"-" gorm:"index"` // Corresponds to Stripe's Customer ID
	CreatedAt        time.Time `json:"createdAt"`
}
