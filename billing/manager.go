package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	extErrors "github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Change is a partial update applied to an existing subscription row.
// Nil fields are left untouched; UpdatedAt always advances.
type Change struct {
	Status             *Status
	CurrentPeriodStart *time.Time
	CurrentPeriodEnd   *time.Time
	CancelAtPeriodEnd  *bool
}

// ManagerOptions contains the dependencies for the billing Manager
type ManagerOptions struct {
	DB     *gorm.DB
	Logger *zap.Logger
}

// Manager handles the database operations relating to Subscriptions
type Manager struct {
	ManagerOptions
}

// NewManager returns a new Manager for subscription records
func NewManager(option ManagerOptions) (*Manager, error) {
	if option.DB == nil {
		return nil, fmt.Errorf("nil DB is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	if err := option.DB.AutoMigrate(&Subscription{}); err != nil {
		return nil, extErrors.Wrap(err, "Cannot initialize billing.Manager")
	}
	return &Manager{
		ManagerOptions: option,
	}, nil
}

// upsertColumns are the fields replaced when a creation event is redelivered
// for an existing stripe subscription id. The primary key keeps its first
// value so redelivery never produces a second row.
var upsertColumns = []string{
	"user_id",
	"stripe_customer_id",
	"plan_name",
	"status",
	"current_period_start",
	"current_period_end",
	"cancel_at_period_end",
	"updated_at",
}

// Upsert will insert the subscription row, or replace the billing fields of
// the existing row keyed by stripe subscription id
func (m *Manager) Upsert(ctx context.Context, sub *Subscription) error {
	result := m.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "stripe_subscription_id"}},
		DoUpdates: clause.AssignmentColumns(upsertColumns),
	}).Create(sub)
	if result.Error != nil {
		m.Logger.Error("Unable to upsert subscription in database",
			zap.String("StripeSubscriptionID", sub.StripeSubscriptionID),
			zap.Error(result.Error),
		)
		return extErrors.Wrap(result.Error, "Cannot upsert subscription")
	}
	return nil
}

// ApplyChange will update the matching row in place. A missing row surfaces
// as ErrSubscriptionNotFound so callers can tell an out-of-order delivery
// from a store failure.
func (m *Manager) ApplyChange(ctx context.Context, stripeSubscriptionID string, change Change) error {
	if len(stripeSubscriptionID) == 0 {
		return fmt.Errorf("empty stripeSubscriptionID is invalid")
	}

	updates := map[string]interface{}{
		"updated_at": time.Now(),
	}
	if change.Status != nil {
		updates["status"] = *change.Status
	}
	if change.CurrentPeriodStart != nil {
		updates["current_period_start"] = *change.CurrentPeriodStart
	}
	if change.CurrentPeriodEnd != nil {
		updates["current_period_end"] = *change.CurrentPeriodEnd
	}
	if change.CancelAtPeriodEnd != nil {
		updates["cancel_at_period_end"] = *change.CancelAtPeriodEnd
	}

	result := m.DB.WithContext(ctx).
		Model(&Subscription{}).
		Where("stripe_subscription_id = ?", stripeSubscriptionID).
		Updates(updates)
	if result.Error != nil {
		m.Logger.Error("Unable to update subscription in database",
			zap.String("StripeSubscriptionID", stripeSubscriptionID),
			zap.Error(result.Error),
		)
		return extErrors.Wrap(result.Error, "Cannot update subscription")
	}
	if result.RowsAffected == 0 {
		return ErrSubscriptionNotFound
	}
	return nil
}

// GetByStripeID will try to return the subscription row by stripe subscription id
func (m *Manager) GetByStripeID(ctx context.Context, stripeSubscriptionID string) (*Subscription, error) {
	var sub Subscription

	result := m.DB.WithContext(ctx).First(&sub, "stripe_subscription_id = ?", stripeSubscriptionID)

	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, nil
	}

	if result.Error != nil {
		m.Logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, extErrors.Wrap(result.Error, "Cannot get subscription by stripe id")
	}

	return &sub, nil
}

// GetByUser will try to return the user's subscription row
func (m *Manager) GetByUser(ctx context.Context, userID string) (*Subscription, error) {
	var sub Subscription

	result := m.DB.WithContext(ctx).
		Order("updated_at desc").
		First(&sub, "user_id = ?", userID)

	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, nil
	}

	if result.Error != nil {
		m.Logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, extErrors.Wrap(result.Error, "Cannot get subscription by user")
	}

	return &sub, nil
}
