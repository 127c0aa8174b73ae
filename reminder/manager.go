package reminder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/renewalhq/crt/spec"

	"github.com/google/uuid"
	extErrors "github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ManagerOptions contains the dependencies for the reminder Manager
type ManagerOptions struct {
	DB     *gorm.DB
	Logger *zap.Logger
}

// Manager handles the database operations relating to Reminders
type Manager struct {
	ManagerOptions
}

// NewManager returns a new Manager for reminders
func NewManager(option ManagerOptions) (*Manager, error) {
	if option.DB == nil {
		return nil, fmt.Errorf("nil DB is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	if err := option.DB.AutoMigrate(&Reminder{}); err != nil {
		return nil, extErrors.Wrap(err, "Cannot initialize reminder.Manager")
	}
	return &Manager{
		ManagerOptions: option,
	}, nil
}

// ScheduleOption identifies a reminder to schedule
type ScheduleOption struct {
	ContractID string
	UserID     string
	Window     spec.ReminderWindow
}

// Schedule inserts the reminder row if it does not already exist. The bool
// is true when this call created the row, false when it existed already, so
// the scanner enqueues a message at most once per (contract, window).
func (m *Manager) Schedule(ctx context.Context, opt ScheduleOption) (*Reminder, bool, error) {
	if len(opt.ContractID) == 0 || len(opt.UserID) == 0 {
		return nil, false, fmt.Errorf("ContractID and UserID are required")
	}

	rem := &Reminder{
		ID:         uuid.New().String(),
		ContractID: opt.ContractID,
		Window:     opt.Window,
		UserID:     opt.UserID,
		EnqueuedAt: time.Now(),
	}
	result := m.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "contract_id"}, {Name: "window"}},
		DoNothing: true,
	}).Create(rem)
	if result.Error != nil {
		m.Logger.Error("Unable to schedule reminder in database",
			zap.String("ContractID", opt.ContractID),
			zap.Error(result.Error),
		)
		return nil, false, extErrors.Wrap(result.Error, "Cannot schedule reminder")
	}
	if result.RowsAffected == 0 {
		return nil, false, nil
	}
	return rem, true, nil
}

// Get will try to return the reminder row by id
func (m *Manager) Get(ctx context.Context, reminderID string) (*Reminder, error) {
	var rem Reminder

	result := m.DB.WithContext(ctx).First(&rem, "id = ?", reminderID)

	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, nil
	}

	if result.Error != nil {
		m.Logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, extErrors.Wrap(result.Error, "Cannot get reminder")
	}

	return &rem, nil
}

// MarkSent records the delivery time of a reminder
func (m *Manager) MarkSent(ctx context.Context, reminderID string) error {
	result := m.DB.WithContext(ctx).
		Model(&Reminder{}).
		Where("id = ?", reminderID).
		Update("sent_at", time.Now())
	if result.Error != nil {
		return extErrors.Wrap(result.Error, "Cannot mark reminder as sent")
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("no reminder with id %s", reminderID)
	}
	return nil
}
