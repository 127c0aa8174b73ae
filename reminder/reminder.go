package reminder

import (
	"time"

	"github.com/renewalhq/crt/spec"
)

// Reminder is one scheduled renewal reminder for one contract and window.
// The (contract, window) pair is unique so the scanner can run as often as
// it likes without double-scheduling.
type Reminder struct {
	ID         string              `json:"id" gorm:"primaryKey"`
	ContractID string              `json:"contractId" gorm:"uniqueIndex:idx_reminder_contract_window"`
	Window     spec.ReminderWindow `json:"window" gorm:"uniqueIndex:idx_reminder_contract_window"`
	UserID     string              `json:"userId" gorm:"index"`
	EnqueuedAt time.Time           `json:"enqueuedAt"`
	SentAt     *time.Time          `json:"sentAt"`
}
