package reminder

import (
	"context"
	"fmt"
	"time"

	"github.com/renewalhq/crt/contract"
	"github.com/renewalhq/crt/spec"
	specBroker "github.com/renewalhq/crt/spec/broker"
	"github.com/renewalhq/crt/user"

	extErrors "github.com/pkg/errors"
	"go.uber.org/zap"
)

// TaskOptions contains the dependencies for the reminder scanner
type TaskOptions struct {
	ContractManager *contract.Manager
	UserManager     *user.Manager
	ReminderManager *Manager
	Producer        specBroker.Producer
	Logger          *zap.Logger
}

// Task periodically scans for contracts entering a reminder window and
// enqueues a send request for each, exactly once per (contract, window)
type Task struct {
	TaskOptions
}

// NewTask will create the reminder scanner
func NewTask(option TaskOptions) (*Task, error) {
	if option.ContractManager == nil {
		return nil, fmt.Errorf("nil ContractManager is invalid")
	}
	if option.UserManager == nil {
		return nil, fmt.Errorf("nil UserManager is invalid")
	}
	if option.ReminderManager == nil {
		return nil, fmt.Errorf("nil ReminderManager is invalid")
	}
	if option.Producer == nil {
		return nil, fmt.Errorf("nil Producer is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	return &Task{
		TaskOptions: option,
	}, nil
}

// ScanOnce runs a single pass over all reminder windows
func (t *Task) ScanOnce(ctx context.Context) error {
	now := time.Now()
	for _, window := range spec.Windows {
		contracts, err := t.ContractManager.ListExpiring(ctx, contract.ExpiringOption{
			Window:    window,
			Reference: now,
		})
		if err != nil {
			return extErrors.Wrap(err, "Cannot list expiring contracts")
		}
		for k := range contracts {
			if err := t.enqueue(ctx, &contracts[k], window); err != nil {
				// keep scanning, the next pass retries this contract
				t.Logger.Error("Cannot enqueue reminder",
					zap.String("ContractID", contracts[k].ID),
					zap.Int("Window", int(window)),
					zap.Error(err),
				)
			}
		}
	}
	return nil
}

func (t *Task) enqueue(ctx context.Context, c *contract.Contract, window spec.ReminderWindow) error {
	rem, created, err := t.ReminderManager.Schedule(ctx, ScheduleOption{
		ContractID: c.ID,
		UserID:     c.UserID,
		Window:     window,
	})
	if err != nil {
		return err
	}
	if !created {
		// already scheduled on a previous pass
		return nil
	}

	u, err := t.UserManager.GetByID(ctx, c.UserID)
	if err != nil {
		return err
	}
	if u == nil {
		return fmt.Errorf("contract %s references missing user %s", c.ID, c.UserID)
	}

	return t.Producer.SendReminderRequest(&spec.ReminderRequest{
		ReminderID:      rem.ID,
		ContractID:      c.ID,
		UserID:          u.ID,
		Email:           u.Email,
		Vendor:          c.Vendor,
		ContractTitle:   c.Title,
		Window:          window,
		RenewalDeadline: c.RenewalDeadline(),
	})
}

// Run scans on a fixed interval until ctx is cancelled
func (t *Task) Run(ctx context.Context) {
	tick := time.NewTicker(spec.ScanInterval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			if err := t.ScanOnce(ctx); err != nil {
				t.Logger.Error("Reminder scan failed",
					zap.Error(err),
				)
			}
		}
	}
}
