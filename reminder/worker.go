package reminder

import (
	"context"
	"fmt"

	"github.com/renewalhq/crt/mail"
	"github.com/renewalhq/crt/spec"
	specBroker "github.com/renewalhq/crt/spec/broker"

	extErrors "github.com/pkg/errors"
	"go.uber.org/zap"
)

// WorkerOptions contains the dependencies for the reminder mail worker
type WorkerOptions struct {
	Consumer        specBroker.Consumer
	ReminderManager *Manager
	Mailer          mail.Mailer
	Logger          *zap.Logger
}

// Worker consumes reminder requests off the broker and delivers the emails.
// Delivery is at-least-once: the SentAt check makes a redelivered message a
// no-op instead of a duplicate email.
type Worker struct {
	WorkerOptions
}

// NewWorker will create the reminder mail worker
func NewWorker(option WorkerOptions) (*Worker, error) {
	if option.Consumer == nil {
		return nil, fmt.Errorf("nil Consumer is invalid")
	}
	if option.ReminderManager == nil {
		return nil, fmt.Errorf("nil ReminderManager is invalid")
	}
	if option.Mailer == nil {
		return nil, fmt.Errorf("nil Mailer is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	return &Worker{
		WorkerOptions: option,
	}, nil
}

func (w *Worker) deliver(ctx context.Context, req *spec.ReminderRequest) error {
	rem, err := w.ReminderManager.Get(ctx, req.ReminderID)
	if err != nil {
		return err
	}
	if rem == nil {
		return fmt.Errorf("reminder %s no longer exists", req.ReminderID)
	}
	if rem.SentAt != nil {
		// redelivered message, email already went out
		return nil
	}

	email := mail.RenewalReminder(req.Vendor, req.ContractTitle, req.Window, req.RenewalDeadline)
	email.To = req.Email
	if err := w.Mailer.Send(ctx, email); err != nil {
		return extErrors.Wrap(err, "Cannot deliver reminder email")
	}

	return w.ReminderManager.MarkSent(ctx, req.ReminderID)
}

// Run consumes reminder requests until ctx is cancelled
func (w *Worker) Run(ctx context.Context) error {
	rChan, err := w.Consumer.ReceiveReminderRequest(ctx)
	if err != nil {
		return extErrors.Wrap(err, "Cannot get reminder request channel")
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case req, ok := <-rChan:
			if !ok {
				return nil
			}
			if err := w.deliver(ctx, req); err != nil {
				w.Logger.Error("Cannot process reminder request",
					zap.String("ReminderID", req.ReminderID),
					zap.String("ContractID", req.ContractID),
					zap.Error(err),
				)
			}
		}
	}
}
