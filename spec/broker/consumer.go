package broker

import (
	"context"

	"github.com/renewalhq/crt/spec"
)

// Consumer defines the receiving side of the reminder pipeline
type Consumer interface {
	Close()
	ReceiveReminderRequest(ctx context.Context) (<-chan *spec.ReminderRequest, error)
}
