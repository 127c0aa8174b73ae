package broker

import "github.com/renewalhq/crt/spec"

// Producer defines the publishing side of the reminder pipeline
type Producer interface {
	Close()
	SendReminderRequest(p *spec.ReminderRequest) error
}
