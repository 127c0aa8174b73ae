package spec

import "time"

// ReminderRequest is the message published by the reminder scanner and
// consumed by the mail worker. Encoded as JSON on the wire; delivery is
// at-least-once, so consumers must treat it as idempotent.
type ReminderRequest struct {
	ReminderID      string         `json:"reminderId"`
	ContractID      string         `json:"contractId"`
	UserID          string         `json:"userId"`
	Email           string         `json:"email"`
	Vendor          string         `json:"vendor"`
	ContractTitle   string         `json:"contractTitle"`
	Window          ReminderWindow `json:"window"`
	RenewalDeadline time.Time      `json:"renewalDeadline"`
}
