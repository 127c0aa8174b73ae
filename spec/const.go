package spec

import "time"

// Define constants shared between the API, the reminder scanner, and the worker
const (
	// ScanInterval is how often the reminder scanner looks for contracts
	// entering a reminder window
	ScanInterval time.Duration = time.Minute * 15

	// StoreTimeout bounds a single round-trip to the database so an uncertain
	// write surfaces as a retryable error instead of hanging the request
	StoreTimeout time.Duration = time.Second * 10
)

// ReminderWindow is the number of days before a contract's renewal deadline
// at which a reminder becomes due
type ReminderWindow int

// Reminders are sent as the deadline crosses each window, farthest first
const (
	Window90 ReminderWindow = 90
	Window60 ReminderWindow = 60
	Window30 ReminderWindow = 30
)

// Windows lists all reminder windows in descending order
var Windows = []ReminderWindow{Window90, Window60, Window30}
