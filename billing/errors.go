package billing

import "errors"

// Reconciliation failures the webhook service maps onto HTTP statuses.
// Wrapped errors carry event context; use errors.Is to classify.
var (
	// ErrUserNotFound means a checkout/creation event referenced an email
	// with no matching local user. User provisioning precedes checkout, so
	// this either resolves on redelivery or needs manual reconciliation.
	ErrUserNotFound = errors.New("billing: no user with matching email")

	// ErrSubscriptionNotFound means an update/delete/payment event arrived
	// for a Stripe subscription id that was never reconciled locally,
	// usually out-of-order delivery racing the creation event.
	ErrSubscriptionNotFound = errors.New("billing: no subscription with matching stripe id")

	// ErrMalformedEvent means an authentic event payload did not decode
	// into the shape its type implies.
	ErrMalformedEvent = errors.New("billing: malformed event payload")
)
