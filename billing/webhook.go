package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/renewalhq/crt/user"

	"github.com/google/uuid"
	extErrors "github.com/pkg/errors"
	"github.com/stripe/stripe-go/v72"
	"github.com/stripe/stripe-go/v72/client"
	"go.uber.org/zap"
)

// Stripe event types the reconciler models. Anything else is acknowledged
// and ignored, since Stripe adds types faster than integrators model them.
const (
	eventCheckoutCompleted   = "checkout.session.completed"
	eventSubscriptionCreated = "customer.subscription.created"
	eventSubscriptionUpdated = "customer.subscription.updated"
	eventSubscriptionDeleted = "customer.subscription.deleted"
	eventPaymentSucceeded    = "invoice.payment_succeeded"
	eventPaymentFailed       = "invoice.payment_failed"
)

// SubscriptionStore is the subscription record collaborator
type SubscriptionStore interface {
	Upsert(ctx context.Context, sub *Subscription) error
	ApplyChange(ctx context.Context, stripeSubscriptionID string, change Change) error
	GetByStripeID(ctx context.Context, stripeSubscriptionID string) (*Subscription, error)
}

// UserDirectory resolves local users by email address
type UserDirectory interface {
	GetByEmail(ctx context.Context, email string) (*user.User, error)
}

// SubscriptionFetcher retrieves the authoritative subscription object from
// Stripe. Checkout sessions don't embed price/period details, so creation
// events need one round-trip upstream.
type SubscriptionFetcher interface {
	Fetch(ctx context.Context, stripeSubscriptionID string) (*stripe.Subscription, error)
}

type stripeFetcher struct {
	api *client.API
}

func (f *stripeFetcher) Fetch(ctx context.Context, stripeSubscriptionID string) (*stripe.Subscription, error) {
	params := &stripe.SubscriptionParams{
		Params: stripe.Params{
			Context: ctx,
		},
	}
	sub, err := f.api.Subscriptions.Get(stripeSubscriptionID, params)
	if err != nil {
		return nil, extErrors.Wrap(err, "Unable to fetch subscription from Stripe")
	}
	return sub, nil
}

// NewStripeFetcher returns a SubscriptionFetcher over the injected Stripe client
func NewStripeFetcher(api *client.API) (SubscriptionFetcher, error) {
	if api == nil {
		return nil, fmt.Errorf("nil Stripe client is invalid")
	}
	return &stripeFetcher{api: api}, nil
}

// WebhookOptions contains the collaborators for the webhook reconciler
type WebhookOptions struct {
	SubscriptionStore SubscriptionStore
	UserDirectory     UserDirectory
	Fetcher           SubscriptionFetcher
	EventLog          EventLog
	PriceTable        *PriceTable
	Logger            *zap.Logger
}

// Webhook reconciles Stripe billing events into local subscription records.
// Every handler is safe under duplicate and out-of-order delivery: creation
// upserts by stripe subscription id, mutation fails closed on a missing row
// so Stripe's redelivery can heal the race once the creation event lands.
type Webhook struct {
	WebhookOptions
}

// NewWebhook will create the webhook reconciler with its collaborators
func NewWebhook(option WebhookOptions) (*Webhook, error) {
	if option.SubscriptionStore == nil {
		return nil, fmt.Errorf("nil SubscriptionStore is invalid")
	}
	if option.UserDirectory == nil {
		return nil, fmt.Errorf("nil UserDirectory is invalid")
	}
	if option.Fetcher == nil {
		return nil, fmt.Errorf("nil Fetcher is invalid")
	}
	if option.EventLog == nil {
		return nil, fmt.Errorf("nil EventLog is invalid")
	}
	if option.PriceTable == nil {
		return nil, fmt.Errorf("nil PriceTable is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	return &Webhook{
		WebhookOptions: option,
	}, nil
}

// Process dispatches one verified event to its handler. A nil return means
// the event is fully reconciled (or benignly ignored) and the sender can be
// acknowledged.
func (wh *Webhook) Process(ctx context.Context, event stripe.Event) error {
	logger := wh.Logger.With(
		zap.String("EventID", event.ID),
		zap.String("EventType", string(event.Type)),
	)

	seen, err := wh.EventLog.Seen(ctx, event.ID)
	if err != nil {
		// the upsert/update semantics below stay idempotent without the log
		logger.Warn("Event log unavailable, processing without dedup",
			zap.Error(err),
		)
	} else if seen {
		logger.Info("Duplicate delivery, already processed")
		return nil
	}

	switch string(event.Type) {
	case eventCheckoutCompleted:
		err = wh.handleCheckoutCompleted(ctx, logger, event.Data.Raw)
	case eventSubscriptionCreated:
		err = wh.handleSubscriptionCreated(ctx, logger, event.Data.Raw)
	case eventSubscriptionUpdated:
		err = wh.handleSubscriptionUpdated(ctx, logger, event.Data.Raw)
	case eventSubscriptionDeleted:
		err = wh.handleSubscriptionDeleted(ctx, logger, event.Data.Raw)
	case eventPaymentSucceeded:
		err = wh.handlePaymentOutcome(ctx, logger, event.Data.Raw, StatusActive)
	case eventPaymentFailed:
		err = wh.handlePaymentOutcome(ctx, logger, event.Data.Raw, StatusPastDue)
	default:
		logger.Info("Ignoring unrecognized event type")
		return nil
	}
	if err != nil {
		return err
	}

	if err := wh.EventLog.MarkProcessed(ctx, event.ID); err != nil {
		// a redelivery will re-run the handler, which is safe
		logger.Warn("Cannot record processed event",
			zap.Error(err),
		)
	}
	return nil
}

// handleCheckoutCompleted materializes a subscription record when the user
// completes checkout. The session only carries ids, so the full subscription
// object is fetched from Stripe before reconciling.
func (wh *Webhook) handleCheckoutCompleted(ctx context.Context, logger *zap.Logger, raw json.RawMessage) error {
	var sess stripe.CheckoutSession
	if err := json.Unmarshal(raw, &sess); err != nil {
		return extErrors.Wrap(ErrMalformedEvent, err.Error())
	}

	if sess.Subscription == nil || len(sess.Subscription.ID) == 0 {
		// one-time payment session, nothing to reconcile
		logger.Info("Checkout session has no subscription, ignoring")
		return nil
	}

	email := sess.CustomerEmail
	if sess.CustomerDetails != nil && len(sess.CustomerDetails.Email) > 0 {
		email = sess.CustomerDetails.Email
	}
	if len(email) == 0 {
		email = sess.Metadata["customer_email"]
	}

	sub, err := wh.Fetcher.Fetch(ctx, sess.Subscription.ID)
	if err != nil {
		return err
	}

	return wh.reconcileCreation(ctx, logger, email, sub)
}

// handleSubscriptionCreated materializes a subscription record directly from
// the subscription object embedded in the event
func (wh *Webhook) handleSubscriptionCreated(ctx context.Context, logger *zap.Logger, raw json.RawMessage) error {
	var sub stripe.Subscription
	if err := json.Unmarshal(raw, &sub); err != nil {
		return extErrors.Wrap(ErrMalformedEvent, err.Error())
	}
	if len(sub.ID) == 0 {
		return extErrors.Wrap(ErrMalformedEvent, "subscription object has no id")
	}

	// customer is not expanded in webhook payloads; checkout flow puts the
	// email into subscription metadata for exactly this reason
	return wh.reconcileCreation(ctx, logger, sub.Metadata["customer_email"], &sub)
}

// reconcileCreation is the shared creation path: resolve the owning user by
// email, resolve the plan from the price table, then upsert keyed by stripe
// subscription id. Redelivery replaces fields in place, never inserts twice.
func (wh *Webhook) reconcileCreation(ctx context.Context, logger *zap.Logger, email string, sub *stripe.Subscription) error {
	logger = logger.With(zap.String("StripeSubscriptionID", sub.ID))

	if len(email) == 0 {
		return extErrors.Wrap(ErrMalformedEvent, "event carries no customer email")
	}

	u, err := wh.UserDirectory.GetByEmail(ctx, email)
	if err != nil {
		return extErrors.Wrap(err, "Cannot resolve user by email")
	}
	if u == nil {
		logger.Error("No local user for billing event, manual reconciliation may be needed",
			zap.String("Email", email),
			zap.String("StripeCustomerID", stripeCustomerID(sub)),
		)
		return extErrors.Wrap(ErrUserNotFound, email)
	}

	var priceID string
	if sub.Items != nil && len(sub.Items.Data) > 0 && sub.Items.Data[0].Price != nil {
		priceID = sub.Items.Data[0].Price.ID
	}
	plan := wh.PriceTable.Resolve(priceID, sub.Metadata["plan_name"])

	record := &Subscription{
		ID:                   uuid.New().String(),
		UserID:               u.ID,
		StripeCustomerID:     stripeCustomerID(sub),
		StripeSubscriptionID: sub.ID,
		PlanName:             plan,
		Status:               Status(sub.Status),
		CurrentPeriodStart:   time.Unix(sub.CurrentPeriodStart, 0),
		CurrentPeriodEnd:     time.Unix(sub.CurrentPeriodEnd, 0),
		CancelAtPeriodEnd:    sub.CancelAtPeriodEnd,
	}

	if err := wh.SubscriptionStore.Upsert(ctx, record); err != nil {
		return err
	}

	logger.Info("Reconciled subscription creation",
		zap.String("UserID", u.ID),
		zap.String("PlanName", string(plan)),
		zap.String("Status", string(record.Status)),
	)
	return nil
}

// handleSubscriptionUpdated mirrors status/period/cancel-flag changes onto
// the matching row. The plan name is set once at creation and not re-derived.
func (wh *Webhook) handleSubscriptionUpdated(ctx context.Context, logger *zap.Logger, raw json.RawMessage) error {
	var sub stripe.Subscription
	if err := json.Unmarshal(raw, &sub); err != nil {
		return extErrors.Wrap(ErrMalformedEvent, err.Error())
	}
	if len(sub.ID) == 0 {
		return extErrors.Wrap(ErrMalformedEvent, "subscription object has no id")
	}

	status := Status(sub.Status)
	periodStart := time.Unix(sub.CurrentPeriodStart, 0)
	periodEnd := time.Unix(sub.CurrentPeriodEnd, 0)
	cancel := sub.CancelAtPeriodEnd

	err := wh.SubscriptionStore.ApplyChange(ctx, sub.ID, Change{
		Status:             &status,
		CurrentPeriodStart: &periodStart,
		CurrentPeriodEnd:   &periodEnd,
		CancelAtPeriodEnd:  &cancel,
	})
	if extErrors.Is(err, ErrSubscriptionNotFound) {
		// distinguishable from store failures so operators can tell an
		// out-of-order race from real data loss
		logger.Error("Update for subscription never reconciled locally, possible out-of-order delivery",
			zap.String("StripeSubscriptionID", sub.ID),
		)
	}
	return err
}

// handleSubscriptionDeleted marks the subscription canceled without removing
// history. Re-applying to an already-canceled row is a no-op status-wise.
func (wh *Webhook) handleSubscriptionDeleted(ctx context.Context, logger *zap.Logger, raw json.RawMessage) error {
	var sub stripe.Subscription
	if err := json.Unmarshal(raw, &sub); err != nil {
		return extErrors.Wrap(ErrMalformedEvent, err.Error())
	}
	if len(sub.ID) == 0 {
		return extErrors.Wrap(ErrMalformedEvent, "subscription object has no id")
	}

	status := StatusCanceled
	err := wh.SubscriptionStore.ApplyChange(ctx, sub.ID, Change{
		Status: &status,
	})
	if extErrors.Is(err, ErrSubscriptionNotFound) {
		logger.Error("Deletion for subscription never reconciled locally, possible out-of-order delivery",
			zap.String("StripeSubscriptionID", sub.ID),
		)
	}
	return err
}

// handlePaymentOutcome adjusts subscription status from dunning outcomes.
// Invoices not tied to a subscription are ignored, not treated as an error.
func (wh *Webhook) handlePaymentOutcome(ctx context.Context, logger *zap.Logger, raw json.RawMessage, outcome Status) error {
	var inv stripe.Invoice
	if err := json.Unmarshal(raw, &inv); err != nil {
		return extErrors.Wrap(ErrMalformedEvent, err.Error())
	}

	if inv.Subscription == nil || len(inv.Subscription.ID) == 0 {
		logger.Info("Invoice has no associated subscription, ignoring")
		return nil
	}

	err := wh.SubscriptionStore.ApplyChange(ctx, inv.Subscription.ID, Change{
		Status: &outcome,
	})
	if extErrors.Is(err, ErrSubscriptionNotFound) {
		logger.Error("Payment outcome for subscription never reconciled locally, possible out-of-order delivery",
			zap.String("StripeSubscriptionID", inv.Subscription.ID),
		)
	}
	return err
}

func stripeCustomerID(sub *stripe.Subscription) string {
	if sub.Customer == nil {
		return ""
	}
	return sub.Customer.ID
}
