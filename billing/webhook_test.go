package billing_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"path/filepath"
	"testing"
	"time"

	"github.com/renewalhq/crt/billing"
	"github.com/renewalhq/crt/user"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v72"
	"go.uber.org/zap"
)

type fakeStore struct {
	byStripeID map[string]*billing.Subscription
	upserts    int
	changes    int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		byStripeID: make(map[string]*billing.Subscription),
	}
}

func (s *fakeStore) Upsert(ctx context.Context, sub *billing.Subscription) error {
	s.upserts++
	if existing, ok := s.byStripeID[sub.StripeSubscriptionID]; ok {
		// replace in place, keep the original primary key
		sub.ID = existing.ID
	}
	copied := *sub
	s.byStripeID[sub.StripeSubscriptionID] = &copied
	return nil
}

func (s *fakeStore) ApplyChange(ctx context.Context, stripeSubscriptionID string, change billing.Change) error {
	s.changes++
	sub, ok := s.byStripeID[stripeSubscriptionID]
	if !ok {
		return billing.ErrSubscriptionNotFound
	}
	if change.Status != nil {
		sub.Status = *change.Status
	}
	if change.CurrentPeriodStart != nil {
		sub.CurrentPeriodStart = *change.CurrentPeriodStart
	}
	if change.CurrentPeriodEnd != nil {
		sub.CurrentPeriodEnd = *change.CurrentPeriodEnd
	}
	if change.CancelAtPeriodEnd != nil {
		sub.CancelAtPeriodEnd = *change.CancelAtPeriodEnd
	}
	return nil
}

func (s *fakeStore) GetByStripeID(ctx context.Context, stripeSubscriptionID string) (*billing.Subscription, error) {
	sub, ok := s.byStripeID[stripeSubscriptionID]
	if !ok {
		return nil, nil
	}
	return sub, nil
}

type fakeDirectory struct {
	byEmail map[string]*user.User
}

func (d *fakeDirectory) GetByEmail(ctx context.Context, email string) (*user.User, error) {
	return d.byEmail[email], nil
}

type fakeFetcher struct {
	sub     *stripe.Subscription
	fetches int
}

func (f *fakeFetcher) Fetch(ctx context.Context, stripeSubscriptionID string) (*stripe.Subscription, error) {
	f.fetches++
	if f.sub == nil {
		return nil, fmt.Errorf("no such subscription: %s", stripeSubscriptionID)
	}
	return f.sub, nil
}

type fakeEventLog struct {
	processed map[string]bool
	seenErr   error
}

func newFakeEventLog() *fakeEventLog {
	return &fakeEventLog{
		processed: make(map[string]bool),
	}
}

func (l *fakeEventLog) Seen(ctx context.Context, eventID string) (bool, error) {
	if l.seenErr != nil {
		return false, l.seenErr
	}
	return l.processed[eventID], nil
}

func (l *fakeEventLog) MarkProcessed(ctx context.Context, eventID string) error {
	l.processed[eventID] = true
	return nil
}

func testPriceTable(t *testing.T) *billing.PriceTable {
	t.Helper()
	path := filepath.Join(t.TempDir(), "prices.json")
	prices := `{"price_starter": "Starter", "price_pro": "Professional", "price_ent": "Enterprise"}`
	require.NoError(t, ioutil.WriteFile(path, []byte(prices), 0600))

	table, err := billing.NewPriceTable(billing.PriceTableOptions{
		Logger:          zap.NewNop(),
		PathToPriceJSON: path,
	})
	require.NoError(t, err)
	return table
}

type webhookFixture struct {
	store    *fakeStore
	dir      *fakeDirectory
	fetcher  *fakeFetcher
	eventLog *fakeEventLog
	webhook  *billing.Webhook
}

func newWebhookFixture(t *testing.T) *webhookFixture {
	t.Helper()
	f := &webhookFixture{
		store: newFakeStore(),
		dir: &fakeDirectory{
			byEmail: map[string]*user.User{
				"alice@example.com": {
					ID:    "user-alice",
					Email: "alice@example.com",
				},
			},
		},
		fetcher:  &fakeFetcher{},
		eventLog: newFakeEventLog(),
	}
	wh, err := billing.NewWebhook(billing.WebhookOptions{
		SubscriptionStore: f.store,
		UserDirectory:     f.dir,
		Fetcher:           f.fetcher,
		EventLog:          f.eventLog,
		PriceTable:        testPriceTable(t),
		Logger:            zap.NewNop(),
	})
	require.NoError(t, err)
	f.webhook = wh
	return f
}

func makeEvent(id, eventType string, object map[string]interface{}) stripe.Event {
	raw, err := json.Marshal(object)
	if err != nil {
		panic(err)
	}
	return stripe.Event{
		ID:   id,
		Type: eventType,
		Data: &stripe.EventData{
			Raw: raw,
		},
	}
}

func subscriptionObject(id string) map[string]interface{} {
	return map[string]interface{}{
		"id":                   id,
		"customer":             "cus_100",
		"status":               "active",
		"current_period_start": 1700000000,
		"current_period_end":   1702592000,
		"cancel_at_period_end": false,
		"items": map[string]interface{}{
			"data": []interface{}{
				map[string]interface{}{
					"price": map[string]interface{}{
						"id": "price_pro",
					},
				},
			},
		},
		"metadata": map[string]interface{}{
			"customer_email": "alice@example.com",
		},
	}
}

func TestWebhookSubscriptionCreated(t *testing.T) {
	t.Parallel()

	t.Run("MaterializesRecord", func(t *testing.T) {
		t.Parallel()
		f := newWebhookFixture(t)

		event := makeEvent("evt_1", "customer.subscription.created", subscriptionObject("sub_1"))
		require.NoError(t, f.webhook.Process(context.Background(), event))

		sub, err := f.store.GetByStripeID(context.Background(), "sub_1")
		require.NoError(t, err)
		require.NotNil(t, sub)
		assert.Equal(t, "user-alice", sub.UserID)
		assert.Equal(t, "cus_100", sub.StripeCustomerID)
		assert.Equal(t, billing.PlanProfessional, sub.PlanName)
		assert.Equal(t, billing.StatusActive, sub.Status)
		assert.Equal(t, time.Unix(1700000000, 0), sub.CurrentPeriodStart)
		assert.Equal(t, time.Unix(1702592000, 0), sub.CurrentPeriodEnd)
		assert.False(t, sub.CancelAtPeriodEnd)
		assert.NotEmpty(t, sub.ID)
	})

	t.Run("RedeliveryWithDistinctEventIDDoesNotDuplicate", func(t *testing.T) {
		t.Parallel()
		f := newWebhookFixture(t)

		// Stripe may send the same logical change under different event ids,
		// so the store-level upsert has to carry idempotency on its own
		require.NoError(t, f.webhook.Process(context.Background(), makeEvent("evt_1", "customer.subscription.created", subscriptionObject("sub_1"))))
		require.NoError(t, f.webhook.Process(context.Background(), makeEvent("evt_2", "customer.subscription.created", subscriptionObject("sub_1"))))

		assert.Equal(t, 2, f.store.upserts)
		assert.Len(t, f.store.byStripeID, 1)
	})

	t.Run("DuplicateEventIDShortCircuits", func(t *testing.T) {
		t.Parallel()
		f := newWebhookFixture(t)

		event := makeEvent("evt_1", "customer.subscription.created", subscriptionObject("sub_1"))
		require.NoError(t, f.webhook.Process(context.Background(), event))
		require.NoError(t, f.webhook.Process(context.Background(), event))

		assert.Equal(t, 1, f.store.upserts)
	})

	t.Run("EventLogFailureStillProcesses", func(t *testing.T) {
		t.Parallel()
		f := newWebhookFixture(t)
		f.eventLog.seenErr = fmt.Errorf("redis is down")

		event := makeEvent("evt_1", "customer.subscription.created", subscriptionObject("sub_1"))
		require.NoError(t, f.webhook.Process(context.Background(), event))

		assert.Equal(t, 1, f.store.upserts)
	})

	t.Run("UnknownUserFailsClosed", func(t *testing.T) {
		t.Parallel()
		f := newWebhookFixture(t)

		obj := subscriptionObject("sub_1")
		obj["metadata"] = map[string]interface{}{
			"customer_email": "nobody@example.com",
		}
		err := f.webhook.Process(context.Background(), makeEvent("evt_1", "customer.subscription.created", obj))
		require.Error(t, err)
		assert.ErrorIs(t, err, billing.ErrUserNotFound)
		assert.Equal(t, 0, f.store.upserts)

		// a failed event must not be marked processed, redelivery retries it
		seen, seenErr := f.eventLog.Seen(context.Background(), "evt_1")
		require.NoError(t, seenErr)
		assert.False(t, seen)
	})

	t.Run("MissingEmailIsMalformed", func(t *testing.T) {
		t.Parallel()
		f := newWebhookFixture(t)

		obj := subscriptionObject("sub_1")
		delete(obj, "metadata")
		err := f.webhook.Process(context.Background(), makeEvent("evt_1", "customer.subscription.created", obj))
		assert.ErrorIs(t, err, billing.ErrMalformedEvent)
	})

	t.Run("UnmappedPriceFallsBackToMetadataPlan", func(t *testing.T) {
		t.Parallel()
		f := newWebhookFixture(t)

		obj := subscriptionObject("sub_1")
		obj["items"] = map[string]interface{}{
			"data": []interface{}{
				map[string]interface{}{
					"price": map[string]interface{}{
						"id": "price_not_in_table",
					},
				},
			},
		}
		obj["metadata"] = map[string]interface{}{
			"customer_email": "alice@example.com",
			"plan_name":      "enterprise",
		}
		require.NoError(t, f.webhook.Process(context.Background(), makeEvent("evt_1", "customer.subscription.created", obj)))

		sub, err := f.store.GetByStripeID(context.Background(), "sub_1")
		require.NoError(t, err)
		require.NotNil(t, sub)
		assert.Equal(t, billing.PlanEnterprise, sub.PlanName)
	})
}

func TestWebhookCheckoutCompleted(t *testing.T) {
	t.Parallel()

	t.Run("FetchesFullSubscription", func(t *testing.T) {
		t.Parallel()
		f := newWebhookFixture(t)
		f.fetcher.sub = &stripe.Subscription{
			ID:                 "sub_1",
			Customer:           &stripe.Customer{ID: "cus_100"},
			Status:             stripe.SubscriptionStatusTrialing,
			CurrentPeriodStart: 1700000000,
			CurrentPeriodEnd:   1702592000,
			Items: &stripe.SubscriptionItemList{
				Data: []*stripe.SubscriptionItem{
					{Price: &stripe.Price{ID: "price_starter"}},
				},
			},
		}

		event := makeEvent("evt_1", "checkout.session.completed", map[string]interface{}{
			"id":           "cs_1",
			"subscription": "sub_1",
			"customer_details": map[string]interface{}{
				"email": "alice@example.com",
			},
		})
		require.NoError(t, f.webhook.Process(context.Background(), event))

		assert.Equal(t, 1, f.fetcher.fetches)
		sub, err := f.store.GetByStripeID(context.Background(), "sub_1")
		require.NoError(t, err)
		require.NotNil(t, sub)
		assert.Equal(t, billing.PlanStarter, sub.PlanName)
		assert.Equal(t, billing.StatusTrialing, sub.Status)
	})

	t.Run("CustomerDetailsEmailWinsOverLegacyField", func(t *testing.T) {
		t.Parallel()
		f := newWebhookFixture(t)
		f.fetcher.sub = &stripe.Subscription{
			ID:                 "sub_1",
			Customer:           &stripe.Customer{ID: "cus_100"},
			Status:             stripe.SubscriptionStatusActive,
			CurrentPeriodStart: 1700000000,
			CurrentPeriodEnd:   1702592000,
		}

		// customer_details carries the address actually entered at checkout;
		// the top-level customer_email is the stale pre-filled one
		event := makeEvent("evt_1", "checkout.session.completed", map[string]interface{}{
			"id":             "cs_1",
			"subscription":   "sub_1",
			"customer_email": "old-address@example.com",
			"customer_details": map[string]interface{}{
				"email": "alice@example.com",
			},
		})
		require.NoError(t, f.webhook.Process(context.Background(), event))

		sub, err := f.store.GetByStripeID(context.Background(), "sub_1")
		require.NoError(t, err)
		require.NotNil(t, sub)
		assert.Equal(t, "user-alice", sub.UserID)
	})

	t.Run("OneTimePaymentSessionIgnored", func(t *testing.T) {
		t.Parallel()
		f := newWebhookFixture(t)

		event := makeEvent("evt_1", "checkout.session.completed", map[string]interface{}{
			"id": "cs_1",
			"customer_details": map[string]interface{}{
				"email": "alice@example.com",
			},
		})
		require.NoError(t, f.webhook.Process(context.Background(), event))

		assert.Equal(t, 0, f.fetcher.fetches)
		assert.Equal(t, 0, f.store.upserts)
	})
}

func TestWebhookSubscriptionUpdated(t *testing.T) {
	t.Parallel()

	t.Run("MirrorsChanges", func(t *testing.T) {
		t.Parallel()
		f := newWebhookFixture(t)

		require.NoError(t, f.webhook.Process(context.Background(), makeEvent("evt_1", "customer.subscription.created", subscriptionObject("sub_1"))))

		obj := subscriptionObject("sub_1")
		obj["status"] = "past_due"
		obj["cancel_at_period_end"] = true
		obj["current_period_end"] = 1705270400
		require.NoError(t, f.webhook.Process(context.Background(), makeEvent("evt_2", "customer.subscription.updated", obj)))

		sub, err := f.store.GetByStripeID(context.Background(), "sub_1")
		require.NoError(t, err)
		require.NotNil(t, sub)
		assert.Equal(t, billing.StatusPastDue, sub.Status)
		assert.True(t, sub.CancelAtPeriodEnd)
		assert.Equal(t, time.Unix(1705270400, 0), sub.CurrentPeriodEnd)
		// plan is set at creation and never re-derived on update
		assert.Equal(t, billing.PlanProfessional, sub.PlanName)
	})

	t.Run("OutOfOrderFailsClosed", func(t *testing.T) {
		t.Parallel()
		f := newWebhookFixture(t)

		err := f.webhook.Process(context.Background(), makeEvent("evt_1", "customer.subscription.updated", subscriptionObject("sub_never_created")))
		assert.ErrorIs(t, err, billing.ErrSubscriptionNotFound)

		seen, seenErr := f.eventLog.Seen(context.Background(), "evt_1")
		require.NoError(t, seenErr)
		assert.False(t, seen)
	})
}

func TestWebhookSubscriptionDeleted(t *testing.T) {
	t.Parallel()

	f := newWebhookFixture(t)
	require.NoError(t, f.webhook.Process(context.Background(), makeEvent("evt_1", "customer.subscription.created", subscriptionObject("sub_1"))))

	require.NoError(t, f.webhook.Process(context.Background(), makeEvent("evt_2", "customer.subscription.deleted", subscriptionObject("sub_1"))))

	sub, err := f.store.GetByStripeID(context.Background(), "sub_1")
	require.NoError(t, err)
	require.NotNil(t, sub)
	// cancellation keeps the row for history
	assert.Equal(t, billing.StatusCanceled, sub.Status)
}

func TestWebhookPaymentOutcome(t *testing.T) {
	t.Parallel()

	t.Run("FailureMarksPastDue", func(t *testing.T) {
		t.Parallel()
		f := newWebhookFixture(t)
		require.NoError(t, f.webhook.Process(context.Background(), makeEvent("evt_1", "customer.subscription.created", subscriptionObject("sub_1"))))

		event := makeEvent("evt_2", "invoice.payment_failed", map[string]interface{}{
			"id":           "in_1",
			"subscription": "sub_1",
		})
		require.NoError(t, f.webhook.Process(context.Background(), event))

		sub, err := f.store.GetByStripeID(context.Background(), "sub_1")
		require.NoError(t, err)
		assert.Equal(t, billing.StatusPastDue, sub.Status)
	})

	t.Run("SuccessRestoresActive", func(t *testing.T) {
		t.Parallel()
		f := newWebhookFixture(t)

		obj := subscriptionObject("sub_1")
		obj["status"] = "past_due"
		require.NoError(t, f.webhook.Process(context.Background(), makeEvent("evt_1", "customer.subscription.created", obj)))

		event := makeEvent("evt_2", "invoice.payment_succeeded", map[string]interface{}{
			"id":           "in_1",
			"subscription": "sub_1",
		})
		require.NoError(t, f.webhook.Process(context.Background(), event))

		sub, err := f.store.GetByStripeID(context.Background(), "sub_1")
		require.NoError(t, err)
		assert.Equal(t, billing.StatusActive, sub.Status)
	})

	t.Run("InvoiceWithoutSubscriptionIgnored", func(t *testing.T) {
		t.Parallel()
		f := newWebhookFixture(t)

		event := makeEvent("evt_1", "invoice.payment_succeeded", map[string]interface{}{
			"id": "in_1",
		})
		require.NoError(t, f.webhook.Process(context.Background(), event))
		assert.Equal(t, 0, f.store.changes)
	})
}

func TestWebhookDispatch(t *testing.T) {
	t.Parallel()

	t.Run("UnknownEventTypeAcknowledged", func(t *testing.T) {
		t.Parallel()
		f := newWebhookFixture(t)

		event := makeEvent("evt_1", "customer.tax_id.created", map[string]interface{}{
			"id": "txi_1",
		})
		require.NoError(t, f.webhook.Process(context.Background(), event))
		assert.Equal(t, 0, f.store.upserts)
		assert.Equal(t, 0, f.store.changes)
	})

	t.Run("MalformedPayloadErrors", func(t *testing.T) {
		t.Parallel()
		f := newWebhookFixture(t)

		event := stripe.Event{
			ID:   "evt_1",
			Type: "customer.subscription.updated",
			Data: &stripe.EventData{
				Raw: json.RawMessage(`{"id": 42}`),
			},
		}
		err := f.webhook.Process(context.Background(), event)
		assert.ErrorIs(t, err, billing.ErrMalformedEvent)
	})

	t.Run("SubscriptionWithoutIDIsMalformed", func(t *testing.T) {
		t.Parallel()
		f := newWebhookFixture(t)

		event := makeEvent("evt_1", "customer.subscription.deleted", map[string]interface{}{
			"status": "canceled",
		})
		err := f.webhook.Process(context.Background(), event)
		assert.ErrorIs(t, err, billing.ErrMalformedEvent)
	})
}
