package billing

import (
	"context"
	"fmt"
	"io/ioutil"
	"net/http"

	"github.com/renewalhq/crt/auth"
	resp "github.com/renewalhq/crt/response"
	"github.com/renewalhq/crt/spec"

	"github.com/go-chi/chi"
	extErrors "github.com/pkg/errors"
	"github.com/stripe/stripe-go/v72"
	"github.com/stripe/stripe-go/v72/webhook"
	"go.uber.org/zap"
)

// webhookBodyLimit caps the raw payload read for signature verification
const webhookBodyLimit = 1 << 20

// ServiceOptions contains the configuration for the Service router
type ServiceOptions struct {
	Webhook             *Webhook
	SubscriptionManager *Manager
	Auth                *auth.Auth
	Logger              *zap.Logger
	WebhookSecret       string
}

// Service is the billing API router. It hosts the server-to-server webhook
// endpoint plus the authenticated subscription read for the dashboard.
type Service struct {
	ServiceOptions
}

// NewService will create an instance of the billing API router
func NewService(option ServiceOptions) (*Service, error) {
	if option.Webhook == nil {
		return nil, fmt.Errorf("nil Webhook is invalid")
	}
	if option.SubscriptionManager == nil {
		return nil, fmt.Errorf("nil SubscriptionManager is invalid")
	}
	if option.Auth == nil {
		return nil, fmt.Errorf("nil Auth is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	if len(option.WebhookSecret) == 0 {
		return nil, fmt.Errorf("empty WebhookSecret is invalid")
	}
	return &Service{
		ServiceOptions: option,
	}, nil
}

// handleWebhook verifies and reconciles one Stripe event delivery.
// The body must stay unparsed until the signature is checked, and
// verification performs no writes, so a forged request cannot induce
// partial state change.
func (s *Service) handleWebhook(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, webhookBodyLimit)
	payload, err := ioutil.ReadAll(r.Body)
	if err != nil {
		resp.WriteError(w, r, resp.ErrBadRequest().AddMessages("Cannot read request body"))
		return
	}

	sig := r.Header.Get("Stripe-Signature")
	if len(sig) == 0 {
		s.Logger.Warn("Webhook delivery without signature header")
		resp.WriteError(w, r, resp.ErrInvalidSignature())
		return
	}

	event, err := webhook.ConstructEvent(payload, sig, s.WebhookSecret)
	if err != nil {
		s.Logger.Warn("Webhook signature verification failed",
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrInvalidSignature())
		return
	}

	// a hung store round-trip becomes a retryable 500 instead of holding
	// the webhook request open past the sender's own delivery timeout
	ctx, cancel := context.WithTimeout(r.Context(), spec.StoreTimeout)
	defer cancel()

	if err := s.process(ctx, event); err != nil {
		if extErrors.Is(err, ErrMalformedEvent) {
			s.Logger.Error("Authentic event with malformed payload",
				zap.String("EventID", event.ID),
				zap.String("EventType", string(event.Type)),
				zap.Error(err),
			)
			resp.WriteError(w, r, resp.ErrBadRequest().AddMessages("Malformed event payload"))
			return
		}
		// 500 prompts Stripe to redeliver with backoff
		s.Logger.Error("Reconciliation failed",
			zap.String("EventID", event.ID),
			zap.String("EventType", string(event.Type)),
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrUnexpected().AddMessages("Event not processed"))
		return
	}

	resp.WriteResponse(w, r, struct {
		Received bool `json:"received"`
	}{
		Received: true,
	})
}

// process shields the HTTP boundary from handler panics so one bad payload
// cannot take the process down; the sender sees a 500 and retries
func (s *Service) process(ctx context.Context, event stripe.Event) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic while processing event %s: %v", event.ID, rec)
		}
	}()
	return s.Webhook.Process(ctx, event)
}

func (s *Service) getSubscription(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims := ctx.Value(auth.Context).(*auth.Claims)

	sub, err := s.SubscriptionManager.GetByUser(ctx, claims.ID)
	if err != nil {
		s.Logger.Error("Unable to query subscription",
			zap.String("UserID", claims.ID),
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrUnexpected().AddMessages("Cannot get subscription"))
		return
	}
	if sub == nil {
		resp.WriteError(w, r, resp.ErrNotFound().AddMessages("No subscription on file"))
		return
	}

	resp.WriteResponse(w, r, sub)
}

// Router will return the routes under the billing API
func (s *Service) Router() http.Handler {
	r := chi.NewRouter()

	r.Post("/webhook", s.handleWebhook)

	r.Group(func(r chi.Router) {
		r.Use(s.Auth.Middleware())
		r.Get("/", s.getSubscription)
	})

	return r
}
