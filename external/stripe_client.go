package external

import "github.com/stripe/stripe-go/v72/client"

// NewStripeClient returns an explicitly constructed Stripe API client.
// Injected into managers instead of relying on the package-level singleton,
// so configuration is validated once at process init.
func NewStripeClient(key string) *client.API {
	sc := &client.API{}
	sc.Init(key, nil)
	return sc
}
