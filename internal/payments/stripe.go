package payments

import (
	"context"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/paymentintent"
)

// StripeGateway backs the Gateway port with Stripe PaymentIntents.
type StripeGateway struct {
	timeout time.Duration
}

func NewStripeGateway(secretKey string, timeout time.Duration) *StripeGateway {
	stripe.Key = strings.TrimSpace(secretKey)
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &StripeGateway{timeout: timeout}
}

func (g *StripeGateway) CreateOrder(ctx context.Context, amountMinor int64, currency string, metadata map[string]string) (Order, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(amountMinor),
		Currency: stripe.String(strings.ToLower(currency)),
	}
	params.Context = ctx
	for k, v := range metadata {
		params.AddMetadata(k, v)
	}

	pi, err := paymentintent.New(params)
	if err != nil {
		return Order{}, err
	}
	return Order{
		ID:          pi.ID,
		AmountMinor: pi.Amount,
		Currency:    strings.ToUpper(string(pi.Currency)),
	}, nil
}
