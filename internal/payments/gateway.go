package payments

import "context"

// Order is an external payment provider's record of an amount to collect,
// referenced by the appointment until paid.
type Order struct {
	ID          string
	AmountMinor int64
	Currency    string
}

// Gateway creates provider-side orders. Signature verification is NOT part
// of this port: the reconciliation secret is held by the booking core's
// configuration, never by the gateway adapter.
type Gateway interface {
	CreateOrder(ctx context.Context, amountMinor int64, currency string, metadata map[string]string) (Order, error)
}
