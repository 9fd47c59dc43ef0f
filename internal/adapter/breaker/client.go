package breaker

import (
	"context"

	"go.uber.org/zap"

	"github.com/yourorg/stripe-gateway/internal/adapter"
)

// ErrCircuitOpen is returned, wrapped in a RemoteError, while the circuit is open.
var ErrCircuitOpen = &adapter.RemoteError{
	Type:    adapter.ErrorTypeAPIConnection,
	Message: "circuit open: remote processor unavailable",
}

// Client decorates a RemoteClient with a circuit breaker.
type Client struct {
	next    adapter.RemoteClient
	breaker *CircuitBreaker
	logger  *zap.Logger
}

var _ adapter.RemoteClient = (*Client)(nil)

// NewClient wraps next. It panics if next or cb is nil.
func NewClient(next adapter.RemoteClient, cb *CircuitBreaker, logger *zap.Logger) *Client {
	if next == nil {
		panic("NewClient: next remote client cannot be nil")
	}
	if cb == nil {
		panic("NewClient: circuit breaker cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{next: next, breaker: cb, logger: logger}
}

// Breaker returns the underlying breaker.
func (c *Client) Breaker() *CircuitBreaker { return c.breaker }

func call[T any](c *Client, op string, fn func() (T, error)) (T, error) {
	if !c.breaker.AllowRequest() {
		rejectionsTotal.Inc()
		c.logger.Warn("remote call rejected", zap.String("operation", op), zap.String("provider", c.next.GetName()))
		var zero T
		rejected := *ErrCircuitOpen
		return zero, &rejected
	}
	res, err := fn()
	if IsFailure(err) {
		c.breaker.RecordFailure()
		if c.breaker.GetState() == Open {
			c.logger.Error("circuit opened", zap.String("operation", op), zap.Error(err))
		}
	} else {
		c.breaker.RecordSuccess()
	}
	return res, err
}

func (c *Client) CreateIntent(ctx context.Context, params adapter.IntentParams) (*adapter.Intent, error) {
	return call(c, "create_intent", func() (*adapter.Intent, error) { return c.next.CreateIntent(ctx, params) })
}

func (c *Client) RetrieveIntent(ctx context.Context, id string) (*adapter.Intent, error) {
	return call(c, "retrieve_intent", func() (*adapter.Intent, error) { return c.next.RetrieveIntent(ctx, id) })
}

func (c *Client) UpdateIntent(ctx context.Context, id string, metadata map[string]string) (*adapter.Intent, error) {
	return call(c, "update_intent", func() (*adapter.Intent, error) { return c.next.UpdateIntent(ctx, id, metadata) })
}

func (c *Client) ConfirmIntent(ctx context.Context, id string) (*adapter.Intent, error) {
	return call(c, "confirm_intent", func() (*adapter.Intent, error) { return c.next.ConfirmIntent(ctx, id) })
}

func (c *Client) CaptureIntent(ctx context.Context, id string, amountToCapture int64) (*adapter.Intent, error) {
	return call(c, "capture_intent", func() (*adapter.Intent, error) { return c.next.CaptureIntent(ctx, id, amountToCapture) })
}

func (c *Client) CancelIntent(ctx context.Context, id string) (*adapter.Intent, error) {
	return call(c, "cancel_intent", func() (*adapter.Intent, error) { return c.next.CancelIntent(ctx, id) })
}

func (c *Client) RetrieveCharge(ctx context.Context, id string) (*adapter.Charge, error) {
	return call(c, "retrieve_charge", func() (*adapter.Charge, error) { return c.next.RetrieveCharge(ctx, id) })
}

func (c *Client) CaptureCharge(ctx context.Context, id string, amount int64) (*adapter.Charge, error) {
	return call(c, "capture_charge", func() (*adapter.Charge, error) { return c.next.CaptureCharge(ctx, id, amount) })
}

func (c *Client) CreateRefund(ctx context.Context, params adapter.RefundParams) (*adapter.Refund, error) {
	return call(c, "create_refund", func() (*adapter.Refund, error) { return c.next.CreateRefund(ctx, params) })
}

func (c *Client) RetrievePaymentMethod(ctx context.Context, id string) (*adapter.PaymentMethod, error) {
	return call(c, "retrieve_payment_method", func() (*adapter.PaymentMethod, error) { return c.next.RetrievePaymentMethod(ctx, id) })
}

func (c *Client) CreatePaymentMethod(ctx context.Context, cardToken string) (*adapter.PaymentMethod, error) {
	return call(c, "create_payment_method", func() (*adapter.PaymentMethod, error) { return c.next.CreatePaymentMethod(ctx, cardToken) })
}

func (c *Client) UpdatePaymentMethod(ctx context.Context, id string, billing adapter.BillingDetails) (*adapter.PaymentMethod, error) {
	return call(c, "update_payment_method", func() (*adapter.PaymentMethod, error) { return c.next.UpdatePaymentMethod(ctx, id, billing) })
}

func (c *Client) AttachPaymentMethod(ctx context.Context, id, customerID string) (*adapter.PaymentMethod, error) {
	return call(c, "attach_payment_method", func() (*adapter.PaymentMethod, error) { return c.next.AttachPaymentMethod(ctx, id, customerID) })
}

func (c *Client) DetachPaymentMethod(ctx context.Context, id string) (*adapter.PaymentMethod, error) {
	return call(c, "detach_payment_method", func() (*adapter.PaymentMethod, error) { return c.next.DetachPaymentMethod(ctx, id) })
}

func (c *Client) CreateCustomer(ctx context.Context, params adapter.CustomerParams) (*adapter.Customer, error) {
	return call(c, "create_customer", func() (*adapter.Customer, error) { return c.next.CreateCustomer(ctx, params) })
}

func (c *Client) RetrieveBalance(ctx context.Context) (*adapter.Balance, error) {
	return call(c, "retrieve_balance", func() (*adapter.Balance, error) { return c.next.RetrieveBalance(ctx) })
}

func (c *Client) GetName() string { return c.next.GetName() }
