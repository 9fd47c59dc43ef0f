// Package adapter defines the call surface of the remote card processor and
// the provider-neutral objects it returns. Implementations live in
// sub-packages (stripe, mock) and are decorated by breaker.
// Every call is a direct, blocking round trip: no retry or backoff happens here.
package adapter

import (
	"context"
	"fmt"
)

// IntentStatus is the remote status of a payment intent.
type IntentStatus string

const (
	IntentRequiresPaymentMethod IntentStatus = "requires_payment_method"
	IntentRequiresConfirmation  IntentStatus = "requires_confirmation"
	IntentRequiresAction        IntentStatus = "requires_action"
	IntentProcessing            IntentStatus = "processing"
	IntentRequiresCapture       IntentStatus = "requires_capture"
	IntentSucceeded             IntentStatus = "succeeded"
	IntentCanceled              IntentStatus = "canceled"
)

// Capture methods accepted by CreateIntent.
const (
	CaptureAutomatic = "automatic"
	CaptureManual    = "manual"
)

// IntentError is the structured last payment error of an intent.
type IntentError struct {
	Type        string
	Code        string
	DeclineCode string
	Message     string
}

// Intent is a remote payment intent.
type Intent struct {
	ID       string
	Status   IntentStatus
	Amount   int64
	Currency string
	Metadata map[string]string
	// LastError is set when the processor returned a structured error.
	LastError *IntentError
	// LastErrorText is an unstructured last error, used when LastError is nil.
	LastErrorText  string
	LatestChargeID string
	CaptureMethod  string
	CustomerID     string
}

// Charge is a remote charge.
type Charge struct {
	ID              string
	PaymentIntentID string
	Amount          int64
	Captured        bool
	Status          string
	FailureCode     string
	FailureMessage  string
}

// Refund is a remote refund.
type Refund struct {
	ID              string
	Amount          int64
	ChargeID        string
	PaymentIntentID string
	Status          string
	FailureCode     string
	FailureMessage  string
}

// Card is the card sub-object of a remote payment method.
type Card struct {
	Brand    string
	Last4    string
	ExpMonth int
	ExpYear  int
}

// PaymentMethod is a remote tokenized payment method.
type PaymentMethod struct {
	ID         string
	CustomerID string
	Card       *Card
	Billing    *BillingDetails
}

// Customer is a remote customer record.
type Customer struct {
	ID    string
	Email string
}

// Balance is the remote account balance; only the mode is of interest.
type Balance struct {
	Livemode bool
}

// IntentParams are the attributes of a new payment intent.
type IntentParams struct {
	Amount             int64
	Currency           string
	PaymentMethodTypes []string
	PaymentMethodID    string
	CustomerID         string
	CaptureMethod      string
	Confirm            bool
	OffSession         bool
	Metadata           map[string]string
}

// RefundParams address a refund at an intent or, for legacy payments, a charge.
// A nil Amount refunds the full remaining amount.
type RefundParams struct {
	PaymentIntentID string
	ChargeID        string
	Amount          *int64
	IdempotencyKey  string
}

// Int64 returns a pointer to v, for RefundParams.Amount.
func Int64(v int64) *int64 { return &v }

// BillingAddress is the remote billing address.
type BillingAddress struct {
	City       string
	Country    string
	Line1      string
	Line2      string
	PostalCode string
	State      string
}

// BillingDetails are pushed to a payment method once a customer is known.
type BillingDetails struct {
	Email   string
	Name    string
	Address *BillingAddress
}

// CustomerParams create a remote customer bound to a payment method.
type CustomerParams struct {
	Email           string
	Description     string
	PaymentMethodID string
}

// RemoteClient is the remote processor's object surface.
type RemoteClient interface {
	CreateIntent(ctx context.Context, params IntentParams) (*Intent, error)
	RetrieveIntent(ctx context.Context, id string) (*Intent, error)
	UpdateIntent(ctx context.Context, id string, metadata map[string]string) (*Intent, error)
	ConfirmIntent(ctx context.Context, id string) (*Intent, error)
	CaptureIntent(ctx context.Context, id string, amountToCapture int64) (*Intent, error)
	CancelIntent(ctx context.Context, id string) (*Intent, error)

	RetrieveCharge(ctx context.Context, id string) (*Charge, error)
	CaptureCharge(ctx context.Context, id string, amount int64) (*Charge, error)

	CreateRefund(ctx context.Context, params RefundParams) (*Refund, error)

	RetrievePaymentMethod(ctx context.Context, id string) (*PaymentMethod, error)
	CreatePaymentMethod(ctx context.Context, cardToken string) (*PaymentMethod, error)
	UpdatePaymentMethod(ctx context.Context, id string, billing BillingDetails) (*PaymentMethod, error)
	AttachPaymentMethod(ctx context.Context, id, customerID string) (*PaymentMethod, error)
	DetachPaymentMethod(ctx context.Context, id string) (*PaymentMethod, error)

	CreateCustomer(ctx context.Context, params CustomerParams) (*Customer, error)
	RetrieveBalance(ctx context.Context) (*Balance, error)

	// GetName returns the name of the provider (e.g., "stripe").
	GetName() string
}

// Remote error types, mirroring the processor's error vocabulary.
const (
	ErrorTypeAPI            = "api_error"
	ErrorTypeAPIConnection  = "api_connection_error"
	ErrorTypeCard           = "card_error"
	ErrorTypeIdempotency    = "idempotency_error"
	ErrorTypeInvalidRequest = "invalid_request_error"
)

// RemoteError is a failure reported by, or on the way to, the processor.
type RemoteError struct {
	Type        string
	Code        string
	DeclineCode string
	Message     string
	HTTPStatus  int
	RequestID   string
	Err         error
}

func (e *RemoteError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Type, e.Message)
	if e.Code != "" {
		msg += " [code=" + e.Code + "]"
	}
	if e.DeclineCode != "" {
		msg += " [decline_code=" + e.DeclineCode + "]"
	}
	if e.HTTPStatus != 0 {
		msg += fmt.Sprintf(" [status=%d]", e.HTTPStatus)
	}
	return msg
}

func (e *RemoteError) Unwrap() error { return e.Err }
