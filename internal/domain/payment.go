package domain

import (
	"fmt"
	"time"
)

// PaymentState is the local lifecycle state of a Payment.
type PaymentState string

const (
	StateNew                 PaymentState = "new"
	StateAuthorization       PaymentState = "authorization"
	StateCompleted           PaymentState = "completed"
	StateAuthorizationVoided PaymentState = "authorization_voided"
	StatePartiallyRefunded   PaymentState = "partially_refunded"
	StateRefunded            PaymentState = "refunded"
)

// RemoteRefKind tells which remote object a payment is addressed by.
type RemoteRefKind int

const (
	RemoteRefNone RemoteRefKind = iota
	// RemoteRefIntent addresses a payment intent.
	RemoteRefIntent
	// RemoteRefCharge addresses a bare charge created before intents existed.
	RemoteRefCharge
)

func (k RemoteRefKind) String() string {
	switch k {
	case RemoteRefIntent:
		return "intent"
	case RemoteRefCharge:
		return "charge"
	default:
		return "none"
	}
}

// RemoteRef is the payment's reference into the processor: either an
// intent id or a legacy charge id.
type RemoteRef struct {
	Kind RemoteRefKind
	ID   string
}

// IntentRef returns a reference to a payment intent.
func IntentRef(id string) RemoteRef { return RemoteRef{Kind: RemoteRefIntent, ID: id} }

// ChargeRef returns a reference to a legacy charge.
func ChargeRef(id string) RemoteRef { return RemoteRef{Kind: RemoteRefCharge, ID: id} }

// IsZero reports whether the reference is unset.
func (r RemoteRef) IsZero() bool { return r.Kind == RemoteRefNone || r.ID == "" }

func (r RemoteRef) String() string {
	if r.IsZero() {
		return "none"
	}
	return r.Kind.String() + ":" + r.ID
}

// Payment is a single payment attempt against an order.
type Payment struct {
	ID              string
	OrderID         string
	PaymentMethodID string
	State           PaymentState
	Amount          Money
	RefundedAmount  Money
	Remote          RemoteRef
	CompletedAt     *time.Time
}

// Balance returns the amount still refundable.
func (p *Payment) Balance() Money {
	refunded := p.RefundedAmount
	if refunded.Currency == "" {
		refunded = Zero(p.Amount.Currency)
	}
	b, err := p.Amount.Sub(refunded)
	if err != nil {
		return Zero(p.Amount.Currency)
	}
	return b
}

// InState reports whether the payment is in one of states.
func (p *Payment) InState(states ...PaymentState) bool {
	for _, s := range states {
		if p.State == s {
			return true
		}
	}
	return false
}

// ApplyRefund adds amount to the refunded total and moves the payment to
// partially_refunded or refunded. The refunded total may never exceed Amount.
func (p *Payment) ApplyRefund(amount Money) error {
	refunded := p.RefundedAmount
	if refunded.Currency == "" {
		refunded = Zero(p.Amount.Currency)
	}
	next, err := refunded.Add(amount)
	if err != nil {
		return err
	}
	if next.GreaterThan(p.Amount) {
		return fmt.Errorf("domain: refunded amount %s would exceed payment amount %s", next, p.Amount)
	}
	p.RefundedAmount = next
	if next.LessThan(p.Amount) {
		p.State = StatePartiallyRefunded
	} else {
		p.State = StateRefunded
	}
	return nil
}
