// Package mock provides an in-memory remote processor. It keeps intents,
// charges, refunds, payment methods and customers in maps and applies the
// processor's state rules closely enough to drive the orchestrator in tests
// and in local runs without credentials.
package mock

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/yourorg/stripe-gateway/internal/adapter"
)

// Outcome decides what a confirmation does to an intent.
type Outcome int

const (
	// OutcomeApprove authorizes the intent and produces a charge.
	OutcomeApprove Outcome = iota
	// OutcomeRequireAction leaves the intent waiting for customer authentication.
	OutcomeRequireAction
	// OutcomeDecline sends the intent back to requires_payment_method with a card error.
	OutcomeDecline
	// OutcomeCancel cancels the intent.
	OutcomeCancel
)

// DefaultDecline is the last error attached to declined intents.
var DefaultDecline = adapter.IntentError{
	Type:    adapter.ErrorTypeCard,
	Code:    "card_declined",
	Message: "Your card was declined.",
}

// Call is one recorded remote call.
type Call struct {
	Method         string
	Target         string
	IdempotencyKey string
}

// MockAdapter is an in-memory implementation of adapter.RemoteClient.
type MockAdapter struct {
	Name string

	mu             sync.Mutex
	seq            int
	intents        map[string]*adapter.Intent
	charges        map[string]*adapter.Charge
	chargeRefunded map[string]int64
	refunds        map[string]*adapter.Refund
	refundsByKey   map[string]*adapter.Refund
	methods        map[string]*adapter.PaymentMethod
	customers      map[string]*adapter.Customer
	tokenCards     map[string]adapter.Card
	failures       map[string]error
	calls          []Call
	outcome        Outcome
	decline        adapter.IntentError
	livemode       bool
}

var _ adapter.RemoteClient = (*MockAdapter)(nil)

// NewMockAdapter creates an empty processor that approves every confirmation.
func NewMockAdapter(name string) *MockAdapter {
	return &MockAdapter{
		Name:           name,
		intents:        make(map[string]*adapter.Intent),
		charges:        make(map[string]*adapter.Charge),
		chargeRefunded: make(map[string]int64),
		refunds:        make(map[string]*adapter.Refund),
		refundsByKey:   make(map[string]*adapter.Refund),
		methods:        make(map[string]*adapter.PaymentMethod),
		customers:      make(map[string]*adapter.Customer),
		tokenCards:     make(map[string]adapter.Card),
		failures:       make(map[string]error),
		decline:        DefaultDecline,
	}
}

// GetName implements adapter.RemoteClient.
func (m *MockAdapter) GetName() string { return m.Name }

// SetConfirmOutcome changes what subsequent confirmations do.
func (m *MockAdapter) SetConfirmOutcome(o Outcome) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcome = o
}

// SetDeclineError changes the last error attached to declined intents.
func (m *MockAdapter) SetDeclineError(e adapter.IntentError) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.decline = e
}

// SetLivemode sets the mode reported by RetrieveBalance.
func (m *MockAdapter) SetLivemode(live bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.livemode = live
}

// FailOn makes every call to method return err until ClearFailures.
func (m *MockAdapter) FailOn(method string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[method] = err
}

// ClearFailures removes all injected failures.
func (m *MockAdapter) ClearFailures() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = make(map[string]error)
}

// SetTokenCard sets the card produced when a payment method is created from token.
func (m *MockAdapter) SetTokenCard(token string, card adapter.Card) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokenCards[token] = card
}

// AddPaymentMethod seeds a remote payment method.
func (m *MockAdapter) AddPaymentMethod(pm adapter.PaymentMethod) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.methods[pm.ID] = clonePaymentMethod(&pm)
}

// AddIntent seeds a remote intent.
func (m *MockAdapter) AddIntent(in adapter.Intent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.intents[in.ID] = cloneIntent(&in)
}

// AddCharge seeds a remote charge.
func (m *MockAdapter) AddCharge(ch adapter.Charge) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := ch
	m.charges[ch.ID] = &c
}

// Intent returns a copy of the stored intent.
func (m *MockAdapter) Intent(id string) (adapter.Intent, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	in, ok := m.intents[id]
	if !ok {
		return adapter.Intent{}, false
	}
	return *cloneIntent(in), true
}

// Charge returns a copy of the stored charge.
func (m *MockAdapter) Charge(id string) (adapter.Charge, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.charges[id]
	if !ok {
		return adapter.Charge{}, false
	}
	return *ch, true
}

// PaymentMethod returns a copy of the stored payment method.
func (m *MockAdapter) PaymentMethod(id string) (adapter.PaymentMethod, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pm, ok := m.methods[id]
	if !ok {
		return adapter.PaymentMethod{}, false
	}
	return *clonePaymentMethod(pm), true
}

// RefundedAmount returns the total refunded against a charge.
func (m *MockAdapter) RefundedAmount(chargeID string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.chargeRefunded[chargeID]
}

// Refunds returns the number of distinct refunds created.
func (m *MockAdapter) Refunds() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.refunds)
}

// Calls returns a copy of the recorded calls.
func (m *MockAdapter) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount counts recorded calls to method.
func (m *MockAdapter) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// caller holds mu
func (m *MockAdapter) record(method, target, key string) error {
	m.calls = append(m.calls, Call{Method: method, Target: target, IdempotencyKey: key})
	return m.failures[method]
}

func (m *MockAdapter) nextID(prefix string) string {
	m.seq++
	return fmt.Sprintf("%s_%d", prefix, m.seq)
}

func missing(kind, id string) error {
	return &adapter.RemoteError{
		Type:       adapter.ErrorTypeInvalidRequest,
		Code:       "resource_missing",
		Message:    fmt.Sprintf("No such %s: '%s'", kind, id),
		HTTPStatus: http.StatusNotFound,
	}
}

func unexpectedState(format string, args ...any) error {
	return &adapter.RemoteError{
		Type:       adapter.ErrorTypeInvalidRequest,
		Code:       "payment_intent_unexpected_state",
		Message:    fmt.Sprintf(format, args...),
		HTTPStatus: http.StatusBadRequest,
	}
}

func (m *MockAdapter) CreateIntent(_ context.Context, params adapter.IntentParams) (*adapter.Intent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("CreateIntent", params.PaymentMethodID, ""); err != nil {
		return nil, err
	}
	if params.PaymentMethodID != "" {
		if _, ok := m.methods[params.PaymentMethodID]; !ok {
			return nil, missing("payment_method", params.PaymentMethodID)
		}
	}
	captureMethod := params.CaptureMethod
	if captureMethod == "" {
		captureMethod = adapter.CaptureAutomatic
	}
	in := &adapter.Intent{
		ID:            m.nextID("pi"),
		Status:        adapter.IntentRequiresConfirmation,
		Amount:        params.Amount,
		Currency:      params.Currency,
		Metadata:      copyMetadata(params.Metadata),
		CaptureMethod: captureMethod,
		CustomerID:    params.CustomerID,
	}
	if params.PaymentMethodID == "" {
		in.Status = adapter.IntentRequiresPaymentMethod
	}
	m.intents[in.ID] = in
	if params.Confirm && params.PaymentMethodID != "" {
		m.confirm(in)
	}
	return cloneIntent(in), nil
}

// caller holds mu
func (m *MockAdapter) confirm(in *adapter.Intent) {
	in.LastError = nil
	switch m.outcome {
	case OutcomeRequireAction:
		in.Status = adapter.IntentRequiresAction
	case OutcomeDecline:
		in.Status = adapter.IntentRequiresPaymentMethod
		last := m.decline
		in.LastError = &last
	case OutcomeCancel:
		in.Status = adapter.IntentCanceled
	default:
		ch := &adapter.Charge{
			ID:              m.nextID("ch"),
			PaymentIntentID: in.ID,
			Amount:          in.Amount,
			Status:          "succeeded",
		}
		if in.CaptureMethod == adapter.CaptureManual {
			in.Status = adapter.IntentRequiresCapture
		} else {
			in.Status = adapter.IntentSucceeded
			ch.Captured = true
		}
		m.charges[ch.ID] = ch
		in.LatestChargeID = ch.ID
	}
}

func (m *MockAdapter) RetrieveIntent(_ context.Context, id string) (*adapter.Intent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("RetrieveIntent", id, ""); err != nil {
		return nil, err
	}
	in, ok := m.intents[id]
	if !ok {
		return nil, missing("payment_intent", id)
	}
	return cloneIntent(in), nil
}

func (m *MockAdapter) UpdateIntent(_ context.Context, id string, metadata map[string]string) (*adapter.Intent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("UpdateIntent", id, ""); err != nil {
		return nil, err
	}
	in, ok := m.intents[id]
	if !ok {
		return nil, missing("payment_intent", id)
	}
	if in.Metadata == nil {
		in.Metadata = make(map[string]string, len(metadata))
	}
	for k, v := range metadata {
		in.Metadata[k] = v
	}
	return cloneIntent(in), nil
}

func (m *MockAdapter) ConfirmIntent(_ context.Context, id string) (*adapter.Intent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("ConfirmIntent", id, ""); err != nil {
		return nil, err
	}
	in, ok := m.intents[id]
	if !ok {
		return nil, missing("payment_intent", id)
	}
	switch in.Status {
	case adapter.IntentRequiresConfirmation, adapter.IntentRequiresPaymentMethod, adapter.IntentRequiresAction:
		m.confirm(in)
		return cloneIntent(in), nil
	default:
		return nil, unexpectedState("You cannot confirm this PaymentIntent because it has a status of %s.", in.Status)
	}
}

func (m *MockAdapter) CaptureIntent(_ context.Context, id string, amountToCapture int64) (*adapter.Intent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("CaptureIntent", id, ""); err != nil {
		return nil, err
	}
	in, ok := m.intents[id]
	if !ok {
		return nil, missing("payment_intent", id)
	}
	if in.Status != adapter.IntentRequiresCapture {
		return nil, unexpectedState("This PaymentIntent could not be captured because it has a status of %s.", in.Status)
	}
	if amountToCapture > in.Amount {
		return nil, &adapter.RemoteError{
			Type:       adapter.ErrorTypeInvalidRequest,
			Code:       "amount_too_large",
			Message:    "The amount to capture exceeds the authorized amount.",
			HTTPStatus: http.StatusBadRequest,
		}
	}
	in.Status = adapter.IntentSucceeded
	if ch, ok := m.charges[in.LatestChargeID]; ok {
		ch.Captured = true
		if amountToCapture > 0 {
			ch.Amount = amountToCapture
		}
	}
	return cloneIntent(in), nil
}

func (m *MockAdapter) CancelIntent(_ context.Context, id string) (*adapter.Intent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("CancelIntent", id, ""); err != nil {
		return nil, err
	}
	in, ok := m.intents[id]
	if !ok {
		return nil, missing("payment_intent", id)
	}
	switch in.Status {
	case adapter.IntentSucceeded, adapter.IntentCanceled:
		return nil, unexpectedState("You cannot cancel this PaymentIntent because it has a status of %s.", in.Status)
	}
	in.Status = adapter.IntentCanceled
	return cloneIntent(in), nil
}

func (m *MockAdapter) RetrieveCharge(_ context.Context, id string) (*adapter.Charge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("RetrieveCharge", id, ""); err != nil {
		return nil, err
	}
	ch, ok := m.charges[id]
	if !ok {
		return nil, missing("charge", id)
	}
	c := *ch
	return &c, nil
}

func (m *MockAdapter) CaptureCharge(_ context.Context, id string, amount int64) (*adapter.Charge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("CaptureCharge", id, ""); err != nil {
		return nil, err
	}
	ch, ok := m.charges[id]
	if !ok {
		return nil, missing("charge", id)
	}
	if ch.Captured {
		return nil, &adapter.RemoteError{
			Type:       adapter.ErrorTypeInvalidRequest,
			Code:       "charge_already_captured",
			Message:    fmt.Sprintf("Charge %s has already been captured.", id),
			HTTPStatus: http.StatusBadRequest,
		}
	}
	ch.Captured = true
	if amount > 0 {
		ch.Amount = amount
	}
	c := *ch
	return &c, nil
}

func (m *MockAdapter) CreateRefund(_ context.Context, params adapter.RefundParams) (*adapter.Refund, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	target := params.PaymentIntentID
	if target == "" {
		target = params.ChargeID
	}
	if err := m.record("CreateRefund", target, params.IdempotencyKey); err != nil {
		return nil, err
	}
	if params.IdempotencyKey != "" {
		if prev, ok := m.refundsByKey[params.IdempotencyKey]; ok {
			r := *prev
			return &r, nil
		}
	}

	chargeID := params.ChargeID
	if params.PaymentIntentID != "" {
		in, ok := m.intents[params.PaymentIntentID]
		if !ok {
			return nil, missing("payment_intent", params.PaymentIntentID)
		}
		chargeID = in.LatestChargeID
	}
	ch, ok := m.charges[chargeID]
	if !ok {
		return nil, missing("charge", chargeID)
	}
	remaining := ch.Amount - m.chargeRefunded[ch.ID]
	amount := remaining
	if params.Amount != nil {
		amount = *params.Amount
	}
	if amount <= 0 {
		return nil, &adapter.RemoteError{
			Type:       adapter.ErrorTypeInvalidRequest,
			Code:       "amount_too_small",
			Message:    fmt.Sprintf("Refund amount %d must be positive.", amount),
			HTTPStatus: http.StatusBadRequest,
		}
	}
	if amount > remaining {
		return nil, &adapter.RemoteError{
			Type:       adapter.ErrorTypeInvalidRequest,
			Code:       "charge_already_refunded",
			Message:    fmt.Sprintf("Refund amount %d exceeds the refundable amount %d.", amount, remaining),
			HTTPStatus: http.StatusBadRequest,
		}
	}
	m.chargeRefunded[ch.ID] += amount
	r := &adapter.Refund{
		ID:              m.nextID("re"),
		Amount:          amount,
		ChargeID:        ch.ID,
		PaymentIntentID: ch.PaymentIntentID,
		Status:          "succeeded",
	}
	m.refunds[r.ID] = r
	if params.IdempotencyKey != "" {
		m.refundsByKey[params.IdempotencyKey] = r
	}
	out := *r
	return &out, nil
}

func (m *MockAdapter) RetrievePaymentMethod(_ context.Context, id string) (*adapter.PaymentMethod, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("RetrievePaymentMethod", id, ""); err != nil {
		return nil, err
	}
	pm, ok := m.methods[id]
	if !ok {
		return nil, missing("payment_method", id)
	}
	return clonePaymentMethod(pm), nil
}

func (m *MockAdapter) CreatePaymentMethod(_ context.Context, cardToken string) (*adapter.PaymentMethod, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("CreatePaymentMethod", cardToken, ""); err != nil {
		return nil, err
	}
	card, ok := m.tokenCards[cardToken]
	if !ok {
		card = adapter.Card{Brand: "visa", Last4: "4242", ExpMonth: 12, ExpYear: 2030}
	}
	pm := &adapter.PaymentMethod{ID: m.nextID("pm"), Card: &card}
	m.methods[pm.ID] = pm
	return clonePaymentMethod(pm), nil
}

func (m *MockAdapter) UpdatePaymentMethod(_ context.Context, id string, billing adapter.BillingDetails) (*adapter.PaymentMethod, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("UpdatePaymentMethod", id, ""); err != nil {
		return nil, err
	}
	pm, ok := m.methods[id]
	if !ok {
		return nil, missing("payment_method", id)
	}
	b := billing
	if billing.Address != nil {
		addr := *billing.Address
		b.Address = &addr
	}
	pm.Billing = &b
	return clonePaymentMethod(pm), nil
}

func (m *MockAdapter) AttachPaymentMethod(_ context.Context, id, customerID string) (*adapter.PaymentMethod, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("AttachPaymentMethod", id, ""); err != nil {
		return nil, err
	}
	pm, ok := m.methods[id]
	if !ok {
		return nil, missing("payment_method", id)
	}
	if _, ok := m.customers[customerID]; !ok {
		return nil, missing("customer", customerID)
	}
	pm.CustomerID = customerID
	return clonePaymentMethod(pm), nil
}

func (m *MockAdapter) DetachPaymentMethod(_ context.Context, id string) (*adapter.PaymentMethod, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("DetachPaymentMethod", id, ""); err != nil {
		return nil, err
	}
	pm, ok := m.methods[id]
	if !ok {
		return nil, missing("payment_method", id)
	}
	if pm.CustomerID == "" {
		return nil, &adapter.RemoteError{
			Type:       adapter.ErrorTypeInvalidRequest,
			Code:       "payment_method_unexpected_state",
			Message:    "The payment method you provided is not attached to a customer so detachment is impossible.",
			HTTPStatus: http.StatusBadRequest,
		}
	}
	pm.CustomerID = ""
	return clonePaymentMethod(pm), nil
}

func (m *MockAdapter) CreateCustomer(_ context.Context, params adapter.CustomerParams) (*adapter.Customer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("CreateCustomer", params.Email, ""); err != nil {
		return nil, err
	}
	var pm *adapter.PaymentMethod
	if params.PaymentMethodID != "" {
		var ok bool
		if pm, ok = m.methods[params.PaymentMethodID]; !ok {
			return nil, missing("payment_method", params.PaymentMethodID)
		}
	}
	cus := &adapter.Customer{ID: m.nextID("cus"), Email: params.Email}
	m.customers[cus.ID] = cus
	if pm != nil {
		pm.CustomerID = cus.ID
	}
	c := *cus
	return &c, nil
}

func (m *MockAdapter) RetrieveBalance(_ context.Context) (*adapter.Balance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("RetrieveBalance", "", ""); err != nil {
		return nil, err
	}
	return &adapter.Balance{Livemode: m.livemode}, nil
}

// AddCustomer seeds a remote customer.
func (m *MockAdapter) AddCustomer(c adapter.Customer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cus := c
	m.customers[c.ID] = &cus
}

func copyMetadata(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func cloneIntent(in *adapter.Intent) *adapter.Intent {
	out := *in
	out.Metadata = copyMetadata(in.Metadata)
	if in.LastError != nil {
		e := *in.LastError
		out.LastError = &e
	}
	return &out
}

func clonePaymentMethod(pm *adapter.PaymentMethod) *adapter.PaymentMethod {
	out := *pm
	if pm.Card != nil {
		c := *pm.Card
		out.Card = &c
	}
	if pm.Billing != nil {
		b := *pm.Billing
		if pm.Billing.Address != nil {
			a := *pm.Billing.Address
			b.Address = &a
		}
		out.Billing = &b
	}
	return &out
}
