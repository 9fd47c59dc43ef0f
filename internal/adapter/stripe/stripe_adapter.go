package stripe

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	stripego "github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/client"
	"go.uber.org/zap"

	"github.com/yourorg/stripe-gateway/internal/adapter"
)

const defaultTimeout = 30 * time.Second

// Config is the per-gateway client configuration. Nothing here is stored in
// package-level SDK state, so several gateways may coexist in one process.
type Config struct {
	SecretKey string
	// APIBaseURL overrides the processor endpoint (tests, proxies).
	APIBaseURL string
	HTTPClient *http.Client
	Timeout    time.Duration
	Logger     *zap.Logger
}

// StripeAdapter implements adapter.RemoteClient on top of stripe-go.
type StripeAdapter struct {
	api *client.API
}

// NewStripeAdapter creates a new StripeAdapter from cfg.
func NewStripeAdapter(cfg Config) *StripeAdapter {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	sugar := logger.Named("stripe").Sugar()

	// Retries belong to the caller; the SDK must not replay requests on its own.
	apiCfg := &stripego.BackendConfig{
		HTTPClient:        httpClient,
		LeveledLogger:     sugar,
		MaxNetworkRetries: stripego.Int64(0),
	}
	if cfg.APIBaseURL != "" {
		apiCfg.URL = stripego.String(cfg.APIBaseURL)
	}
	backends := &stripego.Backends{
		API: stripego.GetBackendWithConfig(stripego.APIBackend, apiCfg),
		Connect: stripego.GetBackendWithConfig(stripego.ConnectBackend, &stripego.BackendConfig{
			HTTPClient:        httpClient,
			LeveledLogger:     sugar,
			MaxNetworkRetries: stripego.Int64(0),
		}),
		Uploads: stripego.GetBackendWithConfig(stripego.UploadsBackend, &stripego.BackendConfig{
			HTTPClient:        httpClient,
			LeveledLogger:     sugar,
			MaxNetworkRetries: stripego.Int64(0),
		}),
	}
	return &StripeAdapter{api: client.New(cfg.SecretKey, backends)}
}

// GetName returns the name of the provider.
func (s *StripeAdapter) GetName() string {
	return "stripe"
}

func (s *StripeAdapter) CreateIntent(ctx context.Context, p adapter.IntentParams) (*adapter.Intent, error) {
	params := &stripego.PaymentIntentParams{
		Amount:   stripego.Int64(p.Amount),
		Currency: stripego.String(strings.ToLower(p.Currency)),
	}
	if len(p.PaymentMethodTypes) > 0 {
		params.PaymentMethodTypes = stripego.StringSlice(p.PaymentMethodTypes)
	}
	if p.PaymentMethodID != "" {
		params.PaymentMethod = stripego.String(p.PaymentMethodID)
	}
	if p.CustomerID != "" {
		params.Customer = stripego.String(p.CustomerID)
	}
	if p.CaptureMethod != "" {
		params.CaptureMethod = stripego.String(p.CaptureMethod)
	}
	if p.Confirm {
		params.Confirm = stripego.Bool(true)
	}
	if p.OffSession {
		params.OffSession = stripego.Bool(true)
	}
	for k, v := range p.Metadata {
		params.AddMetadata(k, v)
	}
	params.Context = ctx

	pi, err := s.api.PaymentIntents.New(params)
	if err != nil {
		return nil, toRemoteError(err)
	}
	return toIntent(pi), nil
}

func (s *StripeAdapter) RetrieveIntent(ctx context.Context, id string) (*adapter.Intent, error) {
	params := &stripego.PaymentIntentParams{}
	params.Context = ctx
	pi, err := s.api.PaymentIntents.Get(id, params)
	if err != nil {
		return nil, toRemoteError(err)
	}
	return toIntent(pi), nil
}

func (s *StripeAdapter) UpdateIntent(ctx context.Context, id string, metadata map[string]string) (*adapter.Intent, error) {
	params := &stripego.PaymentIntentParams{}
	for k, v := range metadata {
		params.AddMetadata(k, v)
	}
	params.Context = ctx
	pi, err := s.api.PaymentIntents.Update(id, params)
	if err != nil {
		return nil, toRemoteError(err)
	}
	return toIntent(pi), nil
}

func (s *StripeAdapter) ConfirmIntent(ctx context.Context, id string) (*adapter.Intent, error) {
	params := &stripego.PaymentIntentConfirmParams{}
	params.Context = ctx
	pi, err := s.api.PaymentIntents.Confirm(id, params)
	if err != nil {
		return nil, toRemoteError(err)
	}
	return toIntent(pi), nil
}

func (s *StripeAdapter) CaptureIntent(ctx context.Context, id string, amountToCapture int64) (*adapter.Intent, error) {
	params := &stripego.PaymentIntentCaptureParams{
		AmountToCapture: stripego.Int64(amountToCapture),
	}
	params.Context = ctx
	pi, err := s.api.PaymentIntents.Capture(id, params)
	if err != nil {
		return nil, toRemoteError(err)
	}
	return toIntent(pi), nil
}

func (s *StripeAdapter) CancelIntent(ctx context.Context, id string) (*adapter.Intent, error) {
	params := &stripego.PaymentIntentCancelParams{}
	params.Context = ctx
	pi, err := s.api.PaymentIntents.Cancel(id, params)
	if err != nil {
		return nil, toRemoteError(err)
	}
	return toIntent(pi), nil
}

func (s *StripeAdapter) RetrieveCharge(ctx context.Context, id string) (*adapter.Charge, error) {
	params := &stripego.ChargeParams{}
	params.Context = ctx
	ch, err := s.api.Charges.Get(id, params)
	if err != nil {
		return nil, toRemoteError(err)
	}
	return toCharge(ch), nil
}

func (s *StripeAdapter) CaptureCharge(ctx context.Context, id string, amount int64) (*adapter.Charge, error) {
	params := &stripego.ChargeCaptureParams{Amount: stripego.Int64(amount)}
	params.Context = ctx
	ch, err := s.api.Charges.Capture(id, params)
	if err != nil {
		return nil, toRemoteError(err)
	}
	return toCharge(ch), nil
}

func (s *StripeAdapter) CreateRefund(ctx context.Context, p adapter.RefundParams) (*adapter.Refund, error) {
	params := &stripego.RefundParams{}
	if p.PaymentIntentID != "" {
		params.PaymentIntent = stripego.String(p.PaymentIntentID)
	} else {
		params.Charge = stripego.String(p.ChargeID)
	}
	if p.Amount != nil {
		params.Amount = stripego.Int64(*p.Amount)
	}
	if p.IdempotencyKey != "" {
		params.SetIdempotencyKey(p.IdempotencyKey)
	}
	params.Context = ctx

	r, err := s.api.Refunds.New(params)
	if err != nil {
		return nil, toRemoteError(err)
	}
	out := &adapter.Refund{
		ID:          r.ID,
		Amount:      r.Amount,
		Status:      string(r.Status),
		FailureCode: string(r.FailureReason),
	}
	if r.Charge != nil {
		out.ChargeID = r.Charge.ID
	}
	if r.PaymentIntent != nil {
		out.PaymentIntentID = r.PaymentIntent.ID
	}
	return out, nil
}

func (s *StripeAdapter) RetrievePaymentMethod(ctx context.Context, id string) (*adapter.PaymentMethod, error) {
	params := &stripego.PaymentMethodParams{}
	params.Context = ctx
	pm, err := s.api.PaymentMethods.Get(id, params)
	if err != nil {
		return nil, toRemoteError(err)
	}
	return toPaymentMethod(pm), nil
}

func (s *StripeAdapter) CreatePaymentMethod(ctx context.Context, cardToken string) (*adapter.PaymentMethod, error) {
	params := &stripego.PaymentMethodParams{
		Type: stripego.String("card"),
		Card: &stripego.PaymentMethodCardParams{Token: stripego.String(cardToken)},
	}
	params.Context = ctx
	pm, err := s.api.PaymentMethods.New(params)
	if err != nil {
		return nil, toRemoteError(err)
	}
	return toPaymentMethod(pm), nil
}

func (s *StripeAdapter) UpdatePaymentMethod(ctx context.Context, id string, billing adapter.BillingDetails) (*adapter.PaymentMethod, error) {
	details := &stripego.PaymentMethodBillingDetailsParams{
		Email: stripego.String(billing.Email),
	}
	if billing.Name != "" {
		details.Name = stripego.String(billing.Name)
	}
	if a := billing.Address; a != nil {
		details.Address = &stripego.AddressParams{
			City:       stripego.String(a.City),
			Country:    stripego.String(a.Country),
			Line1:      stripego.String(a.Line1),
			Line2:      stripego.String(a.Line2),
			PostalCode: stripego.String(a.PostalCode),
			State:      stripego.String(a.State),
		}
	}
	params := &stripego.PaymentMethodParams{BillingDetails: details}
	params.Context = ctx
	pm, err := s.api.PaymentMethods.Update(id, params)
	if err != nil {
		return nil, toRemoteError(err)
	}
	return toPaymentMethod(pm), nil
}

func (s *StripeAdapter) AttachPaymentMethod(ctx context.Context, id, customerID string) (*adapter.PaymentMethod, error) {
	params := &stripego.PaymentMethodAttachParams{Customer: stripego.String(customerID)}
	params.Context = ctx
	pm, err := s.api.PaymentMethods.Attach(id, params)
	if err != nil {
		return nil, toRemoteError(err)
	}
	return toPaymentMethod(pm), nil
}

func (s *StripeAdapter) DetachPaymentMethod(ctx context.Context, id string) (*adapter.PaymentMethod, error) {
	params := &stripego.PaymentMethodDetachParams{}
	params.Context = ctx
	pm, err := s.api.PaymentMethods.Detach(id, params)
	if err != nil {
		return nil, toRemoteError(err)
	}
	return toPaymentMethod(pm), nil
}

func (s *StripeAdapter) CreateCustomer(ctx context.Context, p adapter.CustomerParams) (*adapter.Customer, error) {
	params := &stripego.CustomerParams{
		Email:       stripego.String(p.Email),
		Description: stripego.String(p.Description),
	}
	if p.PaymentMethodID != "" {
		params.PaymentMethod = stripego.String(p.PaymentMethodID)
	}
	params.Context = ctx
	c, err := s.api.Customers.New(params)
	if err != nil {
		return nil, toRemoteError(err)
	}
	return &adapter.Customer{ID: c.ID, Email: c.Email}, nil
}

func (s *StripeAdapter) RetrieveBalance(ctx context.Context) (*adapter.Balance, error) {
	params := &stripego.BalanceParams{}
	params.Context = ctx
	b, err := s.api.Balance.Get(params)
	if err != nil {
		return nil, toRemoteError(err)
	}
	return &adapter.Balance{Livemode: b.Livemode}, nil
}

// toRemoteError normalizes SDK failures. Anything that is not an API error
// response never reached the processor and is reported as a connection error.
func toRemoteError(err error) error {
	var serr *stripego.Error
	if errors.As(err, &serr) {
		return &adapter.RemoteError{
			Type:        string(serr.Type),
			Code:        string(serr.Code),
			DeclineCode: string(serr.DeclineCode),
			Message:     serr.Msg,
			HTTPStatus:  serr.HTTPStatusCode,
			RequestID:   serr.RequestID,
			Err:         err,
		}
	}
	return &adapter.RemoteError{
		Type:    adapter.ErrorTypeAPIConnection,
		Message: err.Error(),
		Err:     err,
	}
}

func toIntent(pi *stripego.PaymentIntent) *adapter.Intent {
	in := &adapter.Intent{
		ID:            pi.ID,
		Status:        adapter.IntentStatus(pi.Status),
		Amount:        pi.Amount,
		Currency:      string(pi.Currency),
		CaptureMethod: string(pi.CaptureMethod),
		Metadata:      make(map[string]string, len(pi.Metadata)),
	}
	for k, v := range pi.Metadata {
		in.Metadata[k] = v
	}
	if e := pi.LastPaymentError; e != nil {
		in.LastError = &adapter.IntentError{
			Type:        string(e.Type),
			Code:        string(e.Code),
			DeclineCode: string(e.DeclineCode),
			Message:     e.Msg,
		}
	}
	if pi.LatestCharge != nil {
		in.LatestChargeID = pi.LatestCharge.ID
	}
	if pi.Customer != nil {
		in.CustomerID = pi.Customer.ID
	}
	return in
}

func toCharge(ch *stripego.Charge) *adapter.Charge {
	out := &adapter.Charge{
		ID:             ch.ID,
		Amount:         ch.Amount,
		Captured:       ch.Captured,
		Status:         string(ch.Status),
		FailureCode:    ch.FailureCode,
		FailureMessage: ch.FailureMessage,
	}
	if ch.PaymentIntent != nil {
		out.PaymentIntentID = ch.PaymentIntent.ID
	}
	return out
}

func toPaymentMethod(pm *stripego.PaymentMethod) *adapter.PaymentMethod {
	out := &adapter.PaymentMethod{ID: pm.ID}
	if pm.Customer != nil {
		out.CustomerID = pm.Customer.ID
	}
	if c := pm.Card; c != nil {
		out.Card = &adapter.Card{
			Brand:    string(c.Brand),
			Last4:    c.Last4,
			ExpMonth: int(c.ExpMonth),
			ExpYear:  int(c.ExpYear),
		}
	}
	if b := pm.BillingDetails; b != nil {
		out.Billing = &adapter.BillingDetails{Email: b.Email, Name: b.Name}
		if a := b.Address; a != nil {
			out.Billing.Address = &adapter.BillingAddress{
				City:       a.City,
				Country:    a.Country,
				Line1:      a.Line1,
				Line2:      a.Line2,
				PostalCode: a.PostalCode,
				State:      a.State,
			}
		}
	}
	return out
}
