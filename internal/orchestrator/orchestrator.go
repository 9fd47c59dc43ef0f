// Package orchestrator drives payments through the remote processor: it
// creates or resumes payment intents, interprets their status, and captures,
// voids and refunds authorized payments. Every remote failure is classified
// once before it reaches the caller, and local records change only after the
// remote call they depend on succeeded.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/yourorg/stripe-gateway/internal/adapter"
	"github.com/yourorg/stripe-gateway/internal/classifier"
	"github.com/yourorg/stripe-gateway/internal/domain"
	"github.com/yourorg/stripe-gateway/internal/gatewayerr"
	"github.com/yourorg/stripe-gateway/internal/intentplan"
	"github.com/yourorg/stripe-gateway/internal/paymentmethod"
	"github.com/yourorg/stripe-gateway/internal/reporting"
	"github.com/yourorg/stripe-gateway/internal/storage"
)

var (
	operationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stripe_gateway_operations_total",
		Help: "Gateway operations by outcome.",
	}, []string{"operation", "outcome"})
	operationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "stripe_gateway_operation_duration_seconds",
		Help:    "Duration of gateway operations, remote calls included.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})
)

// GetOperationsTotal exposes the operation counter for tests.
func GetOperationsTotal() *prometheus.CounterVec { return operationsTotal }

// GetOperationDurationSeconds exposes the operation histogram for tests.
func GetOperationDurationSeconds() *prometheus.HistogramVec { return operationDuration }

const (
	modeTest = "test"
	modeLive = "live"
)

// Extensions are the host's hooks into the payment lifecycle.
type Extensions interface {
	paymentmethod.Extensions
	intentplan.Hook
	// TransactionMetadata returns extra metadata for the intent of a
	// successful payment. Its keys win over existing remote keys.
	TransactionMetadata(ctx context.Context, payment *domain.Payment) (map[string]string, error)
}

// NoopExtensions changes nothing.
type NoopExtensions struct{}

func (NoopExtensions) BeforePaymentMethodCreate(context.Context, *domain.PaymentMethod, *paymentmethod.Details) error {
	return nil
}

func (NoopExtensions) BeforeIntentCreate(context.Context, *domain.Order, *adapter.IntentParams) error {
	return nil
}

func (NoopExtensions) TransactionMetadata(context.Context, *domain.Payment) (map[string]string, error) {
	return nil, nil
}

// Recorder receives one entry per finished operation.
type Recorder interface {
	Record(e reporting.LogEntry)
}

// Config carries the settings and optional collaborators of a Gateway.
type Config struct {
	// Mode is "test" or "live"; VerifyCredentials checks the key against it.
	Mode string
	// ProviderKey scopes remote customer ids; defaults to the remote client's name.
	ProviderKey    string
	Extensions     Extensions
	Logger         *zap.Logger
	Journal        Recorder
	IdempotencyKey func() string
	Now            func() time.Time
}

// Gateway is the payment orchestrator.
type Gateway struct {
	remote         adapter.RemoteClient
	classifier     *classifier.Classifier
	store          storage.Store
	methods        *paymentmethod.Manager
	builder        *intentplan.Builder
	ext            Extensions
	mode           string
	providerKey    string
	logger         *zap.Logger
	journal        Recorder
	idempotencyKey func() string
	now            func() time.Time
}

// NewGateway creates a Gateway. It panics on nil collaborators.
func NewGateway(remote adapter.RemoteClient, cls *classifier.Classifier, store storage.Store, cfg Config) *Gateway {
	if remote == nil {
		panic("NewGateway: remote client cannot be nil")
	}
	if cls == nil {
		panic("NewGateway: classifier cannot be nil")
	}
	if store == nil {
		panic("NewGateway: store cannot be nil")
	}
	g := &Gateway{
		remote:         remote,
		classifier:     cls,
		store:          store,
		ext:            cfg.Extensions,
		mode:           cfg.Mode,
		providerKey:    cfg.ProviderKey,
		logger:         cfg.Logger,
		journal:        cfg.Journal,
		idempotencyKey: cfg.IdempotencyKey,
		now:            cfg.Now,
	}
	if g.ext == nil {
		g.ext = NoopExtensions{}
	}
	if g.mode == "" {
		g.mode = modeTest
	}
	if g.providerKey == "" {
		g.providerKey = remote.GetName()
	}
	if g.logger == nil {
		g.logger = zap.NewNop()
	}
	if g.idempotencyKey == nil {
		g.idempotencyKey = uuid.NewString
	}
	if g.now == nil {
		g.now = time.Now
	}
	g.methods = paymentmethod.NewManager(remote, cls, store, store, paymentmethod.Config{
		ProviderKey: g.providerKey,
		Extensions:  g.ext,
		Logger:      g.logger,
	})
	g.builder = intentplan.NewBuilder(g.ext, g.providerKey)
	return g
}

// operation tracks one public call for tracing, metrics and the journal.
type operation struct {
	name  string
	start time.Time
	span  trace.Span
	entry reporting.LogEntry
}

func (g *Gateway) begin(ctx context.Context, name string, payment *domain.Payment) (context.Context, *operation) {
	ctx, span := otel.Tracer("orchestrator").Start(ctx, "Gateway."+name)
	op := &operation{
		name:  name,
		start: g.now(),
		span:  span,
		entry: reporting.LogEntry{Operation: name, Provider: g.remote.GetName()},
	}
	if payment != nil {
		op.entry.PaymentID = payment.ID
		op.entry.OrderID = payment.OrderID
		op.entry.Currency = payment.Amount.Currency
		span.SetAttributes(
			attribute.String("payment.id", payment.ID),
			attribute.String("payment.state", string(payment.State)),
		)
	}
	return ctx, op
}

// moved records the amount an operation moved, for the journal.
func (op *operation) moved(m domain.Money) {
	op.entry.Amount = domain.ToMinorUnits(m)
	op.entry.Currency = m.Currency
}

func (g *Gateway) end(op *operation, err error) {
	defer op.span.End()

	outcome := "success"
	op.entry.Status = reporting.StatusSuccess
	if err != nil {
		op.entry.Amount = 0
		op.entry.ErrorMessage = gatewayerr.MessageOf(err)
		op.entry.Status = reporting.StatusFailure
		outcome = "error"
		if kind, ok := gatewayerr.KindOf(err); ok {
			outcome = kind.String()
			if kind == gatewayerr.KindSoftDecline {
				op.entry.Status = reporting.StatusActionRequired
			}
		}
		op.entry.ErrorCode = outcome
		op.span.RecordError(err)
		op.span.SetStatus(codes.Error, outcome)
	}

	elapsed := g.now().Sub(op.start)
	operationsTotal.WithLabelValues(op.name, outcome).Inc()
	operationDuration.WithLabelValues(op.name).Observe(elapsed.Seconds())

	op.entry.Timestamp = g.now()
	if g.journal != nil {
		g.journal.Record(op.entry)
	}

	fields := []zap.Field{
		zap.String("operation", op.name),
		zap.String("payment_id", op.entry.PaymentID),
		zap.String("outcome", outcome),
		zap.Duration("elapsed", elapsed),
	}
	switch outcome {
	case "success":
		g.logger.Info("operation finished", fields...)
	case gatewayerr.KindSoftDecline.String(), gatewayerr.KindHardDecline.String(), gatewayerr.KindInvalidRequest.String():
		g.logger.Warn("operation declined", append(fields, zap.Error(err))...)
	default:
		g.logger.Error("operation failed", append(fields, zap.Error(err))...)
	}
}

// loadPaymentMethod returns the method or an InvalidRequest when it does not exist.
func (g *Gateway) loadPaymentMethod(ctx context.Context, id string) (*domain.PaymentMethod, error) {
	if id == "" {
		return nil, gatewayerr.InvalidRequest("no payment method given")
	}
	method, err := g.store.GetPaymentMethod(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, gatewayerr.InvalidRequest("payment method %s does not exist", id)
	}
	if err != nil {
		return nil, fmt.Errorf("orchestrator: load payment method: %w", err)
	}
	return method, nil
}

func (g *Gateway) loadOrder(ctx context.Context, id string) (*domain.Order, error) {
	order, err := g.store.GetOrder(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, gatewayerr.InvalidRequest("order %s does not exist", id)
	}
	if err != nil {
		return nil, fmt.Errorf("orchestrator: load order: %w", err)
	}
	return order, nil
}

func (g *Gateway) loadCustomer(ctx context.Context, id string) (*domain.Customer, error) {
	if id == "" {
		return nil, nil
	}
	c, err := g.store.GetCustomer(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("orchestrator: load customer: %w", err)
	}
	return c, nil
}

func assertState(p *domain.Payment, states ...domain.PaymentState) error {
	if p.InState(states...) {
		return nil
	}
	return gatewayerr.InvalidRequest("payment %s is in state %s, expected one of %v", p.ID, p.State, states)
}

// VerifyCredentials checks that the configured secret key works and belongs
// to the configured mode.
func (g *Gateway) VerifyCredentials(ctx context.Context) (err error) {
	ctx, op := g.begin(ctx, "verify_credentials", nil)
	defer func() { g.end(op, err) }()

	balance, err := g.remote.RetrieveBalance(ctx)
	if err != nil {
		return gatewayerr.InvalidRequest("invalid secret key").Wrap(err)
	}
	expectLive := g.mode == modeLive
	if balance.Livemode != expectLive {
		return gatewayerr.InvalidRequest("secret key is not for the selected mode (%s)", g.mode)
	}
	return nil
}

// CreatePaymentMethod creates method from details. See paymentmethod.Manager.
func (g *Gateway) CreatePaymentMethod(ctx context.Context, method *domain.PaymentMethod, details paymentmethod.Details) (err error) {
	ctx, op := g.begin(ctx, "create_payment_method", nil)
	defer func() { g.end(op, err) }()
	return g.methods.CreatePaymentMethod(ctx, method, details)
}

// DeletePaymentMethod detaches and deletes method. See paymentmethod.Manager.
func (g *Gateway) DeletePaymentMethod(ctx context.Context, method *domain.PaymentMethod) (err error) {
	ctx, op := g.begin(ctx, "delete_payment_method", nil)
	defer func() { g.end(op, err) }()
	return g.methods.DeletePaymentMethod(ctx, method)
}
