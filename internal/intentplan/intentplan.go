// Package intentplan builds the attributes of a new payment intent from an
// order: default attributes first, then caller overrides merged on top, then
// the host's pre-creation hook.
package intentplan

import (
	"context"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/yourorg/stripe-gateway/internal/adapter"
	"github.com/yourorg/stripe-gateway/internal/domain"
	"github.com/yourorg/stripe-gateway/internal/gatewayerr"
)

var (
	intentBuildsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stripe_gateway_intent_builds_total",
		Help: "Number of payment intent attribute sets built.",
	})
	intentBuildDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "stripe_gateway_intent_build_duration_seconds",
		Help:    "Time spent building payment intent attributes.",
		Buckets: prometheus.DefBuckets,
	})
)

// GetIntentBuildsTotal exposes the build counter for tests.
func GetIntentBuildsTotal() prometheus.Counter { return intentBuildsTotal }

// GetIntentBuildDurationSeconds exposes the build histogram for tests.
func GetIntentBuildDurationSeconds() prometheus.Histogram { return intentBuildDuration }

// Hook may rewrite intent attributes right before the intent is created.
type Hook interface {
	BeforeIntentCreate(ctx context.Context, order *domain.Order, params *adapter.IntentParams) error
}

type noopHook struct{}

func (noopHook) BeforeIntentCreate(context.Context, *domain.Order, *adapter.IntentParams) error {
	return nil
}

// Overrides are merged over the default attributes. Zero fields keep the
// default; Metadata is merged key by key.
type Overrides struct {
	CaptureMethod      string
	Confirm            *bool
	OffSession         *bool
	PaymentMethodTypes []string
	PaymentMethodID    string
	CustomerID         string
	Metadata           map[string]string
}

// Bool returns a pointer to b, for Overrides.
func Bool(b bool) *bool { return &b }

// Builder builds intent attributes.
type Builder struct {
	hook        Hook
	providerKey string
}

// NewBuilder creates a Builder. A nil hook does nothing. providerKey selects
// the remote customer id of the order's customer.
func NewBuilder(hook Hook, providerKey string) *Builder {
	if hook == nil {
		hook = noopHook{}
	}
	return &Builder{hook: hook, providerKey: providerKey}
}

// Build returns the attributes for an intent paying order with method.
// The intent is for payment's amount when payment is given, else for the
// order total. payment and customer may be nil.
func (b *Builder) Build(
	ctx context.Context,
	order *domain.Order,
	payment *domain.Payment,
	method *domain.PaymentMethod,
	customer *domain.Customer,
	overrides Overrides,
) (adapter.IntentParams, error) {
	ctx, span := otel.Tracer("intentplan").Start(ctx, "Builder.Build")
	defer span.End()

	start := time.Now()
	defer func() {
		intentBuildDuration.Observe(time.Since(start).Seconds())
	}()
	intentBuildsTotal.Inc()

	if order == nil {
		return adapter.IntentParams{}, gatewayerr.InvalidRequest("an order is required to build a payment intent")
	}
	amount := order.TotalPrice
	if payment != nil {
		amount = payment.Amount
	}
	if amount.Currency == "" {
		return adapter.IntentParams{}, gatewayerr.InvalidRequest("order %s has no currency", order.ID)
	}
	if !amount.IsPositive() || !amount.IsExact() {
		return adapter.IntentParams{}, gatewayerr.InvalidRequest("cannot charge %s %s", amount.Number, amount.Currency)
	}

	params := adapter.IntentParams{
		Amount:             domain.ToMinorUnits(amount),
		Currency:           strings.ToLower(amount.Currency),
		PaymentMethodTypes: []string{"card"},
		CaptureMethod:      adapter.CaptureAutomatic,
		Metadata: map[string]string{
			"order_id": order.ID,
			"store_id": order.StoreID,
		},
	}
	if method != nil {
		params.PaymentMethodID = method.RemoteID
	}
	if remoteCustomer := customer.RemoteID(b.providerKey); remoteCustomer != "" {
		params.CustomerID = remoteCustomer
	}

	merge(&params, overrides)

	if err := b.hook.BeforeIntentCreate(ctx, order, &params); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "before intent create hook failed")
		return adapter.IntentParams{}, err
	}

	span.SetAttributes(
		attribute.String("order.id", order.ID),
		attribute.Int64("intent.amount", params.Amount),
		attribute.String("intent.currency", params.Currency),
		attribute.String("intent.capture_method", params.CaptureMethod),
	)
	return params, nil
}

func merge(params *adapter.IntentParams, o Overrides) {
	if o.CaptureMethod != "" {
		params.CaptureMethod = o.CaptureMethod
	}
	if o.Confirm != nil {
		params.Confirm = *o.Confirm
	}
	if o.OffSession != nil {
		params.OffSession = *o.OffSession
	}
	if len(o.PaymentMethodTypes) > 0 {
		params.PaymentMethodTypes = append([]string(nil), o.PaymentMethodTypes...)
	}
	if o.PaymentMethodID != "" {
		params.PaymentMethodID = o.PaymentMethodID
	}
	if o.CustomerID != "" {
		params.CustomerID = o.CustomerID
	}
	for k, v := range o.Metadata {
		params.Metadata[k] = v
	}
}
