package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/yourorg/stripe-gateway/internal/adapter"
	"github.com/yourorg/stripe-gateway/internal/domain"
	"github.com/yourorg/stripe-gateway/internal/gatewayerr"
	"github.com/yourorg/stripe-gateway/internal/intentplan"
)

// CreatePayment charges payment's method off-session. With capture the
// payment ends completed, otherwise authorized.
//
// An intent cached on the order is resumed instead of creating a new one.
// An intent waiting for customer authentication is a soft decline and
// leaves every local record untouched. Any other unsuccessful status is a
// hard decline: the payment method is removed from the order and deleted,
// and a canceled intent is dropped from the order's cache.
func (g *Gateway) CreatePayment(ctx context.Context, payment *domain.Payment, capture bool) (err error) {
	ctx, op := g.begin(ctx, "create_payment", payment)
	defer func() { g.end(op, err) }()

	if err := assertState(payment, domain.StateNew); err != nil {
		return err
	}
	if !payment.Amount.IsPositive() || !payment.Amount.IsExact() {
		return gatewayerr.InvalidRequest("cannot charge %s %s", payment.Amount.Number, payment.Amount.Currency)
	}
	method, err := g.loadPaymentMethod(ctx, payment.PaymentMethodID)
	if err != nil {
		return err
	}
	if method.RemoteID == "" {
		return gatewayerr.InvalidRequest("payment method %s has no remote id", method.ID)
	}
	if method.IsExpired(g.now()) {
		return gatewayerr.InvalidRequest("payment method %s has expired", method.ID)
	}
	order, err := g.loadOrder(ctx, payment.OrderID)
	if err != nil {
		return err
	}
	if method.OwnerID != "" && order.CustomerID != "" && method.OwnerID != order.CustomerID {
		return gatewayerr.InvalidRequest("payment method %s does not belong to the order's customer", method.ID)
	}

	var intent *adapter.Intent
	if order.PendingIntentID != "" {
		intent, err = g.remote.RetrieveIntent(ctx, order.PendingIntentID)
		if err != nil {
			return g.classifier.Classify(err)
		}
		if !chargesPayment(intent, payment) {
			g.logger.Info("pending intent does not match the payment amount, creating a new one",
				zap.String("payment_id", payment.ID),
				zap.String("intent_id", intent.ID))
			intent = nil
		}
	}
	if intent == nil {
		captureMethod := adapter.CaptureManual
		if capture {
			captureMethod = adapter.CaptureAutomatic
		}
		// No customer is present to answer a challenge.
		intent, err = g.createPaymentIntent(ctx, order, payment, method, intentplan.Overrides{
			Confirm:       intentplan.Bool(true),
			OffSession:    intentplan.Bool(true),
			CaptureMethod: captureMethod,
		})
		if err != nil {
			return err
		}
	}
	op.span.AddEvent("intent resolved")
	g.logger.Debug("intent resolved",
		zap.String("payment_id", payment.ID),
		zap.String("intent_id", intent.ID),
		zap.String("status", string(intent.Status)))

	if intent.Status == adapter.IntentRequiresConfirmation {
		intent, err = g.remote.ConfirmIntent(ctx, intent.ID)
		if err != nil {
			return g.classifier.Classify(err)
		}
	}

	if intent.Status == adapter.IntentRequiresAction {
		return gatewayerr.SoftDecline("The payment intent requires action by the customer.")
	}

	if intent.Status != adapter.IntentRequiresCapture && intent.Status != adapter.IntentSucceeded {
		return g.failIntent(ctx, order, method, intent)
	}

	if intent.LatestChargeID == "" {
		return gatewayerr.HardDecline("The payment intent %s did not have a charge object.", intent.ID)
	}

	if capture {
		payment.State = domain.StateCompleted
		now := g.now()
		payment.CompletedAt = &now
		op.moved(payment.Amount)
	} else {
		payment.State = domain.StateAuthorization
	}
	payment.Remote = domain.IntentRef(intent.ID)
	if err := g.store.SavePayment(ctx, payment); err != nil {
		return fmt.Errorf("orchestrator: save payment: %w", err)
	}

	g.pushTransactionMetadata(ctx, payment, intent)

	order.PendingIntentID = ""
	if err := g.store.SaveOrder(ctx, order); err != nil {
		return fmt.Errorf("orchestrator: save order: %w", err)
	}
	return nil
}

// failIntent invalidates the payment method of a failed intent and returns
// the hard decline describing the failure.
func (g *Gateway) failIntent(ctx context.Context, order *domain.Order, method *domain.PaymentMethod, intent *adapter.Intent) error {
	order.PaymentMethodID = ""
	if err := g.methods.DeletePaymentMethod(ctx, method); err != nil {
		g.logger.Warn("payment method cleanup failed",
			zap.String("payment_method_id", method.ID),
			zap.Error(err))
	}
	if intent.Status == adapter.IntentCanceled {
		order.PendingIntentID = ""
	}
	if err := g.store.SaveOrder(ctx, order); err != nil {
		return fmt.Errorf("orchestrator: save order: %w", err)
	}
	return gatewayerr.HardDecline("%s", declineMessage(intent))
}

func declineMessage(intent *adapter.Intent) string {
	if intent.LastError != nil {
		return fmt.Sprintf("%s: %s", intent.LastError.Type, intent.LastError.Message)
	}
	return intent.LastErrorText
}

// pushTransactionMetadata merges the host's transaction metadata into the
// intent. The payment is already committed, so failures are only logged.
func (g *Gateway) pushTransactionMetadata(ctx context.Context, payment *domain.Payment, intent *adapter.Intent) {
	extra, err := g.ext.TransactionMetadata(ctx, payment)
	if err != nil {
		g.logger.Warn("transaction metadata hook failed", zap.String("payment_id", payment.ID), zap.Error(err))
		return
	}
	metadata := make(map[string]string, len(intent.Metadata)+len(extra))
	for k, v := range intent.Metadata {
		metadata[k] = v
	}
	for k, v := range extra {
		metadata[k] = v
	}
	if _, err := g.remote.UpdateIntent(ctx, intent.ID, metadata); err != nil {
		g.logger.Warn("intent metadata update failed",
			zap.String("payment_id", payment.ID),
			zap.String("intent_id", intent.ID),
			zap.Error(g.classifier.Classify(err)))
	}
}

// CreatePaymentIntent creates an intent for order with the default
// attributes merged with overrides, caches its id on the order and returns
// it. The amount and payment method come from payment when given, else
// from the order.
func (g *Gateway) CreatePaymentIntent(ctx context.Context, order *domain.Order, overrides intentplan.Overrides, payment *domain.Payment) (intent *adapter.Intent, err error) {
	ctx, op := g.begin(ctx, "create_payment_intent", payment)
	defer func() { g.end(op, err) }()

	methodID := order.PaymentMethodID
	if payment != nil && payment.PaymentMethodID != "" {
		methodID = payment.PaymentMethodID
	}
	method, err := g.loadPaymentMethod(ctx, methodID)
	if err != nil {
		return nil, err
	}
	return g.createPaymentIntent(ctx, order, payment, method, overrides)
}

// chargesPayment reports whether intent is for exactly payment's amount.
func chargesPayment(intent *adapter.Intent, payment *domain.Payment) bool {
	return intent.Amount == domain.ToMinorUnits(payment.Amount) &&
		strings.EqualFold(intent.Currency, payment.Amount.Currency)
}

func (g *Gateway) createPaymentIntent(ctx context.Context, order *domain.Order, payment *domain.Payment, method *domain.PaymentMethod, overrides intentplan.Overrides) (*adapter.Intent, error) {
	customer, err := g.loadCustomer(ctx, order.CustomerID)
	if err != nil {
		return nil, err
	}
	params, err := g.builder.Build(ctx, order, payment, method, customer, overrides)
	if err != nil {
		return nil, err
	}
	intent, err := g.remote.CreateIntent(ctx, params)
	if err != nil {
		return nil, g.classifier.Classify(err)
	}
	order.PendingIntentID = intent.ID
	if err := g.store.SaveOrder(ctx, order); err != nil {
		return nil, fmt.Errorf("orchestrator: save order: %w", err)
	}
	return intent, nil
}
