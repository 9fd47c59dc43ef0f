package orchestrator

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/yourorg/stripe-gateway/internal/adapter"
	"github.com/yourorg/stripe-gateway/internal/domain"
	"github.com/yourorg/stripe-gateway/internal/gatewayerr"
)

// cancelableStatuses are the intent statuses a void may cancel.
var cancelableStatuses = map[adapter.IntentStatus]bool{
	adapter.IntentRequiresPaymentMethod: true,
	adapter.IntentRequiresCapture:       true,
	adapter.IntentRequiresConfirmation:  true,
	adapter.IntentRequiresAction:        true,
}

// resolveIntentID returns the intent behind ref. A legacy charge resolves to
// its intent when it has one, else to "".
func (g *Gateway) resolveIntentID(ctx context.Context, ref domain.RemoteRef) (string, error) {
	switch ref.Kind {
	case domain.RemoteRefIntent:
		return ref.ID, nil
	case domain.RemoteRefCharge:
		charge, err := g.remote.RetrieveCharge(ctx, ref.ID)
		if err != nil {
			return "", g.classifier.Classify(err)
		}
		return charge.PaymentIntentID, nil
	default:
		return "", gatewayerr.InvalidRequest("payment has no remote reference")
	}
}

// checkAmount validates an operation amount against limit.
func checkAmount(amount, limit domain.Money) error {
	if !amount.SameCurrency(limit) {
		return gatewayerr.InvalidRequest("amount currency %s does not match payment currency %s", amount.Currency, limit.Currency)
	}
	if !amount.IsPositive() {
		return gatewayerr.InvalidRequest("amount must be positive, got %s", amount)
	}
	if !amount.IsExact() {
		return gatewayerr.InvalidRequest("amount %s %s is finer than the currency's smallest unit", amount.Number, amount.Currency)
	}
	if amount.GreaterThan(limit) {
		return gatewayerr.InvalidRequest("amount %s exceeds %s", amount, limit)
	}
	return nil
}

// CapturePayment captures an authorized payment. A nil amount captures the
// full authorized amount. A capture below the authorization releases the
// remainder and the payment's amount becomes the captured amount.
func (g *Gateway) CapturePayment(ctx context.Context, payment *domain.Payment, amount *domain.Money) (err error) {
	ctx, op := g.begin(ctx, "capture_payment", payment)
	defer func() { g.end(op, err) }()

	if err := assertState(payment, domain.StateAuthorization); err != nil {
		return err
	}
	captured := payment.Amount
	if amount != nil {
		captured = *amount
	}
	if err := checkAmount(captured, payment.Amount); err != nil {
		return err
	}
	minor := domain.ToMinorUnits(captured)

	intentID, err := g.resolveIntentID(ctx, payment.Remote)
	if err != nil {
		return err
	}
	if intentID != "" {
		intent, err := g.remote.RetrieveIntent(ctx, intentID)
		if err != nil {
			return g.classifier.Classify(err)
		}
		switch intent.Status {
		case adapter.IntentRequiresCapture:
			if _, err := g.remote.CaptureIntent(ctx, intentID, minor); err != nil {
				return g.classifier.Classify(err)
			}
		case adapter.IntentSucceeded:
			// Captured out of band; only the local record is behind.
			g.logger.Info("intent already captured",
				zap.String("payment_id", payment.ID),
				zap.String("intent_id", intentID))
			captured = domain.FromMinorUnits(intent.Amount, payment.Amount.Currency)
		default:
			return gatewayerr.Gateway("Only requires_capture PaymentIntents can be captured.")
		}
	} else {
		if _, err := g.remote.CaptureCharge(ctx, payment.Remote.ID, minor); err != nil {
			return g.classifier.Classify(err)
		}
	}

	now := g.now()
	payment.State = domain.StateCompleted
	payment.Amount = captured
	payment.CompletedAt = &now
	if err := g.store.SavePayment(ctx, payment); err != nil {
		return fmt.Errorf("orchestrator: save payment: %w", err)
	}
	op.moved(captured)
	return nil
}

// VoidPayment releases an authorization. Intents are canceled; legacy
// charges are refunded in full.
func (g *Gateway) VoidPayment(ctx context.Context, payment *domain.Payment) (err error) {
	ctx, op := g.begin(ctx, "void_payment", payment)
	defer func() { g.end(op, err) }()

	if err := assertState(payment, domain.StateAuthorization); err != nil {
		return err
	}
	intentID, err := g.resolveIntentID(ctx, payment.Remote)
	if err != nil {
		return err
	}
	if intentID != "" {
		intent, err := g.remote.RetrieveIntent(ctx, intentID)
		if err != nil {
			return g.classifier.Classify(err)
		}
		if !cancelableStatuses[intent.Status] {
			return gatewayerr.Gateway("The PaymentIntent cannot be voided.")
		}
		if _, err := g.remote.CancelIntent(ctx, intentID); err != nil {
			return g.classifier.Classify(err)
		}
	} else {
		// No amount: the charge is refunded in full.
		refund, err := g.remote.CreateRefund(ctx, adapter.RefundParams{
			ChargeID:       payment.Remote.ID,
			IdempotencyKey: g.idempotencyKey(),
		})
		if err != nil {
			return g.classifier.Classify(err)
		}
		if err := g.classifier.CheckResult(refund.Status, refund.FailureCode, refund.FailureMessage); err != nil {
			return err
		}
	}

	payment.State = domain.StateAuthorizationVoided
	if err := g.store.SavePayment(ctx, payment); err != nil {
		return fmt.Errorf("orchestrator: save payment: %w", err)
	}
	return nil
}

// RefundPayment refunds amount, or the remaining balance when amount is nil,
// from a completed payment. One idempotency key is used per call so a retried
// request cannot refund twice.
func (g *Gateway) RefundPayment(ctx context.Context, payment *domain.Payment, amount *domain.Money) (err error) {
	ctx, op := g.begin(ctx, "refund_payment", payment)
	defer func() { g.end(op, err) }()

	if err := assertState(payment, domain.StateCompleted, domain.StatePartiallyRefunded); err != nil {
		return err
	}
	balance := payment.Balance()
	refunded := balance
	if amount != nil {
		refunded = *amount
	}
	if err := checkAmount(refunded, balance); err != nil {
		return err
	}

	minor := domain.ToMinorUnits(refunded)
	params := adapter.RefundParams{
		Amount:         &minor,
		IdempotencyKey: g.idempotencyKey(),
	}
	switch payment.Remote.Kind {
	case domain.RemoteRefIntent:
		params.PaymentIntentID = payment.Remote.ID
	case domain.RemoteRefCharge:
		params.ChargeID = payment.Remote.ID
	default:
		return gatewayerr.InvalidRequest("payment has no remote reference")
	}
	op.span.AddEvent("refund requested")

	refund, err := g.remote.CreateRefund(ctx, params)
	if err != nil {
		return g.classifier.Classify(err)
	}
	if err := g.classifier.CheckResult(refund.Status, refund.FailureCode, refund.FailureMessage); err != nil {
		return err
	}

	if err := payment.ApplyRefund(refunded); err != nil {
		return fmt.Errorf("orchestrator: apply refund: %w", err)
	}
	if err := g.store.SavePayment(ctx, payment); err != nil {
		return fmt.Errorf("orchestrator: save payment: %w", err)
	}
	op.moved(refunded)
	return nil
}
