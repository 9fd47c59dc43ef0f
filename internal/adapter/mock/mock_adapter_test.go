package mock

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/stripe-gateway/internal/adapter"
)

func seededAdapter(t *testing.T) *MockAdapter {
	t.Helper()
	m := NewMockAdapter("mock")
	m.AddPaymentMethod(adapter.PaymentMethod{
		ID:   "pm_1",
		Card: &adapter.Card{Brand: "visa", Last4: "4242", ExpMonth: 1, ExpYear: 2031},
	})
	return m
}

func TestNewMockAdapter(t *testing.T) {
	m := NewMockAdapter("test_mock")
	require.NotNil(t, m)
	assert.Equal(t, "test_mock", m.GetName())
	assert.Empty(t, m.Calls())
}

func TestMockAdapter_CreateIntent_Confirmed(t *testing.T) {
	ctx := context.Background()

	t.Run("automatic capture succeeds with a captured charge", func(t *testing.T) {
		m := seededAdapter(t)
		in, err := m.CreateIntent(ctx, adapter.IntentParams{
			Amount: 1000, Currency: "usd", PaymentMethodID: "pm_1",
			CaptureMethod: adapter.CaptureAutomatic, Confirm: true,
		})
		require.NoError(t, err)
		assert.Equal(t, adapter.IntentSucceeded, in.Status)
		require.NotEmpty(t, in.LatestChargeID)
		ch, ok := m.Charge(in.LatestChargeID)
		require.True(t, ok)
		assert.True(t, ch.Captured)
		assert.Equal(t, in.ID, ch.PaymentIntentID)
	})

	t.Run("manual capture stops at requires_capture", func(t *testing.T) {
		m := seededAdapter(t)
		in, err := m.CreateIntent(ctx, adapter.IntentParams{
			Amount: 1000, Currency: "usd", PaymentMethodID: "pm_1",
			CaptureMethod: adapter.CaptureManual, Confirm: true,
		})
		require.NoError(t, err)
		assert.Equal(t, adapter.IntentRequiresCapture, in.Status)
		ch, _ := m.Charge(in.LatestChargeID)
		assert.False(t, ch.Captured)
	})

	t.Run("decline leaves no charge", func(t *testing.T) {
		m := seededAdapter(t)
		m.SetConfirmOutcome(OutcomeDecline)
		in, err := m.CreateIntent(ctx, adapter.IntentParams{Amount: 1000, Currency: "usd", PaymentMethodID: "pm_1", Confirm: true})
		require.NoError(t, err)
		assert.Equal(t, adapter.IntentRequiresPaymentMethod, in.Status)
		assert.Empty(t, in.LatestChargeID)
		require.NotNil(t, in.LastError)
		assert.Equal(t, "Your card was declined.", in.LastError.Message)
	})

	t.Run("unconfirmed intent waits for confirmation", func(t *testing.T) {
		m := seededAdapter(t)
		in, err := m.CreateIntent(ctx, adapter.IntentParams{Amount: 1000, Currency: "usd", PaymentMethodID: "pm_1"})
		require.NoError(t, err)
		assert.Equal(t, adapter.IntentRequiresConfirmation, in.Status)

		in, err = m.ConfirmIntent(ctx, in.ID)
		require.NoError(t, err)
		assert.Equal(t, adapter.IntentSucceeded, in.Status)
	})
}

func TestMockAdapter_CaptureIntent_RequiresCaptureOnly(t *testing.T) {
	ctx := context.Background()
	m := seededAdapter(t)
	in, err := m.CreateIntent(ctx, adapter.IntentParams{Amount: 1000, Currency: "usd", PaymentMethodID: "pm_1", Confirm: true})
	require.NoError(t, err)

	_, err = m.CaptureIntent(ctx, in.ID, 1000)
	var remote *adapter.RemoteError
	require.True(t, errors.As(err, &remote))
	assert.Equal(t, "payment_intent_unexpected_state", remote.Code)
}

func TestMockAdapter_CreateRefund_IdempotencyKey(t *testing.T) {
	ctx := context.Background()
	m := seededAdapter(t)
	in, err := m.CreateIntent(ctx, adapter.IntentParams{Amount: 1000, Currency: "usd", PaymentMethodID: "pm_1", Confirm: true})
	require.NoError(t, err)

	first, err := m.CreateRefund(ctx, adapter.RefundParams{PaymentIntentID: in.ID, Amount: adapter.Int64(400), IdempotencyKey: "k1"})
	require.NoError(t, err)
	replay, err := m.CreateRefund(ctx, adapter.RefundParams{PaymentIntentID: in.ID, Amount: adapter.Int64(400), IdempotencyKey: "k1"})
	require.NoError(t, err)

	assert.Equal(t, first.ID, replay.ID)
	assert.Equal(t, 1, m.Refunds())
	assert.Equal(t, int64(400), m.RefundedAmount(in.LatestChargeID))

	_, err = m.CreateRefund(ctx, adapter.RefundParams{PaymentIntentID: in.ID, Amount: adapter.Int64(700), IdempotencyKey: "k2"})
	require.Error(t, err)
	assert.Equal(t, int64(400), m.RefundedAmount(in.LatestChargeID))
}

func TestMockAdapter_CreateRefund_Amount(t *testing.T) {
	ctx := context.Background()

	t.Run("nil amount refunds the remainder", func(t *testing.T) {
		m := seededAdapter(t)
		in, err := m.CreateIntent(ctx, adapter.IntentParams{Amount: 1000, Currency: "usd", PaymentMethodID: "pm_1", Confirm: true})
		require.NoError(t, err)
		_, err = m.CreateRefund(ctx, adapter.RefundParams{PaymentIntentID: in.ID, Amount: adapter.Int64(300)})
		require.NoError(t, err)

		r, err := m.CreateRefund(ctx, adapter.RefundParams{PaymentIntentID: in.ID})
		require.NoError(t, err)
		assert.Equal(t, int64(700), r.Amount)
		assert.Equal(t, int64(1000), m.RefundedAmount(in.LatestChargeID))
	})

	t.Run("explicit zero is rejected", func(t *testing.T) {
		m := seededAdapter(t)
		in, err := m.CreateIntent(ctx, adapter.IntentParams{Amount: 1000, Currency: "usd", PaymentMethodID: "pm_1", Confirm: true})
		require.NoError(t, err)

		_, err = m.CreateRefund(ctx, adapter.RefundParams{PaymentIntentID: in.ID, Amount: adapter.Int64(0)})
		var remote *adapter.RemoteError
		require.True(t, errors.As(err, &remote))
		assert.Equal(t, "amount_too_small", remote.Code)
		assert.Zero(t, m.RefundedAmount(in.LatestChargeID))
	})
}

func TestMockAdapter_PaymentMethods(t *testing.T) {
	ctx := context.Background()
	m := seededAdapter(t)

	_, err := m.RetrievePaymentMethod(ctx, "pm_missing")
	var remote *adapter.RemoteError
	require.True(t, errors.As(err, &remote))
	assert.Equal(t, adapter.ErrorTypeInvalidRequest, remote.Type)
	assert.Equal(t, "resource_missing", remote.Code)

	cus, err := m.CreateCustomer(ctx, adapter.CustomerParams{Email: "a@example.com", PaymentMethodID: "pm_1"})
	require.NoError(t, err)
	pm, _ := m.PaymentMethod("pm_1")
	assert.Equal(t, cus.ID, pm.CustomerID)

	_, err = m.DetachPaymentMethod(ctx, "pm_1")
	require.NoError(t, err)
	_, err = m.DetachPaymentMethod(ctx, "pm_1")
	require.Error(t, err, "detaching an unattached method fails")
}

func TestMockAdapter_FailOn(t *testing.T) {
	ctx := context.Background()
	m := seededAdapter(t)
	boom := &adapter.RemoteError{Type: adapter.ErrorTypeAPIConnection, Message: "boom"}
	m.FailOn("RetrieveBalance", boom)

	_, err := m.RetrieveBalance(ctx)
	assert.Same(t, boom, err)
	assert.Equal(t, 1, m.CallCount("RetrieveBalance"))

	m.ClearFailures()
	m.SetLivemode(true)
	bal, err := m.RetrieveBalance(ctx)
	require.NoError(t, err)
	assert.True(t, bal.Livemode)
}
