package orchestrator_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/yourorg/stripe-gateway/internal/adapter"
	"github.com/yourorg/stripe-gateway/internal/adapter/breaker"
	adaptermock "github.com/yourorg/stripe-gateway/internal/adapter/mock"
	"github.com/yourorg/stripe-gateway/internal/classifier"
	"github.com/yourorg/stripe-gateway/internal/domain"
	"github.com/yourorg/stripe-gateway/internal/gatewayerr"
	"github.com/yourorg/stripe-gateway/internal/orchestrator"
	"github.com/yourorg/stripe-gateway/internal/paymentmethod"
	"github.com/yourorg/stripe-gateway/internal/reporting"
	"github.com/yourorg/stripe-gateway/internal/storage"
)

// MockStore wraps a MemoryStore and lets tests intercept SavePayment.
type MockStore struct {
	mock.Mock
	*storage.MemoryStore
}

func (m *MockStore) SavePayment(ctx context.Context, p *domain.Payment) error {
	args := m.Called(ctx, p)
	return args.Error(0)
}

func seed(t *testing.T, remote *adaptermock.MockAdapter, store storage.Store) {
	t.Helper()
	ctx := context.Background()
	remote.AddPaymentMethod(adapter.PaymentMethod{
		ID:   "pm_mc",
		Card: &adapter.Card{Brand: "mastercard", Last4: "4444", ExpMonth: 6, ExpYear: 2031},
	})
	require.NoError(t, store.SaveCustomer(ctx, &domain.Customer{ID: "c-1", Email: "grace@example.com", Authenticated: true}))
	require.NoError(t, store.SaveOrder(ctx, &domain.Order{
		ID:              "o-1",
		StoreID:         "s-1",
		CustomerID:      "c-1",
		TotalPrice:      domain.MustMoney("25.00", "EUR"),
		PaymentMethodID: "m-1",
	}))
}

func TestGateway_Lifecycle(t *testing.T) {
	ctx := context.Background()
	remote := adaptermock.NewMockAdapter("stripe")
	store := storage.NewMemoryStore()
	seed(t, remote, store)
	journal := reporting.NewJournal(0)

	client := breaker.NewClient(remote, breaker.NewCircuitBreaker(breaker.Settings{}), zaptest.NewLogger(t))
	gw := orchestrator.NewGateway(client, classifier.NewDefaultClassifier(), store, orchestrator.Config{
		Mode:        "test",
		ProviderKey: "stripe|test",
		Logger:      zaptest.NewLogger(t),
		Journal:     journal,
	})

	require.NoError(t, gw.VerifyCredentials(ctx))

	method := &domain.PaymentMethod{ID: "m-1", OwnerID: "c-1"}
	require.NoError(t, gw.CreatePaymentMethod(ctx, method, paymentmethod.Details{PaymentMethodID: "pm_mc"}))
	assert.Equal(t, domain.CardMastercard, method.CardBrand)

	customer, err := store.GetCustomer(ctx, "c-1")
	require.NoError(t, err)
	remoteCustomerID := customer.RemoteID("stripe|test")
	require.NotEmpty(t, remoteCustomerID, "an authenticated owner gets a remote customer")

	payment := &domain.Payment{
		ID:              "p-1",
		OrderID:         "o-1",
		PaymentMethodID: "m-1",
		State:           domain.StateNew,
		Amount:          domain.MustMoney("25.00", "EUR"),
	}
	require.NoError(t, gw.CreatePayment(ctx, payment, false))
	require.Equal(t, domain.StateAuthorization, payment.State)

	intent, ok := remote.Intent(payment.Remote.ID)
	require.True(t, ok)
	assert.Equal(t, remoteCustomerID, intent.CustomerID)
	assert.Equal(t, "eur", intent.Currency)

	require.NoError(t, gw.CapturePayment(ctx, payment, nil))
	require.Equal(t, domain.StateCompleted, payment.State)

	partial := domain.MustMoney("5.00", "EUR")
	require.NoError(t, gw.RefundPayment(ctx, payment, &partial))
	assert.Equal(t, domain.StatePartiallyRefunded, payment.State)
	require.NoError(t, gw.RefundPayment(ctx, payment, nil))
	assert.Equal(t, domain.StateRefunded, payment.State)

	stored, err := store.GetPayment(ctx, "p-1")
	require.NoError(t, err)
	assert.True(t, stored.RefundedAmount.Equal(domain.MustMoney("25.00", "EUR")))
	assert.Equal(t, int64(2500), remote.RefundedAmount(intent.LatestChargeID))
	assert.Equal(t, breaker.Closed, client.Breaker().GetState())

	report := reporting.NewRetrospectiveReporter().GenerateRetrospective(journal.Entries())
	assert.Equal(t, 6, report.TotalOperations)
	assert.Equal(t, 6, report.Successful)
	assert.Equal(t, int64(2500), report.AmountByOperation["capture_payment"]["EUR"])
	assert.Equal(t, int64(2500), report.AmountByOperation["refund_payment"]["EUR"])
}

func TestGateway_OpenCircuitIsGatewayException(t *testing.T) {
	remote := adaptermock.NewMockAdapter("stripe")
	store := storage.NewMemoryStore()
	seed(t, remote, store)
	require.NoError(t, store.SavePaymentMethod(context.Background(), &domain.PaymentMethod{ID: "m-1", OwnerID: "c-1", RemoteID: "pm_mc"}))

	cb := breaker.NewCircuitBreaker(breaker.Settings{FailureThreshold: 1})
	cb.RecordFailure()
	require.Equal(t, breaker.Open, cb.GetState())

	gw := orchestrator.NewGateway(breaker.NewClient(remote, cb, nil), classifier.NewDefaultClassifier(), store, orchestrator.Config{})
	payment := &domain.Payment{ID: "p-1", OrderID: "o-1", PaymentMethodID: "m-1", State: domain.StateNew, Amount: domain.MustMoney("25.00", "EUR")}

	err := gw.CreatePayment(context.Background(), payment, true)
	require.Error(t, err)
	assert.True(t, gatewayerr.IsGateway(err))
	assert.Empty(t, remote.Calls(), "an open circuit short-circuits the remote")
	assert.Equal(t, domain.StateNew, payment.State)
}

func TestGateway_SavePaymentFailure(t *testing.T) {
	ctx := context.Background()
	remote := adaptermock.NewMockAdapter("stripe")
	store := &MockStore{MemoryStore: storage.NewMemoryStore()}
	seed(t, remote, store)
	require.NoError(t, store.SavePaymentMethod(ctx, &domain.PaymentMethod{ID: "m-1", OwnerID: "c-1", RemoteID: "pm_mc"}))

	boom := errors.New("connection reset")
	store.On("SavePayment", mock.Anything, mock.AnythingOfType("*domain.Payment")).Return(boom).Once()

	gw := orchestrator.NewGateway(remote, classifier.NewDefaultClassifier(), store, orchestrator.Config{})
	payment := &domain.Payment{ID: "p-1", OrderID: "o-1", PaymentMethodID: "m-1", State: domain.StateNew, Amount: domain.MustMoney("25.00", "EUR")}

	err := gw.CreatePayment(ctx, payment, true)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	_, classified := gatewayerr.KindOf(err)
	assert.False(t, classified, "storage failures are not gateway errors")

	order, getErr := store.GetOrder(ctx, "o-1")
	require.NoError(t, getErr)
	assert.NotEmpty(t, order.PendingIntentID, "the intent stays cached so a retry resumes it")

	store.AssertExpectations(t)
}
