package paymentmethod

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/stripe-gateway/internal/adapter"
	"github.com/yourorg/stripe-gateway/internal/adapter/mock"
	"github.com/yourorg/stripe-gateway/internal/classifier"
	"github.com/yourorg/stripe-gateway/internal/domain"
	"github.com/yourorg/stripe-gateway/internal/gatewayerr"
	"github.com/yourorg/stripe-gateway/internal/storage"
)

const providerKey = "stripe_test|test"

type fixture struct {
	remote  *mock.MockAdapter
	store   *storage.MemoryStore
	manager *Manager
}

func newFixture(t *testing.T, ext Extensions) fixture {
	t.Helper()
	remote := mock.NewMockAdapter("stripe")
	remote.AddPaymentMethod(adapter.PaymentMethod{
		ID:   "pm_visa",
		Card: &adapter.Card{Brand: "visa", Last4: "4242", ExpMonth: 11, ExpYear: 2030},
	})
	store := storage.NewMemoryStore()
	m := NewManager(remote, classifier.NewDefaultClassifier(), store, store, Config{
		ProviderKey: providerKey,
		Extensions:  ext,
	})
	return fixture{remote: remote, store: store, manager: m}
}

type hookFunc func(ctx context.Context, method *domain.PaymentMethod, details *Details) error

func (f hookFunc) BeforePaymentMethodCreate(ctx context.Context, method *domain.PaymentMethod, details *Details) error {
	return f(ctx, method, details)
}

func TestCreatePaymentMethod_MissingToken(t *testing.T) {
	f := newFixture(t, nil)
	method := &domain.PaymentMethod{ID: "m-1"}

	err := f.manager.CreatePaymentMethod(context.Background(), method, Details{})
	require.Error(t, err)
	assert.True(t, gatewayerr.IsInvalidRequest(err))
	assert.Empty(t, f.remote.Calls(), "no remote call may be made")
}

func TestCreatePaymentMethod_UnknownBrand(t *testing.T) {
	f := newFixture(t, nil)
	f.remote.AddPaymentMethod(adapter.PaymentMethod{
		ID:   "pm_wallet",
		Card: &adapter.Card{Brand: "unknown_wallet", Last4: "0000", ExpMonth: 1, ExpYear: 2030},
	})
	method := &domain.PaymentMethod{ID: "m-1"}

	err := f.manager.CreatePaymentMethod(context.Background(), method, Details{PaymentMethodID: "pm_wallet"})
	require.Error(t, err)
	assert.True(t, gatewayerr.IsHardDecline(err))
	assert.Equal(t, `Unsupported credit card type "unknown_wallet".`, gatewayerr.MessageOf(err))

	_, getErr := f.store.GetPaymentMethod(context.Background(), "m-1")
	assert.ErrorIs(t, getErr, storage.ErrNotFound, "a declined method is not persisted")
}

func TestCreatePaymentMethod_Guest(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	method := &domain.PaymentMethod{ID: "m-1"}

	require.NoError(t, f.manager.CreatePaymentMethod(ctx, method, Details{PaymentMethodID: "pm_visa"}))

	assert.Equal(t, "pm_visa", method.RemoteID)
	assert.Equal(t, domain.CardVisa, method.CardBrand)
	assert.Equal(t, "4242", method.CardLast4)
	assert.Equal(t, time.Date(2030, time.December, 1, 0, 0, 0, 0, time.UTC), method.ExpiresAt)
	assert.Zero(t, f.remote.CallCount("CreateCustomer"), "guests never get a remote customer")
	assert.Zero(t, f.remote.CallCount("UpdatePaymentMethod"))

	stored, err := f.store.GetPaymentMethod(ctx, "m-1")
	require.NoError(t, err)
	assert.Equal(t, "pm_visa", stored.RemoteID)
}

func TestCreatePaymentMethod_AuthenticatedOwner(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	require.NoError(t, f.store.SaveCustomer(ctx, &domain.Customer{ID: "c-1", Email: "ada@example.com", Authenticated: true}))
	method := &domain.PaymentMethod{
		ID:      "m-1",
		OwnerID: "c-1",
		Billing: &domain.BillingProfile{Address: domain.Address{
			GivenName:    "Ada",
			AddressLine1: "1 Main St",
			Locality:     "London",
			CountryCode:  "GB",
		}},
	}

	require.NoError(t, f.manager.CreatePaymentMethod(ctx, method, Details{PaymentMethodID: "pm_visa"}))

	owner, err := f.store.GetCustomer(ctx, "c-1")
	require.NoError(t, err)
	remoteCustomer := owner.RemoteID(providerKey)
	require.NotEmpty(t, remoteCustomer)

	pm, ok := f.remote.PaymentMethod("pm_visa")
	require.True(t, ok)
	assert.Equal(t, remoteCustomer, pm.CustomerID)
	require.NotNil(t, pm.Billing)
	assert.Equal(t, "ada@example.com", pm.Billing.Email)
	assert.Equal(t, "Ada", pm.Billing.Name)
	require.NotNil(t, pm.Billing.Address)
	assert.Equal(t, "London", pm.Billing.Address.City)
	assert.Equal(t, "", pm.Billing.Address.PostalCode)

	t.Run("second method attaches to the existing customer", func(t *testing.T) {
		f.remote.AddPaymentMethod(adapter.PaymentMethod{
			ID:   "pm_mc",
			Card: &adapter.Card{Brand: "mastercard", Last4: "4444", ExpMonth: 5, ExpYear: 2029},
		})
		second := &domain.PaymentMethod{ID: "m-2", OwnerID: "c-1"}
		require.NoError(t, f.manager.CreatePaymentMethod(ctx, second, Details{PaymentMethodID: "pm_mc"}))

		assert.Equal(t, 1, f.remote.CallCount("CreateCustomer"))
		assert.Equal(t, 1, f.remote.CallCount("AttachPaymentMethod"))
		pm, _ := f.remote.PaymentMethod("pm_mc")
		assert.Equal(t, remoteCustomer, pm.CustomerID)
	})
}

func TestCreatePaymentMethod_LegacyCardToken(t *testing.T) {
	f := newFixture(t, nil)
	f.remote.SetTokenCard("tok_amex", adapter.Card{Brand: "amex", Last4: "0005", ExpMonth: 3, ExpYear: 2028})
	method := &domain.PaymentMethod{ID: "m-1"}

	require.NoError(t, f.manager.CreatePaymentMethod(context.Background(), method, Details{CardToken: "tok_amex"}))
	assert.Equal(t, domain.CardAmex, method.CardBrand)
	assert.NotEmpty(t, method.RemoteID)
	assert.Equal(t, 1, f.remote.CallCount("CreatePaymentMethod"))
}

func TestCreatePaymentMethod_HookRewritesDetails(t *testing.T) {
	var seen string
	hook := hookFunc(func(_ context.Context, method *domain.PaymentMethod, details *Details) error {
		seen = details.PaymentMethodID
		details.PaymentMethodID = "pm_visa"
		return nil
	})
	f := newFixture(t, hook)
	method := &domain.PaymentMethod{ID: "m-1"}

	require.NoError(t, f.manager.CreatePaymentMethod(context.Background(), method, Details{PaymentMethodID: "pm_original"}))
	assert.Equal(t, "pm_original", seen)
	assert.Equal(t, "pm_visa", method.RemoteID)
}

func TestCreatePaymentMethod_RemoteFailureIsClassified(t *testing.T) {
	f := newFixture(t, nil)
	method := &domain.PaymentMethod{ID: "m-1"}

	err := f.manager.CreatePaymentMethod(context.Background(), method, Details{PaymentMethodID: "pm_missing"})
	require.Error(t, err)
	assert.True(t, gatewayerr.IsInvalidRequest(err))
}

func TestMapCardBrand(t *testing.T) {
	brand, err := MapCardBrand("diners")
	require.NoError(t, err)
	assert.Equal(t, domain.CardDinersClub, brand)

	_, err = MapCardBrand("dinersclub")
	assert.True(t, gatewayerr.IsHardDecline(err))
}

func TestBillingDetails(t *testing.T) {
	details := BillingDetails("a@example.com", nil)
	assert.Nil(t, details.Address)
	assert.Empty(t, details.Name)

	details = BillingDetails("a@example.com", &domain.BillingProfile{Address: domain.Address{FamilyName: "Lovelace"}})
	assert.Equal(t, "Lovelace", details.Name)
	details = BillingDetails("a@example.com", &domain.BillingProfile{Address: domain.Address{GivenName: "Ada", FamilyName: "Lovelace"}})
	assert.Equal(t, "Ada Lovelace", details.Name)
}

func TestDeletePaymentMethod(t *testing.T) {
	ctx := context.Background()

	t.Run("detaches an attached method", func(t *testing.T) {
		f := newFixture(t, nil)
		f.remote.AddCustomer(adapter.Customer{ID: "cus_1"})
		f.remote.AddPaymentMethod(adapter.PaymentMethod{ID: "pm_att", CustomerID: "cus_1", Card: &adapter.Card{Brand: "visa"}})
		method := &domain.PaymentMethod{ID: "m-1", RemoteID: "pm_att"}
		require.NoError(t, f.store.SavePaymentMethod(ctx, method))

		require.NoError(t, f.manager.DeletePaymentMethod(ctx, method))
		pm, _ := f.remote.PaymentMethod("pm_att")
		assert.Empty(t, pm.CustomerID)
		_, err := f.store.GetPaymentMethod(ctx, "m-1")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("unattached method is not detached", func(t *testing.T) {
		f := newFixture(t, nil)
		method := &domain.PaymentMethod{ID: "m-1", RemoteID: "pm_visa"}
		require.NoError(t, f.store.SavePaymentMethod(ctx, method))

		require.NoError(t, f.manager.DeletePaymentMethod(ctx, method))
		assert.Zero(t, f.remote.CallCount("DetachPaymentMethod"))
	})

	t.Run("remote failure still deletes locally", func(t *testing.T) {
		f := newFixture(t, nil)
		f.remote.FailOn("RetrievePaymentMethod", &adapter.RemoteError{Type: adapter.ErrorTypeAPIConnection, Message: "timeout"})
		method := &domain.PaymentMethod{ID: "m-1", RemoteID: "pm_visa"}
		require.NoError(t, f.store.SavePaymentMethod(ctx, method))

		err := f.manager.DeletePaymentMethod(ctx, method)
		require.Error(t, err)
		assert.True(t, gatewayerr.IsGateway(err))
		_, getErr := f.store.GetPaymentMethod(ctx, "m-1")
		assert.True(t, errors.Is(getErr, storage.ErrNotFound))
	})
}

func TestNewManager_PanicsOnNil(t *testing.T) {
	store := storage.NewMemoryStore()
	assert.Panics(t, func() { NewManager(nil, classifier.NewDefaultClassifier(), store, store, Config{}) })
	assert.Panics(t, func() { NewManager(mock.NewMockAdapter("m"), nil, store, store, Config{}) })
	assert.Panics(t, func() { NewManager(mock.NewMockAdapter("m"), classifier.NewDefaultClassifier(), nil, store, Config{}) })
}
