// Package paymentmethod creates and removes tokenized cards: it binds the
// remote payment method to a remote customer, pushes billing details, maps
// the card brand and persists the local record.
package paymentmethod

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/yourorg/stripe-gateway/internal/adapter"
	"github.com/yourorg/stripe-gateway/internal/classifier"
	"github.com/yourorg/stripe-gateway/internal/domain"
	"github.com/yourorg/stripe-gateway/internal/gatewayerr"
	"github.com/yourorg/stripe-gateway/internal/storage"
)

var tracer = otel.Tracer("paymentmethod")

// Details is the creation input for a payment method.
type Details struct {
	// PaymentMethodID is the remote payment method id produced by client-side tokenization.
	PaymentMethodID string `json:"payment_method_id,omitempty"`
	// CardToken is a legacy single-use card token, used when no payment method id is given.
	CardToken string `json:"card_token,omitempty"`
}

// Extensions lets the host adjust creation input before it is used remotely.
type Extensions interface {
	BeforePaymentMethodCreate(ctx context.Context, method *domain.PaymentMethod, details *Details) error
}

type noopExtensions struct{}

func (noopExtensions) BeforePaymentMethodCreate(context.Context, *domain.PaymentMethod, *Details) error {
	return nil
}

var brandMap = map[string]domain.CardBrand{
	"amex":       domain.CardAmex,
	"diners":     domain.CardDinersClub,
	"discover":   domain.CardDiscover,
	"jcb":        domain.CardJCB,
	"mastercard": domain.CardMastercard,
	"visa":       domain.CardVisa,
	"unionpay":   domain.CardUnionPay,
}

// MapCardBrand maps a remote brand to the local vocabulary. Unknown brands
// are hard declines.
func MapCardBrand(remoteBrand string) (domain.CardBrand, error) {
	brand, ok := brandMap[remoteBrand]
	if !ok {
		return "", gatewayerr.HardDecline("Unsupported credit card type \"%s\".", remoteBrand)
	}
	return brand, nil
}

// Config carries the optional collaborators of a Manager.
type Config struct {
	// ProviderKey scopes remote customer ids to a gateway instance and mode.
	ProviderKey string
	Extensions  Extensions
	Logger      *zap.Logger
}

// Manager runs the payment-method lifecycle.
type Manager struct {
	remote      adapter.RemoteClient
	classifier  *classifier.Classifier
	methods     storage.PaymentMethodStore
	customers   storage.CustomerStore
	providerKey string
	ext         Extensions
	logger      *zap.Logger
}

// NewManager creates a Manager. It panics on nil collaborators.
func NewManager(
	remote adapter.RemoteClient,
	cls *classifier.Classifier,
	methods storage.PaymentMethodStore,
	customers storage.CustomerStore,
	cfg Config,
) *Manager {
	if remote == nil {
		panic("NewManager: remote client cannot be nil")
	}
	if cls == nil {
		panic("NewManager: classifier cannot be nil")
	}
	if methods == nil || customers == nil {
		panic("NewManager: stores cannot be nil")
	}
	m := &Manager{
		remote:      remote,
		classifier:  cls,
		methods:     methods,
		customers:   customers,
		providerKey: cfg.ProviderKey,
		ext:         cfg.Extensions,
		logger:      cfg.Logger,
	}
	if m.providerKey == "" {
		m.providerKey = remote.GetName()
	}
	if m.ext == nil {
		m.ext = noopExtensions{}
	}
	if m.logger == nil {
		m.logger = zap.NewNop()
	}
	return m
}

// CreatePaymentMethod binds the remote payment method named by details to
// the method's owner and stores the card data on method.
func (m *Manager) CreatePaymentMethod(ctx context.Context, method *domain.PaymentMethod, details Details) error {
	ctx, span := tracer.Start(ctx, "Manager.CreatePaymentMethod")
	defer span.End()

	if details.PaymentMethodID == "" && details.CardToken == "" {
		return gatewayerr.InvalidRequest("payment details must contain a payment_method_id or card_token")
	}
	if err := m.ext.BeforePaymentMethodCreate(ctx, method, &details); err != nil {
		return fmt.Errorf("paymentmethod: before create hook: %w", err)
	}

	if details.PaymentMethodID == "" {
		created, err := m.remote.CreatePaymentMethod(ctx, details.CardToken)
		if err != nil {
			return m.classifier.Classify(err)
		}
		details.PaymentMethodID = created.ID
	}
	span.SetAttributes(attribute.String("payment_method.remote_id", details.PaymentMethodID))

	card, err := m.doCreatePaymentMethod(ctx, method, details.PaymentMethodID)
	if err != nil {
		return err
	}
	brand, err := MapCardBrand(card.Brand)
	if err != nil {
		return err
	}

	method.RemoteID = details.PaymentMethodID
	method.CardBrand = brand
	method.CardLast4 = card.Last4
	method.ExpMonth = card.ExpMonth
	method.ExpYear = card.ExpYear
	method.ExpiresAt = domain.CardExpiration(card.ExpMonth, card.ExpYear)

	if err := m.methods.SavePaymentMethod(ctx, method); err != nil {
		return fmt.Errorf("paymentmethod: save: %w", err)
	}
	m.logger.Info("payment method created",
		zap.String("payment_method_id", method.ID),
		zap.String("remote_id", method.RemoteID),
		zap.String("card_brand", string(method.CardBrand)))
	return nil
}

// doCreatePaymentMethod attaches the remote method to the owner's remote
// customer, creating that customer for authenticated owners, and pushes
// billing details once a customer is known.
func (m *Manager) doCreatePaymentMethod(ctx context.Context, method *domain.PaymentMethod, remoteID string) (*adapter.Card, error) {
	remotePM, err := m.remote.RetrievePaymentMethod(ctx, remoteID)
	if err != nil {
		return nil, m.classifier.Classify(err)
	}

	owner, err := m.loadOwner(ctx, method.OwnerID)
	if err != nil {
		return nil, err
	}

	var customerID, email string
	if owner != nil && owner.Authenticated {
		customerID = owner.RemoteID(m.providerKey)
		email = owner.Email
	}

	switch {
	case customerID != "":
		if _, err := m.remote.AttachPaymentMethod(ctx, remoteID, customerID); err != nil {
			return nil, m.classifier.Classify(err)
		}
	case owner != nil && owner.Authenticated:
		customer, err := m.remote.CreateCustomer(ctx, adapter.CustomerParams{
			Email:           email,
			Description:     "Customer for " + email,
			PaymentMethodID: remoteID,
		})
		if err != nil {
			return nil, m.classifier.Classify(err)
		}
		customerID = customer.ID
		owner.SetRemoteID(m.providerKey, customerID)
		if err := m.customers.SaveCustomer(ctx, owner); err != nil {
			return nil, fmt.Errorf("paymentmethod: save customer: %w", err)
		}
		m.logger.Info("remote customer created", zap.String("customer_id", owner.ID), zap.String("remote_customer_id", customerID))
	}

	if customerID != "" && email != "" {
		if _, err := m.remote.UpdatePaymentMethod(ctx, remoteID, BillingDetails(email, method.Billing)); err != nil {
			return nil, m.classifier.Classify(err)
		}
	}

	if remotePM.Card == nil {
		return nil, gatewayerr.HardDecline("The payment method %s has no card.", remoteID)
	}
	return remotePM.Card, nil
}

func (m *Manager) loadOwner(ctx context.Context, ownerID string) (*domain.Customer, error) {
	if ownerID == "" {
		return nil, nil
	}
	owner, err := m.customers.GetCustomer(ctx, ownerID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("paymentmethod: load owner: %w", err)
	}
	return owner, nil
}

// BillingDetails builds the remote billing payload from the local profile.
func BillingDetails(email string, profile *domain.BillingProfile) adapter.BillingDetails {
	details := adapter.BillingDetails{Email: email}
	if profile == nil {
		return details
	}
	a := profile.Address
	var parts []string
	for _, p := range []string{a.GivenName, a.FamilyName} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	details.Name = strings.Join(parts, " ")
	details.Address = &adapter.BillingAddress{
		City:       a.Locality,
		Country:    a.CountryCode,
		Line1:      a.AddressLine1,
		Line2:      a.AddressLine2,
		PostalCode: a.PostalCode,
		State:      a.AdministrativeArea,
	}
	return details
}

// DeletePaymentMethod detaches the remote method when it is attached to a
// customer and deletes the local record. The local record is deleted even
// when the remote cleanup fails; that failure is still returned.
func (m *Manager) DeletePaymentMethod(ctx context.Context, method *domain.PaymentMethod) error {
	ctx, span := tracer.Start(ctx, "Manager.DeletePaymentMethod")
	defer span.End()

	var remoteErr error
	if method.RemoteID != "" {
		remoteErr = m.detach(ctx, method.RemoteID)
		if remoteErr != nil {
			m.logger.Warn("remote detach failed",
				zap.String("payment_method_id", method.ID),
				zap.String("remote_id", method.RemoteID),
				zap.Error(remoteErr))
		}
	}

	if err := m.methods.DeletePaymentMethod(ctx, method.ID); err != nil && !errors.Is(err, storage.ErrNotFound) {
		if remoteErr != nil {
			return remoteErr
		}
		return fmt.Errorf("paymentmethod: delete: %w", err)
	}
	m.logger.Info("payment method deleted", zap.String("payment_method_id", method.ID))
	return remoteErr
}

func (m *Manager) detach(ctx context.Context, remoteID string) error {
	remotePM, err := m.remote.RetrievePaymentMethod(ctx, remoteID)
	if err != nil {
		return m.classifier.Classify(err)
	}
	if remotePM.CustomerID == "" {
		return nil
	}
	if _, err := m.remote.DetachPaymentMethod(ctx, remoteID); err != nil {
		return m.classifier.Classify(err)
	}
	return nil
}
