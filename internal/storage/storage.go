// Package storage persists the records the gateway reads and writes. The
// orchestration layer only sees the interfaces below; MemoryStore backs tests
// and local runs, PostgresStore backs deployments.
package storage

import (
	"context"
	"errors"
	"strings"

	"github.com/yourorg/stripe-gateway/internal/domain"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("storage: not found")

type PaymentStore interface {
	GetPayment(ctx context.Context, id string) (*domain.Payment, error)
	SavePayment(ctx context.Context, p *domain.Payment) error
}

type PaymentMethodStore interface {
	GetPaymentMethod(ctx context.Context, id string) (*domain.PaymentMethod, error)
	SavePaymentMethod(ctx context.Context, pm *domain.PaymentMethod) error
	DeletePaymentMethod(ctx context.Context, id string) error
}

type OrderStore interface {
	GetOrder(ctx context.Context, id string) (*domain.Order, error)
	SaveOrder(ctx context.Context, o *domain.Order) error
}

type CustomerStore interface {
	GetCustomer(ctx context.Context, id string) (*domain.Customer, error)
	SaveCustomer(ctx context.Context, c *domain.Customer) error
}

// Store is every record store together.
type Store interface {
	PaymentStore
	PaymentMethodStore
	OrderStore
	CustomerStore
}

// remoteRefFromColumns rebuilds a RemoteRef from its stored kind and id.
// Rows written before the kind column existed carry only the id; those are
// told apart by the processor's id prefix.
func remoteRefFromColumns(kind, id string) domain.RemoteRef {
	if id == "" {
		return domain.RemoteRef{}
	}
	switch kind {
	case domain.RemoteRefIntent.String():
		return domain.IntentRef(id)
	case domain.RemoteRefCharge.String():
		return domain.ChargeRef(id)
	}
	if strings.HasPrefix(id, "ch_") || strings.HasPrefix(id, "py_") {
		return domain.ChargeRef(id)
	}
	return domain.IntentRef(id)
}

func remoteRefColumns(r domain.RemoteRef) (kind, id string) {
	if r.IsZero() {
		return "", ""
	}
	return r.Kind.String(), r.ID
}
