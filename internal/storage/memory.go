package storage

import (
	"context"
	"sync"

	"github.com/yourorg/stripe-gateway/internal/domain"
)

// MemoryStore keeps records in maps. Records are copied in and out so
// callers never share memory with the store.
type MemoryStore struct {
	mu        sync.RWMutex
	payments  map[string]domain.Payment
	methods   map[string]domain.PaymentMethod
	orders    map[string]domain.Order
	customers map[string]domain.Customer
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		payments:  make(map[string]domain.Payment),
		methods:   make(map[string]domain.PaymentMethod),
		orders:    make(map[string]domain.Order),
		customers: make(map[string]domain.Customer),
	}
}

func (s *MemoryStore) GetPayment(_ context.Context, id string) (*domain.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.payments[id]
	if !ok {
		return nil, ErrNotFound
	}
	if p.CompletedAt != nil {
		t := *p.CompletedAt
		p.CompletedAt = &t
	}
	return &p, nil
}

func (s *MemoryStore) SavePayment(_ context.Context, p *domain.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	if p.CompletedAt != nil {
		t := *p.CompletedAt
		cp.CompletedAt = &t
	}
	s.payments[p.ID] = cp
	return nil
}

func (s *MemoryStore) GetPaymentMethod(_ context.Context, id string) (*domain.PaymentMethod, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pm, ok := s.methods[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clonePaymentMethod(pm), nil
}

func (s *MemoryStore) SavePaymentMethod(_ context.Context, pm *domain.PaymentMethod) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.methods[pm.ID] = *clonePaymentMethod(*pm)
	return nil
}

func (s *MemoryStore) DeletePaymentMethod(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.methods[id]; !ok {
		return ErrNotFound
	}
	delete(s.methods, id)
	return nil
}

func (s *MemoryStore) GetOrder(_ context.Context, id string) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &o, nil
}

func (s *MemoryStore) SaveOrder(_ context.Context, o *domain.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[o.ID] = *o
	return nil
}

func (s *MemoryStore) GetCustomer(_ context.Context, id string) (*domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.customers[id]
	if !ok {
		return nil, ErrNotFound
	}
	c.RemoteIDs = copyStrings(c.RemoteIDs)
	return &c, nil
}

func (s *MemoryStore) SaveCustomer(_ context.Context, c *domain.Customer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	cp.RemoteIDs = copyStrings(c.RemoteIDs)
	s.customers[c.ID] = cp
	return nil
}

func clonePaymentMethod(pm domain.PaymentMethod) *domain.PaymentMethod {
	if pm.Billing != nil {
		b := *pm.Billing
		pm.Billing = &b
	}
	return &pm
}

func copyStrings(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
