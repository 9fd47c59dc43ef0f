package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/yourorg/stripe-gateway/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS customers (
	id            text PRIMARY KEY,
	email         text NOT NULL DEFAULT '',
	authenticated boolean NOT NULL DEFAULT false,
	remote_ids    jsonb NOT NULL DEFAULT '{}'::jsonb
);

CREATE TABLE IF NOT EXISTS orders (
	id                text PRIMARY KEY,
	store_id          text NOT NULL DEFAULT '',
	customer_id       text NOT NULL DEFAULT '',
	total_amount      numeric NOT NULL,
	currency          char(3) NOT NULL,
	payment_method_id text NOT NULL DEFAULT '',
	pending_intent_id text NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS payment_methods (
	id         text PRIMARY KEY,
	owner_id   text NOT NULL DEFAULT '',
	remote_id  text NOT NULL,
	card_brand text NOT NULL DEFAULT '',
	card_last4 text NOT NULL DEFAULT '',
	exp_month  integer NOT NULL DEFAULT 0,
	exp_year   integer NOT NULL DEFAULT 0,
	expires_at timestamptz,
	billing    jsonb
);

CREATE TABLE IF NOT EXISTS payments (
	id                text PRIMARY KEY,
	order_id          text NOT NULL,
	payment_method_id text NOT NULL DEFAULT '',
	state             text NOT NULL,
	amount            numeric NOT NULL,
	refunded_amount   numeric NOT NULL DEFAULT 0,
	currency          char(3) NOT NULL,
	remote_kind       text NOT NULL DEFAULT '',
	remote_id         text NOT NULL DEFAULT '',
	completed_at      timestamptz
);
`

const upsertPayment = `
INSERT INTO payments (
	id,
	order_id,
	payment_method_id,
	state,
	amount,
	refunded_amount,
	currency,
	remote_kind,
	remote_id,
	completed_at
) VALUES ($1, $2, $3, $4, $5::numeric, $6::numeric, $7, $8, $9, $10)
ON CONFLICT (id) DO UPDATE SET
	order_id = EXCLUDED.order_id,
	payment_method_id = EXCLUDED.payment_method_id,
	state = EXCLUDED.state,
	amount = EXCLUDED.amount,
	refunded_amount = EXCLUDED.refunded_amount,
	currency = EXCLUDED.currency,
	remote_kind = EXCLUDED.remote_kind,
	remote_id = EXCLUDED.remote_id,
	completed_at = EXCLUDED.completed_at;
`

const selectPaymentByID = `
SELECT id, order_id, payment_method_id, state, amount::text, refunded_amount::text,
	currency, remote_kind, remote_id, completed_at
FROM payments
WHERE id = $1;
`

const upsertPaymentMethod = `
INSERT INTO payment_methods (
	id,
	owner_id,
	remote_id,
	card_brand,
	card_last4,
	exp_month,
	exp_year,
	expires_at,
	billing
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::jsonb)
ON CONFLICT (id) DO UPDATE SET
	owner_id = EXCLUDED.owner_id,
	remote_id = EXCLUDED.remote_id,
	card_brand = EXCLUDED.card_brand,
	card_last4 = EXCLUDED.card_last4,
	exp_month = EXCLUDED.exp_month,
	exp_year = EXCLUDED.exp_year,
	expires_at = EXCLUDED.expires_at,
	billing = EXCLUDED.billing;
`

const selectPaymentMethodByID = `
SELECT id, owner_id, remote_id, card_brand, card_last4, exp_month, exp_year,
	expires_at, COALESCE(billing::text, '')
FROM payment_methods
WHERE id = $1;
`

const deletePaymentMethod = `
DELETE FROM payment_methods
WHERE id = $1;
`

const upsertOrder = `
INSERT INTO orders (
	id,
	store_id,
	customer_id,
	total_amount,
	currency,
	payment_method_id,
	pending_intent_id
) VALUES ($1, $2, $3, $4::numeric, $5, $6, $7)
ON CONFLICT (id) DO UPDATE SET
	store_id = EXCLUDED.store_id,
	customer_id = EXCLUDED.customer_id,
	total_amount = EXCLUDED.total_amount,
	currency = EXCLUDED.currency,
	payment_method_id = EXCLUDED.payment_method_id,
	pending_intent_id = EXCLUDED.pending_intent_id;
`

const selectOrderByID = `
SELECT id, store_id, customer_id, total_amount::text, currency, payment_method_id, pending_intent_id
FROM orders
WHERE id = $1;
`

const upsertCustomer = `
INSERT INTO customers (id, email, authenticated, remote_ids)
VALUES ($1, $2, $3, $4::jsonb)
ON CONFLICT (id) DO UPDATE SET
	email = EXCLUDED.email,
	authenticated = EXCLUDED.authenticated,
	remote_ids = EXCLUDED.remote_ids;
`

const selectCustomerByID = `
SELECT id, email, authenticated, remote_ids::text
FROM customers
WHERE id = $1;
`

// PostgresStore is a Store backed by a pgx connection pool.
type PostgresStore struct {
	conn *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore connects to databaseURL.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.Connect(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.Connect: %w", err)
	}
	return &PostgresStore{conn: pool}, nil
}

// Migrate creates the tables if they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.conn.Exec(ctx, schema); err != nil {
		return fmt.Errorf("conn.Exec: %w", err)
	}
	return nil
}

// Ping checks that the database is reachable.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.conn.Ping(ctx)
}

func (s *PostgresStore) Close() {
	s.conn.Close()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (s *PostgresStore) GetPayment(ctx context.Context, id string) (*domain.Payment, error) {
	p, err := scanPayment(s.conn.QueryRow(ctx, selectPaymentByID, id))
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (s *PostgresStore) SavePayment(ctx context.Context, p *domain.Payment) error {
	kind, remoteID := remoteRefColumns(p.Remote)
	refunded := p.RefundedAmount.Number
	_, err := s.conn.Exec(
		ctx,
		upsertPayment,
		p.ID,
		p.OrderID,
		p.PaymentMethodID,
		string(p.State),
		p.Amount.Number.String(),
		refunded.String(),
		p.Amount.Currency,
		kind,
		remoteID,
		p.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("conn.Exec: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetPaymentMethod(ctx context.Context, id string) (*domain.PaymentMethod, error) {
	return scanPaymentMethod(s.conn.QueryRow(ctx, selectPaymentMethodByID, id))
}

func (s *PostgresStore) SavePaymentMethod(ctx context.Context, pm *domain.PaymentMethod) error {
	var billing *string
	if pm.Billing != nil {
		raw, err := json.Marshal(pm.Billing)
		if err != nil {
			return fmt.Errorf("json.Marshal: %w", err)
		}
		b := string(raw)
		billing = &b
	}
	var expiresAt *time.Time
	if !pm.ExpiresAt.IsZero() {
		t := pm.ExpiresAt
		expiresAt = &t
	}
	_, err := s.conn.Exec(
		ctx,
		upsertPaymentMethod,
		pm.ID,
		pm.OwnerID,
		pm.RemoteID,
		string(pm.CardBrand),
		pm.CardLast4,
		pm.ExpMonth,
		pm.ExpYear,
		expiresAt,
		billing,
	)
	if err != nil {
		return fmt.Errorf("conn.Exec: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeletePaymentMethod(ctx context.Context, id string) error {
	result, err := s.conn.Exec(ctx, deletePaymentMethod, id)
	if err != nil {
		return fmt.Errorf("conn.Exec: %w", err)
	}
	if result.RowsAffected() != 1 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	return scanOrder(s.conn.QueryRow(ctx, selectOrderByID, id))
}

func (s *PostgresStore) SaveOrder(ctx context.Context, o *domain.Order) error {
	_, err := s.conn.Exec(
		ctx,
		upsertOrder,
		o.ID,
		o.StoreID,
		o.CustomerID,
		o.TotalPrice.Number.String(),
		o.TotalPrice.Currency,
		o.PaymentMethodID,
		o.PendingIntentID,
	)
	if err != nil {
		return fmt.Errorf("conn.Exec: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetCustomer(ctx context.Context, id string) (*domain.Customer, error) {
	return scanCustomer(s.conn.QueryRow(ctx, selectCustomerByID, id))
}

func (s *PostgresStore) SaveCustomer(ctx context.Context, c *domain.Customer) error {
	remoteIDs := c.RemoteIDs
	if remoteIDs == nil {
		remoteIDs = map[string]string{}
	}
	raw, err := json.Marshal(remoteIDs)
	if err != nil {
		return fmt.Errorf("json.Marshal: %w", err)
	}
	_, err = s.conn.Exec(ctx, upsertCustomer, c.ID, c.Email, c.Authenticated, string(raw))
	if err != nil {
		return fmt.Errorf("conn.Exec: %w", err)
	}
	return nil
}

func scanErr(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return fmt.Errorf("row.Scan: %w", err)
}

func scanPayment(row rowScanner) (*domain.Payment, error) {
	var (
		p                  domain.Payment
		state              string
		amount, refunded   string
		currency           string
		remoteKind, remote string
	)
	err := row.Scan(
		&p.ID,
		&p.OrderID,
		&p.PaymentMethodID,
		&state,
		&amount,
		&refunded,
		&currency,
		&remoteKind,
		&remote,
		&p.CompletedAt,
	)
	if err != nil {
		return nil, scanErr(err)
	}
	p.State = domain.PaymentState(state)
	if p.Amount, err = moneyFromColumns(amount, currency); err != nil {
		return nil, err
	}
	if p.RefundedAmount, err = moneyFromColumns(refunded, currency); err != nil {
		return nil, err
	}
	p.Remote = remoteRefFromColumns(remoteKind, remote)
	return &p, nil
}

func scanPaymentMethod(row rowScanner) (*domain.PaymentMethod, error) {
	var (
		pm        domain.PaymentMethod
		brand     string
		expiresAt *time.Time
		billing   string
	)
	err := row.Scan(
		&pm.ID,
		&pm.OwnerID,
		&pm.RemoteID,
		&brand,
		&pm.CardLast4,
		&pm.ExpMonth,
		&pm.ExpYear,
		&expiresAt,
		&billing,
	)
	if err != nil {
		return nil, scanErr(err)
	}
	pm.CardBrand = domain.CardBrand(brand)
	if expiresAt != nil {
		pm.ExpiresAt = expiresAt.UTC()
	}
	if pm.Billing, err = billingFromColumn(billing); err != nil {
		return nil, err
	}
	return &pm, nil
}

func scanOrder(row rowScanner) (*domain.Order, error) {
	var (
		o               domain.Order
		total, currency string
	)
	err := row.Scan(
		&o.ID,
		&o.StoreID,
		&o.CustomerID,
		&total,
		&currency,
		&o.PaymentMethodID,
		&o.PendingIntentID,
	)
	if err != nil {
		return nil, scanErr(err)
	}
	if o.TotalPrice, err = moneyFromColumns(total, currency); err != nil {
		return nil, err
	}
	return &o, nil
}

func scanCustomer(row rowScanner) (*domain.Customer, error) {
	var (
		c         domain.Customer
		remoteIDs string
	)
	if err := row.Scan(&c.ID, &c.Email, &c.Authenticated, &remoteIDs); err != nil {
		return nil, scanErr(err)
	}
	if remoteIDs != "" {
		if err := json.Unmarshal([]byte(remoteIDs), &c.RemoteIDs); err != nil {
			return nil, fmt.Errorf("json.Unmarshal: %w", err)
		}
	}
	return &c, nil
}

func moneyFromColumns(number, currency string) (domain.Money, error) {
	d, err := decimal.NewFromString(number)
	if err != nil {
		return domain.Money{}, fmt.Errorf("decimal.NewFromString: %w", err)
	}
	return domain.Money{Number: d, Currency: currency}, nil
}

func billingFromColumn(raw string) (*domain.BillingProfile, error) {
	if raw == "" {
		return nil, nil
	}
	var b domain.BillingProfile
	if err := json.Unmarshal([]byte(raw), &b); err != nil {
		return nil, fmt.Errorf("json.Unmarshal: %w", err)
	}
	return &b, nil
}
