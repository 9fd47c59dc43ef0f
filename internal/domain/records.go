package domain

import "time"

// CardBrand is the local card vocabulary.
type CardBrand string

const (
	CardAmex       CardBrand = "amex"
	CardDinersClub CardBrand = "dinersclub"
	CardDiscover   CardBrand = "discover"
	CardJCB        CardBrand = "jcb"
	CardMastercard CardBrand = "mastercard"
	CardVisa       CardBrand = "visa"
	CardUnionPay   CardBrand = "unionpay"
)

// Address is a postal address from a billing profile.
type Address struct {
	GivenName          string `json:"given_name,omitempty"`
	FamilyName         string `json:"family_name,omitempty"`
	AddressLine1       string `json:"address_line1,omitempty"`
	AddressLine2       string `json:"address_line2,omitempty"`
	Locality           string `json:"locality,omitempty"`
	AdministrativeArea string `json:"administrative_area,omitempty"`
	PostalCode         string `json:"postal_code,omitempty"`
	CountryCode        string `json:"country_code,omitempty"`
}

// BillingProfile is the billing information attached to a payment method.
type BillingProfile struct {
	Address Address `json:"address"`
}

// PaymentMethod is a tokenized card stored locally by its remote id.
type PaymentMethod struct {
	ID        string
	OwnerID   string
	RemoteID  string
	CardBrand CardBrand
	CardLast4 string
	ExpMonth  int
	ExpYear   int
	ExpiresAt time.Time
	Billing   *BillingProfile
}

// IsExpired reports whether the card expired at or before now. A method with
// no known expiry never expires.
func (pm *PaymentMethod) IsExpired(now time.Time) bool {
	return !pm.ExpiresAt.IsZero() && !now.Before(pm.ExpiresAt)
}

// CardExpiration returns the first instant after the card's expiry month.
func CardExpiration(month, year int) time.Time {
	return time.Date(year, time.Month(month)+1, 1, 0, 0, 0, 0, time.UTC)
}

// Customer is the owner of orders and payment methods.
type Customer struct {
	ID            string
	Email         string
	Authenticated bool
	// RemoteIDs maps a provider key (gateway id + mode) to the remote customer id.
	RemoteIDs map[string]string
}

// RemoteID returns the remote customer id for provider, if any.
func (c *Customer) RemoteID(provider string) string {
	if c == nil || c.RemoteIDs == nil {
		return ""
	}
	return c.RemoteIDs[provider]
}

// SetRemoteID records the remote customer id for provider.
func (c *Customer) SetRemoteID(provider, remoteID string) {
	if c.RemoteIDs == nil {
		c.RemoteIDs = make(map[string]string)
	}
	c.RemoteIDs[provider] = remoteID
}

// Order is the checkout order a payment belongs to.
type Order struct {
	ID              string
	StoreID         string
	CustomerID      string
	TotalPrice      Money
	PaymentMethodID string
	// PendingIntentID caches an in-progress remote intent until it completes or is canceled.
	PendingIntentID string
}
