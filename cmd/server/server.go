package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/yourorg/stripe-gateway/internal/domain"
	"github.com/yourorg/stripe-gateway/internal/gatewayerr"
	"github.com/yourorg/stripe-gateway/internal/monitor"
	"github.com/yourorg/stripe-gateway/internal/observability"
	"github.com/yourorg/stripe-gateway/internal/orchestrator"
	"github.com/yourorg/stripe-gateway/internal/paymentmethod"
	"github.com/yourorg/stripe-gateway/internal/reporting"
	"github.com/yourorg/stripe-gateway/internal/storage"
)

// gatewayUnavailable is shown instead of processor messages, which may leak internals.
const gatewayUnavailable = "The payment processor is unavailable. Please try again later."

type pinger interface {
	Ping(ctx context.Context) error
}

type server struct {
	gateway   *orchestrator.Gateway
	store     storage.Store
	contracts *monitor.Contracts
	journal   *reporting.Journal
	reporter  *reporting.RetrospectiveReporter
	logger    *zap.Logger
}

func setupRouter(s *server) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), otelgin.Middleware(observability.ServiceName))

	router.GET("/healthz", s.healthz)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.POST("/customers", s.createCustomer)
	router.POST("/orders", s.createOrder)
	router.POST("/payment-methods", s.createPaymentMethod)
	router.DELETE("/payment-methods/:id", s.deletePaymentMethod)

	payments := router.Group("/payments")
	payments.POST("", s.createPayment)
	payments.GET("/:id", s.getPayment)
	payments.POST("/:id/capture", s.capturePayment)
	payments.POST("/:id/void", s.voidPayment)
	payments.POST("/:id/refund", s.refundPayment)

	router.POST("/gateway/verify", s.verifyCredentials)
	router.GET("/reports/retrospective", s.retrospective)
	return router
}

type createCustomerRequest struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	Authenticated bool   `json:"authenticated"`
}

type createOrderRequest struct {
	ID              string `json:"id"`
	StoreID         string `json:"store_id"`
	CustomerID      string `json:"customer_id"`
	PaymentMethodID string `json:"payment_method_id"`
	Amount          string `json:"amount"`
	Currency        string `json:"currency"`
}

type createPaymentMethodRequest struct {
	ID              string                 `json:"id"`
	OwnerID         string                 `json:"owner_id"`
	PaymentMethodID string                 `json:"payment_method_id"`
	CardToken       string                 `json:"card_token"`
	Billing         *domain.BillingProfile `json:"billing"`
}

type createPaymentRequest struct {
	ID              string `json:"id"`
	OrderID         string `json:"order_id"`
	PaymentMethodID string `json:"payment_method_id"`
	Amount          string `json:"amount"`
	Currency        string `json:"currency"`
	Capture         bool   `json:"capture"`
}

type amountRequest struct {
	Amount string `json:"amount"`
}

type remoteRefView struct {
	Kind string `json:"kind"`
	ID   string `json:"id"`
}

type paymentView struct {
	ID              string         `json:"id"`
	OrderID         string         `json:"order_id"`
	PaymentMethodID string         `json:"payment_method_id"`
	State           string         `json:"state"`
	Amount          string         `json:"amount"`
	RefundedAmount  string         `json:"refunded_amount"`
	Currency        string         `json:"currency"`
	Remote          *remoteRefView `json:"remote,omitempty"`
	CompletedAt     *time.Time     `json:"completed_at,omitempty"`
}

func newPaymentView(p *domain.Payment) paymentView {
	v := paymentView{
		ID:              p.ID,
		OrderID:         p.OrderID,
		PaymentMethodID: p.PaymentMethodID,
		State:           string(p.State),
		Amount:          p.Amount.Format(),
		RefundedAmount:  domain.Zero(p.Amount.Currency).Format(),
		Currency:        p.Amount.Currency,
		CompletedAt:     p.CompletedAt,
	}
	if p.RefundedAmount.Currency != "" {
		v.RefundedAmount = p.RefundedAmount.Format()
	}
	if !p.Remote.IsZero() {
		v.Remote = &remoteRefView{Kind: p.Remote.Kind.String(), ID: p.Remote.ID}
	}
	return v
}

type paymentMethodView struct {
	ID        string `json:"id"`
	OwnerID   string `json:"owner_id,omitempty"`
	RemoteID  string `json:"remote_id"`
	CardBrand string `json:"card_brand"`
	CardLast4 string `json:"card_last4"`
	ExpMonth  int    `json:"exp_month"`
	ExpYear   int    `json:"exp_year"`
}

// bind validates the body against contract and decodes it into dst.
func (s *server) bind(c *gin.Context, contract string, dst interface{}) bool {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request format: " + err.Error()})
		return false
	}
	if len(body) == 0 {
		body = []byte("{}")
	}
	valid, violations, err := s.contracts.Validate(contract, body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request format: " + err.Error()})
		return false
	}
	if !valid {
		c.JSON(http.StatusBadRequest, gin.H{"error": monitor.FormatErrors(violations)})
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request format: " + err.Error()})
		return false
	}
	return true
}

// writeError maps a gateway failure to an HTTP response.
func (s *server) writeError(c *gin.Context, err error) {
	kind, ok := gatewayerr.KindOf(err)
	if !ok {
		s.logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	body := gin.H{"error": gatewayerr.MessageOf(err), "kind": kind.String()}
	switch kind {
	case gatewayerr.KindInvalidRequest:
		c.JSON(http.StatusBadRequest, body)
	case gatewayerr.KindSoftDecline:
		body["action_required"] = true
		c.JSON(http.StatusPaymentRequired, body)
	case gatewayerr.KindHardDecline:
		c.JSON(http.StatusPaymentRequired, body)
	case gatewayerr.KindGateway:
		s.logger.Error("payment processor failure", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": gatewayUnavailable, "kind": kind.String()})
	}
}

func (s *server) healthz(c *gin.Context) {
	if p, ok := s.store.(pinger); ok {
		if err := p.Ping(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *server) createCustomer(c *gin.Context) {
	var req createCustomerRequest
	if !s.bind(c, monitor.ContractCreateCustomer, &req) {
		return
	}
	customer := &domain.Customer{ID: req.ID, Email: req.Email, Authenticated: req.Authenticated}
	if err := s.store.SaveCustomer(c.Request.Context(), customer); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": customer.ID})
}

func (s *server) createOrder(c *gin.Context) {
	var req createOrderRequest
	if !s.bind(c, monitor.ContractCreateOrder, &req) {
		return
	}
	total, err := domain.NewMoney(req.Amount, req.Currency)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	order := &domain.Order{
		ID:              req.ID,
		StoreID:         req.StoreID,
		CustomerID:      req.CustomerID,
		PaymentMethodID: req.PaymentMethodID,
		TotalPrice:      total,
	}
	if err := s.store.SaveOrder(c.Request.Context(), order); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": order.ID})
}

func (s *server) createPaymentMethod(c *gin.Context) {
	var req createPaymentMethodRequest
	if !s.bind(c, monitor.ContractCreatePaymentMethod, &req) {
		return
	}
	method := &domain.PaymentMethod{ID: req.ID, OwnerID: req.OwnerID, Billing: req.Billing}
	details := paymentmethod.Details{PaymentMethodID: req.PaymentMethodID, CardToken: req.CardToken}
	if err := s.gateway.CreatePaymentMethod(c.Request.Context(), method, details); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, paymentMethodView{
		ID:        method.ID,
		OwnerID:   method.OwnerID,
		RemoteID:  method.RemoteID,
		CardBrand: string(method.CardBrand),
		CardLast4: method.CardLast4,
		ExpMonth:  method.ExpMonth,
		ExpYear:   method.ExpYear,
	})
}

func (s *server) deletePaymentMethod(c *gin.Context) {
	method, err := s.store.GetPaymentMethod(c.Request.Context(), c.Param("id"))
	if errors.Is(err, storage.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "payment method not found"})
		return
	}
	if err != nil {
		s.writeError(c, err)
		return
	}
	if err := s.gateway.DeletePaymentMethod(c.Request.Context(), method); err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *server) createPayment(c *gin.Context) {
	var req createPaymentRequest
	if !s.bind(c, monitor.ContractCreatePayment, &req) {
		return
	}
	amount, err := domain.NewMoney(req.Amount, req.Currency)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx := c.Request.Context()

	// A payment that was soft declined is retried under the same id.
	payment, err := s.store.GetPayment(ctx, req.ID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		payment = &domain.Payment{
			ID:              req.ID,
			OrderID:         req.OrderID,
			PaymentMethodID: req.PaymentMethodID,
			State:           domain.StateNew,
			Amount:          amount,
		}
	case err != nil:
		s.writeError(c, err)
		return
	}

	if err := s.gateway.CreatePayment(ctx, payment, req.Capture); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, newPaymentView(payment))
}

// loadPayment writes a 404 and returns nil when the payment does not exist.
func (s *server) loadPayment(c *gin.Context) *domain.Payment {
	payment, err := s.store.GetPayment(c.Request.Context(), c.Param("id"))
	if errors.Is(err, storage.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "payment not found"})
		return nil
	}
	if err != nil {
		s.writeError(c, err)
		return nil
	}
	return payment
}

func (s *server) getPayment(c *gin.Context) {
	if payment := s.loadPayment(c); payment != nil {
		c.JSON(http.StatusOK, newPaymentView(payment))
	}
}

// bindAmount decodes an optional amount in the payment's currency.
func (s *server) bindAmount(c *gin.Context, payment *domain.Payment) (*domain.Money, bool) {
	var req amountRequest
	if !s.bind(c, monitor.ContractAmount, &req) {
		return nil, false
	}
	if req.Amount == "" {
		return nil, true
	}
	m, err := domain.NewMoney(req.Amount, payment.Amount.Currency)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return nil, false
	}
	return &m, true
}

func (s *server) capturePayment(c *gin.Context) {
	payment := s.loadPayment(c)
	if payment == nil {
		return
	}
	amount, ok := s.bindAmount(c, payment)
	if !ok {
		return
	}
	if err := s.gateway.CapturePayment(c.Request.Context(), payment, amount); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newPaymentView(payment))
}

func (s *server) voidPayment(c *gin.Context) {
	payment := s.loadPayment(c)
	if payment == nil {
		return
	}
	if err := s.gateway.VoidPayment(c.Request.Context(), payment); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newPaymentView(payment))
}

func (s *server) refundPayment(c *gin.Context) {
	payment := s.loadPayment(c)
	if payment == nil {
		return
	}
	amount, ok := s.bindAmount(c, payment)
	if !ok {
		return
	}
	if err := s.gateway.RefundPayment(c.Request.Context(), payment, amount); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newPaymentView(payment))
}

func (s *server) verifyCredentials(c *gin.Context) {
	if err := s.gateway.VerifyCredentials(c.Request.Context()); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *server) retrospective(c *gin.Context) {
	c.JSON(http.StatusOK, s.reporter.GenerateRetrospective(s.journal.Entries()))
}
