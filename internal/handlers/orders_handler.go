package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	validatorv10 "github.com/go-playground/validator/v10"
	"github.com/imrishuroy/go-payflow/internal/apperr"
	"github.com/imrishuroy/go-payflow/internal/gateway"
	"github.com/imrishuroy/go-payflow/internal/intake"
	"github.com/imrishuroy/go-payflow/internal/orders"
	"github.com/imrishuroy/go-payflow/internal/tokenizer"
	"github.com/imrishuroy/go-payflow/internal/validation"
	"go.uber.org/zap"
)

// OrderResponse is returned by POST /order.
type OrderResponse struct {
	OrderID       string `json:"orderId"`
	PaymentStatus string `json:"paymentStatus"`
	Message       string `json:"message,omitempty"`
	Timestamp     string `json:"timestamp"`
}

type PaymentStatusResponse struct {
	OrderID       string `json:"orderId"`
	PaymentStatus string `json:"paymentStatus"`
	PaymentID     string `json:"paymentId"`
	GatewayID     string `json:"gatewayId"`
	Timestamp     string `json:"timestamp"`
}

type CardTokenResponse struct {
	Token     string `json:"token"`
	Timestamp string `json:"timestamp"`
}

// OrdersHandler serves the order and card-token endpoints.
type OrdersHandler struct {
	intake   *intake.Service
	orders   orders.Repository
	gateway  gateway.Gateway
	validate *validatorv10.Validate
	logger   *zap.Logger
	nowFunc  func() time.Time
}

func NewOrdersHandler(svc *intake.Service, repo orders.Repository, gw gateway.Gateway, logger *zap.Logger) *OrdersHandler {
	return &OrdersHandler{
		intake:   svc,
		orders:   repo,
		gateway:  gw,
		validate: validation.New(),
		logger:   logger,
		nowFunc:  time.Now,
	}
}

func (h *OrdersHandler) timestamp() string {
	return h.nowFunc().UTC().Format(time.RFC3339Nano)
}

// CreateOrder handles POST /order.
func (h *OrdersHandler) CreateOrder(c *gin.Context) {
	var req validation.CreateOrderRequest
	if err := validation.BindAndValidate(c, &req, h.validate); err != nil {
		_ = c.Error(err)
		return
	}

	resp, err := h.intake.Execute(c.Request.Context(), intake.Input{
		ProductID:     req.Product.ID,
		Price:         req.Product.Price,
		CustomerName:  req.Customer.Name,
		CustomerEmail: req.Customer.Email,
		CardToken:     req.CardToken,
	})
	if err != nil {
		_ = c.Error(domainError(err))
		return
	}

	c.JSON(resp.StatusCode, OrderResponse{
		OrderID:       resp.OrderID,
		PaymentStatus: resp.PaymentStatus,
		Message:       resp.Message,
		Timestamp:     h.timestamp(),
	})
}

// GetPaymentStatus handles GET /order/:id/payment-status.
func (h *OrdersHandler) GetPaymentStatus(c *gin.Context) {
	id := c.Param("id")
	order, err := h.orders.FindByID(c.Request.Context(), id)
	if err != nil {
		_ = c.Error(domainError(err))
		return
	}
	if order == nil {
		_ = c.Error(apperr.New(apperr.NotFound, "Order not found"))
		return
	}
	c.JSON(http.StatusOK, PaymentStatusResponse{
		OrderID:       order.OrderID,
		PaymentStatus: order.PaymentStatus,
		PaymentID:     order.PaymentID,
		GatewayID:     order.GatewayID,
		Timestamp:     h.timestamp(),
	})
}

// CreateCardToken handles POST /payment/card-token.
func (h *OrdersHandler) CreateCardToken(c *gin.Context) {
	var req validation.CardTokenRequest
	if err := validation.BindAndValidate(c, &req, h.validate); err != nil {
		_ = c.Error(err)
		return
	}
	out, err := h.gateway.TokenizeCard(c.Request.Context(), tokenizer.Card{
		Number:         req.Number,
		HolderName:     req.HolderName,
		CVV:            req.CVV,
		ExpirationDate: req.ExpirationDate,
	})
	if err != nil {
		_ = c.Error(domainError(err))
		return
	}
	c.JSON(http.StatusCreated, CardTokenResponse{Token: out.Token, Timestamp: h.timestamp()})
}

// domainError maps package sentinels onto the HTTP error taxonomy.
func domainError(err error) error {
	switch {
	case errors.Is(err, orders.ErrNotFound):
		return apperr.Wrap(apperr.NotFound, "Order not found", err)
	case errors.Is(err, orders.ErrConflict):
		return apperr.Wrap(apperr.Conflict, "Order already exists", err)
	case errors.Is(err, gateway.ErrGatewayUnavailable):
		return apperr.Wrap(apperr.Unavailable, "Payment gateway unavailable", err)
	}
	return err
}
