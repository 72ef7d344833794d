package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ryu-qqq/setof-commerce-sub005/internal/broker"
	"github.com/ryu-qqq/setof-commerce-sub005/internal/order"
	"github.com/ryu-qqq/setof-commerce-sub005/internal/payment"
	"github.com/ryu-qqq/setof-commerce-sub005/internal/service"
	"github.com/ryu-qqq/setof-commerce-sub005/internal/stock"
	"github.com/ryu-qqq/setof-commerce-sub005/internal/util"
)

// Handler contains HTTP handlers
type Handler struct {
	checkout  *service.CheckoutService
	publisher *broker.EventPublisher
}

// NewHandler creates a new HTTP handler
func NewHandler(checkout *service.CheckoutService, publisher *broker.EventPublisher) *Handler {
	return &Handler{
		checkout:  checkout,
		publisher: publisher,
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.POST("/checkouts", h.createCheckout)
		v1.POST("/payments/:id/fail", h.failPayment)
		v1.POST("/payments/:id/refund", h.refundPayment)
		v1.GET("/payments/:id", h.getPayment)
		v1.GET("/orders/:id", h.getOrder)
		v1.PATCH("/orders/:id/status", h.updateOrderStatus)

		v1.POST("/webhooks/pg", h.pgWebhook)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck handles readiness check requests
func (h *Handler) readinessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

type checkoutRequest struct {
	CheckoutID      string      `json:"checkout_id" binding:"required"`
	BuyerID         int64       `json:"buyer_id" binding:"required"`
	Method          string      `json:"method" binding:"required"`
	MethodGroup     string      `json:"method_group" binding:"required"`
	RequestedAmount int64       `json:"requested_amount" binding:"required"`
	Sheet           order.Sheet `json:"sheet" binding:"required"`
}

// createCheckout admits one checkout and returns the pending payment, the
// issued orders and the gateway request for the payment window.
func (h *Handler) createCheckout(c *gin.Context) {
	var req checkoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}
	if len(req.Sheet.Lines) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Order sheet has no lines"})
		return
	}

	result, err := h.checkout.Checkout(c.Request.Context(), payment.CheckoutRequest{
		CheckoutID:      req.CheckoutID,
		BuyerID:         req.BuyerID,
		Method:          req.Method,
		Group:           payment.MethodGroup(req.MethodGroup),
		RequestedAmount: req.RequestedAmount,
		Sheet:           req.Sheet,
	})
	if err != nil {
		status, message := checkoutErrorStatus(err)
		c.JSON(status, gin.H{
			"error":   message,
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"payment": result.Payment,
		"orders":  result.Orders,
		"gateway": result.Gateway,
	})
}

func checkoutErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, service.ErrCheckoutInFlight):
		return http.StatusConflict, "Checkout already in progress"
	case errors.Is(err, stock.ErrInsufficientStock):
		return http.StatusConflict, "Insufficient stock"
	case errors.Is(err, payment.ErrAmountMismatch):
		return http.StatusUnprocessableEntity, "Amount does not match priced total"
	case errors.Is(err, payment.ErrUnknownMethodGroup):
		return http.StatusBadRequest, "Unknown payment method group"
	default:
		return http.StatusInternalServerError, "Failed to process checkout"
	}
}

// failPayment handles a storefront-reported payment window failure.
func (h *Handler) failPayment(c *gin.Context) {
	paymentID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid payment ID"})
		return
	}

	if err := h.checkout.FailCheckout(c.Request.Context(), paymentID); err != nil {
		if errors.Is(err, payment.ErrPaymentNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Payment not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to fail payment",
			"details": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "failed"})
}

// refundPayment runs a full or partial refund.
func (h *Handler) refundPayment(c *gin.Context) {
	paymentID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid payment ID"})
		return
	}

	var sheet payment.RefundSheet
	if err := c.ShouldBindJSON(&sheet); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}
	if !sheet.FullCancel && len(sheet.Lines) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Partial refund requires lines"})
		return
	}

	if err := h.checkout.Refund(c.Request.Context(), paymentID, sheet); err != nil {
		switch {
		case errors.Is(err, payment.ErrPaymentNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "Payment not found"})
		case errors.Is(err, payment.ErrAlreadyRefunded):
			c.JSON(http.StatusConflict, gin.H{"error": "Payment already refunded"})
		case errors.Is(err, order.ErrExceedsAvailable):
			c.JSON(http.StatusUnprocessableEntity, gin.H{
				"error":   "Refund quantity exceeds remaining quantity",
				"details": err.Error(),
			})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "Failed to refund payment",
				"details": err.Error(),
			})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "refunded"})
}

// getPayment returns the payment with its orders.
func (h *Handler) getPayment(c *gin.Context) {
	paymentID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid payment ID"})
		return
	}

	p, orders, err := h.checkout.GetPayment(c.Request.Context(), paymentID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "Payment not found",
			"details": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"payment": p,
		"orders":  orders,
	})
}

// getOrder handles get order by ID
func (h *Handler) getOrder(c *gin.Context) {
	orderID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid order ID"})
		return
	}

	o, err := h.checkout.GetOrder(c.Request.Context(), orderID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "Order not found",
			"details": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, o)
}

type updateOrderRequest struct {
	Target     string        `json:"target" binding:"required"`
	Quantities map[int64]int `json:"quantities,omitempty"`
	Refund     bool          `json:"refund,omitempty"`
}

// updateOrderStatus advances one order along its lifecycle.
func (h *Handler) updateOrderStatus(c *gin.Context) {
	orderID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid order ID"})
		return
	}

	var req updateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	updated, err := h.checkout.UpdateOrderStatus(c.Request.Context(), order.UpdateCommand{
		OrderID:    orderID,
		Target:     order.Status(req.Target),
		Quantities: req.Quantities,
		Refund:     req.Refund,
		At:         time.Now(),
	})
	if err != nil {
		switch {
		case errors.Is(err, order.ErrUnknownTarget):
			c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown target status"})
		case errors.Is(err, order.ErrAlreadyCompleted),
			errors.Is(err, order.ErrExceedsAvailable):
			c.JSON(http.StatusConflict, gin.H{
				"error":   "Order cannot move to the requested status",
				"details": err.Error(),
			})
		default:
			c.JSON(http.StatusUnprocessableEntity, gin.H{
				"error":   "Failed to update order",
				"details": err.Error(),
			})
		}
		return
	}
	c.JSON(http.StatusOK, updated)
}

// pgWebhook is the gateway intake: validate, enqueue, acknowledge. The
// worker reconciles off the topic, so the PG gets a fast 200 and retries
// transport failures on its own schedule.
func (h *Handler) pgWebhook(c *gin.Context) {
	var event payment.PGEvent
	if err := c.ShouldBindJSON(&event); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid webhook payload",
			"details": err.Error(),
		})
		return
	}
	if event.Transaction.PGKey == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing pg_key"})
		return
	}
	if event.EventID == "" {
		event.EventID = uuid.New().String()
	}

	if err := h.publisher.PublishPGEvent(c.Request.Context(), event); err != nil {
		// a 5xx makes the PG redeliver; the reconciler dedupes
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Failed to enqueue webhook"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "accepted"})
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
