package handlers

import (
	"context"
	"net/http"
	"strconv"

	"order-fulfillment/internal/apperr"
	"order-fulfillment/internal/models"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"
)

type OrderCreator interface {
	CreateOrder(ctx context.Context, basketID int, shippingAddress models.Address) (int, error)
}

type CheckoutHandler struct {
	orders OrderCreator
	logger *zap.Logger
}

func NewCheckoutHandler(orders OrderCreator, logger *zap.Logger) *CheckoutHandler {
	return &CheckoutHandler{orders: orders, logger: logger}
}

// Checkout handles POST /baskets/{basketId}/checkout
func (h *CheckoutHandler) Checkout(c *gin.Context) {
	basketID, err := strconv.Atoi(c.Param("basketId"))
	if err != nil || basketID <= 0 {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "INVALID_INPUT",
			Message: "Invalid basket ID",
			Details: "Basket ID must be a positive integer",
		})
		return
	}

	var req models.CheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "INVALID_INPUT",
			Message: "Invalid request body",
			Details: err.Error(),
		})
		return
	}

	ctx := otel.GetTextMapPropagator().Extract(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))

	orderID, err := h.orders.CreateOrder(ctx, basketID, req.ShippingAddress)
	if err == nil {
		c.JSON(http.StatusCreated, models.CheckoutResponse{OrderID: orderID})
		return
	}

	// The order exists; only its downstream dispatch is incomplete.
	if orderID > 0 {
		h.logger.Warn("Order stored with incomplete dispatch",
			zap.Int("order_id", orderID),
			zap.Ints("failed_items", apperr.FailedIndices(err)),
			zap.Error(err),
		)
		c.JSON(http.StatusAccepted, models.CheckoutResponse{
			OrderID: orderID,
			Status:  "DISPATCH_PENDING",
			Details: err.Error(),
		})
		return
	}

	switch kind := apperr.KindOf(err); kind {
	case apperr.NotFound:
		c.JSON(http.StatusNotFound, models.ErrorResponse{
			Error:   kind.String(),
			Message: "Basket not found",
			Details: err.Error(),
		})
	case apperr.InvalidState:
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   kind.String(),
			Message: "Basket cannot be checked out",
			Details: err.Error(),
		})
	default:
		h.logger.Error("Checkout failed", zap.Int("basket_id", basketID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error:   kind.String(),
			Message: "Failed to create order",
			Details: err.Error(),
		})
	}
}
