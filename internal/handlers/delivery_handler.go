package handlers

import (
	"context"
	"net/http"

	"order-fulfillment/internal/apperr"
	"order-fulfillment/internal/models"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"
)

type DeliveryRequestHandler interface {
	HandleDeliveryRequest(ctx context.Context, raw []byte) (int, error)
}

type DeliveryHandler struct {
	notifier DeliveryRequestHandler
	logger   *zap.Logger
}

func NewDeliveryHandler(notifier DeliveryRequestHandler, logger *zap.Logger) *DeliveryHandler {
	return &DeliveryHandler{notifier: notifier, logger: logger}
}

// Receive handles POST /api/delivery-orders
func (h *DeliveryHandler) Receive(c *gin.Context) {
	raw, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "INVALID_INPUT",
			Message: "Failed to read request body",
			Details: err.Error(),
		})
		return
	}

	ctx := otel.GetTextMapPropagator().Extract(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))

	status, err := h.notifier.HandleDeliveryRequest(ctx, raw)
	if err != nil {
		kind := apperr.KindOf(err)
		if kind == apperr.MalformedMessage {
			c.JSON(http.StatusBadRequest, models.ErrorResponse{
				Error:   kind.String(),
				Message: "Invalid delivery request",
				Details: err.Error(),
			})
			return
		}
		h.logger.Error("Failed to store delivery request", zap.Int("store_status", status), zap.Error(err))
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error:   kind.String(),
			Message: "Failed to store delivery request",
			Details: err.Error(),
		})
		return
	}

	c.Status(http.StatusOK)
}
