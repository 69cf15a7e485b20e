package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "OK"})
}

func RegisterOrderRoutes(router gin.IRouter, checkout *CheckoutHandler) {
	router.POST("/baskets/:basketId/checkout", checkout.Checkout)
	router.GET("/health", Health)
}

func RegisterDeliveryRoutes(router gin.IRouter, delivery *DeliveryHandler) {
	router.POST("/api/delivery-orders", delivery.Receive)
	router.GET("/health", Health)
}
