package models

type CheckoutRequest struct {
	ShippingAddress Address `json:"shippingAddress" binding:"required"`
}

type CheckoutResponse struct {
	OrderID int    `json:"orderId"`
	Status  string `json:"status,omitempty"`
	Details string `json:"details,omitempty"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}
