package orders

import "github.com/shopspring/decimal"

const (
	EventOrderCreated         = "OrderCreated"
	EventPaymentStatusChanged = "PaymentStatusChanged"
)

type OrderCreatedPayload struct {
	OrderID     string          `json:"orderId"`
	CustomerID  string          `json:"customerId"`
	Items       []LineItem      `json:"items"`
	TotalAmount decimal.Decimal `json:"totalAmount"`
	Note        string          `json:"note,omitempty"`
}

// PaymentStatusChangedPayload is published by the payment service after a
// webhook transition; OrderStatus is empty when the order is unaffected.
type PaymentStatusChangedPayload struct {
	OrderID       string `json:"orderId"`
	TransactionID string `json:"transactionId"`
	PaymentStatus string `json:"paymentStatus"`
	OrderStatus   Status `json:"orderStatus,omitempty"`
}
