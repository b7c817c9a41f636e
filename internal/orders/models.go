package orders

import (
	"time"

	"github.com/ariefcatur/go-order-saga/internal/apperr"
	"github.com/shopspring/decimal"
)

type LineItem struct {
	ProductID   string          `json:"productId"`
	ProductName string          `json:"productName,omitempty"`
	Quantity    int64           `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unitPrice"`
}

type Order struct {
	OrderID     string          `json:"orderId"`
	CustomerID  string          `json:"customerId"`
	Items       []LineItem      `json:"items"`
	Status      Status          `json:"status"` // lihat status.go
	TotalAmount decimal.Decimal `json:"totalAmount"`
	PaymentLink string          `json:"paymentLink,omitempty"`
	Note        string          `json:"note,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// ComputeTotal is Σ unitPrice × quantity.
func (o Order) ComputeTotal() decimal.Decimal {
	total := decimal.Zero
	for _, it := range o.Items {
		total = total.Add(it.UnitPrice.Mul(decimal.NewFromInt(it.Quantity)))
	}
	return total
}

// Validate checks identity fields, line items and that totalAmount matches the items.
func (o Order) Validate() error {
	switch {
	case o.OrderID == "":
		return apperr.Validation("orderId is required")
	case o.CustomerID == "":
		return apperr.Validation("customerId is required")
	case len(o.Items) == 0:
		return apperr.Validation("items must not be empty")
	case !o.Status.Valid():
		return apperr.Validation("unknown status %q", o.Status)
	}
	for i, it := range o.Items {
		if it.ProductID == "" {
			return apperr.Validation("items[%d]: productId is required", i)
		}
		if it.Quantity <= 0 {
			return apperr.Validation("items[%d]: quantity must be > 0", i)
		}
		if it.UnitPrice.IsNegative() {
			return apperr.Validation("items[%d]: unitPrice must be >= 0", i)
		}
	}
	if !o.TotalAmount.IsPositive() {
		return apperr.Validation("totalAmount must be > 0")
	}
	if !o.TotalAmount.Equal(o.ComputeTotal()) {
		return apperr.Validation("totalAmount %s does not match items total %s", o.TotalAmount, o.ComputeTotal())
	}
	return nil
}
