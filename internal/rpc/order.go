package rpc

import (
	"context"
	"time"

	"github.com/ariefcatur/go-order-saga/internal/orders"
	"github.com/go-resty/resty/v2"
)

type StatusRequest struct {
	Status orders.Status `json:"status"`
}

type PaymentLinkRequest struct {
	PaymentLink string `json:"paymentLink"`
}

// OrderClient calls back into the order service.
type OrderClient struct{ c *resty.Client }

func NewOrderClient(baseURL string, timeout time.Duration) *OrderClient {
	return &OrderClient{c: newResty(baseURL, timeout)}
}

func (o *OrderClient) UpdateStatus(ctx context.Context, orderID string, status orders.Status) error {
	return call(ctx, o.c, PathOrderStatus, map[string]string{"orderId": orderID}, StatusRequest{Status: status})
}

func (o *OrderClient) UpdatePaymentLink(ctx context.Context, orderID, link string) error {
	return call(ctx, o.c, PathPaymentLink, map[string]string{"orderId": orderID}, PaymentLinkRequest{PaymentLink: link})
}
