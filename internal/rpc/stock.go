package rpc

import (
	"context"
	"time"

	"github.com/ariefcatur/go-order-saga/internal/stock"
	"github.com/go-resty/resty/v2"
)

type StockRequest struct {
	OrderID string       `json:"orderId"`
	Items   []stock.Item `json:"items"`
}

// StockClient calls the stock service ledger.
type StockClient struct{ c *resty.Client }

func NewStockClient(baseURL string, timeout time.Duration) *StockClient {
	return &StockClient{c: newResty(baseURL, timeout)}
}

func (s *StockClient) Reserve(ctx context.Context, orderID string, items []stock.Item) error {
	return call(ctx, s.c, PathReserve, nil, StockRequest{OrderID: orderID, Items: items})
}

func (s *StockClient) Release(ctx context.Context, orderID string, items []stock.Item) error {
	return call(ctx, s.c, PathRelease, nil, StockRequest{OrderID: orderID, Items: items})
}
