// Package rpc holds the service-to-service HTTP clients. Every endpoint
// answers with an apperr.Result; a non-zero code becomes a typed error.
package rpc

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ariefcatur/go-order-saga/internal/apperr"
	"github.com/go-resty/resty/v2"
)

const (
	PathReserve     = "/rpc/stock/reserve"
	PathRelease     = "/rpc/stock/release"
	PathOrderStatus = "/rpc/orders/{orderId}/status"
	PathPaymentLink = "/rpc/orders/{orderId}/payment-link"
)

func newResty(baseURL string, timeout time.Duration) *resty.Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")
}

// call posts body and maps the Result envelope to an error.
func call(ctx context.Context, c *resty.Client, path string, params map[string]string, body any) error {
	var res apperr.Result[json.RawMessage]
	resp, err := c.R().
		SetContext(ctx).
		SetPathParams(params).
		SetBody(body).
		SetResult(&res).
		SetError(&res).
		Post(path)
	if err != nil {
		// transport failure, the callee may or may not have applied it
		return apperr.Wrap(apperr.KindInternal, err, "rpc "+path)
	}
	if !res.Success() {
		return apperr.New(apperr.KindOfCode(res.Code), "%s", res.Message)
	}
	if resp.IsError() {
		return apperr.New(apperr.KindInternal, "rpc %s: http %d", path, resp.StatusCode())
	}
	return nil
}
