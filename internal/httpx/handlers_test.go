package httpx

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/ariefcatur/go-order-saga/internal/apperr"
	"github.com/ariefcatur/go-order-saga/internal/orders"
	"github.com/ariefcatur/go-order-saga/internal/payment"
	"github.com/ariefcatur/go-order-saga/internal/rpc"
	"github.com/ariefcatur/go-order-saga/internal/stock"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLedger struct {
	StockLedger
	reserve func(orderID string, items []stock.Item) error
	release func(orderID string, items []stock.Item) error
	get     func(productID string) (stock.Stock, error)
}

func (f fakeLedger) Reserve(_ context.Context, orderID string, items []stock.Item) error {
	return f.reserve(orderID, items)
}

func (f fakeLedger) Release(_ context.Context, orderID string, items []stock.Item) error {
	return f.release(orderID, items)
}

func (f fakeLedger) GetStock(_ context.Context, productID string) (stock.Stock, error) {
	return f.get(productID)
}

func stockServer(t *testing.T, l StockLedger) *httptest.Server {
	t.Helper()
	r := NewRouter()
	(&StockHandler{Ledger: l}).Register(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func TestStockRPCRoundTrip(t *testing.T) {
	var reserved []stock.Item
	srv := stockServer(t, fakeLedger{
		reserve: func(orderID string, items []stock.Item) error {
			if orderID == "O2" {
				return apperr.Insufficient("product P1: requested 5, available 1")
			}
			reserved = items
			return nil
		},
		release: func(string, []stock.Item) error { return apperr.ErrLockTimeout },
	})
	c := rpc.NewStockClient(srv.URL, time.Second)

	require.NoError(t, c.Reserve(context.Background(), "O1", []stock.Item{{ProductID: "P1", Quantity: 2}}))
	require.Len(t, reserved, 1)
	assert.EqualValues(t, 2, reserved[0].Quantity)

	err := c.Reserve(context.Background(), "O2", []stock.Item{{ProductID: "P1", Quantity: 5}})
	assert.ErrorIs(t, err, apperr.ErrInsufficient)
	assert.ErrorIs(t, c.Release(context.Background(), "O1", nil), apperr.ErrLockTimeout)
}

func TestStockGetResultCodes(t *testing.T) {
	srv := stockServer(t, fakeLedger{get: func(pid string) (stock.Stock, error) {
		if pid == "P1" {
			return stock.Stock{ProductID: "P1", TotalQuantity: 10, ReservedQuantity: 2}, nil
		}
		return stock.Stock{}, apperr.NotFound("product %s not found", pid)
	}})

	resp, err := http.Get(srv.URL + "/stocks/P1")
	require.NoError(t, err)
	var ok apperr.Result[stock.Stock]
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&ok))
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, apperr.CodeSuccess, ok.Code)
	assert.EqualValues(t, 8, ok.Data.Available())

	resp, err = http.Get(srv.URL + "/stocks/P9")
	require.NoError(t, err)
	var miss apperr.Result[stock.Stock]
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&miss))
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, apperr.CodeNotFound, miss.Code)
}

func TestInvalidJSONIsParamsError(t *testing.T) {
	srv := stockServer(t, fakeLedger{})
	resp, err := http.Post(srv.URL+rpc.PathReserve, "application/json", strings.NewReader("{"))
	require.NoError(t, err)
	defer resp.Body.Close()
	var res apperr.Result[bool]
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, apperr.CodeParamsError, res.Code)
}

type fakeOrders struct {
	OrderService
	statuses map[string]orders.Status
}

func (f *fakeOrders) CreateOrder(_ context.Context, cmd orders.CreateCmd) (orders.Order, error) {
	o := orders.Order{OrderID: "O1", CustomerID: cmd.CustomerID, Items: cmd.Items, Status: orders.StatusCreated}
	o.TotalAmount = o.ComputeTotal()
	return o, nil
}

func (f *fakeOrders) UpdateStatus(_ context.Context, orderID string, to orders.Status) (orders.Order, error) {
	if orderID != "O1" {
		return orders.Order{}, apperr.NotFound("order %s not found", orderID)
	}
	f.statuses[orderID] = to
	return orders.Order{OrderID: orderID, Status: to}, nil
}

func (f *fakeOrders) UpdatePaymentLink(_ context.Context, orderID, link string) (orders.Order, error) {
	return orders.Order{OrderID: orderID, PaymentLink: link}, nil
}

func TestCreateOrderEndpoint(t *testing.T) {
	r := NewRouter()
	(&OrdersHandler{Svc: &fakeOrders{}}).Register(r)
	srv := httptest.NewServer(r)
	defer srv.Close()

	body := `{"customerId":"C1","items":[{"productId":"P1","quantity":2,"unitPrice":"100.00"}]}`
	resp, err := http.Post(srv.URL+"/orders", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	var res apperr.Result[CreateOrderResp]
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "O1", res.Data.OrderID)
	assert.Equal(t, "200.00", res.Data.TotalAmount)
	assert.Equal(t, orders.StatusCreated, res.Data.Status)
}

func TestOrderRPCRoundTrip(t *testing.T) {
	f := &fakeOrders{statuses: map[string]orders.Status{}}
	r := NewRouter()
	(&OrdersHandler{Svc: f}).Register(r)
	srv := httptest.NewServer(r)
	defer srv.Close()
	c := rpc.NewOrderClient(srv.URL, time.Second)

	require.NoError(t, c.UpdateStatus(context.Background(), "O1", orders.StatusPaid))
	assert.Equal(t, orders.StatusPaid, f.statuses["O1"])
	assert.ErrorIs(t, c.UpdateStatus(context.Background(), "O9", orders.StatusPaid), apperr.ErrNotFound)
	require.NoError(t, c.UpdatePaymentLink(context.Background(), "O1", "https://gateway.test/pay/T1"))
}

type fakePayments struct {
	PaymentService
	form url.Values
}

func (f *fakePayments) HandleNotify(_ context.Context, form url.Values) string {
	f.form = form
	if form.Get("sign") == "" {
		return payment.ReplyFailure
	}
	return payment.ReplySuccess
}

func (f *fakePayments) FindByOrder(_ context.Context, orderID string) (payment.Payment, bool, error) {
	if orderID != "O1" {
		return payment.Payment{}, false, nil
	}
	return payment.Payment{TransactionID: "T1", OrderID: "O1", Amount: decimal.NewFromInt(200)}, true, nil
}

func TestWebhookRepliesWithSentinel(t *testing.T) {
	f := &fakePayments{}
	r := NewRouter()
	(&PaymentHandler{Svc: f, Log: zerolog.Nop()}).Register(r)
	srv := httptest.NewServer(r)
	defer srv.Close()

	post := func(form url.Values) string {
		resp, err := http.PostForm(srv.URL+"/webhook/alipay/notify", form)
		require.NoError(t, err)
		defer resp.Body.Close()
		b, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		return string(b)
	}
	assert.Equal(t, "success", post(url.Values{"out_trade_no": {"T1"}, "sign": {"abc"}}))
	assert.Equal(t, "T1", f.form.Get("out_trade_no"))
	assert.Equal(t, "failure", post(url.Values{"out_trade_no": {"T1"}}))
}

func TestPaymentByOrder(t *testing.T) {
	r := NewRouter()
	(&PaymentHandler{Svc: &fakePayments{}, Log: zerolog.Nop()}).Register(r)
	srv := httptest.NewServer(r)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/payments/order/O1")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/payments/order/O2")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
