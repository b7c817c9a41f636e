package httpx

import (
	"context"
	"net/http"
	"time"

	"github.com/ariefcatur/go-order-saga/internal/orders"
	"github.com/ariefcatur/go-order-saga/internal/rpc"
	"github.com/go-chi/chi/v5"
)

type OrderService interface {
	CreateOrder(ctx context.Context, cmd orders.CreateCmd) (orders.Order, error)
	GetOrder(ctx context.Context, orderID string) (orders.Order, error)
	UpdateStatus(ctx context.Context, orderID string, to orders.Status) (orders.Order, error)
	UpdatePaymentLink(ctx context.Context, orderID, link string) (orders.Order, error)
}

type OrdersHandler struct {
	Svc OrderService
}

type CreateOrderResp struct {
	OrderID     string        `json:"orderId"`
	Status      orders.Status `json:"status"`
	TotalAmount string        `json:"totalAmount"`
}

func (h *OrdersHandler) Register(r chi.Router) {
	r.Post("/orders", h.createOrder)
	r.Get("/orders/{id}", h.getOrder)
	r.Post(rpc.PathOrderStatus, h.updateStatus)
	r.Post(rpc.PathPaymentLink, h.updatePaymentLink)
}

func (h *OrdersHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	var cmd orders.CreateCmd
	if err := decode(r, &cmd); err != nil {
		writeResult[*CreateOrderResp](w, nil, err)
		return
	}
	// tanpa timeout tambahan: saga sudah dibatasi RPC timeout dan lock wait
	o, err := h.Svc.CreateOrder(r.Context(), cmd)
	if err != nil {
		writeResult[*CreateOrderResp](w, nil, err)
		return
	}
	writeResult(w, &CreateOrderResp{OrderID: o.OrderID, Status: o.Status, TotalAmount: o.TotalAmount.StringFixed(2)}, nil)
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()
	o, err := h.Svc.GetOrder(ctx, chi.URLParam(r, "id"))
	writeResult(w, o, err)
}

func (h *OrdersHandler) updateStatus(w http.ResponseWriter, r *http.Request) {
	var req rpc.StatusRequest
	if err := decode(r, &req); err != nil {
		writeResult(w, false, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	_, err := h.Svc.UpdateStatus(ctx, chi.URLParam(r, "orderId"), req.Status)
	writeResult(w, err == nil, err)
}

func (h *OrdersHandler) updatePaymentLink(w http.ResponseWriter, r *http.Request) {
	var req rpc.PaymentLinkRequest
	if err := decode(r, &req); err != nil {
		writeResult(w, false, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	_, err := h.Svc.UpdatePaymentLink(ctx, chi.URLParam(r, "orderId"), req.PaymentLink)
	writeResult(w, err == nil, err)
}
