package httpx

import (
	"context"
	"net/http"
	"time"

	"github.com/ariefcatur/go-order-saga/internal/rpc"
	"github.com/ariefcatur/go-order-saga/internal/stock"
	"github.com/go-chi/chi/v5"
)

type StockLedger interface {
	Reserve(ctx context.Context, orderID string, items []stock.Item) error
	Release(ctx context.Context, orderID string, items []stock.Item) error
	UpdateStock(ctx context.Context, cmd stock.UpdateCmd) (stock.Stock, error)
	DeleteStock(ctx context.Context, productID string) error
	GetStock(ctx context.Context, productID string) (stock.Stock, error)
	Quantities(ctx context.Context, productID string) (stock.Quantities, error)
	TxLog(ctx context.Context, orderID string) (stock.TxLog, error)
}

type StockHandler struct {
	Ledger  StockLedger
	Timeout time.Duration
}

func (h *StockHandler) Register(r chi.Router) {
	r.Post(rpc.PathReserve, h.reserve)
	r.Post(rpc.PathRelease, h.release)
	r.Put("/stocks", h.update)
	r.Get("/stocks/{productId}", h.get)
	r.Get("/stocks/{productId}/quantities", h.quantities)
	r.Delete("/stocks/{productId}", h.delete)
	r.Get("/stocks/transactions/{orderId}", h.txlog)
}

func (h *StockHandler) ctx(r *http.Request) (context.Context, context.CancelFunc) {
	if h.Timeout <= 0 {
		return context.WithTimeout(r.Context(), 5*time.Second)
	}
	return context.WithTimeout(r.Context(), h.Timeout)
}

func (h *StockHandler) reserve(w http.ResponseWriter, r *http.Request) {
	var req rpc.StockRequest
	if err := decode(r, &req); err != nil {
		writeResult(w, false, err)
		return
	}
	ctx, cancel := h.ctx(r)
	defer cancel()
	err := h.Ledger.Reserve(ctx, req.OrderID, req.Items)
	writeResult(w, err == nil, err)
}

func (h *StockHandler) release(w http.ResponseWriter, r *http.Request) {
	var req rpc.StockRequest
	if err := decode(r, &req); err != nil {
		writeResult(w, false, err)
		return
	}
	ctx, cancel := h.ctx(r)
	defer cancel()
	err := h.Ledger.Release(ctx, req.OrderID, req.Items)
	writeResult(w, err == nil, err)
}

func (h *StockHandler) update(w http.ResponseWriter, r *http.Request) {
	var cmd stock.UpdateCmd
	if err := decode(r, &cmd); err != nil {
		writeResult[*stock.Stock](w, nil, err)
		return
	}
	ctx, cancel := h.ctx(r)
	defer cancel()
	st, err := h.Ledger.UpdateStock(ctx, cmd)
	writeResult(w, st, err)
}

func (h *StockHandler) get(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.ctx(r)
	defer cancel()
	st, err := h.Ledger.GetStock(ctx, chi.URLParam(r, "productId"))
	writeResult(w, st, err)
}

func (h *StockHandler) quantities(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.ctx(r)
	defer cancel()
	q, err := h.Ledger.Quantities(ctx, chi.URLParam(r, "productId"))
	writeResult(w, q, err)
}

func (h *StockHandler) delete(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.ctx(r)
	defer cancel()
	err := h.Ledger.DeleteStock(ctx, chi.URLParam(r, "productId"))
	writeResult(w, err == nil, err)
}

func (h *StockHandler) txlog(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.ctx(r)
	defer cancel()
	l, err := h.Ledger.TxLog(ctx, chi.URLParam(r, "orderId"))
	writeResult(w, l, err)
}
