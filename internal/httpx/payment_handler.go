package httpx

import (
	"context"
	"net/http"
	"net/url"

	"github.com/ariefcatur/go-order-saga/internal/apperr"
	"github.com/ariefcatur/go-order-saga/internal/payment"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

type PaymentService interface {
	HandleNotify(ctx context.Context, form url.Values) string
	GetPayment(ctx context.Context, transactionID string) (payment.Payment, error)
	FindByOrder(ctx context.Context, orderID string) (payment.Payment, bool, error)
}

type PaymentHandler struct {
	Svc PaymentService
	Log zerolog.Logger
}

func (h *PaymentHandler) Register(r chi.Router) {
	r.Post("/webhook/alipay/notify", h.notify)
	r.Get("/payments/{transactionId}", h.get)
	r.Get("/payments/order/{orderId}", h.byOrder)
}

// notify answers the gateway with a bare sentinel, not a Result.
func (h *PaymentHandler) notify(w http.ResponseWriter, r *http.Request) {
	reply := payment.ReplyFailure
	if err := r.ParseForm(); err != nil {
		h.Log.Error().Err(err).Msg("notify form unreadable")
	} else {
		reply = h.Svc.HandleNotify(r.Context(), r.PostForm)
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(reply))
}

func (h *PaymentHandler) get(w http.ResponseWriter, r *http.Request) {
	p, err := h.Svc.GetPayment(r.Context(), chi.URLParam(r, "transactionId"))
	writeResult(w, p, err)
}

func (h *PaymentHandler) byOrder(w http.ResponseWriter, r *http.Request) {
	p, ok, err := h.Svc.FindByOrder(r.Context(), chi.URLParam(r, "orderId"))
	if err == nil && !ok {
		err = apperr.NotFound("no payment for order %s", chi.URLParam(r, "orderId"))
	}
	writeResult(w, p, err)
}
