package httpx

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/ariefcatur/go-order-saga/internal/apperr"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func NewRouter() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)
	r.Use(middleware.Timeout(15 * time.Second))
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return r
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeResult answers with the Result envelope; errors never leave raw.
func writeResult[T any](w http.ResponseWriter, data T, err error) {
	if err != nil {
		writeJSON(w, statusOf(apperr.CodeOf(err)), apperr.Fail[T](err))
		return
	}
	writeJSON(w, http.StatusOK, apperr.OK(data))
}

func statusOf(code int) int {
	switch code {
	case apperr.CodeSuccess:
		return http.StatusOK
	case apperr.CodeParamsError:
		return http.StatusBadRequest
	case apperr.CodeNotFound:
		return http.StatusNotFound
	case apperr.CodeConflict:
		return http.StatusConflict
	case apperr.CodeInsufficientStock:
		return http.StatusUnprocessableEntity
	case apperr.CodeChannelError:
		return http.StatusBadGateway
	case apperr.CodeLockTimeout:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apperr.Validation("invalid json")
	}
	return nil
}
