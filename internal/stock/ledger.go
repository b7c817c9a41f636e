package stock

import (
	"context"
	"time"

	"github.com/ariefcatur/go-order-saga/internal/apperr"
	"github.com/ariefcatur/go-order-saga/internal/cache"
	"github.com/ariefcatur/go-order-saga/internal/lock"
	"github.com/ariefcatur/go-order-saga/internal/metrics"
	"github.com/ariefcatur/go-order-saga/internal/store"
	"github.com/ariefcatur/go-order-saga/internal/syncer"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/ariefcatur/go-order-saga/internal/stock")

type Service struct {
	stocks *store.Repository[Stock]
	txlog  *store.Repository[TxLog]
	locker lock.Locker
	wait   time.Duration
	lease  time.Duration
	log    zerolog.Logger
	now    func() time.Time
}

type Deps struct {
	Cache     cache.Store
	Stocks    store.Durable[Stock]
	TxLog     store.Durable[TxLog]
	Locker    lock.Locker
	Emitter   syncer.Emitter
	LockWait  time.Duration
	LockLease time.Duration
	Log       zerolog.Logger
}

func NewService(d Deps) *Service {
	stocks := store.New(store.Config[Stock]{
		Namespace: Namespace,
		ID:        func(s Stock) string { return s.ProductID },
		TTL:       func(Stock) time.Duration { return TTLStock },
		LockWait:  d.LockWait,
		LockLease: d.LockLease,
	}, d.Cache, d.Stocks, d.Locker, d.Emitter, d.Log)
	txlog := store.New(store.Config[TxLog]{
		Namespace: TxNamespace,
		ID:        func(l TxLog) string { return l.OrderID },
		TTL:       func(TxLog) time.Duration { return TTLTxLog },
		LockWait:  d.LockWait,
		LockLease: d.LockLease,
	}, d.Cache, d.TxLog, d.Locker, d.Emitter, d.Log)
	wait, lease := d.LockWait, d.LockLease
	if wait <= 0 {
		wait = 10 * time.Second
	}
	if lease <= 0 {
		lease = 30 * time.Second
	}
	return &Service{stocks: stocks, txlog: txlog, locker: d.Locker, wait: wait, lease: lease, log: d.Log, now: time.Now}
}

// Appliers exposes the repositories to the sync consumer.
func (s *Service) Appliers() map[string]syncer.Applier {
	return map[string]syncer.Applier{Namespace: s.stocks, TxNamespace: s.txlog}
}

// Reserve reserves every item for orderID or nothing. A repeated call for an
// order that already reserved successfully returns nil without mutating.
func (s *Service) Reserve(ctx context.Context, orderID string, items []Item) (err error) {
	ctx, span := tracer.Start(ctx, "stock.reserve", trace.WithAttributes(
		attribute.String("order.id", orderID), attribute.Int("items", len(items))))
	defer func() { endSpan(span, err) }()
	defer func() { metrics.StockOps.WithLabelValues(string(OpReserve), outcome(err)).Inc() }()

	return s.apply(ctx, OpReserve, orderID, items, func(st *Stock, qty int64) error {
		if st.Available() < qty {
			return apperr.Insufficient("product %s: requested %d, available %d", st.ProductID, qty, st.Available())
		}
		st.ReservedQuantity += qty
		return nil
	})
}

// Release gives back a reservation. Releasing more than is reserved is a
// consistency fault: it is logged FAILED and nothing is decremented. An
// order that never reserved decrements nothing.
func (s *Service) Release(ctx context.Context, orderID string, items []Item) (err error) {
	ctx, span := tracer.Start(ctx, "stock.release", trace.WithAttributes(
		attribute.String("order.id", orderID), attribute.Int("items", len(items))))
	defer func() { endSpan(span, err) }()
	defer func() { metrics.StockOps.WithLabelValues(string(OpRelease), outcome(err)).Inc() }()

	return s.apply(ctx, OpRelease, orderID, items, func(st *Stock, qty int64) error {
		if st.ReservedQuantity < qty {
			return apperr.Conflict("product %s: release %d exceeds reserved %d", st.ProductID, qty, st.ReservedQuantity)
		}
		st.ReservedQuantity -= qty
		return nil
	})
}

func validateItems(orderID string, items []Item) error {
	if orderID == "" {
		return apperr.Validation("orderId is required")
	}
	if len(items) == 0 {
		return apperr.Validation("items must not be empty")
	}
	for i, it := range items {
		if it.ProductID == "" {
			return apperr.Validation("items[%d]: productId is required", i)
		}
		if it.Quantity <= 0 {
			return apperr.Validation("items[%d]: quantity must be > 0", i)
		}
	}
	return nil
}

// apply is the shared reserve/release algorithm: idempotency check, ordered
// batch lease, check every item, then mutate every item.
func (s *Service) apply(ctx context.Context, op Operation, orderID string, items []Item, mutate func(*Stock, int64) error) error {
	if err := validateItems(orderID, items); err != nil {
		return err
	}

	// fast path tanpa lock
	if l, _, err := s.txlog.Load(ctx, orderID); err != nil {
		return err
	} else if l.Has(op, TxSuccess) {
		s.log.Info().Str("orderId", orderID).Str("op", string(op)).Msg("already applied, skipping")
		return nil
	}

	// per-product demand, preserving first-seen order for the log
	demand := map[string]int64{}
	var products []string
	keys := []string{s.txlog.Key(orderID)}
	for _, it := range items {
		if _, seen := demand[it.ProductID]; !seen {
			products = append(products, it.ProductID)
			keys = append(keys, s.stocks.Key(it.ProductID))
		}
		demand[it.ProductID] += it.Quantity
	}

	set, err := lock.AcquireAll(ctx, s.locker, keys, s.wait, s.lease)
	if err != nil {
		return err
	}
	defer func() {
		if err := set.Release(context.WithoutCancel(ctx)); err != nil {
			s.log.Warn().Err(err).Str("orderId", orderID).Msg("release batch lease")
		}
	}()

	// re-check under the lease: a concurrent duplicate may have finished first
	txl, exists, err := s.txlog.Load(ctx, orderID)
	if err != nil {
		return err
	}
	if txl.Has(op, TxSuccess) {
		return nil
	}
	txl.OrderID = orderID

	switch {
	case op == OpRelease && !txl.Has(OpReserve, TxSuccess):
		return s.fence(ctx, txl, exists, items)
	case op == OpReserve && txl.Has(OpRelease, TxSuccess):
		return apperr.Conflict("order %s: already released", orderID)
	}

	loaded := make(map[string]Stock, len(products))
	var failures []TxEntry
	var firstErr error
	for _, pid := range products {
		st, ok, err := s.stocks.Load(ctx, pid)
		if err != nil {
			return err
		}
		var cause error
		if !ok {
			cause = apperr.Insufficient("product %s: no stock record", pid)
			if op == OpRelease {
				cause = apperr.NotFound("product %s: no stock record", pid)
			}
		} else {
			trial := st
			cause = mutate(&trial, demand[pid])
		}
		if cause != nil {
			failures = append(failures, s.entry(orderID, op, TxFailed, pid, demand[pid], priceOf(items, pid, st), cause.Error()))
			if firstErr == nil {
				firstErr = cause
			}
			continue
		}
		loaded[pid] = st
	}

	if len(failures) > 0 {
		txl.Entries = append(txl.Entries, failures...)
		if err := s.txlog.Save(ctx, txl, opFor(exists)); err != nil {
			s.log.Error().Err(err).Str("orderId", orderID).Msg("write FAILED log entry")
		}
		s.log.Info().Err(firstErr).Str("orderId", orderID).Str("op", string(op)).Msg("batch rejected, nothing mutated")
		return firstErr
	}

	// semua item lolos cek: mutate, rollback bila cache write gagal di tengah jalan
	now := s.now().UTC()
	var applied []Stock
	for _, pid := range products {
		st := loaded[pid]
		_ = mutate(&st, demand[pid])
		st.UpdatedAt = now
		if err := s.stocks.Save(ctx, st, syncer.OpUpdate); err != nil {
			s.rollback(ctx, applied, loaded)
			return err
		}
		applied = append(applied, st)
	}

	for _, it := range items {
		txl.Entries = append(txl.Entries, s.entry(orderID, op, TxSuccess, it.ProductID, it.Quantity, priceOf(items, it.ProductID, loaded[it.ProductID]), ""))
	}
	if err := s.txlog.Save(ctx, txl, opFor(exists)); err != nil {
		s.rollback(ctx, applied, loaded)
		return err
	}
	s.log.Info().Str("orderId", orderID).Str("op", string(op)).Int("products", len(products)).Msg("stock batch applied")
	return nil
}

// fence records a release for an order that holds no reservation. Nothing
// is decremented, and the RELEASE entry makes a late reserve for the same
// order fail instead of leaking stock.
func (s *Service) fence(ctx context.Context, txl TxLog, exists bool, items []Item) error {
	for _, it := range items {
		txl.Entries = append(txl.Entries, s.entry(txl.OrderID, OpRelease, TxSuccess, it.ProductID, 0, it.UnitPrice, "no reservation"))
	}
	if err := s.txlog.Save(ctx, txl, opFor(exists)); err != nil {
		return err
	}
	s.log.Warn().Str("orderId", txl.OrderID).Msg("release without reservation, fenced")
	return nil
}

func (s *Service) rollback(ctx context.Context, applied []Stock, orig map[string]Stock) {
	for _, st := range applied {
		if err := s.stocks.Save(ctx, orig[st.ProductID], syncer.OpUpdate); err != nil {
			s.log.Error().Err(err).Str("productId", st.ProductID).Msg("rollback stock write failed")
		}
	}
}

func (s *Service) entry(orderID string, op Operation, st TxStatus, pid string, qty int64, price decimal.Decimal, msg string) TxEntry {
	now := s.now().UTC()
	e := TxEntry{
		EntryID:       uuid.NewString(),
		OrderID:       orderID,
		ProductID:     pid,
		OperationType: op,
		Status:        st,
		Quantity:      qty,
		UnitPrice:     price,
		ErrorMessage:  msg,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	return e
}

// priceOf prefers the price carried by the request, falling back to the
// stock record's list price.
func priceOf(items []Item, pid string, st Stock) decimal.Decimal {
	for _, it := range items {
		if it.ProductID == pid && !it.UnitPrice.IsZero() {
			return it.UnitPrice
		}
	}
	return st.UnitPrice
}

func opFor(exists bool) syncer.Operation {
	if exists {
		return syncer.OpUpdate
	}
	return syncer.OpCreate
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return apperr.KindOf(err).String()
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
