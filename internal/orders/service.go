package orders

import (
	"context"
	"errors"
	"time"

	"github.com/ariefcatur/go-order-saga/internal/apperr"
	"github.com/ariefcatur/go-order-saga/internal/bus"
	"github.com/ariefcatur/go-order-saga/internal/cache"
	"github.com/ariefcatur/go-order-saga/internal/lock"
	"github.com/ariefcatur/go-order-saga/internal/saga"
	"github.com/ariefcatur/go-order-saga/internal/stock"
	"github.com/ariefcatur/go-order-saga/internal/store"
	"github.com/ariefcatur/go-order-saga/internal/syncer"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const Namespace = "order"

// StockClient is the stock ledger as seen from the order service.
type StockClient interface {
	Reserve(ctx context.Context, orderID string, items []stock.Item) error
	Release(ctx context.Context, orderID string, items []stock.Item) error
}

type Deps struct {
	Cache     cache.Store
	Orders    store.Durable[Order]
	Locker    lock.Locker
	Emitter   syncer.Emitter
	Stock     StockClient
	Pub       bus.Publisher
	Topic     string
	Producer  string
	Attempts  int
	Backoff   time.Duration
	LockWait  time.Duration
	LockLease time.Duration
	Log       zerolog.Logger
}

type Service struct {
	orders   *store.Repository[Order]
	stock    StockClient
	pub      bus.Publisher
	topic    string
	producer string
	attempts int
	backoff  time.Duration
	log      zerolog.Logger
	now      func() time.Time
	newID    func() string
}

func NewService(d Deps) *Service {
	repo := store.New(store.Config[Order]{
		Namespace: Namespace,
		ID:        func(o Order) string { return o.OrderID },
		TTL:       ttlFor,
		LockWait:  d.LockWait,
		LockLease: d.LockLease,
	}, d.Cache, d.Orders, d.Locker, d.Emitter, d.Log)
	if d.Topic == "" {
		d.Topic = TopicOrderCreated
	}
	if d.Producer == "" {
		d.Producer = "order-service"
	}
	return &Service{
		orders:   repo,
		stock:    d.Stock,
		pub:      d.Pub,
		topic:    d.Topic,
		producer: d.Producer,
		attempts: d.Attempts,
		backoff:  d.Backoff,
		log:      d.Log,
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

func (s *Service) Appliers() map[string]syncer.Applier {
	return map[string]syncer.Applier{Namespace: s.orders}
}

type CreateCmd struct {
	CustomerID string     `json:"customerId"`
	Items      []LineItem `json:"items"`
	Note       string     `json:"note,omitempty"`
}

// CreateOrder validates the order, reserves its stock, persists it as
// CREATED and publishes OrderCreated. A failing step unwinds the ones before
// it; if an unwind fails too the error carries apperr.ErrCompensation.
func (s *Service) CreateOrder(ctx context.Context, cmd CreateCmd) (Order, error) {
	now := s.now().UTC()
	o := Order{
		OrderID:    s.newID(),
		CustomerID: cmd.CustomerID,
		Items:      cmd.Items,
		Status:     StatusPending,
		Note:       cmd.Note,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	o.TotalAmount = o.ComputeTotal()
	if err := o.Validate(); err != nil {
		return Order{}, err
	}
	items := stockItems(o.Items)
	log := s.log.With().Str("orderId", o.OrderID).Logger()

	err := saga.Saga{Name: "create-order", Log: log}.Run(ctx,
		saga.Step{
			Name: "reserve-stock",
			Do:   func(ctx context.Context) error { return s.stock.Reserve(ctx, o.OrderID, items) },
			Compensate: func(ctx context.Context) error {
				return s.stock.Release(ctx, o.OrderID, items)
			},
			// business rejections are final; anything else may have committed remotely
			Indeterminate: apperr.Retryable,
		},
		saga.Step{
			Name: "persist-order",
			Do: func(ctx context.Context) error {
				o.Status = StatusCreated
				return s.orders.Put(ctx, o)
			},
			Compensate: func(ctx context.Context) error {
				_, err := s.orders.Delete(ctx, o.OrderID)
				return err
			},
		},
		saga.Step{
			Name: "publish-order-created",
			Do:   func(ctx context.Context) error { return s.publishCreated(ctx, o) },
		},
	)
	if err != nil {
		return Order{}, err
	}
	log.Info().Str("total", o.TotalAmount.String()).Int("items", len(o.Items)).Msg("order created")
	return o, nil
}

func (s *Service) publishCreated(ctx context.Context, o Order) error {
	m, err := bus.NewMessage(s.topic, EventOrderCreated, s.producer, o.OrderID, OrderCreatedPayload{
		OrderID:     o.OrderID,
		CustomerID:  o.CustomerID,
		Items:       o.Items,
		TotalAmount: o.TotalAmount,
		Note:        o.Note,
	})
	if err != nil {
		return err
	}
	return bus.PublishRetry(ctx, s.pub, m, s.attempts, s.backoff)
}

func (s *Service) GetOrder(ctx context.Context, orderID string) (Order, error) {
	if orderID == "" {
		return Order{}, apperr.Validation("orderId is required")
	}
	o, ok, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return Order{}, err
	}
	if !ok {
		return Order{}, apperr.NotFound("order %s not found", orderID)
	}
	return o, nil
}

var errUnchanged = errors.New("unchanged")

// UpdateStatus moves the order to status. Repeating the current status is a
// no-op; a transition outside the table is a Conflict.
func (s *Service) UpdateStatus(ctx context.Context, orderID string, to Status) (Order, error) {
	if orderID == "" {
		return Order{}, apperr.Validation("orderId is required")
	}
	if !to.Valid() {
		return Order{}, apperr.Validation("unknown status %q", to)
	}
	var from Status
	o, err := s.orders.Update(ctx, orderID, func(o *Order) error {
		from = o.Status
		if o.Status == to {
			return errUnchanged
		}
		if !CanTransition(o.Status, to) {
			return apperr.Conflict("order %s: %s -> %s not allowed", orderID, o.Status, to)
		}
		o.Status = to
		o.UpdatedAt = s.now().UTC()
		return nil
	})
	if errors.Is(err, errUnchanged) {
		return s.GetOrder(ctx, orderID)
	}
	if err != nil {
		return Order{}, err
	}
	s.log.Info().Str("orderId", orderID).Str("from", string(from)).Str("to", string(to)).Msg("order status updated")
	return o, nil
}

func (s *Service) UpdatePaymentLink(ctx context.Context, orderID, link string) (Order, error) {
	if orderID == "" || link == "" {
		return Order{}, apperr.Validation("orderId and paymentLink are required")
	}
	o, err := s.orders.Update(ctx, orderID, func(o *Order) error {
		if o.PaymentLink == link {
			return errUnchanged
		}
		o.PaymentLink = link
		o.UpdatedAt = s.now().UTC()
		return nil
	})
	if errors.Is(err, errUnchanged) {
		return s.GetOrder(ctx, orderID)
	}
	return o, err
}

// HandlePaymentStatus applies a PaymentStatusChanged event. Stale
// transitions are acknowledged; the RPC path has usually applied them already.
func (s *Service) HandlePaymentStatus(ctx context.Context, m bus.Message) error {
	env, p, err := bus.Decode[PaymentStatusChangedPayload](m)
	if err != nil {
		return err
	}
	if env.EventType != EventPaymentStatusChanged {
		return bus.Poison("unexpected event type %q", env.EventType)
	}
	if p.OrderStatus == "" {
		return nil
	}
	_, err = s.UpdateStatus(ctx, p.OrderID, p.OrderStatus)
	if errors.Is(err, apperr.ErrConflict) {
		s.log.Warn().Err(err).Str("orderId", p.OrderID).Str("paymentStatus", p.PaymentStatus).Msg("stale payment status ignored")
		return nil
	}
	return err
}

func stockItems(items []LineItem) []stock.Item {
	out := make([]stock.Item, 0, len(items))
	for _, it := range items {
		out = append(out, stock.Item{ProductID: it.ProductID, Quantity: it.Quantity, UnitPrice: it.UnitPrice})
	}
	return out
}

// Amount is the order total recomputed from its items.
func Amount(items []LineItem) decimal.Decimal {
	return Order{Items: items}.ComputeTotal()
}
