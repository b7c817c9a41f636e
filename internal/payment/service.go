package payment

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/ariefcatur/go-order-saga/internal/apperr"
	"github.com/ariefcatur/go-order-saga/internal/bus"
	"github.com/ariefcatur/go-order-saga/internal/cache"
	"github.com/ariefcatur/go-order-saga/internal/lock"
	"github.com/ariefcatur/go-order-saga/internal/metrics"
	"github.com/ariefcatur/go-order-saga/internal/orders"
	"github.com/ariefcatur/go-order-saga/internal/saga"
	"github.com/ariefcatur/go-order-saga/internal/store"
	"github.com/ariefcatur/go-order-saga/internal/syncer"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Durable adds the order lookup used by the duplicate check.
type Durable interface {
	store.Durable[Payment]
	FindByOrderID(ctx context.Context, orderID string) (Payment, bool, error)
}

// OrderClient is the order service as seen from payments.
type OrderClient interface {
	UpdateStatus(ctx context.Context, orderID string, status orders.Status) error
	UpdatePaymentLink(ctx context.Context, orderID, link string) error
}

type Deps struct {
	Cache     cache.Store
	Payments  Durable
	Locker    lock.Locker
	Emitter   syncer.Emitter
	Channel   Channel
	Orders    OrderClient
	Verifier  Verifier
	Pub       bus.Publisher
	Topic     string
	Producer  string
	AppID     string
	Attempts  int
	Backoff   time.Duration
	LockWait  time.Duration
	LockLease time.Duration
	Log       zerolog.Logger
}

type Service struct {
	payments *store.Repository[Payment]
	durable  Durable
	cache    cache.Store
	locker   lock.Locker
	channel  Channel
	orders   OrderClient
	verifier Verifier
	pub      bus.Publisher
	topic    string
	producer string
	appID    string
	attempts int
	backoff  time.Duration
	wait     time.Duration
	lease    time.Duration
	log      zerolog.Logger
	now      func() time.Time
	newID    func() string
}

func NewService(d Deps) *Service {
	repo := store.New(store.Config[Payment]{
		Namespace: Namespace,
		ID:        func(p Payment) string { return p.TransactionID },
		TTL:       ttlFor,
		LockWait:  d.LockWait,
		LockLease: d.LockLease,
	}, d.Cache, d.Payments, d.Locker, d.Emitter, d.Log)
	if d.Topic == "" {
		d.Topic = orders.TopicPaymentStatus
	}
	if d.Producer == "" {
		d.Producer = "payment-service"
	}
	if d.LockWait <= 0 {
		d.LockWait = 10 * time.Second
	}
	if d.LockLease <= 0 {
		d.LockLease = 30 * time.Second
	}
	return &Service{
		payments: repo,
		durable:  d.Payments,
		cache:    d.Cache,
		locker:   d.Locker,
		channel:  d.Channel,
		orders:   d.Orders,
		verifier: d.Verifier,
		pub:      d.Pub,
		topic:    d.Topic,
		producer: d.Producer,
		appID:    d.AppID,
		attempts: d.Attempts,
		backoff:  d.Backoff,
		wait:     d.LockWait,
		lease:    d.LockLease,
		log:      d.Log,
		now:      time.Now,
		newID:    func() string { return "PAY" + uuid.NewString() },
	}
}

func (s *Service) Appliers() map[string]syncer.Applier {
	return map[string]syncer.Applier{Namespace: s.payments}
}

func indexKey(orderID string) string { return IndexNamespace + ":" + orderID }

// CreatePayment opens a gateway trade for the order, persists it PENDING and
// attaches the pay link to the order. An order that already has a payment
// returns it with a Duplicate error.
func (s *Service) CreatePayment(ctx context.Context, ev orders.OrderCreatedPayload) (Payment, error) {
	if ev.OrderID == "" {
		return Payment{}, apperr.Validation("orderId is required")
	}
	// lease menutup window dedup -> persist untuk redelivery paralel
	l, err := s.locker.Acquire(ctx, "payment-create:"+ev.OrderID, s.wait, s.lease)
	if err != nil {
		return Payment{}, err
	}
	defer func() { _ = l.Release(context.WithoutCancel(ctx)) }()

	existing, ok, err := s.FindByOrder(ctx, ev.OrderID)
	if err != nil {
		return Payment{}, err
	}
	if ok {
		return existing, apperr.New(apperr.KindDuplicate, "order %s already has payment %s", ev.OrderID, existing.TransactionID)
	}

	amount := orders.Amount(ev.Items)
	if !amount.IsPositive() {
		return Payment{}, apperr.Validation("order %s: amount must be > 0", ev.OrderID)
	}
	now := s.now().UTC()
	p := Payment{
		TransactionID:     s.newID(),
		OrderID:           ev.OrderID,
		Amount:            amount,
		TransactionType:   TypePay,
		TransactionStatus: StatusPending,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	log := s.log.With().Str("orderId", p.OrderID).Str("transactionId", p.TransactionID).Logger()

	var link string
	err = saga.Saga{Name: "create-payment", Log: log}.Run(ctx,
		saga.Step{
			Name: "channel-create",
			Do: func(ctx context.Context) error {
				res, err := s.channel.Create(ctx, PayRequest{
					OutTradeNo:  p.TransactionID,
					TotalAmount: p.Amount,
					Subject:     "Order " + p.OrderID,
				})
				if err != nil {
					return err
				}
				p.ChannelTransactionID, link = res.TradeNo, res.PayURL
				return nil
			},
			Compensate: func(ctx context.Context) error { return s.channel.Cancel(ctx, p.TransactionID) },
		},
		saga.Step{
			Name: "persist-payment",
			Do: func(ctx context.Context) error {
				if err := s.payments.Put(ctx, p); err != nil {
					return err
				}
				if err := s.cache.Set(ctx, indexKey(p.OrderID), []byte(p.TransactionID), TTLTerminal); err != nil {
					log.Warn().Err(err).Msg("payment index not cached")
				}
				return nil
			},
			Compensate: func(ctx context.Context) error {
				if _, err := s.cache.Del(ctx, indexKey(p.OrderID)); err != nil {
					return apperr.Persistence(err, "cache del "+indexKey(p.OrderID))
				}
				_, err := s.payments.Delete(ctx, p.TransactionID)
				return err
			},
		},
		saga.Step{
			Name: "attach-payment-link",
			Do:   func(ctx context.Context) error { return s.orders.UpdatePaymentLink(ctx, p.OrderID, link) },
		},
	)
	if err != nil {
		return Payment{}, err
	}
	log.Info().Str("amount", p.Amount.StringFixed(2)).Msg("payment created")
	return p, nil
}

// HandleOrderCreated is the order-created consumer. nil acknowledges.
func (s *Service) HandleOrderCreated(ctx context.Context, m bus.Message) error {
	env, ev, err := bus.Decode[orders.OrderCreatedPayload](m)
	if err != nil {
		return err
	}
	if env.EventType != orders.EventOrderCreated {
		return bus.Poison("unexpected event type %q", env.EventType)
	}
	_, err = s.CreatePayment(ctx, ev)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, apperr.ErrDuplicate):
		s.log.Info().Str("orderId", ev.OrderID).Msg("payment already exists, ack")
		return nil
	case saga.IsCompensationFailure(err):
		// redelivery would open another trade; park it for remediation
		return errors.Join(bus.ErrPoison, err)
	default:
		return err
	}
}

// FindByOrder resolves the payment of an order through the cache index,
// falling back to the durable store. A durable hit is confirmed against the
// repository so a deleted payment stays deleted.
func (s *Service) FindByOrder(ctx context.Context, orderID string) (Payment, bool, error) {
	b, ok, err := s.cache.Get(ctx, indexKey(orderID))
	if err != nil {
		return Payment{}, false, apperr.Persistence(err, "cache get "+indexKey(orderID))
	}
	if ok {
		p, found, err := s.payments.Get(ctx, string(b))
		if err != nil || found {
			return p, found, err
		}
	}
	p, found, err := s.durable.FindByOrderID(ctx, orderID)
	if err != nil {
		return Payment{}, false, apperr.Persistence(err, "durable find payment by order "+orderID)
	}
	if !found {
		return Payment{}, false, nil
	}
	// the replica may still hold a payment whose delete has not synced yet
	return s.payments.Get(ctx, p.TransactionID)
}

func (s *Service) GetPayment(ctx context.Context, transactionID string) (Payment, error) {
	if transactionID == "" {
		return Payment{}, apperr.Validation("transactionId is required")
	}
	p, ok, err := s.payments.Get(ctx, transactionID)
	if err != nil {
		return Payment{}, err
	}
	if !ok {
		return Payment{}, apperr.NotFound("payment %s not found", transactionID)
	}
	return p, nil
}

// transition is what one gateway trade status does to a payment and its order.
type transition struct {
	payment   Status
	order     orders.Status // empty: order untouched
	errorCode string
	errorMsg  string
}

var transitions = map[TradeStatus]transition{
	TradeSuccess:      {payment: StatusSuccess, order: orders.StatusPaid},
	TradeFinished:     {payment: StatusSuccess, order: orders.StatusPaid},
	TradeClosed:       {payment: StatusFailed, order: orders.StatusFailed, errorCode: "TRADE_CLOSED", errorMsg: "trade closed"},
	TradeWaitBuyerPay: {payment: StatusPending},
}

// HandleNotify processes a gateway callback and returns the reply sentinel.
func (s *Service) HandleNotify(ctx context.Context, form url.Values) string {
	n := ParseNotify(form)
	reply := s.handleNotify(ctx, form, n)
	metrics.Webhooks.WithLabelValues(string(n.TradeStatus), reply).Inc()
	return reply
}

func (s *Service) handleNotify(ctx context.Context, form url.Values, n Notify) string {
	log := s.log.With().Str("transactionId", n.OutTradeNo).Str("tradeStatus", string(n.TradeStatus)).Logger()
	if err := s.verifier.Verify(ctx, form); err != nil {
		log.Error().Err(err).Msg("notify rejected")
		return ReplyFailure
	}
	if s.appID != "" && n.AppID != s.appID {
		log.Error().Str("appId", n.AppID).Msg("notify for another app")
		return ReplyFailure
	}
	tr, ok := transitions[n.TradeStatus]
	if !ok {
		log.Warn().Msg("unhandled trade status")
		return ReplyFailure
	}
	if err := s.apply(ctx, n, tr); err != nil {
		log.Error().Err(err).Msg("notify not applied")
		return ReplyFailure
	}
	return ReplySuccess
}

var errStale = errors.New("stale transition")

// apply updates the payment under its lease, then the order. A repeated
// notify re-drives the order update so a half-applied transition heals.
func (s *Service) apply(ctx context.Context, n Notify, tr transition) error {
	if n.OutTradeNo == "" {
		return apperr.Validation("out_trade_no is required")
	}
	amount, err := n.Amount()
	if err != nil {
		return apperr.Validation("total_amount %q: %v", n.TotalAmount, err)
	}

	changed := false
	p, err := s.payments.Update(ctx, n.OutTradeNo, func(p *Payment) error {
		if !amount.IsZero() && !amount.Equal(p.Amount) {
			return apperr.Conflict("payment %s: notified amount %s, expected %s", p.TransactionID, amount, p.Amount)
		}
		if p.TransactionStatus == tr.payment {
			return errUnchanged
		}
		if !CanTransition(p.TransactionStatus, tr.payment) {
			return fmt.Errorf("%w: %s -> %s", errStale, p.TransactionStatus, tr.payment)
		}
		p.TransactionStatus = tr.payment
		p.ErrorCode, p.ErrorMsg = tr.errorCode, tr.errorMsg
		if p.ChannelTransactionID == "" {
			p.ChannelTransactionID = n.TradeNo
		}
		p.UpdatedAt = s.now().UTC()
		changed = true
		return nil
	})
	switch {
	case errors.Is(err, errStale):
		s.log.Warn().Err(err).Str("transactionId", n.OutTradeNo).Msg("stale notify acknowledged")
		return nil
	case errors.Is(err, errUnchanged):
		if p, err = s.GetPayment(ctx, n.OutTradeNo); err != nil {
			return err
		}
	case err != nil:
		return err
	}

	if tr.order != "" {
		err := s.orders.UpdateStatus(ctx, p.OrderID, tr.order)
		if errors.Is(err, apperr.ErrConflict) {
			s.log.Warn().Err(err).Str("orderId", p.OrderID).Msg("order already moved on")
		} else if err != nil {
			return err
		}
	}
	if changed {
		s.log.Info().Str("transactionId", p.TransactionID).Str("status", string(p.TransactionStatus)).Msg("payment status updated")
		s.publishStatus(ctx, p, tr.order)
	}
	return nil
}

var errUnchanged = errors.New("unchanged")

// Best effort: the RPC has already moved the order.
func (s *Service) publishStatus(ctx context.Context, p Payment, orderStatus orders.Status) {
	if s.pub == nil {
		return
	}
	m, err := bus.NewMessage(s.topic, orders.EventPaymentStatusChanged, s.producer, p.OrderID, orders.PaymentStatusChangedPayload{
		OrderID:       p.OrderID,
		TransactionID: p.TransactionID,
		PaymentStatus: string(p.TransactionStatus),
		OrderStatus:   orderStatus,
	})
	if err == nil {
		err = bus.PublishRetry(ctx, s.pub, m, s.attempts, s.backoff)
	}
	if err != nil {
		s.log.Warn().Err(err).Str("orderId", p.OrderID).Msg("payment status event not published")
	}
}
