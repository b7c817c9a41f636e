package orders

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ariefcatur/go-order-saga/internal/apperr"
	"github.com/ariefcatur/go-order-saga/internal/bus"
	"github.com/ariefcatur/go-order-saga/internal/cache"
	"github.com/ariefcatur/go-order-saga/internal/lock"
	"github.com/ariefcatur/go-order-saga/internal/stock"
	"github.com/ariefcatur/go-order-saga/internal/store/storetest"
	"github.com/ariefcatur/go-order-saga/internal/syncer"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flakyCache fails Set for keys under prefix when failSet is on.
type flakyCache struct {
	*cache.Memory
	prefix  string
	failSet bool
}

func (c *flakyCache) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	if c.failSet && strings.HasPrefix(key, c.prefix) {
		return errors.New("cache unavailable")
	}
	return c.Memory.Set(ctx, key, val, ttl)
}

// stockClient is the in-process ledger with an optional failing release.
// reserveErr is returned after the reservation has committed, like a reply
// lost on the wire.
type stockClient struct {
	*stock.Service
	releaseErr error
	reserveErr error
}

func (s stockClient) Reserve(ctx context.Context, orderID string, items []stock.Item) error {
	if err := s.Service.Reserve(ctx, orderID, items); err != nil {
		return err
	}
	return s.reserveErr
}

func (s stockClient) Release(ctx context.Context, orderID string, items []stock.Item) error {
	if s.releaseErr != nil {
		return s.releaseErr
	}
	return s.Service.Release(ctx, orderID, items)
}

type fixture struct {
	svc    *Service
	stock  *stock.Service
	cache  *flakyCache
	bus    *bus.Memory
	orders *storetest.Durable[Order]
	client *stockClient
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		cache:  &flakyCache{Memory: cache.NewMemory(), prefix: Namespace + ":"},
		bus:    bus.NewMemory(),
		orders: storetest.NewDurable(func(o Order) string { return o.OrderID }),
	}
	locker := lock.NewMemoryLocker()
	f.stock = stock.NewService(stock.Deps{
		Cache:     f.cache,
		Stocks:    storetest.NewDurable(func(s stock.Stock) string { return s.ProductID }),
		TxLog:     storetest.NewDurable(func(l stock.TxLog) string { return l.OrderID }),
		Locker:    locker,
		Emitter:   syncer.BusEmitter{Pub: f.bus, Topic: "stock.data.sync", Attempts: 1},
		LockWait:  time.Second,
		LockLease: time.Minute,
		Log:       zerolog.Nop(),
	})
	f.client = &stockClient{Service: f.stock}
	f.svc = NewService(Deps{
		Cache:     f.cache,
		Orders:    f.orders,
		Locker:    locker,
		Emitter:   syncer.BusEmitter{Pub: f.bus, Topic: "order.data.sync", Attempts: 1},
		Stock:     f.client,
		Pub:       f.bus,
		Attempts:  2,
		LockWait:  time.Second,
		LockLease: time.Minute,
		Log:       zerolog.Nop(),
	})
	f.svc.newID = func() string { return "O1" }

	price := decimal.RequireFromString("100.00")
	_, err := f.stock.UpdateStock(context.Background(), stock.UpdateCmd{ProductID: "P1", Quantity: 10, UnitPrice: &price})
	require.NoError(t, err)
	return f
}

func (f *fixture) reserved(t *testing.T, pid string) int64 {
	t.Helper()
	q, err := f.stock.Quantities(context.Background(), pid)
	require.NoError(t, err)
	return q.Reserved
}

func cmdC1() CreateCmd {
	return CreateCmd{
		CustomerID: "C1",
		Items:      []LineItem{{ProductID: "P1", Quantity: 2, UnitPrice: decimal.RequireFromString("100.00")}},
	}
}

func TestCreateOrderScenario(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	o, err := f.svc.CreateOrder(ctx, cmdC1())
	require.NoError(t, err)
	assert.Equal(t, "O1", o.OrderID)
	assert.True(t, o.TotalAmount.Equal(decimal.RequireFromString("200.00")))
	assert.Equal(t, StatusCreated, o.Status)
	assert.EqualValues(t, 2, f.reserved(t, "P1"))

	got, err := f.svc.GetOrder(ctx, "O1")
	require.NoError(t, err)
	assert.Equal(t, StatusCreated, got.Status)

	msgs := f.bus.Published(TopicOrderCreated)
	require.Len(t, msgs, 1)
	assert.Equal(t, "O1", string(msgs[0].Key))
	env, p, err := bus.Decode[OrderCreatedPayload](msgs[0])
	require.NoError(t, err)
	assert.Equal(t, EventOrderCreated, env.EventType)
	assert.Equal(t, "C1", p.CustomerID)
	require.Len(t, p.Items, 1)
	assert.EqualValues(t, 2, p.Items[0].Quantity)
}

func TestCreateOrderValidationHasNoSideEffects(t *testing.T) {
	f := newFixture(t)
	for name, cmd := range map[string]CreateCmd{
		"no customer": {Items: cmdC1().Items},
		"no items":    {CustomerID: "C1"},
		"zero qty":    {CustomerID: "C1", Items: []LineItem{{ProductID: "P1", Quantity: 0, UnitPrice: decimal.NewFromInt(1)}}},
		"no product":  {CustomerID: "C1", Items: []LineItem{{Quantity: 1, UnitPrice: decimal.NewFromInt(1)}}},
	} {
		_, err := f.svc.CreateOrder(context.Background(), cmd)
		assert.ErrorIs(t, err, apperr.ErrValidation, name)
	}
	assert.Zero(t, f.reserved(t, "P1"))
	assert.Empty(t, f.bus.Published(TopicOrderCreated))
}

func TestCreateOrderInsufficientStock(t *testing.T) {
	f := newFixture(t)
	cmd := cmdC1()
	cmd.Items[0].Quantity = 11

	_, err := f.svc.CreateOrder(context.Background(), cmd)
	require.ErrorIs(t, err, apperr.ErrInsufficient)
	assert.Zero(t, f.reserved(t, "P1"))
	_, err = f.svc.GetOrder(context.Background(), "O1")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestCreateOrderPersistFailureReleasesStock(t *testing.T) {
	f := newFixture(t)
	f.cache.failSet = true

	_, err := f.svc.CreateOrder(context.Background(), cmdC1())
	require.ErrorIs(t, err, apperr.ErrPersistence)
	assert.NotErrorIs(t, err, apperr.ErrCompensation)

	f.cache.failSet = false
	assert.Zero(t, f.reserved(t, "P1"))
	_, err = f.svc.GetOrder(context.Background(), "O1")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.Empty(t, f.bus.Published(TopicOrderCreated))
}

func TestCreateOrderPublishFailureUnwinds(t *testing.T) {
	f := newFixture(t)
	calls := 0
	f.bus.Fail = func(m bus.Message) error {
		if m.Topic == TopicOrderCreated {
			calls++
			return errors.New("broker down")
		}
		return nil
	}

	_, err := f.svc.CreateOrder(context.Background(), cmdC1())
	require.ErrorIs(t, err, apperr.ErrPublish)
	assert.Equal(t, 2, calls, "publish retried")
	assert.Zero(t, f.reserved(t, "P1"))
	_, err = f.svc.GetOrder(context.Background(), "O1")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	// replica still holds the CREATE while the DELETE is in flight
	require.NoError(t, f.orders.Upsert(context.Background(), Order{OrderID: "O1", CustomerID: "C1", Status: StatusCreated}))
	_, err = f.svc.GetOrder(context.Background(), "O1")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestCreateOrderCompensationFailureSurfaces(t *testing.T) {
	f := newFixture(t)
	f.client.releaseErr = errors.New("stock service unreachable")
	f.bus.Fail = func(m bus.Message) error {
		if m.Topic == TopicOrderCreated {
			return errors.New("broker down")
		}
		return nil
	}

	_, err := f.svc.CreateOrder(context.Background(), cmdC1())
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrCompensation)
	assert.ErrorIs(t, err, apperr.ErrPublish)
	// order removed, stock left over-reserved for manual remediation
	_, gerr := f.svc.GetOrder(context.Background(), "O1")
	assert.ErrorIs(t, gerr, apperr.ErrNotFound)
	assert.EqualValues(t, 2, f.reserved(t, "P1"))
}

func TestUpdateStatus(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.svc.CreateOrder(ctx, cmdC1())
	require.NoError(t, err)

	o, err := f.svc.UpdateStatus(ctx, "O1", StatusPaid)
	require.NoError(t, err)
	assert.Equal(t, StatusPaid, o.Status)

	o, err = f.svc.UpdateStatus(ctx, "O1", StatusPaid)
	require.NoError(t, err, "repeat is idempotent")
	assert.Equal(t, StatusPaid, o.Status)

	_, err = f.svc.UpdateStatus(ctx, "O1", StatusFailed)
	assert.ErrorIs(t, err, apperr.ErrConflict)
	_, err = f.svc.UpdateStatus(ctx, "O1", Status("SHIPPED"))
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, err = f.svc.UpdateStatus(ctx, "O404", StatusPaid)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestUpdatePaymentLink(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.svc.CreateOrder(ctx, cmdC1())
	require.NoError(t, err)

	o, err := f.svc.UpdatePaymentLink(ctx, "O1", "https://pay.example/O1")
	require.NoError(t, err)
	assert.Equal(t, "https://pay.example/O1", o.PaymentLink)
	_, err = f.svc.UpdatePaymentLink(ctx, "O1", "https://pay.example/O1")
	require.NoError(t, err)
	_, err = f.svc.UpdatePaymentLink(ctx, "O1", "")
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestHandlePaymentStatus(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.svc.CreateOrder(ctx, cmdC1())
	require.NoError(t, err)

	msg := func(st Status) bus.Message {
		m, err := bus.NewMessage(TopicPaymentStatus, EventPaymentStatusChanged, "payment-service", "O1",
			PaymentStatusChangedPayload{OrderID: "O1", TransactionID: "T1", PaymentStatus: "FAILED", OrderStatus: st})
		require.NoError(t, err)
		return m
	}

	require.NoError(t, f.svc.HandlePaymentStatus(ctx, msg(StatusFailed)))
	o, err := f.svc.GetOrder(ctx, "O1")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, o.Status)

	// stale event after a terminal state is acked
	require.NoError(t, f.svc.HandlePaymentStatus(ctx, msg(StatusPaid)))

	err = f.svc.HandlePaymentStatus(ctx, bus.Message{Topic: TopicPaymentStatus, Value: []byte("{")})
	assert.ErrorIs(t, err, bus.ErrPoison)
}

func TestTTLByStatus(t *testing.T) {
	assert.Equal(t, 30*time.Minute, ttlFor(Order{Status: StatusPending}))
	assert.Equal(t, 30*time.Minute, ttlFor(Order{Status: StatusCreated}))
	assert.Equal(t, 60*time.Minute, ttlFor(Order{Status: StatusPaid}))
	assert.Equal(t, 60*time.Minute, ttlFor(Order{Status: StatusCancelled}))
}

func TestValidateTotalMismatch(t *testing.T) {
	o := Order{OrderID: "O1", CustomerID: "C1", Status: StatusPending, Items: cmdC1().Items, TotalAmount: decimal.NewFromInt(150)}
	assert.ErrorIs(t, o.Validate(), apperr.ErrValidation)
	o.TotalAmount = o.ComputeTotal()
	assert.NoError(t, o.Validate())
}

func TestCreateOrderLostReserveReplyReleases(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.client.reserveErr = apperr.Wrap(apperr.KindInternal, errors.New("i/o timeout"), "rpc reserve")

	_, err := f.svc.CreateOrder(ctx, cmdC1())
	require.Error(t, err)
	assert.NotErrorIs(t, err, apperr.ErrCompensation)
	assert.EqualValues(t, 0, f.reserved(t, "P1"), "committed reservation is released")
	assert.Empty(t, f.bus.Published(TopicOrderCreated))
}
