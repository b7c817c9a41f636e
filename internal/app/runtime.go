// Package app wires the infrastructure every service process shares:
// postgres, redis (locks, cache, DLQ), the message bus, the data-sync
// consumer, metrics, tracing and graceful shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/ariefcatur/go-order-saga/internal/bus"
	"github.com/ariefcatur/go-order-saga/internal/cache"
	"github.com/ariefcatur/go-order-saga/internal/config"
	"github.com/ariefcatur/go-order-saga/internal/dlq"
	"github.com/ariefcatur/go-order-saga/internal/kafka"
	"github.com/ariefcatur/go-order-saga/internal/lock"
	"github.com/ariefcatur/go-order-saga/internal/logx"
	"github.com/ariefcatur/go-order-saga/internal/metrics"
	"github.com/ariefcatur/go-order-saga/internal/postgres"
	"github.com/ariefcatur/go-order-saga/internal/rabbitmq"
	"github.com/ariefcatur/go-order-saga/internal/redisx"
	"github.com/ariefcatur/go-order-saga/internal/syncer"
	"github.com/ariefcatur/go-order-saga/internal/telemetry"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Runtime is one service process.
type Runtime struct {
	Cfg     config.Config
	Service string
	Log     zerolog.Logger

	DB      *pgxpool.Pool
	Redis   *redis.Client
	Locker  lock.Locker
	Cache   cache.Store
	Pub     bus.Publisher
	Sub     bus.Subscriber
	Emitter syncer.Emitter
	Sync    *syncer.Consumer

	closers []func(context.Context) error
	wg      sync.WaitGroup
}

// Start connects every backend. service names the sync topic ("order",
// "stock", "payment").
func Start(ctx context.Context, cfg config.Config, service string) (*Runtime, error) {
	log := logx.New(cfg.ServiceName, cfg.LogLevel)
	rt := &Runtime{Cfg: cfg, Service: service, Log: log}

	shutdownTracing, err := telemetry.Setup(ctx, cfg.ServiceName, cfg.OTLPEndpoint)
	if err != nil {
		return nil, fmt.Errorf("tracing: %w", err)
	}
	rt.closers = append(rt.closers, shutdownTracing)

	if cfg.MigrateOnStart {
		if err := postgres.RunMigrations(cfg.PostgresDSN, log); err != nil {
			return nil, err
		}
	}
	rt.DB, err = postgres.Connect(ctx, cfg.PostgresDSN, int32(cfg.ConsumerWorkers*2))
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}
	rt.closers = append(rt.closers, func(context.Context) error { rt.DB.Close(); return nil })

	rt.Redis = redisx.New(cfg.RedisAddr)
	rt.closers = append(rt.closers, func(context.Context) error { return rt.Redis.Close() })
	if err := redisx.Ping(ctx, rt.Redis); err != nil {
		rt.Close(ctx)
		return nil, err
	}
	rt.Locker = lock.NewRedisLocker(rt.Redis, log)
	rt.Cache = cache.NewRedis(rt.Redis)

	policy := bus.Policy{
		Attempts: cfg.ConsumeTry,
		Backoff:  time.Second,
		DLQ:      dlq.New(rt.Redis, log),
		Log:      log,
	}
	switch cfg.BusDriver {
	case "rabbitmq":
		c, err := rabbitmq.Dial(cfg.RabbitMQURL, policy, log)
		if err != nil {
			rt.Close(ctx)
			return nil, err
		}
		rt.Pub, rt.Sub = c, c
		rt.closers = append(rt.closers, func(context.Context) error { return c.Close() })
	case "kafka", "":
		p := kafka.NewProducer(cfg.KafkaBrokers)
		rt.Pub = p
		rt.Sub = kafka.NewConsumer(cfg.KafkaBrokers, cfg.ConsumerWorkers, policy, log)
		rt.closers = append(rt.closers, func(context.Context) error { return p.Close() })
	default:
		rt.Close(ctx)
		return nil, fmt.Errorf("unknown BUS_DRIVER %q", cfg.BusDriver)
	}

	rt.Emitter = syncer.BusEmitter{Pub: rt.Pub, Topic: cfg.SyncTopic(service), Attempts: cfg.PublishTry, Backoff: cfg.PublishWait}
	rt.Sync = syncer.NewConsumer(log)

	if srv := metrics.Serve(cfg.MetricsAddr); srv != nil {
		rt.closers = append(rt.closers, srv.Shutdown)
	}
	return rt, nil
}

// Register adds the durable appliers of a service to its sync consumer.
func (rt *Runtime) Register(appliers map[string]syncer.Applier) {
	for dt, a := range appliers {
		rt.Sync.Register(dt, a)
	}
}

// Consume runs h on topic in the background until ctx is cancelled.
func (rt *Runtime) Consume(ctx context.Context, topic, suffix string, h bus.Handler) {
	group := rt.Cfg.Group(suffix)
	rt.wg.Add(1)
	go func() {
		defer rt.wg.Done()
		rt.Log.Info().Str("topic", topic).Str("group", group).Msg("consumer started")
		if err := rt.Sub.Subscribe(ctx, topic, group, h); err != nil && !errors.Is(err, context.Canceled) {
			rt.Log.Error().Err(err).Str("topic", topic).Msg("consumer exit")
		}
	}()
}

// ConsumeSync starts the data-sync consumer of this service.
func (rt *Runtime) ConsumeSync(ctx context.Context) {
	rt.Consume(ctx, rt.Cfg.SyncTopic(rt.Service), "sync", rt.Sync.Handle)
}

// Serve runs the HTTP server until SIGINT/SIGTERM, then drains consumers and
// closes every backend.
func (rt *Runtime) Serve(ctx context.Context, cancel context.CancelFunc, h http.Handler) {
	srv := &http.Server{Addr: rt.Cfg.HTTPAddr, Handler: h, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		rt.Log.Info().Str("addr", rt.Cfg.HTTPAddr).Msg("HTTP listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			rt.Log.Error().Err(err).Msg("listen")
			cancel()
		}
	}()

	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-sigCtx.Done()
	rt.Log.Info().Msg("shutting down...")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
	cancel() // stop consumer loops
	rt.wg.Wait()
	rt.Close(ctx2)
}

// Close releases backends in reverse order of acquisition.
func (rt *Runtime) Close(ctx context.Context) {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](ctx); err != nil {
			rt.Log.Warn().Err(err).Msg("close")
		}
	}
	rt.closers = nil
}
