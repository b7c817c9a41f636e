package main

import (
	"context"

	"github.com/ariefcatur/go-order-saga/internal/app"
	"github.com/ariefcatur/go-order-saga/internal/config"
	"github.com/ariefcatur/go-order-saga/internal/httpx"
	"github.com/ariefcatur/go-order-saga/internal/logx"
	"github.com/ariefcatur/go-order-saga/internal/orders"
	"github.com/ariefcatur/go-order-saga/internal/rpc"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()
	cfg := config.LoadService("order-svc", ":8081")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rt, err := app.Start(ctx, cfg, "order")
	if err != nil {
		boot := logx.New(cfg.ServiceName, cfg.LogLevel)
		boot.Fatal().Err(err).Msg("startup")
	}

	svc := orders.NewService(orders.Deps{
		Cache:     rt.Cache,
		Orders:    &orders.PostgresStore{DB: rt.DB},
		Locker:    rt.Locker,
		Emitter:   rt.Emitter,
		Stock:     rpc.NewStockClient(cfg.StockServiceURL, cfg.RPCTimeout),
		Pub:       rt.Pub,
		Topic:     cfg.TopicOrderCreated,
		Producer:  cfg.ServiceName,
		Attempts:  cfg.PublishTry,
		Backoff:   cfg.PublishWait,
		LockWait:  cfg.LockWait,
		LockLease: cfg.LockLease,
		Log:       rt.Log,
	})

	rt.Register(svc.Appliers())
	rt.ConsumeSync(ctx)
	rt.Consume(ctx, cfg.TopicPaymentState, "payment-status", svc.HandlePaymentStatus)

	router := httpx.NewRouter()
	(&httpx.OrdersHandler{Svc: svc}).Register(router)
	rt.Serve(ctx, cancel, router)
}
