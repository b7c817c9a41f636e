package main

import (
	"context"

	"github.com/ariefcatur/go-order-saga/internal/app"
	"github.com/ariefcatur/go-order-saga/internal/config"
	"github.com/ariefcatur/go-order-saga/internal/httpx"
	"github.com/ariefcatur/go-order-saga/internal/logx"
	"github.com/ariefcatur/go-order-saga/internal/payment"
	"github.com/ariefcatur/go-order-saga/internal/rpc"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()
	cfg := config.LoadService("payment-svc", ":8083")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	boot := logx.New(cfg.ServiceName, cfg.LogLevel)
	gateway, err := payment.NewGateway(payment.GatewayConfig{
		AppID:      cfg.GatewayAppID,
		PrivateKey: cfg.GatewayPrivateKey,
		PublicKey:  cfg.GatewayPublicKey,
		Production: cfg.GatewayProduction,
		NotifyURL:  cfg.GatewayNotifyURL,
		ReturnURL:  cfg.GatewayReturnURL,
		Timeout:    cfg.RPCTimeout,
	})
	if err != nil {
		boot.Fatal().Err(err).Msg("gateway")
	}

	rt, err := app.Start(ctx, cfg, "payment")
	if err != nil {
		boot.Fatal().Err(err).Msg("startup")
	}

	svc := payment.NewService(payment.Deps{
		Cache:     rt.Cache,
		Payments:  &payment.PostgresStore{DB: rt.DB},
		Locker:    rt.Locker,
		Emitter:   rt.Emitter,
		Channel:   gateway,
		Orders:    rpc.NewOrderClient(cfg.OrderServiceURL, cfg.RPCTimeout),
		Verifier:  gateway,
		Pub:       rt.Pub,
		Topic:     cfg.TopicPaymentState,
		Producer:  cfg.ServiceName,
		AppID:     cfg.GatewayAppID,
		Attempts:  cfg.PublishTry,
		Backoff:   cfg.PublishWait,
		LockWait:  cfg.LockWait,
		LockLease: cfg.LockLease,
		Log:       rt.Log,
	})

	rt.Register(svc.Appliers())
	rt.ConsumeSync(ctx)
	rt.Consume(ctx, cfg.TopicOrderCreated, "order-created", svc.HandleOrderCreated)

	router := httpx.NewRouter()
	(&httpx.PaymentHandler{Svc: svc, Log: rt.Log}).Register(router)
	rt.Serve(ctx, cancel, router)
}
