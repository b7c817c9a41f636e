package main

import (
	"context"

	"github.com/ariefcatur/go-order-saga/internal/app"
	"github.com/ariefcatur/go-order-saga/internal/config"
	"github.com/ariefcatur/go-order-saga/internal/httpx"
	"github.com/ariefcatur/go-order-saga/internal/logx"
	"github.com/ariefcatur/go-order-saga/internal/stock"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()
	cfg := config.LoadService("stock-svc", ":8082")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rt, err := app.Start(ctx, cfg, "stock")
	if err != nil {
		boot := logx.New(cfg.ServiceName, cfg.LogLevel)
		boot.Fatal().Err(err).Msg("startup")
	}

	ledger := stock.NewService(stock.Deps{
		Cache:     rt.Cache,
		Stocks:    &stock.PostgresStore{DB: rt.DB},
		TxLog:     &stock.TxStore{DB: rt.DB},
		Locker:    rt.Locker,
		Emitter:   rt.Emitter,
		LockWait:  cfg.LockWait,
		LockLease: cfg.LockLease,
		Log:       rt.Log,
	})

	// write-back: cache dulu, postgres menyusul lewat data-sync
	rt.Register(ledger.Appliers())
	rt.ConsumeSync(ctx)

	router := httpx.NewRouter()
	(&httpx.StockHandler{Ledger: ledger, Timeout: cfg.LockWait + cfg.RPCTimeout}).Register(router)
	rt.Serve(ctx, cancel, router)
}
