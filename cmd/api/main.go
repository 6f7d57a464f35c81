package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"crashx/internal/cache"
	"crashx/internal/config"
	"crashx/internal/database"
	"crashx/internal/game"
	"crashx/internal/ledger"
	"crashx/internal/logger"
	"crashx/internal/metrics"
	"crashx/internal/server"
	"crashx/internal/store"
)

func main() {
	cfg, err := config.Load("./configs")
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger.Init(cfg.Server.Development)
	defer logger.Sync()

	db, err := database.New(cfg.Postgres)
	if err != nil {
		logger.Log.Fatalw("postgres is required", "error", err)
	}

	cacheSvc := cache.New(cfg.Redis)

	st := store.NewPostgres(db.Pool())
	m := metrics.New("crashx")
	lg := ledger.New(st, cfg.Game.MinStake, cfg.Game.MaxStake).WithMetrics(m)
	hub := game.NewHub(m)

	var sink game.EventSink
	if cacheSvc != nil {
		sink = cacheSvc
	}
	clock := game.NewClock(st, lg, hub, sink, m, game.Config{
		BettingWindow: cfg.Game.BettingWindow,
		Cooldown:      cfg.Game.Cooldown,
		TickInterval:  cfg.Game.TickInterval,
	})

	srv := server.New(cfg, db, cacheSvc, st, lg, clock, hub)
	srv.RegisterRoutes()

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run()
	go clock.Run(ctx)

	go func() {
		if err := srv.Listen(cfg.Server.Address); err != nil {
			logger.Log.Fatalw("server stopped", "error", err)
		}
	}()
	logger.Log.Infow("listening", "address", cfg.Server.Address)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	cancel()
	if err := srv.Shutdown(); err != nil {
		logger.Log.Errorw("shutdown error", "error", err)
	}
}
