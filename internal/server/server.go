package server

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"crashx/internal/cache"
	"crashx/internal/config"
	"crashx/internal/database"
	"crashx/internal/game"
	"crashx/internal/ledger"
	"crashx/internal/logger"
	"crashx/internal/store"
)

type FiberServer struct {
	*fiber.App

	cfg    *config.Config
	db     database.Service
	cache  cache.Service
	store  store.Store
	ledger *ledger.Ledger
	clock  *game.Clock
	hub    *game.Hub
}

// New assembles the HTTP surface around already-wired components. The
// database and cache services may be nil (handler tests run against the
// in-memory store with no infrastructure).
func New(cfg *config.Config, db database.Service, cacheSvc cache.Service, st store.Store, lg *ledger.Ledger, clock *game.Clock, hub *game.Hub) *FiberServer {
	server := &FiberServer{
		App: fiber.New(fiber.Config{
			ServerHeader:  "crashx",
			AppName:       "crashx",
			ReadTimeout:   10 * time.Second,
			WriteTimeout:  10 * time.Second,
			IdleTimeout:   120 * time.Second,
			StrictRouting: false,
		}),
		cfg:    cfg,
		db:     db,
		cache:  cacheSvc,
		store:  st,
		ledger: lg,
		clock:  clock,
		hub:    hub,
	}

	server.App.Use(recover.New())
	server.App.Use(limiter.New(limiter.Config{
		Max:        100,
		Expiration: 1 * time.Minute,
	}))

	return server
}

// Shutdown stops the round clock before closing connections so no round
// is left half-settled.
func (s *FiberServer) Shutdown() error {
	logger.Log.Info("shutting down")

	if s.clock != nil {
		s.clock.Stop()
	}
	if s.cache != nil {
		s.cache.Close()
	}
	if s.db != nil {
		s.db.Close()
	}
	return s.App.Shutdown()
}
