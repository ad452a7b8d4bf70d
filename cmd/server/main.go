package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/event-checkin/internal/analytics"
	"github.com/iliyamo/event-checkin/internal/config"
	"github.com/iliyamo/event-checkin/internal/database"
	"github.com/iliyamo/event-checkin/internal/handler"
	"github.com/iliyamo/event-checkin/internal/logger"
	"github.com/iliyamo/event-checkin/internal/memstore"
	"github.com/iliyamo/event-checkin/internal/middleware"
	"github.com/iliyamo/event-checkin/internal/mood"
	"github.com/iliyamo/event-checkin/internal/occupancy"
	"github.com/iliyamo/event-checkin/internal/queue"
	"github.com/iliyamo/event-checkin/internal/realtime"
	"github.com/iliyamo/event-checkin/internal/registry"
	"github.com/iliyamo/event-checkin/internal/repository"
	"github.com/iliyamo/event-checkin/internal/router"
	"github.com/iliyamo/event-checkin/internal/scan"
)

// appStore is the method set shared by memstore.Store and repository.Store.
type appStore interface {
	registry.Store
	handler.ScopeStore
	scan.Ledger
	analytics.History
	queue.RegistrationStore
	mood.Store
}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found; using process environment")
	}
	cfg := config.Load()

	lg, err := logger.New(cfg.Env)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer lg.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, lg); err != nil {
		lg.Fatal("server stopped", "error", err)
	}
}

func run(ctx context.Context, cfg config.Config, lg *logger.Logger) error {
	checks := map[string]handler.Check{}

	var store appStore
	switch cfg.Store {
	case config.StoreMemory:
		lg.Warn("using in-memory store; data is lost on restart")
		store = memstore.New()
	default:
		db, err := database.Open(ctx, cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := database.Migrate(ctx, db); err != nil {
			return err
		}
		store = repository.NewStore(db)
		checks["mysql"] = func(ctx context.Context) error { return db.PingContext(ctx) }
	}

	rdb, err := config.NewRedisClient(ctx)
	if err != nil {
		lg.Warn("redis unavailable; cache, rate limit and cross-node fan-out disabled", "error", err)
		rdb = nil
	} else {
		defer rdb.Close()
		checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}

	ec := cfg.Engine
	occ := occupancy.New(counterStore(ec, rdb, lg), ec.WindowRetention, lg)
	engine := analytics.NewEngine(ec.PatternWindow, lg)
	reg := registry.New(store, lg)
	feed := mood.NewFeed(store, ec.WindowRetention, lg)
	hub := realtime.NewHub(lg)

	var bus realtime.Bus = realtime.NewLocalBus(hub)
	if rdb != nil {
		rb := realtime.NewRedisBus(rdb, "", lg)
		if err := rb.StartForwarder(ctx, hub.Broadcast); err != nil {
			lg.Warn("redis forwarder failed; using local fan-out", "error", err)
		} else {
			bus = rb
		}
	}

	proc := scan.NewProcessor(scan.Config{
		MaxClockSkew:  ec.MaxClockSkew,
		CASRetries:    ec.CASRetries,
		ActivityLimit: ec.ActivityLimit,
	}, store, store, reg, occ, lg, occ, engine, realtime.NewScanSink(bus, occ, store, lg))

	if cfg.AMQPURL != "" {
		consumer := queue.NewConsumer(cfg.AMQPURL, lg)
		consumer.Handle(queue.QueueRegistrations, queue.RegistrationHandler(store, engine))
		consumer.Handle(queue.QueueBadgeIssued, queue.BadgeIssuedHandler(reg))
		go func() {
			if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				lg.Error("queue consumer stopped", "error", err)
			}
		}()
		publisher := queue.NewPublisher(cfg.AMQPURL, 1024, lg)
		go publisher.Run(ctx)
		proc.AddSink(publisher)
	} else {
		lg.Warn("RABBITMQ_URL not set; registration and badge feeds disabled")
	}

	rebuilder := analytics.NewRebuilder(engine, store, lg, func(ctx context.Context, ds analytics.Dataset) error {
		return occ.Rebuild(ctx, ds.Scans)
	})
	if err := <-rebuilder.Start(ctx); err != nil {
		return err
	}
	if err := feed.Load(ctx); err != nil {
		return err
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(echomw.Recover(), echomw.RequestID(), middleware.RequestLogger(lg))
	router.Register(e, router.Handlers{
		Health: handler.NewHealthHandler(checks),
		Scan:   handler.NewScanHandler(proc, lg),
		Dashboard: handler.NewDashboardHandler(handler.DashboardDeps{
			Scopes:     store,
			Scanner:    proc,
			Occupancy:  occ,
			Attendance: engine,
			Moods:      feed,
			History:    store,
			Hub:        hub,
		}, lg),
		Scope: handler.NewScopeHandler(store, engine, cfg.BcryptCost, lg),
		Badge: handler.NewBadgeHandler(reg, store),
		Mood:  handler.NewMoodHandler(feed, store),
		Admin: handler.NewAdminHandler(rebuilder),
	}, router.Options{
		JWTSecret: cfg.JWTSecret,
		RateLimit: middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb, lg),
		Cache:     middleware.NewRedisCache(config.LoadCacheConfig(ec.DashboardRefresh), rdb),
	})

	addr := ":" + cfg.Port
	errCh := make(chan error, 1)
	go func() {
		lg.Info("listening", "addr", addr, "env", cfg.Env, "store", cfg.Store, "occupancy", ec.OccupancyBackend)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	lg.Info("shutting down")
	return e.Shutdown(shutdownCtx)
}

func counterStore(ec config.EngineConfig, rdb *redis.Client, lg *logger.Logger) occupancy.CounterStore {
	if ec.OccupancyBackend == config.BackendRedis {
		if rdb != nil {
			return occupancy.NewRedisCounters(rdb, "occ")
		}
		lg.Warn("OCCUPANCY_BACKEND=redis but redis is unavailable; counting in memory")
	}
	return occupancy.NewMemoryCounters()
}
