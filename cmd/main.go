package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/cristianortiz/bidengine/internal/auction/application"
	"github.com/cristianortiz/bidengine/internal/auction/domain"
	"github.com/cristianortiz/bidengine/internal/auction/infra/api"
	"github.com/cristianortiz/bidengine/internal/auction/infra/events"
	"github.com/cristianortiz/bidengine/internal/auction/infra/repository/memory"
	"github.com/cristianortiz/bidengine/internal/auction/infra/repository/postgres"
	auctionws "github.com/cristianortiz/bidengine/internal/auction/infra/websocket"
	"github.com/cristianortiz/bidengine/internal/shared/auth"
	"github.com/cristianortiz/bidengine/internal/shared/config"
	"github.com/cristianortiz/bidengine/internal/shared/db"
	"github.com/cristianortiz/bidengine/internal/shared/db/migrations"
	"github.com/cristianortiz/bidengine/internal/shared/httpserver"
	"github.com/cristianortiz/bidengine/internal/shared/logger"
	"github.com/cristianortiz/bidengine/internal/shared/websocket"
	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var log = logger.GetLogger()

func main() {
	defer log.Sync()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Invalid configuration", zap.Error(err))
	}
	if err := logger.SetLevel(cfg.LogLevel); err != nil {
		log.Warn("Unknown LOG_LEVEL, keeping default", zap.String("level", cfg.LogLevel))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("Starting bidengine server...", zap.String("storage", cfg.StorageDriver))
	if err := run(ctx, cfg); err != nil {
		log.Fatal("bidengine stopped with error", zap.Error(err))
	}
	log.Info("bidengine stopped")
}

func run(ctx context.Context, cfg config.Config) error {
	pool, txManager, store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	if pool != nil {
		defer pool.Close()
	}

	guard, closeGuard, err := newReplayGuard(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeGuard()

	relay, closeRelay, err := newOutboxRelay(cfg, txManager)
	if err != nil {
		return err
	}
	defer closeRelay()

	hub := websocket.NewHub(cfg.WSSendBuffer)
	engine := application.NewEngine(store, auctionws.NewHubBroadcaster(hub), application.Options{
		SoftCloseTriggerSec: cfg.SoftCloseTrigger,
		SoftCloseExtendSec:  cfg.SoftCloseExtend,
		ResumeMaxRows:       cfg.ResumeMaxRows,
	})
	issuer := auth.NewIssuer(cfg.JWTSecret, cfg.SessionTTL, cfg.WSTokenTTL, guard)

	g, gctx := errgroup.WithContext(ctx)

	// Arranca el servidor HTTP
	server := httpserver.NewServer(httpserver.Options{CORSOrigins: cfg.CORSOrigins})
	api.NewAuctionHandler(engine, issuer).RegisterRoutes(server.App())
	wsHandler := auctionws.NewAuctionWSHandler(engine, hub)
	wsHandler.RegisterRoutes(gctx, server.App(), issuer)

	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		wsHandler.ListenForMessages(gctx)
		return nil
	})
	g.Go(func() error {
		return application.NewSweeper(engine, cfg.SweepInterval).Run(gctx)
	})
	if relay != nil {
		g.Go(func() error { return relay.Run(gctx) })
	}
	g.Go(func() error {
		if err := server.Start(cfg.HTTPAddr); err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// openStore returns the auction store selected by STORAGE_DRIVER. The pool and
// the transaction manager are nil for the memory driver.
func openStore(ctx context.Context, cfg config.Config) (*pgxpool.Pool, *db.TxManager, domain.Store, error) {
	if cfg.StorageDriver == "memory" {
		log.Warn("Using in-memory storage, state is lost on restart")
		return nil, nil, memory.NewStore(), nil
	}

	dsn := cfg.PostgresDSN()
	// Ejecuta migraciones de base de datos
	log.Info("Running database migrations...")
	if err := migrations.RunMigrations(dsn); err != nil {
		return nil, nil, nil, fmt.Errorf("database migration failed: %w", err)
	}
	log.Info("Database migrations completed successfully.")

	pool, err := db.NewPostgresPool(ctx, dsn)
	if err != nil {
		return nil, nil, nil, err
	}
	txManager := db.NewTxManager(pool, cfg.LockTimeout)
	return pool, txManager, postgres.NewStore(pool, txManager), nil
}

// newReplayGuard shares redeemed ws-tokens through Redis when REDIS_URL is set.
func newReplayGuard(ctx context.Context, cfg config.Config) (auth.ReplayGuard, func(), error) {
	if cfg.RedisURL == "" {
		log.Warn("REDIS_URL not set, ws-token replay guard is local to this instance")
		return auth.NewMemoryReplayGuard(), func() {}, nil
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, nil, fmt.Errorf("connect to redis: %w", err)
	}
	log.Info("Redis connected")
	return auth.NewRedisReplayGuard(rdb), func() { _ = rdb.Close() }, nil
}

// newOutboxRelay connects to RabbitMQ when RABBITMQ_URL is set. The relay reads
// the Postgres outbox, so it is nil for the memory driver.
func newOutboxRelay(cfg config.Config, txManager *db.TxManager) (*events.OutboxRelay, func(), error) {
	if cfg.RabbitMQURL == "" {
		return nil, func() {}, nil
	}
	if txManager == nil {
		log.Warn("RABBITMQ_URL ignored, the outbox relay needs the postgres driver")
		return nil, func() {}, nil
	}

	conn, err := amqp.Dial(cfg.RabbitMQURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}
	publisher, err := events.NewRabbitMQPublisher(conn, cfg.RabbitExchange)
	if err != nil {
		_ = conn.Close()
		return nil, nil, err
	}
	log.Info("RabbitMQ connected", zap.String("exchange", cfg.RabbitExchange))

	relay := events.NewOutboxRelay(
		postgres.NewOutboxRepository(),
		publisher,
		txManager,
		cfg.RabbitExchange,
		cfg.OutboxBatchSize,
		cfg.OutboxInterval,
	)
	return relay, func() {
		_ = publisher.Close()
		_ = conn.Close()
	}, nil
}
