package cmd

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/smoradi/webhook-notifier/internal/config"
	"github.com/smoradi/webhook-notifier/internal/db"
	"github.com/smoradi/webhook-notifier/internal/delivery"
	httpSrv "github.com/smoradi/webhook-notifier/internal/http"
	"github.com/smoradi/webhook-notifier/internal/logger"
	"github.com/smoradi/webhook-notifier/internal/monitor"
	"github.com/smoradi/webhook-notifier/internal/repository"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run HTTP API and delivery dispatcher",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		logger.Init(cfg.Log.Level)
		defer func() { _ = logger.Log.Sync() }()

		mysqlDB, err := db.NewMySQLConnection(cfg.MySQL.DSN, db.MySQLOpts{
			MaxOpenConns:    cfg.MySQL.MaxOpenConns,
			MaxIdleConns:    cfg.MySQL.MaxIdleConns,
			ConnMaxLifetime: cfg.MySQL.ConnMaxLifetime,
			ConnMaxIdleTime: cfg.MySQL.ConnMaxIdleTime,
			PingTimeout:     cfg.MySQL.PingTimeout,
		})
		if err != nil {
			return fmt.Errorf("mysql connect: %w", err)
		}
		defer mysqlDB.Close()

		var redisClient *redis.Client
		if cfg.Redis.Addr != "" {
			redisClient, err = db.NewRedisClient(db.RedisOpts{
				Addr:        cfg.Redis.Addr,
				Password:    cfg.Redis.Password,
				DB:          cfg.Redis.DB,
				DialTimeout: cfg.Redis.DialTimeout,
			})
			if err != nil {
				return fmt.Errorf("redis connect: %w", err)
			}
			defer func() { _ = redisClient.Close() }()
		}

		var chDB *sqlx.DB
		if cfg.ClickHouse.DSN != "" {
			chDB, err = db.NewClickHouseConnection(db.ClickHouseOpts{
				DSN:             cfg.ClickHouse.DSN,
				MaxOpenConns:    cfg.ClickHouse.MaxOpenConns,
				MaxIdleConns:    cfg.ClickHouse.MaxIdleConns,
				ConnMaxLifetime: cfg.ClickHouse.ConnMaxLifetime,
				ConnMaxIdleTime: cfg.ClickHouse.ConnMaxIdleTime,
				PingTimeout:     cfg.ClickHouse.PingTimeout,
			})
			if err != nil {
				return fmt.Errorf("clickhouse connect: %w", err)
			}
			defer func() { _ = chDB.Close() }()
		}

		endpointsRepo := repository.NewEndpointsRepository(mysqlDB)
		deliveriesRepo := repository.NewDeliveriesRepository(mysqlDB)
		markersRepo := repository.NewMarkersRepository(mysqlDB)

		var attemptsRepo repository.CHAttemptsRepository
		if chDB != nil {
			attemptsRepo = repository.NewCHAttemptsRepository(chDB)
		}

		queue := delivery.New(endpointsRepo, deliveriesRepo, attemptsRepo, redisClient, logger.Log, delivery.Options{
			ScanInterval:      cfg.Delivery.ScanInterval,
			ScanBatchSize:     cfg.Delivery.ScanBatchSize,
			QueueSize:         cfg.Delivery.QueueSize,
			MaxAttempts:       cfg.Delivery.MaxAttempts,
			DefaultTimeout:    cfg.Delivery.DefaultTimeout,
			ResponseBodyLimit: cfg.Delivery.ResponseBodyLimit,
			LeaseKey:          cfg.Delivery.LeaseKey,
			LeaseTTL:          cfg.Delivery.LeaseTTL,
		})
		mon := monitor.New(markersRepo, queue, logger.Log)

		server := httpSrv.NewServer(cfg, mysqlDB, chDB, queue, mon)

		queueCtx, stopQueue := context.WithCancel(context.Background())
		queueDone := make(chan struct{})
		go func() {
			defer close(queueDone)
			_ = queue.Run(queueCtx)
		}()

		errCh := make(chan error, 1)
		go func() {
			log.Printf("starting http on %s", cfg.HTTP.Addr)
			errCh <- server.Start(cfg.HTTP.Addr)
		}()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-sigCh:
			log.Printf("signal received: %s, shutting down...", sig)
		case err := <-errCh:
			if err != nil {
				log.Printf("http server exited: %v", err)
			}
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(ctx)

		// let the in-flight delivery attempt drain
		stopQueue()
		select {
		case <-queueDone:
		case <-ctx.Done():
		}

		return nil
	},
}
