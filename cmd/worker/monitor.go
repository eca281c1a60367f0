package worker

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/smoradi/webhook-notifier/internal/config"
	"github.com/smoradi/webhook-notifier/internal/db"
	"github.com/smoradi/webhook-notifier/internal/delivery"
	"github.com/smoradi/webhook-notifier/internal/kafka"
	"github.com/smoradi/webhook-notifier/internal/logger"
	"github.com/smoradi/webhook-notifier/internal/metrics"
	"github.com/smoradi/webhook-notifier/internal/monitor"
	"github.com/smoradi/webhook-notifier/internal/repository"
	internalWorker "github.com/smoradi/webhook-notifier/internal/worker"
	"github.com/spf13/cobra"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Consume metered-usage events from Kafka and raise threshold webhooks",
	RunE:  runMonitor,
}

func runMonitor(cmd *cobra.Command, args []string) error {
	// 1) load config
	cfgPath, _ := cmd.Root().PersistentFlags().GetString("config")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger.Init(cfg.Log.Level)
	defer func() { _ = logger.Log.Sync() }()

	metrics.MustRegister(prometheus.DefaultRegisterer)

	// 2) DB connection (MySQL)
	dbx, err := db.NewMySQLConnection(cfg.MySQL.DSN, db.MySQLOpts{
		MaxOpenConns:    cfg.MySQL.MaxOpenConns,
		MaxIdleConns:    cfg.MySQL.MaxIdleConns,
		ConnMaxLifetime: cfg.MySQL.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.MySQL.ConnMaxIdleTime,
		PingTimeout:     cfg.MySQL.PingTimeout,
	})
	if err != nil {
		return fmt.Errorf("mysql connect: %w", err)
	}
	defer dbx.Close()

	// 3) Redis for the scanner lease; without it a standalone worker could
	// race the serve process over due deliveries
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

	// 4) repositories + queue + monitor
	endpointsRepo := repository.NewEndpointsRepository(dbx)
	deliveriesRepo := repository.NewDeliveriesRepository(dbx)
	markersRepo := repository.NewMarkersRepository(dbx)

	queue := delivery.New(endpointsRepo, deliveriesRepo, nil, redisClient, logger.Log, delivery.Options{
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

	// 5) kafka consumer
	groupID := cfg.Kafka.GroupID
	if groupID == "" {
		groupID = "webhook-notifier"
	}
	topic := cfg.Kafka.Topic
	if topic == "" {
		topic = "usage.metered"
	}

	consumer := kafka.NewConsumer(kafka.Config{
		Brokers:        cfg.Kafka.Brokers,
		Topic:          topic,
		GroupID:        groupID,
		MinBytes:       cfg.Kafka.MinBytes,
		MaxBytes:       cfg.Kafka.MaxBytes,
		CommitInterval: time.Duration(cfg.Kafka.CommitInterval) * time.Millisecond,
	})
	defer consumer.Close()

	w := internalWorker.NewUsageConsumer(consumer, mon, logger.Log)

	// 6) graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	queueDone := make(chan struct{})
	go func() {
		defer close(queueDone)
		_ = queue.Run(ctx)
	}()

	log.Printf(">> monitor worker started topic=%s group=%s", topic, groupID)

	err = w.Run(ctx)
	<-queueDone
	return err
}
