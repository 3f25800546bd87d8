package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"auctionwallet/internal/config"
	"auctionwallet/internal/handler"
	"auctionwallet/internal/infrastructure/cache"
	"auctionwallet/internal/infrastructure/database"
	"auctionwallet/internal/infrastructure/lock"
	"auctionwallet/internal/infrastructure/mq"
	"auctionwallet/internal/job"
	"auctionwallet/internal/service"
	"auctionwallet/pkg/idgen"
	"auctionwallet/pkg/logger"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

func main() {
	configPath := os.Getenv("WALLET_CONFIG")
	if configPath == "" {
		configPath = "config/config.yaml"
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Fatal("server exited", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	if err := idgen.Init(1); err != nil {
		return err
	}

	db, err := database.InitDatabase(&cfg.Database, &cfg.MySQL)
	if err != nil {
		return err
	}

	var locker lock.UserLocker
	if cfg.Redis.Enabled {
		var redisClient *redis.Client
		redisClient, err = cache.InitRedis(&cfg.Redis)
		if err != nil {
			return err
		}
		defer redisClient.Close()

		locker = lock.NewRedisUserLocker(
			redisClient,
			time.Duration(cfg.Business.LockTTLSeconds)*time.Second,
			time.Duration(cfg.Business.LockWaitMillis)*time.Millisecond,
			cfg.Business.LockMaxRetries,
			log,
		)
	} else {
		log.Warn("redis disabled, wallet locks are process local; run a single instance")
		locker = lock.NewLocalUserLocker()
	}

	producer, err := mq.InitKafka(&cfg.Kafka)
	if err != nil {
		return err
	}
	defer producer.Close()

	walletService := service.NewWalletService(db, locker, cfg, log)
	settlementService := service.NewSettlementService(db, walletService, cfg, log)
	refundService := service.NewRefundService(walletService, cfg, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	outboxSender := job.NewOutboxSender(db, producer, cfg, log)
	go outboxSender.Start(ctx)

	reconcileJob := job.NewSettlementReconcileJob(settlementService, cfg, log)
	go reconcileJob.Start(ctx)

	h := handler.NewHandler(walletService, settlementService, refundService, outboxSender, log)
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           handler.SetupRouter(h, log),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("http server listening", zap.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		log.Info("shutting down", zap.String("signal", sig.String()))
	case err := <-serverErr:
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("http server shutdown", zap.Error(err))
	}

	// stop background jobs after in-flight requests have written their outbox rows
	cancel()

	log.Info("server stopped")
	return nil
}
