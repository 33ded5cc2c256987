package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"codeduel/internal/common/cache"
	"codeduel/internal/common/db"
	"codeduel/internal/common/mq"
	duelRepo "codeduel/internal/duel/repository"
	"codeduel/internal/recorder"
	"codeduel/pkg/utils/logger"

	"go.uber.org/zap"
)

const defaultConfigPath = "configs/duel_recorder.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	flag.Parse()

	appCfg, err := loadAppConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load app config failed: %v\n", err)
		return
	}

	if err := logger.Init(appCfg.Logger); err != nil {
		fmt.Fprintf(os.Stderr, "init logger failed: %v\n", err)
		return
	}
	defer func() {
		_ = logger.Sync()
	}()

	mysqlDB, err := db.NewMySQLWithConfig(&appCfg.Database)
	if err != nil {
		logger.Error(context.Background(), "init database failed", zap.Error(err))
		return
	}
	defer func() {
		_ = mysqlDB.Close()
	}()
	if appCfg.Migrate {
		ctx, cancel := context.WithTimeout(context.Background(), defaultMigrateTimeout)
		err := recorder.Migrate(ctx, mysqlDB)
		cancel()
		if err != nil {
			logger.Error(context.Background(), "migrate database failed", zap.Error(err))
			return
		}
	}

	var ratingCache recorder.RatingCache
	if appCfg.Redis.Addr != "" {
		redisCache, err := cache.NewRedisCacheWithConfig(&appCfg.Redis)
		if err != nil {
			logger.Error(context.Background(), "init redis failed", zap.Error(err))
			return
		}
		defer func() {
			_ = redisCache.Close()
		}()
		ratingCache = duelRepo.NewRatingRepository(redisCache)
	}

	mqClient, err := mq.NewKafkaQueue(appCfg.Kafka)
	if err != nil {
		logger.Error(context.Background(), "init kafka failed", zap.Error(err))
		return
	}
	defer func() {
		_ = mqClient.Close()
	}()

	rec, err := recorder.New(appCfg.Recorder, recorder.NewMySQLStore(db.NewManager(mysqlDB)), ratingCache)
	if err != nil {
		logger.Error(context.Background(), "init recorder failed", zap.Error(err))
		return
	}

	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rec.Subscribe(shutdownCtx, mqClient); err != nil {
		logger.Error(context.Background(), "subscribe record topics failed", zap.Error(err))
		return
	}
	if err := mqClient.Start(); err != nil {
		logger.Error(context.Background(), "start kafka consumer failed", zap.Error(err))
		return
	}
	logger.Info(context.Background(), "duel recorder started")

	<-shutdownCtx.Done()
	logger.Info(context.Background(), "shutdown signal received")
	if err := mqClient.Stop(); err != nil {
		logger.Error(context.Background(), "stop kafka consumer failed", zap.Error(err))
	}
}
