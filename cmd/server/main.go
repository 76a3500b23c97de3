package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tokenledger/internal/config"
	"tokenledger/internal/handler"
	"tokenledger/internal/infrastructure/cache"
	"tokenledger/internal/infrastructure/database"
	"tokenledger/internal/infrastructure/mq"
	"tokenledger/internal/intent"
	"tokenledger/internal/job"
	"tokenledger/pkg/idgen"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

func setupLogger(cfg *config.LogConfig) {
	if cfg.Format == "json" {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
	level, err := log.ParseLevel(cfg.Level)
	if err != nil {
		level = log.InfoLevel
	}
	log.SetLevel(level)
}

// intentSecret 未配置时使用进程内随机密钥，重启后已签发的意图全部失效
func intentSecret(cfg *config.IntentConfig) string {
	if cfg.Secret != "" {
		return cfg.Secret
	}
	log.Warn("未配置 intent.secret，使用随机密钥")
	return uuid.NewString()
}

func main() {
	configPath := flag.String("config", "config/config.yaml", "配置文件路径")
	workerID := flag.Int64("worker-id", 1, "雪花算法机器 ID")
	flag.Parse()

	cfg := config.LoadConfig(*configPath)
	setupLogger(&cfg.Log)

	idgen.Init(*workerID)

	db := database.InitDB(&cfg.Database)

	// 未启用时为 nil
	redisClient := cache.InitRedis(&cfg.Redis)

	var publisher mq.Publisher = mq.LogPublisher{}
	if cfg.Kafka.Enabled {
		publisher = mq.InitKafka(&cfg.Kafka)
	}
	defer publisher.Close()

	tracker := intent.NewTracker(intentSecret(&cfg.Intent), cfg.Intent.TTL)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	outboxSender := job.NewOutboxSender(db, publisher, cfg)
	go outboxSender.Start(ctx)

	scheduler := job.NewScheduler(job.NewAdExpiryJob(db, cfg), cfg.Jobs.AdExpirySpec)
	if err := scheduler.Start(ctx); err != nil {
		log.WithError(err).Fatal("定时任务启动失败")
	}

	router := handler.SetupRouter(db, redisClient, cfg, tracker)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.WithField("port", cfg.Server.Port).Info("服务启动")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("服务启动失败")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("正在关闭服务...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("服务关闭异常")
	}

	cancel()
	scheduler.Stop()

	if redisClient != nil {
		redisClient.Close()
	}

	log.Info("服务已关闭")
}
