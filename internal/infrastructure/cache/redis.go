package cache

import (
	"context"
	"fmt"
	"time"

	"tokenledger/internal/config"

	"github.com/go-redis/redis/v8"
	log "github.com/sirupsen/logrus"
)

// InitRedis 连接 Redis；未启用时返回 nil，调用方退化为只依赖数据库约束
func InitRedis(cfg *config.RedisConfig) *redis.Client {
	if !cfg.Enabled {
		log.Info("Redis 未启用，跳过分布式锁")
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		log.WithError(err).Fatal("连接 Redis 失败")
	}

	log.Info("Redis 连接成功")
	return client
}
