package handler

import (
	"tokenledger/internal/config"
	"tokenledger/internal/intent"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"
)

// SetupRouter 配置路由
func SetupRouter(db *gorm.DB, rdb *redis.Client, cfg *config.Config, tracker *intent.Tracker) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	r.Use(RecoveryMiddleware())
	r.Use(LoggerMiddleware())
	r.Use(CORSMiddleware())

	h := NewHandler(db, rdb, cfg, tracker)

	api := r.Group("/api/v1")
	{
		balance := api.Group("/balance")
		{
			balance.GET("", h.GetBalance)
			balance.GET("/audit", h.AuditBalance)
			balance.GET("/entries", h.ListEntries)
		}

		api.GET("/transactions", h.ListTransactions)

		ads := api.Group("/ads")
		{
			ads.POST("/activate", h.ActivateAd)
		}

		api.GET("/packages", h.ListPackages)
		api.POST("/purchases/intent", h.CreateIntent)

		payments := api.Group("/payments")
		{
			payments.POST("/reconcile", h.ReconcileWebhook)
			payments.GET("/return", h.PaymentReturn)
		}
	}

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	return r
}
