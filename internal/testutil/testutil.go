// Package testutil 测试用的数据库和配置
package testutil

import (
	"path/filepath"
	"testing"
	"time"

	"tokenledger/internal/config"
	"tokenledger/internal/infrastructure/database"
	"tokenledger/internal/model"

	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// OpenDB 每个测试一个独立的 sqlite 文件库
//
// 只开一个连接：sqlite 的写事务不能并发，测试中的并发请求在这里排队执行
func OpenDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), "ledger.db") + "?_pragma=busy_timeout(5000)"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, database.Migrate(db))
	return db
}

// Config 测试配置：不校验定价，锁等待很短
func Config() *config.Config {
	return &config.Config{
		Kafka: config.KafkaConfig{
			Topic: config.KafkaTopicConfig{LedgerEvents: "ledger-events"},
		},
		Ledger: config.LedgerConfig{
			Durations: []config.DurationPrice{
				{Days: 7, Tokens: 5},
				{Days: 14, Tokens: 8},
				{Days: 30, Tokens: 15},
			},
			MaxRetryCount: 3,
			LockTTL:       5 * time.Second,
			LockWait:      200 * time.Millisecond,
		},
		Intent: config.IntentConfig{Secret: "test-secret", TTL: time.Hour},
		Jobs: config.JobsConfig{
			OutboxBatchSize:   100,
			AdExpiryBatchSize: 100,
		},
	}
}

// SeedBalance 直接写入余额，只用于准备测试数据
func SeedBalance(t *testing.T, db *gorm.DB, userID string, balance int64) {
	t.Helper()
	require.NoError(t, db.Create(&model.UserTokens{UserID: userID, Balance: balance}).Error)
}

func SeedPackage(t *testing.T, db *gorm.DB, tokens int64, price string) *model.TokenPackage {
	t.Helper()
	pkg := &model.TokenPackage{
		Name:              "套餐",
		TokensAmount:      tokens,
		Price:             decimal.RequireFromString(price),
		Currency:          "IDR",
		IsActive:          true,
		PaymentGatewayURL: "https://pay.example.com/checkout",
	}
	require.NoError(t, db.Create(pkg).Error)
	return pkg
}

func SeedAd(t *testing.T, db *gorm.DB, userID string) *model.Ad {
	t.Helper()
	ad := &model.Ad{
		UserID: userID,
		Title:  "二手自行车",
		Status: model.AdStatusPendingPayment,
	}
	require.NoError(t, db.Create(ad).Error)
	return ad
}

func Balance(t *testing.T, db *gorm.DB, userID string) int64 {
	t.Helper()
	var account model.UserTokens
	err := db.Where("user_id = ?", userID).First(&account).Error
	if err == gorm.ErrRecordNotFound {
		return 0
	}
	require.NoError(t, err)
	return account.Balance
}
