package database

import (
	"fmt"
	"time"

	"tokenledger/internal/config"
	"tokenledger/internal/model"

	log "github.com/sirupsen/logrus"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Dialector 按 driver 选择数据库方言
func Dialector(cfg *config.DatabaseConfig) (gorm.Dialector, error) {
	switch cfg.Driver {
	case "", "mysql":
		dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
			cfg.User,
			cfg.Password,
			cfg.Host,
			cfg.Port,
			cfg.Database,
		)
		return mysql.Open(dsn), nil
	case "postgres":
		dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s TimeZone=UTC",
			cfg.Host,
			cfg.Port,
			cfg.User,
			cfg.Password,
			cfg.Database,
			cfg.SSLMode,
		)
		return postgres.Open(dsn), nil
	default:
		return nil, fmt.Errorf("不支持的数据库类型: %s", cfg.Driver)
	}
}

// Migrate 自动迁移表结构
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&model.UserTokens{},
		&model.TokenPackage{},
		&model.TokenTransaction{},
		&model.Ad{},
		&model.BalanceEntry{},
		&model.OutboxMessage{},
	)
}

// InitDB 初始化数据库连接
func InitDB(cfg *config.DatabaseConfig) *gorm.DB {
	dialector, err := Dialector(cfg)
	if err != nil {
		log.WithError(err).Fatal("数据库配置错误")
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		log.WithError(err).WithField("driver", cfg.Driver).Fatal("连接数据库失败")
	}

	sqlDB, err := db.DB()
	if err != nil {
		log.WithError(err).Fatal("获取底层 DB 失败")
	}

	// 连接池配置
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := Migrate(db); err != nil {
		log.WithError(err).Fatal("自动迁移表结构失败")
	}

	log.WithField("driver", cfg.Driver).Info("数据库连接成功")
	return db
}
