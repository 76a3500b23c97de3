package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tokenledger/internal/config"
	"tokenledger/internal/infrastructure/lock"
	"tokenledger/internal/metrics"
	"tokenledger/internal/model"
	"tokenledger/internal/repository"
	"tokenledger/pkg/idgen"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

type ActivationService struct {
	db          *gorm.DB
	redisClient *redis.Client
	cfg         *config.Config
	adRepo      *repository.AdRepository
	balanceRepo *repository.BalanceRepository
	entryRepo   *repository.EntryRepository
	outboxRepo  *repository.OutboxRepository
}

// NewActivationService redisClient 可以为 nil
func NewActivationService(db *gorm.DB, redisClient *redis.Client, cfg *config.Config) *ActivationService {
	return &ActivationService{
		db:          db,
		redisClient: redisClient,
		cfg:         cfg,
		adRepo:      repository.NewAdRepository(db),
		balanceRepo: repository.NewBalanceRepository(db),
		entryRepo:   repository.NewEntryRepository(db),
		outboxRepo:  repository.NewOutboxRepository(db),
	}
}

type ActivateRequest struct {
	AdID         int64  `json:"ad_id"`
	UserID       string `json:"user_id"`
	TokenCost    int64  `json:"token_cost"`
	DurationDays int    `json:"duration_days"`
}

type ActivateResult struct {
	AdID       int64     `json:"ad_id"`
	Status     string    `json:"status"`
	ExpiresAt  time.Time `json:"expires_at"`
	NewBalance int64     `json:"new_balance"`
}

func (s *ActivationService) validate(req *ActivateRequest) error {
	if req.AdID <= 0 || req.UserID == "" {
		return fmt.Errorf("%w: ad_id 和 user_id 必填", ErrInvalidArgument)
	}
	if req.TokenCost <= 0 || req.DurationDays <= 0 {
		return fmt.Errorf("%w: token_cost 和 duration_days 必须大于 0", ErrInvalidArgument)
	}
	if s.cfg.Ledger.EnforcePricing {
		price, ok := s.cfg.Ledger.PriceFor(req.DurationDays)
		if !ok {
			return fmt.Errorf("%w: 不支持的时长 %d 天", ErrInvalidArgument, req.DurationDays)
		}
		if price != req.TokenCost {
			return fmt.Errorf("%w: %d 天的价格为 %d 代币", ErrInvalidArgument, req.DurationDays, price)
		}
	}
	return nil
}

// Activate 扣除代币并激活广告
//
// 读广告、条件扣款、改广告状态、写流水和事件在同一个数据库事务里完成：
//   - 余额不足：广告改为 payment_failed，余额不动，返回 ErrInsufficientBalance
//   - 余额充足：扣款，广告改为 active，expires_at = now + duration_days
//
// 扣款是 balance >= cost 的条件 UPDATE，同一用户的并发激活由行锁串行化，
// 不会出现两个请求都读到扣款前余额的情况。
func (s *ActivationService) Activate(ctx context.Context, req *ActivateRequest) (*ActivateResult, error) {
	start := time.Now()
	defer func() {
		metrics.OperationDuration.WithLabelValues("activate_ad").Observe(time.Since(start).Seconds())
	}()

	if err := s.validate(req); err != nil {
		metrics.AdActivations.WithLabelValues("invalid").Inc()
		return nil, err
	}

	logger := log.WithFields(log.Fields{
		"ad_id":      req.AdID,
		"user_id":    req.UserID,
		"token_cost": req.TokenCost,
	})

	if s.redisClient != nil {
		adLock := lock.NewActivationLock(s.redisClient, req.AdID, uuid.NewString(), s.cfg.Ledger.LockTTL)
		if err := adLock.Lock(ctx, 50*time.Millisecond, s.cfg.Ledger.LockWait); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			// 锁只是优化，拿不到锁时依靠数据库条件更新保证正确
			logger.WithError(err).Warn("获取广告激活锁失败，继续执行")
		} else {
			defer adLock.Unlock(context.Background())
		}
	}

	var result *ActivateResult
	insufficient := false

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ad, err := s.adRepo.GetByID(ctx, tx, req.AdID)
		if err != nil {
			return err
		}
		if ad.UserID != req.UserID {
			return ErrAdNotFound
		}
		if ad.Status != model.AdStatusPendingPayment {
			return ErrAdNotPending
		}

		if err := s.balanceRepo.EnsureAccount(ctx, tx, req.UserID); err != nil {
			return err
		}

		debited, err := s.balanceRepo.Debit(ctx, tx, req.UserID, req.TokenCost)
		if err != nil {
			return err
		}

		if !debited {
			err := s.adRepo.UpdateStatus(ctx, tx, ad.ID, model.AdStatusPendingPayment, model.AdStatusPaymentFailed, nil)
			if err != nil {
				if errors.Is(err, repository.ErrAdStatusInvalid) {
					return ErrAdNotPending
				}
				return err
			}
			balance, err := s.balanceRepo.BalanceOf(ctx, tx, req.UserID)
			if err != nil {
				return err
			}
			insufficient = true
			result = &ActivateResult{
				AdID:       ad.ID,
				Status:     model.AdStatusPaymentFailed,
				NewBalance: balance,
			}
			return nil
		}

		now := time.Now().UTC()
		expiresAt := now.Add(time.Duration(req.DurationDays) * 24 * time.Hour)

		err = s.adRepo.UpdateStatus(ctx, tx, ad.ID, model.AdStatusPendingPayment, model.AdStatusActive, map[string]interface{}{
			"expires_at":    expiresAt,
			"activated_at":  now,
			"token_cost":    req.TokenCost,
			"duration_days": req.DurationDays,
		})
		if err != nil {
			if errors.Is(err, repository.ErrAdStatusInvalid) {
				return ErrAdNotPending
			}
			return err
		}

		balanceAfter, err := s.balanceRepo.BalanceOf(ctx, tx, req.UserID)
		if err != nil {
			return err
		}

		entry := &model.BalanceEntry{
			EntryNo:       idgen.GenerateEntryNo(),
			UserID:        req.UserID,
			Amount:        -req.TokenCost,
			Kind:          model.EntryKindAdDebit,
			Reference:     fmt.Sprintf("ad:%d", ad.ID),
			BalanceBefore: balanceAfter + req.TokenCost,
			BalanceAfter:  balanceAfter,
		}
		if err := s.entryRepo.Create(ctx, tx, entry); err != nil {
			return err
		}

		if err := writeEvent(ctx, tx, s.outboxRepo, s.cfg.Kafka.Topic.LedgerEvents, model.EventAdActivated, req.UserID, map[string]interface{}{
			"ad_id":         ad.ID,
			"user_id":       req.UserID,
			"token_cost":    req.TokenCost,
			"duration_days": req.DurationDays,
			"expires_at":    expiresAt.Format(time.RFC3339),
			"new_balance":   balanceAfter,
		}); err != nil {
			return err
		}

		result = &ActivateResult{
			AdID:       ad.ID,
			Status:     model.AdStatusActive,
			ExpiresAt:  expiresAt,
			NewBalance: balanceAfter,
		}
		return nil
	})

	if err != nil {
		err = boundaryErr(err)
		metrics.AdActivations.WithLabelValues(outcomeLabel(err)).Inc()
		logger.WithError(err).Warn("广告激活失败")
		return nil, err
	}

	if insufficient {
		metrics.AdActivations.WithLabelValues("insufficient_balance").Inc()
		logger.WithField("balance", result.NewBalance).Info("余额不足，广告标记为 payment_failed")
		return nil, ErrInsufficientBalance
	}

	metrics.AdActivations.WithLabelValues("activated").Inc()
	metrics.TokensMoved.WithLabelValues("debit").Add(float64(req.TokenCost))
	logger.WithFields(log.Fields{
		"new_balance": result.NewBalance,
		"expires_at":  result.ExpiresAt,
	}).Info("广告激活成功")

	return result, nil
}

func outcomeLabel(err error) string {
	switch {
	case errors.Is(err, ErrAdNotFound):
		return "ad_not_found"
	case errors.Is(err, ErrAdNotPending):
		return "ad_not_pending"
	case errors.Is(err, ErrStorageUnavailable):
		return "storage_unavailable"
	default:
		return "error"
	}
}
