package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"tokenledger/internal/config"
	"tokenledger/internal/gateway"
	"tokenledger/internal/infrastructure/lock"
	"tokenledger/internal/metrics"
	"tokenledger/internal/model"
	"tokenledger/internal/repository"
	"tokenledger/pkg/idgen"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// errLostRace 并发回调抢先写入或结算了同一个网关交易号，回滚后重新读取
var errLostRace = errors.New("网关交易号已被并发请求处理")

const maxReconcileAttempts = 3

type ReconcileService struct {
	db          *gorm.DB
	redisClient *redis.Client
	cfg         *config.Config
	packageRepo *repository.PackageRepository
	transRepo   *repository.TransactionRepository
	balanceRepo *repository.BalanceRepository
	entryRepo   *repository.EntryRepository
	outboxRepo  *repository.OutboxRepository
}

// NewReconcileService redisClient 可以为 nil
func NewReconcileService(db *gorm.DB, redisClient *redis.Client, cfg *config.Config) *ReconcileService {
	return &ReconcileService{
		db:          db,
		redisClient: redisClient,
		cfg:         cfg,
		packageRepo: repository.NewPackageRepository(db),
		transRepo:   repository.NewTransactionRepository(db),
		balanceRepo: repository.NewBalanceRepository(db),
		entryRepo:   repository.NewEntryRepository(db),
		outboxRepo:  repository.NewOutboxRepository(db),
	}
}

type ReconcileRequest struct {
	UserID               string
	PackageID            int64
	GatewayTransactionID string
	GatewayStatus        gateway.Status
	RawStatus            string
	Payload              string
}

type ReconcileResult struct {
	TransactionID        int64  `json:"transaction_id"`
	GatewayTransactionID string `json:"gateway_transaction_id"`
	Status               string `json:"status"`
	GatewayStatus        string `json:"gateway_status"` // 落库时网关返回的原始状态
	TokensAdded          int64  `json:"tokens_added"`
	NewBalance           int64  `json:"new_balance"`
	Replayed             bool   `json:"replayed"`
}

func recordedResult(trans *model.TokenTransaction) *ReconcileResult {
	var added int64
	if trans.Status == model.TransactionStatusCompleted {
		added = trans.TokensPurchased
	}
	return &ReconcileResult{
		TransactionID:        trans.ID,
		GatewayTransactionID: trans.GatewayTransactionID,
		Status:               trans.Status,
		GatewayStatus:        trans.GatewayStatus,
		TokensAdded:          added,
		NewBalance:           trans.BalanceAfter,
		Replayed:             true,
	}
}

// transactionStatusFor 新交易的落库状态；unknown 按失败记录，不入账
func transactionStatusFor(status gateway.Status) string {
	switch status {
	case gateway.StatusSuccess:
		return model.TransactionStatusCompleted
	case gateway.StatusPending:
		return model.TransactionStatusPending
	default:
		return model.TransactionStatusFailed
	}
}

// Reconcile 处理一次网关回调，按 gateway_transaction_id 幂等入账
//
//   - 已有 completed / failed 记录：原样返回记录的结果，不再入账
//   - 已有 pending 记录：success 结算为 completed 并入账，failed 结算为失败，其余保持 pending
//   - 没有记录：插入记录（唯一索引冲突时不插入），success 时同一事务内入账
//
// 并发的重复回调只有一个能插入或结算成功，其余回滚后重新读取并返回同一结果。
func (s *ReconcileService) Reconcile(ctx context.Context, req *ReconcileRequest) (*ReconcileResult, error) {
	start := time.Now()
	defer func() {
		metrics.OperationDuration.WithLabelValues("reconcile_purchase").Observe(time.Since(start).Seconds())
	}()

	if req.UserID == "" || req.GatewayTransactionID == "" {
		return nil, fmt.Errorf("%w: user_id 和 gateway_transaction_id 必填", ErrInvalidArgument)
	}
	if req.GatewayStatus == "" {
		req.GatewayStatus = gateway.StatusUnknown
	}

	logger := log.WithFields(log.Fields{
		"user_id":                req.UserID,
		"package_id":             req.PackageID,
		"gateway_transaction_id": req.GatewayTransactionID,
		"gateway_status":         req.GatewayStatus,
	})

	if s.redisClient != nil {
		reconcileLock := lock.NewReconcileLock(s.redisClient, req.GatewayTransactionID, uuid.NewString(), s.cfg.Ledger.LockTTL)
		if err := reconcileLock.Lock(ctx, 50*time.Millisecond, s.cfg.Ledger.LockWait); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			logger.WithError(err).Warn("获取对账锁失败，依靠唯一索引继续执行")
		} else {
			defer reconcileLock.Unlock(context.Background())
		}
	}

	var (
		result *ReconcileResult
		err    error
	)
	for attempt := 1; attempt <= maxReconcileAttempts; attempt++ {
		result, err = s.reconcileOnce(ctx, req)
		if !errors.Is(err, errLostRace) {
			break
		}
		logger.WithField("attempt", attempt).Debug("并发回调冲突，重新读取")
	}
	if errors.Is(err, errLostRace) {
		err = fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}

	if err != nil {
		err = boundaryErr(err)
		logger.WithError(err).Warn("购买对账失败")
		return nil, err
	}

	metrics.Reconciliations.WithLabelValues(result.Status, strconv.FormatBool(result.Replayed)).Inc()

	fields := log.Fields{
		"transaction_id": result.TransactionID,
		"status":         result.Status,
		"tokens_added":   result.TokensAdded,
		"new_balance":    result.NewBalance,
	}
	if result.Replayed {
		logger.WithFields(fields).Info("重复回调，返回已记录的结果")
	} else {
		if result.TokensAdded > 0 {
			metrics.TokensMoved.WithLabelValues("credit").Add(float64(result.TokensAdded))
		}
		logger.WithFields(fields).Info("购买对账完成")
	}

	return result, nil
}

func (s *ReconcileService) reconcileOnce(ctx context.Context, req *ReconcileRequest) (*ReconcileResult, error) {
	var result *ReconcileResult

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := s.transRepo.GetByGatewayID(ctx, tx, req.GatewayTransactionID)
		if err != nil {
			return err
		}

		if existing != nil {
			if existing.UserID != req.UserID {
				return ErrTransactionOwnerMismatch
			}
			result, err = s.settleExisting(ctx, tx, existing, req)
			return err
		}

		result, err = s.recordNew(ctx, tx, req)
		return err
	})

	return result, err
}

// settleExisting 已有记录：终态直接重放，pending 视新状态结算
func (s *ReconcileService) settleExisting(ctx context.Context, tx *gorm.DB, trans *model.TokenTransaction, req *ReconcileRequest) (*ReconcileResult, error) {
	if model.IsTerminal(trans.Status) {
		return recordedResult(trans), nil
	}

	switch req.GatewayStatus {
	case gateway.StatusSuccess:
		pkg, err := s.packageRepo.GetByID(ctx, tx, trans.PackageID)
		if err != nil {
			return nil, err
		}
		settled, err := s.transRepo.Settle(ctx, tx, trans.ID, model.TransactionStatusPending, map[string]interface{}{
			"status":          model.TransactionStatusCompleted,
			"amount_paid":     pkg.Price,
			"gateway_status":  req.RawStatus,
			"gateway_payload": req.Payload,
		})
		if err != nil {
			return nil, err
		}
		if !settled {
			return nil, errLostRace
		}
		trans.Status = model.TransactionStatusCompleted
		trans.GatewayStatus = req.RawStatus
		return s.credit(ctx, tx, trans)

	case gateway.StatusFailed:
		settled, err := s.transRepo.Settle(ctx, tx, trans.ID, model.TransactionStatusPending, map[string]interface{}{
			"status":          model.TransactionStatusFailed,
			"gateway_status":  req.RawStatus,
			"gateway_payload": req.Payload,
		})
		if err != nil {
			return nil, err
		}
		if !settled {
			return nil, errLostRace
		}
		trans.Status = model.TransactionStatusFailed
		trans.GatewayStatus = req.RawStatus
		return s.finishWithoutCredit(ctx, tx, trans)

	default:
		// pending 或无法识别的状态不改变 pending 记录，等待下一次回调
		return recordedResult(trans), nil
	}
}

func (s *ReconcileService) recordNew(ctx context.Context, tx *gorm.DB, req *ReconcileRequest) (*ReconcileResult, error) {
	if req.PackageID <= 0 {
		return nil, fmt.Errorf("%w: package_id 必填", ErrInvalidArgument)
	}

	pkg, err := s.packageRepo.GetByID(ctx, tx, req.PackageID)
	if err != nil {
		return nil, err
	}

	status := transactionStatusFor(req.GatewayStatus)
	amountPaid := decimal.Zero
	if status == model.TransactionStatusCompleted {
		amountPaid = pkg.Price
	}

	trans := &model.TokenTransaction{
		UserID:               req.UserID,
		PackageID:            pkg.ID,
		GatewayTransactionID: req.GatewayTransactionID,
		Status:               status,
		TokensPurchased:      pkg.TokensAmount,
		AmountPaid:           amountPaid,
		GatewayStatus:        req.RawStatus,
		GatewayPayload:       req.Payload,
	}

	inserted, err := s.transRepo.Insert(ctx, tx, trans)
	if err != nil {
		return nil, err
	}
	if !inserted {
		return nil, errLostRace
	}

	if status == model.TransactionStatusCompleted {
		return s.credit(ctx, tx, trans)
	}
	return s.finishWithoutCredit(ctx, tx, trans)
}

// credit 入账并记录流水、结果余额和事件
func (s *ReconcileService) credit(ctx context.Context, tx *gorm.DB, trans *model.TokenTransaction) (*ReconcileResult, error) {
	if err := s.balanceRepo.EnsureAccount(ctx, tx, trans.UserID); err != nil {
		return nil, err
	}
	if err := s.balanceRepo.Credit(ctx, tx, trans.UserID, trans.TokensPurchased); err != nil {
		return nil, err
	}

	balanceAfter, err := s.balanceRepo.BalanceOf(ctx, tx, trans.UserID)
	if err != nil {
		return nil, err
	}

	entry := &model.BalanceEntry{
		EntryNo:       idgen.GenerateEntryNo(),
		UserID:        trans.UserID,
		Amount:        trans.TokensPurchased,
		Kind:          model.EntryKindPurchaseCredit,
		Reference:     trans.GatewayTransactionID,
		BalanceBefore: balanceAfter - trans.TokensPurchased,
		BalanceAfter:  balanceAfter,
	}
	if err := s.entryRepo.Create(ctx, tx, entry); err != nil {
		return nil, err
	}

	return s.finish(ctx, tx, trans, balanceAfter, trans.TokensPurchased)
}

func (s *ReconcileService) finishWithoutCredit(ctx context.Context, tx *gorm.DB, trans *model.TokenTransaction) (*ReconcileResult, error) {
	balance, err := s.balanceRepo.BalanceOf(ctx, tx, trans.UserID)
	if err != nil {
		return nil, err
	}
	return s.finish(ctx, tx, trans, balance, 0)
}

func (s *ReconcileService) finish(ctx context.Context, tx *gorm.DB, trans *model.TokenTransaction, balance, tokensAdded int64) (*ReconcileResult, error) {
	if err := s.transRepo.SetBalanceAfter(ctx, tx, trans.ID, balance); err != nil {
		return nil, err
	}

	if err := writeEvent(ctx, tx, s.outboxRepo, s.cfg.Kafka.Topic.LedgerEvents, model.EventPurchaseReconciled, trans.UserID, map[string]interface{}{
		"transaction_id":         trans.ID,
		"gateway_transaction_id": trans.GatewayTransactionID,
		"user_id":                trans.UserID,
		"package_id":             trans.PackageID,
		"status":                 trans.Status,
		"tokens_added":           tokensAdded,
		"new_balance":            balance,
	}); err != nil {
		return nil, err
	}

	return &ReconcileResult{
		TransactionID:        trans.ID,
		GatewayTransactionID: trans.GatewayTransactionID,
		Status:               trans.Status,
		GatewayStatus:        trans.GatewayStatus,
		TokensAdded:          tokensAdded,
		NewBalance:           balance,
	}, nil
}
