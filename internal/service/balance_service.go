package service

import (
	"context"

	"tokenledger/internal/model"
	"tokenledger/internal/repository"

	"gorm.io/gorm"
)

// BalanceService 余额只读视图；余额的修改只发生在广告激活和购买对账两个原子操作里
type BalanceService struct {
	balanceRepo *repository.BalanceRepository
	entryRepo   *repository.EntryRepository
	transRepo   *repository.TransactionRepository
}

func NewBalanceService(db *gorm.DB) *BalanceService {
	return &BalanceService{
		balanceRepo: repository.NewBalanceRepository(db),
		entryRepo:   repository.NewEntryRepository(db),
		transRepo:   repository.NewTransactionRepository(db),
	}
}

func (s *BalanceService) GetBalance(ctx context.Context, userID string) (int64, error) {
	if userID == "" {
		return 0, ErrInvalidArgument
	}
	return s.balanceRepo.GetBalance(ctx, userID)
}

// AuditResult 余额与流水合计的比对结果
type AuditResult struct {
	UserID     string `json:"user_id"`
	Balance    int64  `json:"balance"`
	JournalSum int64  `json:"journal_sum"`
	Consistent bool   `json:"consistent"`
}

// Audit 核对余额是否等于流水合计
func (s *BalanceService) Audit(ctx context.Context, userID string) (*AuditResult, error) {
	balance, err := s.GetBalance(ctx, userID)
	if err != nil {
		return nil, err
	}
	sum, err := s.entryRepo.SumByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &AuditResult{
		UserID:     userID,
		Balance:    balance,
		JournalSum: sum,
		Consistent: balance == sum,
	}, nil
}

func (s *BalanceService) ListEntries(ctx context.Context, userID string, page, pageSize int) ([]*model.BalanceEntry, int64, error) {
	return s.entryRepo.ListByUserID(ctx, userID, page, pageSize)
}

func (s *BalanceService) ListTransactions(ctx context.Context, userID string, page, pageSize int) ([]*model.TokenTransaction, int64, error) {
	return s.transRepo.ListByUserID(ctx, userID, page, pageSize)
}
