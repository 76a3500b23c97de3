package repository

import (
	"context"
	"errors"

	"tokenledger/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// BalanceRepository 余额表访问
//
// 扣款和入账只接受事务句柄，调用方必须在账本操作的事务内使用
type BalanceRepository struct {
	db *gorm.DB
}

func NewBalanceRepository(db *gorm.DB) *BalanceRepository {
	return &BalanceRepository{db: db}
}

// GetBalance 查询余额，没有记录视为 0
func (r *BalanceRepository) GetBalance(ctx context.Context, userID string) (int64, error) {
	return r.BalanceOf(ctx, r.db, userID)
}

func (r *BalanceRepository) BalanceOf(ctx context.Context, tx *gorm.DB, userID string) (int64, error) {
	var account model.UserTokens
	err := tx.WithContext(ctx).Where("user_id = ?", userID).First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, nil
		}
		return 0, StorageErr(err)
	}
	return account.Balance, nil
}

// EnsureAccount 惰性创建余额记录，并发创建由唯一索引兜底
func (r *BalanceRepository) EnsureAccount(ctx context.Context, tx *gorm.DB, userID string) error {
	account := &model.UserTokens{UserID: userID, Balance: 0}
	err := tx.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoNothing: true,
		}).
		Create(account).Error
	return StorageErr(err)
}

// Debit 条件扣款：balance >= amount 时才扣，检查和扣减是同一条语句
// 返回 false 表示余额不足，此时没有任何修改
func (r *BalanceRepository) Debit(ctx context.Context, tx *gorm.DB, userID string, amount int64) (bool, error) {
	result := tx.WithContext(ctx).
		Model(&model.UserTokens{}).
		Where("user_id = ? AND balance >= ?", userID, amount).
		Update("balance", gorm.Expr("balance - ?", amount))

	if result.Error != nil {
		return false, StorageErr(result.Error)
	}
	return result.RowsAffected == 1, nil
}

// Credit 入账
func (r *BalanceRepository) Credit(ctx context.Context, tx *gorm.DB, userID string, amount int64) error {
	result := tx.WithContext(ctx).
		Model(&model.UserTokens{}).
		Where("user_id = ?", userID).
		Update("balance", gorm.Expr("balance + ?", amount))

	if result.Error != nil {
		return StorageErr(result.Error)
	}
	if result.RowsAffected == 0 {
		return StorageErr(errors.New("余额记录缺失"))
	}
	return nil
}
