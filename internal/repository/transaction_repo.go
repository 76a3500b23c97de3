package repository

import (
	"context"
	"errors"

	"tokenledger/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// EntryRepository 余额流水
type EntryRepository struct {
	db *gorm.DB
}

func NewEntryRepository(db *gorm.DB) *EntryRepository {
	return &EntryRepository{db: db}
}

func (r *EntryRepository) Create(ctx context.Context, tx *gorm.DB, entry *model.BalanceEntry) error {
	if tx == nil {
		tx = r.db
	}
	return StorageErr(tx.WithContext(ctx).Create(entry).Error)
}

// SumByUserID 流水合计，正常情况下等于当前余额
func (r *EntryRepository) SumByUserID(ctx context.Context, userID string) (int64, error) {
	var sum int64
	err := r.db.WithContext(ctx).
		Model(&model.BalanceEntry{}).
		Where("user_id = ?", userID).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&sum).Error
	return sum, StorageErr(err)
}

func (r *EntryRepository) ListByUserID(ctx context.Context, userID string, page, pageSize int) ([]*model.BalanceEntry, int64, error) {
	var entries []*model.BalanceEntry
	var total int64

	query := r.db.WithContext(ctx).Model(&model.BalanceEntry{}).Where("user_id = ?", userID)

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, StorageErr(err)
	}

	err := query.
		Order("id DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&entries).Error

	return entries, total, StorageErr(err)
}

// TransactionRepository 代币购买记录
type TransactionRepository struct {
	db *gorm.DB
}

func NewTransactionRepository(db *gorm.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

// GetByGatewayID 按网关交易号查询，不存在返回 nil
func (r *TransactionRepository) GetByGatewayID(ctx context.Context, tx *gorm.DB, gatewayID string) (*model.TokenTransaction, error) {
	if tx == nil {
		tx = r.db
	}
	var trans model.TokenTransaction
	err := tx.WithContext(ctx).Where("gateway_transaction_id = ?", gatewayID).First(&trans).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, StorageErr(err)
	}
	return &trans, nil
}

// Insert 插入购买记录，gateway_transaction_id 已存在时不插入并返回 false
func (r *TransactionRepository) Insert(ctx context.Context, tx *gorm.DB, trans *model.TokenTransaction) (bool, error) {
	result := tx.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "gateway_transaction_id"}},
			DoNothing: true,
		}).
		Create(trans)

	if result.Error != nil {
		return false, StorageErr(result.Error)
	}
	return result.RowsAffected == 1, nil
}

// Settle 条件更新状态：只有当前状态为 fromStatus 时才生效
func (r *TransactionRepository) Settle(ctx context.Context, tx *gorm.DB, id int64, fromStatus string, updates map[string]interface{}) (bool, error) {
	result := tx.WithContext(ctx).
		Model(&model.TokenTransaction{}).
		Where("id = ? AND status = ?", id, fromStatus).
		Updates(updates)

	if result.Error != nil {
		return false, StorageErr(result.Error)
	}
	return result.RowsAffected == 1, nil
}

// SetBalanceAfter 记录结果落定时的余额，重放时原样返回
func (r *TransactionRepository) SetBalanceAfter(ctx context.Context, tx *gorm.DB, id int64, balance int64) error {
	err := tx.WithContext(ctx).
		Model(&model.TokenTransaction{}).
		Where("id = ?", id).
		Update("balance_after", balance).Error
	return StorageErr(err)
}

func (r *TransactionRepository) ListByUserID(ctx context.Context, userID string, page, pageSize int) ([]*model.TokenTransaction, int64, error) {
	var transactions []*model.TokenTransaction
	var total int64

	query := r.db.WithContext(ctx).Model(&model.TokenTransaction{}).Where("user_id = ?", userID)

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, StorageErr(err)
	}

	err := query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&transactions).Error

	return transactions, total, StorageErr(err)
}
