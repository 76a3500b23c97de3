package repository

import (
	"context"
	"errors"
	"time"

	"tokenledger/internal/model"

	"gorm.io/gorm"
)

type AdRepository struct {
	db *gorm.DB
}

func NewAdRepository(db *gorm.DB) *AdRepository {
	return &AdRepository{db: db}
}

func (r *AdRepository) Create(ctx context.Context, ad *model.Ad) error {
	return StorageErr(r.db.WithContext(ctx).Create(ad).Error)
}

func (r *AdRepository) GetByID(ctx context.Context, tx *gorm.DB, id int64) (*model.Ad, error) {
	if tx == nil {
		tx = r.db
	}
	var ad model.Ad
	err := tx.WithContext(ctx).Where("id = ?", id).First(&ad).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAdNotFound
		}
		return nil, StorageErr(err)
	}
	return &ad, nil
}

// UpdateStatus 条件状态迁移，当前状态不是 fromStatus 时返回 ErrAdStatusInvalid
func (r *AdRepository) UpdateStatus(ctx context.Context, tx *gorm.DB, id int64, fromStatus, toStatus string, extra map[string]interface{}) error {
	if !model.CanTransitionTo(fromStatus, toStatus) {
		return ErrAdStatusInvalid
	}

	if tx == nil {
		tx = r.db
	}

	updates := map[string]interface{}{
		"status": toStatus,
	}
	for k, v := range extra {
		updates[k] = v
	}

	result := tx.WithContext(ctx).
		Model(&model.Ad{}).
		Where("id = ? AND status = ?", id, fromStatus).
		Updates(updates)

	if result.Error != nil {
		return StorageErr(result.Error)
	}

	if result.RowsAffected == 0 {
		return ErrAdStatusInvalid
	}

	return nil
}

// GetExpiredAds 已过期但仍为 active 的广告
func (r *AdRepository) GetExpiredAds(ctx context.Context, now time.Time, limit int) ([]*model.Ad, error) {
	var ads []*model.Ad
	err := r.db.WithContext(ctx).
		Where("status = ? AND expires_at < ?", model.AdStatusActive, now).
		Order("expires_at ASC").
		Limit(limit).
		Find(&ads).Error
	return ads, StorageErr(err)
}

func (r *AdRepository) ListByUserID(ctx context.Context, userID string, page, pageSize int) ([]*model.Ad, int64, error) {
	var ads []*model.Ad
	var total int64

	query := r.db.WithContext(ctx).Model(&model.Ad{}).Where("user_id = ?", userID)

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, StorageErr(err)
	}

	err := query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&ads).Error

	return ads, total, StorageErr(err)
}
