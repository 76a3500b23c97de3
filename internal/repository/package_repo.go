package repository

import (
	"context"
	"errors"

	"tokenledger/internal/model"

	"gorm.io/gorm"
)

type PackageRepository struct {
	db *gorm.DB
}

func NewPackageRepository(db *gorm.DB) *PackageRepository {
	return &PackageRepository{db: db}
}

func (r *PackageRepository) Create(ctx context.Context, pkg *model.TokenPackage) error {
	return StorageErr(r.db.WithContext(ctx).Create(pkg).Error)
}

// GetByID 不区分是否上架：已经付款的套餐下架后仍需能对账
func (r *PackageRepository) GetByID(ctx context.Context, tx *gorm.DB, id int64) (*model.TokenPackage, error) {
	if tx == nil {
		tx = r.db
	}
	var pkg model.TokenPackage
	err := tx.WithContext(ctx).Where("id = ?", id).First(&pkg).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPackageNotFound
		}
		return nil, StorageErr(err)
	}
	return &pkg, nil
}

// ListActive 上架中的套餐，按价格升序
func (r *PackageRepository) ListActive(ctx context.Context) ([]*model.TokenPackage, error) {
	var packages []*model.TokenPackage
	err := r.db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("price ASC").
		Find(&packages).Error
	return packages, StorageErr(err)
}
