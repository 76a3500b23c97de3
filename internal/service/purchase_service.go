package service

import (
	"context"
	"fmt"

	"tokenledger/internal/intent"
	"tokenledger/internal/model"
	"tokenledger/internal/repository"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// PurchaseService 套餐列表与购买意图签发，不涉及余额
type PurchaseService struct {
	db          *gorm.DB
	packageRepo *repository.PackageRepository
	tracker     *intent.Tracker
}

func NewPurchaseService(db *gorm.DB, tracker *intent.Tracker) *PurchaseService {
	return &PurchaseService{
		db:          db,
		packageRepo: repository.NewPackageRepository(db),
		tracker:     tracker,
	}
}

func (s *PurchaseService) ListPackages(ctx context.Context) ([]*model.TokenPackage, error) {
	return s.packageRepo.ListActive(ctx)
}

type IntentResult struct {
	Intent      *intent.Intent `json:"intent"`
	Token       string         `json:"token"`
	RedirectURL string         `json:"redirect_url"`
}

// CreateIntent 用户选择套餐后、跳转网关前调用
func (s *PurchaseService) CreateIntent(ctx context.Context, userID string, packageID int64) (*IntentResult, error) {
	if userID == "" || packageID <= 0 {
		return nil, fmt.Errorf("%w: user_id 和 package_id 必填", ErrInvalidArgument)
	}

	pkg, err := s.packageRepo.GetByID(ctx, s.db, packageID)
	if err != nil {
		return nil, boundaryErr(err)
	}
	if !pkg.IsActive {
		return nil, fmt.Errorf("%w: 套餐已下架", ErrPackageNotFound)
	}
	if pkg.PaymentGatewayURL == "" {
		return nil, fmt.Errorf("%w: 套餐未配置支付链接", ErrInvalidArgument)
	}

	in, token, err := s.tracker.Issue(userID, pkg)
	if err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"user_id":    userID,
		"package_id": pkg.ID,
		"nonce":      in.Nonce,
	}).Info("签发购买意图")

	return &IntentResult{
		Intent:      in,
		Token:       token,
		RedirectURL: pkg.PaymentGatewayURL,
	}, nil
}

// VerifyIntent 回跳时校验客户端带回的意图
func (s *PurchaseService) VerifyIntent(token, userID string) (*intent.Intent, error) {
	return s.tracker.Verify(token, userID)
}
