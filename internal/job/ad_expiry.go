package job

import (
	"context"
	"errors"
	"time"

	"tokenledger/internal/config"
	"tokenledger/internal/metrics"
	"tokenledger/internal/model"
	"tokenledger/internal/repository"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// AdExpiryJob 把到期的 active 广告标记为 expired，不涉及余额
type AdExpiryJob struct {
	adRepo    *repository.AdRepository
	batchSize int
	now       func() time.Time
}

func NewAdExpiryJob(db *gorm.DB, cfg *config.Config) *AdExpiryJob {
	batchSize := cfg.Jobs.AdExpiryBatchSize
	if batchSize <= 0 {
		batchSize = 200
	}
	return &AdExpiryJob{
		adRepo:    repository.NewAdRepository(db),
		batchSize: batchSize,
		now:       time.Now,
	}
}

// RunOnce 处理一批到期广告，返回本次过期的条数
func (j *AdExpiryJob) RunOnce(ctx context.Context) (int, error) {
	ads, err := j.adRepo.GetExpiredAds(ctx, j.now().UTC(), j.batchSize)
	if err != nil {
		return 0, err
	}

	if len(ads) == 0 {
		return 0, nil
	}

	log.WithField("count", len(ads)).Info("[AdExpiryJob] 发现到期广告")

	expired := 0
	for _, ad := range ads {
		err := j.adRepo.UpdateStatus(ctx, nil, ad.ID, model.AdStatusActive, model.AdStatusExpired, nil)
		if err != nil {
			// 并发的另一次扫描已经处理过
			if errors.Is(err, repository.ErrAdStatusInvalid) {
				continue
			}
			log.WithError(err).WithField("ad_id", ad.ID).Error("[AdExpiryJob] 广告过期失败")
			continue
		}
		expired++
		log.WithFields(log.Fields{
			"ad_id":      ad.ID,
			"user_id":    ad.UserID,
			"expires_at": ad.ExpiresAt,
		}).Info("[AdExpiryJob] 广告已过期")
	}

	metrics.AdsExpired.Add(float64(expired))
	return expired, nil
}
