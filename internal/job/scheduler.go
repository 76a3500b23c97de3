package job

import (
	"context"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"
)

// Scheduler 定时任务
type Scheduler struct {
	cron     *cron.Cron
	adExpiry *AdExpiryJob
	spec     string
}

func NewScheduler(adExpiry *AdExpiryJob, spec string) *Scheduler {
	if spec == "" {
		spec = "@every 1m"
	}
	return &Scheduler{
		cron:     cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		adExpiry: adExpiry,
		spec:     spec,
	}
}

func (s *Scheduler) Start(ctx context.Context) error {
	_, err := s.cron.AddFunc(s.spec, func() {
		n, err := s.adExpiry.RunOnce(ctx)
		if err != nil {
			log.WithError(err).Error("[CRON] 广告过期扫描失败")
			return
		}
		if n > 0 {
			log.WithField("expired", n).Info("[CRON] 广告过期扫描完成")
		}
	})
	if err != nil {
		return err
	}

	s.cron.Start()
	log.WithField("spec", s.spec).Info("定时任务已启动")
	return nil
}

// Stop 等待正在执行的任务结束
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	log.Info("定时任务已停止")
}
