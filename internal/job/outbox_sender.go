package job

import (
	"context"
	"time"

	"tokenledger/internal/config"
	"tokenledger/internal/infrastructure/mq"
	"tokenledger/internal/metrics"
	"tokenledger/internal/model"
	"tokenledger/internal/repository"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// OutboxSender 把事务内写入的账本事件转发到消息队列
type OutboxSender struct {
	outboxRepo *repository.OutboxRepository
	publisher  mq.Publisher
	stopCh     chan struct{}
	interval   time.Duration
	batchSize  int
	maxRetry   int
}

func NewOutboxSender(db *gorm.DB, publisher mq.Publisher, cfg *config.Config) *OutboxSender {
	interval := cfg.Jobs.OutboxInterval
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	batchSize := cfg.Jobs.OutboxBatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	maxRetry := cfg.Ledger.MaxRetryCount
	if maxRetry <= 0 {
		maxRetry = 5
	}
	return &OutboxSender{
		outboxRepo: repository.NewOutboxRepository(db),
		publisher:  publisher,
		stopCh:     make(chan struct{}),
		interval:   interval,
		batchSize:  batchSize,
		maxRetry:   maxRetry,
	}
}

func (s *OutboxSender) Start(ctx context.Context) {
	log.Info("[OutboxSender] 消息发送任务启动")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("[OutboxSender] 收到停止信号，任务退出")
			return
		case <-s.stopCh:
			log.Info("[OutboxSender] 任务停止")
			return
		case <-ticker.C:
			s.ProcessOnce(ctx)
		}
	}
}

func (s *OutboxSender) Stop() {
	close(s.stopCh)
}

// ProcessOnce 处理一批待发送消息，返回发送成功的条数
func (s *OutboxSender) ProcessOnce(ctx context.Context) int {
	messages, err := s.outboxRepo.GetPendingMessages(ctx, s.batchSize)
	if err != nil {
		log.WithError(err).Error("[OutboxSender] 查询消息失败")
		return 0
	}

	sent := 0
	for _, msg := range messages {
		if s.sendMessage(ctx, msg) {
			sent++
		}
	}
	return sent
}

func (s *OutboxSender) sendMessage(ctx context.Context, msg *model.OutboxMessage) bool {
	logger := log.WithFields(log.Fields{
		"id":         msg.ID,
		"topic":      msg.Topic,
		"key":        msg.MessageKey,
		"event_type": msg.EventType,
	})

	err := s.publisher.SendMessage(msg.Topic, msg.MessageKey, msg.Payload)
	if err == nil {
		if updateErr := s.outboxRepo.MarkAsSent(ctx, msg.ID); updateErr != nil {
			logger.WithError(updateErr).Error("[OutboxSender] 更新消息状态失败")
		} else {
			logger.Debug("[OutboxSender] 消息发送成功")
		}
		metrics.OutboxMessages.WithLabelValues("sent").Inc()
		return true
	}

	logger.WithError(err).Warn("[OutboxSender] 消息发送失败")

	// 失败标记本身会累加一次重试次数
	if msg.RetryCount+1 >= s.maxRetry {
		if err := s.outboxRepo.MarkAsFailed(ctx, msg.ID); err != nil {
			logger.WithError(err).Error("[OutboxSender] 标记消息失败状态失败")
		} else {
			logger.Error("[OutboxSender] 消息超过最大重试次数，标记为失败")
		}
		metrics.OutboxMessages.WithLabelValues("failed").Inc()
		return false
	}

	if err := s.outboxRepo.IncrementRetryCount(ctx, msg.ID); err != nil {
		logger.WithError(err).Error("[OutboxSender] 增加重试次数失败")
	}
	metrics.OutboxMessages.WithLabelValues("retry").Inc()
	return false
}
