package service

import (
	"context"
	"encoding/json"
	"time"

	"tokenledger/internal/model"
	"tokenledger/internal/repository"
	"tokenledger/pkg/idgen"

	"gorm.io/gorm"
)

// writeEvent 在当前事务内写 outbox，事件与余额变动一起提交或一起回滚
// key 使用 user_id，同一用户的事件在 Kafka 中保持顺序
func writeEvent(ctx context.Context, tx *gorm.DB, outboxRepo *repository.OutboxRepository, topic, eventType, key string, payload map[string]interface{}) error {
	payload["event_id"] = idgen.GenerateEventKey()
	payload["event_type"] = eventType
	payload["occurred_at"] = time.Now().UTC().Format(time.RFC3339)

	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	return outboxRepo.Create(ctx, tx, &model.OutboxMessage{
		MessageKey: key,
		EventType:  eventType,
		Topic:      topic,
		Payload:    string(body),
		Status:     model.OutboxStatusPending,
	})
}
