package job

import (
	"context"
	"errors"
	"testing"
	"time"

	"tokenledger/internal/infrastructure/mq"
	"tokenledger/internal/model"
	"tokenledger/internal/testutil"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func seedOutbox(t *testing.T, db *gorm.DB, key string, retryCount int) *model.OutboxMessage {
	t.Helper()
	msg := &model.OutboxMessage{
		MessageKey: key,
		EventType:  model.EventPurchaseReconciled,
		Topic:      "ledger-events",
		Payload:    `{"user_id":"` + key + `"}`,
		Status:     model.OutboxStatusPending,
		RetryCount: retryCount,
	}
	require.NoError(t, db.Create(msg).Error)
	return msg
}

func outboxStatus(t *testing.T, db *gorm.DB, id int64) model.OutboxMessage {
	t.Helper()
	var msg model.OutboxMessage
	require.NoError(t, db.First(&msg, id).Error)
	return msg
}

func TestOutboxSender_SendsAndRetries(t *testing.T) {
	db := testutil.OpenDB(t)
	cfg := testutil.Config()
	cfg.Ledger.MaxRetryCount = 3

	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		if string(val) != `{"user_id":"u1"}` {
			return errors.New("unexpected payload")
		}
		return nil
	})
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	sender := NewOutboxSender(db, mq.NewKafkaPublisher(producer), cfg)

	ok := seedOutbox(t, db, "u1", 0)
	retry := seedOutbox(t, db, "u2", 0)
	exhausted := seedOutbox(t, db, "u3", 2)

	sent := sender.ProcessOnce(context.Background())
	assert.Equal(t, 1, sent)

	assert.Equal(t, model.OutboxStatusSent, outboxStatus(t, db, ok.ID).Status)

	got := outboxStatus(t, db, retry.ID)
	assert.Equal(t, model.OutboxStatusPending, got.Status)
	assert.Equal(t, 1, got.RetryCount)

	got = outboxStatus(t, db, exhausted.ID)
	assert.Equal(t, model.OutboxStatusFailed, got.Status)
	assert.Equal(t, 3, got.RetryCount)

	require.NoError(t, producer.Close())
}

func TestOutboxSender_LogPublisher(t *testing.T) {
	db := testutil.OpenDB(t)
	sender := NewOutboxSender(db, mq.LogPublisher{}, testutil.Config())
	msg := seedOutbox(t, db, "u1", 0)

	assert.Equal(t, 1, sender.ProcessOnce(context.Background()))
	assert.Equal(t, model.OutboxStatusSent, outboxStatus(t, db, msg.ID).Status)
	assert.Equal(t, 0, sender.ProcessOnce(context.Background()))
}

func TestOutboxSender_StartStop(t *testing.T) {
	db := testutil.OpenDB(t)
	cfg := testutil.Config()
	cfg.Jobs.OutboxInterval = 10 * time.Millisecond
	sender := NewOutboxSender(db, mq.LogPublisher{}, cfg)
	msg := seedOutbox(t, db, "u1", 0)

	done := make(chan struct{})
	go func() {
		sender.Start(context.Background())
		close(done)
	}()

	assert.Eventually(t, func() bool {
		var got model.OutboxMessage
		return db.First(&got, msg.ID).Error == nil && got.Status == model.OutboxStatusSent
	}, 2*time.Second, 10*time.Millisecond)

	sender.Stop()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sender did not stop")
	}
}

func TestAdExpiryJob_RunOnce(t *testing.T) {
	db := testutil.OpenDB(t)
	job := NewAdExpiryJob(db, testutil.Config())
	now := time.Now().UTC()
	job.now = func() time.Time { return now }

	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	due := testutil.SeedAd(t, db, "u1")
	require.NoError(t, db.Model(due).Updates(map[string]interface{}{
		"status": model.AdStatusActive, "expires_at": past,
	}).Error)

	running := testutil.SeedAd(t, db, "u1")
	require.NoError(t, db.Model(running).Updates(map[string]interface{}{
		"status": model.AdStatusActive, "expires_at": future,
	}).Error)

	unpaid := testutil.SeedAd(t, db, "u1")

	testutil.SeedBalance(t, db, "u1", 7)

	n, err := job.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	statusOf := func(id int64) string {
		var got model.Ad
		require.NoError(t, db.First(&got, id).Error)
		return got.Status
	}
	assert.Equal(t, model.AdStatusExpired, statusOf(due.ID))
	assert.Equal(t, model.AdStatusActive, statusOf(running.ID))
	assert.Equal(t, model.AdStatusPendingPayment, statusOf(unpaid.ID))

	// 过期不动余额
	assert.Equal(t, int64(7), testutil.Balance(t, db, "u1"))

	n, err = job.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestScheduler_RunsAdExpiry(t *testing.T) {
	db := testutil.OpenDB(t)
	ad := testutil.SeedAd(t, db, "u1")
	require.NoError(t, db.Model(ad).Updates(map[string]interface{}{
		"status": model.AdStatusActive, "expires_at": time.Now().UTC().Add(-time.Minute),
	}).Error)

	scheduler := NewScheduler(NewAdExpiryJob(db, testutil.Config()), "@every 1s")
	require.NoError(t, scheduler.Start(context.Background()))
	defer scheduler.Stop()

	assert.Eventually(t, func() bool {
		var got model.Ad
		return db.First(&got, ad.ID).Error == nil && got.Status == model.AdStatusExpired
	}, 3*time.Second, 50*time.Millisecond)
}

func TestScheduler_InvalidSpec(t *testing.T) {
	db := testutil.OpenDB(t)
	scheduler := NewScheduler(NewAdExpiryJob(db, testutil.Config()), "not a cron spec")
	assert.Error(t, scheduler.Start(context.Background()))
}
