package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// ============================================================================
// 分布式锁
// ============================================================================
//
// 账本的正确性由数据库保证：扣款是带 balance >= ? 条件的单条 UPDATE，
// 入账由 gateway_transaction_id 唯一索引去重。这里的锁只用来把同一笔
// 回调的重复投递（网关重试、用户刷新返回页）排队，减少唯一键冲突后的重试。
//
// 加锁：SET key value NX PX ttl
// 解锁：Lua 脚本比较 value 后再 DEL，避免删掉别人的锁
//
// ============================================================================

var (
	ErrLockFailed = errors.New("获取分布式锁失败")
)

const unlockScript = `
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	else
		return 0
	end
`

// DistributedLock 分布式锁
type DistributedLock struct {
	client     *redis.Client
	key        string        // 锁的 key
	value      string        // 锁持有者标识
	expiration time.Duration // 锁的过期时间
}

// NewDistributedLock 创建分布式锁
func NewDistributedLock(client *redis.Client, key, value string, expiration time.Duration) *DistributedLock {
	return &DistributedLock{
		client:     client,
		key:        key,
		value:      value,
		expiration: expiration,
	}
}

func (l *DistributedLock) Key() string {
	return l.key
}

// TryLock 尝试获取锁（非阻塞）
func (l *DistributedLock) TryLock(ctx context.Context) (bool, error) {
	return l.client.SetNX(ctx, l.key, l.value, l.expiration).Result()
}

// Lock 阻塞式获取锁，最多等待 wait
func (l *DistributedLock) Lock(ctx context.Context, retryInterval, wait time.Duration) error {
	deadline := time.Now().Add(wait)
	for {
		success, err := l.TryLock(ctx)
		if err != nil {
			return err
		}
		if success {
			return nil
		}
		if time.Now().Add(retryInterval).After(deadline) {
			return ErrLockFailed
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryInterval):
		}
	}
}

// Unlock 释放锁，只删除自己持有的锁
func (l *DistributedLock) Unlock(ctx context.Context) error {
	_, err := l.client.Eval(ctx, unlockScript, []string{l.key}, l.value).Result()
	return err
}

// NewReconcileLock 按网关交易号加锁，同一笔回调的并发投递串行处理
func NewReconcileLock(client *redis.Client, gatewayTransactionID, owner string, ttl time.Duration) *DistributedLock {
	key := fmt.Sprintf("ledger:lock:reconcile:%s", gatewayTransactionID)
	return NewDistributedLock(client, key, owner, ttl)
}

// NewActivationLock 按广告加锁，同一条广告的重复提交串行处理
func NewActivationLock(client *redis.Client, adID int64, owner string, ttl time.Duration) *DistributedLock {
	key := fmt.Sprintf("ledger:lock:activate:ad:%d", adID)
	return NewDistributedLock(client, key, owner, ttl)
}
