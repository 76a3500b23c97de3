package paystatus

import (
	"errors"
	"fmt"
	"testing"

	"tokenledger/internal/gateway"
	"tokenledger/internal/service"

	"github.com/stretchr/testify/assert"
)

func TestResolve(t *testing.T) {
	storageErr := fmt.Errorf("%w: %w", service.ErrStorageUnavailable, errors.New("connection refused"))

	tests := []struct {
		name      string
		in        Input
		state     State
		hint      string
		retryable bool
	}{
		{
			name:  "没有回跳参数",
			in:    Input{},
			state: StateError,
			hint:  HintRestart,
		},
		{
			name:  "意图过期",
			in:    Input{HasCallback: true, IntentErr: service.ErrExpiredOrMismatchedIntent},
			state: StateError,
			hint:  HintRestart,
		},
		{
			name:  "尚未对账",
			in:    Input{HasCallback: true},
			state: StateProcessing,
		},
		{
			name:  "入账成功",
			in:    Input{HasCallback: true, Result: &service.ReconcileResult{Status: "completed", GatewayStatus: "paid", TokensAdded: 10, NewBalance: 10}},
			state: StateSuccess,
		},
		{
			name:  "等待支付",
			in:    Input{HasCallback: true, Result: &service.ReconcileResult{Status: "pending", GatewayStatus: "pending"}},
			state: StatePending,
			hint:  HintRevisit,
		},
		{
			name:  "支付失败",
			in:    Input{HasCallback: true, Result: &service.ReconcileResult{Status: "failed", GatewayStatus: "expired"}},
			state: StateFailed,
			hint:  HintRestart,
		},
		{
			name:  "支付失败后刷新",
			in:    Input{HasCallback: true, Result: &service.ReconcileResult{Status: "failed", GatewayStatus: "expired", Replayed: true}},
			state: StateFailed,
			hint:  HintRestart,
		},
		{
			name:  "无法识别的网关状态",
			in:    Input{HasCallback: true, Result: &service.ReconcileResult{Status: "failed", GatewayStatus: "chargeback"}},
			state: StateUnknown,
			hint:  HintContactSupport,
		},
		{
			name:  "无法识别的网关状态刷新后不变",
			in:    Input{HasCallback: true, Result: &service.ReconcileResult{Status: "failed", GatewayStatus: "chargeback", Replayed: true}},
			state: StateUnknown,
			hint:  HintContactSupport,
		},
		{
			name:  "缺少状态参数",
			in:    Input{HasCallback: true, Result: &service.ReconcileResult{Status: "failed"}},
			state: StateUnknown,
			hint:  HintContactSupport,
		},
		{
			name:  "已入账的交易再次回跳状态无法识别",
			in:    Input{HasCallback: true, Result: &service.ReconcileResult{Status: "completed", GatewayStatus: "paid", Replayed: true, TokensAdded: 10, NewBalance: 10}},
			state: StateSuccess,
		},
		{
			name:      "存储不可用可重试",
			in:        Input{HasCallback: true, Err: storageErr},
			state:     StateError,
			hint:      HintRetry,
			retryable: true,
		},
		{
			name:  "交易号属于其他用户",
			in:    Input{HasCallback: true, Err: service.ErrTransactionOwnerMismatch},
			state: StateError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := Resolve(tt.in)
			assert.Equal(t, tt.state, v.State)
			assert.Equal(t, tt.hint, v.Hint)
			assert.Equal(t, tt.retryable, v.Retryable)
			assert.NotEmpty(t, v.MessageKey)
		})
	}
}

func TestResolveCarriesAmounts(t *testing.T) {
	v := Resolve(Input{
		HasCallback: true,
		Result:      &service.ReconcileResult{Status: "completed", TokensAdded: 10, NewBalance: 25, Replayed: true},
	})
	assert.Equal(t, int64(10), v.TokensAdded)
	assert.Equal(t, int64(25), v.NewBalance)
	assert.True(t, v.Replayed)
}

func TestHintFor(t *testing.T) {
	assert.Equal(t, HintTopUp, HintFor(service.ErrInsufficientBalance))
	assert.Equal(t, HintRestart, HintFor(fmt.Errorf("%w: 已过期", service.ErrExpiredOrMismatchedIntent)))
	assert.Equal(t, HintContactSupport, HintFor(gateway.ErrMissingTransactionID))
	assert.Equal(t, HintNone, HintFor(service.ErrAdNotPending))
	assert.Equal(t, HintNone, HintFor(nil))
}
