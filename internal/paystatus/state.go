// Package paystatus 网关回跳页面的状态机。
//
// 状态只反映对账结果，不修改余额：
//
//	processing -> success | pending | failed | error | unknown
package paystatus

import (
	"errors"

	"tokenledger/internal/gateway"
	"tokenledger/internal/model"
	"tokenledger/internal/service"
)

type State string

const (
	StateProcessing State = "processing"
	StateSuccess    State = "success"
	StatePending    State = "pending"
	StateFailed     State = "failed"
	StateError      State = "error"
	StateUnknown    State = "unknown"
)

// 给前端的提示动作
const (
	HintNone           = ""
	HintTopUp          = "top_up"
	HintRestart        = "restart_purchase"
	HintContactSupport = "contact_support"
	HintRetry          = "retry"
	HintRevisit        = "revisit_later"
)

// Input 回跳页面的全部输入
type Input struct {
	HasCallback bool  // 是否带有网关回跳参数
	IntentErr   error // 意图校验结果
	Result      *service.ReconcileResult
	Err         error // 对账错误
}

type View struct {
	State       State  `json:"state"`
	MessageKey  string `json:"message_key"`
	Hint        string `json:"hint,omitempty"`
	Retryable   bool   `json:"retryable"`
	TokensAdded int64  `json:"tokens_added"`
	NewBalance  int64  `json:"new_balance"`
	Replayed    bool   `json:"replayed"`
}

// Resolve 纯函数，按输入决定页面状态
func Resolve(in Input) View {
	if !in.HasCallback {
		return View{State: StateError, MessageKey: "payment.no_callback", Hint: HintRestart}
	}
	if in.IntentErr != nil {
		return View{State: StateError, MessageKey: "payment.intent_expired", Hint: HintRestart}
	}
	if in.Err != nil {
		return errorView(in.Err)
	}
	if in.Result == nil {
		return View{State: StateProcessing, MessageKey: "payment.processing"}
	}

	v := View{
		TokensAdded: in.Result.TokensAdded,
		NewBalance:  in.Result.NewBalance,
		Replayed:    in.Result.Replayed,
	}

	switch in.Result.Status {
	case model.TransactionStatusCompleted:
		v.State = StateSuccess
		v.MessageKey = "payment.success"
	case model.TransactionStatusPending:
		v.State = StatePending
		v.MessageKey = "payment.pending"
		v.Hint = HintRevisit
	case model.TransactionStatusFailed:
		// 按落库的原始状态判断，刷新页面时结果不变
		if recorded, _ := gateway.Normalize(in.Result.GatewayStatus); recorded == gateway.StatusUnknown {
			v.State = StateUnknown
			v.MessageKey = "payment.status_unrecognized"
			v.Hint = HintContactSupport
		} else {
			v.State = StateFailed
			v.MessageKey = "payment.failed"
			v.Hint = HintRestart
		}
	default:
		v.State = StateUnknown
		v.MessageKey = "payment.status_unrecognized"
		v.Hint = HintContactSupport
	}
	return v
}

func errorView(err error) View {
	v := View{State: StateError, MessageKey: "payment.error", Hint: HintFor(err)}
	switch {
	case errors.Is(err, service.ErrStorageUnavailable):
		v.MessageKey = "payment.storage_unavailable"
		v.Retryable = true
	case errors.Is(err, service.ErrPackageNotFound):
		v.MessageKey = "payment.package_not_found"
	case errors.Is(err, service.ErrTransactionOwnerMismatch):
		v.MessageKey = "payment.owner_mismatch"
	case errors.Is(err, service.ErrExpiredOrMismatchedIntent):
		v.MessageKey = "payment.intent_expired"
	}
	return v
}

// HintFor 错误对应的提示动作，广告激活接口也使用
func HintFor(err error) string {
	switch {
	case err == nil:
		return HintNone
	case errors.Is(err, service.ErrInsufficientBalance):
		return HintTopUp
	case errors.Is(err, service.ErrExpiredOrMismatchedIntent):
		return HintRestart
	case errors.Is(err, service.ErrStorageUnavailable):
		return HintRetry
	case errors.Is(err, gateway.ErrMissingTransactionID):
		return HintContactSupport
	case service.IsBusinessError(err):
		return HintNone
	default:
		return HintContactSupport
	}
}
