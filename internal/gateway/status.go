// Package gateway 把支付网关回跳参数规整成账本使用的规范形式。
//
// 网关的状态词汇是开放的，这里只映射确认过的取值，其余一律归为 unknown，
// 不猜测成功或失败。
package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/url"
	"sort"
	"strings"
)

type Status string

const (
	StatusSuccess Status = "success"
	StatusPending Status = "pending"
	StatusFailed  Status = "failed"
	StatusUnknown Status = "unknown"
)

var ErrMissingTransactionID = errors.New("回调缺少网关交易号")

var statusAliases = map[string]Status{
	"paid":       StatusSuccess,
	"success":    StatusSuccess,
	"succeeded":  StatusSuccess,
	"settlement": StatusSuccess,
	"capture":    StatusSuccess,

	"unpaid":  StatusPending,
	"pending": StatusPending,
	"waiting": StatusPending,

	"expired":   StatusFailed,
	"cancelled": StatusFailed,
	"canceled":  StatusFailed,
	"failed":    StatusFailed,
	"deny":      StatusFailed,
	"void":      StatusFailed,
}

// Normalize 返回规范状态；recognized=false 表示原始值不在映射表中
func Normalize(raw string) (Status, bool) {
	s, ok := statusAliases[strings.ToLower(strings.TrimSpace(raw))]
	if !ok {
		return StatusUnknown, false
	}
	return s, true
}

// transactionIDParams 按优先级排列
var transactionIDParams = []string{"transaction_no", "payment_token", "transaction_id"}

// TransactionID 从回跳参数中取网关交易号，缺失时报错而不是生成一个
func TransactionID(query url.Values) (string, error) {
	for _, name := range transactionIDParams {
		if v := strings.TrimSpace(query.Get(name)); v != "" {
			return v, nil
		}
	}
	return "", ErrMissingTransactionID
}

// Payload 把回跳参数压平为 JSON，原样存档
func Payload(query url.Values) string {
	keys := make([]string, 0, len(query))
	for k := range query {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	flat := make(map[string]string, len(keys))
	for _, k := range keys {
		flat[k] = query.Get(k)
	}
	// map[string]string 编码不会出错
	b, _ := json.Marshal(flat)
	return string(b)
}

// VerifySignature 校验 webhook 的 HMAC-SHA256 签名（十六进制）
func VerifySignature(body []byte, signature, secret string) bool {
	if signature == "" || secret == "" {
		return false
	}
	expected, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), expected)
}

// Sign 生成 webhook 签名，网关模拟和测试使用
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
