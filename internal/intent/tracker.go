// Package intent 购买意图：跳转网关前签发、由浏览器保存、回跳时校验。
//
// 意图只用于回跳页面的提示信息和找回 package_id，不参与入账判定；
// 入账幂等以网关交易号为准。
package intent

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"tokenledger/internal/model"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var ErrExpiredOrMismatchedIntent = errors.New("购买意图已过期或与当前用户不匹配")

// DefaultTTL 意图有效期
const DefaultTTL = time.Hour

// 允许客户端时钟略快于服务端
const clockSkew = time.Minute

type Intent struct {
	PackageID    int64           `json:"package_id"`
	PackageName  string          `json:"package_name"`
	UserID       string          `json:"user_id"`
	TokensAmount int64           `json:"tokens_amount"`
	Price        decimal.Decimal `json:"price"`
	IssuedAt     time.Time       `json:"issued_at"`
	Nonce        string          `json:"nonce"`
}

type Tracker struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewTracker(secret string, ttl time.Duration) *Tracker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Tracker{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
}

// Issue 为某个套餐签发意图，返回意图本身和交给客户端保存的令牌
func (t *Tracker) Issue(userID string, pkg *model.TokenPackage) (*Intent, string, error) {
	in := &Intent{
		PackageID:    pkg.ID,
		PackageName:  pkg.Name,
		UserID:       userID,
		TokensAmount: pkg.TokensAmount,
		Price:        pkg.Price,
		IssuedAt:     t.now().UTC(),
		Nonce:        uuid.NewString(),
	}

	body, err := json.Marshal(in)
	if err != nil {
		return nil, "", err
	}

	encoded := base64.RawURLEncoding.EncodeToString(body)
	return in, encoded + "." + t.sign(encoded), nil
}

// Verify 校验签名、有效期和用户归属，任何一项不通过都返回 ErrExpiredOrMismatchedIntent
func (t *Tracker) Verify(token, sessionUserID string) (*Intent, error) {
	encoded, sig, ok := strings.Cut(token, ".")
	if !ok || encoded == "" || sig == "" {
		return nil, fmt.Errorf("%w: 格式错误", ErrExpiredOrMismatchedIntent)
	}
	if !hmac.Equal([]byte(sig), []byte(t.sign(encoded))) {
		return nil, fmt.Errorf("%w: 签名不匹配", ErrExpiredOrMismatchedIntent)
	}

	body, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExpiredOrMismatchedIntent, err)
	}

	var in Intent
	if err := json.Unmarshal(body, &in); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExpiredOrMismatchedIntent, err)
	}

	now := t.now()
	if now.Sub(in.IssuedAt) > t.ttl {
		return nil, fmt.Errorf("%w: 已过期", ErrExpiredOrMismatchedIntent)
	}
	if in.IssuedAt.After(now.Add(clockSkew)) {
		return nil, fmt.Errorf("%w: 签发时间无效", ErrExpiredOrMismatchedIntent)
	}
	if in.UserID != sessionUserID {
		return nil, fmt.Errorf("%w: 用户不匹配", ErrExpiredOrMismatchedIntent)
	}

	return &in, nil
}

func (t *Tracker) sign(encoded string) string {
	mac := hmac.New(sha256.New, t.secret)
	mac.Write([]byte(encoded))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
