package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	TransactionStatusPending   = "pending"
	TransactionStatusCompleted = "completed"
	TransactionStatusFailed    = "failed"
)

// IsTerminal completed / failed 为终态，重放时原样返回
func IsTerminal(status string) bool {
	return status == TransactionStatusCompleted || status == TransactionStatusFailed
}

// TokenPackage 代币套餐，引擎只读
type TokenPackage struct {
	ID                int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	Name              string          `gorm:"type:varchar(128);not null" json:"name"`
	Description       string          `gorm:"type:varchar(512)" json:"description"`
	TokensAmount      int64           `gorm:"not null" json:"tokens_amount"`
	Price             decimal.Decimal `gorm:"type:decimal(14,2);not null" json:"price"`
	Currency          string          `gorm:"type:varchar(8);not null;default:IDR" json:"currency"`
	IsActive          bool            `gorm:"not null;default:true" json:"is_active"`
	PaymentGatewayURL string          `gorm:"type:varchar(512)" json:"payment_gateway_url"`
	CreatedAt         time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (TokenPackage) TableName() string {
	return "token_packages"
}

// TokenTransaction 代币购买记录
// gateway_transaction_id 唯一索引是幂等的最终保证
type TokenTransaction struct {
	ID                   int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID               string          `gorm:"type:varchar(64);index;not null" json:"user_id"`
	PackageID            int64           `gorm:"not null" json:"package_id"`
	GatewayTransactionID string          `gorm:"type:varchar(128);uniqueIndex;not null" json:"gateway_transaction_id"`
	Status               string          `gorm:"type:varchar(20);index;not null" json:"status"`
	TokensPurchased      int64           `gorm:"not null" json:"tokens_purchased"`
	AmountPaid           decimal.Decimal `gorm:"type:decimal(14,2);not null" json:"amount_paid"`
	BalanceAfter         int64           `gorm:"not null;default:0" json:"balance_after"`
	GatewayStatus        string          `gorm:"type:varchar(64)" json:"gateway_status"`
	GatewayPayload       string          `gorm:"type:text" json:"gateway_payload"`
	CreatedAt            time.Time       `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt            time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (TokenTransaction) TableName() string {
	return "token_transactions"
}
