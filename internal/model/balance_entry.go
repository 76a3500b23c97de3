package model

import (
	"time"
)

const (
	EntryKindPurchaseCredit = "PURCHASE_CREDIT"
	EntryKindAdDebit        = "AD_DEBIT"
)

// BalanceEntry 余额流水
// 只追加，不修改，不删除；记录变动前后余额，便于核对余额与流水是否一致
type BalanceEntry struct {
	ID            int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	EntryNo       string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"entry_no"`
	UserID        string    `gorm:"type:varchar(64);index;not null" json:"user_id"`
	Amount        int64     `gorm:"not null" json:"amount"` // 正数入账，负数出账
	Kind          string    `gorm:"type:varchar(20);not null" json:"kind"`
	Reference     string    `gorm:"type:varchar(128);index;not null" json:"reference"` // gateway_transaction_id 或 ad id
	BalanceBefore int64     `gorm:"not null" json:"balance_before"`
	BalanceAfter  int64     `gorm:"not null" json:"balance_after"`
	CreatedAt     time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

func (BalanceEntry) TableName() string {
	return "balance_entries"
}
