package model

import (
	"time"
)

const (
	AdStatusPendingPayment = "pending_payment"
	AdStatusActive         = "active"
	AdStatusPaymentFailed  = "payment_failed"
	AdStatusExpired        = "expired"
)

var ValidStatusTransitions = map[string][]string{
	AdStatusPendingPayment: {AdStatusActive, AdStatusPaymentFailed},
	AdStatusActive:         {AdStatusExpired},
}

func CanTransitionTo(currentStatus, targetStatus string) bool {
	allowedStatuses, exists := ValidStatusTransitions[currentStatus]
	if !exists {
		return false
	}
	for _, s := range allowedStatuses {
		if s == targetStatus {
			return true
		}
	}
	return false
}

// Ad 广告。由 UI 层以 pending_payment 状态创建，
// 只有激活操作会把它改成 active / payment_failed 并写入 expires_at
type Ad struct {
	ID           int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID       string     `gorm:"type:varchar(64);index;not null" json:"user_id"`
	Title        string     `gorm:"type:varchar(256)" json:"title"`
	TokenCost    int64      `gorm:"not null" json:"token_cost"`
	DurationDays int        `gorm:"not null" json:"duration_days"`
	Status       string     `gorm:"type:varchar(20);index;not null" json:"status"`
	ExpiresAt    *time.Time `gorm:"index" json:"expires_at"`
	ActivatedAt  *time.Time `json:"activated_at"`
	CreatedAt    time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt    time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Ad) TableName() string {
	return "ads"
}
