package models

import "time"

const (
	DeliveryStatusDelivered = "delivered"
	DeliveryStatusFailed    = "failed"
	DeliveryStatusPending   = "pending"
)

// WebhookDelivery records one inbound delivery attempt tied to a billing
// event. A delivery that fails processing keeps its row (append/update only)
// so the health monitor can count recent failures.
type WebhookDelivery struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	BillingEventID  uint      `gorm:"not null;index" json:"billing_event_id"`
	ProviderEventID string    `gorm:"type:varchar(191);not null;index" json:"provider_event_id"`
	EventType       string    `gorm:"type:varchar(100);not null" json:"event_type"`
	Status          string    `gorm:"type:varchar(16);not null;default:'pending';index" json:"status"`
	RetryCount      int       `gorm:"not null;default:0" json:"retry_count"`
	ErrorMsg        string    `gorm:"type:text" json:"error_msg"`
	CreatedAt       time.Time `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
