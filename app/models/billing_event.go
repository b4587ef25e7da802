package models

import "time"

// BillingEvent stores provider webhook events with deduplication metadata.
// The provider event id is the idempotency key: recording the same event
// twice is a no-op and rows are never deleted (audit trail).
type BillingEvent struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	ProviderEventID string     `gorm:"type:varchar(191);not null;uniqueIndex" json:"provider_event_id"`
	EventType       string     `gorm:"type:varchar(100);not null;index" json:"event_type"`
	PayloadJSON     string     `gorm:"type:longtext;not null" json:"payload_json"`
	Processed       bool       `gorm:"default:false;index" json:"processed"`
	ProcessedAt     *time.Time `gorm:"type:timestamp;default:null" json:"processed_at,omitempty"`
	RetryCount      int        `gorm:"not null;default:0" json:"retry_count"`
	LastError       string     `gorm:"type:text" json:"last_error"`
	ReceivedAt      time.Time  `gorm:"autoCreateTime;index" json:"received_at"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}
