package models

import "time"

// RetryOperation is the kind of deferred work carried by a queue item.
type RetryOperation string

const (
	RetryOpSendEmail      RetryOperation = "send_email"
	RetryOpProcessWebhook RetryOperation = "process_webhook"
	RetryOpUpdateRecord   RetryOperation = "update_record"
)

// RetryStatus is the lifecycle state of a queue item. Transitions are
// monotonic: pending -> processing -> success | pending(retry) | failed.
type RetryStatus string

const (
	RetryStatusPending    RetryStatus = "pending"
	RetryStatusProcessing RetryStatus = "processing"
	RetryStatusSuccess    RetryStatus = "success"
	RetryStatusFailed     RetryStatus = "failed"
)

const DefaultMaxRetries = 3

// RetryQueueItem is one deferred operation. The processing status acts as a
// lease: claiming it must be an atomic conditional update so two workers can
// never both execute the same item.
type RetryQueueItem struct {
	ID             uint           `gorm:"primaryKey" json:"id"`
	PublicID       string         `gorm:"type:varchar(36);not null;uniqueIndex" json:"public_id"`
	Operation      RetryOperation `gorm:"type:varchar(32);not null;index" json:"operation"`
	PayloadJSON    string         `gorm:"type:longtext;not null" json:"payload_json"`
	Priority       int            `gorm:"not null;default:0;index" json:"priority"`
	Status         RetryStatus    `gorm:"type:varchar(16);not null;default:'pending';index" json:"status"`
	RetryCount     int            `gorm:"not null;default:0" json:"retry_count"`
	MaxRetries     int            `gorm:"not null;default:3" json:"max_retries"`
	NextRetryAt    *time.Time     `gorm:"type:timestamp;default:null;index" json:"next_retry_at,omitempty"`
	LeaseClaimedAt *time.Time     `gorm:"type:timestamp;default:null" json:"lease_claimed_at,omitempty"`
	CompletedAt    *time.Time     `gorm:"type:timestamp;default:null" json:"completed_at,omitempty"`
	ErrorMsg       string         `gorm:"type:text" json:"error_msg"`
	CreatedAt      time.Time      `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt      time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

// HasRetriesLeft reports whether another attempt is allowed after a failure.
func (i *RetryQueueItem) HasRetriesLeft() bool {
	return i.RetryCount < i.MaxRetries
}

// IsDue reports whether a pending item is eligible for pickup.
func (i *RetryQueueItem) IsDue(now time.Time) bool {
	if i.Status != RetryStatusPending {
		return false
	}
	return i.NextRetryAt == nil || !i.NextRetryAt.After(now)
}
