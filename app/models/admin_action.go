package models

import "time"

// AdminAction is the append-only audit trail written by admin tooling around
// this core. The manual sync trigger writes one row per invocation.
type AdminAction struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    uint      `gorm:"not null;index" json:"user_id"`
	Action    string    `gorm:"type:varchar(100);not null;index" json:"action"`
	Details   string    `gorm:"type:text" json:"details"`
	CreatedAt time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}
