package models

import (
	"encoding/json"
	"time"
)

const (
	SyncTriggerScheduled = "scheduled"
	SyncTriggerManual    = "manual"
)

const (
	SyncStatusRunning = "running"
	SyncStatusSuccess = "success"
	SyncStatusPartial = "partial"
	SyncStatusFailure = "failure"
)

// SyncErrorDetail is one per-subscriber failure captured during a sync run.
type SyncErrorDetail struct {
	UserID     uint      `json:"user_id"`
	Message    string    `json:"message"`
	OccurredAt time.Time `json:"occurred_at"`
}

// SyncReport records a single sync coordinator run. Rows are append-only:
// created with status running, updated exactly once on completion.
type SyncReport struct {
	ID                uint       `gorm:"primaryKey" json:"id"`
	RunID             string     `gorm:"type:varchar(36);not null;uniqueIndex" json:"run_id"`
	Trigger           string     `gorm:"type:varchar(16);not null;default:'scheduled'" json:"trigger"`
	Status            string     `gorm:"type:varchar(16);not null;default:'running';index" json:"status"`
	UsersProcessed    int        `gorm:"not null;default:0" json:"users_processed"`
	ErrorsEncountered int        `gorm:"not null;default:0" json:"errors_encountered"`
	ErrorDetailsJSON  string     `gorm:"type:longtext" json:"error_details_json"`
	StartedAt         time.Time  `gorm:"type:timestamp;not null" json:"started_at"`
	CompletedAt       *time.Time `gorm:"type:timestamp;default:null" json:"completed_at,omitempty"`
	CreatedAt         time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// Finalize stamps completion and computes the run status: success with zero
// errors, partial when errors stay under 10% of all records touched, failure
// otherwise.
func (r *SyncReport) Finalize(processed int, details []SyncErrorDetail, completedAt time.Time) error {
	r.UsersProcessed = processed
	r.ErrorsEncountered = len(details)
	r.CompletedAt = &completedAt

	if len(details) > 0 {
		data, err := json.Marshal(details)
		if err != nil {
			return err
		}
		r.ErrorDetailsJSON = string(data)
	}

	total := processed + len(details)
	switch {
	case len(details) == 0:
		r.Status = SyncStatusSuccess
	case len(details)*10 < total:
		r.Status = SyncStatusPartial
	default:
		r.Status = SyncStatusFailure
	}
	return nil
}

// MarkFailed finalizes a run that could not start or aborted before the loop.
func (r *SyncReport) MarkFailed(completedAt time.Time) {
	r.Status = SyncStatusFailure
	r.CompletedAt = &completedAt
}

// ErrorDetails decodes the stored per-record error list.
func (r *SyncReport) ErrorDetails() ([]SyncErrorDetail, error) {
	if r.ErrorDetailsJSON == "" {
		return nil, nil
	}
	var details []SyncErrorDetail
	if err := json.Unmarshal([]byte(r.ErrorDetailsJSON), &details); err != nil {
		return nil, err
	}
	return details, nil
}
