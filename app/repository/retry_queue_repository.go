package repository

import (
	"time"

	"github.com/ManuelReschke/BillFox/app/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// retryQueueRepository implements the RetryQueueRepository interface
type retryQueueRepository struct {
	db *gorm.DB
}

// NewRetryQueueRepository creates a new retry queue repository instance
func NewRetryQueueRepository(db *gorm.DB) RetryQueueRepository {
	return &retryQueueRepository{db: db}
}

// Enqueue inserts a new pending item. PublicID and MaxRetries are defaulted
// when the caller leaves them unset.
func (r *retryQueueRepository) Enqueue(item *models.RetryQueueItem) error {
	if item.PublicID == "" {
		item.PublicID = uuid.New().String()
	}
	if item.Status == "" {
		item.Status = models.RetryStatusPending
	}
	if item.MaxRetries == 0 {
		item.MaxRetries = models.DefaultMaxRetries
	}
	return r.db.Create(item).Error
}

// DueItems returns up to limit pending items eligible for pickup, ordered by
// priority descending then creation time ascending (FIFO within a tier).
func (r *retryQueueRepository) DueItems(now time.Time, limit int) ([]models.RetryQueueItem, error) {
	var items []models.RetryQueueItem
	err := r.db.
		Where("status = ?", models.RetryStatusPending).
		Where("next_retry_at IS NULL OR next_retry_at <= ?", now).
		Order("priority DESC, created_at ASC, id ASC").
		Limit(limit).
		Find(&items).Error
	return items, err
}

// Claim atomically transitions pending -> processing. The WHERE clause on
// status is the lease: when two workers race, exactly one sees RowsAffected=1.
// The due-ness predicate is re-checked here because another processor may
// have claimed, failed and rescheduled the item between DueItems and Claim;
// claiming such an item would execute it before its backoff deadline.
func (r *retryQueueRepository) Claim(id uint, now time.Time) (bool, error) {
	tx := r.db.Model(&models.RetryQueueItem{}).
		Where("id = ? AND status = ?", id, models.RetryStatusPending).
		Where("next_retry_at IS NULL OR next_retry_at <= ?", now).
		Updates(map[string]interface{}{
			"status":           models.RetryStatusProcessing,
			"lease_claimed_at": &now,
		})
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

// MarkSuccess transitions processing -> success (terminal)
func (r *retryQueueRepository) MarkSuccess(id uint, completedAt time.Time) error {
	return r.db.Model(&models.RetryQueueItem{}).Where("id = ?", id).Updates(map[string]interface{}{
		"status":           models.RetryStatusSuccess,
		"completed_at":     &completedAt,
		"lease_claimed_at": nil,
		"error_msg":        "",
	}).Error
}

// Reschedule transitions processing -> pending with a backoff deadline
func (r *retryQueueRepository) Reschedule(id uint, retryCount int, nextRetryAt time.Time, errMsg string) error {
	return r.db.Model(&models.RetryQueueItem{}).Where("id = ?", id).Updates(map[string]interface{}{
		"status":           models.RetryStatusPending,
		"retry_count":      retryCount,
		"next_retry_at":    &nextRetryAt,
		"lease_claimed_at": nil,
		"error_msg":        errMsg,
	}).Error
}

// MarkFailed transitions processing -> failed (terminal, retries exhausted)
func (r *retryQueueRepository) MarkFailed(id uint, retryCount int, errMsg string) error {
	return r.db.Model(&models.RetryQueueItem{}).Where("id = ?", id).Updates(map[string]interface{}{
		"status":           models.RetryStatusFailed,
		"retry_count":      retryCount,
		"lease_claimed_at": nil,
		"error_msg":        errMsg,
	}).Error
}

// ReclaimExpired reverts items stuck in processing past the lease deadline
// back to pending so a crashed worker cannot strand them forever.
func (r *retryQueueRepository) ReclaimExpired(claimedBefore time.Time) (int64, error) {
	tx := r.db.Model(&models.RetryQueueItem{}).
		Where("status = ? AND lease_claimed_at IS NOT NULL AND lease_claimed_at < ?",
			models.RetryStatusProcessing, claimedBefore).
		Updates(map[string]interface{}{
			"status":           models.RetryStatusPending,
			"lease_claimed_at": nil,
			"error_msg":        "lease expired, reclaimed",
		})
	return tx.RowsAffected, tx.Error
}

// CountByStatus returns item counts grouped by status
func (r *retryQueueRepository) CountByStatus() (map[models.RetryStatus]int64, error) {
	var rows []struct {
		Status models.RetryStatus
		Count  int64
	}
	err := r.db.Model(&models.RetryQueueItem{}).
		Select("status, COUNT(*) as count").
		Group("status").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	result := make(map[models.RetryStatus]int64, len(rows))
	for _, row := range rows {
		result[row.Status] = row.Count
	}
	return result, nil
}
