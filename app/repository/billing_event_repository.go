package repository

import (
	"time"

	"github.com/ManuelReschke/BillFox/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// billingEventRepository implements the BillingEventRepository interface
type billingEventRepository struct {
	db *gorm.DB
}

// NewBillingEventRepository creates a new billing event repository instance
func NewBillingEventRepository(db *gorm.DB) BillingEventRepository {
	return &billingEventRepository{db: db}
}

// CreateIfNotExists inserts the event unless its provider event id was seen
// before. Returns created=false and the stored row for duplicates.
func (r *billingEventRepository) CreateIfNotExists(event *models.BillingEvent) (bool, *models.BillingEvent, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider_event_id"},
		},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.BillingEvent
	if err := r.db.Where("provider_event_id = ?", event.ProviderEventID).
		First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

// GetByProviderEventID retrieves an event by its external identifier
func (r *billingEventRepository) GetByProviderEventID(providerEventID string) (*models.BillingEvent, error) {
	var event models.BillingEvent
	err := r.db.Where("provider_event_id = ?", providerEventID).First(&event).Error
	if err != nil {
		return nil, err
	}
	return &event, nil
}

// MarkProcessed flags the event as handled and clears the last error
func (r *billingEventRepository) MarkProcessed(id uint) error {
	now := time.Now()
	return r.db.Model(&models.BillingEvent{}).Where("id = ?", id).Updates(map[string]interface{}{
		"processed":    true,
		"processed_at": &now,
		"last_error":   "",
	}).Error
}

// RecordFailure stores the processing error and bumps the retry counter
func (r *billingEventRepository) RecordFailure(id uint, errMsg string) error {
	return r.db.Model(&models.BillingEvent{}).Where("id = ?", id).Updates(map[string]interface{}{
		"retry_count": gorm.Expr("retry_count + 1"),
		"last_error":  errMsg,
	}).Error
}

// CountPendingSince counts unprocessed events received within the window
func (r *billingEventRepository) CountPendingSince(since time.Time) (int64, error) {
	var count int64
	err := r.db.Model(&models.BillingEvent{}).
		Where("processed = ? AND received_at >= ?", false, since).
		Count(&count).Error
	return count, err
}
