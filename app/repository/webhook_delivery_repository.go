package repository

import (
	"time"

	"github.com/ManuelReschke/BillFox/app/models"
	"gorm.io/gorm"
)

// webhookDeliveryRepository implements the WebhookDeliveryRepository interface
type webhookDeliveryRepository struct {
	db *gorm.DB
}

// NewWebhookDeliveryRepository creates a new webhook delivery repository instance
func NewWebhookDeliveryRepository(db *gorm.DB) WebhookDeliveryRepository {
	return &webhookDeliveryRepository{db: db}
}

// Create records a new delivery attempt
func (r *webhookDeliveryRepository) Create(delivery *models.WebhookDelivery) error {
	return r.db.Create(delivery).Error
}

// UpdateStatus transitions a delivery attempt and stores the outcome
func (r *webhookDeliveryRepository) UpdateStatus(id uint, status string, retryCount int, errMsg string) error {
	return r.db.Model(&models.WebhookDelivery{}).Where("id = ?", id).Updates(map[string]interface{}{
		"status":      status,
		"retry_count": retryCount,
		"error_msg":   errMsg,
	}).Error
}

// CountFailedSince counts failed deliveries within the lookback window
func (r *webhookDeliveryRepository) CountFailedSince(since time.Time) (int64, error) {
	var count int64
	err := r.db.Model(&models.WebhookDelivery{}).
		Where("status = ? AND created_at >= ?", models.DeliveryStatusFailed, since).
		Count(&count).Error
	return count, err
}
