package repository

import (
	"time"

	"github.com/ManuelReschke/BillFox/app/models"
	"gorm.io/gorm"
)

// UserRepository defines the interface for subscriber-related database operations
type UserRepository interface {
	Create(user *models.User) error
	GetByID(id uint) (*models.User, error)
	GetByEmail(email string) (*models.User, error)
	GetByProviderCustomerID(customerID string) (*models.User, error)
	Update(user *models.User) error
	UpdateBillingFields(userID uint, fields map[string]interface{}) error
	ListWithSubscription() ([]models.User, error)
	ListAdmins() ([]models.User, error)
	CountStale(olderThan time.Time) (int64, error)
	Count() (int64, error)
}

// SyncReportRepository defines the interface for sync run bookkeeping
type SyncReportRepository interface {
	Create(report *models.SyncReport) error
	Update(report *models.SyncReport) error
	GetByRunID(runID string) (*models.SyncReport, error)
	ListRecent(limit int) ([]models.SyncReport, error)
	ListCompletedSince(since time.Time) ([]models.SyncReport, error)
}

// BillingEventRepository defines the interface for provider event records
type BillingEventRepository interface {
	CreateIfNotExists(event *models.BillingEvent) (bool, *models.BillingEvent, error)
	GetByProviderEventID(providerEventID string) (*models.BillingEvent, error)
	MarkProcessed(id uint) error
	RecordFailure(id uint, errMsg string) error
	CountPendingSince(since time.Time) (int64, error)
}

// WebhookDeliveryRepository defines the interface for delivery attempt records
type WebhookDeliveryRepository interface {
	Create(delivery *models.WebhookDelivery) error
	UpdateStatus(id uint, status string, retryCount int, errMsg string) error
	CountFailedSince(since time.Time) (int64, error)
}

// RetryQueueRepository defines the interface for the deferred-operation queue.
// Claim must be implemented as a single conditional update so concurrent
// processors cannot double-execute an item, and must re-check the backoff
// deadline so an item rescheduled after the DueItems read cannot be run early.
type RetryQueueRepository interface {
	Enqueue(item *models.RetryQueueItem) error
	DueItems(now time.Time, limit int) ([]models.RetryQueueItem, error)
	Claim(id uint, now time.Time) (bool, error)
	MarkSuccess(id uint, completedAt time.Time) error
	Reschedule(id uint, retryCount int, nextRetryAt time.Time, errMsg string) error
	MarkFailed(id uint, retryCount int, errMsg string) error
	ReclaimExpired(claimedBefore time.Time) (int64, error)
	CountByStatus() (map[models.RetryStatus]int64, error)
}

// AdminActionRepository defines the interface for the audit trail
type AdminActionRepository interface {
	Create(action *models.AdminAction) error
	ListRecent(limit int) ([]models.AdminAction, error)
}

// Repositories struct holds all repository instances
type Repositories struct {
	User            UserRepository
	SyncReport      SyncReportRepository
	BillingEvent    BillingEventRepository
	WebhookDelivery WebhookDeliveryRepository
	RetryQueue      RetryQueueRepository
	AdminAction     AdminActionRepository
}

// NewRepositories creates a new instance of all repositories
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		User:            NewUserRepository(db),
		SyncReport:      NewSyncReportRepository(db),
		BillingEvent:    NewBillingEventRepository(db),
		WebhookDelivery: NewWebhookDeliveryRepository(db),
		RetryQueue:      NewRetryQueueRepository(db),
		AdminAction:     NewAdminActionRepository(db),
	}
}
