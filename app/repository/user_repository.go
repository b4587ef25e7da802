package repository

import (
	"strings"
	"time"

	"github.com/ManuelReschke/BillFox/app/models"
	"gorm.io/gorm"
)

// userRepository implements the UserRepository interface
type userRepository struct {
	db *gorm.DB
}

// NewUserRepository creates a new user repository instance
func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{db: db}
}

// Create creates a new user in the database
func (r *userRepository) Create(user *models.User) error {
	return r.db.Create(user).Error
}

// GetByID retrieves a user by their ID
func (r *userRepository) GetByID(id uint) (*models.User, error) {
	var user models.User
	err := r.db.First(&user, id).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// GetByEmail retrieves a user by their email address
func (r *userRepository) GetByEmail(email string) (*models.User, error) {
	var user models.User
	err := r.db.Where("email = ?", email).First(&user).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// GetByProviderCustomerID resolves a provider customer reference to the local user
func (r *userRepository) GetByProviderCustomerID(customerID string) (*models.User, error) {
	trimmed := strings.TrimSpace(customerID)
	if trimmed == "" {
		return nil, gorm.ErrRecordNotFound
	}
	var user models.User
	err := r.db.Where("provider_customer_id = ?", trimmed).First(&user).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// Update updates an existing user in the database
func (r *userRepository) Update(user *models.User) error {
	return r.db.Save(user).Error
}

// UpdateBillingFields applies a partial billing mutation to a single user.
// Used by the sync coordinator and by the update_record retry handler.
func (r *userRepository) UpdateBillingFields(userID uint, fields map[string]interface{}) error {
	return r.db.Model(&models.User{}).Where("id = ?", userID).Updates(fields).Error
}

// ListWithSubscription returns all users holding an external subscription reference
func (r *userRepository) ListWithSubscription() ([]models.User, error) {
	var users []models.User
	err := r.db.
		Where("provider_subscription_id IS NOT NULL AND provider_subscription_id <> ''").
		Order("id ASC").
		Find(&users).Error
	return users, err
}

// ListAdmins returns all active operator accounts (alert recipients)
func (r *userRepository) ListAdmins() ([]models.User, error) {
	var users []models.User
	err := r.db.
		Where("role = ? AND status = ?", models.ROLE_ADMIN, models.STATUS_ACTIVE).
		Find(&users).Error
	return users, err
}

// CountStale counts subscribed users whose last sync is older than the threshold
func (r *userRepository) CountStale(olderThan time.Time) (int64, error) {
	var count int64
	err := r.db.Model(&models.User{}).
		Where("provider_subscription_id IS NOT NULL AND provider_subscription_id <> ''").
		Where("last_synced_at IS NULL OR last_synced_at < ?", olderThan).
		Count(&count).Error
	return count, err
}

// Count returns the total number of users
func (r *userRepository) Count() (int64, error) {
	var count int64
	err := r.db.Model(&models.User{}).Count(&count).Error
	return count, err
}
