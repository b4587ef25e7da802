package repository

import (
	"github.com/ManuelReschke/BillFox/app/models"
	"gorm.io/gorm"
)

// adminActionRepository implements the AdminActionRepository interface
type adminActionRepository struct {
	db *gorm.DB
}

// NewAdminActionRepository creates a new admin action repository instance
func NewAdminActionRepository(db *gorm.DB) AdminActionRepository {
	return &adminActionRepository{db: db}
}

// Create appends an audit row. Audit rows are never updated or deleted here.
func (r *adminActionRepository) Create(action *models.AdminAction) error {
	return r.db.Create(action).Error
}

// ListRecent returns the newest audit rows
func (r *adminActionRepository) ListRecent(limit int) ([]models.AdminAction, error) {
	var actions []models.AdminAction
	err := r.db.Order("created_at DESC").Limit(limit).Find(&actions).Error
	return actions, err
}
