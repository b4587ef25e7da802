package repository

import (
	"time"

	"github.com/ManuelReschke/BillFox/app/models"
	"gorm.io/gorm"
)

// syncReportRepository implements the SyncReportRepository interface
type syncReportRepository struct {
	db *gorm.DB
}

// NewSyncReportRepository creates a new sync report repository instance
func NewSyncReportRepository(db *gorm.DB) SyncReportRepository {
	return &syncReportRepository{db: db}
}

// Create creates a new sync report row (status running)
func (r *syncReportRepository) Create(report *models.SyncReport) error {
	return r.db.Create(report).Error
}

// Update persists run completion. Completed reports are never touched again.
func (r *syncReportRepository) Update(report *models.SyncReport) error {
	return r.db.Save(report).Error
}

// GetByRunID retrieves a report by its public run id
func (r *syncReportRepository) GetByRunID(runID string) (*models.SyncReport, error) {
	var report models.SyncReport
	err := r.db.Where("run_id = ?", runID).First(&report).Error
	if err != nil {
		return nil, err
	}
	return &report, nil
}

// ListRecent returns the newest reports for the admin dashboard
func (r *syncReportRepository) ListRecent(limit int) ([]models.SyncReport, error) {
	var reports []models.SyncReport
	err := r.db.Order("started_at DESC").Limit(limit).Find(&reports).Error
	return reports, err
}

// ListCompletedSince returns completed reports newer than the given time
func (r *syncReportRepository) ListCompletedSince(since time.Time) ([]models.SyncReport, error) {
	var reports []models.SyncReport
	err := r.db.
		Where("completed_at IS NOT NULL AND completed_at >= ?", since).
		Order("completed_at ASC").
		Find(&reports).Error
	return reports, err
}
