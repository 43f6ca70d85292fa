package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/atherial/sendqueue/models"
	"gorm.io/gorm"
)

// CampaignRepositoryImpl implements the CampaignRepository interface
type CampaignRepositoryImpl struct {
	*BaseRepository[models.Campaign, models.CampaignFilter]
}

func NewCampaignRepository(db *gorm.DB) CampaignRepository {
	return &CampaignRepositoryImpl{BaseRepository: NewBaseRepository[models.Campaign, models.CampaignFilter](db)}
}

// UpdateStatus is the only sanctioned mutator of campaign status
// (pause/resume/complete); raw row edits are not part of the contract
func (r *CampaignRepositoryImpl) UpdateStatus(ctx context.Context, id string, status models.CampaignStatus, now time.Time) error {
	if !status.Valid() {
		return fmt.Errorf("invalid campaign status: %s", status)
	}

	db := r.getDB(ctx)
	res := db.Model(&models.Campaign{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":     status,
			"updated_at": now,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to update campaign %s status: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("campaign %s not found", id)
	}
	return nil
}

func (r *CampaignRepositoryImpl) applyFilter(db *gorm.DB, f models.CampaignFilter) *gorm.DB {
	if f.ID != nil {
		db = db.Where("id = ?", *f.ID)
	}
	if f.Name != nil {
		db = db.Where("name = ?", *f.Name)
	}
	if f.Status != nil {
		db = db.Where("status = ?", *f.Status)
	}
	if f.CreatedAfter != nil {
		db = db.Where("created_at >= ?", *f.CreatedAfter)
	}
	if f.CreatedBefore != nil {
		db = db.Where("created_at < ?", *f.CreatedBefore)
	}
	return db
}

func (r *CampaignRepositoryImpl) ByFilter(ctx context.Context, filter models.CampaignFilter, orderBy string, limit, offset int) ([]*models.Campaign, error) {
	db := r.getDB(ctx)
	query := r.applyFilter(db.Model(&models.Campaign{}), filter)
	if orderBy != "" {
		query = query.Order(orderBy)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}
	var rows []*models.Campaign
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *CampaignRepositoryImpl) Count(ctx context.Context, filter models.CampaignFilter) (int64, error) {
	db := r.getDB(ctx)
	query := r.applyFilter(db.Model(&models.Campaign{}), filter)
	var count int64
	if err := query.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}
