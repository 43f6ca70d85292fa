package repository

import (
	"context"

	"github.com/atherial/sendqueue/models"
	"gorm.io/gorm"
)

// MessageEventRepositoryImpl implements MessageEventRepository
type MessageEventRepositoryImpl struct {
	*BaseRepository[models.MessageEvent, models.MessageEventFilter]
}

func NewMessageEventRepository(db *gorm.DB) MessageEventRepository {
	return &MessageEventRepositoryImpl{BaseRepository: NewBaseRepository[models.MessageEvent, models.MessageEventFilter](db)}
}

func (r *MessageEventRepositoryImpl) applyFilter(db *gorm.DB, f models.MessageEventFilter) *gorm.DB {
	if f.ID != nil {
		db = db.Where("id = ?", *f.ID)
	}
	if f.SendQueueID != nil {
		db = db.Where("send_queue_id = ?", *f.SendQueueID)
	}
	if f.CampaignID != nil {
		db = db.Where("campaign_id = ?", *f.CampaignID)
	}
	if f.AccountID != nil {
		db = db.Where("account_id = ?", *f.AccountID)
	}
	if f.EventType != nil {
		db = db.Where("event_type = ?", *f.EventType)
	}
	if f.CreatedAfter != nil {
		db = db.Where("created_at >= ?", *f.CreatedAfter)
	}
	if f.CreatedBefore != nil {
		db = db.Where("created_at < ?", *f.CreatedBefore)
	}
	return db
}

func (r *MessageEventRepositoryImpl) ByFilter(ctx context.Context, filter models.MessageEventFilter, orderBy string, limit, offset int) ([]*models.MessageEvent, error) {
	db := r.getDB(ctx)
	query := r.applyFilter(db.Model(&models.MessageEvent{}), filter)
	if orderBy != "" {
		query = query.Order(orderBy)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}
	var rows []*models.MessageEvent
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *MessageEventRepositoryImpl) Count(ctx context.Context, filter models.MessageEventFilter) (int64, error) {
	db := r.getDB(ctx)
	query := r.applyFilter(db.Model(&models.MessageEvent{}), filter)
	var count int64
	if err := query.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}
