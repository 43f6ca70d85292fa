package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/atherial/sendqueue/models"
	"gorm.io/gorm"
)

// SendingAccountRepositoryImpl implements SendingAccountRepository
type SendingAccountRepositoryImpl struct {
	*BaseRepository[models.SendingAccount, models.SendingAccountFilter]
}

func NewSendingAccountRepository(db *gorm.DB) SendingAccountRepository {
	return &SendingAccountRepositoryImpl{BaseRepository: NewBaseRepository[models.SendingAccount, models.SendingAccountFilter](db)}
}

func (r *SendingAccountRepositoryImpl) ByProviderAccountID(ctx context.Context, providerAccountID string) (*models.SendingAccount, error) {
	db := r.getDB(ctx)

	var account models.SendingAccount
	err := db.Where("provider_account_id = ?", providerAccountID).First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find account by provider account id: %w", err)
	}
	return &account, nil
}

func (r *SendingAccountRepositoryImpl) applyFilter(db *gorm.DB, f models.SendingAccountFilter) *gorm.DB {
	if f.ID != nil {
		db = db.Where("id = ?", *f.ID)
	}
	if f.Status != nil {
		db = db.Where("status = ?", *f.Status)
	}
	if f.ProviderAccountID != nil {
		db = db.Where("provider_account_id = ?", *f.ProviderAccountID)
	}
	if f.CreatedAfter != nil {
		db = db.Where("created_at >= ?", *f.CreatedAfter)
	}
	if f.CreatedBefore != nil {
		db = db.Where("created_at < ?", *f.CreatedBefore)
	}
	return db
}

func (r *SendingAccountRepositoryImpl) ByFilter(ctx context.Context, filter models.SendingAccountFilter, orderBy string, limit, offset int) ([]*models.SendingAccount, error) {
	db := r.getDB(ctx)
	query := r.applyFilter(db.Model(&models.SendingAccount{}), filter)
	if orderBy != "" {
		query = query.Order(orderBy)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}
	var rows []*models.SendingAccount
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *SendingAccountRepositoryImpl) Count(ctx context.Context, filter models.SendingAccountFilter) (int64, error) {
	db := r.getDB(ctx)
	query := r.applyFilter(db.Model(&models.SendingAccount{}), filter)
	var count int64
	if err := query.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}
