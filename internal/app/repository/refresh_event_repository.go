package repository

import (
	"context"

	"github.com/adaptivelab/bitly-historics/internal/app/model"
	"gorm.io/gorm"
)

// RefreshEventRepository defines the data access contract for refresh audit events.
type RefreshEventRepository interface {
	Create(ctx context.Context, event *model.RefreshEvent) error
	ListByHash(ctx context.Context, hash string, limit int) ([]model.RefreshEvent, error)
}

type refreshEventRepository struct {
	db *gorm.DB
}

// NewRefreshEventRepository returns a GORM-backed RefreshEventRepository.
func NewRefreshEventRepository(db *gorm.DB) RefreshEventRepository {
	return &refreshEventRepository{db: db}
}

func (r *refreshEventRepository) Create(ctx context.Context, event *model.RefreshEvent) error {
	return r.db.WithContext(ctx).Create(event).Error
}

func (r *refreshEventRepository) ListByHash(ctx context.Context, hash string, limit int) ([]model.RefreshEvent, error) {
	if limit <= 0 {
		limit = 20
	}

	var result []model.RefreshEvent
	if err := r.db.WithContext(ctx).
		Where("hash = ?", hash).
		Order("timestamp DESC").
		Limit(limit).
		Find(&result).Error; err != nil {
		return nil, err
	}
	return result, nil
}
