package repository

import (
	"context"
	"errors"

	"github.com/adaptivelab/bitly-historics/internal/app/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrLinkNotFound signals that the requested short link is not tracked.
	ErrLinkNotFound = errors.New("link not found")
)

// LinkRepository is the registry of discovered short links.
type LinkRepository interface {
	// RegisterIfNew inserts link unless a record with the same short link
	// exists. It reports whether a row was inserted.
	RegisterIfNew(ctx context.Context, link *model.ShortLink) (bool, error)
	GetByShortLink(ctx context.Context, shortLink string) (*model.ShortLink, error)
	FindByDomain(ctx context.Context, domain string) ([]model.ShortLink, error)
	DistinctDomains(ctx context.Context) ([]string, error)
	All(ctx context.Context) ([]model.ShortLink, error)
	Count(ctx context.Context) (int64, error)
	CountByDomain(ctx context.Context, domain string) (int64, error)
}

type linkRepository struct {
	db *gorm.DB
}

// NewLinkRepository returns a GORM-backed LinkRepository.
func NewLinkRepository(db *gorm.DB) LinkRepository {
	return &linkRepository{db: db}
}

func (r *linkRepository) RegisterIfNew(ctx context.Context, link *model.ShortLink) (bool, error) {
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "short_link"}},
			DoNothing: true,
		}).
		Create(link)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *linkRepository) GetByShortLink(ctx context.Context, shortLink string) (*model.ShortLink, error) {
	var link model.ShortLink
	if err := r.db.WithContext(ctx).Where("short_link = ?", shortLink).First(&link).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrLinkNotFound
		}
		return nil, err
	}
	return &link, nil
}

func (r *linkRepository) FindByDomain(ctx context.Context, domain string) ([]model.ShortLink, error) {
	var result []model.ShortLink
	if err := r.db.WithContext(ctx).
		Where("domain = ?", domain).
		Order("created_at ASC, short_link ASC").
		Find(&result).Error; err != nil {
		return nil, err
	}
	return result, nil
}

func (r *linkRepository) DistinctDomains(ctx context.Context) ([]string, error) {
	var domains []string
	if err := r.db.WithContext(ctx).
		Model(&model.ShortLink{}).
		Distinct("domain").
		Order("domain ASC").
		Pluck("domain", &domains).Error; err != nil {
		return nil, err
	}
	return domains, nil
}

func (r *linkRepository) All(ctx context.Context) ([]model.ShortLink, error) {
	var result []model.ShortLink
	if err := r.db.WithContext(ctx).
		Order("created_at ASC, short_link ASC").
		Find(&result).Error; err != nil {
		return nil, err
	}
	return result, nil
}

func (r *linkRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.ShortLink{}).Count(&count).Error
	return count, err
}

func (r *linkRepository) CountByDomain(ctx context.Context, domain string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.ShortLink{}).Where("domain = ?", domain).Count(&count).Error
	return count, err
}
