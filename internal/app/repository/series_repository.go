package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/adaptivelab/bitly-historics/internal/app/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrSeriesNotFound signals that no clicks were ever stored for a hash.
	ErrSeriesNotFound = errors.New("click series not found")
)

// SeriesRepository stores click series keyed by hash.
type SeriesRepository interface {
	Get(ctx context.Context, hash string) (*model.ClickSeries, error)
	FindByHashes(ctx context.Context, hashes []string) (map[string]*model.ClickSeries, error)
	All(ctx context.Context) (map[string]*model.ClickSeries, error)
	// Update loads the series for hash, creating an empty one when missing,
	// applies fn and saves the result. The whole step holds a row lock so
	// concurrent updates to the same hash are serialised.
	Update(ctx context.Context, hash string, fn func(series *model.ClickSeries) error) (*model.ClickSeries, error)
}

type seriesRepository struct {
	db *gorm.DB
}

// NewSeriesRepository returns a GORM-backed SeriesRepository.
func NewSeriesRepository(db *gorm.DB) SeriesRepository {
	return &seriesRepository{db: db}
}

func (r *seriesRepository) Get(ctx context.Context, hash string) (*model.ClickSeries, error) {
	var series model.ClickSeries
	if err := r.db.WithContext(ctx).Where("hash = ?", hash).First(&series).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSeriesNotFound
		}
		return nil, err
	}
	return &series, nil
}

func (r *seriesRepository) FindByHashes(ctx context.Context, hashes []string) (map[string]*model.ClickSeries, error) {
	result := make(map[string]*model.ClickSeries, len(hashes))
	if len(hashes) == 0 {
		return result, nil
	}

	var rows []model.ClickSeries
	if err := r.db.WithContext(ctx).Where("hash IN ?", hashes).Find(&rows).Error; err != nil {
		return nil, err
	}
	for i := range rows {
		result[rows[i].Hash] = &rows[i]
	}
	return result, nil
}

func (r *seriesRepository) All(ctx context.Context) (map[string]*model.ClickSeries, error) {
	var rows []model.ClickSeries
	if err := r.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, err
	}
	result := make(map[string]*model.ClickSeries, len(rows))
	for i := range rows {
		result[rows[i].Hash] = &rows[i]
	}
	return result, nil
}

func (r *seriesRepository) Update(ctx context.Context, hash string, fn func(series *model.ClickSeries) error) (*model.ClickSeries, error) {
	var series model.ClickSeries

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		empty := model.ClickSeries{
			Hash:          hash,
			Samples:       []model.Sample{},
			LastRefreshed: model.NeverRefreshed,
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "hash"}},
			DoNothing: true,
		}).Create(&empty).Error; err != nil {
			return fmt.Errorf("create series: %w", err)
		}

		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("hash = ?", hash).
			First(&series).Error; err != nil {
			return fmt.Errorf("lock series: %w", err)
		}

		if err := fn(&series); err != nil {
			return err
		}

		series.LastSampleAt = nil
		if last, ok := series.LastSample(); ok {
			t := last.Time
			series.LastSampleAt = &t
		}

		if err := tx.Save(&series).Error; err != nil {
			return fmt.Errorf("save series: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &series, nil
}
