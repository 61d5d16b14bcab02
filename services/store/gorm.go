package store

import (
	"context"
	"errors"
	"iter"
	"time"

	"sjsage522/pricewatch/internal/product"
	"sjsage522/pricewatch/logger"
	apperrors "sjsage522/pricewatch/pkg/errors"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// priceObservation is the row layout of the price_observations table
type priceObservation struct {
	ID         uint            `gorm:"primaryKey"`
	ProductID  string          `gorm:"size:191;not null;index:idx_product_observed,priority:1"`
	Site       string          `gorm:"size:64;not null"`
	Price      decimal.Decimal `gorm:"type:decimal(20,4);not null"`
	ObservedAt time.Time       `gorm:"not null;index:idx_product_observed,priority:2"`
}

func (priceObservation) TableName() string {
	return "price_observations"
}

func (r priceObservation) toObservation() product.Observation {
	return product.Observation{
		ProductID:  r.ProductID,
		Price:      r.Price,
		ObservedAt: r.ObservedAt.UTC(),
		Site:       r.Site,
	}
}

// GormStore implements PriceStore on top of gorm, used for sqlite and mysql
type GormStore struct {
	db  *gorm.DB
	log *logger.Logger
}

// NewGormStore opens the database and migrates the observations table
func NewGormStore(dialector gorm.Dialector) (*GormStore, error) {
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:  gormlogger.Default.LogMode(gormlogger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, apperrors.NewStore("", "failed to open database", err)
	}

	if err := db.AutoMigrate(&priceObservation{}); err != nil {
		return nil, apperrors.NewStore("", "failed to migrate database", err)
	}

	log := logger.ForStore().WithStr("dialect", dialector.Name())
	log.Info().Msg("price store ready")

	return &GormStore{db: db, log: log}, nil
}

// Append persists a new observation
func (s *GormStore) Append(ctx context.Context, obs product.Observation) error {
	// mysql datetime(3) keeps milliseconds
	obs.ObservedAt = obs.ObservedAt.UTC().Truncate(time.Millisecond)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		latest, exists, err := latestIn(tx, obs.ProductID)
		if err != nil {
			return apperrors.NewStore(obs.ProductID, "failed to read latest observation", err)
		}
		if err := checkMonotonic(obs, latest, exists); err != nil {
			return err
		}

		row := priceObservation{
			ProductID:  obs.ProductID,
			Site:       obs.Site,
			Price:      obs.Price,
			ObservedAt: obs.ObservedAt,
		}
		if err := tx.Create(&row).Error; err != nil {
			return apperrors.NewStore(obs.ProductID, "failed to insert observation", err)
		}
		return nil
	})
	if err != nil {
		s.log.Error().Err(err).Str("product", obs.ProductID).Msg("append rejected")
		return err
	}

	s.log.Debug().
		Str("product", obs.ProductID).
		Str("price", obs.Price.String()).
		Time("observed_at", obs.ObservedAt).
		Msg("observation appended")
	return nil
}

// Latest returns the most recent observation of a product
func (s *GormStore) Latest(ctx context.Context, productID string) (product.Observation, bool, error) {
	obs, exists, err := latestIn(s.db.WithContext(ctx), productID)
	if err != nil {
		return product.Observation{}, false, apperrors.NewStore(productID, "failed to read latest observation", err)
	}
	return obs, exists, nil
}

func latestIn(db *gorm.DB, productID string) (product.Observation, bool, error) {
	var row priceObservation
	err := db.Where("product_id = ?", productID).
		Order("observed_at DESC").Order("id DESC").
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return product.Observation{}, false, nil
	}
	if err != nil {
		return product.Observation{}, false, err
	}
	return row.toObservation(), true, nil
}

// History yields observations ordered by timestamp, reading rows lazily
func (s *GormStore) History(ctx context.Context, productID string) iter.Seq2[product.Observation, error] {
	return func(yield func(product.Observation, error) bool) {
		rows, err := s.db.WithContext(ctx).
			Model(&priceObservation{}).
			Where("product_id = ?", productID).
			Order("observed_at ASC").Order("id ASC").
			Rows()
		if err != nil {
			yield(product.Observation{}, apperrors.NewStore(productID, "failed to query history", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			var row priceObservation
			if err := s.db.ScanRows(rows, &row); err != nil {
				yield(product.Observation{}, apperrors.NewStore(productID, "failed to scan history row", err))
				return
			}
			if !yield(row.toObservation(), nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(product.Observation{}, apperrors.NewStore(productID, "failed to iterate history", err))
		}
	}
}

// LowestSince returns the minimum price observed at or after since
func (s *GormStore) LowestSince(ctx context.Context, productID string, since time.Time) (decimal.Decimal, bool, error) {
	var row priceObservation
	err := s.db.WithContext(ctx).
		Where("product_id = ? AND observed_at >= ?", productID, since.UTC()).
		Order("price ASC").
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, apperrors.NewStore(productID, "failed to query lowest price", err)
	}
	return row.Price, true, nil
}

// Products returns the ids of all products with stored history
func (s *GormStore) Products(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).
		Model(&priceObservation{}).
		Distinct("product_id").
		Order("product_id").
		Pluck("product_id", &ids).Error
	if err != nil {
		return nil, apperrors.NewStore("", "failed to list products", err)
	}
	return ids, nil
}

// Close closes the database connection
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	if err := sqlDB.Close(); err != nil {
		s.log.Warn().Err(err).Msg("failed to close database")
		return err
	}
	return nil
}
