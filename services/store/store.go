package store

import (
	"context"
	"fmt"
	"iter"
	"time"

	"sjsage522/pricewatch/config"
	"sjsage522/pricewatch/internal/product"
	apperrors "sjsage522/pricewatch/pkg/errors"

	"github.com/shopspring/decimal"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
)

// PriceStore is the append-only log of price observations
type PriceStore interface {
	// Append persists a new observation. Its timestamp must be after the
	// latest stored observation of the same product.
	Append(ctx context.Context, obs product.Observation) error

	// Latest returns the most recent observation; false means no history yet
	Latest(ctx context.Context, productID string) (product.Observation, bool, error)

	// History yields all observations of a product in timestamp order. Every
	// range over the sequence runs a fresh query.
	History(ctx context.Context, productID string) iter.Seq2[product.Observation, error]

	// LowestSince returns the minimum price observed at or after since
	LowestSince(ctx context.Context, productID string, since time.Time) (decimal.Decimal, bool, error)

	// Products returns the ids of all products with stored history
	Products(ctx context.Context) ([]string, error)

	// Close releases the underlying connection
	Close() error
}

// Open connects to the store selected by driver
func Open(ctx context.Context, driver, dsn string) (PriceStore, error) {
	switch driver {
	case config.DriverSQLite:
		return NewGormStore(sqlite.Open(dsn))
	case config.DriverMySQL:
		return NewGormStore(mysql.Open(dsn))
	case config.DriverPostgres:
		return NewPostgresStore(ctx, dsn)
	default:
		return nil, apperrors.NewConfiguration(fmt.Sprintf("unsupported store driver %q", driver), nil)
	}
}

// checkMonotonic rejects obs when it is not strictly newer than latest
func checkMonotonic(obs product.Observation, latest product.Observation, exists bool) error {
	if exists && !obs.ObservedAt.After(latest.ObservedAt) {
		return apperrors.NewStore(obs.ProductID,
			fmt.Sprintf("observation at %s is not after latest %s",
				obs.ObservedAt.Format(time.RFC3339Nano), latest.ObservedAt.Format(time.RFC3339Nano)), nil)
	}
	return nil
}

// Collect drains a history sequence into a slice
func Collect(seq iter.Seq2[product.Observation, error]) ([]product.Observation, error) {
	var out []product.Observation
	for obs, err := range seq {
		if err != nil {
			return nil, err
		}
		out = append(out, obs)
	}
	return out, nil
}
