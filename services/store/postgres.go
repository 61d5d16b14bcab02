package store

import (
	"context"
	"errors"
	"iter"
	"time"

	"sjsage522/pricewatch/internal/product"
	"sjsage522/pricewatch/logger"
	apperrors "sjsage522/pricewatch/pkg/errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS price_observations (
    id          BIGSERIAL PRIMARY KEY,
    product_id  TEXT NOT NULL,
    site        TEXT NOT NULL,
    price       NUMERIC(20,4) NOT NULL,
    observed_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_product_observed ON price_observations (product_id, observed_at);
`

// PostgresStore implements PriceStore with a pgx connection pool
type PostgresStore struct {
	pool *pgxpool.Pool
	log  *logger.Logger
}

// NewPostgresStore connects, pings and creates the schema
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, apperrors.NewStore("", "failed to parse config", err)
	}
	// Single writer, a couple of readers for the dashboard
	poolConfig.MaxConns = 4

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, apperrors.NewStore("", "failed to create pool", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, apperrors.NewStore("", "failed to ping database", err)
	}

	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, apperrors.NewStore("", "failed to create schema", err)
	}

	log := logger.ForStore().WithStr("dialect", "postgres")
	log.Info().
		Str("host", poolConfig.ConnConfig.Host).
		Str("database", poolConfig.ConnConfig.Database).
		Msg("price store ready")

	return &PostgresStore{pool: pool, log: log}, nil
}

// Append persists a new observation
func (s *PostgresStore) Append(ctx context.Context, obs product.Observation) error {
	if err := s.append(ctx, obs); err != nil {
		s.log.Error().Err(err).Str("product", obs.ProductID).Msg("append rejected")
		return err
	}

	s.log.Debug().
		Str("product", obs.ProductID).
		Str("price", obs.Price.String()).
		Msg("observation appended")
	return nil
}

func (s *PostgresStore) append(ctx context.Context, obs product.Observation) error {
	// timestamptz keeps microseconds
	obs.ObservedAt = obs.ObservedAt.UTC().Truncate(time.Microsecond)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return apperrors.NewStore(obs.ProductID, "failed to begin transaction", err)
	}
	defer tx.Rollback(ctx)

	// Serialize appends per product so the monotonic check holds
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, obs.ProductID); err != nil {
		return apperrors.NewStore(obs.ProductID, "failed to lock product", err)
	}

	latest, exists, err := pgLatest(ctx, tx, obs.ProductID)
	if err != nil {
		return apperrors.NewStore(obs.ProductID, "failed to read latest observation", err)
	}
	if err := checkMonotonic(obs, latest, exists); err != nil {
		return err
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO price_observations (product_id, site, price, observed_at) VALUES ($1, $2, $3::numeric, $4)`,
		obs.ProductID, obs.Site, obs.Price.String(), obs.ObservedAt)
	if err != nil {
		return apperrors.NewStore(obs.ProductID, "failed to insert observation", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return apperrors.NewStore(obs.ProductID, "failed to commit transaction", err)
	}
	return nil
}

// Latest returns the most recent observation of a product
func (s *PostgresStore) Latest(ctx context.Context, productID string) (product.Observation, bool, error) {
	obs, exists, err := pgLatest(ctx, s.pool, productID)
	if err != nil {
		return product.Observation{}, false, apperrors.NewStore(productID, "failed to read latest observation", err)
	}
	return obs, exists, nil
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func pgLatest(ctx context.Context, q querier, productID string) (product.Observation, bool, error) {
	row := q.QueryRow(ctx, `
SELECT product_id, site, price::text, observed_at
FROM price_observations
WHERE product_id = $1
ORDER BY observed_at DESC, id DESC
LIMIT 1`, productID)

	obs, err := scanObservation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return product.Observation{}, false, nil
	}
	if err != nil {
		return product.Observation{}, false, err
	}
	return obs, true, nil
}

// History yields observations ordered by timestamp, reading rows lazily
func (s *PostgresStore) History(ctx context.Context, productID string) iter.Seq2[product.Observation, error] {
	return func(yield func(product.Observation, error) bool) {
		rows, err := s.pool.Query(ctx, `
SELECT product_id, site, price::text, observed_at
FROM price_observations
WHERE product_id = $1
ORDER BY observed_at ASC, id ASC`, productID)
		if err != nil {
			yield(product.Observation{}, apperrors.NewStore(productID, "failed to query history", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			obs, err := scanObservation(rows)
			if err != nil {
				yield(product.Observation{}, apperrors.NewStore(productID, "failed to scan history row", err))
				return
			}
			if !yield(obs, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(product.Observation{}, apperrors.NewStore(productID, "failed to iterate history", err))
		}
	}
}

// LowestSince returns the minimum price observed at or after since
func (s *PostgresStore) LowestSince(ctx context.Context, productID string, since time.Time) (decimal.Decimal, bool, error) {
	var lowest *string
	err := s.pool.QueryRow(ctx,
		`SELECT MIN(price)::text FROM price_observations WHERE product_id = $1 AND observed_at >= $2`,
		productID, since.UTC()).Scan(&lowest)
	if err != nil {
		return decimal.Zero, false, apperrors.NewStore(productID, "failed to query lowest price", err)
	}
	if lowest == nil {
		return decimal.Zero, false, nil
	}

	price, err := decimal.NewFromString(*lowest)
	if err != nil {
		return decimal.Zero, false, apperrors.NewStore(productID, "invalid stored price", err)
	}
	return price, true, nil
}

// Products returns the ids of all products with stored history
func (s *PostgresStore) Products(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT product_id FROM price_observations ORDER BY product_id`)
	if err != nil {
		return nil, apperrors.NewStore("", "failed to list products", err)
	}

	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, apperrors.NewStore("", "failed to list products", err)
	}
	return ids, nil
}

// Close closes the connection pool
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func scanObservation(row pgx.Row) (product.Observation, error) {
	var (
		obs   product.Observation
		price string
	)
	if err := row.Scan(&obs.ProductID, &obs.Site, &price, &obs.ObservedAt); err != nil {
		return product.Observation{}, err
	}

	p, err := decimal.NewFromString(price)
	if err != nil {
		return product.Observation{}, err
	}
	obs.Price = p
	obs.ObservedAt = obs.ObservedAt.UTC()
	return obs, nil
}
