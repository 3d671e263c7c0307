package sink

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const pgUpsert = `
INSERT INTO enriched_properties (
    record_key, raw_address, canonical_address, validated, attom_id,
    est_balance, available_equity, ltv, loans_count, stage, processed_at, updated_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
ON CONFLICT (record_key) DO UPDATE SET
    raw_address = EXCLUDED.raw_address,
    canonical_address = EXCLUDED.canonical_address,
    validated = EXCLUDED.validated,
    attom_id = EXCLUDED.attom_id,
    est_balance = EXCLUDED.est_balance,
    available_equity = EXCLUDED.available_equity,
    ltv = EXCLUDED.ltv,
    loans_count = EXCLUDED.loans_count,
    stage = EXCLUDED.stage,
    processed_at = EXCLUDED.processed_at,
    updated_at = EXCLUDED.updated_at`

const pgSelect = `
SELECT record_key, raw_address, canonical_address, validated, attom_id,
       est_balance, available_equity, ltv, loans_count, stage, processed_at, updated_at
FROM enriched_properties WHERE record_key = $1`

// PostgresStore upserts through a pgx connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// NewPostgres wraps an existing pool. Close closes the pool.
func NewPostgres(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Upsert(ctx context.Context, rec Record) error {
	var attomID *string
	if rec.AttomID != "" {
		attomID = &rec.AttomID
	}
	_, err := s.pool.Exec(ctx, pgUpsert,
		rec.Key, rec.RawAddress, rec.CanonicalAddress, rec.Validated, attomID,
		toNumeric(rec.EstBalance), toNumeric(rec.AvailableEquity), toNumeric(rec.LTV),
		rec.LoansCount, rec.Stage, rec.ProcessedAt, rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert %s: %w", rec.Key, err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, key string) (Record, bool, error) {
	var (
		rec                     Record
		attomID                 *string
		balance, equity, ltvNum pgtype.Numeric
	)
	err := s.pool.QueryRow(ctx, pgSelect, key).Scan(
		&rec.Key, &rec.RawAddress, &rec.CanonicalAddress, &rec.Validated, &attomID,
		&balance, &equity, &ltvNum, &rec.LoansCount, &rec.Stage, &rec.ProcessedAt, &rec.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("get %s: %w", key, err)
	}
	if attomID != nil {
		rec.AttomID = *attomID
	}
	rec.EstBalance = fromNumeric(balance)
	rec.AvailableEquity = fromNumeric(equity)
	rec.LTV = fromNumeric(ltvNum)
	rec.ProcessedAt = rec.ProcessedAt.UTC()
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	return rec, true, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func toNumeric(d decimal.NullDecimal) pgtype.Numeric {
	if !d.Valid {
		return pgtype.Numeric{}
	}
	return pgtype.Numeric{Int: d.Decimal.Coefficient(), Exp: d.Decimal.Exponent(), Valid: true}
}

func fromNumeric(n pgtype.Numeric) decimal.NullDecimal {
	if !n.Valid || n.NaN || n.Int == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(decimal.NewFromBigInt(n.Int, n.Exp))
}
