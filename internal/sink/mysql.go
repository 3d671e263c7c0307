package sink

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

const mysqlUpsert = `
INSERT INTO enriched_properties (
    record_key, raw_address, canonical_address, validated, attom_id,
    est_balance, available_equity, ltv, loans_count, stage, processed_at, updated_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE
    raw_address = VALUES(raw_address),
    canonical_address = VALUES(canonical_address),
    validated = VALUES(validated),
    attom_id = VALUES(attom_id),
    est_balance = VALUES(est_balance),
    available_equity = VALUES(available_equity),
    ltv = VALUES(ltv),
    loans_count = VALUES(loans_count),
    stage = VALUES(stage),
    processed_at = VALUES(processed_at),
    updated_at = VALUES(updated_at)`

const mysqlSelect = `
SELECT record_key, raw_address, canonical_address, validated, attom_id,
       est_balance, available_equity, ltv, loans_count, stage, processed_at, updated_at
FROM enriched_properties WHERE record_key = ?`

// MySQLStore upserts through database/sql and go-sql-driver/mysql.
type MySQLStore struct {
	db *sql.DB
}

// OpenMySQL expects a driver DSN (see storage.ParseDSN) with parseTime enabled.
func OpenMySQL(ctx context.Context, dsn string) (*MySQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetMaxOpenConns(16)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping mysql: %w", err)
	}
	return &MySQLStore{db: db}, nil
}

func (s *MySQLStore) Upsert(ctx context.Context, rec Record) error {
	_, err := s.db.ExecContext(ctx, mysqlUpsert,
		rec.Key, rec.RawAddress, rec.CanonicalAddress, rec.Validated, nullString(rec.AttomID),
		rec.EstBalance, rec.AvailableEquity, rec.LTV,
		rec.LoansCount, rec.Stage, rec.ProcessedAt.UTC(), rec.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("upsert %s: %w", rec.Key, err)
	}
	return nil
}

func (s *MySQLStore) Get(ctx context.Context, key string) (Record, bool, error) {
	var (
		rec     Record
		attomID sql.NullString
	)
	err := s.db.QueryRowContext(ctx, mysqlSelect, key).Scan(
		&rec.Key, &rec.RawAddress, &rec.CanonicalAddress, &rec.Validated, &attomID,
		&rec.EstBalance, &rec.AvailableEquity, &rec.LTV, &rec.LoansCount, &rec.Stage,
		&rec.ProcessedAt, &rec.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("get %s: %w", key, err)
	}
	rec.AttomID = attomID.String
	rec.ProcessedAt = rec.ProcessedAt.UTC()
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	return rec, true, nil
}

func (s *MySQLStore) Close() error {
	return s.db.Close()
}
