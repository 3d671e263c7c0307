package sink

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/shpitdev/home-equity-pipeline/internal/enrich"
	"github.com/shpitdev/home-equity-pipeline/internal/storage"
)

// storeTimeout bounds one upsert. Upserts run detached from the run context so that
// results completed before a cancellation are still stored.
const storeTimeout = 10 * time.Second

// Record is one row of the relational target.
type Record struct {
	Key              string
	RawAddress       string
	CanonicalAddress string
	Validated        bool
	AttomID          string
	EstBalance       decimal.NullDecimal
	AvailableEquity  decimal.NullDecimal
	LTV              decimal.NullDecimal
	LoansCount       int
	Stage            string
	ProcessedAt      time.Time
	UpdatedAt        time.Time
}

// RecordFrom maps a result to its row. The refresh timestamp is the result's
// processing time.
func RecordFrom(res enrich.Result) Record {
	return Record{
		Key:              enrich.RecordKey(res.CanonicalAddress),
		RawAddress:       res.RawAddress,
		CanonicalAddress: res.CanonicalAddress,
		Validated:        res.Validated,
		AttomID:          res.AttomID,
		EstBalance:       res.EstBalance,
		AvailableEquity:  res.AvailableEquity,
		LTV:              res.LTV,
		LoansCount:       res.LoansCount,
		Stage:            string(res.Stage),
		ProcessedAt:      res.ProcessedAt.UTC(),
		UpdatedAt:        res.ProcessedAt.UTC(),
	}
}

// ErrNoStore is returned by lookups when no relational store is configured.
var ErrNoStore = errors.New("no store configured")

// Store upserts records keyed by Record.Key.
type Store interface {
	Upsert(ctx context.Context, rec Record) error
	Get(ctx context.Context, key string) (Record, bool, error)
	Close() error
}

// StoreSink upserts every successful result. Failed results are only written to the
// flat output.
type StoreSink struct {
	store Store
}

func NewStoreSink(s Store) *StoreSink {
	return &StoreSink{store: s}
}

func (s *StoreSink) Emit(ctx context.Context, res enrich.Result) error {
	if !res.Succeeded() {
		return nil
	}
	uctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), storeTimeout)
	defer cancel()
	return s.store.Upsert(uctx, RecordFrom(res))
}

func (s *StoreSink) Close() error {
	return s.store.Close()
}

// OpenStore connects to the store named by dsn. The scheme picks the backend.
func OpenStore(ctx context.Context, dsn string) (Store, error) {
	dialect, driverDSN, err := storage.ParseDSN(dsn)
	if err != nil {
		return nil, err
	}
	switch dialect {
	case storage.Postgres:
		return OpenPostgres(ctx, driverDSN)
	case storage.MySQL:
		return OpenMySQL(ctx, driverDSN)
	default:
		return nil, fmt.Errorf("unsupported store %q", dialect)
	}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
