package sink_test

import (
	"context"
	"os"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/shpitdev/home-equity-pipeline/internal/enrich"
	"github.com/shpitdev/home-equity-pipeline/internal/sink"
	"github.com/shpitdev/home-equity-pipeline/internal/storage"
)

func openTestStore(t *testing.T, envVar string) sink.Store {
	t.Helper()
	dsn := os.Getenv(envVar)
	if dsn == "" {
		t.Skipf("%s not set", envVar)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, err := storage.Migrate(ctx, dsn, zap.NewNop()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	st, err := sink.OpenStore(ctx, dsn)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		_ = st.Close()
	})
	return st
}

func testUpsertIdempotent(t *testing.T, st sink.Store) {
	ctx := context.Background()
	res := fetched()
	res.CanonicalAddress = "Upsert Test " + time.Now().UTC().Format(time.RFC3339Nano)
	key := enrich.RecordKey(res.CanonicalAddress)

	if err := sink.NewStoreSink(st).Emit(ctx, res); err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	first, ok, err := st.Get(ctx, key)
	if err != nil || !ok {
		t.Fatalf("get after first upsert: ok=%v err=%v", ok, err)
	}

	res.ProcessedAt = res.ProcessedAt.Add(time.Hour)
	res.LoansCount = 3
	if err := sink.NewStoreSink(st).Emit(ctx, res); err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	second, ok, err := st.Get(ctx, key)
	if err != nil || !ok {
		t.Fatalf("get after second upsert: ok=%v err=%v", ok, err)
	}
	if !second.UpdatedAt.After(first.UpdatedAt) {
		t.Fatalf("expected updated_at to advance: %s -> %s", first.UpdatedAt, second.UpdatedAt)
	}
	if second.LoansCount != 3 || second.EstBalance.Decimal.String() != "98000.5" || second.AttomID != "184713191" {
		t.Fatalf("unexpected row after upsert: %#v", second)
	}

	noMatch := enrich.Result{
		RawAddress:       "nowhere",
		CanonicalAddress: res.CanonicalAddress + " nomatch",
		ProcessedAt:      res.ProcessedAt,
		Stage:            enrich.StageResolved,
	}
	if err := sink.NewStoreSink(st).Emit(ctx, noMatch); err != nil {
		t.Fatalf("no-match upsert: %v", err)
	}
	rec, ok, err := st.Get(ctx, enrich.RecordKey(noMatch.CanonicalAddress))
	if err != nil || !ok {
		t.Fatalf("get no-match: ok=%v err=%v", ok, err)
	}
	if rec.AttomID != "" || rec.EstBalance.Valid || rec.LTV.Valid {
		t.Fatalf("expected null columns, got %#v", rec)
	}

	if _, ok, err := st.Get(ctx, "missing"); ok || err != nil {
		t.Fatalf("expected missing row, got ok=%v err=%v", ok, err)
	}
}

func TestPostgresStore_UpsertIdempotent(t *testing.T) {
	testUpsertIdempotent(t, openTestStore(t, "ENRICHER_TEST_POSTGRES_DSN"))
}

func TestMySQLStore_UpsertIdempotent(t *testing.T) {
	testUpsertIdempotent(t, openTestStore(t, "ENRICHER_TEST_MYSQL_DSN"))
}
