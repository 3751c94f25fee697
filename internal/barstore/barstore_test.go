package barstore

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/atlas-desktop/paramtrader/pkg/domain"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// openTestPool mirrors internal/jobstore's integration test gating:
// skipped unless BARSTORE_TEST_DATABASE_URL is set.
func openTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv("BARSTORE_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("BARSTORE_TEST_DATABASE_URL not set, skipping barstore integration test")
	}
	pool, err := pgxpool.New(context.Background(), dsn)
	if err != nil {
		t.Fatalf("pgxpool.New: %v", err)
	}
	t.Cleanup(pool.Close)

	ctx := context.Background()
	_, err = pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS bars (
			symbol TEXT NOT NULL, exchange TEXT NOT NULL, timeframe TEXT NOT NULL,
			ts TIMESTAMPTZ NOT NULL, open NUMERIC NOT NULL, high NUMERIC NOT NULL,
			low NUMERIC NOT NULL, close NUMERIC NOT NULL, volume NUMERIC NOT NULL,
			PRIMARY KEY (symbol, exchange, timeframe, ts)
		)
	`)
	if err != nil {
		t.Fatalf("create bars table: %v", err)
	}
	return pool
}

func seedBars(t *testing.T, pool *pgxpool.Pool, n int) {
	t.Helper()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		price := decimal.NewFromFloat(100 + float64(i))
		_, err := pool.Exec(context.Background(), `
			INSERT INTO bars (symbol, exchange, timeframe, ts, open, high, low, close, volume)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
			ON CONFLICT DO NOTHING
		`, "BTC-USD", "coinbase", "1h", base.Add(time.Duration(i)*time.Hour),
			price, price, price, price, decimal.NewFromFloat(1000))
		if err != nil {
			t.Fatalf("seed bar %d: %v", i, err)
		}
	}
}

func TestLoadReturnsDataErrorBelowMinRequired(t *testing.T) {
	pool := openTestPool(t)
	seedBars(t, pool, 5)
	store := New(nil, pool)

	_, err := store.Load(context.Background(), "BTC-USD", "coinbase", domain.Timeframe1h, 0, 10)
	var dataErr *DataError
	if !errors.As(err, &dataErr) {
		t.Fatalf("expected *DataError, got %v", err)
	}
	if !errors.Is(err, ErrDataUnavailable) {
		t.Fatalf("expected errors.Is(err, ErrDataUnavailable) to hold")
	}
	if dataErr.Available != 5 || dataErr.Required != 10 {
		t.Fatalf("unexpected DataError fields: %+v", dataErr)
	}
}

func TestLoadCachesAndRespectsLookback(t *testing.T) {
	pool := openTestPool(t)
	seedBars(t, pool, 20)
	store := New(nil, pool)
	ctx := context.Background()

	series, err := store.Load(ctx, "BTC-USD", "coinbase", domain.Timeframe1h, 5, 10)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(series.Bars) != 5 {
		t.Fatalf("expected 5 bars after lookback windowing, got %d", len(series.Bars))
	}
	if store.CacheSize() != 1 {
		t.Fatalf("expected one cache entry, got %d", store.CacheSize())
	}

	last := series.Bars[len(series.Bars)-1]
	full, err := store.Load(ctx, "BTC-USD", "coinbase", domain.Timeframe1h, 0, 10)
	if err != nil {
		t.Fatalf("Load full: %v", err)
	}
	if !full.Bars[len(full.Bars)-1].Close.Equal(last.Close) {
		t.Fatalf("expected cached series and fresh full load to agree on the latest bar")
	}
}
