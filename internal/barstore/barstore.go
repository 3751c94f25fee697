// Package barstore is the Bar Store: a pgxpool-backed historical bar
// loader with a mutex-guarded in-memory cache keyed by
// (symbol, exchange, timeframe). Grounded on
// internal/data/store.go's cache-plus-loader shape, with the backing
// loader swapped from flat-file JSON for a bars table queried through
// jackc/pgx/v5/pgxpool (see
// Outblock-flowindex/backend/internal/repository/repo_core.go's
// pgxpool.ParseConfig + runtime-params pattern).
package barstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/atlas-desktop/paramtrader/pkg/domain"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// DataError is returned when fewer than the requested minimum number
// of bars are available. Strategies declare their own minimum via
// Schema().MinBarsRequired, so the caller (not this package) decides
// what "enough" means.
type DataError struct {
	Symbol    string
	Exchange  string
	Timeframe domain.Timeframe
	Available int
	Required  int
}

func (e *DataError) Error() string {
	return fmt.Sprintf("barstore: %s/%s %s: %d bars available, %d required",
		e.Exchange, e.Symbol, e.Timeframe, e.Available, e.Required)
}

// ErrDataUnavailable is a sentinel for errors.Is checks against a
// *DataError without requiring callers to type-assert.
var ErrDataUnavailable = errors.New("barstore: insufficient bar history")

func (e *DataError) Is(target error) bool { return target == ErrDataUnavailable }

type cacheKey struct {
	symbol    string
	exchange  string
	timeframe domain.Timeframe
}

// Store loads and caches OHLCV bar series.
type Store struct {
	logger *zap.Logger
	db     *pgxpool.Pool

	mu    sync.RWMutex
	cache map[cacheKey]domain.BarSeries
}

// New constructs a Store over an already-open pool. The pool's own
// lifecycle (construction, Close) is owned by the caller; cmd/apiserver
// and cmd/worker each open a dedicated bars pool for it, separate from
// the one internal/jobstore.Open creates.
func New(logger *zap.Logger, db *pgxpool.Pool) *Store {
	return &Store{logger: logger, db: db, cache: make(map[cacheKey]domain.BarSeries)}
}

// Load returns the most recent lookback bars for (symbol, exchange,
// timeframe), newest bar last. Returns a *DataError (matched via
// errors.Is(err, ErrDataUnavailable)) when fewer than minRequired bars
// are on file.
func (s *Store) Load(ctx context.Context, symbol, exchange string, timeframe domain.Timeframe, lookback, minRequired int) (domain.BarSeries, error) {
	key := cacheKey{symbol: symbol, exchange: exchange, timeframe: timeframe}

	s.mu.RLock()
	cached, ok := s.cache[key]
	s.mu.RUnlock()

	var series domain.BarSeries
	if ok {
		series = cached
	} else {
		loaded, err := s.loadFromDB(ctx, symbol, exchange, timeframe)
		if err != nil {
			return domain.BarSeries{}, fmt.Errorf("barstore: load: %w", err)
		}
		s.mu.Lock()
		s.cache[key] = loaded
		s.mu.Unlock()
		series = loaded
	}

	if len(series.Bars) < minRequired {
		return domain.BarSeries{}, &DataError{
			Symbol: symbol, Exchange: exchange, Timeframe: timeframe,
			Available: len(series.Bars), Required: minRequired,
		}
	}

	if lookback > 0 && lookback < len(series.Bars) {
		tail := series.Bars[len(series.Bars)-lookback:]
		windowed := make([]domain.Bar, len(tail))
		copy(windowed, tail)
		return domain.BarSeries{Symbol: symbol, Exchange: exchange, Timeframe: timeframe, Bars: windowed}, nil
	}
	return series, nil
}

func (s *Store) loadFromDB(ctx context.Context, symbol, exchange string, timeframe domain.Timeframe) (domain.BarSeries, error) {
	rows, err := s.db.Query(ctx, `
		SELECT ts, open, high, low, close, volume
		FROM bars
		WHERE symbol = $1 AND exchange = $2 AND timeframe = $3
		ORDER BY ts ASC
	`, symbol, exchange, string(timeframe))
	if err != nil {
		if s.logger != nil {
			s.logger.Warn("bar query failed", zap.String("symbol", symbol), zap.Error(err))
		}
		return domain.BarSeries{}, err
	}
	defer rows.Close()

	var bars []domain.Bar
	for rows.Next() {
		var b domain.Bar
		var open, high, low, close, volume decimal.Decimal
		if err := rows.Scan(&b.Timestamp, &open, &high, &low, &close, &volume); err != nil {
			return domain.BarSeries{}, err
		}
		b.Open, b.High, b.Low, b.Close, b.Volume = open, high, low, close, volume
		bars = append(bars, b)
	}
	if err := rows.Err(); err != nil {
		return domain.BarSeries{}, err
	}

	sort.Slice(bars, func(i, j int) bool { return bars[i].Timestamp.Before(bars[j].Timestamp) })
	return domain.BarSeries{Symbol: symbol, Exchange: exchange, Timeframe: timeframe, Bars: bars}, nil
}

// Invalidate drops a cache entry, forcing the next Load to hit the
// database. Used after a backfill writes new bars for a symbol.
func (s *Store) Invalidate(symbol, exchange string, timeframe domain.Timeframe) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cache, cacheKey{symbol: symbol, exchange: exchange, timeframe: timeframe})
}

// CacheSize reports the number of distinct (symbol,exchange,timeframe)
// series currently cached.
func (s *Store) CacheSize() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.cache)
}
