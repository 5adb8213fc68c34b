// Package collector drives end-to-end collection runs: it asks the gap
// detector what is missing, fetches it from the exchange in bounded
// batches, and persists the results as idempotent upserts. Failures are
// two-tier: an upstream error fails one symbol and the run moves on; a
// storage error aborts the run.
package collector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coinpulse/market-data-service/internal/exchange"
	"github.com/coinpulse/market-data-service/internal/gaps"
	"github.com/coinpulse/market-data-service/internal/models"
)

// MarketClient is the upstream fetch surface.
type MarketClient interface {
	TopByVolume(ctx context.Context, limit int) ([]exchange.SymbolTicker, error)
	HourlyKlines(ctx context.Context, symbol string, from, to time.Time) ([]exchange.Kline, error)
}

// Store is the storage surface the orchestrator writes through. It
// subsumes the gap detector's read-only HourStore.
type Store interface {
	gaps.HourStore
	UpsertPricePoints(points []*models.PricePoint) error
	UpsertSymbol(s *models.Symbol) error
	GetActiveSymbols() ([]*models.Symbol, error)
	DeactivateSymbolsNotIn(keep []string) (int64, error)
}

// LatestCache receives the freshest observation per symbol. Optional.
type LatestCache interface {
	SetLatest(ctx context.Context, p *models.PricePoint) error
}

// RunPublisher receives collection lifecycle events. Optional.
type RunPublisher interface {
	PublishRunCompleted(ctx context.Context, result *models.CollectionResult) error
	PublishSymbolsRefreshed(ctx context.Context, symbols []string) error
}

// Config holds orchestrator tuning.
type Config struct {
	StartDate  time.Time
	TopSymbols int
	BatchHours int
}

// Orchestrator owns collection run state. Only one run may be in flight;
// run state lives behind its own mutex so status queries and trigger
// rejections never contend with an in-flight fetch loop.
type Orchestrator struct {
	client    MarketClient
	store     Store
	detector  *gaps.Detector
	cache     LatestCache
	publisher RunPublisher
	logger    *slog.Logger
	cfg       Config

	now func() time.Time

	mu         sync.Mutex
	running    bool
	mode       models.CollectionMode
	startedAt  time.Time
	lastResult *models.CollectionResult
}

// New creates an orchestrator. cache and publisher may be nil.
func New(client MarketClient, store Store, cfg Config, cache LatestCache, publisher RunPublisher, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BatchHours <= 0 || cfg.BatchHours > exchange.MaxWindowHours {
		cfg.BatchHours = exchange.MaxWindowHours
	}
	return &Orchestrator{
		client:    client,
		store:     store,
		detector:  gaps.NewDetector(store, cfg.StartDate),
		cache:     cache,
		publisher: publisher,
		logger:    logger,
		cfg:       cfg,
		now:       time.Now,
	}
}

// CollectBackward fills history from start (or the configured start
// date when zero) up to the end of the previous UTC day.
func (o *Orchestrator) CollectBackward(ctx context.Context, start time.Time, symbols []string) (*models.CollectionResult, error) {
	if err := validateBackwardStart(start, o.now()); err != nil {
		return nil, err
	}
	if err := o.begin(models.ModeBackward); err != nil {
		return nil, err
	}
	return o.runBackward(ctx, start, symbols)
}

// CollectForward catches each symbol up from its latest stored hour to
// now. This is the steady-state mode run on the scheduler's cadence; it
// also refreshes the tracked top-N set first.
func (o *Orchestrator) CollectForward(ctx context.Context, symbols []string) (*models.CollectionResult, error) {
	if err := o.begin(models.ModeForward); err != nil {
		return nil, err
	}
	return o.runForward(ctx, symbols)
}

// DetectAndFillGaps repairs any interior holes between the configured
// start date and now, independent of direction.
func (o *Orchestrator) DetectAndFillGaps(ctx context.Context, symbols []string) (*models.CollectionResult, error) {
	if err := o.begin(models.ModeGapFill); err != nil {
		return nil, err
	}
	return o.runGapFill(ctx, symbols)
}

// Trigger claims the run slot synchronously, then executes the run in
// the background. It backs the admin surface's 202/409 contract.
func (o *Orchestrator) Trigger(mode models.CollectionMode, start time.Time, symbols []string) error {
	if !mode.Valid() {
		return fmt.Errorf("unknown collection mode %q", mode)
	}
	if mode == models.ModeBackward {
		if err := validateBackwardStart(start, o.now()); err != nil {
			return err
		}
	}
	if err := o.begin(mode); err != nil {
		return err
	}

	go func() {
		ctx := context.Background()
		var err error
		switch mode {
		case models.ModeBackward:
			_, err = o.runBackward(ctx, start, symbols)
		case models.ModeForward:
			_, err = o.runForward(ctx, symbols)
		case models.ModeGapFill:
			_, err = o.runGapFill(ctx, symbols)
		}
		if err != nil {
			o.logger.Error("triggered collection run failed", "mode", mode, "error", err)
		}
	}()
	return nil
}

// The run* methods assume the run slot is already claimed and release
// it on return.

func (o *Orchestrator) runBackward(ctx context.Context, start time.Time, symbols []string) (*models.CollectionResult, error) {
	now := o.now().UTC()
	return o.run(ctx, models.ModeBackward, symbols, func(symbol string) ([]models.Gap, error) {
		if start.IsZero() {
			return o.detector.Backward(symbol, now)
		}
		dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
		if !dayStart.After(start) {
			return nil, nil
		}
		return o.detector.FindAll(symbol, start, dayStart)
	})
}

func (o *Orchestrator) runForward(ctx context.Context, symbols []string) (*models.CollectionResult, error) {
	if len(symbols) == 0 {
		// Ranking refresh failure must not starve collection of the
		// previously tracked set.
		if _, err := o.refreshSymbols(ctx); err != nil {
			if IsFatal(err) {
				o.finish(o.newResult(models.ModeForward))
				return nil, err
			}
			o.logger.Warn("symbol ranking refresh failed, using stored set", "error", err)
		}
	}
	now := o.now()
	return o.run(ctx, models.ModeForward, symbols, func(symbol string) ([]models.Gap, error) {
		return o.detector.Forward(symbol, now)
	})
}

func (o *Orchestrator) runGapFill(ctx context.Context, symbols []string) (*models.CollectionResult, error) {
	end := o.now().UTC().Truncate(time.Hour).Add(time.Hour)
	return o.run(ctx, models.ModeGapFill, symbols, func(symbol string) ([]models.Gap, error) {
		return o.detector.FindAll(symbol, o.cfg.StartDate, end)
	})
}

func validateBackwardStart(start, now time.Time) error {
	if !start.IsZero() && !now.UTC().After(start) {
		return fmt.Errorf("%w: backward start %s is not in the past",
			gaps.ErrInvalidWindow, start.Format(time.RFC3339))
	}
	return nil
}

// Status returns a snapshot of run state for the admin surface.
func (o *Orchestrator) Status() models.CollectionStatus {
	o.mu.Lock()
	defer o.mu.Unlock()

	status := models.CollectionStatus{
		IsRunning:  o.running,
		LastResult: o.lastResult,
	}
	if o.running {
		status.CurrentMode = o.mode
		status.ElapsedSeconds = o.now().Sub(o.startedAt).Seconds()
	}
	return status
}

// Summary reports coverage completeness for one symbol.
func (o *Orchestrator) Summary(symbol string) (*models.CollectionSummary, error) {
	return o.detector.Summary(symbol, o.now())
}

// refreshSymbols updates the tracked set from the exchange's volume
// ranking: upserts ranks for the current top-N and deactivates symbols
// that dropped out. Assumes the run slot is held.
func (o *Orchestrator) refreshSymbols(ctx context.Context) ([]string, error) {
	tickers, err := o.client.TopByVolume(ctx, o.cfg.TopSymbols)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(tickers))
	for i, t := range tickers {
		s := &models.Symbol{
			Symbol: t.Symbol,
			Name:   t.Symbol,
			Rank:   i + 1,
		}
		if err := o.store.UpsertSymbol(s); err != nil {
			return nil, &StorageError{Err: err}
		}
		names = append(names, t.Symbol)
	}
	if len(names) > 0 {
		if _, err := o.store.DeactivateSymbolsNotIn(names); err != nil {
			return nil, &StorageError{Err: err}
		}
	}
	o.logger.Info("tracked symbols refreshed", "count", len(names))
	if o.publisher != nil {
		if err := o.publisher.PublishSymbolsRefreshed(ctx, names); err != nil {
			o.logger.Warn("symbols-refreshed event publish failed", "error", err)
		}
	}
	return names, nil
}

// run executes one collection pass: resolve the symbol set, detect gaps
// per symbol, fetch and persist each gap in batch-sized windows.
// Processing is sequential across symbols; the rate limiter is a single
// shared budget and parallel fetches would not raise it. Assumes the run
// slot is held and releases it on return.
func (o *Orchestrator) run(ctx context.Context, mode models.CollectionMode, symbols []string, findGaps func(string) ([]models.Gap, error)) (result *models.CollectionResult, err error) {
	result = o.newResult(mode)
	defer func() {
		result.FinishedAt = o.now().UTC()
		o.finish(result)
		o.publish(ctx, result)
	}()

	if len(symbols) == 0 {
		symbols, err = o.activeSymbols()
		if err != nil {
			return result, err
		}
	}

	o.logger.Info("collection run started", "mode", mode, "symbols", len(symbols))

	for _, symbol := range symbols {
		outcome := models.SymbolOutcome{Symbol: symbol}

		records, symErr := o.collectSymbol(ctx, symbol, findGaps)
		outcome.Records = records
		result.TotalRecords += records

		if symErr != nil {
			if IsFatal(symErr) {
				outcome.Error = symErr.Error()
				result.Failed++
				result.Symbols = append(result.Symbols, outcome)
				return result, symErr
			}
			// Per-symbol upstream failure: record it and keep going.
			o.logger.Warn("symbol collection failed", "symbol", symbol, "error", symErr)
			outcome.Error = symErr.Error()
			result.Failed++
		} else {
			result.Successful++
		}
		result.Symbols = append(result.Symbols, outcome)
	}

	o.logger.Info("collection run finished",
		"mode", mode,
		"successful", result.Successful,
		"failed", result.Failed,
		"records", result.TotalRecords,
	)
	return result, nil
}

// collectSymbol fills every gap reported for one symbol, returning the
// number of records persisted before any error.
func (o *Orchestrator) collectSymbol(ctx context.Context, symbol string, findGaps func(string) ([]models.Gap, error)) (int, error) {
	gapList, err := findGaps(symbol)
	if err != nil {
		// The detector only touches storage, so its failures are fatal
		// unless the caller passed a bad window.
		if isWindowErr(err) {
			return 0, err
		}
		return 0, &StorageError{Err: err}
	}

	records := 0
	var newest *models.PricePoint
	for _, gap := range gapList {
		for _, window := range splitGap(gap, o.cfg.BatchHours) {
			klines, err := o.client.HourlyKlines(ctx, symbol, window.Start, window.End)
			if err != nil {
				return records, err
			}
			points := toPricePoints(symbol, klines)
			if len(points) == 0 {
				continue
			}
			if err := o.store.UpsertPricePoints(points); err != nil {
				return records, &StorageError{Err: err}
			}
			records += len(points)
			last := points[len(points)-1]
			if newest == nil || last.Timestamp.After(newest.Timestamp) {
				newest = last
			}
		}
	}

	if newest != nil && o.cache != nil {
		// Best effort: the store stays the source of truth.
		if err := o.cache.SetLatest(ctx, newest); err != nil {
			o.logger.Warn("latest-price cache update failed", "symbol", symbol, "error", err)
		}
	}
	return records, nil
}

func (o *Orchestrator) activeSymbols() ([]string, error) {
	active, err := o.store.GetActiveSymbols()
	if err != nil {
		return nil, &StorageError{Err: err}
	}
	names := make([]string, 0, len(active))
	for _, s := range active {
		names = append(names, s.Symbol)
	}
	return names, nil
}

func (o *Orchestrator) begin(mode models.CollectionMode) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running {
		return ErrAlreadyRunning
	}
	o.running = true
	o.mode = mode
	o.startedAt = o.now()
	return nil
}

func (o *Orchestrator) finish(result *models.CollectionResult) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.running = false
	o.lastResult = result
}

func (o *Orchestrator) newResult(mode models.CollectionMode) *models.CollectionResult {
	return &models.CollectionResult{
		Mode:      mode,
		StartedAt: o.now().UTC(),
	}
}

func (o *Orchestrator) publish(ctx context.Context, result *models.CollectionResult) {
	if o.publisher == nil {
		return
	}
	if err := o.publisher.PublishRunCompleted(ctx, result); err != nil {
		o.logger.Warn("run event publish failed", "mode", result.Mode, "error", err)
	}
}

// splitGap cuts a gap into windows of at most batchHours hours.
func splitGap(gap models.Gap, batchHours int) []models.Gap {
	span := time.Duration(batchHours) * time.Hour
	var windows []models.Gap
	for start := gap.Start; start.Before(gap.End); start = start.Add(span) {
		end := start.Add(span)
		if end.After(gap.End) {
			end = gap.End
		}
		windows = append(windows, models.Gap{Start: start, End: end})
	}
	return windows
}

func toPricePoints(symbol string, klines []exchange.Kline) []*models.PricePoint {
	points := make([]*models.PricePoint, 0, len(klines))
	for _, k := range klines {
		points = append(points, &models.PricePoint{
			Symbol:    symbol,
			Timestamp: k.OpenTime,
			Price:     k.Close,
			Volume:    k.Volume,
			MarketCap: k.QuoteVolume,
		})
	}
	return points
}

func isWindowErr(err error) bool {
	return errors.Is(err, gaps.ErrInvalidWindow)
}
