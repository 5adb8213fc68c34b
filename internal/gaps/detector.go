// Package gaps reconciles desired hourly coverage against stored
// coverage. The detector is pure logic over a narrow storage interface:
// given a window and the sorted stored timestamps inside it, it returns
// the missing sub-intervals, coalescing consecutive missing hours so the
// orchestrator issues one fetch per contiguous run instead of one per
// hour.
package gaps

import (
	"errors"
	"fmt"
	"time"

	"github.com/coinpulse/market-data-service/internal/models"
)

// ErrInvalidWindow signals a caller error (end not after start),
// rejected before any I/O.
var ErrInvalidWindow = errors.New("invalid window: end must be after start")

// HourStore is the slice of storage the detector needs.
type HourStore interface {
	// StoredHours returns sorted distinct hour timestamps for symbol in [from, to).
	StoredHours(symbol string, from, to time.Time) ([]time.Time, error)
	// LatestHour returns the most recent stored hour; false when none exists.
	LatestHour(symbol string) (time.Time, bool, error)
	// TrackedSince returns the hour at which the symbol entered the tracked set.
	TrackedSince(symbol string) (time.Time, error)
}

// Detector computes missing coverage for tracked symbols.
type Detector struct {
	store     HourStore
	startDate time.Time
}

// NewDetector creates a detector with the configured historical start date.
func NewDetector(store HourStore, startDate time.Time) *Detector {
	return &Detector{
		store:     store,
		startDate: startDate.UTC().Truncate(time.Hour),
	}
}

// Backward returns gaps between the historical start date and the end of
// the previous UTC calendar day.
func (d *Detector) Backward(symbol string, now time.Time) ([]models.Gap, error) {
	now = now.UTC()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	start, err := d.effectiveStart(symbol)
	if err != nil {
		return nil, err
	}
	if !dayStart.After(start) {
		return nil, nil
	}
	return d.missing(symbol, start, dayStart)
}

// Forward returns the gap between the most recent stored hour and the
// present, inclusive of the current (possibly still-forming) hour. With
// no stored data at all it falls back to the symbol's effective start.
func (d *Detector) Forward(symbol string, now time.Time) ([]models.Gap, error) {
	end := now.UTC().Truncate(time.Hour).Add(time.Hour)

	latest, ok, err := d.store.LatestHour(symbol)
	if err != nil {
		return nil, err
	}

	var start time.Time
	if ok {
		start = latest.Add(time.Hour)
	} else {
		start, err = d.effectiveStart(symbol)
		if err != nil {
			return nil, err
		}
	}
	if !end.After(start) {
		return nil, nil
	}
	return []models.Gap{{Start: start, End: end}}, nil
}

// FindAll scans [from, to) for any missing hours regardless of
// direction, clamped to the symbol's effective start.
func (d *Detector) FindAll(symbol string, from, to time.Time) ([]models.Gap, error) {
	from = from.UTC().Truncate(time.Hour)
	to = to.UTC().Truncate(time.Hour)
	if !to.After(from) {
		return nil, fmt.Errorf("%w: [%s, %s)", ErrInvalidWindow,
			from.Format(time.RFC3339), to.Format(time.RFC3339))
	}

	effStart, err := d.effectiveStart(symbol)
	if err != nil {
		return nil, err
	}
	if effStart.After(from) {
		from = effStart
	}
	if !to.After(from) {
		return nil, nil
	}
	return d.missing(symbol, from, to)
}

// Summary reports coverage completeness between the symbol's effective
// start and the current hour inclusive.
func (d *Detector) Summary(symbol string, now time.Time) (*models.CollectionSummary, error) {
	end := now.UTC().Truncate(time.Hour).Add(time.Hour)

	start, err := d.effectiveStart(symbol)
	if err != nil {
		return nil, err
	}

	summary := &models.CollectionSummary{Symbol: symbol}
	if !end.After(start) {
		summary.CompletenessPercent = 100
		return summary, nil
	}

	stored, err := d.store.StoredHours(symbol, start, end)
	if err != nil {
		return nil, err
	}

	summary.ExpectedHours = int(end.Sub(start) / time.Hour)
	summary.StoredHours = len(stored)
	summary.CompletenessPercent = 100 * float64(summary.StoredHours) / float64(summary.ExpectedHours)
	return summary, nil
}

// effectiveStart is the later of the configured historical start date
// and the symbol's tracking boundary: a symbol first tracked at hour T
// never reports a gap before T.
func (d *Detector) effectiveStart(symbol string) (time.Time, error) {
	since, err := d.store.TrackedSince(symbol)
	if err != nil {
		return time.Time{}, err
	}
	since = since.UTC().Truncate(time.Hour)
	if since.After(d.startDate) {
		return since, nil
	}
	return d.startDate, nil
}

// missing computes the coalesced missing intervals in [from, to).
func (d *Detector) missing(symbol string, from, to time.Time) ([]models.Gap, error) {
	stored, err := d.store.StoredHours(symbol, from, to)
	if err != nil {
		return nil, err
	}
	return missingIntervals(stored, from, to), nil
}

// missingIntervals walks the expected hourly timeline of [from, to),
// subtracting the sorted stored hours and merging consecutive missing
// hours into half-open intervals.
func missingIntervals(stored []time.Time, from, to time.Time) []models.Gap {
	var gaps []models.Gap
	var open *models.Gap

	i := 0
	for h := from; h.Before(to); h = h.Add(time.Hour) {
		for i < len(stored) && stored[i].Before(h) {
			i++
		}
		have := i < len(stored) && stored[i].Equal(h)

		if have {
			if open != nil {
				gaps = append(gaps, *open)
				open = nil
			}
			continue
		}
		if open == nil {
			open = &models.Gap{Start: h, End: h.Add(time.Hour)}
		} else {
			open.End = h.Add(time.Hour)
		}
	}
	if open != nil {
		gaps = append(gaps, *open)
	}
	return gaps
}
