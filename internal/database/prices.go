package database

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/coinpulse/market-data-service/internal/models"
	"github.com/shopspring/decimal"
)

// UpsertPricePoints writes a batch of hourly observations in one
// transaction. The unique key (symbol, ts) makes re-ingestion of the
// same hour an overwrite, never a duplicate, so any gap-fill can be
// re-run safely.
func (db *DB) UpsertPricePoints(points []*models.PricePoint) error {
	if len(points) == 0 {
		return nil
	}

	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO price_points (symbol, ts, price, volume, market_cap, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (symbol, ts) DO UPDATE SET
			price = EXCLUDED.price,
			volume = EXCLUDED.volume,
			market_cap = EXCLUDED.market_cap
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, p := range points {
		ts := p.Timestamp.UTC().Truncate(time.Hour)
		_, err := stmt.Exec(p.Symbol, ts, p.Price, p.Volume, p.MarketCap, now)
		if err != nil {
			return fmt.Errorf("failed to upsert price point for %s at %s: %w",
				p.Symbol, ts.Format(time.RFC3339), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// StoredHours returns the sorted distinct hour-aligned timestamps stored
// for a symbol in [from, to). This is the observed-coverage input to gap
// detection.
func (db *DB) StoredHours(symbol string, from, to time.Time) ([]time.Time, error) {
	query := `
		SELECT ts FROM price_points
		WHERE symbol = $1 AND ts >= $2 AND ts < $3
		ORDER BY ts ASC
	`
	rows, err := db.conn.Query(query, symbol, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to get stored hours: %w", err)
	}
	defer rows.Close()

	var hours []time.Time
	for rows.Next() {
		var ts time.Time
		if err := rows.Scan(&ts); err != nil {
			return nil, fmt.Errorf("failed to scan timestamp: %w", err)
		}
		hours = append(hours, ts.UTC())
	}
	return hours, rows.Err()
}

// LatestHour returns the most recent stored hour for a symbol. The
// boolean is false when the symbol has no stored data at all.
func (db *DB) LatestHour(symbol string) (time.Time, bool, error) {
	query := `SELECT MAX(ts) FROM price_points WHERE symbol = $1`
	var ts sql.NullTime
	if err := db.conn.QueryRow(query, symbol).Scan(&ts); err != nil {
		return time.Time{}, false, fmt.Errorf("failed to get latest hour: %w", err)
	}
	if !ts.Valid {
		return time.Time{}, false, nil
	}
	return ts.Time.UTC(), true, nil
}

// CountHours returns the number of stored observations for a symbol in
// [from, to).
func (db *DB) CountHours(symbol string, from, to time.Time) (int, error) {
	query := `SELECT COUNT(*) FROM price_points WHERE symbol = $1 AND ts >= $2 AND ts < $3`
	var n int
	if err := db.conn.QueryRow(query, symbol, from.UTC(), to.UTC()).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count stored hours: %w", err)
	}
	return n, nil
}

// GetPriceRange retrieves stored observations for a symbol in [from, to),
// ordered by timestamp ascending. This is the downstream read contract.
func (db *DB) GetPriceRange(symbol string, from, to time.Time) ([]*models.PricePoint, error) {
	query := `
		SELECT id, symbol, ts, price, volume, market_cap, created_at
		FROM price_points
		WHERE symbol = $1 AND ts >= $2 AND ts < $3
		ORDER BY ts ASC
	`
	rows, err := db.conn.Query(query, symbol, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to get price range: %w", err)
	}
	defer rows.Close()

	var points []*models.PricePoint
	for rows.Next() {
		p, err := scanPricePoint(rows)
		if err != nil {
			return nil, err
		}
		points = append(points, p)
	}
	return points, rows.Err()
}

// GetLatestPrice retrieves the most recent observation for a symbol.
func (db *DB) GetLatestPrice(symbol string) (*models.PricePoint, error) {
	query := `
		SELECT id, symbol, ts, price, volume, market_cap, created_at
		FROM price_points
		WHERE symbol = $1
		ORDER BY ts DESC
		LIMIT 1
	`
	row := db.conn.QueryRow(query, symbol)

	var p models.PricePoint
	var volume, marketCap sql.NullString
	err := row.Scan(&p.ID, &p.Symbol, &p.Timestamp, &p.Price, &volume, &marketCap, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("no price data found for %s", symbol)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest price: %w", err)
	}
	p.Timestamp = p.Timestamp.UTC()
	if volume.Valid {
		p.Volume, _ = decimal.NewFromString(volume.String)
	}
	if marketCap.Valid {
		p.MarketCap, _ = decimal.NewFromString(marketCap.String)
	}
	return &p, nil
}

func scanPricePoint(rows *sql.Rows) (*models.PricePoint, error) {
	var p models.PricePoint
	var volume, marketCap sql.NullString

	err := rows.Scan(&p.ID, &p.Symbol, &p.Timestamp, &p.Price, &volume, &marketCap, &p.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to scan price point: %w", err)
	}
	p.Timestamp = p.Timestamp.UTC()
	if volume.Valid {
		p.Volume, _ = decimal.NewFromString(volume.String)
	}
	if marketCap.Valid {
		p.MarketCap, _ = decimal.NewFromString(marketCap.String)
	}
	return &p, nil
}
