package database

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/coinpulse/market-data-service/internal/models"
	"github.com/lib/pq"
)

// UpsertSymbol inserts a tracked symbol or updates its rank and name.
// tracked_since is set on first insert only; a re-ranked or reactivated
// symbol keeps its original tracking boundary.
func (db *DB) UpsertSymbol(s *models.Symbol) error {
	query := `
		INSERT INTO tracked_symbols (symbol, name, rank, active, tracked_since, created_at, updated_at)
		VALUES ($1, $2, $3, TRUE, $4, $5, $5)
		ON CONFLICT (symbol) DO UPDATE SET
			name = EXCLUDED.name,
			rank = EXCLUDED.rank,
			active = TRUE,
			updated_at = EXCLUDED.updated_at
		RETURNING tracked_since, created_at
	`
	now := time.Now().UTC()
	trackedSince := s.TrackedSince
	if trackedSince.IsZero() {
		trackedSince = now.Truncate(time.Hour)
	}

	err := db.conn.QueryRow(query, s.Symbol, s.Name, s.Rank, trackedSince, now).
		Scan(&s.TrackedSince, &s.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert symbol %s: %w", s.Symbol, err)
	}
	s.Active = true
	s.UpdatedAt = now
	return nil
}

// GetSymbol retrieves one tracked symbol.
func (db *DB) GetSymbol(symbol string) (*models.Symbol, error) {
	query := `
		SELECT symbol, name, rank, active, tracked_since, created_at, updated_at
		FROM tracked_symbols
		WHERE symbol = $1
	`
	var s models.Symbol
	err := db.conn.QueryRow(query, symbol).Scan(
		&s.Symbol, &s.Name, &s.Rank, &s.Active, &s.TrackedSince, &s.CreatedAt, &s.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("symbol not found: %s", symbol)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get symbol: %w", err)
	}
	return &s, nil
}

// GetActiveSymbols retrieves all active symbols ordered by rank.
func (db *DB) GetActiveSymbols() ([]*models.Symbol, error) {
	query := `
		SELECT symbol, name, rank, active, tracked_since, created_at, updated_at
		FROM tracked_symbols
		WHERE active = TRUE
		ORDER BY rank ASC
	`
	rows, err := db.conn.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to get active symbols: %w", err)
	}
	defer rows.Close()

	var symbols []*models.Symbol
	for rows.Next() {
		var s models.Symbol
		if err := rows.Scan(&s.Symbol, &s.Name, &s.Rank, &s.Active, &s.TrackedSince, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan symbol: %w", err)
		}
		symbols = append(symbols, &s)
	}
	return symbols, rows.Err()
}

// DeactivateSymbolsNotIn clears the active flag on any tracked symbol
// absent from keep. Symbols are never deleted; their price history must
// stay readable after they drop out of the top-N set.
func (db *DB) DeactivateSymbolsNotIn(keep []string) (int64, error) {
	query := `
		UPDATE tracked_symbols
		SET active = FALSE, updated_at = $2
		WHERE active = TRUE AND NOT (symbol = ANY($1))
	`
	result, err := db.conn.Exec(query, pq.Array(keep), time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to deactivate symbols: %w", err)
	}
	return result.RowsAffected()
}

// TrackedSince returns the hour-aligned time at which a symbol entered
// the tracked set. Gap detection never reaches before this boundary.
func (db *DB) TrackedSince(symbol string) (time.Time, error) {
	query := `SELECT tracked_since FROM tracked_symbols WHERE symbol = $1`
	var since time.Time
	err := db.conn.QueryRow(query, symbol).Scan(&since)
	if err == sql.ErrNoRows {
		return time.Time{}, fmt.Errorf("symbol not found: %s", symbol)
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to get tracked_since: %w", err)
	}
	return since.UTC().Truncate(time.Hour), nil
}
