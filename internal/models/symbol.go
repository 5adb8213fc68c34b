package models

import "time"

// Symbol represents one asset tracked for hourly ingestion. Rank is a
// market-cap ordering refreshed from the exchange's 24h volume ranking
// (a documented proxy: the public API exposes no true market cap), so it
// may change between runs. The symbol string, not the rank, is the join
// key for price data. Symbols falling out of the top-N are deactivated,
// never deleted, so their history stays readable.
type Symbol struct {
	Symbol       string    `json:"symbol"`
	Name         string    `json:"name"`
	Rank         int       `json:"rank"`
	Active       bool      `json:"active"`
	TrackedSince time.Time `json:"tracked_since"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
