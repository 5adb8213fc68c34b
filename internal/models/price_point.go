package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PricePoint represents one hourly price observation for a symbol.
// Timestamp is truncated to the top of the hour, UTC. The pair
// (symbol, timestamp) is unique in storage; re-ingesting the same hour
// overwrites rather than duplicates.
type PricePoint struct {
	ID        int             `json:"id"`
	Symbol    string          `json:"symbol"`
	Timestamp time.Time       `json:"timestamp"`
	Price     decimal.Decimal `json:"price"`
	Volume    decimal.Decimal `json:"volume,omitempty"`
	MarketCap decimal.Decimal `json:"market_cap,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}
