package exchange

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Kline is one hourly candle as returned by the exchange.
type Kline struct {
	OpenTime    time.Time
	Close       decimal.Decimal
	Volume      decimal.Decimal
	QuoteVolume decimal.Decimal
}

// SymbolTicker is one entry from the 24h ticker statistics endpoint.
// QuoteVolume orders the top-N selection: the public API exposes no true
// market capitalization, so 24h traded quote volume stands in for it.
type SymbolTicker struct {
	Symbol      string          `json:"symbol"`
	LastPrice   decimal.Decimal `json:"lastPrice"`
	QuoteVolume decimal.Decimal `json:"quoteVolume"`
}

// parseKlines decodes the exchange's kline wire format: an array of
// arrays mixing numeric timestamps and string-encoded decimals, e.g.
// [openTime, open, high, low, close, volume, closeTime, quoteVolume, ...].
func parseKlines(data []byte) ([]Kline, error) {
	var raw [][]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode klines: %w", err)
	}

	klines := make([]Kline, 0, len(raw))
	for i, row := range raw {
		if len(row) < 8 {
			return nil, fmt.Errorf("kline %d: short row (%d fields)", i, len(row))
		}
		openMs, ok := row[0].(float64)
		if !ok {
			return nil, fmt.Errorf("kline %d: open time is not numeric", i)
		}
		closePx, err := decimalField(row[4])
		if err != nil {
			return nil, fmt.Errorf("kline %d close: %w", i, err)
		}
		volume, err := decimalField(row[5])
		if err != nil {
			return nil, fmt.Errorf("kline %d volume: %w", i, err)
		}
		quoteVolume, err := decimalField(row[7])
		if err != nil {
			return nil, fmt.Errorf("kline %d quote volume: %w", i, err)
		}
		klines = append(klines, Kline{
			OpenTime:    time.UnixMilli(int64(openMs)).UTC(),
			Close:       closePx,
			Volume:      volume,
			QuoteVolume: quoteVolume,
		})
	}
	return klines, nil
}

func decimalField(v interface{}) (decimal.Decimal, error) {
	switch n := v.(type) {
	case string:
		return decimal.NewFromString(n)
	case float64:
		return decimal.NewFromFloat(n), nil
	default:
		return decimal.Decimal{}, fmt.Errorf("unexpected type %T", v)
	}
}
