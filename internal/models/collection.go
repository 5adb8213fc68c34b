package models

import "time"

// CollectionMode identifies the direction of a collection run.
type CollectionMode string

const (
	ModeBackward CollectionMode = "backward"
	ModeForward  CollectionMode = "forward"
	ModeGapFill  CollectionMode = "gapfill"
)

// Valid reports whether m is a known collection mode.
func (m CollectionMode) Valid() bool {
	switch m {
	case ModeBackward, ModeForward, ModeGapFill:
		return true
	}
	return false
}

// Gap is a half-open interval [Start, End) of hours with no stored
// observation for a symbol. Produced by the gap detector, consumed
// immediately by the orchestrator; never persisted.
type Gap struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Hours returns the number of hourly observations the gap covers.
func (g Gap) Hours() int {
	return int(g.End.Sub(g.Start) / time.Hour)
}

// SymbolOutcome records how one symbol fared within a collection run.
type SymbolOutcome struct {
	Symbol  string `json:"symbol"`
	Records int    `json:"records"`
	Error   string `json:"error,omitempty"`
}

// CollectionResult is the aggregate outcome of one orchestrator run.
type CollectionResult struct {
	Mode         CollectionMode  `json:"mode"`
	StartedAt    time.Time       `json:"started_at"`
	FinishedAt   time.Time       `json:"finished_at"`
	Successful   int             `json:"successful"`
	Failed       int             `json:"failed"`
	TotalRecords int             `json:"total_records"`
	Symbols      []SymbolOutcome `json:"symbols"`
}

// CollectionStatus is the orchestrator state snapshot served to the
// admin surface.
type CollectionStatus struct {
	IsRunning      bool              `json:"is_running"`
	CurrentMode    CollectionMode    `json:"current_mode,omitempty"`
	ElapsedSeconds float64           `json:"elapsed_seconds,omitempty"`
	LastResult     *CollectionResult `json:"last_result,omitempty"`
}

// CollectionSummary is the per-symbol completeness diagnostic.
type CollectionSummary struct {
	Symbol              string  `json:"symbol"`
	ExpectedHours       int     `json:"expected_hours"`
	StoredHours         int     `json:"stored_hours"`
	CompletenessPercent float64 `json:"completeness_percent"`
}

// RunEvent is the Kafka payload published when a collection run
// completes, consumed by downstream services (forecasting, alerting).
type RunEvent struct {
	EventType string            `json:"event_type"`
	Mode      CollectionMode    `json:"mode,omitempty"`
	Result    *CollectionResult `json:"result,omitempty"`
	Symbols   []string          `json:"symbols,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}
