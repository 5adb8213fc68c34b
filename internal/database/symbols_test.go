package database

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coinpulse/market-data-service/internal/models"
)

func TestSymbolRepository(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	testDB := SetupTestDB(t)
	defer testDB.Cleanup(t)

	t.Run("UpsertSymbol creates new symbol", func(t *testing.T) {
		testDB.TruncateAll(t)

		s := &models.Symbol{Symbol: "BTCUSDT", Name: "BTCUSDT", Rank: 1}
		err := testDB.UpsertSymbol(s)
		require.NoError(t, err)
		assert.True(t, s.Active)
		assert.False(t, s.TrackedSince.IsZero())

		got, err := testDB.GetSymbol("BTCUSDT")
		require.NoError(t, err)
		assert.Equal(t, 1, got.Rank)
		assert.True(t, got.Active)
	})

	t.Run("UpsertSymbol re-rank keeps tracked_since", func(t *testing.T) {
		testDB.TruncateAll(t)

		since := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
		s := &models.Symbol{Symbol: "ETHUSDT", Rank: 2, TrackedSince: since}
		require.NoError(t, testDB.UpsertSymbol(s))

		again := &models.Symbol{Symbol: "ETHUSDT", Rank: 5}
		require.NoError(t, testDB.UpsertSymbol(again))

		got, err := testDB.GetSymbol("ETHUSDT")
		require.NoError(t, err)
		assert.Equal(t, 5, got.Rank)
		assert.True(t, got.TrackedSince.Equal(since), "tracked_since must not move on re-rank")
	})

	t.Run("GetActiveSymbols orders by rank", func(t *testing.T) {
		testDB.TruncateAll(t)

		require.NoError(t, testDB.UpsertSymbol(&models.Symbol{Symbol: "SOLUSDT", Rank: 3}))
		require.NoError(t, testDB.UpsertSymbol(&models.Symbol{Symbol: "BTCUSDT", Rank: 1}))
		require.NoError(t, testDB.UpsertSymbol(&models.Symbol{Symbol: "ETHUSDT", Rank: 2}))

		active, err := testDB.GetActiveSymbols()
		require.NoError(t, err)
		require.Len(t, active, 3)
		assert.Equal(t, "BTCUSDT", active[0].Symbol)
		assert.Equal(t, "ETHUSDT", active[1].Symbol)
		assert.Equal(t, "SOLUSDT", active[2].Symbol)
	})

	t.Run("DeactivateSymbolsNotIn soft-retains dropped symbols", func(t *testing.T) {
		testDB.TruncateAll(t)

		require.NoError(t, testDB.UpsertSymbol(&models.Symbol{Symbol: "BTCUSDT", Rank: 1}))
		require.NoError(t, testDB.UpsertSymbol(&models.Symbol{Symbol: "DOGEUSDT", Rank: 2}))

		n, err := testDB.DeactivateSymbolsNotIn([]string{"BTCUSDT"})
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		active, err := testDB.GetActiveSymbols()
		require.NoError(t, err)
		require.Len(t, active, 1)
		assert.Equal(t, "BTCUSDT", active[0].Symbol)

		// Dropped symbol still readable, just inactive.
		dropped, err := testDB.GetSymbol("DOGEUSDT")
		require.NoError(t, err)
		assert.False(t, dropped.Active)
	})

	t.Run("UpsertSymbol reactivates returning symbol", func(t *testing.T) {
		testDB.TruncateAll(t)

		require.NoError(t, testDB.UpsertSymbol(&models.Symbol{Symbol: "ADAUSDT", Rank: 9}))
		_, err := testDB.DeactivateSymbolsNotIn([]string{"BTCUSDT"})
		require.NoError(t, err)

		require.NoError(t, testDB.UpsertSymbol(&models.Symbol{Symbol: "ADAUSDT", Rank: 10}))
		got, err := testDB.GetSymbol("ADAUSDT")
		require.NoError(t, err)
		assert.True(t, got.Active)
	})

	t.Run("TrackedSince returns hour-aligned boundary", func(t *testing.T) {
		testDB.TruncateAll(t)

		since := time.Date(2024, 6, 1, 14, 0, 0, 0, time.UTC)
		require.NoError(t, testDB.UpsertSymbol(&models.Symbol{Symbol: "BTCUSDT", Rank: 1, TrackedSince: since}))

		got, err := testDB.TrackedSince("BTCUSDT")
		require.NoError(t, err)
		assert.True(t, got.Equal(since))
	})
}
