package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/equitra/swingscan-go/internal/models"
)

// TestMarketRepository_NewMarketRepository tests the constructor
func TestMarketRepository_NewMarketRepository(t *testing.T) {
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err, "Failed to create mock pool")
	defer mockPool.Close()

	adapter := NewMockPoolAdapter(mockPool)
	repo := NewMarketRepository(adapter)
	assert.NotNil(t, repo)
	assert.Equal(t, adapter, repo.pool)
}

// TestMarketRepository_ActiveInstruments_Success tests loading the screening universe
func TestMarketRepository_ActiveInstruments_Success(t *testing.T) {
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err, "Failed to create mock pool")
	defer mockPool.Close()

	adapter := NewMockPoolAdapter(mockPool)
	repo := NewMarketRepository(adapter)
	ctx := context.Background()

	rows := pgxmock.NewRows([]string{"id", "display_name", "market", "current_price", "is_active"}).
		AddRow("000660", "SK Hynix", "KOSPI", decimal.NewFromInt(128000), true).
		AddRow("005930", "Samsung Electronics", "KOSPI", decimal.NewFromInt(70500), true)

	mockPool.ExpectQuery(`
		SELECT id, display_name, market, current_price, is_active
		FROM instruments
		WHERE is_active = true
		ORDER BY id
	`).WillReturnRows(rows)

	instruments, err := repo.ActiveInstruments(ctx)
	assert.NoError(t, err)
	assert.Len(t, instruments, 2)
	assert.Equal(t, "000660", instruments[0].ID)
	assert.Equal(t, "SK Hynix", instruments[0].DisplayName)
	assert.True(t, instruments[0].CurrentPrice.Equal(decimal.NewFromInt(128000)))
	assert.Equal(t, "005930", instruments[1].ID)

	assert.NoError(t, mockPool.ExpectationsWereMet())
}

// TestMarketRepository_ActiveInstruments_QueryError tests error wrapping on pool failures
func TestMarketRepository_ActiveInstruments_QueryError(t *testing.T) {
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err, "Failed to create mock pool")
	defer mockPool.Close()

	adapter := NewMockPoolAdapter(mockPool)
	repo := NewMarketRepository(adapter)
	ctx := context.Background()

	mockPool.ExpectQuery(`
		SELECT id, display_name, market, current_price, is_active
		FROM instruments
		WHERE is_active = true
		ORDER BY id
	`).WillReturnError(fmt.Errorf("connection refused"))

	instruments, err := repo.ActiveInstruments(ctx)
	assert.Error(t, err)
	assert.Nil(t, instruments)
	assert.Contains(t, err.Error(), "failed to query active instruments")

	assert.NoError(t, mockPool.ExpectationsWereMet())
}

// TestMarketRepository_DailyBars_Success tests loading price history oldest first
func TestMarketRepository_DailyBars_Success(t *testing.T) {
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err, "Failed to create mock pool")
	defer mockPool.Close()

	adapter := NewMockPoolAdapter(mockPool)
	repo := NewMarketRepository(adapter)
	ctx := context.Background()
	instrumentID := "005930"
	lookback := 40

	day1 := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	day2 := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)

	rows := pgxmock.NewRows([]string{"trade_date", "open", "high", "low", "close", "volume"}).
		AddRow(day1, decimal.NewFromInt(70000), decimal.NewFromInt(71500), decimal.NewFromInt(69800), decimal.NewFromInt(71000), decimal.NewFromInt(12000000)).
		AddRow(day2, decimal.NewFromInt(71000), decimal.NewFromInt(72000), decimal.NewFromInt(70500), decimal.NewFromInt(71800), decimal.NewFromInt(9500000))

	mockPool.ExpectQuery(`
		SELECT trade_date, open, high, low, close, volume
		FROM \(
			SELECT trade_date, open, high, low, close, volume
			FROM daily_prices
			WHERE instrument_id = \$1
			ORDER BY trade_date DESC
			LIMIT \$2
		\) recent
		ORDER BY trade_date ASC
	`).WithArgs(instrumentID, lookback).WillReturnRows(rows)

	series, err := repo.DailyBars(ctx, instrumentID, lookback)
	assert.NoError(t, err)
	assert.Len(t, series, 2)
	assert.True(t, series[0].Date.Before(series[1].Date))
	assert.True(t, series[0].Close.Equal(decimal.NewFromInt(71000)))
	assert.True(t, series[1].Volume.Equal(decimal.NewFromInt(9500000)))

	assert.NoError(t, mockPool.ExpectationsWereMet())
}

// TestMarketRepository_DailyBars_ShortHistory tests that a thin series is returned as-is
func TestMarketRepository_DailyBars_ShortHistory(t *testing.T) {
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err, "Failed to create mock pool")
	defer mockPool.Close()

	adapter := NewMockPoolAdapter(mockPool)
	repo := NewMarketRepository(adapter)
	ctx := context.Background()

	rows := pgxmock.NewRows([]string{"trade_date", "open", "high", "low", "close", "volume"}).
		AddRow(time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC), decimal.NewFromInt(100), decimal.NewFromInt(101), decimal.NewFromInt(99), decimal.NewFromInt(100), decimal.NewFromInt(1000))

	mockPool.ExpectQuery(`
		SELECT trade_date, open, high, low, close, volume
		FROM \(
			SELECT trade_date, open, high, low, close, volume
			FROM daily_prices
			WHERE instrument_id = \$1
			ORDER BY trade_date DESC
			LIMIT \$2
		\) recent
		ORDER BY trade_date ASC
	`).WithArgs("035720", 40).WillReturnRows(rows)

	series, err := repo.DailyBars(ctx, "035720", 40)
	assert.NoError(t, err)
	assert.Len(t, series, 1)

	assert.NoError(t, mockPool.ExpectationsWereMet())
}

// TestMarketRepository_FundamentalsFor_Success tests loading the latest snapshot
func TestMarketRepository_FundamentalsFor_Success(t *testing.T) {
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err, "Failed to create mock pool")
	defer mockPool.Close()

	adapter := NewMockPoolAdapter(mockPool)
	repo := NewMarketRepository(adapter)
	ctx := context.Background()
	instrumentID := "005930"

	pbr := 1.2
	marketCap := int64(420_000_000_000_000)
	shares := int64(5_969_782_550)
	equity := 350_000_000_000_000.0
	netIncome := 15_000_000_000_000.0
	asOf := time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC)

	mockPool.ExpectQuery(`
		SELECT instrument_id, pbr, market_cap, shares_outstanding, equity, net_income, as_of
		FROM fundamentals
		WHERE instrument_id = \$1
		ORDER BY as_of DESC NULLS LAST
		LIMIT 1
	`).WithArgs(instrumentID).WillReturnRows(
		pgxmock.NewRows([]string{"instrument_id", "pbr", "market_cap", "shares_outstanding", "equity", "net_income", "as_of"}).
			AddRow(instrumentID, &pbr, &marketCap, &shares, &equity, &netIncome, &asOf),
	)

	snap, err := repo.FundamentalsFor(ctx, instrumentID)
	assert.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, instrumentID, snap.InstrumentID)
	require.NotNil(t, snap.PBR)
	assert.InDelta(t, 1.2, *snap.PBR, 1e-9)
	require.NotNil(t, snap.MarketCap)
	assert.Equal(t, marketCap, *snap.MarketCap)

	assert.NoError(t, mockPool.ExpectationsWereMet())
}

// TestMarketRepository_FundamentalsFor_Missing tests that no snapshot yields nil without error
func TestMarketRepository_FundamentalsFor_Missing(t *testing.T) {
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err, "Failed to create mock pool")
	defer mockPool.Close()

	adapter := NewMockPoolAdapter(mockPool)
	repo := NewMarketRepository(adapter)
	ctx := context.Background()

	mockPool.ExpectQuery(`
		SELECT instrument_id, pbr, market_cap, shares_outstanding, equity, net_income, as_of
		FROM fundamentals
		WHERE instrument_id = \$1
		ORDER BY as_of DESC NULLS LAST
		LIMIT 1
	`).WithArgs("068270").WillReturnError(sql.ErrNoRows)

	snap, err := repo.FundamentalsFor(ctx, "068270")
	assert.NoError(t, err)
	assert.Nil(t, snap)

	assert.NoError(t, mockPool.ExpectationsWereMet())
}

// TestMarketRepository_SaveScan_Success tests persisting a run with its candidate rows
func TestMarketRepository_SaveScan_Success(t *testing.T) {
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err, "Failed to create mock pool")
	defer mockPool.Close()

	adapter := NewMockPoolAdapter(mockPool)
	repo := NewMarketRepository(adapter)
	ctx := context.Background()

	started := time.Date(2024, 3, 5, 7, 0, 0, 0, time.UTC)
	finished := started.Add(90 * time.Second)
	summary := &models.ScanSummary{
		RunID:        "4f2a7f9e-0000-0000-0000-000000000001",
		UniverseSize: 120,
		Scored:       100,
		Candidates:   2,
		AverageScore: 52.4,
		MarketStatus: "neutral",
		StartedAt:    started,
		FinishedAt:   finished,
	}
	candidates := []models.Candidate{
		{
			InstrumentID: "005930",
			DisplayName:  "Samsung Electronics",
			Market:       "KOSPI",
			Score:        models.ScoreBreakdown{Total: 82},
			RiskTier:     models.RiskTierLow,
			TradingValue: decimal.NewFromInt(5_000_000_000),
		},
		{
			InstrumentID: "000660",
			DisplayName:  "SK Hynix",
			Market:       "KOSPI",
			Score:        models.ScoreBreakdown{Total: 75},
			RiskTier:     models.RiskTierMedium,
			TradingValue: decimal.NewFromInt(3_000_000_000),
		},
	}
	result := &models.SelectionResult{TopN: candidates}

	summaryJSON, err := json.Marshal(summary)
	require.NoError(t, err)
	payloadJSON, err := json.Marshal(result)
	require.NoError(t, err)

	mockPool.ExpectExec(`
		INSERT INTO scan_results \(run_id, market_status, universe_size, scored, candidate_count, average_score, summary, payload, started_at, finished_at\)
		VALUES \(\$1, \$2, \$3, \$4, \$5, \$6, \$7, \$8, \$9, \$10\)
	`).WithArgs(
		summary.RunID, summary.MarketStatus, summary.UniverseSize, summary.Scored,
		summary.Candidates, summary.AverageScore, summaryJSON, payloadJSON,
		summary.StartedAt, summary.FinishedAt,
	).WillReturnResult(pgxmock.NewResult("INSERT", 1))

	for i, c := range candidates {
		detailJSON, err := json.Marshal(c)
		require.NoError(t, err)
		mockPool.ExpectExec(`
		INSERT INTO scan_candidates \(run_id, rank, instrument_id, total_score, risk_tier, trading_value, detail\)
		VALUES \(\$1, \$2, \$3, \$4, \$5, \$6, \$7\)
	`).WithArgs(
			summary.RunID, i+1, c.InstrumentID, c.Score.Total,
			string(c.RiskTier), c.TradingValue, detailJSON,
		).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	}

	err = repo.SaveScan(ctx, summary, result)
	assert.NoError(t, err)

	assert.NoError(t, mockPool.ExpectationsWereMet())
}

// TestMarketRepository_SaveScan_ResultInsertError tests that a failed summary insert aborts the save
func TestMarketRepository_SaveScan_ResultInsertError(t *testing.T) {
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err, "Failed to create mock pool")
	defer mockPool.Close()

	adapter := NewMockPoolAdapter(mockPool)
	repo := NewMarketRepository(adapter)
	ctx := context.Background()

	summary := &models.ScanSummary{RunID: "broken-run"}
	result := &models.SelectionResult{}

	mockPool.ExpectExec(`
		INSERT INTO scan_results \(run_id, market_status, universe_size, scored, candidate_count, average_score, summary, payload, started_at, finished_at\)
		VALUES \(\$1, \$2, \$3, \$4, \$5, \$6, \$7, \$8, \$9, \$10\)
	`).WithArgs(
		pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
		pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
		pgxmock.AnyArg(), pgxmock.AnyArg(),
	).WillReturnError(fmt.Errorf("disk full"))

	err = repo.SaveScan(ctx, summary, result)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to save scan result")

	assert.NoError(t, mockPool.ExpectationsWereMet())
}

// TestMarketRepository_LatestScan_Success tests reading back the most recent run
func TestMarketRepository_LatestScan_Success(t *testing.T) {
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err, "Failed to create mock pool")
	defer mockPool.Close()

	adapter := NewMockPoolAdapter(mockPool)
	repo := NewMarketRepository(adapter)
	ctx := context.Background()

	storedSummary := models.ScanSummary{RunID: "run-42", Scored: 80, Candidates: 3, MarketStatus: "oversold"}
	storedResult := models.SelectionResult{
		TopN: []models.Candidate{{InstrumentID: "005930", Score: models.ScoreBreakdown{Total: 82}}},
	}
	summaryJSON, err := json.Marshal(storedSummary)
	require.NoError(t, err)
	payloadJSON, err := json.Marshal(storedResult)
	require.NoError(t, err)

	mockPool.ExpectQuery(`
		SELECT summary, payload
		FROM scan_results
		ORDER BY finished_at DESC
		LIMIT 1
	`).WillReturnRows(
		pgxmock.NewRows([]string{"summary", "payload"}).AddRow(summaryJSON, payloadJSON),
	)

	summary, result, err := repo.LatestScan(ctx)
	assert.NoError(t, err)
	require.NotNil(t, summary)
	require.NotNil(t, result)
	assert.Equal(t, "run-42", summary.RunID)
	assert.Equal(t, "oversold", summary.MarketStatus)
	require.Len(t, result.TopN, 1)
	assert.Equal(t, "005930", result.TopN[0].InstrumentID)
	assert.Equal(t, 82, result.TopN[0].Score.Total)

	assert.NoError(t, mockPool.ExpectationsWereMet())
}

// TestMarketRepository_LatestScan_Empty tests that no persisted run yields nils without error
func TestMarketRepository_LatestScan_Empty(t *testing.T) {
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err, "Failed to create mock pool")
	defer mockPool.Close()

	adapter := NewMockPoolAdapter(mockPool)
	repo := NewMarketRepository(adapter)
	ctx := context.Background()

	mockPool.ExpectQuery(`
		SELECT summary, payload
		FROM scan_results
		ORDER BY finished_at DESC
		LIMIT 1
	`).WillReturnError(sql.ErrNoRows)

	summary, result, err := repo.LatestScan(ctx)
	assert.NoError(t, err)
	assert.Nil(t, summary)
	assert.Nil(t, result)

	assert.NoError(t, mockPool.ExpectationsWereMet())
}

// TestMarketRepository_ScanHistory_Success tests listing recent run summaries
func TestMarketRepository_ScanHistory_Success(t *testing.T) {
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err, "Failed to create mock pool")
	defer mockPool.Close()

	adapter := NewMockPoolAdapter(mockPool)
	repo := NewMarketRepository(adapter)
	ctx := context.Background()

	first, err := json.Marshal(models.ScanSummary{RunID: "run-2", Scored: 90})
	require.NoError(t, err)
	second, err := json.Marshal(models.ScanSummary{RunID: "run-1", Scored: 85})
	require.NoError(t, err)

	mockPool.ExpectQuery(`
		SELECT summary
		FROM scan_results
		ORDER BY finished_at DESC
		LIMIT \$1
	`).WithArgs(5).WillReturnRows(
		pgxmock.NewRows([]string{"summary"}).AddRow(first).AddRow(second),
	)

	summaries, err := repo.ScanHistory(ctx, 5)
	assert.NoError(t, err)
	require.Len(t, summaries, 2)
	assert.Equal(t, "run-2", summaries[0].RunID)
	assert.Equal(t, 90, summaries[0].Scored)
	assert.Equal(t, "run-1", summaries[1].RunID)

	assert.NoError(t, mockPool.ExpectationsWereMet())
}

// TestMarketRepository_PruneScans_Success tests deleting runs past retention
func TestMarketRepository_PruneScans_Success(t *testing.T) {
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err, "Failed to create mock pool")
	defer mockPool.Close()

	adapter := NewMockPoolAdapter(mockPool)
	repo := NewMarketRepository(adapter)
	ctx := context.Background()

	cutoff := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	mockPool.ExpectExec(`
		DELETE FROM scan_candidates
		WHERE run_id IN \(
			SELECT run_id FROM scan_results WHERE started_at < \$1
		\)
	`).WithArgs(cutoff).WillReturnResult(pgxmock.NewResult("DELETE", 12))

	mockPool.ExpectExec(`
		DELETE FROM scan_results
		WHERE started_at < \$1
	`).WithArgs(cutoff).WillReturnResult(pgxmock.NewResult("DELETE", 4))

	removed, err := repo.PruneScans(ctx, cutoff)
	assert.NoError(t, err)
	assert.Equal(t, int64(4), removed)

	assert.NoError(t, mockPool.ExpectationsWereMet())
}

// TestMarketRepository_PruneScans_CandidateDeleteError tests that a failed
// candidate delete stops the prune before any run row is touched
func TestMarketRepository_PruneScans_CandidateDeleteError(t *testing.T) {
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err, "Failed to create mock pool")
	defer mockPool.Close()

	adapter := NewMockPoolAdapter(mockPool)
	repo := NewMarketRepository(adapter)
	ctx := context.Background()

	cutoff := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	mockPool.ExpectExec(`
		DELETE FROM scan_candidates
		WHERE run_id IN \(
			SELECT run_id FROM scan_results WHERE started_at < \$1
		\)
	`).WithArgs(cutoff).WillReturnError(fmt.Errorf("lock timeout"))

	removed, err := repo.PruneScans(ctx, cutoff)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to prune scan candidates")
	assert.Zero(t, removed)

	assert.NoError(t, mockPool.ExpectationsWereMet())
}
