package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/equitra/swingscan-go/internal/models"
)

// MarketRepository handles database access for the screening universe:
// listed instruments, daily price bars, fundamental snapshots, and the
// persisted output of completed scan runs.
type MarketRepository struct {
	pool DatabasePool
}

// NewMarketRepository creates a new market repository.
func NewMarketRepository(pool DatabasePool) *MarketRepository {
	return &MarketRepository{
		pool: pool,
	}
}

// ActiveInstruments returns every instrument currently eligible for
// screening, ordered by id for deterministic runs.
func (r *MarketRepository) ActiveInstruments(ctx context.Context) ([]models.Instrument, error) {
	query := `
		SELECT id, display_name, market, current_price, is_active
		FROM instruments
		WHERE is_active = true
		ORDER BY id
	`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query active instruments: %w", err)
	}
	defer rows.Close()

	var instruments []models.Instrument
	for rows.Next() {
		var inst models.Instrument
		err := rows.Scan(
			&inst.ID,
			&inst.DisplayName,
			&inst.Market,
			&inst.CurrentPrice,
			&inst.IsActive,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan instrument: %w", err)
		}
		instruments = append(instruments, inst)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating instruments: %w", err)
	}

	return instruments, nil
}

// DailyBars returns up to lookback most recent daily bars for an
// instrument, oldest first. Fewer bars than requested is not an error;
// the indicator layer decides whether the history suffices.
func (r *MarketRepository) DailyBars(ctx context.Context, instrumentID string, lookback int) (models.PriceSeries, error) {
	query := `
		SELECT trade_date, open, high, low, close, volume
		FROM (
			SELECT trade_date, open, high, low, close, volume
			FROM daily_prices
			WHERE instrument_id = $1
			ORDER BY trade_date DESC
			LIMIT $2
		) recent
		ORDER BY trade_date ASC
	`

	rows, err := r.pool.Query(ctx, query, instrumentID, lookback)
	if err != nil {
		return nil, fmt.Errorf("failed to query daily bars for %s: %w", instrumentID, err)
	}
	defer rows.Close()

	var series models.PriceSeries
	for rows.Next() {
		var p models.PricePoint
		err := rows.Scan(
			&p.Date,
			&p.Open,
			&p.High,
			&p.Low,
			&p.Close,
			&p.Volume,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan daily bar: %w", err)
		}
		series = append(series, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating daily bars: %w", err)
	}

	return series, nil
}

// FundamentalsFor returns the most recent fundamental snapshot for an
// instrument, or nil when none is recorded. A missing snapshot is a
// normal outcome, not an error.
func (r *MarketRepository) FundamentalsFor(ctx context.Context, instrumentID string) (*models.FundamentalsSnapshot, error) {
	query := `
		SELECT instrument_id, pbr, market_cap, shares_outstanding, equity, net_income, as_of
		FROM fundamentals
		WHERE instrument_id = $1
		ORDER BY as_of DESC NULLS LAST
		LIMIT 1
	`

	var snap models.FundamentalsSnapshot
	err := r.pool.QueryRow(ctx, query, instrumentID).Scan(
		&snap.InstrumentID,
		&snap.PBR,
		&snap.MarketCap,
		&snap.SharesOutstanding,
		&snap.Equity,
		&snap.NetIncome,
		&snap.AsOf,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query fundamentals for %s: %w", instrumentID, err)
	}

	return &snap, nil
}

// SaveScan persists one completed run: the summary row plus a row per
// top-list candidate so past selections stay queryable by instrument.
func (r *MarketRepository) SaveScan(ctx context.Context, summary *models.ScanSummary, result *models.SelectionResult) error {
	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("failed to encode scan summary: %w", err)
	}
	payloadJSON, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to encode selection result: %w", err)
	}

	resultQuery := `
		INSERT INTO scan_results (run_id, market_status, universe_size, scored, candidate_count, average_score, summary, payload, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err = r.pool.Exec(ctx, resultQuery,
		summary.RunID,
		summary.MarketStatus,
		summary.UniverseSize,
		summary.Scored,
		summary.Candidates,
		summary.AverageScore,
		summaryJSON,
		payloadJSON,
		summary.StartedAt,
		summary.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save scan result: %w", err)
	}

	candidateQuery := `
		INSERT INTO scan_candidates (run_id, rank, instrument_id, total_score, risk_tier, trading_value, detail)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	for i, c := range result.TopN {
		detailJSON, err := json.Marshal(c)
		if err != nil {
			return fmt.Errorf("failed to encode candidate %s: %w", c.InstrumentID, err)
		}
		_, err = r.pool.Exec(ctx, candidateQuery,
			summary.RunID,
			i+1,
			c.InstrumentID,
			c.Score.Total,
			string(c.RiskTier),
			c.TradingValue,
			detailJSON,
		)
		if err != nil {
			return fmt.Errorf("failed to save candidate %s: %w", c.InstrumentID, err)
		}
	}

	return nil
}

// LatestScan returns the summary and selection result of the most recent
// run, or nils when no run has been persisted yet.
func (r *MarketRepository) LatestScan(ctx context.Context) (*models.ScanSummary, *models.SelectionResult, error) {
	query := `
		SELECT summary, payload
		FROM scan_results
		ORDER BY finished_at DESC
		LIMIT 1
	`

	var summaryJSON, payloadJSON []byte
	err := r.pool.QueryRow(ctx, query).Scan(&summaryJSON, &payloadJSON)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("failed to query latest scan: %w", err)
	}

	var summary models.ScanSummary
	if err := json.Unmarshal(summaryJSON, &summary); err != nil {
		return nil, nil, fmt.Errorf("failed to decode scan summary: %w", err)
	}
	var result models.SelectionResult
	if err := json.Unmarshal(payloadJSON, &result); err != nil {
		return nil, nil, fmt.Errorf("failed to decode selection result: %w", err)
	}

	return &summary, &result, nil
}

// ScanHistory returns summaries of the most recent runs, newest first.
func (r *MarketRepository) ScanHistory(ctx context.Context, limit int) ([]models.ScanSummary, error) {
	query := `
		SELECT summary
		FROM scan_results
		ORDER BY finished_at DESC
		LIMIT $1
	`

	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query scan history: %w", err)
	}
	defer rows.Close()

	var summaries []models.ScanSummary
	for rows.Next() {
		var summaryJSON []byte
		if err := rows.Scan(&summaryJSON); err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		var summary models.ScanSummary
		if err := json.Unmarshal(summaryJSON, &summary); err != nil {
			return nil, fmt.Errorf("failed to decode history summary: %w", err)
		}
		summaries = append(summaries, summary)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating scan history: %w", err)
	}

	return summaries, nil
}

// PruneScans deletes runs started before the cutoff, candidates first so
// no candidate row outlives its run. Returns how many runs were removed.
func (r *MarketRepository) PruneScans(ctx context.Context, olderThan time.Time) (int64, error) {
	candidateQuery := `
		DELETE FROM scan_candidates
		WHERE run_id IN (
			SELECT run_id FROM scan_results WHERE started_at < $1
		)
	`

	if _, err := r.pool.Exec(ctx, candidateQuery, olderThan); err != nil {
		return 0, fmt.Errorf("failed to prune scan candidates: %w", err)
	}

	resultQuery := `
		DELETE FROM scan_results
		WHERE started_at < $1
	`

	tag, err := r.pool.Exec(ctx, resultQuery, olderThan)
	if err != nil {
		return 0, fmt.Errorf("failed to prune scan results: %w", err)
	}

	return tag.RowsAffected(), nil
}
