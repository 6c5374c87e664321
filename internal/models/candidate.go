package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// RiskTag marks one independent risk condition observed on an instrument.
type RiskTag string

const (
	RiskSmallCap       RiskTag = "small_cap"
	RiskLowPrice       RiskTag = "low_price"
	RiskRecentSurge    RiskTag = "recent_surge"
	RiskLowLiquidity   RiskTag = "low_liquidity"
	RiskNegativeEquity RiskTag = "negative_equity"
	RiskCapitalErosion RiskTag = "capital_erosion"
)

// RiskTier is the coarse Low/Medium/High bucketing of an instrument's
// risk-tag count. It is independent of the composite score and never
// influences ranking order.
type RiskTier string

const (
	RiskTierLow    RiskTier = "low"
	RiskTierMedium RiskTier = "medium"
	RiskTierHigh   RiskTier = "high"
)

// IndicatorName identifies one ranked indicator for leaderboard views.
type IndicatorName string

const (
	IndicatorRSI       IndicatorName = "rsi"
	IndicatorDisparity IndicatorName = "disparity"
	IndicatorVolume    IndicatorName = "volume_ratio"
	IndicatorReturn5d  IndicatorName = "return_5d"
	IndicatorRebound   IndicatorName = "rebound"
	IndicatorPBR       IndicatorName = "pbr"
)

// ProfileName identifies one investor-profile grouping of candidates.
type ProfileName string

const (
	ProfileConservative ProfileName = "conservative"
	ProfileBalanced     ProfileName = "balanced"
	ProfileAggressive   ProfileName = "aggressive"
)

// IndicatorSet holds the derived per-instrument indicator values for one
// run. Recomputed every run, never persisted. Percent conventions:
// disparity and volume ratio read 100 at their reference average, rebound
// strength is the 0-100 position inside the trailing low/high band.
type IndicatorSet struct {
	RSI14           float64   `json:"rsi14"`
	Disparity20     float64   `json:"disparity20"`
	VolumeRatio     float64   `json:"volume_ratio"`
	Return5d        float64   `json:"return_5d"`
	Return20d       float64   `json:"return_20d"`
	ReboundStrength float64   `json:"rebound_strength"`
	PBR             *float64  `json:"pbr,omitempty"`
	RiskFactors     []RiskTag `json:"risk_factors"`
}

// ScoreBreakdown holds the per-indicator points and their sum. Total is
// always the exact sum of the other fields and never exceeds the table
// ceiling of 100.
type ScoreBreakdown struct {
	RSIPoints       int `json:"rsi_points"`
	DisparityPoints int `json:"disparity_points"`
	VolumePoints    int `json:"volume_points"`
	PBRPoints       int `json:"pbr_points"`
	MomentumPoints  int `json:"momentum_points"`
	ReboundPoints   int `json:"rebound_points"`
	Total           int `json:"total"`
}

// Sum recomputes the total from the individual point fields.
func (b ScoreBreakdown) Sum() int {
	return b.RSIPoints + b.DisparityPoints + b.VolumePoints +
		b.PBRPoints + b.MomentumPoints + b.ReboundPoints
}

// Candidate represents one fully scored instrument within a single run.
// Immutable after creation; discarded or persisted whole at end of run.
type Candidate struct {
	InstrumentID string          `json:"instrument_id"`
	DisplayName  string          `json:"display_name"`
	Market       string          `json:"market"`
	CurrentPrice decimal.Decimal `json:"current_price"`
	Indicators   IndicatorSet    `json:"indicators"`
	Score        ScoreBreakdown  `json:"score"`
	RiskTier     RiskTier        `json:"risk_tier"`
	TradingValue decimal.Decimal `json:"trading_value"`
	StopLoss     decimal.Decimal `json:"stop_loss"`
	TargetPrice  decimal.Decimal `json:"target_price"`
}

// SelectionResult is the complete output of one screening run: the overall
// top list plus the secondary per-indicator and per-profile views. It
// carries no timestamps so two runs over an identical market snapshot
// compare equal.
type SelectionResult struct {
	TopN          []Candidate                   `json:"top_n"`
	Leaderboards  map[IndicatorName][]Candidate `json:"leaderboards"`
	ProfileGroups map[ProfileName][]Candidate   `json:"profile_groups"`
}

// ScanSummary records run-level observability data kept deliberately
// outside SelectionResult: identifiers, wall-clock timings, and the
// per-outcome instrument counts.
type ScanSummary struct {
	RunID             string    `json:"run_id"`
	UniverseSize      int       `json:"universe_size"`
	Scored            int       `json:"scored"`
	InsufficientData  int       `json:"insufficient_data"`
	FilteredLiquidity int       `json:"filtered_liquidity"`
	FilteredScore     int       `json:"filtered_score"`
	FilteredBlacklist int       `json:"filtered_blacklist"`
	Failed            int       `json:"failed"`
	Candidates        int       `json:"candidates"`
	AverageScore      float64   `json:"average_score"`
	MarketStatus      string    `json:"market_status"`
	StartedAt         time.Time `json:"started_at"`
	FinishedAt        time.Time `json:"finished_at"`
}

// InsufficientDataError reports that a price series is too short for an
// indicator's window. The affected instrument is skipped for the run;
// callers must not coerce this into a zero-valued indicator.
type InsufficientDataError struct {
	InstrumentID string
	Indicator    string
	Need         int
	Have         int
}

// Error returns a description of the missing history.
func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("insufficient data for %s: %s needs %d points, have %d",
		e.InstrumentID, e.Indicator, e.Need, e.Have)
}
