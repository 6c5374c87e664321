package services

import (
	"github.com/shopspring/decimal"

	"github.com/equitra/swingscan-go/internal/config"
	"github.com/equitra/swingscan-go/internal/models"
)

// FilterDecision is the admission verdict for one scored candidate. A
// rejection is an expected outcome of screening, never an error.
type FilterDecision string

const (
	Admitted          FilterDecision = "admitted"
	RejectedBlacklist FilterDecision = "rejected_blacklist"
	RejectedLiquidity FilterDecision = "rejected_liquidity"
	RejectedScore     FilterDecision = "rejected_score"
)

// Admitted reports whether the decision lets the candidate through.
func (d FilterDecision) Admitted() bool {
	return d == Admitted
}

// CandidateFilter applies the admission gates in a fixed order: blacklist,
// then liquidity, then score. The first failing gate names the decision, so
// rejection counts are stable across runs.
type CandidateFilter struct {
	minTradingValue decimal.Decimal
	minScore        int
}

// NewCandidateFilter creates a filter from the screener thresholds.
func NewCandidateFilter(cfg config.ScreenerConfig) *CandidateFilter {
	return &CandidateFilter{
		minTradingValue: decimal.NewFromFloat(cfg.MinTradingValue),
		minScore:        cfg.MinScore,
	}
}

// Decide returns the admission verdict for a scored candidate. Blacklist
// membership is resolved by the caller once per run so deciding stays a
// pure function.
func (f *CandidateFilter) Decide(candidate *models.Candidate, blacklisted bool) FilterDecision {
	if blacklisted {
		return RejectedBlacklist
	}
	if candidate.TradingValue.LessThan(f.minTradingValue) {
		return RejectedLiquidity
	}
	if candidate.Score.Total < f.minScore {
		return RejectedScore
	}
	return Admitted
}
