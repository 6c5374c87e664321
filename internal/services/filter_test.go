package services

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/equitra/swingscan-go/internal/models"
)

func TestCandidateFilter_Decide(t *testing.T) {
	filter := NewCandidateFilter(testScreenerConfig())

	candidate := func(score int, tradingValue int64) *models.Candidate {
		return &models.Candidate{
			InstrumentID: "005930",
			Score:        models.ScoreBreakdown{Total: score},
			TradingValue: decimal.NewFromInt(tradingValue),
		}
	}

	tests := []struct {
		name        string
		candidate   *models.Candidate
		blacklisted bool
		want        FilterDecision
	}{
		{
			name:      "passes every gate",
			candidate: candidate(75, 2_000_000_000),
			want:      Admitted,
		},
		{
			name:      "exactly at both thresholds",
			candidate: candidate(60, 1_000_000_000),
			want:      Admitted,
		},
		{
			name:      "thin turnover",
			candidate: candidate(90, 999_999_999),
			want:      RejectedLiquidity,
		},
		{
			name:      "weak score",
			candidate: candidate(59, 2_000_000_000),
			want:      RejectedScore,
		},
		{
			name:        "blacklist outranks other gates",
			candidate:   candidate(15, 0),
			blacklisted: true,
			want:        RejectedBlacklist,
		},
		{
			name:      "liquidity gate decides before score",
			candidate: candidate(10, 10),
			want:      RejectedLiquidity,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := filter.Decide(tt.candidate, tt.blacklisted)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.want == Admitted, got.Admitted())
		})
	}
}
