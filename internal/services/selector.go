package services

import (
	"sort"

	"github.com/equitra/swingscan-go/internal/config"
	"github.com/equitra/swingscan-go/internal/models"
	"github.com/equitra/swingscan-go/internal/utils"
)

// profileTiers lists, per investor profile, the home tier first and then the
// backfill order when the home tier runs short.
var profileTiers = map[models.ProfileName][]models.RiskTier{
	models.ProfileConservative: {models.RiskTierLow, models.RiskTierMedium, models.RiskTierHigh},
	models.ProfileBalanced:     {models.RiskTierMedium, models.RiskTierLow, models.RiskTierHigh},
	models.ProfileAggressive:   {models.RiskTierHigh, models.RiskTierMedium, models.RiskTierLow},
}

// SelectionEngine builds the final views over the admitted candidate set:
// the overall top-N, per-indicator leaderboards, and investor-profile
// groups. All orderings share the same tie-break chain (score descending,
// trading value descending, instrument id ascending), so equal inputs
// always produce identical output.
type SelectionEngine struct {
	topN      int
	boardSize int
	groupSize int
}

// NewSelectionEngine creates a selection engine from the screener limits.
func NewSelectionEngine(cfg config.ScreenerConfig) (*SelectionEngine, error) {
	if cfg.TopN <= 0 {
		return nil, utils.NewValidationErrorf("top_n", "must be positive, got %d", cfg.TopN)
	}
	if cfg.LeaderboardSize <= 0 {
		return nil, utils.NewValidationErrorf("leaderboard_size", "must be positive, got %d", cfg.LeaderboardSize)
	}
	if cfg.ProfileSize <= 0 {
		return nil, utils.NewValidationErrorf("profile_size", "must be positive, got %d", cfg.ProfileSize)
	}
	return &SelectionEngine{
		topN:      cfg.TopN,
		boardSize: cfg.LeaderboardSize,
		groupSize: cfg.ProfileSize,
	}, nil
}

// Select assembles the selection views over the admitted set. The result
// always carries every leaderboard and profile key, empty or not, so the
// serialized shape is stable run to run.
func (se *SelectionEngine) Select(admitted []models.Candidate) *models.SelectionResult {
	return &models.SelectionResult{
		TopN:          se.topCandidates(admitted),
		Leaderboards:  se.leaderboards(admitted),
		ProfileGroups: se.profileGroups(admitted),
	}
}

func (se *SelectionEngine) topCandidates(admitted []models.Candidate) []models.Candidate {
	ranked := make([]models.Candidate, len(admitted))
	copy(ranked, admitted)
	sort.Slice(ranked, func(i, j int) bool {
		return rankLess(ranked[i], ranked[j])
	})
	if len(ranked) > se.topN {
		ranked = ranked[:se.topN]
	}
	return ranked
}

// leaderboards ranks the whole admitted set per indicator, not just the
// top-N, so a low-scoring but deeply oversold instrument still surfaces on
// its board. A candidate missing an indicator value drops off that board
// alone.
func (se *SelectionEngine) leaderboards(admitted []models.Candidate) map[models.IndicatorName][]models.Candidate {
	boards := make(map[models.IndicatorName][]models.Candidate, len(boardSpecs))
	for _, spec := range boardSpecs {
		entries := make([]models.Candidate, 0, len(admitted))
		for _, c := range admitted {
			if _, ok := spec.value(c); ok {
				entries = append(entries, c)
			}
		}
		sort.Slice(entries, func(i, j int) bool {
			a, _ := spec.value(entries[i])
			b, _ := spec.value(entries[j])
			if a != b {
				if spec.ascending {
					return a < b
				}
				return a > b
			}
			return rankLess(entries[i], entries[j])
		})
		if len(entries) > se.boardSize {
			entries = entries[:se.boardSize]
		}
		boards[spec.name] = entries
	}
	return boards
}

// profileGroups slices the admitted set by risk tier for each investor
// profile. The home tier fills first, ranked best first; when it runs short
// the shortfall backfills from the profile's next tiers in order. Tiers
// partition the set, so no instrument repeats within a group.
func (se *SelectionEngine) profileGroups(admitted []models.Candidate) map[models.ProfileName][]models.Candidate {
	ranked := make([]models.Candidate, len(admitted))
	copy(ranked, admitted)
	sort.Slice(ranked, func(i, j int) bool {
		return rankLess(ranked[i], ranked[j])
	})

	byTier := make(map[models.RiskTier][]models.Candidate, 3)
	for _, c := range ranked {
		byTier[c.RiskTier] = append(byTier[c.RiskTier], c)
	}

	groups := make(map[models.ProfileName][]models.Candidate, len(profileTiers))
	for profile, tiers := range profileTiers {
		group := make([]models.Candidate, 0, se.groupSize)
		for _, tier := range tiers {
			for _, c := range byTier[tier] {
				if len(group) == se.groupSize {
					break
				}
				group = append(group, c)
			}
		}
		groups[profile] = group
	}
	return groups
}

// rankLess is the shared ordering: score descending, then trading value
// descending, then instrument id ascending. The id leg makes every sort in
// the engine a total order.
func rankLess(a, b models.Candidate) bool {
	if a.Score.Total != b.Score.Total {
		return a.Score.Total > b.Score.Total
	}
	if !a.TradingValue.Equal(b.TradingValue) {
		return a.TradingValue.GreaterThan(b.TradingValue)
	}
	return a.InstrumentID < b.InstrumentID
}

type boardSpec struct {
	name      models.IndicatorName
	ascending bool
	value     func(models.Candidate) (float64, bool)
}

// boardSpecs defines the six leaderboards. Oversold-style indicators rank
// ascending, strength-style descending. Only the price-to-book board can
// lose entries to a missing value.
var boardSpecs = []boardSpec{
	{
		name:      models.IndicatorRSI,
		ascending: true,
		value: func(c models.Candidate) (float64, bool) {
			return c.Indicators.RSI14, true
		},
	},
	{
		name:      models.IndicatorDisparity,
		ascending: true,
		value: func(c models.Candidate) (float64, bool) {
			return c.Indicators.Disparity20, true
		},
	},
	{
		name:      models.IndicatorPBR,
		ascending: true,
		value: func(c models.Candidate) (float64, bool) {
			if c.Indicators.PBR == nil {
				return 0, false
			}
			return *c.Indicators.PBR, true
		},
	},
	{
		name:      models.IndicatorVolume,
		ascending: false,
		value: func(c models.Candidate) (float64, bool) {
			return c.Indicators.VolumeRatio, true
		},
	},
	{
		name:      models.IndicatorReturn5d,
		ascending: false,
		value: func(c models.Candidate) (float64, bool) {
			return c.Indicators.Return5d, true
		},
	},
	{
		name:      models.IndicatorRebound,
		ascending: false,
		value: func(c models.Candidate) (float64, bool) {
			return c.Indicators.ReboundStrength, true
		},
	},
}
