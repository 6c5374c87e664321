package services

import (
	"github.com/equitra/swingscan-go/internal/config"
	"github.com/equitra/swingscan-go/internal/models"
	"github.com/equitra/swingscan-go/internal/utils"
)

// MaxTotalScore is the ceiling a composite score can reach. The default
// tables allocate exactly this many points across the six indicators.
const MaxTotalScore = 100

// BucketDirection states which side of a step's threshold matches.
type BucketDirection string

const (
	// AtMost matches values less than or equal to a step's threshold.
	// Steps must be ordered by strictly ascending threshold.
	AtMost BucketDirection = "at_most"
	// AtLeast matches values greater than or equal to a step's threshold.
	// Steps must be ordered by strictly descending threshold.
	AtLeast BucketDirection = "at_least"
)

// BucketStep is one threshold/points pair in a bucket table.
type BucketStep struct {
	Threshold float64 `json:"threshold"`
	Points    int     `json:"points"`
}

// BucketTable maps an indicator value onto points. Steps are evaluated in
// order and the first match wins, so the ordering constraint in
// BucketDirection is what keeps the buckets non-overlapping. Values no step
// matches earn Default.
type BucketTable struct {
	Direction BucketDirection `json:"direction"`
	Steps     []BucketStep    `json:"steps"`
	Default   int             `json:"default"`
}

// Apply returns the points of the first matching step, or Default when
// nothing matches. There is no interpolation between steps; NaN matches no
// step and earns Default.
func (t BucketTable) Apply(value float64) int {
	for _, step := range t.Steps {
		switch t.Direction {
		case AtMost:
			if value <= step.Threshold {
				return step.Points
			}
		case AtLeast:
			if value >= step.Threshold {
				return step.Points
			}
		}
	}
	return t.Default
}

func (t BucketTable) maxPoints() int {
	best := t.Default
	for _, step := range t.Steps {
		if step.Points > best {
			best = step.Points
		}
	}
	return best
}

func (t BucketTable) validate(name string) error {
	if t.Direction != AtMost && t.Direction != AtLeast {
		return utils.NewValidationErrorf(name, "unknown bucket direction %q", t.Direction)
	}
	if len(t.Steps) == 0 {
		return utils.NewValidationError(name, "bucket table has no steps")
	}
	for i, step := range t.Steps {
		if step.Points < 0 {
			return utils.NewValidationErrorf(name, "step %d has negative points", i)
		}
		if i == 0 {
			continue
		}
		prev := t.Steps[i-1].Threshold
		if t.Direction == AtMost && step.Threshold <= prev {
			return utils.NewValidationErrorf(name, "step %d threshold %v not above %v, buckets would overlap", i, step.Threshold, prev)
		}
		if t.Direction == AtLeast && step.Threshold >= prev {
			return utils.NewValidationErrorf(name, "step %d threshold %v not below %v, buckets would overlap", i, step.Threshold, prev)
		}
	}
	if t.Default < 0 {
		return utils.NewValidationError(name, "default points negative")
	}
	return nil
}

// ScoreTables holds the six bucket tables of the composite score, one per
// indicator. Every run reads from a single validated instance; there are no
// secondary copies to drift.
type ScoreTables struct {
	RSI       BucketTable `json:"rsi"`
	Disparity BucketTable `json:"disparity"`
	Volume    BucketTable `json:"volume"`
	PBR       BucketTable `json:"pbr"`
	Return5d  BucketTable `json:"return_5d"`
	Rebound   BucketTable `json:"rebound"`
}

// DefaultScoreTables returns the standard scoring tables. Weights: RSI 30,
// disparity 20, volume 15, PBR 15, 5-day return 10, rebound 10.
func DefaultScoreTables() ScoreTables {
	return ScoreTables{
		RSI: BucketTable{
			Direction: AtMost,
			Steps: []BucketStep{
				{Threshold: 30, Points: 30},
				{Threshold: 40, Points: 25},
				{Threshold: 50, Points: 15},
				{Threshold: 60, Points: 10},
			},
			Default: 5,
		},
		Disparity: BucketTable{
			Direction: AtMost,
			Steps: []BucketStep{
				{Threshold: 95, Points: 20},
				{Threshold: 98, Points: 15},
				{Threshold: 102, Points: 10},
				{Threshold: 105, Points: 5},
			},
			Default: 2,
		},
		Volume: BucketTable{
			Direction: AtLeast,
			Steps: []BucketStep{
				{Threshold: 150, Points: 15},
				{Threshold: 120, Points: 12},
				{Threshold: 100, Points: 8},
				{Threshold: 80, Points: 5},
			},
			Default: 2,
		},
		PBR: BucketTable{
			Direction: AtMost,
			Steps: []BucketStep{
				{Threshold: 0.5, Points: 15},
				{Threshold: 1.0, Points: 12},
				{Threshold: 1.5, Points: 8},
				{Threshold: 2.0, Points: 5},
			},
			Default: 2,
		},
		Return5d: BucketTable{
			Direction: AtLeast,
			Steps: []BucketStep{
				{Threshold: 10, Points: 10},
				{Threshold: 5, Points: 8},
				{Threshold: 0, Points: 5},
				{Threshold: -5, Points: 3},
			},
			Default: 1,
		},
		Rebound: BucketTable{
			Direction: AtLeast,
			Steps: []BucketStep{
				{Threshold: 80, Points: 10},
				{Threshold: 60, Points: 8},
				{Threshold: 40, Points: 5},
				{Threshold: 20, Points: 3},
			},
			Default: 1,
		},
	}
}

// Validate checks every table and the combined ceiling. A table set that
// fails here must abort startup before any instrument is processed.
func (t ScoreTables) Validate() error {
	checks := []struct {
		name  string
		table BucketTable
	}{
		{"score_table.rsi", t.RSI},
		{"score_table.disparity", t.Disparity},
		{"score_table.volume", t.Volume},
		{"score_table.pbr", t.PBR},
		{"score_table.return_5d", t.Return5d},
		{"score_table.rebound", t.Rebound},
	}

	ceiling := 0
	for _, c := range checks {
		if err := c.table.validate(c.name); err != nil {
			return err
		}
		ceiling += c.table.maxPoints()
	}

	if ceiling != MaxTotalScore {
		return utils.NewValidationErrorf("score_tables", "table maxima sum to %d, want %d", ceiling, MaxTotalScore)
	}
	return nil
}

// ScoreEngine turns an indicator set into a score breakdown and a risk
// tier. Construction validates the tables, so a live engine can score
// without error paths; scoring itself is pure.
type ScoreEngine struct {
	tables ScoreTables
	tiers  config.TierConfig
}

// NewScoreEngine creates a score engine after validating its tables and
// tier cut lines.
func NewScoreEngine(tables ScoreTables, tiers config.TierConfig) (*ScoreEngine, error) {
	if err := tables.Validate(); err != nil {
		return nil, err
	}
	if tiers.MediumMin <= 0 || tiers.HighMin <= tiers.MediumMin {
		return nil, utils.NewValidationError("tiers", "cut lines must satisfy 0 < medium_min < high_min")
	}
	return &ScoreEngine{tables: tables, tiers: tiers}, nil
}

// Tables returns the engine's validated score tables.
func (se *ScoreEngine) Tables() ScoreTables {
	return se.tables
}

// Score maps each indicator through its bucket table and sums the points.
// An absent price-to-book ratio earns zero, never an error; missing
// fundamentals cost points without blocking a candidate.
func (se *ScoreEngine) Score(set *models.IndicatorSet) models.ScoreBreakdown {
	breakdown := models.ScoreBreakdown{
		RSIPoints:       se.tables.RSI.Apply(set.RSI14),
		DisparityPoints: se.tables.Disparity.Apply(set.Disparity20),
		VolumePoints:    se.tables.Volume.Apply(set.VolumeRatio),
		MomentumPoints:  se.tables.Return5d.Apply(set.Return5d),
		ReboundPoints:   se.tables.Rebound.Apply(set.ReboundStrength),
	}
	if set.PBR != nil {
		breakdown.PBRPoints = se.tables.PBR.Apply(*set.PBR)
	}
	breakdown.Total = breakdown.Sum()
	return breakdown
}

// RiskTierFor maps a risk tag count onto a tier. The tier reflects only
// how many predicates fired; the score never feeds into it.
func (se *ScoreEngine) RiskTierFor(tags []models.RiskTag) models.RiskTier {
	switch n := len(tags); {
	case n >= se.tiers.HighMin:
		return models.RiskTierHigh
	case n >= se.tiers.MediumMin:
		return models.RiskTierMedium
	default:
		return models.RiskTierLow
	}
}
