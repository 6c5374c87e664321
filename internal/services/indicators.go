package services

import (
	"github.com/cinar/indicator/v2/helper"
	"github.com/cinar/indicator/v2/trend"
	"github.com/shopspring/decimal"

	"github.com/equitra/swingscan-go/internal/config"
	"github.com/equitra/swingscan-go/internal/models"
)

// Indicator windows, in trading days.
const (
	rsiPeriod         = 14
	movingAvgPeriod   = 20
	shortVolumePeriod = 5
	shortReturnDays   = 5
	longReturnDays    = 20
)

// IndicatorCalculator derives the per-instrument indicator set from a daily
// price series and an optional fundamentals snapshot. Every method is a pure
// function of its inputs; the calculator holds no state between instruments
// and is safe for concurrent use.
type IndicatorCalculator struct {
	cfg config.ScreenerConfig
}

// NewIndicatorCalculator creates an indicator calculator with the given
// screening constants.
func NewIndicatorCalculator(cfg config.ScreenerConfig) *IndicatorCalculator {
	return &IndicatorCalculator{cfg: cfg}
}

// Compute derives the full indicator set for one instrument. Series must be
// chronological, oldest first. A series shorter than an indicator's window
// yields an InsufficientDataError; a valid zero is never used to stand in
// for missing history.
func (ic *IndicatorCalculator) Compute(instrumentID string, series models.PriceSeries, fundamentals *models.FundamentalsSnapshot) (*models.IndicatorSet, error) {
	if len(series) < ic.cfg.MinHistory {
		return nil, &models.InsufficientDataError{
			InstrumentID: instrumentID,
			Indicator:    "history",
			Need:         ic.cfg.MinHistory,
			Have:         len(series),
		}
	}

	closes := series.Closes()
	highs := series.Highs()
	lows := series.Lows()
	volumes := series.Volumes()

	rsi, err := ic.rsi(instrumentID, closes)
	if err != nil {
		return nil, err
	}

	disparity, err := ic.disparity(instrumentID, closes)
	if err != nil {
		return nil, err
	}

	set := &models.IndicatorSet{
		RSI14:           rsi,
		Disparity20:     disparity,
		VolumeRatio:     ic.volumeRatio(volumes),
		Return5d:        returnOver(closes, shortReturnDays),
		Return20d:       returnOver(closes, longReturnDays),
		ReboundStrength: ic.reboundStrength(closes, highs, lows),
	}

	currentPrice := closes[len(closes)-1]
	set.PBR = resolvePBR(currentPrice, fundamentals)

	tradingValue := ic.TradingValue(series)
	set.RiskFactors = ic.riskFactors(currentPrice, highs, lows, tradingValue, fundamentals)

	return set, nil
}

// TradingValue returns the trailing average daily trading value, the
// liquidity proxy used by the candidate filter: mean volume over the short
// window times mean close over the same window.
func (ic *IndicatorCalculator) TradingValue(series models.PriceSeries) decimal.Decimal {
	n := len(series)
	window := shortVolumePeriod
	if n < window {
		window = n
	}
	if window == 0 {
		return decimal.Zero
	}

	volumeSum := decimal.Zero
	closeSum := decimal.Zero
	for _, p := range series[n-window:] {
		volumeSum = volumeSum.Add(p.Volume)
		closeSum = closeSum.Add(p.Close)
	}

	size := decimal.NewFromInt(int64(window))
	return volumeSum.Div(size).Mul(closeSum.Div(size))
}

// rsi computes the 14-period RSI using simple averages of gains and losses
// over the window. An average loss of zero reads as 100: only up-moves were
// observed, never a division by zero.
func (ic *IndicatorCalculator) rsi(instrumentID string, closes []float64) (float64, error) {
	const need = rsiPeriod + 1
	if len(closes) < need {
		return 0, &models.InsufficientDataError{
			InstrumentID: instrumentID,
			Indicator:    "rsi14",
			Need:         need,
			Have:         len(closes),
		}
	}

	window := closes[len(closes)-need:]
	var gains, losses float64
	for i := 1; i < len(window); i++ {
		delta := window[i] - window[i-1]
		if delta > 0 {
			gains += delta
		} else {
			losses -= delta
		}
	}

	avgGain := gains / rsiPeriod
	avgLoss := losses / rsiPeriod
	if avgLoss == 0 {
		return 100, nil
	}

	rs := avgGain / avgLoss
	return 100 - 100/(1+rs), nil
}

// disparity computes the latest close relative to its 20-day simple moving
// average, as a percentage. 100 means trading exactly at the average.
func (ic *IndicatorCalculator) disparity(instrumentID string, closes []float64) (float64, error) {
	if len(closes) < movingAvgPeriod {
		return 0, &models.InsufficientDataError{
			InstrumentID: instrumentID,
			Indicator:    "disparity20",
			Need:         movingAvgPeriod,
			Have:         len(closes),
		}
	}

	ma := lastSMA(closes, movingAvgPeriod)
	return closes[len(closes)-1] / ma * 100, nil
}

// volumeRatio compares the short trailing average volume against the long
// trailing average, as a percentage. A zero long average reads as a neutral
// 100 rather than a division by zero.
func (ic *IndicatorCalculator) volumeRatio(volumes []float64) float64 {
	shortAvg := lastSMA(volumes, shortVolumePeriod)
	longAvg := lastSMA(volumes, movingAvgPeriod)
	if longAvg == 0 {
		return 100
	}
	return shortAvg / longAvg * 100
}

// reboundStrength places the latest close inside the trailing 20-day
// low/high band as 0-100 percent. A zero-width band reads as 0.
func (ic *IndicatorCalculator) reboundStrength(closes, highs, lows []float64) float64 {
	low := min20(lows)
	high := max20(highs)
	width := high - low
	if width <= 0 {
		return 0
	}
	return (closes[len(closes)-1] - low) / width * 100
}

// riskFactors evaluates the independent risk predicates. A missing input
// suppresses the predicates that need it; no predicate can fail the run.
func (ic *IndicatorCalculator) riskFactors(currentPrice float64, highs, lows []float64, tradingValue decimal.Decimal, fundamentals *models.FundamentalsSnapshot) []models.RiskTag {
	risk := ic.cfg.Risk
	var tags []models.RiskTag

	if fundamentals != nil && fundamentals.MarketCap != nil && *fundamentals.MarketCap < risk.SmallCapFloor {
		tags = append(tags, models.RiskSmallCap)
	}
	if currentPrice < risk.LowPriceFloor {
		tags = append(tags, models.RiskLowPrice)
	}

	low := min20(lows)
	high := max20(highs)
	if low > 0 && (high-low)/low > risk.SurgeThreshold {
		tags = append(tags, models.RiskRecentSurge)
	}

	if tradingValue.LessThan(decimal.NewFromFloat(risk.LiquidityFloor)) {
		tags = append(tags, models.RiskLowLiquidity)
	}

	if fundamentals != nil {
		if fundamentals.Equity != nil && *fundamentals.Equity <= 0 {
			tags = append(tags, models.RiskNegativeEquity)
		}
		if fundamentals.NetIncome != nil && *fundamentals.NetIncome < 0 {
			tags = append(tags, models.RiskCapitalErosion)
		}
	}

	return tags
}

// resolvePBR returns the usable price-to-book ratio for scoring: the
// reported one when positive, otherwise one derived from equity per share.
// Non-positive and underivable ratios read as absent; the balance-sheet
// risk they imply is carried by the risk tags instead.
func resolvePBR(currentPrice float64, fundamentals *models.FundamentalsSnapshot) *float64 {
	if fundamentals == nil {
		return nil
	}

	if fundamentals.PBR != nil {
		if *fundamentals.PBR <= 0 {
			return nil
		}
		pbr := *fundamentals.PBR
		return &pbr
	}

	if fundamentals.Equity != nil && fundamentals.SharesOutstanding != nil &&
		*fundamentals.Equity > 0 && *fundamentals.SharesOutstanding > 0 {
		bookPerShare := *fundamentals.Equity / float64(*fundamentals.SharesOutstanding)
		pbr := currentPrice / bookPerShare
		return &pbr
	}

	return nil
}

// returnOver computes the percent return over the given number of trading
// days. A series too short for the window reads as 0, neutral momentum.
func returnOver(closes []float64, days int) float64 {
	if len(closes) < days+1 {
		return 0
	}
	latest := closes[len(closes)-1]
	base := closes[len(closes)-1-days]
	return (latest/base - 1) * 100
}

// lastSMA returns the final value of a simple moving average over the
// series. Callers guarantee len(values) >= period.
func lastSMA(values []float64, period int) float64 {
	sma := trend.NewSmaWithPeriod[float64](period)
	result := helper.ChanToSlice(sma.Compute(helper.SliceToChan(values)))
	return result[len(result)-1]
}

func min20(lows []float64) float64 {
	window := lows
	if len(lows) > movingAvgPeriod {
		window = lows[len(lows)-movingAvgPeriod:]
	}
	lowest := window[0]
	for _, v := range window[1:] {
		if v < lowest {
			lowest = v
		}
	}
	return lowest
}

func max20(highs []float64) float64 {
	window := highs
	if len(highs) > movingAvgPeriod {
		window = highs[len(highs)-movingAvgPeriod:]
	}
	highest := window[0]
	for _, v := range window[1:] {
		if v > highest {
			highest = v
		}
	}
	return highest
}
