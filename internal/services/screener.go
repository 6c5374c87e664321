package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/equitra/swingscan-go/internal/config"
	"github.com/equitra/swingscan-go/internal/models"
	"github.com/equitra/swingscan-go/internal/telemetry"
)

// ScanRepository is the persistence surface one screening run needs: the
// instrument universe, per-instrument history, and the completed result.
type ScanRepository interface {
	ActiveInstruments(ctx context.Context) ([]models.Instrument, error)
	DailyBars(ctx context.Context, instrumentID string, lookback int) (models.PriceSeries, error)
	FundamentalsFor(ctx context.Context, instrumentID string) (*models.FundamentalsSnapshot, error)
	SaveScan(ctx context.Context, summary *models.ScanSummary, result *models.SelectionResult) error
}

// BlacklistSource yields the instrument ids excluded from admission,
// snapshotted once at run start.
type BlacklistSource interface {
	ActiveIDs(ctx context.Context) (map[string]string, error)
}

// ResultCache receives the finished run for read-side caching.
type ResultCache interface {
	Set(scope string, summary models.ScanSummary, result *models.SelectionResult)
}

// RunNotifier announces a completed run to an external channel.
type RunNotifier interface {
	NotifyScanComplete(ctx context.Context, summary *models.ScanSummary, result *models.SelectionResult) error
}

// Exit band applied to every candidate's latest close.
var (
	stopLossFactor = decimal.NewFromFloat(0.95)
	targetFactor   = decimal.NewFromFloat(1.10)
)

// Market temperature cut lines on the run's average score. Scores reward
// depressed indicators, so a high average means the universe is broadly
// beaten down.
const (
	marketOversoldMin = 60.0
	marketNeutralMin  = 40.0
)

// Screener orchestrates one full screening pass: load the universe,
// evaluate every instrument through the indicator and scoring engines,
// filter, select, persist, and announce the result.
type Screener struct {
	repo       ScanRepository
	blacklist  BlacklistSource
	calculator *IndicatorCalculator
	scorer     *ScoreEngine
	filter     *CandidateFilter
	selector   *SelectionEngine
	advisor    *ResourceAdvisor
	cache      ResultCache
	notifier   RunNotifier
	cfg        config.ScreenerConfig
	logger     *logrus.Logger

	mu        sync.RWMutex
	isRunning bool
	lastRun   time.Time
	lastRunID string
}

// NewScreener creates the scan orchestrator. The scorer and selector are
// injected because their construction validates configuration; the
// calculator and filter are derived from the same config here.
func NewScreener(
	repo ScanRepository,
	blacklist BlacklistSource,
	scorer *ScoreEngine,
	selector *SelectionEngine,
	advisor *ResourceAdvisor,
	cfg config.ScreenerConfig,
	logger *logrus.Logger,
) *Screener {
	if logger == nil {
		logger = logrus.New()
	}

	return &Screener{
		repo:       repo,
		blacklist:  blacklist,
		calculator: NewIndicatorCalculator(cfg),
		scorer:     scorer,
		filter:     NewCandidateFilter(cfg),
		selector:   selector,
		advisor:    advisor,
		cfg:        cfg,
		logger:     logger,
	}
}

// SetResultCache attaches the read-side cache that receives each
// completed run. Optional; without it runs are only persisted.
func (s *Screener) SetResultCache(cache ResultCache) {
	s.cache = cache
}

// SetNotifier attaches the channel notified after each completed run.
// Optional; notification failures never fail a run.
func (s *Screener) SetNotifier(notifier RunNotifier) {
	s.notifier = notifier
}

// GetStatus returns whether a run is in progress, when the last run
// finished, and its id.
func (s *Screener) GetStatus() (bool, time.Time, string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning, s.lastRun, s.lastRunID
}

// instrumentOutcome is the result of evaluating one instrument: either a
// fully scored candidate or the error that stopped it.
type instrumentOutcome struct {
	instrumentID string
	candidate    *models.Candidate
	err          error
}

// RunScan executes one full screening pass over the active universe and
// returns the persisted summary and selection. Individual instrument
// failures are counted, never fatal; only universe, persistence, or
// cancellation failures abort the run.
func (s *Screener) RunScan(ctx context.Context) (*models.ScanSummary, *models.SelectionResult, error) {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return nil, nil, fmt.Errorf("scan already in progress")
	}
	s.isRunning = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.isRunning = false
		s.mu.Unlock()
	}()

	runID := uuid.New().String()
	startedAt := time.Now()

	scanTracer := telemetry.NewScanTracer()
	ctx, span := scanTracer.TraceRun(ctx, runID)
	defer span.End()

	log := s.logger.WithField("run_id", runID)
	log.Info("Starting screening run")

	// Step 1: load the instrument universe
	instruments, err := s.repo.ActiveInstruments(ctx)
	if err != nil {
		scanTracer.RecordRunFailure(span, "universe", err)
		return nil, nil, fmt.Errorf("failed to load instrument universe: %w", err)
	}
	telemetry.SetSpanAttributes(span, attribute.Int("scan.universe_size", len(instruments)))

	summary := &models.ScanSummary{
		RunID:        runID,
		UniverseSize: len(instruments),
		StartedAt:    startedAt,
	}

	if len(instruments) == 0 {
		log.Warn("Instrument universe is empty, nothing to scan")
		summary.MarketStatus = marketStatusFor(0, 0)
		summary.FinishedAt = time.Now()
		return summary, &models.SelectionResult{}, nil
	}

	// Step 2: snapshot the blacklist once so every worker sees the same set
	blacklisted, err := s.blacklist.ActiveIDs(ctx)
	if err != nil {
		log.WithError(err).Warn("Failed to load blacklist, continuing without exclusions")
		blacklisted = map[string]string{}
	}

	// Step 3: evaluate the universe on a bounded worker pool
	if err := s.advisor.UpdateSystemMetrics(ctx); err != nil {
		log.WithError(err).Debug("Failed to refresh system metrics before sizing workers")
	}
	concurrency := s.advisor.Advise(s.cfg.Workers)
	log.WithFields(logrus.Fields{
		"universe_size":   len(instruments),
		"blacklisted":     len(blacklisted),
		"workers":         concurrency.Workers,
		"persist_workers": concurrency.PersistWorkers,
	}).Info("Evaluating instrument universe")

	evalCtx, evalSpan := scanTracer.TraceUniverseEvaluation(ctx, len(instruments), concurrency.Workers)
	outcomes := s.evaluateUniverse(evalCtx, instruments, concurrency.Workers)
	evalSpan.End()

	if err := ctx.Err(); err != nil {
		scanTracer.RecordRunFailure(span, "evaluate", err)
		return nil, nil, fmt.Errorf("scan aborted: %w", err)
	}

	// Step 4: count outcomes and apply the admission gates
	var admitted []models.Candidate
	var scoreSum float64
	for _, outcome := range outcomes {
		if outcome.err != nil {
			var insufficient *models.InsufficientDataError
			if errors.As(outcome.err, &insufficient) {
				summary.InsufficientData++
				log.WithField("instrument", outcome.instrumentID).
					Debugf("Skipping instrument: %v", insufficient)
			} else {
				summary.Failed++
				log.WithError(outcome.err).
					WithField("instrument", outcome.instrumentID).
					Warn("Instrument evaluation failed")
			}
			continue
		}

		summary.Scored++
		scoreSum += float64(outcome.candidate.Score.Total)

		_, isBlacklisted := blacklisted[outcome.instrumentID]
		switch s.filter.Decide(outcome.candidate, isBlacklisted) {
		case Admitted:
			admitted = append(admitted, *outcome.candidate)
		case RejectedBlacklist:
			summary.FilteredBlacklist++
		case RejectedLiquidity:
			summary.FilteredLiquidity++
		case RejectedScore:
			summary.FilteredScore++
		}
	}

	if summary.Scored > 0 {
		summary.AverageScore = scoreSum / float64(summary.Scored)
	}
	summary.MarketStatus = marketStatusFor(summary.Scored, summary.AverageScore)

	// Step 5: rank and group the admitted candidates
	_, selectSpan := scanTracer.TraceSelection(ctx, len(admitted))
	result := s.selector.Select(admitted)
	selectSpan.End()
	summary.Candidates = len(result.TopN)
	summary.FinishedAt = time.Now()

	// Step 6: persist the run
	persistCtx, persistSpan := scanTracer.TracePersistence(ctx, runID)
	err = s.repo.SaveScan(persistCtx, summary, result)
	persistSpan.End()
	if err != nil {
		scanTracer.RecordRunFailure(span, "persist", err)
		return nil, nil, fmt.Errorf("failed to persist scan %s: %w", runID, err)
	}

	if s.cache != nil {
		s.cache.Set("latest", *summary, result)
	}

	if s.notifier != nil {
		if err := s.notifier.NotifyScanComplete(ctx, summary, result); err != nil {
			log.WithError(err).Warn("Failed to send scan notification")
		}
	}

	duration := summary.FinishedAt.Sub(startedAt)
	s.advisor.RecordRun(summary.Scored, summary.Failed, duration)

	s.mu.Lock()
	s.lastRun = summary.FinishedAt
	s.lastRunID = runID
	s.mu.Unlock()

	scanTracer.RecordRunOutcome(span, telemetry.RunOutcome{
		Scored:            summary.Scored,
		InsufficientData:  summary.InsufficientData,
		Failed:            summary.Failed,
		FilteredLiquidity: summary.FilteredLiquidity,
		FilteredScore:     summary.FilteredScore,
		FilteredBlacklist: summary.FilteredBlacklist,
		Candidates:        summary.Candidates,
		AverageScore:      summary.AverageScore,
		MarketStatus:      summary.MarketStatus,
		Duration:          duration,
	})

	log.WithFields(logrus.Fields{
		"duration_ms":        duration.Milliseconds(),
		"scored":             summary.Scored,
		"insufficient_data":  summary.InsufficientData,
		"failed":             summary.Failed,
		"filtered_liquidity": summary.FilteredLiquidity,
		"filtered_score":     summary.FilteredScore,
		"filtered_blacklist": summary.FilteredBlacklist,
		"candidates":         summary.Candidates,
		"average_score":      summary.AverageScore,
		"market_status":      summary.MarketStatus,
	}).Info("Screening run completed")

	return summary, result, nil
}

// evaluateUniverse fans the instruments out over a fixed pool of workers
// and collects one outcome per submitted instrument. Submission stops on
// context cancellation; the caller decides whether the partial set is
// usable.
func (s *Screener) evaluateUniverse(ctx context.Context, instruments []models.Instrument, workers int) []instrumentOutcome {
	if workers < 1 {
		workers = 1
	}
	if workers > len(instruments) {
		workers = len(instruments)
	}

	jobs := make(chan models.Instrument)
	results := make(chan instrumentOutcome, len(instruments))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for inst := range jobs {
				results <- s.evaluateInstrument(ctx, inst)
			}
		}()
	}

submit:
	for _, inst := range instruments {
		select {
		case <-ctx.Done():
			break submit
		case jobs <- inst:
		}
	}
	close(jobs)
	wg.Wait()
	close(results)

	outcomes := make([]instrumentOutcome, 0, len(instruments))
	for outcome := range results {
		outcomes = append(outcomes, outcome)
	}
	return outcomes
}

// evaluateInstrument runs the full per-instrument pipeline: history,
// fundamentals, indicators, score, risk tier. A panic anywhere inside is
// converted into a failed outcome so one instrument can never take down
// a run.
func (s *Screener) evaluateInstrument(ctx context.Context, inst models.Instrument) (outcome instrumentOutcome) {
	outcome.instrumentID = inst.ID
	defer func() {
		if r := recover(); r != nil {
			outcome.candidate = nil
			outcome.err = fmt.Errorf("panic evaluating instrument %s: %v", inst.ID, r)
		}
	}()

	series, err := s.repo.DailyBars(ctx, inst.ID, s.cfg.LookbackDays)
	if err != nil {
		outcome.err = fmt.Errorf("failed to load daily bars for %s: %w", inst.ID, err)
		return outcome
	}

	fundamentals, err := s.repo.FundamentalsFor(ctx, inst.ID)
	if err != nil {
		// An unreadable snapshot degrades to a missing one: the PBR
		// bucket scores zero and cap-dependent risk tags are skipped.
		s.logger.WithError(err).
			WithField("instrument", inst.ID).
			Warn("Failed to load fundamentals, scoring without them")
		fundamentals = nil
	}

	set, err := s.calculator.Compute(inst.ID, series, fundamentals)
	if err != nil {
		outcome.err = err
		return outcome
	}

	breakdown := s.scorer.Score(set)
	tier := s.scorer.RiskTierFor(set.RiskFactors)

	// Compute succeeded, so the series covers MinHistory bars and the
	// latest close is the freshest price available.
	price := series[len(series)-1].Close

	outcome.candidate = &models.Candidate{
		InstrumentID: inst.ID,
		DisplayName:  inst.DisplayName,
		Market:       inst.Market,
		CurrentPrice: price,
		Indicators:   *set,
		Score:        breakdown,
		RiskTier:     tier,
		TradingValue: s.calculator.TradingValue(series),
		StopLoss:     price.Mul(stopLossFactor),
		TargetPrice:  price.Mul(targetFactor),
	}
	return outcome
}

// marketStatusFor labels the market temperature from the run's average
// score over all scored instruments.
func marketStatusFor(scored int, averageScore float64) string {
	if scored == 0 {
		return "unknown"
	}
	switch {
	case averageScore >= marketOversoldMin:
		return "oversold"
	case averageScore >= marketNeutralMin:
		return "neutral"
	default:
		return "overheated"
	}
}
