package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/equitra/swingscan-go/internal/config"
)

type stubScanPruner struct {
	mu      sync.Mutex
	cutoffs []time.Time
	removed int64
	err     error
}

func (s *stubScanPruner) PruneScans(ctx context.Context, olderThan time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cutoffs = append(s.cutoffs, olderThan)
	return s.removed, s.err
}

func (s *stubScanPruner) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.cutoffs)
}

func (s *stubScanPruner) lastCutoff() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cutoffs[len(s.cutoffs)-1]
}

type stubBlacklistSweeper struct {
	mu      sync.Mutex
	count   int
	expired int64
	err     error
}

func (s *stubBlacklistSweeper) CleanupExpired(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.count++
	return s.expired, s.err
}

func (s *stubBlacklistSweeper) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

func retentionConfig() config.RetentionConfig {
	return config.RetentionConfig{
		ScanRetentionDays:    90,
		SweepIntervalMinutes: 60,
	}
}

func TestNewRetentionService(t *testing.T) {
	pruner := &stubScanPruner{}
	sweeper := &stubBlacklistSweeper{}

	service := NewRetentionService(pruner, sweeper, quietLogger())

	assert.NotNil(t, service)
	assert.NotNil(t, service.ctx)
	assert.NotNil(t, service.cancel)
	assert.NotNil(t, service.logger)
}

func TestNewRetentionService_NilLogger(t *testing.T) {
	service := NewRetentionService(&stubScanPruner{}, &stubBlacklistSweeper{}, nil)

	assert.NotNil(t, service.logger)
}

func TestRetentionService_RunSweep(t *testing.T) {
	pruner := &stubScanPruner{removed: 3}
	sweeper := &stubBlacklistSweeper{expired: 2}
	service := NewRetentionService(pruner, sweeper, quietLogger())

	err := service.RunSweep(retentionConfig())

	require.NoError(t, err)
	assert.Equal(t, 1, pruner.calls())
	assert.Equal(t, 1, sweeper.calls())

	// Cutoff should land the configured number of days in the past.
	expected := time.Now().AddDate(0, 0, -90)
	assert.WithinDuration(t, expected, pruner.lastCutoff(), time.Minute)
}

func TestRetentionService_RunSweep_PruningDisabled(t *testing.T) {
	pruner := &stubScanPruner{}
	sweeper := &stubBlacklistSweeper{}
	service := NewRetentionService(pruner, sweeper, quietLogger())

	cfg := retentionConfig()
	cfg.ScanRetentionDays = 0

	err := service.RunSweep(cfg)

	require.NoError(t, err)
	assert.Equal(t, 0, pruner.calls())
	assert.Equal(t, 1, sweeper.calls())
}

func TestRetentionService_RunSweep_PruneError(t *testing.T) {
	pruner := &stubScanPruner{err: errors.New("connection reset")}
	sweeper := &stubBlacklistSweeper{}
	service := NewRetentionService(pruner, sweeper, quietLogger())

	err := service.RunSweep(retentionConfig())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to prune scan runs")
	assert.Contains(t, err.Error(), "connection reset")
	assert.Equal(t, 0, sweeper.calls())
}

func TestRetentionService_RunSweep_SweepError(t *testing.T) {
	pruner := &stubScanPruner{}
	sweeper := &stubBlacklistSweeper{err: errors.New("deadlock detected")}
	service := NewRetentionService(pruner, sweeper, quietLogger())

	err := service.RunSweep(retentionConfig())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to sweep blacklist")
	assert.Equal(t, 1, pruner.calls())
}

func TestRetentionService_StartRunsInitialSweep(t *testing.T) {
	pruner := &stubScanPruner{}
	sweeper := &stubBlacklistSweeper{}
	service := NewRetentionService(pruner, sweeper, quietLogger())
	defer service.Stop()

	service.Start(retentionConfig())

	assert.Eventually(t, func() bool {
		return pruner.calls() >= 1 && sweeper.calls() >= 1
	}, 2*time.Second, 10*time.Millisecond, "initial sweep should run without waiting for the ticker")
}

func TestRetentionService_Stop(t *testing.T) {
	service := NewRetentionService(&stubScanPruner{}, &stubBlacklistSweeper{}, quietLogger())

	service.Start(retentionConfig())
	time.Sleep(10 * time.Millisecond)

	assert.NotPanics(t, func() {
		service.Stop()
	})
}
