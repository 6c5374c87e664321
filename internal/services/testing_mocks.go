package services

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/equitra/swingscan-go/internal/models"
)

// MockScanRepository implements ScanRepository for testing within the services package
type MockScanRepository struct {
	mock.Mock
}

func (m *MockScanRepository) ActiveInstruments(ctx context.Context) ([]models.Instrument, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Instrument), args.Error(1)
}

func (m *MockScanRepository) DailyBars(ctx context.Context, instrumentID string, lookback int) (models.PriceSeries, error) {
	args := m.Called(ctx, instrumentID, lookback)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(models.PriceSeries), args.Error(1)
}

func (m *MockScanRepository) FundamentalsFor(ctx context.Context, instrumentID string) (*models.FundamentalsSnapshot, error) {
	args := m.Called(ctx, instrumentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.FundamentalsSnapshot), args.Error(1)
}

func (m *MockScanRepository) SaveScan(ctx context.Context, summary *models.ScanSummary, result *models.SelectionResult) error {
	args := m.Called(ctx, summary, result)
	return args.Error(0)
}

// MockBlacklistSource implements BlacklistSource for testing within the services package
type MockBlacklistSource struct {
	mock.Mock
}

func (m *MockBlacklistSource) ActiveIDs(ctx context.Context) (map[string]string, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]string), args.Error(1)
}

// MockResultCache implements ResultCache for testing within the services package
type MockResultCache struct {
	mock.Mock
}

func (m *MockResultCache) Set(scope string, summary models.ScanSummary, result *models.SelectionResult) {
	m.Called(scope, summary, result)
}

// MockRunNotifier implements RunNotifier for testing within the services package
type MockRunNotifier struct {
	mock.Mock
}

func (m *MockRunNotifier) NotifyScanComplete(ctx context.Context, summary *models.ScanSummary, result *models.SelectionResult) error {
	args := m.Called(ctx, summary, result)
	return args.Error(0)
}
