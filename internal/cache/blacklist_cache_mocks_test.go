package cache

import (
	"context"
	"time"

	"github.com/equitra/swingscan-go/internal/database"
	"github.com/stretchr/testify/mock"
)

// MockBlacklistRepository stands in for the database layer in cache tests.
type MockBlacklistRepository struct {
	mock.Mock
}

func (m *MockBlacklistRepository) AddInstrument(ctx context.Context, instrumentID, reason string, expiresAt *time.Time) (*database.InstrumentBlacklistEntry, error) {
	args := m.Called(ctx, instrumentID, reason, expiresAt)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*database.InstrumentBlacklistEntry), args.Error(1)
}

func (m *MockBlacklistRepository) RemoveInstrument(ctx context.Context, instrumentID string) error {
	args := m.Called(ctx, instrumentID)
	return args.Error(0)
}

func (m *MockBlacklistRepository) GetAllBlacklisted(ctx context.Context) ([]database.InstrumentBlacklistEntry, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]database.InstrumentBlacklistEntry), args.Error(1)
}
