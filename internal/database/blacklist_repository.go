package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrBlacklistEntryNotFound reports a removal aimed at an instrument that has
// no active blacklist entry.
var ErrBlacklistEntryNotFound = errors.New("not found in blacklist or already inactive")

// InstrumentBlacklistEntry is one row of the instrument_blacklist table.
// Removal deactivates rows instead of deleting them, so the table doubles as
// the blacklist history. A nil ExpiresAt means the entry never expires.
type InstrumentBlacklistEntry struct {
	ID           int64      `json:"id" db:"id"`
	InstrumentID string     `json:"instrument_id" db:"instrument_id"`
	Reason       string     `json:"reason" db:"reason"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at" db:"updated_at"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty" db:"expires_at"`
	IsActive     bool       `json:"is_active" db:"is_active"`
}

// DatabasePool is the subset of pgxpool.Pool the repositories use. Mock
// pools implement it in tests.
type DatabasePool interface {
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
}

// BlacklistRepository persists the instrument blacklist.
type BlacklistRepository struct {
	pool DatabasePool
}

func NewBlacklistRepository(pool DatabasePool) *BlacklistRepository {
	return &BlacklistRepository{
		pool: pool,
	}
}

func scanBlacklistEntry(row pgx.Row) (InstrumentBlacklistEntry, error) {
	var entry InstrumentBlacklistEntry
	err := row.Scan(
		&entry.ID,
		&entry.InstrumentID,
		&entry.Reason,
		&entry.CreatedAt,
		&entry.UpdatedAt,
		&entry.ExpiresAt,
		&entry.IsActive,
	)
	return entry, err
}

func collectBlacklistEntries(rows pgx.Rows) ([]InstrumentBlacklistEntry, error) {
	defer rows.Close()

	var entries []InstrumentBlacklistEntry
	for rows.Next() {
		entry, err := scanBlacklistEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan blacklist entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating blacklist entries: %w", err)
	}
	return entries, nil
}

// AddInstrument blacklists an instrument. Re-adding an instrument with an
// active entry updates its reason and expiry in place.
func (r *BlacklistRepository) AddInstrument(ctx context.Context, instrumentID, reason string, expiresAt *time.Time) (*InstrumentBlacklistEntry, error) {
	query := `
		INSERT INTO instrument_blacklist (instrument_id, reason, expires_at, is_active)
		VALUES ($1, $2, $3, true)
		ON CONFLICT (instrument_id) WHERE is_active = true
		DO UPDATE SET
			reason = EXCLUDED.reason,
			expires_at = EXCLUDED.expires_at,
			updated_at = CURRENT_TIMESTAMP
		RETURNING id, instrument_id, reason, created_at, updated_at, expires_at, is_active
	`

	entry, err := scanBlacklistEntry(r.pool.QueryRow(ctx, query, instrumentID, reason, expiresAt))
	if err != nil {
		return nil, fmt.Errorf("failed to add instrument to blacklist: %w", err)
	}
	return &entry, nil
}

// RemoveInstrument deactivates an instrument's blacklist entry. It returns
// ErrBlacklistEntryNotFound when no active entry matched.
func (r *BlacklistRepository) RemoveInstrument(ctx context.Context, instrumentID string) error {
	query := `
		UPDATE instrument_blacklist
		SET is_active = false, updated_at = CURRENT_TIMESTAMP
		WHERE instrument_id = $1 AND is_active = true
	`

	result, err := r.pool.Exec(ctx, query, instrumentID)
	if err != nil {
		return fmt.Errorf("failed to remove instrument from blacklist: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("instrument %s %w", instrumentID, ErrBlacklistEntryNotFound)
	}
	return nil
}

// IsBlacklisted reports whether an instrument has an active, unexpired entry
// and, if so, the reason.
func (r *BlacklistRepository) IsBlacklisted(ctx context.Context, instrumentID string) (bool, string, error) {
	query := `
		SELECT reason, expires_at
		FROM instrument_blacklist
		WHERE instrument_id = $1 AND is_active = true
		AND (expires_at IS NULL OR expires_at > CURRENT_TIMESTAMP)
	`

	var reason string
	var expiresAt *time.Time
	if err := r.pool.QueryRow(ctx, query, instrumentID).Scan(&reason, &expiresAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, "", nil
		}
		return false, "", fmt.Errorf("failed to check blacklist status: %w", err)
	}
	return true, reason, nil
}

// GetAllBlacklisted returns every active, unexpired entry, newest first.
func (r *BlacklistRepository) GetAllBlacklisted(ctx context.Context) ([]InstrumentBlacklistEntry, error) {
	query := `
		SELECT id, instrument_id, reason, created_at, updated_at, expires_at, is_active
		FROM instrument_blacklist
		WHERE is_active = true
		AND (expires_at IS NULL OR expires_at > CURRENT_TIMESTAMP)
		ORDER BY created_at DESC
	`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to get blacklisted instruments: %w", err)
	}
	return collectBlacklistEntries(rows)
}

// ActiveIDs returns the currently blacklisted instrument ids keyed to their
// reasons. The screener resolves membership against this map so a full run
// costs one query instead of one per instrument.
func (r *BlacklistRepository) ActiveIDs(ctx context.Context) (map[string]string, error) {
	query := `
		SELECT instrument_id, reason
		FROM instrument_blacklist
		WHERE is_active = true
		AND (expires_at IS NULL OR expires_at > CURRENT_TIMESTAMP)
	`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to get blacklisted ids: %w", err)
	}
	defer rows.Close()

	ids := make(map[string]string)
	for rows.Next() {
		var id, reason string
		if err := rows.Scan(&id, &reason); err != nil {
			return nil, fmt.Errorf("failed to scan blacklist id: %w", err)
		}
		ids[id] = reason
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating blacklist ids: %w", err)
	}
	return ids, nil
}

// CleanupExpired deactivates entries whose expiry has passed and returns how
// many rows changed.
func (r *BlacklistRepository) CleanupExpired(ctx context.Context) (int64, error) {
	query := `
		UPDATE instrument_blacklist
		SET is_active = false, updated_at = CURRENT_TIMESTAMP
		WHERE is_active = true
		AND expires_at IS NOT NULL
		AND expires_at <= CURRENT_TIMESTAMP
	`

	result, err := r.pool.Exec(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup expired blacklist entries: %w", err)
	}
	return result.RowsAffected(), nil
}

// GetBlacklistHistory returns the most recently touched entries, active or
// not, up to limit.
func (r *BlacklistRepository) GetBlacklistHistory(ctx context.Context, limit int) ([]InstrumentBlacklistEntry, error) {
	query := `
		SELECT id, instrument_id, reason, created_at, updated_at, expires_at, is_active
		FROM instrument_blacklist
		ORDER BY updated_at DESC
		LIMIT $1
	`

	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get blacklist history: %w", err)
	}
	return collectBlacklistEntries(rows)
}

// ClearAll deactivates every active entry and returns how many rows changed.
func (r *BlacklistRepository) ClearAll(ctx context.Context) (int64, error) {
	query := `
		UPDATE instrument_blacklist
		SET is_active = false, updated_at = CURRENT_TIMESTAMP
		WHERE is_active = true
	`

	result, err := r.pool.Exec(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("failed to clear all blacklist entries: %w", err)
	}
	return result.RowsAffected(), nil
}
