package store

import (
	"context"
	"database/sql"
	"fmt"
)

// UsageStore counts generation requests per client identity.
type UsageStore struct {
	db *sql.DB
}

func NewUsageStore(db *sql.DB) *UsageStore {
	return &UsageStore{db: db}
}

func (s *UsageStore) Record(ctx context.Context, clientID, kind string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO client_usage (client_id, kind, requests) VALUES (?, ?, 1)
		ON CONFLICT (client_id, kind) DO UPDATE SET requests = requests + 1, last_seen = datetime('now')
	`, clientID, kind)
	if err != nil {
		return fmt.Errorf("failed to record usage: %w", err)
	}
	return nil
}

func (s *UsageStore) Count(ctx context.Context, clientID, kind string) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `
		SELECT requests FROM client_usage WHERE client_id = ? AND kind = ?
	`, clientID, kind).Scan(&n)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get usage: %w", err)
	}
	return n, nil
}
