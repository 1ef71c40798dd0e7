package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/AccountantBot/coordinator/internal/models"
	"github.com/AccountantBot/coordinator/internal/storage"
)

// CreateSettlementAttempt persists a new settlement attempt to the database.
func (s *SQLiteStore) CreateSettlementAttempt(ctx context.Context, attempt *models.SettlementAttempt) error {
	// Generate ID if not set
	if attempt.ID == "" {
		attempt.ID = uuid.New().String()
	}
	if attempt.CreatedAt == 0 {
		attempt.CreatedAt = time.Now().Unix()
	}
	if attempt.UpdatedAt == 0 {
		attempt.UpdatedAt = attempt.CreatedAt
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settlement_attempts (id, split_id, tx_hash, outcome, error, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		attempt.ID, attempt.SplitID, attempt.TxHash, string(attempt.Outcome), attempt.Error,
		attempt.CreatedAt, attempt.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert settlement attempt: %w", err)
	}

	return nil
}

// UpdateSettlementAttempt stores the latest outcome of an attempt.
func (s *SQLiteStore) UpdateSettlementAttempt(ctx context.Context, attempt *models.SettlementAttempt) error {
	if attempt.UpdatedAt == 0 {
		attempt.UpdatedAt = time.Now().Unix()
	}

	res, err := s.db.ExecContext(ctx,
		"UPDATE settlement_attempts SET tx_hash = ?, outcome = ?, error = ?, updated_at = ? WHERE id = ?",
		attempt.TxHash, string(attempt.Outcome), attempt.Error, attempt.UpdatedAt, attempt.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update settlement attempt: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check updated rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("settlement attempt %s: %w", attempt.ID, storage.ErrNotFound)
	}

	return nil
}

// ListSettlementAttempts retrieves all attempts for a split, oldest first.
func (s *SQLiteStore) ListSettlementAttempts(ctx context.Context, splitID string) ([]*models.SettlementAttempt, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, split_id, tx_hash, outcome, error, created_at, updated_at
		 FROM settlement_attempts WHERE split_id = ? ORDER BY created_at, rowid`,
		splitID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list settlement attempts: %w", err)
	}
	defer rows.Close()

	var attempts []*models.SettlementAttempt
	for rows.Next() {
		attempt := &models.SettlementAttempt{}
		var outcome string
		if err := rows.Scan(&attempt.ID, &attempt.SplitID, &attempt.TxHash, &outcome, &attempt.Error,
			&attempt.CreatedAt, &attempt.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan settlement attempt: %w", err)
		}
		attempt.Outcome = models.AttemptOutcome(outcome)
		attempts = append(attempts, attempt)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate settlement attempts: %w", err)
	}

	return attempts, nil
}
