package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/AccountantBot/coordinator/internal/models"
	"github.com/AccountantBot/coordinator/internal/storage"
)

func (s *Store) CreateSettlementAttempt(ctx context.Context, attempt *models.SettlementAttempt) error {
	if attempt.ID == "" {
		attempt.ID = uuid.New().String()
	}
	if attempt.CreatedAt == 0 {
		attempt.CreatedAt = time.Now().Unix()
	}
	if attempt.UpdatedAt == 0 {
		attempt.UpdatedAt = attempt.CreatedAt
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO settlement_attempts (id, split_id, tx_hash, outcome, error, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		attempt.ID, attempt.SplitID, attempt.TxHash, string(attempt.Outcome), attempt.Error,
		attempt.CreatedAt, attempt.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert settlement attempt: %w", err)
	}
	return nil
}

func (s *Store) UpdateSettlementAttempt(ctx context.Context, attempt *models.SettlementAttempt) error {
	if attempt.UpdatedAt == 0 {
		attempt.UpdatedAt = time.Now().Unix()
	}

	tag, err := s.pool.Exec(ctx,
		"UPDATE settlement_attempts SET tx_hash = $1, outcome = $2, error = $3, updated_at = $4 WHERE id = $5",
		attempt.TxHash, string(attempt.Outcome), attempt.Error, attempt.UpdatedAt, attempt.ID,
	)
	if err != nil {
		return fmt.Errorf("postgres: update settlement attempt: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("settlement attempt %s: %w", attempt.ID, storage.ErrNotFound)
	}
	return nil
}

func (s *Store) ListSettlementAttempts(ctx context.Context, splitID string) ([]*models.SettlementAttempt, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, split_id, tx_hash, outcome, error, created_at, updated_at
		 FROM settlement_attempts WHERE split_id = $1 ORDER BY created_at, seq`,
		splitID,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list settlement attempts: %w", err)
	}

	attempts, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*models.SettlementAttempt, error) {
		a := &models.SettlementAttempt{}
		var outcome string
		if err := row.Scan(&a.ID, &a.SplitID, &a.TxHash, &outcome, &a.Error, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, err
		}
		a.Outcome = models.AttemptOutcome(outcome)
		return a, nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: scan settlement attempts: %w", err)
	}
	return attempts, nil
}

func (s *Store) UpsertUser(ctx context.Context, user *models.User) error {
	user.Address = models.AddressKey(user.Address)
	now := time.Now().Unix()
	if user.CreatedAt == 0 {
		user.CreatedAt = now
	}
	if user.LastLoginAt == 0 {
		user.LastLoginAt = now
	}

	err := s.pool.QueryRow(ctx,
		`INSERT INTO users (address, created_at, last_login_at) VALUES ($1, $2, $3)
		 ON CONFLICT (address) DO UPDATE SET last_login_at = EXCLUDED.last_login_at
		 RETURNING created_at`,
		user.Address, user.CreatedAt, user.LastLoginAt,
	).Scan(&user.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres: upsert user: %w", err)
	}
	return nil
}

func (s *Store) GetUser(ctx context.Context, address string) (*models.User, error) {
	user := &models.User{}
	err := s.pool.QueryRow(ctx,
		"SELECT address, created_at, last_login_at FROM users WHERE address = $1",
		models.AddressKey(address),
	).Scan(&user.Address, &user.CreatedAt, &user.LastLoginAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("user %s: %w", address, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get user: %w", err)
	}
	return user, nil
}
