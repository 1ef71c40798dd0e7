package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/AccountantBot/coordinator/internal/models"
	"github.com/AccountantBot/coordinator/internal/storage"
)

// UpsertUser inserts a user on first sign-in and refreshes LastLoginAt after that.
func (s *SQLiteStore) UpsertUser(ctx context.Context, user *models.User) error {
	user.Address = models.AddressKey(user.Address)
	now := time.Now().Unix()
	if user.CreatedAt == 0 {
		user.CreatedAt = now
	}
	if user.LastLoginAt == 0 {
		user.LastLoginAt = now
	}

	query := `
		INSERT INTO users (address, created_at, last_login_at)
		VALUES (?, ?, ?)
		ON CONFLICT (address) DO UPDATE SET last_login_at = excluded.last_login_at
		RETURNING created_at
	`

	if err := s.db.QueryRowContext(ctx, query, user.Address, user.CreatedAt, user.LastLoginAt).Scan(&user.CreatedAt); err != nil {
		return fmt.Errorf("failed to upsert user: %w", err)
	}

	return nil
}

// GetUser retrieves a user by wallet address.
func (s *SQLiteStore) GetUser(ctx context.Context, address string) (*models.User, error) {
	query := `
		SELECT address, created_at, last_login_at
		FROM users
		WHERE address = ?
	`

	user := &models.User{}
	err := s.db.QueryRowContext(ctx, query, models.AddressKey(address)).Scan(
		&user.Address,
		&user.CreatedAt,
		&user.LastLoginAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %s: %w", address, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	return user, nil
}
