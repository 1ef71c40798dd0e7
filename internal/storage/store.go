// Package storage provides abstractions for persistent data storage.
package storage

import (
	"context"
	"errors"

	"github.com/AccountantBot/coordinator/internal/models"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when a write would break a record's lifecycle,
	// e.g. modifying a settled split.
	ErrConflict = errors.New("conflict")
)

// SplitFilter selects splits for ListSplits. Empty fields match everything.
type SplitFilter struct {
	// Payer matches splits paid by this address.
	Payer string

	// Participant matches splits with an item for this address.
	Participant string

	// User matches splits where the address is the payer or a participant.
	User string

	// Statuses restricts the result to these states.
	Statuses []models.Status

	// Limit caps the number of splits returned (0 = no limit).
	Limit int
}

// Store defines the interface for split storage operations.
// This abstraction allows swapping storage backends (SQLite, PostgreSQL)
// without changing the coordinator.
//
// Splits are never deleted and a settled split is never modified again:
// implementations return ErrConflict for such writes.
type Store interface {
	// CreateSplit persists a new split with its items.
	// The split.ID and CreatedAt fields are populated by the store if empty.
	CreateSplit(ctx context.Context, split *models.Split) error

	// GetSplit retrieves a split with its items and approvals.
	// Returns ErrNotFound if the split does not exist.
	GetSplit(ctx context.Context, splitID string) (*models.Split, error)

	// ListSplits returns the splits matching filter, newest first.
	ListSplits(ctx context.Context, filter SplitFilter) ([]*models.Split, error)

	// AddApproval records an approval and moves the split to status in one
	// transaction. An existing approval for the participant is kept as is.
	AddApproval(ctx context.Context, splitID string, approval models.Approval, status models.Status, updatedAt int64) error

	// MarkSettled moves an approved split to settled with its transaction hash.
	MarkSettled(ctx context.Context, splitID, txHash string, updatedAt int64) error

	// CreateSettlementAttempt appends an attempt record.
	CreateSettlementAttempt(ctx context.Context, attempt *models.SettlementAttempt) error

	// UpdateSettlementAttempt stores a new outcome (and tx hash) for an attempt.
	UpdateSettlementAttempt(ctx context.Context, attempt *models.SettlementAttempt) error

	// ListSettlementAttempts returns a split's attempts, oldest first.
	ListSettlementAttempts(ctx context.Context, splitID string) ([]*models.SettlementAttempt, error)

	// UpsertUser creates the user or refreshes LastLoginAt.
	UpsertUser(ctx context.Context, user *models.User) error

	// GetUser retrieves a user by wallet address.
	// Returns ErrNotFound if the user does not exist.
	GetUser(ctx context.Context, address string) (*models.User, error)

	// Close releases any resources held by the store.
	Close() error
}
