// Package sqlite provides a SQLite-backed implementation of the storage.Store interface.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	"github.com/AccountantBot/coordinator/internal/calculator"
	"github.com/AccountantBot/coordinator/internal/models"
	"github.com/AccountantBot/coordinator/internal/storage"
)

// Ensure SQLiteStore implements storage.Store
var _ storage.Store = (*SQLiteStore)(nil)

// SQLiteStore implements storage.Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// New creates a new SQLiteStore with the given database path.
// It creates the parent directories and runs migrations automatically.
func New(dbPath string) (*SQLiteStore, error) {
	// Create parent directory if it doesn't exist
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// Open database with pure Go driver
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// A single connection serializes writers and keeps the pragmas below
	// in effect for every statement.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA foreign_keys = ON", "PRAGMA busy_timeout = 5000"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	// Run migrations
	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateSplit persists a new split and its items to the database.
func (s *SQLiteStore) CreateSplit(ctx context.Context, split *models.Split) error {
	// Generate ID if not set
	if split.ID == "" {
		split.ID = uuid.New().String()
	}
	if split.CreatedAt == 0 {
		split.CreatedAt = time.Now().Unix()
	}
	if split.UpdatedAt == 0 {
		split.UpdatedAt = split.CreatedAt
	}
	if split.Status == "" {
		split.Status = models.StatusPending
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO splits (id, chain_id, token_address, payer_address, payer_key, description, status,
		                     required_approvals, nonce, tx_hash, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		split.ID, int64(split.ChainID), split.TokenAddress, split.PayerAddress, models.AddressKey(split.PayerAddress),
		split.Description, string(split.Status), split.RequiredApprovals, strconv.FormatUint(split.Nonce, 10),
		nullString(split.TxHash), split.CreatedAt, split.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert split: %w", err)
	}

	for i, item := range split.Items {
		if item.Amount == nil {
			return fmt.Errorf("failed to insert item %d: %w", i, calculator.ErrInvalidAmount)
		}
		_, err = tx.ExecContext(ctx,
			"INSERT INTO split_items (split_id, position, participant, participant_key, amount) VALUES (?, ?, ?, ?, ?)",
			split.ID, i, item.Participant, models.AddressKey(item.Participant), item.Amount.String(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert item: %w", err)
		}
	}

	for key, approval := range split.Approvals {
		_, err = tx.ExecContext(ctx,
			"INSERT INTO split_approvals (split_id, participant_key, participant, signature, approved_at) VALUES (?, ?, ?, ?, ?)",
			split.ID, key, approval.Participant, approval.Signature, approval.ApprovedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert approval: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// GetSplit retrieves a split by ID, including its items and approvals.
func (s *SQLiteStore) GetSplit(ctx context.Context, splitID string) (*models.Split, error) {
	split, err := scanSplit(s.db.QueryRowContext(ctx, selectSplit+" WHERE id = ?", splitID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("split %s: %w", splitID, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get split: %w", err)
	}

	if err := loadChildren(ctx, s.db, split); err != nil {
		return nil, err
	}
	return split, nil
}

// ListSplits retrieves the splits matching filter, newest first.
func (s *SQLiteStore) ListSplits(ctx context.Context, filter storage.SplitFilter) ([]*models.Split, error) {
	var (
		where []string
		args  []any
	)
	const involvesParticipant = "EXISTS (SELECT 1 FROM split_items i WHERE i.split_id = splits.id AND i.participant_key = ?)"

	if filter.Payer != "" {
		where = append(where, "payer_key = ?")
		args = append(args, models.AddressKey(filter.Payer))
	}
	if filter.Participant != "" {
		where = append(where, involvesParticipant)
		args = append(args, models.AddressKey(filter.Participant))
	}
	if filter.User != "" {
		key := models.AddressKey(filter.User)
		where = append(where, "(payer_key = ? OR "+involvesParticipant+")")
		args = append(args, key, key)
	}
	if len(filter.Statuses) > 0 {
		where = append(where, "status IN (?"+repeatPlaceholder(len(filter.Statuses)-1)+")")
		for _, st := range filter.Statuses {
			args = append(args, string(st))
		}
	}

	query := selectSplit
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list splits: %w", err)
	}

	var splits []*models.Split
	for rows.Next() {
		split, err := scanSplit(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan split: %w", err)
		}
		splits = append(splits, split)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("failed to iterate splits: %w", err)
	}
	// Release the connection before loading children.
	rows.Close()

	for _, split := range splits {
		if err := loadChildren(ctx, s.db, split); err != nil {
			return nil, err
		}
	}
	return splits, nil
}

// AddApproval records an approval and sets the split status atomically.
func (s *SQLiteStore) AddApproval(ctx context.Context, splitID string, approval models.Approval, status models.Status, updatedAt int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	current, err := currentStatus(ctx, tx, splitID)
	if err != nil {
		return err
	}
	if current == models.StatusSettled {
		return fmt.Errorf("split %s is settled: %w", splitID, storage.ErrConflict)
	}
	if current != status && !current.CanTransitionTo(status) {
		return fmt.Errorf("split %s cannot move from %s to %s: %w", splitID, current, status, storage.ErrConflict)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO split_approvals (split_id, participant_key, participant, signature, approved_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (split_id, participant_key) DO NOTHING`,
		splitID, models.AddressKey(approval.Participant), approval.Participant, approval.Signature, approval.ApprovedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert approval: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		"UPDATE splits SET status = ?, updated_at = ? WHERE id = ?",
		string(status), updatedAt, splitID,
	)
	if err != nil {
		return fmt.Errorf("failed to update split status: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// MarkSettled moves an approved split to settled.
func (s *SQLiteStore) MarkSettled(ctx context.Context, splitID, txHash string, updatedAt int64) error {
	if txHash == "" {
		return fmt.Errorf("split %s: settled split needs a tx hash: %w", splitID, storage.ErrConflict)
	}

	res, err := s.db.ExecContext(ctx,
		"UPDATE splits SET status = ?, tx_hash = ?, updated_at = ? WHERE id = ? AND status = ?",
		string(models.StatusSettled), txHash, updatedAt, splitID, string(models.StatusApproved),
	)
	if err != nil {
		return fmt.Errorf("failed to mark split settled: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check settled rows: %w", err)
	}
	if n == 1 {
		return nil
	}

	status, err := currentStatus(ctx, s.db, splitID)
	if err != nil {
		return err
	}
	return fmt.Errorf("split %s is %s, not approved: %w", splitID, status, storage.ErrConflict)
}

func currentStatus(ctx context.Context, q querier, splitID string) (models.Status, error) {
	var status string
	err := q.QueryRowContext(ctx, "SELECT status FROM splits WHERE id = ?", splitID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("split %s: %w", splitID, storage.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("failed to get split status: %w", err)
	}
	return models.ParseStatus(status)
}

const selectSplit = `SELECT id, chain_id, token_address, payer_address, description, status,
       required_approvals, nonce, tx_hash, created_at, updated_at FROM splits`

type scanner interface {
	Scan(dest ...any) error
}

func scanSplit(row scanner) (*models.Split, error) {
	var (
		split   models.Split
		chainID int64
		status  string
		nonce   string
		txHash  sql.NullString
	)
	err := row.Scan(&split.ID, &chainID, &split.TokenAddress, &split.PayerAddress, &split.Description, &status,
		&split.RequiredApprovals, &nonce, &txHash, &split.CreatedAt, &split.UpdatedAt)
	if err != nil {
		return nil, err
	}

	split.ChainID = uint64(chainID)
	if split.Status, err = models.ParseStatus(status); err != nil {
		return nil, err
	}
	if split.Nonce, err = strconv.ParseUint(nonce, 10, 64); err != nil {
		return nil, fmt.Errorf("invalid stored nonce %q: %w", nonce, err)
	}
	if txHash.Valid {
		split.TxHash = txHash.String
	}
	split.Approvals = make(map[string]models.Approval)
	return &split, nil
}

// loadChildren fills in a split's items and approvals.
func loadChildren(ctx context.Context, q querier, split *models.Split) error {
	rows, err := q.QueryContext(ctx,
		"SELECT participant, amount FROM split_items WHERE split_id = ? ORDER BY position",
		split.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to get items: %w", err)
	}
	for rows.Next() {
		var participant, amount string
		if err := rows.Scan(&participant, &amount); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan item: %w", err)
		}
		v, err := calculator.ParseAmount(amount)
		if err != nil {
			rows.Close()
			return fmt.Errorf("split %s: stored amount: %w", split.ID, err)
		}
		split.Items = append(split.Items, models.SplitItem{Participant: participant, Amount: v})
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("failed to iterate items: %w", err)
	}
	rows.Close()

	approvalRows, err := q.QueryContext(ctx,
		"SELECT participant_key, participant, signature, approved_at FROM split_approvals WHERE split_id = ?",
		split.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to get approvals: %w", err)
	}
	defer approvalRows.Close()

	for approvalRows.Next() {
		var key string
		var a models.Approval
		if err := approvalRows.Scan(&key, &a.Participant, &a.Signature, &a.ApprovedAt); err != nil {
			return fmt.Errorf("failed to scan approval: %w", err)
		}
		split.Approvals[key] = a
	}
	if err := approvalRows.Err(); err != nil {
		return fmt.Errorf("failed to iterate approvals: %w", err)
	}
	return nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// repeatPlaceholder returns a string of ", ?" repeated n times.
// Used for building IN clauses with multiple placeholders.
func repeatPlaceholder(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat(", ?", n)
}
