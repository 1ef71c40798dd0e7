// Package postgres provides a PostgreSQL-backed implementation of the
// storage.Store interface on a pgx connection pool.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/AccountantBot/coordinator/internal/calculator"
	"github.com/AccountantBot/coordinator/internal/models"
	"github.com/AccountantBot/coordinator/internal/storage"
)

var _ storage.Store = (*Store)(nil)

// Store implements storage.Store using PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// New connects to connString and runs migrations.
func New(ctx context.Context, connString string) (*Store, error) {
	if connString == "" {
		return nil, errors.New("postgres: empty connection string")
	}

	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	if err := runMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: run migrations: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Close closes the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) CreateSplit(ctx context.Context, split *models.Split) error {
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

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var txHash *string
		if split.TxHash != "" {
			txHash = &split.TxHash
		}
		_, err := tx.Exec(ctx,
			`INSERT INTO splits (id, chain_id, token_address, payer_address, payer_key, description, status,
			                     required_approvals, nonce, tx_hash, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
			split.ID, int64(split.ChainID), split.TokenAddress, split.PayerAddress, models.AddressKey(split.PayerAddress),
			split.Description, string(split.Status), split.RequiredApprovals, strconv.FormatUint(split.Nonce, 10),
			txHash, split.CreatedAt, split.UpdatedAt,
		)
		if isUniqueViolation(err) {
			return fmt.Errorf("split %s already exists: %w", split.ID, storage.ErrConflict)
		}
		if err != nil {
			return fmt.Errorf("postgres: insert split: %w", err)
		}

		batch := &pgx.Batch{}
		for i, item := range split.Items {
			if item.Amount == nil {
				return fmt.Errorf("postgres: insert item %d: %w", i, calculator.ErrInvalidAmount)
			}
			batch.Queue(
				"INSERT INTO split_items (split_id, position, participant, participant_key, amount) VALUES ($1, $2, $3, $4, $5)",
				split.ID, i, item.Participant, models.AddressKey(item.Participant), item.Amount.String(),
			)
		}
		for key, a := range split.Approvals {
			batch.Queue(
				"INSERT INTO split_approvals (split_id, participant_key, participant, signature, approved_at) VALUES ($1, $2, $3, $4, $5)",
				split.ID, key, a.Participant, a.Signature, a.ApprovedAt,
			)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("split %s has a duplicate participant: %w", split.ID, storage.ErrConflict)
			}
			return fmt.Errorf("postgres: insert split children: %w", err)
		}
		return nil
	})
}

func (s *Store) GetSplit(ctx context.Context, splitID string) (*models.Split, error) {
	split, err := scanSplit(s.pool.QueryRow(ctx, selectSplit+" WHERE id = $1", splitID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("split %s: %w", splitID, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get split: %w", err)
	}
	if err := loadChildren(ctx, s.pool, split); err != nil {
		return nil, err
	}
	return split, nil
}

func (s *Store) ListSplits(ctx context.Context, filter storage.SplitFilter) ([]*models.Split, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}
	involves := func(p string) string {
		return "EXISTS (SELECT 1 FROM split_items i WHERE i.split_id = splits.id AND i.participant_key = " + p + ")"
	}

	if filter.Payer != "" {
		where = append(where, "payer_key = "+arg(models.AddressKey(filter.Payer)))
	}
	if filter.Participant != "" {
		where = append(where, involves(arg(models.AddressKey(filter.Participant))))
	}
	if filter.User != "" {
		p := arg(models.AddressKey(filter.User))
		where = append(where, "(payer_key = "+p+" OR "+involves(p)+")")
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			statuses[i] = string(st)
		}
		where = append(where, "status = ANY("+arg(statuses)+")")
	}

	query := selectSplit
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id"
	if filter.Limit > 0 {
		query += " LIMIT " + arg(filter.Limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list splits: %w", err)
	}
	splits, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*models.Split, error) {
		return scanSplit(row)
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: scan splits: %w", err)
	}

	for _, split := range splits {
		if err := loadChildren(ctx, s.pool, split); err != nil {
			return nil, err
		}
	}
	return splits, nil
}

func (s *Store) AddApproval(ctx context.Context, splitID string, approval models.Approval, status models.Status, updatedAt int64) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var raw string
		err := tx.QueryRow(ctx, "SELECT status FROM splits WHERE id = $1 FOR UPDATE", splitID).Scan(&raw)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("split %s: %w", splitID, storage.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("postgres: lock split: %w", err)
		}
		current, err := models.ParseStatus(raw)
		if err != nil {
			return err
		}
		if current == models.StatusSettled {
			return fmt.Errorf("split %s is settled: %w", splitID, storage.ErrConflict)
		}
		if current != status && !current.CanTransitionTo(status) {
			return fmt.Errorf("split %s cannot move from %s to %s: %w", splitID, current, status, storage.ErrConflict)
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO split_approvals (split_id, participant_key, participant, signature, approved_at)
			 VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (split_id, participant_key) DO NOTHING`,
			splitID, models.AddressKey(approval.Participant), approval.Participant, approval.Signature, approval.ApprovedAt,
		)
		if err != nil {
			return fmt.Errorf("postgres: insert approval: %w", err)
		}

		if _, err := tx.Exec(ctx, "UPDATE splits SET status = $1, updated_at = $2 WHERE id = $3", string(status), updatedAt, splitID); err != nil {
			return fmt.Errorf("postgres: update split status: %w", err)
		}
		return nil
	})
}

func (s *Store) MarkSettled(ctx context.Context, splitID, txHash string, updatedAt int64) error {
	if txHash == "" {
		return fmt.Errorf("split %s: settled split needs a tx hash: %w", splitID, storage.ErrConflict)
	}

	tag, err := s.pool.Exec(ctx,
		"UPDATE splits SET status = $1, tx_hash = $2, updated_at = $3 WHERE id = $4 AND status = $5",
		string(models.StatusSettled), txHash, updatedAt, splitID, string(models.StatusApproved),
	)
	if err != nil {
		return fmt.Errorf("postgres: mark settled: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var status string
	err = s.pool.QueryRow(ctx, "SELECT status FROM splits WHERE id = $1", splitID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("split %s: %w", splitID, storage.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("postgres: check split status: %w", err)
	}
	return fmt.Errorf("split %s is %s, not approved: %w", splitID, status, storage.ErrConflict)
}

const selectSplit = `SELECT id, chain_id, token_address, payer_address, description, status,
       required_approvals, nonce, tx_hash, created_at, updated_at FROM splits`

func scanSplit(row pgx.Row) (*models.Split, error) {
	var (
		split   models.Split
		chainID int64
		status  string
		nonce   string
		txHash  *string
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
	if txHash != nil {
		split.TxHash = *txHash
	}
	split.Approvals = make(map[string]models.Approval)
	return &split, nil
}

func loadChildren(ctx context.Context, q querier, split *models.Split) error {
	rows, err := q.Query(ctx, "SELECT participant, amount FROM split_items WHERE split_id = $1 ORDER BY position", split.ID)
	if err != nil {
		return fmt.Errorf("postgres: get items: %w", err)
	}
	items, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.SplitItem, error) {
		var participant, amount string
		if err := row.Scan(&participant, &amount); err != nil {
			return models.SplitItem{}, err
		}
		v, err := calculator.ParseAmount(amount)
		if err != nil {
			return models.SplitItem{}, fmt.Errorf("split %s: stored amount: %w", split.ID, err)
		}
		return models.SplitItem{Participant: participant, Amount: v}, nil
	})
	if err != nil {
		return fmt.Errorf("postgres: scan items: %w", err)
	}
	split.Items = items

	rows, err = q.Query(ctx, "SELECT participant_key, participant, signature, approved_at FROM split_approvals WHERE split_id = $1", split.ID)
	if err != nil {
		return fmt.Errorf("postgres: get approvals: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var key string
		var a models.Approval
		if err := rows.Scan(&key, &a.Participant, &a.Signature, &a.ApprovedAt); err != nil {
			return fmt.Errorf("postgres: scan approval: %w", err)
		}
		split.Approvals[key] = a
	}
	return rows.Err()
}

// isUniqueViolation reports whether err is a Postgres unique_violation.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
