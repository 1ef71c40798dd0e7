// Package settlement submits the single on-chain transaction that settles an
// approved split and tracks it until the chain confirms or reverts it.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/AccountantBot/coordinator/internal/chain"
	"github.com/AccountantBot/coordinator/internal/models"
)

var (
	// ErrAlreadySettled is returned for a settled split before any chain interaction.
	ErrAlreadySettled = errors.New("split already settled")
	// ErrNotApproved is returned when a split has not reached its approval threshold.
	ErrNotApproved = errors.New("split not approved")
)

// Config tunes submission and confirmation tracking.
type Config struct {
	Direction           chain.Direction
	ConfirmationTimeout time.Duration
	PollInterval        time.Duration
}

// DefaultConfig waits up to two minutes, polling every two seconds.
func DefaultConfig() Config {
	return Config{
		Direction:           chain.PayerToParticipants,
		ConfirmationTimeout: 2 * time.Minute,
		PollInterval:        2 * time.Second,
	}
}

// Executor submits settlement transactions through a chain client.
type Executor struct {
	client chain.Client
	cfg    Config
}

// NewExecutor creates an Executor. Zero durations fall back to DefaultConfig.
func NewExecutor(client chain.Client, cfg Config) *Executor {
	def := DefaultConfig()
	if cfg.ConfirmationTimeout <= 0 {
		cfg.ConfirmationTimeout = def.ConfirmationTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	return &Executor{client: client, cfg: cfg}
}

// Direction returns the configured settlement direction.
func (e *Executor) Direction() chain.Direction {
	return e.cfg.Direction
}

// SplitKey is the on-chain identifier of a split.
func SplitKey(splitID string) common.Hash {
	return crypto.Keccak256Hash([]byte(splitID))
}

// BuildCall converts split into the settlement contract call.
func (e *Executor) BuildCall(split *models.Split) (chain.SettlementCall, error) {
	if !common.IsHexAddress(split.TokenAddress) || !common.IsHexAddress(split.PayerAddress) {
		return chain.SettlementCall{}, fmt.Errorf("split %s: invalid token or payer address", split.ID)
	}
	call := chain.SettlementCall{
		SplitKey:     SplitKey(split.ID),
		Token:        common.HexToAddress(split.TokenAddress),
		Payer:        common.HexToAddress(split.PayerAddress),
		Participants: make([]common.Address, len(split.Items)),
		Amounts:      make([]*big.Int, len(split.Items)),
		Direction:    e.cfg.Direction,
	}
	for i, item := range split.Items {
		if !common.IsHexAddress(item.Participant) {
			return chain.SettlementCall{}, fmt.Errorf("split %s: invalid participant %q", split.ID, item.Participant)
		}
		if item.Amount == nil || item.Amount.Sign() <= 0 {
			return chain.SettlementCall{}, fmt.Errorf("split %s: item for %s has no positive amount", split.ID, item.Participant)
		}
		call.Participants[i] = common.HexToAddress(item.Participant)
		call.Amounts[i] = new(big.Int).Set(item.Amount)
	}
	return call, nil
}

// Submit broadcasts the settlement of an approved split. It never changes
// the split; the caller decides what to record. A non-nil tx returned with
// an error may still be mined and must be tracked, not resubmitted.
func (e *Executor) Submit(ctx context.Context, split *models.Split) (*chain.PendingTx, error) {
	switch split.Status {
	case models.StatusSettled:
		return nil, fmt.Errorf("split %s: %w", split.ID, ErrAlreadySettled)
	case models.StatusApproved:
	default:
		return nil, fmt.Errorf("split %s is %s: %w", split.ID, split.Status, ErrNotApproved)
	}

	call, err := e.BuildCall(split)
	if err != nil {
		return nil, err
	}

	tx, err := e.client.SendSettlement(ctx, call)
	if err != nil {
		return tx, fmt.Errorf("split %s: %w", split.ID, err)
	}

	slog.Info("Settlement submitted", "split_id", split.ID, "tx_hash", tx.Hash.Hex(), "direction", e.cfg.Direction.String())
	return tx, nil
}

// AwaitConfirmation polls for the receipt of tx until it is mined, the
// confirmation timeout elapses, or ctx is done. Giving up on the wait never
// affects the transaction itself, which may still be mined later.
func (e *Executor) AwaitConfirmation(ctx context.Context, tx *chain.PendingTx) (common.Hash, error) {
	timeout := time.NewTimer(e.cfg.ConfirmationTimeout)
	defer timeout.Stop()
	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	for {
		receipt, err := e.client.Receipt(ctx, tx.Hash)
		switch {
		case err == nil:
			if !receipt.Succeeded {
				return common.Hash{}, fmt.Errorf("%w: %s in block %d", chain.ErrTransactionReverted, tx.Hash.Hex(), receipt.BlockNumber)
			}
			slog.Info("Settlement confirmed", "tx_hash", tx.Hash.Hex(), "block", receipt.BlockNumber)
			return receipt.TxHash, nil
		case errors.Is(err, chain.ErrReceiptNotFound):
		case errors.Is(err, chain.ErrChainUnavailable):
			slog.Warn("Receipt lookup failed, still waiting", "tx_hash", tx.Hash.Hex(), "error", err)
		default:
			return common.Hash{}, fmt.Errorf("failed to get receipt for %s: %w", tx.Hash.Hex(), err)
		}

		select {
		case <-ctx.Done():
			return common.Hash{}, fmt.Errorf("stopped waiting for %s: %w", tx.Hash.Hex(), ctx.Err())
		case <-timeout.C:
			return common.Hash{}, fmt.Errorf("%w: %s after %s", chain.ErrConfirmationTimeout, tx.Hash.Hex(), e.cfg.ConfirmationTimeout)
		case <-ticker.C:
		}
	}
}
