// Package allowance reads and reasons about ERC-20 allowances granted to the
// settlement contract. It never writes to the chain: approving is a
// user-initiated transaction whose result is only observed here.
package allowance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum/common"

	"github.com/AccountantBot/coordinator/internal/calculator"
	"github.com/AccountantBot/coordinator/internal/chain"
	"github.com/AccountantBot/coordinator/internal/models"
)

// ErrInsufficientAllowance is returned when an owner has not approved enough.
var ErrInsufficientAllowance = errors.New("insufficient allowance")

// Reader is the part of chain.Client the tracker needs.
type Reader interface {
	ReadAllowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error)
}

// RetryConfig bounds retries of unavailable chain reads.
type RetryConfig struct {
	MaxRetries      uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryConfig retries four times, capping the wait at two seconds.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:      4,
		InitialInterval: 200 * time.Millisecond,
		MaxInterval:     2 * time.Second,
	}
}

// Tracker queries allowances granted to a single spender.
type Tracker struct {
	reader  Reader
	spender common.Address
	retry   RetryConfig
}

// NewTracker creates a tracker for allowances granted to spender.
func NewTracker(reader Reader, spender common.Address, retry RetryConfig) *Tracker {
	if retry.InitialInterval <= 0 {
		retry.InitialInterval = DefaultRetryConfig().InitialInterval
	}
	if retry.MaxInterval <= 0 {
		retry.MaxInterval = DefaultRetryConfig().MaxInterval
	}
	return &Tracker{reader: reader, spender: spender, retry: retry}
}

// Spender returns the address allowances are read for.
func (t *Tracker) Spender() common.Address {
	return t.spender
}

// GetAllowance returns how much of token owner lets the spender move. It is
// zero if owner never approved. Unavailable reads are retried with capped
// exponential backoff; any other failure is returned immediately.
func (t *Tracker) GetAllowance(ctx context.Context, owner, token string) (*big.Int, error) {
	if !common.IsHexAddress(owner) {
		return nil, fmt.Errorf("invalid owner address %q", owner)
	}
	if !common.IsHexAddress(token) {
		return nil, fmt.Errorf("invalid token address %q", token)
	}
	ownerAddr, tokenAddr := common.HexToAddress(owner), common.HexToAddress(token)

	var amount *big.Int
	op := func() error {
		v, err := t.reader.ReadAllowance(ctx, tokenAddr, ownerAddr, t.spender)
		if err != nil {
			if errors.Is(err, chain.ErrChainUnavailable) {
				return err
			}
			return backoff.Permanent(err)
		}
		amount = v
		return nil
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = t.retry.InitialInterval
	eb.MaxInterval = t.retry.MaxInterval
	eb.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, t.retry.MaxRetries), ctx)

	notify := func(err error, next time.Duration) {
		slog.Warn("Allowance read failed, retrying", "owner", owner, "token", token, "error", err, "retry_in", next)
	}

	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, chain.ErrChainUnavailable) {
			return nil, fmt.Errorf("%w: %v", chain.ErrChainUnavailable, ctxErr)
		}
		return nil, err
	}
	if amount == nil {
		amount = new(big.Int)
	}
	return amount, nil
}

// IsSufficient reports whether allowance covers required.
func IsSufficient(allowance, required *big.Int) bool {
	if allowance == nil || required == nil {
		return false
	}
	return allowance.Cmp(required) >= 0
}

// IsUnlimited reports whether allowance is the max uint256 wallets use for
// "unlimited" approvals.
func IsUnlimited(allowance *big.Int) bool {
	return allowance != nil && allowance.Cmp(calculator.MaxUint256) == 0
}

// Requirement is the allowance one owner must have granted for a settlement.
type Requirement struct {
	Owner  string
	Amount *big.Int
}

// Requirements lists what each owner must cover when split settles in dir.
func Requirements(split *models.Split, dir chain.Direction) ([]Requirement, error) {
	switch dir {
	case chain.PayerToParticipants:
		total, err := calculator.Sum(split.Items)
		if err != nil {
			return nil, err
		}
		return []Requirement{{Owner: split.PayerAddress, Amount: total}}, nil
	case chain.ParticipantsToPayer:
		reqs := make([]Requirement, 0, len(split.Items))
		for _, item := range split.Items {
			if item.Amount == nil || item.Amount.Sign() < 0 {
				return nil, fmt.Errorf("%w: item for %s", calculator.ErrInvalidAmount, item.Participant)
			}
			reqs = append(reqs, Requirement{Owner: item.Participant, Amount: new(big.Int).Set(item.Amount)})
		}
		return reqs, nil
	}
	return nil, fmt.Errorf("unsupported settlement direction %s", dir)
}

// InsufficientError describes which owner is short and by how much.
type InsufficientError struct {
	Owner    string
	Token    string
	Have     *big.Int
	Required *big.Int
}

func (e *InsufficientError) Error() string {
	return fmt.Sprintf("%s: %s approved %s of token %s, settlement needs %s",
		ErrInsufficientAllowance, e.Owner, e.Have, e.Token, e.Required)
}

func (e *InsufficientError) Unwrap() error {
	return ErrInsufficientAllowance
}

// Check verifies every requirement for settling split in dir against the
// current on-chain allowances.
func (t *Tracker) Check(ctx context.Context, split *models.Split, dir chain.Direction) error {
	reqs, err := Requirements(split, dir)
	if err != nil {
		return err
	}
	for _, req := range reqs {
		have, err := t.GetAllowance(ctx, req.Owner, split.TokenAddress)
		if err != nil {
			return err
		}
		if !IsSufficient(have, req.Amount) {
			return &InsufficientError{Owner: req.Owner, Token: split.TokenAddress, Have: have, Required: req.Amount}
		}
	}
	return nil
}
