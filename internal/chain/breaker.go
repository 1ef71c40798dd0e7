package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sony/gobreaker"
)

// BreakerSettings configures the circuit breaker around a Client.
type BreakerSettings struct {
	// ConsecutiveFailures trips the breaker after this many unavailable errors in a row.
	ConsecutiveFailures uint32
	// OpenTimeout is how long the breaker stays open before probing again.
	OpenTimeout time.Duration
	// OnStateChange is called on every transition (optional).
	OnStateChange func(from, to gobreaker.State)
}

// BreakerClient fails fast with ErrChainUnavailable while the node is known to be down.
// Only ErrChainUnavailable counts as a failure: rejected or reverted
// transactions mean the node is healthy.
type BreakerClient struct {
	next Client
	cb   *gobreaker.CircuitBreaker
}

var _ Client = (*BreakerClient)(nil)

// NewBreakerClient wraps next with a circuit breaker.
func NewBreakerClient(next Client, s BreakerSettings) *BreakerClient {
	if s.ConsecutiveFailures == 0 {
		s.ConsecutiveFailures = 5
	}
	if s.OpenTimeout <= 0 {
		s.OpenTimeout = 30 * time.Second
	}

	settings := gobreaker.Settings{
		Name:        "chain",
		MaxRequests: 1,
		Timeout:     s.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= s.ConsecutiveFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !errors.Is(err, ErrChainUnavailable)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			slog.Warn("Chain circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
			if s.OnStateChange != nil {
				s.OnStateChange(from, to)
			}
		},
	}

	return &BreakerClient{next: next, cb: gobreaker.NewCircuitBreaker(settings)}
}

// State returns the current breaker state.
func (b *BreakerClient) State() gobreaker.State {
	return b.cb.State()
}

func (b *BreakerClient) ChainID() uint64 {
	return b.next.ChainID()
}

func (b *BreakerClient) ReadAllowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error) {
	v, err := b.cb.Execute(func() (interface{}, error) {
		return b.next.ReadAllowance(ctx, token, owner, spender)
	})
	if err != nil {
		return nil, breakerError(err)
	}
	return v.(*big.Int), nil
}

func (b *BreakerClient) SendSettlement(ctx context.Context, call SettlementCall) (*PendingTx, error) {
	v, err := b.cb.Execute(func() (interface{}, error) {
		return b.next.SendSettlement(ctx, call)
	})
	tx, _ := v.(*PendingTx)
	if err != nil {
		return tx, breakerError(err)
	}
	return tx, nil
}

func (b *BreakerClient) Receipt(ctx context.Context, txHash common.Hash) (*Receipt, error) {
	v, err := b.cb.Execute(func() (interface{}, error) {
		return b.next.Receipt(ctx, txHash)
	})
	if err != nil {
		return nil, breakerError(err)
	}
	return v.(*Receipt), nil
}

func breakerError(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %v", ErrChainUnavailable, err)
	}
	return err
}
