// Package chain defines the port the coordinator uses to talk to an EVM chain.
//
// The coordinator talks ONLY to Client: allowance reads, the settlement
// transaction and receipt lookups. Adapters live in sub-packages (ethereum for
// a JSON-RPC node, mock for development and tests).
package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrChainUnavailable is returned when the node cannot be reached or a read times out.
	ErrChainUnavailable = errors.New("chain unavailable")
	// ErrSubmissionFailed is returned when the node rejects a transaction.
	ErrSubmissionFailed = errors.New("settlement submission failed")
	// ErrTransactionReverted is returned when a mined transaction reverted.
	ErrTransactionReverted = errors.New("settlement transaction reverted")
	// ErrConfirmationTimeout is returned when no receipt arrives within the wait bound.
	ErrConfirmationTimeout = errors.New("settlement confirmation timed out")
	// ErrReceiptNotFound is returned while a transaction is not yet mined.
	ErrReceiptNotFound = errors.New("receipt not found")
)

// Direction selects which way the settlement moves funds.
type Direction uint8

const (
	// PayerToParticipants pulls every item amount from the payer.
	PayerToParticipants Direction = iota
	// ParticipantsToPayer pulls each participant's item amount from that participant.
	ParticipantsToPayer
)

func (d Direction) String() string {
	switch d {
	case PayerToParticipants:
		return "payer_to_participants"
	case ParticipantsToPayer:
		return "participants_to_payer"
	}
	return fmt.Sprintf("direction(%d)", uint8(d))
}

// ParseDirection parses the config form of a Direction.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "payer_to_participants":
		return PayerToParticipants, nil
	case "participants_to_payer":
		return ParticipantsToPayer, nil
	}
	return 0, fmt.Errorf("unknown settlement direction %q", s)
}

// SettlementCall is the single atomic call that settles a split.
type SettlementCall struct {
	SplitKey     common.Hash // keccak256 of the split id
	Token        common.Address
	Payer        common.Address
	Participants []common.Address
	Amounts      []*big.Int
	Direction    Direction
}

// PendingTx is a submitted, not yet confirmed transaction.
type PendingTx struct {
	Hash        common.Hash
	SubmittedAt time.Time
}

// Receipt is the mined outcome of a transaction.
type Receipt struct {
	TxHash      common.Hash
	BlockNumber uint64
	Succeeded   bool
}

// Client is the chain capability consumed by the coordinator.
type Client interface {
	// ChainID returns the id of the connected chain.
	ChainID() uint64

	// ReadAllowance returns how much of token owner allows spender to move.
	// It returns zero when owner never approved spender.
	ReadAllowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error)

	// SendSettlement signs and broadcasts the settlement call. When the
	// broadcast fails in a way that leaves its fate unknown (transport error,
	// timeout), the signed transaction is returned together with
	// ErrChainUnavailable: it may still be mined.
	SendSettlement(ctx context.Context, call SettlementCall) (*PendingTx, error)

	// Receipt returns the receipt of a mined transaction, or ErrReceiptNotFound.
	Receipt(ctx context.Context, txHash common.Hash) (*Receipt, error)
}
