// Package mock provides an in-memory chain.Client for development and tests.
package mock

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/AccountantBot/coordinator/internal/chain"
)

type allowanceKey struct {
	token, owner, spender common.Address
}

type balanceKey struct {
	token, owner common.Address
}

type minedTx struct {
	call     chain.SettlementCall
	minesAt  time.Time
	reverted bool
}

// Chain simulates an ERC-20 allowance table and a settlement contract.
// Settlement pulls amounts from owners' allowances to the contract, exactly
// like transferFrom would, and each split key can only settle once.
type Chain struct {
	mu          sync.Mutex
	chainID     uint64
	contract    common.Address
	allowances  map[allowanceKey]*big.Int
	balances    map[balanceKey]*big.Int
	txs         map[common.Hash]*minedTx
	settledKeys map[common.Hash]bool
	submissions []chain.SettlementCall
	nonce       uint64
	block       uint64

	unavailable bool
	holdMining  bool
	mineDelay   time.Duration
	failNext    string
	revertNext  bool
	loseReply   bool
	sendLatency time.Duration
}

var _ chain.Client = (*Chain)(nil)

// NewChain creates a mock chain whose settlement contract lives at contract.
func NewChain(chainID uint64, contract common.Address) *Chain {
	return &Chain{
		chainID:     chainID,
		contract:    contract,
		allowances:  make(map[allowanceKey]*big.Int),
		balances:    make(map[balanceKey]*big.Int),
		txs:         make(map[common.Hash]*minedTx),
		settledKeys: make(map[common.Hash]bool),
	}
}

// SetAllowance simulates an ERC-20 approve(spender, amount) by owner.
func (c *Chain) SetAllowance(token, owner, spender common.Address, amount *big.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.allowances[allowanceKey{token, owner, spender}] = new(big.Int).Set(amount)
	slog.Debug("[MockChain] Allowance set", "token", token.Hex(), "owner", owner.Hex(), "amount", amount.String())
}

// SetBalance sets owner's token balance. Balances are only enforced for
// owners that have one set.
func (c *Chain) SetBalance(token, owner common.Address, amount *big.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.balances[balanceKey{token, owner}] = new(big.Int).Set(amount)
}

// Balance returns owner's tracked token balance, or nil if none was set.
func (c *Chain) Balance(token, owner common.Address) *big.Int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if v, ok := c.balances[balanceKey{token, owner}]; ok {
		return new(big.Int).Set(v)
	}
	return nil
}

// SetUnavailable makes every call fail with chain.ErrChainUnavailable.
func (c *Chain) SetUnavailable(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unavailable = v
}

// SetMineDelay sets how long after submission a transaction is mined.
func (c *Chain) SetMineDelay(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mineDelay = d
}

// SetSendLatency delays SendSettlement, widening race windows in tests.
func (c *Chain) SetSendLatency(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sendLatency = d
}

// HoldMining keeps submitted transactions unmined until released.
func (c *Chain) HoldMining(hold bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.holdMining = hold
}

// FailNextSubmission makes the next SendSettlement be rejected with reason.
func (c *Chain) FailNextSubmission(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failNext = reason
}

// LoseNextReply makes the next SendSettlement go through on-chain but report
// chain.ErrChainUnavailable, as when the node accepts a transaction and the
// connection drops before it answers.
func (c *Chain) LoseNextReply() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loseReply = true
}

// RevertNext makes the next submitted transaction revert when mined.
func (c *Chain) RevertNext() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.revertNext = true
}

// Submissions returns every settlement call that reached the chain.
func (c *Chain) Submissions() []chain.SettlementCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]chain.SettlementCall, len(c.submissions))
	copy(out, c.submissions)
	return out
}

func (c *Chain) ChainID() uint64 {
	return c.chainID
}

func (c *Chain) ReadAllowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", chain.ErrChainUnavailable, err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.unavailable {
		return nil, fmt.Errorf("%w: mock node offline", chain.ErrChainUnavailable)
	}
	if v, ok := c.allowances[allowanceKey{token, owner, spender}]; ok {
		return new(big.Int).Set(v), nil
	}
	return new(big.Int), nil
}

func (c *Chain) SendSettlement(ctx context.Context, call chain.SettlementCall) (*chain.PendingTx, error) {
	c.mu.Lock()
	latency := c.sendLatency
	c.mu.Unlock()
	if latency > 0 {
		select {
		case <-time.After(latency):
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", chain.ErrChainUnavailable, ctx.Err())
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.unavailable {
		return nil, fmt.Errorf("%w: mock node offline", chain.ErrChainUnavailable)
	}
	if reason := c.failNext; reason != "" {
		c.failNext = ""
		return nil, fmt.Errorf("%w: %s", chain.ErrSubmissionFailed, reason)
	}
	if c.settledKeys[call.SplitKey] {
		return nil, fmt.Errorf("%w: execution reverted: split already settled", chain.ErrSubmissionFailed)
	}
	if len(call.Participants) != len(call.Amounts) {
		return nil, fmt.Errorf("%w: participants and amounts length mismatch", chain.ErrSubmissionFailed)
	}

	// transferFrom semantics: every owner must cover what is pulled from them.
	pulls := make(map[common.Address]*big.Int)
	for i, p := range call.Participants {
		owner := call.Payer
		if call.Direction == chain.ParticipantsToPayer {
			owner = p
		}
		if _, ok := pulls[owner]; !ok {
			pulls[owner] = new(big.Int)
		}
		pulls[owner].Add(pulls[owner], call.Amounts[i])
	}
	for owner, amount := range pulls {
		key := allowanceKey{call.Token, owner, c.contract}
		have := c.allowances[key]
		if have == nil || have.Cmp(amount) < 0 {
			return nil, fmt.Errorf("%w: execution reverted: ERC20: insufficient allowance for %s", chain.ErrSubmissionFailed, owner.Hex())
		}
		if bal, ok := c.balances[balanceKey{call.Token, owner}]; ok && bal.Cmp(amount) < 0 {
			return nil, fmt.Errorf("%w: execution reverted: ERC20: transfer amount exceeds balance of %s", chain.ErrSubmissionFailed, owner.Hex())
		}
	}
	for owner, amount := range pulls {
		key := allowanceKey{call.Token, owner, c.contract}
		c.allowances[key] = new(big.Int).Sub(c.allowances[key], amount)
		if bal, ok := c.balances[balanceKey{call.Token, owner}]; ok {
			c.balances[balanceKey{call.Token, owner}] = new(big.Int).Sub(bal, amount)
		}
	}

	c.nonce++
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], c.nonce)
	hash := crypto.Keccak256Hash(call.SplitKey.Bytes(), buf[:])

	now := time.Now()
	c.txs[hash] = &minedTx{call: call, minesAt: now.Add(c.mineDelay), reverted: c.revertNext}
	if !c.revertNext {
		c.settledKeys[call.SplitKey] = true
	}
	c.revertNext = false
	c.submissions = append(c.submissions, call)

	slog.Info("[MockChain] Settlement submitted", "tx_hash", hash.Hex(), "participants", len(call.Participants))
	tx := &chain.PendingTx{Hash: hash, SubmittedAt: now}
	if c.loseReply {
		c.loseReply = false
		return tx, fmt.Errorf("%w: mock node dropped the connection", chain.ErrChainUnavailable)
	}
	return tx, nil
}

func (c *Chain) Receipt(ctx context.Context, txHash common.Hash) (*chain.Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", chain.ErrChainUnavailable, err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.unavailable {
		return nil, fmt.Errorf("%w: mock node offline", chain.ErrChainUnavailable)
	}
	tx, ok := c.txs[txHash]
	if !ok || c.holdMining || time.Now().Before(tx.minesAt) {
		return nil, chain.ErrReceiptNotFound
	}
	c.block++
	return &chain.Receipt{TxHash: txHash, BlockNumber: c.block, Succeeded: !tx.reverted}, nil
}
