// Package ethereum implements chain.Client against an EVM JSON-RPC node.
package ethereum

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	geth "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/AccountantBot/coordinator/internal/chain"
)

// Config holds the connection settings for a node.
type Config struct {
	RPCURL             string
	SettlementContract common.Address
	// OperatorKey signs settlement transactions and pays their gas.
	OperatorKey *ecdsa.PrivateKey
	// CallTimeout bounds every single RPC round trip.
	CallTimeout time.Duration
}

// Client talks to a node through ethclient.
type Client struct {
	eth         *ethclient.Client
	chainID     *big.Int
	contract    common.Address
	key         *ecdsa.PrivateKey
	from        common.Address
	callTimeout time.Duration

	// sendMu serializes nonce assignment for the operator account.
	sendMu sync.Mutex
}

var _ chain.Client = (*Client)(nil)

// ParseOperatorKey parses a hex private key, with or without 0x prefix.
func ParseOperatorKey(hexKey string) (*ecdsa.PrivateKey, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse operator key: %w", err)
	}
	return key, nil
}

// Dial connects to the node and reads its chain id.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.OperatorKey == nil {
		return nil, errors.New("operator key is required")
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 10 * time.Second
	}

	eth, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", cfg.RPCURL, err)
	}

	idCtx, cancel := context.WithTimeout(ctx, cfg.CallTimeout)
	defer cancel()
	chainID, err := eth.ChainID(idCtx)
	if err != nil {
		eth.Close()
		return nil, fmt.Errorf("%w: failed to read chain id: %v", chain.ErrChainUnavailable, err)
	}

	c := &Client{
		eth:         eth,
		chainID:     chainID,
		contract:    cfg.SettlementContract,
		key:         cfg.OperatorKey,
		from:        crypto.PubkeyToAddress(cfg.OperatorKey.PublicKey),
		callTimeout: cfg.CallTimeout,
	}
	slog.Info("Connected to chain", "chain_id", chainID.Uint64(), "operator", c.from.Hex(), "contract", c.contract.Hex())
	return c, nil
}

// Close releases the underlying RPC connection.
func (c *Client) Close() {
	c.eth.Close()
}

func (c *Client) ChainID() uint64 {
	return c.chainID.Uint64()
}

func (c *Client) ReadAllowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error) {
	data, err := erc20.Pack("allowance", owner, spender)
	if err != nil {
		return nil, fmt.Errorf("failed to pack allowance call: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	out, err := c.eth.CallContract(ctx, geth.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: allowance call: %v", chain.ErrChainUnavailable, err)
	}

	values, err := erc20.Unpack("allowance", out)
	if err != nil || len(values) != 1 {
		return nil, fmt.Errorf("%w: unexpected allowance result %x", chain.ErrChainUnavailable, out)
	}
	amount, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%w: allowance is %T", chain.ErrChainUnavailable, values[0])
	}
	return amount, nil
}

func (c *Client) SendSettlement(ctx context.Context, call chain.SettlementCall) (*chain.PendingTx, error) {
	data, err := settlement.Pack("settle",
		[32]byte(call.SplitKey), call.Token, call.Payer, call.Participants, call.Amounts, uint8(call.Direction))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to pack settle call: %v", chain.ErrSubmissionFailed, err)
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	// Estimation runs the call, so allowance and balance failures surface
	// here as node rejections before anything is broadcast.
	gas, err := c.eth.EstimateGas(ctx, geth.CallMsg{From: c.from, To: &c.contract, Data: data})
	if err != nil {
		return nil, classify(err)
	}

	nonce, err := c.eth.PendingNonceAt(ctx, c.from)
	if err != nil {
		return nil, classify(err)
	}
	tip, err := c.eth.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, classify(err)
	}
	head, err := c.eth.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, classify(err)
	}
	feeCap := new(big.Int).Set(tip)
	if head.BaseFee != nil {
		feeCap.Add(feeCap, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   c.chainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gas * 12 / 10,
		To:        &c.contract,
		Value:     new(big.Int),
		Data:      data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(c.chainID), c.key)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to sign: %v", chain.ErrSubmissionFailed, err)
	}

	pending, err := broadcastOutcome(signed.Hash(), c.eth.SendTransaction(ctx, signed))
	if pending == nil {
		return nil, err
	}
	if err != nil {
		slog.Warn("Settlement broadcast outcome unknown", "tx_hash", pending.Hash.Hex(), "nonce", nonce, "error", err)
		return pending, err
	}
	slog.Info("Settlement transaction broadcast", "tx_hash", pending.Hash.Hex(), "nonce", nonce, "gas", signed.Gas())
	return pending, nil
}

// broadcastOutcome interprets the result of eth_sendRawTransaction. A node
// rejection means nothing was broadcast. Any other failure may have happened
// after the node accepted the transaction, so its hash is kept.
func broadcastOutcome(hash common.Hash, sendErr error) (*chain.PendingTx, error) {
	tx := &chain.PendingTx{Hash: hash, SubmittedAt: time.Now()}
	if sendErr == nil {
		return tx, nil
	}
	if strings.Contains(strings.ToLower(sendErr.Error()), "already known") {
		return tx, nil
	}
	err := classify(sendErr)
	if errors.Is(err, chain.ErrChainUnavailable) {
		return tx, err
	}
	return nil, err
}

func (c *Client) Receipt(ctx context.Context, txHash common.Hash) (*chain.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	r, err := c.eth.TransactionReceipt(ctx, txHash)
	if errors.Is(err, geth.NotFound) {
		return nil, chain.ErrReceiptNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: receipt %s: %v", chain.ErrChainUnavailable, txHash.Hex(), err)
	}

	var block uint64
	if r.BlockNumber != nil {
		block = r.BlockNumber.Uint64()
	}
	return &chain.Receipt{
		TxHash:      txHash,
		BlockNumber: block,
		Succeeded:   r.Status == types.ReceiptStatusSuccessful,
	}, nil
}

// classify maps node errors onto the chain taxonomy. A JSON-RPC error
// response means the node is reachable and rejected the request.
func classify(err error) error {
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		return fmt.Errorf("%w: %v", chain.ErrSubmissionFailed, err)
	}
	return fmt.Errorf("%w: %v", chain.ErrChainUnavailable, err)
}
