package mock

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AccountantBot/coordinator/internal/chain"
)

var (
	contract = common.HexToAddress("0x00000000000000000000000000000000000000c0")
	token    = common.HexToAddress("0x06eFdBFf2a14a7c8E15944D1F4A48F9F95F663A4")
	payer    = common.HexToAddress("0x1111111111111111111111111111111111111111")
	alice    = common.HexToAddress("0x2222222222222222222222222222222222222222")
	bob      = common.HexToAddress("0x3333333333333333333333333333333333333333")
)

func settlementCall(key string) chain.SettlementCall {
	return chain.SettlementCall{
		SplitKey:     common.HexToHash(key),
		Token:        token,
		Payer:        payer,
		Participants: []common.Address{alice, bob},
		Amounts:      []*big.Int{big.NewInt(100), big.NewInt(100)},
		Direction:    chain.PayerToParticipants,
	}
}

func TestReadAllowanceDefaultsToZero(t *testing.T) {
	c := NewChain(534352, contract)

	got, err := c.ReadAllowance(context.Background(), token, payer, contract)
	require.NoError(t, err)
	assert.Equal(t, 0, got.Sign())

	c.SetAllowance(token, payer, contract, big.NewInt(500))
	got, err = c.ReadAllowance(context.Background(), token, payer, contract)
	require.NoError(t, err)
	assert.Equal(t, "500", got.String())
}

func TestSendSettlementConsumesAllowance(t *testing.T) {
	ctx := context.Background()
	c := NewChain(534352, contract)
	c.SetAllowance(token, payer, contract, big.NewInt(250))

	tx, err := c.SendSettlement(ctx, settlementCall("0x01"))
	require.NoError(t, err)

	receipt, err := c.Receipt(ctx, tx.Hash)
	require.NoError(t, err)
	assert.True(t, receipt.Succeeded)

	left, err := c.ReadAllowance(ctx, token, payer, contract)
	require.NoError(t, err)
	assert.Equal(t, "50", left.String())
	assert.Len(t, c.Submissions(), 1)
}

func TestSendSettlementRejections(t *testing.T) {
	ctx := context.Background()

	t.Run("insufficient allowance", func(t *testing.T) {
		c := NewChain(534352, contract)
		c.SetAllowance(token, payer, contract, big.NewInt(199))
		_, err := c.SendSettlement(ctx, settlementCall("0x02"))
		assert.ErrorIs(t, err, chain.ErrSubmissionFailed)
		assert.Empty(t, c.Submissions())
	})

	t.Run("insufficient balance", func(t *testing.T) {
		c := NewChain(534352, contract)
		c.SetAllowance(token, payer, contract, big.NewInt(1000))
		c.SetBalance(token, payer, big.NewInt(10))
		_, err := c.SendSettlement(ctx, settlementCall("0x03"))
		assert.ErrorIs(t, err, chain.ErrSubmissionFailed)
	})

	t.Run("participants pay their own share", func(t *testing.T) {
		c := NewChain(534352, contract)
		c.SetAllowance(token, alice, contract, big.NewInt(100))
		call := settlementCall("0x04")
		call.Direction = chain.ParticipantsToPayer
		_, err := c.SendSettlement(ctx, call)
		assert.ErrorIs(t, err, chain.ErrSubmissionFailed, "bob has no allowance")

		c.SetAllowance(token, bob, contract, big.NewInt(100))
		_, err = c.SendSettlement(ctx, call)
		assert.NoError(t, err)
	})

	t.Run("split key settles once", func(t *testing.T) {
		c := NewChain(534352, contract)
		c.SetAllowance(token, payer, contract, big.NewInt(1000))
		_, err := c.SendSettlement(ctx, settlementCall("0x05"))
		require.NoError(t, err)
		_, err = c.SendSettlement(ctx, settlementCall("0x05"))
		assert.ErrorIs(t, err, chain.ErrSubmissionFailed)
	})

	t.Run("offline node", func(t *testing.T) {
		c := NewChain(534352, contract)
		c.SetUnavailable(true)
		_, err := c.SendSettlement(ctx, settlementCall("0x06"))
		assert.ErrorIs(t, err, chain.ErrChainUnavailable)
	})
}

func TestReceiptLifecycle(t *testing.T) {
	ctx := context.Background()
	c := NewChain(534352, contract)
	c.SetAllowance(token, payer, contract, big.NewInt(1000))

	c.HoldMining(true)
	tx, err := c.SendSettlement(ctx, settlementCall("0x07"))
	require.NoError(t, err)

	_, err = c.Receipt(ctx, tx.Hash)
	assert.True(t, errors.Is(err, chain.ErrReceiptNotFound))

	c.HoldMining(false)
	receipt, err := c.Receipt(ctx, tx.Hash)
	require.NoError(t, err)
	assert.Equal(t, tx.Hash, receipt.TxHash)

	c.RevertNext()
	reverted, err := c.SendSettlement(ctx, settlementCall("0x08"))
	require.NoError(t, err)
	receipt, err = c.Receipt(ctx, reverted.Hash)
	require.NoError(t, err)
	assert.False(t, receipt.Succeeded)
}

func TestMineDelay(t *testing.T) {
	ctx := context.Background()
	c := NewChain(534352, contract)
	c.SetAllowance(token, payer, contract, big.NewInt(1000))
	c.SetMineDelay(50 * time.Millisecond)

	tx, err := c.SendSettlement(ctx, settlementCall("0x09"))
	require.NoError(t, err)

	_, err = c.Receipt(ctx, tx.Hash)
	assert.ErrorIs(t, err, chain.ErrReceiptNotFound)

	assert.Eventually(t, func() bool {
		_, err := c.Receipt(ctx, tx.Hash)
		return err == nil
	}, time.Second, 10*time.Millisecond)
}
