package allowance

import (
	"context"
	"errors"
	"math/big"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AccountantBot/coordinator/internal/calculator"
	"github.com/AccountantBot/coordinator/internal/chain"
	"github.com/AccountantBot/coordinator/internal/chain/mock"
	"github.com/AccountantBot/coordinator/internal/models"
)

const (
	usdc  = "0x06eFdBFf2a14a7c8E15944D1F4A48F9F95F663A4"
	payer = "0x1111111111111111111111111111111111111111"
	alice = "0x2222222222222222222222222222222222222222"
	bob   = "0x3333333333333333333333333333333333333333"
)

var spender = common.HexToAddress("0x00000000000000000000000000000000000000c0")

func fastRetry() RetryConfig {
	return RetryConfig{MaxRetries: 3, InitialInterval: time.Millisecond, MaxInterval: 5 * time.Millisecond}
}

// flakyReader fails with ErrChainUnavailable a fixed number of times.
type flakyReader struct {
	failures int32
	calls    atomic.Int32
	err      error
	amount   *big.Int
}

func (r *flakyReader) ReadAllowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error) {
	n := r.calls.Add(1)
	if n <= r.failures {
		return nil, r.err
	}
	return r.amount, nil
}

func testSplit() *models.Split {
	return &models.Split{
		ID:           "split-1",
		TokenAddress: usdc,
		PayerAddress: payer,
		Items: []models.SplitItem{
			{Participant: alice, Amount: big.NewInt(100)},
			{Participant: bob, Amount: big.NewInt(100)},
		},
	}
}

func TestGetAllowance(t *testing.T) {
	ctx := context.Background()
	node := mock.NewChain(534352, spender)
	tracker := NewTracker(node, spender, fastRetry())

	got, err := tracker.GetAllowance(ctx, payer, usdc)
	require.NoError(t, err)
	assert.Equal(t, 0, got.Sign(), "never approved reads as zero")

	node.SetAllowance(common.HexToAddress(usdc), common.HexToAddress(payer), spender, big.NewInt(1_500_000))
	got, err = tracker.GetAllowance(ctx, payer, usdc)
	require.NoError(t, err)
	assert.Equal(t, "1500000", got.String())

	_, err = tracker.GetAllowance(ctx, "bob", usdc)
	assert.Error(t, err)
}

func TestGetAllowanceRetriesUnavailable(t *testing.T) {
	reader := &flakyReader{failures: 2, err: chain.ErrChainUnavailable, amount: big.NewInt(5)}
	tracker := NewTracker(reader, spender, fastRetry())

	got, err := tracker.GetAllowance(context.Background(), payer, usdc)
	require.NoError(t, err)
	assert.Equal(t, "5", got.String())
	assert.Equal(t, int32(3), reader.calls.Load())
}

func TestGetAllowanceGivesUp(t *testing.T) {
	reader := &flakyReader{failures: 100, err: chain.ErrChainUnavailable}
	tracker := NewTracker(reader, spender, fastRetry())

	_, err := tracker.GetAllowance(context.Background(), payer, usdc)
	assert.ErrorIs(t, err, chain.ErrChainUnavailable)
	assert.Equal(t, int32(4), reader.calls.Load(), "one try plus three retries")
}

func TestGetAllowanceDoesNotRetryOtherErrors(t *testing.T) {
	boom := errors.New("abi decode")
	reader := &flakyReader{failures: 100, err: boom}
	tracker := NewTracker(reader, spender, fastRetry())

	_, err := tracker.GetAllowance(context.Background(), payer, usdc)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, int32(1), reader.calls.Load())
}

func TestIsSufficient(t *testing.T) {
	assert.True(t, IsSufficient(big.NewInt(200), big.NewInt(200)))
	assert.True(t, IsSufficient(calculator.MaxUint256, big.NewInt(1)))
	assert.False(t, IsSufficient(big.NewInt(199), big.NewInt(200)))
	assert.False(t, IsSufficient(nil, big.NewInt(1)))

	assert.True(t, IsUnlimited(calculator.MaxUint256))
	assert.False(t, IsUnlimited(big.NewInt(1)))
}

func TestRequirements(t *testing.T) {
	split := testSplit()

	reqs, err := Requirements(split, chain.PayerToParticipants)
	require.NoError(t, err)
	require.Len(t, reqs, 1)
	assert.Equal(t, payer, reqs[0].Owner)
	assert.Equal(t, "200", reqs[0].Amount.String())

	reqs, err = Requirements(split, chain.ParticipantsToPayer)
	require.NoError(t, err)
	require.Len(t, reqs, 2)
	assert.Equal(t, alice, reqs[0].Owner)
	assert.Equal(t, "100", reqs[1].Amount.String())
}

func TestCheck(t *testing.T) {
	ctx := context.Background()
	node := mock.NewChain(534352, spender)
	tracker := NewTracker(node, spender, fastRetry())
	split := testSplit()

	err := tracker.Check(ctx, split, chain.PayerToParticipants)
	require.ErrorIs(t, err, ErrInsufficientAllowance)
	var short *InsufficientError
	require.True(t, errors.As(err, &short))
	assert.Equal(t, payer, short.Owner)
	assert.Equal(t, "200", short.Required.String())

	node.SetAllowance(common.HexToAddress(usdc), common.HexToAddress(payer), spender, big.NewInt(200))
	assert.NoError(t, tracker.Check(ctx, split, chain.PayerToParticipants))
}
