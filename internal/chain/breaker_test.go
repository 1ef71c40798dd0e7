package chain_test

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AccountantBot/coordinator/internal/chain"
	"github.com/AccountantBot/coordinator/internal/chain/mock"
)

var (
	contract = common.HexToAddress("0x00000000000000000000000000000000000000c0")
	token    = common.HexToAddress("0x06eFdBFf2a14a7c8E15944D1F4A48F9F95F663A4")
	owner    = common.HexToAddress("0x1111111111111111111111111111111111111111")
)

func TestBreakerTripsOnUnavailable(t *testing.T) {
	ctx := context.Background()
	node := mock.NewChain(534352, contract)
	node.SetAllowance(token, owner, contract, big.NewInt(7))

	var transitions []gobreaker.State
	b := chain.NewBreakerClient(node, chain.BreakerSettings{
		ConsecutiveFailures: 2,
		OpenTimeout:         50 * time.Millisecond,
		OnStateChange: func(_, to gobreaker.State) {
			transitions = append(transitions, to)
		},
	})

	node.SetUnavailable(true)
	for i := 0; i < 2; i++ {
		_, err := b.ReadAllowance(ctx, token, owner, contract)
		assert.ErrorIs(t, err, chain.ErrChainUnavailable)
	}
	assert.Equal(t, gobreaker.StateOpen, b.State())

	// Open breaker fails fast even though the node came back.
	node.SetUnavailable(false)
	_, err := b.ReadAllowance(ctx, token, owner, contract)
	assert.ErrorIs(t, err, chain.ErrChainUnavailable)

	time.Sleep(60 * time.Millisecond)
	got, err := b.ReadAllowance(ctx, token, owner, contract)
	require.NoError(t, err)
	assert.Equal(t, "7", got.String())
	assert.Equal(t, gobreaker.StateClosed, b.State())
	assert.Equal(t, []gobreaker.State{gobreaker.StateOpen, gobreaker.StateHalfOpen, gobreaker.StateClosed}, transitions)
}

func TestBreakerIgnoresRejections(t *testing.T) {
	ctx := context.Background()
	node := mock.NewChain(534352, contract)
	b := chain.NewBreakerClient(node, chain.BreakerSettings{ConsecutiveFailures: 1})

	call := chain.SettlementCall{
		SplitKey:     common.HexToHash("0x01"),
		Token:        token,
		Payer:        owner,
		Participants: []common.Address{contract},
		Amounts:      []*big.Int{big.NewInt(1)},
	}
	for i := 0; i < 3; i++ {
		_, err := b.SendSettlement(ctx, call)
		assert.ErrorIs(t, err, chain.ErrSubmissionFailed)
	}
	assert.Equal(t, gobreaker.StateClosed, b.State())
}

func TestBreakerKeepsUnconfirmedBroadcast(t *testing.T) {
	ctx := context.Background()
	node := mock.NewChain(534352, contract)
	node.SetAllowance(token, owner, contract, big.NewInt(10))
	node.LoseNextReply()
	b := chain.NewBreakerClient(node, chain.BreakerSettings{ConsecutiveFailures: 5})

	tx, err := b.SendSettlement(ctx, chain.SettlementCall{
		SplitKey:     common.HexToHash("0x02"),
		Token:        token,
		Payer:        owner,
		Participants: []common.Address{contract},
		Amounts:      []*big.Int{big.NewInt(1)},
	})
	assert.ErrorIs(t, err, chain.ErrChainUnavailable)
	require.NotNil(t, tx)
	assert.Len(t, node.Submissions(), 1)
}

func TestParseDirection(t *testing.T) {
	tests := []struct {
		in      string
		want    chain.Direction
		wantErr bool
	}{
		{in: "", want: chain.PayerToParticipants},
		{in: "payer_to_participants", want: chain.PayerToParticipants},
		{in: "Participants_To_Payer", want: chain.ParticipantsToPayer},
		{in: "sideways", wantErr: true},
	}
	for _, tt := range tests {
		got, err := chain.ParseDirection(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}
}
