package ethereum

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AccountantBot/coordinator/internal/chain"
)

type jsonRPCError struct {
	code int
	msg  string
}

func (e jsonRPCError) Error() string  { return e.msg }
func (e jsonRPCError) ErrorCode() int { return e.code }

func TestClassify(t *testing.T) {
	rejected := classify(jsonRPCError{code: -32000, msg: "execution reverted: ERC20: insufficient allowance"})
	assert.ErrorIs(t, rejected, chain.ErrSubmissionFailed)
	assert.Contains(t, rejected.Error(), "insufficient allowance")

	offline := classify(errors.New("dial tcp 127.0.0.1:8545: connect: connection refused"))
	assert.ErrorIs(t, offline, chain.ErrChainUnavailable)
}

func TestBroadcastOutcome(t *testing.T) {
	hash := common.HexToHash("0xabc1")

	tx, err := broadcastOutcome(hash, nil)
	require.NoError(t, err)
	assert.Equal(t, hash, tx.Hash)

	// The node answered: nothing was broadcast.
	tx, err = broadcastOutcome(hash, jsonRPCError{code: -32000, msg: "nonce too low"})
	assert.ErrorIs(t, err, chain.ErrSubmissionFailed)
	assert.Nil(t, tx)

	// Already in the pool counts as broadcast.
	tx, err = broadcastOutcome(hash, jsonRPCError{code: -32000, msg: "already known"})
	require.NoError(t, err)
	assert.Equal(t, hash, tx.Hash)

	// No answer: the transaction may be out, keep its hash.
	tx, err = broadcastOutcome(hash, errors.New("context deadline exceeded"))
	assert.ErrorIs(t, err, chain.ErrChainUnavailable)
	require.NotNil(t, tx)
	assert.Equal(t, hash, tx.Hash)
}

func TestSettlePacking(t *testing.T) {
	key := crypto.Keccak256Hash([]byte("split-1"))
	participants := []common.Address{
		common.HexToAddress("0x2222222222222222222222222222222222222222"),
		common.HexToAddress("0x3333333333333333333333333333333333333333"),
	}
	amounts := []*big.Int{big.NewInt(100), big.NewInt(100)}

	data, err := settlement.Pack("settle", [32]byte(key),
		common.HexToAddress("0x06eFdBFf2a14a7c8E15944D1F4A48F9F95F663A4"),
		common.HexToAddress("0x1111111111111111111111111111111111111111"),
		participants, amounts, uint8(chain.ParticipantsToPayer))
	require.NoError(t, err)

	method, err := settlement.MethodById(data[:4])
	require.NoError(t, err)
	assert.Equal(t, "settle", method.Name)

	args, err := method.Inputs.Unpack(data[4:])
	require.NoError(t, err)
	require.Len(t, args, 6)
	assert.Equal(t, participants, args[3])
	assert.Equal(t, uint8(1), args[5])
}

func TestAllowancePacking(t *testing.T) {
	data, err := erc20.Pack("allowance",
		common.HexToAddress("0x1111111111111111111111111111111111111111"),
		common.HexToAddress("0x00000000000000000000000000000000000000c0"))
	require.NoError(t, err)
	// allowance(address,address) selector
	assert.Equal(t, "dd62ed3e", common.Bytes2Hex(data[:4]))
	assert.Len(t, data, 4+32*2)
}

func TestParseOperatorKey(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	hexKey := "0x" + common.Bytes2Hex(crypto.FromECDSA(key))

	parsed, err := ParseOperatorKey(hexKey)
	require.NoError(t, err)
	assert.Equal(t, crypto.PubkeyToAddress(key.PublicKey), crypto.PubkeyToAddress(parsed.PublicKey))

	_, err = ParseOperatorKey("not-a-key")
	assert.Error(t, err)
}
