package intent

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AccountantBot/coordinator/internal/models"
)

const chainID = 534352

var contract = common.HexToAddress("0x00000000000000000000000000000000000000c0")

func newSigner(t *testing.T) *KeySigner {
	t.Helper()
	s, err := GenerateKeySigner()
	require.NoError(t, err)
	return s
}

func testSplit(alice, bob common.Address) *models.Split {
	return &models.Split{
		ID:           "0b6f7e0e-3c1c-4b59-9a3c-4e0c0f1d2a11",
		ChainID:      chainID,
		TokenAddress: "0x06eFdBFf2a14a7c8E15944D1F4A48F9F95F663A4",
		PayerAddress: "0x1111111111111111111111111111111111111111",
		Description:  "Sushi dinner",
		Items: []models.SplitItem{
			{Participant: strings.ToLower(alice.Hex()), Amount: big.NewInt(100)},
			{Participant: bob.Hex(), Amount: big.NewInt(250)},
		},
		Status: models.StatusPending,
		Nonce:  42,
	}
}

func TestBuildIsDeterministic(t *testing.T) {
	alice, bob := newSigner(t), newSigner(t)
	b := NewBuilder(chainID, contract)
	split := testSplit(alice.Address(), bob.Address())

	first, err := b.Build(split, alice.Address().Hex())
	require.NoError(t, err)
	second, err := b.Build(split, strings.ToLower(alice.Address().Hex()))
	require.NoError(t, err)

	a, err := Encode(first)
	require.NoError(t, err)
	c, err := Encode(second)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(a, c), "identical inputs must encode identically")

	d1, err := Digest(first)
	require.NoError(t, err)
	d2, err := Digest(second)
	require.NoError(t, err)
	assert.Equal(t, d1, d2)
}

func TestBuildUsesRecordedAmount(t *testing.T) {
	alice, bob := newSigner(t), newSigner(t)
	b := NewBuilder(chainID, contract)
	split := testSplit(alice.Address(), bob.Address())

	td, err := b.Build(split, bob.Address().Hex())
	require.NoError(t, err)
	assert.Equal(t, "250", td.Message["amount"])
	assert.Equal(t, bob.Address().Hex(), td.Message["participant"])
	assert.Equal(t, "42", td.Message["nonce"])
	assert.Equal(t, DomainName, td.Domain.Name)
	assert.Equal(t, ProtocolVersion, td.Domain.Version)
}

func TestBuildRejectsOutsiders(t *testing.T) {
	alice, bob, eve := newSigner(t), newSigner(t), newSigner(t)
	b := NewBuilder(chainID, contract)
	split := testSplit(alice.Address(), bob.Address())

	_, err := b.Build(split, eve.Address().Hex())
	assert.ErrorIs(t, err, ErrNotAParticipant)

	other := NewBuilder(1, contract)
	_, err = other.Build(split, alice.Address().Hex())
	assert.Error(t, err, "chain mismatch")
}

func TestVerify(t *testing.T) {
	ctx := context.Background()
	alice, bob := newSigner(t), newSigner(t)
	b := NewBuilder(chainID, contract)
	split := testSplit(alice.Address(), bob.Address())

	td, err := b.Build(split, alice.Address().Hex())
	require.NoError(t, err)
	sig, err := alice.SignTypedData(ctx, td)
	require.NoError(t, err)

	t.Run("valid", func(t *testing.T) {
		assert.NoError(t, Verify(td, sig, strings.ToLower(alice.Address().Hex())))
	})

	t.Run("wrong signer", func(t *testing.T) {
		forged, err := bob.SignTypedData(ctx, td)
		require.NoError(t, err)
		assert.ErrorIs(t, Verify(td, forged, alice.Address().Hex()), ErrInvalidSignature)
	})

	t.Run("replayed against another split", func(t *testing.T) {
		other := testSplit(alice.Address(), bob.Address())
		other.ID = "another-split"
		otherTD, err := b.Build(other, alice.Address().Hex())
		require.NoError(t, err)
		assert.ErrorIs(t, Verify(otherTD, sig, alice.Address().Hex()), ErrInvalidSignature)
	})

	t.Run("replayed with another nonce", func(t *testing.T) {
		other := testSplit(alice.Address(), bob.Address())
		other.Nonce = 43
		otherTD, err := b.Build(other, alice.Address().Hex())
		require.NoError(t, err)
		assert.ErrorIs(t, Verify(otherTD, sig, alice.Address().Hex()), ErrInvalidSignature)
	})

	t.Run("replayed on another contract", func(t *testing.T) {
		otherTD, err := NewBuilder(chainID, common.HexToAddress("0xc1")).Build(split, alice.Address().Hex())
		require.NoError(t, err)
		assert.ErrorIs(t, Verify(otherTD, sig, alice.Address().Hex()), ErrInvalidSignature)
	})

	t.Run("recovery id 0/1 accepted", func(t *testing.T) {
		raw := hexutil.MustDecode(sig)
		raw[64] -= 27
		assert.NoError(t, Verify(td, hexutil.Encode(raw), alice.Address().Hex()))
	})
}

func TestParseSignature(t *testing.T) {
	valid := "0x" + strings.Repeat("11", 32) + strings.Repeat("22", 32) + "1b"

	tests := []struct {
		name string
		sig  string
	}{
		{name: "empty", sig: ""},
		{name: "not hex", sig: "0xzz"},
		{name: "too short", sig: "0x" + strings.Repeat("ab", 64)},
		{name: "too long", sig: valid + "00"},
		{name: "bad recovery id", sig: valid[:len(valid)-2] + "05"},
		{name: "zero r", sig: "0x" + strings.Repeat("00", 32) + strings.Repeat("22", 32) + "1b"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseSignature(tt.sig)
			assert.True(t, errors.Is(err, ErrMalformedSignature), "got %v", err)
		})
	}

	sig, err := ParseSignature(valid)
	require.NoError(t, err)
	assert.Equal(t, byte(0), sig[64])
}

func TestSignText(t *testing.T) {
	ctx := context.Background()
	alice := newSigner(t)

	sig, err := alice.SignText(ctx, []byte("hello"))
	require.NoError(t, err)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = alice.SignText(cancelled, []byte("hello"))
	assert.ErrorIs(t, err, ErrUserRejected)
	assert.NotEmpty(t, sig)
}
