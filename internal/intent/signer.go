package intent

import (
	"context"
	"crypto/ecdsa"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// Signer is a wallet able to sign on behalf of one address. Signing is user
// initiated and may be declined, in which case ErrUserRejected is returned.
type Signer interface {
	Address() common.Address
	SignTypedData(ctx context.Context, td apitypes.TypedData) (string, error)
	SignText(ctx context.Context, text []byte) (string, error)
}

// KeySigner signs with an in-process private key, the way a browser wallet
// would: 65-byte signatures with V in {27, 28}, hex encoded.
type KeySigner struct {
	key  *ecdsa.PrivateKey
	addr common.Address
}

var _ Signer = (*KeySigner)(nil)

// NewKeySigner wraps key.
func NewKeySigner(key *ecdsa.PrivateKey) *KeySigner {
	return &KeySigner{key: key, addr: crypto.PubkeyToAddress(key.PublicKey)}
}

// GenerateKeySigner creates a signer with a fresh random key.
func GenerateKeySigner() (*KeySigner, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	return NewKeySigner(key), nil
}

func (s *KeySigner) Address() common.Address {
	return s.addr
}

// SignTypedData signs the EIP-712 digest of td.
func (s *KeySigner) SignTypedData(ctx context.Context, td apitypes.TypedData) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrUserRejected, err)
	}
	digest, err := Digest(td)
	if err != nil {
		return "", err
	}
	return s.sign(digest.Bytes())
}

// SignText signs text with the personal_sign prefix.
func (s *KeySigner) SignText(ctx context.Context, text []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrUserRejected, err)
	}
	return s.sign(accounts.TextHash(text))
}

func (s *KeySigner) sign(hash []byte) (string, error) {
	sig, err := crypto.Sign(hash, s.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign: %w", err)
	}
	sig[crypto.RecoveryIDOffset] += 27
	return hexutil.Encode(sig), nil
}
