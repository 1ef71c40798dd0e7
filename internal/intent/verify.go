package intent

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// ParseSignature decodes a 65-byte [R || S || V] signature from hex. Wallets
// return V as 27/28; the result always carries the 0/1 recovery id.
func ParseSignature(sigHex string) ([]byte, error) {
	raw := strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(sigHex), "0x"), "0X")
	sig, err := hex.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: not hex: %v", ErrMalformedSignature, err)
	}
	if len(sig) != crypto.SignatureLength {
		return nil, fmt.Errorf("%w: expected %d bytes, got %d", ErrMalformedSignature, crypto.SignatureLength, len(sig))
	}

	v := sig[crypto.RecoveryIDOffset]
	if v >= 27 {
		v -= 27
	}
	r := new(big.Int).SetBytes(sig[:32])
	s := new(big.Int).SetBytes(sig[32:64])
	if !crypto.ValidateSignatureValues(v, r, s, true) {
		return nil, fmt.Errorf("%w: invalid r, s or recovery id", ErrMalformedSignature)
	}
	sig[crypto.RecoveryIDOffset] = v
	return sig, nil
}

// RecoverHash returns the address that produced sig over hash.
func RecoverHash(hash []byte, sigHex string) (common.Address, error) {
	sig, err := ParseSignature(sigHex)
	if err != nil {
		return common.Address{}, err
	}
	pub, err := crypto.SigToPub(hash, sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrMalformedSignature, err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// Recover returns the address that signed td.
func Recover(td apitypes.TypedData, sigHex string) (common.Address, error) {
	digest, err := Digest(td)
	if err != nil {
		return common.Address{}, err
	}
	return RecoverHash(digest.Bytes(), sigHex)
}

// Verify checks that sigHex over td was produced by expectedSigner.
func Verify(td apitypes.TypedData, sigHex, expectedSigner string) error {
	if !common.IsHexAddress(expectedSigner) {
		return fmt.Errorf("%w: expected signer %q is not an address", ErrInvalidSignature, expectedSigner)
	}
	got, err := Recover(td, sigHex)
	if err != nil {
		return err
	}
	if got != common.HexToAddress(expectedSigner) {
		return fmt.Errorf("%w: signed by %s, expected %s", ErrInvalidSignature, got.Hex(), common.HexToAddress(expectedSigner).Hex())
	}
	return nil
}
