// Package intent builds the EIP-712 approval a participant signs for their
// share of a split, and verifies returned signatures against it.
//
// An intent binds the split id, token, payer, participant, the exact item
// amount recorded at creation, the description and the split's random nonce.
// The domain separator carries the protocol version, the chain id and the
// settlement contract, so a signature cannot be replayed against another
// split, chain, contract or intent format.
package intent

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/AccountantBot/coordinator/internal/models"
)

const (
	DomainName      = "AccountantBot Split"
	ProtocolVersion = "1"
	PrimaryType     = "SplitApproval"
)

var (
	ErrNotAParticipant    = errors.New("address is not a participant of the split")
	ErrInvalidSignature   = errors.New("invalid signature")
	ErrMalformedSignature = errors.New("malformed signature")
	ErrUserRejected       = errors.New("user rejected the signature request")
)

func approvalTypes() apitypes.Types {
	return apitypes.Types{
		"EIP712Domain": {
			{Name: "name", Type: "string"},
			{Name: "version", Type: "string"},
			{Name: "chainId", Type: "uint256"},
			{Name: "verifyingContract", Type: "address"},
		},
		PrimaryType: {
			{Name: "splitId", Type: "string"},
			{Name: "token", Type: "address"},
			{Name: "payer", Type: "address"},
			{Name: "participant", Type: "address"},
			{Name: "amount", Type: "uint256"},
			{Name: "description", Type: "string"},
			{Name: "nonce", Type: "uint256"},
		},
	}
}

// Builder produces intents for one chain and settlement contract.
type Builder struct {
	chainID  uint64
	contract common.Address
}

// NewBuilder creates a Builder whose domain names chainID and contract.
func NewBuilder(chainID uint64, contract common.Address) *Builder {
	return &Builder{chainID: chainID, contract: contract}
}

// ChainID returns the chain id bound into every intent.
func (b *Builder) ChainID() uint64 {
	return b.chainID
}

// Domain returns the EIP-712 domain shared by all intents of this builder.
func (b *Builder) Domain() apitypes.TypedDataDomain {
	return apitypes.TypedDataDomain{
		Name:              DomainName,
		Version:           ProtocolVersion,
		ChainId:           (*math.HexOrDecimal256)(new(big.Int).SetUint64(b.chainID)),
		VerifyingContract: b.contract.Hex(),
	}
}

// Build returns the typed data participant must sign to approve their item.
// The amount is always the one stored on the split.
func (b *Builder) Build(split *models.Split, participant string) (apitypes.TypedData, error) {
	if split.ChainID != b.chainID {
		return apitypes.TypedData{}, fmt.Errorf("split %s is on chain %d, intents are built for %d", split.ID, split.ChainID, b.chainID)
	}
	item, ok := split.Item(participant)
	if !ok {
		return apitypes.TypedData{}, fmt.Errorf("%w: %s", ErrNotAParticipant, participant)
	}
	if item.Amount == nil {
		return apitypes.TypedData{}, fmt.Errorf("split %s: item for %s has no amount", split.ID, participant)
	}

	return apitypes.TypedData{
		Types:       approvalTypes(),
		PrimaryType: PrimaryType,
		Domain:      b.Domain(),
		Message: apitypes.TypedDataMessage{
			"splitId":     split.ID,
			"token":       common.HexToAddress(split.TokenAddress).Hex(),
			"payer":       common.HexToAddress(split.PayerAddress).Hex(),
			"participant": common.HexToAddress(item.Participant).Hex(),
			"amount":      item.Amount.String(),
			"description": split.Description,
			"nonce":       strconv.FormatUint(split.Nonce, 10),
		},
	}, nil
}

// Digest returns the EIP-712 hash keccak256("\x19\x01" ‖ domainSeparator ‖ hashStruct(message)).
func Digest(td apitypes.TypedData) (common.Hash, error) {
	hash, _, err := apitypes.TypedDataAndHash(td)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to hash typed data: %w", err)
	}
	return common.BytesToHash(hash), nil
}

// Encode renders typed data as the JSON handed to eth_signTypedData_v4.
// Map keys are sorted, so identical intents encode to identical bytes.
func Encode(td apitypes.TypedData) ([]byte, error) {
	return json.Marshal(td)
}
