package models

import (
	"fmt"
	"math/big"
	"strings"
)

// Status is the lifecycle state of a split. Transitions only move forward:
// pending -> approved -> settled.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusSettled  Status = "settled"
)

// ParseStatus converts a boundary string into a Status, rejecting anything
// outside the three known states.
func ParseStatus(s string) (Status, error) {
	switch Status(strings.ToLower(strings.TrimSpace(s))) {
	case StatusPending:
		return StatusPending, nil
	case StatusApproved:
		return StatusApproved, nil
	case StatusSettled:
		return StatusSettled, nil
	}
	return "", fmt.Errorf("unknown split status %q", s)
}

// rank orders statuses for monotonicity checks.
func (s Status) rank() int {
	switch s {
	case StatusPending:
		return 1
	case StatusApproved:
		return 2
	case StatusSettled:
		return 3
	}
	return 0
}

// Valid reports whether s is one of the known states.
func (s Status) Valid() bool {
	return s.rank() > 0
}

// CanTransitionTo reports whether moving from s to next is a forward step.
func (s Status) CanTransitionTo(next Status) bool {
	return s.Valid() && next.Valid() && next.rank() == s.rank()+1
}

// AddressKey normalizes an address for use as a map or database key.
func AddressKey(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}

// Split is a group expense: the payer advanced the funds and each item is
// what one participant owes. Items and amounts are fixed at creation.
type Split struct {
	// ID is the unique identifier for the split (UUID format).
	ID string

	// ChainID is the chain the token and the settlement contract live on.
	ChainID uint64

	// TokenAddress is the ERC-20 contract the split is denominated in.
	TokenAddress string

	// PayerAddress is the wallet that advanced the funds.
	PayerAddress string

	// Description is the human-readable purpose (e.g., "Sushi dinner").
	Description string

	// Items holds one share per participant, in creation order.
	Items []SplitItem

	// Status is the lifecycle state.
	Status Status

	// Approvals is keyed by AddressKey(participant). First valid signature wins.
	Approvals map[string]Approval

	// RequiredApprovals is the threshold of approvals needed before settlement.
	RequiredApprovals int

	// Nonce is a random value bound into every approval intent for this split.
	Nonce uint64

	// TxHash is the settlement transaction. Set if and only if Status is settled.
	TxHash string

	// CreatedAt is the Unix timestamp when the split was created.
	CreatedAt int64

	// UpdatedAt is the Unix timestamp of the last approval or status change.
	UpdatedAt int64
}

// SplitItem is one participant's share of a split.
type SplitItem struct {
	// Participant is the participant's wallet address.
	Participant string

	// Amount is the owed amount in the token's smallest unit.
	Amount *big.Int
}

// Approval is a participant's accepted authorization.
type Approval struct {
	Participant string
	Signature   string
	ApprovedAt  int64
}

// Item returns the item belonging to participant, matching case-insensitively.
func (s *Split) Item(participant string) (SplitItem, bool) {
	key := AddressKey(participant)
	for _, item := range s.Items {
		if AddressKey(item.Participant) == key {
			return item, true
		}
	}
	return SplitItem{}, false
}

// HasApproved reports whether participant already has a recorded approval.
func (s *Split) HasApproved(participant string) bool {
	_, ok := s.Approvals[AddressKey(participant)]
	return ok
}

// ApprovalCount returns the number of distinct participants who approved.
func (s *Split) ApprovalCount() int {
	return len(s.Approvals)
}

// Participants returns the participant addresses in item order.
func (s *Split) Participants() []string {
	out := make([]string, len(s.Items))
	for i, item := range s.Items {
		out[i] = item.Participant
	}
	return out
}

// Involves reports whether address is the payer or one of the participants.
func (s *Split) Involves(address string) bool {
	if AddressKey(s.PayerAddress) == AddressKey(address) {
		return true
	}
	_, ok := s.Item(address)
	return ok
}
