package calculator

import (
	"fmt"
	"math/big"

	"github.com/AccountantBot/coordinator/internal/models"
)

// EqualSplit is the result of dividing a total among participants.
type EqualSplit struct {
	// PerParticipant is total / count, rounded down.
	PerParticipant *big.Int

	// Remainder is total mod count. It is never dropped silently.
	Remainder *big.Int
}

// SplitEqually integer-divides total by participantCount and reports the
// remainder in the token's smallest unit.
func SplitEqually(total *big.Int, participantCount int) (EqualSplit, error) {
	if total == nil || total.Sign() < 0 {
		return EqualSplit{}, fmt.Errorf("%w: total must be non-negative", ErrInvalidAmount)
	}
	if participantCount <= 0 {
		return EqualSplit{}, fmt.Errorf("%w: participant count must be positive, got %d", ErrInvalidAmount, participantCount)
	}

	per, rem := new(big.Int).QuoRem(total, big.NewInt(int64(participantCount)), new(big.Int))
	return EqualSplit{PerParticipant: per, Remainder: rem}, nil
}

// DistributeEqually builds one item per participant whose amounts add up to
// exactly total. The remainder is handed out one unit at a time, starting
// with the first participant.
func DistributeEqually(total *big.Int, participants []string) ([]models.SplitItem, EqualSplit, error) {
	eq, err := SplitEqually(total, len(participants))
	if err != nil {
		return nil, EqualSplit{}, err
	}

	extra := int(eq.Remainder.Int64()) // remainder < len(participants)
	items := make([]models.SplitItem, len(participants))
	for i, p := range participants {
		amount := new(big.Int).Set(eq.PerParticipant)
		if i < extra {
			amount.Add(amount, big.NewInt(1))
		}
		items[i] = models.SplitItem{Participant: p, Amount: amount}
	}
	return items, eq, nil
}
