package models

// AttemptOutcome is the result of one settlement submission.
type AttemptOutcome string

const (
	AttemptSubmitted AttemptOutcome = "submitted"
	AttemptConfirmed AttemptOutcome = "confirmed"
	AttemptReverted  AttemptOutcome = "reverted"
	AttemptFailed    AttemptOutcome = "failed"
	AttemptTimedOut  AttemptOutcome = "timed_out"
)

// SettlementAttempt records one try at settling a split on-chain.
// Attempts are appended and their outcome updated; they are never deleted.
type SettlementAttempt struct {
	// ID is the unique identifier for the attempt (UUID format).
	ID string

	// SplitID is the split this attempt belongs to.
	SplitID string

	// TxHash is the submitted transaction hash. Empty when submission itself failed.
	TxHash string

	// Outcome is the latest known result of the attempt.
	Outcome AttemptOutcome

	// Error holds the failure reason for failed, reverted and timed out attempts.
	Error string

	// CreatedAt is the Unix timestamp when the attempt started.
	CreatedAt int64

	// UpdatedAt is the Unix timestamp of the last outcome change.
	UpdatedAt int64
}

// Pending reports whether the attempt's transaction may still be mined.
func (a *SettlementAttempt) Pending() bool {
	return a.TxHash != "" && (a.Outcome == AttemptSubmitted || a.Outcome == AttemptTimedOut)
}
