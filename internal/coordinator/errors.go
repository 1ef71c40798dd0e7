package coordinator

import (
	"errors"
	"fmt"
	"strings"

	"github.com/AccountantBot/coordinator/internal/intent"
	"github.com/AccountantBot/coordinator/internal/settlement"
)

var (
	ErrInvalidSplit = errors.New("invalid split")
	ErrUnknownSplit = errors.New("unknown split")

	// Shared with the packages that detect them first.
	ErrNotAParticipant = intent.ErrNotAParticipant
	ErrNotApproved     = settlement.ErrNotApproved
	ErrAlreadySettled  = settlement.ErrAlreadySettled
)

// Error carries the context a caller needs to render an actionable message.
type Error struct {
	Op          string
	SplitID     string
	Participant string
	Err         error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	if e.SplitID != "" {
		fmt.Fprintf(&b, " split %s", e.SplitID)
	}
	if e.Participant != "" {
		fmt.Fprintf(&b, " participant %s", e.Participant)
	}
	b.WriteString(": ")
	b.WriteString(e.Err.Error())
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

func opError(op, splitID, participant string, err error) error {
	if err == nil {
		return nil
	}
	var ce *Error
	if errors.As(err, &ce) {
		return err
	}
	return &Error{Op: op, SplitID: splitID, Participant: participant, Err: err}
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidSplit, fmt.Sprintf(format, args...))
}
