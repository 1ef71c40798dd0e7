package service

import (
	"context"
	"errors"

	"connectrpc.com/connect"

	"github.com/AccountantBot/coordinator/internal/allowance"
	"github.com/AccountantBot/coordinator/internal/auth"
	"github.com/AccountantBot/coordinator/internal/calculator"
	"github.com/AccountantBot/coordinator/internal/chain"
	"github.com/AccountantBot/coordinator/internal/coordinator"
	"github.com/AccountantBot/coordinator/internal/intent"
	"github.com/AccountantBot/coordinator/internal/lock"
	"github.com/AccountantBot/coordinator/internal/storage"
	"github.com/AccountantBot/coordinator/internal/tokens"
)

// connectError maps domain errors to Connect codes. Order matters: a
// submission that failed for lack of allowance is reported as such.
func connectError(err error) error {
	if err == nil {
		return nil
	}
	var ce *connect.Error
	if errors.As(err, &ce) {
		return err
	}
	return connect.NewError(codeOf(err), err)
}

func codeOf(err error) connect.Code {
	switch {
	case errors.Is(err, coordinator.ErrUnknownSplit), errors.Is(err, storage.ErrNotFound):
		return connect.CodeNotFound
	case errors.Is(err, coordinator.ErrInvalidSplit),
		errors.Is(err, calculator.ErrInvalidAmount),
		errors.Is(err, tokens.ErrUnknownToken),
		errors.Is(err, intent.ErrInvalidSignature),
		errors.Is(err, intent.ErrMalformedSignature):
		return connect.CodeInvalidArgument
	case errors.Is(err, coordinator.ErrNotAParticipant):
		return connect.CodePermissionDenied
	case errors.Is(err, allowance.ErrInsufficientAllowance),
		errors.Is(err, coordinator.ErrAlreadySettled),
		errors.Is(err, coordinator.ErrNotApproved),
		errors.Is(err, chain.ErrSubmissionFailed),
		errors.Is(err, chain.ErrTransactionReverted):
		return connect.CodeFailedPrecondition
	case errors.Is(err, lock.ErrLockLost):
		return connect.CodeAborted
	case errors.Is(err, chain.ErrConfirmationTimeout), errors.Is(err, context.DeadlineExceeded):
		return connect.CodeDeadlineExceeded
	case errors.Is(err, chain.ErrChainUnavailable):
		return connect.CodeUnavailable
	case errors.Is(err, lock.ErrBusy), errors.Is(err, storage.ErrConflict):
		return connect.CodeAborted
	case errors.Is(err, context.Canceled):
		return connect.CodeCanceled
	case errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrMissingToken),
		errors.Is(err, auth.ErrUnknownNonce),
		errors.Is(err, auth.ErrSignerMismatch):
		return connect.CodeUnauthenticated
	case errors.Is(err, auth.ErrInvalidAddress), errors.Is(err, auth.ErrInvalidMessage):
		return connect.CodeInvalidArgument
	}
	return connect.CodeInternal
}
