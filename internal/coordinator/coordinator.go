// Package coordinator owns the split lifecycle: creation, per-participant
// approvals, the approval threshold and the settlement trigger. It is the only
// component that changes a split.
package coordinator

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/AccountantBot/coordinator/internal/allowance"
	"github.com/AccountantBot/coordinator/internal/calculator"
	"github.com/AccountantBot/coordinator/internal/chain"
	"github.com/AccountantBot/coordinator/internal/intent"
	"github.com/AccountantBot/coordinator/internal/lock"
	"github.com/AccountantBot/coordinator/internal/metrics"
	"github.com/AccountantBot/coordinator/internal/models"
	"github.com/AccountantBot/coordinator/internal/settlement"
	"github.com/AccountantBot/coordinator/internal/storage"
	"github.com/AccountantBot/coordinator/internal/tokens"
)

// Deps are the collaborators a Coordinator drives. Metrics may be nil.
type Deps struct {
	Store      storage.Store
	Tokens     *tokens.Registry
	Intents    *intent.Builder
	Allowances *allowance.Tracker
	Executor   *settlement.Executor
	Locker     lock.Locker
	Metrics    *metrics.Metrics
}

// Options tune policy.
type Options struct {
	// DefaultThreshold is used when a split does not set RequiredApprovals.
	// Zero means every participant must approve. It is capped at the
	// number of items.
	DefaultThreshold int

	// Now overrides the clock in tests.
	Now func() time.Time
}

type Coordinator struct {
	store      storage.Store
	tokens     *tokens.Registry
	intents    *intent.Builder
	allowances *allowance.Tracker
	executor   *settlement.Executor
	locker     lock.Locker
	metrics    *metrics.Metrics
	opts       Options
}

// New wires a Coordinator. The token registry and the intent builder must
// agree on the chain.
func New(deps Deps, opts Options) (*Coordinator, error) {
	if deps.Store == nil || deps.Tokens == nil || deps.Intents == nil ||
		deps.Allowances == nil || deps.Executor == nil || deps.Locker == nil {
		return nil, errors.New("coordinator: missing dependency")
	}
	if deps.Tokens.ChainID() != deps.Intents.ChainID() {
		return nil, fmt.Errorf("coordinator: token registry is for chain %d, intents for chain %d",
			deps.Tokens.ChainID(), deps.Intents.ChainID())
	}
	if opts.DefaultThreshold < 0 {
		return nil, fmt.Errorf("coordinator: negative default threshold %d", opts.DefaultThreshold)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Coordinator{
		store:      deps.Store,
		tokens:     deps.Tokens,
		intents:    deps.Intents,
		allowances: deps.Allowances,
		executor:   deps.Executor,
		locker:     deps.Locker,
		metrics:    deps.Metrics,
		opts:       opts,
	}, nil
}

// CreateSplitParams describe a new split. PayerAddress defaults to the caller.
type CreateSplitParams struct {
	TokenAddress      string
	PayerAddress      string
	Description       string
	Items             []models.SplitItem
	RequiredApprovals int
}

// CreateSplit validates params and persists a pending split. When caller is
// set it must be the payer.
func (c *Coordinator) CreateSplit(ctx context.Context, caller string, params CreateSplitParams) (*models.Split, error) {
	split, err := c.newSplit(caller, params)
	if err != nil {
		return nil, opError("create split", "", "", err)
	}
	if err := c.store.CreateSplit(ctx, split); err != nil {
		return nil, opError("create split", split.ID, "", fmt.Errorf("failed to save split: %w", err))
	}

	c.metrics.SplitCreated()
	slog.Info("Split created",
		"split_id", split.ID,
		"payer", split.PayerAddress,
		"token", split.TokenAddress,
		"participants", len(split.Items),
		"required_approvals", split.RequiredApprovals,
	)
	return split, nil
}

func (c *Coordinator) newSplit(caller string, params CreateSplitParams) (*models.Split, error) {
	payer := strings.TrimSpace(params.PayerAddress)
	if payer == "" {
		payer = caller
	}
	if !common.IsHexAddress(payer) {
		return nil, invalid("payer %q is not an address", payer)
	}
	if caller != "" && models.AddressKey(caller) != models.AddressKey(payer) {
		return nil, invalid("only the payer can create a split")
	}

	token, err := c.tokens.Lookup(params.TokenAddress)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSplit, err)
	}

	description := strings.TrimSpace(params.Description)
	if description == "" {
		return nil, invalid("description is required")
	}

	if len(params.Items) == 0 {
		return nil, invalid("at least one participant is required")
	}
	items := make([]models.SplitItem, len(params.Items))
	seen := make(map[string]bool, len(params.Items))
	for i, item := range params.Items {
		if !common.IsHexAddress(item.Participant) {
			return nil, invalid("participant %q is not an address", item.Participant)
		}
		key := models.AddressKey(item.Participant)
		if seen[key] {
			return nil, invalid("participant %s appears twice", item.Participant)
		}
		if key == models.AddressKey(payer) {
			return nil, invalid("payer %s cannot owe a share to themselves", payer)
		}
		seen[key] = true
		if item.Amount == nil || item.Amount.Sign() <= 0 {
			return nil, fmt.Errorf("%w: %w: amount for %s must be positive", ErrInvalidSplit, calculator.ErrInvalidAmount, item.Participant)
		}
		if item.Amount.Cmp(calculator.MaxUint256) > 0 {
			return nil, fmt.Errorf("%w: %w: amount for %s exceeds uint256", ErrInvalidSplit, calculator.ErrInvalidAmount, item.Participant)
		}
		items[i] = models.SplitItem{
			Participant: common.HexToAddress(item.Participant).Hex(),
			Amount:      new(big.Int).Set(item.Amount),
		}
	}
	// One allowance has to cover the whole split when the payer settles it.
	total, err := calculator.Sum(items)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSplit, err)
	}
	if total.Cmp(calculator.MaxUint256) > 0 {
		return nil, fmt.Errorf("%w: %w: total %s exceeds uint256", ErrInvalidSplit, calculator.ErrInvalidAmount, total)
	}

	threshold, err := c.threshold(params.RequiredApprovals, len(items))
	if err != nil {
		return nil, err
	}

	nonce, err := randomNonce()
	if err != nil {
		return nil, err
	}

	now := c.opts.Now().Unix()
	return &models.Split{
		ChainID:           c.tokens.ChainID(),
		TokenAddress:      token.Address,
		PayerAddress:      common.HexToAddress(payer).Hex(),
		Description:       description,
		Items:             items,
		Status:            models.StatusPending,
		Approvals:         make(map[string]models.Approval),
		RequiredApprovals: threshold,
		Nonce:             nonce,
		CreatedAt:         now,
		UpdatedAt:         now,
	}, nil
}

func (c *Coordinator) threshold(requested, items int) (int, error) {
	// Pulling from participants needs every participant's signed consent.
	if c.executor.Direction() == chain.ParticipantsToPayer {
		if requested != 0 && requested != items {
			return 0, invalid("settling from participants requires all %d approvals, got %d", items, requested)
		}
		return items, nil
	}
	if requested == 0 {
		if d := c.opts.DefaultThreshold; d > 0 && d < items {
			return d, nil
		}
		return items, nil
	}
	if requested < 1 || requested > items {
		return 0, invalid("required approvals %d must be between 1 and %d", requested, items)
	}
	return requested, nil
}

func randomNonce() (uint64, error) {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return binary.BigEndian.Uint64(b[:]), nil
}

// GetSplit returns the split or ErrUnknownSplit.
func (c *Coordinator) GetSplit(ctx context.Context, splitID string) (*models.Split, error) {
	split, err := c.loadSplit(ctx, splitID)
	if err != nil {
		return nil, opError("get split", splitID, "", err)
	}
	return split, nil
}

// ListSplits returns the splits matching filter, newest first.
func (c *Coordinator) ListSplits(ctx context.Context, filter storage.SplitFilter) ([]*models.Split, error) {
	splits, err := c.store.ListSplits(ctx, filter)
	if err != nil {
		return nil, opError("list splits", "", "", fmt.Errorf("failed to list splits: %w", err))
	}
	return splits, nil
}

// SettlementAttempts returns a split's settlement history, oldest first.
func (c *Coordinator) SettlementAttempts(ctx context.Context, splitID string) ([]*models.SettlementAttempt, error) {
	if _, err := c.loadSplit(ctx, splitID); err != nil {
		return nil, opError("list settlement attempts", splitID, "", err)
	}
	attempts, err := c.store.ListSettlementAttempts(ctx, splitID)
	if err != nil {
		return nil, opError("list settlement attempts", splitID, "", err)
	}
	return attempts, nil
}

// CalculateEqualSplit divides total among participants. The remainder is
// reported and handed out one unit at a time from the first participant.
func (c *Coordinator) CalculateEqualSplit(total *big.Int, participants []string) ([]models.SplitItem, calculator.EqualSplit, error) {
	items, eq, err := calculator.DistributeEqually(total, participants)
	if err != nil {
		return nil, calculator.EqualSplit{}, opError("calculate equal split", "", "", err)
	}
	return items, eq, nil
}

// ApprovalIntent returns the typed data participant must sign.
func (c *Coordinator) ApprovalIntent(ctx context.Context, splitID, participant string) (apitypes.TypedData, error) {
	split, err := c.openSplit(ctx, splitID)
	if err != nil {
		return apitypes.TypedData{}, opError("approval intent", splitID, participant, err)
	}
	td, err := c.intents.Build(split, participant)
	if err != nil {
		return apitypes.TypedData{}, opError("approval intent", splitID, participant, err)
	}
	return td, nil
}

// SubmitApproval verifies participant's signature over their intent and
// records it. The first valid signature wins; later ones are accepted as
// no-ops. Reaching the threshold moves the split to approved.
func (c *Coordinator) SubmitApproval(ctx context.Context, splitID, participant, signature string) (*models.Split, error) {
	var result *models.Split
	err := lock.WithLock(ctx, c.locker, lockKey(splitID), func(ctx context.Context) error {
		split, err := c.openSplit(ctx, splitID)
		if err != nil {
			return err
		}

		td, err := c.intents.Build(split, participant)
		if err != nil {
			c.metrics.Approval(metrics.ApprovalRejected)
			return err
		}
		if err := intent.Verify(td, signature, participant); err != nil {
			c.metrics.Approval(metrics.ApprovalRejected)
			return err
		}

		if split.HasApproved(participant) {
			c.metrics.Approval(metrics.ApprovalDuplicate)
			slog.Debug("Approval already recorded", "split_id", splitID, "participant", participant)
			result = split
			return nil
		}

		item, _ := split.Item(participant)
		now := c.opts.Now().Unix()
		approval := models.Approval{
			Participant: item.Participant,
			Signature:   normalizeSignature(signature),
			ApprovedAt:  now,
		}
		status := split.Status
		if status == models.StatusPending && split.ApprovalCount()+1 >= split.RequiredApprovals {
			status = models.StatusApproved
		}

		if err := c.store.AddApproval(ctx, splitID, approval, status, now); err != nil {
			return fmt.Errorf("failed to record approval: %w", err)
		}

		split.Approvals[models.AddressKey(item.Participant)] = approval
		split.Status = status
		split.UpdatedAt = now
		result = split

		c.metrics.Approval(metrics.ApprovalAccepted)
		slog.Info("Approval recorded",
			"split_id", splitID,
			"participant", item.Participant,
			"approvals", split.ApprovalCount(),
			"required", split.RequiredApprovals,
			"status", status,
		)
		return nil
	})
	if err != nil {
		return nil, opError("submit approval", splitID, participant, err)
	}
	return result, nil
}

// TriggerSettlement settles an approved split on-chain and waits for the
// confirmation. At most one settlement per split is in flight: triggers are
// serialized on the split's lock, which is held until the outcome is known.
//
// A previous attempt whose transaction may still be mined is resumed instead
// of submitting a new one.
func (c *Coordinator) TriggerSettlement(ctx context.Context, splitID string) (*models.Split, error) {
	var result *models.Split
	err := lock.WithLock(ctx, c.locker, lockKey(splitID), func(ctx context.Context) error {
		split, err := c.loadSplit(ctx, splitID)
		if err != nil {
			return err
		}
		switch split.Status {
		case models.StatusSettled:
			c.metrics.Settlement(metrics.SettlementAlreadySettled)
			return fmt.Errorf("%w with transaction %s", ErrAlreadySettled, split.TxHash)
		case models.StatusPending:
			return fmt.Errorf("%w: %d of %d approvals", ErrNotApproved, split.ApprovalCount(), split.RequiredApprovals)
		}

		settled, resumed, err := c.resumePending(ctx, split)
		if err != nil {
			return err
		}
		if resumed {
			result = settled
			return nil
		}

		if err := c.allowances.Check(ctx, split, c.executor.Direction()); err != nil {
			if errors.Is(err, allowance.ErrInsufficientAllowance) {
				c.metrics.Settlement(metrics.SettlementInsufficientAllowance)
				err = fmt.Errorf("%w: %w", chain.ErrSubmissionFailed, err)
				c.recordFailedAttempt(ctx, split.ID, err)
			}
			return err
		}

		tx, sendErr := c.executor.Submit(ctx, split)
		if sendErr != nil && tx == nil {
			c.metrics.Settlement(metrics.SettlementFailed)
			c.recordFailedAttempt(ctx, split.ID, sendErr)
			return sendErr
		}

		attempt := &models.SettlementAttempt{
			SplitID:   split.ID,
			TxHash:    tx.Hash.Hex(),
			Outcome:   models.AttemptSubmitted,
			CreatedAt: tx.SubmittedAt.Unix(),
		}
		if sendErr != nil {
			attempt.Error = sendErr.Error()
		}
		if err := c.store.CreateSettlementAttempt(context.WithoutCancel(ctx), attempt); err != nil {
			// The transaction may already be out; keep tracking it regardless.
			slog.Error("Failed to record settlement attempt", "split_id", split.ID, "tx_hash", attempt.TxHash, "error", err)
		}
		if sendErr != nil {
			// Broadcast outcome unknown: the next trigger resumes this hash.
			slog.Warn("Settlement broadcast unconfirmed", "split_id", split.ID, "tx_hash", attempt.TxHash, "error", sendErr)
			return sendErr
		}

		result, err = c.confirm(ctx, split, attempt, tx)
		return err
	})
	if err != nil {
		return nil, opError("trigger settlement", splitID, "", err)
	}
	return result, nil
}

// resumePending waits for the latest attempt whose transaction may still be
// mined. resumed is false when there is none or it reverted.
func (c *Coordinator) resumePending(ctx context.Context, split *models.Split) (*models.Split, bool, error) {
	attempts, err := c.store.ListSettlementAttempts(ctx, split.ID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to load settlement attempts: %w", err)
	}
	if len(attempts) == 0 {
		return nil, false, nil
	}
	last := attempts[len(attempts)-1]
	if !last.Pending() {
		return nil, false, nil
	}

	slog.Info("Resuming pending settlement", "split_id", split.ID, "tx_hash", last.TxHash, "outcome", last.Outcome)
	tx := &chain.PendingTx{Hash: common.HexToHash(last.TxHash), SubmittedAt: time.Unix(last.CreatedAt, 0)}
	settled, err := c.confirm(ctx, split, last, tx)
	switch {
	case err == nil:
		return settled, true, nil
	case errors.Is(err, chain.ErrTransactionReverted):
		return nil, false, nil
	}
	return nil, false, err
}

// confirm waits for tx and records the outcome on the attempt, and on the
// split once confirmed. Outcomes are written even if ctx was cancelled.
func (c *Coordinator) confirm(ctx context.Context, split *models.Split, attempt *models.SettlementAttempt, tx *chain.PendingTx) (*models.Split, error) {
	hash, waitErr := c.executor.AwaitConfirmation(ctx, tx)
	writeCtx := context.WithoutCancel(ctx)
	now := c.opts.Now().Unix()

	switch {
	case waitErr == nil:
		if err := c.store.MarkSettled(writeCtx, split.ID, hash.Hex(), now); err != nil {
			return nil, fmt.Errorf("settlement %s confirmed but failed to mark split settled: %w", hash.Hex(), err)
		}
		c.updateAttempt(writeCtx, attempt, models.AttemptConfirmed, nil)
		c.metrics.SettlementConfirmedAfter(c.opts.Now().Sub(tx.SubmittedAt))

		split.Status = models.StatusSettled
		split.TxHash = hash.Hex()
		split.UpdatedAt = now
		slog.Info("Split settled", "split_id", split.ID, "tx_hash", split.TxHash)
		return split, nil

	case errors.Is(waitErr, chain.ErrTransactionReverted):
		c.metrics.Settlement(metrics.SettlementReverted)
		c.updateAttempt(writeCtx, attempt, models.AttemptReverted, waitErr)
	case errors.Is(waitErr, chain.ErrConfirmationTimeout):
		c.metrics.Settlement(metrics.SettlementTimedOut)
		c.updateAttempt(writeCtx, attempt, models.AttemptTimedOut, waitErr)
	default:
		slog.Warn("Stopped waiting for settlement", "split_id", split.ID, "tx_hash", tx.Hash.Hex(), "error", waitErr)
	}
	return nil, waitErr
}

func (c *Coordinator) updateAttempt(ctx context.Context, attempt *models.SettlementAttempt, outcome models.AttemptOutcome, cause error) {
	attempt.Outcome = outcome
	attempt.Error = ""
	if cause != nil {
		attempt.Error = cause.Error()
	}
	attempt.UpdatedAt = c.opts.Now().Unix()
	if attempt.ID == "" {
		return
	}
	if err := c.store.UpdateSettlementAttempt(ctx, attempt); err != nil {
		slog.Error("Failed to update settlement attempt", "split_id", attempt.SplitID, "attempt_id", attempt.ID, "error", err)
	}
}

func (c *Coordinator) recordFailedAttempt(ctx context.Context, splitID string, cause error) {
	attempt := &models.SettlementAttempt{
		SplitID:   splitID,
		Outcome:   models.AttemptFailed,
		Error:     cause.Error(),
		CreatedAt: c.opts.Now().Unix(),
	}
	if err := c.store.CreateSettlementAttempt(context.WithoutCancel(ctx), attempt); err != nil {
		slog.Error("Failed to record settlement attempt", "split_id", splitID, "error", err)
	}
	slog.Warn("Settlement not submitted", "split_id", splitID, "error", cause)
}

func (c *Coordinator) loadSplit(ctx context.Context, splitID string) (*models.Split, error) {
	split, err := c.store.GetSplit(ctx, splitID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSplit, splitID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load split: %w", err)
	}
	if split.Approvals == nil {
		split.Approvals = make(map[string]models.Approval)
	}
	return split, nil
}

// openSplit loads a split that still accepts approvals.
func (c *Coordinator) openSplit(ctx context.Context, splitID string) (*models.Split, error) {
	split, err := c.loadSplit(ctx, splitID)
	if err != nil {
		return nil, err
	}
	if split.Status == models.StatusSettled {
		return nil, fmt.Errorf("%w: %s is settled and no longer accepts approvals", ErrUnknownSplit, splitID)
	}
	return split, nil
}

func normalizeSignature(sig string) string {
	sig = strings.ToLower(strings.TrimSpace(sig))
	if !strings.HasPrefix(sig, "0x") {
		sig = "0x" + sig
	}
	return sig
}

func lockKey(splitID string) string {
	return "split:" + splitID
}
