// Package storetest holds behavior tests shared by every storage.Store backend.
package storetest

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/AccountantBot/coordinator/internal/models"
	"github.com/AccountantBot/coordinator/internal/storage"
)

const (
	Token = "0x06eFdBFf2a14a7c8E15944D1F4A48F9F95F663A4"
	Payer = "0x1111111111111111111111111111111111111111"
	Alice = "0x2222222222222222222222222222222222222222"
	Bob   = "0x3333333333333333333333333333333333333333"
	Carol = "0x4444444444444444444444444444444444444444"
)

// NewSplit returns an unsaved pending split paid by payer.
func NewSplit(payer string, amounts map[string]int64, order ...string) *models.Split {
	split := &models.Split{
		ChainID:      534352,
		TokenAddress: Token,
		PayerAddress: payer,
		Description:  "Sushi dinner",
		Status:       models.StatusPending,
		Approvals:    map[string]models.Approval{},
		Nonce:        1<<63 + 5, // above int64 on purpose
	}
	for _, p := range order {
		split.Items = append(split.Items, models.SplitItem{Participant: p, Amount: big.NewInt(amounts[p])})
	}
	split.RequiredApprovals = len(split.Items)
	return split
}

// Run exercises a fresh, empty store.
func Run(t *testing.T, store storage.Store) {
	ctx := context.Background()

	t.Run("CreateSplit assigns ID and timestamps", func(t *testing.T) {
		split := NewSplit(Payer, map[string]int64{Alice: 100, Bob: 100}, Alice, Bob)
		if err := store.CreateSplit(ctx, split); err != nil {
			t.Fatalf("CreateSplit failed: %v", err)
		}
		if split.ID == "" {
			t.Error("Expected split ID to be generated")
		}
		if split.CreatedAt == 0 || split.UpdatedAt == 0 {
			t.Error("Expected timestamps to be set")
		}
	})

	t.Run("GetSplit round trips the split", func(t *testing.T) {
		huge, _ := new(big.Int).SetString("115792089237316195423570985008687907853269984665640564039457584007913129639935", 10)
		original := NewSplit(Payer, map[string]int64{Alice: 1}, Alice, Bob)
		original.Items[1].Amount = huge

		if err := store.CreateSplit(ctx, original); err != nil {
			t.Fatalf("CreateSplit failed: %v", err)
		}

		got, err := store.GetSplit(ctx, original.ID)
		if err != nil {
			t.Fatalf("GetSplit failed: %v", err)
		}
		if got.Status != models.StatusPending {
			t.Errorf("Status = %s, want pending", got.Status)
		}
		if got.Nonce != original.Nonce {
			t.Errorf("Nonce = %d, want %d", got.Nonce, original.Nonce)
		}
		if got.ChainID != 534352 || got.Description != "Sushi dinner" || got.TokenAddress != Token {
			t.Errorf("unexpected header fields: %+v", got)
		}
		if len(got.Items) != 2 {
			t.Fatalf("Expected 2 items, got %d", len(got.Items))
		}
		if got.Items[0].Participant != Alice || got.Items[1].Participant != Bob {
			t.Errorf("items out of order: %+v", got.Items)
		}
		if got.Items[1].Amount.Cmp(huge) != 0 {
			t.Errorf("amount = %s, want %s", got.Items[1].Amount, huge)
		}
		if got.TxHash != "" {
			t.Errorf("TxHash = %q, want empty", got.TxHash)
		}
	})

	t.Run("GetSplit unknown returns ErrNotFound", func(t *testing.T) {
		_, err := store.GetSplit(ctx, "does-not-exist")
		if !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("GetSplit error = %v, want ErrNotFound", err)
		}
	})

	t.Run("AddApproval is idempotent per participant", func(t *testing.T) {
		split := NewSplit(Payer, map[string]int64{Alice: 100, Bob: 100}, Alice, Bob)
		if err := store.CreateSplit(ctx, split); err != nil {
			t.Fatalf("CreateSplit failed: %v", err)
		}

		first := models.Approval{Participant: Alice, Signature: "0xfirst", ApprovedAt: 10}
		if err := store.AddApproval(ctx, split.ID, first, models.StatusPending, 10); err != nil {
			t.Fatalf("AddApproval failed: %v", err)
		}
		second := models.Approval{Participant: Alice, Signature: "0xsecond", ApprovedAt: 11}
		if err := store.AddApproval(ctx, split.ID, second, models.StatusPending, 11); err != nil {
			t.Fatalf("AddApproval failed: %v", err)
		}

		got, err := store.GetSplit(ctx, split.ID)
		if err != nil {
			t.Fatalf("GetSplit failed: %v", err)
		}
		if got.ApprovalCount() != 1 {
			t.Fatalf("ApprovalCount = %d, want 1", got.ApprovalCount())
		}
		if a := got.Approvals[models.AddressKey(Alice)]; a.Signature != "0xfirst" {
			t.Errorf("Signature = %s, want first signature to win", a.Signature)
		}
	})

	t.Run("status only moves forward and settled is final", func(t *testing.T) {
		split := NewSplit(Payer, map[string]int64{Alice: 100}, Alice)
		if err := store.CreateSplit(ctx, split); err != nil {
			t.Fatalf("CreateSplit failed: %v", err)
		}

		if err := store.MarkSettled(ctx, split.ID, "0xabc", 1); !errors.Is(err, storage.ErrConflict) {
			t.Errorf("MarkSettled on pending error = %v, want ErrConflict", err)
		}

		approval := models.Approval{Participant: Alice, Signature: "0xsig", ApprovedAt: 1}
		if err := store.AddApproval(ctx, split.ID, approval, models.StatusApproved, 1); err != nil {
			t.Fatalf("AddApproval failed: %v", err)
		}
		if err := store.AddApproval(ctx, split.ID, approval, models.StatusPending, 2); !errors.Is(err, storage.ErrConflict) {
			t.Errorf("regressing to pending error = %v, want ErrConflict", err)
		}

		if err := store.MarkSettled(ctx, split.ID, "", 2); err == nil {
			t.Error("MarkSettled without tx hash should fail")
		}
		if err := store.MarkSettled(ctx, split.ID, "0xabc", 3); err != nil {
			t.Fatalf("MarkSettled failed: %v", err)
		}
		if err := store.MarkSettled(ctx, split.ID, "0xdef", 4); !errors.Is(err, storage.ErrConflict) {
			t.Errorf("second MarkSettled error = %v, want ErrConflict", err)
		}
		if err := store.AddApproval(ctx, split.ID, approval, models.StatusSettled, 5); !errors.Is(err, storage.ErrConflict) {
			t.Errorf("AddApproval on settled error = %v, want ErrConflict", err)
		}

		got, err := store.GetSplit(ctx, split.ID)
		if err != nil {
			t.Fatalf("GetSplit failed: %v", err)
		}
		if got.Status != models.StatusSettled || got.TxHash != "0xabc" {
			t.Errorf("got status %s tx %s, want settled 0xabc", got.Status, got.TxHash)
		}
		if err := store.MarkSettled(ctx, "missing", "0xabc", 1); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("MarkSettled unknown error = %v, want ErrNotFound", err)
		}
	})

	t.Run("ListSplits filters by role and status", func(t *testing.T) {
		payer := "0x5555555555555555555555555555555555555555"
		older := NewSplit(payer, map[string]int64{Carol: 5}, Carol)
		older.CreatedAt = time.Now().Add(-time.Hour).Unix()
		newer := NewSplit(Carol, map[string]int64{payer: 7}, payer)
		for _, s := range []*models.Split{older, newer} {
			if err := store.CreateSplit(ctx, s); err != nil {
				t.Fatalf("CreateSplit failed: %v", err)
			}
		}
		approval := models.Approval{Participant: payer, Signature: "0xsig", ApprovedAt: 1}
		if err := store.AddApproval(ctx, newer.ID, approval, models.StatusApproved, 1); err != nil {
			t.Fatalf("AddApproval failed: %v", err)
		}

		byPayer, err := store.ListSplits(ctx, storage.SplitFilter{Payer: payer})
		if err != nil {
			t.Fatalf("ListSplits failed: %v", err)
		}
		if len(byPayer) != 1 || byPayer[0].ID != older.ID {
			t.Errorf("payer filter returned %d splits", len(byPayer))
		}

		byUser, err := store.ListSplits(ctx, storage.SplitFilter{User: payer})
		if err != nil {
			t.Fatalf("ListSplits failed: %v", err)
		}
		if len(byUser) != 2 || byUser[0].ID != newer.ID {
			t.Fatalf("user filter should return both splits newest first, got %d", len(byUser))
		}
		if len(byUser[0].Items) != 1 || byUser[0].ApprovalCount() != 1 {
			t.Errorf("listed split is missing children: %+v", byUser[0])
		}

		pending, err := store.ListSplits(ctx, storage.SplitFilter{
			Participant: "0x5555555555555555555555555555555555555555",
			Statuses:    []models.Status{models.StatusPending},
		})
		if err != nil {
			t.Fatalf("ListSplits failed: %v", err)
		}
		if len(pending) != 0 {
			t.Errorf("participant+pending filter returned %d splits, want 0", len(pending))
		}

		limited, err := store.ListSplits(ctx, storage.SplitFilter{User: payer, Limit: 1})
		if err != nil {
			t.Fatalf("ListSplits failed: %v", err)
		}
		if len(limited) != 1 {
			t.Errorf("limit returned %d splits, want 1", len(limited))
		}
	})

	t.Run("settlement attempts are appended and updated", func(t *testing.T) {
		split := NewSplit(Payer, map[string]int64{Alice: 1}, Alice)
		if err := store.CreateSplit(ctx, split); err != nil {
			t.Fatalf("CreateSplit failed: %v", err)
		}

		first := &models.SettlementAttempt{SplitID: split.ID, Outcome: models.AttemptSubmitted, TxHash: "0x01", CreatedAt: 1}
		if err := store.CreateSettlementAttempt(ctx, first); err != nil {
			t.Fatalf("CreateSettlementAttempt failed: %v", err)
		}
		first.Outcome, first.Error, first.UpdatedAt = models.AttemptReverted, "execution reverted", 2
		if err := store.UpdateSettlementAttempt(ctx, first); err != nil {
			t.Fatalf("UpdateSettlementAttempt failed: %v", err)
		}
		second := &models.SettlementAttempt{SplitID: split.ID, Outcome: models.AttemptSubmitted, TxHash: "0x02", CreatedAt: 3}
		if err := store.CreateSettlementAttempt(ctx, second); err != nil {
			t.Fatalf("CreateSettlementAttempt failed: %v", err)
		}

		attempts, err := store.ListSettlementAttempts(ctx, split.ID)
		if err != nil {
			t.Fatalf("ListSettlementAttempts failed: %v", err)
		}
		if len(attempts) != 2 {
			t.Fatalf("Expected 2 attempts, got %d", len(attempts))
		}
		if attempts[0].Outcome != models.AttemptReverted || attempts[0].Error != "execution reverted" {
			t.Errorf("first attempt = %+v", attempts[0])
		}
		if !attempts[1].Pending() {
			t.Error("second attempt should be pending")
		}

		missing := &models.SettlementAttempt{ID: "missing", Outcome: models.AttemptFailed}
		if err := store.UpdateSettlementAttempt(ctx, missing); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("UpdateSettlementAttempt unknown error = %v, want ErrNotFound", err)
		}
	})

	t.Run("UpsertUser keeps CreatedAt", func(t *testing.T) {
		user := &models.User{Address: "0xAbCdEf0000000000000000000000000000000001", CreatedAt: 100, LastLoginAt: 100}
		if err := store.UpsertUser(ctx, user); err != nil {
			t.Fatalf("UpsertUser failed: %v", err)
		}

		again := &models.User{Address: user.Address, CreatedAt: 200, LastLoginAt: 200}
		if err := store.UpsertUser(ctx, again); err != nil {
			t.Fatalf("UpsertUser failed: %v", err)
		}
		if again.CreatedAt != 100 {
			t.Errorf("CreatedAt = %d, want 100", again.CreatedAt)
		}

		got, err := store.GetUser(ctx, "0xabcdef0000000000000000000000000000000001")
		if err != nil {
			t.Fatalf("GetUser failed: %v", err)
		}
		if got.LastLoginAt != 200 || got.Address != "0xabcdef0000000000000000000000000000000001" {
			t.Errorf("GetUser = %+v", got)
		}

		if _, err := store.GetUser(ctx, Bob); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("GetUser unknown error = %v, want ErrNotFound", err)
		}
	})
}
