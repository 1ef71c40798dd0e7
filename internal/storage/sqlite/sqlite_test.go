package sqlite

import (
	"context"
	"errors"
	"math/big"
	"path/filepath"
	"testing"

	"github.com/AccountantBot/coordinator/internal/calculator"
	"github.com/AccountantBot/coordinator/internal/models"
	"github.com/AccountantBot/coordinator/internal/storage/storetest"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := New(filepath.Join(t.TempDir(), "nested", "test.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteStore(t *testing.T) {
	storetest.Run(t, newTestStore(t))
}

func TestCreateSplitRollsBackOnBadItem(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	split := storetest.NewSplit(storetest.Payer, map[string]int64{storetest.Alice: 1}, storetest.Alice, storetest.Bob)
	split.Items[1].Amount = nil

	err := store.CreateSplit(ctx, split)
	if !errors.Is(err, calculator.ErrInvalidAmount) {
		t.Fatalf("CreateSplit error = %v, want ErrInvalidAmount", err)
	}

	var count int
	if err := store.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM splits").Scan(&count); err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 0 {
		t.Errorf("Expected no split rows after rollback, got %d", count)
	}
}

func TestDuplicateParticipantRejected(t *testing.T) {
	store := newTestStore(t)

	split := storetest.NewSplit(storetest.Payer, nil)
	split.Items = []models.SplitItem{
		{Participant: storetest.Alice, Amount: big.NewInt(1)},
		{Participant: "0x2222222222222222222222222222222222222222", Amount: big.NewInt(2)},
	}
	if err := store.CreateSplit(context.Background(), split); err == nil {
		t.Error("Expected unique participant constraint to reject the split")
	}
}

func TestStatusCheckConstraint(t *testing.T) {
	store := newTestStore(t)

	split := storetest.NewSplit(storetest.Payer, map[string]int64{storetest.Alice: 1}, storetest.Alice)
	split.Status = models.Status("paid")
	if err := store.CreateSplit(context.Background(), split); err == nil {
		t.Error("Expected unknown status to be rejected")
	}
}
