package ledger

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/custody/internal/property"
	"github.com/odyssey-erp/custody/internal/shared"
	"github.com/odyssey-erp/custody/internal/store/memstore"
)

func day(d int) time.Time {
	return time.Date(2025, time.March, d, 0, 0, 0, 0, time.UTC)
}

func newCard(t *testing.T, store *memstore.Store, engine *Engine) property.Card {
	t.Helper()
	var card property.Card
	err := store.WithTx(context.Background(), func(ctx context.Context, tx property.Tx) error {
		item := property.Item{
			ID:             "item-1",
			PropertyNumber: "SP-0001",
			Description:    "Office chair",
			Condition:      property.ConditionServiceable,
			Status:         property.ItemActive,
			UnitCost:       decimal.RequireFromString("1500.00"),
			Quantity:       1,
		}
		if err := tx.InsertItem(ctx, item); err != nil {
			return err
		}
		var err error
		card, err = engine.OpenCardTx(ctx, tx, item, "DepEd Division", "101")
		return err
	})
	require.NoError(t, err)
	return card
}

func requireInvariant(t *testing.T, entries []property.Entry) {
	t.Helper()
	balance, amount := 0, decimal.Zero
	for i, e := range entries {
		balance = balance + e.ReceiptQty - e.IssueQty
		amount = amount.Add(e.UnitCost.Mul(decimal.NewFromInt(int64(e.ReceiptQty)))).Sub(e.IssueAmount)
		require.Equalf(t, balance, e.BalanceQty, "balance qty at %d", i)
		require.Truef(t, amount.Equal(e.Amount), "amount at %d: want %s got %s", i, amount, e.Amount)
		if i > 0 {
			require.False(t, e.Before(entries[i-1]), "entries out of order at %d", i)
		}
	}
}

func TestWalkHoldsBalanceInvariantForRandomSequences(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for run := 0; run < 200; run++ {
		n := rng.Intn(20)
		entries := make([]property.Entry, 0, n)
		for i := 0; i < n; i++ {
			e := property.Entry{
				ID:   string(rune('a' + i)),
				Seq:  int64(i + 1),
				Date: day(1 + rng.Intn(10)),
			}
			if rng.Intn(2) == 0 {
				e.ReceiptQty = 1 + rng.Intn(5)
				e.UnitCost = decimal.NewFromInt(int64(10 + rng.Intn(90)))
			} else {
				e.IssueQty = 1 + rng.Intn(3)
				e.IssueAmount = decimal.NewFromInt(int64(e.IssueQty * 25))
			}
			e.BalanceQty = rng.Intn(100)
			entries = append(entries, e)
		}
		requireInvariant(t, Walk(entries))
	}
}

func TestWalkDoesNotMutateInput(t *testing.T) {
	entries := []property.Entry{
		{ID: "b", Seq: 2, Date: day(2), ReceiptQty: 1, UnitCost: decimal.NewFromInt(5)},
		{ID: "a", Seq: 1, Date: day(1), ReceiptQty: 2, UnitCost: decimal.NewFromInt(5)},
	}
	walked := Walk(entries)
	require.Equal(t, "a", walked[0].ID)
	require.Equal(t, 3, walked[1].BalanceQty)
	require.Equal(t, "b", entries[0].ID)
	require.Zero(t, entries[0].BalanceQty)
	require.Equal(t, -1, Verify(walked))
	require.Equal(t, 0, Verify(entries))
}

func TestAppendEntryComputesFromPriorEntry(t *testing.T) {
	store := memstore.New()
	audit := &shared.MemoryAudit{}
	engine := NewEngine(store, audit, nil, nil)
	card := newCard(t, store, engine)
	ctx := context.Background()

	first, err := engine.AppendEntry(ctx, card.ID, EntryInput{Date: day(1), Reference: "RR-1", ReceiptQty: 3, UnitCost: decimal.NewFromInt(1500)})
	require.NoError(t, err)
	require.Equal(t, 3, first.BalanceQty)
	require.True(t, first.Amount.Equal(decimal.NewFromInt(4500)))
	require.True(t, first.TotalCost.Equal(decimal.NewFromInt(4500)))

	issue, err := engine.AppendEntry(ctx, card.ID, EntryInput{Date: day(2), Reference: "ICS-2025-0001", IssueQty: 1, UnitCost: decimal.NewFromInt(1500), OfficeOfficer: "Ana Cruz (Teacher I)"})
	require.NoError(t, err)
	require.Equal(t, 2, issue.BalanceQty)
	require.True(t, issue.Amount.Equal(decimal.NewFromInt(3000)))
	require.True(t, issue.TotalCost.IsZero())
	require.True(t, issue.IssueAmount.Equal(decimal.NewFromInt(1500)))

	_, entries, err := engine.Card(ctx, card.ID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	requireInvariant(t, entries)
	require.Equal(t, []string{"ledger:append", "ledger:append"}, audit.Actions())
}

func TestAppendEntryUsesRunningAverageWhenNoCostGiven(t *testing.T) {
	store := memstore.New()
	engine := NewEngine(store, nil, nil, nil)
	card := newCard(t, store, engine)
	ctx := context.Background()

	_, err := engine.AppendEntry(ctx, card.ID, EntryInput{Date: day(1), ReceiptQty: 4, UnitCost: decimal.NewFromInt(250)})
	require.NoError(t, err)
	issue, err := engine.AppendEntry(ctx, card.ID, EntryInput{Date: day(2), IssueQty: 2})
	require.NoError(t, err)
	require.True(t, issue.IssueAmount.Equal(decimal.NewFromInt(500)))
	require.True(t, issue.Amount.Equal(decimal.NewFromInt(500)))
}

func TestAppendEntryTrustsImportedBalances(t *testing.T) {
	store := memstore.New()
	engine := NewEngine(store, nil, nil, nil)
	card := newCard(t, store, engine)
	ctx := context.Background()

	_, err := engine.AppendEntry(ctx, card.ID, EntryInput{Date: day(5), ReceiptQty: 1, UnitCost: decimal.NewFromInt(100)})
	require.NoError(t, err)
	imported, err := engine.AppendEntry(ctx, card.ID, EntryInput{
		Date:       day(1),
		Reference:  "BEGINNING BALANCE",
		Imported:   true,
		BalanceQty: 7,
		Amount:     decimal.NewFromInt(700),
	})
	require.NoError(t, err)
	require.Equal(t, 7, imported.BalanceQty)
	require.True(t, imported.Amount.Equal(decimal.NewFromInt(700)))

	_, entries, err := engine.Card(ctx, card.ID)
	require.NoError(t, err)
	require.Equal(t, 1, entries[1].BalanceQty, "back-filled import must not trigger recompute")
}

func TestRecomputeKeepsImportedOpeningBalance(t *testing.T) {
	store := memstore.New()
	engine := NewEngine(store, nil, nil, nil)
	card := newCard(t, store, engine)
	ctx := context.Background()

	opening, err := engine.AppendEntry(ctx, card.ID, EntryInput{
		Date:       day(1),
		Reference:  "BEGINNING BALANCE",
		Imported:   true,
		BalanceQty: 7,
		Amount:     decimal.NewFromInt(700),
	})
	require.NoError(t, err)
	receipt, err := engine.AppendEntry(ctx, card.ID, EntryInput{Date: day(10), ReceiptQty: 1, UnitCost: decimal.NewFromInt(100)})
	require.NoError(t, err)
	require.Equal(t, 8, receipt.BalanceQty)
	require.True(t, receipt.Amount.Equal(decimal.NewFromInt(800)))

	late, err := engine.AppendEntry(ctx, card.ID, EntryInput{Date: day(5), ReceiptQty: 1, UnitCost: decimal.NewFromInt(100)})
	require.NoError(t, err)
	require.Equal(t, 8, late.BalanceQty)
	require.True(t, late.Amount.Equal(decimal.NewFromInt(800)))

	_, entries, err := engine.Card(ctx, card.ID)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	require.Equal(t, opening.ID, entries[0].ID)
	require.Equal(t, 7, entries[0].BalanceQty)
	require.True(t, entries[0].Amount.Equal(decimal.NewFromInt(700)))
	require.Equal(t, 9, entries[2].BalanceQty)
	require.True(t, entries[2].Amount.Equal(decimal.NewFromInt(900)))
	require.Equal(t, -1, Verify(entries))

	walked, err := engine.Recompute(ctx, card.ID)
	require.NoError(t, err)
	require.Len(t, walked, 3)
	for i := range walked {
		require.Equal(t, entries[i].ID, walked[i].ID)
		require.Equal(t, entries[i].BalanceQty, walked[i].BalanceQty)
		require.True(t, entries[i].Amount.Equal(walked[i].Amount))
	}
}

func TestWalkContinuesFromImportedAnchor(t *testing.T) {
	entries := []property.Entry{
		{ID: "a", Seq: 1, Date: day(1), ReceiptQty: 2, UnitCost: decimal.NewFromInt(10)},
		{ID: "b", Seq: 2, Date: day(2), Imported: true, BalanceQty: 20, Amount: decimal.NewFromInt(400)},
		{ID: "c", Seq: 3, Date: day(3), IssueQty: 5, IssueAmount: decimal.NewFromInt(100)},
	}
	walked := Walk(entries)
	require.Equal(t, 2, walked[0].BalanceQty)
	require.Equal(t, 20, walked[1].BalanceQty)
	require.True(t, walked[1].Amount.Equal(decimal.NewFromInt(400)))
	require.Equal(t, 15, walked[2].BalanceQty)
	require.True(t, walked[2].Amount.Equal(decimal.NewFromInt(300)))

	entries[0].BalanceQty, entries[0].Amount = 2, decimal.NewFromInt(20)
	entries[2].BalanceQty, entries[2].Amount = 15, decimal.NewFromInt(300)
	require.Equal(t, -1, Verify(entries))
	entries[2].BalanceQty = 14
	require.Equal(t, 2, Verify(entries))
}

func TestOutOfOrderAppendRecomputesDownstream(t *testing.T) {
	store := memstore.New()
	engine := NewEngine(store, nil, nil, nil)
	card := newCard(t, store, engine)
	ctx := context.Background()

	_, err := engine.AppendEntry(ctx, card.ID, EntryInput{Date: day(1), ReceiptQty: 2, UnitCost: decimal.NewFromInt(100)})
	require.NoError(t, err)
	_, err = engine.AppendEntry(ctx, card.ID, EntryInput{Date: day(10), IssueQty: 1, UnitCost: decimal.NewFromInt(100)})
	require.NoError(t, err)

	late, err := engine.AppendEntry(ctx, card.ID, EntryInput{Date: day(5), ReceiptQty: 3, UnitCost: decimal.NewFromInt(100)})
	require.NoError(t, err)
	require.Equal(t, 5, late.BalanceQty)

	_, entries, err := engine.Card(ctx, card.ID)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	require.Equal(t, late.ID, entries[1].ID)
	require.Equal(t, 4, entries[2].BalanceQty)
	requireInvariant(t, entries)
}

func TestOutOfOrderAppendRollsBackWhenRecomputeFails(t *testing.T) {
	store := memstore.New()
	engine := NewEngine(store, nil, nil, nil)
	card := newCard(t, store, engine)
	ctx := context.Background()

	_, err := engine.AppendEntry(ctx, card.ID, EntryInput{Date: day(1), ReceiptQty: 2, UnitCost: decimal.NewFromInt(100)})
	require.NoError(t, err)
	_, err = engine.AppendEntry(ctx, card.ID, EntryInput{Date: day(10), IssueQty: 1, UnitCost: decimal.NewFromInt(100)})
	require.NoError(t, err)

	boom := errors.New("disk full")
	store.InjectFault(func(op, _ string) error {
		if op == "UpdateEntry" {
			return boom
		}
		return nil
	})
	_, err = engine.AppendEntry(ctx, card.ID, EntryInput{Date: day(5), ReceiptQty: 3, UnitCost: decimal.NewFromInt(100)})
	require.ErrorIs(t, err, boom)

	_, entries, err := engine.Card(ctx, card.ID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	requireInvariant(t, entries)
}

func TestRecomputeRepairsDriftedBalances(t *testing.T) {
	store := memstore.New()
	engine := NewEngine(store, nil, nil, nil)
	card := newCard(t, store, engine)
	ctx := context.Background()

	for d := 1; d <= 3; d++ {
		_, err := engine.AppendEntry(ctx, card.ID, EntryInput{Date: day(d), ReceiptQty: 1, UnitCost: decimal.NewFromInt(10)})
		require.NoError(t, err)
	}
	_, entries, err := engine.Card(ctx, card.ID)
	require.NoError(t, err)
	drifted := entries[1]
	drifted.BalanceQty = 99
	require.NoError(t, store.WithTx(ctx, func(ctx context.Context, tx property.Tx) error {
		return tx.UpdateEntry(ctx, drifted)
	}))

	fixed, err := engine.Recompute(ctx, card.ID)
	require.NoError(t, err)
	require.Len(t, fixed, 3)
	requireInvariant(t, fixed)
	require.Equal(t, 2, fixed[1].BalanceQty)
}

func TestEditEntryRecomputesFollowingEntries(t *testing.T) {
	store := memstore.New()
	engine := NewEngine(store, nil, nil, nil)
	card := newCard(t, store, engine)
	ctx := context.Background()

	first, err := engine.AppendEntry(ctx, card.ID, EntryInput{Date: day(1), ReceiptQty: 5, UnitCost: decimal.NewFromInt(20)})
	require.NoError(t, err)
	_, err = engine.AppendEntry(ctx, card.ID, EntryInput{Date: day(2), IssueQty: 2, UnitCost: decimal.NewFromInt(20)})
	require.NoError(t, err)

	qty := 8
	edited, err := engine.EditEntry(ctx, first.ID, EntryPatch{ReceiptQty: &qty})
	require.NoError(t, err)
	require.Equal(t, 8, edited.BalanceQty)
	require.True(t, edited.TotalCost.Equal(decimal.NewFromInt(160)))

	_, entries, err := engine.Card(ctx, card.ID)
	require.NoError(t, err)
	require.Equal(t, 6, entries[1].BalanceQty)
	requireInvariant(t, entries)
}

func TestEditEntryRejectsEmptyMovement(t *testing.T) {
	store := memstore.New()
	engine := NewEngine(store, nil, nil, nil)
	card := newCard(t, store, engine)
	ctx := context.Background()

	first, err := engine.AppendEntry(ctx, card.ID, EntryInput{Date: day(1), ReceiptQty: 5, UnitCost: decimal.NewFromInt(20)})
	require.NoError(t, err)
	zero := 0
	_, err = engine.EditEntry(ctx, first.ID, EntryPatch{ReceiptQty: &zero})
	var verr *property.ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestAppendEntryValidation(t *testing.T) {
	store := memstore.New()
	engine := NewEngine(store, nil, nil, nil)
	card := newCard(t, store, engine)
	ctx := context.Background()

	cases := []EntryInput{
		{ReceiptQty: 1},
		{Date: day(1)},
		{Date: day(1), ReceiptQty: -1},
		{Date: day(1), ReceiptQty: 1, UnitCost: decimal.NewFromInt(-5)},
	}
	for _, in := range cases {
		_, err := engine.AppendEntry(ctx, card.ID, in)
		var verr *property.ValidationError
		require.ErrorAs(t, err, &verr)
	}

	_, err := engine.AppendEntry(ctx, "missing", EntryInput{Date: day(1), ReceiptQty: 1})
	var verr *property.ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestHasEntryTxMatchesReferenceAndLine(t *testing.T) {
	store := memstore.New()
	engine := NewEngine(store, nil, nil, nil)
	card := newCard(t, store, engine)
	ctx := context.Background()

	_, err := engine.AppendEntry(ctx, card.ID, EntryInput{Date: day(1), ReceiptQty: 1, UnitCost: decimal.NewFromInt(10)})
	require.NoError(t, err)
	_, err = engine.AppendEntry(ctx, card.ID, EntryInput{Date: day(2), Reference: "ITR-2025-0001", IssueQty: 1, IssueItemNo: "line-1"})
	require.NoError(t, err)

	require.NoError(t, store.WithTx(ctx, func(ctx context.Context, tx property.Tx) error {
		ok, err := engine.HasEntryTx(ctx, tx, card.ID, "ITR-2025-0001", "line-1")
		require.NoError(t, err)
		require.True(t, ok)
		ok, err = engine.HasEntryTx(ctx, tx, card.ID, "ITR-2025-0001", "line-2")
		require.NoError(t, err)
		require.False(t, ok)
		return nil
	}))
}
