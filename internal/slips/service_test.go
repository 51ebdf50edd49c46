package slips

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/custody/internal/custody"
	"github.com/odyssey-erp/custody/internal/ledger"
	"github.com/odyssey-erp/custody/internal/property"
	"github.com/odyssey-erp/custody/internal/shared"
	"github.com/odyssey-erp/custody/internal/store/memstore"
)

var (
	ana   = property.Custodian{ID: "C1", Name: "Ana Cruz", Position: "Teacher I"}
	ben   = property.Custodian{ID: "C2", Name: "Ben Reyes"}
	jan3  = time.Date(2025, time.January, 3, 0, 0, 0, 0, time.UTC)
	jan10 = time.Date(2025, time.January, 10, 0, 0, 0, 0, time.UTC)
)

func setup(t *testing.T, numbers ...string) (*memstore.Store, *custody.Registry, *Service, *shared.MemoryAudit) {
	t.Helper()
	store := memstore.New()
	audit := &shared.MemoryAudit{}
	engine := ledger.NewEngine(store, audit, nil, nil)
	registry := custody.NewRegistry(store, engine, audit, nil, nil)
	for _, n := range numbers {
		_, err := registry.Intake(context.Background(), custody.IntakeInput{
			PropertyNumber: n,
			Description:    "Tablet",
			UnitCost:       decimal.NewFromInt(12000),
			Quantity:       1,
			ReceivedAt:     jan3,
		})
		require.NoError(t, err)
	}
	return store, registry, NewService(store, registry, engine, audit, nil, 5, nil), audit
}

func issueInput(to property.Custodian, numbers ...string) IssueInput {
	lines := make([]LineInput, 0, len(numbers))
	for _, n := range numbers {
		lines = append(lines, LineInput{PropertyNumber: n})
	}
	return IssueInput{Custodian: to, EntityName: "Division Office", FundCluster: "101", IssuedAt: jan10, Lines: lines}
}

func TestIssueAssignsAndWritesCardLines(t *testing.T) {
	store, registry, svc, audit := setup(t, "SP-0001", "SP-0002")
	ctx := context.Background()

	detail, err := svc.Issue(ctx, issueInput(ana, "SP-0001", "SP-0002"))
	require.NoError(t, err)
	require.Equal(t, "ICS-2025-0001", detail.Slip.SlipNumber)
	require.Equal(t, "Ana Cruz", detail.Slip.ReceivedBy)
	require.Len(t, detail.Lines, 2)
	require.Len(t, detail.Entries, 2)

	for i, line := range detail.Lines {
		require.Equal(t, detail.Entries[i].ID, line.EntryID)
		require.Equal(t, line.ID, detail.Entries[i].IssueItemNo)
		require.Equal(t, "ICS-2025-0001", detail.Entries[i].Reference)
		require.Equal(t, "Ana Cruz (Teacher I)", detail.Entries[i].OfficeOfficer)
		require.Zero(t, detail.Entries[i].BalanceQty)

		held, err := registry.IsAssigned(ctx, line.ItemID)
		require.NoError(t, err)
		require.True(t, held)
	}

	got, err := svc.Get(ctx, detail.Slip.ID)
	require.NoError(t, err)
	require.Len(t, got.Lines, 2)
	require.Equal(t, 2, store.Counts()["custodian_slip_items"])
	require.Contains(t, audit.Actions(), "slip:issue")

	next, err := svc.Issue(ctx, IssueInput{Custodian: ana, EntityName: "Division Office", FundCluster: "101", IssuedAt: jan10, Lines: []LineInput{{PropertyNumber: "SP-0001"}}})
	require.NoError(t, err)
	require.Equal(t, "ICS-2025-0002", next.Slip.SlipNumber)
}

func TestIssueIsAllOrNothing(t *testing.T) {
	store, registry, svc, _ := setup(t, "SP-0001", "SP-0002")
	ctx := context.Background()

	second, err := store.GetItemByNumber(ctx, "SP-0002")
	require.NoError(t, err)
	_, err = registry.Assign(ctx, second.ID, ben, jan3)
	require.NoError(t, err)
	entries := store.Counts()["property_card_entries"]

	_, err = svc.Issue(ctx, issueInput(ana, "SP-0001", "SP-0002"))
	var conflict *property.ConflictError
	require.ErrorAs(t, err, &conflict)

	first, err := store.GetItemByNumber(ctx, "SP-0001")
	require.NoError(t, err)
	require.True(t, first.Available())
	counts := store.Counts()
	require.Zero(t, counts["custodian_slips"])
	require.Equal(t, entries, counts["property_card_entries"])
}

func TestIssueValidation(t *testing.T) {
	_, _, svc, _ := setup(t, "SP-0001")
	ctx := context.Background()

	in := issueInput(property.Custodian{Name: "No Id"}, "SP-0001")
	_, err := svc.Issue(ctx, in)
	var verr *property.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "custodian.id", verr.Field)

	_, err = svc.Issue(ctx, issueInput(ana))
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "lines", verr.Field)

	_, err = svc.Issue(ctx, issueInput(ana, "SP-0001", "SP-0001"))
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "lines[1]", verr.Field)

	in = issueInput(ana, "SP-0001")
	in.SlipNumber = "ICS-2025-0100"
	_, err = svc.Issue(ctx, in)
	require.NoError(t, err)
	_, err = svc.Issue(ctx, in)
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "slip_number", verr.Field)
}
