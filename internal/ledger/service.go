// Package ledger maintains property card running balances.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/custody/internal/notify"
	"github.com/odyssey-erp/custody/internal/property"
	"github.com/odyssey-erp/custody/internal/shared"
)

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Notifier announces committed changes.
type Notifier interface {
	Publish(ctx context.Context, changes ...notify.Change)
}

// EntryInput carries the caller-supplied fields of a new card line.
// BalanceQty and Amount are only honoured when Imported is set.
type EntryInput struct {
	Date          time.Time       `json:"date"`
	Reference     string          `json:"reference"`
	ReceiptQty    int             `json:"receipt_qty"`
	UnitCost      decimal.Decimal `json:"unit_cost"`
	IssueQty      int             `json:"issue_qty"`
	IssueAmount   decimal.Decimal `json:"issue_amount"`
	IssueItemNo   string          `json:"issue_item_no"`
	OfficeOfficer string          `json:"office_officer"`
	Remarks       string          `json:"remarks"`
	Imported      bool            `json:"imported"`
	BalanceQty    int             `json:"balance_qty"`
	Amount        decimal.Decimal `json:"amount"`
}

// EntryPatch edits the movement fields of an existing entry. Nil fields are
// left unchanged.
type EntryPatch struct {
	Date          *time.Time       `json:"date,omitempty"`
	Reference     *string          `json:"reference,omitempty"`
	ReceiptQty    *int             `json:"receipt_qty,omitempty"`
	UnitCost      *decimal.Decimal `json:"unit_cost,omitempty"`
	IssueQty      *int             `json:"issue_qty,omitempty"`
	IssueAmount   *decimal.Decimal `json:"issue_amount,omitempty"`
	OfficeOfficer *string          `json:"office_officer,omitempty"`
	Remarks       *string          `json:"remarks,omitempty"`
}

// Engine appends and recomputes property card entries.
type Engine struct {
	store    property.Store
	audit    AuditPort
	notifier Notifier
	logger   *slog.Logger
}

// NewEngine builds Engine.
func NewEngine(store property.Store, audit AuditPort, notifier Notifier, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{store: store, audit: audit, notifier: notifier, logger: logger}
}

// OpenCardTx creates the property card of an item inside tx.
func (e *Engine) OpenCardTx(ctx context.Context, tx property.Tx, item property.Item, entityName, fundCluster string) (property.Card, error) {
	card := property.Card{
		ID:             uuid.NewString(),
		ItemID:         item.ID,
		PropertyNumber: item.PropertyNumber,
		EntityName:     entityName,
		FundCluster:    fundCluster,
		Description:    item.Description,
	}
	if err := tx.InsertCard(ctx, card); err != nil {
		if errors.Is(err, property.ErrUniqueViolation) {
			return property.Card{}, &property.ConflictError{Entity: "property_card", ID: item.PropertyNumber, Detail: "item already has a property card", Err: err}
		}
		return property.Card{}, fmt.Errorf("ledger: insert card: %w", err)
	}
	return card, nil
}

// AppendEntry appends a line to the card in its own transaction.
func (e *Engine) AppendEntry(ctx context.Context, cardID string, in EntryInput) (property.Entry, error) {
	var entry property.Entry
	var touched []property.Entry
	err := e.store.WithTx(ctx, func(ctx context.Context, tx property.Tx) error {
		var err error
		entry, touched, err = e.appendEntry(ctx, tx, cardID, in)
		return err
	})
	if err != nil {
		return property.Entry{}, err
	}
	e.recordAudit(ctx, "ledger:append", entry.ID, map[string]any{
		"card_id":     cardID,
		"reference":   entry.Reference,
		"receipt_qty": entry.ReceiptQty,
		"issue_qty":   entry.IssueQty,
		"recomputed":  len(touched),
	})
	e.publish(ctx, notify.ActionInsert, entry)
	e.publish(ctx, notify.ActionUpdate, without(touched, entry.ID)...)
	return entry, nil
}

// AppendEntryTx appends a line inside an existing transaction. Callers are
// responsible for audit and notification after commit.
func (e *Engine) AppendEntryTx(ctx context.Context, tx property.Tx, cardID string, in EntryInput) (property.Entry, error) {
	entry, _, err := e.appendEntry(ctx, tx, cardID, in)
	return entry, err
}

func (e *Engine) appendEntry(ctx context.Context, tx property.Tx, cardID string, in EntryInput) (property.Entry, []property.Entry, error) {
	if err := validateInput(in); err != nil {
		return property.Entry{}, nil, err
	}
	if _, err := tx.LockCard(ctx, cardID); err != nil {
		if errors.Is(err, property.ErrNotFound) {
			return property.Entry{}, nil, property.Invalid("card_id", "property card %s not found", cardID)
		}
		return property.Entry{}, nil, fmt.Errorf("ledger: lock card: %w", err)
	}
	existing, err := tx.ListEntries(ctx, cardID)
	if err != nil {
		return property.Entry{}, nil, fmt.Errorf("ledger: list entries: %w", err)
	}

	entry := property.Entry{
		ID:            uuid.NewString(),
		CardID:        cardID,
		Date:          in.Date.UTC(),
		Reference:     strings.TrimSpace(in.Reference),
		ReceiptQty:    in.ReceiptQty,
		UnitCost:      in.UnitCost,
		IssueQty:      in.IssueQty,
		IssueAmount:   in.IssueAmount,
		IssueItemNo:   in.IssueItemNo,
		OfficeOfficer: in.OfficeOfficer,
		Remarks:       in.Remarks,
		Imported:      in.Imported,
	}
	entry.TotalCost = receiptAmount(entry)

	// The new row sorts after every entry dated on or before it.
	prevBalance, prevAmount := 0, decimal.Zero
	outOfOrder := false
	for _, prior := range existing {
		if prior.Date.After(entry.Date) {
			outOfOrder = true
			continue
		}
		prevBalance, prevAmount = prior.BalanceQty, prior.Amount
	}
	entry.IssueAmount = issueAmount(entry, prevBalance, prevAmount)
	if in.Imported {
		entry.BalanceQty = in.BalanceQty
		entry.Amount = in.Amount
	} else {
		entry.BalanceQty, entry.Amount = apply(prevBalance, prevAmount, entry)
	}

	stored, err := tx.InsertEntry(ctx, entry)
	if err != nil {
		return property.Entry{}, nil, fmt.Errorf("ledger: insert entry: %w", err)
	}
	if !outOfOrder || in.Imported {
		return stored, nil, nil
	}
	e.logger.Info("ledger: out-of-order append, recomputing card",
		slog.String("card_id", cardID),
		slog.String("entry_id", stored.ID),
		slog.Time("date", stored.Date))
	touched, err := e.recomputeTx(ctx, tx, cardID)
	if err != nil {
		return property.Entry{}, nil, err
	}
	for _, t := range touched {
		if t.ID == stored.ID {
			stored = t
		}
	}
	return stored, touched, nil
}

// Recompute re-walks the card in one transaction and rewrites every entry
// whose stored balance drifted. It returns the full corrected card.
func (e *Engine) Recompute(ctx context.Context, cardID string) ([]property.Entry, error) {
	var walked, touched []property.Entry
	err := e.store.WithTx(ctx, func(ctx context.Context, tx property.Tx) error {
		if _, err := tx.LockCard(ctx, cardID); err != nil {
			return fmt.Errorf("ledger: lock card: %w", err)
		}
		var err error
		if touched, err = e.recomputeTx(ctx, tx, cardID); err != nil {
			return err
		}
		walked, err = tx.ListEntries(ctx, cardID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if len(touched) > 0 {
		e.recordAudit(ctx, "ledger:recompute", cardID, map[string]any{"rewritten": len(touched)})
		e.publish(ctx, notify.ActionUpdate, touched...)
	}
	return walked, nil
}

// RecomputeTx is Recompute inside an existing transaction. It returns only
// the rewritten entries.
func (e *Engine) RecomputeTx(ctx context.Context, tx property.Tx, cardID string) ([]property.Entry, error) {
	return e.recomputeTx(ctx, tx, cardID)
}

func (e *Engine) recomputeTx(ctx context.Context, tx property.Tx, cardID string) ([]property.Entry, error) {
	entries, err := tx.ListEntries(ctx, cardID)
	if err != nil {
		return nil, fmt.Errorf("ledger: list entries: %w", err)
	}
	stored := make(map[string]property.Entry, len(entries))
	for _, en := range entries {
		stored[en.ID] = en
	}
	var touched []property.Entry
	for _, w := range Walk(entries) {
		old := stored[w.ID]
		if old.Imported {
			continue
		}
		if old.BalanceQty == w.BalanceQty && old.Amount.Equal(w.Amount) {
			continue
		}
		if err := tx.UpdateEntry(ctx, w); err != nil {
			return nil, fmt.Errorf("ledger: rewrite entry %s: %w", w.ID, err)
		}
		touched = append(touched, w)
	}
	return touched, nil
}

// EditEntry changes a historical entry and recomputes the rest of its card
// in the same transaction.
func (e *Engine) EditEntry(ctx context.Context, entryID string, patch EntryPatch) (property.Entry, error) {
	var edited property.Entry
	var touched []property.Entry
	err := e.store.WithTx(ctx, func(ctx context.Context, tx property.Tx) error {
		entry, err := tx.GetEntry(ctx, entryID)
		if err != nil {
			return err
		}
		if _, err := tx.LockCard(ctx, entry.CardID); err != nil {
			return fmt.Errorf("ledger: lock card: %w", err)
		}
		applyPatch(&entry, patch)
		if err := validateEntry(entry); err != nil {
			return err
		}
		entry.TotalCost = receiptAmount(entry)
		if patch.IssueQty != nil && patch.IssueAmount == nil && !entry.UnitCost.IsZero() {
			entry.IssueAmount = entry.UnitCost.Mul(decimal.NewFromInt(int64(entry.IssueQty)))
		}
		if err := tx.UpdateEntry(ctx, entry); err != nil {
			return fmt.Errorf("ledger: update entry: %w", err)
		}
		if touched, err = e.recomputeTx(ctx, tx, entry.CardID); err != nil {
			return err
		}
		edited, err = tx.GetEntry(ctx, entryID)
		return err
	})
	if err != nil {
		return property.Entry{}, err
	}
	e.recordAudit(ctx, "ledger:edit", entryID, map[string]any{"card_id": edited.CardID, "recomputed": len(touched)})
	e.publish(ctx, notify.ActionUpdate, append(without(touched, edited.ID), edited)...)
	return edited, nil
}

// Card returns the card header with its ordered entries.
func (e *Engine) Card(ctx context.Context, cardID string) (property.Card, []property.Entry, error) {
	card, err := e.store.GetCard(ctx, cardID)
	if err != nil {
		return property.Card{}, nil, err
	}
	entries, err := e.store.ListEntries(ctx, cardID)
	if err != nil {
		return property.Card{}, nil, err
	}
	return card, entries, nil
}

// CardForItem resolves the card of an item by id or property number.
func (e *Engine) CardForItem(ctx context.Context, ref property.ItemRef) (property.Card, []property.Entry, error) {
	item, err := property.ResolveItem(ctx, e.store, ref)
	if err != nil {
		return property.Card{}, nil, err
	}
	card, err := property.ResolveCard(ctx, e.store, item)
	if err != nil {
		return property.Card{}, nil, err
	}
	return e.Card(ctx, card.ID)
}

// HasEntryTx reports whether the card already holds a line for the given
// reference and document line. It makes workflow completion re-runnable.
func (e *Engine) HasEntryTx(ctx context.Context, tx property.Tx, cardID, reference, issueItemNo string) (bool, error) {
	entries, err := tx.ListEntries(ctx, cardID)
	if err != nil {
		return false, fmt.Errorf("ledger: list entries: %w", err)
	}
	for _, en := range entries {
		if en.Reference != reference {
			continue
		}
		if issueItemNo == "" || en.IssueItemNo == issueItemNo {
			return true, nil
		}
	}
	return false, nil
}

func validateInput(in EntryInput) error {
	if in.Date.IsZero() {
		return property.Invalid("date", "entry date required")
	}
	return validateEntry(property.Entry{
		ReceiptQty:  in.ReceiptQty,
		IssueQty:    in.IssueQty,
		UnitCost:    in.UnitCost,
		IssueAmount: in.IssueAmount,
		Imported:    in.Imported,
	})
}

func validateEntry(en property.Entry) error {
	if en.ReceiptQty < 0 {
		return property.Invalid("receipt_qty", "must not be negative")
	}
	if en.IssueQty < 0 {
		return property.Invalid("issue_qty", "must not be negative")
	}
	if en.ReceiptQty == 0 && en.IssueQty == 0 && !en.Imported {
		return property.Invalid("qty", "receipt or issue quantity required")
	}
	if en.UnitCost.IsNegative() {
		return property.Invalid("unit_cost", "must not be negative")
	}
	if en.IssueAmount.IsNegative() {
		return property.Invalid("issue_amount", "must not be negative")
	}
	return nil
}

func applyPatch(entry *property.Entry, patch EntryPatch) {
	if patch.Date != nil {
		entry.Date = patch.Date.UTC()
	}
	if patch.Reference != nil {
		entry.Reference = strings.TrimSpace(*patch.Reference)
	}
	if patch.ReceiptQty != nil {
		entry.ReceiptQty = *patch.ReceiptQty
	}
	if patch.UnitCost != nil {
		entry.UnitCost = *patch.UnitCost
	}
	if patch.IssueQty != nil {
		entry.IssueQty = *patch.IssueQty
	}
	if patch.IssueAmount != nil {
		entry.IssueAmount = *patch.IssueAmount
	}
	if patch.OfficeOfficer != nil {
		entry.OfficeOfficer = *patch.OfficeOfficer
	}
	if patch.Remarks != nil {
		entry.Remarks = *patch.Remarks
	}
}

func (e *Engine) recordAudit(ctx context.Context, action, entityID string, meta map[string]any) {
	if e.audit == nil {
		return
	}
	if err := e.audit.Record(ctx, shared.AuditLog{
		ActorID:  shared.ActorFromContext(ctx),
		Action:   action,
		Entity:   "property_card_entry",
		EntityID: entityID,
		Meta:     meta,
	}); err != nil {
		e.logger.Warn("ledger: audit", slog.String("action", action), slog.Any("error", err))
	}
}

func (e *Engine) publish(ctx context.Context, action string, entries ...property.Entry) {
	if e.notifier == nil || len(entries) == 0 {
		return
	}
	changes := make([]notify.Change, 0, len(entries))
	for _, en := range entries {
		changes = append(changes, notify.Change{Table: "property_card_entries", ID: en.ID, Action: action})
	}
	e.notifier.Publish(ctx, changes...)
}

func without(entries []property.Entry, id string) []property.Entry {
	out := make([]property.Entry, 0, len(entries))
	for _, en := range entries {
		if en.ID != id {
			out = append(out, en)
		}
	}
	return out
}
