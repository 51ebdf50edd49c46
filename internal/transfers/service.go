// Package transfers implements the inventory transfer report (ITR) workflow.
package transfers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/custody/internal/custody"
	"github.com/odyssey-erp/custody/internal/docnum"
	"github.com/odyssey-erp/custody/internal/ledger"
	"github.com/odyssey-erp/custody/internal/notify"
	"github.com/odyssey-erp/custody/internal/property"
	"github.com/odyssey-erp/custody/internal/shared"
)

// NumberKind prefixes generated transfer numbers.
const NumberKind = "ITR"

// DefaultMaxAttempts bounds transfer number regeneration.
const DefaultMaxAttempts = 5

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Notifier announces committed changes.
type Notifier interface {
	Publish(ctx context.Context, changes ...notify.Change)
}

// CustodyPort moves items between custodians inside a transaction.
type CustodyPort interface {
	AssignTx(ctx context.Context, tx property.Tx, itemID string, custodian property.Custodian, at time.Time, opts custody.AssignOptions) (property.Item, error)
}

// LedgerPort writes the property card side of a completion.
type LedgerPort interface {
	OpenCardTx(ctx context.Context, tx property.Tx, item property.Item, entityName, fundCluster string) (property.Card, error)
	AppendEntryTx(ctx context.Context, tx property.Tx, cardID string, in ledger.EntryInput) (property.Entry, error)
	HasEntryTx(ctx context.Context, tx property.Tx, cardID, reference, issueItemNo string) (bool, error)
}

// Metrics receives workflow counters.
type Metrics interface {
	TransferTransition(status string)
	ItemsReassigned(n int)
}

// Options tunes the workflow.
type Options struct {
	MaxAttempts int
}

// Service drives transfers through Draft, Issued, Completed and Rejected.
type Service struct {
	store    property.Store
	custody  CustodyPort
	ledger   LedgerPort
	audit    AuditPort
	notifier Notifier
	metrics  Metrics
	numbers  *docnum.Sequencer
	opts     Options
	logger   *slog.Logger
	now      func() time.Time
}

// NewService builds Service.
func NewService(store property.Store, registry CustodyPort, engine LedgerPort, audit AuditPort, notifier Notifier, metrics Metrics, opts Options, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	return &Service{
		store:    store,
		custody:  registry,
		ledger:   engine,
		audit:    audit,
		notifier: notifier,
		metrics:  metrics,
		numbers:  docnum.New(NumberKind, store.MaxTransferSequence),
		opts:     opts,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Create validates the request and stores a Draft transfer. Custody and the
// ledger are untouched until completion.
func (s *Service) Create(ctx context.Context, in CreateInput) (Detail, error) {
	in = normalizeInput(in)
	if err := property.ValidateStruct(in); err != nil {
		return Detail{}, err
	}
	if in.From.ID == in.To.ID {
		return Detail{}, property.Invalid("to.id", "must differ from the source custodian")
	}
	if in.TransferType == "" {
		in.TransferType = property.TransferReassignment
	}
	if !in.TransferType.Valid() {
		return Detail{}, property.Invalid("transfer_type", "unknown transfer type %q", in.TransferType)
	}
	if in.RequestedAt.IsZero() {
		in.RequestedAt = s.now()
	}

	var detail Detail
	insert := func(number string) error {
		return s.store.WithTx(ctx, func(ctx context.Context, tx property.Tx) error {
			var err error
			detail, err = s.insertDraft(ctx, tx, number, in)
			return err
		})
	}

	if in.TransferNumber != "" {
		if _, err := s.store.GetTransferByNumber(ctx, in.TransferNumber); err == nil {
			return Detail{}, property.Invalid("transfer_number", "%s already exists", in.TransferNumber)
		} else if !errors.Is(err, property.ErrNotFound) {
			return Detail{}, fmt.Errorf("transfers: lookup number: %w", err)
		}
		if err := insert(in.TransferNumber); err != nil {
			if errors.Is(err, property.ErrUniqueViolation) {
				return Detail{}, property.Invalid("transfer_number", "%s already exists", in.TransferNumber)
			}
			return Detail{}, err
		}
	} else {
		number, err := s.numbers.Insert(ctx, in.RequestedAt, s.opts.MaxAttempts, insert)
		if err != nil {
			var conflict *property.ConflictError
			if errors.As(err, &conflict) {
				s.logger.Error("transfers: numbering exhausted",
					slog.Int("attempts", s.opts.MaxAttempts),
					slog.Any("error", err))
			}
			return Detail{}, err
		}
		s.logger.Debug("transfers: number assigned", slog.String("transfer_number", number))
	}

	s.recordAudit(ctx, "transfer:create", detail.Transfer, map[string]any{
		"from":  detail.Transfer.From.ID,
		"to":    detail.Transfer.To.ID,
		"items": len(detail.Items),
	})
	s.observe(property.TransferDraft)
	s.publish(ctx, notify.ActionInsert, detail.Transfer.ID)
	return detail, nil
}

func (s *Service) insertDraft(ctx context.Context, tx property.Tx, number string, in CreateInput) (Detail, error) {
	from := in.From
	seen := make(map[string]struct{}, len(in.Items))
	lines := make([]property.TransferItem, 0, len(in.Items))
	transferID := uuid.NewString()

	for i, sel := range in.Items {
		field := fmt.Sprintf("items[%d]", i)
		if sel.ref().Empty() {
			return Detail{}, property.Invalid(field, "item id or property number required")
		}
		item, err := property.ResolveItem(ctx, tx, sel.ref())
		if err != nil {
			if errors.Is(err, property.ErrNotFound) {
				return Detail{}, property.Invalid(field, "item %s not found", refLabel(sel.ref()))
			}
			return Detail{}, fmt.Errorf("transfers: resolve item: %w", err)
		}
		if _, dup := seen[item.ID]; dup {
			return Detail{}, property.Invalid(field, "%s selected more than once", item.PropertyNumber)
		}
		seen[item.ID] = struct{}{}
		if !item.IsAssigned() || item.Custodian.ID != from.ID {
			holder := "nobody"
			if item.IsAssigned() {
				holder = item.Custodian.Name
			}
			return Detail{}, property.Invalid(field, "%s is held by %s, not %s", item.PropertyNumber, holder, from.Name)
		}
		if err := s.ensureNotPending(ctx, tx, item); err != nil {
			return Detail{}, err
		}

		line := property.TransferItem{
			ID:             uuid.NewString(),
			TransferID:     transferID,
			ItemID:         item.ID,
			PropertyNumber: item.PropertyNumber,
			Description:    item.Description,
			Quantity:       sel.Quantity,
			UnitCost:       item.UnitCost,
			Remarks:        sel.Remarks,
		}
		if line.Quantity == 0 {
			line.Quantity = item.Quantity
		}
		if sel.UnitCost != nil {
			line.UnitCost = *sel.UnitCost
		}
		if line.SlipItemID, err = latestSlipLine(ctx, tx, item); err != nil {
			return Detail{}, err
		}
		lines = append(lines, line)
	}

	transfer := property.Transfer{
		ID:             transferID,
		TransferNumber: number,
		EntityName:     in.EntityName,
		FundCluster:    in.FundCluster,
		From:           from,
		To:             in.To,
		TransferType:   in.TransferType,
		Status:         property.TransferDraft,
		Reason:         in.Reason,
		RequestedAt:    in.RequestedAt.UTC(),
		CreatedBy:      shared.ActorFromContext(ctx),
	}
	if err := tx.InsertTransfer(ctx, transfer); err != nil {
		return Detail{}, fmt.Errorf("transfers: insert transfer %s: %w", number, err)
	}
	for _, line := range lines {
		if err := tx.InsertTransferItem(ctx, line); err != nil {
			return Detail{}, fmt.Errorf("transfers: insert item %s: %w", line.PropertyNumber, err)
		}
	}
	if err := s.recordHistory(ctx, tx, transfer.ID, "", property.TransferDraft, ""); err != nil {
		return Detail{}, err
	}
	return Detail{Transfer: transfer, Items: lines}, nil
}

// latestSlipLine returns the slip line that most recently issued the item.
func latestSlipLine(ctx context.Context, tx property.Tx, item property.Item) (string, error) {
	lines, err := tx.ListSlipItemsByItem(ctx, item.Ref())
	if err != nil {
		return "", fmt.Errorf("transfers: list slip items: %w", err)
	}
	var latest string
	var latestAt time.Time
	for _, line := range lines {
		slip, _, err := tx.GetSlip(ctx, line.SlipID)
		if err != nil {
			if errors.Is(err, property.ErrNotFound) {
				continue
			}
			return "", fmt.Errorf("transfers: get slip: %w", err)
		}
		if latest == "" || slip.IssuedAt.After(latestAt) {
			latest, latestAt = line.ID, slip.IssuedAt
		}
	}
	return latest, nil
}

// ensureNotPending refuses items already listed on another open transfer.
func (s *Service) ensureNotPending(ctx context.Context, tx property.Tx, item property.Item) error {
	lines, err := tx.ListTransferItemsByItem(ctx, item.Ref())
	if err != nil {
		return fmt.Errorf("transfers: list transfer items: %w", err)
	}
	for _, line := range lines {
		other, _, err := tx.GetTransfer(ctx, line.TransferID)
		if err != nil {
			if errors.Is(err, property.ErrNotFound) {
				continue
			}
			return fmt.Errorf("transfers: get transfer: %w", err)
		}
		if other.Status.Open() {
			return &property.ConflictError{
				Entity: "item",
				ID:     item.PropertyNumber,
				Detail: fmt.Sprintf("already on transfer %s (%s)", other.TransferNumber, other.Status.Normalize()),
			}
		}
	}
	return nil
}

// Issue marks a Draft transfer as an official document. Custody does not
// move yet. Issuing an Issued transfer again is a no-op.
func (s *Service) Issue(ctx context.Context, id string) (property.Transfer, error) {
	var transfer property.Transfer
	changed := false
	err := s.store.WithTx(ctx, func(ctx context.Context, tx property.Tx) error {
		t, items, err := tx.LockTransfer(ctx, id)
		if err != nil {
			return err
		}
		transfer = t
		current := t.Status.Normalize()
		if current == property.TransferIssued {
			return nil
		}
		if !current.CanTransition(property.TransferIssued) {
			return s.violation(t, current, property.TransferIssued, "")
		}
		if len(items) == 0 {
			return s.violation(t, current, property.TransferIssued, "transfer has no items")
		}
		now := s.now()
		t.Status = property.TransferIssued
		t.ApprovedAt = &now
		t.ApprovedBy = shared.ActorFromContext(ctx)
		if err := tx.UpdateTransfer(ctx, t); err != nil {
			return fmt.Errorf("transfers: update transfer: %w", err)
		}
		if err := s.recordHistory(ctx, tx, t.ID, current, property.TransferIssued, ""); err != nil {
			return err
		}
		transfer = t
		changed = true
		return nil
	})
	if err != nil {
		return property.Transfer{}, err
	}
	if changed {
		s.recordAudit(ctx, "transfer:issue", transfer, nil)
		s.observe(property.TransferIssued)
		s.publish(ctx, notify.ActionUpdate, transfer.ID)
	}
	return transfer, nil
}

// Complete moves every listed item to the receiving custodian and appends an
// issue line to each item's property card, all in one transaction. A
// transfer that is already Completed is acknowledged without side effects.
func (s *Service) Complete(ctx context.Context, id string, at time.Time) (CompleteResult, error) {
	if at.IsZero() {
		at = s.now()
	}
	at = at.UTC()

	var result CompleteResult
	var entries []property.Entry
	err := s.store.WithTx(ctx, func(ctx context.Context, tx property.Tx) error {
		t, items, err := tx.LockTransfer(ctx, id)
		if err != nil {
			return err
		}
		current := t.Status.Normalize()
		switch {
		case current == property.TransferCompleted:
			if err := s.verifyCompleted(ctx, tx, t, items); err != nil {
				return err
			}
			result = CompleteResult{Transfer: t, Reassigned: len(items), AlreadyCompleted: true}
			return nil
		case !current.CanTransition(property.TransferCompleted):
			return s.violation(t, current, property.TransferCompleted, "")
		case len(items) == 0:
			return s.violation(t, current, property.TransferCompleted, "transfer has no items")
		}

		for _, line := range items {
			entry, appended, err := s.completeLine(ctx, tx, t, line, at)
			if err != nil {
				s.logger.Warn("transfers: completion rolled back",
					slog.String("transfer", t.TransferNumber),
					slog.String("property_number", line.PropertyNumber),
					slog.Any("error", err))
				return err
			}
			if appended {
				entries = append(entries, entry)
			}
			result.Reassigned++
		}

		t.Status = property.TransferCompleted
		t.CompletedAt = &at
		t.ReceivedBy = t.To.Name
		if err := tx.UpdateTransfer(ctx, t); err != nil {
			return fmt.Errorf("transfers: update transfer: %w", err)
		}
		if err := s.recordHistory(ctx, tx, t.ID, current, property.TransferCompleted, fmt.Sprintf("%d items reassigned", result.Reassigned)); err != nil {
			return err
		}
		result.Transfer = t
		return nil
	})
	if err != nil {
		return CompleteResult{}, err
	}
	if result.AlreadyCompleted {
		return result, nil
	}

	s.recordAudit(ctx, "transfer:complete", result.Transfer, map[string]any{
		"reassigned": result.Reassigned,
		"to":         result.Transfer.To.ID,
	})
	s.observe(property.TransferCompleted)
	if s.metrics != nil {
		s.metrics.ItemsReassigned(result.Reassigned)
	}
	s.publish(ctx, notify.ActionUpdate, result.Transfer.ID)
	if s.notifier != nil {
		changes := make([]notify.Change, 0, len(entries))
		for _, en := range entries {
			changes = append(changes, notify.Change{Table: "property_card_entries", ID: en.ID, Action: notify.ActionInsert})
		}
		s.notifier.Publish(ctx, changes...)
	}
	return result, nil
}

func (s *Service) completeLine(ctx context.Context, tx property.Tx, t property.Transfer, line property.TransferItem, at time.Time) (property.Entry, bool, error) {
	item, err := property.ResolveItem(ctx, tx, line.Ref())
	if err != nil {
		if errors.Is(err, property.ErrNotFound) {
			return property.Entry{}, false, &property.ConflictError{Entity: "item", ID: line.PropertyNumber, Detail: "item no longer exists", Err: err}
		}
		return property.Entry{}, false, fmt.Errorf("transfers: resolve item: %w", err)
	}
	if holder := item.Custodian.ID; holder != t.From.ID && holder != t.To.ID {
		return property.Entry{}, false, &property.ConflictError{
			Entity: "item",
			ID:     item.PropertyNumber,
			Detail: fmt.Sprintf("custody changed to %q since %s was created", item.Custodian.Name, t.TransferNumber),
		}
	}
	if _, err := s.custody.AssignTx(ctx, tx, item.ID, t.To, at, custody.AssignOptions{Reassign: true}); err != nil {
		return property.Entry{}, false, err
	}

	card, err := property.ResolveCard(ctx, tx, item)
	if errors.Is(err, property.ErrNotFound) {
		s.logger.Info("transfers: opening missing property card",
			slog.String("property_number", item.PropertyNumber),
			slog.String("transfer", t.TransferNumber))
		card, err = s.ledger.OpenCardTx(ctx, tx, item, t.EntityName, t.FundCluster)
	}
	if err != nil {
		return property.Entry{}, false, err
	}

	has, err := s.ledger.HasEntryTx(ctx, tx, card.ID, t.TransferNumber, line.ID)
	if err != nil {
		return property.Entry{}, false, err
	}
	if has {
		return property.Entry{}, false, nil
	}
	qty := line.Quantity
	if qty <= 0 {
		qty = 1
	}
	entry, err := s.ledger.AppendEntryTx(ctx, tx, card.ID, ledger.EntryInput{
		Date:          at,
		Reference:     t.TransferNumber,
		IssueQty:      qty,
		IssueAmount:   line.UnitCost.Mul(decimal.NewFromInt(int64(qty))),
		IssueItemNo:   line.ID,
		OfficeOfficer: t.To.OfficeOfficer(),
		Remarks:       line.Remarks,
	})
	if err != nil {
		return property.Entry{}, false, err
	}
	return entry, true, nil
}

// verifyCompleted checks that a Completed transfer left one card line per
// item. A missing line means the stored items diverged after completion.
func (s *Service) verifyCompleted(ctx context.Context, tx property.Tx, t property.Transfer, items []property.TransferItem) error {
	for _, line := range items {
		item, err := property.ResolveItem(ctx, tx, line.Ref())
		if err != nil {
			return fmt.Errorf("transfers: resolve item: %w", err)
		}
		card, err := property.ResolveCard(ctx, tx, item)
		if err != nil && !errors.Is(err, property.ErrNotFound) {
			return fmt.Errorf("transfers: resolve card: %w", err)
		}
		has := false
		if err == nil {
			if has, err = s.ledger.HasEntryTx(ctx, tx, card.ID, t.TransferNumber, line.ID); err != nil {
				return err
			}
		}
		if !has {
			return s.violation(t, property.TransferCompleted, property.TransferCompleted,
				fmt.Sprintf("divergent item set: %s has no card line", line.PropertyNumber))
		}
	}
	return nil
}

// Reject closes a Draft or Issued transfer without side effects. Rejecting
// a Rejected transfer is a no-op.
func (s *Service) Reject(ctx context.Context, id, note string) (property.Transfer, error) {
	var transfer property.Transfer
	changed := false
	err := s.store.WithTx(ctx, func(ctx context.Context, tx property.Tx) error {
		t, _, err := tx.LockTransfer(ctx, id)
		if err != nil {
			return err
		}
		transfer = t
		current := t.Status.Normalize()
		if current == property.TransferRejected {
			return nil
		}
		if !current.CanTransition(property.TransferRejected) {
			return s.violation(t, current, property.TransferRejected, "")
		}
		t.Status = property.TransferRejected
		if err := tx.UpdateTransfer(ctx, t); err != nil {
			return fmt.Errorf("transfers: update transfer: %w", err)
		}
		if err := s.recordHistory(ctx, tx, t.ID, current, property.TransferRejected, strings.TrimSpace(note)); err != nil {
			return err
		}
		transfer = t
		changed = true
		return nil
	})
	if err != nil {
		return property.Transfer{}, err
	}
	if changed {
		s.recordAudit(ctx, "transfer:reject", transfer, map[string]any{"note": note})
		s.observe(property.TransferRejected)
		s.publish(ctx, notify.ActionUpdate, transfer.ID)
	}
	return transfer, nil
}

// Delete removes a Draft transfer, lines first.
func (s *Service) Delete(ctx context.Context, id string) error {
	var transfer property.Transfer
	err := s.store.WithTx(ctx, func(ctx context.Context, tx property.Tx) error {
		var err error
		transfer, err = s.DeleteTx(ctx, tx, id)
		return err
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, "transfer:delete", transfer, nil)
	s.publish(ctx, notify.ActionDelete, transfer.ID)
	return nil
}

// DeleteTx removes a Draft transfer inside tx.
func (s *Service) DeleteTx(ctx context.Context, tx property.Tx, id string) (property.Transfer, error) {
	t, items, err := tx.LockTransfer(ctx, id)
	if err != nil {
		return property.Transfer{}, err
	}
	if status := t.Status.Normalize(); status != property.TransferDraft {
		return property.Transfer{}, &property.ReferentialBlock{
			Entity: "transfer",
			ID:     t.TransferNumber,
			Blockers: []property.Blocker{{
				Kind:   "transfer",
				ID:     t.TransferNumber,
				Reason: fmt.Sprintf("status is %s, only Draft transfers can be deleted", status),
			}},
		}
	}
	ids := make([]string, 0, len(items))
	for _, line := range items {
		ids = append(ids, line.ID)
	}
	if len(ids) > 0 {
		if _, err := tx.DeleteTransferItems(ctx, ids); err != nil {
			return property.Transfer{}, fmt.Errorf("transfers: delete items: %w", err)
		}
	}
	n, err := tx.DeleteTransfer(ctx, t.ID)
	if err != nil {
		return property.Transfer{}, fmt.Errorf("transfers: delete transfer: %w", err)
	}
	if n != 1 {
		return property.Transfer{}, &property.InvariantViolation{Entity: "transfer", ID: t.TransferNumber, Transition: "Draft->deleted", Detail: fmt.Sprintf("expected 1 row deleted, got %d", n)}
	}
	return t, nil
}

// Get returns the transfer with its lines.
func (s *Service) Get(ctx context.Context, id string) (Detail, error) {
	t, items, err := s.store.GetTransfer(ctx, id)
	if err != nil {
		return Detail{}, err
	}
	return Detail{Transfer: t, Items: items}, nil
}

// List returns transfers matching filter, newest number first.
func (s *Service) List(ctx context.Context, filter property.TransferFilter) ([]property.Transfer, error) {
	return s.store.ListTransfers(ctx, filter)
}

// History returns the recorded status transitions of a transfer.
func (s *Service) History(ctx context.Context, id string) ([]property.TransferHistory, error) {
	if _, _, err := s.store.GetTransfer(ctx, id); err != nil {
		return nil, err
	}
	return s.store.ListHistory(ctx, id)
}

func (s *Service) recordHistory(ctx context.Context, tx property.Tx, transferID string, from, to property.TransferStatus, note string) error {
	err := tx.InsertHistory(ctx, property.TransferHistory{
		ID:         uuid.NewString(),
		TransferID: transferID,
		FromStatus: from,
		ToStatus:   to,
		ActorID:    shared.ActorFromContext(ctx),
		Note:       note,
		At:         s.now(),
	})
	if err != nil {
		return fmt.Errorf("transfers: insert history: %w", err)
	}
	return nil
}

func (s *Service) violation(t property.Transfer, from, to property.TransferStatus, detail string) error {
	v := &property.InvariantViolation{
		Entity:     "transfer",
		ID:         t.TransferNumber,
		Transition: fmt.Sprintf("%s->%s", from, to),
		Detail:     detail,
	}
	s.logger.Warn("transfers: transition refused",
		slog.String("transfer_id", t.ID),
		slog.String("transfer", t.TransferNumber),
		slog.String("transition", v.Transition),
		slog.String("detail", detail))
	return v
}

func (s *Service) recordAudit(ctx context.Context, action string, t property.Transfer, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if meta == nil {
		meta = map[string]any{}
	}
	meta["transfer_number"] = t.TransferNumber
	meta["status"] = t.Status.Normalize()
	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  shared.ActorFromContext(ctx),
		Action:   action,
		Entity:   "property_transfer",
		EntityID: t.ID,
		Meta:     meta,
	}); err != nil {
		s.logger.Warn("transfers: audit", slog.String("action", action), slog.Any("error", err))
	}
}

func (s *Service) observe(status property.TransferStatus) {
	if s.metrics != nil {
		s.metrics.TransferTransition(string(status))
	}
}

func (s *Service) publish(ctx context.Context, action, id string) {
	if s.notifier == nil {
		return
	}
	s.notifier.Publish(ctx, notify.Change{Table: "property_transfers", ID: id, Action: action})
}

func normalizeInput(in CreateInput) CreateInput {
	in.TransferNumber = strings.TrimSpace(in.TransferNumber)
	in.EntityName = strings.TrimSpace(in.EntityName)
	in.FundCluster = strings.TrimSpace(in.FundCluster)
	in.Reason = strings.TrimSpace(in.Reason)
	in.From.ID = strings.TrimSpace(in.From.ID)
	in.From.Name = strings.TrimSpace(in.From.Name)
	in.To.ID = strings.TrimSpace(in.To.ID)
	in.To.Name = strings.TrimSpace(in.To.Name)
	in.From.Position = strings.TrimSpace(in.From.Position)
	in.To.Position = strings.TrimSpace(in.To.Position)
	for i := range in.Items {
		in.Items[i].ItemID = strings.TrimSpace(in.Items[i].ItemID)
		in.Items[i].PropertyNumber = strings.TrimSpace(in.Items[i].PropertyNumber)
	}
	return in
}

func refLabel(ref property.ItemRef) string {
	if ref.PropertyNumber != "" {
		return ref.PropertyNumber
	}
	return ref.ID
}
