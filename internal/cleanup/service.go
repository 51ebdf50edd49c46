// Package cleanup deletes custody records without leaving dangling
// references behind.
package cleanup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.uber.org/multierr"

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

// TransferPort deletes Draft transfers under the workflow rules.
type TransferPort interface {
	DeleteTx(ctx context.Context, tx property.Tx, id string) (property.Transfer, error)
}

// Metrics receives cleanup outcomes.
type Metrics interface {
	CleanupOutcome(entity, outcome string)
}

// Service answers and performs deletions.
type Service struct {
	store     property.Store
	transfers TransferPort
	audit     AuditPort
	notifier  Notifier
	metrics   Metrics
	retry     bool
	logger    *slog.Logger
}

// NewService builds Service. retry enables the single scrub-and-retry pass
// after a storage failure.
func NewService(store property.Store, transfers TransferPort, audit AuditPort, notifier Notifier, metrics Metrics, retry bool, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:     store,
		transfers: transfers,
		audit:     audit,
		notifier:  notifier,
		metrics:   metrics,
		retry:     retry,
		logger:    logger,
	}
}

// CanDelete reports whether the record can be deleted and what blocks it.
func (s *Service) CanDelete(ctx context.Context, entity Entity, id string) (Verdict, error) {
	return s.verdict(ctx, s.store, entity, id)
}

func (s *Service) verdict(ctx context.Context, q property.Queries, entity Entity, id string) (Verdict, error) {
	v := Verdict{Entity: entity, ID: id}
	absolute := false
	switch entity {
	case EntityItem:
		item, err := property.ResolveItem(ctx, q, property.ItemRef{ID: id, PropertyNumber: id})
		if err != nil {
			return Verdict{}, err
		}
		v.ID = item.ID
		if b, blocked := custodyBlock(item); blocked {
			v.Blockers = append(v.Blockers, b)
			absolute = true
		}
		deps, err := collect(ctx, q, item)
		if err != nil {
			return Verdict{}, err
		}
		v.Blockers = append(v.Blockers, deps.blockers()...)
	case EntityCard:
		card, entries, err := cardWithEntries(ctx, q, id)
		if err != nil {
			return Verdict{}, err
		}
		v.ID = card.ID
		refs, err := referencedEntries(ctx, q, entries)
		if err != nil {
			return Verdict{}, err
		}
		v.Blockers = append(v.Blockers, refs...)
		absolute = len(refs) > 0
	case EntityTransfer:
		t, _, err := q.GetTransfer(ctx, id)
		if err != nil {
			return Verdict{}, err
		}
		if status := t.Status.Normalize(); status != property.TransferDraft {
			v.Blockers = append(v.Blockers, property.Blocker{Kind: "transfer", ID: t.TransferNumber, Reason: fmt.Sprintf("status is %s, only Draft transfers can be deleted", status)})
			absolute = true
		}
	case EntitySlip:
		slip, lines, err := q.GetSlip(ctx, id)
		if err != nil {
			return Verdict{}, err
		}
		for _, line := range lines {
			v.Blockers = append(v.Blockers, property.Blocker{Kind: "custodian_slip_item", ID: line.ID, Reason: fmt.Sprintf("line for %s on %s", line.PropertyNumber, slip.SlipNumber)})
		}
	default:
		return Verdict{}, property.Invalid("entity", "unknown entity %q", entity)
	}
	v.Allowed = len(v.Blockers) == 0
	v.Forceable = !v.Allowed && !absolute
	return v, nil
}

// Delete removes the record. Without Force any dependent blocks the delete.
// With Force the dependents are scrubbed in the same transaction. A storage
// failure is retried once in a new transaction that collects and scrubs the
// dependents again under the same options; a second failure reports the
// dependents that remain.
func (s *Service) Delete(ctx context.Context, entity Entity, id string, opts Options) (Report, error) {
	if _, err := ParseEntity(string(entity)); err != nil {
		return Report{}, err
	}
	report, err := s.attempt(ctx, entity, id, opts)
	if err != nil && retryable(err) {
		if !s.retry {
			s.observe(entity, "failed")
			return Report{}, &property.StorageError{Op: fmt.Sprintf("delete %s %s", entity, id), Err: err}
		}
		s.logger.Warn("cleanup: delete failed, retrying after scrub",
			slog.String("entity", string(entity)),
			slog.String("id", id),
			slog.Bool("force", opts.Force),
			slog.Any("error", err))
		first := err
		report, err = s.attempt(ctx, entity, id, opts)
		if err != nil && retryable(err) {
			storageErr := &property.StorageError{
				Op:  fmt.Sprintf("delete %s %s", entity, id),
				Err: multierr.Combine(first, err),
			}
			if v, verr := s.CanDelete(ctx, entity, id); verr == nil {
				storageErr.Unremoved = v.Blockers
			}
			s.logger.Error("cleanup: delete failed after retry",
				slog.String("entity", string(entity)),
				slog.String("id", id),
				slog.Int("unremoved", len(storageErr.Unremoved)),
				slog.Any("error", storageErr.Err))
			s.observe(entity, "failed")
			return Report{}, storageErr
		}
		report.Retried = err == nil
	}
	if err != nil {
		var block *property.ReferentialBlock
		if errors.As(err, &block) {
			s.observe(entity, "blocked")
		}
		return Report{}, err
	}

	s.observe(entity, "deleted")
	s.recordAudit(ctx, report, opts)
	s.publish(ctx, report)
	return report, nil
}

func (s *Service) attempt(ctx context.Context, entity Entity, id string, opts Options) (Report, error) {
	var report Report
	err := s.store.WithTx(ctx, func(ctx context.Context, tx property.Tx) error {
		report = Report{Entity: entity, ID: id}
		switch entity {
		case EntityItem:
			return s.deleteItem(ctx, tx, id, opts, &report)
		case EntityCard:
			return s.deleteCard(ctx, tx, id, &report)
		case EntityTransfer:
			return s.deleteTransfer(ctx, tx, id, &report)
		case EntitySlip:
			return s.deleteSlip(ctx, tx, id, opts, &report)
		}
		return property.Invalid("entity", "unknown entity %q", entity)
	})
	return report, err
}

func (s *Service) deleteItem(ctx context.Context, tx property.Tx, id string, opts Options, report *Report) error {
	item, err := property.ResolveItem(ctx, tx, property.ItemRef{ID: id, PropertyNumber: id})
	if err != nil {
		return err
	}
	if item, err = tx.LockItem(ctx, item.ID); err != nil {
		return err
	}
	report.ID = item.ID
	if b, blocked := custodyBlock(item); blocked {
		return &property.ReferentialBlock{Entity: "item", ID: item.PropertyNumber, Blockers: []property.Blocker{b}}
	}
	deps, err := collect(ctx, tx, item)
	if err != nil {
		return err
	}
	if !deps.empty() {
		if !opts.Force {
			return &property.ReferentialBlock{Entity: "item", ID: item.PropertyNumber, Blockers: deps.blockers()}
		}
		if err := scrub(ctx, tx, deps, report); err != nil {
			return err
		}
	}
	n, err := tx.DeleteItem(ctx, item.ID)
	if err != nil {
		return fmt.Errorf("cleanup: delete item %s: %w", item.PropertyNumber, err)
	}
	if n != 1 {
		return &property.InvariantViolation{Entity: "item", ID: item.PropertyNumber, Transition: "delete", Detail: fmt.Sprintf("race: expected 1 row deleted, got %d", n)}
	}
	report.add("inventory_items", n)
	return nil
}

// scrub removes the dependents of an item. Slip lines go before the card
// entries they point at; transfers and cards left empty go last.
func scrub(ctx context.Context, tx property.Tx, deps dependents, report *Report) error {
	slipItems, entries, transferItems := deps.ids()
	if len(slipItems) > 0 {
		n, err := tx.DeleteSlipItems(ctx, slipItems)
		if err != nil {
			return fmt.Errorf("cleanup: delete slip items: %w", err)
		}
		report.add("custodian_slip_items", n)
	}
	if len(entries) > 0 {
		n, err := tx.DeleteEntries(ctx, entries)
		if err != nil {
			return fmt.Errorf("cleanup: delete card entries: %w", err)
		}
		report.add("property_card_entries", n)
	}
	if len(transferItems) > 0 {
		n, err := tx.DeleteTransferItems(ctx, transferItems)
		if err != nil {
			return fmt.Errorf("cleanup: delete transfer items: %w", err)
		}
		report.add("transfer_items", n)
	}
	for id, t := range deps.transfers {
		left, err := tx.CountTransferItems(ctx, id)
		if err != nil {
			return fmt.Errorf("cleanup: count transfer items: %w", err)
		}
		if left > 0 {
			continue
		}
		n, err := tx.DeleteTransfer(ctx, id)
		if err != nil {
			return fmt.Errorf("cleanup: delete emptied transfer %s: %w", t.TransferNumber, err)
		}
		report.add("property_transfers", n)
	}
	for _, card := range deps.cards {
		left, err := tx.ListEntries(ctx, card.ID)
		if err != nil {
			return fmt.Errorf("cleanup: list entries: %w", err)
		}
		if len(left) > 0 {
			continue
		}
		n, err := tx.DeleteCard(ctx, card.ID)
		if err != nil {
			return fmt.Errorf("cleanup: delete card %s: %w", card.PropertyNumber, err)
		}
		report.add("property_cards", n)
	}
	return nil
}

func (s *Service) deleteCard(ctx context.Context, tx property.Tx, id string, report *Report) error {
	card, entries, err := cardWithEntries(ctx, tx, id)
	if err != nil {
		return err
	}
	if _, err := tx.LockCard(ctx, card.ID); err != nil {
		return err
	}
	report.ID = card.ID
	refs, err := referencedEntries(ctx, tx, entries)
	if err != nil {
		return err
	}
	if len(refs) > 0 {
		return &property.ReferentialBlock{Entity: "property_card", ID: card.PropertyNumber, Blockers: refs}
	}
	if len(entries) > 0 {
		ids := make([]string, 0, len(entries))
		for _, en := range entries {
			ids = append(ids, en.ID)
		}
		n, err := tx.DeleteEntries(ctx, ids)
		if err != nil {
			return fmt.Errorf("cleanup: delete card entries: %w", err)
		}
		report.add("property_card_entries", n)
	}
	n, err := tx.DeleteCard(ctx, card.ID)
	if err != nil {
		return fmt.Errorf("cleanup: delete card %s: %w", card.PropertyNumber, err)
	}
	if n != 1 {
		return &property.InvariantViolation{Entity: "property_card", ID: card.PropertyNumber, Transition: "delete", Detail: fmt.Sprintf("race: expected 1 row deleted, got %d", n)}
	}
	report.add("property_cards", n)
	return nil
}

func (s *Service) deleteTransfer(ctx context.Context, tx property.Tx, id string, report *Report) error {
	if s.transfers == nil {
		return property.Invalid("entity", "transfer deletion is not configured")
	}
	_, items, err := tx.GetTransfer(ctx, id)
	if err != nil {
		return err
	}
	if _, err := s.transfers.DeleteTx(ctx, tx, id); err != nil {
		return err
	}
	report.add("transfer_items", int64(len(items)))
	report.add("property_transfers", 1)
	return nil
}

func (s *Service) deleteSlip(ctx context.Context, tx property.Tx, id string, opts Options, report *Report) error {
	slip, lines, err := tx.GetSlip(ctx, id)
	if err != nil {
		return err
	}
	if len(lines) > 0 {
		if !opts.Force {
			blockers := make([]property.Blocker, 0, len(lines))
			for _, line := range lines {
				blockers = append(blockers, property.Blocker{Kind: "custodian_slip_item", ID: line.ID, Reason: fmt.Sprintf("line for %s", line.PropertyNumber)})
			}
			return &property.ReferentialBlock{Entity: "slip", ID: slip.SlipNumber, Blockers: blockers}
		}
		ids := make([]string, 0, len(lines))
		for _, line := range lines {
			ids = append(ids, line.ID)
		}
		n, err := tx.DeleteSlipItems(ctx, ids)
		if err != nil {
			return fmt.Errorf("cleanup: delete slip lines: %w", err)
		}
		report.add("custodian_slip_items", n)
	}
	n, err := tx.DeleteSlip(ctx, slip.ID)
	if err != nil {
		return fmt.Errorf("cleanup: delete slip %s: %w", slip.SlipNumber, err)
	}
	if n != 1 {
		return &property.InvariantViolation{Entity: "slip", ID: slip.SlipNumber, Transition: "delete", Detail: fmt.Sprintf("race: expected 1 row deleted, got %d", n)}
	}
	report.add("custodian_slips", n)
	return nil
}

// collect gathers every row that references the item by id or property
// number.
func collect(ctx context.Context, q property.Queries, item property.Item) (dependents, error) {
	deps := dependents{transfers: map[string]property.Transfer{}}
	var err error
	if deps.slipItems, err = q.ListSlipItemsByItem(ctx, item.Ref()); err != nil {
		return dependents{}, fmt.Errorf("cleanup: list slip items: %w", err)
	}
	if deps.transferItems, err = q.ListTransferItemsByItem(ctx, item.Ref()); err != nil {
		return dependents{}, fmt.Errorf("cleanup: list transfer items: %w", err)
	}
	for _, ti := range deps.transferItems {
		if _, ok := deps.transfers[ti.TransferID]; ok {
			continue
		}
		t, _, err := q.GetTransfer(ctx, ti.TransferID)
		if err != nil {
			if errors.Is(err, property.ErrNotFound) {
				continue
			}
			return dependents{}, fmt.Errorf("cleanup: get transfer: %w", err)
		}
		deps.transfers[t.ID] = t
	}

	seen := map[string]bool{}
	addCard := func(card property.Card, err error) error {
		if err != nil {
			if errors.Is(err, property.ErrNotFound) {
				return nil
			}
			return fmt.Errorf("cleanup: get card: %w", err)
		}
		if seen[card.ID] {
			return nil
		}
		seen[card.ID] = true
		entries, err := q.ListEntries(ctx, card.ID)
		if err != nil {
			return fmt.Errorf("cleanup: list entries: %w", err)
		}
		deps.cards = append(deps.cards, card)
		deps.entries = append(deps.entries, entries...)
		return nil
	}
	if err := addCard(q.GetCardByItem(ctx, item.ID)); err != nil {
		return dependents{}, err
	}
	if err := addCard(q.GetCardByNumber(ctx, item.PropertyNumber)); err != nil {
		return dependents{}, err
	}
	return deps, nil
}

func cardWithEntries(ctx context.Context, q property.Queries, id string) (property.Card, []property.Entry, error) {
	card, err := q.GetCard(ctx, id)
	if errors.Is(err, property.ErrNotFound) {
		card, err = q.GetCardByNumber(ctx, id)
	}
	if err != nil {
		return property.Card{}, nil, err
	}
	entries, err := q.ListEntries(ctx, card.ID)
	if err != nil {
		return property.Card{}, nil, fmt.Errorf("cleanup: list entries: %w", err)
	}
	return card, entries, nil
}

// referencedEntries lists the slip lines and transfer lines that point at any
// of the entries. Slip lines hold the entry id; transfer lines are matched
// through the entry's IssueItemNo.
func referencedEntries(ctx context.Context, q property.Queries, entries []property.Entry) ([]property.Blocker, error) {
	if len(entries) == 0 {
		return nil, nil
	}
	ids := make([]string, 0, len(entries))
	byLine := map[string]string{}
	lineIDs := make([]string, 0, len(entries))
	for _, en := range entries {
		ids = append(ids, en.ID)
		if en.IssueItemNo == "" {
			continue
		}
		if _, seen := byLine[en.IssueItemNo]; !seen {
			lineIDs = append(lineIDs, en.IssueItemNo)
		}
		byLine[en.IssueItemNo] = en.ID
	}
	lines, err := q.ListSlipItemsByEntries(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("cleanup: list slip items by entry: %w", err)
	}
	out := make([]property.Blocker, 0, len(lines))
	for _, line := range lines {
		out = append(out, property.Blocker{Kind: "custodian_slip_item", ID: line.ID, Reason: fmt.Sprintf("slip line for %s references card entry %s", line.PropertyNumber, line.EntryID)})
	}
	transferLines, err := q.ListTransferItemsByIDs(ctx, lineIDs)
	if err != nil {
		return nil, fmt.Errorf("cleanup: list transfer items by id: %w", err)
	}
	numbers := map[string]string{}
	for _, ti := range transferLines {
		number, ok := numbers[ti.TransferID]
		if !ok {
			t, _, err := q.GetTransfer(ctx, ti.TransferID)
			switch {
			case err == nil:
				number = t.TransferNumber
			case errors.Is(err, property.ErrNotFound):
				number = ti.TransferID
			default:
				return nil, fmt.Errorf("cleanup: get transfer %s: %w", ti.TransferID, err)
			}
			numbers[ti.TransferID] = number
		}
		out = append(out, property.Blocker{Kind: "transfer_item", ID: ti.ID, Reason: fmt.Sprintf("transfer %s line for %s references card entry %s", number, ti.PropertyNumber, byLine[ti.ID])})
	}
	return out, nil
}

// custodyBlock is absolute: force never overrides it.
func custodyBlock(item property.Item) (property.Blocker, bool) {
	if !item.IsAssigned() {
		return property.Blocker{}, false
	}
	return property.Blocker{
		Kind:   "custodian",
		ID:     item.Custodian.ID,
		Reason: fmt.Sprintf("%s is assigned to %s (%s); release it first", item.PropertyNumber, item.Custodian.Name, item.Custodian.ID),
	}, true
}

func retryable(err error) bool {
	var (
		block     *property.ReferentialBlock
		invalid   *property.ValidationError
		violation *property.InvariantViolation
	)
	switch {
	case errors.As(err, &block), errors.As(err, &invalid), errors.As(err, &violation):
		return false
	case errors.Is(err, property.ErrNotFound), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	}
	return true
}

func (s *Service) observe(entity Entity, outcome string) {
	if s.metrics != nil {
		s.metrics.CleanupOutcome(string(entity), outcome)
	}
}

func (s *Service) recordAudit(ctx context.Context, report Report, opts Options) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  shared.ActorFromContext(ctx),
		Action:   "cleanup:delete",
		Entity:   string(report.Entity),
		EntityID: report.ID,
		Meta: map[string]any{
			"force":   opts.Force,
			"removed": report.Removed,
			"retried": report.Retried,
		},
	}); err != nil {
		s.logger.Warn("cleanup: audit", slog.Any("error", err))
	}
}

func (s *Service) publish(ctx context.Context, report Report) {
	if s.notifier == nil {
		return
	}
	table := map[Entity]string{
		EntityItem:     "inventory_items",
		EntityCard:     "property_cards",
		EntityTransfer: "property_transfers",
		EntitySlip:     "custodian_slips",
	}[report.Entity]
	s.notifier.Publish(ctx, notify.Change{Table: table, ID: report.ID, Action: notify.ActionDelete})
}
