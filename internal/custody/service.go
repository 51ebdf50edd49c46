// Package custody keeps the one-custodian-per-item registry.
package custody

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/custody/internal/ledger"
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

// LedgerPort is the subset of the ledger engine used at intake.
type LedgerPort interface {
	OpenCardTx(ctx context.Context, tx property.Tx, item property.Item, entityName, fundCluster string) (property.Card, error)
	AppendEntryTx(ctx context.Context, tx property.Tx, cardID string, in ledger.EntryInput) (property.Entry, error)
}

// Registry coordinates custody operations.
type Registry struct {
	store    property.Store
	ledger   LedgerPort
	audit    AuditPort
	notifier Notifier
	logger   *slog.Logger
	now      func() time.Time
}

// NewRegistry builds Registry.
func NewRegistry(store property.Store, engine LedgerPort, audit AuditPort, notifier Notifier, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		store:    store,
		ledger:   engine,
		audit:    audit,
		notifier: notifier,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Assign records custodian as the holder of the item.
func (r *Registry) Assign(ctx context.Context, itemID string, custodian property.Custodian, at time.Time) (property.Item, error) {
	var item property.Item
	err := r.store.WithTx(ctx, func(ctx context.Context, tx property.Tx) error {
		var err error
		item, err = r.AssignTx(ctx, tx, itemID, custodian, at, AssignOptions{})
		return err
	})
	if err != nil {
		return property.Item{}, err
	}
	r.recordAudit(ctx, "custody:assign", item.ID, map[string]any{
		"custodian_id":   custodian.ID,
		"custodian_name": custodian.Name,
	})
	r.publish(ctx, item.ID)
	return item, nil
}

// AssignTx assigns inside an existing transaction. Assigning the current
// custodian again refreshes the assignment date.
func (r *Registry) AssignTx(ctx context.Context, tx property.Tx, itemID string, custodian property.Custodian, at time.Time, opts AssignOptions) (property.Item, error) {
	if strings.TrimSpace(custodian.ID) == "" {
		return property.Item{}, property.Invalid("custodian_id", "is required")
	}
	if strings.TrimSpace(custodian.Name) == "" {
		return property.Item{}, property.Invalid("custodian_name", "is required")
	}
	item, err := tx.LockItem(ctx, itemID)
	if err != nil {
		return property.Item{}, err
	}
	if item.Condition != property.ConditionServiceable {
		return property.Item{}, &property.ConflictError{Entity: "item", ID: item.PropertyNumber, Detail: fmt.Sprintf("condition is %s, only Serviceable items can be assigned", item.Condition)}
	}
	if item.Status != property.ItemActive {
		return property.Item{}, &property.ConflictError{Entity: "item", ID: item.PropertyNumber, Detail: fmt.Sprintf("status is %s, only Active items can be assigned", item.Status)}
	}
	if item.IsAssigned() && item.Custodian.ID != custodian.ID && !opts.Reassign {
		return property.Item{}, &property.ConflictError{
			Entity: "item",
			ID:     item.PropertyNumber,
			Detail: fmt.Sprintf("already assigned to %s (%s)", item.Custodian.Name, item.Custodian.ID),
		}
	}
	if at.IsZero() {
		at = r.now()
	}
	at = at.UTC()
	item.AssignmentStatus = property.AssignmentAssigned
	item.Custodian = custodian
	item.AssignedAt = &at
	item.RecomputeTotal()
	if err := tx.UpdateItem(ctx, item); err != nil {
		return property.Item{}, fmt.Errorf("custody: update item: %w", err)
	}
	return item, nil
}

// Release clears the custodian of the item.
func (r *Registry) Release(ctx context.Context, itemID string) (property.Item, error) {
	var item, before property.Item
	err := r.store.WithTx(ctx, func(ctx context.Context, tx property.Tx) error {
		var err error
		if before, err = tx.LockItem(ctx, itemID); err != nil {
			return err
		}
		item, err = r.ReleaseTx(ctx, tx, itemID)
		return err
	})
	if err != nil {
		return property.Item{}, err
	}
	r.recordAudit(ctx, "custody:release", item.ID, map[string]any{"custodian_id": before.Custodian.ID})
	r.publish(ctx, item.ID)
	return item, nil
}

// ReleaseTx releases inside an existing transaction. It refuses while an
// open transfer still lists the item.
func (r *Registry) ReleaseTx(ctx context.Context, tx property.Tx, itemID string) (property.Item, error) {
	item, err := tx.LockItem(ctx, itemID)
	if err != nil {
		return property.Item{}, err
	}
	lines, err := tx.ListTransferItemsByItem(ctx, item.Ref())
	if err != nil {
		return property.Item{}, fmt.Errorf("custody: list transfer items: %w", err)
	}
	for _, line := range lines {
		t, _, err := tx.GetTransfer(ctx, line.TransferID)
		if err != nil {
			if errors.Is(err, property.ErrNotFound) {
				continue
			}
			return property.Item{}, fmt.Errorf("custody: get transfer: %w", err)
		}
		if t.Status.Open() {
			r.logger.Warn("custody: release blocked by open transfer",
				slog.String("item_id", item.ID),
				slog.String("transfer", t.TransferNumber),
				slog.String("status", string(t.Status.Normalize())))
			return property.Item{}, &property.InvariantViolation{
				Entity:     "item",
				ID:         item.PropertyNumber,
				Transition: "Assigned->Available",
				Detail:     fmt.Sprintf("transfer %s is %s", t.TransferNumber, t.Status.Normalize()),
			}
		}
	}
	item.AssignmentStatus = property.AssignmentAvailable
	item.Custodian = property.Custodian{}
	item.AssignedAt = nil
	item.RecomputeTotal()
	if err := tx.UpdateItem(ctx, item); err != nil {
		return property.Item{}, fmt.Errorf("custody: update item: %w", err)
	}
	return item, nil
}

// IsAssigned reports whether the item currently has a custodian.
func (r *Registry) IsAssigned(ctx context.Context, itemID string) (bool, error) {
	item, err := r.store.GetItem(ctx, itemID)
	if err != nil {
		return false, err
	}
	return item.IsAssigned(), nil
}

// Item resolves an item by id, then property number.
func (r *Registry) Item(ctx context.Context, ref property.ItemRef) (property.Item, error) {
	return property.ResolveItem(ctx, r.store, ref)
}

// ListAvailable returns the items that can be handed to a custodian.
func (r *Registry) ListAvailable(ctx context.Context) ([]property.Item, error) {
	items, err := r.store.ListItems(ctx, property.ItemFilter{Condition: property.ConditionServiceable, Status: property.ItemActive})
	if err != nil {
		return nil, err
	}
	out := items[:0]
	for _, item := range items {
		if item.Available() {
			out = append(out, item)
		}
	}
	return out, nil
}

// Holdings returns the items held by a custodian.
func (r *Registry) Holdings(ctx context.Context, custodianID string) ([]property.Item, error) {
	if custodianID == "" {
		return nil, property.Invalid("custodian_id", "is required")
	}
	return r.store.ListItems(ctx, property.ItemFilter{CustodianID: custodianID})
}

// Intake registers a new item, opening its property card with a receipt
// line unless SkipCard is set.
func (r *Registry) Intake(ctx context.Context, in IntakeInput) (IntakeResult, error) {
	in.PropertyNumber = strings.TrimSpace(in.PropertyNumber)
	in.Description = strings.TrimSpace(in.Description)
	if err := property.ValidateStruct(in); err != nil {
		return IntakeResult{}, err
	}
	if in.Condition == "" {
		in.Condition = property.ConditionServiceable
	}
	if in.Status == "" {
		in.Status = property.ItemActive
	}
	if !in.Condition.Valid() {
		return IntakeResult{}, property.Invalid("condition", "unknown condition %q", in.Condition)
	}
	if !in.Status.Valid() {
		return IntakeResult{}, property.Invalid("status", "unknown status %q", in.Status)
	}
	if in.UnitCost.IsNegative() {
		return IntakeResult{}, property.Invalid("unit_cost", "must not be negative")
	}
	if in.ReceivedAt.IsZero() {
		in.ReceivedAt = r.now()
	}

	item := property.Item{
		ID:                  uuid.NewString(),
		PropertyNumber:      in.PropertyNumber,
		Description:         in.Description,
		Unit:                in.Unit,
		Condition:           in.Condition,
		Status:              in.Status,
		UnitCost:            in.UnitCost,
		Quantity:            in.Quantity,
		AssignmentStatus:    property.AssignmentAvailable,
		EstimatedUsefulLife: in.EstimatedUsefulLife,
	}
	item.RecomputeTotal()

	var result IntakeResult
	err := r.store.WithTx(ctx, func(ctx context.Context, tx property.Tx) error {
		if err := tx.InsertItem(ctx, item); err != nil {
			if errors.Is(err, property.ErrUniqueViolation) {
				return property.Invalid("property_number", "%s already exists", item.PropertyNumber)
			}
			return fmt.Errorf("custody: insert item: %w", err)
		}
		result.Item = item
		if in.SkipCard || r.ledger == nil {
			return nil
		}
		card, err := r.ledger.OpenCardTx(ctx, tx, item, in.EntityName, in.FundCluster)
		if err != nil {
			return err
		}
		entry, err := r.ledger.AppendEntryTx(ctx, tx, card.ID, ledger.EntryInput{
			Date:       in.ReceivedAt,
			Reference:  in.Reference,
			ReceiptQty: in.Quantity,
			UnitCost:   in.UnitCost,
		})
		if err != nil {
			return err
		}
		result.Card = &card
		result.Entry = &entry
		return nil
	})
	if err != nil {
		return IntakeResult{}, err
	}
	r.recordAudit(ctx, "custody:intake", item.ID, map[string]any{
		"property_number": item.PropertyNumber,
		"quantity":        item.Quantity,
		"unit_cost":       item.UnitCost.String(),
	})
	changes := []notify.Change{{Table: "inventory_items", ID: item.ID, Action: notify.ActionInsert}}
	if result.Card != nil {
		changes = append(changes,
			notify.Change{Table: "property_cards", ID: result.Card.ID, Action: notify.ActionInsert},
			notify.Change{Table: "property_card_entries", ID: result.Entry.ID, Action: notify.ActionInsert})
	}
	r.notify(ctx, changes...)
	return result, nil
}

// UpdateCondition records a new physical condition.
func (r *Registry) UpdateCondition(ctx context.Context, itemID string, condition property.Condition) (property.Item, error) {
	if !condition.Valid() {
		return property.Item{}, property.Invalid("condition", "unknown condition %q", condition)
	}
	var item property.Item
	var previous property.Condition
	err := r.store.WithTx(ctx, func(ctx context.Context, tx property.Tx) error {
		var err error
		if item, err = tx.LockItem(ctx, itemID); err != nil {
			return err
		}
		previous = item.Condition
		item.Condition = condition
		return tx.UpdateItem(ctx, item)
	})
	if err != nil {
		return property.Item{}, err
	}
	r.recordAudit(ctx, "custody:condition", item.ID, map[string]any{"from": previous, "to": condition})
	r.publish(ctx, item.ID)
	return item, nil
}

// UpdateStatus records a new lifecycle status. Disposal requires the item to
// be released first.
func (r *Registry) UpdateStatus(ctx context.Context, itemID string, status property.ItemStatus) (property.Item, error) {
	if !status.Valid() {
		return property.Item{}, property.Invalid("status", "unknown status %q", status)
	}
	var item property.Item
	var previous property.ItemStatus
	err := r.store.WithTx(ctx, func(ctx context.Context, tx property.Tx) error {
		var err error
		if item, err = tx.LockItem(ctx, itemID); err != nil {
			return err
		}
		if status == property.ItemDisposed && item.IsAssigned() {
			return &property.ConflictError{
				Entity: "item",
				ID:     item.PropertyNumber,
				Detail: fmt.Sprintf("still assigned to %s, release before disposal", item.Custodian.Name),
			}
		}
		previous = item.Status
		item.Status = status
		return tx.UpdateItem(ctx, item)
	})
	if err != nil {
		return property.Item{}, err
	}
	r.recordAudit(ctx, "custody:status", item.ID, map[string]any{"from": previous, "to": status})
	r.publish(ctx, item.ID)
	return item, nil
}

func (r *Registry) recordAudit(ctx context.Context, action, itemID string, meta map[string]any) {
	if r.audit == nil {
		return
	}
	if err := r.audit.Record(ctx, shared.AuditLog{
		ActorID:  shared.ActorFromContext(ctx),
		Action:   action,
		Entity:   "inventory_item",
		EntityID: itemID,
		Meta:     meta,
	}); err != nil {
		r.logger.Warn("custody: audit", slog.String("action", action), slog.Any("error", err))
	}
}

func (r *Registry) publish(ctx context.Context, itemID string) {
	r.notify(ctx, notify.Change{Table: "inventory_items", ID: itemID, Action: notify.ActionUpdate})
}

func (r *Registry) notify(ctx context.Context, changes ...notify.Change) {
	if r.notifier == nil {
		return
	}
	r.notifier.Publish(ctx, changes...)
}
