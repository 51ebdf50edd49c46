// Package slips issues inventory custodian slips (ICS). Issuing a slip hands
// every listed item to the custodian and writes the matching issue line on
// each property card.
package slips

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

// NumberKind prefixes generated slip numbers.
const NumberKind = "ICS"

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Notifier announces committed changes.
type Notifier interface {
	Publish(ctx context.Context, changes ...notify.Change)
}

// CustodyPort assigns items inside a transaction.
type CustodyPort interface {
	AssignTx(ctx context.Context, tx property.Tx, itemID string, custodian property.Custodian, at time.Time, opts custody.AssignOptions) (property.Item, error)
}

// LedgerPort writes the issue lines of a slip.
type LedgerPort interface {
	OpenCardTx(ctx context.Context, tx property.Tx, item property.Item, entityName, fundCluster string) (property.Card, error)
	AppendEntryTx(ctx context.Context, tx property.Tx, cardID string, in ledger.EntryInput) (property.Entry, error)
}

// Service issues and reads custodian slips.
type Service struct {
	store       property.Store
	custody     CustodyPort
	ledger      LedgerPort
	audit       AuditPort
	notifier    Notifier
	numbers     *docnum.Sequencer
	maxAttempts int
	logger      *slog.Logger
	now         func() time.Time
}

// NewService builds Service. maxAttempts bounds slip number regeneration.
func NewService(store property.Store, registry CustodyPort, engine LedgerPort, audit AuditPort, notifier Notifier, maxAttempts int, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return &Service{
		store:       store,
		custody:     registry,
		ledger:      engine,
		audit:       audit,
		notifier:    notifier,
		numbers:     docnum.New(NumberKind, store.MaxSlipSequence),
		maxAttempts: maxAttempts,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Issue stores the slip, assigns every line's item to the custodian and
// appends one issue entry per line, all in one transaction.
func (s *Service) Issue(ctx context.Context, in IssueInput) (Detail, error) {
	in.SlipNumber = strings.TrimSpace(in.SlipNumber)
	in.EntityName = strings.TrimSpace(in.EntityName)
	in.FundCluster = strings.TrimSpace(in.FundCluster)
	in.Custodian.ID = strings.TrimSpace(in.Custodian.ID)
	in.Custodian.Name = strings.TrimSpace(in.Custodian.Name)
	if err := property.ValidateStruct(in); err != nil {
		return Detail{}, err
	}
	if in.IssuedAt.IsZero() {
		in.IssuedAt = s.now()
	}
	in.IssuedAt = in.IssuedAt.UTC()

	var detail Detail
	insert := func(number string) error {
		return s.store.WithTx(ctx, func(ctx context.Context, tx property.Tx) error {
			var err error
			detail, err = s.issue(ctx, tx, number, in)
			return err
		})
	}
	if in.SlipNumber != "" {
		if err := insert(in.SlipNumber); err != nil {
			if errors.Is(err, property.ErrUniqueViolation) {
				return Detail{}, property.Invalid("slip_number", "%s already exists", in.SlipNumber)
			}
			return Detail{}, err
		}
	} else if _, err := s.numbers.Insert(ctx, in.IssuedAt, s.maxAttempts, insert); err != nil {
		return Detail{}, err
	}

	if s.audit != nil {
		if err := s.audit.Record(ctx, shared.AuditLog{
			ActorID:  shared.ActorFromContext(ctx),
			Action:   "slip:issue",
			Entity:   "custodian_slip",
			EntityID: detail.Slip.ID,
			Meta: map[string]any{
				"slip_number":  detail.Slip.SlipNumber,
				"custodian_id": detail.Slip.Custodian.ID,
				"lines":        len(detail.Lines),
			},
		}); err != nil {
			s.logger.Warn("slips: audit", slog.Any("error", err))
		}
	}
	if s.notifier != nil {
		changes := []notify.Change{{Table: "custodian_slips", ID: detail.Slip.ID, Action: notify.ActionInsert}}
		for _, line := range detail.Lines {
			changes = append(changes,
				notify.Change{Table: "custodian_slip_items", ID: line.ID, Action: notify.ActionInsert},
				notify.Change{Table: "inventory_items", ID: line.ItemID, Action: notify.ActionUpdate})
		}
		for _, en := range detail.Entries {
			changes = append(changes, notify.Change{Table: "property_card_entries", ID: en.ID, Action: notify.ActionInsert})
		}
		s.notifier.Publish(ctx, changes...)
	}
	return detail, nil
}

func (s *Service) issue(ctx context.Context, tx property.Tx, number string, in IssueInput) (Detail, error) {
	slip := property.Slip{
		ID:          uuid.NewString(),
		SlipNumber:  number,
		Custodian:   in.Custodian,
		Office:      strings.TrimSpace(in.Office),
		EntityName:  in.EntityName,
		FundCluster: in.FundCluster,
		IssuedAt:    in.IssuedAt,
		IssuedBy:    strings.TrimSpace(in.IssuedBy),
		ReceivedBy:  strings.TrimSpace(in.ReceivedBy),
	}
	if slip.ReceivedBy == "" {
		slip.ReceivedBy = in.Custodian.Name
	}
	if err := tx.InsertSlip(ctx, slip); err != nil {
		return Detail{}, fmt.Errorf("slips: insert slip %s: %w", number, err)
	}

	detail := Detail{Slip: slip}
	seen := make(map[string]struct{}, len(in.Lines))
	for i, sel := range in.Lines {
		field := fmt.Sprintf("lines[%d]", i)
		item, err := property.ResolveItem(ctx, tx, sel.ref())
		if err != nil {
			if errors.Is(err, property.ErrNotFound) {
				return Detail{}, property.Invalid(field, "item not found")
			}
			return Detail{}, err
		}
		if _, dup := seen[item.ID]; dup {
			return Detail{}, property.Invalid(field, "%s listed more than once", item.PropertyNumber)
		}
		seen[item.ID] = struct{}{}

		if item, err = s.custody.AssignTx(ctx, tx, item.ID, in.Custodian, in.IssuedAt, custody.AssignOptions{}); err != nil {
			return Detail{}, err
		}
		card, err := property.ResolveCard(ctx, tx, item)
		if errors.Is(err, property.ErrNotFound) {
			card, err = s.ledger.OpenCardTx(ctx, tx, item, in.EntityName, in.FundCluster)
		}
		if err != nil {
			return Detail{}, err
		}

		qty := sel.Quantity
		if qty == 0 {
			qty = item.Quantity
		}
		line := property.SlipItem{
			ID:             uuid.NewString(),
			SlipID:         slip.ID,
			ItemID:         item.ID,
			PropertyNumber: item.PropertyNumber,
			Description:    item.Description,
			Quantity:       qty,
		}
		entry, err := s.ledger.AppendEntryTx(ctx, tx, card.ID, ledger.EntryInput{
			Date:          in.IssuedAt,
			Reference:     number,
			IssueQty:      qty,
			IssueAmount:   item.UnitCost.Mul(decimal.NewFromInt(int64(qty))),
			IssueItemNo:   line.ID,
			OfficeOfficer: in.Custodian.OfficeOfficer(),
		})
		if err != nil {
			return Detail{}, err
		}
		line.EntryID = entry.ID
		if err := tx.InsertSlipItem(ctx, line); err != nil {
			return Detail{}, fmt.Errorf("slips: insert line %s: %w", line.PropertyNumber, err)
		}
		detail.Lines = append(detail.Lines, line)
		detail.Entries = append(detail.Entries, entry)
	}
	return detail, nil
}

// Get returns the slip with its lines.
func (s *Service) Get(ctx context.Context, id string) (Detail, error) {
	slip, lines, err := s.store.GetSlip(ctx, id)
	if err != nil {
		return Detail{}, err
	}
	return Detail{Slip: slip, Lines: lines}, nil
}
