package property

import (
	"context"
	"errors"
)

// Queries exposes the reads available both inside and outside a transaction.
type Queries interface {
	GetItem(ctx context.Context, id string) (Item, error)
	GetItemByNumber(ctx context.Context, propertyNumber string) (Item, error)
	ListItems(ctx context.Context, filter ItemFilter) ([]Item, error)

	GetCard(ctx context.Context, id string) (Card, error)
	GetCardByItem(ctx context.Context, itemID string) (Card, error)
	GetCardByNumber(ctx context.Context, propertyNumber string) (Card, error)
	ListEntries(ctx context.Context, cardID string) ([]Entry, error)
	GetEntry(ctx context.Context, id string) (Entry, error)

	GetSlip(ctx context.Context, id string) (Slip, []SlipItem, error)
	ListSlipItemsByItem(ctx context.Context, ref ItemRef) ([]SlipItem, error)
	ListSlipItemsByEntries(ctx context.Context, entryIDs []string) ([]SlipItem, error)
	MaxSlipSequence(ctx context.Context, prefix string) (int, error)

	GetTransfer(ctx context.Context, id string) (Transfer, []TransferItem, error)
	GetTransferByNumber(ctx context.Context, number string) (Transfer, error)
	ListTransfers(ctx context.Context, filter TransferFilter) ([]Transfer, error)
	ListTransferItemsByItem(ctx context.Context, ref ItemRef) ([]TransferItem, error)
	ListTransferItemsByIDs(ctx context.Context, ids []string) ([]TransferItem, error)
	CountTransferItems(ctx context.Context, transferID string) (int, error)
	MaxTransferSequence(ctx context.Context, prefix string) (int, error)
	ListHistory(ctx context.Context, transferID string) ([]TransferHistory, error)
}

// Tx is the transactional view of the store. Every write goes through it.
type Tx interface {
	Queries

	LockItem(ctx context.Context, id string) (Item, error)
	InsertItem(ctx context.Context, item Item) error
	UpdateItem(ctx context.Context, item Item) error
	DeleteItem(ctx context.Context, id string) (int64, error)

	LockCard(ctx context.Context, id string) (Card, error)
	InsertCard(ctx context.Context, card Card) error
	DeleteCard(ctx context.Context, id string) (int64, error)
	InsertEntry(ctx context.Context, entry Entry) (Entry, error)
	UpdateEntry(ctx context.Context, entry Entry) error
	DeleteEntries(ctx context.Context, ids []string) (int64, error)

	InsertSlip(ctx context.Context, slip Slip) error
	InsertSlipItem(ctx context.Context, item SlipItem) error
	DeleteSlipItems(ctx context.Context, ids []string) (int64, error)
	DeleteSlip(ctx context.Context, id string) (int64, error)

	LockTransfer(ctx context.Context, id string) (Transfer, []TransferItem, error)
	InsertTransfer(ctx context.Context, transfer Transfer) error
	InsertTransferItem(ctx context.Context, item TransferItem) error
	UpdateTransfer(ctx context.Context, transfer Transfer) error
	DeleteTransferItems(ctx context.Context, ids []string) (int64, error)
	DeleteTransfer(ctx context.Context, id string) (int64, error)
	InsertHistory(ctx context.Context, h TransferHistory) error
}

// Store is the persistence port of the custody services.
type Store interface {
	Queries
	WithTx(ctx context.Context, fn func(context.Context, Tx) error) error
}

// ResolveItem finds an item by id, then by property number. Every component
// resolves items through here so the fallback order stays identical.
func ResolveItem(ctx context.Context, q Queries, ref ItemRef) (Item, error) {
	if ref.Empty() {
		return Item{}, Invalid("item", "item id or property number required")
	}
	if ref.ID != "" {
		item, err := q.GetItem(ctx, ref.ID)
		if err == nil || !errors.Is(err, ErrNotFound) {
			return item, err
		}
	}
	if ref.PropertyNumber != "" {
		return q.GetItemByNumber(ctx, ref.PropertyNumber)
	}
	return Item{}, ErrNotFound
}

// ResolveCard finds the property card of an item by item id, then by
// property number.
func ResolveCard(ctx context.Context, q Queries, item Item) (Card, error) {
	if item.ID != "" {
		card, err := q.GetCardByItem(ctx, item.ID)
		if err == nil || !errors.Is(err, ErrNotFound) {
			return card, err
		}
	}
	if item.PropertyNumber != "" {
		return q.GetCardByNumber(ctx, item.PropertyNumber)
	}
	return Card{}, ErrNotFound
}
