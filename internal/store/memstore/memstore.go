// Package memstore is an in-memory property.Store. A transaction works on a
// cloned state that replaces the committed state only when the callback
// returns nil, so tests observe the same rollback behaviour as PostgreSQL.
package memstore

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/odyssey-erp/custody/internal/property"
)

// Fault lets tests fail a write. op is the Tx method name and id the row key.
type Fault func(op, id string) error

type state struct {
	items         map[string]property.Item
	cards         map[string]property.Card
	entries       map[string]property.Entry
	slips         map[string]property.Slip
	slipItems     map[string]property.SlipItem
	transfers     map[string]property.Transfer
	transferItems map[string]property.TransferItem
	history       []property.TransferHistory
	seq           int64
}

func newState() state {
	return state{
		items:         map[string]property.Item{},
		cards:         map[string]property.Card{},
		entries:       map[string]property.Entry{},
		slips:         map[string]property.Slip{},
		slipItems:     map[string]property.SlipItem{},
		transfers:     map[string]property.Transfer{},
		transferItems: map[string]property.TransferItem{},
	}
}

func cloneMap[V any](m map[string]V) map[string]V {
	out := make(map[string]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (s state) clone() state {
	return state{
		items:         cloneMap(s.items),
		cards:         cloneMap(s.cards),
		entries:       cloneMap(s.entries),
		slips:         cloneMap(s.slips),
		slipItems:     cloneMap(s.slipItems),
		transfers:     cloneMap(s.transfers),
		transferItems: cloneMap(s.transferItems),
		history:       append([]property.TransferHistory(nil), s.history...),
		seq:           s.seq,
	}
}

// Store implements property.Store in memory.
type Store struct {
	mu    sync.Mutex
	state state
	fault Fault
	now   func() time.Time
}

// New returns an empty Store.
func New() *Store {
	return &Store{state: newState(), now: func() time.Time { return time.Now().UTC() }}
}

// InjectFault installs f for subsequent transactions. Pass nil to clear.
func (s *Store) InjectFault(f Fault) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fault = f
}

// WithTx runs fn against a private copy of the state and commits it when fn
// succeeds.
func (s *Store) WithTx(ctx context.Context, fn func(context.Context, property.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	work := s.state.clone()
	tx := &txn{view: view{st: &work}, fault: s.fault, now: s.now}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	s.state = work
	return nil
}

func (s *Store) read() view {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := s.state.clone()
	return view{st: &snap}
}

func (s *Store) GetItem(ctx context.Context, id string) (property.Item, error) {
	return s.read().GetItem(ctx, id)
}

func (s *Store) GetItemByNumber(ctx context.Context, propertyNumber string) (property.Item, error) {
	return s.read().GetItemByNumber(ctx, propertyNumber)
}

func (s *Store) ListItems(ctx context.Context, filter property.ItemFilter) ([]property.Item, error) {
	return s.read().ListItems(ctx, filter)
}

func (s *Store) GetCard(ctx context.Context, id string) (property.Card, error) {
	return s.read().GetCard(ctx, id)
}

func (s *Store) GetCardByItem(ctx context.Context, itemID string) (property.Card, error) {
	return s.read().GetCardByItem(ctx, itemID)
}

func (s *Store) GetCardByNumber(ctx context.Context, propertyNumber string) (property.Card, error) {
	return s.read().GetCardByNumber(ctx, propertyNumber)
}

func (s *Store) ListEntries(ctx context.Context, cardID string) ([]property.Entry, error) {
	return s.read().ListEntries(ctx, cardID)
}

func (s *Store) GetEntry(ctx context.Context, id string) (property.Entry, error) {
	return s.read().GetEntry(ctx, id)
}

func (s *Store) GetSlip(ctx context.Context, id string) (property.Slip, []property.SlipItem, error) {
	return s.read().GetSlip(ctx, id)
}

func (s *Store) ListSlipItemsByItem(ctx context.Context, ref property.ItemRef) ([]property.SlipItem, error) {
	return s.read().ListSlipItemsByItem(ctx, ref)
}

func (s *Store) ListSlipItemsByEntries(ctx context.Context, entryIDs []string) ([]property.SlipItem, error) {
	return s.read().ListSlipItemsByEntries(ctx, entryIDs)
}

func (s *Store) MaxSlipSequence(ctx context.Context, prefix string) (int, error) {
	return s.read().MaxSlipSequence(ctx, prefix)
}

func (s *Store) GetTransfer(ctx context.Context, id string) (property.Transfer, []property.TransferItem, error) {
	return s.read().GetTransfer(ctx, id)
}

func (s *Store) GetTransferByNumber(ctx context.Context, number string) (property.Transfer, error) {
	return s.read().GetTransferByNumber(ctx, number)
}

func (s *Store) ListTransfers(ctx context.Context, filter property.TransferFilter) ([]property.Transfer, error) {
	return s.read().ListTransfers(ctx, filter)
}

func (s *Store) ListTransferItemsByItem(ctx context.Context, ref property.ItemRef) ([]property.TransferItem, error) {
	return s.read().ListTransferItemsByItem(ctx, ref)
}

func (s *Store) ListTransferItemsByIDs(ctx context.Context, ids []string) ([]property.TransferItem, error) {
	return s.read().ListTransferItemsByIDs(ctx, ids)
}

func (s *Store) CountTransferItems(ctx context.Context, transferID string) (int, error) {
	return s.read().CountTransferItems(ctx, transferID)
}

func (s *Store) MaxTransferSequence(ctx context.Context, prefix string) (int, error) {
	return s.read().MaxTransferSequence(ctx, prefix)
}

func (s *Store) ListHistory(ctx context.Context, transferID string) ([]property.TransferHistory, error) {
	return s.read().ListHistory(ctx, transferID)
}

// Counts reports the number of rows per table, for assertions in tests.
func (s *Store) Counts() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return map[string]int{
		"inventory_items":       len(s.state.items),
		"property_cards":        len(s.state.cards),
		"property_card_entries": len(s.state.entries),
		"custodian_slips":       len(s.state.slips),
		"custodian_slip_items":  len(s.state.slipItems),
		"property_transfers":    len(s.state.transfers),
		"transfer_items":        len(s.state.transferItems),
		"transfer_history":      len(s.state.history),
	}
}

// References lists every row that points at the item id or property number.
func (s *Store) References(itemID, propertyNumber string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var refs []string
	match := func(id, number string) bool {
		return (itemID != "" && id == itemID) || (propertyNumber != "" && number == propertyNumber)
	}
	for _, c := range s.state.cards {
		if match(c.ItemID, c.PropertyNumber) {
			refs = append(refs, "property_cards:"+c.ID)
		}
	}
	for _, si := range s.state.slipItems {
		if match(si.ItemID, si.PropertyNumber) {
			refs = append(refs, "custodian_slip_items:"+si.ID)
		}
	}
	for _, ti := range s.state.transferItems {
		if match(ti.ItemID, ti.PropertyNumber) {
			refs = append(refs, "transfer_items:"+ti.ID)
		}
	}
	sort.Strings(refs)
	return refs
}

type view struct {
	st *state
}

func (v view) GetItem(_ context.Context, id string) (property.Item, error) {
	item, ok := v.st.items[id]
	if !ok {
		return property.Item{}, property.ErrNotFound
	}
	return item, nil
}

func (v view) GetItemByNumber(_ context.Context, propertyNumber string) (property.Item, error) {
	for _, item := range v.st.items {
		if item.PropertyNumber == propertyNumber {
			return item, nil
		}
	}
	return property.Item{}, property.ErrNotFound
}

func (v view) ListItems(_ context.Context, filter property.ItemFilter) ([]property.Item, error) {
	var out []property.Item
	for _, item := range v.st.items {
		if filter.CustodianID != "" && item.Custodian.ID != filter.CustodianID {
			continue
		}
		if filter.Condition != "" && item.Condition != filter.Condition {
			continue
		}
		if filter.Status != "" && item.Status != filter.Status {
			continue
		}
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PropertyNumber < out[j].PropertyNumber })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (v view) GetCard(_ context.Context, id string) (property.Card, error) {
	card, ok := v.st.cards[id]
	if !ok {
		return property.Card{}, property.ErrNotFound
	}
	return card, nil
}

func (v view) GetCardByItem(_ context.Context, itemID string) (property.Card, error) {
	for _, card := range v.st.cards {
		if card.ItemID == itemID {
			return card, nil
		}
	}
	return property.Card{}, property.ErrNotFound
}

func (v view) GetCardByNumber(_ context.Context, propertyNumber string) (property.Card, error) {
	for _, card := range v.st.cards {
		if card.PropertyNumber == propertyNumber {
			return card, nil
		}
	}
	return property.Card{}, property.ErrNotFound
}

func (v view) ListEntries(_ context.Context, cardID string) ([]property.Entry, error) {
	var out []property.Entry
	for _, e := range v.st.entries {
		if e.CardID == cardID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out, nil
}

func (v view) GetEntry(_ context.Context, id string) (property.Entry, error) {
	e, ok := v.st.entries[id]
	if !ok {
		return property.Entry{}, property.ErrNotFound
	}
	return e, nil
}

func (v view) GetSlip(_ context.Context, id string) (property.Slip, []property.SlipItem, error) {
	slip, ok := v.st.slips[id]
	if !ok {
		return property.Slip{}, nil, property.ErrNotFound
	}
	var lines []property.SlipItem
	for _, si := range v.st.slipItems {
		if si.SlipID == id {
			lines = append(lines, si)
		}
	}
	sort.Slice(lines, func(i, j int) bool { return lines[i].PropertyNumber < lines[j].PropertyNumber })
	return slip, lines, nil
}

func (v view) ListSlipItemsByItem(_ context.Context, ref property.ItemRef) ([]property.SlipItem, error) {
	var out []property.SlipItem
	for _, si := range v.st.slipItems {
		if refMatches(ref, si.ItemID, si.PropertyNumber) {
			out = append(out, si)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (v view) ListSlipItemsByEntries(_ context.Context, entryIDs []string) ([]property.SlipItem, error) {
	want := make(map[string]struct{}, len(entryIDs))
	for _, id := range entryIDs {
		want[id] = struct{}{}
	}
	var out []property.SlipItem
	for _, si := range v.st.slipItems {
		if _, ok := want[si.EntryID]; ok && si.EntryID != "" {
			out = append(out, si)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (v view) MaxSlipSequence(_ context.Context, prefix string) (int, error) {
	highest := 0
	for _, slip := range v.st.slips {
		if n := sequenceOf(slip.SlipNumber, prefix); n > highest {
			highest = n
		}
	}
	return highest, nil
}

func (v view) GetTransfer(_ context.Context, id string) (property.Transfer, []property.TransferItem, error) {
	t, ok := v.st.transfers[id]
	if !ok {
		return property.Transfer{}, nil, property.ErrNotFound
	}
	return t, v.transferItems(id), nil
}

func (v view) transferItems(transferID string) []property.TransferItem {
	var out []property.TransferItem
	for _, ti := range v.st.transferItems {
		if ti.TransferID == transferID {
			out = append(out, ti)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PropertyNumber < out[j].PropertyNumber })
	return out
}

func (v view) GetTransferByNumber(_ context.Context, number string) (property.Transfer, error) {
	for _, t := range v.st.transfers {
		if t.TransferNumber == number {
			return t, nil
		}
	}
	return property.Transfer{}, property.ErrNotFound
}

func (v view) ListTransfers(_ context.Context, filter property.TransferFilter) ([]property.Transfer, error) {
	var out []property.Transfer
	for _, t := range v.st.transfers {
		if filter.Status != "" && t.Status.Normalize() != filter.Status.Normalize() {
			continue
		}
		if filter.CustodianID != "" && t.From.ID != filter.CustodianID && t.To.ID != filter.CustodianID {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TransferNumber > out[j].TransferNumber })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (v view) ListTransferItemsByItem(_ context.Context, ref property.ItemRef) ([]property.TransferItem, error) {
	var out []property.TransferItem
	for _, ti := range v.st.transferItems {
		if refMatches(ref, ti.ItemID, ti.PropertyNumber) {
			out = append(out, ti)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (v view) ListTransferItemsByIDs(_ context.Context, ids []string) ([]property.TransferItem, error) {
	var out []property.TransferItem
	for _, id := range ids {
		if ti, ok := v.st.transferItems[id]; ok {
			out = append(out, ti)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (v view) CountTransferItems(_ context.Context, transferID string) (int, error) {
	return len(v.transferItems(transferID)), nil
}

func (v view) MaxTransferSequence(_ context.Context, prefix string) (int, error) {
	highest := 0
	for _, t := range v.st.transfers {
		if n := sequenceOf(t.TransferNumber, prefix); n > highest {
			highest = n
		}
	}
	return highest, nil
}

func (v view) ListHistory(_ context.Context, transferID string) ([]property.TransferHistory, error) {
	var out []property.TransferHistory
	for _, h := range v.st.history {
		if h.TransferID == transferID {
			out = append(out, h)
		}
	}
	return out, nil
}

type txn struct {
	view
	fault Fault
	now   func() time.Time
}

func (t *txn) check(op, id string) error {
	if t.fault == nil {
		return nil
	}
	return t.fault(op, id)
}

func (t *txn) LockItem(ctx context.Context, id string) (property.Item, error) {
	return t.GetItem(ctx, id)
}

func (t *txn) InsertItem(_ context.Context, item property.Item) error {
	if err := t.check("InsertItem", item.ID); err != nil {
		return err
	}
	if _, ok := t.st.items[item.ID]; ok {
		return property.ErrUniqueViolation
	}
	for _, existing := range t.st.items {
		if existing.PropertyNumber == item.PropertyNumber {
			return property.ErrUniqueViolation
		}
	}
	now := t.now()
	item.CreatedAt, item.UpdatedAt = now, now
	t.st.items[item.ID] = item
	return nil
}

func (t *txn) UpdateItem(_ context.Context, item property.Item) error {
	if err := t.check("UpdateItem", item.ID); err != nil {
		return err
	}
	existing, ok := t.st.items[item.ID]
	if !ok {
		return property.ErrNotFound
	}
	item.PropertyNumber = existing.PropertyNumber
	item.CreatedAt = existing.CreatedAt
	item.UpdatedAt = t.now()
	t.st.items[item.ID] = item
	return nil
}

func (t *txn) DeleteItem(_ context.Context, id string) (int64, error) {
	if err := t.check("DeleteItem", id); err != nil {
		return 0, err
	}
	item, ok := t.st.items[id]
	if !ok {
		return 0, nil
	}
	for _, c := range t.st.cards {
		if c.ItemID == id {
			return 0, property.ErrReferenced
		}
	}
	for _, si := range t.st.slipItems {
		if si.ItemID == id {
			return 0, property.ErrReferenced
		}
	}
	for _, ti := range t.st.transferItems {
		if ti.ItemID == id {
			return 0, property.ErrReferenced
		}
	}
	delete(t.st.items, item.ID)
	return 1, nil
}

func (t *txn) LockCard(ctx context.Context, id string) (property.Card, error) {
	return t.GetCard(ctx, id)
}

func (t *txn) InsertCard(_ context.Context, card property.Card) error {
	if err := t.check("InsertCard", card.ID); err != nil {
		return err
	}
	if _, ok := t.st.cards[card.ID]; ok {
		return property.ErrUniqueViolation
	}
	for _, existing := range t.st.cards {
		if card.ItemID != "" && existing.ItemID == card.ItemID {
			return property.ErrUniqueViolation
		}
	}
	now := t.now()
	card.CreatedAt, card.UpdatedAt = now, now
	t.st.cards[card.ID] = card
	return nil
}

func (t *txn) DeleteCard(_ context.Context, id string) (int64, error) {
	if err := t.check("DeleteCard", id); err != nil {
		return 0, err
	}
	if _, ok := t.st.cards[id]; !ok {
		return 0, nil
	}
	for _, e := range t.st.entries {
		if e.CardID == id {
			return 0, property.ErrReferenced
		}
	}
	delete(t.st.cards, id)
	return 1, nil
}

func (t *txn) InsertEntry(_ context.Context, entry property.Entry) (property.Entry, error) {
	if err := t.check("InsertEntry", entry.CardID); err != nil {
		return property.Entry{}, err
	}
	if _, ok := t.st.cards[entry.CardID]; !ok {
		return property.Entry{}, property.ErrNotFound
	}
	if _, ok := t.st.entries[entry.ID]; ok {
		return property.Entry{}, property.ErrUniqueViolation
	}
	t.st.seq++
	entry.Seq = t.st.seq
	entry.CreatedAt = t.now()
	t.st.entries[entry.ID] = entry
	return entry, nil
}

func (t *txn) UpdateEntry(_ context.Context, entry property.Entry) error {
	if err := t.check("UpdateEntry", entry.ID); err != nil {
		return err
	}
	existing, ok := t.st.entries[entry.ID]
	if !ok {
		return property.ErrNotFound
	}
	entry.CardID = existing.CardID
	entry.Seq = existing.Seq
	entry.CreatedAt = existing.CreatedAt
	t.st.entries[entry.ID] = entry
	return nil
}

func (t *txn) DeleteEntries(_ context.Context, ids []string) (int64, error) {
	var n int64
	for _, id := range ids {
		if err := t.check("DeleteEntries", id); err != nil {
			return n, err
		}
		for _, si := range t.st.slipItems {
			if si.EntryID == id {
				return n, property.ErrReferenced
			}
		}
		if _, ok := t.st.entries[id]; ok {
			delete(t.st.entries, id)
			n++
		}
	}
	return n, nil
}

func (t *txn) InsertSlip(_ context.Context, slip property.Slip) error {
	if err := t.check("InsertSlip", slip.ID); err != nil {
		return err
	}
	for _, existing := range t.st.slips {
		if existing.ID == slip.ID || existing.SlipNumber == slip.SlipNumber {
			return property.ErrUniqueViolation
		}
	}
	slip.CreatedAt = t.now()
	t.st.slips[slip.ID] = slip
	return nil
}

func (t *txn) InsertSlipItem(_ context.Context, item property.SlipItem) error {
	if err := t.check("InsertSlipItem", item.ID); err != nil {
		return err
	}
	if _, ok := t.st.slips[item.SlipID]; !ok {
		return property.ErrNotFound
	}
	t.st.slipItems[item.ID] = item
	return nil
}

func (t *txn) DeleteSlipItems(_ context.Context, ids []string) (int64, error) {
	var n int64
	for _, id := range ids {
		if err := t.check("DeleteSlipItems", id); err != nil {
			return n, err
		}
		if _, ok := t.st.slipItems[id]; ok {
			delete(t.st.slipItems, id)
			n++
		}
	}
	return n, nil
}

func (t *txn) DeleteSlip(_ context.Context, id string) (int64, error) {
	if err := t.check("DeleteSlip", id); err != nil {
		return 0, err
	}
	if _, ok := t.st.slips[id]; !ok {
		return 0, nil
	}
	for _, si := range t.st.slipItems {
		if si.SlipID == id {
			return 0, property.ErrReferenced
		}
	}
	delete(t.st.slips, id)
	return 1, nil
}

func (t *txn) LockTransfer(ctx context.Context, id string) (property.Transfer, []property.TransferItem, error) {
	return t.GetTransfer(ctx, id)
}

func (t *txn) InsertTransfer(_ context.Context, transfer property.Transfer) error {
	if err := t.check("InsertTransfer", transfer.TransferNumber); err != nil {
		return err
	}
	for _, existing := range t.st.transfers {
		if existing.ID == transfer.ID || existing.TransferNumber == transfer.TransferNumber {
			return property.ErrUniqueViolation
		}
	}
	now := t.now()
	transfer.CreatedAt, transfer.UpdatedAt = now, now
	t.st.transfers[transfer.ID] = transfer
	return nil
}

func (t *txn) InsertTransferItem(_ context.Context, item property.TransferItem) error {
	if err := t.check("InsertTransferItem", item.ID); err != nil {
		return err
	}
	if _, ok := t.st.transfers[item.TransferID]; !ok {
		return property.ErrNotFound
	}
	t.st.transferItems[item.ID] = item
	return nil
}

func (t *txn) UpdateTransfer(_ context.Context, transfer property.Transfer) error {
	if err := t.check("UpdateTransfer", transfer.ID); err != nil {
		return err
	}
	existing, ok := t.st.transfers[transfer.ID]
	if !ok {
		return property.ErrNotFound
	}
	transfer.TransferNumber = existing.TransferNumber
	transfer.CreatedAt = existing.CreatedAt
	transfer.UpdatedAt = t.now()
	t.st.transfers[transfer.ID] = transfer
	return nil
}

func (t *txn) DeleteTransferItems(_ context.Context, ids []string) (int64, error) {
	var n int64
	for _, id := range ids {
		if err := t.check("DeleteTransferItems", id); err != nil {
			return n, err
		}
		if _, ok := t.st.transferItems[id]; ok {
			delete(t.st.transferItems, id)
			n++
		}
	}
	return n, nil
}

func (t *txn) DeleteTransfer(_ context.Context, id string) (int64, error) {
	if err := t.check("DeleteTransfer", id); err != nil {
		return 0, err
	}
	if _, ok := t.st.transfers[id]; !ok {
		return 0, nil
	}
	if len(t.transferItems(id)) > 0 {
		return 0, property.ErrReferenced
	}
	delete(t.st.transfers, id)
	kept := t.st.history[:0]
	for _, h := range t.st.history {
		if h.TransferID != id {
			kept = append(kept, h)
		}
	}
	t.st.history = kept
	return 1, nil
}

func (t *txn) InsertHistory(_ context.Context, h property.TransferHistory) error {
	if err := t.check("InsertHistory", h.TransferID); err != nil {
		return err
	}
	t.st.history = append(t.st.history, h)
	return nil
}

func refMatches(ref property.ItemRef, id, number string) bool {
	if ref.ID != "" && id == ref.ID {
		return true
	}
	return ref.PropertyNumber != "" && number == ref.PropertyNumber
}

func sequenceOf(number, prefix string) int {
	if !strings.HasPrefix(number, prefix) {
		return 0
	}
	n, err := strconv.Atoi(strings.TrimPrefix(number, prefix))
	if err != nil {
		return 0
	}
	return n
}
