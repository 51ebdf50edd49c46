package pgstore

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/odyssey-erp/custody/internal/property"
)

const cardColumns = `id, COALESCE(item_id, ''), property_number, entity_name, fund_cluster, description, created_at, updated_at`

const entryColumns = `id, card_id, seq, entry_date, reference, receipt_qty, unit_cost::text, total_cost::text,
	issue_qty, issue_amount::text, issue_item_no, office_officer, balance_qty, amount::text, remarks,
	imported, created_at`

func scanCard(row pgx.Row) (property.Card, error) {
	var c property.Card
	err := row.Scan(&c.ID, &c.ItemID, &c.PropertyNumber, &c.EntityName, &c.FundCluster, &c.Description, &c.CreatedAt, &c.UpdatedAt)
	return c, mapErr(err)
}

func scanEntry(row pgx.Row) (property.Entry, error) {
	var e property.Entry
	err := row.Scan(&e.ID, &e.CardID, &e.Seq, &e.Date, &e.Reference, &e.ReceiptQty, money{&e.UnitCost}, money{&e.TotalCost},
		&e.IssueQty, money{&e.IssueAmount}, &e.IssueItemNo, &e.OfficeOfficer, &e.BalanceQty, money{&e.Amount}, &e.Remarks,
		&e.Imported, &e.CreatedAt)
	return e, mapErr(err)
}

func (q queries) GetCard(ctx context.Context, id string) (property.Card, error) {
	return scanCard(q.db.QueryRow(ctx, `SELECT `+cardColumns+` FROM property_cards WHERE id = $1`, id))
}

func (q queries) GetCardByItem(ctx context.Context, itemID string) (property.Card, error) {
	return scanCard(q.db.QueryRow(ctx, `SELECT `+cardColumns+` FROM property_cards WHERE item_id = $1`, itemID))
}

// GetCardByNumber prefers the oldest card when legacy data holds several.
func (q queries) GetCardByNumber(ctx context.Context, propertyNumber string) (property.Card, error) {
	return scanCard(q.db.QueryRow(ctx, `SELECT `+cardColumns+` FROM property_cards WHERE property_number = $1
ORDER BY created_at, id LIMIT 1`, propertyNumber))
}

func (q queries) ListEntries(ctx context.Context, cardID string) ([]property.Entry, error) {
	rows, err := q.db.Query(ctx, `SELECT `+entryColumns+` FROM property_card_entries WHERE card_id = $1
ORDER BY entry_date, seq`, cardID)
	return collect(rows, err, scanEntry)
}

func (q queries) GetEntry(ctx context.Context, id string) (property.Entry, error) {
	return scanEntry(q.db.QueryRow(ctx, `SELECT `+entryColumns+` FROM property_card_entries WHERE id = $1`, id))
}

func (t *txStore) LockCard(ctx context.Context, id string) (property.Card, error) {
	return scanCard(t.db.QueryRow(ctx, `SELECT `+cardColumns+` FROM property_cards WHERE id = $1 FOR UPDATE`, id))
}

func (t *txStore) InsertCard(ctx context.Context, c property.Card) error {
	_, err := t.db.Exec(ctx, `INSERT INTO property_cards (id, item_id, property_number, entity_name, fund_cluster, description)
VALUES ($1, $2, $3, $4, $5, $6)`,
		c.ID, nullable(c.ItemID), c.PropertyNumber, c.EntityName, c.FundCluster, c.Description)
	return mapErr(err)
}

func (t *txStore) DeleteCard(ctx context.Context, id string) (int64, error) {
	return affected(t.db.Exec(ctx, `DELETE FROM property_cards WHERE id = $1`, id))
}

// InsertEntry returns the entry with its store assigned sequence.
func (t *txStore) InsertEntry(ctx context.Context, e property.Entry) (property.Entry, error) {
	err := t.db.QueryRow(ctx, `INSERT INTO property_card_entries (id, card_id, entry_date, reference, receipt_qty,
	unit_cost, total_cost, issue_qty, issue_amount, issue_item_no, office_officer, balance_qty, amount, remarks, imported)
VALUES ($1, $2, $3, $4, $5, $6::numeric, $7::numeric, $8, $9::numeric, $10, $11, $12, $13::numeric, $14, $15)
RETURNING seq, created_at`,
		e.ID, e.CardID, e.Date, e.Reference, e.ReceiptQty, e.UnitCost.String(), e.TotalCost.String(),
		e.IssueQty, e.IssueAmount.String(), e.IssueItemNo, e.OfficeOfficer, e.BalanceQty, e.Amount.String(),
		e.Remarks, e.Imported).Scan(&e.Seq, &e.CreatedAt)
	if err != nil {
		return property.Entry{}, mapErr(err)
	}
	return e, nil
}

func (t *txStore) UpdateEntry(ctx context.Context, e property.Entry) error {
	n, err := affected(t.db.Exec(ctx, `UPDATE property_card_entries SET entry_date = $2, reference = $3, receipt_qty = $4,
	unit_cost = $5::numeric, total_cost = $6::numeric, issue_qty = $7, issue_amount = $8::numeric, issue_item_no = $9,
	office_officer = $10, balance_qty = $11, amount = $12::numeric, remarks = $13, imported = $14
WHERE id = $1`,
		e.ID, e.Date, e.Reference, e.ReceiptQty, e.UnitCost.String(), e.TotalCost.String(), e.IssueQty,
		e.IssueAmount.String(), e.IssueItemNo, e.OfficeOfficer, e.BalanceQty, e.Amount.String(), e.Remarks, e.Imported))
	if err != nil {
		return err
	}
	if n == 0 {
		return property.ErrNotFound
	}
	return nil
}

func (t *txStore) DeleteEntries(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	return affected(t.db.Exec(ctx, `DELETE FROM property_card_entries WHERE id = ANY($1)`, ids))
}
