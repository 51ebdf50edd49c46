package pgstore

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/odyssey-erp/custody/internal/property"
)

const slipColumns = `id, slip_number, custodian_id, custodian_name, custodian_position, office, entity_name,
	fund_cluster, issued_at, issued_by, received_by, created_at`

const slipItemColumns = `id, slip_id, COALESCE(item_id, ''), property_number, description, quantity, COALESCE(entry_id, '')`

func scanSlip(row pgx.Row) (property.Slip, error) {
	var s property.Slip
	err := row.Scan(&s.ID, &s.SlipNumber, &s.Custodian.ID, &s.Custodian.Name, &s.Custodian.Position, &s.Office,
		&s.EntityName, &s.FundCluster, &s.IssuedAt, &s.IssuedBy, &s.ReceivedBy, &s.CreatedAt)
	return s, mapErr(err)
}

func scanSlipItem(row pgx.Row) (property.SlipItem, error) {
	var si property.SlipItem
	err := row.Scan(&si.ID, &si.SlipID, &si.ItemID, &si.PropertyNumber, &si.Description, &si.Quantity, &si.EntryID)
	return si, mapErr(err)
}

func (q queries) GetSlip(ctx context.Context, id string) (property.Slip, []property.SlipItem, error) {
	slip, err := scanSlip(q.db.QueryRow(ctx, `SELECT `+slipColumns+` FROM custodian_slips WHERE id = $1`, id))
	if err != nil {
		return property.Slip{}, nil, err
	}
	rows, err := q.db.Query(ctx, `SELECT `+slipItemColumns+` FROM custodian_slip_items WHERE slip_id = $1
ORDER BY property_number`, id)
	lines, err := collect(rows, err, scanSlipItem)
	if err != nil {
		return property.Slip{}, nil, err
	}
	return slip, lines, nil
}

func (q queries) ListSlipItemsByItem(ctx context.Context, ref property.ItemRef) ([]property.SlipItem, error) {
	rows, err := q.db.Query(ctx, `SELECT `+slipItemColumns+` FROM custodian_slip_items
WHERE ($1 <> '' AND item_id = $1) OR ($2 <> '' AND property_number = $2)
ORDER BY id`, ref.ID, ref.PropertyNumber)
	return collect(rows, err, scanSlipItem)
}

func (q queries) ListSlipItemsByEntries(ctx context.Context, entryIDs []string) ([]property.SlipItem, error) {
	if len(entryIDs) == 0 {
		return nil, nil
	}
	rows, err := q.db.Query(ctx, `SELECT `+slipItemColumns+` FROM custodian_slip_items WHERE entry_id = ANY($1)
ORDER BY id`, entryIDs)
	return collect(rows, err, scanSlipItem)
}

func (q queries) MaxSlipSequence(ctx context.Context, prefix string) (int, error) {
	return maxSequence(ctx, q.db, `SELECT COALESCE(MAX(SUBSTRING(slip_number FROM $2)::int), 0) FROM custodian_slips
WHERE starts_with(slip_number, $1) AND SUBSTRING(slip_number FROM $2) ~ '^[0-9]+$'`, prefix)
}

func (t *txStore) InsertSlip(ctx context.Context, s property.Slip) error {
	_, err := t.db.Exec(ctx, `INSERT INTO custodian_slips (id, slip_number, custodian_id, custodian_name, custodian_position,
	office, entity_name, fund_cluster, issued_at, issued_by, received_by)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		s.ID, s.SlipNumber, s.Custodian.ID, s.Custodian.Name, s.Custodian.Position, s.Office, s.EntityName,
		s.FundCluster, s.IssuedAt, s.IssuedBy, s.ReceivedBy)
	return mapErr(err)
}

func (t *txStore) InsertSlipItem(ctx context.Context, si property.SlipItem) error {
	_, err := t.db.Exec(ctx, `INSERT INTO custodian_slip_items (id, slip_id, item_id, property_number, description, quantity, entry_id)
VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		si.ID, si.SlipID, nullable(si.ItemID), si.PropertyNumber, si.Description, si.Quantity, nullable(si.EntryID))
	return mapErr(err)
}

func (t *txStore) DeleteSlipItems(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	return affected(t.db.Exec(ctx, `DELETE FROM custodian_slip_items WHERE id = ANY($1)`, ids))
}

func (t *txStore) DeleteSlip(ctx context.Context, id string) (int64, error) {
	return affected(t.db.Exec(ctx, `DELETE FROM custodian_slips WHERE id = $1`, id))
}
