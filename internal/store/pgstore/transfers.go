package pgstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/odyssey-erp/custody/internal/property"
)

const transferColumns = `id, transfer_number, entity_name, fund_cluster, from_custodian_id, from_custodian_name,
	from_custodian_position, to_custodian_id, to_custodian_name, to_custodian_position, transfer_type,
	COALESCE(status, ''), reason, requested_at, approved_at, completed_at, created_by, approved_by, received_by,
	created_at, updated_at`

const transferItemColumns = `id, transfer_id, COALESCE(item_id, ''), property_number, description, quantity,
	unit_cost::text, COALESCE(slip_item_id, ''), remarks`

const historyColumns = `id, transfer_id, from_status, to_status, actor_id, note, at`

func scanTransfer(row pgx.Row) (property.Transfer, error) {
	var t property.Transfer
	err := row.Scan(&t.ID, &t.TransferNumber, &t.EntityName, &t.FundCluster, &t.From.ID, &t.From.Name,
		&t.From.Position, &t.To.ID, &t.To.Name, &t.To.Position, &t.TransferType,
		&t.Status, &t.Reason, &t.RequestedAt, &t.ApprovedAt, &t.CompletedAt, &t.CreatedBy, &t.ApprovedBy, &t.ReceivedBy,
		&t.CreatedAt, &t.UpdatedAt)
	return t, mapErr(err)
}

func scanTransferItem(row pgx.Row) (property.TransferItem, error) {
	var ti property.TransferItem
	err := row.Scan(&ti.ID, &ti.TransferID, &ti.ItemID, &ti.PropertyNumber, &ti.Description, &ti.Quantity,
		money{&ti.UnitCost}, &ti.SlipItemID, &ti.Remarks)
	return ti, mapErr(err)
}

func scanHistory(row pgx.Row) (property.TransferHistory, error) {
	var h property.TransferHistory
	err := row.Scan(&h.ID, &h.TransferID, &h.FromStatus, &h.ToStatus, &h.ActorID, &h.Note, &h.At)
	return h, mapErr(err)
}

func (q queries) GetTransfer(ctx context.Context, id string) (property.Transfer, []property.TransferItem, error) {
	return q.transfer(ctx, `SELECT `+transferColumns+` FROM property_transfers WHERE id = $1`, id)
}

func (q queries) transfer(ctx context.Context, query, id string) (property.Transfer, []property.TransferItem, error) {
	t, err := scanTransfer(q.db.QueryRow(ctx, query, id))
	if err != nil {
		return property.Transfer{}, nil, err
	}
	rows, err := q.db.Query(ctx, `SELECT `+transferItemColumns+` FROM transfer_items WHERE transfer_id = $1
ORDER BY property_number`, id)
	items, err := collect(rows, err, scanTransferItem)
	if err != nil {
		return property.Transfer{}, nil, err
	}
	return t, items, nil
}

func (q queries) GetTransferByNumber(ctx context.Context, number string) (property.Transfer, error) {
	return scanTransfer(q.db.QueryRow(ctx, `SELECT `+transferColumns+` FROM property_transfers WHERE transfer_number = $1`, number))
}

func (q queries) ListTransfers(ctx context.Context, filter property.TransferFilter) ([]property.Transfer, error) {
	var (
		where []string
		args  []any
	)
	if filter.Status != "" {
		args = append(args, string(filter.Status.Normalize()))
		where = append(where, fmt.Sprintf("COALESCE(NULLIF(status, ''), 'Draft') = $%d", len(args)))
	}
	if filter.CustodianID != "" {
		args = append(args, filter.CustodianID)
		where = append(where, fmt.Sprintf("(from_custodian_id = $%d OR to_custodian_id = $%d)", len(args), len(args)))
	}
	query := `SELECT ` + transferColumns + ` FROM property_transfers`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY transfer_number DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	rows, err := q.db.Query(ctx, query, args...)
	return collect(rows, err, scanTransfer)
}

func (q queries) ListTransferItemsByItem(ctx context.Context, ref property.ItemRef) ([]property.TransferItem, error) {
	rows, err := q.db.Query(ctx, `SELECT `+transferItemColumns+` FROM transfer_items
WHERE ($1 <> '' AND item_id = $1) OR ($2 <> '' AND property_number = $2)
ORDER BY id`, ref.ID, ref.PropertyNumber)
	return collect(rows, err, scanTransferItem)
}

func (q queries) ListTransferItemsByIDs(ctx context.Context, ids []string) ([]property.TransferItem, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := q.db.Query(ctx, `SELECT `+transferItemColumns+` FROM transfer_items WHERE id = ANY($1)
ORDER BY id`, ids)
	return collect(rows, err, scanTransferItem)
}

func (q queries) CountTransferItems(ctx context.Context, transferID string) (int, error) {
	var n int
	err := q.db.QueryRow(ctx, `SELECT COUNT(*) FROM transfer_items WHERE transfer_id = $1`, transferID).Scan(&n)
	return n, mapErr(err)
}

func (q queries) MaxTransferSequence(ctx context.Context, prefix string) (int, error) {
	return maxSequence(ctx, q.db, `SELECT COALESCE(MAX(SUBSTRING(transfer_number FROM $2)::int), 0) FROM property_transfers
WHERE starts_with(transfer_number, $1) AND SUBSTRING(transfer_number FROM $2) ~ '^[0-9]+$'`, prefix)
}

func (q queries) ListHistory(ctx context.Context, transferID string) ([]property.TransferHistory, error) {
	rows, err := q.db.Query(ctx, `SELECT `+historyColumns+` FROM transfer_history WHERE transfer_id = $1
ORDER BY at, id`, transferID)
	return collect(rows, err, scanHistory)
}

func (t *txStore) LockTransfer(ctx context.Context, id string) (property.Transfer, []property.TransferItem, error) {
	return t.transfer(ctx, `SELECT `+transferColumns+` FROM property_transfers WHERE id = $1 FOR UPDATE`, id)
}

func (t *txStore) InsertTransfer(ctx context.Context, tr property.Transfer) error {
	_, err := t.db.Exec(ctx, `INSERT INTO property_transfers (id, transfer_number, entity_name, fund_cluster,
	from_custodian_id, from_custodian_name, from_custodian_position, to_custodian_id, to_custodian_name,
	to_custodian_position, transfer_type, status, reason, requested_at, approved_at, completed_at, created_by,
	approved_by, received_by)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`,
		tr.ID, tr.TransferNumber, tr.EntityName, tr.FundCluster, tr.From.ID, tr.From.Name, tr.From.Position,
		tr.To.ID, tr.To.Name, tr.To.Position, string(tr.TransferType), string(tr.Status.Normalize()), tr.Reason,
		tr.RequestedAt, tr.ApprovedAt, tr.CompletedAt, tr.CreatedBy, tr.ApprovedBy, tr.ReceivedBy)
	return mapErr(err)
}

func (t *txStore) InsertTransferItem(ctx context.Context, ti property.TransferItem) error {
	_, err := t.db.Exec(ctx, `INSERT INTO transfer_items (id, transfer_id, item_id, property_number, description, quantity,
	unit_cost, slip_item_id, remarks)
VALUES ($1, $2, $3, $4, $5, $6, $7::numeric, $8, $9)`,
		ti.ID, ti.TransferID, nullable(ti.ItemID), ti.PropertyNumber, ti.Description, ti.Quantity,
		ti.UnitCost.String(), nullable(ti.SlipItemID), ti.Remarks)
	return mapErr(err)
}

func (t *txStore) UpdateTransfer(ctx context.Context, tr property.Transfer) error {
	n, err := affected(t.db.Exec(ctx, `UPDATE property_transfers SET entity_name = $2, fund_cluster = $3,
	transfer_type = $4, status = $5, reason = $6, approved_at = $7, completed_at = $8, approved_by = $9,
	received_by = $10, updated_at = NOW()
WHERE id = $1`,
		tr.ID, tr.EntityName, tr.FundCluster, string(tr.TransferType), string(tr.Status.Normalize()), tr.Reason,
		tr.ApprovedAt, tr.CompletedAt, tr.ApprovedBy, tr.ReceivedBy))
	if err != nil {
		return err
	}
	if n == 0 {
		return property.ErrNotFound
	}
	return nil
}

func (t *txStore) DeleteTransferItems(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	return affected(t.db.Exec(ctx, `DELETE FROM transfer_items WHERE id = ANY($1)`, ids))
}

// DeleteTransfer removes the header. History rows go with it.
func (t *txStore) DeleteTransfer(ctx context.Context, id string) (int64, error) {
	return affected(t.db.Exec(ctx, `DELETE FROM property_transfers WHERE id = $1`, id))
}

func (t *txStore) InsertHistory(ctx context.Context, h property.TransferHistory) error {
	_, err := t.db.Exec(ctx, `INSERT INTO transfer_history (id, transfer_id, from_status, to_status, actor_id, note, at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		h.ID, h.TransferID, string(h.FromStatus), string(h.ToStatus), h.ActorID, h.Note, h.At)
	return mapErr(err)
}
