package pgstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/odyssey-erp/custody/internal/property"
)

const itemColumns = `id, property_number, description, unit, condition, status,
	unit_cost::text, quantity, total_cost::text, COALESCE(assignment_status, ''),
	COALESCE(custodian_id, ''), custodian_name, custodian_position, assigned_at,
	estimated_useful_life, created_at, updated_at`

func scanItem(row pgx.Row) (property.Item, error) {
	var it property.Item
	err := row.Scan(&it.ID, &it.PropertyNumber, &it.Description, &it.Unit, &it.Condition, &it.Status,
		money{&it.UnitCost}, &it.Quantity, money{&it.TotalCost}, &it.AssignmentStatus,
		&it.Custodian.ID, &it.Custodian.Name, &it.Custodian.Position, &it.AssignedAt,
		&it.EstimatedUsefulLife, &it.CreatedAt, &it.UpdatedAt)
	return it, mapErr(err)
}

func (q queries) GetItem(ctx context.Context, id string) (property.Item, error) {
	return scanItem(q.db.QueryRow(ctx, `SELECT `+itemColumns+` FROM inventory_items WHERE id = $1`, id))
}

func (q queries) GetItemByNumber(ctx context.Context, propertyNumber string) (property.Item, error) {
	return scanItem(q.db.QueryRow(ctx, `SELECT `+itemColumns+` FROM inventory_items WHERE property_number = $1`, propertyNumber))
}

func (q queries) ListItems(ctx context.Context, filter property.ItemFilter) ([]property.Item, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if filter.CustodianID != "" {
		add("custodian_id = $%d", filter.CustodianID)
	}
	if filter.Condition != "" {
		add("condition = $%d", string(filter.Condition))
	}
	if filter.Status != "" {
		add("status = $%d", string(filter.Status))
	}
	query := `SELECT ` + itemColumns + ` FROM inventory_items`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY property_number"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	rows, err := q.db.Query(ctx, query, args...)
	return collect(rows, err, scanItem)
}

func (t *txStore) LockItem(ctx context.Context, id string) (property.Item, error) {
	return scanItem(t.db.QueryRow(ctx, `SELECT `+itemColumns+` FROM inventory_items WHERE id = $1 FOR UPDATE`, id))
}

func (t *txStore) InsertItem(ctx context.Context, it property.Item) error {
	_, err := t.db.Exec(ctx, `INSERT INTO inventory_items (id, property_number, description, unit, condition, status,
	unit_cost, quantity, total_cost, assignment_status, custodian_id, custodian_name, custodian_position,
	assigned_at, estimated_useful_life)
VALUES ($1, $2, $3, $4, $5, $6, $7::numeric, $8, $9::numeric, $10, $11, $12, $13, $14, $15)`,
		it.ID, it.PropertyNumber, it.Description, it.Unit, string(it.Condition), string(it.Status),
		it.UnitCost.String(), it.Quantity, it.TotalCost.String(), nullable(string(it.AssignmentStatus)),
		nullable(it.Custodian.ID), it.Custodian.Name, it.Custodian.Position, it.AssignedAt, it.EstimatedUsefulLife)
	return mapErr(err)
}

func (t *txStore) UpdateItem(ctx context.Context, it property.Item) error {
	n, err := affected(t.db.Exec(ctx, `UPDATE inventory_items SET description = $2, unit = $3, condition = $4,
	status = $5, unit_cost = $6::numeric, quantity = $7, total_cost = $8::numeric, assignment_status = $9,
	custodian_id = $10, custodian_name = $11, custodian_position = $12, assigned_at = $13,
	estimated_useful_life = $14, updated_at = NOW()
WHERE id = $1`,
		it.ID, it.Description, it.Unit, string(it.Condition), string(it.Status),
		it.UnitCost.String(), it.Quantity, it.TotalCost.String(), nullable(string(it.AssignmentStatus)),
		nullable(it.Custodian.ID), it.Custodian.Name, it.Custodian.Position, it.AssignedAt, it.EstimatedUsefulLife))
	if err != nil {
		return err
	}
	if n == 0 {
		return property.ErrNotFound
	}
	return nil
}

func (t *txStore) DeleteItem(ctx context.Context, id string) (int64, error) {
	return affected(t.db.Exec(ctx, `DELETE FROM inventory_items WHERE id = $1`, id))
}
