package shared

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

type recordingExecer struct {
	sql  string
	args []any
}

func (r *recordingExecer) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	r.sql, r.args = sql, args
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func TestAuditLoggerFallsBackToContextActor(t *testing.T) {
	db := &recordingExecer{}
	logger := NewAuditLogger(db)
	ctx := ContextWithActor(context.Background(), "supply-officer")

	err := logger.Record(ctx, AuditLog{Action: "custody.assign", Entity: "item", EntityID: "SP-0001", Meta: map[string]any{"custodian_id": "C1"}})
	require.NoError(t, err)
	require.Contains(t, db.sql, "INSERT INTO audit_logs")
	require.Equal(t, "supply-officer", db.args[0])
	require.JSONEq(t, `{"custodian_id":"C1"}`, string(db.args[4].([]byte)))
}

func TestAuditLoggerRejectsIncompleteRecords(t *testing.T) {
	logger := NewAuditLogger(&recordingExecer{})
	require.Error(t, logger.Record(context.Background(), AuditLog{Action: "custody.assign"}))

	var unset *AuditLogger
	require.Error(t, unset.Record(context.Background(), AuditLog{Action: "a", Entity: "b", EntityID: "c"}))

	mem := &MemoryAudit{}
	require.NoError(t, mem.Record(context.Background(), AuditLog{Action: "a", Entity: "b", EntityID: "c"}))
	require.Equal(t, []string{"a"}, mem.Actions())
}
