package shared

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

type keyTable struct {
	rows map[string]time.Time
	fail error
	args [][]any
}

func (k *keyTable) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if k.fail != nil {
		return pgconn.CommandTag{}, k.fail
	}
	k.args = append(k.args, args)
	switch {
	case strings.HasPrefix(sql, "INSERT"):
		key := args[0].(string)
		if _, ok := k.rows[key]; ok {
			return pgconn.NewCommandTag("INSERT 0 0"), nil
		}
		k.rows[key] = args[2].(time.Time)
		return pgconn.NewCommandTag("INSERT 0 1"), nil
	case strings.Contains(sql, "created_at <"):
		cutoff := args[0].(time.Time)
		n := 0
		for key, at := range k.rows {
			if at.Before(cutoff) {
				delete(k.rows, key)
				n++
			}
		}
		return pgconn.NewCommandTag("DELETE " + strconv.Itoa(n)), nil
	default:
		key := args[0].(string)
		if _, ok := k.rows[key]; !ok {
			return pgconn.NewCommandTag("DELETE 0"), nil
		}
		delete(k.rows, key)
		return pgconn.NewCommandTag("DELETE 1"), nil
	}
}

func TestIdempotencyClaimReleaseAndCleanup(t *testing.T) {
	table := &keyTable{rows: map[string]time.Time{}}
	store := NewIdempotencyStore(table)
	now := time.Date(2025, time.March, 10, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, store.CheckAndInsert(ctx, "replay-1", "custody:replay"))
	require.ErrorIs(t, store.CheckAndInsert(ctx, "replay-1", "custody:replay"), ErrIdempotencyConflict)

	require.NoError(t, store.Delete(ctx, "replay-1"))
	require.NoError(t, store.CheckAndInsert(ctx, "replay-1", "custody:replay"))

	now = now.Add(10 * 24 * time.Hour)
	require.NoError(t, store.CheckAndInsert(ctx, "replay-2", "custody:replay"))
	purged, err := store.Cleanup(ctx, 7*24*time.Hour)
	require.NoError(t, err)
	require.EqualValues(t, 1, purged)
	require.Contains(t, table.rows, "replay-2")
}

func TestIdempotencyValidation(t *testing.T) {
	ctx := context.Background()
	var nilStore *IdempotencyStore
	require.Error(t, nilStore.CheckAndInsert(ctx, "k", "m"))
	require.NoError(t, nilStore.Delete(ctx, "k"))

	store := NewIdempotencyStore(&keyTable{rows: map[string]time.Time{}})
	require.Error(t, store.CheckAndInsert(ctx, "", "m"))
	require.Error(t, store.CheckAndInsert(ctx, "k", ""))
	require.Error(t, store.Delete(ctx, ""))

	boom := errors.New("conn reset")
	failing := NewIdempotencyStore(&keyTable{fail: boom})
	require.ErrorIs(t, failing.CheckAndInsert(ctx, "k", "m"), boom)
}
