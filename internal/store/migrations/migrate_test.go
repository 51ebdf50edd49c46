package migrations

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEmbeddedMigrationsAreGooseFiles(t *testing.T) {
	files, err := fs.Glob(FS, "*.sql")
	require.NoError(t, err)
	require.NotEmpty(t, files)
	for _, name := range files {
		body, err := fs.ReadFile(FS, name)
		require.NoError(t, err)
		require.Contains(t, string(body), "-- +goose Up", name)
		require.Contains(t, string(body), "-- +goose Down", name)
	}
}

func TestSchemaCoversCustodyTables(t *testing.T) {
	body, err := fs.ReadFile(FS, "00001_custody.sql")
	require.NoError(t, err)
	for _, table := range []string{
		"inventory_items", "property_cards", "property_card_entries", "custodian_slips",
		"custodian_slip_items", "property_transfers", "transfer_items", "transfer_history",
		"audit_logs", "idempotency_keys",
	} {
		require.True(t, strings.Contains(string(body), "CREATE TABLE IF NOT EXISTS "+table+" ("), table)
	}
}
