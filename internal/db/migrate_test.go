package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationFiles_Ordered(t *testing.T) {
	files, err := MigrationFiles()
	require.NoError(t, err)
	assert.Equal(t, []string{
		"001_price_history.sql",
		"002_price_snapshots.sql",
		"003_trades.sql",
		"004_ledger.sql",
	}, files)
}
