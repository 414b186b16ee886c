package migrate_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"drawdown/internal/db"
	"drawdown/internal/migrate"
)

func TestMigrateIsIdempotent(t *testing.T) {
	conn, dialect, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	defer conn.Close()
	ctx := context.Background()

	latest, err := migrate.Latest()
	require.NoError(t, err)
	require.Positive(t, latest)

	v, err := migrate.Migrate(ctx, conn, dialect)
	require.NoError(t, err)
	assert.Equal(t, latest, v)

	v, err = migrate.Migrate(ctx, conn, dialect)
	require.NoError(t, err)
	assert.Equal(t, latest, v)

	for _, table := range []string{"facilities", "reports", "attachments", "comments", "trail_entries"} {
		var n int
		err := conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+table).Scan(&n)
		require.NoError(t, err, table)
	}
}
