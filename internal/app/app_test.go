package app

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"drawdown/internal/blob"
	"drawdown/internal/config"
	"drawdown/internal/notify"
)

func TestNewLoggerLevels(t *testing.T) {
	logger, err := NewLogger("warn", "json")
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zap.InfoLevel))
	assert.True(t, logger.Core().Enabled(zap.WarnLevel))

	logger, err = NewLogger("bogus", "console")
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zap.InfoLevel))
	assert.False(t, logger.Core().Enabled(zap.DebugLevel))
}

func TestBootstrapSQLite(t *testing.T) {
	cfg := config.Default()
	cfg.Database.Workspace = t.TempDir()
	a, err := Bootstrap(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer a.Close()

	fs, ok := a.Engine.Blobs.(blob.FS)
	require.True(t, ok)
	assert.Equal(t, filepath.Join(cfg.Database.Workspace, ".drawdown/blobs"), fs.Dir)
	assert.IsType(t, notify.Log{}, a.Engine.Notifier)

	h, err := a.Handler()
	require.NoError(t, err)
	assert.NotNil(t, h)

	facilities, err := a.Repo.ListFacilities(context.Background())
	require.NoError(t, err)
	assert.Empty(t, facilities)
}

func TestBuildNotifierFansOut(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := config.Default()
	cfg.Notify.Redis.Addr = mr.Addr()
	disabled := false
	cfg.Notify.Webhooks = []config.WebhookConfig{
		{URL: "http://example.invalid/hook"},
		{URL: "http://example.invalid/off", Enabled: &disabled},
	}
	n, closers := BuildNotifier(cfg, zap.NewNop())
	multi, ok := n.(notify.Multi)
	require.True(t, ok)
	assert.Len(t, multi, 3)
	require.Len(t, closers, 1)
	require.NoError(t, closers[0]())

	cfg = config.Default()
	cfg.Notify.Log = false
	n, closers = BuildNotifier(cfg, zap.NewNop())
	assert.IsType(t, notify.Nop{}, n)
	assert.Empty(t, closers)
}

func TestOpenBlobStoreRejectsUnknownKind(t *testing.T) {
	cfg := config.Default()
	cfg.Storage.Kind = "tape"
	_, err := OpenBlobStore(context.Background(), cfg)
	assert.Error(t, err)
}
