package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"drawdown/internal/config"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := config.Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 120*time.Minute, cfg.Workflow.DefaultLock())
	assert.Equal(t, 24*time.Hour, cfg.Workflow.MaxLock())
	assert.True(t, cfg.Workflow.RequireAttachments)
	assert.Contains(t, cfg.RBAC.Roles["QS"].Permissions, "report.approve")
	assert.NotContains(t, cfg.RBAC.Roles["RM"].Permissions, "report.approve")
}

func TestFromYAMLOverridesDefaults(t *testing.T) {
	cfg, err := config.FromYAML([]byte(`
workflow:
  default_lock_minutes: 30
database:
  driver: postgres
  dsn: postgres://localhost/drawdown?sslmode=disable
`))
	require.NoError(t, err)
	assert.Equal(t, 30, cfg.Workflow.DefaultLockMinutes)
	assert.Equal(t, 1440, cfg.Workflow.MaxLockMinutes)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "fs", cfg.Storage.Kind)
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"unknown permission": `
rbac:
  roles:
    QS:
      permissions: [report.delete]
`,
		"postgres without dsn": `
database:
  driver: postgres
`,
		"bad driver": `
database:
  driver: oracle
`,
		"max below default": `
workflow:
  default_lock_minutes: 60
  max_lock_minutes: 30
`,
		"webhook without url": `
notify:
  webhooks:
    - secret: abc
`,
		"s3 without bucket": `
storage:
  kind: s3
`,
	}
	for name, doc := range cases {
		_, err := config.FromYAML([]byte(doc))
		assert.Error(t, err, name)
	}
}

func TestLoadOptional(t *testing.T) {
	dir := t.TempDir()
	cfg, err := config.LoadOptional(dir)
	require.NoError(t, err)
	assert.Equal(t, 120, cfg.Workflow.DefaultLockMinutes)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "drawdown.yml"), []byte("workflow:\n  default_lock_minutes: 45\n"), 0o644))
	cfg, err = config.Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 45, cfg.Workflow.DefaultLockMinutes)

	_, err = config.Load(t.TempDir())
	assert.Error(t, err)
}
