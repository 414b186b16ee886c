package auth_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"drawdown/internal/config"
	"drawdown/internal/domain"
	"drawdown/internal/engine/auth"
)

func TestDefaultTable(t *testing.T) {
	table := auth.Default()
	cases := []struct {
		role   domain.Role
		action domain.Action
		want   bool
	}{
		{domain.RoleRM, domain.ActionCreate, true},
		{domain.RoleRM, domain.ActionSubmit, true},
		{domain.RoleRM, domain.ActionResubmit, true},
		{domain.RoleRM, domain.ActionLock, false},
		{domain.RoleRM, domain.ActionApprove, false},
		{domain.RoleQS, domain.ActionLock, true},
		{domain.RoleQS, domain.ActionApprove, true},
		{domain.RoleQS, domain.ActionCreate, false},
		{domain.RoleQS, domain.ActionSubmit, false},
		{domain.RoleAdmin, domain.ActionRead, true},
		{domain.RoleAdmin, domain.ActionReject, false},
		{domain.Role("Auditor"), domain.ActionRead, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, table.Allows(tc.role, tc.action), "%s %s", tc.role, tc.action)
	}
	assert.Equal(t, []domain.Action{domain.ActionComment, domain.ActionRead}, table.Actions(domain.RoleAdmin))
}

func TestRequireWrapsForbidden(t *testing.T) {
	err := auth.Default().Require(domain.RoleRM, domain.ActionApprove)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrForbidden)
	var fe auth.ForbiddenError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, domain.RoleRM, fe.Role)
	assert.Equal(t, domain.ActionApprove, fe.Action)
}

func TestTableFromConfigOverride(t *testing.T) {
	cfg, err := config.FromYAML([]byte(`
rbac:
  roles:
    Auditor:
      permissions: [report.read]
`))
	require.NoError(t, err)
	table := auth.FromConfig(cfg)
	assert.True(t, table.Allows("Auditor", domain.ActionRead))
	assert.True(t, table.Allows(domain.RoleQS, domain.ActionApprove), "default roles survive a partial override")
}
