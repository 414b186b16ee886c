package auth

import (
	"fmt"

	"drawdown/internal/config"
	"drawdown/internal/domain"
)

// ForbiddenError indicates the role lacks permission for an action.
type ForbiddenError struct {
	Role   domain.Role
	Action domain.Action
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("role %s may not %s", e.Role, e.Action)
}

func (e ForbiddenError) Unwrap() error {
	return domain.ErrForbidden
}

// Table maps a role to the actions it may perform.
type Table map[domain.Role]map[domain.Action]bool

// FromConfig builds the table from the rbac.roles section.
func FromConfig(cfg *config.Config) Table {
	t := Table{}
	for roleID, role := range cfg.RBAC.Roles {
		perms := map[domain.Action]bool{}
		for _, p := range role.Permissions {
			perms[domain.Action(p)] = true
		}
		t[domain.Role(roleID)] = perms
	}
	return t
}

// Default returns the table of the default configuration.
func Default() Table {
	return FromConfig(config.Default())
}

func (t Table) Allows(role domain.Role, action domain.Action) bool {
	return t[role][action]
}

// Require returns a ForbiddenError unless role may perform action.
func (t Table) Require(role domain.Role, action domain.Action) error {
	if !t.Allows(role, action) {
		return ForbiddenError{Role: role, Action: action}
	}
	return nil
}

// Actions lists what role may do, in declaration order.
func (t Table) Actions(role domain.Role) []domain.Action {
	var res []domain.Action
	for _, a := range domain.Actions {
		if t[role][a] {
			res = append(res, a)
		}
	}
	return res
}
