package rbac

import (
	"strings"

	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// Role groups permissions under a name forwarded by the identity gateway.
type Role struct {
	Name        string
	Permissions []string
}

// DefaultRoles is the static role table. ADMIN holds every permission.
func DefaultRoles() []Role {
	return []Role{
		{Name: shared.RoleAdmin, Permissions: shared.LedgerScopes()},
		{Name: shared.RoleFinance, Permissions: []string{
			shared.PermLedgerView,
			shared.PermLedgerWrite,
			shared.PermLedgerBlockClose,
			shared.PermLedgerCheckSettle,
			shared.PermFinanceTitleEdit,
			shared.PermClosingManage,
		}},
		{Name: shared.RoleOperator, Permissions: []string{shared.PermLedgerView, shared.PermLedgerWrite}},
		{Name: shared.RoleViewer, Permissions: []string{shared.PermLedgerView}},
	}
}

func normalizeRole(name string) string {
	return strings.ToUpper(strings.TrimSpace(name))
}
