package shared

// Ledger permissions.
const (
	PermLedgerView        = "ledger.view"
	PermLedgerWrite       = "ledger.write"
	PermLedgerBlockClose  = "ledger.block.close"
	PermLedgerCheckSettle = "ledger.check.settle"
	PermFinanceTitleEdit  = "finance.title.edit"
	PermClosingManage     = "ledger.closing.manage"
)

// LedgerScopes lists all ledger related permissions.
func LedgerScopes() []string {
	return []string{
		PermLedgerView,
		PermLedgerWrite,
		PermLedgerBlockClose,
		PermLedgerCheckSettle,
		PermFinanceTitleEdit,
		PermClosingManage,
	}
}
