package audithook

// Action constants for audit events.
const (
	// Event actions
	ActionEventPosted   = "event.posted"
	ActionEventReplayed = "event.replayed"
	ActionEventFailed   = "event.failed"

	// Ledger actions
	ActionTransactionReversed = "transaction.reversed"

	// Inventory actions
	ActionInventoryMoved = "inventory.moved"

	// Purchasing actions
	ActionReorderTriggered = "reorder.triggered"
	ActionReorderFailed    = "reorder.failed"

	// Chart of accounts actions
	ActionAccountsSeeded = "accounts.seeded"
)

// Resource constants for audit events.
const (
	ResourceEvent       = "event"
	ResourceTransaction = "transaction"
	ResourceMovement    = "movement"
	ResourceRequisition = "requisition"
	ResourceChart       = "chart_of_accounts"
)

// Category constants for audit events.
const (
	CategoryPosting    = "posting"
	CategoryLedger     = "ledger"
	CategoryInventory  = "inventory"
	CategoryPurchasing = "purchasing"
	CategorySetup      = "setup"
)

// Severity levels for audit events.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityError    = "error"
	SeverityCritical = "critical"
)

// Outcome values for audit events.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)
