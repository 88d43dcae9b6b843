package domain

// Transaction directions.
const (
	DirectionIn  = "IN"  // merchant receives funds via trader
	DirectionOut = "OUT" // trader pays out on merchant's behalf
)

// Transaction statuses. READY and CANCELED are the two statuses with
// financial side effects; everything else is presentational.
const (
	StatusCreated    = "CREATED"
	StatusInProgress = "IN_PROGRESS"
	StatusDispute    = "DISPUTE"
	StatusExpired    = "EXPIRED"
	StatusReady      = "READY"
	StatusCanceled   = "CANCELED"
)

// SettlementCurrency is the currency all trader and merchant balances are
// held in.
const SettlementCurrency = "usdt"

// Notification types.
const (
	NotificationDeviceOffline = "DEVICE_OFFLINE"
)

var knownStatuses = map[string]struct{}{
	StatusCreated:    {},
	StatusInProgress: {},
	StatusDispute:    {},
	StatusExpired:    {},
	StatusReady:      {},
	StatusCanceled:   {},
}

// ValidStatus reports whether s is a member of the status enum.
func ValidStatus(s string) bool {
	_, ok := knownStatuses[s]
	return ok
}
