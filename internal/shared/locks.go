package shared

// InventorySummaryLockKey guards recomputation of the stock summary row.
const InventorySummaryLockKey = "inventory:summary:lock"

// OrderDepletionKey builds the idempotency key for stock taken by an order.
func OrderDepletionKey(orderID string) string {
	return "inventory:order-depletion:" + orderID
}

// OrderRestoreKey builds the idempotency key for stock returned by a cancelled order.
func OrderRestoreKey(orderID string) string {
	return "inventory:order-restore:" + orderID
}
