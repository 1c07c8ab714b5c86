package inventory

// OrderStockEvent is the payload posted when an order is placed or cancelled.
type OrderStockEvent struct {
	UserID string      `json:"user_id"`
	Items  []OrderItem `json:"items"`
}
