package models

import "time"

// Event types
const (
	EventTypeOrderCreated       = "ORDER_CREATED"
	EventTypeOrderStatusChanged = "ORDER_STATUS_CHANGED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderCreatedEvent published when an order is placed and its stock reserved
type OrderCreatedEvent struct {
	BaseEvent
	OrderID     string          `json:"order_id"`
	Status      OrderStatus     `json:"status"`
	TotalAmount int64           `json:"total_amount"`
	Items       []OrderItemData `json:"items"`
}

// OrderStatusChangedEvent published on every lifecycle transition
type OrderStatusChangedEvent struct {
	BaseEvent
	OrderID     string      `json:"order_id"`
	From        OrderStatus `json:"from"`
	To          OrderStatus `json:"to"`
	TotalAmount int64       `json:"total_amount"`
}

// OrderItemData represents item data in events
type OrderItemData struct {
	ItemID   string `json:"item_id"`
	Quantity int    `json:"quantity"`
	Price    int64  `json:"price"`
}
