package models

import (
	"math"
	"time"

	"jewelcraft/internal/auth"

	"github.com/lib/pq"
)

// Category of a catalog item
type Category string

const (
	CategoryRing     Category = "ring"
	CategoryNecklace Category = "necklace"
	CategoryBracelet Category = "bracelet"
	CategoryEarring  Category = "earring"
	CategoryPendant  Category = "pendant"
	CategoryBangle   Category = "bangle"
	CategoryChain    Category = "chain"
	CategoryOther    Category = "other"
)

// MetalType of a catalog item
type MetalType string

const (
	MetalGold      MetalType = "gold"
	MetalSilver    MetalType = "silver"
	MetalPlatinum  MetalType = "platinum"
	MetalWhiteGold MetalType = "white_gold"
	MetalRoseGold  MetalType = "rose_gold"
)

// ItemStatus is the stock status of an item
type ItemStatus string

const (
	ItemStatusInStock      ItemStatus = "in_stock"
	ItemStatusSold         ItemStatus = "sold"
	ItemStatusReserved     ItemStatus = "reserved"
	ItemStatusDiscontinued ItemStatus = "discontinued"
)

// Orderable reports whether stock can be reserved against an item in this status.
func (s ItemStatus) Orderable() bool {
	return s == ItemStatusInStock || s == ItemStatusReserved
}

// Images limits
const (
	MinImages = 1
	MaxImages = 10
)

// Upper bounds for prices and quantities. They keep order arithmetic inside
// int64 and stock counts inside a Postgres INTEGER.
const (
	MaxItemPrice = 1_000_000_000_000
	MaxQuantity  = 1_000_000
)

// Item represents an inventory unit in the catalog
type Item struct {
	ID          string         `db:"id" json:"id"`
	ItemCode    string         `db:"item_code" json:"item_code" validate:"required,min=3,max=50"`
	Name        string         `db:"name" json:"name" validate:"required"`
	Description string         `db:"description" json:"description"`
	Category    Category       `db:"category" json:"category" validate:"required,oneof=ring necklace bracelet earring pendant bangle chain other"`
	Price       int64          `db:"price" json:"price" validate:"gte=0,lte=1000000000000"`
	Weight      float64        `db:"weight" json:"weight" validate:"gt=0"`
	MetalType   MetalType      `db:"metal_type" json:"metal_type" validate:"required,oneof=gold silver platinum white_gold rose_gold"`
	Stones      *string        `db:"stones" json:"stones,omitempty"`
	Images      pq.StringArray `db:"images" json:"images" validate:"min=1,max=10,dive,required"`
	Quantity    int            `db:"quantity" json:"quantity" validate:"gte=0,lte=1000000"`
	Status      ItemStatus     `db:"status" json:"status" validate:"required,oneof=in_stock sold reserved discontinued"`
	Version     int64          `db:"version" json:"-"`
	CreatedAt   time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time      `db:"updated_at" json:"updated_at"`
}

// ItemInput is the request body for creating an item
type ItemInput struct {
	ItemCode    string     `json:"item_code"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Category    Category   `json:"category"`
	Price       int64      `json:"price"`
	Weight      float64    `json:"weight"`
	MetalType   MetalType  `json:"metal_type"`
	Stones      *string    `json:"stones,omitempty"`
	Images      []string   `json:"images"`
	Quantity    int        `json:"quantity"`
	Status      ItemStatus `json:"status"`
}

// ToItem builds an unsaved item; status defaults to in_stock, or sold when nothing is on hand.
func (in ItemInput) ToItem() *Item {
	status := in.Status
	if status == "" {
		status = ItemStatusInStock
		if in.Quantity == 0 {
			status = ItemStatusSold
		}
	}
	return &Item{
		ItemCode:    in.ItemCode,
		Name:        in.Name,
		Description: in.Description,
		Category:    in.Category,
		Price:       in.Price,
		Weight:      in.Weight,
		MetalType:   in.MetalType,
		Stones:      in.Stones,
		Images:      pq.StringArray(in.Images),
		Quantity:    in.Quantity,
		Status:      status,
	}
}

// ItemPatch is a partial update; nil fields are left untouched. An empty
// stones value clears the stones description.
type ItemPatch struct {
	ItemCode    *string     `json:"item_code,omitempty"`
	Name        *string     `json:"name,omitempty"`
	Description *string     `json:"description,omitempty"`
	Category    *Category   `json:"category,omitempty"`
	Price       *int64      `json:"price,omitempty"`
	Weight      *float64    `json:"weight,omitempty"`
	MetalType   *MetalType  `json:"metal_type,omitempty"`
	Stones      *string     `json:"stones,omitempty"`
	Images      *[]string   `json:"images,omitempty"`
	Quantity    *int        `json:"quantity,omitempty"`
	Status      *ItemStatus `json:"status,omitempty"`
}

// Apply merges the patch into a copy of item.
func (p ItemPatch) Apply(item Item) Item {
	if p.ItemCode != nil {
		item.ItemCode = *p.ItemCode
	}
	if p.Name != nil {
		item.Name = *p.Name
	}
	if p.Description != nil {
		item.Description = *p.Description
	}
	if p.Category != nil {
		item.Category = *p.Category
	}
	if p.Price != nil {
		item.Price = *p.Price
	}
	if p.Weight != nil {
		item.Weight = *p.Weight
	}
	if p.MetalType != nil {
		item.MetalType = *p.MetalType
	}
	if p.Stones != nil {
		if stones := *p.Stones; stones == "" {
			item.Stones = nil
		} else {
			item.Stones = &stones
		}
	}
	if p.Images != nil {
		item.Images = append(pq.StringArray(nil), (*p.Images)...)
	}
	if p.Quantity != nil {
		item.Quantity = *p.Quantity
	}
	if p.Status != nil {
		item.Status = *p.Status
	}
	return item
}

// ShippingAddress is where a COD order is delivered
type ShippingAddress struct {
	Line1   string  `json:"line1" validate:"required"`
	Line2   *string `json:"line2,omitempty"`
	City    string  `json:"city" validate:"required"`
	State   string  `json:"state" validate:"required"`
	Zip     string  `json:"zip" validate:"required"`
	Country string  `json:"country" validate:"required"`
}

// LineItem is one line of an order; code, name and price are snapshots taken at order time.
type LineItem struct {
	ItemID   string `db:"item_id" json:"item_id"`
	ItemCode string `db:"item_code" json:"item_code"`
	Name     string `db:"name" json:"name"`
	Price    int64  `db:"price" json:"price"`
	Quantity int    `db:"quantity" json:"quantity"`
	Subtotal int64  `db:"subtotal" json:"subtotal"`
}

// PaymentMethodCOD is the only payment method: cash on delivery
const PaymentMethodCOD = "cod"

// Order represents a customer order
type Order struct {
	ID              string          `json:"id"`
	CustomerName    string          `json:"customer_name"`
	CustomerEmail   string          `json:"customer_email"`
	CustomerPhone   string          `json:"customer_phone"`
	ShippingAddress ShippingAddress `json:"shipping_address"`
	Items           []LineItem      `json:"items"`
	TotalAmount     int64           `json:"total_amount"`
	Status          OrderStatus     `json:"status"`
	PaymentMethod   string          `json:"payment_method"`
	Notes           *string         `json:"notes,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// LineSubtotal returns price × quantity, reporting false on negative input
// or int64 overflow.
func LineSubtotal(price int64, quantity int) (int64, bool) {
	if price < 0 || quantity < 0 {
		return 0, false
	}
	if quantity > 0 && price > math.MaxInt64/int64(quantity) {
		return 0, false
	}
	return price * int64(quantity), true
}

// SumSubtotals returns the sum of line item subtotals, reporting false if it
// does not fit in an int64.
func (o *Order) SumSubtotals() (int64, bool) {
	var total int64
	for _, li := range o.Items {
		if li.Subtotal < 0 || total > math.MaxInt64-li.Subtotal {
			return 0, false
		}
		total += li.Subtotal
	}
	return total, true
}

// OrderLineRequest is one requested line of a new order
type OrderLineRequest struct {
	ItemID   string `json:"item_id" validate:"required"`
	Quantity int    `json:"quantity" validate:"gt=0,lte=1000000"`
}

// CreateOrderRequest is the customer's order request
type CreateOrderRequest struct {
	CustomerName    string             `json:"customer_name" validate:"required"`
	CustomerEmail   string             `json:"customer_email" validate:"required,email"`
	CustomerPhone   string             `json:"customer_phone" validate:"required,min=10,max=15"`
	ShippingAddress ShippingAddress    `json:"shipping_address"`
	Items           []OrderLineRequest `json:"items" validate:"min=1,max=50,dive"`
	Notes           *string            `json:"notes,omitempty"`
}

// UpdateStatusRequest moves an order through its lifecycle
type UpdateStatusRequest struct {
	Status OrderStatus `json:"status"`
	Notes  *string     `json:"notes,omitempty"`
}

// User is a staff account; the password hash never leaves the store
type User struct {
	ID           string    `db:"id" json:"id"`
	Username     string    `db:"username" json:"username"`
	Email        string    `db:"email" json:"email"`
	Role         auth.Role `db:"role" json:"role"`
	PasswordHash string    `db:"password_hash" json:"-"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// RegisterUserRequest creates a staff account
type RegisterUserRequest struct {
	Username string    `json:"username" validate:"required,min=3,max=50"`
	Email    string    `json:"email" validate:"required,email"`
	Password string    `json:"password" validate:"required,min=8"`
	Role     auth.Role `json:"role" validate:"required,oneof=staff manager owner"`
}

// LoginRequest exchanges credentials for a token
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// OutboxEvent is a domain event stored alongside the state change that produced it
type OutboxEvent struct {
	ID          string     `db:"id" json:"id"`
	AggregateID string     `db:"aggregate_id" json:"aggregate_id"`
	EventType   string     `db:"event_type" json:"event_type"`
	Payload     []byte     `db:"payload" json:"payload"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	PublishedAt *time.Time `db:"published_at" json:"published_at,omitempty"`
}
