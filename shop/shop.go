// Package shop is an e-commerce storefront whose checkout is a saga:
// inventory is reserved, the customer is handed off to the payment
// processor, and the order is fulfilled or cancelled when the payment
// outcome arrives.
package shop

import (
	"context"
	"fmt"
	"time"
)

// OrderStatus is the lifecycle state of an order.
type OrderStatus int

const (
	OrderCancelled OrderStatus = -1
	OrderPending   OrderStatus = 0
	OrderFulfilled OrderStatus = 1
	OrderPaid      OrderStatus = 2
)

func (s OrderStatus) String() string {
	switch s {
	case OrderCancelled:
		return "cancelled"
	case OrderPending:
		return "pending"
	case OrderFulfilled:
		return "fulfilled"
	case OrderPaid:
		return "paid"
	default:
		return fmt.Sprintf("OrderStatus(%d)", int(s))
	}
}

// MsgInsufficientInventory is the failure of a reservation that finds
// too little stock.
const MsgInsufficientInventory = "Insufficient Inventory"

// Product is an item of the catalog. Price is in cents.
type Product struct {
	ID          int64  `json:"product_id"`
	Name        string `json:"product"`
	Description string `json:"description"`
	ImageName   string `json:"image_name"`
	Price       int64  `json:"price"`
	Inventory   int    `json:"inventory"`
}

// DisplayPrice formats the price in dollars.
func (p *Product) DisplayPrice() string {
	return fmt.Sprintf("%.2f", float64(p.Price)/100)
}

// CartItem is a product in a user's cart.
type CartItem struct {
	Username  string `json:"username"`
	ProductID int64  `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// LineItem is a cart or order line joined with its product.
type LineItem struct {
	ProductID int64  `json:"product_id"`
	Name      string `json:"product"`
	Price     int64  `json:"price"`
	Quantity  int    `json:"quantity"`
}

// Order is a checkout attempt. ExecutionID ties it to its checkout
// execution; PaymentSessionID is the session the customer pays through.
type Order struct {
	ID               int64       `json:"order_id"`
	Username         string      `json:"username"`
	Status           OrderStatus `json:"order_status"`
	ExecutionID      string      `json:"execution_id"`
	PaymentSessionID string      `json:"payment_session_id,omitempty"`
	LastUpdateTime   time.Time   `json:"last_update_time"`
}

// OrderItem is a line of an order at the price paid.
type OrderItem struct {
	OrderID   int64 `json:"order_id"`
	ProductID int64 `json:"product_id"`
	Price     int64 `json:"price"`
	Quantity  int   `json:"quantity"`
}

// Store defines the persistence contract for the catalog, carts and
// orders.
type Store interface {
	// CreateProduct adds a product to the catalog and assigns its ID.
	CreateProduct(ctx context.Context, p *Product) error

	// GetProduct returns a product. It returns escrow.ErrProductNotFound
	// when none exists.
	GetProduct(ctx context.Context, productID int64) (*Product, error)

	// ListProducts returns the catalog ordered by ID.
	ListProducts(ctx context.Context) ([]*Product, error)

	// AddToCart adds one unit of a product to a user's cart.
	AddToCart(ctx context.Context, username string, productID int64) error

	// GetCart returns the lines of a user's cart ordered by product ID.
	GetCart(ctx context.Context, username string) ([]LineItem, error)

	// ClearCart empties a user's cart.
	ClearCart(ctx context.Context, username string) error

	// CreateOrder persists a pending order and its items and returns the
	// new order ID.
	CreateOrder(ctx context.Context, o *Order, items []LineItem) (int64, error)

	// SubtractInventory atomically decrements the stock of every item, or
	// of none when any product has less than the requested quantity.
	SubtractInventory(ctx context.Context, items []LineItem) error

	// RestoreInventory increments the stock of every item.
	RestoreInventory(ctx context.Context, items []LineItem) error

	// UpdateOrderStatus sets the status of an order.
	UpdateOrderStatus(ctx context.Context, orderID int64, status OrderStatus) error

	// SetOrderPaymentSession records the payment session of an order.
	SetOrderPaymentSession(ctx context.Context, orderID int64, sessionID string) error

	// GetOrder returns an order. It returns escrow.ErrOrderNotFound when
	// none exists.
	GetOrder(ctx context.Context, orderID int64) (*Order, error)

	// GetOrderByExecution returns the order created by a checkout
	// execution. It returns escrow.ErrOrderNotFound when none exists.
	GetOrderByExecution(ctx context.Context, executionID string) (*Order, error)

	// ListOrderItems returns the items of an order.
	ListOrderItems(ctx context.Context, orderID int64) ([]OrderItem, error)
}
