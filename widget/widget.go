// Package widget is a single-product store. A checkout reserves one
// widget, hands the caller a payment ID, waits for the payment outcome
// and starts a dispatch workflow for paid orders.
package widget

import (
	"context"
	"fmt"
	"time"

	"github.com/xraph/escrow/saga"
)

// ProductID is the ID of the only product.
const ProductID = 1

// OrderStatus is the lifecycle state of an order.
type OrderStatus int

const (
	OrderCancelled  OrderStatus = -1
	OrderPending    OrderStatus = 0
	OrderDispatched OrderStatus = 1
	OrderPaid       OrderStatus = 2
)

func (s OrderStatus) String() string {
	switch s {
	case OrderCancelled:
		return "cancelled"
	case OrderPending:
		return "pending"
	case OrderDispatched:
		return "dispatched"
	case OrderPaid:
		return "paid"
	default:
		return fmt.Sprintf("OrderStatus(%d)", int(s))
	}
}

// ErrOutOfStock is returned when no widget is left to reserve.
var ErrOutOfStock = saga.Insufficient("No inventory")

// Product is the widget.
type Product struct {
	ID          int     `json:"product_id"`
	Name        string  `json:"product"`
	Description string  `json:"description"`
	Inventory   int     `json:"inventory"`
	Price       float64 `json:"price"`
}

// Order is a widget order. ProgressRemaining counts down to dispatch.
type Order struct {
	ID                int64       `json:"order_id"`
	Status            OrderStatus `json:"order_status"`
	LastUpdateTime    time.Time   `json:"last_update_time"`
	ProgressRemaining int         `json:"progress_remaining"`
}

// Store defines the persistence contract for the widget store. Method
// names carry the Widget prefix so one backend can also serve the shop.
type Store interface {
	// PutWidget creates or replaces the product.
	PutWidget(ctx context.Context, p *Product) error

	// GetWidget returns the product. It returns
	// escrow.ErrProductNotFound when it has not been created.
	GetWidget(ctx context.Context) (*Product, error)

	// ReserveWidget decrements the inventory by one when it is positive
	// and reports whether it did.
	ReserveWidget(ctx context.Context) (bool, error)

	// ReleaseWidget increments the inventory by one.
	ReleaseWidget(ctx context.Context) error

	// RestockWidgets sets the inventory to level.
	RestockWidgets(ctx context.Context, level int) error

	// CreateWidgetOrder persists a pending order with the given dispatch
	// progress and returns its ID.
	CreateWidgetOrder(ctx context.Context, progress int) (int64, error)

	// UpdateWidgetOrderStatus sets the status of an order.
	UpdateWidgetOrderStatus(ctx context.Context, orderID int64, status OrderStatus) error

	// AdvanceWidgetDispatch decrements the remaining progress of an order
	// and returns it. The order becomes dispatched when it reaches zero.
	AdvanceWidgetDispatch(ctx context.Context, orderID int64) (int, error)

	// GetWidgetOrder returns an order. It returns escrow.ErrOrderNotFound
	// when none exists.
	GetWidgetOrder(ctx context.Context, orderID int64) (*Order, error)

	// ListWidgetOrders returns every order ordered by ID.
	ListWidgetOrders(ctx context.Context) ([]*Order, error)
}
