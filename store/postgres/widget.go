package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/escrow"
	"github.com/xraph/escrow/widget"
)

// PutWidget creates or replaces the product.
func (s *Store) PutWidget(ctx context.Context, p *widget.Product) error {
	productID := p.ID
	if productID == 0 {
		productID = widget.ProductID
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO widget_products (product_id, product, description, inventory, price)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (product_id) DO UPDATE SET
			product = EXCLUDED.product,
			description = EXCLUDED.description,
			inventory = EXCLUDED.inventory,
			price = EXCLUDED.price`,
		productID, p.Name, p.Description, p.Inventory, p.Price,
	)
	if err != nil {
		return fmt.Errorf("escrow/postgres: put widget: %w", err)
	}
	return nil
}

// GetWidget returns the product.
func (s *Store) GetWidget(ctx context.Context) (*widget.Product, error) {
	var p widget.Product
	err := s.pool.QueryRow(ctx, `
		SELECT product_id, product, description, inventory, price
		FROM widget_products WHERE product_id = $1`,
		widget.ProductID,
	).Scan(&p.ID, &p.Name, &p.Description, &p.Inventory, &p.Price)
	if err != nil {
		if isNoRows(err) {
			return nil, escrow.ErrProductNotFound
		}
		return nil, fmt.Errorf("escrow/postgres: get widget: %w", err)
	}
	return &p, nil
}

// ReserveWidget decrements the inventory by one when it is positive.
func (s *Store) ReserveWidget(ctx context.Context) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE widget_products SET inventory = inventory - 1
		WHERE product_id = $1 AND inventory > 0`,
		widget.ProductID,
	)
	if err != nil {
		return false, fmt.Errorf("escrow/postgres: reserve widget: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	if _, err := s.GetWidget(ctx); err != nil {
		return false, err
	}
	return false, nil
}

// ReleaseWidget increments the inventory by one.
func (s *Store) ReleaseWidget(ctx context.Context) error {
	return s.setWidgetInventory(ctx, `inventory + 1`)
}

// RestockWidgets sets the inventory to level.
func (s *Store) RestockWidgets(ctx context.Context, level int) error {
	return s.setWidgetInventory(ctx, `$2`, level)
}

func (s *Store) setWidgetInventory(ctx context.Context, expr string, args ...any) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE widget_products SET inventory = `+expr+` WHERE product_id = $1`,
		append([]any{widget.ProductID}, args...)...,
	)
	if err != nil {
		return fmt.Errorf("escrow/postgres: update widget inventory: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return escrow.ErrProductNotFound
	}
	return nil
}

// CreateWidgetOrder persists a pending order.
func (s *Store) CreateWidgetOrder(ctx context.Context, progress int) (int64, error) {
	var orderID int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO widget_orders (order_status, last_update_time, progress_remaining)
		VALUES ($1, $2, $3)
		RETURNING order_id`,
		int(widget.OrderPending), time.Now().UTC(), progress,
	).Scan(&orderID)
	if err != nil {
		return 0, fmt.Errorf("escrow/postgres: create widget order: %w", err)
	}
	return orderID, nil
}

// UpdateWidgetOrderStatus sets the status of an order.
func (s *Store) UpdateWidgetOrderStatus(ctx context.Context, orderID int64, status widget.OrderStatus) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE widget_orders SET order_status = $2, last_update_time = $3
		WHERE order_id = $1`,
		orderID, int(status), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("escrow/postgres: update widget order: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return escrow.ErrOrderNotFound
	}
	return nil
}

// AdvanceWidgetDispatch decrements the remaining progress of an order and
// marks it dispatched when none is left.
func (s *Store) AdvanceWidgetDispatch(ctx context.Context, orderID int64) (int, error) {
	var remaining int
	err := s.pool.QueryRow(ctx, `
		UPDATE widget_orders SET
			progress_remaining = GREATEST(progress_remaining - 1, 0),
			order_status = CASE WHEN progress_remaining <= 1 THEN $2 ELSE order_status END,
			last_update_time = $3
		WHERE order_id = $1
		RETURNING progress_remaining`,
		orderID, int(widget.OrderDispatched), time.Now().UTC(),
	).Scan(&remaining)
	if err != nil {
		if isNoRows(err) {
			return 0, escrow.ErrOrderNotFound
		}
		return 0, fmt.Errorf("escrow/postgres: advance widget dispatch: %w", err)
	}
	return remaining, nil
}

// GetWidgetOrder returns an order.
func (s *Store) GetWidgetOrder(ctx context.Context, orderID int64) (*widget.Order, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT order_id, order_status, last_update_time, progress_remaining
		FROM widget_orders WHERE order_id = $1`,
		orderID,
	)
	o, err := scanWidgetOrder(row)
	if err != nil {
		if isNoRows(err) {
			return nil, escrow.ErrOrderNotFound
		}
		return nil, fmt.Errorf("escrow/postgres: get widget order: %w", err)
	}
	return o, nil
}

// ListWidgetOrders returns every order ordered by ID.
func (s *Store) ListWidgetOrders(ctx context.Context) ([]*widget.Order, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT order_id, order_status, last_update_time, progress_remaining
		FROM widget_orders ORDER BY order_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("escrow/postgres: list widget orders: %w", err)
	}
	defer rows.Close()

	var result []*widget.Order
	for rows.Next() {
		o, scanErr := scanWidgetOrder(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("escrow/postgres: scan widget order: %w", scanErr)
		}
		result = append(result, o)
	}
	return result, rows.Err()
}

func scanWidgetOrder(row pgx.Row) (*widget.Order, error) {
	var (
		o      widget.Order
		status int
	)
	if err := row.Scan(&o.ID, &status, &o.LastUpdateTime, &o.ProgressRemaining); err != nil {
		return nil, err
	}
	o.Status = widget.OrderStatus(status)
	return &o, nil
}
