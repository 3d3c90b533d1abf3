package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/escrow"
	"github.com/xraph/escrow/shop"
)

// CreateProduct adds a product to the catalog and assigns its ID.
func (s *Store) CreateProduct(ctx context.Context, p *shop.Product) error {
	err := s.pool.QueryRow(ctx, `
		INSERT INTO shop_products (product, description, image_name, price, inventory)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING product_id`,
		p.Name, p.Description, p.ImageName, p.Price, p.Inventory,
	).Scan(&p.ID)
	if err != nil {
		return fmt.Errorf("escrow/postgres: create product: %w", err)
	}
	return nil
}

// GetProduct returns a product.
func (s *Store) GetProduct(ctx context.Context, productID int64) (*shop.Product, error) {
	var p shop.Product
	err := s.pool.QueryRow(ctx, `
		SELECT product_id, product, description, image_name, price, inventory
		FROM shop_products WHERE product_id = $1`,
		productID,
	).Scan(&p.ID, &p.Name, &p.Description, &p.ImageName, &p.Price, &p.Inventory)
	if err != nil {
		if isNoRows(err) {
			return nil, escrow.ErrProductNotFound
		}
		return nil, fmt.Errorf("escrow/postgres: get product: %w", err)
	}
	return &p, nil
}

// ListProducts returns the catalog ordered by ID.
func (s *Store) ListProducts(ctx context.Context) ([]*shop.Product, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT product_id, product, description, image_name, price, inventory
		FROM shop_products ORDER BY product_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("escrow/postgres: list products: %w", err)
	}
	defer rows.Close()

	var result []*shop.Product
	for rows.Next() {
		var p shop.Product
		if scanErr := rows.Scan(&p.ID, &p.Name, &p.Description, &p.ImageName, &p.Price, &p.Inventory); scanErr != nil {
			return nil, fmt.Errorf("escrow/postgres: scan product: %w", scanErr)
		}
		result = append(result, &p)
	}
	return result, rows.Err()
}

// AddToCart adds one unit of a product to a user's cart.
func (s *Store) AddToCart(ctx context.Context, username string, productID int64) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO shop_cart (username, product_id, quantity)
		VALUES ($1, $2, 1)
		ON CONFLICT (username, product_id) DO UPDATE SET quantity = shop_cart.quantity + 1`,
		username, productID,
	)
	if err != nil {
		if isForeignKey(err) {
			return escrow.ErrProductNotFound
		}
		return fmt.Errorf("escrow/postgres: add to cart: %w", err)
	}
	return nil
}

// GetCart returns the lines of a user's cart ordered by product ID.
func (s *Store) GetCart(ctx context.Context, username string) ([]shop.LineItem, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT p.product_id, p.product, p.price, c.quantity
		FROM shop_cart c
		JOIN shop_products p ON p.product_id = c.product_id
		WHERE c.username = $1
		ORDER BY p.product_id ASC`,
		username,
	)
	if err != nil {
		return nil, fmt.Errorf("escrow/postgres: get cart: %w", err)
	}
	defer rows.Close()

	var items []shop.LineItem
	for rows.Next() {
		var item shop.LineItem
		if scanErr := rows.Scan(&item.ProductID, &item.Name, &item.Price, &item.Quantity); scanErr != nil {
			return nil, fmt.Errorf("escrow/postgres: scan cart: %w", scanErr)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// ClearCart empties a user's cart.
func (s *Store) ClearCart(ctx context.Context, username string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM shop_cart WHERE username = $1`, username); err != nil {
		return fmt.Errorf("escrow/postgres: clear cart: %w", err)
	}
	return nil
}

// CreateOrder persists a pending order and its items.
func (s *Store) CreateOrder(ctx context.Context, o *shop.Order, items []shop.LineItem) (int64, error) {
	var orderID int64
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			INSERT INTO shop_orders (username, order_status, execution_id, payment_session_id, last_update_time)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING order_id`,
			o.Username, int(o.Status), o.ExecutionID, o.PaymentSessionID, time.Now().UTC(),
		).Scan(&orderID)
		if err != nil {
			return fmt.Errorf("escrow/postgres: create order: %w", err)
		}

		batch := &pgx.Batch{}
		for _, item := range items {
			batch.Queue(`
				INSERT INTO shop_order_items (order_id, product_id, price, quantity)
				VALUES ($1, $2, $3, $4)`,
				orderID, item.ProductID, item.Price, item.Quantity,
			)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("escrow/postgres: create order items: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return orderID, nil
}

// SubtractInventory decrements the stock of every item, or of none.
func (s *Store) SubtractInventory(ctx context.Context, items []shop.LineItem) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		for _, item := range items {
			tag, err := tx.Exec(ctx, `
				UPDATE shop_products SET inventory = inventory - $2
				WHERE product_id = $1 AND inventory >= $2`,
				item.ProductID, item.Quantity,
			)
			if err != nil {
				return fmt.Errorf("escrow/postgres: subtract inventory: %w", err)
			}
			if tag.RowsAffected() == 0 {
				return shop.ErrInsufficientInventory
			}
		}
		return nil
	})
}

// RestoreInventory increments the stock of every item.
func (s *Store) RestoreInventory(ctx context.Context, items []shop.LineItem) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		for _, item := range items {
			_, err := tx.Exec(ctx,
				`UPDATE shop_products SET inventory = inventory + $2 WHERE product_id = $1`,
				item.ProductID, item.Quantity,
			)
			if err != nil {
				return fmt.Errorf("escrow/postgres: restore inventory: %w", err)
			}
		}
		return nil
	})
}

// UpdateOrderStatus sets the status of an order.
func (s *Store) UpdateOrderStatus(ctx context.Context, orderID int64, status shop.OrderStatus) error {
	return s.updateOrder(ctx, `order_status = $2`, orderID, int(status))
}

// SetOrderPaymentSession records the payment session of an order.
func (s *Store) SetOrderPaymentSession(ctx context.Context, orderID int64, sessionID string) error {
	return s.updateOrder(ctx, `payment_session_id = $2`, orderID, sessionID)
}

func (s *Store) updateOrder(ctx context.Context, set string, orderID int64, value any) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE shop_orders SET `+set+`, last_update_time = $3 WHERE order_id = $1`,
		orderID, value, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("escrow/postgres: update order: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return escrow.ErrOrderNotFound
	}
	return nil
}

// GetOrder returns an order.
func (s *Store) GetOrder(ctx context.Context, orderID int64) (*shop.Order, error) {
	return s.getOrder(ctx, `order_id = $1`, orderID)
}

// GetOrderByExecution returns the order created by a checkout execution.
func (s *Store) GetOrderByExecution(ctx context.Context, executionID string) (*shop.Order, error) {
	return s.getOrder(ctx, `execution_id = $1`, executionID)
}

func (s *Store) getOrder(ctx context.Context, cond string, arg any) (*shop.Order, error) {
	var (
		o      shop.Order
		status int
	)
	err := s.pool.QueryRow(ctx, `
		SELECT order_id, username, order_status, execution_id, payment_session_id, last_update_time
		FROM shop_orders WHERE `+cond+` ORDER BY order_id ASC LIMIT 1`,
		arg,
	).Scan(&o.ID, &o.Username, &status, &o.ExecutionID, &o.PaymentSessionID, &o.LastUpdateTime)
	if err != nil {
		if isNoRows(err) {
			return nil, escrow.ErrOrderNotFound
		}
		return nil, fmt.Errorf("escrow/postgres: get order: %w", err)
	}
	o.Status = shop.OrderStatus(status)
	return &o, nil
}

// ListOrderItems returns the items of an order.
func (s *Store) ListOrderItems(ctx context.Context, orderID int64) ([]shop.OrderItem, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT order_id, product_id, price, quantity
		FROM shop_order_items WHERE order_id = $1
		ORDER BY product_id ASC`,
		orderID,
	)
	if err != nil {
		return nil, fmt.Errorf("escrow/postgres: list order items: %w", err)
	}
	defer rows.Close()

	var items []shop.OrderItem
	for rows.Next() {
		var item shop.OrderItem
		if scanErr := rows.Scan(&item.OrderID, &item.ProductID, &item.Price, &item.Quantity); scanErr != nil {
			return nil, fmt.Errorf("escrow/postgres: scan order item: %w", scanErr)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}
