package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/xraph/escrow"
	"github.com/xraph/escrow/bank"
	"github.com/xraph/escrow/payment"
	"github.com/xraph/escrow/shop"
	"github.com/xraph/escrow/widget"
)

// ──────────────────────────────────────────────────
// Bank Store
// ──────────────────────────────────────────────────

// CreateAccount persists a new account and assigns its ID.
func (m *Store) CreateAccount(_ context.Context, a *bank.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextAccount++
	a.ID = m.nextAccount
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	cp := *a
	m.accounts[a.ID] = &cp
	return nil
}

// GetAccount returns an account.
func (m *Store) GetAccount(_ context.Context, accountID int64) (*bank.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.accounts[accountID]
	if !ok {
		return nil, bank.ErrAccountMissing
	}
	cp := *a
	return &cp, nil
}

// ListAccounts returns the accounts of an owner ordered by ID.
func (m *Store) ListAccounts(_ context.Context, ownerName string) ([]*bank.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*bank.Account
	for _, a := range m.accounts {
		if a.OwnerName == ownerName {
			cp := *a
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, k int) bool { return result[i].ID < result[k].ID })
	return result, nil
}

// ApplyTransaction updates an account balance and inserts or deletes the
// transaction record in one critical section.
func (m *Store) ApplyTransaction(_ context.Context, accountID int64, rec *bank.TransactionRecord, deposit bool, undoTxn int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.accounts[accountID]
	if !ok {
		return 0, bank.ErrAccountMissing
	}
	delta := rec.Amount
	if !deposit {
		delta = -delta
	}
	if a.Balance+delta < 0 {
		return 0, bank.ErrNotEnoughBalance
	}

	if undoTxn != 0 {
		if _, ok := m.transactions[undoTxn]; !ok {
			return 0, fmt.Errorf("%w: %d", escrow.ErrTransactionNotFound, undoTxn)
		}
		a.Balance += delta
		delete(m.transactions, undoTxn)
		return undoTxn, nil
	}
	a.Balance += delta

	m.nextTxn++
	cp := *rec
	cp.ID = m.nextTxn
	if cp.Timestamp.IsZero() {
		cp.Timestamp = time.Now().UTC()
	}
	m.transactions[cp.ID] = &cp
	return cp.ID, nil
}

// Transfer moves an amount between two local accounts and records it.
func (m *Store) Transfer(_ context.Context, rec *bank.TransactionRecord) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	from, ok := m.accounts[rec.FromAccountID]
	if !ok {
		return 0, bank.ErrAccountMissing
	}
	to, ok := m.accounts[rec.ToAccountID]
	if !ok {
		return 0, bank.ErrAccountMissing
	}
	if from.Balance < rec.Amount {
		return 0, bank.ErrNotEnoughBalance
	}
	from.Balance -= rec.Amount
	to.Balance += rec.Amount

	m.nextTxn++
	cp := *rec
	cp.ID = m.nextTxn
	if cp.Timestamp.IsZero() {
		cp.Timestamp = time.Now().UTC()
	}
	m.transactions[cp.ID] = &cp
	return cp.ID, nil
}

// ListTransactions returns the local history of an account, newest first.
func (m *Store) ListTransactions(_ context.Context, accountID int64) ([]*bank.TransactionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*bank.TransactionRecord
	for _, t := range m.transactions {
		local := (t.FromAccountID == accountID && t.FromLocation == bank.LocationLocal) ||
			(t.ToAccountID == accountID && t.ToLocation == bank.LocationLocal)
		if local {
			cp := *t
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, k int) bool { return result[i].ID > result[k].ID })
	return result, nil
}

// ──────────────────────────────────────────────────
// Shop Store
// ──────────────────────────────────────────────────

// CreateProduct adds a product to the catalog and assigns its ID.
func (m *Store) CreateProduct(_ context.Context, p *shop.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextProd++
	p.ID = m.nextProd
	cp := *p
	m.products[p.ID] = &cp
	return nil
}

// GetProduct returns a product.
func (m *Store) GetProduct(_ context.Context, productID int64) (*shop.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.products[productID]
	if !ok {
		return nil, escrow.ErrProductNotFound
	}
	cp := *p
	return &cp, nil
}

// ListProducts returns the catalog ordered by ID.
func (m *Store) ListProducts(_ context.Context) ([]*shop.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*shop.Product, 0, len(m.products))
	for _, p := range m.products {
		cp := *p
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, k int) bool { return result[i].ID < result[k].ID })
	return result, nil
}

// AddToCart adds one unit of a product to a user's cart.
func (m *Store) AddToCart(_ context.Context, username string, productID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.products[productID]; !ok {
		return escrow.ErrProductNotFound
	}
	cart, ok := m.carts[username]
	if !ok {
		cart = make(map[int64]int)
		m.carts[username] = cart
	}
	cart[productID]++
	return nil
}

// GetCart returns the lines of a user's cart ordered by product ID.
func (m *Store) GetCart(_ context.Context, username string) ([]shop.LineItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var items []shop.LineItem
	for pid, qty := range m.carts[username] {
		p, ok := m.products[pid]
		if !ok {
			continue
		}
		items = append(items, shop.LineItem{ProductID: pid, Name: p.Name, Price: p.Price, Quantity: qty})
	}
	sort.Slice(items, func(i, k int) bool { return items[i].ProductID < items[k].ProductID })
	return items, nil
}

// ClearCart empties a user's cart.
func (m *Store) ClearCart(_ context.Context, username string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.carts, username)
	return nil
}

// CreateOrder persists a pending order and its items.
func (m *Store) CreateOrder(_ context.Context, o *shop.Order, items []shop.LineItem) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextOrder++
	cp := *o
	cp.ID = m.nextOrder
	cp.LastUpdateTime = time.Now().UTC()
	m.orders[cp.ID] = &cp

	lines := make([]shop.OrderItem, len(items))
	for i, item := range items {
		lines[i] = shop.OrderItem{OrderID: cp.ID, ProductID: item.ProductID, Price: item.Price, Quantity: item.Quantity}
	}
	m.orderItems[cp.ID] = lines
	return cp.ID, nil
}

// SubtractInventory decrements the stock of every item, or of none.
func (m *Store) SubtractInventory(_ context.Context, items []shop.LineItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, item := range items {
		p, ok := m.products[item.ProductID]
		if !ok {
			return escrow.ErrProductNotFound
		}
		if p.Inventory < item.Quantity {
			return shop.ErrInsufficientInventory
		}
	}
	for _, item := range items {
		m.products[item.ProductID].Inventory -= item.Quantity
	}
	return nil
}

// RestoreInventory increments the stock of every item.
func (m *Store) RestoreInventory(_ context.Context, items []shop.LineItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, item := range items {
		if p, ok := m.products[item.ProductID]; ok {
			p.Inventory += item.Quantity
		}
	}
	return nil
}

// UpdateOrderStatus sets the status of an order.
func (m *Store) UpdateOrderStatus(_ context.Context, orderID int64, status shop.OrderStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[orderID]
	if !ok {
		return escrow.ErrOrderNotFound
	}
	o.Status = status
	o.LastUpdateTime = time.Now().UTC()
	return nil
}

// SetOrderPaymentSession records the payment session of an order.
func (m *Store) SetOrderPaymentSession(_ context.Context, orderID int64, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[orderID]
	if !ok {
		return escrow.ErrOrderNotFound
	}
	o.PaymentSessionID = sessionID
	o.LastUpdateTime = time.Now().UTC()
	return nil
}

// GetOrder returns an order.
func (m *Store) GetOrder(_ context.Context, orderID int64) (*shop.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	o, ok := m.orders[orderID]
	if !ok {
		return nil, escrow.ErrOrderNotFound
	}
	cp := *o
	return &cp, nil
}

// GetOrderByExecution returns the order created by a checkout execution.
func (m *Store) GetOrderByExecution(_ context.Context, executionID string) (*shop.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, o := range m.orders {
		if o.ExecutionID == executionID {
			cp := *o
			return &cp, nil
		}
	}
	return nil, escrow.ErrOrderNotFound
}

// ListOrderItems returns the items of an order.
func (m *Store) ListOrderItems(_ context.Context, orderID int64) ([]shop.OrderItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return append([]shop.OrderItem(nil), m.orderItems[orderID]...), nil
}

// ──────────────────────────────────────────────────
// Widget Store
// ──────────────────────────────────────────────────

// PutWidget creates or replaces the product.
func (m *Store) PutWidget(_ context.Context, p *widget.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *p
	if cp.ID == 0 {
		cp.ID = widget.ProductID
	}
	m.widget = &cp
	return nil
}

// GetWidget returns the product.
func (m *Store) GetWidget(_ context.Context) (*widget.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.widget == nil {
		return nil, escrow.ErrProductNotFound
	}
	cp := *m.widget
	return &cp, nil
}

// ReserveWidget decrements the inventory by one when it is positive.
func (m *Store) ReserveWidget(_ context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.widget == nil {
		return false, escrow.ErrProductNotFound
	}
	if m.widget.Inventory <= 0 {
		return false, nil
	}
	m.widget.Inventory--
	return true, nil
}

// ReleaseWidget increments the inventory by one.
func (m *Store) ReleaseWidget(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.widget == nil {
		return escrow.ErrProductNotFound
	}
	m.widget.Inventory++
	return nil
}

// RestockWidgets sets the inventory to level.
func (m *Store) RestockWidgets(_ context.Context, level int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.widget == nil {
		return escrow.ErrProductNotFound
	}
	m.widget.Inventory = level
	return nil
}

// CreateWidgetOrder persists a pending order.
func (m *Store) CreateWidgetOrder(_ context.Context, progress int) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextWOrder++
	m.widgetOrders[m.nextWOrder] = &widget.Order{
		ID:                m.nextWOrder,
		Status:            widget.OrderPending,
		LastUpdateTime:    time.Now().UTC(),
		ProgressRemaining: progress,
	}
	return m.nextWOrder, nil
}

// UpdateWidgetOrderStatus sets the status of an order.
func (m *Store) UpdateWidgetOrderStatus(_ context.Context, orderID int64, status widget.OrderStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.widgetOrders[orderID]
	if !ok {
		return escrow.ErrOrderNotFound
	}
	o.Status = status
	o.LastUpdateTime = time.Now().UTC()
	return nil
}

// AdvanceWidgetDispatch decrements the remaining progress of an order.
func (m *Store) AdvanceWidgetDispatch(_ context.Context, orderID int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.widgetOrders[orderID]
	if !ok {
		return 0, escrow.ErrOrderNotFound
	}
	if o.ProgressRemaining > 0 {
		o.ProgressRemaining--
	}
	if o.ProgressRemaining == 0 {
		o.Status = widget.OrderDispatched
	}
	o.LastUpdateTime = time.Now().UTC()
	return o.ProgressRemaining, nil
}

// GetWidgetOrder returns an order.
func (m *Store) GetWidgetOrder(_ context.Context, orderID int64) (*widget.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	o, ok := m.widgetOrders[orderID]
	if !ok {
		return nil, escrow.ErrOrderNotFound
	}
	cp := *o
	return &cp, nil
}

// ListWidgetOrders returns every order ordered by ID.
func (m *Store) ListWidgetOrders(_ context.Context) ([]*widget.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*widget.Order, 0, len(m.widgetOrders))
	for _, o := range m.widgetOrders {
		cp := *o
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, k int) bool { return result[i].ID < result[k].ID })
	return result, nil
}

// ──────────────────────────────────────────────────
// Payment Store
// ──────────────────────────────────────────────────

// CreateSession persists a new session. An existing session is kept.
func (m *Store) CreateSession(_ context.Context, s *payment.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sessions[s.ID]; exists {
		return nil
	}
	cp := *s
	cp.Items = append([]payment.Item(nil), s.Items...)
	m.sessions[s.ID] = &cp
	return nil
}

// GetSession returns a session.
func (m *Store) GetSession(_ context.Context, sessionID string) (*payment.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, escrow.ErrSessionNotFound
	}
	cp := *s
	cp.Items = append([]payment.Item(nil), s.Items...)
	return &cp, nil
}

// UpdateSessionStatus sets the status of a session.
func (m *Store) UpdateSessionStatus(_ context.Context, sessionID, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return escrow.ErrSessionNotFound
	}
	s.Status = status
	s.UpdatedAt = time.Now().UTC()
	return nil
}
