package database

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

// --- Menu items ---

const menuItemColumns = `id, restaurant_id, name, price, category, available, track_stock, quantity_in_stock, low_stock_threshold, created_at`

func scanMenuItem(row pgx.Row) (MenuItem, error) {
	var m MenuItem
	err := row.Scan(&m.ID, &m.RestaurantID, &m.Name, &m.Price, &m.Category,
		&m.Available, &m.TrackStock, &m.QuantityInStock, &m.LowStockThreshold, &m.CreatedAt)
	return m, err
}

type GetMenuItemsForOrderParams struct {
	RestaurantID uuid.UUID
	IDs          []uuid.UUID
}

// GetMenuItemsForOrder resolves all referenced menu items in one batch so
// order creation never fans out one lookup per line.
func (q *Queries) GetMenuItemsForOrder(ctx context.Context, arg GetMenuItemsForOrderParams) ([]MenuItem, error) {
	rows, err := q.db.Query(ctx,
		`SELECT `+menuItemColumns+` FROM menu_items WHERE restaurant_id = $1 AND id = ANY($2)`,
		arg.RestaurantID, arg.IDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []MenuItem
	for rows.Next() {
		m, err := scanMenuItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, m)
	}
	return items, rows.Err()
}

type DecrementStockParams struct {
	MenuItemID uuid.UUID
	Quantity   int32
}

// DecrementStock is the stock ledger's only mutation: a single conditional
// UPDATE evaluated by the database, never a read-then-write in handler code.
// Zero rows affected means insufficient stock (or an untracked/unknown item).
func (q *Queries) DecrementStock(ctx context.Context, arg DecrementStockParams) (int64, error) {
	tag, err := q.db.Exec(ctx,
		`UPDATE menu_items
		 SET quantity_in_stock = quantity_in_stock - $2
		 WHERE id = $1 AND track_stock AND quantity_in_stock >= $2`,
		arg.MenuItemID, arg.Quantity)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

type CreateMenuItemParams struct {
	RestaurantID      uuid.UUID
	Name              string
	Price             pgtype.Numeric
	Category          string
	Available         bool
	TrackStock        bool
	QuantityInStock   int32
	LowStockThreshold int32
}

func (q *Queries) CreateMenuItem(ctx context.Context, arg CreateMenuItemParams) (MenuItem, error) {
	row := q.db.QueryRow(ctx,
		`INSERT INTO menu_items (restaurant_id, name, price, category, available, track_stock, quantity_in_stock, low_stock_threshold)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING `+menuItemColumns,
		arg.RestaurantID, arg.Name, arg.Price, arg.Category, arg.Available,
		arg.TrackStock, arg.QuantityInStock, arg.LowStockThreshold)
	return scanMenuItem(row)
}

// --- Orders ---

const orderColumns = `id, restaurant_id, table_id, order_seq, display_number, customer_name, customer_email, notes, status, payment_status, payment_method, total_amount, preparation_started_at, preparation_completed_at, updated_by_name, created_at, updated_at`

func scanOrder(row pgx.Row) (Order, error) {
	var o Order
	err := row.Scan(&o.ID, &o.RestaurantID, &o.TableID, &o.OrderSeq, &o.DisplayNumber,
		&o.CustomerName, &o.CustomerEmail, &o.Notes, &o.Status, &o.PaymentStatus,
		&o.PaymentMethod, &o.TotalAmount, &o.PreparationStartedAt, &o.PreparationCompletedAt,
		&o.UpdatedByName, &o.CreatedAt, &o.UpdatedAt)
	return o, err
}

// GetNextOrderSeq returns the next per-restaurant sequence for the
// human-readable display number. Concurrent transactions can race on the
// same MAX; the unique constraint plus the caller's retry loop resolves it.
func (q *Queries) GetNextOrderSeq(ctx context.Context, restaurantID uuid.UUID) (int32, error) {
	var next int32
	err := q.db.QueryRow(ctx,
		`SELECT COALESCE(MAX(order_seq), 0) + 1 FROM orders WHERE restaurant_id = $1`,
		restaurantID).Scan(&next)
	return next, err
}

type CreateOrderParams struct {
	RestaurantID  uuid.UUID
	TableID       uuid.UUID
	OrderSeq      int32
	DisplayNumber string
	CustomerName  pgtype.Text
	CustomerEmail pgtype.Text
	Notes         pgtype.Text
	TotalAmount   pgtype.Numeric
}

func (q *Queries) CreateOrder(ctx context.Context, arg CreateOrderParams) (Order, error) {
	row := q.db.QueryRow(ctx,
		`INSERT INTO orders (restaurant_id, table_id, order_seq, display_number, customer_name, customer_email, notes, status, payment_status, total_amount)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, 'PENDING', 'UNPAID', $8)
		 RETURNING `+orderColumns,
		arg.RestaurantID, arg.TableID, arg.OrderSeq, arg.DisplayNumber,
		arg.CustomerName, arg.CustomerEmail, arg.Notes, arg.TotalAmount)
	return scanOrder(row)
}

type GetOrderParams struct {
	ID           uuid.UUID
	RestaurantID uuid.UUID
}

func (q *Queries) GetOrder(ctx context.Context, arg GetOrderParams) (Order, error) {
	row := q.db.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1 AND restaurant_id = $2`,
		arg.ID, arg.RestaurantID)
	return scanOrder(row)
}

// GetOrderByID fetches an order without restaurant scoping. Used by the
// webhook and payment paths, where the caller is the gateway, not staff.
func (q *Queries) GetOrderByID(ctx context.Context, id uuid.UUID) (Order, error) {
	row := q.db.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
	return scanOrder(row)
}

type GetOrderForTrackingParams struct {
	ID            uuid.UUID
	CustomerEmail string
}

// GetOrderForTracking matches id + email; the pairing is the access-control
// mechanism for the public tracking endpoint.
func (q *Queries) GetOrderForTracking(ctx context.Context, arg GetOrderForTrackingParams) (Order, error) {
	row := q.db.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1 AND customer_email = $2`,
		arg.ID, arg.CustomerEmail)
	return scanOrder(row)
}

type ListOrdersParams struct {
	RestaurantID uuid.UUID
	Status       pgtype.Text
	Limit        int32
	Offset       int32
}

func (q *Queries) ListOrders(ctx context.Context, arg ListOrdersParams) ([]Order, error) {
	rows, err := q.db.Query(ctx,
		`SELECT `+orderColumns+` FROM orders
		 WHERE restaurant_id = $1 AND ($2::text IS NULL OR status = $2)
		 ORDER BY created_at DESC
		 LIMIT $3 OFFSET $4`,
		arg.RestaurantID, arg.Status, arg.Limit, arg.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

type UpdateOrderStatusParams struct {
	ID                     uuid.UUID
	RestaurantID           uuid.UUID
	Status                 OrderStatus
	FromStatus             OrderStatus
	UpdatedByName          pgtype.Text
	PreparationStartedAt   pgtype.Timestamptz
	PreparationCompletedAt pgtype.Timestamptz
}

// UpdateOrderStatus applies a guarded transition: the row only changes if it
// is still in FromStatus, so a read/validate/write race surfaces as ErrNoRows
// instead of a lost update.
func (q *Queries) UpdateOrderStatus(ctx context.Context, arg UpdateOrderStatusParams) (Order, error) {
	row := q.db.QueryRow(ctx,
		`UPDATE orders
		 SET status = $3,
		     updated_by_name = $4,
		     preparation_started_at = COALESCE(preparation_started_at, $5),
		     preparation_completed_at = COALESCE(preparation_completed_at, $6),
		     updated_at = now()
		 WHERE id = $1 AND restaurant_id = $2 AND status = $7
		 RETURNING `+orderColumns,
		arg.ID, arg.RestaurantID, arg.Status, arg.UpdatedByName,
		arg.PreparationStartedAt, arg.PreparationCompletedAt, arg.FromStatus)
	return scanOrder(row)
}

type MarkOrderPaidParams struct {
	ID            uuid.UUID
	PaymentMethod string
}

// MarkOrderPaid is the idempotency guard for payment application: only an
// UNPAID order transitions, so a replayed webhook updates zero rows.
func (q *Queries) MarkOrderPaid(ctx context.Context, arg MarkOrderPaidParams) (Order, error) {
	row := q.db.QueryRow(ctx,
		`UPDATE orders
		 SET payment_status = 'PAID', payment_method = $2, updated_at = now()
		 WHERE id = $1 AND payment_status = 'UNPAID'
		 RETURNING `+orderColumns,
		arg.ID, arg.PaymentMethod)
	return scanOrder(row)
}

func (q *Queries) MarkOrderRefunded(ctx context.Context, id uuid.UUID) (Order, error) {
	row := q.db.QueryRow(ctx,
		`UPDATE orders
		 SET payment_status = 'REFUNDED', updated_at = now()
		 WHERE id = $1 AND payment_status = 'PAID'
		 RETURNING `+orderColumns,
		id)
	return scanOrder(row)
}

// --- Order items ---

const orderItemColumns = `id, order_id, menu_item_id, item_name, quantity, unit_price, created_at`

func scanOrderItem(row pgx.Row) (OrderItem, error) {
	var it OrderItem
	err := row.Scan(&it.ID, &it.OrderID, &it.MenuItemID, &it.ItemName,
		&it.Quantity, &it.UnitPrice, &it.CreatedAt)
	return it, err
}

type CreateOrderItemParams struct {
	OrderID    uuid.UUID
	MenuItemID uuid.UUID
	ItemName   string
	Quantity   int32
	UnitPrice  pgtype.Numeric
}

func (q *Queries) CreateOrderItem(ctx context.Context, arg CreateOrderItemParams) (OrderItem, error) {
	row := q.db.QueryRow(ctx,
		`INSERT INTO order_items (order_id, menu_item_id, item_name, quantity, unit_price)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING `+orderItemColumns,
		arg.OrderID, arg.MenuItemID, arg.ItemName, arg.Quantity, arg.UnitPrice)
	return scanOrderItem(row)
}

func (q *Queries) ListOrderItemsByOrder(ctx context.Context, orderID uuid.UUID) ([]OrderItem, error) {
	rows, err := q.db.Query(ctx,
		`SELECT `+orderItemColumns+` FROM order_items WHERE order_id = $1 ORDER BY created_at`,
		orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []OrderItem
	for rows.Next() {
		it, err := scanOrderItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// --- Payments ---

const paymentColumns = `id, order_id, provider, status, amount, reference, method, created_at, updated_at`

func scanPayment(row pgx.Row) (Payment, error) {
	var p Payment
	err := row.Scan(&p.ID, &p.OrderID, &p.Provider, &p.Status, &p.Amount,
		&p.Reference, &p.Method, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

type CreatePaymentParams struct {
	OrderID   uuid.UUID
	Provider  PaymentProvider
	Status    PaymentStatus
	Amount    pgtype.Numeric
	Reference pgtype.Text
	Method    pgtype.Text
}

func (q *Queries) CreatePayment(ctx context.Context, arg CreatePaymentParams) (Payment, error) {
	row := q.db.QueryRow(ctx,
		`INSERT INTO payments (order_id, provider, status, amount, reference, method)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING `+paymentColumns,
		arg.OrderID, arg.Provider, arg.Status, arg.Amount, arg.Reference, arg.Method)
	return scanPayment(row)
}

func (q *Queries) GetPayment(ctx context.Context, id uuid.UUID) (Payment, error) {
	row := q.db.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id)
	return scanPayment(row)
}

type MarkPaymentSucceededParams struct {
	Reference string
	Method    pgtype.Text
}

// MarkPaymentSucceededByReference flips the pending gateway payment matched
// by its external reference to success.
func (q *Queries) MarkPaymentSucceededByReference(ctx context.Context, arg MarkPaymentSucceededParams) (Payment, error) {
	row := q.db.QueryRow(ctx,
		`UPDATE payments
		 SET status = 'success', method = $2, updated_at = now()
		 WHERE reference = $1 AND status = 'pending'
		 RETURNING `+paymentColumns,
		arg.Reference, arg.Method)
	return scanPayment(row)
}

func (q *Queries) MarkPaymentRefunded(ctx context.Context, id uuid.UUID) (Payment, error) {
	row := q.db.QueryRow(ctx,
		`UPDATE payments
		 SET status = 'refunded', updated_at = now()
		 WHERE id = $1 AND status = 'success'
		 RETURNING `+paymentColumns,
		id)
	return scanPayment(row)
}

// --- Transactions (settlement records) ---

type CreateTransactionParams struct {
	RestaurantID uuid.UUID
	PaymentID    uuid.UUID
	GrossAmount  pgtype.Numeric
	PlatformFee  pgtype.Numeric
	NetAmount    pgtype.Numeric
}

// CreateTransaction records the settlement split exactly once per payment.
// The UNIQUE(payment_id) constraint plus ON CONFLICT DO NOTHING makes a
// webhook redelivery a zero-row no-op.
func (q *Queries) CreateTransaction(ctx context.Context, arg CreateTransactionParams) (int64, error) {
	tag, err := q.db.Exec(ctx,
		`INSERT INTO transactions (restaurant_id, payment_id, gross_amount, platform_fee, net_amount, settlement_status)
		 VALUES ($1, $2, $3, $4, $5, 'PENDING')
		 ON CONFLICT (payment_id) DO NOTHING`,
		arg.RestaurantID, arg.PaymentID, arg.GrossAmount, arg.PlatformFee, arg.NetAmount)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// --- Restaurants and tables ---

const restaurantColumns = `id, name, email, paystack_subaccount_code, active, created_at`

func scanRestaurant(row pgx.Row) (Restaurant, error) {
	var r Restaurant
	err := row.Scan(&r.ID, &r.Name, &r.Email, &r.PaystackSubaccountCode, &r.Active, &r.CreatedAt)
	return r, err
}

type CreateRestaurantParams struct {
	Name                   string
	Email                  pgtype.Text
	PaystackSubaccountCode pgtype.Text
}

func (q *Queries) CreateRestaurant(ctx context.Context, arg CreateRestaurantParams) (Restaurant, error) {
	row := q.db.QueryRow(ctx,
		`INSERT INTO restaurants (name, email, paystack_subaccount_code, active)
		 VALUES ($1, $2, $3, true)
		 RETURNING `+restaurantColumns,
		arg.Name, arg.Email, arg.PaystackSubaccountCode)
	return scanRestaurant(row)
}

func (q *Queries) GetRestaurant(ctx context.Context, id uuid.UUID) (Restaurant, error) {
	row := q.db.QueryRow(ctx, `SELECT `+restaurantColumns+` FROM restaurants WHERE id = $1`, id)
	return scanRestaurant(row)
}

type CreateTableParams struct {
	RestaurantID uuid.UUID
	Label        string
}

func (q *Queries) CreateTable(ctx context.Context, arg CreateTableParams) (RestaurantTable, error) {
	row := q.db.QueryRow(ctx,
		`INSERT INTO restaurant_tables (restaurant_id, label)
		 VALUES ($1, $2)
		 RETURNING id, restaurant_id, label, created_at`,
		arg.RestaurantID, arg.Label)
	var t RestaurantTable
	err := row.Scan(&t.ID, &t.RestaurantID, &t.Label, &t.CreatedAt)
	return t, err
}

type GetTableParams struct {
	ID           uuid.UUID
	RestaurantID uuid.UUID
}

func (q *Queries) GetTable(ctx context.Context, arg GetTableParams) (RestaurantTable, error) {
	row := q.db.QueryRow(ctx,
		`SELECT id, restaurant_id, label, created_at
		 FROM restaurant_tables WHERE id = $1 AND restaurant_id = $2`,
		arg.ID, arg.RestaurantID)
	var t RestaurantTable
	err := row.Scan(&t.ID, &t.RestaurantID, &t.Label, &t.CreatedAt)
	return t, err
}

// --- Users ---

const userColumns = `id, restaurant_id, full_name, email, password_hash, role, created_at`

func scanUser(row pgx.Row) (User, error) {
	var u User
	err := row.Scan(&u.ID, &u.RestaurantID, &u.FullName, &u.Email, &u.PasswordHash, &u.Role, &u.CreatedAt)
	return u, err
}

type CreateUserParams struct {
	RestaurantID pgtype.UUID
	FullName     string
	Email        string
	PasswordHash string
	Role         UserRole
}

func (q *Queries) CreateUser(ctx context.Context, arg CreateUserParams) (User, error) {
	row := q.db.QueryRow(ctx,
		`INSERT INTO users (restaurant_id, full_name, email, password_hash, role)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING `+userColumns,
		arg.RestaurantID, arg.FullName, arg.Email, arg.PasswordHash, arg.Role)
	return scanUser(row)
}

func (q *Queries) GetUserByEmail(ctx context.Context, email string) (User, error) {
	row := q.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
	return scanUser(row)
}

func (q *Queries) GetUserByID(ctx context.Context, id uuid.UUID) (User, error) {
	row := q.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return scanUser(row)
}

// --- Activity log ---

type InsertActivityLogParams struct {
	RestaurantID uuid.UUID
	StaffID      pgtype.UUID
	Action       string
	Details      []byte
}

// InsertActivityLog mirrors an operational mutation into the audit trail.
// Callers treat failures as non-fatal: log and continue.
func (q *Queries) InsertActivityLog(ctx context.Context, arg InsertActivityLogParams) error {
	_, err := q.db.Exec(ctx,
		`INSERT INTO activity_logs (restaurant_id, staff_id, action, details)
		 VALUES ($1, $2, $3, $4)`,
		arg.RestaurantID, arg.StaffID, arg.Action, arg.Details)
	return err
}
