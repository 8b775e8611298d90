package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dinelink/api/internal/config"
	"github.com/dinelink/api/internal/database"
	"github.com/dinelink/api/internal/metrics"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

const maxOrderSeqRetries = 3

// Errors returned by the order service.
var (
	ErrEmptyItems         = errors.New("items are required")
	ErrInvalidQuantity    = errors.New("quantity must be > 0")
	ErrInvalidMenuItemID  = errors.New("invalid menu_item_id")
	ErrInvalidTableID     = errors.New("invalid table_id")
	ErrTableNotFound      = errors.New("table not found in restaurant")
	ErrItemNotFound       = errors.New("menu item not found in restaurant")
	ErrItemUnavailable    = errors.New("menu item is unavailable")
	ErrInsufficientStock  = errors.New("insufficient stock")
	ErrNoFulfillableItems = errors.New("no fulfillable items in order")
)

// TxBeginner starts a new database transaction.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// OrderStore defines the DB methods needed to create orders.
// Satisfied by *database.Queries (and its WithTx variant).
type OrderStore interface {
	GetTable(ctx context.Context, arg database.GetTableParams) (database.RestaurantTable, error)
	GetNextOrderSeq(ctx context.Context, restaurantID uuid.UUID) (int32, error)
	GetMenuItemsForOrder(ctx context.Context, arg database.GetMenuItemsForOrderParams) ([]database.MenuItem, error)
	DecrementStock(ctx context.Context, arg database.DecrementStockParams) (int64, error)
	CreateOrder(ctx context.Context, arg database.CreateOrderParams) (database.Order, error)
	CreateOrderItem(ctx context.Context, arg database.CreateOrderItemParams) (database.OrderItem, error)
	InsertActivityLog(ctx context.Context, arg database.InsertActivityLogParams) error
}

// NewOrderStore creates an OrderStore from a DBTX (pool or tx).
// This allows the service to create store instances from transactions.
type NewOrderStore func(db database.DBTX) OrderStore

// CreateOrderRequest is the validated input for creating an order.
// Prices are never taken from the client; the menu row is the only source.
type CreateOrderRequest struct {
	RestaurantID  uuid.UUID
	TableID       string
	CustomerName  string
	CustomerEmail string
	Notes         string
	Items         []CreateOrderLineRequest
}

// CreateOrderLineRequest is a single line in the order.
type CreateOrderLineRequest struct {
	MenuItemID string
	Quantity   int32
}

// SkippedLine reports a line dropped under a lenient policy.
type SkippedLine struct {
	MenuItemID string
	Reason     string
}

// CreateOrderResult is the full created order with items.
type CreateOrderResult struct {
	Order   database.Order
	Items   []database.OrderItem
	Skipped []SkippedLine
}

// OrderService handles order creation business logic.
type OrderService struct {
	pool     TxBeginner
	newStore NewOrderStore
	policy   config.OrderConfig
}

// NewOrderService creates a new OrderService.
func NewOrderService(pool TxBeginner, newStore NewOrderStore, policy config.OrderConfig) *OrderService {
	return &OrderService{pool: pool, newStore: newStore, policy: policy}
}

// processedLine holds a prepared order item insert.
type processedLine struct {
	params database.CreateOrderItemParams
}

// CreateOrder validates, snapshots prices, decrements stock, and creates an
// order atomically. Retries up to maxOrderSeqRetries times on order_seq
// unique constraint violations (race where concurrent transactions get the
// same MAX).
func (s *OrderService) CreateOrder(ctx context.Context, req CreateOrderRequest) (*CreateOrderResult, error) {
	if len(req.Items) == 0 {
		metrics.OrdersRejected.WithLabelValues("empty").Inc()
		return nil, ErrEmptyItems
	}

	tableID, err := uuid.Parse(req.TableID)
	if err != nil {
		metrics.OrdersRejected.WithLabelValues("invalid_table").Inc()
		return nil, ErrInvalidTableID
	}

	for i, line := range req.Items {
		if line.Quantity <= 0 {
			metrics.OrdersRejected.WithLabelValues("invalid_quantity").Inc()
			return nil, fmt.Errorf("item[%d]: %w", i, ErrInvalidQuantity)
		}
		if _, err := uuid.Parse(line.MenuItemID); err != nil {
			metrics.OrdersRejected.WithLabelValues("invalid_item").Inc()
			return nil, fmt.Errorf("item[%d]: %w", i, ErrInvalidMenuItemID)
		}
	}

	// Retry loop: handles order_seq unique constraint race condition.
	var lastErr error
	for attempt := 0; attempt < maxOrderSeqRetries; attempt++ {
		result, err := s.createOrderTx(ctx, req, tableID)
		if err == nil {
			metrics.OrdersCreated.Inc()
			return result, nil
		}
		if isOrderSeqConflict(err) {
			lastErr = err
			continue
		}
		metrics.OrdersRejected.WithLabelValues(rejectReason(err)).Inc()
		return nil, err
	}
	metrics.OrdersRejected.WithLabelValues("seq_conflict").Inc()
	return nil, lastErr
}

// isOrderSeqConflict checks if the error is a unique constraint violation
// on the per-restaurant order sequence (pgconn error code 23505).
func isOrderSeqConflict(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" && pgErr.ConstraintName == "orders_restaurant_id_order_seq_key"
	}
	return false
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, ErrItemNotFound), errors.Is(err, ErrItemUnavailable):
		return "item_unavailable"
	case errors.Is(err, ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, ErrTableNotFound):
		return "table_not_found"
	case errors.Is(err, ErrNoFulfillableItems):
		return "no_fulfillable_items"
	default:
		return "error"
	}
}

// createOrderTx executes the full order creation in a single transaction.
func (s *OrderService) createOrderTx(ctx context.Context, req CreateOrderRequest, tableID uuid.UUID) (*CreateOrderResult, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	store := s.newStore(tx)

	// --- Validate table belongs to restaurant ---
	if _, err := store.GetTable(ctx, database.GetTableParams{
		ID:           tableID,
		RestaurantID: req.RestaurantID,
	}); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTableNotFound
		}
		return nil, fmt.Errorf("get table: %w", err)
	}

	// --- Batch-resolve all menu items ---
	itemIDs := make([]uuid.UUID, 0, len(req.Items))
	for _, line := range req.Items {
		itemIDs = append(itemIDs, uuid.MustParse(line.MenuItemID))
	}
	menuItems, err := store.GetMenuItemsForOrder(ctx, database.GetMenuItemsForOrderParams{
		RestaurantID: req.RestaurantID,
		IDs:          itemIDs,
	})
	if err != nil {
		return nil, fmt.Errorf("get menu items: %w", err)
	}
	menuByID := make(map[uuid.UUID]database.MenuItem, len(menuItems))
	for _, m := range menuItems {
		menuByID[m.ID] = m
	}

	// --- Process lines: availability, stock, price snapshot ---
	total := decimal.Zero
	var lines []processedLine
	var skipped []SkippedLine

	for i, line := range req.Items {
		itemID := uuid.MustParse(line.MenuItemID)

		menuItem, ok := menuByID[itemID]
		if !ok {
			if s.policy.MissingItemPolicy == config.PolicyLenient {
				skipped = append(skipped, SkippedLine{MenuItemID: line.MenuItemID, Reason: "not_found"})
				continue
			}
			return nil, fmt.Errorf("item[%d]: %w", i, ErrItemNotFound)
		}
		if !menuItem.Available {
			if s.policy.MissingItemPolicy == config.PolicyLenient {
				skipped = append(skipped, SkippedLine{MenuItemID: line.MenuItemID, Reason: "unavailable"})
				continue
			}
			return nil, fmt.Errorf("item[%d]: %w", i, ErrItemUnavailable)
		}

		if menuItem.TrackStock {
			affected, err := store.DecrementStock(ctx, database.DecrementStockParams{
				MenuItemID: itemID,
				Quantity:   line.Quantity,
			})
			if err != nil {
				return nil, fmt.Errorf("item[%d]: decrement stock: %w", i, err)
			}
			if affected == 0 {
				if s.policy.StockPolicy == config.PolicyLenient {
					skipped = append(skipped, SkippedLine{MenuItemID: line.MenuItemID, Reason: "insufficient_stock"})
					continue
				}
				return nil, fmt.Errorf("item[%d]: %w", i, ErrInsufficientStock)
			}
		}

		unitPrice := database.NumericToDecimal(menuItem.Price)
		total = total.Add(unitPrice.Mul(decimal.NewFromInt32(line.Quantity)))

		lines = append(lines, processedLine{
			params: database.CreateOrderItemParams{
				MenuItemID: itemID,
				ItemName:   menuItem.Name,
				Quantity:   line.Quantity,
				UnitPrice:  database.DecimalToNumeric(unitPrice),
			},
		})
	}

	if len(lines) == 0 {
		return nil, ErrNoFulfillableItems
	}

	// --- Generate display number ---
	nextSeq, err := store.GetNextOrderSeq(ctx, req.RestaurantID)
	if err != nil {
		return nil, fmt.Errorf("get next order seq: %w", err)
	}
	displayNumber := fmt.Sprintf("ORD-%04d", nextSeq)

	// --- Insert order ---
	order, err := store.CreateOrder(ctx, database.CreateOrderParams{
		RestaurantID:  req.RestaurantID,
		TableID:       tableID,
		OrderSeq:      nextSeq,
		DisplayNumber: displayNumber,
		CustomerName:  textOrNull(req.CustomerName),
		CustomerEmail: textOrNull(req.CustomerEmail),
		Notes:         textOrNull(req.Notes),
		TotalAmount:   database.DecimalToNumeric(total),
	})
	if err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}

	// --- Insert items ---
	var items []database.OrderItem
	for _, pl := range lines {
		pl.params.OrderID = order.ID
		item, err := store.CreateOrderItem(ctx, pl.params)
		if err != nil {
			return nil, fmt.Errorf("create order item: %w", err)
		}
		items = append(items, item)
	}

	// The audit entry commits atomically with the order.
	details, _ := json.Marshal(map[string]any{
		"order_id":       order.ID,
		"display_number": order.DisplayNumber,
		"total_amount":   database.NumericToDecimal(order.TotalAmount).StringFixed(2),
		"item_count":     len(items),
		"skipped_count":  len(skipped),
	})
	if err := store.InsertActivityLog(ctx, database.InsertActivityLogParams{
		RestaurantID: req.RestaurantID,
		Action:       "order.created",
		Details:      details,
	}); err != nil {
		return nil, fmt.Errorf("insert activity log: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	return &CreateOrderResult{
		Order:   order,
		Items:   items,
		Skipped: skipped,
	}, nil
}

// --- Helpers ---

func textOrNull(s string) pgtype.Text {
	if s == "" {
		return pgtype.Text{}
	}
	return pgtype.Text{String: s, Valid: true}
}
