package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dinelink/api/internal/database"
	"github.com/dinelink/api/internal/metrics"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"go.uber.org/zap"
)

// Errors returned by the status service.
var (
	ErrOrderNotFound     = errors.New("order not found")
	ErrInvalidStatus     = errors.New("invalid status")
	ErrIllegalTransition = errors.New("illegal status transition")
	ErrStatusChanged     = errors.New("order status changed concurrently")
)

// allowedTransitions is the whole state machine. Terminal states have no
// outgoing edges.
var allowedTransitions = map[database.OrderStatus][]database.OrderStatus{
	database.OrderStatusPending:    {database.OrderStatusInProgress, database.OrderStatusCancelled},
	database.OrderStatusInProgress: {database.OrderStatusCompleted, database.OrderStatusCancelled},
	database.OrderStatusCompleted:  {},
	database.OrderStatusCancelled:  {},
}

// StatusStore defines the DB methods needed for status transitions.
type StatusStore interface {
	GetOrder(ctx context.Context, arg database.GetOrderParams) (database.Order, error)
	GetUserByID(ctx context.Context, id uuid.UUID) (database.User, error)
	UpdateOrderStatus(ctx context.Context, arg database.UpdateOrderStatusParams) (database.Order, error)
	InsertActivityLog(ctx context.Context, arg database.InsertActivityLogParams) error
}

// TransitionRequest moves an order to a target status. The acting staff
// member's name is resolved from StaffID, never taken from the client.
type TransitionRequest struct {
	OrderID      uuid.UUID
	RestaurantID uuid.UUID
	Target       database.OrderStatus
	StaffID      uuid.UUID
}

// StatusService applies the order status state machine.
type StatusService struct {
	store StatusStore
}

func NewStatusService(store StatusStore) *StatusService {
	return &StatusService{store: store}
}

// Transition validates and applies a status change. Re-applying the current
// status is a no-op success. The UPDATE is guarded on the observed status,
// so two staff racing on the same order cannot both win.
func (s *StatusService) Transition(ctx context.Context, req TransitionRequest) (*database.Order, error) {
	if _, ok := allowedTransitions[req.Target]; !ok {
		return nil, ErrInvalidStatus
	}

	order, err := s.store.GetOrder(ctx, database.GetOrderParams{
		ID:           req.OrderID,
		RestaurantID: req.RestaurantID,
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}

	if order.Status == req.Target {
		return &order, nil
	}

	if !transitionAllowed(order.Status, req.Target) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, order.Status, req.Target)
	}

	now := pgtype.Timestamptz{Time: time.Now(), Valid: true}
	params := database.UpdateOrderStatusParams{
		ID:            req.OrderID,
		RestaurantID:  req.RestaurantID,
		Status:        req.Target,
		FromStatus:    order.Status,
		UpdatedByName: textOrNull(s.staffName(ctx, req.StaffID)),
	}
	switch req.Target {
	case database.OrderStatusInProgress:
		params.PreparationStartedAt = now
	case database.OrderStatusCompleted:
		params.PreparationCompletedAt = now
	}

	updated, err := s.store.UpdateOrderStatus(ctx, params)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrStatusChanged
		}
		return nil, fmt.Errorf("update order status: %w", err)
	}

	metrics.StatusTransitions.WithLabelValues(string(req.Target)).Inc()

	details, _ := json.Marshal(map[string]any{
		"order_id": req.OrderID,
		"from":     order.Status,
		"to":       req.Target,
	})
	if err := s.store.InsertActivityLog(ctx, database.InsertActivityLogParams{
		RestaurantID: req.RestaurantID,
		StaffID:      pgtypeUUID(req.StaffID),
		Action:       "order.status_changed",
		Details:      details,
	}); err != nil {
		zap.L().Warn("activity log insert failed", zap.Error(err))
	}

	return &updated, nil
}

// staffName resolves the acting user's display name for the audit columns.
// Best effort: an unresolvable actor leaves the name null rather than
// blocking the transition.
func (s *StatusService) staffName(ctx context.Context, staffID uuid.UUID) string {
	if staffID == uuid.Nil {
		return ""
	}
	user, err := s.store.GetUserByID(ctx, staffID)
	if err != nil {
		zap.L().Warn("staff name lookup failed", zap.String("staff_id", staffID.String()), zap.Error(err))
		return ""
	}
	return user.FullName
}

func transitionAllowed(from, to database.OrderStatus) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
