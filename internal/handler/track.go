package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/dinelink/api/internal/database"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// TrackStore defines the database methods needed by the tracking handler.
type TrackStore interface {
	GetOrderForTracking(ctx context.Context, arg database.GetOrderForTrackingParams) (database.Order, error)
	ListOrderItemsByOrder(ctx context.Context, orderID uuid.UUID) ([]database.OrderItem, error)
}

// TrackHandler serves the public order tracking page. Knowing the order ID
// alone is not enough; the customer must also supply the email used at
// checkout.
type TrackHandler struct {
	store TrackStore
}

func NewTrackHandler(store TrackStore) *TrackHandler {
	return &TrackHandler{store: store}
}

// Track handles GET /track-order?order_id=...&email=...
func (h *TrackHandler) Track(w http.ResponseWriter, r *http.Request) {
	orderIDStr := r.URL.Query().Get("order_id")
	email := r.URL.Query().Get("email")
	if orderIDStr == "" || email == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "order_id and email are required"})
		return
	}

	orderID, err := uuid.Parse(orderIDStr)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid order_id"})
		return
	}

	order, err := h.store.GetOrderForTracking(r.Context(), database.GetOrderForTrackingParams{
		ID:            orderID,
		CustomerEmail: email,
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Same response for wrong email and unknown order.
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "order not found"})
			return
		}
		zap.L().Error("track order", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	items, err := h.store.ListOrderItemsByOrder(r.Context(), order.ID)
	if err != nil {
		zap.L().Error("track order items", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	resp := dbOrderToResponse(order)
	resp.Items = make([]orderItemResponse, len(items))
	for i, item := range items {
		resp.Items[i] = dbOrderItemToResponse(item)
	}

	writeJSON(w, http.StatusOK, resp)
}
