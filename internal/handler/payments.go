package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/dinelink/api/internal/database"
	"github.com/dinelink/api/internal/middleware"
	"github.com/dinelink/api/internal/paystack"
	"github.com/dinelink/api/internal/service"
	"github.com/dinelink/api/internal/ws"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Webhook bodies larger than this are dropped unread.
const maxWebhookBody = 1 << 20

// PaymentServicer defines the service methods needed by payment handlers.
// Satisfied by *service.PaymentService.
type PaymentServicer interface {
	MarkPaidCash(ctx context.Context, req service.MarkPaidCashRequest) (*database.Order, error)
	InitializePayment(ctx context.Context, req service.InitializePaymentRequest) (*service.InitializePaymentResult, error)
	ApplyGatewayEvent(ctx context.Context, body []byte, signature string) (*service.WebhookResult, error)
	Refund(ctx context.Context, req service.RefundRequest) (*database.Order, error)
}

// PaymentHandler handles payment endpoints.
type PaymentHandler struct {
	svc PaymentServicer
	hub Broadcaster
}

// NewPaymentHandler creates a new PaymentHandler.
func NewPaymentHandler(svc PaymentServicer, hub Broadcaster) *PaymentHandler {
	return &PaymentHandler{svc: svc, hub: hub}
}

// RegisterPublicRoutes registers the customer/gateway-facing endpoints.
func (h *PaymentHandler) RegisterPublicRoutes(r chi.Router) {
	r.Post("/payments/initialize", h.Initialize)
	r.Post("/payments/webhook", h.Webhook)
}

// RegisterStaffRoutes registers the authenticated staff endpoints.
func (h *PaymentHandler) RegisterStaffRoutes(r chi.Router) {
	r.Post("/payments/cash", h.Cash)
	r.Post("/payments/refund", h.Refund)
}

// --- Request / Response types ---

type cashPaymentRequest struct {
	OrderID string `json:"order_id"`
}

type initializePaymentRequest struct {
	OrderID string `json:"order_id"`
}

type initializePaymentResponse struct {
	AuthorizationURL string `json:"authorization_url"`
	Reference        string `json:"reference"`
}

type refundPaymentRequest struct {
	PaymentID string `json:"payment_id"`
}

// --- Handlers ---

// Cash handles POST /restaurants/{rid}/payments/cash.
func (h *PaymentHandler) Cash(w http.ResponseWriter, r *http.Request) {
	restaurantID, err := uuid.Parse(chi.URLParam(r, "rid"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid restaurant ID"})
		return
	}

	claims := middleware.ClaimsFromContext(r.Context())
	if claims == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "not authenticated"})
		return
	}

	var req cashPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	orderID, err := uuid.Parse(req.OrderID)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid order_id"})
		return
	}

	order, err := h.svc.MarkPaidCash(r.Context(), service.MarkPaidCashRequest{
		OrderID:      orderID,
		RestaurantID: restaurantID,
		StaffID:      claims.UserID,
	})
	if err != nil {
		switch {
		case errors.Is(err, service.ErrOrderNotFound):
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "order not found"})
		case errors.Is(err, service.ErrAlreadyPaid):
			writeJSON(w, http.StatusConflict, map[string]string{"error": "order is already paid"})
		default:
			zap.L().Error("cash payment", zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		}
		return
	}

	h.broadcastOrder(ws.EventOrderPaid, *order)

	writeJSON(w, http.StatusOK, dbOrderToResponse(*order))
}

// Initialize handles POST /payments/initialize. Public: customers start
// checkout from the tracking page without an account.
func (h *PaymentHandler) Initialize(w http.ResponseWriter, r *http.Request) {
	var req initializePaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.OrderID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "order_id is required"})
		return
	}

	orderID, err := uuid.Parse(req.OrderID)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid order_id"})
		return
	}

	result, err := h.svc.InitializePayment(r.Context(), service.InitializePaymentRequest{OrderID: orderID})
	if err != nil {
		switch {
		case errors.Is(err, service.ErrOrderNotFound):
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "order not found"})
		case errors.Is(err, service.ErrAlreadyPaid):
			writeJSON(w, http.StatusConflict, map[string]string{"error": "order is already paid"})
		case errors.Is(err, service.ErrGatewayNotConfigured):
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "restaurant payment account not configured"})
		case errors.Is(err, service.ErrNoCustomerEmail):
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "no email available for payment"})
		default:
			var apiErr *paystack.APIError
			if errors.As(err, &apiErr) {
				writeJSON(w, http.StatusBadGateway, map[string]string{
					"error":   "failed to initialize payment",
					"details": apiErr.Message,
				})
				return
			}
			zap.L().Error("initialize payment", zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		}
		return
	}

	writeJSON(w, http.StatusOK, initializePaymentResponse{
		AuthorizationURL: result.AuthorizationURL,
		Reference:        result.Reference,
	})
}

// Webhook handles POST /payments/webhook. The raw body must be read before
// any decoding; the signature covers the exact bytes on the wire.
func (h *PaymentHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unreadable body"})
		return
	}

	result, err := h.svc.ApplyGatewayEvent(r.Context(), body, r.Header.Get(paystack.SignatureHeader))
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidSignature):
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid signature"})
		case errors.Is(err, service.ErrMissingOrderRef):
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "order_id not found in metadata"})
		default:
			zap.L().Error("webhook processing", zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		}
		return
	}

	if result.Outcome == service.WebhookApplied && result.Order != nil {
		h.broadcastOrder(ws.EventOrderPaid, *result.Order)
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Refund handles POST /restaurants/{rid}/payments/refund.
func (h *PaymentHandler) Refund(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFromContext(r.Context())
	if claims == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "not authenticated"})
		return
	}

	var req refundPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.PaymentID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "payment_id is required"})
		return
	}

	paymentID, err := uuid.Parse(req.PaymentID)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payment_id"})
		return
	}

	order, err := h.svc.Refund(r.Context(), service.RefundRequest{
		PaymentID:          paymentID,
		CallerRole:         claims.Role,
		CallerRestaurantID: claims.RestaurantID,
		CallerStaffID:      claims.UserID,
	})
	if err != nil {
		switch {
		case errors.Is(err, service.ErrPaymentNotFound):
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "payment not found"})
		case errors.Is(err, service.ErrNotAuthorized):
			writeJSON(w, http.StatusForbidden, map[string]string{"error": "forbidden"})
		case errors.Is(err, service.ErrNotRefundable):
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "only successful online payments can be refunded"})
		default:
			var apiErr *paystack.APIError
			if errors.As(err, &apiErr) {
				writeJSON(w, http.StatusBadGateway, map[string]string{
					"error":   "failed to process refund",
					"details": apiErr.Message,
				})
				return
			}
			zap.L().Error("refund", zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		}
		return
	}

	h.broadcastOrder(ws.EventOrderRefunded, *order)

	writeJSON(w, http.StatusOK, map[string]string{"message": "refund processed successfully"})
}

// --- Helpers ---

func (h *PaymentHandler) broadcastOrder(eventType string, order database.Order) {
	if h.hub == nil {
		return
	}
	event, err := ws.NewEvent(eventType, dbOrderToResponse(order))
	if err != nil {
		zap.L().Warn("marshal ws event", zap.Error(err))
		return
	}
	h.hub.BroadcastToRestaurant(order.RestaurantID, event)
}
