package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dinelink/api/internal/database"
	"github.com/dinelink/api/internal/metrics"
	"github.com/dinelink/api/internal/paystack"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	webhookDedupTTL        = 24 * time.Hour
	settlementWriteRetries = 3
)

// Errors returned by the payment service.
var (
	ErrAlreadyPaid          = errors.New("order is already paid")
	ErrPaymentNotFound      = errors.New("payment not found")
	ErrNotAuthorized        = errors.New("not authorized for this restaurant")
	ErrNotRefundable        = errors.New("payment is not refundable")
	ErrGatewayNotConfigured = errors.New("restaurant payment account not configured")
	ErrNoCustomerEmail      = errors.New("no email available for payment")
	ErrInvalidSignature     = errors.New("invalid webhook signature")
	ErrMissingOrderRef      = errors.New("order_id not found in webhook metadata")
)

// Gateway is the slice of the payment provider API the service needs.
// Satisfied by *paystack.Client.
type Gateway interface {
	Initialize(ctx context.Context, req paystack.InitializeRequest) (*paystack.InitializeResponse, error)
	Refund(ctx context.Context, transactionReference string) error
}

// EventDeduper suppresses webhook redeliveries. A nil implementation is
// fine; the database constraints stay authoritative. AlreadySeen must be
// read-only: references are marked via MarkSeen only after the event's
// effects have landed, so a failed delivery stays retryable.
type EventDeduper interface {
	AlreadySeen(ctx context.Context, reference string) (bool, error)
	MarkSeen(ctx context.Context, reference string, ttl time.Duration) error
}

// PaymentStore defines the DB methods needed by the payment service.
type PaymentStore interface {
	GetOrder(ctx context.Context, arg database.GetOrderParams) (database.Order, error)
	GetOrderByID(ctx context.Context, id uuid.UUID) (database.Order, error)
	GetRestaurant(ctx context.Context, id uuid.UUID) (database.Restaurant, error)
	MarkOrderPaid(ctx context.Context, arg database.MarkOrderPaidParams) (database.Order, error)
	MarkOrderRefunded(ctx context.Context, id uuid.UUID) (database.Order, error)
	CreatePayment(ctx context.Context, arg database.CreatePaymentParams) (database.Payment, error)
	GetPayment(ctx context.Context, id uuid.UUID) (database.Payment, error)
	MarkPaymentSucceededByReference(ctx context.Context, arg database.MarkPaymentSucceededParams) (database.Payment, error)
	MarkPaymentRefunded(ctx context.Context, id uuid.UUID) (database.Payment, error)
	CreateTransaction(ctx context.Context, arg database.CreateTransactionParams) (int64, error)
	InsertActivityLog(ctx context.Context, arg database.InsertActivityLogParams) error
}

// NewPaymentStore creates a PaymentStore from a DBTX (pool or tx).
type NewPaymentStore func(db database.DBTX) PaymentStore

// PaymentService owns payment recording, webhook reconciliation, and refunds.
type PaymentService struct {
	pool          TxBeginner
	newStore      NewPaymentStore
	store         PaymentStore
	gateway       Gateway
	dedup         EventDeduper
	secretKey     string
	commissionBps int64
}

func NewPaymentService(pool TxBeginner, newStore NewPaymentStore, store PaymentStore, gateway Gateway, dedup EventDeduper, secretKey string, commissionBps int64) *PaymentService {
	return &PaymentService{
		pool:          pool,
		newStore:      newStore,
		store:         store,
		gateway:       gateway,
		dedup:         dedup,
		secretKey:     secretKey,
		commissionBps: commissionBps,
	}
}

// --- Cash ---

// MarkPaidCashRequest records a cash payment taken at the counter.
type MarkPaidCashRequest struct {
	OrderID      uuid.UUID
	RestaurantID uuid.UUID
	StaffID      uuid.UUID
}

// MarkPaidCash flips the order to PAID and writes the success payment row in
// one transaction. The guarded UPDATE makes a double submit return
// ErrAlreadyPaid instead of a second payment.
func (s *PaymentService) MarkPaidCash(ctx context.Context, req MarkPaidCashRequest) (*database.Order, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	store := s.newStore(tx)

	order, err := store.GetOrder(ctx, database.GetOrderParams{
		ID:           req.OrderID,
		RestaurantID: req.RestaurantID,
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}

	paid, err := store.MarkOrderPaid(ctx, database.MarkOrderPaidParams{
		ID:            order.ID,
		PaymentMethod: "cash",
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAlreadyPaid
		}
		return nil, fmt.Errorf("mark order paid: %w", err)
	}

	if _, err := store.CreatePayment(ctx, database.CreatePaymentParams{
		OrderID:  order.ID,
		Provider: database.PaymentProviderCash,
		Status:   database.PaymentStatusSuccess,
		Amount:   order.TotalAmount,
		Method:   textOrNull("cash"),
	}); err != nil {
		return nil, fmt.Errorf("create payment: %w", err)
	}

	details, _ := json.Marshal(map[string]any{
		"order_id": order.ID,
		"amount":   database.NumericToDecimal(order.TotalAmount).StringFixed(2),
	})
	if err := store.InsertActivityLog(ctx, database.InsertActivityLogParams{
		RestaurantID: req.RestaurantID,
		StaffID:      pgtypeUUID(req.StaffID),
		Action:       "payment.cash_recorded",
		Details:      details,
	}); err != nil {
		return nil, fmt.Errorf("insert activity log: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	metrics.CashPayments.Inc()
	return &paid, nil
}

// --- Gateway initialization ---

// InitializePaymentRequest starts an online payment for an order.
type InitializePaymentRequest struct {
	OrderID uuid.UUID
}

// InitializePaymentResult carries the redirect URL for the customer.
type InitializePaymentResult struct {
	AuthorizationURL string
	Reference        string
}

// InitializePayment asks the gateway for a checkout session. The amount is
// the server-side order total converted to kobo; the platform commission is
// attached as the gateway transaction charge so the split happens at
// settlement, not in our books.
func (s *PaymentService) InitializePayment(ctx context.Context, req InitializePaymentRequest) (*InitializePaymentResult, error) {
	order, err := s.store.GetOrderByID(ctx, req.OrderID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}
	if order.PaymentStatus != database.OrderPaymentUnpaid {
		return nil, ErrAlreadyPaid
	}

	restaurant, err := s.store.GetRestaurant(ctx, order.RestaurantID)
	if err != nil {
		return nil, fmt.Errorf("get restaurant: %w", err)
	}
	if !restaurant.PaystackSubaccountCode.Valid || restaurant.PaystackSubaccountCode.String == "" {
		return nil, ErrGatewayNotConfigured
	}

	amountKobo := database.NumericToDecimal(order.TotalAmount).Mul(decimalHundred).Round(0).IntPart()
	commission := amountKobo * s.commissionBps / 10000

	// The gateway requires an email on every charge. Falling back to the
	// restaurant's is fine; inventing one is not.
	email := order.CustomerEmail.String
	if email == "" {
		email = restaurant.Email.String
	}
	if email == "" {
		return nil, ErrNoCustomerEmail
	}

	resp, err := s.gateway.Initialize(ctx, paystack.InitializeRequest{
		Email:             email,
		Amount:            amountKobo,
		Subaccount:        restaurant.PaystackSubaccountCode.String,
		TransactionCharge: commission,
		Bearer:            "subaccount",
		Channels:          []string{"card", "mobile_money"},
		Metadata:          map[string]string{"order_id": order.ID.String()},
	})
	if err != nil {
		return nil, fmt.Errorf("initialize transaction: %w", err)
	}

	if _, err := s.store.CreatePayment(ctx, database.CreatePaymentParams{
		OrderID:   order.ID,
		Provider:  database.PaymentProviderPaystack,
		Status:    database.PaymentStatusPending,
		Amount:    order.TotalAmount,
		Reference: textOrNull(resp.Reference),
	}); err != nil {
		return nil, fmt.Errorf("create payment: %w", err)
	}

	return &InitializePaymentResult{
		AuthorizationURL: resp.AuthorizationURL,
		Reference:        resp.Reference,
	}, nil
}

// --- Webhook reconciliation ---

// WebhookOutcome classifies what a webhook delivery did.
type WebhookOutcome string

const (
	WebhookApplied   WebhookOutcome = "applied"
	WebhookDuplicate WebhookOutcome = "duplicate"
	WebhookIgnored   WebhookOutcome = "ignored"
)

// WebhookResult reports the applied event so callers can broadcast.
type WebhookResult struct {
	Outcome WebhookOutcome
	Order   *database.Order
}

// ApplyGatewayEvent verifies and applies one webhook delivery. Steps run
// sequentially, not in one transaction: the order flip is the authoritative
// idempotency guard, the payment-row update is log-and-continue, and the
// settlement insert retries with backoff behind its unique constraint.
func (s *PaymentService) ApplyGatewayEvent(ctx context.Context, body []byte, signature string) (*WebhookResult, error) {
	if !paystack.VerifySignature(s.secretKey, body, signature) {
		metrics.WebhookEvents.WithLabelValues("bad_signature").Inc()
		return nil, ErrInvalidSignature
	}

	ev, err := paystack.ParseWebhook(body)
	if err != nil {
		metrics.WebhookEvents.WithLabelValues("malformed").Inc()
		return nil, fmt.Errorf("parse webhook: %w", err)
	}

	if ev.Event != paystack.EventChargeSuccess {
		metrics.WebhookEvents.WithLabelValues("ignored").Inc()
		return &WebhookResult{Outcome: WebhookIgnored}, nil
	}

	orderID, err := uuid.Parse(ev.Data.Metadata.OrderID)
	if err != nil {
		metrics.WebhookEvents.WithLabelValues("missing_order").Inc()
		return nil, ErrMissingOrderRef
	}

	// Fast-path replay suppression. Redis being down or absent just means
	// the database constraints do all the work. The reference is marked
	// only after the order flip lands: marking up front would make a
	// transient failure here swallow the gateway's retry.
	if s.dedup != nil {
		seen, err := s.dedup.AlreadySeen(ctx, ev.Data.Reference)
		if err != nil {
			zap.L().Warn("webhook dedup check failed", zap.Error(err))
		} else if seen {
			metrics.WebhookEvents.WithLabelValues("duplicate").Inc()
			return &WebhookResult{Outcome: WebhookDuplicate}, nil
		}
	}

	// 1. Flip the order. Zero rows means this delivery already landed.
	order, err := s.store.MarkOrderPaid(ctx, database.MarkOrderPaidParams{
		ID:            orderID,
		PaymentMethod: ev.Data.Channel,
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			s.markEventSeen(ctx, ev.Data.Reference)
			metrics.WebhookEvents.WithLabelValues("duplicate").Inc()
			return &WebhookResult{Outcome: WebhookDuplicate}, nil
		}
		metrics.WebhookEvents.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("mark order paid: %w", err)
	}
	s.markEventSeen(ctx, ev.Data.Reference)

	// 2. Flip the pending payment row. Not finding it is logged, not fatal;
	// the order state is already correct.
	payment, err := s.store.MarkPaymentSucceededByReference(ctx, database.MarkPaymentSucceededParams{
		Reference: ev.Data.Reference,
		Method:    textOrNull(ev.Data.Channel),
	})
	if err != nil {
		zap.L().Error("webhook: payment row update failed",
			zap.String("reference", ev.Data.Reference),
			zap.Error(err))
		metrics.WebhookEvents.WithLabelValues("applied").Inc()
		return &WebhookResult{Outcome: WebhookApplied, Order: &order}, nil
	}

	// 3. Record the settlement split. Amounts arrive in kobo.
	gross := decimalFromKobo(ev.Data.Amount)
	fee := decimalFromKobo(ev.Data.Fees)
	net := gross.Sub(fee)

	var rows int64
	for attempt := 0; attempt < settlementWriteRetries; attempt++ {
		rows, err = s.store.CreateTransaction(ctx, database.CreateTransactionParams{
			RestaurantID: order.RestaurantID,
			PaymentID:    payment.ID,
			GrossAmount:  database.DecimalToNumeric(gross),
			PlatformFee:  database.DecimalToNumeric(fee),
			NetAmount:    database.DecimalToNumeric(net),
		})
		if err == nil {
			break
		}
		time.Sleep(time.Duration(attempt+1) * 100 * time.Millisecond)
	}
	switch {
	case err != nil:
		zap.L().Error("webhook: settlement record failed",
			zap.String("payment_id", payment.ID.String()),
			zap.Error(err))
	case rows > 0:
		metrics.SettlementsRecorded.Inc()
	}

	metrics.WebhookEvents.WithLabelValues("applied").Inc()
	return &WebhookResult{Outcome: WebhookApplied, Order: &order}, nil
}

// --- Refunds ---

// RefundRequest reverses an online payment.
type RefundRequest struct {
	PaymentID uuid.UUID

	// Caller identity, checked before any gateway call.
	CallerRole         string
	CallerRestaurantID uuid.UUID
	CallerStaffID      uuid.UUID
}

// Refund authorizes the caller, asks the gateway to reverse the charge, and
// records the reversal. Authorization always happens before money moves.
func (s *PaymentService) Refund(ctx context.Context, req RefundRequest) (*database.Order, error) {
	payment, err := s.store.GetPayment(ctx, req.PaymentID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			metrics.Refunds.WithLabelValues("not_found").Inc()
			return nil, ErrPaymentNotFound
		}
		return nil, fmt.Errorf("get payment: %w", err)
	}

	order, err := s.store.GetOrderByID(ctx, payment.OrderID)
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}

	if req.CallerRole != string(database.UserRoleSuperAdmin) && req.CallerRestaurantID != order.RestaurantID {
		metrics.Refunds.WithLabelValues("forbidden").Inc()
		return nil, ErrNotAuthorized
	}

	if payment.Provider != database.PaymentProviderPaystack ||
		payment.Status != database.PaymentStatusSuccess ||
		!payment.Reference.Valid {
		metrics.Refunds.WithLabelValues("not_refundable").Inc()
		return nil, ErrNotRefundable
	}

	if err := s.gateway.Refund(ctx, payment.Reference.String); err != nil {
		metrics.Refunds.WithLabelValues("gateway_error").Inc()
		return nil, fmt.Errorf("gateway refund: %w", err)
	}

	refunded, err := s.store.MarkOrderRefunded(ctx, order.ID)
	if err != nil {
		// The gateway refund went through; surface the inconsistency loudly.
		zap.L().Error("refund: order update failed after gateway refund",
			zap.String("order_id", order.ID.String()),
			zap.Error(err))
		return nil, fmt.Errorf("mark order refunded: %w", err)
	}

	if _, err := s.store.MarkPaymentRefunded(ctx, payment.ID); err != nil {
		zap.L().Error("refund: payment row update failed",
			zap.String("payment_id", payment.ID.String()),
			zap.Error(err))
	}

	details, _ := json.Marshal(map[string]any{
		"payment_id": payment.ID,
		"order_id":   order.ID,
		"amount":     database.NumericToDecimal(payment.Amount).StringFixed(2),
	})
	if err := s.store.InsertActivityLog(ctx, database.InsertActivityLogParams{
		RestaurantID: order.RestaurantID,
		StaffID:      pgtypeUUID(req.CallerStaffID),
		Action:       "payment.refunded",
		Details:      details,
	}); err != nil {
		zap.L().Warn("activity log insert failed", zap.Error(err))
	}

	metrics.Refunds.WithLabelValues("refunded").Inc()
	return &refunded, nil
}

// markEventSeen records an applied reference in the dedup cache. Best
// effort: the guarded order UPDATE stays the authoritative duplicate check.
func (s *PaymentService) markEventSeen(ctx context.Context, reference string) {
	if s.dedup == nil {
		return
	}
	if err := s.dedup.MarkSeen(ctx, reference, webhookDedupTTL); err != nil {
		zap.L().Warn("webhook dedup mark failed", zap.Error(err))
	}
}

// --- Helpers ---

var decimalHundred = decimal.NewFromInt(100)

// decimalFromKobo converts a gateway minor-unit amount to major units.
func decimalFromKobo(n int64) decimal.Decimal {
	return decimal.NewFromInt(n).Div(decimalHundred)
}

func pgtypeUUID(id uuid.UUID) pgtype.UUID {
	return pgtype.UUID{Bytes: id, Valid: id != uuid.Nil}
}
