package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dinelink/api/internal/auth"
	"github.com/dinelink/api/internal/database"
	"github.com/dinelink/api/internal/handler"
	"github.com/dinelink/api/internal/middleware"
	"github.com/dinelink/api/internal/service"
	"github.com/dinelink/api/internal/ws"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

// --- Mocks ---

type mockOrderService struct {
	createFn func(ctx context.Context, req service.CreateOrderRequest) (*service.CreateOrderResult, error)
}

func (m *mockOrderService) CreateOrder(ctx context.Context, req service.CreateOrderRequest) (*service.CreateOrderResult, error) {
	return m.createFn(ctx, req)
}

type mockStatusService struct {
	transitionFn func(ctx context.Context, req service.TransitionRequest) (*database.Order, error)
}

func (m *mockStatusService) Transition(ctx context.Context, req service.TransitionRequest) (*database.Order, error) {
	return m.transitionFn(ctx, req)
}

type mockOrderStore struct {
	getOrderFn              func(ctx context.Context, arg database.GetOrderParams) (database.Order, error)
	listOrdersFn            func(ctx context.Context, arg database.ListOrdersParams) ([]database.Order, error)
	listOrderItemsByOrderFn func(ctx context.Context, orderID uuid.UUID) ([]database.OrderItem, error)
}

func (m *mockOrderStore) GetOrder(ctx context.Context, arg database.GetOrderParams) (database.Order, error) {
	if m.getOrderFn != nil {
		return m.getOrderFn(ctx, arg)
	}
	return database.Order{}, pgx.ErrNoRows
}

func (m *mockOrderStore) ListOrders(ctx context.Context, arg database.ListOrdersParams) ([]database.Order, error) {
	if m.listOrdersFn != nil {
		return m.listOrdersFn(ctx, arg)
	}
	return []database.Order{}, nil
}

func (m *mockOrderStore) ListOrderItemsByOrder(ctx context.Context, orderID uuid.UUID) ([]database.OrderItem, error) {
	if m.listOrderItemsByOrderFn != nil {
		return m.listOrderItemsByOrderFn(ctx, orderID)
	}
	return []database.OrderItem{}, nil
}

// mockHub records broadcast events.
type mockHub struct {
	events []recordedEvent
}

type recordedEvent struct {
	restaurantID uuid.UUID
	event        ws.Event
}

func (m *mockHub) BroadcastToRestaurant(restaurantID uuid.UUID, event ws.Event) {
	m.events = append(m.events, recordedEvent{restaurantID: restaurantID, event: event})
}

// --- Test helpers ---

const testJWTSecret = "test-secret-for-handlers"

func decimalNumeric(val string) pgtype.Numeric {
	var n pgtype.Numeric
	_ = n.Scan(val)
	return n
}

func testOrder(orderID, restaurantID uuid.UUID) database.Order {
	return database.Order{
		ID:            orderID,
		RestaurantID:  restaurantID,
		TableID:       uuid.New(),
		OrderSeq:      7,
		DisplayNumber: "ORD-0007",
		Status:        database.OrderStatusPending,
		PaymentStatus: database.OrderPaymentUnpaid,
		TotalAmount:   decimalNumeric("55.00"),
		CreatedAt:     time.Now(),
		UpdatedAt:     time.Now(),
	}
}

func setupPublicOrderRouter(svc *mockOrderService, hub *mockHub) *chi.Mux {
	h := handler.NewOrderHandler(svc, nil, nil, hub)
	r := chi.NewRouter()
	h.RegisterPublicRoutes(r)
	return r
}

func setupStaffOrderRouter(status *mockStatusService, store *mockOrderStore, hub *mockHub) *chi.Mux {
	h := handler.NewOrderHandler(nil, status, store, hub)
	r := chi.NewRouter()
	r.Group(func(r chi.Router) {
		r.Use(middleware.Authenticate(testJWTSecret))
		r.Route("/restaurants/{rid}/orders", h.RegisterStaffRoutes)
	})
	return r
}

func doRequest(t *testing.T, router http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var req *http.Request
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request: %v", err)
		}
		req = httptest.NewRequest(method, path, bytes.NewReader(b))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func doAuthRequest(t *testing.T, router http.Handler, method, path string, body interface{}, claims *auth.Claims) *httptest.ResponseRecorder {
	t.Helper()

	token, err := auth.GenerateToken(testJWTSecret, claims.UserID, claims.RestaurantID, claims.Role)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}

	var req *http.Request
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request: %v", err)
		}
		req = httptest.NewRequest(method, path, bytes.NewReader(b))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func decodeResponse(t *testing.T, rr *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var resp map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp
}

func staffClaims(restaurantID uuid.UUID) *auth.Claims {
	return &auth.Claims{
		UserID:       uuid.New(),
		RestaurantID: restaurantID,
		Role:         "STAFF",
	}
}

// --- Create (public QR flow) ---

func TestCreateOrder_HappyPath(t *testing.T) {
	restaurantID := uuid.New()
	orderID := uuid.New()
	tableID := uuid.New()
	menuItemID := uuid.New()

	svc := &mockOrderService{
		createFn: func(ctx context.Context, req service.CreateOrderRequest) (*service.CreateOrderResult, error) {
			if req.RestaurantID != restaurantID {
				t.Errorf("restaurant ID: got %s, want %s", req.RestaurantID, restaurantID)
			}
			if req.TableID != tableID.String() {
				t.Errorf("table ID: got %s, want %s", req.TableID, tableID)
			}
			order := testOrder(orderID, restaurantID)
			return &service.CreateOrderResult{
				Order: order,
				Items: []database.OrderItem{{
					ID:         uuid.New(),
					OrderID:    orderID,
					MenuItemID: menuItemID,
					ItemName:   "Jollof Rice",
					Quantity:   2,
					UnitPrice:  decimalNumeric("27.50"),
				}},
			}, nil
		},
	}
	hub := &mockHub{}
	router := setupPublicOrderRouter(svc, hub)

	rr := doRequest(t, router, "POST", "/restaurants/"+restaurantID.String()+"/orders",
		map[string]interface{}{
			"table_id":       tableID.String(),
			"customer_name":  "Ada",
			"customer_email": "ada@example.com",
			"items": []map[string]interface{}{
				{"menu_item_id": menuItemID.String(), "quantity": 2},
			},
		})

	if rr.Code != http.StatusCreated {
		t.Fatalf("status: got %d, want %d; body: %s", rr.Code, http.StatusCreated, rr.Body.String())
	}

	resp := decodeResponse(t, rr)
	if resp["display_number"] != "ORD-0007" {
		t.Errorf("display_number: got %v, want ORD-0007", resp["display_number"])
	}
	if resp["total_amount"] != "55.00" {
		t.Errorf("total_amount: got %v, want 55.00", resp["total_amount"])
	}
	items := resp["items"].([]interface{})
	if len(items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(items))
	}
	item := items[0].(map[string]interface{})
	if item["unit_price"] != "27.50" {
		t.Errorf("unit_price: got %v, want 27.50", item["unit_price"])
	}

	if len(hub.events) != 1 {
		t.Fatalf("expected 1 broadcast, got %d", len(hub.events))
	}
	if hub.events[0].event.Type != ws.EventOrderCreated {
		t.Errorf("event type: got %s, want %s", hub.events[0].event.Type, ws.EventOrderCreated)
	}
	if hub.events[0].restaurantID != restaurantID {
		t.Error("broadcast sent to wrong restaurant room")
	}
}

func TestCreateOrder_SkippedLinesInResponse(t *testing.T) {
	restaurantID := uuid.New()
	orderID := uuid.New()
	skippedID := uuid.New().String()

	svc := &mockOrderService{
		createFn: func(ctx context.Context, req service.CreateOrderRequest) (*service.CreateOrderResult, error) {
			return &service.CreateOrderResult{
				Order:   testOrder(orderID, restaurantID),
				Items:   []database.OrderItem{},
				Skipped: []service.SkippedLine{{MenuItemID: skippedID, Reason: "insufficient_stock"}},
			}, nil
		},
	}
	router := setupPublicOrderRouter(svc, &mockHub{})

	rr := doRequest(t, router, "POST", "/restaurants/"+restaurantID.String()+"/orders",
		map[string]interface{}{
			"table_id": uuid.New().String(),
			"items":    []map[string]interface{}{{"menu_item_id": skippedID, "quantity": 99}},
		})

	if rr.Code != http.StatusCreated {
		t.Fatalf("status: got %d, want %d; body: %s", rr.Code, http.StatusCreated, rr.Body.String())
	}

	resp := decodeResponse(t, rr)
	skipped := resp["skipped_items"].([]interface{})
	if len(skipped) != 1 {
		t.Fatalf("expected 1 skipped item, got %d", len(skipped))
	}
	line := skipped[0].(map[string]interface{})
	if line["reason"] != "insufficient_stock" {
		t.Errorf("reason: got %v, want insufficient_stock", line["reason"])
	}
}

func TestCreateOrder_MissingTableID(t *testing.T) {
	router := setupPublicOrderRouter(&mockOrderService{}, &mockHub{})

	rr := doRequest(t, router, "POST", "/restaurants/"+uuid.New().String()+"/orders",
		map[string]interface{}{
			"items": []map[string]interface{}{{"menu_item_id": uuid.New().String(), "quantity": 1}},
		})

	if rr.Code != http.StatusBadRequest {
		t.Errorf("status: got %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestCreateOrder_EmptyItems(t *testing.T) {
	router := setupPublicOrderRouter(&mockOrderService{}, &mockHub{})

	rr := doRequest(t, router, "POST", "/restaurants/"+uuid.New().String()+"/orders",
		map[string]interface{}{
			"table_id": uuid.New().String(),
			"items":    []map[string]interface{}{},
		})

	if rr.Code != http.StatusBadRequest {
		t.Errorf("status: got %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestCreateOrder_InvalidRestaurantID(t *testing.T) {
	router := setupPublicOrderRouter(&mockOrderService{}, &mockHub{})

	rr := doRequest(t, router, "POST", "/restaurants/not-a-uuid/orders",
		map[string]interface{}{
			"table_id": uuid.New().String(),
			"items":    []map[string]interface{}{{"menu_item_id": uuid.New().String(), "quantity": 1}},
		})

	if rr.Code != http.StatusBadRequest {
		t.Errorf("status: got %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestCreateOrder_InsufficientStock(t *testing.T) {
	hub := &mockHub{}
	svc := &mockOrderService{
		createFn: func(ctx context.Context, req service.CreateOrderRequest) (*service.CreateOrderResult, error) {
			return nil, service.ErrInsufficientStock
		},
	}
	router := setupPublicOrderRouter(svc, hub)

	rr := doRequest(t, router, "POST", "/restaurants/"+uuid.New().String()+"/orders",
		map[string]interface{}{
			"table_id": uuid.New().String(),
			"items":    []map[string]interface{}{{"menu_item_id": uuid.New().String(), "quantity": 50}},
		})

	if rr.Code != http.StatusConflict {
		t.Errorf("status: got %d, want %d", rr.Code, http.StatusConflict)
	}
	if len(hub.events) != 0 {
		t.Error("broadcast sent for rejected order")
	}
}

func TestCreateOrder_TableNotFound(t *testing.T) {
	svc := &mockOrderService{
		createFn: func(ctx context.Context, req service.CreateOrderRequest) (*service.CreateOrderResult, error) {
			return nil, service.ErrTableNotFound
		},
	}
	router := setupPublicOrderRouter(svc, &mockHub{})

	rr := doRequest(t, router, "POST", "/restaurants/"+uuid.New().String()+"/orders",
		map[string]interface{}{
			"table_id": uuid.New().String(),
			"items":    []map[string]interface{}{{"menu_item_id": uuid.New().String(), "quantity": 1}},
		})

	if rr.Code != http.StatusNotFound {
		t.Errorf("status: got %d, want %d", rr.Code, http.StatusNotFound)
	}
}

func TestCreateOrder_NoFulfillableItems(t *testing.T) {
	svc := &mockOrderService{
		createFn: func(ctx context.Context, req service.CreateOrderRequest) (*service.CreateOrderResult, error) {
			return nil, service.ErrNoFulfillableItems
		},
	}
	router := setupPublicOrderRouter(svc, &mockHub{})

	rr := doRequest(t, router, "POST", "/restaurants/"+uuid.New().String()+"/orders",
		map[string]interface{}{
			"table_id": uuid.New().String(),
			"items":    []map[string]interface{}{{"menu_item_id": uuid.New().String(), "quantity": 1}},
		})

	if rr.Code != http.StatusConflict {
		t.Errorf("status: got %d, want %d", rr.Code, http.StatusConflict)
	}
}

// --- List ---

func TestListOrders_HappyPath(t *testing.T) {
	restaurantID := uuid.New()

	store := &mockOrderStore{
		listOrdersFn: func(ctx context.Context, arg database.ListOrdersParams) ([]database.Order, error) {
			if arg.Limit != 20 {
				t.Errorf("limit: got %d, want default 20", arg.Limit)
			}
			return []database.Order{
				testOrder(uuid.New(), restaurantID),
				testOrder(uuid.New(), restaurantID),
			}, nil
		},
	}
	router := setupStaffOrderRouter(&mockStatusService{}, store, &mockHub{})

	rr := doAuthRequest(t, router, "GET", "/restaurants/"+restaurantID.String()+"/orders",
		nil, staffClaims(restaurantID))

	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want %d; body: %s", rr.Code, http.StatusOK, rr.Body.String())
	}

	resp := decodeResponse(t, rr)
	orders := resp["orders"].([]interface{})
	if len(orders) != 2 {
		t.Errorf("expected 2 orders, got %d", len(orders))
	}
}

func TestListOrders_StatusFilterAndLimitCap(t *testing.T) {
	restaurantID := uuid.New()

	var captured database.ListOrdersParams
	store := &mockOrderStore{
		listOrdersFn: func(ctx context.Context, arg database.ListOrdersParams) ([]database.Order, error) {
			captured = arg
			return []database.Order{}, nil
		},
	}
	router := setupStaffOrderRouter(&mockStatusService{}, store, &mockHub{})

	rr := doAuthRequest(t, router, "GET",
		"/restaurants/"+restaurantID.String()+"/orders?status=PENDING&limit=500&offset=40",
		nil, staffClaims(restaurantID))

	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want %d", rr.Code, http.StatusOK)
	}
	if !captured.Status.Valid || captured.Status.String != "PENDING" {
		t.Errorf("status filter: got %+v, want PENDING", captured.Status)
	}
	if captured.Limit != 100 {
		t.Errorf("limit: got %d, want capped at 100", captured.Limit)
	}
	if captured.Offset != 40 {
		t.Errorf("offset: got %d, want 40", captured.Offset)
	}
}

func TestListOrders_MissingAuth(t *testing.T) {
	router := setupStaffOrderRouter(&mockStatusService{}, &mockOrderStore{}, &mockHub{})

	rr := doRequest(t, router, "GET", "/restaurants/"+uuid.New().String()+"/orders", nil)

	if rr.Code != http.StatusUnauthorized {
		t.Errorf("status: got %d, want %d", rr.Code, http.StatusUnauthorized)
	}
}

// --- Get ---

func TestGetOrder_HappyPath(t *testing.T) {
	restaurantID := uuid.New()
	orderID := uuid.New()

	store := &mockOrderStore{
		getOrderFn: func(ctx context.Context, arg database.GetOrderParams) (database.Order, error) {
			if arg.ID != orderID || arg.RestaurantID != restaurantID {
				return database.Order{}, pgx.ErrNoRows
			}
			return testOrder(orderID, restaurantID), nil
		},
		listOrderItemsByOrderFn: func(ctx context.Context, id uuid.UUID) ([]database.OrderItem, error) {
			return []database.OrderItem{{
				ID:         uuid.New(),
				OrderID:    orderID,
				MenuItemID: uuid.New(),
				ItemName:   "Suya",
				Quantity:   1,
				UnitPrice:  decimalNumeric("15.00"),
			}}, nil
		},
	}
	router := setupStaffOrderRouter(&mockStatusService{}, store, &mockHub{})

	rr := doAuthRequest(t, router, "GET",
		"/restaurants/"+restaurantID.String()+"/orders/"+orderID.String(),
		nil, staffClaims(restaurantID))

	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want %d; body: %s", rr.Code, http.StatusOK, rr.Body.String())
	}

	resp := decodeResponse(t, rr)
	if resp["id"] != orderID.String() {
		t.Errorf("id: got %v, want %s", resp["id"], orderID)
	}
	items := resp["items"].([]interface{})
	if len(items) != 1 {
		t.Errorf("expected 1 item, got %d", len(items))
	}
}

func TestGetOrder_NotFound(t *testing.T) {
	restaurantID := uuid.New()
	router := setupStaffOrderRouter(&mockStatusService{}, &mockOrderStore{}, &mockHub{})

	rr := doAuthRequest(t, router, "GET",
		"/restaurants/"+restaurantID.String()+"/orders/"+uuid.New().String(),
		nil, staffClaims(restaurantID))

	if rr.Code != http.StatusNotFound {
		t.Errorf("status: got %d, want %d", rr.Code, http.StatusNotFound)
	}
}

// --- UpdateStatus ---

func TestUpdateStatus_HappyPath(t *testing.T) {
	restaurantID := uuid.New()
	orderID := uuid.New()
	claims := staffClaims(restaurantID)

	status := &mockStatusService{
		transitionFn: func(ctx context.Context, req service.TransitionRequest) (*database.Order, error) {
			if req.Target != database.OrderStatusInProgress {
				t.Errorf("target: got %s, want IN_PROGRESS", req.Target)
			}
			if req.StaffID != claims.UserID {
				t.Error("staff ID not taken from claims")
			}
			o := testOrder(orderID, restaurantID)
			o.Status = database.OrderStatusInProgress
			return &o, nil
		},
	}
	hub := &mockHub{}
	router := setupStaffOrderRouter(status, &mockOrderStore{}, hub)

	rr := doAuthRequest(t, router, "PATCH",
		"/restaurants/"+restaurantID.String()+"/orders/"+orderID.String()+"/status",
		map[string]interface{}{"status": "IN_PROGRESS"}, claims)

	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want %d; body: %s", rr.Code, http.StatusOK, rr.Body.String())
	}

	resp := decodeResponse(t, rr)
	if resp["status"] != "IN_PROGRESS" {
		t.Errorf("status: got %v, want IN_PROGRESS", resp["status"])
	}

	if len(hub.events) != 1 || hub.events[0].event.Type != ws.EventOrderStatusChanged {
		t.Error("status change was not broadcast")
	}
}

func TestUpdateStatus_IllegalTransition(t *testing.T) {
	restaurantID := uuid.New()

	status := &mockStatusService{
		transitionFn: func(ctx context.Context, req service.TransitionRequest) (*database.Order, error) {
			return nil, service.ErrIllegalTransition
		},
	}
	router := setupStaffOrderRouter(status, &mockOrderStore{}, &mockHub{})

	rr := doAuthRequest(t, router, "PATCH",
		"/restaurants/"+restaurantID.String()+"/orders/"+uuid.New().String()+"/status",
		map[string]interface{}{"status": "COMPLETED"}, staffClaims(restaurantID))

	if rr.Code != http.StatusConflict {
		t.Errorf("status: got %d, want %d", rr.Code, http.StatusConflict)
	}
}

func TestUpdateStatus_ConcurrentChange(t *testing.T) {
	restaurantID := uuid.New()

	status := &mockStatusService{
		transitionFn: func(ctx context.Context, req service.TransitionRequest) (*database.Order, error) {
			return nil, service.ErrStatusChanged
		},
	}
	router := setupStaffOrderRouter(status, &mockOrderStore{}, &mockHub{})

	rr := doAuthRequest(t, router, "PATCH",
		"/restaurants/"+restaurantID.String()+"/orders/"+uuid.New().String()+"/status",
		map[string]interface{}{"status": "IN_PROGRESS"}, staffClaims(restaurantID))

	if rr.Code != http.StatusConflict {
		t.Errorf("status: got %d, want %d", rr.Code, http.StatusConflict)
	}
}

func TestUpdateStatus_InvalidStatus(t *testing.T) {
	restaurantID := uuid.New()

	status := &mockStatusService{
		transitionFn: func(ctx context.Context, req service.TransitionRequest) (*database.Order, error) {
			return nil, service.ErrInvalidStatus
		},
	}
	router := setupStaffOrderRouter(status, &mockOrderStore{}, &mockHub{})

	rr := doAuthRequest(t, router, "PATCH",
		"/restaurants/"+restaurantID.String()+"/orders/"+uuid.New().String()+"/status",
		map[string]interface{}{"status": "SHIPPED"}, staffClaims(restaurantID))

	if rr.Code != http.StatusBadRequest {
		t.Errorf("status: got %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestUpdateStatus_MissingStatus(t *testing.T) {
	restaurantID := uuid.New()
	router := setupStaffOrderRouter(&mockStatusService{}, &mockOrderStore{}, &mockHub{})

	rr := doAuthRequest(t, router, "PATCH",
		"/restaurants/"+restaurantID.String()+"/orders/"+uuid.New().String()+"/status",
		map[string]interface{}{}, staffClaims(restaurantID))

	if rr.Code != http.StatusBadRequest {
		t.Errorf("status: got %d, want %d", rr.Code, http.StatusBadRequest)
	}
}
