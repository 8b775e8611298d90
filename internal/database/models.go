package database

import (
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

// OrderStatus is the kitchen-side order state machine.
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "PENDING"
	OrderStatusInProgress OrderStatus = "IN_PROGRESS"
	OrderStatusCompleted  OrderStatus = "COMPLETED"
	OrderStatusCancelled  OrderStatus = "CANCELLED"
)

// OrderPaymentStatus is the order-level payment state machine, independent
// of the kitchen status.
type OrderPaymentStatus string

const (
	OrderPaymentUnpaid   OrderPaymentStatus = "UNPAID"
	OrderPaymentPaid     OrderPaymentStatus = "PAID"
	OrderPaymentRefunded OrderPaymentStatus = "REFUNDED"
	OrderPaymentFailed   OrderPaymentStatus = "FAILED"
)

// PaymentStatus is the state of one settlement attempt (a payments row).
type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "pending"
	PaymentStatusSuccess  PaymentStatus = "success"
	PaymentStatusRefunded PaymentStatus = "refunded"
	PaymentStatusFailed   PaymentStatus = "failed"
)

// PaymentProvider identifies who settled the money.
type PaymentProvider string

const (
	PaymentProviderCash     PaymentProvider = "cash"
	PaymentProviderPaystack PaymentProvider = "paystack"
)

// UserRole scopes staff access.
type UserRole string

const (
	UserRoleAdmin      UserRole = "ADMIN"
	UserRoleStaff      UserRole = "STAFF"
	UserRoleSuperAdmin UserRole = "SUPER_ADMIN"
)

// SettlementStatus of a transactions row. Settlement execution is owned by
// the gateway's payout cycle; rows are created PENDING and stay that way here.
type SettlementStatus string

const (
	SettlementStatusPending SettlementStatus = "PENDING"
	SettlementStatusSettled SettlementStatus = "SETTLED"
)

type Restaurant struct {
	ID                     uuid.UUID
	Name                   string
	Email                  pgtype.Text
	PaystackSubaccountCode pgtype.Text
	Active                 bool
	CreatedAt              time.Time
}

type RestaurantTable struct {
	ID           uuid.UUID
	RestaurantID uuid.UUID
	Label        string
	CreatedAt    time.Time
}

type MenuItem struct {
	ID                uuid.UUID
	RestaurantID      uuid.UUID
	Name              string
	Price             pgtype.Numeric
	Category          string
	Available         bool
	TrackStock        bool
	QuantityInStock   int32
	LowStockThreshold int32
	CreatedAt         time.Time
}

type Order struct {
	ID                     uuid.UUID
	RestaurantID           uuid.UUID
	TableID                uuid.UUID
	OrderSeq               int32
	DisplayNumber          string
	CustomerName           pgtype.Text
	CustomerEmail          pgtype.Text
	Notes                  pgtype.Text
	Status                 OrderStatus
	PaymentStatus          OrderPaymentStatus
	PaymentMethod          pgtype.Text
	TotalAmount            pgtype.Numeric
	PreparationStartedAt   pgtype.Timestamptz
	PreparationCompletedAt pgtype.Timestamptz
	UpdatedByName          pgtype.Text
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

type OrderItem struct {
	ID         uuid.UUID
	OrderID    uuid.UUID
	MenuItemID uuid.UUID
	ItemName   string
	Quantity   int32
	UnitPrice  pgtype.Numeric
	CreatedAt  time.Time
}

type Payment struct {
	ID        uuid.UUID
	OrderID   uuid.UUID
	Provider  PaymentProvider
	Status    PaymentStatus
	Amount    pgtype.Numeric
	Reference pgtype.Text
	Method    pgtype.Text
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Transaction struct {
	ID               uuid.UUID
	RestaurantID     uuid.UUID
	PaymentID        uuid.UUID
	GrossAmount      pgtype.Numeric
	PlatformFee      pgtype.Numeric
	NetAmount        pgtype.Numeric
	SettlementStatus SettlementStatus
	CreatedAt        time.Time
}

type User struct {
	ID           uuid.UUID
	RestaurantID pgtype.UUID
	FullName     string
	Email        string
	PasswordHash string
	Role         UserRole
	CreatedAt    time.Time
}
