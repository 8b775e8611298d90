package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OrdersCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dinelink_orders_created_total",
		Help: "Orders successfully created.",
	})

	OrdersRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dinelink_orders_rejected_total",
		Help: "Orders rejected at creation, by reason.",
	}, []string{"reason"})

	StatusTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dinelink_order_status_transitions_total",
		Help: "Order status transitions applied, by target status.",
	}, []string{"to"})

	CashPayments = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dinelink_cash_payments_total",
		Help: "Cash payments recorded.",
	})

	WebhookEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dinelink_webhook_events_total",
		Help: "Gateway webhook deliveries, by outcome.",
	}, []string{"outcome"})

	Refunds = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dinelink_refunds_total",
		Help: "Refund attempts, by outcome.",
	}, []string{"outcome"})

	SettlementsRecorded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dinelink_settlements_recorded_total",
		Help: "Settlement transaction rows written.",
	})
)
