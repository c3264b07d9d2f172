package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EvaluationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tradecore_evaluations_total",
		Help: "Ruleset evaluations executed.",
	})
	IntentsEmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tradecore_intents_emitted_total",
		Help: "Order intents emitted by the ruleset evaluator.",
	})
	OrdersSubmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tradecore_orders_submitted_total",
		Help: "Orders submitted to the broker.",
	})
	OrdersFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tradecore_orders_failed_total",
		Help: "Orders rejected locally or by the broker.",
	})
	ContentionSkips = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tradecore_contention_skips_total",
		Help: "Processing invocations skipped due to lock contention.",
	})
	DuplicatePositionSkips = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tradecore_duplicate_position_skips_total",
		Help: "Entry orders skipped because an active position already exists.",
	})
)
