package business

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	callbacksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chama_callbacks_total",
		Help: "Gateway callbacks processed, labeled by outcome",
	}, []string{"outcome"})

	orphanCallbacksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chama_orphan_callbacks_total",
		Help: "Callbacks whose checkout id matched no payment attempt",
	})

	stkPushTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chama_stk_push_total",
		Help: "STK push initiations, labeled by transaction type and result",
	}, []string{"transaction_type", "result"})

	overpaymentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chama_overpayments_total",
		Help: "Overpayment records created, labeled by origin",
	}, []string{"origin"})

	settlementDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "chama_settlement_duration_seconds",
		Help:    "Latency of settlement transactions",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"transaction_type"})

	conflictRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chama_conflict_retries_total",
		Help: "Transactions retried after a lock or serialization conflict",
	})
)
