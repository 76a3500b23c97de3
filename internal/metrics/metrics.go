// Package metrics 账本相关的 Prometheus 指标
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	AdActivations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_ad_activations_total",
		Help: "Ad activation attempts by outcome.",
	}, []string{"outcome"})

	Reconciliations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_reconciliations_total",
		Help: "Purchase reconciliations by resulting transaction status and whether the call was a replay.",
	}, []string{"status", "replayed"})

	UnrecognizedGatewayStatus = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledger_gateway_status_unrecognized_total",
		Help: "Gateway callbacks whose status string did not map to a canonical status.",
	})

	TokensMoved = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_tokens_moved_total",
		Help: "Tokens credited or debited.",
	}, []string{"direction"})

	OperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ledger_operation_duration_seconds",
		Help:    "Latency of atomic ledger operations.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	OutboxMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_outbox_messages_total",
		Help: "Outbox relay results.",
	}, []string{"result"})

	AdsExpired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledger_ads_expired_total",
		Help: "Ads moved from active to expired by the sweep.",
	})
)
