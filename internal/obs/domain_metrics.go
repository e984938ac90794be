package obs

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// GatewayWebhookTotal counts inbound gateway webhook requests by terminal state.
	GatewayWebhookTotal *prometheus.CounterVec
	// GatewayEventTotal counts classified gateway events by type and dispatch outcome.
	GatewayEventTotal *prometheus.CounterVec
	// DeferredEnqueuedTotal counts webhook transitions parked behind a checkout hold.
	DeferredEnqueuedTotal prometheus.Counter
	// DeferredReplayTotal counts deferred replay outcomes.
	DeferredReplayTotal *prometheus.CounterVec
	// DeferredPendingOrders tracks orders that currently have queued entries.
	DeferredPendingOrders prometheus.Gauge
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		GatewayWebhookTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gateway_webhook_total",
			Help:      "Count of inbound payment gateway webhooks by terminal state.",
		}, []string{"state"})
		GatewayEventTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gateway_event_total",
			Help:      "Count of classified gateway events by type and dispatch outcome.",
		}, []string{"type", "outcome"})
		DeferredEnqueuedTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deferred_webhook_enqueued_total",
			Help:      "Count of webhook transitions deferred behind a checkout hold.",
		})
		DeferredReplayTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deferred_webhook_replay_total",
			Help:      "Count of deferred webhook replay outcomes.",
		}, []string{"outcome"})
		DeferredPendingOrders = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "deferred_pending_orders",
			Help:      "Orders with deferred webhook entries awaiting replay.",
		})
		reg.MustRegister(
			GatewayWebhookTotal,
			GatewayEventTotal,
			DeferredEnqueuedTotal,
			DeferredReplayTotal,
			DeferredPendingOrders,
		)
	})
}
