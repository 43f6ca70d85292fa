package businessflow

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// webhookEventsTotal tracks reconciliation outcomes: applied, replay,
// early_arrival, unmatched or unknown_event
var webhookEventsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "sendqueue_webhook_events_total",
		Help: "Provider webhook events partitioned by event type and reconciliation outcome",
	},
	[]string{"event", "outcome"},
)
