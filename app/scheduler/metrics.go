package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Scheduling outcomes per account batch
	entriesScheduledTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sendqueue_entries_scheduled_total",
			Help: "Queue entries successfully scheduled, partitioned by channel",
		},
		[]string{"channel"},
	)

	duplicateIdentityTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sendqueue_duplicate_identity_total",
			Help: "Batch submissions skipped because an active entry already held the identity key",
		},
	)

	// Dispatch outcomes: result is one of sent, transient, permanent, exhausted
	sendAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sendqueue_send_attempts_total",
			Help: "Dispatch attempts partitioned by channel and result",
		},
		[]string{"channel", "result"},
	)

	// High frequency here means workers are dying mid-send
	staleReclaimsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sendqueue_stale_reclaims_total",
			Help: "Claimed entries returned to pending after their worker went silent",
		},
	)

	pendingDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sendqueue_pending_depth",
			Help: "Entries currently in pending status, sampled each dispatcher tick",
		},
	)
)
