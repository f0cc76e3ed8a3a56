package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DialGateResultsTotal counts dial gate decisions by result tag.
	DialGateResultsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "callops_dial_gate_results_total",
			Help: "Dial gate decisions, labeled by result.",
		},
		[]string{"result"},
	)

	// StatusUpdatesTotal counts provider status callbacks by reconciliation reason.
	StatusUpdatesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "callops_status_updates_total",
			Help: "Provider status callbacks, labeled by reconciliation reason.",
		},
		[]string{"reason"},
	)

	// ProviderDialsTotal counts outbound dial attempts handed to the provider.
	ProviderDialsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "callops_provider_dials_total",
			Help: "Outbound dials sent to the telephony provider, labeled by provider and outcome.",
		},
		[]string{"provider", "outcome"},
	)

	// FollowupQueueSize observes the number of entries and candidates per queue build.
	FollowupQueueSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "callops_followup_queue_size",
			Help:    "Follow-up queue size per build, labeled by set (entries or candidates).",
			Buckets: prometheus.ExponentialBuckets(1, 2, 9), // 1 to 256
		},
		[]string{"set"},
	)
)

func ObserveDialResult(result string) {
	DialGateResultsTotal.WithLabelValues(result).Inc()
}

func ObserveStatusUpdate(reason string) {
	StatusUpdatesTotal.WithLabelValues(reason).Inc()
}

func ObserveProviderDial(provider, outcome string) {
	ProviderDialsTotal.WithLabelValues(provider, outcome).Inc()
}

func ObserveQueueBuild(entries, candidates int) {
	FollowupQueueSize.WithLabelValues("entries").Observe(float64(entries))
	FollowupQueueSize.WithLabelValues("candidates").Observe(float64(candidates))
}
