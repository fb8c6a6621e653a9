package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	InboxEnqueued  = prometheus.NewCounter(prometheus.CounterOpts{Name: "pabridge_inbox_enqueued_total", Help: "Entries added to the inbox by the poller"})
	InboxClaimed   = prometheus.NewCounter(prometheus.CounterOpts{Name: "pabridge_inbox_claimed_total", Help: "Entries claimed by workers"})
	InboxCompleted = prometheus.NewCounter(prometheus.CounterOpts{Name: "pabridge_inbox_completed_total", Help: "Entries processed successfully"})
	InboxFailed    = prometheus.NewCounter(prometheus.CounterOpts{Name: "pabridge_inbox_failed_total", Help: "Entries that failed and will retry"})
	InboxDead      = prometheus.NewCounter(prometheus.CounterOpts{Name: "pabridge_inbox_dead_total", Help: "Entries moved to the dead state"})
	InboxReclaimed = prometheus.NewCounter(prometheus.CounterOpts{Name: "pabridge_inbox_reclaimed_total", Help: "Stuck PROCESSING entries reset by the sweeper"})

	OutboxSends   = prometheus.NewCounter(prometheus.CounterOpts{Name: "pabridge_outbox_sends_total", Help: "Outbox entries written"})
	OutboxResends = prometheus.NewCounter(prometheus.CounterOpts{Name: "pabridge_outbox_resends_total", Help: "Chained resend entries written"})
	OutboxDeduped = prometheus.NewCounter(prometheus.CounterOpts{Name: "pabridge_outbox_deduped_total", Help: "Sends deduplicated by payload hash"})

	UTNSuccess = prometheus.NewCounter(prometheus.CounterOpts{Name: "pabridge_utn_success_total", Help: "ESMD acknowledgments carrying a UTN"})
	UTNFailed  = prometheus.NewCounter(prometheus.CounterOpts{Name: "pabridge_utn_failed_total", Help: "ESMD UTN failure responses"})

	LeaderGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: "pabridge_leader", Help: "1 when this instance holds the lease for a task"}, []string{"task"})

	ESMDRequestDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "pabridge_esmd_request_seconds",
		Help:    "ESMD gateway submission latency",
		Buckets: prometheus.DefBuckets,
	})
)

// Handler exposes the /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			InboxEnqueued,
			InboxClaimed,
			InboxCompleted,
			InboxFailed,
			InboxDead,
			InboxReclaimed,
			OutboxSends,
			OutboxResends,
			OutboxDeduped,
			UTNSuccess,
			UTNFailed,
			LeaderGauge,
			ESMDRequestDuration,
		)
	})
	return promhttp.Handler()
}
